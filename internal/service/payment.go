package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-gateway-service/internal/callback"
	"payment-gateway-service/internal/gateway"
	"payment-gateway-service/internal/logcontext"
	"payment-gateway-service/internal/model"
	"payment-gateway-service/internal/paymenterr"
	"payment-gateway-service/internal/reconcile"
	"payment-gateway-service/internal/settings"
	"payment-gateway-service/internal/store"
)

var (
	initiateSuccessCounter = metrics.GetOrCreateCounter(`payment_initiate_total{result="success"}`)
	initiateErrorCounter   = metrics.GetOrCreateCounter(`payment_initiate_total{result="error"}`)
)

type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, next model.OrderStatus) (*model.Order, error)
}

type CallbackReconciler interface {
	OnCallback(ctx context.Context, cb reconcile.Callback) (*reconcile.Result, error)
}

type EndpointProber interface {
	Check(ctx context.Context, endpoint string) error
}

type InitiateRequest struct {
	OrderID      uuid.UUID
	Amount       decimal.Decimal
	Method       string
	GuestEmail   string
	Installments int
}

type InitiateResult struct {
	Success     bool              `json:"success"`
	RedirectURL string            `json:"redirectUrl"`
	FormParams  map[string]string `json:"formParams"`
}

type PaymentService struct {
	orders     OrderStore
	settings   settings.Provider
	builder    *gateway.Builder
	verifier   *callback.Verifier
	reconciler CallbackReconciler
	prober     EndpointProber
	logger     *slog.Logger
}

// NewPaymentService wires the payment flow. prober may be nil to skip the endpoint preflight.
func NewPaymentService(orders OrderStore, provider settings.Provider, reconciler CallbackReconciler, prober EndpointProber, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		orders:     orders,
		settings:   provider,
		builder:    gateway.NewBuilder(),
		verifier:   callback.NewVerifier(logger),
		reconciler: reconciler,
		prober:     prober,
		logger:     logger,
	}
}

// InitiatePayment prepares the signed redirect to the bank for an unpaid order.
// Nothing is persisted; the order stays PENDING until the bank calls back.
func (s *PaymentService) InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", req.OrderID.String()))

	result, err := s.initiate(ctx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "Payment initiation failed", "error", err)
		initiateErrorCounter.Inc()
		return nil, err
	}
	initiateSuccessCounter.Inc()
	return result, nil
}

func (s *PaymentService) initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	cfg, err := s.settings.GatewayConfig(ctx)
	if err != nil {
		return nil, err
	}

	method := strings.TrimSpace(req.Method)
	if method != "" && method != reconcile.MethodCard {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "unsupported payment method %q", method)
	}
	if !req.Amount.IsPositive() {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "amount must be positive, got %s", req.Amount.String())
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "order %s not found", req.OrderID)
	}
	if err != nil {
		return nil, err
	}
	if err := order.Payable(); err != nil {
		return nil, err
	}
	if !req.Amount.Round(2).Equal(order.FinalAmount) {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "amount %s does not match order total %s",
			req.Amount.StringFixed(2), order.FinalAmount.StringFixed(2))
	}

	email := req.GuestEmail
	if email == "" {
		email = order.GuestEmail
	}

	form, err := s.builder.Build(gateway.PaymentRequest{
		OrderID:      order.OrderNumber,
		Amount:       order.FinalAmount,
		Installments: req.Installments,
		Email:        email,
		Phone:        order.BillingAddress.Phone,
	}, cfg)
	if err != nil {
		return nil, err
	}

	if s.prober != nil {
		if err := s.prober.Check(ctx, form.Endpoint); err != nil {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "Payment initiated", "orderNumber", order.OrderNumber, "sandbox", cfg.Sandbox)
	return &InitiateResult{
		Success:     true,
		RedirectURL: form.Endpoint,
		FormParams:  form.Fields,
	}, nil
}

// HandleCallback verifies a bank callback and applies it to the order.
func (s *PaymentService) HandleCallback(ctx context.Context, fields url.Values, remoteAddr string) (*reconcile.Result, error) {
	payload := callback.PayloadFromValues(fields)

	cfg, err := s.settings.GatewayConfig(ctx)
	if err != nil {
		// the bank retries server-to-server callbacks, so nothing is recorded here
		s.logger.ErrorContext(ctx, "Callback received while gateway is not configured", "error", err)
		return nil, err
	}

	outcome := s.verifier.Verify(ctx, payload, cfg)

	return s.reconciler.OnCallback(ctx, reconcile.Callback{
		OrderNumber: payload.OrderID(),
		Outcome:     outcome,
		Payload:     payload,
		RemoteAddr:  remoteAddr,
	})
}

func (s *PaymentService) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

func (s *PaymentService) UpdateOrderStatus(ctx context.Context, id uuid.UUID, next model.OrderStatus) (*model.Order, error) {
	if !next.Valid() {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "unknown order status %q", next)
	}
	order, err := s.orders.UpdateOrderStatus(ctx, id, next)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Order status updated", "orderId", id, "status", next)
	return order, nil
}
