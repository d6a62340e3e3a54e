package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payment-gateway-service/internal/callback"
	"payment-gateway-service/internal/gateway"
	"payment-gateway-service/internal/logcontext"
	"payment-gateway-service/internal/message"
	"payment-gateway-service/internal/model"
	"payment-gateway-service/internal/paymenterr"
	"payment-gateway-service/internal/store"
)

// MethodCard is the only payment method this gateway settles.
const MethodCard = "credit_card"

var (
	reconcileCompletedCounter = metrics.GetOrCreateCounter(`reconcile_total{result="completed"}`)
	reconcileFailedCounter    = metrics.GetOrCreateCounter(`reconcile_total{result="failed"}`)
	reconcileDuplicateCounter = metrics.GetOrCreateCounter(`reconcile_total{result="duplicate"}`)
	reconcileRejectedCounter  = metrics.GetOrCreateCounter(`reconcile_total{result="rejected"}`)
	reconcileErrorCounter     = metrics.GetOrCreateCounter(`reconcile_total{result="error"}`)

	reconcileDurationHistogram = metrics.GetOrCreateHistogram(`reconcile_duration_milliseconds`)
)

type Store interface {
	WithinTx(ctx context.Context, fn store.TxFunc) error
	CreateSecurityEvent(ctx context.Context, event *model.SecurityEvent) error
}

// Callback is a classified bank callback ready to be applied to an order.
type Callback struct {
	OrderNumber string
	Outcome     callback.Outcome
	Payload     callback.Payload
	RemoteAddr  string
}

type Result struct {
	OrderID       uuid.UUID
	OrderNumber   string
	PaymentID     uuid.UUID
	PaymentStatus model.PaymentStatus
	Outcome       callback.Outcome

	// Duplicate is set when the callback changed nothing because it was already applied.
	Duplicate bool

	// Diagnosis is the operator-facing decline explanation.
	Diagnosis string

	// CustomerMessage is what the customer may see.
	CustomerMessage string
}

// Err returns ErrGatewayDecline for a recorded decline and nil otherwise.
func (r *Result) Err() error {
	if r == nil || !r.Outcome.Declined() {
		return nil
	}
	return errors.Wrapf(paymenterr.ErrGatewayDecline, "order %s: %s", r.OrderNumber, r.Diagnosis)
}

type Reconciler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// OnCallback applies a verified outcome to the order. The payment record, the order's
// payment status and the outgoing notification are written in one transaction while
// the order row is locked, so concurrent callbacks for one order are serialized.
func (r *Reconciler) OnCallback(ctx context.Context, cb Callback) (*Result, error) {
	startTime := r.now()
	defer func() {
		reconcileDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	ctx = logcontext.AppendCtx(ctx, slog.String("orderNumber", cb.OrderNumber))

	switch cb.Outcome.Kind {
	case callback.KindRejected:
		r.recordSecurityEvent(ctx, cb)
		reconcileRejectedCounter.Inc()
		return nil, errors.Wrap(paymenterr.ErrSecurityViolation, cb.Outcome.Reason)
	case callback.KindApproved, callback.KindDeclined:
	default:
		return nil, errors.Wrapf(paymenterr.ErrValidation, "unknown outcome %q", cb.Outcome.Kind)
	}

	if cb.OrderNumber == "" {
		return nil, errors.Wrap(paymenterr.ErrValidation, "callback without order id")
	}

	result := &Result{
		OrderNumber: cb.OrderNumber,
		Outcome:     cb.Outcome,
	}

	err := r.store.WithinTx(ctx, func(ctx context.Context, tx store.PaymentTx) error {
		order, err := tx.GetOrderByNumberForUpdate(ctx, cb.OrderNumber)
		if errors.Is(err, store.ErrNotFound) {
			return errors.Wrapf(paymenterr.ErrValidation, "order %s not found", cb.OrderNumber)
		}
		if err != nil {
			return err
		}
		result.OrderID = order.ID

		if cb.Outcome.Approved() {
			return r.applyApproved(ctx, tx, order, cb, result)
		}
		return r.applyDeclined(ctx, tx, order, cb, result)
	})

	if errors.Is(err, store.ErrDuplicate) {
		// a unique index caught a retransmission the row lock could not see
		r.logger.WarnContext(ctx, "Duplicate payment rejected by store", "error", err)
		reconcileDuplicateCounter.Inc()
		return &Result{
			OrderID:     result.OrderID,
			OrderNumber: cb.OrderNumber,
			Outcome:     cb.Outcome,
			Duplicate:   true,
		}, nil
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "Error reconciling callback", "error", err)
		reconcileErrorCounter.Inc()
		return nil, err
	}

	switch {
	case result.Duplicate:
		reconcileDuplicateCounter.Inc()
	case cb.Outcome.Approved():
		reconcileCompletedCounter.Inc()
	default:
		reconcileFailedCounter.Inc()
	}

	r.logger.InfoContext(ctx, "Callback reconciled",
		"outcome", cb.Outcome.Kind,
		"paymentStatus", result.PaymentStatus,
		"duplicate", result.Duplicate,
	)
	return result, nil
}

func (r *Reconciler) applyApproved(ctx context.Context, tx store.PaymentTx, order *model.Order, cb Callback, result *Result) error {
	if order.PaymentStatus == model.PaymentStatusCompleted {
		r.logger.InfoContext(ctx, "Order already paid, ignoring approved callback", "transactionId", cb.Outcome.TransactionID)
		result.PaymentStatus = model.PaymentStatusCompleted
		result.Duplicate = true
		return nil
	}

	if order.Status == model.OrderStatusCancelled {
		r.logger.WarnContext(ctx, "Approved payment for cancelled order, needs operator attention")
	}

	payment := r.newPayment(order, cb, model.PaymentStatusCompleted)
	if cb.Outcome.TransactionID != "" {
		transactionID := cb.Outcome.TransactionID
		payment.TransactionID = &transactionID
	}
	if !payment.Amount.Equal(order.FinalAmount) {
		r.logger.WarnContext(ctx, "Paid amount differs from order total",
			"paid", payment.Amount.StringFixed(2), "expected", order.FinalAmount.StringFixed(2))
	}

	if err := tx.CreatePayment(ctx, payment); err != nil {
		return err
	}
	if _, err := tx.UpdatePaymentStatus(ctx, order.ID, model.PaymentStatusCompleted); err != nil {
		return err
	}
	if err := tx.EnqueueNotification(ctx, r.notification(order, payment, message.EventPaymentCompleted)); err != nil {
		return err
	}

	result.PaymentID = payment.ID
	result.PaymentStatus = model.PaymentStatusCompleted
	return nil
}

func (r *Reconciler) applyDeclined(ctx context.Context, tx store.PaymentTx, order *model.Order, cb Callback, result *Result) error {
	outcome := cb.Outcome
	result.Diagnosis = gateway.Translate(outcome.Code, outcome.Message, outcome.GenericMessage)
	result.CustomerMessage = gateway.CustomerMessage

	if nonce := cb.Payload.Nonce(); nonce != "" {
		exists, err := tx.PaymentExists(ctx, order.ID, nonce, model.PaymentStatusFailed)
		if err != nil {
			return err
		}
		if exists {
			r.logger.InfoContext(ctx, "Decline already recorded for this attempt", "nonce", nonce)
			result.PaymentStatus = order.PaymentStatus
			result.Duplicate = true
			return nil
		}
	}

	payment := r.newPayment(order, cb, model.PaymentStatusFailed)
	payment.DeclineCode = outcome.Code
	payment.Diagnosis = result.Diagnosis

	if err := tx.CreatePayment(ctx, payment); err != nil {
		return err
	}
	result.PaymentID = payment.ID

	// a late decline must never undo a completed payment
	if order.PaymentStatus == model.PaymentStatusCompleted {
		r.logger.WarnContext(ctx, "Decline received for paid order, status kept", "code", outcome.Code)
		result.PaymentStatus = model.PaymentStatusCompleted
		return nil
	}

	if _, err := tx.UpdatePaymentStatus(ctx, order.ID, model.PaymentStatusFailed); err != nil {
		return err
	}
	if err := tx.EnqueueNotification(ctx, r.notification(order, payment, message.EventPaymentFailed)); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Payment declined", "code", outcome.Code, "diagnosis", result.Diagnosis)
	result.PaymentStatus = model.PaymentStatusFailed
	return nil
}

func (r *Reconciler) newPayment(order *model.Order, cb Callback, status model.PaymentStatus) *model.PaymentRecord {
	amount := cb.Payload.Amount()
	if !amount.IsPositive() {
		amount = order.FinalAmount
	}

	return &model.PaymentRecord{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Amount:      amount,
		Method:      MethodCard,
		Status:      status,
		Nonce:       cb.Payload.Nonce(),
		RawResponse: cb.Payload.Fields(),
		CreatedAt:   r.now(),
	}
}

func (r *Reconciler) notification(order *model.Order, payment *model.PaymentRecord, event string) message.PaymentNotification {
	return message.PaymentNotification{
		ID:            uuid.New(),
		Event:         event,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PaymentID:     payment.ID,
		PaymentStatus: payment.Status,
		Amount:        payment.Amount,
		GuestEmail:    order.GuestEmail,
		OccurredAt:    payment.CreatedAt,
	}
}

// recordSecurityEvent keeps an audit trail of rejected callbacks outside of any order.
func (r *Reconciler) recordSecurityEvent(ctx context.Context, cb Callback) {
	r.logger.ErrorContext(ctx, "SECURITY: rejected gateway callback",
		"reason", cb.Outcome.Reason,
		"remoteAddr", cb.RemoteAddr,
	)

	event := &model.SecurityEvent{
		ID:             uuid.New(),
		Reason:         cb.Outcome.Reason,
		ClaimedOrderID: cb.OrderNumber,
		RemoteAddr:     cb.RemoteAddr,
		RawPayload:     cb.Payload.Fields(),
		CreatedAt:      r.now(),
	}
	if err := r.store.CreateSecurityEvent(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "Error storing security event", "error", err)
	}
}
