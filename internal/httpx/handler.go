package httpx

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-gateway-service/internal/gateway"
	"payment-gateway-service/internal/model"
	"payment-gateway-service/internal/paymenterr"
	"payment-gateway-service/internal/reconcile"
	"payment-gateway-service/internal/service"
	"payment-gateway-service/internal/store"
)

const maxFormBytes = 64 << 10

// Answers to the bank's server-to-server callback.
const (
	ackApproved = "Approved"
	ackDeclined = "Declined"
	ackRejected = "Rejected"
)

type PaymentAPI interface {
	InitiatePayment(ctx context.Context, req service.InitiateRequest) (*service.InitiateResult, error)
	HandleCallback(ctx context.Context, fields url.Values, remoteAddr string) (*reconcile.Result, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, next model.OrderStatus) (*model.Order, error)
}

type Handler struct {
	payments      PaymentAPI
	storefrontURL string
	logger        *slog.Logger
}

func NewHandler(payments PaymentAPI, storefrontURL string, logger *slog.Logger) *Handler {
	return &Handler{
		payments:      payments,
		storefrontURL: storefrontURL,
		logger:        logger,
	}
}

// InitiatePayment returns the signed form for the storefront to submit.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, paymenterr.ErrValidation.Error())
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, paymenterr.ErrValidation.Error())
		return
	}

	result, err := h.payments.InitiatePayment(r.Context(), service.InitiateRequest{
		OrderID:      orderID,
		Amount:       req.Amount,
		Method:       req.Method,
		GuestEmail:   req.GuestEmail,
		Installments: req.Installments,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RedirectToBank renders a form that the browser posts to the bank on load.
func (h *Handler) RedirectToBank(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, paymenterr.ErrValidation.Error())
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, paymenterr.ErrValidation.Error())
		return
	}

	result, err := h.payments.InitiatePayment(r.Context(), service.InitiateRequest{
		OrderID:    orderID,
		Amount:     amount,
		Method:     reconcile.MethodCard,
		GuestEmail: r.URL.Query().Get("email"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := renderAutoSubmit(w, result.RedirectURL, result.FormParams); err != nil {
		h.logger.ErrorContext(r.Context(), "Error rendering redirect form", "error", err)
	}
}

// ServerCallback handles the bank's server-to-server notification.
func (h *Handler) ServerCallback(w http.ResponseWriter, r *http.Request) {
	result, err := h.handleCallback(w, r)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	switch {
	case err != nil && errors.Is(err, paymenterr.ErrSecurityViolation):
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(ackRejected))
	case err != nil:
		status, _ := classify(err)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(http.StatusText(status)))
	case result.Outcome.Declined():
		_, _ = w.Write([]byte(ackDeclined))
	default:
		_, _ = w.Write([]byte(ackApproved))
	}
}

// BrowserCallback handles the customer returning from the bank and redirects to the storefront.
func (h *Handler) BrowserCallback(w http.ResponseWriter, r *http.Request) {
	result, err := h.handleCallback(w, r)

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case result.Outcome.Declined() && result.PaymentStatus != model.PaymentStatusCompleted:
		status = "failed"
	}

	if h.storefrontURL == "" {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status, "message": customerMessage(result)})
		return
	}

	target := h.storefrontURL + "/checkout/result?" + url.Values{
		"status":  {status},
		"orderId": {r.PostForm.Get("oid")},
	}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) (*reconcile.Result, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return nil, errors.Wrap(paymenterr.ErrValidation, err.Error())
	}

	result, err := h.payments.HandleCallback(r.Context(), r.PostForm, r.RemoteAddr)
	if err != nil {
		return nil, err
	}
	if declineErr := result.Err(); declineErr != nil {
		h.logger.InfoContext(r.Context(), "Payment declined", "error", declineErr)
	}
	return result, nil
}

// GetOrder serves the customer view of an order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetOrderDetails serves the full order record, decline diagnosis included, to operators.
func (h *Handler) GetOrderDetails(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (*model.Order, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, paymenterr.ErrValidation.Error())
		return nil, false
	}

	order, err := h.payments.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil, false
	}
	return order, true
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, paymenterr.ErrValidation.Error())
		return
	}
	var req UpdateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, paymenterr.ErrValidation.Error())
		return
	}

	order, err := h.payments.UpdateOrderStatus(r.Context(), id, model.OrderStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "error", err)
	}
	writeError(w, status, msg)
}

// classify maps the error taxonomy to a status and a message safe to show to customers.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, paymenterr.ErrConfiguration):
		return http.StatusServiceUnavailable, paymenterr.ErrConfiguration.Error()
	case errors.Is(err, paymenterr.ErrValidation):
		return http.StatusBadRequest, paymenterr.ErrValidation.Error()
	case errors.Is(err, paymenterr.ErrSecurityViolation):
		return http.StatusBadRequest, paymenterr.ErrValidation.Error()
	case errors.Is(err, paymenterr.ErrTransport):
		return http.StatusBadGateway, paymenterr.ErrTransport.Error()
	case errors.Is(err, paymenterr.ErrGatewayDecline):
		return http.StatusOK, gateway.CustomerMessage
	}
	return http.StatusInternalServerError, "internal error"
}

func customerMessage(result *reconcile.Result) string {
	if result.Outcome.Declined() {
		return gateway.CustomerMessage
	}
	return ""
}

var autoSubmit = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

type formField struct {
	Name  string
	Value string
}

func renderAutoSubmit(w http.ResponseWriter, action string, params map[string]string) error {
	fields := make([]formField, 0, len(params))
	for name, value := range params {
		fields = append(fields, formField{Name: name, Value: value})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	return autoSubmit.Execute(w, struct {
		Action string
		Fields []formField
	}{Action: action, Fields: fields})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}
