package callback

import (
	"context"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"

	"payment-gateway-service/internal/gateway"
	"payment-gateway-service/internal/signature"
)

const (
	mdStatusAuthenticated = "1"
	responseApproved      = "Approved"
)

type Kind string

const (
	KindApproved Kind = "APPROVED"
	KindDeclined Kind = "DECLINED"
	KindRejected Kind = "REJECTED"
)

// Rejection reasons. They are logged and stored, never shown to the caller.
const (
	ReasonMissingSignature = "missing signature"
	ReasonBadSignature     = "signature mismatch"
	ReasonNotConfigured    = "gateway not configured"
)

// Outcome is the classification of a callback. Only the fields of its Kind are set.
type Outcome struct {
	Kind Kind

	// Approved
	TransactionID string
	AuthCode      string

	// Declined
	Code           string
	Message        string
	GenericMessage bool
	MDStatus       string

	// Rejected
	Reason string
}

func (o Outcome) Approved() bool { return o.Kind == KindApproved }
func (o Outcome) Declined() bool { return o.Kind == KindDeclined }
func (o Outcome) Rejected() bool { return o.Kind == KindRejected }

var (
	verifierApprovedCounter = metrics.GetOrCreateCounter(`callback_verifier_total{result="approved"}`)
	verifierDeclinedCounter = metrics.GetOrCreateCounter(`callback_verifier_total{result="declined"}`)
	verifierRejectedCounter = metrics.GetOrCreateCounter(`callback_verifier_total{result="rejected"}`)
)

// Verifier authenticates and classifies bank callbacks. It holds no state besides its logger.
type Verifier struct {
	logger *slog.Logger
}

func NewVerifier(logger *slog.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify never touches orders or payments; it only decides what the callback says.
func (v *Verifier) Verify(ctx context.Context, p Payload, cfg gateway.Config) Outcome {
	if err := cfg.Validate(); err != nil {
		v.logger.ErrorContext(ctx, "Rejecting callback, gateway not configured", "error", err)
		return v.reject(ReasonNotConfigured)
	}

	sig := p.Signature()
	if sig == "" {
		v.logger.ErrorContext(ctx, "SECURITY: callback without signature", "oid", p.OrderID())
		return v.reject(ReasonMissingSignature)
	}

	ok, err := signature.Verify(p.signedFields(), cfg.Secret, sig)
	if err != nil || !ok {
		v.logger.ErrorContext(ctx, "SECURITY: callback signature mismatch", "oid", p.OrderID(), "error", err)
		return v.reject(ReasonBadSignature)
	}

	if p.MDStatus() == mdStatusAuthenticated && strings.EqualFold(p.Response(), responseApproved) {
		verifierApprovedCounter.Inc()
		return Outcome{
			Kind:          KindApproved,
			TransactionID: p.TransID(),
			AuthCode:      p.AuthCode(),
		}
	}

	code := p.ProcReturnCode()
	if code == "" && p.MDStatus() != "" && p.MDStatus() != mdStatusAuthenticated {
		code = "MD" + p.MDStatus()
	}
	msg := p.ErrMsg()

	v.logger.InfoContext(ctx, "Callback declined", "oid", p.OrderID(), "code", code, "mdStatus", p.MDStatus())
	verifierDeclinedCounter.Inc()

	return Outcome{
		Kind:           KindDeclined,
		Code:           code,
		Message:        msg,
		GenericMessage: cfg.IsGenericDecline(msg),
		MDStatus:       p.MDStatus(),
	}
}

func (v *Verifier) reject(reason string) Outcome {
	verifierRejectedCounter.Inc()
	return Outcome{Kind: KindRejected, Reason: reason}
}
