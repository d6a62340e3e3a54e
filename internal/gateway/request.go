package gateway

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-gateway-service/internal/paymenterr"
	"payment-gateway-service/internal/signature"
)

// Outbound form field names.
const (
	FieldMerchantID    = "clientid"
	FieldStoreType     = "storetype"
	FieldHashAlgorithm = "hashAlgorithm"
	FieldOrderID       = "oid"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldTranType      = "TranType"
	FieldNonce         = "rnd"
	FieldOkURL         = "okUrl"
	FieldFailURL       = "failUrl"
	FieldCallbackURL   = "callbackUrl"
	FieldLocale        = "lang"
	FieldEncoding      = "encoding"
	FieldInstallments  = "taksit"
	FieldEmail         = "email"
	FieldPhone         = "tel"
	FieldHash          = "hash"
	FieldHashUpper     = "HASH"
)

const (
	HashAlgorithm = "ver3"
	TranTypeAuth  = "Auth"
	Encoding      = "utf-8"
)

// PaymentRequest is one authorization attempt. It is never persisted.
type PaymentRequest struct {
	OrderID      string
	Amount       decimal.Decimal
	OkURL        string
	FailURL      string
	CallbackURL  string
	Installments int
	Email        string
	Phone        string
}

// Form is the signed field set the browser auto-submits to Endpoint.
type Form struct {
	Endpoint string
	Fields   map[string]string
}

type Builder struct {
	now   func() time.Time
	nonce func(time.Time) string
}

func NewBuilder() *Builder {
	return &Builder{
		now:   time.Now,
		nonce: timeNonce,
	}
}

// Build validates req and cfg and returns the signed form. It performs no I/O.
func (b *Builder) Build(req PaymentRequest, cfg Config) (*Form, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "amount must be positive, got %s", req.Amount.String())
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, errors.Wrap(paymenterr.ErrValidation, "order id is required")
	}
	if req.Installments < 0 {
		return nil, errors.Wrapf(paymenterr.ErrValidation, "invalid installment count %d", req.Installments)
	}

	returnURLs := []struct{ name, value string }{
		{FieldOkURL, firstNonEmpty(req.OkURL, cfg.OkURL)},
		{FieldFailURL, firstNonEmpty(req.FailURL, cfg.FailURL)},
		{FieldCallbackURL, firstNonEmpty(req.CallbackURL, cfg.CallbackURL)},
	}
	for _, u := range returnURLs {
		// the bank has nowhere to send the customer or the result without these
		if !isHTTPURL(u.value) {
			return nil, errors.Wrapf(paymenterr.ErrConfiguration, "invalid %s %q", u.name, u.value)
		}
	}

	installments := ""
	if req.Installments > 1 {
		installments = strconv.Itoa(req.Installments)
	}

	fields := map[string]string{
		FieldMerchantID:    cfg.MerchantID,
		FieldStoreType:     cfg.StoreType,
		FieldHashAlgorithm: HashAlgorithm,
		FieldOrderID:       req.OrderID,
		FieldAmount:        req.Amount.StringFixed(2),
		FieldCurrency:      cfg.currency(),
		FieldTranType:      TranTypeAuth,
		FieldNonce:         b.nonce(b.now()),
		FieldOkURL:         returnURLs[0].value,
		FieldFailURL:       returnURLs[1].value,
		FieldCallbackURL:   returnURLs[2].value,
		FieldLocale:        cfg.locale(),
		FieldEncoding:      Encoding,
		FieldInstallments:  installments,
	}
	if req.Email != "" {
		fields[FieldEmail] = req.Email
	}
	if req.Phone != "" {
		fields[FieldPhone] = req.Phone
	}

	hash, err := signature.Sign(fields, cfg.Secret)
	if err != nil {
		return nil, err
	}
	fields[FieldHash] = hash
	fields[FieldHashUpper] = hash

	return &Form{Endpoint: cfg.Endpoint, Fields: fields}, nil
}

func timeNonce(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
