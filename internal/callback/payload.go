package callback

import (
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Inbound field names, already lower-cased.
const (
	FieldHash           = "hash"
	FieldMDStatus       = "mdstatus"
	FieldResponse       = "response"
	FieldOrderID        = "oid"
	FieldAmount         = "amount"
	FieldNonce          = "rnd"
	FieldProcReturnCode = "procreturncode"
	FieldErrMsg         = "errmsg"
	FieldMDErrorMsg     = "mderrormsg"
	FieldTransID        = "transid"
	FieldAuthCode       = "authcode"
)

// Payload is the bank's callback field set. Keys are lower-cased once, here, so every
// lookup downstream is a plain map access.
type Payload struct {
	fields map[string]string
}

// NewPayload normalizes field names. When a name appears with several casings the
// first non-empty value in sorted key order wins, which keeps the result deterministic.
func NewPayload(fields map[string]string) Payload {
	normalized := make(map[string]string, len(fields))
	for _, key := range sortedKeys(fields) {
		lower := strings.ToLower(strings.TrimSpace(key))
		if lower == "" {
			continue
		}
		if existing, ok := normalized[lower]; ok && existing != "" {
			continue
		}
		normalized[lower] = fields[key]
	}
	return Payload{fields: normalized}
}

// PayloadFromValues takes the first value of every form field.
func PayloadFromValues(values url.Values) Payload {
	fields := make(map[string]string, len(values))
	for key, v := range values {
		if len(v) > 0 {
			fields[key] = v[0]
		} else {
			fields[key] = ""
		}
	}
	return NewPayload(fields)
}

func (p Payload) Get(field string) string {
	return p.fields[field]
}

func (p Payload) Signature() string      { return p.fields[FieldHash] }
func (p Payload) MDStatus() string       { return strings.TrimSpace(p.fields[FieldMDStatus]) }
func (p Payload) Response() string       { return strings.TrimSpace(p.fields[FieldResponse]) }
func (p Payload) OrderID() string        { return strings.TrimSpace(p.fields[FieldOrderID]) }
func (p Payload) Nonce() string          { return p.fields[FieldNonce] }
func (p Payload) ProcReturnCode() string { return strings.TrimSpace(p.fields[FieldProcReturnCode]) }
func (p Payload) TransID() string        { return strings.TrimSpace(p.fields[FieldTransID]) }
func (p Payload) AuthCode() string       { return strings.TrimSpace(p.fields[FieldAuthCode]) }

// ErrMsg prefers the authorization error text and falls back to the 3-D error text.
func (p Payload) ErrMsg() string {
	if msg := strings.TrimSpace(p.fields[FieldErrMsg]); msg != "" {
		return msg
	}
	return strings.TrimSpace(p.fields[FieldMDErrorMsg])
}

// Amount parses the echoed amount. Zero is returned when it is missing or malformed.
func (p Payload) Amount() decimal.Decimal {
	amount, err := decimal.NewFromString(strings.TrimSpace(p.fields[FieldAmount]))
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// Fields returns a copy of the normalized field set, suitable for storing as raw response.
func (p Payload) Fields() map[string]string {
	out := make(map[string]string, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}

// signedFields is the field set that takes part in signature verification.
func (p Payload) signedFields() map[string]string {
	out := p.Fields()
	delete(out, FieldHash)
	return out
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
