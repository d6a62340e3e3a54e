package gateway

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"payment-gateway-service/internal/paymenterr"
)

const (
	DefaultCurrency = "949"
	DefaultLocale   = "tr"
)

// Config is the merchant configuration for the bank gateway. It is loaded once by
// the settings collaborator and passed explicitly to every gateway call.
type Config struct {
	MerchantID  string
	Secret      string
	Endpoint    string
	StoreType   string
	Sandbox     bool
	Currency    string
	Locale      string
	OkURL       string
	FailURL     string
	CallbackURL string

	// GenericDeclineMessages lists the bank's boilerplate decline texts, which carry no diagnostic value.
	GenericDeclineMessages []string
}

// Validate fails closed when any credential or the endpoint is missing.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.MerchantID) == "" {
		missing = append(missing, "merchant id")
	}
	if c.Secret == "" {
		missing = append(missing, "secret")
	}
	if strings.TrimSpace(c.StoreType) == "" {
		missing = append(missing, "store type")
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "endpoint")
	} else if !isHTTPURL(c.Endpoint) {
		return errors.Wrapf(paymenterr.ErrConfiguration, "invalid endpoint %q", c.Endpoint)
	}

	if len(missing) > 0 {
		return errors.Wrapf(paymenterr.ErrConfiguration, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != "" && (u.Scheme == "https" || u.Scheme == "http")
}

func (c Config) currency() string {
	if c.Currency == "" {
		return DefaultCurrency
	}
	return c.Currency
}

func (c Config) locale() string {
	if c.Locale == "" {
		return DefaultLocale
	}
	return c.Locale
}

// IsGenericDecline reports whether msg is empty or one of the configured boilerplate texts.
func (c Config) IsGenericDecline(msg string) bool {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return true
	}
	for _, generic := range c.GenericDeclineMessages {
		if strings.EqualFold(msg, strings.TrimSpace(generic)) {
			return true
		}
	}
	return false
}
