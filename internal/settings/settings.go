// Package settings loads the merchant gateway configuration.
package settings

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"payment-gateway-service/internal/config"
	"payment-gateway-service/internal/gateway"
	"payment-gateway-service/internal/paymenterr"
)

// Hash fields read from the settings key.
const (
	FieldMerchantID             = "merchant-id"
	FieldSecret                 = "secret"
	FieldStoreType              = "store-type"
	FieldEndpoint               = "endpoint"
	FieldSandbox                = "sandbox"
	FieldCurrency               = "currency"
	FieldLocale                 = "locale"
	FieldOkURL                  = "ok-url"
	FieldFailURL                = "fail-url"
	FieldCallbackURL            = "callback-url"
	FieldGenericDeclineMessages = "generic-decline-messages"
)

type Provider interface {
	GatewayConfig(ctx context.Context) (gateway.Config, error)
}

// HashReader is satisfied by *redis.Client.
type HashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// FromConfig converts the YAML gateway section.
func FromConfig(cfg config.Gateway) gateway.Config {
	return gateway.Config{
		MerchantID:             cfg.MerchantID,
		Secret:                 cfg.Secret,
		Endpoint:               cfg.Endpoint,
		StoreType:              cfg.StoreType,
		Sandbox:                cfg.Sandbox,
		Currency:               cfg.Currency,
		Locale:                 cfg.Locale,
		OkURL:                  cfg.OkURL,
		FailURL:                cfg.FailURL,
		CallbackURL:            cfg.CallbackURL,
		GenericDeclineMessages: cfg.GenericDeclineMessages,
	}
}

// Static serves the YAML configuration.
type Static struct {
	cfg gateway.Config
}

func NewStatic(cfg config.Gateway) *Static {
	return &Static{cfg: FromConfig(cfg)}
}

func (s *Static) GatewayConfig(_ context.Context) (gateway.Config, error) {
	if err := s.cfg.Validate(); err != nil {
		return gateway.Config{}, err
	}
	return s.cfg, nil
}

// RedisStore reads the settings hash on every call so credential rotation needs no restart.
// Fields present in the hash override the YAML values.
type RedisStore struct {
	client HashReader
	key    string
	base   gateway.Config
	logger *slog.Logger
}

func NewRedisStore(client HashReader, key string, base config.Gateway, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
		base:   FromConfig(base),
		logger: logger,
	}
}

func NewRedisClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (s *RedisStore) GatewayConfig(ctx context.Context) (gateway.Config, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		s.logger.ErrorContext(ctx, "Error reading gateway settings", "key", s.key, "error", err)
		return gateway.Config{}, errors.Wrap(paymenterr.ErrConfiguration, "settings unavailable")
	}

	cfg := merge(s.base, values)
	if err := cfg.Validate(); err != nil {
		return gateway.Config{}, err
	}
	return cfg, nil
}

func merge(cfg gateway.Config, values map[string]string) gateway.Config {
	override := func(dst *string, field string) {
		if v := strings.TrimSpace(values[field]); v != "" {
			*dst = v
		}
	}

	override(&cfg.MerchantID, FieldMerchantID)
	override(&cfg.StoreType, FieldStoreType)
	override(&cfg.Endpoint, FieldEndpoint)
	override(&cfg.Currency, FieldCurrency)
	override(&cfg.Locale, FieldLocale)
	override(&cfg.OkURL, FieldOkURL)
	override(&cfg.FailURL, FieldFailURL)
	override(&cfg.CallbackURL, FieldCallbackURL)

	// secrets may legitimately carry surrounding spaces
	if v := values[FieldSecret]; v != "" {
		cfg.Secret = v
	}
	if v := strings.TrimSpace(values[FieldSandbox]); v != "" {
		if sandbox, err := strconv.ParseBool(v); err == nil {
			cfg.Sandbox = sandbox
		}
	}
	if v := values[FieldGenericDeclineMessages]; strings.TrimSpace(v) != "" {
		var messages []string
		for _, line := range strings.Split(v, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				messages = append(messages, line)
			}
		}
		cfg.GenericDeclineMessages = messages
	}
	return cfg
}
