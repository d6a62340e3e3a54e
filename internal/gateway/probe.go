package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"payment-gateway-service/internal/paymenterr"
)

const DefaultProbeTimeout = 5 * time.Second

var (
	probeSuccessCounter = metrics.GetOrCreateCounter(`gateway_probe_total{result="success"}`)
	probeFailedCounter  = metrics.GetOrCreateCounter(`gateway_probe_total{result="failed"}`)
)

// Prober checks that the bank endpoint answers before a customer is redirected to it.
type Prober struct {
	client *http.Client
	logger *slog.Logger
}

func NewProber(timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Check sends a HEAD request to endpoint. Network errors and 5xx answers are transport errors;
// any other status means the bank is up.
func (p *Prober) Check(ctx context.Context, endpoint string) error {
	p.logger.DebugContext(ctx, "Probing gateway endpoint", "endpoint", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return errors.Wrapf(paymenterr.ErrConfiguration, "invalid endpoint %q: %v", endpoint, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WarnContext(ctx, "Gateway endpoint unreachable", "endpoint", endpoint, "error", err)
		probeFailedCounter.Inc()
		return errors.Wrap(paymenterr.ErrTransport, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		p.logger.WarnContext(ctx, "Gateway endpoint answered with server error", "endpoint", endpoint, "status", resp.Status)
		probeFailedCounter.Inc()
		return errors.Wrapf(paymenterr.ErrTransport, "gateway answered %s", resp.Status)
	}

	probeSuccessCounter.Inc()
	return nil
}
