package metrics

import (
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"payment-gateway-service/internal/config"
)

// Setup starts pushing metrics to cfg.URL. Without a URL metrics are only served on /metrics.
func Setup(cfg config.Metrics, logger *slog.Logger) {
	if cfg.URL == "" {
		return
	}

	err := metrics.InitPush(cfg.URL, time.Duration(cfg.IntervalMs)*time.Millisecond, cfg.CommonLabels, true)
	if err != nil {
		logger.Error("Error initializing metrics push", "url", cfg.URL, "error", err)
	}
}
