package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"payment-gateway-service/internal/config"
	"payment-gateway-service/internal/logcontext"
)

func NewRouter(handler *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", handler.InitiatePayment)
		r.Get("/redirect/{orderId}", handler.RedirectToBank)
		r.Post("/callback", handler.ServerCallback)
		r.Post("/callback/ok", handler.BrowserCallback)
		r.Post("/callback/fail", handler.BrowserCallback)
	})

	r.Get("/orders/{id}", handler.GetOrder)

	// operator routes, expected to be reachable only from the internal network
	r.Route("/admin/orders/{id}", func(r chi.Router) {
		r.Get("/", handler.GetOrderDetails)
		r.Patch("/status", handler.UpdateOrderStatus)
	})
	return r
}

func NewServer(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
	}
}

// requestLogger logs every request and puts the request id on the context for downstream logs.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logcontext.AppendCtx(r.Context(), slog.String("requestId", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.InfoContext(ctx, "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"durationMs", time.Since(start).Milliseconds(),
			)
		})
	}
}
