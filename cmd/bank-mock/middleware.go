package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
)

var (
	mu             sync.Mutex
	endpointCounts = make(map[string]int)
)

type loggingResponseWriter struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var requestBody bytes.Buffer
			body, err := io.ReadAll(io.TeeReader(r.Body, &requestBody))
			if err != nil {
				logger.Error("Error reading request body", "error", err)
			}
			r.Body = io.NopCloser(&requestBody)

			reqLogger := logger.With("requestId", middleware.GetReqID(r.Context()))
			reqLogger.Info("Request", "method", r.Method, "path", r.URL.Path, "body", string(body))

			lrw := &loggingResponseWriter{ResponseWriter: w, body: &bytes.Buffer{}}
			next.ServeHTTP(lrw, r)

			reqLogger.Info("Response", "headers", w.Header(), "bytes", lrw.body.Len())
		})
	}
}

func countMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			endpointCounts[r.URL.Path]++
			count := endpointCounts[r.URL.Path]
			mu.Unlock()

			logger.Info("Endpoint called", "path", r.URL.Path, "count", count)
			next.ServeHTTP(w, r)
		})
	}
}
