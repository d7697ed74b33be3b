package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fintrack/internal/events"
)

// handler logs every session event and counts them by type.
type handler struct {
	logger   *slog.Logger
	received *prometheus.CounterVec
}

func newHandler(reg prometheus.Registerer, logger *slog.Logger) *handler {
	h := &handler{
		logger: logger,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fintrack",
			Subsystem: "session_events",
			Name:      "received_total",
			Help:      "Session events consumed, by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(h.received)
	return h
}

func (h *handler) Handle(ctx context.Context, e *events.SessionEvent) error {
	h.received.WithLabelValues(string(e.Type)).Inc()

	level := slog.LevelInfo
	if e.Type == events.SessionEnded {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, "Session event",
		"type", e.Type,
		"username", e.Username,
		"host", e.Host,
		"reason", e.Reason,
		"at", e.Timestamp)
	return nil
}

func newRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return r
}
