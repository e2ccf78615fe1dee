package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/discovery-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/discovery-proxy/internal/metrics"
	"github.com/angeloszaimis/discovery-proxy/internal/ratelimit"
	"github.com/angeloszaimis/discovery-proxy/internal/registry"
)

// setupPublicHandler serves every path, /register included, through the proxy.
// Buckets are keyed on the peer address; X-Forwarded-For is client supplied.
func setupPublicHandler(proxyHandler http.Handler, limiter *ratelimit.Limiter, log *slog.Logger) http.Handler {
	return ratelimit.Middleware(limiter, ratelimit.RemoteHost, log)(proxyHandler)
}

// setupAdminRouter serves introspection endpoints. breakers may be nil.
func setupAdminRouter(reg *registry.Registry, metricsCollector *metrics.Collector, breakers *circuitbreaker.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /routes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, reg.Routes())
	})
	mux.HandleFunc("GET /stats", metricsCollector.Handler())
	mux.Handle("GET /metrics", metricsCollector.Exporter().Handler())

	if breakers != nil {
		mux.HandleFunc("GET /breakers", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, breakers.Stats())
		})
		mux.HandleFunc("POST /breakers/reset", func(w http.ResponseWriter, r *http.Request) {
			breakers.Reset()
			writeJSON(w, breakers.Stats())
		})
	}

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
