package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(*http.Request) string

// RemoteHost keys requests by the host part of RemoteAddr.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429 and an {"err": ...} body.
func Middleware(limiter *Limiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = RemoteHost
	}

	return func(next http.Handler) http.Handler {
		if !limiter.Enabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := key(r)
			if limiter.Allow(client) {
				next.ServeHTTP(w, r)
				return
			}

			appErr := apperror.New(apperror.CodeRateLimited, "rate limit exceeded", nil)
			logger.Warn("Request rate limited",
				slog.String("client", client),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(appErr.StatusCode())
			json.NewEncoder(w).Encode(map[string]string{"err": appErr.Message})
		})
	}
}
