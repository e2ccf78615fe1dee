// Backend is a demo HTTP service that registers itself with the proxy on
// startup and answers every path with a JSON document naming the instance.
//
// Usage:
//
//	go run ./scripts/backend -port 8081 -route /svc -proxy http://localhost:8080
//
// Each response carries a fresh UUID so round-robin rotation is visible.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/discovery-proxy/pkg/logger"
)

type reply struct {
	ID       string `json:"id"`
	Instance string `json:"instance"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Query    string `json:"query,omitempty"`
}

func main() {
	var (
		host     = flag.String("host", "127.0.0.1", "address the proxy should use to reach this backend")
		port     = flag.Int("port", 8081, "port to listen on")
		route    = flag.String("route", "/svc", "route to register under")
		proxyURL = flag.String("proxy", "http://localhost:8080", "base URL of the discovery proxy")
	)
	flag.Parse()

	log := logger.New(os.Stdout, "info", "dev").With(slog.String("instance", fmt.Sprintf("%s:%d", *host, *port)))
	instance := uuid.NewString()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", r.Header.Get("X-Request-Id")),
			slog.Int("body_bytes", len(body)))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply{
			ID:       uuid.NewString(),
			Instance: instance,
			Method:   r.Method,
			Path:     r.URL.Path,
			Query:    r.URL.RawQuery,
		})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info("starting backend", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.Any("err", err))
			cancel()
		}
	}()

	if err := register(ctx, *proxyURL, *route, *host, *port); err != nil {
		log.Error("registration failed", slog.Any("err", err))
	} else {
		log.Info("registered", slog.String("route", *route))
	}

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(shutdownCtx)
}

// register retries until the proxy accepts the registration or ctx ends.
func register(ctx context.Context, proxyURL, route, host string, port int) error {
	target := proxyURL + "/register?" + url.Values{
		"ip_address": {host},
		"ip_port":    {fmt.Sprint(port)},
		"path":       {route},
	}.Encode()

	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
		if err != nil {
			return err
		}

		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			return fmt.Errorf("proxy answered %d: %s", resp.StatusCode, body)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}

	return lastErr
}
