package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
	"github.com/angeloszaimis/discovery-proxy/internal/dispatcher"
)

const (
	RequestIDHeader     = "X-Request-Id"
	defaultMaxBodyBytes = 10 << 20
)

type Dispatcher interface {
	Handle(ctx context.Context, req dispatcher.Request) dispatcher.Response
}

type ProxyHandler struct {
	logger       *slog.Logger
	dispatcher   Dispatcher
	maxBodyBytes int64
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func NewProxyHandler(logger *slog.Logger, d Dispatcher, maxBodyBytes int64) *ProxyHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	return &ProxyHandler{
		logger:       logger,
		dispatcher:   d,
		maxBodyBytes: maxBodyBytes,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := ClientIP(r)
	requestID := requestIDFrom(r)

	log := h.logger.With(slog.String("request_id", requestID))
	log.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("user_agent", r.UserAgent()))

	w.Header().Set(RequestIDHeader, requestID)
	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			appErr := apperror.New(apperror.CodeInternal, "internal error", fmt.Errorf("panic: %v", rec))
			log.Error("Recovered from panic",
				slog.String("path", r.URL.Path),
				slog.String("code", string(appErr.Code)),
				slog.String("err", appErr.Error()))
			writeJSON(wrapped, appErr.StatusCode(), map[string]any{"err": appErr.Message})
		}

		log.Info("Request completed",
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)))
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		appErr := bodyError(err, h.maxBodyBytes)
		log.Warn("Request rejected",
			slog.String("path", r.URL.Path),
			slog.String("code", string(appErr.Code)),
			slog.String("err", appErr.Error()))
		writeJSON(wrapped, appErr.StatusCode(), map[string]any{"err": appErr.Error()})
		return
	}

	header := r.Header.Clone()
	header.Set(RequestIDHeader, requestID)

	res := h.dispatcher.Handle(r.Context(), dispatcher.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		RawQuery:   r.URL.RawQuery,
		Header:     header,
		Body:       body,
		RemoteAddr: clientIP,
	})

	if res.Endpoint != "" {
		w.Header().Set("X-Backend-Server", res.Endpoint)
	}
	writeJSON(wrapped, res.Status, res.Body)
}

// ClientIP returns the first X-Forwarded-For hop, else the peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(RequestIDHeader)); id != "" {
		return id
	}
	return uuid.NewString()
}

func bodyError(err error, limit int64) *apperror.Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.Newf(apperror.CodeInvalidArgument, nil, "request body exceeds %d bytes", limit)
	}
	return apperror.New(apperror.CodeInvalidArgument, "cannot read request body", err)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
