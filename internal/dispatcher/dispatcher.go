package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
	"github.com/angeloszaimis/discovery-proxy/internal/backend"
	"github.com/angeloszaimis/discovery-proxy/internal/metrics"
	"github.com/angeloszaimis/discovery-proxy/internal/registry"
)

// RegisterPath is handled by the dispatcher and never proxied.
const RegisterPath = "/register"

type Registry interface {
	Register(path string, endpoint registry.Endpoint) (registry.RegisterOutcome, error)
	Select(path string) (registry.Endpoint, error)
}

type Forwarder interface {
	Forward(ctx context.Context, endpoint registry.Endpoint, req backend.Request) (*backend.Response, error)
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	// RawQuery is forwarded as is. When empty, Query is encoded instead.
	RawQuery string
	Header   http.Header
	Body     []byte
	// RemoteAddr is the client address appended to X-Forwarded-For.
	RemoteAddr string
}

type Response struct {
	Status int
	Body   map[string]any
	// Endpoint is the backend that was selected, if any.
	Endpoint string
}

type Dispatcher struct {
	logger           *slog.Logger
	registry         Registry
	forwarder        Forwarder
	metricsCollector *metrics.Collector
}

// New returns a Dispatcher. collector may be nil.
func New(logger *slog.Logger, reg Registry, forwarder Forwarder, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		logger:           logger,
		registry:         reg,
		forwarder:        forwarder,
		metricsCollector: collector,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	if req.Path == RegisterPath {
		return d.register(req)
	}

	return d.forward(ctx, req)
}

func (d *Dispatcher) register(req Request) Response {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return d.failure(RegisterPath, "", apperror.Newf(apperror.CodeInvalidArgument, nil,
			"method %s is not allowed on %s", req.Method, RegisterPath))
	}

	path, endpoint, err := parseRegistration(req)
	if err != nil {
		return d.failure(RegisterPath, "", err)
	}

	outcome, err := d.registry.Register(path, endpoint)
	if err != nil {
		return d.failure(RegisterPath, endpoint.String(), err)
	}

	d.logger.Info("Endpoint registered",
		slog.String("route", outcome.Path),
		slog.String("endpoint", outcome.Endpoint.String()),
		slog.Bool("added", outcome.Added),
		slog.Int("endpoints", outcome.Count))

	d.emitEvent(metrics.MetricEvent{
		Type:     metrics.EventRegistered,
		Route:    outcome.Path,
		Endpoint: outcome.Endpoint.String(),
	})

	return success(outcome.Endpoint.String(), outcome.Endpoint.String())
}

func (d *Dispatcher) forward(ctx context.Context, req Request) Response {
	endpoint, err := d.registry.Select(req.Path)
	if err != nil {
		return d.failure(req.Path, "", err)
	}

	rawQuery := req.RawQuery
	if rawQuery == "" && len(req.Query) > 0 {
		rawQuery = req.Query.Encode()
	}

	d.logger.Debug("Forwarding to backend",
		slog.String("route", req.Path),
		slog.String("endpoint", endpoint.String()),
		slog.String("method", req.Method))

	res, err := d.forwarder.Forward(ctx, endpoint, backend.Request{
		Method:   req.Method,
		Path:     req.Path,
		RawQuery: rawQuery,
		Header:   req.Header,
		Body:     req.Body,
		ClientIP: req.RemoteAddr,
	})
	if err != nil {
		return d.failure(req.Path, endpoint.String(), err)
	}

	d.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventForwarded,
		Route:      req.Path,
		Endpoint:   endpoint.String(),
		Duration:   res.Duration,
		StatusCode: res.StatusCode,
	})

	return success(embed(res.Body), endpoint.String())
}

// failure logs err and renders it. Client-caused failures log at Warn.
func (d *Dispatcher) failure(route, endpoint string, err error) Response {
	appErr := apperror.From(err)
	status := appErr.StatusCode()

	attrs := []any{
		slog.String("route", route),
		slog.String("code", string(appErr.Code)),
		slog.String("err", appErr.Error()),
	}
	if endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", endpoint))
	}
	if status >= http.StatusInternalServerError {
		d.logger.Error("Request failed", attrs...)
	} else {
		d.logger.Warn("Request rejected", attrs...)
	}

	event := metrics.MetricEvent{
		Type:     metrics.EventFailed,
		Route:    route,
		Endpoint: endpoint,
		Code:     string(appErr.Code),
	}
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		event.StatusCode = statusErr.StatusCode
	}
	d.emitEvent(event)

	return Response{
		Status:   status,
		Body:     map[string]any{"err": appErr.Error()},
		Endpoint: endpoint,
	}
}

func (d *Dispatcher) emitEvent(event metrics.MetricEvent) {
	if d.metricsCollector == nil {
		return
	}
	event.Timestamp = time.Now()
	d.metricsCollector.Emit(event)
}

func success(msg any, endpoint string) Response {
	return Response{
		Status:   http.StatusOK,
		Body:     map[string]any{"msg": msg},
		Endpoint: endpoint,
	}
}

// embed keeps a JSON backend body as JSON and anything else as a string.
func embed(body []byte) any {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
