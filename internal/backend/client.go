package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
	"github.com/angeloszaimis/discovery-proxy/internal/registry"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = 10 << 20
	defaultMaxIdleConns     = 100
	errorBodyPreview        = 512
)

// Hop-by-hop headers are meaningful for a single connection only.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Request is what gets forwarded to the backend.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	// ClientIP is appended to X-Forwarded-For when set.
	ClientIP string
}

// Response is a fully read 2xx backend answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// StatusError is the cause of a backend_error failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}

	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	httpClient       *http.Client
	timeout          time.Duration
	maxResponseBytes int64
}

type Option func(*Client)

// WithMaxResponseBytes caps how much of a backend body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is ignored
// in favour of the per-request deadline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxIdleConns sizes the idle connection pool of the default transport.
func WithMaxIdleConns(n int) Option {
	return func(c *Client) {
		if t, ok := c.httpClient.Transport.(*http.Transport); ok && n > 0 {
			t.MaxIdleConns = n
			t.MaxIdleConnsPerHost = n
		}
	}
}

// NewClient returns a Client whose calls are bounded by timeout.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:          timeout,
		maxResponseBytes: defaultMaxResponseBytes,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Timeout returns the per-request deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Forward sends req to endpoint and returns the backend's 2xx response.
// Cancelling ctx aborts the call.
func (c *Client) Forward(ctx context.Context, endpoint registry.Endpoint, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := TargetURL(endpoint, req.Path, req.RawQuery)

	outReq, err := http.NewRequestWithContext(ctx, methodOrGet(req.Method), target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, apperror.Newf(apperror.CodeInternal, err, "cannot build request for backend %s", endpoint)
	}
	copyHeaders(outReq.Header, req.Header)
	if req.ClientIP != "" {
		appendForwardedFor(outReq.Header, req.ClientIP)
	}

	start := time.Now()
	res, err := c.httpClient.Do(outReq)
	if err != nil {
		return nil, classify(ctx, endpoint, c.timeout, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, classify(ctx, endpoint, c.timeout, err)
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, apperror.Newf(apperror.CodeBackendError, nil,
			"backend %s response exceeds %d bytes", endpoint, c.maxResponseBytes)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, apperror.Newf(apperror.CodeBackendError,
			&StatusError{StatusCode: res.StatusCode, Body: preview(body)},
			"backend %s responded with status %d", endpoint, res.StatusCode)
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

// TargetURL builds http://host:port{path}?{rawQuery}.
func TargetURL(endpoint registry.Endpoint, path, rawQuery string) *url.URL {
	return &url.URL{
		Scheme:   "http",
		Host:     endpoint.String(),
		Path:     path,
		RawQuery: rawQuery,
	}
}

func classify(ctx context.Context, endpoint registry.Endpoint, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Newf(apperror.CodeBackendTimeout, err,
			"backend %s did not respond within %s", endpoint, timeout)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.Newf(apperror.CodeBackendTimeout, err,
			"backend %s did not respond within %s", endpoint, timeout)
	}

	if errors.Is(err, context.Canceled) {
		return apperror.Newf(apperror.CodeBackendUnreachable, err,
			"request to backend %s was canceled", endpoint)
	}

	return apperror.Newf(apperror.CodeBackendUnreachable, err,
		"connection to backend %s failed", endpoint)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Content-Length")
}

func appendForwardedFor(h http.Header, clientIP string) {
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+clientIP)
		return
	}
	h.Set("X-Forwarded-For", clientIP)
}

func methodOrGet(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return method
}

func preview(body []byte) string {
	if len(body) > errorBodyPreview {
		return string(body[:errorBodyPreview])
	}
	return string(body)
}
