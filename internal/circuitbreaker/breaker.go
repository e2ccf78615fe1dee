package circuitbreaker

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
	"github.com/angeloszaimis/discovery-proxy/internal/backend"
	"github.com/angeloszaimis/discovery-proxy/internal/registry"
)

// Forwarder is the call being guarded.
type Forwarder interface {
	Forward(ctx context.Context, endpoint registry.Endpoint, req backend.Request) (*backend.Response, error)
}

// GuardedForwarder runs every forward through its endpoint's breaker.
type GuardedForwarder struct {
	next     Forwarder
	breakers *Registry
}

func Wrap(next Forwarder, breakers *Registry) *GuardedForwarder {
	return &GuardedForwarder{
		next:     next,
		breakers: breakers,
	}
}

func (g *GuardedForwarder) Forward(ctx context.Context, endpoint registry.Endpoint, req backend.Request) (*backend.Response, error) {
	cb := g.breakers.GetBreaker(endpoint.String())

	res, err := cb.Execute(func() (*backend.Response, error) {
		return g.next.Forward(ctx, endpoint, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperror.Newf(apperror.CodeBackendUnreachable, err,
			"circuit open for backend %s", endpoint)
	}

	return res, err
}
