package registry

import (
	"net"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
)

const (
	minPort = 1
	maxPort = 65535
)

// Endpoint identifies one backend instance. Two endpoints are equal iff host
// and port match exactly, so Endpoint is usable as a map key.
type Endpoint struct {
	host string
	port int
}

// NewEndpoint validates host and port and returns the endpoint.
func NewEndpoint(host string, port int) (Endpoint, error) {
	err := validation.Errors{
		"host": validation.Validate(host, validation.Required, is.Host),
		"port": validation.Validate(port, validation.Required, validation.Min(minPort), validation.Max(maxPort)),
	}.Filter()
	if err != nil {
		return Endpoint{}, apperror.New(apperror.CodeInvalidArgument, "invalid endpoint", err)
	}

	return Endpoint{host: host, port: port}, nil
}

// ParseEndpoint parses "host:port".
func ParseEndpoint(hostport string) (Endpoint, error) {
	host, rawPort, err := net.SplitHostPort(hostport)
	if err != nil {
		return Endpoint{}, apperror.New(apperror.CodeInvalidArgument, "endpoint must be in host:port format", err)
	}

	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return Endpoint{}, apperror.Newf(apperror.CodeInvalidArgument, err, "port %q is not an integer", rawPort)
	}

	return NewEndpoint(host, port)
}

func (e Endpoint) Host() string {
	return e.host
}

func (e Endpoint) Port() int {
	return e.port
}

// IsZero reports whether e is the zero Endpoint.
func (e Endpoint) IsZero() bool {
	return e.host == "" && e.port == 0
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}
