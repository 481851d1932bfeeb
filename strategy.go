package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

const (
	// AuthTypeHeader selects the strategy for a request
	AuthTypeHeader = "Auth-Type"

	AuthTypePasswordGrant     = "password_grant"
	AuthTypeSSO               = "sso"
	AuthTypeClientCredentials = "client_credentials"

	DefaultAuthType = AuthTypePasswordGrant
)

// EndpointPolicy carries per route authentication switches.
// ExcludeDeviceValidation is honoured by the SSO strategy only.
type EndpointPolicy struct {
	ValidatePayloadSignature bool
	ExcludeDeviceValidation  bool
}

// Request is what strategies read from an inbound call
type Request interface {
	Header(name string) string
	Method() string
	Body() []byte
	Policy() EndpointPolicy
}

// Strategy authenticates one kind of credential. A nil principal with a
// nil error means the request carried no credentials of that kind.
type Strategy interface {
	Kind() StrategyKind
	Authenticate(ctx context.Context, req Request) (*Principal, error)
}

// Dispatcher picks a strategy from the Auth-Type header
type Dispatcher struct {
	mu          sync.RWMutex
	strategies  map[string]Strategy
	defaultType string
	metrics     *Metrics
	logger      Logger
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithDispatcherLogger(lgr Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = normalizeLogger(lgr)
	}
}

// WithDefaultAuthType sets the type used when the header is absent
func WithDefaultAuthType(t string) DispatcherOption {
	return func(d *Dispatcher) {
		if t != "" {
			d.defaultType = strings.ToLower(t)
		}
	}
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		strategies:  map[string]Strategy{},
		defaultType: DefaultAuthType,
		logger:      defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Register binds authType to s. Types are matched case insensitively.
func (d *Dispatcher) Register(authType string, s Strategy) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strategies[strings.ToLower(strings.TrimSpace(authType))] = s
	return d
}

// Resolve returns the strategy for authType
func (d *Dispatcher) Resolve(authType string) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(authType))
	if key == "" {
		key = d.defaultType
	}

	d.mu.RLock()
	s, ok := d.strategies[key]
	d.mu.RUnlock()

	if !ok || s == nil {
		return nil, NewAuthenticationFailed(
			fmt.Sprintf("Unsupported authentication type: %s", key),
			TextCodeUnsupportedAuth,
		)
	}
	return s, nil
}

// Authenticate runs the selected strategy. Failures of a strategy that
// found credentials are returned as is and never fall through.
func (d *Dispatcher) Authenticate(ctx context.Context, req Request) (*Principal, error) {
	s, err := d.Resolve(req.Header(AuthTypeHeader))
	if err != nil {
		d.metrics.authFailure("dispatcher", TextCodeUnsupportedAuth)
		return nil, err
	}

	principal, err := s.Authenticate(ctx, req)
	if err != nil {
		d.metrics.authFailure(string(s.Kind()), textCodeOf(err))
		d.logger.Debug("%s authentication failed: %v", s.Kind(), err)
		return nil, err
	}
	return principal, nil
}

// BasicRequest is a Request over plain values
type BasicRequest struct {
	HTTPMethod string
	Headers    http.Header
	Payload    []byte
	Endpoint   EndpointPolicy
}

// NewRequest builds a BasicRequest
func NewRequest(method string, headers http.Header, body []byte, policy EndpointPolicy) *BasicRequest {
	if headers == nil {
		headers = http.Header{}
	}
	return &BasicRequest{
		HTTPMethod: method,
		Headers:    headers,
		Payload:    body,
		Endpoint:   policy,
	}
}

func (r *BasicRequest) Header(name string) string { return r.Headers.Get(name) }
func (r *BasicRequest) Method() string            { return r.HTTPMethod }
func (r *BasicRequest) Body() []byte              { return r.Payload }
func (r *BasicRequest) Policy() EndpointPolicy    { return r.Endpoint }

// bearerToken extracts the token from an Authorization header whose
// scheme is one of types
func bearerToken(header string, types []string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	for _, t := range types {
		if strings.EqualFold(parts[0], t) {
			return parts[1]
		}
	}
	return ""
}
