package auth

import (
	mathrand "math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/oklog/ulid/v2"
)

const (
	RequestIDHeader = "X-Request-ID"
	TimezoneHeader  = "Timezone"
	LanguageHeader  = "Language"
	OTPHeader       = "Otp"
)

// ErrorEnvelope is the body of every failed response
type ErrorEnvelope struct {
	Success  bool   `json:"success"`
	Detail   any    `json:"detail"`
	Code     string `json:"code"`
	Messages any    `json:"messages,omitempty"`
}

// RouteAuthenticator wires the dispatcher into fiber handlers
type RouteAuthenticator struct {
	dispatcher *Dispatcher
	auther     *Auther
	limiter    *RateLimiter
	Logger     Logger
}

func NewHTTPAuthenticator(dispatcher *Dispatcher, auther *Auther) *RouteAuthenticator {
	return &RouteAuthenticator{
		dispatcher: dispatcher,
		auther:     auther,
		Logger:     defLogger{},
	}
}

func (a *RouteAuthenticator) WithLogger(lgr Logger) *RouteAuthenticator {
	a.Logger = normalizeLogger(lgr)
	return a
}

// WithRateLimiter limits the unauthenticated endpoints per client IP
func (a *RouteAuthenticator) WithRateLimiter(l *RateLimiter) *RouteAuthenticator {
	a.limiter = l
	return a
}

// Protect authenticates the request with the strategy chosen by the
// Auth-Type header and publishes the principal in the user context
func (a *RouteAuthenticator) Protect(policy EndpointPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		principal, err := a.dispatcher.Authenticate(ctx, &fiberRequest{c: c, policy: policy})
		if err != nil {
			return err
		}
		if principal == nil {
			return NewAuthenticationFailed("Authentication credentials were not provided.", TextCodeNotAuthenticated)
		}

		ctx = WithPrincipal(ctx, principal)
		if principal.Credential != nil && principal.Credential.AuthSession != nil {
			ctx = WithHandshakeSession(ctx, principal.Credential.AuthSession)
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// RequireOTP checks the Otp header against an unused OTP of the user
func (a *RouteAuthenticator) RequireOTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := a.auther.VerifyOTP(c.UserContext(), c.Get(OTPHeader)); err != nil {
			return err
		}
		return c.Next()
	}
}

// RateLimit rejects clients that exceed the configured rate
func (a *RouteAuthenticator) RateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !a.limiter.Allow(c.IP()) {
			return errors.New("Request was throttled.", errors.CategoryRateLimit).
				WithTextCode(TextCodeTooManyRequests).
				WithCode(http.StatusTooManyRequests)
		}
		return c.Next()
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewRequestID returns a sortable request identifier
func NewRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RequestContext publishes the request id and the locale headers
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if id == "" {
			id = NewRequestID()
		}
		c.Set(RequestIDHeader, id)

		ctx := WithRequestID(c.UserContext(), id)
		ctx = WithLocale(ctx, Locale{
			Timezone: c.Get(TimezoneHeader),
			Language: c.Get(LanguageHeader),
		})
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// ErrorHandler renders errors with the envelope. It is meant to be set
// as the fiber app ErrorHandler.
func (a *RouteAuthenticator) ErrorHandler(c *fiber.Ctx, err error) error {
	status, envelope := RenderError(err)

	if status >= http.StatusInternalServerError {
		a.Logger.Error("request %s %s failed: %v", c.Method(), c.Path(), err)
	} else {
		var richErr *errors.Error
		if errors.As(err, &richErr) {
			a.Logger.Debug("request %s %s rejected code=%s details=%s",
				c.Method(), c.Path(), envelope.Code, print.MaybePrettyJSON(richErr.Metadata))
		}
	}

	return c.Status(status).JSON(envelope)
}

// RenderError maps err to a status code and the envelope body
func RenderError(err error) (int, ErrorEnvelope) {
	err = translateTokenError(err)

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorEnvelope{
			Detail: fiberErr.Message,
			Code:   statusTextCode(fiberErr.Code),
		}
	}

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return http.StatusInternalServerError, ErrorEnvelope{
			Detail: "An unexpected server error occurred",
			Code:   "error",
		}
	}

	status := richErr.Code
	if status == 0 {
		status = statusForCategory(richErr.Category)
	}

	env := ErrorEnvelope{
		Detail: richErr.Message,
		Code:   richErr.TextCode,
	}
	if env.Code == "" {
		env.Code = statusTextCode(status)
	}

	if fields, ok := richErr.Metadata["fields"]; ok && richErr.Category == errors.CategoryValidation {
		env.Detail = fields
	}
	if msgs, ok := richErr.Metadata["messages"]; ok {
		env.Messages = msgs
	}
	if status >= http.StatusInternalServerError {
		env.Detail = "An unexpected server error occurred"
		env.Code = "error"
	}
	return status, env
}

func statusForCategory(cat errors.Category) int {
	switch cat {
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func statusTextCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return TextCodeAuthenticationFailed
	case http.StatusForbidden:
		return TextCodeAccessForbidden
	case http.StatusBadRequest:
		return TextCodeBadRequest
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return TextCodeTooManyRequests
	}
	return "error"
}

// fiberRequest exposes a fiber context to the strategies
type fiberRequest struct {
	c      *fiber.Ctx
	policy EndpointPolicy
}

func (r *fiberRequest) Header(name string) string { return r.c.Get(name) }
func (r *fiberRequest) Method() string            { return r.c.Method() }
func (r *fiberRequest) Body() []byte              { return r.c.Body() }
func (r *fiberRequest) Policy() EndpointPolicy    { return r.policy }

// clientOrigin collects request details stored with validation tokens
func clientOrigin(c *fiber.Ctx) TokenOrigin {
	return TokenOrigin{
		IP:     c.IP(),
		Device: c.Get(fiber.HeaderUserAgent),
	}
}
