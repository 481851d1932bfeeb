package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-trace-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*fixture
	app  *fiber.App
	sign func(email, jti string) string
}

func newTestServer(t *testing.T, limiter *auth.RateLimiter) *testServer {
	t.Helper()
	f := newFixture(t)
	key := newRSAKey(t)

	registry := prometheus.NewRegistry()
	metrics := auth.NewMetrics(registry)
	f.auther.WithMetrics(metrics)

	verifier, err := auth.NewSSOVerifierWithKey(&key.PublicKey, auth.WithSSOBlacklist(f.ledger))
	require.NoError(t, err)

	dispatcher := auth.NewDispatcher(auth.WithDispatcherMetrics(metrics)).
		Register(auth.AuthTypePasswordGrant, auth.NewJWTStrategy(f.codec, f.repo, f.devices)).
		Register(auth.AuthTypeSSO, auth.NewSSOStrategy(verifier, f.repo, f.handshakes, auth.WithHMACValidation(true))).
		Register(auth.AuthTypeClientCredentials, auth.NewOAuth2Strategy(auth.NewOAuth2Store(f.db), f.repo))

	httpAuth := auth.NewHTTPAuthenticator(dispatcher, f.auther).
		WithLogger(testLogger{}).
		WithRateLimiter(limiter)

	app := fiber.New(fiber.Config{ErrorHandler: httpAuth.ErrorHandler})
	app.Use(auth.RequestContext())

	controller := auth.NewAuthController(f.auther, f.handshakes, f.devices, httpAuth)
	auth.RegisterAuthRoutes(app.Group("/auth"), controller)
	auth.RegisterMetricsRoute(app, controller, registry)

	return &testServer{
		fixture: f,
		app:     app,
		sign: func(email, jti string) string {
			return signSSO(t, key, ssoClaims(email, jti, "access", time.Now().Add(time.Hour)), "")
		},
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers http.Header) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, ok := body.([]byte)
		if !ok {
			var err error
			raw, err = json.Marshal(body)
			require.NoError(t, err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return res, out
}

func TestHTTPLoginAndSession(t *testing.T) {
	s := newTestServer(t, nil)

	res, body := s.do(t, "POST", "/auth/login/", map[string]any{
		"username":  s.user.Email,
		"password":  testPassword,
		"device_id": "dev-1",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, true, body["is_granted"])
	assert.Equal(t, s.user.ID.String(), body["user_id"])
	access := body["access"].(string)
	refresh := body["refresh"].(string)

	res, body = s.do(t, "POST", "/auth/token/verify/", map[string]any{"token": access}, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode, body)

	res, body = s.do(t, "POST", "/auth/token/refresh/", map[string]any{
		"refresh": refresh,
		"entity":  s.entity.ID.String(),
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, s.entity.ID.String(), body["entity_id"])

	res, _ = s.do(t, "GET", "/auth/devices/", nil, bearer(access))
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body = s.do(t, "POST", "/auth/password/check/", map[string]any{"password": "wrong"}, bearer(access))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, auth.TextCodeNoValue, body["code"])

	res, body = s.do(t, "POST", "/auth/logout/", nil, bearer(access))
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	res, body = s.do(t, "GET", "/auth/devices/", nil, bearer(access))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, auth.TextCodeTokenNotValid, body["code"])
}

func TestHTTPLoginErrors(t *testing.T) {
	s := newTestServer(t, nil)

	res, body := s.do(t, "POST", "/auth/login/", map[string]any{
		"username": s.user.Email,
		"password": testPassword,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, auth.TextCodeDeviceIDRequired, body["code"])
	assert.Equal(t, false, body["success"])

	res, body = s.do(t, "POST", "/auth/login/", []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, auth.TextCodeBadRequest, body["code"])

	res, body = s.do(t, "GET", "/auth/devices/", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, auth.TextCodeNotAuthenticated, body["code"])

	res, body = s.do(t, "GET", "/auth/devices/", nil, http.Header{"Auth-Type": {"magic"}})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, auth.TextCodeUnsupportedAuth, body["code"])
}

func TestHTTPHandshakeAndDeviceRegistration(t *testing.T) {
	s := newTestServer(t, nil)

	res, body := s.do(t, "POST", "/auth/handshake/", map[string]any{
		"device_id": "dev-42",
		"type":      int(auth.DeviceAndroid),
		"version":   "1.0.0",
		"nonce":     "abc123",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, auth.DeviceStatusNotRegistered, body["device_info"].(map[string]any)["status"])
	sessionToken := body["session_token"].(string)
	serverNonce := body["server_nonce"].(string)

	res, body = s.do(t, "POST", "/auth/handshake/", map[string]any{
		"device_id": "dev-42",
		"type":      int(auth.DeviceAndroid),
		"version":   "1.0.0",
		"nonce":     "abc123",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, map[string]any{
		"nonce": "The provided nonce value is invalid. This nonce has already been used.",
	}, body["detail"])

	headers := func(payload []byte) http.Header {
		return bearer(s.sign(s.user.Email, "sso-"+serverNonce[:8]),
			auth.AuthTypeHeader, auth.AuthTypeSSO,
			auth.ClientNonceHeader, "abc123",
			auth.ServerNonceHeader, serverNonce,
			auth.HMACSignatureHeader, auth.ComputeHMACSignature(sessionToken, payload),
		)
	}

	mismatch := []byte(`{"device_id":"dev-7","type":101,"version":"1.0.0","device_name":"Pixel"}`)
	res, body = s.do(t, "POST", "/auth/device/registration/", mismatch, headers(mismatch))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, map[string]any{"device_id": "Invalid device_id."}, body["detail"])

	payload := []byte(`{"device_id":"dev-42","type":101,"version":"1.0.0","device_name":"Pixel"}`)
	unsigned := headers(payload)
	unsigned.Del(auth.HMACSignatureHeader)
	res, body = s.do(t, "POST", "/auth/device/registration/", payload, unsigned)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, auth.TextCodeSignatureRequired, body["code"])

	res, body = s.do(t, "POST", "/auth/device/registration/", payload, headers(payload))
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, "dev-42", body["device_id"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, s.entity.ID.String(), body["entity_id"])

	res, body = s.do(t, "POST", "/auth/handshake/", map[string]any{
		"device_id": "dev-42",
		"type":      int(auth.DeviceAndroid),
		"version":   "1.0.0",
		"nonce":     "def456",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	info := body["device_info"].(map[string]any)
	assert.Equal(t, true, info["is_registered"])
	assert.Equal(t, auth.DeviceStatusActive, info["status"])
}

func TestHTTPOTP(t *testing.T) {
	s := newTestServer(t, nil)
	access := s.login(t, "dev-1", false).Access

	res, body := s.do(t, "POST", "/auth/otp/", nil, bearer(access))
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, "OTP sent", body["message"])
	code := s.notifier.last(t).Key

	wrong := bearer(access)
	wrong.Set(auth.OTPHeader, "000000x")
	res, body = s.do(t, "POST", "/auth/otp/verify/", nil, wrong)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, auth.TextCodeInvalidOTP, body["code"])

	right := bearer(access)
	right.Set(auth.OTPHeader, code)
	res, body = s.do(t, "POST", "/auth/otp/verify/", nil, right)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, "OTP verified", body["message"])
}

func TestHTTPPasswordReset(t *testing.T) {
	s := newTestServer(t, nil)

	res, body := s.do(t, "POST", "/auth/password/reset/", map[string]any{"email": s.user.Email}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	token := s.notifier.last(t)

	res, body = s.do(t, "POST", "/auth/validate/", map[string]any{
		"validation_token": token.Key,
		"user":             s.user.ID.String(),
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, true, body["set_password"])

	res, body = s.do(t, "POST", "/auth/password/reset/confirm/", map[string]any{
		"user":          s.user.ID.String(),
		"token":         token.Key,
		"new_password1": "brand-new-pass",
		"new_password2": "brand-new-pass",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
}

func TestHTTPPasswordChange(t *testing.T) {
	s := newTestServer(t, nil)

	res, body := s.do(t, "POST", "/auth/login/", map[string]any{
		"username":  s.user.Email,
		"password":  testPassword,
		"device_id": "dev-1",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	access := body["access"].(string)

	res, body = s.do(t, "POST", "/auth/password/change/", map[string]any{
		"old_password":  "not-the-password",
		"new_password1": "brand-new-pass",
		"new_password2": "brand-new-pass",
	}, bearer(access))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, auth.TextCodeValidation, body["code"])
	assert.Equal(t, map[string]any{
		"old_password": "Your old password was entered incorrectly. Please enter it again.",
	}, body["detail"])

	res, body = s.do(t, "POST", "/auth/password/change/", map[string]any{
		"old_password":  testPassword,
		"new_password1": "brand-new-pass",
		"new_password2": "brand-new-pass",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, body)

	res, body = s.do(t, "POST", "/auth/password/change/", map[string]any{
		"old_password":  testPassword,
		"new_password1": "brand-new-pass",
		"new_password2": "brand-new-pass",
	}, bearer(access))
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, "New password has been saved", body["message"])

	res, body = s.do(t, "POST", "/auth/login/", map[string]any{
		"username":  s.user.Email,
		"password":  "brand-new-pass",
		"device_id": "dev-1",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, true, body["is_granted"])
}

func TestHTTPRateLimit(t *testing.T) {
	s := newTestServer(t, auth.NewRateLimiter(0.001, 2))
	payload := map[string]any{"username": s.user.Email, "password": "wrong", "device_id": "dev-1"}

	for i := 0; i < 2; i++ {
		res, _ := s.do(t, "POST", "/auth/login/", payload, nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	}

	res, body := s.do(t, "POST", "/auth/login/", payload, nil)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, auth.TextCodeTooManyRequests, body["code"])

	res, _ = s.do(t, "POST", "/auth/token/verify/", map[string]any{"token": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, "token endpoints are not limited")
}

func TestHTTPRequestContext(t *testing.T) {
	s := newTestServer(t, nil)

	res, _ := s.do(t, "POST", "/auth/token/verify/", map[string]any{"token": "x"}, nil)
	generated := res.Header.Get(auth.RequestIDHeader)
	assert.Len(t, generated, 26)

	res, _ = s.do(t, "POST", "/auth/token/verify/", map[string]any{"token": "x"}, http.Header{"X-Request-Id": {"req-1"}})
	assert.Equal(t, "req-1", res.Header.Get(auth.RequestIDHeader))
}

func TestHTTPMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, "POST", "/auth/login/", map[string]any{"username": s.user.Email, "password": "wrong", "device_id": "dev-1"}, nil)

	res, err := s.app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `trace_auth_logins_total{outcome="failure"} 1`), string(raw))
}

func TestRenderErrorFallbacks(t *testing.T) {
	status, env := auth.RenderError(io.EOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "error", env.Code)
	assert.Equal(t, "An unexpected server error occurred", env.Detail)

	status, env = auth.RenderError(fiber.NewError(http.StatusNotFound, "Cannot GET /nope"))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", env.Code)
	assert.Equal(t, "Cannot GET /nope", env.Detail)
}
