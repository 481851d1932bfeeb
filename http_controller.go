package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthControllerRoutes holds the paths mounted under the auth group
type AuthControllerRoutes struct {
	Login                string
	Refresh              string
	Verify               string
	Handshake            string
	DeviceRegistration   string
	Devices              string
	Logout               string
	PasswordCheck        string
	PasswordChange       string
	PasswordReset        string
	PasswordResetConfirm string
	Validate             string
	OTP                  string
	OTPVerify            string
	Metrics              string
}

type AuthController struct {
	Debug      bool
	Logger     Logger
	Routes     *AuthControllerRoutes
	Auther     *Auther
	Handshakes *HandshakeService
	Devices    *DeviceRegistry
	HTTP       *RouteAuthenticator
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(lgr Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = normalizeLogger(lgr)
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithControllerRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func NewAuthController(auther *Auther, handshakes *HandshakeService, devices *DeviceRegistry, httpAuth *RouteAuthenticator, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		Auther:     auther,
		Handshakes: handshakes,
		Devices:    devices,
		HTTP:       httpAuth,
		Routes: &AuthControllerRoutes{
			Login:                "/login/",
			Refresh:              "/token/refresh/",
			Verify:               "/token/verify/",
			Handshake:            "/handshake/",
			DeviceRegistration:   "/device/registration/",
			Devices:              "/devices/",
			Logout:               "/logout/",
			PasswordCheck:        "/password/check/",
			PasswordChange:       "/password/change/",
			PasswordReset:        "/password/reset/",
			PasswordResetConfirm: "/password/reset/confirm/",
			Validate:             "/validate/",
			OTP:                  "/otp/",
			OTPVerify:            "/otp/verify/",
			Metrics:              "/metrics",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing Auther in auth controller...")
	}

	if c.Handshakes == nil || c.Devices == nil || c.HTTP == nil {
		panic("Missing handshake, device or http authenticator in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the auth endpoints on router, usually the
// /auth group
func RegisterAuthRoutes(router fiber.Router, controller *AuthController) {
	protected := controller.HTTP.Protect(EndpointPolicy{})
	deviceRegistration := controller.HTTP.Protect(EndpointPolicy{
		ValidatePayloadSignature: true,
		ExcludeDeviceValidation:  true,
	})
	limit := controller.HTTP.RateLimit()

	router.Post(controller.Routes.Login, limit, controller.Login).Name("auth.login")
	router.Post(controller.Routes.Refresh, controller.Refresh).Name("auth.token.refresh")
	router.Post(controller.Routes.Verify, controller.Verify).Name("auth.token.verify")
	router.Post(controller.Routes.Handshake, limit, controller.Handshake).Name("auth.handshake")
	router.Post(controller.Routes.DeviceRegistration, deviceRegistration, controller.RegisterDevice).
		Name("auth.device.registration")
	router.Get(controller.Routes.Devices, protected, controller.ListDevices).Name("auth.devices")
	router.Post(controller.Routes.Logout, protected, controller.Logout).Name("auth.logout")
	router.Post(controller.Routes.PasswordCheck, protected, controller.CheckPassword).Name("auth.password.check")
	router.Post(controller.Routes.PasswordChange, protected, controller.ChangePassword).Name("auth.password.change")
	router.Post(controller.Routes.PasswordReset, limit, controller.PasswordReset).Name("auth.password.reset")
	router.Post(controller.Routes.PasswordResetConfirm, controller.PasswordResetConfirm).
		Name("auth.password.reset.confirm")
	router.Post(controller.Routes.Validate, controller.Validate).Name("auth.validate")
	router.Post(controller.Routes.OTP, protected, limit, controller.IssueOTP).Name("auth.otp")
	router.Post(controller.Routes.OTPVerify, protected, controller.HTTP.RequireOTP(), controller.VerifyOTP).
		Name("auth.otp.verify")
}

// RegisterMetricsRoute exposes the collectors of gatherer
func RegisterMetricsRoute(router fiber.Router, controller *AuthController, gatherer prometheus.Gatherer) {
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	router.Get(controller.Routes.Metrics, adaptor.HTTPHandler(handler)).Name("metrics")
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	if a.Debug {
		a.Logger.Debug("login payload: %s", print.MaybePrettyJSON(map[string]any{
			"username":  payload.Username,
			"device_id": payload.DeviceID,
			"version":   payload.Version,
		}))
	}

	result, err := a.Auther.Login(c.UserContext(), *payload)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (a *AuthController) Refresh(c *fiber.Ctx) error {
	payload := new(RefreshRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	result, err := a.Auther.Refresh(c.UserContext(), *payload)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (a *AuthController) Verify(c *fiber.Ctx) error {
	payload := new(TokenVerifyRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	if err := a.Auther.VerifyToken(c.UserContext(), *payload); err != nil {
		return err
	}
	return c.JSON(fiber.Map{})
}

func (a *AuthController) Handshake(c *fiber.Ctx) error {
	payload := new(HandshakeRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	result, err := a.Handshakes.Handshake(c.UserContext(), *payload)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// DeviceRegistrationResponse is the registered device plus the acting
// identity
type DeviceRegistrationResponse struct {
	*Device
	EntityID string `json:"entity_id"`
}

func (a *AuthController) RegisterDevice(c *fiber.Ctx) error {
	payload := new(DeviceRegistrationRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	ctx := c.UserContext()
	user, _ := CurrentUser(ctx)

	device, err := a.Devices.Register(ctx, user, *payload)
	if err != nil {
		return err
	}

	sd, _ := CurrentSessionData(ctx)
	return c.JSON(DeviceRegistrationResponse{
		Device:   device,
		EntityID: sd.EntityID,
	})
}

func (a *AuthController) ListDevices(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user, _ := CurrentUser(ctx)

	devices, err := a.Devices.List(ctx, user.ID)
	if err != nil {
		return wrapInternal(err, "failed to list devices")
	}
	if devices == nil {
		devices = []*Device{}
	}
	return c.JSON(devices)
}

func (a *AuthController) Logout(c *fiber.Ctx) error {
	if err := a.Auther.Logout(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

func (a *AuthController) CheckPassword(c *fiber.Ctx) error {
	payload := new(CheckPasswordRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	if err := a.Auther.CheckPassword(c.UserContext(), *payload); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Password is correct"})
}

func (a *AuthController) ChangePassword(c *fiber.Ctx) error {
	payload := new(PasswordChangeRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	if err := a.Auther.ChangePassword(c.UserContext(), *payload); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "New password has been saved"})
}

func (a *AuthController) PasswordReset(c *fiber.Ctx) error {
	payload := new(PasswordResetRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	if err := a.Auther.RequestPasswordReset(c.UserContext(), *payload, clientOrigin(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Password reset link sent"})
}

func (a *AuthController) PasswordResetConfirm(c *fiber.Ctx) error {
	payload := new(PasswordResetConfirmRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	if err := a.Auther.ConfirmPasswordReset(c.UserContext(), *payload); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Password has been reset"})
}

func (a *AuthController) Validate(c *fiber.Ctx) error {
	payload := new(ValidationCheckRequest)
	if err := c.BodyParser(payload); err != nil {
		return NewBadRequest("Malformed request body.", TextCodeBadRequest)
	}

	result, err := a.Auther.CheckValidationToken(c.UserContext(), *payload)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// IssueOTP sends a one time code to the current user. The code itself
// only travels through the notifier.
func (a *AuthController) IssueOTP(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user, _ := CurrentUser(ctx)

	token, err := a.Auther.IssueOTP(ctx, user, clientOrigin(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":    "OTP sent",
		"expires_at": token.ExpiresAt,
	})
}

// VerifyOTP is reached only after RequireOTP consumed the code
func (a *AuthController) VerifyOTP(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "OTP verified"})
}
