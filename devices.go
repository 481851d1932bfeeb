package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var errAlreadyLoggedIn = map[string]string{
	"device_id": "User is already logged in another device.",
}

var errInvalidDeviceID = map[string]string{
	"device_id": "Invalid device_id.",
}

// DeviceDetails are the optional attributes stored with a device
type DeviceDetails struct {
	Type    DeviceType
	Name    string
	Loc     string
	Version string
}

// BindResult reports the outcome of binding a device to a login
type BindResult struct {
	Device  *Device
	Created bool
	Granted bool
}

// DeviceRegistry applies device binding and the single active device
// policy
type DeviceRegistry struct {
	repo     RepositoryManager
	logger   Logger
	activity ActivitySink
}

type DeviceRegistryOption func(*DeviceRegistry)

func WithDeviceLogger(lgr Logger) DeviceRegistryOption {
	return func(d *DeviceRegistry) {
		d.logger = normalizeLogger(lgr)
	}
}

func WithDeviceActivitySink(s ActivitySink) DeviceRegistryOption {
	return func(d *DeviceRegistry) {
		d.activity = s
	}
}

func NewDeviceRegistry(repo RepositoryManager, opts ...DeviceRegistryOption) *DeviceRegistry {
	d := &DeviceRegistry{
		repo:   repo,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// GetOrCreate returns the device for (user, registrationID), creating an
// active one when missing
func (d *DeviceRegistry) GetOrCreate(ctx context.Context, userID uuid.UUID, registrationID string) (*Device, bool, error) {
	return d.repo.Devices().GetOrCreateTx(ctx, d.repo.DB(), userID, registrationID)
}

// DeactivateAll marks every device of the user inactive
func (d *DeviceRegistry) DeactivateAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return d.repo.Devices().DeactivateAllTx(ctx, d.repo.DB(), userID)
}

// ActiveDevices returns the registration ids of the active devices
func (d *DeviceRegistry) ActiveDevices(ctx context.Context, userID uuid.UUID) (map[string]struct{}, error) {
	devices, err := d.repo.Devices().ActiveTx(ctx, d.repo.DB(), userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(devices))
	for _, dev := range devices {
		out[dev.RegistrationID] = struct{}{}
	}
	return out, nil
}

// IsActive reports whether the user's device is bound and active
func (d *DeviceRegistry) IsActive(ctx context.Context, userID uuid.UUID, registrationID string) (bool, error) {
	if registrationID == "" {
		return false, nil
	}
	device, err := d.repo.Devices().FindTx(ctx, d.repo.DB(), userID, registrationID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return device.Active, nil
}

// List returns every device bound to the user
func (d *DeviceRegistry) List(ctx context.Context, userID uuid.UUID) ([]*Device, error) {
	return d.repo.Devices().ListByUser(ctx, userID)
}

// PolicyTx evaluates the multi login policy inside tx. With force it
// deactivates the user's devices first. Otherwise it reports false when
// another device is active and the entity forbids multiple logins.
// The user row stays locked until tx ends so concurrent logins of the
// same user see each other's devices.
func (d *DeviceRegistry) PolicyTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, entity *Entity, registrationID string, force bool) (bool, error) {
	if entity != nil && entity.AllowMultipleLogin {
		return true, nil
	}

	if err := d.repo.Users().LockTx(ctx, tx, userID); err != nil {
		return false, err
	}

	if force {
		n, err := d.repo.Devices().DeactivateAllTx(ctx, tx, userID)
		if err != nil {
			return false, err
		}
		if n > 0 {
			d.logger.Info("force logout deactivated %d devices for user %s", n, userID)
		}
		return true, nil
	}

	active, err := d.repo.Devices().ActiveTx(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	for _, dev := range active {
		if dev.RegistrationID != registrationID {
			return false, nil
		}
	}
	return true, nil
}

// BindTx runs the policy and upserts the device row. A denied bind keeps
// the current device as it was and creates new ones inactive.
func (d *DeviceRegistry) BindTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, entity *Entity, registrationID string, force bool, details DeviceDetails) (*BindResult, error) {
	granted, err := d.PolicyTx(ctx, tx, userID, entity, registrationID, force)
	if err != nil {
		return nil, err
	}

	device, created, err := d.repo.Devices().GetOrCreateTx(ctx, tx, userID, registrationID)
	if err != nil {
		return nil, err
	}

	if granted {
		device.Active = true
	} else if created {
		device.Active = false
	}

	if details.Type.Valid() {
		device.Type = details.Type
	}
	if details.Name != "" {
		device.DeviceName = details.Name
	}
	if details.Loc != "" {
		device.DeviceLoc = details.Loc
	}
	if details.Version != "" {
		device.Version = details.Version
	}

	if err := d.repo.Devices().SaveTx(ctx, tx, device); err != nil {
		return nil, err
	}

	return &BindResult{Device: device, Created: created, Granted: granted}, nil
}

// Register binds the device negotiated during the handshake. The device
// id must match the one bound to the handshake session in ctx.
func (d *DeviceRegistry) Register(ctx context.Context, user *User, req DeviceRegistrationRequest) (*Device, error) {
	if err := req.Validate(); err != nil {
		return nil, validationFailure(err)
	}

	if user == nil {
		return nil, NewAuthenticationFailed("Authentication credentials were not provided.", TextCodeNotAuthenticated)
	}

	if sessionDevice := SessionDevice(ctx); sessionDevice == "" || sessionDevice != req.DeviceID {
		return nil, NewValidationError(errInvalidDeviceID)
	}

	entity, err := d.actingEntity(ctx, user)
	if err != nil {
		return nil, err
	}

	var result *BindResult
	err = d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		granted, err := d.PolicyTx(ctx, tx, user.ID, entity, req.DeviceID, req.ForceLogout)
		if err != nil {
			return err
		}
		if !granted {
			return NewValidationError(errAlreadyLoggedIn)
		}

		result, err = d.BindTx(ctx, tx, user.ID, entity, req.DeviceID, false, DeviceDetails{
			Type:    req.Type,
			Name:    req.DeviceName,
			Loc:     req.DeviceLoc,
			Version: req.Version,
		})
		return err
	})
	if err != nil {
		return nil, wrapInternal(err, "failed to register device")
	}

	emitActivity(ctx, d.activity, d.logger, ActivityEvent{
		EventType:  ActivityEventDeviceRegistered,
		UserID:     user.ID.String(),
		Device:     req.DeviceID,
		OccurredAt: time.Now().UTC(),
		Metadata: map[string]any{
			"created": result.Created,
			"type":    int(req.Type),
		},
	})

	return result.Device, nil
}

// actingEntity prefers the entity from the authenticated session data and
// falls back to the user's default entity
func (d *DeviceRegistry) actingEntity(ctx context.Context, user *User) (*Entity, error) {
	if sd, ok := CurrentSessionData(ctx); ok && sd.EntityID != "" {
		if id, err := sd.EntityUUID(); err == nil {
			return d.findEntity(ctx, id)
		}
	}
	if user.DefaultEntityID != nil {
		return d.findEntity(ctx, *user.DefaultEntityID)
	}

	m, err := d.repo.Entities().FirstMembershipTx(ctx, d.repo.DB(), user.ID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return m.Entity, nil
}

func (d *DeviceRegistry) findEntity(ctx context.Context, id uuid.UUID) (*Entity, error) {
	entity, err := d.repo.Entities().FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return entity, nil
}
