package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Devices persists device bindings
type Devices interface {
	GetOrCreateTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, registrationID string) (*Device, bool, error)
	FindTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, registrationID string) (*Device, error)
	FindByRegistration(ctx context.Context, registrationID, version string, deviceType DeviceType) (*Device, error)
	SaveTx(ctx context.Context, tx bun.IDB, device *Device) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Device, error)
	ActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*Device, error)
	DeactivateAllTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error)
	DeactivateTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, registrationID string) error
}

type devices struct {
	db *bun.DB
}

func NewDevicesRepository(db *bun.DB) Devices {
	return &devices{db: db}
}

// DeviceRowID derives the row id from the (user, registration id) pair so
// concurrent get-or-create calls converge on one primary key.
func DeviceRowID(userID uuid.UUID, registrationID string) uuid.UUID {
	id, err := hashid.NewUUID(userID.String() + ":" + registrationID)
	if err != nil {
		return uuid.New()
	}
	return id
}

func (r *devices) FindTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, registrationID string) (*Device, error) {
	record := &Device{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.registration_id = ?", registrationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id":   userID.String(),
					"device_id": registrationID,
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *devices) GetOrCreateTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, registrationID string) (*Device, bool, error) {
	device, err := r.FindTx(ctx, tx, userID, registrationID)
	if err == nil {
		return device, false, nil
	}

	if !IsNotFound(err) {
		return nil, false, err
	}

	now := time.Now().UTC()
	device = &Device{
		ID:             DeviceRowID(userID, registrationID),
		UserID:         userID,
		RegistrationID: registrationID,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	res, err := tx.NewInsert().Model(device).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return nil, false, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return device, true, nil
	}

	// a concurrent insert won the race
	stored, err := r.FindTx(ctx, tx, userID, registrationID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *devices) FindByRegistration(ctx context.Context, registrationID, version string, deviceType DeviceType) (*Device, error) {
	record := &Device{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.registration_id = ?", registrationID).
		Where("?TableAlias.version = ?", version).
		Where("?TableAlias.type = ?", deviceType).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"device_id": registrationID,
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *devices) SaveTx(ctx context.Context, tx bun.IDB, device *Device) error {
	device.UpdatedAt = time.Now().UTC()
	_, err := tx.NewUpdate().
		Model(device).
		Column("type", "active", "device_name", "device_loc", "version", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func (r *devices) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Device, error) {
	var records []*Device
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.updated_at DESC").
		Scan(ctx)
	return records, err
}

func (r *devices) ActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]*Device, error) {
	var records []*Device
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.active = ?", true).
		Scan(ctx)
	return records, err
}

func (r *devices) DeactivateAllTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*Device)(nil)).
		Set("active = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("user_id = ?", userID).
		Where("active = ?", true).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *devices) DeactivateTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, registrationID string) error {
	_, err := tx.NewUpdate().
		Model((*Device)(nil)).
		Set("active = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("user_id = ?", userID).
		Where("registration_id = ?", registrationID).
		Exec(ctx)
	return err
}
