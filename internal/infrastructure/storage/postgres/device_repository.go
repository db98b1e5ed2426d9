package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"ticketgate/internal/domain/device"
)

type DeviceRepository struct {
	db  *Storage
	log *slog.Logger
}

func NewDeviceRepository(db *Storage, log *slog.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:  db,
		log: log.With("component", "device_repository"),
	}
}

func (r *DeviceRepository) Create(ctx context.Context, d device.Device) error {
	_, err := r.db.q(ctx).Exec(ctx,
		`INSERT INTO devices (id, name, secret_hash, created_at) VALUES ($1, $2, $3, $4)`,
		d.ID, d.Name, d.SecretHash, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return device.ErrAlreadyExists
		}
		r.log.Error("failed to create device", "device_id", d.ID, "error", err)
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

func (r *DeviceRepository) FindByID(ctx context.Context, id string) (device.Device, error) {
	var d device.Device
	err := r.db.q(ctx).QueryRow(ctx,
		`SELECT id, name, secret_hash, created_at, last_seen_at, last_sync_at FROM devices WHERE id = $1`,
		id).Scan(&d.ID, &d.Name, &d.SecretHash, &d.CreatedAt, &d.LastSeenAt, &d.LastSyncAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return device.Device{}, device.ErrNotFound
		}
		return device.Device{}, fmt.Errorf("find device: %w", err)
	}
	return d, nil
}

func (r *DeviceRepository) Touch(ctx context.Context, id string, at time.Time, synced bool) error {
	const query = `
		UPDATE devices
		SET last_seen_at = $2,
		    last_sync_at = CASE WHEN $3 THEN $2 ELSE last_sync_at END
		WHERE id = $1`

	tag, err := r.db.q(ctx).Exec(ctx, query, id, at, synced)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return device.ErrNotFound
	}
	return nil
}

func (r *DeviceRepository) List(ctx context.Context) ([]device.Device, error) {
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT id, name, secret_hash, created_at, last_seen_at, last_sync_at FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []device.Device
	for rows.Next() {
		var d device.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.SecretHash, &d.CreatedAt, &d.LastSeenAt, &d.LastSyncAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
