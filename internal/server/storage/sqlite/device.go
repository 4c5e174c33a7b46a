package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/server/storage"
)

// CreateDevice registers a new device
func (s *Storage) CreateDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, name, created_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		device.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrDeviceAlreadyExists
		}
		return fmt.Errorf("failed to insert device: %w", err)
	}

	return nil
}

// GetDevice retrieves device by ID
func (s *Storage) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `
		SELECT id, name, created_at
		FROM devices
		WHERE id = ?
	`

	device := &models.Device{}
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.ID,
		&device.Name,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	device.CreatedAt = unixToTime(createdAt)

	return device, nil
}

// DeleteDevice removes device; its grants are removed by cascade
func (s *Storage) DeleteDevice(ctx context.Context, deviceID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrDeviceNotFound
	}

	return nil
}
