package storage

import (
	"context"

	"github.com/iudanet/causaltree/internal/models"
)

// DeviceStorage defines interface for registered devices.
// A device exists from the moment a token is issued for it until it is revoked.
type DeviceStorage interface {
	// CreateDevice registers a new device
	// Returns ErrDeviceAlreadyExists if device ID is taken
	CreateDevice(ctx context.Context, device *models.Device) error

	// GetDevice retrieves device by ID
	// Returns ErrDeviceNotFound if device doesn't exist
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)

	// DeleteDevice revokes device together with its grants
	// Returns ErrDeviceNotFound if device doesn't exist
	DeleteDevice(ctx context.Context, deviceID string) error
}
