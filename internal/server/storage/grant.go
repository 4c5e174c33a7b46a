package storage

import (
	"context"

	"github.com/iudanet/causaltree/internal/models"
)

// GrantStorage defines interface for channel access rules
type GrantStorage interface {
	// SaveGrant creates or replaces grant identified by (device, pattern)
	SaveGrant(ctx context.Context, grant *models.Grant) error

	// ListGrants retrieves all grants of a device
	// Returns empty slice if no grants found
	ListGrants(ctx context.Context, deviceID string) ([]models.Grant, error)

	// DeleteGrant removes grant
	// Returns ErrGrantNotFound if grant doesn't exist
	DeleteGrant(ctx context.Context, deviceID, pattern string) error
}
