package storage

import (
	"context"

	"github.com/iudanet/causaltree/internal/weave"
)

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines interface for storing replica-wide metadata
type MetadataStorage interface {
	// SaveSite saves the site id assigned to this replica by the server
	SaveSite(ctx context.Context, site weave.SiteID) error

	// GetSite retrieves the site id of this replica
	// Returns ErrSiteNotFound before the first successful sync
	GetSite(ctx context.Context) (weave.SiteID, error)
}
