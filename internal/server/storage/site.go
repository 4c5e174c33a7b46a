package storage

import (
	"context"

	"github.com/iudanet/causaltree/internal/weave"
)

// ServerDeviceID is the owner of the server's own site
const ServerDeviceID = "server"

// SiteStorage allocates site identifiers. A site is never reused,
// so atoms of different replicas never share (site, seq).
type SiteStorage interface {
	// AllocateSite returns a fresh site owned by the device
	AllocateSite(ctx context.Context, deviceID string) (weave.SiteID, error)

	// SiteOwner returns the device that owns the site
	// Returns ErrSiteNotFound if site was never allocated
	SiteOwner(ctx context.Context, site weave.SiteID) (string, error)

	// DeviceSites returns all sites of the device in allocation order
	DeviceSites(ctx context.Context, deviceID string) ([]weave.SiteID, error)
}
