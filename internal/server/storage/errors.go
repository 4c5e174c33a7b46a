package storage

import (
	"errors"
	"fmt"

	"github.com/iudanet/causaltree/internal/weave"
)

// Common storage errors
var (
	// ErrDeviceNotFound indicates that device was not found in storage
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceAlreadyExists indicates that device with this ID already exists
	ErrDeviceAlreadyExists = errors.New("device already exists")

	// ErrSiteNotFound indicates that site was never allocated
	// Wraps weave.ErrUnknownSite so that callers outside storage can match it
	ErrSiteNotFound = fmt.Errorf("site not found: %w", weave.ErrUnknownSite)

	// ErrGrantNotFound indicates that grant was not found
	ErrGrantNotFound = errors.New("grant not found")
)
