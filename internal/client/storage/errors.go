package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no authentication data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrSiteNotFound indicates that the server has not assigned a site to this replica yet
	ErrSiteNotFound = errors.New("site not assigned")

	// ErrChannelNotFound indicates that the channel has no local replica
	ErrChannelNotFound = errors.New("channel not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
