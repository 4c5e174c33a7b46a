package storage

import (
	"context"
	"time"
)

// AuthStorage defines interface for storing the device token on client
type AuthStorage interface {
	// SaveAuth stores authentication data, replacing the previous one
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth retrieves stored authentication data
	// Returns ErrAuthNotFound if no auth data exists
	GetAuth(ctx context.Context) (*AuthData, error)

	// DeleteAuth removes stored authentication data (logout)
	DeleteAuth(ctx context.Context) error

	// IsAuthenticated checks if a token exists and has not expired
	IsAuthenticated(ctx context.Context) (bool, error)
}

// AuthData bearer token устройства, выданный оператором сервера (-issue-token)
type AuthData struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
	DeviceID  string `json:"device_id,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // 0: без срока действия
}

// Expired сообщает, истек ли токен к моменту now
func (a *AuthData) Expired(now time.Time) bool {
	return a.ExpiresAt != 0 && now.Unix() >= a.ExpiresAt
}
