package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/causaltree/internal/client/storage"
)

func (c *Cli) runLogout(ctx context.Context) error {
	c.io.Println("=== Logout ===")

	// Удаляем токен; реплики остаются
	if err := c.auth.DeleteAuth(ctx); err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			c.io.Println("Not logged in.")
			return nil
		}
		return fmt.Errorf("logout failed: %w", err)
	}

	c.io.Println("✓ Logout successful!")
	c.io.Println("Local replicas are kept; run 'causaltree login' to sync them again.")

	return nil
}
