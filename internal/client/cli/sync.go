package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/causaltree/internal/models"
)

func (c *Cli) runSync(ctx context.Context, args []string) error {
	// Проверяем авторизацию
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	// Без аргумента синхронизируем все локальные реплики
	var infos []models.ChannelInfo
	switch len(args) {
	case 0:
		infos, err = c.local.Channels(ctx)
		if err != nil {
			return fmt.Errorf("failed to list local replicas: %w", err)
		}
		if len(infos) == 0 {
			c.io.Println("No local replicas. Run 'causaltree sync TYPE/ID' to fetch a channel.")
			return nil
		}
	case 1:
		info, err := parseChannel(args[0])
		if err != nil {
			return err
		}
		infos = []models.ChannelInfo{info}
	default:
		return fmt.Errorf("%w: sync [TYPE/ID]", ErrUsage)
	}

	c.io.Println("=== Synchronization ===")

	for _, info := range infos {
		// Выполняем синхронизацию
		result, err := c.sync.Sync(ctx, token, info)
		if err != nil {
			return fmt.Errorf("synchronization of %s failed: %w", info, err)
		}

		c.io.Println()
		c.io.Printf("%s\n", info)
		c.io.Printf("  Pushed to server:   %d atoms\n", result.Pushed)
		c.io.Printf("  Pulled from server: %d atoms\n", result.Pulled)
		c.io.Printf("  Merged locally:     %d atoms\n", result.Merged)
		if result.Deferred > 0 {
			c.io.Printf("  Waiting for causes: %d atoms\n", result.Deferred)
		}
		if result.Dropped > 0 {
			c.io.Printf("  Not applied locally: %d server atoms\n", result.Dropped)
		}
		for _, r := range result.Rejected {
			c.io.Printf("  Rejected %s: %v\n", r.ID, r.Err)
		}
		if result.Converged {
			c.io.Printf("  ✓ In sync (fingerprint %.12s)\n", result.Fingerprint)
		}
	}

	return nil
}
