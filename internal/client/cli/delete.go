package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	// Проверяем наличие канала и ключа
	if len(args) != 2 {
		return fmt.Errorf("%w: delete TYPE/ID KEY|INDEX", ErrUsage)
	}

	info, err := parseChannel(args[0])
	if err != nil {
		return err
	}
	// Без site атом создать нельзя
	if err := c.ensureSite(ctx, info); err != nil {
		return err
	}

	// Удаляем элемент (tombstone атомом)
	atom, err := c.local.Remove(ctx, info, args[1])
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}

	c.io.Printf("✓ Deleted %s (tombstone %s)\n", args[1], atom.ID)
	return nil
}
