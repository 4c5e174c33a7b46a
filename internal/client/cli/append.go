package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/stores"
	"github.com/iudanet/causaltree/internal/weave"
)

// ensureSite получает site с сервера, если реплика еще ни разу не синхронизировалась
func (c *Cli) ensureSite(ctx context.Context, info models.ChannelInfo) error {
	_, ok, err := c.local.Site(ctx)
	if err != nil || ok {
		return err
	}

	c.io.Println("No site assigned yet, synchronizing first...")
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	if _, err := c.sync.Sync(ctx, token, info); err != nil {
		return fmt.Errorf("failed to obtain site: %w", err)
	}
	return nil
}

func (c *Cli) runAppend(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: append TYPE/ID ARGS...", ErrUsage)
	}

	info, err := parseChannel(args[0])
	if err != nil {
		return err
	}
	if err := c.ensureSite(ctx, info); err != nil {
		return err
	}

	// Аргументы зависят от типа канала
	var atom weave.Atom
	switch info.Type {
	case stores.LWWMapTypeName:
		if len(args) != 3 {
			return fmt.Errorf("%w: append lwwmap/ID KEY VALUE", ErrUsage)
		}
		atom, err = c.local.Set(ctx, info, args[1], parseValue(args[2]))
	case stores.ListTypeName:
		index := -1
		switch len(args) {
		case 2:
		case 3:
			index, err = strconv.Atoi(args[2])
			if err != nil || index < 0 {
				return fmt.Errorf("%w: INDEX must be a non-negative integer", ErrUsage)
			}
		default:
			return fmt.Errorf("%w: append list/ID VALUE [INDEX]", ErrUsage)
		}
		atom, err = c.local.Insert(ctx, info, index, parseValue(args[1]))
	default:
		return fmt.Errorf("append to %s is not supported", info.Type)
	}
	if err != nil {
		if errors.Is(err, weave.ErrInvalidPayload) {
			return fmt.Errorf("rejected by channel type: %w", err)
		}
		return fmt.Errorf("failed to append: %w", err)
	}

	c.io.Printf("✓ Appended %s to %s\n", atom.ID, info)
	c.io.Println("Run 'causaltree sync' to send it to the server.")
	return nil
}
