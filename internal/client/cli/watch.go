package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/causaltree/internal/channel"
)

func (c *Cli) runWatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: watch TYPE/ID", ErrUsage)
	}

	info, err := parseChannel(args[0])
	if err != nil {
		return err
	}
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	c.io.Printf("Watching %s, press Ctrl+C to stop.\n", info)

	err = c.sync.Watch(ctx, token, info, func(u channel.Update) {
		state, err := json.Marshal(u.State)
		if err != nil {
			return
		}
		c.io.Printf("+%d atom(s): %s\n", len(u.Atoms), state)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
