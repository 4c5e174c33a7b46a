package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runLog(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: log TYPE/ID", ErrUsage)
	}

	info, err := parseChannel(args[0])
	if err != nil {
		return err
	}

	ch, err := c.local.Open(ctx, info)
	if err != nil {
		return err
	}

	atoms := ch.Atoms()
	if len(atoms) == 0 {
		c.io.Printf("%s has no atoms.\n", info)
		return nil
	}

	c.io.Printf("=== %s: %d atom(s) in weave order ===\n", info, len(atoms))
	for _, atom := range atoms {
		parent := "root"
		if atom.Parent != nil {
			parent = atom.Parent.String()
		}
		c.io.Printf("%-16s <- %-16s %-7s %s\n", atom.ID, parent, atom.Payload.Kind, atom.Payload.Data)
	}
	return nil
}
