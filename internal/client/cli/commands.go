package cli

import (
	"context"
	"fmt"
)

// Run выполняет команду; args не содержат имени команды
func (c *Cli) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return c.runLogin(ctx, args)
	case "logout":
		return c.runLogout(ctx)
	case "status":
		return c.runStatus(ctx)
	case "channels":
		return c.runChannels(ctx)
	case "sync":
		return c.runSync(ctx, args)
	case "append":
		return c.runAppend(ctx, args)
	case "delete":
		return c.runDelete(ctx, args)
	case "state":
		return c.runState(ctx, args)
	case "log":
		return c.runLog(ctx, args)
	case "watch":
		return c.runWatch(ctx, args)
	case "help":
		PrintUsage(c.io)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, command)
	}
}
