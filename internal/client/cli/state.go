package cli

import (
	"context"
	"encoding/json"
	"fmt"
)

type stateData struct {
	Channel     string
	Source      string
	Fingerprint string
	State       string
	Atoms       int
}

func (c *Cli) runState(ctx context.Context, args []string) error {
	remote := false
	var target string
	for _, arg := range args {
		switch {
		case arg == "--remote":
			remote = true
		case target == "":
			target = arg
		default:
			return fmt.Errorf("%w: state TYPE/ID [--remote]", ErrUsage)
		}
	}
	if target == "" {
		return fmt.Errorf("%w: state TYPE/ID [--remote]", ErrUsage)
	}

	info, err := parseChannel(target)
	if err != nil {
		return err
	}

	data := stateData{Channel: info.Key(), Source: "local"}
	var state any

	if remote {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}
		resp, err := c.apiClient.State(ctx, token, info)
		if err != nil {
			return err
		}
		data.Source = "server"
		data.Atoms = resp.Atoms
		data.Fingerprint = resp.Fingerprint
		state = resp.State
	} else {
		ch, err := c.local.Open(ctx, info)
		if err != nil {
			return err
		}
		data.Atoms = ch.Len()
		data.Fingerprint = ch.Fingerprint()
		state = ch.State()
	}

	pretty, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render state: %w", err)
	}
	data.State = string(pretty)

	return stateView.Execute(c.io, data)
}
