package cli

import (
	"context"
	"fmt"
	"net/http"

	httpClient "github.com/iudanet/causaltree/internal/client/api"
	"github.com/iudanet/causaltree/internal/models"
)

func (c *Cli) runChannels(ctx context.Context) error {
	local, err := c.local.Channels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list local replicas: %w", err)
	}
	replicated := make(map[models.ChannelInfo]bool, len(local))
	for _, info := range local {
		replicated[info] = true
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	resp, err := c.apiClient.ListChannels(ctx, token)
	if err != nil {
		if httpClient.IsStatus(err, http.StatusNotImplemented) {
			return fmt.Errorf("the server does not publish its channel list")
		}
		return err
	}

	c.io.Println("=== Channels ===")
	c.io.Println()

	if len(resp.Channels) == 0 {
		c.io.Println("No channels available.")
		return nil
	}

	for _, ref := range resp.Channels {
		info := models.ChannelInfo{Type: ref.Type, ID: ref.ID}
		mark := " "
		if replicated[info] {
			mark = "*"
		}
		c.io.Printf("%s %s\n", mark, info)
	}
	c.io.Println()
	c.io.Println("* replicated locally")
	return nil
}
