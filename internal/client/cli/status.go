package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/causaltree/internal/client/storage"
	"github.com/iudanet/causaltree/internal/client/sync"
	"github.com/iudanet/causaltree/internal/weave"
)

type statusData struct {
	Auth     *storage.AuthData
	Server   string
	Channels []sync.Status
	Site     weave.SiteID
}

func (c *Cli) runStatus(ctx context.Context) error {
	data := statusData{Server: c.serverURL}

	// Проверяем наличие сохраненной сессии
	authData, err := c.auth.GetAuth(ctx)
	switch {
	case errors.Is(err, storage.ErrAuthNotFound):
	case err != nil:
		return fmt.Errorf("failed to get auth data: %w", err)
	default:
		data.Auth = authData
	}

	// Получаем реплики и количество атомов, ожидающих синхронизации
	channels, err := c.sync.Statuses(ctx)
	if err != nil {
		return fmt.Errorf("failed to read replicas: %w", err)
	}
	data.Channels = channels

	site, ok, err := c.local.Site(ctx)
	if err != nil {
		return err
	}
	if ok {
		data.Site = site
	}

	if err := statusView.Execute(c.io, data); err != nil {
		return fmt.Errorf("failed to render status: %w", err)
	}

	if authData != nil && authData.Expired(time.Now()) {
		c.io.Println("⚠️  Token has expired. Ask the server operator for a new one.")
	}
	for _, ch := range channels {
		if ch.Pending > 0 {
			c.io.Println("Run 'causaltree sync' to push pending atoms.")
			break
		}
	}

	return nil
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).Format(time.RFC3339)
}
