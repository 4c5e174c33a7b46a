package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	httpClient "github.com/iudanet/causaltree/internal/client/api"
	"github.com/iudanet/causaltree/internal/client/iocli"
	"github.com/iudanet/causaltree/internal/client/replica"
	"github.com/iudanet/causaltree/internal/client/storage"
	"github.com/iudanet/causaltree/internal/client/sync"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/validation"
)

// ErrUsage неверные аргументы команды
var ErrUsage = errors.New("invalid usage")

// Cli выполняет команды клиента над локальной репликой
type Cli struct {
	io        iocli.IO
	apiClient httpClient.ClientAPI
	auth      storage.AuthStorage
	local     *replica.Service
	sync      *sync.Service
	serverURL string
}

// New создает CLI
func New(io iocli.IO, apiClient httpClient.ClientAPI, auth storage.AuthStorage, local *replica.Service, syncService *sync.Service, serverURL string) *Cli {
	return &Cli{
		io:        io,
		apiClient: apiClient,
		auth:      auth,
		local:     local,
		sync:      syncService,
		serverURL: serverURL,
	}
}

// token возвращает сохраненный токен устройства
func (c *Cli) token(ctx context.Context) (string, error) {
	authData, err := c.auth.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return "", fmt.Errorf("not authenticated. Please run 'causaltree login' first")
		}
		return "", fmt.Errorf("failed to get auth data: %w", err)
	}
	return authData.Token, nil
}

// parseChannel разбирает аргумент вида type/id
func parseChannel(arg string) (models.ChannelInfo, error) {
	typ, id, ok := strings.Cut(arg, "/")
	if !ok {
		return models.ChannelInfo{}, fmt.Errorf("%w: channel must be TYPE/ID, got %q", ErrUsage, arg)
	}
	info := models.ChannelInfo{Type: typ, ID: id}
	if err := validation.ValidateChannel(info); err != nil {
		return models.ChannelInfo{}, err
	}
	return info, nil
}

// parseValue принимает JSON; все остальное считается строкой
func parseValue(arg string) json.RawMessage {
	// Валидный JSON передаем как есть
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	quoted, _ := json.Marshal(arg)
	return quoted
}

// PrintUsage печатает справку
func PrintUsage(io iocli.IO) {
	_ = usage.Execute(io, nil)
}

var usage = template.Must(template.New("usage").Parse(usageTemplate))
