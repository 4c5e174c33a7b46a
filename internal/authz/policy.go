package authz

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/models"
)

//go:generate moq -out grantstore_mock.go . GrantStore

// GrantStore источник правил доступа
type GrantStore interface {
	// ListGrants возвращает все правила устройства. Пустой список: доступа нет.
	ListGrants(ctx context.Context, deviceID string) ([]models.Grant, error)
}

// Policy авторизатор на основе правил доступа (Grant) устройства.
// Правило применяется, если его Pattern (glob) совпадает с ключом канала "type/id".
type Policy struct {
	grants         GrantStore
	logger         *slog.Logger
	maxPayload     int
	requireOwnSite bool
}

// PolicyOption настраивает Policy
type PolicyOption func(*Policy)

// WithMaxPayloadBytes ограничивает размер данных атома. 0: без ограничения.
func WithMaxPayloadBytes(n int) PolicyOption {
	return func(p *Policy) {
		p.maxPayload = n
	}
}

// WithRequireOwnSite разрешает устройству отправлять только атомы своего узла
func WithRequireOwnSite() PolicyOption {
	return func(p *Policy) {
		p.requireOwnSite = true
	}
}

// NewPolicy создает авторизатор на основе правил
func NewPolicy(grants GrantStore, logger *slog.Logger, opts ...PolicyOption) *Policy {
	p := &Policy{grants: grants, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsAllowedToLoad требует правило с флагом Load
func (p *Policy) IsAllowedToLoad(ctx context.Context, device models.Device, info models.ChannelInfo) error {
	return p.require(ctx, GateLoad, device, info, func(g models.Grant) bool { return g.Load })
}

// IsAllowedAccess требует правило с флагом Access
func (p *Policy) IsAllowedAccess(ctx context.Context, device models.Device, loaded *channel.Channel) error {
	return p.require(ctx, GateAccess, device, loaded.Info(), func(g models.Grant) bool { return g.Access })
}

// CanProcessEvent требует правило с флагом Write и проверяет сам атом
func (p *Policy) CanProcessEvent(ctx context.Context, device models.Device, loaded *channel.Channel, event Event) error {
	info := loaded.Info()

	if p.requireOwnSite && event.Atom.ID.Site != event.Site {
		return Deny(GateEvent, device, info,
			fmt.Sprintf("atom %s is not authored by site %d", event.Atom.ID, event.Site))
	}

	if p.maxPayload > 0 && len(event.Atom.Payload.Data) > p.maxPayload {
		return Deny(GateEvent, device, info,
			fmt.Sprintf("payload of %d bytes exceeds limit %d", len(event.Atom.Payload.Data), p.maxPayload))
	}

	return p.require(ctx, GateEvent, device, info, func(g models.Grant) bool { return g.Write })
}

func (p *Policy) require(
	ctx context.Context,
	gate Gate,
	device models.Device,
	info models.ChannelInfo,
	allows func(models.Grant) bool,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	grants, err := p.grants.ListGrants(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("failed to list grants: %w", err)
	}

	key := info.Key()
	for _, g := range grants {
		ok, err := path.Match(g.Pattern, key)
		if err != nil {
			p.logger.Warn("Invalid grant pattern",
				"device_id", device.ID,
				"pattern", g.Pattern,
				"error", err)
			continue
		}
		if ok && allows(g) {
			return nil
		}
	}

	p.logger.Debug("Access denied",
		"gate", gate,
		"device_id", device.ID,
		"channel", key)

	return Deny(gate, device, info, "no matching grant")
}
