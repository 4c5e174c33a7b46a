// Package session реализует сессии репликации: загрузку канала через авторизатор,
// обмен версиями и потоковую передачу атомов между пиром и каналом.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/iudanet/causaltree/internal/authz"
	"github.com/iudanet/causaltree/internal/broadcast"
	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/metrics"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

//go:generate moq -out weavestore_mock.go . WeaveStore

// WeaveStore хранилище атомов каналов
type WeaveStore interface {
	LoadWeave(ctx context.Context, info models.ChannelInfo) ([]weave.Atom, error)
	SaveAtoms(ctx context.Context, info models.ChannelInfo, atoms []weave.Atom) error
}

// SiteAllocator выдает идентификаторы узлов пирам, пришедшим без site.
// SiteOwner возвращает ошибку, совместимую с weave.ErrUnknownSite, для невыданного узла.
type SiteAllocator interface {
	AllocateSite(ctx context.Context, deviceID string) (weave.SiteID, error)
	SiteOwner(ctx context.Context, site weave.SiteID) (string, error)
}

// Hub держит загруженные каналы и открывает для них сессии.
// Канал загружается один раз, даже если его одновременно запросили несколько сессий.
type Hub struct {
	registry    *channel.Registry
	auth        authz.Authorizer
	store       WeaveStore
	sites       SiteAllocator
	broadcaster broadcast.Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
	channels    map[string]*channel.Channel
	loads       singleflight.Group
	instance    string
	budget      int
	loadTimeout time.Duration
	localSite   weave.SiteID
	mu          sync.Mutex
}

// HubOption настраивает Hub
type HubOption func(*Hub)

// WithWeaveStore включает сохранение и загрузку атомов
func WithWeaveStore(store WeaveStore) HubOption {
	return func(h *Hub) { h.store = store }
}

// WithSiteAllocator задает источник идентификаторов узлов
func WithSiteAllocator(sites SiteAllocator) HubOption {
	return func(h *Hub) { h.sites = sites }
}

// WithBroadcaster включает рассылку атомов другим экземплярам сервера
func WithBroadcaster(b broadcast.Broadcaster) HubOption {
	return func(h *Hub) { h.broadcaster = b }
}

// WithMetrics включает метрики
func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithLocalSite задает узел сервера, от имени которого создаются атомы тонких клиентов
func WithLocalSite(site weave.SiteID) HubOption {
	return func(h *Hub) { h.localSite = site }
}

// DefaultLoadTimeout ограничивает загрузку канала из хранилища
const DefaultLoadTimeout = 30 * time.Second

// WithLoadTimeout задает предельное время загрузки канала
func WithLoadTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.loadTimeout = d
		}
	}
}

// WithRetryBudget задает бюджет ожидания недостающих родителей для каналов
func WithRetryBudget(n int) HubOption {
	return func(h *Hub) { h.budget = n }
}

// NewHub создает Hub
func NewHub(registry *channel.Registry, auth authz.Authorizer, logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		registry:    registry,
		auth:        auth,
		logger:      logger,
		channels:    make(map[string]*channel.Channel),
		instance:    uuid.New().String(),
		budget:      weave.DefaultRetryBudget,
		loadTimeout: DefaultLoadTimeout,
		sites:       newMemorySites(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LocalSite возвращает узел сервера
func (h *Hub) LocalSite() weave.SiteID {
	return h.localSite
}

// Loaded возвращает уже загруженный канал, не загружая его
func (h *Hub) Loaded(info models.ChannelInfo) (*channel.Channel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[info.Key()]
	return ch, ok
}

// Visible оставляет каналы, которые устройство может загрузить.
// Отказ авторизатора скрывает канал; любая другая ошибка прерывает проверку.
func (h *Hub) Visible(ctx context.Context, device models.Device, infos []models.ChannelInfo) ([]models.ChannelInfo, error) {
	visible := make([]models.ChannelInfo, 0, len(infos))
	for _, info := range infos {
		err := h.auth.IsAllowedToLoad(ctx, device, info)
		if err == nil {
			visible = append(visible, info)
			continue
		}
		if !errors.Is(err, authz.ErrUnauthorized) {
			return nil, err
		}
	}
	return visible, nil
}

// channel возвращает канал из кэша или загружает его из хранилища
func (h *Hub) channel(ctx context.Context, info models.ChannelInfo) (*channel.Channel, error) {
	if ch, ok := h.Loaded(info); ok {
		return ch, nil
	}

	v, err, _ := h.loads.Do(info.Key(), func() (any, error) {
		if ch, ok := h.Loaded(info); ok {
			return ch, nil
		}

		// загрузку ждут все сессии канала: отмена запроса, начавшего ее, не должна
		// обрывать остальных
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.loadTimeout)
		defer cancel()

		ch, err := h.load(lctx, info)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		h.channels[info.Key()] = ch
		h.mu.Unlock()
		h.metrics.ChannelLoaded()

		return ch, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*channel.Channel), nil
}

func (h *Hub) load(ctx context.Context, info models.ChannelInfo) (*channel.Channel, error) {
	opts := []weave.Option{weave.WithRetryBudget(h.budget)}
	if h.localSite != 0 {
		opts = append(opts, weave.WithSite(h.localSite))
	}

	ch, err := channel.Open(h.registry, info, opts...)
	if err != nil {
		return nil, err
	}

	if h.store == nil {
		return ch, nil
	}

	atoms, err := h.store.LoadWeave(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel %s: %w", info, err)
	}

	if err := ch.Load(atoms); err != nil {
		return nil, fmt.Errorf("failed to restore channel %s: %w", info, err)
	}

	h.logger.Debug("Channel loaded",
		"channel", info.Key(),
		"atoms", len(atoms))

	return ch, nil
}

// merge применяет атомы к каналу и сохраняет примененные
func (h *Hub) merge(ctx context.Context, ch *channel.Channel, atoms []weave.Atom) (*weave.MergeResult, error) {
	started := time.Now()
	res := ch.Merge(atoms)
	h.metrics.ObserveMerge(ch.Info().Type, res, time.Since(started))

	if err := h.commit(ctx, ch.Info(), res.Applied); err != nil {
		return res, err
	}
	return res, nil
}

// commit сохраняет атомы и рассылает их другим экземплярам
func (h *Hub) commit(ctx context.Context, info models.ChannelInfo, applied []weave.Atom) error {
	if len(applied) == 0 {
		return nil
	}

	if h.store != nil {
		if err := h.store.SaveAtoms(ctx, info, applied); err != nil {
			return fmt.Errorf("failed to save atoms: %w", err)
		}
	}

	if h.broadcaster != nil {
		msg := broadcast.Message{Origin: h.instance, Channel: info, Atoms: applied}
		if err := h.broadcaster.Publish(ctx, msg); err != nil {
			// атомы уже сохранены: другие экземпляры получат их при следующей синхронизации
			h.logger.Warn("Failed to broadcast atoms",
				"channel", info.Key(),
				"error", err)
		}
	}

	return nil
}

// Run принимает атомы от других экземпляров до отмены ctx.
// Атомы применяются только к уже загруженным каналам: остальные прочитают их из хранилища.
func (h *Hub) Run(ctx context.Context) error {
	if h.broadcaster == nil {
		<-ctx.Done()
		return nil
	}

	err := h.broadcaster.Listen(ctx, func(msg broadcast.Message) {
		if msg.Origin == h.instance {
			return
		}

		ch, ok := h.Loaded(msg.Channel)
		if !ok {
			return
		}

		res := ch.Merge(msg.Atoms)
		if len(res.Deferred()) > 0 && h.store != nil {
			// пропущенная рассылка: недостающие причины уже лежат в общем хранилище
			h.catchUp(ctx, ch)
		}
		if n := res.Count(weave.OutcomeRejected); n > 0 {
			h.logger.Warn("Rejected broadcast atoms",
				"channel", msg.Channel.Key(),
				"origin", msg.Origin,
				"rejected", n)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Hub) catchUp(ctx context.Context, ch *channel.Channel) {
	atoms, err := h.store.LoadWeave(ctx, ch.Info())
	if err != nil {
		h.logger.Warn("Failed to catch up channel",
			"channel", ch.Info().Key(),
			"error", err)
		return
	}
	ch.Merge(atoms)
}

// memorySites выдает узлы без хранилища (тесты, режим без БД)
type memorySites struct {
	owners map[weave.SiteID]string
	next   weave.SiteID
	mu     sync.Mutex
}

func newMemorySites() *memorySites {
	// 1 зарезервирован за сервером
	return &memorySites{owners: make(map[weave.SiteID]string), next: 2}
}

func (m *memorySites) AllocateSite(_ context.Context, deviceID string) (weave.SiteID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	site := m.next
	m.next++
	m.owners[site] = deviceID
	return site, nil
}

func (m *memorySites) SiteOwner(_ context.Context, site weave.SiteID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[site]
	if !ok {
		return "", weave.ErrUnknownSite
	}
	return owner, nil
}
