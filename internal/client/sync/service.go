package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/causaltree/internal/channel"
	httpClient "github.com/iudanet/causaltree/internal/client/api"
	"github.com/iudanet/causaltree/internal/client/replica"
	"github.com/iudanet/causaltree/internal/client/storage"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
	"github.com/iudanet/causaltree/internal/wire"
	"github.com/iudanet/causaltree/pkg/api"
)

// ErrSiteMismatch сервер назначил реплике другой узел
var ErrSiteMismatch = errors.New("server assigned a different site")

// Service синхронизирует локальные реплики каналов с сервером
type Service struct {
	apiClient httpClient.ClientAPI
	replicas  storage.ReplicaStorage
	meta      storage.MetadataStorage
	local     *replica.Service
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new sync service
func NewService(apiClient httpClient.ClientAPI, replicas storage.ReplicaStorage, meta storage.MetadataStorage, local *replica.Service, logger *slog.Logger) *Service {
	return &Service{
		apiClient: apiClient,
		replicas:  replicas,
		meta:      meta,
		local:     local,
		logger:    logger,
		now:       time.Now,
	}
}

// SyncResult contains sync operation results
type SyncResult struct {
	Fingerprint string
	Version     weave.Version
	Rejected    []weave.AtomResult // атомы клиента, отклоненные сервером
	Pushed      int                // отправлено атомов на сервер
	Pulled      int                // получено атомов с сервера
	Merged      int                // применено локально
	Deferred    int                // ждут причин на сервере
	Dropped     int                // атомы сервера без родителя: придут снова со следующей синхронизацией
	Site        weave.SiteID
	Converged   bool // версии реплики и сервера совпали
}

// Sync выполняет один обмен с сервером:
// 1. отправляет атомы, не покрытые последней известной версией сервера, и версию реплики
// 2. сливает атомы, которых у реплики не было
// 3. запоминает версию сервера для следующей синхронизации
func (s *Service) Sync(ctx context.Context, token string, info models.ChannelInfo) (*SyncResult, error) {
	s.logger.Info("Starting synchronization", "channel", info.Key())

	// Открываем локальную реплику канала
	ch, err := s.local.Open(ctx, info)
	if err != nil {
		return nil, err
	}

	// Получаем версию сервера с последней синхронизации
	state, err := s.replicas.GetSyncState(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	// Собираем атомы, которых сервер еще не видел
	outgoing := ch.DiffSince(state.ServerVersion)
	req := api.SyncRequest{
		Version: wire.FromVersion(ch.Version()),
		Atoms:   wire.FromAtoms(outgoing),
	}
	if own := ch.SiteInfo(); own.HasSite() {
		site := uint32(*own.Site)
		req.Site = &site
	}

	s.logger.Info("Collected local changes", "channel", info.Key(), "count", len(outgoing))

	// Отправляем запрос на сервер
	resp, err := s.apiClient.Sync(ctx, token, info, req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}

	// Первая синхронизация: запоминаем выданный узел
	site, err := s.adoptSite(ctx, ch, weave.SiteID(resp.Site))
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		Site:   site,
		Pushed: len(outgoing),
		Pulled: len(resp.Atoms),
	}

	// Разбираем исходы наших атомов на сервере
	for _, r := range wire.ToResults(resp.Results) {
		switch r.Outcome {
		case weave.OutcomeRejected:
			s.logger.Warn("Atom rejected by server", "id", r.ID.String(), "error", r.Err)
			result.Rejected = append(result.Rejected, r)
		case weave.OutcomeDeferred:
			result.Deferred++
		}
	}

	// Применяем атомы с сервера
	merged, err := s.merge(ctx, ch, wire.ToAtoms(resp.Atoms))
	if err != nil {
		return nil, err
	}
	result.Merged = merged.Count(weave.OutcomeApplied)
	result.Dropped = merged.Count(weave.OutcomeRejected)

	serverVersion := wire.ToVersion(resp.Version)
	result.Version = ch.Version()
	result.Fingerprint = ch.Fingerprint()
	result.Converged = result.Version.Compare(serverVersion) == weave.Equal

	// Сохраняем версию сервера для следующей синхронизации
	if err := s.replicas.SaveSyncState(ctx, info, &storage.SyncState{
		ServerVersion: serverVersion,
		LastSync:      s.now().Unix(),
		Fingerprint:   result.Fingerprint,
	}); err != nil {
		return nil, fmt.Errorf("failed to save sync state: %w", err)
	}

	s.logger.Info("Synchronization completed",
		"channel", info.Key(),
		"site", site,
		"pushed", result.Pushed,
		"pulled", result.Pulled,
		"merged", result.Merged,
		"deferred", result.Deferred,
		"dropped", result.Dropped,
		"rejected", len(result.Rejected))

	return result, nil
}

// adoptSite сохраняет узел, выданный сервером при первой синхронизации
func (s *Service) adoptSite(ctx context.Context, ch *channel.Channel, assigned weave.SiteID) (weave.SiteID, error) {
	// Узел уже есть: сервер обязан подтвердить тот же
	if own := ch.SiteInfo(); own.HasSite() {
		if *own.Site != assigned {
			return 0, fmt.Errorf("%w: have %d, got %d", ErrSiteMismatch, *own.Site, assigned)
		}
		return assigned, nil
	}

	if err := s.meta.SaveSite(ctx, assigned); err != nil {
		return 0, fmt.Errorf("failed to save site: %w", err)
	}
	if err := ch.SetSite(assigned); err != nil {
		return 0, err
	}
	s.logger.Info("Site assigned", "site", assigned)
	return assigned, nil
}

// merge сливает атомы сервера и сохраняет примененные
func (s *Service) merge(ctx context.Context, ch *channel.Channel, atoms []weave.Atom) (*weave.MergeResult, error) {
	res := ch.Merge(atoms)

	// Сохраняем только примененные атомы
	if err := s.replicas.SaveAtoms(ctx, ch.Info(), res.Applied); err != nil {
		return nil, fmt.Errorf("failed to save merged atoms: %w", err)
	}

	for _, r := range res.Rejected() {
		s.logger.Warn("Server atom rejected", "id", r.ID.String(), "error", r.Err)
	}
	return res, nil
}

// Pending возвращает количество локальных атомов, которых сервер еще не видел
func (s *Service) Pending(ctx context.Context, info models.ChannelInfo) (int, error) {
	ch, err := s.local.Open(ctx, info)
	if err != nil {
		return 0, err
	}

	state, err := s.replicas.GetSyncState(ctx, info)
	if err != nil {
		return 0, fmt.Errorf("failed to get sync state: %w", err)
	}

	return len(ch.DiffSince(state.ServerVersion)), nil
}

// Status состояние локальной реплики канала
type Status struct {
	LastSync time.Time // нулевое значение: канал не синхронизировался
	Info     models.ChannelInfo
	Atoms    int
	Pending  int
}

// Statuses возвращает состояние всех локальных реплик
func (s *Service) Statuses(ctx context.Context) ([]Status, error) {
	infos, err := s.local.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	out := make([]Status, 0, len(infos))
	for _, info := range infos {
		ch, err := s.local.Open(ctx, info)
		if err != nil {
			return nil, err
		}
		state, err := s.replicas.GetSyncState(ctx, info)
		if err != nil {
			return nil, fmt.Errorf("failed to get sync state: %w", err)
		}

		st := Status{
			Info:    info,
			Atoms:   ch.Len(),
			Pending: len(ch.DiffSince(state.ServerVersion)),
		}
		if state.LastSync != 0 {
			st.LastSync = time.Unix(state.LastSync, 0)
		}
		out = append(out, st)
	}
	return out, nil
}

// Watch держит потоковую сессию канала и сливает атомы по мере их появления на сервере.
// onUpdate вызывается после каждого примененного пакета. Возвращается при отмене ctx
// или разрыве соединения.
func (s *Service) Watch(ctx context.Context, token string, info models.ChannelInfo, onUpdate func(channel.Update)) error {
	ch, err := s.local.Open(ctx, info)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		unsubscribe := ch.Subscribe(onUpdate)
		defer unsubscribe()
	}

	conn, err := s.apiClient.Stream(ctx, token, info)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	// Представляемся серверу своей версией и узлом
	hello := api.Frame{Type: api.FrameHello, Version: wire.FromVersion(ch.Version())}
	if own := ch.SiteInfo(); own.HasSite() {
		site := uint32(*own.Site)
		hello.Site = &site
	}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	for {
		var frame api.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ctx.Err()
			}
			return fmt.Errorf("stream read failed: %w", err)
		}

		if err := s.handleFrame(ctx, ch, conn, frame); err != nil {
			return err
		}
	}
}

func (s *Service) handleFrame(ctx context.Context, ch *channel.Channel, conn *websocket.Conn, frame api.Frame) error {
	info := ch.Info()

	switch frame.Type {
	case api.FrameWelcome:
		if frame.Site == nil {
			return fmt.Errorf("welcome without site")
		}
		if _, err := s.adoptSite(ctx, ch, weave.SiteID(*frame.Site)); err != nil {
			return err
		}
		// локальные атомы, которых сервер не видел
		outgoing := ch.DiffSince(wire.ToVersion(frame.Version))
		if len(outgoing) == 0 {
			return nil
		}
		s.logger.Info("Pushing local changes", "channel", info.Key(), "count", len(outgoing))
		return conn.WriteJSON(api.Frame{Type: api.FrameAtoms, Atoms: wire.FromAtoms(outgoing)})

	case api.FrameAtoms:
		res, err := s.merge(ctx, ch, wire.ToAtoms(frame.Atoms))
		if err != nil {
			return err
		}
		s.logger.Debug("Atoms received", "channel", info.Key(),
			"received", len(frame.Atoms),
			"applied", res.Count(weave.OutcomeApplied))

		if frame.Version != nil {
			if err := s.replicas.SaveSyncState(ctx, info, &storage.SyncState{
				ServerVersion: wire.ToVersion(frame.Version),
				LastSync:      s.now().Unix(),
				Fingerprint:   ch.Fingerprint(),
			}); err != nil {
				return fmt.Errorf("failed to save sync state: %w", err)
			}
		}
		return conn.WriteJSON(api.Frame{Type: api.FrameAck, Version: wire.FromVersion(ch.Version())})

	case api.FrameResult:
		for _, r := range wire.ToResults(frame.Results) {
			if r.Outcome == weave.OutcomeRejected {
				s.logger.Warn("Atom rejected by server", "id", r.ID.String(), "error", r.Err)
			}
		}
		return nil

	case api.FrameError:
		s.logger.Warn("Server reported error", "channel", info.Key(), "error", frame.Error)
		return nil

	default:
		s.logger.Debug("Ignoring frame", "type", frame.Type)
		return nil
	}
}
