package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/iudanet/causaltree/internal/authz"
	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

// Ошибки сессии
var (
	// ErrNotStreaming операция требует состояния StateStreaming
	ErrNotStreaming = errors.New("session is not streaming")
	// ErrHandshakeRequired обмен атомами до Handshake
	ErrHandshakeRequired = errors.New("handshake required")
)

// State состояние сессии
type State int

const (
	StateDisconnected State = iota
	StateAwaitingLoadDecision
	StateLoaded
	StateAwaitingAccessDecision
	StateStreaming
	StateRejected
)

// String возвращает название состояния
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingLoadDecision:
		return "awaiting_load_decision"
	case StateLoaded:
		return "loaded"
	case StateAwaitingAccessDecision:
		return "awaiting_access_decision"
	case StateStreaming:
		return "streaming"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session сессия репликации одного устройства с одним каналом.
//
// Жизненный цикл: Open → Handshake → (Receive | Append | Outbound | Ack)* → Close.
// Авторизатор вызывается до любого обращения к каналу и никогда под его блокировкой.
type Session struct {
	ctx         context.Context
	hub         *Hub
	ch          *channel.Channel
	cancel      context.CancelFunc
	unsubscribe func()
	changes     chan struct{}
	peerVersion weave.Version
	device      models.Device
	info        models.ChannelInfo
	id          string
	site        weave.SiteID
	state       State
	mu          sync.Mutex
	handshaken  bool
}

// Open проводит устройство через проверки загрузки и доступа и возвращает сессию в StateStreaming.
// При отказе канал не создается и не загружается (если он еще не был загружен другими).
func (h *Hub) Open(ctx context.Context, device models.Device, info models.ChannelInfo) (*Session, error) {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ctx:     sctx,
		cancel:  cancel,
		hub:     h,
		device:  device,
		info:    info,
		id:      uuid.New().String(),
		changes: make(chan struct{}, 1),
		state:   StateAwaitingLoadDecision,
	}

	err := h.auth.IsAllowedToLoad(sctx, device, info)
	h.metrics.ObserveDecision(string(authz.GateLoad), err, authz.ErrUnauthorized)
	if err != nil {
		return nil, s.reject(err)
	}

	ch, err := h.channel(sctx, info)
	if err != nil {
		return nil, s.reject(err)
	}
	s.ch = ch
	s.setState(StateLoaded)

	s.setState(StateAwaitingAccessDecision)
	err = h.auth.IsAllowedAccess(sctx, device, ch)
	h.metrics.ObserveDecision(string(authz.GateAccess), err, authz.ErrUnauthorized)
	if err != nil {
		return nil, s.reject(err)
	}

	s.unsubscribe = ch.Subscribe(func(channel.Update) {
		select {
		case s.changes <- struct{}{}:
		default:
		}
	})
	s.setState(StateStreaming)
	h.metrics.SessionStarted()

	h.logger.Debug("Session opened",
		"session_id", s.id,
		"device_id", device.ID,
		"channel", info.Key())

	return s, nil
}

func (s *Session) reject(err error) error {
	s.setState(StateRejected)
	s.cancel()
	s.hub.logger.Info("Session rejected",
		"device_id", s.device.ID,
		"channel", s.info.Key(),
		"error", err)
	return err
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ID возвращает идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// State возвращает текущее состояние
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel возвращает канал сессии
func (s *Session) Channel() *channel.Channel {
	return s.ch
}

// Context отменяется при закрытии сессии
func (s *Session) Context() context.Context {
	return s.ctx
}

// Site возвращает узел, закрепленный за пиром после Handshake
func (s *Session) Site() (weave.SiteID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.site, s.handshaken && s.site != 0
}

// Changes сигнализирует, что в канале появились новые атомы и стоит вызвать Outbound
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Handshake принимает SiteVersionInfo пира и возвращает свою вместе с атомами,
// которых у пира нет. Пиру без site выдается новый узел; чужой site: отказ доступа.
func (s *Session) Handshake(peer weave.SiteVersionInfo) (weave.SiteVersionInfo, []weave.Atom, error) {
	if err := s.streaming(); err != nil {
		return weave.SiteVersionInfo{}, nil, err
	}

	site, err := s.resolveSite(peer.Site)
	if err != nil {
		return weave.SiteVersionInfo{}, nil, err
	}

	s.mu.Lock()
	s.site = site
	s.peerVersion = peer.Version.Clone()
	if s.peerVersion == nil {
		s.peerVersion = make(weave.Version)
	}
	s.handshaken = true
	s.mu.Unlock()

	info := weave.SiteVersionInfo{Site: &site, Version: s.ch.Version()}
	return info, s.Outbound(), nil
}

func (s *Session) resolveSite(claimed *weave.SiteID) (weave.SiteID, error) {
	if claimed == nil {
		site, err := s.hub.sites.AllocateSite(s.ctx, s.device.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to allocate site: %w", err)
		}
		return site, nil
	}

	owner, err := s.hub.sites.SiteOwner(s.ctx, *claimed)
	if err != nil {
		if errors.Is(err, weave.ErrUnknownSite) {
			return 0, fmt.Errorf("site %d: %w", *claimed, weave.ErrUnknownSite)
		}
		return 0, fmt.Errorf("failed to verify site: %w", err)
	}
	if owner != s.device.ID {
		return 0, authz.Deny(authz.GateAccess, s.device, s.info,
			fmt.Sprintf("site %d belongs to another device", *claimed))
	}
	return *claimed, nil
}

// Receive проверяет каждый атом пира через CanProcessEvent и сливает разрешенные.
// Отказанные атомы попадают в результат как OutcomeRejected с ошибкой авторизатора;
// их результаты идут перед результатами слияния. Номера отказанных атомов самого пира
// становятся пропусками, чтобы следующие его атомы не ждали их.
func (s *Session) Receive(atoms []weave.Atom) (*weave.MergeResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	site, _ := s.Site()
	allowed := make([]weave.Atom, 0, len(atoms))
	var (
		denied []weave.AtomResult
		skip   []weave.AtomID
	)

	for _, atom := range atoms {
		err := s.hub.auth.CanProcessEvent(s.ctx, s.device, s.ch, authz.Event{Atom: atom, Site: site})
		s.hub.metrics.ObserveDecision(string(authz.GateEvent), err, authz.ErrUnauthorized)
		if err == nil {
			allowed = append(allowed, atom)
			continue
		}
		if !errors.Is(err, authz.ErrUnauthorized) {
			// ошибка проверки (I/O, отмена) прерывает весь пакет
			return nil, err
		}
		denied = append(denied, weave.AtomResult{ID: atom.ID, Outcome: weave.OutcomeRejected, Err: err})
		if atom.ID.Site == site {
			skip = append(skip, atom.ID)
		}
	}

	// атомы чужих узлов не пропускаем: их автор может прислать их сам
	s.ch.Skip(skip)

	res, err := s.hub.merge(s.ctx, s.ch, allowed)
	if res != nil {
		res.Results = append(denied, res.Results...)
	}
	if err != nil {
		return res, err
	}

	// У пира есть все атомы, которые он прислал, и их причины
	s.mu.Lock()
	for _, atom := range atoms {
		s.peerVersion.Observe(atom.ID.Site, atom.ID.Timestamp)
	}
	s.mu.Unlock()

	if len(denied) > 0 {
		s.hub.logger.Info("Events denied",
			"session_id", s.id,
			"device_id", s.device.ID,
			"channel", s.info.Key(),
			"denied", len(denied))
	}

	return res, nil
}

// Append создает атом от имени узла сервера (для тонких клиентов без собственной реплики)
func (s *Session) Append(parent *weave.AtomID, payload weave.Payload) (weave.Atom, error) {
	if err := s.streaming(); err != nil {
		return weave.Atom{}, err
	}

	local := s.hub.LocalSite()
	candidate := weave.Atom{ID: weave.AtomID{Site: local}, Parent: parent, Payload: payload}
	err := s.hub.auth.CanProcessEvent(s.ctx, s.device, s.ch, authz.Event{Atom: candidate, Site: local})
	s.hub.metrics.ObserveDecision(string(authz.GateEvent), err, authz.ErrUnauthorized)
	if err != nil {
		return weave.Atom{}, err
	}

	atom, err := s.ch.Append(parent, payload)
	if err != nil {
		return weave.Atom{}, err
	}

	if err := s.hub.commit(s.ctx, s.info, []weave.Atom{atom}); err != nil {
		return atom, err
	}
	return atom, nil
}

// Outbound возвращает атомы канала, которых нет у пира по последней известной версии,
// и считает их доставленными.
func (s *Session) Outbound() []weave.Atom {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.handshaken {
		return nil
	}

	atoms := s.ch.DiffSince(s.peerVersion)
	for _, atom := range atoms {
		s.peerVersion.Observe(atom.ID.Site, atom.ID.Timestamp)
	}
	return atoms
}

// Ack учитывает версию, подтвержденную пиром
func (s *Session) Ack(v weave.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peerVersion == nil {
		s.peerVersion = make(weave.Version)
	}
	s.peerVersion.Merge(v)
}

// PeerVersion возвращает последнюю известную версию пира
func (s *Session) PeerVersion() weave.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerVersion.Clone()
}

// Close отменяет контекст сессии и отписывается от канала. Повторный вызов безопасен.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	wasStreaming := s.state == StateStreaming
	s.state = StateDisconnected
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	s.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	if wasStreaming {
		s.hub.metrics.SessionEnded()
	}

	s.hub.logger.Debug("Session closed",
		"session_id", s.id,
		"device_id", s.device.ID,
		"channel", s.info.Key())
}

func (s *Session) streaming() error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	return nil
}

func (s *Session) ready() error {
	if err := s.streaming(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handshaken {
		return ErrHandshakeRequired
	}
	return nil
}
