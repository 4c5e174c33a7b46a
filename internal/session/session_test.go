package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/causaltree/internal/authz"
	"github.com/iudanet/causaltree/internal/broadcast"
	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/stores"
	"github.com/iudanet/causaltree/internal/weave"
)

var listInfo = models.ChannelInfo{Type: stores.ListTypeName, ID: "shared"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func insert(v string) weave.Payload {
	data, _ := json.Marshal(map[string]string{"value": v})
	return weave.Payload{Kind: stores.KindInsert, Data: data}
}

// memStore WeaveStore в памяти
func memStore() *WeaveStoreMock {
	var mu sync.Mutex
	saved := make(map[string][]weave.Atom)
	return &WeaveStoreMock{
		LoadWeaveFunc: func(_ context.Context, info models.ChannelInfo) ([]weave.Atom, error) {
			mu.Lock()
			defer mu.Unlock()
			return append([]weave.Atom(nil), saved[info.Key()]...), nil
		},
		SaveAtomsFunc: func(_ context.Context, info models.ChannelInfo, atoms []weave.Atom) error {
			mu.Lock()
			defer mu.Unlock()
			saved[info.Key()] = append(saved[info.Key()], atoms...)
			return nil
		},
	}
}

func newHub(auth authz.Authorizer, opts ...HubOption) *Hub {
	opts = append([]HubOption{WithLocalSite(1)}, opts...)
	return NewHub(stores.Registry(), auth, testLogger(), opts...)
}

// replica локальная реплика пира
func replica(t *testing.T, site *weave.SiteID) *channel.Channel {
	t.Helper()
	var opts []weave.Option
	if site != nil {
		opts = append(opts, weave.WithSite(*site))
	}
	ch, err := channel.Open(stores.Registry(), listInfo, opts...)
	require.NoError(t, err)
	return ch
}

// syncReplica выполняет полный цикл: handshake, отправка своих атомов, прием недостающих
func syncReplica(t *testing.T, hub *Hub, device models.Device, r *channel.Channel) {
	t.Helper()

	s, err := hub.Open(context.Background(), device, listInfo)
	require.NoError(t, err)
	defer s.Close()

	info, incoming, err := s.Handshake(r.SiteInfo())
	require.NoError(t, err)
	require.NotNil(t, info.Site)
	require.NoError(t, r.SetSite(*info.Site))

	res := r.Merge(incoming)
	require.Empty(t, res.Rejected())

	merged, err := s.Receive(r.DiffSince(info.Version))
	require.NoError(t, err)
	require.Empty(t, merged.Rejected())
}

func TestOpen_LoadDenied(t *testing.T) {
	store := memStore()
	auth := &authz.AuthorizerMock{
		IsAllowedToLoadFunc: func(_ context.Context, device models.Device, info models.ChannelInfo) error {
			return authz.Deny(authz.GateLoad, device, info, "not yours")
		},
	}
	hub := newHub(auth, WithWeaveStore(store))

	s, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)

	assert.Nil(t, s)
	assert.ErrorIs(t, err, authz.ErrUnauthorized)
	var denied *authz.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, authz.GateLoad, denied.Gate)

	// канал не создан, хранилище не тронуто, остальные проверки не вызывались
	_, loaded := hub.Loaded(listInfo)
	assert.False(t, loaded)
	assert.Empty(t, store.LoadWeaveCalls())
	assert.Empty(t, auth.IsAllowedAccessCalls())
	assert.Empty(t, auth.CanProcessEventCalls())
}

func TestOpen_AccessDenied(t *testing.T) {
	auth := &authz.AuthorizerMock{
		IsAllowedToLoadFunc: func(context.Context, models.Device, models.ChannelInfo) error { return nil },
		IsAllowedAccessFunc: func(_ context.Context, device models.Device, loaded *channel.Channel) error {
			return authz.Deny(authz.GateAccess, device, loaded.Info(), "read-only")
		},
	}
	hub := newHub(auth)

	_, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)
	assert.ErrorIs(t, err, authz.ErrUnauthorized)
	assert.Len(t, auth.IsAllowedAccessCalls(), 1)
	assert.Empty(t, auth.CanProcessEventCalls())
}

func TestOpen_UnknownChannelType(t *testing.T) {
	hub := newHub(authz.AllowAll{})

	_, err := hub.Open(context.Background(), models.Device{ID: "d"}, models.ChannelInfo{Type: "nope", ID: "x"})
	assert.ErrorIs(t, err, channel.ErrUnknownChannelType)
}

func TestOpen_LoadsFromStore(t *testing.T) {
	store := memStore()
	src := replica(t, ptr(weave.SiteID(7)))
	a, err := src.Append(nil, insert("a"))
	require.NoError(t, err)
	_, err = src.Append(&a.ID, insert("b"))
	require.NoError(t, err)
	require.NoError(t, store.SaveAtoms(context.Background(), listInfo, src.DiffSince(weave.Version{})))

	hub := newHub(authz.AllowAll{}, WithWeaveStore(store))
	s, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, src.Fingerprint(), s.Channel().Fingerprint())
	assert.Equal(t, src.State(), s.Channel().State())
}

func TestOpen_ConcurrentLoadsOnce(t *testing.T) {
	store := memStore()
	slow := store.LoadWeaveFunc
	store.LoadWeaveFunc = func(ctx context.Context, info models.ChannelInfo) ([]weave.Atom, error) {
		time.Sleep(20 * time.Millisecond)
		return slow(ctx, info)
	}
	hub := newHub(authz.AllowAll{}, WithWeaveStore(store))

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.LoadWeaveCalls(), 1)
	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0].Channel(), s.Channel())
	}
}

func TestOpen_LoadSurvivesCanceledCaller(t *testing.T) {
	store := memStore()
	started := make(chan struct{})
	release := make(chan struct{})
	load := store.LoadWeaveFunc
	store.LoadWeaveFunc = func(ctx context.Context, info models.ChannelInfo) ([]weave.Atom, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return load(ctx, info)
	}
	hub := newHub(authz.AllowAll{}, WithWeaveStore(store))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan *Session, 1)
	go func() {
		s, _ := hub.Open(firstCtx, models.Device{ID: "a"}, listInfo)
		first <- s
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		s, err := hub.Open(context.Background(), models.Device{ID: "b"}, listInfo)
		if s != nil {
			defer s.Close()
		}
		second <- err
	}()

	// второй вызов успевает присоединиться к загрузке
	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	close(release)

	assert.NoError(t, <-second)
	if s := <-first; s != nil {
		s.Close()
	}
	assert.Len(t, store.LoadWeaveCalls(), 1)
	_, ok := hub.Loaded(listInfo)
	assert.True(t, ok)
}

func TestHandshake_SiteAssignment(t *testing.T) {
	hub := newHub(authz.AllowAll{})
	ctx := context.Background()
	owner := models.Device{ID: "owner"}

	s, err := hub.Open(ctx, owner, listInfo)
	require.NoError(t, err)
	info, atoms, err := s.Handshake(weave.SiteVersionInfo{})
	require.NoError(t, err)
	require.NotNil(t, info.Site)
	assert.NotEqual(t, hub.LocalSite(), *info.Site)
	assert.Empty(t, atoms)
	site := *info.Site
	s.Close()

	t.Run("owner reuses site", func(t *testing.T) {
		s, err := hub.Open(ctx, owner, listInfo)
		require.NoError(t, err)
		defer s.Close()

		info, _, err := s.Handshake(weave.SiteVersionInfo{Site: &site})
		require.NoError(t, err)
		assert.Equal(t, site, *info.Site)
	})

	t.Run("other device denied", func(t *testing.T) {
		s, err := hub.Open(ctx, models.Device{ID: "thief"}, listInfo)
		require.NoError(t, err)
		defer s.Close()

		_, _, err = s.Handshake(weave.SiteVersionInfo{Site: &site})
		assert.ErrorIs(t, err, authz.ErrUnauthorized)
	})

	t.Run("unknown site", func(t *testing.T) {
		s, err := hub.Open(ctx, owner, listInfo)
		require.NoError(t, err)
		defer s.Close()

		_, _, err = s.Handshake(weave.SiteVersionInfo{Site: ptr(weave.SiteID(999))})
		assert.ErrorIs(t, err, weave.ErrUnknownSite)
	})
}

func TestReceive_RequiresHandshake(t *testing.T) {
	hub := newHub(authz.AllowAll{})
	s, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Receive(nil)
	assert.ErrorIs(t, err, ErrHandshakeRequired)
	assert.Nil(t, s.Outbound())
}

func TestReceive_EventGate(t *testing.T) {
	store := memStore()
	auth := &authz.AuthorizerMock{
		IsAllowedToLoadFunc: func(context.Context, models.Device, models.ChannelInfo) error { return nil },
		IsAllowedAccessFunc: func(context.Context, models.Device, *channel.Channel) error { return nil },
		CanProcessEventFunc: func(_ context.Context, device models.Device, loaded *channel.Channel, event authz.Event) error {
			var data struct {
				Value string `json:"value"`
			}
			_ = json.Unmarshal(event.Atom.Payload.Data, &data)
			if data.Value == "forbidden" {
				return authz.Deny(authz.GateEvent, device, loaded.Info(), "bad word")
			}
			return nil
		},
	}
	hub := newHub(auth, WithWeaveStore(store))

	s, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)
	require.NoError(t, err)
	defer s.Close()

	info, _, err := s.Handshake(weave.SiteVersionInfo{})
	require.NoError(t, err)

	peer := replica(t, info.Site)
	ok, err := peer.Append(nil, insert("fine"))
	require.NoError(t, err)
	bad, err := peer.Append(nil, insert("forbidden"))
	require.NoError(t, err)

	res, err := s.Receive(peer.DiffSince(weave.Version{}))
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, bad.ID, res.Results[0].ID)
	assert.Equal(t, weave.OutcomeRejected, res.Results[0].Outcome)
	assert.ErrorIs(t, res.Results[0].Err, authz.ErrUnauthorized)
	assert.Equal(t, ok.ID, res.Results[1].ID)
	assert.Equal(t, weave.OutcomeApplied, res.Results[1].Outcome)

	assert.Len(t, auth.CanProcessEventCalls(), 2)
	assert.True(t, s.Channel().Contains(ok.ID))

	saves := store.SaveAtomsCalls()
	require.Len(t, saves, 1)
	assert.Equal(t, []weave.AtomID{ok.ID}, []weave.AtomID{saves[0].Atoms[0].ID})
}

func TestReceive_DeniedAtomDoesNotBlockPeer(t *testing.T) {
	auth := &authz.AuthorizerMock{
		IsAllowedToLoadFunc: func(context.Context, models.Device, models.ChannelInfo) error { return nil },
		IsAllowedAccessFunc: func(context.Context, models.Device, *channel.Channel) error { return nil },
		CanProcessEventFunc: func(_ context.Context, device models.Device, loaded *channel.Channel, event authz.Event) error {
			if string(event.Atom.Payload.Data) == string(insert("forbidden").Data) {
				return authz.Deny(authz.GateEvent, device, loaded.Info(), "bad word")
			}
			return nil
		},
	}

	tests := []struct {
		name    string
		batched bool
	}{
		{name: "one batch", batched: true},
		{name: "separate batches", batched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newHub(auth, WithWeaveStore(memStore()))
			device := models.Device{ID: "d"}

			s, err := hub.Open(context.Background(), device, listInfo)
			require.NoError(t, err)
			defer s.Close()

			info, _, err := s.Handshake(weave.SiteVersionInfo{})
			require.NoError(t, err)

			peer := replica(t, info.Site)
			bad, err := peer.Append(nil, insert("forbidden"))
			require.NoError(t, err)
			good, err := peer.Append(nil, insert("fine"))
			require.NoError(t, err)

			var results []weave.AtomResult
			if tt.batched {
				res, err := s.Receive(peer.DiffSince(weave.Version{}))
				require.NoError(t, err)
				results = res.Results
			} else {
				for _, atom := range []weave.Atom{bad, good} {
					res, err := s.Receive([]weave.Atom{atom})
					require.NoError(t, err)
					results = append(results, res.Results...)
				}
			}

			require.Len(t, results, 2)
			assert.Equal(t, bad.ID, results[0].ID)
			assert.ErrorIs(t, results[0].Err, authz.ErrUnauthorized)
			assert.Equal(t, good.ID, results[1].ID)
			assert.Equal(t, weave.OutcomeApplied, results[1].Outcome)
			assert.True(t, s.Channel().Contains(good.ID))

			// следующие атомы пира тоже проходят
			more, err := peer.Append(&good.ID, insert("more"))
			require.NoError(t, err)
			res, err := s.Receive([]weave.Atom{more})
			require.NoError(t, err)
			assert.Equal(t, 1, res.Count(weave.OutcomeApplied))

			// третий пир получает разность с пропуском и принимает ее
			observer, err := channel.Open(stores.Registry(), listInfo, weave.WithSite(99), weave.WithRetryBudget(0))
			require.NoError(t, err)
			merged := observer.Merge(s.Channel().DiffSince(weave.Version{}))
			assert.Equal(t, 2, merged.Count(weave.OutcomeApplied))
			assert.Equal(t, s.Channel().Fingerprint(), observer.Fingerprint())
		})
	}
}

func TestReceive_AuthorizerErrorAbortsBatch(t *testing.T) {
	boom := errors.New("policy backend down")
	auth := &authz.AuthorizerMock{
		IsAllowedToLoadFunc: func(context.Context, models.Device, models.ChannelInfo) error { return nil },
		IsAllowedAccessFunc: func(context.Context, models.Device, *channel.Channel) error { return nil },
		CanProcessEventFunc: func(context.Context, models.Device, *channel.Channel, authz.Event) error { return boom },
	}
	hub := newHub(auth)
	s, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)
	require.NoError(t, err)
	defer s.Close()
	info, _, err := s.Handshake(weave.SiteVersionInfo{})
	require.NoError(t, err)

	peer := replica(t, info.Site)
	_, err = peer.Append(nil, insert("x"))
	require.NoError(t, err)

	_, err = s.Receive(peer.DiffSince(weave.Version{}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Channel().Len())
}

// Две реплики, синхронизирующиеся только через сервер, сходятся к одному состоянию
func TestRoundTrip_Convergence(t *testing.T) {
	hub := newHub(authz.AllowAll{}, WithWeaveStore(memStore()))
	alice := models.Device{ID: "alice"}
	bob := models.Device{ID: "bob"}

	a := replica(t, nil)
	b := replica(t, nil)
	syncReplica(t, hub, alice, a)
	syncReplica(t, hub, bob, b)

	head, err := a.Append(nil, insert("head"))
	require.NoError(t, err)
	syncReplica(t, hub, alice, a)
	syncReplica(t, hub, bob, b)

	_, err = a.Append(&head.ID, insert("from-alice"))
	require.NoError(t, err)
	_, err = b.Append(&head.ID, insert("from-bob"))
	require.NoError(t, err)

	syncReplica(t, hub, alice, a)
	syncReplica(t, hub, bob, b)
	syncReplica(t, hub, alice, a)

	server, ok := hub.Loaded(listInfo)
	require.True(t, ok)
	assert.Equal(t, 3, server.Len())
	assert.Equal(t, server.Fingerprint(), a.Fingerprint())
	assert.Equal(t, server.Fingerprint(), b.Fingerprint())
	assert.Equal(t, a.State(), b.State())
}

func TestStreaming_ChangesAndOutbound(t *testing.T) {
	hub := newHub(authz.AllowAll{})
	ctx := context.Background()

	watcher, err := hub.Open(ctx, models.Device{ID: "watcher"}, listInfo)
	require.NoError(t, err)
	defer watcher.Close()
	_, initial, err := watcher.Handshake(weave.SiteVersionInfo{})
	require.NoError(t, err)
	assert.Empty(t, initial)

	writer, err := hub.Open(ctx, models.Device{ID: "writer"}, listInfo)
	require.NoError(t, err)
	defer writer.Close()

	atom, err := writer.Append(nil, insert("pushed"))
	require.NoError(t, err)
	assert.Equal(t, hub.LocalSite(), atom.ID.Site)

	select {
	case <-watcher.Changes():
	case <-time.After(time.Second):
		t.Fatal("watcher was not notified")
	}

	out := watcher.Outbound()
	require.Len(t, out, 1)
	assert.Equal(t, atom.ID, out[0].ID)

	// уже отправленное не повторяется
	assert.Empty(t, watcher.Outbound())
}

func TestAck(t *testing.T) {
	hub := newHub(authz.AllowAll{})
	s, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(nil, insert("x"))
	require.NoError(t, err)
	_, _, err = s.Handshake(weave.SiteVersionInfo{})
	require.NoError(t, err)

	assert.Equal(t, weave.Version{1: 1}, s.PeerVersion())
	s.Ack(weave.Version{5: 3})
	assert.Equal(t, weave.Version{1: 1, 5: 3}, s.PeerVersion())
}

func TestClose(t *testing.T) {
	hub := newHub(authz.AllowAll{})
	s, err := hub.Open(context.Background(), models.Device{ID: "d"}, listInfo)
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, s.State())

	s.Close()
	s.Close()

	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)

	_, _, err = s.Handshake(weave.SiteVersionInfo{})
	assert.Error(t, err)
	_, err = s.Append(nil, insert("late"))
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "awaiting_load_decision", StateAwaitingLoadDecision.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestHub_RunAppliesBroadcasts(t *testing.T) {
	bus := broadcast.NewMemory()
	store := memStore()
	first := newHub(authz.AllowAll{}, WithBroadcaster(bus), WithWeaveStore(store), WithLocalSite(1))
	second := newHub(authz.AllowAll{}, WithBroadcaster(bus), WithWeaveStore(store), WithLocalSite(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- second.Run(ctx) }()

	// канал должен быть загружен на втором экземпляре, чтобы принимать рассылку
	watcher, err := second.Open(ctx, models.Device{ID: "w"}, listInfo)
	require.NoError(t, err)
	defer watcher.Close()

	writer, err := first.Open(ctx, models.Device{ID: "writer"}, listInfo)
	require.NoError(t, err)
	defer writer.Close()

	// Run регистрирует слушателя асинхронно: пишем, пока атомы не начнут доходить.
	// Пропущенные ранние атомы второй экземпляр дочитывает из общего хранилища.
	assert.Eventually(t, func() bool {
		atom, err := writer.Append(nil, insert("hello"))
		if err != nil {
			return false
		}
		return waitContains(watcher.Channel(), atom.ID, 20*time.Millisecond)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, writer.Channel().Fingerprint(), watcher.Channel().Fingerprint())

	cancel()
	assert.NoError(t, <-done)
}

func TestHub_RunCatchesUpOnGaps(t *testing.T) {
	bus := broadcast.NewMemory()
	store := memStore()
	hub := newHub(authz.AllowAll{}, WithBroadcaster(bus), WithWeaveStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	s, err := hub.Open(ctx, models.Device{ID: "w"}, listInfo)
	require.NoError(t, err)
	defer s.Close()

	// другой экземпляр сохранил атомы, но рассылка первого из них потерялась
	tests := []struct {
		name     string
		site     weave.SiteID
		asParent bool
	}{
		{name: "missing parent", site: 5, asParent: true},
		{name: "missing predecessor", site: 6, asParent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := replica(t, ptr(tt.site))
			lost, err := remote.Append(nil, insert("lost"))
			require.NoError(t, err)
			var parent *weave.AtomID
			if tt.asParent {
				parent = &lost.ID
			}
			next, err := remote.Append(parent, insert("next"))
			require.NoError(t, err)
			require.NoError(t, store.SaveAtoms(ctx, listInfo, []weave.Atom{lost, next}))

			assert.Eventually(t, func() bool {
				msg := broadcast.Message{Origin: "other", Channel: listInfo, Atoms: []weave.Atom{next}}
				if err := bus.Publish(ctx, msg); err != nil {
					return false
				}
				return waitContains(s.Channel(), next.ID, 20*time.Millisecond)
			}, 2*time.Second, 10*time.Millisecond)
			assert.True(t, s.Channel().Contains(lost.ID))
		})
	}

	assert.Equal(t, 4, s.Channel().Len())

	cancel()
	assert.NoError(t, <-done)
}

func waitContains(ch *channel.Channel, id weave.AtomID, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if ch.Contains(id) {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func ptr[T any](v T) *T {
	return &v
}

func TestHub_Visible(t *testing.T) {
	secret := models.ChannelInfo{Type: stores.ListTypeName, ID: "secret"}
	auth := &authz.AuthorizerMock{
		IsAllowedToLoadFunc: func(_ context.Context, device models.Device, info models.ChannelInfo) error {
			if info == secret {
				return authz.Deny(authz.GateLoad, device, info, "hidden")
			}
			return nil
		},
	}
	hub := newHub(auth)

	visible, err := hub.Visible(context.Background(), models.Device{ID: "d"}, []models.ChannelInfo{listInfo, secret})
	require.NoError(t, err)
	assert.Equal(t, []models.ChannelInfo{listInfo}, visible)

	auth.IsAllowedToLoadFunc = func(context.Context, models.Device, models.ChannelInfo) error {
		return errors.New("grant store down")
	}
	_, err = hub.Visible(context.Background(), models.Device{ID: "d"}, []models.ChannelInfo{listInfo})
	assert.Error(t, err)
}
