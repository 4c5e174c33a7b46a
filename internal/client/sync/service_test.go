package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/causaltree/internal/authz"
	"github.com/iudanet/causaltree/internal/channel"
	httpClient "github.com/iudanet/causaltree/internal/client/api"
	"github.com/iudanet/causaltree/internal/client/replica"
	"github.com/iudanet/causaltree/internal/client/storage/boltdb"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/server"
	"github.com/iudanet/causaltree/internal/server/jwt"
	"github.com/iudanet/causaltree/internal/session"
	"github.com/iudanet/causaltree/internal/stores"
	"github.com/iudanet/causaltree/internal/weave"
	"github.com/iudanet/causaltree/pkg/api"
)

var todo = models.ChannelInfo{Type: stores.ListTypeName, ID: "todo"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestServer поднимает настоящий API без ограничений доступа
func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	hub := session.NewHub(stores.Registry(), authz.AllowAll{}, testLogger(), session.WithLocalSite(1))
	tokens := jwt.NewService("sync-test-secret", time.Hour)
	srv := httptest.NewServer(server.NewRouter(server.Config{
		Logger: testLogger(),
		Hub:    hub,
		Tokens: tokens,
	}))
	t.Cleanup(srv.Close)

	token, _, err := tokens.IssueDeviceToken("device-1", "laptop")
	require.NoError(t, err)
	return srv, token
}

type testReplica struct {
	sync  *Service
	local *replica.Service
	store *boltdb.Storage
}

func newTestReplica(t *testing.T, client httpClient.ClientAPI) *testReplica {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	local := replica.NewService(store, store, stores.Registry())
	return &testReplica{
		sync:  NewService(client, store, store, local, testLogger()),
		local: local,
		store: store,
	}
}

func (r *testReplica) values(t *testing.T) []string {
	t.Helper()

	ch, err := r.local.Open(context.Background(), todo)
	require.NoError(t, err)
	return itemValues(t, ch.State())
}

func itemValues(t *testing.T, state any) []string {
	t.Helper()

	items, ok := state.([]stores.ListItem)
	require.True(t, ok)
	out := make([]string, 0, len(items))
	for _, item := range items {
		var v string
		require.NoError(t, json.Unmarshal(item.Value, &v))
		out = append(out, v)
	}
	return out
}

func TestSync_TwoReplicasConverge(t *testing.T) {
	ctx := context.Background()
	srv, token := newTestServer(t)
	a := newTestReplica(t, httpClient.NewClient(srv.URL))
	b := newTestReplica(t, httpClient.NewClient(srv.URL))

	// без site локальные изменения невозможны, первая синхронизация его выдает
	_, err := a.local.Insert(ctx, todo, -1, json.RawMessage(`"milk"`))
	require.ErrorIs(t, err, weave.ErrNoSite)

	res, err := a.sync.Sync(ctx, token, todo)
	require.NoError(t, err)
	siteA := res.Site
	assert.NotZero(t, siteA)
	assert.Zero(t, res.Pushed)

	_, err = a.local.Insert(ctx, todo, -1, json.RawMessage(`"milk"`))
	require.NoError(t, err)
	pending, err := a.sync.Pending(ctx, todo)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	res, err = a.sync.Sync(ctx, token, todo)
	require.NoError(t, err)
	assert.Equal(t, siteA, res.Site)
	assert.Equal(t, 1, res.Pushed)
	assert.Empty(t, res.Rejected)
	assert.True(t, res.Converged)

	pending, err = a.sync.Pending(ctx, todo)
	require.NoError(t, err)
	assert.Zero(t, pending)

	res, err = b.sync.Sync(ctx, token, todo)
	require.NoError(t, err)
	assert.NotEqual(t, siteA, res.Site)
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, []string{"milk"}, b.values(t))

	// конкурентные вставки в конец
	_, err = a.local.Insert(ctx, todo, -1, json.RawMessage(`"eggs"`))
	require.NoError(t, err)
	_, err = b.local.Insert(ctx, todo, -1, json.RawMessage(`"bread"`))
	require.NoError(t, err)
	_, err = b.local.Insert(ctx, todo, 0, json.RawMessage(`"tea"`))
	require.NoError(t, err)

	_, err = a.sync.Sync(ctx, token, todo)
	require.NoError(t, err)
	_, err = b.sync.Sync(ctx, token, todo)
	require.NoError(t, err)
	resA, err := a.sync.Sync(ctx, token, todo)
	require.NoError(t, err)

	assert.True(t, resA.Converged)
	assert.Equal(t, a.values(t), b.values(t))
	assert.Len(t, a.values(t), 4)

	chA, err := a.local.Open(ctx, todo)
	require.NoError(t, err)
	chB, err := b.local.Open(ctx, todo)
	require.NoError(t, err)
	assert.Equal(t, chA.Fingerprint(), chB.Fingerprint())
	assert.Equal(t, chA.Version(), chB.Version())

	// повторная синхронизация ничего не передает
	res, err = b.sync.Sync(ctx, token, todo)
	require.NoError(t, err)
	assert.Zero(t, res.Pushed)
	assert.Zero(t, res.Pulled)
}

func TestSync_Statuses(t *testing.T) {
	ctx := context.Background()
	srv, token := newTestServer(t)
	r := newTestReplica(t, httpClient.NewClient(srv.URL))
	now := time.Unix(1700000000, 0)
	r.sync.now = func() time.Time { return now }

	_, err := r.sync.Sync(ctx, token, todo)
	require.NoError(t, err)
	_, err = r.local.Insert(ctx, todo, -1, json.RawMessage(`"a"`))
	require.NoError(t, err)

	statuses, err := r.sync.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, todo, statuses[0].Info)
	assert.Equal(t, 1, statuses[0].Atoms)
	assert.Equal(t, 1, statuses[0].Pending)
	assert.True(t, now.Equal(statuses[0].LastSync))
}

func TestSync_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(t)
	r := newTestReplica(t, httpClient.NewClient(srv.URL))

	_, err := r.sync.Sync(context.Background(), "garbage", todo)
	require.Error(t, err)
	assert.True(t, httpClient.IsStatus(err, 401))

	// неудачная синхронизация не назначает site
	_, err = r.store.GetSite(context.Background())
	assert.Error(t, err)
}

var errStreamUnavailable = errors.New("stream unavailable")

// fakeAPI подменяет сервер ответом respond
type fakeAPI struct {
	httpClient.ClientAPI
	respond func(req api.SyncRequest) *api.SyncResponse
}

func (f *fakeAPI) Sync(_ context.Context, _ string, _ models.ChannelInfo, req api.SyncRequest) (*api.SyncResponse, error) {
	return f.respond(req), nil
}

func (f *fakeAPI) Stream(context.Context, string, models.ChannelInfo) (*websocket.Conn, error) {
	return nil, errStreamUnavailable
}

func TestSync_SiteMismatch(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t, &fakeAPI{respond: func(api.SyncRequest) *api.SyncResponse {
		return &api.SyncResponse{Site: 9, Version: api.Version{}}
	}})
	require.NoError(t, r.store.SaveSite(ctx, 3))

	_, err := r.sync.Sync(ctx, "t", todo)
	assert.ErrorIs(t, err, ErrSiteMismatch)
}

func TestSync_RejectedStaysPending(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t, &fakeAPI{respond: func(req api.SyncRequest) *api.SyncResponse {
		results := make([]api.AtomResult, 0, len(req.Atoms))
		for _, a := range req.Atoms {
			results = append(results, api.AtomResult{ID: a.ID, Outcome: "rejected", Error: "access denied"})
		}
		return &api.SyncResponse{Site: 3, Version: api.Version{}, Results: results}
	}})
	require.NoError(t, r.store.SaveSite(ctx, 3))

	_, err := r.local.Insert(ctx, todo, -1, json.RawMessage(`"x"`))
	require.NoError(t, err)

	res, err := r.sync.Sync(ctx, "t", todo)
	require.NoError(t, err)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "access denied", res.Rejected[0].Err.Error())
	assert.False(t, res.Converged)

	pending, err := r.sync.Pending(ctx, todo)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSync_OrphanServerAtomsNotPersisted(t *testing.T) {
	ctx := context.Background()
	orphan := api.Atom{
		ID:     api.AtomID{Site: 7, Timestamp: 5, Seq: 2},
		Parent: &api.AtomID{Site: 7, Timestamp: 4, Seq: 1},
		Kind:   stores.KindInsert,
		Data:   json.RawMessage(`{"value":"late"}`),
	}
	r := newTestReplica(t, &fakeAPI{respond: func(api.SyncRequest) *api.SyncResponse {
		return &api.SyncResponse{Site: 3, Version: api.Version{7: 5}, Atoms: []api.Atom{orphan}}
	}})

	res, err := r.sync.Sync(ctx, "t", todo)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Zero(t, res.Merged)

	// атом без родителя не сохраняется в реплике
	atoms, err := r.store.LoadAtoms(ctx, todo)
	require.NoError(t, err)
	assert.Empty(t, atoms)
}

func TestSync_ServerAtomsWithSeqGap(t *testing.T) {
	ctx := context.Background()
	// #1 узла 7 сервер отклонил, поэтому присылает только #2 и его потомка
	root := api.Atom{
		ID:   api.AtomID{Site: 7, Timestamp: 4, Seq: 2},
		Kind: stores.KindInsert,
		Data: json.RawMessage(`{"value":"kept"}`),
	}
	child := api.Atom{
		ID:     api.AtomID{Site: 7, Timestamp: 5, Seq: 3},
		Parent: &api.AtomID{Site: 7, Timestamp: 4, Seq: 2},
		Kind:   stores.KindInsert,
		Data:   json.RawMessage(`{"value":"next"}`),
	}
	r := newTestReplica(t, &fakeAPI{respond: func(api.SyncRequest) *api.SyncResponse {
		return &api.SyncResponse{Site: 3, Version: api.Version{7: 5}, Atoms: []api.Atom{root, child}}
	}})

	res, err := r.sync.Sync(ctx, "t", todo)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Merged)
	assert.Zero(t, res.Dropped)
	assert.True(t, res.Converged)

	atoms, err := r.store.LoadAtoms(ctx, todo)
	require.NoError(t, err)
	assert.Len(t, atoms, 2)

	// реплика с пропуском номеров открывается заново
	ch, err := r.local.Open(ctx, todo)
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Len())
}

func TestWatch_ReceivesRemoteChanges(t *testing.T) {
	srv, token := newTestServer(t)
	watcher := newTestReplica(t, httpClient.NewClient(srv.URL))
	writer := newTestReplica(t, httpClient.NewClient(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan channel.Update, 8)
	done := make(chan error, 1)
	go func() {
		done <- watcher.sync.Watch(ctx, token, todo, func(u channel.Update) {
			updates <- u
		})
	}()

	_, err := writer.sync.Sync(context.Background(), token, todo)
	require.NoError(t, err)
	_, err = writer.local.Insert(context.Background(), todo, -1, json.RawMessage(`"news"`))
	require.NoError(t, err)
	_, err = writer.sync.Sync(context.Background(), token, todo)
	require.NoError(t, err)

	select {
	case u := <-updates:
		assert.Equal(t, todo, u.Channel)
		assert.Equal(t, []string{"news"}, itemValues(t, u.State))
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	// полученные атомы сохранены в реплике наблюдателя
	assert.Equal(t, []string{"news"}, watcher.values(t))
	_, err = watcher.store.GetSite(context.Background())
	assert.NoError(t, err)
}

func TestWatch_StreamUnavailable(t *testing.T) {
	r := newTestReplica(t, &fakeAPI{})

	err := r.sync.Watch(context.Background(), "t", todo, nil)
	assert.ErrorIs(t, err, errStreamUnavailable)
}
