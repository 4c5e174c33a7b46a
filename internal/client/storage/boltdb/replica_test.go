package boltdb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/causaltree/internal/client/storage"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

var todo = models.ChannelInfo{Type: "list", ID: "todo"}

func testAtoms(t *testing.T) []weave.Atom {
	t.Helper()

	w := weave.New(weave.WithSite(3))
	first, err := w.Append(nil, weave.Payload{Kind: "insert", Data: json.RawMessage(`{"value":"a"}`)})
	require.NoError(t, err)
	_, err = w.Append(&first.ID, weave.Payload{Kind: "insert", Data: json.RawMessage(`{"value":"b"}`)})
	require.NoError(t, err)
	_, err = w.Append(&first.ID, weave.Payload{Kind: "delete"})
	require.NoError(t, err)

	return w.Atoms()
}

func TestAtomKey_Order(t *testing.T) {
	ids := []weave.AtomID{
		{Site: 9, Timestamp: 1, Seq: 1},
		{Site: 1, Timestamp: 2, Seq: 1},
		{Site: 2, Timestamp: 2, Seq: 5},
		{Site: 1, Timestamp: 256, Seq: 2},
	}
	for i := 1; i < len(ids); i++ {
		assert.Less(t, string(atomKey(ids[i-1])), string(atomKey(ids[i])), "key %d", i)
	}
	assert.Len(t, atomKey(ids[0]), atomKeyLen)
}

func TestReplica_SaveLoadAtoms(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)
	atoms := testAtoms(t)

	_, err := store.LoadAtoms(ctx, todo)
	assert.ErrorIs(t, err, storage.ErrChannelNotFound)

	require.NoError(t, store.SaveAtoms(ctx, todo, atoms))
	// повторное сохранение идемпотентно
	require.NoError(t, store.SaveAtoms(ctx, todo, atoms[:1]))

	loaded, err := store.LoadAtoms(ctx, todo)
	require.NoError(t, err)
	require.Len(t, loaded, len(atoms))

	// атомы идут по возрастанию timestamp, из них восстанавливается тот же weave
	for i := 1; i < len(loaded); i++ {
		assert.Less(t, loaded[i-1].ID.Timestamp, loaded[i].ID.Timestamp)
	}

	w := weave.New()
	require.NoError(t, w.Load(loaded))
	orig := weave.New()
	require.NoError(t, orig.Load(atoms))
	assert.Equal(t, orig.Fingerprint(), w.Fingerprint())
	assert.Equal(t, orig.Version(), w.Version())
}

func TestReplica_SaveEmpty(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	require.NoError(t, store.SaveAtoms(ctx, todo, nil))

	// пустое сохранение не создает реплику
	infos, err := store.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestReplica_ListChannels(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)
	atoms := testAtoms(t)

	notes := models.ChannelInfo{Type: "lwwmap", ID: "notes.v1"}
	require.NoError(t, store.SaveAtoms(ctx, todo, atoms))
	require.NoError(t, store.SaveSyncState(ctx, notes, &storage.SyncState{ServerVersion: weave.Version{}}))

	infos, err := store.ListChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ChannelInfo{todo, notes}, infos)

	// у канала без атомов реплика пустая
	loaded, err := store.LoadAtoms(ctx, notes)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestReplica_SyncState(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	state, err := store.GetSyncState(ctx, todo)
	require.NoError(t, err)
	assert.Equal(t, weave.Version{}, state.ServerVersion)
	assert.Zero(t, state.LastSync)

	want := &storage.SyncState{
		ServerVersion: weave.Version{1: 10, 3: 4},
		LastSync:      1700000000,
		Fingerprint:   "abc",
	}
	require.NoError(t, store.SaveSyncState(ctx, todo, want))

	got, err := store.GetSyncState(ctx, todo)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReplica_Closed(t *testing.T) {
	ctx := context.Background()
	store := &Storage{}

	assert.ErrorIs(t, store.SaveAtoms(ctx, todo, nil), storage.ErrStorageClosed)
	_, err := store.LoadAtoms(ctx, todo)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = store.ListChannels(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, store.SaveSyncState(ctx, todo, &storage.SyncState{}), storage.ErrStorageClosed)
	_, err = store.GetSyncState(ctx, todo)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = store.GetSite(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
