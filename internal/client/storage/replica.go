package storage

import (
	"context"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

//go:generate moq -out replica_mock.go . ReplicaStorage

// ReplicaStorage хранит локальные реплики каналов: атомы и состояние синхронизации.
// Атомы неизменяемы, поэтому хранилище только добавляет их.
type ReplicaStorage interface {
	// SaveAtoms добавляет атомы в реплику канала; повторное сохранение атома ничего не меняет
	SaveAtoms(ctx context.Context, info models.ChannelInfo, atoms []weave.Atom) error

	// LoadAtoms возвращает атомы канала в причинном порядке (по возрастанию timestamp)
	// Returns ErrChannelNotFound if the channel has no local replica
	LoadAtoms(ctx context.Context, info models.ChannelInfo) ([]weave.Atom, error)

	// ListChannels возвращает каналы, у которых есть локальная реплика
	ListChannels(ctx context.Context) ([]models.ChannelInfo, error)

	// SaveSyncState сохраняет результат последней синхронизации канала
	SaveSyncState(ctx context.Context, info models.ChannelInfo, state *SyncState) error

	// GetSyncState возвращает состояние синхронизации канала
	// Returns an empty state if the channel was never synchronized
	GetSyncState(ctx context.Context, info models.ChannelInfo) (*SyncState, error)
}

// SyncState что известно о сервере после последней синхронизации канала
type SyncState struct {
	// ServerVersion версия сервера: атомы, покрытые ею, отправлять не нужно
	ServerVersion weave.Version `json:"server_version"`
	LastSync      int64         `json:"last_sync"` // unix-время, 0: не синхронизировался
	Fingerprint   string        `json:"fingerprint,omitempty"`
}
