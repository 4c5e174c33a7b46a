package storage

import (
	"context"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

// WeaveStorage defines interface for channel atom persistence.
// Atoms are immutable, so storage is append-only.
type WeaveStorage interface {
	// SaveAtoms appends atoms to the channel, creating the channel on first save.
	// Atoms that are already stored are skipped.
	SaveAtoms(ctx context.Context, info models.ChannelInfo, atoms []weave.Atom) error

	// LoadWeave returns all atoms of the channel in causal order
	// (parents and same-site predecessors first).
	// Returns empty slice if the channel has never been saved
	LoadWeave(ctx context.Context, info models.ChannelInfo) ([]weave.Atom, error)

	// ListChannels returns all channels that have stored atoms
	ListChannels(ctx context.Context) ([]models.ChannelInfo, error)
}
