package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

// SaveAtoms appends atoms to the channel in a single transaction.
// Already stored atoms are ignored, so replaying a batch is safe
func (s *Storage) SaveAtoms(ctx context.Context, info models.ChannelInfo, atoms []weave.Atom) (err error) {
	if len(atoms) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	channelID, err := ensureChannel(ctx, tx, info)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO atoms (
			channel_id, site, seq, timestamp,
			parent_site, parent_timestamp, parent_seq,
			kind, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare atom insert: %w", err)
	}
	defer stmt.Close()

	for _, atom := range atoms {
		var data any
		if len(atom.Payload.Data) > 0 {
			data = []byte(atom.Payload.Data)
		}

		var parentSite, parentTS, parentSeq sql.NullInt64
		if atom.Parent != nil {
			parentSite = sql.NullInt64{Int64: int64(atom.Parent.Site), Valid: true}
			parentTS = sql.NullInt64{Int64: int64(atom.Parent.Timestamp), Valid: true}
			parentSeq = sql.NullInt64{Int64: int64(atom.Parent.Seq), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			channelID,
			int64(atom.ID.Site),
			int64(atom.ID.Seq),
			int64(atom.ID.Timestamp),
			parentSite,
			parentTS,
			parentSeq,
			atom.Payload.Kind,
			data,
		)
		if err != nil {
			return fmt.Errorf("failed to insert atom %s: %w", atom.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit atoms: %w", err)
	}

	return nil
}

// LoadWeave returns channel atoms ordered by (timestamp, site), which is a causal order
func (s *Storage) LoadWeave(ctx context.Context, info models.ChannelInfo) (result []weave.Atom, err error) {
	query := `
		SELECT a.site, a.seq, a.timestamp,
		       a.parent_site, a.parent_timestamp, a.parent_seq,
		       a.kind, a.data
		FROM atoms a
		JOIN channels c ON c.id = a.channel_id
		WHERE c.type = ? AND c.name = ?
		ORDER BY a.timestamp ASC, a.site ASC
	`

	rows, err := s.db.QueryContext(ctx, query, info.Type, info.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query atoms: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	atoms := make([]weave.Atom, 0)
	for rows.Next() {
		var (
			site, seq, ts                   int64
			parentSite, parentTS, parentSeq sql.NullInt64
			kind                            string
			data                            []byte
		)

		if err := rows.Scan(&site, &seq, &ts, &parentSite, &parentTS, &parentSeq, &kind, &data); err != nil {
			return nil, fmt.Errorf("failed to scan atom: %w", err)
		}

		atom := weave.Atom{
			ID: weave.AtomID{
				Site:      weave.SiteID(site),
				Timestamp: weave.Timestamp(ts),
				Seq:       uint64(seq),
			},
			Payload: weave.Payload{Kind: kind},
		}
		if len(data) > 0 {
			atom.Payload.Data = data
		}
		if parentSite.Valid {
			atom.Parent = &weave.AtomID{
				Site:      weave.SiteID(parentSite.Int64),
				Timestamp: weave.Timestamp(parentTS.Int64),
				Seq:       uint64(parentSeq.Int64),
			}
		}

		atoms = append(atoms, atom)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return atoms, nil
}

// ListChannels returns all stored channels ordered by type and name
func (s *Storage) ListChannels(ctx context.Context) (result []models.ChannelInfo, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, name FROM channels ORDER BY type, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	channels := make([]models.ChannelInfo, 0)
	for rows.Next() {
		var info models.ChannelInfo
		if err := rows.Scan(&info.Type, &info.ID); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return channels, nil
}

func ensureChannel(ctx context.Context, tx *sql.Tx, info models.ChannelInfo) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM channels WHERE type = ? AND name = ?`,
		info.Type, info.ID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to get channel: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO channels (type, name, created_at) VALUES (?, ?, ?)`,
		info.Type, info.ID, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create channel: %w", err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get channel id: %w", err)
	}

	return id, nil
}
