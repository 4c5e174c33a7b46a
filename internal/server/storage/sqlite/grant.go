package sqlite

import (
	"context"
	"fmt"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/server/storage"
)

// SaveGrant creates or replaces grant
func (s *Storage) SaveGrant(ctx context.Context, grant *models.Grant) error {
	query := `
		INSERT OR REPLACE INTO grants (device_id, pattern, can_load, can_access, can_write, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		grant.DeviceID,
		grant.Pattern,
		boolToInt(grant.Load),
		boolToInt(grant.Access),
		boolToInt(grant.Write),
		grant.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}

	return nil
}

// ListGrants retrieves all grants of a device
func (s *Storage) ListGrants(ctx context.Context, deviceID string) (result []models.Grant, err error) {
	query := `
		SELECT device_id, pattern, can_load, can_access, can_write, created_at
		FROM grants
		WHERE device_id = ?
		ORDER BY pattern ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	grants := make([]models.Grant, 0)
	for rows.Next() {
		var g models.Grant
		var load, access, write int
		var createdAt int64

		if err := rows.Scan(&g.DeviceID, &g.Pattern, &load, &access, &write, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}

		g.Load = intToBool(load)
		g.Access = intToBool(access)
		g.Write = intToBool(write)
		g.CreatedAt = unixToTime(createdAt)
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return grants, nil
}

// DeleteGrant removes grant
func (s *Storage) DeleteGrant(ctx context.Context, deviceID, pattern string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM grants WHERE device_id = ? AND pattern = ?`,
		deviceID, pattern,
	)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrGrantNotFound
	}

	return nil
}
