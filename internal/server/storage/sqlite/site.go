package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/causaltree/internal/server/storage"
	"github.com/iudanet/causaltree/internal/weave"
)

// AllocateSite inserts a new site row; AUTOINCREMENT guarantees ids are never reused
func (s *Storage) AllocateSite(ctx context.Context, deviceID string) (weave.SiteID, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sites (device_id, created_at) VALUES (?, ?)`,
		deviceID, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate site: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get site id: %w", err)
	}

	return weave.SiteID(id), nil
}

// SiteOwner returns the device that owns the site
func (s *Storage) SiteOwner(ctx context.Context, site weave.SiteID) (string, error) {
	var deviceID string

	err := s.db.QueryRowContext(ctx,
		`SELECT device_id FROM sites WHERE site = ?`, int64(site),
	).Scan(&deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrSiteNotFound
		}
		return "", fmt.Errorf("failed to get site owner: %w", err)
	}

	return deviceID, nil
}

// DeviceSites returns all sites allocated to the device
func (s *Storage) DeviceSites(ctx context.Context, deviceID string) (result []weave.SiteID, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site FROM sites WHERE device_id = ? ORDER BY site ASC`, deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	sites := make([]weave.SiteID, 0)
	for rows.Next() {
		var site int64
		if err := rows.Scan(&site); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, weave.SiteID(site))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return sites, nil
}
