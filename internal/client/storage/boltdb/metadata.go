package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/causaltree/internal/client/storage"
	"github.com/iudanet/causaltree/internal/weave"
)

const (
	keySite = "site"
)

// SaveSite saves the site id assigned by the server
func (s *Storage) SaveSite(ctx context.Context, site weave.SiteID) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		// Конвертируем site в bytes
		siteBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(siteBytes, uint32(site))

		// Сохраняем site
		if err := bucket.Put([]byte(keySite), siteBytes); err != nil {
			return fmt.Errorf("failed to save site: %w", err)
		}
		return nil
	})
}

// GetSite retrieves the site id of this replica
func (s *Storage) GetSite(ctx context.Context) (weave.SiteID, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var site weave.SiteID

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		// Получаем site
		siteBytes := bucket.Get([]byte(keySite))
		if siteBytes == nil {
			return storage.ErrSiteNotFound
		}
		if len(siteBytes) != 4 {
			return fmt.Errorf("corrupted site value of %d bytes", len(siteBytes))
		}

		// Конвертируем bytes в site
		site = weave.SiteID(binary.BigEndian.Uint32(siteBytes))
		return nil
	})
	if err != nil {
		return 0, err
	}

	return site, nil
}
