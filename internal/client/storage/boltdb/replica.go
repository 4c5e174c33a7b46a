package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/iudanet/causaltree/internal/client/storage"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

// Раскладка реплики канала:
//
//	channels/<type/id>/atoms/<ts|site|seq> → JSON атома
//	channels/<type/id>/sync                → JSON SyncState
var (
	bucketAtoms  = []byte("atoms")
	keySyncState = []byte("sync")
)

// atomKeyLen timestamp (8) + site (4) + seq (8)
const atomKeyLen = 20

// atomKey кодирует идентификатор так, что порядок ключей bbolt совпадает
// с порядком (timestamp, site): родитель всегда лежит раньше потомка.
func atomKey(id weave.AtomID) []byte {
	key := make([]byte, atomKeyLen)
	binary.BigEndian.PutUint64(key[0:8], uint64(id.Timestamp))
	binary.BigEndian.PutUint32(key[8:12], uint32(id.Site))
	binary.BigEndian.PutUint64(key[12:20], id.Seq)
	return key
}

// SaveAtoms добавляет атомы в реплику канала одной транзакцией
func (s *Storage) SaveAtoms(ctx context.Context, info models.ChannelInfo, atoms []weave.Atom) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	if len(atoms) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		atomsBucket, err := channelAtoms(tx, info)
		if err != nil {
			return err
		}

		for _, atom := range atoms {
			// Атом неизменяем: повторная запись не нужна
			key := atomKey(atom.ID)
			if atomsBucket.Get(key) != nil {
				continue
			}

			// Сериализуем атом в JSON
			data, err := json.Marshal(atom)
			if err != nil {
				return fmt.Errorf("failed to marshal atom %s: %w", atom.ID, err)
			}
			// Сохраняем по ключу ID
			if err := atomsBucket.Put(key, data); err != nil {
				return fmt.Errorf("failed to save atom %s: %w", atom.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// LoadAtoms возвращает атомы канала в порядке ключей
func (s *Storage) LoadAtoms(ctx context.Context, info models.ChannelInfo) ([]weave.Atom, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var atoms []weave.Atom

	err := s.db.View(func(tx *bbolt.Tx) error {
		chBucket := channelBucket(tx, info)
		if chBucket == nil {
			return storage.ErrChannelNotFound
		}
		atomsBucket := chBucket.Bucket(bucketAtoms)
		if atomsBucket == nil {
			// Нет bucket - канал еще пуст
			return nil
		}

		atoms = make([]weave.Atom, 0, atomsBucket.Stats().KeyN)
		return atomsBucket.ForEach(func(k, v []byte) error {
			// Десериализуем
			var atom weave.Atom
			if err := json.Unmarshal(v, &atom); err != nil {
				return fmt.Errorf("failed to unmarshal atom %x: %w", k, err)
			}
			if !bytes.Equal(k, atomKey(atom.ID)) {
				return fmt.Errorf("atom %s stored under foreign key %x", atom.ID, k)
			}
			atoms = append(atoms, atom)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return atoms, nil
}

// ListChannels возвращает каналы с локальной репликой, отсортированные по ключу
func (s *Storage) ListChannels(ctx context.Context) ([]models.ChannelInfo, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var infos []models.ChannelInfo

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChannels)
		if bucket == nil {
			return fmt.Errorf("channels bucket not found")
		}

		return bucket.ForEach(func(k, v []byte) error {
			// вложенные buckets имеют v == nil
			if v != nil {
				return nil
			}
			typ, id, ok := strings.Cut(string(k), "/")
			if !ok {
				return fmt.Errorf("malformed channel key %q", k)
			}
			infos = append(infos, models.ChannelInfo{Type: typ, ID: id})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return infos, nil
}

// SaveSyncState сохраняет состояние синхронизации канала
func (s *Storage) SaveSyncState(ctx context.Context, info models.ChannelInfo, state *storage.SyncState) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	// Сериализуем состояние в JSON
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		chBucket, err := ensureChannel(tx, info)
		if err != nil {
			return err
		}
		if err := chBucket.Put(keySyncState, data); err != nil {
			return fmt.Errorf("failed to save sync state: %w", err)
		}
		return nil
	})
}

// GetSyncState возвращает состояние синхронизации канала
func (s *Storage) GetSyncState(ctx context.Context, info models.ChannelInfo) (*storage.SyncState, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	state := &storage.SyncState{ServerVersion: weave.Version{}}

	err := s.db.View(func(tx *bbolt.Tx) error {
		chBucket := channelBucket(tx, info)
		if chBucket == nil {
			return nil
		}
		data := chBucket.Get(keySyncState)
		if data == nil {
			// Состояние не найдено: первая синхронизация
			return nil
		}
		if err := json.Unmarshal(data, state); err != nil {
			return fmt.Errorf("failed to unmarshal sync state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if state.ServerVersion == nil {
		state.ServerVersion = weave.Version{}
	}
	return state, nil
}

func channelBucket(tx *bbolt.Tx, info models.ChannelInfo) *bbolt.Bucket {
	bucket := tx.Bucket(bucketChannels)
	if bucket == nil {
		return nil
	}
	return bucket.Bucket([]byte(info.Key()))
}

func ensureChannel(tx *bbolt.Tx, info models.ChannelInfo) (*bbolt.Bucket, error) {
	bucket := tx.Bucket(bucketChannels)
	if bucket == nil {
		return nil, fmt.Errorf("channels bucket not found")
	}
	chBucket, err := bucket.CreateBucketIfNotExists([]byte(info.Key()))
	if err != nil {
		return nil, fmt.Errorf("failed to create channel bucket %s: %w", info, err)
	}
	return chBucket, nil
}

func channelAtoms(tx *bbolt.Tx, info models.ChannelInfo) (*bbolt.Bucket, error) {
	chBucket, err := ensureChannel(tx, info)
	if err != nil {
		return nil, err
	}
	atomsBucket, err := chBucket.CreateBucketIfNotExists(bucketAtoms)
	if err != nil {
		return nil, fmt.Errorf("failed to create atoms bucket for %s: %w", info, err)
	}
	return atomsBucket, nil
}
