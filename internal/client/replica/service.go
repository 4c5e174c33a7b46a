// Package replica работает с локальными репликами каналов: загрузка, локальные изменения, сохранение.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/client/storage"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/stores"
	"github.com/iudanet/causaltree/internal/validation"
	"github.com/iudanet/causaltree/internal/weave"
)

var (
	// ErrUnsupportedOperation операция не определена для типа канала
	ErrUnsupportedOperation = errors.New("operation not supported by channel type")

	// ErrTargetNotFound удаляемый ключ или элемент отсутствует
	ErrTargetNotFound = errors.New("target not found")
)

// Service локальные операции над репликами каналов
type Service struct {
	replicas storage.ReplicaStorage
	meta     storage.MetadataStorage
	registry *channel.Registry
}

// NewService creates a new replica service
func NewService(replicas storage.ReplicaStorage, meta storage.MetadataStorage, registry *channel.Registry) *Service {
	return &Service{
		replicas: replicas,
		meta:     meta,
		registry: registry,
	}
}

// Open восстанавливает канал из локальной реплики.
// Канал без реплики открывается пустым; site назначается, если сервер его уже выдал.
func (s *Service) Open(ctx context.Context, info models.ChannelInfo) (*channel.Channel, error) {
	if err := validation.ValidateChannel(info); err != nil {
		return nil, err
	}

	// Реплика открывается заново на каждую синхронизацию, буфер ожидания не переживает
	// вызов. Сервер присылает полную разность, поэтому недостающий предыдущий атом узла
	// уже не придет: ждать его дольше одного Merge незачем.
	ch, err := channel.Open(s.registry, info, weave.WithRetryBudget(0))
	if err != nil {
		return nil, err
	}

	atoms, err := s.replicas.LoadAtoms(ctx, info)
	if err != nil && !errors.Is(err, storage.ErrChannelNotFound) {
		return nil, fmt.Errorf("failed to load replica %s: %w", info, err)
	}
	if err := ch.Load(atoms); err != nil {
		return nil, fmt.Errorf("replica %s is corrupted: %w", info, err)
	}

	site, err := s.meta.GetSite(ctx)
	switch {
	case errors.Is(err, storage.ErrSiteNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get site: %w", err)
	default:
		if err := ch.SetSite(site); err != nil {
			return nil, err
		}
	}

	return ch, nil
}

// Append создает атом в локальной реплике; на сервер он уйдет при следующей синхронизации
func (s *Service) Append(ctx context.Context, info models.ChannelInfo, parent *weave.AtomID, payload weave.Payload) (weave.Atom, error) {
	ch, err := s.Open(ctx, info)
	if err != nil {
		return weave.Atom{}, err
	}
	return s.append(ctx, ch, parent, payload)
}

func (s *Service) append(ctx context.Context, ch *channel.Channel, parent *weave.AtomID, payload weave.Payload) (weave.Atom, error) {
	atom, err := ch.Append(parent, payload)
	if err != nil {
		return weave.Atom{}, err
	}

	if err := s.replicas.SaveAtoms(ctx, ch.Info(), []weave.Atom{atom}); err != nil {
		return weave.Atom{}, fmt.Errorf("failed to save atom: %w", err)
	}
	return atom, nil
}

// Set записывает значение ключа в канал lwwmap.
// Новая запись ссылается на текущее значение ключа, если оно есть.
func (s *Service) Set(ctx context.Context, info models.ChannelInfo, key string, value json.RawMessage) (weave.Atom, error) {
	if info.Type != stores.LWWMapTypeName {
		return weave.Atom{}, fmt.Errorf("set on %s: %w", info.Type, ErrUnsupportedOperation)
	}

	ch, err := s.Open(ctx, info)
	if err != nil {
		return weave.Atom{}, err
	}

	data, err := json.Marshal(stores.SetData{Key: key, Value: value})
	if err != nil {
		return weave.Atom{}, fmt.Errorf("failed to marshal set data: %w", err)
	}

	var parent *weave.AtomID
	if entry, ok := mapEntries(ch)[key]; ok {
		parent = &entry.ID
	}

	return s.append(ctx, ch, parent, weave.Payload{Kind: stores.KindSet, Data: data})
}

// Insert вставляет значение в канал list на позицию index; index < 0: в конец
func (s *Service) Insert(ctx context.Context, info models.ChannelInfo, index int, value json.RawMessage) (weave.Atom, error) {
	if info.Type != stores.ListTypeName {
		return weave.Atom{}, fmt.Errorf("insert on %s: %w", info.Type, ErrUnsupportedOperation)
	}

	ch, err := s.Open(ctx, info)
	if err != nil {
		return weave.Atom{}, err
	}

	items := listItems(ch)
	if index < 0 || index > len(items) {
		index = len(items)
	}

	// родитель вставки: предыдущий видимый элемент, для головы списка: nil
	var parent *weave.AtomID
	if index > 0 {
		parent = &items[index-1].ID
	}

	data, err := json.Marshal(stores.InsertData{Value: value})
	if err != nil {
		return weave.Atom{}, fmt.Errorf("failed to marshal insert data: %w", err)
	}

	return s.append(ctx, ch, parent, weave.Payload{Kind: stores.KindInsert, Data: data})
}

// Remove удаляет ключ канала lwwmap или элемент канала list (target: индекс)
func (s *Service) Remove(ctx context.Context, info models.ChannelInfo, target string) (weave.Atom, error) {
	ch, err := s.Open(ctx, info)
	if err != nil {
		return weave.Atom{}, err
	}

	var id weave.AtomID
	switch info.Type {
	case stores.LWWMapTypeName:
		entry, ok := mapEntries(ch)[target]
		if !ok {
			return weave.Atom{}, fmt.Errorf("key %q: %w", target, ErrTargetNotFound)
		}
		id = entry.ID
	case stores.ListTypeName:
		index, err := strconv.Atoi(target)
		if err != nil {
			return weave.Atom{}, fmt.Errorf("list index %q: %w", target, err)
		}
		items := listItems(ch)
		if index < 0 || index >= len(items) {
			return weave.Atom{}, fmt.Errorf("index %d of %d items: %w", index, len(items), ErrTargetNotFound)
		}
		id = items[index].ID
	default:
		return weave.Atom{}, fmt.Errorf("delete on %s: %w", info.Type, ErrUnsupportedOperation)
	}

	return s.append(ctx, ch, &id, weave.Payload{Kind: stores.KindDelete})
}

// Site возвращает узел реплики; ok == false до первой синхронизации
func (s *Service) Site(ctx context.Context) (site weave.SiteID, ok bool, err error) {
	site, err = s.meta.GetSite(ctx)
	switch {
	case errors.Is(err, storage.ErrSiteNotFound):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to get site: %w", err)
	}
	return site, true, nil
}

// Channels возвращает каналы с локальной репликой
func (s *Service) Channels(ctx context.Context) ([]models.ChannelInfo, error) {
	return s.replicas.ListChannels(ctx)
}

func mapEntries(ch *channel.Channel) map[string]stores.MapEntry {
	entries, _ := ch.State().(map[string]stores.MapEntry)
	return entries
}

func listItems(ch *channel.Channel) []stores.ListItem {
	items, _ := ch.State().([]stores.ListItem)
	return items
}
