package stores

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/weave"
)

// LWWMapTypeName имя типа канала "ключ-значение"
const LWWMapTypeName = "lwwmap"

// KindSet запись значения по ключу
const KindSet = "set"

// SetData данные атома set
type SetData struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// MapEntry значение ключа вместе с атомом, который его записал
type MapEntry struct {
	Value json.RawMessage `json:"value"`
	ID    weave.AtomID    `json:"id"`
}

// register состояние одного ключа. Удаление: тоже запись (tombstone).
type register struct {
	value   json.RawMessage
	id      weave.AtomID
	deleted bool
}

// LWWMap Last-Write-Wins map поверх weave.
//
// Каждый ключ: LWW-регистр: побеждает запись с большим (timestamp, site).
// Атом delete: tombstone атома set; он записывает удаление того же ключа
// со своим идентификатором, поэтому конкурентный более новый set его переживает.
// Результат не зависит от порядка свертки.
type LWWMap struct {
	keys  map[string]*register
	keyOf map[weave.AtomID]string // ключ каждого атома set, на который может сослаться delete
}

// NewLWWMap создает пустую проекцию
func NewLWWMap() *LWWMap {
	return &LWWMap{
		keys:  make(map[string]*register),
		keyOf: make(map[weave.AtomID]string),
	}
}

// LWWMapType возвращает описание типа канала lwwmap
func LWWMapType() channel.StoreType {
	return channel.StoreType{
		Name:     LWWMapTypeName,
		New:      func() channel.Store { return NewLWWMap() },
		Validate: validateLWWMap,
	}
}

func validateLWWMap(parent *weave.AtomID, p weave.Payload) error {
	switch p.Kind {
	case KindSet:
		var data SetData
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return fmt.Errorf("set data: %w", err)
		}
		if data.Key == "" {
			return errors.New("set requires a non-empty key")
		}
		return nil
	case KindDelete:
		return checkTombstone(parent, p)
	default:
		return fmt.Errorf("unsupported kind %q for %s", p.Kind, LWWMapTypeName)
	}
}

// Fold применяет атом к проекции
func (m *LWWMap) Fold(atom weave.Atom) {
	switch atom.Payload.Kind {
	case KindSet:
		var data SetData
		if err := json.Unmarshal(atom.Payload.Data, &data); err != nil {
			return
		}
		m.keyOf[atom.ID] = data.Key
		m.write(data.Key, &register{value: data.Value, id: atom.ID})
	case KindDelete:
		if atom.Parent == nil {
			return
		}
		// delete, ссылающийся не на set, ничего не удаляет
		key, ok := m.keyOf[*atom.Parent]
		if !ok {
			return
		}
		m.write(key, &register{id: atom.ID, deleted: true})
	}
}

// write применяет правило LWW: запись принимается, если она новее текущей
func (m *LWWMap) write(key string, r *register) {
	current, ok := m.keys[key]
	if ok && !r.id.Before(current.id) {
		return
	}
	m.keys[key] = r
}

// State возвращает снимок map[string]MapEntry без удаленных ключей
func (m *LWWMap) State() any {
	return m.Entries()
}

// Entries возвращает копию неудаленных значений
func (m *LWWMap) Entries() map[string]MapEntry {
	out := make(map[string]MapEntry, len(m.keys))
	for key, r := range m.keys {
		if r.deleted {
			continue
		}
		value := make(json.RawMessage, len(r.value))
		copy(value, r.value)
		out[key] = MapEntry{Value: value, ID: r.id}
	}
	return out
}

// Keys возвращает отсортированный список неудаленных ключей
func (m *LWWMap) Keys() []string {
	keys := make([]string, 0, len(m.keys))
	for key, r := range m.keys {
		if !r.deleted {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
