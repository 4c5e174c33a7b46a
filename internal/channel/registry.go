package channel

import (
	"errors"
	"fmt"
	"sort"

	"github.com/iudanet/causaltree/internal/weave"
)

// ErrUnknownChannelType indicates that no store type is registered under the requested name
var ErrUnknownChannelType = errors.New("unknown channel type")

// Store проекция weave в состояние приложения.
// Fold применяет один атом; атомы подаются в каноническом порядке weave.
// Fold обязан быть детерминированным: пересборка с нуля дает то же состояние,
// что и инкрементальное применение.
type Store interface {
	Fold(atom weave.Atom)
	State() any
}

// StoreType описывает тип канала: конструктор пустого состояния и проверку payload.
type StoreType struct {
	New      func() Store
	Validate weave.Validator
	Name     string
}

// Registry сопоставляет имя типа канала с StoreType.
// Передается явно в конструкторы каналов и сессий.
type Registry struct {
	types map[string]StoreType
}

// NewRegistry создает реестр с указанными типами
func NewRegistry(types ...StoreType) *Registry {
	r := &Registry{types: make(map[string]StoreType, len(types))}
	for _, t := range types {
		r.Register(t)
	}
	return r
}

// Register добавляет или заменяет тип канала
func (r *Registry) Register(t StoreType) {
	r.types[t.Name] = t
}

// Lookup возвращает тип канала по имени
func (r *Registry) Lookup(name string) (StoreType, error) {
	t, ok := r.types[name]
	if !ok {
		return StoreType{}, fmt.Errorf("%w: %q", ErrUnknownChannelType, name)
	}
	return t, nil
}

// Names возвращает отсортированный список зарегистрированных типов
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
