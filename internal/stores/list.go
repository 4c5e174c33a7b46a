package stores

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/weave"
)

// ListTypeName имя типа канала "последовательность"
const ListTypeName = "list"

// KindInsert вставка элемента после родителя (nil: в начало списка)
const KindInsert = "insert"

// InsertData данные атома insert
type InsertData struct {
	Value json.RawMessage `json:"value"`
}

// ListItem видимый элемент списка
type ListItem struct {
	Value json.RawMessage `json:"value"`
	ID    weave.AtomID    `json:"id"`
}

type listElem struct {
	value   json.RawMessage
	id      weave.AtomID
	deleted bool
}

// List RGA-последовательность: порядок элементов совпадает с каноническим порядком weave,
// так как родитель вставки: предыдущий элемент, а более новые соседи идут первыми.
type List struct {
	index map[weave.AtomID]int
	elems []listElem
}

// NewList создает пустой список
func NewList() *List {
	return &List{index: make(map[weave.AtomID]int)}
}

// ListType возвращает описание типа канала list
func ListType() channel.StoreType {
	return channel.StoreType{
		Name:     ListTypeName,
		New:      func() channel.Store { return NewList() },
		Validate: validateList,
	}
}

func validateList(parent *weave.AtomID, p weave.Payload) error {
	switch p.Kind {
	case KindInsert:
		var data InsertData
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return fmt.Errorf("insert data: %w", err)
		}
		if len(data.Value) == 0 {
			return errors.New("insert requires a value")
		}
		return nil
	case KindDelete:
		return checkTombstone(parent, p)
	default:
		return fmt.Errorf("unsupported kind %q for %s", p.Kind, ListTypeName)
	}
}

// Fold применяет атом к списку
func (l *List) Fold(atom weave.Atom) {
	switch atom.Payload.Kind {
	case KindInsert:
		var data InsertData
		if err := json.Unmarshal(atom.Payload.Data, &data); err != nil {
			return
		}
		l.index[atom.ID] = len(l.elems)
		l.elems = append(l.elems, listElem{value: data.Value, id: atom.ID})
	case KindDelete:
		if atom.Parent == nil {
			return
		}
		if i, ok := l.index[*atom.Parent]; ok {
			l.elems[i].deleted = true
		}
	}
}

// State возвращает снимок []ListItem без удаленных элементов
func (l *List) State() any {
	return l.Items()
}

// Items возвращает копию видимых элементов по порядку
func (l *List) Items() []ListItem {
	out := make([]ListItem, 0, len(l.elems))
	for _, e := range l.elems {
		if e.deleted {
			continue
		}
		value := make(json.RawMessage, len(e.value))
		copy(value, e.value)
		out = append(out, ListItem{Value: value, ID: e.id})
	}
	return out
}

// Last возвращает идентификатор последнего элемента (включая удаленные),
// после которого добавляется новый элемент в конец.
func (l *List) Last() (weave.AtomID, bool) {
	if len(l.elems) == 0 {
		return weave.AtomID{}, false
	}
	return l.elems[len(l.elems)-1].id, true
}
