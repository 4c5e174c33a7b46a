package weave

import (
	"encoding/json"
	"fmt"
	"math"
)

// SiteID числовой идентификатор узла (пира), создающего атомы.
type SiteID uint32

// Timestamp логическое время Лампорта.
type Timestamp uint64

// MaxTimestamp наибольший допустимый timestamp. Ограничен int64, чтобы значение
// без потерь хранилось в INTEGER SQLite и следующий Tick не переполнялся незаметно.
const MaxTimestamp Timestamp = math.MaxInt64

// AtomID однозначно идентифицирует атом в weave.
// Seq: порядковый номер атома среди атомов своего узла, начиная с 1.
// Seq растет вместе с Timestamp; номера отклоненных атомов остаются пропусками.
type AtomID struct {
	Site      SiteID    `json:"site"`
	Timestamp Timestamp `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// String возвращает компактное представление идентификатора: site@timestamp#seq
func (id AtomID) String() string {
	return fmt.Sprintf("%d@%d#%d", id.Site, id.Timestamp, id.Seq)
}

// Before сообщает, должен ли атом id стоять раньше other среди детей одного родителя.
// Порядок: по убыванию (Timestamp, Site): более новые атомы и атомы с большим SiteID идут первыми.
func (id AtomID) Before(other AtomID) bool {
	if id.Timestamp != other.Timestamp {
		return id.Timestamp > other.Timestamp
	}
	return id.Site > other.Site
}

// Payload содержимое операции. Допустимые значения Kind определяются типом канала.
type Payload struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Clone создает глубокую копию payload
func (p Payload) Clone() Payload {
	var data json.RawMessage
	if p.Data != nil {
		data = make(json.RawMessage, len(p.Data))
		copy(data, p.Data)
	}
	return Payload{Kind: p.Kind, Data: data}
}

// Atom неизменяемая запись операции в weave.
// Parent == nil означает корневой атом.
type Atom struct {
	Parent  *AtomID `json:"parent"`
	Payload Payload `json:"payload"`
	ID      AtomID  `json:"id"`
}

// Clone создает глубокую копию атома
func (a Atom) Clone() Atom {
	return Atom{
		ID:      a.ID,
		Parent:  cloneID(a.Parent),
		Payload: a.Payload.Clone(),
	}
}

// IsRoot сообщает, что у атома нет причинного родителя.
func (a Atom) IsRoot() bool {
	return a.Parent == nil
}

func cloneID(id *AtomID) *AtomID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
