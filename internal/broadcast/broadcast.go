// Package broadcast рассылает примененные атомы между экземплярами сервера,
// которые обслуживают одни и те же каналы.
package broadcast

import (
	"context"
	"errors"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

// ErrClosed возвращается после закрытия брокера
var ErrClosed = errors.New("broadcaster closed")

// Message атомы, примененные к каналу на экземпляре Origin
type Message struct {
	Origin  string             `json:"origin"`
	Channel models.ChannelInfo `json:"channel"`
	Atoms   []weave.Atom       `json:"atoms"`
}

// Broadcaster транспорт рассылки между экземплярами
type Broadcaster interface {
	// Publish отправляет сообщение всем подписчикам, включая отправителя
	Publish(ctx context.Context, msg Message) error
	// Listen вызывает handler для каждого сообщения до отмены ctx
	Listen(ctx context.Context, handler func(Message)) error
}
