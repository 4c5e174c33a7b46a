// Package authz решает, может ли устройство загрузить канал, открыть поток репликации
// и отправить конкретное событие. Проверки выполняются по порядку и прерываются на первом отказе.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

//go:generate moq -out authorizer_mock.go . Authorizer

// ErrUnauthorized возвращается (обернутым в DeniedError) при любом отказе
var ErrUnauthorized = errors.New("unauthorized")

// Gate этап проверки доступа
type Gate string

const (
	GateLoad   Gate = "load"
	GateAccess Gate = "access"
	GateEvent  Gate = "event"
)

// Event входящее событие репликации: атом от пира с назначенным ему узлом
type Event struct {
	Atom weave.Atom
	Site weave.SiteID // узел, закрепленный за сессией отправителя
}

// Authorizer проверяет доступ устройства к каналу.
// Реализации не должны иметь побочных эффектов и могут блокироваться на I/O,
// поэтому принимают context. Вызываются без удержания блокировки канала.
type Authorizer interface {
	// IsAllowedToLoad вызывается до создания канала
	IsAllowedToLoad(ctx context.Context, device models.Device, info models.ChannelInfo) error
	// IsAllowedAccess вызывается после загрузки, до начала обмена версиями
	IsAllowedAccess(ctx context.Context, device models.Device, loaded *channel.Channel) error
	// CanProcessEvent вызывается для каждого входящего атома перед слиянием
	CanProcessEvent(ctx context.Context, device models.Device, loaded *channel.Channel, event Event) error
}

// DeniedError описывает отказ в доступе
type DeniedError struct {
	Gate    Gate
	Device  string
	Channel string
	Reason  string
}

// Error реализует error
func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied for device %s on %s: %s", e.Gate, e.Device, e.Channel, e.Reason)
}

// Unwrap позволяет errors.Is(err, ErrUnauthorized)
func (e *DeniedError) Unwrap() error {
	return ErrUnauthorized
}

// Deny создает DeniedError
func Deny(gate Gate, device models.Device, info models.ChannelInfo, reason string) *DeniedError {
	return &DeniedError{
		Gate:    gate,
		Device:  device.ID,
		Channel: info.Key(),
		Reason:  reason,
	}
}

// AllowAll разрешает все. Используется в тестах и в локальном режиме.
type AllowAll struct{}

func (AllowAll) IsAllowedToLoad(context.Context, models.Device, models.ChannelInfo) error {
	return nil
}

func (AllowAll) IsAllowedAccess(context.Context, models.Device, *channel.Channel) error {
	return nil
}

func (AllowAll) CanProcessEvent(context.Context, models.Device, *channel.Channel, Event) error {
	return nil
}

// Chain требует разрешения от всех авторизаторов по порядку
type Chain []Authorizer

func (c Chain) IsAllowedToLoad(ctx context.Context, device models.Device, info models.ChannelInfo) error {
	for _, a := range c {
		if err := a.IsAllowedToLoad(ctx, device, info); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) IsAllowedAccess(ctx context.Context, device models.Device, loaded *channel.Channel) error {
	for _, a := range c {
		if err := a.IsAllowedAccess(ctx, device, loaded); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) CanProcessEvent(ctx context.Context, device models.Device, loaded *channel.Channel, event Event) error {
	for _, a := range c {
		if err := a.CanProcessEvent(ctx, device, loaded, event); err != nil {
			return err
		}
	}
	return nil
}
