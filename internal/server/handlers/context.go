package handlers

import (
	"context"
	"time"

	"github.com/iudanet/causaltree/internal/models"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// DeviceIDKey ключ для хранения device_id в контексте
	DeviceIDKey contextKey = "device_id"
	// DeviceNameKey ключ для хранения имени устройства в контексте
	DeviceNameKey contextKey = "device_name"
)

// WithDevice добавляет данные устройства из токена в контекст
func WithDevice(ctx context.Context, deviceID, name string) context.Context {
	ctx = context.WithValue(ctx, DeviceIDKey, deviceID)
	return context.WithValue(ctx, DeviceNameKey, name)
}

// GetDeviceID извлекает device_id из контекста запроса
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(DeviceIDKey).(string)
	return deviceID, ok && deviceID != ""
}

// deviceFromContext собирает models.Device для решений авторизации
func deviceFromContext(ctx context.Context, remoteAddr string) (models.Device, bool) {
	deviceID, ok := GetDeviceID(ctx)
	if !ok {
		return models.Device{}, false
	}
	name, _ := ctx.Value(DeviceNameKey).(string)

	return models.Device{
		ID:          deviceID,
		Name:        name,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}, true
}
