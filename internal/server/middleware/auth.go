package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/server/handlers"
	"github.com/iudanet/causaltree/internal/server/jwt"
	"github.com/iudanet/causaltree/internal/server/storage"
)

// DeviceChecker проверяет, что устройство из токена не отозвано
type DeviceChecker interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

// AuthMiddleware создает middleware для проверки токена устройства.
// devices может быть nil: тогда достаточно валидной подписи токена.
func AuthMiddleware(logger *slog.Logger, tokens *jwt.Service, devices DeviceChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем токен из заголовка Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header")
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("Invalid Authorization header format")
				http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
				return
			}

			// Валидируем токен
			claims, err := tokens.Validate(parts[1])
			if err != nil {
				logger.Warn("Invalid device token", "error", err)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			// Отозванное устройство не проходит даже с валидным токеном
			if devices != nil {
				if _, err := devices.GetDevice(r.Context(), claims.DeviceID); err != nil {
					if errors.Is(err, storage.ErrDeviceNotFound) {
						logger.Warn("Token of revoked device", "device_id", claims.DeviceID)
						http.Error(w, "Unauthorized: device revoked", http.StatusUnauthorized)
						return
					}
					logger.Error("Failed to check device", "device_id", claims.DeviceID, "error", err)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return
				}
			}

			// Добавляем данные из токена в контекст
			ctx := handlers.WithDevice(r.Context(), claims.DeviceID, claims.DeviceName)

			logger.Debug("Device authenticated", "device_id", claims.DeviceID, "device_name", claims.DeviceName)

			// Передаем запрос дальше с обновленным контекстом
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
