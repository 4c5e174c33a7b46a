package cli

import (
	"context"
	"fmt"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/causaltree/internal/client/storage"
)

// deviceClaims поля токена, которые клиент показывает пользователю.
// Подпись проверяет только сервер.
type deviceClaims struct {
	DeviceID string `json:"device_id"`
	gojwt.RegisteredClaims
}

func (c *Cli) runLogin(ctx context.Context, args []string) error {
	c.io.Println("=== Login ===")
	c.io.Println()

	// Запрашиваем токен, если он не передан аргументом
	var token string
	switch len(args) {
	case 0:
		var err error
		token, err = c.io.ReadPassword("Device token: ")
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	case 1:
		token = args[0]
	default:
		return fmt.Errorf("%w: login [TOKEN]", ErrUsage)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	// Читаем claims без проверки подписи
	var claims deviceClaims
	if _, _, err := gojwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("malformed device token: %w", err)
	}

	// сервер должен быть доступен; права токена проверятся при первой синхронизации
	health, err := c.apiClient.Health(ctx)
	if err != nil {
		return fmt.Errorf("server is unreachable: %w", err)
	}

	authData := &storage.AuthData{
		ServerURL: c.serverURL,
		Token:     token,
		DeviceID:  claims.DeviceID,
	}
	if claims.ExpiresAt != nil {
		authData.ExpiresAt = claims.ExpiresAt.Unix()
	}

	// Сохраняем токен
	if err := c.auth.SaveAuth(ctx, authData); err != nil {
		return fmt.Errorf("failed to save auth data: %w", err)
	}

	c.io.Println("✓ Login successful!")
	c.io.Printf("Device: %s\n", claims.DeviceID)
	c.io.Printf("Server: %s (version %s)\n", c.serverURL, health.Version)
	if authData.ExpiresAt != 0 {
		c.io.Printf("Token expires: %s\n", formatUnix(authData.ExpiresAt))
	}

	return nil
}
