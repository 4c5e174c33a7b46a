package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Issuer значение поля iss в токенах устройств
const Issuer = "causaltree"

// ErrInvalidToken токен не прошел проверку подписи, срока или формата
var ErrInvalidToken = errors.New("invalid token")

// Claims представляет JWT claims токена устройства
type Claims struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	gojwt.RegisteredClaims
}

// Service выпускает и проверяет токены устройств (HS256)
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService создает новый JWT сервис.
// ttl == 0: токены без срока действия (отзываются удалением устройства).
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// IssueDeviceToken создает токен для устройства.
// Возвращает токен и время истечения (нулевое, если срок не ограничен).
func (s *Service) IssueDeviceToken(deviceID, name string) (string, time.Time, error) {
	if deviceID == "" {
		return "", time.Time{}, fmt.Errorf("device id is required")
	}

	now := time.Now()
	claims := Claims{
		DeviceID:   deviceID,
		DeviceName: name,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	// Срок действия только при заданном ttl
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = now.Add(s.ttl)
		claims.ExpiresAt = gojwt.NewNumericDate(expiresAt)
	}

	// Создаем подпись
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Validate проверяет подпись, срок действия и издателя токена
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := gojwt.ParseWithClaims(tokenString, &Claims{}, func(token *gojwt.Token) (interface{}, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, gojwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// Парсим claims
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
