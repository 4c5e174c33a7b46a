package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_IssueAndValidate(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, expiresAt, err := svc.IssueDeviceToken("dev-1", "laptop")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", claims.DeviceID)
	assert.Equal(t, "laptop", claims.DeviceName)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestService_NoExpiry(t *testing.T) {
	svc := NewService("test-secret", 0)

	token, expiresAt, err := svc.IssueDeviceToken("dev-1", "")
	require.NoError(t, err)
	assert.True(t, expiresAt.IsZero())

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestService_Validate_Errors(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	good, _, err := svc.IssueDeviceToken("dev-1", "laptop")
	require.NoError(t, err)

	expired, _, err := NewService("test-secret", -time.Minute).IssueDeviceToken("dev-1", "laptop")
	require.NoError(t, err)

	foreign, _, err := NewService("other-secret", time.Hour).IssueDeviceToken("dev-1", "laptop")
	require.NoError(t, err)

	noneSigned, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, Claims{DeviceID: "dev-1"}).
		SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	otherIssuer, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, Claims{
		DeviceID:         "dev-1",
		RegisteredClaims: gojwt.RegisteredClaims{Issuer: "someone-else"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: expired},
		{name: "wrong secret", token: foreign},
		{name: "alg none", token: noneSigned},
		{name: "wrong issuer", token: otherIssuer},
		{name: "tampered", token: good + "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestService_IssueRequiresDeviceID(t *testing.T) {
	_, _, err := NewService("s", time.Hour).IssueDeviceToken("", "x")
	assert.Error(t, err)
}
