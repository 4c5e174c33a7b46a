package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/server/jwt"
	"github.com/iudanet/causaltree/internal/server/storage/sqlite"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig([]string{"-jwt-secret", "s"}, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "causaltree.db", cfg.DBPath)
	assert.Equal(t, time.Duration(0), cfg.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.RetryBudget)
	assert.Equal(t, 65536, cfg.MaxPayload)
	assert.InDelta(t, 20.0, cfg.RateLimit, 0.001)
	assert.True(t, cfg.CheckDevices)
	assert.True(t, cfg.RequireOwnSite)
	assert.Empty(t, cfg.RedisAddr)
}

func TestParseConfig_EnvAndFlags(t *testing.T) {
	env := envMap(map[string]string{
		"CAUSALTREE_ADDR":         ":9000",
		"CAUSALTREE_JWT_SECRET":   "from-env",
		"CAUSALTREE_REDIS_ADDR":   "redis:6379",
		"CAUSALTREE_RETRY_BUDGET": "7",
		"CAUSALTREE_TOKEN_TTL":    "24h",
	})

	cfg, err := parseConfig([]string{"-addr", ":9100", "-retry-budget", "1"}, env)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Addr, "flag overrides env")
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 1, cfg.RetryBudget)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		env  map[string]string
		name string
		args []string
	}{
		{name: "missing secret", args: nil},
		{name: "bad duration env", args: []string{"-jwt-secret", "s"}, env: map[string]string{"CAUSALTREE_TOKEN_TTL": "soon"}},
		{name: "bad int env", args: []string{"-jwt-secret", "s"}, env: map[string]string{"CAUSALTREE_RATE_BURST": "many"}},
		{name: "bad log level", args: []string{"-jwt-secret", "s", "-log-level", "loud"}},
		{name: "bad grant", args: []string{"-jwt-secret", "s", "-grant", "dev:list/*:x"}},
		{name: "unknown flag", args: []string{"-jwt-secret", "s", "-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestParseConfig_VersionWithoutSecret(t *testing.T) {
	cfg, err := parseConfig([]string{"-version"}, envMap(nil))
	require.NoError(t, err)
	assert.True(t, cfg.ShowVersion)
}

func TestParseGrant(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    models.Grant
		wantErr bool
	}{
		{
			name:  "all permissions",
			value: "dev-1:list/*:law",
			want:  models.Grant{DeviceID: "dev-1", Pattern: "list/*", Load: true, Access: true, Write: true},
		},
		{
			name:  "read only",
			value: "dev-1:lwwmap/settings:la",
			want:  models.Grant{DeviceID: "dev-1", Pattern: "lwwmap/settings", Load: true, Access: true},
		},
		{name: "missing flags", value: "dev-1:list/*:", wantErr: true},
		{name: "missing pattern", value: "dev-1::law", wantErr: true},
		{name: "no separators", value: "dev-1", wantErr: true},
		{name: "one separator", value: "dev-1:list/*", wantErr: true},
		{name: "unknown flag", value: "dev-1:list/*:rw", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGrant(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.value, formatGrant(got))
		})
	}
}

func TestGrantList_Repeated(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-jwt-secret", "s",
		"-grant", "a:list/*:law",
		"-grant", "b:list/shared:la",
	}, envMap(nil))
	require.NoError(t, err)

	require.Len(t, cfg.Grants, 2)
	assert.Equal(t, "a:list/*:law,b:list/shared:la", cfg.Grants.String())
}

func TestIssueTokenAndGrants(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	tokens := jwt.NewService("s", 0)
	require.NoError(t, issueToken(ctx, db, tokens, "laptop"))
	assert.Error(t, issueToken(ctx, db, tokens, "bad name"))

	require.Error(t, saveGrants(ctx, db, grantList{{DeviceID: "ghost", Pattern: "list/*", Load: true}}),
		"grant for an unregistered device")
}
