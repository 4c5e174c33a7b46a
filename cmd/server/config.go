package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/causaltree/internal/models"
)

// envPrefix префикс переменных окружения сервера
const envPrefix = "CAUSALTREE_"

// Config конфигурация сервера. Флаг имеет приоритет над переменной окружения.
type Config struct {
	Addr           string
	DBPath         string
	JWTSecret      string
	RedisAddr      string
	RedisTopic     string
	LogLevel       string
	LogFormat      string
	IssueToken     string // имя устройства; выпустить токен и выйти
	Revoke         string // id устройства; отозвать и выйти
	Grants         grantList
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	PingInterval   time.Duration
	RateLimit      float64
	RateBurst      int
	RetryBudget    int
	MaxPayload     int
	ShowVersion    bool
	CheckDevices   bool
	RequireOwnSite bool
}

// grantList значения повторяемого флага -grant вида DEVICE_ID:PATTERN:FLAGS,
// где FLAGS: подмножество "law" (load, access, write)
type grantList []models.Grant

func (g *grantList) String() string {
	parts := make([]string, 0, len(*g))
	for _, grant := range *g {
		parts = append(parts, formatGrant(grant))
	}
	return strings.Join(parts, ",")
}

func (g *grantList) Set(value string) error {
	grant, err := parseGrant(value)
	if err != nil {
		return err
	}
	*g = append(*g, grant)
	return nil
}

func parseGrant(value string) (models.Grant, error) {
	first := strings.Index(value, ":")
	last := strings.LastIndex(value, ":")
	if first <= 0 || first == last {
		return models.Grant{}, fmt.Errorf("grant %q: expected DEVICE_ID:PATTERN:FLAGS", value)
	}

	grant := models.Grant{
		DeviceID: value[:first],
		Pattern:  value[first+1 : last],
	}
	if grant.Pattern == "" {
		return models.Grant{}, fmt.Errorf("grant %q: empty pattern", value)
	}

	flags := value[last+1:]
	if flags == "" {
		return models.Grant{}, fmt.Errorf("grant %q: no permissions", value)
	}
	for _, f := range flags {
		switch f {
		case 'l':
			grant.Load = true
		case 'a':
			grant.Access = true
		case 'w':
			grant.Write = true
		default:
			return models.Grant{}, fmt.Errorf("grant %q: unknown permission %q", value, f)
		}
	}

	return grant, nil
}

func formatGrant(g models.Grant) string {
	var flags strings.Builder
	if g.Load {
		flags.WriteByte('l')
	}
	if g.Access {
		flags.WriteByte('a')
	}
	if g.Write {
		flags.WriteByte('w')
	}
	return fmt.Sprintf("%s:%s:%s", g.DeviceID, g.Pattern, flags.String())
}

// parseConfig разбирает флаги; значения по умолчанию берутся из окружения
func parseConfig(args []string, getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := getenv(envPrefix + key); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("causaltree-server", flag.ContinueOnError)

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.StringVar(&cfg.Addr, "addr", env("ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", env("DB", "causaltree.db"), "Path to SQLite database")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", env("JWT_SECRET", ""), "Secret for device tokens (required)")
	fs.StringVar(&cfg.RedisAddr, "redis", env("REDIS_ADDR", ""), "Redis address for cross-instance fan-out (optional)")
	fs.StringVar(&cfg.RedisTopic, "redis-topic", env("REDIS_TOPIC", "causaltree:atoms"), "Redis pub/sub topic")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", env("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.IssueToken, "issue-token", "", "Register a device with this name, print its token and exit")
	fs.StringVar(&cfg.Revoke, "revoke", "", "Revoke device by id and exit")
	fs.Var(&cfg.Grants, "grant", "Grant DEVICE_ID:PATTERN:FLAGS (flags from \"law\"), repeatable; exits after saving")

	var err error
	durations := []struct {
		dst  *time.Duration
		name string
		key  string
		def  string
		help string
	}{
		{&cfg.TokenTTL, "token-ttl", "TOKEN_TTL", "0s", "Device token lifetime, 0 for no expiry"},
		{&cfg.RequestTimeout, "request-timeout", "REQUEST_TIMEOUT", "30s", "Sync request timeout"},
		{&cfg.PingInterval, "ping-interval", "PING_INTERVAL", "30s", "WebSocket ping interval"},
	}
	for _, d := range durations {
		def, perr := time.ParseDuration(env(d.key, d.def))
		if perr != nil {
			return nil, fmt.Errorf("invalid %s%s: %w", envPrefix, d.key, perr)
		}
		fs.DurationVar(d.dst, d.name, def, d.help)
	}

	ints := []struct {
		dst  *int
		name string
		key  string
		def  string
		help string
	}{
		{&cfg.RateBurst, "rate-burst", "RATE_BURST", "50", "Rate limiter burst per device"},
		{&cfg.RetryBudget, "retry-budget", "RETRY_BUDGET", "3", "Merges an atom may wait for a missing parent"},
		{&cfg.MaxPayload, "max-payload", "MAX_PAYLOAD", "65536", "Max atom data size in bytes, 0 for unlimited"},
	}
	for _, i := range ints {
		def, perr := strconv.Atoi(env(i.key, i.def))
		if perr != nil {
			return nil, fmt.Errorf("invalid %s%s: %w", envPrefix, i.key, perr)
		}
		fs.IntVar(i.dst, i.name, def, i.help)
	}

	rateDef, err := strconv.ParseFloat(env("RATE_LIMIT", "20"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %sRATE_LIMIT: %w", envPrefix, err)
	}
	fs.Float64Var(&cfg.RateLimit, "rate-limit", rateDef, "Requests per second per device, 0 to disable")

	checkDef, err := strconv.ParseBool(env("CHECK_DEVICES", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid %sCHECK_DEVICES: %w", envPrefix, err)
	}
	fs.BoolVar(&cfg.CheckDevices, "check-devices", checkDef, "Reject tokens of revoked devices")

	ownDef, err := strconv.ParseBool(env("REQUIRE_OWN_SITE", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid %sREQUIRE_OWN_SITE: %w", envPrefix, err)
	}
	fs.BoolVar(&cfg.RequireOwnSite, "require-own-site", ownDef, "Accept only atoms authored by the sender's site")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ShowVersion {
		return cfg, nil
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required (-jwt-secret or %sJWT_SECRET)", envPrefix)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func newLogger(cfg *Config) *slog.Logger {
	level, _ := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
