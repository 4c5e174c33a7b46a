package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/causaltree/internal/authz"
	"github.com/iudanet/causaltree/internal/broadcast"
	"github.com/iudanet/causaltree/internal/metrics"
	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/server"
	"github.com/iudanet/causaltree/internal/server/handlers"
	"github.com/iudanet/causaltree/internal/server/jwt"
	"github.com/iudanet/causaltree/internal/server/middleware"
	"github.com/iudanet/causaltree/internal/server/storage"
	"github.com/iudanet/causaltree/internal/server/storage/sqlite"
	"github.com/iudanet/causaltree/internal/session"
	"github.com/iudanet/causaltree/internal/stores"
	"github.com/iudanet/causaltree/internal/validation"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Show version and exit if requested
	if cfg.ShowVersion {
		printVersion()
		os.Exit(0)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	db, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	tokens := jwt.NewService(cfg.JWTSecret, cfg.TokenTTL)

	// Административные команды выполняются и завершают процесс
	switch {
	case cfg.IssueToken != "":
		return issueToken(ctx, db, tokens, cfg.IssueToken)
	case cfg.Revoke != "":
		if err := db.DeleteDevice(ctx, cfg.Revoke); err != nil {
			return fmt.Errorf("failed to revoke device: %w", err)
		}
		fmt.Printf("Device %s revoked\n", cfg.Revoke)
		return nil
	case len(cfg.Grants) > 0:
		return saveGrants(ctx, db, cfg.Grants)
	}

	return serve(ctx, cfg, logger, db, tokens)
}

func serve(ctx context.Context, cfg *Config, logger *slog.Logger, db *sqlite.Storage, tokens *jwt.Service) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Каждый запуск получает свой узел: несколько экземпляров на общей БД не делят Seq
	localSite, err := db.AllocateSite(ctx, storage.ServerDeviceID)
	if err != nil {
		return fmt.Errorf("failed to allocate server site: %w", err)
	}

	policyOpts := []authz.PolicyOption{authz.WithMaxPayloadBytes(cfg.MaxPayload)}
	if cfg.RequireOwnSite {
		policyOpts = append(policyOpts, authz.WithRequireOwnSite())
	}
	policy := authz.NewPolicy(db, logger, policyOpts...)

	hubOpts := []session.HubOption{
		session.WithWeaveStore(db),
		session.WithSiteAllocator(db),
		session.WithMetrics(m),
		session.WithLocalSite(localSite),
		session.WithRetryBudget(cfg.RetryBudget),
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}()

		fanout, err := broadcast.NewRedis(ctx, client, cfg.RedisTopic, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		hubOpts = append(hubOpts, session.WithBroadcaster(fanout))
		logger.Info("Cross-instance fan-out enabled", "redis", cfg.RedisAddr, "topic", cfg.RedisTopic)
	}

	hub := session.NewHub(stores.Registry(), policy, logger, hubOpts...)

	routerCfg := server.Config{
		Logger:   logger,
		Hub:      hub,
		Tokens:   tokens,
		Lister:   db,
		DB:       db,
		Metrics:  m,
		Gatherer: reg,
		Version:  Version,
		Channel: []handlers.ChannelOption{
			handlers.WithRequestTimeout(cfg.RequestTimeout),
			handlers.WithPingInterval(cfg.PingInterval),
		},
	}
	if cfg.CheckDevices {
		routerCfg.Devices = db
	}
	if cfg.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
		defer limiter.Stop()
		routerCfg.RateLimiter = limiter
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting",
			"addr", cfg.Addr,
			"version", Version,
			"site", localSite,
			"channel_types", stores.Registry().Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// issueToken регистрирует устройство и печатает его токен
func issueToken(ctx context.Context, devices storage.DeviceStorage, tokens *jwt.Service, name string) error {
	if err := validation.ValidateDeviceName(name); err != nil {
		return err
	}

	device := &models.Device{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := devices.CreateDevice(ctx, device); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}

	token, expiresAt, err := tokens.IssueDeviceToken(device.ID, device.Name)
	if err != nil {
		return err
	}

	fmt.Printf("Device ID: %s\n", device.ID)
	if !expiresAt.IsZero() {
		fmt.Printf("Expires:   %s\n", expiresAt.Format(time.RFC3339))
	}
	fmt.Printf("Token:     %s\n", token)
	return nil
}

func saveGrants(ctx context.Context, grants storage.GrantStorage, list grantList) error {
	for _, g := range list {
		grant := g
		grant.CreatedAt = time.Now()
		if err := grants.SaveGrant(ctx, &grant); err != nil {
			return fmt.Errorf("failed to save grant %s: %w", formatGrant(g), err)
		}
		fmt.Printf("Granted %s\n", formatGrant(g))
	}
	return nil
}

func printVersion() {
	fmt.Printf("Causaltree Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
