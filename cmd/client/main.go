package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/causaltree/internal/client/api"
	"github.com/iudanet/causaltree/internal/client/cli"
	"github.com/iudanet/causaltree/internal/client/iocli"
	"github.com/iudanet/causaltree/internal/client/replica"
	"github.com/iudanet/causaltree/internal/client/storage/boltdb"
	"github.com/iudanet/causaltree/internal/client/sync"
	"github.com/iudanet/causaltree/internal/stores"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

const defaultServer = "http://localhost:8080"

func main() {
	os.Exit(run())
}

func run() int {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", envOr("CAUSALTREE_SERVER", defaultServer), "Server URL")
	dbPath := flag.String("db", envOr("CAUSALTREE_DB", "causaltree-client.db"), "Path to local replica database")
	verbose := flag.Bool("v", false, "Log synchronization details to stderr")
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		return 0
	}

	stdio := iocli.NewStdio()

	// Получаем команду
	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage(stdio)
		return 1
	}

	// Создаем контекст
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Открываем BoltDB storage
	boltStorage, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	// без явного -server используется сервер, для которого сохранен токен
	server := *serverURL
	if !flagSet("server") && os.Getenv("CAUSALTREE_SERVER") == "" {
		if auth, err := boltStorage.GetAuth(ctx); err == nil && auth.ServerURL != "" {
			server = auth.ServerURL
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	// Создаем API клиент и сервисы
	apiClient := api.NewClient(server)
	local := replica.NewService(boltStorage, boltStorage, stores.Registry())
	syncService := sync.NewService(apiClient, boltStorage, boltStorage, local, logger)
	app := cli.New(stdio, apiClient, boltStorage, local, syncService, server)

	// Выполняем команду
	if err := app.Run(ctx, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, cli.ErrUsage) {
			cli.PrintUsage(stdio)
		}
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func printVersion() {
	fmt.Printf("Causaltree Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
