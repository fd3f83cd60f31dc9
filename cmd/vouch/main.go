package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zombor/vouch/internal/config"
	"github.com/zombor/vouch/internal/receipt"
	"github.com/zombor/vouch/internal/scanning"
	"github.com/zombor/vouch/internal/search"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	cfg, err := config.Parse("vouch", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.SetDefault(cfg.Logger(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (receipt.Store, error) {
	switch cfg.Store {
	case config.StoreMongo:
		slog.Info("Connecting to MongoDB...", "database", cfg.MongoDB)
		return receipt.NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDB)
	default:
		slog.Info("Initializing database...", "path", cfg.DBPath)
		return receipt.NewBoltDB(cfg.DBPath)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	slog.Info("Initializing storage...", "path", cfg.StoragePath)
	archive, err := receipt.NewLocalArchive(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	opts := []search.Option{search.WithIndexName(cfg.OpenSearch.Index), search.WithRefresh(cfg.OpenSearch.Refresh)}
	if cfg.OpenSearch.Username != "" {
		opts = append(opts, search.WithCredentials(cfg.OpenSearch.Username, cfg.OpenSearch.Password))
	}
	if cfg.OpenSearch.Insecure {
		opts = append(opts, search.WithInsecureSkipVerify())
	}
	index, err := search.New(cfg.OpenSearch.URLs, opts...)
	if err != nil {
		return err
	}
	if err := index.EnsureIndex(ctx); err != nil {
		// Search is degraded, not fatal: receipts are still saved and can be reindexed.
		slog.Warn("Could not prepare search index", "index", index.Name(), "error", err)
	}

	prompt, err := scanning.LoadPrompt(cfg.PromptFile)
	if err != nil {
		return err
	}
	scanCfg := cfg.Scanning
	scanCfg.Prompt = prompt
	scanCfg.Rasterizer = scanning.FitzRasterizer{}

	slog.Info("Initializing scanner...", "provider", cfg.Provider)
	scanner, err := scanning.New(cfg.Provider, scanCfg)
	if err != nil {
		return fmt.Errorf("initializing %s scanner: %w", cfg.Provider, err)
	}
	defer scanner.Close()

	service := receipt.NewService(store, index, scanner,
		receipt.WithArchive(archive),
		receipt.WithProvider(cfg.Provider),
		receipt.WithRetries(cfg.ScanRetries, cfg.ScanBackoff),
	)
	server := receipt.NewServer(service, receipt.ServerConfig{
		MaxUploadSize:     cfg.MaxUploadSize,
		AllowedExtensions: cfg.AllowedExtensions,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("Server started", "address", cfg.Addr, "version", version, "llm_provider", cfg.Provider, "store", cfg.Store)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
