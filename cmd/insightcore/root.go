package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/insightlabs/insightcore/internal/api"
	"github.com/insightlabs/insightcore/internal/cluster"
	"github.com/insightlabs/insightcore/internal/config"
	"github.com/insightlabs/insightcore/internal/encoding"
	"github.com/insightlabs/insightcore/internal/enrich"
	"github.com/insightlabs/insightcore/internal/metrics"
	"github.com/insightlabs/insightcore/internal/store"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "insightcore",
	Short: "InsightCore - Community Insights Service",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides INSIGHT_CONFIG_PATH)")

	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(cfg)
	slog.Info("configuration loaded", "vertical", cfg.Vertical)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	encoder, err := buildEncoder(cfg)
	if err != nil {
		return err
	}
	defer encoder.Close()
	slog.Info("encoder initialized",
		"provider", cfg.Embedding.Provider,
		"model", encoder.ModelName(),
		"dimensions", encoder.Dimensions(),
	)

	collector := &metrics.Basic{}
	classifier := enrich.NewKeywordClassifier()
	runner := enrich.NewBatchRunner(db, encoder, classifier, collector,
		cfg.Vertical,
		cfg.Enrich.MaxWords,
		time.Duration(cfg.Enrich.EncodeTimeout),
		time.Duration(cfg.Server.QueryTimeout),
		cfg.Enrich.MaxAttempts,
	)
	driver := enrich.NewDriver(db, runner, collector,
		cfg.Vertical,
		cfg.Enrich.BatchSize,
		cfg.Enrich.BatchLimit,
		time.Duration(cfg.Enrich.Cooldown),
		time.Duration(cfg.Server.QueryTimeout),
	)
	clusterer := cluster.NewPipeline(db, cfg.Vertical)

	handler := api.NewHandler(api.HandlerConfig{
		Store:        db,
		Encoder:      encoder,
		Enricher:     driver,
		Clusterer:    clusterer,
		Collector:    collector,
		Vertical:     cfg.Vertical,
		Version:      Version,
		InternalKey:  cfg.Auth.InternalKey,
		CountTimeout: time.Duration(cfg.Server.CountTimeout),
		QueryTimeout: time.Duration(cfg.Server.QueryTimeout),
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	enrichWorker := enrich.NewWorker(driver, time.Duration(cfg.Enrich.Interval))
	startWorker(ctx, &wg, "enrich", enrichWorker.Run)

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}

	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildEncoder selects the embedding provider and wraps it in the
// bounded encode pool.
func buildEncoder(cfg *config.Config) (*encoding.Pooled, error) {
	var inner encoding.Encoder
	switch cfg.Embedding.Provider {
	case "local":
		inner = encoding.NewLocal(cfg.Embedding.Dimensions)
	default:
		inner = encoding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	}
	return encoding.NewPooled(inner, cfg.Embedding.PoolSize)
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
