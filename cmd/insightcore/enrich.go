package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/insightlabs/insightcore/internal/enrich"
	"github.com/insightlabs/insightcore/internal/metrics"
	"github.com/insightlabs/insightcore/internal/store"
)

var enrichLimit int

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one enrichment pass and exit",
	Long:  "Select pending posts, embed and classify them in batches, then print the run summary.",
	RunE:  runEnrich,
}

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0,
		"Maximum posts to process (0 uses the configured scan limit)")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(cfg)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	encoder, err := buildEncoder(cfg)
	if err != nil {
		return err
	}
	defer encoder.Close()

	collector := &metrics.Basic{}
	runner := enrich.NewBatchRunner(db, encoder, enrich.NewKeywordClassifier(), collector,
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

	summary, err := driver.Run(ctx, enrichLimit)
	if err != nil {
		slog.Error("enrichment run failed",
			"vertical", summary.Vertical,
			"processed", summary.Processed,
			"error", err,
		)
		return err
	}

	fmt.Printf("vertical=%s processed=%d total=%d\n",
		summary.Vertical, summary.Processed, summary.Total)
	return nil
}
