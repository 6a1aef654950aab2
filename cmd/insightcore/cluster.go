package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/insightlabs/insightcore/internal/cluster"
	"github.com/insightlabs/insightcore/internal/store"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Regenerate semantic clusters and exit",
	Long:  "Group every enriched post into semantic clusters, replacing the previous generation.",
	RunE:  runCluster,
}

func runCluster(cmd *cobra.Command, args []string) error {
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

	summary, err := cluster.NewPipeline(db, cfg.Vertical).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("vertical=%s clusters=%d posts=%d\n",
		summary.Vertical, summary.Clusters, summary.Posts)
	return nil
}
