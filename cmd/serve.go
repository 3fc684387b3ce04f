package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelsoc/iocwatch/internal/bus"
	"github.com/sentinelsoc/iocwatch/internal/feed"
	"github.com/sentinelsoc/iocwatch/internal/store"
	"github.com/sentinelsoc/iocwatch/internal/sweep"
)

var (
	serveInterval time.Duration
	serveFeedDir  string
)

// alertStreamMaxLen caps the alerts stream between sweeps so consumers that
// fall behind do not let it grow without bound.
const alertStreamMaxLen = 10000

// serveCmd runs the sweep on a schedule until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run sweeps on a schedule",
	Long: `Start the iocwatch scheduler: run one sweep immediately, then repeat on
the configured interval until interrupted (Ctrl+C).

When --feed-dir is set, the directory is also watched for indicator feed
files; new indicators are imported into the watchlist as they appear and
picked up by the next sweep.

Examples:
  # Sweep every hour (default)
  iocwatch serve

  # Sweep every 15 minutes and watch a feed directory
  iocwatch serve --interval 15m --feed-dir ./feeds`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Time between sweeps (default from config, 1h)")
	serveCmd.Flags().StringVar(&serveFeedDir, "feed-dir", "", "Directory of indicator feed files to watch")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	logger := log.New(os.Stderr, "[serve] ", log.LstdFlags)

	interval := serveInterval
	if interval == 0 {
		interval = config.Scan.Interval
	}
	if interval < time.Minute {
		return fmt.Errorf("sweep interval %s too short (minimum 1m)", interval)
	}

	logger.Printf("Starting iocwatch scheduler (interval: %s)", interval)

	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	checker, sink, gateway, err := buildScanStack(config, logger)
	if err != nil {
		return err
	}
	defer checker.Close()
	defer sink.Close()

	sweeper := sweep.NewSweeper(st, checker, sink, gateway,
		sweep.Options{Pacing: config.Scan.Pacing}, logger)

	// Optional feed watcher alongside the scheduler
	if serveFeedDir != "" {
		importer := feed.NewFolderImporter(st, feed.FolderOptions{
			Dir:         serveFeedDir,
			Watch:       true,
			TailFromEnd: true,
			Logger:      log.New(os.Stderr, "[feed] ", log.LstdFlags),
		})
		go func() {
			if err := importer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("Feed watcher stopped: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First sweep runs immediately; subsequent ones on the ticker.
	for {
		report, err := sweeper.Run(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Printf("Sweep failed: %v", err)
		} else {
			logger.Printf("Next sweep in %s (scanned=%d alerts=%d errors=%d)",
				interval, report.ScannedCount, report.AlertsGeneratedCount, report.ErrorCount)
		}

		bus.Maintain(ctx, sink, alertStreamMaxLen, logger)

		select {
		case <-ctx.Done():
			logger.Println("Shutting down scheduler")
			return nil
		case <-ticker.C:
		}
	}

	logger.Println("Shutting down scheduler")
	return nil
}
