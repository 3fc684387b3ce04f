package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelsoc/iocwatch/internal/feed"
	"github.com/sentinelsoc/iocwatch/internal/store"
)

var (
	importDir      string
	importWatch    bool
	importPatterns []string
	importTailEnd  bool
)

// importCmd loads indicators from feed files into the watchlist.
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import indicators from feed files",
	Long: `Import indicators of compromise from a directory of feed files into the
watchlist. Feed files are JSONL (one record per line) or JSON arrays:

  {"type":"ip","value":"203.0.113.5","scan_frequency_hours":12}
  {"type":"domain","value":"evil.example.com","organization_id":"org_1"}

Indicators already tracked are skipped. With --watch the directory is
monitored and new records are imported as files change.

Examples:
  # One-shot import
  iocwatch import --dir ./feeds

  # Keep watching for new feed lines
  iocwatch import --dir ./feeds --watch`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importDir, "dir", "", "Directory containing feed files (required)")
	importCmd.Flags().BoolVar(&importWatch, "watch", false, "Watch the directory for changes")
	importCmd.Flags().StringSliceVar(&importPatterns, "pattern", []string{"*.jsonl", "*.json"}, "File patterns to import")
	importCmd.Flags().BoolVar(&importTailEnd, "tail-from-end", false, "In watch mode, skip existing JSONL lines at startup")
	importCmd.MarkFlagRequired("dir")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	importer := feed.NewFolderImporter(st, feed.FolderOptions{
		Dir:         importDir,
		Watch:       importWatch,
		Patterns:    importPatterns,
		TailFromEnd: importTailEnd,
		Logger:      log.New(os.Stderr, "[feed] ", log.LstdFlags),
	})

	if err := importer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	imported, skipped, errCount := importer.Counts()
	fmt.Fprintf(cmd.OutOrStdout(), "Import finished: imported=%d skipped=%d errors=%d\n",
		imported, skipped, errCount)
	return nil
}
