package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelsoc/iocwatch/internal/analysis"
	"github.com/sentinelsoc/iocwatch/internal/bus"
	"github.com/sentinelsoc/iocwatch/internal/reputation"
	"github.com/sentinelsoc/iocwatch/internal/store"
	"github.com/sentinelsoc/iocwatch/internal/sweep"
)

var sweepJSON bool

// sweepCmd runs one full pass over the due portion of the watchlist.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one re-scan pass over due watchlist items",
	Long: `Run a single sweep: select watchlist items due for a re-scan, check each
against the configured reputation sources, persist the results, and raise
alerts for significant reputation changes.

IP indicators are checked against AbuseIPDB first, falling back to VirusTotal
when AbuseIPDB is unavailable. Domains, hashes, and URLs go to VirusTotal.

Examples:
  # Run one sweep with keys from the environment
  VT_API_KEY=... ABUSEIPDB_API_KEY=... iocwatch sweep

  # Emit the sweep report as JSON
  iocwatch sweep --json`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().BoolVar(&sweepJSON, "json", false, "Print the sweep report as JSON")
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()
	logger := log.New(os.Stderr, "[sweep] ", log.LstdFlags)

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

	report, err := sweeper.Run(ctx)
	if err != nil {
		return err
	}

	if sweepJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
	}
	printReport(cmd, report)
	return nil
}

// buildScanStack wires the reputation resolver, alert sink, and optional
// triage gateway from configuration.
func buildScanStack(config Config, logger *log.Logger) (*reputation.Resolver, bus.Sink, *analysis.Gateway, error) {
	abuse := reputation.NewAbuseIPDBClient(reputation.Config{
		APIKey:       config.Sources.AbuseIPDB.APIKey,
		BaseURL:      config.Sources.AbuseIPDB.BaseURL,
		RateLimitRPS: config.Sources.AbuseIPDB.RateLimitRPS,
	}, logger)
	vt := reputation.NewVirusTotalClient(reputation.Config{
		APIKey:       config.Sources.VirusTotal.APIKey,
		BaseURL:      config.Sources.VirusTotal.BaseURL,
		RateLimitRPS: config.Sources.VirusTotal.RateLimitRPS,
	}, logger)
	checker := reputation.NewResolver(abuse, vt, logger)

	sink := bus.NewSink(config.Redis.URL, logger)

	gateway, err := analysis.NewGateway(config.Analysis.Endpoint, config.Analysis.Model, config.Analysis.APIKey, logger)
	if err != nil {
		checker.Close()
		sink.Close()
		return nil, nil, nil, fmt.Errorf("failed to configure triage gateway: %w", err)
	}

	return checker, sink, gateway, nil
}

func printReport(cmd *cobra.Command, report *sweep.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sweep completed in %s\n", report.FinishedAt.Sub(report.StartedAt).Round(10*time.Millisecond))
	fmt.Fprintf(out, "  Scanned: %d\n", report.ScannedCount)
	fmt.Fprintf(out, "  Alerts:  %d\n", report.AlertsGeneratedCount)
	fmt.Fprintf(out, "  Errors:  %d\n", report.ErrorCount)

	for _, item := range report.Items {
		switch {
		case item.Skipped:
			fmt.Fprintf(out, "  - %s %s: not yet due\n", item.IndicatorType, item.IndicatorValue)
		case item.Error != "":
			fmt.Fprintf(out, "  - %s %s: error: %s\n", item.IndicatorType, item.IndicatorValue, item.Error)
		default:
			fmt.Fprintf(out, "  - %s %s: score=%d change=%+d", item.IndicatorType, item.IndicatorValue,
				item.RiskScore, item.ReputationChange)
			if item.AlertID != "" {
				fmt.Fprintf(out, " alert=%s", item.AlertID)
			}
			fmt.Fprintln(out)
		}
	}
}
