package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
	"github.com/sentinelsoc/iocwatch/internal/store"
)

var (
	addFrequency int
	addOrgID     string
	addNoAlert   bool
)

// addCmd adds a single indicator to the watchlist.
var addCmd = &cobra.Command{
	Use:   "add <type> <value>",
	Short: "Add an indicator to the watchlist",
	Long: `Add one indicator of compromise to the watchlist. The indicator type is one
of: ip, domain, hash, url. Domains and hashes are lowercased before storage.

Examples:
  # Watch an IP, re-scanned every 24h (default)
  iocwatch add ip 203.0.113.5

  # Watch a domain every 6 hours for a specific organization
  iocwatch add domain evil.example.com --frequency 6 --org org_1

  # Track a hash without alerting on changes
  iocwatch add hash d41d8cd98f00b204e9800998ecf8427e --no-alert`,
	Args: cobra.ExactArgs(2),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)

	addCmd.Flags().IntVar(&addFrequency, "frequency", 24, "Re-scan frequency in hours")
	addCmd.Flags().StringVar(&addOrgID, "org", "", "Organization the indicator belongs to")
	addCmd.Flags().BoolVar(&addNoAlert, "no-alert", false, "Do not raise alerts for this indicator")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	typ, err := ioc.ParseType(args[0])
	if err != nil {
		return err
	}
	value := ioc.Normalize(typ, args[1])
	if err := ioc.ValidateValue(typ, value); err != nil {
		return err
	}

	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	existing, err := st.GetItemByIndicator(ctx, typ, value)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%s %s is already tracked as %s", typ, value, existing.ID)
	}

	item := store.WatchlistItem{
		IndicatorType:      typ,
		IndicatorValue:     value,
		ScanFrequencyHours: addFrequency,
		IsActive:           true,
		AlertOnChange:      !addNoAlert,
	}
	if addOrgID != "" {
		item.OrganizationID = &addOrgID
	}

	id, err := st.AddItem(ctx, item)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s as %s (every %dh)\n", typ, value, id, item.ScanFrequencyHours)
	return nil
}

// pauseCmd deactivates an item so sweeps skip it.
var pauseCmd = &cobra.Command{
	Use:   "pause <item-id>",
	Short: "Stop re-scanning a watchlist item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], false)
	},
}

// resumeCmd reactivates a paused item.
var resumeCmd = &cobra.Command{
	Use:   "resume <item-id>",
	Short: "Resume re-scanning a paused watchlist item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], true)
	},
}

func setActive(cmd *cobra.Command, id string, active bool) error {
	config := GetConfig()
	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	if err := st.SetItemActive(cmd.Context(), id, active); err != nil {
		return err
	}
	state := "paused"
	if active {
		state = "resumed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Item %s %s\n", id, state)
	return nil
}
