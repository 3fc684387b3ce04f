package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sentinelsoc/iocwatch/internal/store"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List watchlist items, alerts, and scan history",
	Long: `List watchlist items, alerts, or scan history from the database in a
simple text format.

Examples:
  # List all watchlist items
  iocwatch list items

  # List only active items
  iocwatch list items --active

  # List recent alerts
  iocwatch list alerts --limit 10

  # Show scan history for one item
  iocwatch list history --item-id ioc_123`,
	RunE: runList,
}

var (
	listType   string
	listItemID string
	listLimit  int
	listActive bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listType, "type", "items", "What to list: items, alerts, history")
	listCmd.Flags().StringVar(&listItemID, "item-id", "", "Item ID for listing scan history")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of entries to show")
	listCmd.Flags().BoolVar(&listActive, "active", false, "Only show active watchlist items")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	// Determine what to list from args or flags
	var targetType string
	if len(args) > 0 {
		targetType = strings.ToLower(args[0])
	} else {
		targetType = strings.ToLower(listType)
	}

	switch targetType {
	case "items":
		return listItems(ctx, st)
	case "alerts":
		return listAlerts(ctx, st)
	case "history":
		if listItemID == "" {
			return fmt.Errorf("--item-id is required for listing history")
		}
		return listHistory(ctx, st, listItemID)
	default:
		return fmt.Errorf("unknown list type: %s (use 'items', 'alerts', or 'history')", targetType)
	}
}

func listItems(ctx context.Context, st *store.Store) error {
	items, err := st.ListItems(ctx, listActive, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list watchlist items: %w", err)
	}

	if len(items) == 0 {
		fmt.Println("No watchlist items found.")
		return nil
	}

	fmt.Printf("Found %d watchlist items:\n\n", len(items))

	for i, item := range items {
		status := "active"
		if !item.IsActive {
			status = "paused"
		}
		fmt.Printf("%d. [%s] %s %s\n", i+1, strings.ToUpper(string(item.IndicatorType)), item.IndicatorValue, statusTag(item))
		fmt.Printf("   ID: %s\n", item.ID)
		fmt.Printf("   Status: %s, every %dh\n", status, item.ScanFrequencyHours)
		if item.LastScanAt != nil {
			fmt.Printf("   Last scan: %s\n", item.LastScanAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("   Last scan: never\n")
		}
		if item.LastRiskScore != nil {
			fmt.Printf("   Risk score: %d", *item.LastRiskScore)
			if item.PreviousRiskScore != nil {
				fmt.Printf(" (was %d)", *item.PreviousRiskScore)
			}
			fmt.Println()
		}
		if item.OrganizationID != nil {
			fmt.Printf("   Organization: %s\n", *item.OrganizationID)
		}
		fmt.Println()
	}

	return nil
}

func statusTag(item store.WatchlistItem) string {
	if item.IsMalicious {
		return "MALICIOUS"
	}
	return ""
}

func listAlerts(ctx context.Context, st *store.Store) error {
	alerts, err := st.ListAlerts(ctx, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	if len(alerts) == 0 {
		fmt.Println("No alerts found.")
		return nil
	}

	fmt.Printf("Showing %d alerts:\n\n", len(alerts))

	for i, alert := range alerts {
		fmt.Printf("%d. [%s] %s\n", i+1, strings.ToUpper(alert.Severity), alert.Title)
		fmt.Printf("   ID: %s\n", alert.ID)
		fmt.Printf("   Item: %s\n", alert.ItemID)
		fmt.Printf("   Created: %s\n", alert.CreatedAt.Format("2006-01-02 15:04:05"))
		if alert.OrganizationID != nil {
			fmt.Printf("   Organization: %s\n", *alert.OrganizationID)
		}
		fmt.Printf("   %s\n", strings.ReplaceAll(alert.Body, "\n", "\n   "))
		fmt.Println()
	}

	return nil
}

func listHistory(ctx context.Context, st *store.Store, itemID string) error {
	records, err := st.ListHistory(ctx, itemID, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list scan history: %w", err)
	}

	if len(records) == 0 {
		fmt.Printf("No scan history for item %s.\n", itemID)
		return nil
	}

	fmt.Printf("Scan history for %s (%d records):\n\n", itemID, len(records))

	for i, rec := range records {
		verdict := "clean"
		if rec.IsMalicious {
			verdict = "malicious"
		}
		fmt.Printf("%d. %s  score=%d (%+d)  %s", i+1,
			rec.ScannedAt.Format("2006-01-02 15:04:05"), rec.RiskScore, rec.ReputationChange, verdict)
		if rec.AlertGenerated {
			fmt.Printf("  [alerted]")
		}
		fmt.Println()
	}

	return nil
}
