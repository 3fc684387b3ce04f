package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/sentinelsoc/iocwatch/internal/ioc"
	"github.com/sentinelsoc/iocwatch/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed sample indicators into the watchlist",
	Long: `Seed sample indicators into the SQLite database.
This is useful for local testing when the watchlist is empty.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	config := GetConfig()

	logger := log.New(cmd.OutOrStdout(), "[seed] ", log.LstdFlags)
	logger.Println("Seeding sample indicators...")

	st, err := store.NewStore(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	org := "org_demo"
	samples := []store.WatchlistItem{
		{
			IndicatorType:      ioc.TypeIP,
			IndicatorValue:     "203.0.113.5",
			ScanFrequencyHours: 24,
			IsActive:           true,
			AlertOnChange:      true,
			OrganizationID:     &org,
		},
		{
			IndicatorType:      ioc.TypeIP,
			IndicatorValue:     "198.51.100.23",
			ScanFrequencyHours: 12,
			IsActive:           true,
			AlertOnChange:      true,
		},
		{
			IndicatorType:      ioc.TypeDomain,
			IndicatorValue:     "suspicious-cdn.example.net",
			ScanFrequencyHours: 24,
			IsActive:           true,
			AlertOnChange:      true,
			OrganizationID:     &org,
		},
		{
			IndicatorType:      ioc.TypeHash,
			IndicatorValue:     "44d88612fea8a8f36de82e1278abb02f",
			ScanFrequencyHours: 48,
			IsActive:           true,
			AlertOnChange:      true,
		},
		{
			IndicatorType:      ioc.TypeURL,
			IndicatorValue:     "https://login-update.example.org/verify",
			ScanFrequencyHours: 6,
			IsActive:           true,
			AlertOnChange:      false,
		},
	}

	seeded := 0
	for _, item := range samples {
		existing, err := st.GetItemByIndicator(ctx, item.IndicatorType, item.IndicatorValue)
		if err != nil {
			logger.Printf("Failed to check %s %s: %v", item.IndicatorType, item.IndicatorValue, err)
			continue
		}
		if existing != nil {
			logger.Printf("%s %s already tracked, skipping", item.IndicatorType, item.IndicatorValue)
			continue
		}
		id, err := st.AddItem(ctx, item)
		if err != nil {
			logger.Printf("Failed to seed %s %s: %v", item.IndicatorType, item.IndicatorValue, err)
			continue
		}
		logger.Printf("Seeded %s %s as %s", item.IndicatorType, item.IndicatorValue, id)
		seeded++
	}

	logger.Printf("Seeding completed: %d new item(s)", seeded)
	return nil
}
