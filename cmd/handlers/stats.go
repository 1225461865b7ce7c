package handlers

import (
	"fmt"

	"newsdesk/internal/config"
	"newsdesk/internal/logger"
	"newsdesk/internal/store"

	"github.com/spf13/cobra"
)

// NewStatsCmd creates the stats command for inspecting the store.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show durable-store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger.Init(cfg.App.LogLevel)

			st, err := store.New(cfg.Store.Directory)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			stats, err := st.GetStats()
			if err != nil {
				return fmt.Errorf("failed to read store statistics: %w", err)
			}

			fmt.Println("Store statistics:")
			fmt.Printf("  processed URLs:   %d\n", stats.ProcessedURLs)
			fmt.Printf("  active clusters:  %d\n", stats.ActiveClusters)
			fmt.Printf("  published events: %d\n", stats.PublishedEvents)
			fmt.Printf("  cached bodies:    %d\n", stats.CachedBodies)
			fmt.Printf("  database size:    %.2f MB\n", float64(stats.FileSize)/(1024*1024))
			return nil
		},
	}
}
