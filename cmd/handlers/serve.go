package handlers

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsdesk/internal/logger"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command for continuous operation.
func NewServeCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion cycles continuously",
		Long: `Run the pipeline as a long-lived process, sleeping between cycles.
The process drains the current cycle and exits cleanly on SIGINT or
SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "sleep between cycles (default from config)")
	return cmd
}

func runServe(ctx context.Context, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if interval <= 0 {
		interval = app.cfg.Pipeline.PollInterval
	}
	logger.Info("starting continuous ingestion", "interval", interval.String(), "feeds", len(app.cfg.Feeds))

	for {
		if _, err := app.pipe.Cycle(ctx); err != nil {
			logger.Error("cycle failed", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, exiting")
			return nil
		case <-time.After(interval):
		}
	}
}
