package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/box-scheduler/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	var (
		batchSize int
		lookahead time.Duration
	)

	c := &cobra.Command{
		Use:   "sweep",
		Short: "Execute due pending prebookings once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()
			a.withExecutor()

			ctx, stop := context.WithTimeout(ctx, cfg.Timing.InvocationBudget)
			defer stop()
			rep, err := a.sweeper.Run(ctx, sweep.Options{BatchSize: batchSize, Lookahead: lookahead})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}

	c.Flags().IntVar(&batchSize, "batch-size", 0, "max prebookings to process (default SWEEP_BATCH_SIZE)")
	c.Flags().DurationVar(&lookahead, "lookahead", 0, "also pick up prebookings opening within this window")
	return c
}
