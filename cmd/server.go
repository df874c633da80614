package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/box-scheduler/internal/trigger"
	"github.com/example/box-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp, withSweep, withRelay bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the webhook/cron/API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, cfg, migrateUp)
			if err != nil {
				return err
			}
			defer a.Close()
			a.withTrigger().withExecutor()

			g, ctx := errgroup.WithContext(ctx)
			if withSweep {
				g.Go(func() error {
					if err := a.sweeper.Loop(ctx); !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}
			if withRelay {
				relay := trigger.NewRelay(cfg.RabbitURL, cfg.WebhookURL, trigger.NewTombstones(a.newRedis()), cfg.Timing.InvocationBudget)
				g.Go(func() error { return relay.Run(ctx) })
			}

			ws := &web.Server{
				Exec:        a.exec,
				Sweep:       a.sweeper,
				Prebookings: a.service,
				DB:          a.db,
				CronSecret:  cfg.CronSecret,
				APIToken:    cfg.APIToken,
				Budget:      cfg.Timing.InvocationBudget,
			}
			if cfg.CronSecret == "" {
				log.Warn().Msg("CRON_SECRET is empty; the cron endpoint rejects every request")
			}
			g.Go(func() error {
				return web.Start(ctx, cfg.ListenAddr, ws.Routes(), cfg.Timing.InvocationBudget+cfg.Timing.SafetyMargin)
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().BoolVar(&withSweep, "sweep", false, "also run the in-process sweep loop every SWEEP_INTERVAL")
	cmd.Flags().BoolVar(&withRelay, "relay", false, "also run the broker relay that delivers due triggers to WEBHOOK_URL")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
