package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/example/box-scheduler/internal/trigger"
)

func newRelayCmd() *cobra.Command {
	var webhookURL string

	c := &cobra.Command{
		Use:   "relay",
		Short: "Deliver due triggers from the broker to the execution webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if webhookURL == "" {
				webhookURL = cfg.WebhookURL
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
			defer rdb.Close()

			relay := trigger.NewRelay(cfg.RabbitURL, webhookURL, trigger.NewTombstones(rdb), cfg.Timing.InvocationBudget)
			return relay.Run(ctx)
		},
	}
	c.Flags().StringVar(&webhookURL, "webhook-url", "", "override WEBHOOK_URL")
	return c
}
