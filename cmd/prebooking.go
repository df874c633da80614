package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/box-scheduler/internal/prebooking"
)

func newPrebookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "prebooking",
		Aliases: []string{"pb"},
		Short:   "Manage prebookings (non-API)",
	}
	cmd.AddCommand(newPrebookingCreateCmd())
	cmd.AddCommand(newPrebookingListCmd())
	cmd.AddCommand(newPrebookingCancelCmd())
	return cmd
}

func newPrebookingCreateCmd() *cobra.Command {
	var (
		i           prebooking.Intent
		availableAt string
		timezone    string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Schedule a booking for the moment a class opens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("invalid --timezone: %w", err)
			}
			at, err := time.ParseInLocation("2006-01-02 15:04:05", availableAt, loc)
			if err != nil {
				if at, err = time.Parse(time.RFC3339, availableAt); err != nil {
					return fmt.Errorf("invalid --available-at (want RFC3339 or \"YYYY-MM-DD HH:MM:SS\")")
				}
			}
			i.AvailableAt = at.UTC()

			ctx := context.Background()
			a, err := openApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()
			a.withTrigger()

			created, err := a.service.Create(ctx, i)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created prebooking id=%s available_at_utc=%s\n",
				created.ID, created.AvailableAt.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&i.UserEmail, "email", "", "user email")
	c.Flags().StringVar(&i.Fingerprint, "fingerprint", "", "device fingerprint whose session books the class")
	c.Flags().StringVar(&i.BoxID, "box-id", "", "internal box id (optional)")
	c.Flags().StringVar(&i.BoxSubdomain, "box-subdomain", "", "AimHarder box subdomain")
	c.Flags().StringVar(&i.BoxAimharderID, "box-aimharder-id", "", "AimHarder box id")
	c.Flags().StringVar(&i.ClassID, "class-id", "", "class id")
	c.Flags().StringVar(&i.ClassDay, "class-day", "", "class day YYYYMMDD")
	c.Flags().StringVar(&i.ClassTime, "class-time", "", "class time HH:MM (informational)")
	c.Flags().StringVar(&i.ClassName, "class-name", "", "class name (informational)")
	c.Flags().StringVar(&availableAt, "available-at", "", "when booking opens")
	c.Flags().StringVar(&timezone, "timezone", "Europe/Madrid", "timezone for a local --available-at")

	for _, f := range []string{"email", "fingerprint", "box-subdomain", "box-aimharder-id", "class-id", "class-day", "available-at"} {
		_ = c.MarkFlagRequired(f)
	}
	return c
}

func newPrebookingListCmd() *cobra.Command {
	var (
		email string
		limit int
	)
	c := &cobra.Command{
		Use:   "list",
		Short: "List prebookings for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			is, err := a.intents.ListByUser(ctx, email, limit)
			if err != nil {
				return err
			}
			for _, i := range is {
				line := fmt.Sprintf("id=%s status=%s class=%s/%s available_at=%s",
					i.ID, i.Status, i.ClassDay, i.ClassID, i.AvailableAt.Format(time.RFC3339))
				if i.BookingID != nil {
					line += " booking=" + *i.BookingID
				}
				if i.ErrorCode != nil {
					line += " error=" + *i.ErrorCode
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	c.Flags().StringVar(&email, "email", "", "user email")
	c.Flags().IntVar(&limit, "limit", 50, "max rows")
	_ = c.MarkFlagRequired("email")
	return c
}

func newPrebookingCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending prebooking and revoke its trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()
			a.withTrigger()

			if err := a.service.Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled prebooking id=%s\n", args[0])
			return nil
		},
	}
}
