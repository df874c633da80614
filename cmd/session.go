package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/box-scheduler/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage stored platform sessions",
	}
	cmd.AddCommand(newSessionImportCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	return cmd
}

func newSessionImportCmd() *cobra.Command {
	var (
		ds      session.DeviceSession
		typ     string
		cookies string
	)

	c := &cobra.Command{
		Use:   "import",
		Short: "Store a platform session captured from a logged-in device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ds.Type = session.Type(typ)
			if ds.Type != session.TypeDevice && ds.Type != session.TypeBackground {
				return fmt.Errorf("invalid --type (want device or background)")
			}
			ds.Cookies = session.FilterRequired(session.ParseHeader(cookies))

			ctx := context.Background()
			a, err := openApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sessions.Upsert(ctx, ds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s session for %q (%d cookies)\n", ds.Type, ds.Email, len(ds.Cookies))
			return nil
		},
	}

	c.Flags().StringVar(&ds.Email, "email", "", "user email")
	c.Flags().StringVar(&ds.Fingerprint, "fingerprint", "", "device fingerprint")
	c.Flags().StringVar(&typ, "type", string(session.TypeDevice), "session type: device or background")
	c.Flags().StringVar(&ds.Token, "token", "", "platform refresh token")
	c.Flags().StringVar(&cookies, "cookies", "", "Cookie header value from the logged-in device")
	c.Flags().BoolVar(&ds.IsAdmin, "admin", false, "mark the session as belonging to a box admin")
	for _, f := range []string{"email", "fingerprint", "token", "cookies"} {
		_ = c.MarkFlagRequired(f)
	}
	return c
}

func newSessionDeleteCmd() *cobra.Command {
	var (
		email string
		scope session.DeleteScope
		typ   string
	)
	c := &cobra.Command{
		Use:   "delete",
		Short: "Delete exactly one stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			scope.Type = session.Type(typ)
			if err := scope.Validate(); err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sessions.DeleteSession(ctx, email, scope); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted session for %q\n", email)
			return nil
		},
	}
	c.Flags().StringVar(&email, "email", "", "user email")
	c.Flags().StringVar(&scope.Fingerprint, "fingerprint", "", "device fingerprint")
	c.Flags().StringVar(&typ, "type", "", "set to background to delete the background session")
	_ = c.MarkFlagRequired("email")
	return c
}
