package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate MASTER_KEY, CRON_SECRET and API_TOKEN values",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range []string{"MASTER_KEY", "CRON_SECRET", "API_TOKEN"} {
				b := make([]byte, 32)
				if _, err := rand.Read(b); err != nil {
					return err
				}
				enc := base64.StdEncoding.EncodeToString(b)
				if name != "MASTER_KEY" {
					enc = base64.RawURLEncoding.EncodeToString(b)
				}
				fmt.Fprintf(out, "export %s=%s\n", name, enc)
			}
			return nil
		},
	}
}
