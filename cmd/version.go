package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var short bool
	c := &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "box-scheduler %s (commit=%s, built=%s, %s)\n",
				Version, CommitSHA, BuildDate, runtime.Version())
		},
	}
	c.Flags().BoolVar(&short, "short", false, "print only the version")
	return c
}
