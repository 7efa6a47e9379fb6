package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run one expiry sweep and exit",
	Long: `Fires the due time-driven transitions once: reservation expiry, visit OTP
expiry and unanswered counter-proposals. Safe to run alongside serve; only the
holder of the sweep lock does any work.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.sched.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		if report.Leaderless {
			fmt.Fprintln(cmd.OutOrStdout(), "another instance holds the sweep lock; nothing done")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied=%d skipped=%d deferred=%d failed=%d\n",
			report.Applied, report.Skipped, report.Deferred, report.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(expireCmd)
}
