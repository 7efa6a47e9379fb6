package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nestfind",
	Short: "NestFind transaction state engine",
	Long: `Runs the NestFind listing, visit, offer and reservation lifecycles behind
an HTTP API, plus the schema migrations and the expiry sweeps.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
