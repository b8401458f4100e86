package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "anath",
	Short: "Anath is an internal certificate authority",
	Long: `A certificate lifecycle service for internal infrastructure: it signs
certificate requests against organizational policy, tracks what it issued,
and publishes a CRL for everything it revoked.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
