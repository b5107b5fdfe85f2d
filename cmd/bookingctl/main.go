package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "bookingctl",
		Short:        "Operator tools for the tour booking service",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(replayCallbackCmd())
	rootCmd.AddCommand(signCallbackCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
