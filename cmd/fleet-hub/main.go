package main

import (
	"fmt"
	"os"

	"github.com/anatoly-dev/fleet-hub/cmd/fleet-hub/commands"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleet-hub",
		Short: "Realtime device fleet hub",
		Long:  "A realtime hub that ingests location and telemetry from monitored devices, persists it and fans it out to operator dashboards over WebSockets",
	}

	rootCmd.AddCommand(commands.NewServeCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
