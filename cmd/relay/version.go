package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	// Skip config and logging setup.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "relay version %s\n", version.Full())
	},
}
