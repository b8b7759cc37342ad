package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/relay/internal/coordinator"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the coordinator's full state",
	Long: `Print the coordinator's task lists and counter.

The output can be fed back to another coordinator to restore it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), false, func(c *coordinator.Coordinator) error {
			return writeExport(cmd.OutOrStdout(), c.Export(), exportFormat)
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json or yaml")
}

func writeExport(w io.Writer, s coordinator.State, format string) error {
	switch format {
	case "json":
		return writeJSON(w, s)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}
