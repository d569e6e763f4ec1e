package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vellum/internal/version"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		out := cmd.OutOrStdout()

		switch versionFormat {
		case "json":
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(info)
		case "text":
			fmt.Fprintf(out, "vellum %s\n", info)
			fmt.Fprintf(out, "Go: %s\nPlatform: %s\n", info.GoVersion, info.Platform)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
}
