package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/vellum/internal/engine"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l"},
	Short:   "List loaded templates",
	Long: `List every template under the configured view roots with its kind,
partition, scope owner and the templates it includes.

Examples:
  vellum list                     # Table output
  vellum list -o json             # JSON output
  vellum list -d -o yaml          # Include dependencies, YAML output`,
	RunE: runList,
}

var (
	listFlags    *OutputFlags
	listWithDeps bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listFlags = AddOutputFlags(listCmd)
	listCmd.Flags().BoolVarP(&listWithDeps, "with-deps", "d", false, "Include template dependencies")
}

// listEntry is one row of list output.
type listEntry struct {
	Name         string   `json:"name" yaml:"name"`
	Kind         string   `json:"kind" yaml:"kind"`
	Partition    string   `json:"partition,omitempty" yaml:"partition,omitempty"`
	Scope        string   `json:"scope,omitempty" yaml:"scope,omitempty"`
	File         string   `json:"file" yaml:"file"`
	Compiled     bool     `json:"compiled" yaml:"compiled"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	if _, err := s.engine.CompileAll(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d template(s) failed to compile, run 'vellum check' for details\n",
			len(s.engine.Failures()))
	}

	entries := listEntries(s.engine, listWithDeps)
	return writeList(cmd.OutOrStdout(), strings.ToLower(listFlags.Format), entries)
}

func listEntries(e *engine.Engine, withDeps bool) []listEntry {
	sources := e.Sources()
	entries := make([]listEntry, 0, len(sources))
	for _, raw := range sources {
		entry := listEntry{
			Name:      raw.FullyQualifiedName,
			Kind:      raw.Kind.String(),
			Partition: raw.Partition,
			Scope:     raw.ScopeOwner,
			File:      raw.FilePath,
		}
		if compiled, ok := e.Template(raw.FullyQualifiedName); ok {
			entry.Compiled = !compiled.Stale(raw)
			if withDeps {
				entry.Dependencies = compiled.Dependencies
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func writeList(w io.Writer, format string, entries []listEntry) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(entries)
	case "table", "":
		return writeListTable(w, entries)
	default:
		return ValidateFormat(format, outputFormats)
	}
}

func writeListTable(w io.Writer, entries []listEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No templates found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tPARTITION\tSCOPE\tCOMPILED\tDEPENDENCIES")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			entry.Name,
			entry.Kind,
			orDash(entry.Partition),
			orDash(entry.Scope),
			entry.Compiled,
			orDash(strings.Join(entry.Dependencies, ",")),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nTotal: %d template(s)\n", len(entries))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
