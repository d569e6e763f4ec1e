package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c"},
	Short:   "Compile every template and report errors",
	Long: `Compile every template under the configured view roots. Compile
failures and include cycles are listed and the command exits non-zero.

Examples:
  vellum check
  vellum check --lenient          # Drop unresolved Master/Partial targets`,
	RunE: runCheck,
}

var checkLenient bool

// errCheckFailed is returned after failures were printed.
var errCheckFailed = errors.New("view check failed")

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkLenient, "lenient", false, "Strip unresolved directives instead of failing")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkLenient {
		viper.Set("views.strict_directives", false)
	}

	s, err := loadSession()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	compiled, compileErr := s.engine.CompileAll()

	failures := s.engine.Failures()
	for _, failure := range failures {
		fmt.Fprintf(out, "FAIL %s: %s\n", failure.Template, viewerrors.FormatError(failure.Err))
	}

	cycles := s.engine.Cycles()
	for _, cycle := range cycles {
		fmt.Fprintf(out, "CYCLE %s\n", strings.Join(cycle, " -> "))
	}

	fmt.Fprintf(out, "%d compiled, %d failed, %d cycle(s)\n", len(compiled), len(failures), len(cycles))

	if compileErr != nil || len(cycles) > 0 {
		return errCheckFailed
	}
	return nil
}
