package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/vellum/internal/engine"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Recompile templates as they change",
	Long: `Load and compile every template, then watch the view roots and
recompile changed templates and everything that includes them.

Examples:
  vellum watch
  vellum watch -l debug           # Log every change`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	if !s.cfg.Watch.Enabled {
		return fmt.Errorf("watching is disabled by watch.enabled")
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := s.engine.CompileAll(); err != nil {
		s.logger.Warn(ctx, err, "initial compile reported failures")
	}

	out := cmd.OutOrStdout()
	err = s.engine.Watch(ctx, func(path string, result *engine.ReloadResult, err error) {
		if err != nil {
			s.logger.Error(ctx, err, "reload failed", "path", path)
			return
		}
		switch {
		case result.Unchanged:
		case result.Removed:
			fmt.Fprintf(out, "removed %s (%d dependent(s) recompiled)\n", result.Template, len(result.Recompiled))
		default:
			fmt.Fprintf(out, "compiled %s (%d template(s))\n", result.Template, len(result.Recompiled))
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Watching %d view root(s), press Ctrl+C to stop\n", len(s.engine.Roots()))
	<-ctx.Done()

	stats := s.engine.TrackerStats()
	if err := s.engine.Close(); err != nil {
		return err
	}

	cache := s.engine.CacheStats()
	fmt.Fprintf(out, "reloaded %d, removed %d, failed %d, coalesced %d; %d template(s) cached\n",
		stats.Reloaded, stats.Removed, stats.Failed, stats.Coalesced, cache.Entries)
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
