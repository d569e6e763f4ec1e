// Package cmd provides the vellum command-line interface.
//
// Configuration is read from, highest priority first:
//
//  1. command-line flags (--config, --log-level)
//  2. the file named by VELLUM_CONFIG_FILE
//  3. VELLUM_<SECTION>_<OPTION> environment variables
//  4. .vellum.yml in the current directory
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/vellum/internal/config"
	"github.com/conneroisu/vellum/internal/engine"
	"github.com/conneroisu/vellum/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vellum",
	Short: "Directive-driven HTML view engine",
	Long: `vellum compiles HTML view templates that use %%Master=..%%, %%Partial=..%%
and %%Bundle=..%% directives, and renders them with {{Tag}} substitution.

Quick Start:
  vellum list                     List templates and their dependencies
  vellum check                    Compile everything and report errors
  vellum render Home/Index -t Title=Hello
  vellum watch                    Recompile on change`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .vellum.yml, can also use VELLUM_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	rootCmd.PersistentFlags().String("root", "", "global view root, overrides views.root")
	_ = viper.BindPFlag("views.root", rootCmd.PersistentFlags().Lookup("root"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("VELLUM_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".vellum")
	}

	viper.SetEnvPrefix("VELLUM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// session is a loaded engine plus the configuration it came from.
type session struct {
	cfg    *config.Config
	logger logging.Logger
	engine *engine.Engine
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// loadSession reads the configuration and loads every template. Templates
// are not compiled yet.
func loadSession() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	opts, err := engine.OptionsFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure engine: %w", err)
	}

	e := engine.New(opts)
	if _, err := e.LoadAll(engine.Roots(cfg)); err != nil {
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, engine: e}, nil
}
