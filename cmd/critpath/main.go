// Package main implements the critpath CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/critpath/internal/config"
	"github.com/ZanzyTHEbar/critpath/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	out    io.Writer
	errOut io.Writer

	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{out: stdout, errOut: stderr}

	root := &cobra.Command{
		Use:           "critpath",
		Short:         "Critical path scheduling for task plans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a .json or .toml config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading CRITPATH_* variables")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (console or json)")

	root.AddCommand(newOptimizeCmd(a), newRunCmd(a))
	return root
}

// setup resolves configuration in order: defaults, config file, dotenv and
// environment, then flags.
func (a *app) setup(cmd *cobra.Command) error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}

	cfg := config.DefaultConfig()
	if a.configPath != "" {
		loaded, err := config.LoadFromFile(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.System.LogLevel = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.System.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.System.LogLevel, cfg.System.LogFormat, a.errOut)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}
