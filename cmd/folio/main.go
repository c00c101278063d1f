package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"folio/api/internal/config"
	"folio/api/internal/logging"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

type globalFlags struct {
	envFiles  []string
	logLevel  string
	logFormat string
}

// runtime is what every subcommand starts from: the loaded config and a
// logger built from it.
type runtime struct {
	cfg    config.Config
	logger zerolog.Logger
}

func (g *globalFlags) load() runtime {
	config.LoadEnvFiles(g.envFiles...)
	cfg := config.Load()
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	return runtime{cfg: cfg, logger: logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "folio",
		Short:         "Profile pages built from ordered blocks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files to load (existing variables win)")
	pf.StringVar(&flags.logLevel, "log-level", "", "override FOLIO_LOG_LEVEL")
	pf.StringVar(&flags.logFormat, "log-format", "", "json or console; overrides FOLIO_LOG_FORMAT")

	root.AddCommand(
		newServeCmd(&flags),
		newMigrateCmd(&flags),
		newSeedCmd(&flags),
		newBlocksCmd(&flags),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintln(os.Stderr, "error:", err)
		code := 1
		var exit *exitErr
		if errors.As(err, &exit) {
			code = exit.code
		}
		os.Exit(code)
	}
}

// exitErr carries a specific exit code through cobra.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func exitCode(code int, format string, args ...any) error {
	return &exitErr{code: code, err: fmt.Errorf(format, args...)}
}
