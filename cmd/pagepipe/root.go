package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/gogpu/pagepipe"
	"github.com/gogpu/pagepipe/config"
)

// app is the state shared by subcommands once the root command has run.
type app struct {
	configPath string
	logLevel   string
	logFile    string

	cfg     *config.Config
	closers []io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "pagepipe",
		Short:         "Inspect and render comic archives",
		Long:          `Inspect comic archives (cbz, cbt, tar.xz, directories) and render pages through the page pipeline to PNG.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: pagepipe.{toml,yaml,json} in . or the user config dir)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFile, "log-file", "", "also write JSON logs to this file")

	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newRenderCmd(a))
	root.AddCommand(newManifestCmd(a))
	return root
}

// setup loads configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFile != "" {
		cfg.Log.File = a.logFile
	}
	a.cfg = cfg

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(cmd.ErrOrStderr(), opts)}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.closers = append(a.closers, f)
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(logger)
	pagepipe.SetLogger(logger)

	// Worker count defaults to GOMAXPROCS, so honor container CPU quotas.
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}
	return nil
}

func (a *app) teardown() error {
	pagepipe.SetLogger(nil)
	var err error
	for _, c := range a.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	a.closers = nil
	return err
}
