package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/clog/slag"
	charmlog "github.com/charmbracelet/log"
	"github.com/joshrwolf/ecs/internal/config"
	"github.com/joshrwolf/ecs/internal/engine"
	"github.com/joshrwolf/ecs/internal/engine/docker"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// version is set at build time
var version = "dev"

type options struct {
	logLevel slag.Level

	configPath string
	engineHost string

	// cfg is loaded before any subcommand runs
	cfg *config.Config

	newEngine func(*config.Config) (engine.Client, error)
}

// setupLogging configures logging for the command
func (o *options) setupLogging(ctx context.Context, w io.Writer) context.Context {
	logOpts := charmlog.Options{
		Level:           charmlog.Level(o.logLevel),
		ReportTimestamp: true,
	}
	// Machine readable output when nobody is watching
	if f, ok := w.(*os.File); !ok || (!isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())) {
		logOpts.Formatter = charmlog.JSONFormatter
	}

	l := charmlog.NewWithOptions(w, logOpts)
	ctx = clog.WithLogger(ctx, clog.New(l))
	slog.SetDefault(slog.New(l))
	return ctx
}

// loadConfig reads the config file and applies flag overrides.
// --log-level wins over logLevel from the file only when given.
func (o *options) loadConfig(flags *pflag.FlagSet) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.engineHost != "" {
		cfg.Engine.Host = o.engineHost
	}
	if !flags.Changed("log-level") {
		lvl, err := cfg.Level()
		if err != nil {
			return err
		}
		o.logLevel = slag.Level(lvl)
	}
	o.cfg = cfg
	return nil
}

// newDockerEngine creates the engine client described by cfg
func newDockerEngine(cfg *config.Config) (engine.Client, error) {
	d, err := docker.New(docker.Options{
		Host:        cfg.Engine.Host,
		Memory:      cfg.Engine.Memory,
		ForceRemove: cfg.Engine.ForceRemove,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine client: %w", err)
	}
	return d, nil
}

// exitError carries a container's non-zero exit code out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(&options{newEngine: newDockerEngine}).ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			cancel()
			os.Exit(exitErr.code)
		}
		clog.FatalContextf(ctx, "error: %v", err)
	}
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ecs",
		Short:         "Run containers end to end against a remote container engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.loadConfig(cmd.Flags()); err != nil {
				return err
			}
			cmd.SetContext(opts.setupLogging(cmd.Context(), cmd.ErrOrStderr()))
			return nil
		},
	}

	// Define flags
	rootCmd.PersistentFlags().Var(&opts.logLevel, "log-level", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&opts.engineHost, "host", "H", "", "container engine host (default $DOCKER_HOST)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newHealthCmd(opts),
		newServeCmd(opts),
	)

	return rootCmd
}

// splitImage splits "name[:tag]" into name and tag, defaulting to latest.
// A colon inside the registry host (e.g. localhost:5000/img) is not a tag.
func splitImage(ref string) (string, string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, "latest"
}
