// Package main provides the bloom binary entry point.
// Bloom routes postpartum support requests to one of four specialist
// prompts and streams the answer back as Server-Sent Events.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	// Register LLM providers via init()
	_ "github.com/c360studio/bloom/llm/providers"

	"github.com/c360studio/bloom/config"
	"github.com/c360studio/bloom/pipeline"
	"github.com/c360studio/bloom/profile"
	"github.com/c360studio/bloom/task"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "bloom"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Postpartum support router",
		Long: `Bloom answers postpartum support questions for new mothers and their
partners.

Each request is routed by a model to one of sixteen tasks across four
pillars (mind, body, baby, partner), answered by that pillar's specialist,
and streamed back as Server-Sent Events.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(flags),
		askCmd(flags),
		routesCmd(),
		configCmd(flags),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /bloom over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(cfg, logger)
			if err != nil {
				return err
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Shutdown()

			if err := app.Serve(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			logger.Info("Received shutdown signal")
			return nil
		},
	}
}

// askOptions are the flags of the ask command.
type askOptions struct {
	pillar    string
	context   string
	imagePath string
}

func askCmd(flags *globalFlags) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one request and print its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req, err := opts.request(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(cfg, logger)
			if err != nil {
				return err
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Shutdown()

			return runAsk(ctx, app, req, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.pillar, "pillar", "p", "", "Pillar hint (mind, body, baby, partner)")
	cmd.Flags().StringVar(&opts.context, "context", "", "Profile as inline JSON or @file")
	cmd.Flags().StringVar(&opts.imagePath, "image", "", "Image file to attach")
	return cmd
}

// request builds the pipeline request from the flags.
func (o *askOptions) request(message string) (pipeline.Request, error) {
	req := pipeline.Request{Message: message, Pillar: o.pillar}

	if o.context != "" {
		raw := []byte(o.context)
		if o.context[0] == '@' {
			data, err := os.ReadFile(o.context[1:])
			if err != nil {
				return req, fmt.Errorf("read context: %w", err)
			}
			raw = data
		}
		var p profile.Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			return req, fmt.Errorf("parse context: %w", err)
		}
		req.Context = p
	}

	if o.imagePath != "" {
		data, err := os.ReadFile(o.imagePath)
		if err != nil {
			return req, fmt.Errorf("read image: %w", err)
		}
		req.ImageData = base64.StdEncoding.EncodeToString(data)
	}
	return req, nil
}

// runAsk prints each event as "<type>: <json>".
func runAsk(ctx context.Context, app *App, req pipeline.Request, out io.Writer) error {
	var failed bool
	emit := func(ev pipeline.Event) error {
		if ev.Type == pipeline.EventError {
			failed = true
		}
		data, err := json.MarshalIndent(ev.Data, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s: %s\n", ev.Type, data)
		return err
	}

	if _, err := app.Ask(ctx, req, emit); err != nil {
		return err
	}
	if failed {
		return errors.New("request failed")
	}
	return nil
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the routable tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printRoutes(cmd.OutOrStdout(), task.Default())
		},
	}
}

func printRoutes(out io.Writer, reg *task.Registry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tIMAGE\tDESCRIPTION")
	for _, t := range reg.All() {
		image := ""
		if t.RequiresImage {
			image = "required"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, image, t.Description)
	}
	return w.Flush()
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default user config if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), slog.LevelInfo, "text")
			path, err := config.NewLoader(logger).EnsureUserConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	return cmd
}

// setup loads the layered config and builds the process logger. The
// --log-level flag overrides log.level.
func setup(flags *globalFlags, stderr io.Writer) (*config.Config, *slog.Logger, error) {
	bootLevel, err := config.ParseLevel(flags.logLevel)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewLoader(newLogger(stderr, bootLevel, "text")).Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(stderr, level, cfg.Log.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
