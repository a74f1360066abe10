package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-digest/config"
	"github.com/dhcgn/mail-digest/imap"
	"github.com/dhcgn/mail-digest/inference"
	"github.com/dhcgn/mail-digest/mbox"
	"github.com/dhcgn/mail-digest/progress"
	"github.com/dhcgn/mail-digest/runner"
	"github.com/dhcgn/mail-digest/server"
	"github.com/dhcgn/mail-digest/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mail-digest",
		Short:        "Summarize and prioritize recent emails with a local language model",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			logger.Info("starting mail-digest", "model", cfg.Model, "backend", cfg.Backend, "limit", cfg.Limit, "filter", cfg.Filter)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	serveCmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve a web dashboard that runs reports on demand",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	if err := config.RegisterServeFlags(serveCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register serve flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger := setupLogger(cfg, os.Stderr).With("run", uuid.NewString())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	timer := progress.New(cfg.Model, os.Stderr, cfg.LogLevel)
	r, err := newRunner(cfg, os.Stdout, timer, logger)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Listen == "" {
		return fmt.Errorf("--listen is required")
	}

	// Reports are returned as JSON, so they carry no terminal styling.
	pterm.DisableStyling()

	srv := server.New(cfg, func(ctx context.Context, cfg config.Config, out io.Writer) (stats.Summary, error) {
		r, err := newRunner(cfg, out, nil, logger.With("request", uuid.NewString()))
		if err != nil {
			return stats.Summary{}, err
		}
		err = r.Run(ctx)
		return r.Stats(), err
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down dashboard")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRunner wires one report run. timer may be nil when no spinner is wanted.
func newRunner(cfg config.Config, out io.Writer, timer *progress.Timer, logger *slog.Logger) (*runner.Runner, error) {
	collector := stats.NewCollector()

	source, err := newSource(cfg, collector, logger)
	if err != nil {
		return nil, err
	}

	opts := inference.Options{Budget: time.Duration(cfg.Timeout) * time.Second}
	components := runner.Components{
		Source: source,
		Stats:  collector,
		Out:    out,
	}
	if timer != nil {
		opts.OnTick = timer.Tick
		components.Progress = timer
	}
	components.Invoker = inference.NewInvoker(newGenerator(cfg), opts, logger)

	r, err := runner.New(cfg, components, logger)
	if err != nil {
		return nil, fmt.Errorf("runner.New: %w", err)
	}
	return r, nil
}

func newSource(cfg config.Config, recorder stats.Recorder, logger *slog.Logger) (runner.Source, error) {
	if cfg.MboxPath != "" {
		reader, err := mbox.NewReader(mbox.Options{Path: cfg.MboxPath}, recorder, logger)
		if err != nil {
			return nil, fmt.Errorf("mbox.NewReader: %w", err)
		}
		return reader, nil
	}

	reader, err := imap.NewReader(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Mailbox:            cfg.Mailbox,
	}, imap.Dial, recorder, logger)
	if err != nil {
		return nil, fmt.Errorf("imap.NewReader: %w", err)
	}
	return reader, nil
}

func newGenerator(cfg config.Config) inference.Generator {
	if cfg.Backend == config.BackendOpenAI {
		return inference.NewOpenAIClient(cfg.Endpoint, cfg.APIKey)
	}
	return inference.NewOllamaClient(cfg.Endpoint, nil)
}

func setupLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slog.NewTextHandler(w, opts))
}
