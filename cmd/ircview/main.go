// Command ircview serves IRC log search sessions.
//
// Usage:
//
//	ircview -c config.yaml
//	ircview ask -c config.yaml "who reported the gateway latency?"
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ircarchive/ircview/pkg/config"
	"github.com/ircarchive/ircview/pkg/controller"
	"github.com/ircarchive/ircview/pkg/domain"
	"github.com/ircarchive/ircview/pkg/gate"
	"github.com/ircarchive/ircview/pkg/logs"
	"github.com/ircarchive/ircview/pkg/metrics"
	"github.com/ircarchive/ircview/pkg/model"
	"github.com/ircarchive/ircview/pkg/model/anthropic"
	"github.com/ircarchive/ircview/pkg/model/gemini"
	"github.com/ircarchive/ircview/pkg/output"
	"github.com/ircarchive/ircview/pkg/server"
	"github.com/ircarchive/ircview/pkg/store/sqlite"
)

var (
	configPath string
	verbose    bool
	askChannel string
)

var rootCmd = &cobra.Command{
	Use:          "ircview",
	Short:        "Browse and search IRC logs with a tool-calling model",
	SilenceUsage: true,
	RunE:         runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Run one search session and print its events",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	askCmd.Flags().StringVar(&askChannel, "channel", "", "channel the search is about, e.g. OFTC/#example")
	rootCmd.AddCommand(askCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the components built from the configuration.
type app struct {
	cfg     *config.Config
	tree    *logs.Tree
	metrics *metrics.Metrics
	writer  *output.Writer
	catalog *sqlite.Store
	ctrl    *controller.Controller
	gate    *gate.Gate
}

func (a *app) Close() {
	if a.catalog != nil {
		a.catalog.Close()
	}
}

// setup loads the configuration and builds every component. It returns a
// nil app when a default configuration was just written.
func setup(ctx context.Context) (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load(configPath)
	if errors.Is(err, config.ErrNotExist) {
		if err := config.WriteDefault(configPath); err != nil {
			return nil, err
		}
		fmt.Printf("Wrote default configuration to %s. Edit it and run again.\n", configPath)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.FillAPIKey(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)

	for _, dir := range cfg.LogsDirs {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("logs directory %s is not accessible", dir)
		}
	}
	a := &app{
		cfg:     cfg,
		tree:    logs.Discover(cfg.LogsDirs),
		metrics: metrics.New(),
	}
	slog.Info("Discovered channels", "count", len(a.tree.Channels()))

	ai := cfg.AI
	if ai == nil {
		return a, nil
	}
	if err := os.MkdirAll(ai.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	provider, err := newProvider(ctx, ai)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(ai.CatalogPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}
	a.catalog, err = sqlite.New(ai.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	a.writer = output.NewWriter(ai.OutputDir, cfg.PublicURL())
	a.gate = gate.New(int64(ai.MaxConcurrent), gate.WithMetrics(a.metrics))
	a.ctrl = controller.New(controller.Config{
		Model:                 ai.Model,
		MaxTokens:             ai.MaxTokens,
		MaxToolCalls:          ai.MaxToolCalls,
		SystemPrompt:          ai.SystemPrompt,
		SearchLimit:           cfg.SearchLimit,
		RequestTimeout:        ai.RequestTimeout,
		ReportBudgetExhausted: ai.ReportBudgetExhausted,
		ReportWriteErrors:     ai.ReportWriteErrors,
	}, provider, a.tree, a.writer,
		controller.WithArtifactStore(a.catalog),
		controller.WithMetrics(a.metrics),
	)
	slog.Info("AI enabled", "provider", provider.Name(), "model", ai.Model, "maxConcurrent", ai.MaxConcurrent)
	return a, nil
}

func newProvider(ctx context.Context, ai *config.AIConfig) (model.Provider, error) {
	switch ai.Provider {
	case "gemini":
		p, err := gemini.New(ctx, ai.APIKey)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini provider: %w", err)
		}
		return p, nil
	default:
		return anthropic.New(ai.APIKey, anthropic.WithBaseURL(ai.APIURL)), nil
	}
}

func setupLogging(lc config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if lc.File != "" {
		w = &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil || a == nil {
		return err
	}
	defer a.Close()

	opts := []server.Option{
		server.WithTitle(a.cfg.Title),
		server.WithBasePath(a.cfg.BasePath),
		server.WithMetrics(a.metrics),
	}
	if a.ctrl != nil {
		opts = append(opts,
			server.WithAsk(a.ctrl, a.gate, a.writer),
			server.WithArtifactStore(a.catalog),
		)
	}
	srv := server.New(a.tree, opts...)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(a.cfg.Bind) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server shutdown", "error", err)
		}
	}
	if a.gate != nil {
		a.gate.Wait()
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setup(ctx)
	if err != nil || a == nil {
		return err
	}
	defer a.Close()
	if a.ctrl == nil {
		return errors.New("the ai section of the configuration is not set")
	}

	query := strings.Join(args, " ")
	if askChannel != "" {
		if _, err := a.tree.Lookup(askChannel); err != nil {
			return err
		}
	}
	q, err := a.gate.Admit(ctx, func(ctx context.Context, q *gate.Queue) {
		a.ctrl.Run(ctx, controller.NewSession(query, askChannel), q)
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := false
	for ev := range q.Events() {
		switch ev.Type {
		case domain.EventToolCall:
			fmt.Fprintf(out, "> %s %s\n", ev.Name, ev.InputSummary)
		case domain.EventToolResult:
			fmt.Fprintf(out, "< %s\n", firstLine(ev.Preview))
		case domain.EventDisplay:
			fmt.Fprintf(out, "* %s\n", ev.Text)
		case domain.EventDone:
			fmt.Fprintf(out, "\n%s\nSaved to %s\n", ev.Output, ev.URL)
		case domain.EventError:
			fmt.Fprintf(out, "error: %s\n", ev.Message)
			failed = true
		}
	}
	if failed {
		return errors.New("search failed")
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
