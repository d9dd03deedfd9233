// ABOUTME: Entry point for the megatable record server.
// ABOUTME: Wires config, store, query engine, and HTTP handlers behind cobra commands.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/2389/megatable/internal/api"
	"github.com/2389/megatable/internal/config"
	"github.com/2389/megatable/internal/generator"
	"github.com/2389/megatable/internal/ingest"
	"github.com/2389/megatable/internal/logging"
	"github.com/2389/megatable/internal/metrics"
	"github.com/2389/megatable/internal/query"
	"github.com/2389/megatable/internal/record"
	"github.com/2389/megatable/internal/seed"
	"github.com/2389/megatable/internal/store"
)

var (
	configPath string
	dbPath     string
	logLevel   string
	port       string

	queryOffset int
	queryLimit  int
	querySearch string
	querySort   string
	queryDir    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "megatable",
		Short: "Browse a million customer records through a small persisted prefix",
		Long: `megatable serves a logical table of customer records. The first records are
persisted in SQLite; every other row is synthesized on demand from its id, so
any window of the table can be served without storing it.

Quick Start:
  megatable seed          # Persist the prefix
  megatable serve         # Start server on port 9000
  megatable reset         # Wipe and reseed database

Configuration is read from an optional YAML file (--config or MEGATABLE_CONFIG),
then .env, then MEGATABLE_* environment variables, then flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			level, _ := cfg.Level()
			slog.SetDefault(newLogger(os.Stderr, level))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the megatable HTTP server.

Endpoints:
  GET /healthz
  GET /api/records?offset=&limit=&q=&sort=&dir=
  GET /api/navigate?fraction=|row=|offset=&move=  (plus pageSize, q)
  GET /api/stats
  GET /api/stream    (WebSocket navigation session)
  GET /metrics       (Prometheus)`,
		RunE: runServe,
	}
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default from config)")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Persist the record prefix",
		Long: `Write the persisted prefix into the database in chunks.

Seeding is idempotent: existing ids are overwritten. Set OPENAI_API_KEY and
ai_names to replace the first names with AI-generated ones.`,
		RunE: runSeed,
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the database (wipe and reseed)",
		Long: `Delete the database file and create a fresh one with a newly seeded prefix.

Warning: This permanently deletes all data in the database!`,
		RunE: runReset,
	}

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Print one window of records as JSON",
		RunE:  runQuery,
	}
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "Window start")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Window length (default page_size)")
	queryCmd.Flags().StringVarP(&querySearch, "search", "q", "", "Search term")
	queryCmd.Flags().StringVar(&querySort, "sort", "id", "Sort field")
	queryCmd.Flags().StringVar(&queryDir, "dir", "asc", "Sort direction")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print dataset size and persisted count",
		RunE:  runStats,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write every persisted record as JSON lines",
		RunE:  runExport,
	}

	rootCmd.AddCommand(serveCmd, seedCmd, resetCmd, queryCmd, statsCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig loads the configuration and applies flag overrides.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	cfg.DBPath, err = config.ValidateDBPath(cfg.DBPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(w *os.File, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(colorable.NewColorable(w), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(w.Fd()),
	}))
}

func openStore(cfg config.Config) (*store.Store, error) {
	if err := config.EnsureDir(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return store.New(cfg.DBPath)
}

func newEngine(s *store.Store, cfg config.Config, obs query.Observer) *query.Engine {
	return query.New(s, generator.New(time.Now()), query.Options{
		Total:     cfg.Total,
		Persisted: cfg.Persisted,
		Observer:  obs,
	})
}

func newServer(cfg config.Config) (http.Handler, *store.Store, error) {
	s, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	collector := metrics.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(slog.Default()))
	r.Use(collector.Middleware)

	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", collector.Handler())

	api.NewHandlers(newEngine(s, cfg, collector), cfg.PageSize).RegisterRoutes(r)

	return r, s, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, s, err := newServer(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	addr := ":" + cfg.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("megatable server listening", "addr", addr, "db", cfg.DBPath,
			"total", cfg.Total, "persisted", cfg.Persisted)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	_, err = seedData(ctx, s, cfg, seed.NewGenerator())
	return err
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// Remove existing database and its WAL files; ignore if they don't exist
	for _, p := range []string{cfg.DBPath, cfg.DBPath + "-wal", cfg.DBPath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing database: %w", err)
		}
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	_, err = seedData(ctx, s, cfg, seed.NewGenerator())
	return err
}

// seedData writes ids 1..cfg.Persisted and returns the ingestion counters.
// When names is enabled, the first cfg.AINames records take AI-generated
// names.
func seedData(ctx context.Context, s *store.Store, cfg config.Config, names *seed.Generator) (metrics.IngestSummary, error) {
	logger := slog.With("run", uuid.NewString())
	logger.Info("seeding database", "records", cfg.Persisted, "chunk_size", cfg.ChunkSize)

	collector := metrics.New()

	var overlay []string
	if cfg.AINames > 0 && names != nil {
		overlay = names.Names(ctx, cfg.AINames)
	}

	loader := ingest.New(s, ingest.Options{
		ChunkSize:       cfg.ChunkSize,
		ChunksPerSecond: cfg.ChunksPerSecond,
		Retries:         cfg.WriteRetries,
		Logger:          logger,
		Observer:        collector,
	})

	start := time.Now()
	nextReport := 0.1
	err := loader.Load(ctx, ingest.Source(generator.New(time.Now()), cfg.Persisted, overlay), cfg.Persisted,
		func(p ingest.Progress) {
			logger.Debug("chunk committed", "chunk", p.Chunks, "written", p.Written)
			if p.Total > 0 && float64(p.Written)/float64(p.Total) >= nextReport {
				logger.Info("seeding progress", "written", p.Written, "total", p.Total)
				nextReport += 0.1
			}
		})
	summary := collector.IngestSummary()
	if err != nil {
		logger.Error("seeding stopped", "chunks", summary.Chunks, "failed_chunks", summary.Failed, "records", summary.Records)
		return summary, fmt.Errorf("seeding failed: %w", err)
	}

	logger.Info("seeding complete",
		"records", summary.Records,
		"chunks", summary.Chunks,
		"ai_names", len(overlay),
		"elapsed", time.Since(start))
	return summary, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	field, err := record.ParseField(querySort)
	if err != nil {
		return err
	}
	dir, err := record.ParseDirection(queryDir)
	if err != nil {
		return err
	}
	limit := queryLimit
	if limit == 0 {
		limit = cfg.PageSize
	}

	page, err := newEngine(s, cfg, nil).Query(cmd.Context(), query.Request{
		Offset: queryOffset,
		Limit:  limit,
		Search: querySearch,
		Sort:   field,
		Dir:    dir,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(page)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := newEngine(s, cfg, nil).Persisted(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "total:     %d\npersisted: %d / %d\ndatabase:  %s\n",
		cfg.Total, n, cfg.Persisted, cfg.DBPath)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := exportRecords(cmd.Context(), s, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	slog.Info("export complete", "records", n)
	return nil
}

// exportRecords streams every persisted record to w, one JSON object per line.
func exportRecords(ctx context.Context, s *store.Store, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	n := 0
	for r, err := range s.ScanAll(ctx) {
		if err != nil {
			return n, err
		}
		if err := enc.Encode(r); err != nil {
			return n, fmt.Errorf("failed to write record %d: %w", r.ID, err)
		}
		n++
	}
	return n, bw.Flush()
}
