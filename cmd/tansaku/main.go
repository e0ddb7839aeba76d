// Package main is the Tansaku CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/coverage"
	"github.com/hyperjump/tansaku/internal/engine"
	"github.com/hyperjump/tansaku/internal/models"
	"github.com/hyperjump/tansaku/internal/registry"
	"github.com/hyperjump/tansaku/internal/schema"
	"github.com/hyperjump/tansaku/internal/server"
	"github.com/hyperjump/tansaku/internal/storage"
	"github.com/hyperjump/tansaku/internal/task"
	"github.com/hyperjump/tansaku/internal/watcher"
	"github.com/hyperjump/tansaku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tansaku/config.yaml"

// loadConfig loads config from path. When path is the default, it first
// looks for config.yaml in the current directory (for development); if that
// exists it is used. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "load":
		runLoad()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("tansaku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: tansaku <command> [flags]

Commands:
  server    start the HTTP API server
  search    one-shot search against a configured dataset
  load      load and index the configured datasets, persisting metadata
  status    show persisted dataset metadata
  version   print the version`)
}

func engineOptions(cfg *config.Config, runner *task.Runner) engine.Options {
	return engine.Options{
		Capacity:       cfg.Engine.Capacity,
		PreloadWorkers: cfg.Engine.PreloadWorkers,
		Runner:         runner,
		Coverage: coverage.Setup{
			MinWordSize:              cfg.Coverage.MinWordSize,
			LevenshteinMaxWordSize:   cfg.Coverage.LevenshteinMaxWordSize,
			Truncate:                 cfg.Coverage.Truncate,
			TruncateWordHitTolerance: cfg.Coverage.TruncateWordHitTolerance,
			TruncateWordHitLimit:     cfg.Coverage.TruncateWordHitLimit,
			TruncationScore:          core.Score(cfg.Coverage.TruncationScore),
		},
	}
}

// hydrateDataset creates a dataset from its config entry: applies or
// discovers the schema, loads the source and builds the index.
func hydrateDataset(ctx context.Context, reg *registry.Registry, ds config.DatasetConfig, logger *zap.Logger) (*engine.Engine, error) {
	e, err := reg.Create(ds.Name)
	if err != nil {
		return nil, err
	}

	if ds.SchemaPath != "" {
		data, err := os.ReadFile(ds.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema for %q: %w", ds.Name, err)
		}
		sc, err := schema.FromYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse schema for %q: %w", ds.Name, err)
		}
		if err := e.ApplySchema(sc); err != nil {
			return nil, err
		}
	} else {
		src, err := os.Open(ds.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("open source for %q: %w", ds.Name, err)
		}
		_, err = e.DiscoverSchema(ctx, src)
		_ = src.Close()
		if err != nil {
			return nil, err
		}
	}

	src, err := os.Open(ds.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source for %q: %w", ds.Name, err)
	}
	n, err := e.LoadDocuments(ctx, src)
	_ = src.Close()
	if err != nil {
		return nil, err
	}
	logger.Info("dataset hydrated",
		zap.String("dataset", ds.Name),
		zap.String("source", ds.SourcePath),
		zap.Int("documents", n),
	)

	if err := e.BuildIndexSync(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// reloadDataset reloads a dataset from its source after a watch event.
// The schema's field definitions survive the unload.
func reloadDataset(ctx context.Context, e *engine.Engine, path string, logger *zap.Logger) {
	e.Unload()
	src, err := os.Open(path)
	if err != nil {
		logger.Warn("reload open source failed", zap.String("path", path), zap.Error(err))
		return
	}
	defer src.Close()
	if _, err := e.LoadDocuments(ctx, src); err != nil {
		logger.Warn("reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	if err := e.BuildIndexSync(ctx); err != nil {
		logger.Warn("rebuild failed", zap.String("path", path), zap.Error(err))
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open metadata store", zap.Error(err))
	}
	defer store.Close()

	runner, err := task.NewRunner(cfg.Engine.TaskWorkers, logger)
	if err != nil {
		logger.Fatal("Failed to create task runner", zap.Error(err))
	}

	reg, err := registry.New(engineOptions(cfg, runner), logger)
	if err != nil {
		logger.Fatal("Failed to create registry", zap.Error(err))
	}
	defer reg.Close()

	ctx := context.Background()
	for _, ds := range cfg.Datasets {
		e, err := hydrateDataset(ctx, reg, ds, logger)
		if err != nil {
			logger.Fatal("Failed to hydrate dataset", zap.String("dataset", ds.Name), zap.Error(err))
		}
		st := e.Status()
		schemaYAML := ""
		if data, err := e.Schema().ToYAML(); err == nil {
			schemaYAML = string(data)
		}
		if err := store.UpsertDataset(ctx, &storage.DatasetMeta{
			Name:        ds.Name,
			SchemaYAML:  schemaYAML,
			SourcePath:  ds.SourcePath,
			DocCount:    int64(st.DocumentCount),
			LastBuildAt: time.Now(),
		}); err != nil {
			logger.Warn("failed to persist dataset metadata", zap.Error(err))
		}
	}

	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(func(dataset, path string) {
		e, err := reg.Get(dataset)
		if err != nil {
			logger.Warn("watch event for unknown dataset", zap.String("dataset", dataset))
			return
		}
		reloadDataset(context.Background(), e, path, logger)
	}, watchOpts...)
	for _, ds := range cfg.Datasets {
		if ds.Watch {
			if err := watchSvc.AddSource(ds.Name, ds.SourcePath); err != nil {
				logger.Warn("failed to watch source", zap.String("path", ds.SourcePath), zap.Error(err))
			}
		}
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	srv := server.NewServer(reg, store, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dataset := fs.String("dataset", "", "dataset name (defaults to the first configured)")
	limit := fs.Int("limit", 10, "max results")
	facets := fs.Bool("facets", false, "include facet histograms")
	_ = fs.Parse(os.Args[2:])

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" && !*facets {
		fmt.Println("Usage: tansaku search [flags] <query>")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	ds, err := pickDataset(cfg, *dataset)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	reg, err := registry.New(engineOptions(cfg, nil), logger)
	if err != nil {
		fmt.Printf("Failed to create registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	ctx := context.Background()
	e, err := hydrateDataset(ctx, reg, ds, logger)
	if err != nil {
		fmt.Printf("Failed to load dataset: %v\n", err)
		os.Exit(1)
	}

	q := &models.Query{
		Text:         query,
		MaxResults:   *limit,
		EnableFacets: *facets,
		TimeoutMS:    cfg.Engine.DefaultTimeoutMS,
	}
	result, err := e.Search(ctx, q)
	if err != nil {
		fmt.Printf("Search failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d result(s) in %dms", result.Total, result.QueryTime)
	if result.DidTimeOut {
		fmt.Print(" (timed out, partial)")
	}
	fmt.Println()
	for i, hit := range result.Hits {
		raw, err := e.GetDocument(hit.Key)
		if err != nil {
			continue
		}
		fmt.Printf("%2d. [%3d] key=%d %s\n", i+1, hit.Score, hit.Key, utils.Truncate(raw, 100))
	}
	for field, counts := range result.Facets {
		fmt.Printf("\n%s:\n", field)
		for _, c := range counts {
			fmt.Printf("  %s (%d)\n", c.Value, c.Count)
		}
	}
}

func pickDataset(cfg *config.Config, name string) (config.DatasetConfig, error) {
	if len(cfg.Datasets) == 0 {
		return config.DatasetConfig{}, fmt.Errorf("no datasets configured")
	}
	if name == "" {
		return cfg.Datasets[0], nil
	}
	for _, ds := range cfg.Datasets {
		if ds.Name == name {
			return ds, nil
		}
	}
	return config.DatasetConfig{}, fmt.Errorf("dataset %q not in config", name)
}

func runLoad() {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := zap.NewNop()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open metadata store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	reg, err := registry.New(engineOptions(cfg, nil), logger)
	if err != nil {
		fmt.Printf("Failed to create registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	ctx := context.Background()
	for _, ds := range cfg.Datasets {
		e, err := hydrateDataset(ctx, reg, ds, logger)
		if err != nil {
			fmt.Printf("%s: FAILED: %v\n", ds.Name, err)
			os.Exit(1)
		}
		st := e.Status()
		schemaYAML := ""
		if data, err := e.Schema().ToYAML(); err == nil {
			schemaYAML = string(data)
		}
		if err := store.UpsertDataset(ctx, &storage.DatasetMeta{
			Name:        ds.Name,
			SchemaYAML:  schemaYAML,
			SourcePath:  ds.SourcePath,
			DocCount:    int64(st.DocumentCount),
			LastBuildAt: time.Now(),
		}); err != nil {
			fmt.Printf("%s: metadata persist failed: %v\n", ds.Name, err)
			os.Exit(1)
		}
		fmt.Printf("%s: %d document(s) indexed\n", ds.Name, st.DocumentCount)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open metadata store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	metas, err := store.ListDatasets(context.Background())
	if err != nil {
		fmt.Printf("Failed to list datasets: %v\n", err)
		os.Exit(1)
	}
	if len(metas) == 0 {
		fmt.Println("No datasets.")
		return
	}
	for _, m := range metas {
		lastBuild := "never"
		if !m.LastBuildAt.IsZero() {
			lastBuild = m.LastBuildAt.Format(time.RFC3339)
		}
		fmt.Printf("%s: %d document(s), %d search(es), last build %s\n",
			m.Name, m.DocCount, m.SearchCount, lastBuild)
	}
}
