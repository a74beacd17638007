// Keeperd is the FindersKeepers knowledge daemon.
//
// It ingests files, URLs, git repositories, and live agent-session webhooks
// into a three-store knowledge base (Postgres+pgvector, a vector index, and
// a graph store) and answers hybrid retrieval queries over HTTP and MCP.
//
// Configuration is loaded from ~/.config/keeperd/config.yaml and overridden
// by KEEPERD_-prefixed environment variables. See internal/config for the
// full schema.
//
// Usage:
//
//	# Start the daemon with defaults
//	keeperd
//
//	# Explicit config file
//	keeperd --config /etc/keeperd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/api"
	"github.com/finderskeepers/keeperd/internal/chunk"
	"github.com/finderskeepers/keeperd/internal/config"
	"github.com/finderskeepers/keeperd/internal/embed"
	"github.com/finderskeepers/keeperd/internal/events"
	"github.com/finderskeepers/keeperd/internal/extract"
	"github.com/finderskeepers/keeperd/internal/extract/ocr"
	"github.com/finderskeepers/keeperd/internal/extract/transcribe"
	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/mcptools"
	"github.com/finderskeepers/keeperd/internal/query"
	"github.com/finderskeepers/keeperd/internal/secrets"
	"github.com/finderskeepers/keeperd/internal/server"
	"github.com/finderskeepers/keeperd/internal/session"
	"github.com/finderskeepers/keeperd/internal/source"
	"github.com/finderskeepers/keeperd/internal/store/graph"
	"github.com/finderskeepers/keeperd/internal/store/relational"
	"github.com/finderskeepers/keeperd/internal/store/vector"
	"github.com/finderskeepers/keeperd/internal/telemetry"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file path (default ~/.config/keeperd/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  keeperd            Start the keeperd daemon\n")
			fmt.Fprintf(os.Stderr, "  keeperd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("keeperd: %v", err)
	}

	log.Println("shutdown complete")
}

func printVersion() {
	fmt.Printf("keeperd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Logger and telemetry
//  3. Infrastructure: stores, event bus, embedder
//  4. Domain services: extraction, ingestion, sessions, query
//  5. HTTP server, API routes, MCP mount, watcher
//
// Shutdown unwinds in reverse: the HTTP server drains first, then the
// watcher and ingest workers stop, then stores close, then telemetry
// flushes.
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting keeperd",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("graph_backend", cfg.Graph.Backend),
		zap.String("events_backend", cfg.Events.Backend))

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()
	if tel.IsEnabled() {
		logger = logger.WithOTelBridge("keeperd", tel.LoggerProvider())
	}

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close(logger)

	svcs, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}

	svcs.ingest.Start(ctx)
	defer svcs.ingest.Stop()
	svcs.ingest.StartRepair(ctx, ingest.RepairConfig{
		Interval: cfg.Repair.Interval,
		MaxAge:   cfg.Repair.MaxAge,
	})

	go runMaintenance(ctx, cfg, svcs.session, deps.relational, deps.graph, logger)

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		BodyLimit:       cfg.Server.BodyLimit,
		WebhookRPS:      cfg.Intake.RateLimitRPS,
		WebhookBurst:    cfg.Intake.RateLimitBurst,
	}, logger)
	srv.RegisterReadiness("relational", deps.relational.Healthz)
	srv.RegisterReadiness("vector", deps.vector.Healthz)
	srv.RegisterReadiness("graph", deps.graph.Healthz)

	handlers, err := api.New(api.Options{
		Ingestor: svcs.ingest,
		Querier:  svcs.query,
		Sessions: svcs.session,
		Repos:    svcs.repos,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("initialize http handlers: %w", err)
	}
	handlers.Register(srv.Echo(), srv.WebhookRateLimit())

	if cfg.MCP.Enabled {
		mcpSrv, err := mcptools.New(mcptools.Options{
			Name:           "keeperd",
			Version:        version,
			Ingestor:       svcs.ingest,
			Querier:        svcs.query,
			Logger:         logger,
			DefaultProject: cfg.MCP.DefaultProject,
		})
		if err != nil {
			return fmt.Errorf("initialize mcp server: %w", err)
		}
		srv.Echo().Any("/mcp", echo.WrapHandler(mcpSrv.HTTPHandler()))
	}

	srv.Echo().GET("/metrics", echo.WrapHandler(tel.MetricsHandler()))

	if len(cfg.Ingest.WatchDirs) > 0 {
		watcher, err := source.NewWatcher(source.WatcherConfig{
			Dirs:         cfg.Ingest.WatchDirs,
			Project:      cfg.Ingest.WatchProject,
			Debounce:     cfg.Ingest.WatchDebounce,
			MaxFileBytes: cfg.Ingest.MaxFileBytes,
		}, svcs.ingest, logger)
		if err != nil {
			return fmt.Errorf("directory watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start directory watcher: %w", err)
		}
		defer watcher.Stop()
		logger.Info(ctx, "watching directories",
			zap.Strings("dirs", cfg.Ingest.WatchDirs),
			zap.String("project", cfg.Ingest.WatchProject))
	}

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", "/health"),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled))

	return srv.Start(ctx)
}

// telemetryConfig maps daemon configuration onto the telemetry package.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	proto := cfg.Telemetry.Protocol
	if proto == "http" {
		proto = "http/protobuf"
	}
	return &telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       proto,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
}

// dependencies holds the infrastructure the domain services are built on.
type dependencies struct {
	relational *relational.Store
	vector     vector.Store
	graph      graph.Store
	bus        events.Bus
	embedder   *embed.Client
}

// Close releases infrastructure in reverse dependency order. Safe to call
// with partially initialized fields.
func (d *dependencies) Close(log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			log.Warn(ctx, "embedder close failed", zap.Error(err))
		}
	}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			log.Warn(ctx, "event bus close failed", zap.Error(err))
		}
	}
	if d.graph != nil {
		if err := d.graph.Close(ctx); err != nil {
			log.Warn(ctx, "graph store close failed", zap.Error(err))
		}
	}
	if d.vector != nil {
		if err := d.vector.Close(); err != nil {
			log.Warn(ctx, "vector index close failed", zap.Error(err))
		}
	}
	if d.relational != nil {
		d.relational.Close()
	}
}

// initDependencies connects the three stores, the event bus, and the
// embedding client, and installs schemas where the backend has one.
func initDependencies(ctx context.Context, cfg *config.Config, log *logging.Logger) (*dependencies, error) {
	deps := &dependencies{}
	ok := false
	defer func() {
		if !ok {
			deps.Close(log)
		}
	}()

	rv, err := relational.New(ctx, relational.Config{
		DSN:      cfg.Relational.DSN,
		MaxConns: cfg.Relational.MaxConns,
		Dim:      cfg.Embedding.Dim,
		ModelID:  cfg.Embedding.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("relational store: %w", err)
	}
	deps.relational = rv
	if err := rv.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("relational schema: %w", err)
	}
	log.Info(ctx, "relational store ready", zap.Int("dim", cfg.Embedding.Dim))

	switch cfg.Vector.Backend {
	case "qdrant":
		qs, err := vector.NewQdrantStore(vector.QdrantConfig{
			Host:   cfg.Vector.Host,
			Port:   cfg.Vector.Port,
			APIKey: cfg.Vector.APIKey,
			UseTLS: cfg.Vector.UseTLS,
			Dim:    cfg.Embedding.Dim,
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant store: %w", err)
		}
		deps.vector = qs
	case "chromem":
		cs, err := vector.NewChromemStore(cfg.Vector.Path, cfg.Embedding.Dim)
		if err != nil {
			return nil, fmt.Errorf("chromem store: %w", err)
		}
		deps.vector = cs
	}
	log.Info(ctx, "vector index ready", zap.String("backend", cfg.Vector.Backend))

	switch cfg.Graph.Backend {
	case "neo4j":
		gs, err := graph.NewNeo4jStore(ctx, graph.Neo4jConfig{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("neo4j store: %w", err)
		}
		deps.graph = gs
	case "memory":
		deps.graph = graph.NewMemoryStore()
	}
	if err := deps.graph.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	log.Info(ctx, "graph store ready", zap.String("backend", cfg.Graph.Backend))

	switch cfg.Events.Backend {
	case "nats":
		nb, err := events.ConnectNATS(cfg.Events.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		deps.bus = nb
		log.Info(ctx, "connected to nats", zap.String("url", cfg.Events.NATSURL))
	case "inproc":
		deps.bus = events.NewInprocBus()
	}

	provider, err := embed.NewProvider(embed.ProviderConfig{
		Provider: cfg.Embedding.Provider,
		Endpoint: cfg.Embedding.Endpoint,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
		Dim:      cfg.Embedding.Dim,
		CacheDir: cfg.Embedding.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	deps.embedder = embed.NewClient(provider, embed.Config{
		Dim:         cfg.Embedding.Dim,
		BatchMax:    cfg.Embedding.BatchMax,
		Concurrency: cfg.Embedding.Concurrency,
		Timeout:     cfg.Embedding.Timeout,
	})
	log.Info(ctx, "embedding client ready",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model))

	ok = true
	return deps, nil
}

// services holds the domain services wired onto the dependencies.
type services struct {
	ingest  *ingest.Service
	session *session.Service
	query   *query.Engine
	repos   *source.RepoSource
}

// initServices builds the extraction registry, the ingest pipeline, the
// session log, and the query engine.
func initServices(cfg *config.Config, deps *dependencies, log *logging.Logger) (*services, error) {
	var ocrEngine ocr.Engine
	if cfg.Media.OCREndpoint != "" {
		engine, err := ocr.NewHTTPEngine(cfg.Media.OCREndpoint, cfg.Media.OCRTimeout)
		if err != nil {
			return nil, fmt.Errorf("ocr engine: %w", err)
		}
		ocrEngine = engine
	}

	// Transcription stays off unless its backend is actually reachable:
	// the registry treats a nil transcriber as "media unsupported".
	var transcriber transcribe.Transcriber
	switch cfg.Media.TranscribeBackend {
	case "openai":
		if cfg.Media.TranscribeAPIKey != "" {
			transcriber = transcribe.NewOpenAI(cfg.Media.TranscribeEndpoint, cfg.Media.TranscribeAPIKey, cfg.Media.TranscribeModel)
		}
	case "whisper_server":
		if cfg.Media.TranscribeEndpoint != "" {
			ws, err := transcribe.NewWhisperServer(cfg.Media.TranscribeEndpoint, cfg.Media.TranscribeModel, cfg.Media.TranscribeTimeout)
			if err != nil {
				return nil, fmt.Errorf("whisper transcriber: %w", err)
			}
			transcriber = ws
		}
	}

	extractor := extract.NewRegistry(extract.Options{
		OCR:              ocrEngine,
		Transcriber:      transcriber,
		MinOCRConfidence: cfg.Media.MinOCRConfidence,
		MaxArchiveDepth:  cfg.Ingest.MaxArchiveDepth,
	})

	chunker := chunk.New(chunk.Config{
		TargetTokens:  cfg.Chunker.TargetTokens,
		MaxTokens:     cfg.Chunker.MaxTokens,
		MinTokens:     cfg.Chunker.MinTokens,
		OverlapTokens: cfg.Chunker.OverlapTokens,
	})

	fetcher := source.NewFetcher(source.FetcherConfig{
		Timeout:   cfg.URL.FetchTimeout,
		MaxBytes:  cfg.URL.MaxBytes,
		UserAgent: cfg.URL.UserAgent,
	}, log)

	ingestSvc, err := ingest.New(ingest.Options{
		Config: ingest.Config{
			Workers:         cfg.Ingest.WorkerPool,
			ItemTimeout:     cfg.Ingest.ItemTimeout,
			MaxArchiveDepth: cfg.Ingest.MaxArchiveDepth,
			MaxFileBytes:    cfg.Ingest.MaxFileBytes,
		},
		Logger:     log,
		Extractor:  extractor,
		Chunker:    chunker,
		Embedder:   deps.embedder,
		Relational: deps.relational,
		Vector:     deps.vector,
		Graph:      deps.graph,
		Bus:        deps.bus,
		Fetcher:    fetcher,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest service: %w", err)
	}

	scrubber, err := secrets.New(secrets.Config{Enabled: cfg.Intake.ScrubSecrets})
	if err != nil {
		return nil, fmt.Errorf("secret scrubber: %w", err)
	}

	sessionSvc, err := session.New(deps.relational, ingestSvc, scrubber, log)
	if err != nil {
		return nil, fmt.Errorf("session service: %w", err)
	}

	queryEngine, err := query.New(query.Options{
		Relational:  deps.relational,
		Vector:      deps.vector,
		Graph:       deps.graph,
		Embedder:    deps.embedder,
		Logger:      log,
		GraphWeight: cfg.Query.GraphWeight,
		RRFK:        cfg.Query.RRFK,
		DefaultTopK: cfg.Query.DefaultTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("query engine: %w", err)
	}

	return &services{
		ingest:  ingestSvc,
		session: sessionSvc,
		query:   queryEngine,
		repos:   source.NewRepoSource(log),
	}, nil
}

// runMaintenance closes crashed sessions, refreshes RELATES_TO edges, and
// prunes orphaned graph nodes on a fixed cadence until ctx is cancelled.
func runMaintenance(ctx context.Context, cfg *config.Config, sessions *session.Service, rv *relational.Store, gr graph.Store, log *logging.Logger) {
	ticker := time.NewTicker(cfg.Intake.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-cfg.Intake.SessionStaleAfter)
		if n, err := sessions.SweepStaleSessions(ctx, cutoff); err != nil {
			log.Warn(ctx, "stale session sweep failed", zap.Error(err))
		} else if n > 0 {
			log.Info(ctx, "closed stale sessions", zap.Int("count", n))
		}

		projects, err := rv.ListProjects(ctx)
		if err != nil {
			log.Warn(ctx, "list projects for relation recompute failed", zap.Error(err))
		}
		for _, project := range projects {
			if n, err := gr.RecomputeRelations(ctx, project, graph.DefaultMinSharedTags); err != nil {
				log.Warn(ctx, "relation recompute failed",
					zap.String("project", project), zap.Error(err))
			} else if n > 0 {
				log.Info(ctx, "recomputed document relations",
					zap.String("project", project), zap.Int("pairs", n))
			}
		}

		if n, err := gr.SweepOrphans(ctx); err != nil {
			log.Warn(ctx, "graph orphan sweep failed", zap.Error(err))
		} else if n > 0 {
			log.Info(ctx, "pruned orphaned graph nodes", zap.Int("count", n))
		}
	}
}
