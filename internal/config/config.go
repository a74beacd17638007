// Package config provides configuration loading for keeperd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// KEEPERD_-prefixed environment variables, then defaulted. See loader.go
// for precedence and file validation rules.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds the complete keeperd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Relational RelationalConfig `koanf:"relational"`
	Vector     VectorConfig     `koanf:"vector"`
	Graph      GraphConfig      `koanf:"graph"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Chunker    ChunkerConfig    `koanf:"chunker"`
	URL        URLConfig        `koanf:"url"`
	Repair     RepairConfig     `koanf:"repair"`
	Query      QueryConfig      `koanf:"query"`
	Events     EventsConfig     `koanf:"events"`
	Intake     IntakeConfig     `koanf:"intake"`
	Media      MediaConfig      `koanf:"media"`
	MCP        MCPConfig        `koanf:"mcp"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	BodyLimit       string        `koanf:"body_limit"` // echo-style size string, e.g. "64M"
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug|info|warn|error
	Format string `koanf:"format"` // console|json
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"` // OTLP endpoint host:port
	Protocol    string  `koanf:"protocol"` // grpc|http
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// EmbeddingConfig drives the embedding client.
type EmbeddingConfig struct {
	Provider    string        `koanf:"provider"` // http|fastembed
	Endpoint    string        `koanf:"endpoint"` // openai-compatible base URL
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	Dim         int           `koanf:"dim"`
	BatchMax    int           `koanf:"batch_max"`
	Concurrency int           `koanf:"concurrency"`
	Timeout     time.Duration `koanf:"timeout"`
	CacheDir    string        `koanf:"cache_dir"` // fastembed model cache
}

// RelationalConfig holds the Postgres store settings.
type RelationalConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int    `koanf:"max_conns"`
}

// VectorConfig selects and configures the vector index backend.
type VectorConfig struct {
	Backend string `koanf:"backend"` // qdrant|chromem
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	UseTLS  bool   `koanf:"use_tls"`
	APIKey  string `koanf:"api_key"`
	Path    string `koanf:"path"` // chromem persistence directory
}

// GraphConfig selects and configures the graph store backend.
type GraphConfig struct {
	Backend  string `koanf:"backend"` // neo4j|memory
	URI      string `koanf:"uri"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
}

// IngestConfig controls the orchestrator and its sources.
type IngestConfig struct {
	WorkerPool      int           `koanf:"worker_pool"`
	ItemTimeout     time.Duration `koanf:"item_timeout"`
	MaxArchiveDepth int           `koanf:"max_archive_depth"`
	WatchDirs       []string      `koanf:"watch_dirs"`
	WatchProject    string        `koanf:"watch_project"`
	WatchDebounce   time.Duration `koanf:"watch_debounce"`
	MaxFileBytes    int64         `koanf:"max_file_bytes"`
}

// ChunkerConfig holds token sizing targets.
type ChunkerConfig struct {
	TargetTokens  int `koanf:"target_tokens"`
	MaxTokens     int `koanf:"max_tokens"`
	MinTokens     int `koanf:"min_tokens"`
	OverlapTokens int `koanf:"overlap_tokens"`
}

// URLConfig controls the URL fetcher.
type URLConfig struct {
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	MaxBytes     int64         `koanf:"max_bytes"`
	UserAgent    string        `koanf:"user_agent"`
}

// RepairConfig controls the index repair worker.
type RepairConfig struct {
	Interval time.Duration `koanf:"interval"`
	MaxAge   time.Duration `koanf:"max_age"`
}

// QueryConfig holds retrieval tuning.
type QueryConfig struct {
	RRFK        int     `koanf:"rrf_k"`
	DefaultTopK int     `koanf:"default_top_k"`
	GraphWeight float64 `koanf:"graph_weight"`
}

// EventsConfig selects the progress event bus backend.
type EventsConfig struct {
	Backend string `koanf:"backend"` // inproc|nats
	NATSURL string `koanf:"nats_url"`
}

// IntakeConfig controls webhook intake behavior.
type IntakeConfig struct {
	ScrubSecrets   bool    `koanf:"scrub_secrets"`
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	// SessionStaleAfter is how long a session may stay active with no end
	// event before the sweeper closes it as crashed.
	SessionStaleAfter time.Duration `koanf:"session_stale_after"`

	// SweepInterval is the cadence of the maintenance loop: stale-session
	// closing, RELATES_TO recompute, and graph-orphan pruning.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// MediaConfig configures OCR and transcription engines.
type MediaConfig struct {
	OCREndpoint        string        `koanf:"ocr_endpoint"`
	OCRTimeout         time.Duration `koanf:"ocr_timeout"`
	MinOCRConfidence   float64       `koanf:"min_ocr_confidence"`
	TranscribeBackend  string        `koanf:"transcribe_backend"` // openai|whisper_server
	TranscribeEndpoint string        `koanf:"transcribe_endpoint"`
	TranscribeModel    string        `koanf:"transcribe_model"`
	TranscribeAPIKey   string        `koanf:"transcribe_api_key"`
	TranscribeTimeout  time.Duration `koanf:"transcribe_timeout"`
}

// MCPConfig controls the MCP tool surface.
type MCPConfig struct {
	Enabled bool `koanf:"enabled"`

	// DefaultProject is used when a tool call omits project.
	DefaultProject string `koanf:"default_project"`
}

// ApplyDefaults sets default values for missing configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8400
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = "64M"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "keeperd"
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = "grpc"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "http"
	}
	if c.Embedding.Endpoint == "" {
		c.Embedding.Endpoint = "http://localhost:8080/v1"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Embedding.Dim == 0 {
		c.Embedding.Dim = 384
	}
	if c.Embedding.BatchMax == 0 {
		c.Embedding.BatchMax = 32
	}
	if c.Embedding.Concurrency == 0 {
		c.Embedding.Concurrency = 8
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30 * time.Second
	}

	if c.Relational.MaxConns == 0 {
		c.Relational.MaxConns = 8
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = "qdrant"
	}
	if c.Vector.Host == "" {
		c.Vector.Host = "localhost"
	}
	if c.Vector.Port == 0 {
		c.Vector.Port = 6334
	}
	if c.Vector.Path == "" {
		c.Vector.Path = "~/.local/share/keeperd/vectorstore"
	}

	if c.Graph.Backend == "" {
		c.Graph.Backend = "memory"
	}
	if c.Graph.URI == "" {
		c.Graph.URI = "neo4j://localhost:7687"
	}

	if c.Ingest.WorkerPool == 0 {
		c.Ingest.WorkerPool = runtime.NumCPU()
	}
	if c.Ingest.ItemTimeout == 0 {
		c.Ingest.ItemTimeout = 10 * time.Minute
	}
	if c.Ingest.MaxArchiveDepth == 0 {
		c.Ingest.MaxArchiveDepth = 3
	}
	if c.Ingest.WatchDebounce == 0 {
		c.Ingest.WatchDebounce = 2 * time.Second
	}
	if c.Ingest.MaxFileBytes == 0 {
		c.Ingest.MaxFileBytes = 100 << 20 // 100 MiB
	}

	if c.Chunker.TargetTokens == 0 {
		c.Chunker.TargetTokens = 800
	}
	if c.Chunker.MaxTokens == 0 {
		c.Chunker.MaxTokens = 1200
	}
	if c.Chunker.MinTokens == 0 {
		c.Chunker.MinTokens = 200
	}
	if c.Chunker.OverlapTokens == 0 {
		c.Chunker.OverlapTokens = 100
	}

	if c.URL.FetchTimeout == 0 {
		c.URL.FetchTimeout = 30 * time.Second
	}
	if c.URL.MaxBytes == 0 {
		c.URL.MaxBytes = 50 << 20 // 50 MiB
	}
	if c.URL.UserAgent == "" {
		c.URL.UserAgent = "keeperd/1.0 (+https://github.com/finderskeepers/keeperd)"
	}

	if c.Repair.Interval == 0 {
		c.Repair.Interval = 5 * time.Minute
	}
	if c.Repair.MaxAge == 0 {
		c.Repair.MaxAge = 24 * time.Hour
	}

	if c.Query.RRFK == 0 {
		c.Query.RRFK = 60
	}
	if c.Query.DefaultTopK == 0 {
		c.Query.DefaultTopK = 10
	}
	if c.Query.GraphWeight == 0 {
		c.Query.GraphWeight = 0.2
	}

	if c.Events.Backend == "" {
		c.Events.Backend = "inproc"
	}
	if c.Events.NATSURL == "" {
		c.Events.NATSURL = "nats://localhost:4222"
	}

	if c.Intake.RateLimitRPS == 0 {
		c.Intake.RateLimitRPS = 50
	}
	if c.Intake.RateLimitBurst == 0 {
		c.Intake.RateLimitBurst = 100
	}
	if c.Intake.SessionStaleAfter == 0 {
		c.Intake.SessionStaleAfter = 8 * time.Hour
	}
	if c.Intake.SweepInterval == 0 {
		c.Intake.SweepInterval = 15 * time.Minute
	}

	if c.Media.OCRTimeout == 0 {
		c.Media.OCRTimeout = 60 * time.Second
	}
	if c.Media.MinOCRConfidence == 0 {
		c.Media.MinOCRConfidence = 0.5
	}
	if c.Media.TranscribeBackend == "" {
		c.Media.TranscribeBackend = "openai"
	}
	if c.Media.TranscribeModel == "" {
		c.Media.TranscribeModel = "whisper-1"
	}
	if c.Media.TranscribeTimeout == 0 {
		c.Media.TranscribeTimeout = 5 * time.Minute
	}
}

// Validate checks configuration invariants. Call after ApplyDefaults.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console|json, got %q", c.Logging.Format)
	}

	switch c.Embedding.Provider {
	case "http", "fastembed":
	default:
		return fmt.Errorf("embedding.provider must be http|fastembed, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "http" && c.Embedding.Endpoint == "" {
		return fmt.Errorf("embedding.endpoint is required for the http provider")
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Embedding.BatchMax < 1 || c.Embedding.BatchMax > 32 {
		return fmt.Errorf("embedding.batch_max must be in [1,32], got %d", c.Embedding.BatchMax)
	}
	if c.Embedding.Concurrency < 1 {
		return fmt.Errorf("embedding.concurrency must be positive, got %d", c.Embedding.Concurrency)
	}

	if c.Relational.DSN == "" {
		return fmt.Errorf("relational.dsn is required")
	}

	switch c.Vector.Backend {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("vector.backend must be qdrant|chromem, got %q", c.Vector.Backend)
	}

	switch c.Graph.Backend {
	case "neo4j", "memory":
	default:
		return fmt.Errorf("graph.backend must be neo4j|memory, got %q", c.Graph.Backend)
	}
	if c.Graph.Backend == "neo4j" && c.Graph.URI == "" {
		return fmt.Errorf("graph.uri is required for the neo4j backend")
	}

	if c.Chunker.MinTokens <= 0 || c.Chunker.TargetTokens <= c.Chunker.MinTokens || c.Chunker.MaxTokens <= c.Chunker.TargetTokens {
		return fmt.Errorf("chunker token sizes must satisfy 0 < min (%d) < target (%d) < max (%d)",
			c.Chunker.MinTokens, c.Chunker.TargetTokens, c.Chunker.MaxTokens)
	}
	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.TargetTokens {
		return fmt.Errorf("chunker.overlap_tokens must be in [0, target), got %d", c.Chunker.OverlapTokens)
	}

	if c.URL.MaxBytes <= 0 {
		return fmt.Errorf("url.max_bytes must be positive, got %d", c.URL.MaxBytes)
	}

	if len(c.Ingest.WatchDirs) > 0 && c.Ingest.WatchProject == "" {
		return fmt.Errorf("ingest.watch_project is required when ingest.watch_dirs is set")
	}

	if c.Query.RRFK <= 0 {
		return fmt.Errorf("query.rrf_k must be positive, got %d", c.Query.RRFK)
	}
	if c.Query.DefaultTopK <= 0 {
		return fmt.Errorf("query.default_top_k must be positive, got %d", c.Query.DefaultTopK)
	}
	if c.Query.GraphWeight < 0 || c.Query.GraphWeight > 1 {
		return fmt.Errorf("query.graph_weight must be in [0,1], got %f", c.Query.GraphWeight)
	}

	switch c.Events.Backend {
	case "inproc", "nats":
	default:
		return fmt.Errorf("events.backend must be inproc|nats, got %q", c.Events.Backend)
	}
	if c.Events.Backend == "nats" && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required for the nats backend")
	}

	switch c.Media.TranscribeBackend {
	case "openai", "whisper_server":
	default:
		return fmt.Errorf("media.transcribe_backend must be openai|whisper_server, got %q", c.Media.TranscribeBackend)
	}
	if c.Media.MinOCRConfidence < 0 || c.Media.MinOCRConfidence > 1 {
		return fmt.Errorf("media.min_ocr_confidence must be in [0,1], got %f", c.Media.MinOCRConfidence)
	}

	return nil
}
