// Package mcptools exposes the knowledge engine to MCP clients: a
// knowledge_search tool over the query engine, ingest_url for handing
// pages to the pipeline, and get_job for polling the result. The server
// mounts on the daemon's HTTP listener via the SDK's streamable
// transport and can also run standalone on stdio.
package mcptools

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/query"
)

// Ingestor is the slice of the ingest service the tools call.
type Ingestor interface {
	IngestItem(ctx context.Context, req *ingest.Request) (*ingest.Job, error)
	GetJob(ctx context.Context, jobID string) (*ingest.Job, error)
	LastEvent(jobID string) (ingest.ProgressEvent, bool)
}

// Querier answers knowledge queries.
type Querier interface {
	Query(ctx context.Context, req *query.Request) (*query.Response, error)
}

// Options configures the MCP server.
type Options struct {
	// Name and Version identify the implementation to clients.
	Name    string
	Version string

	Ingestor Ingestor
	Querier  Querier
	Logger   *logging.Logger

	// DefaultProject is used when a tool call omits project.
	DefaultProject string
}

// Server wires the tool handlers onto an MCP server instance.
type Server struct {
	mcp            *mcp.Server
	ingestor       Ingestor
	querier        Querier
	log            *logging.Logger
	metrics        *toolMetrics
	defaultProject string
}

// New builds the server and registers every tool.
func New(opts Options) (*Server, error) {
	if opts.Ingestor == nil {
		return nil, fmt.Errorf("mcptools: ingestor is required")
	}
	if opts.Querier == nil {
		return nil, fmt.Errorf("mcptools: querier is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	name := opts.Name
	if name == "" {
		name = "keeperd"
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    name,
			Version: version,
		}, nil),
		ingestor:       opts.Ingestor,
		querier:        opts.Querier,
		log:            log.Named("mcp"),
		metrics:        newToolMetrics(log),
		defaultProject: opts.DefaultProject,
	}
	s.registerTools()
	return s, nil
}

// HTTPHandler returns the streamable transport handler for mounting at
// a single path on the daemon's listener.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// Run serves MCP over stdio until ctx is cancelled. Used when the
// daemon is launched as a subprocess by an MCP client.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info(ctx, "mcp server starting on stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp run: %w", err)
	}
	return nil
}
