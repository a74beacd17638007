package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/finderskeepers/keeperd/internal/events"
	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/query"
	"github.com/finderskeepers/keeperd/internal/session"
	"github.com/finderskeepers/keeperd/internal/source"
)

// Ingestor is the slice of the ingest service the HTTP layer uses.
type Ingestor interface {
	IngestItem(ctx context.Context, req *ingest.Request) (*ingest.Job, error)
	IngestBatch(ctx context.Context, reqs []*ingest.Request) (*ingest.Job, error)
	GetJob(ctx context.Context, jobID string) (*ingest.Job, error)
	CancelJob(ctx context.Context, jobID string) (*ingest.Job, error)
	Subscribe(jobID string) (<-chan events.Message, func(), error)
	LastEvent(jobID string) (ingest.ProgressEvent, bool)
}

// Querier answers knowledge queries.
type Querier interface {
	Query(ctx context.Context, req *query.Request) (*query.Response, error)
}

// Sessions is the webhook intake plus the session log read side.
type Sessions interface {
	HandleSessionEvent(ctx context.Context, ev *session.SessionEvent) (*session.SessionAck, error)
	HandleActionEvent(ctx context.Context, ev *session.ActionEvent) (*session.ActionAck, error)
	GetSession(ctx context.Context, sessionID string) (*knowledge.Session, error)
	ListSessions(ctx context.Context, project string, status knowledge.SessionStatus, limit int) ([]knowledge.Session, error)
	SessionActions(ctx context.Context, sessionID string) ([]knowledge.Action, error)
}

// RepoCollector expands a git repository into per-file ingest requests.
type RepoCollector interface {
	Collect(ctx context.Context, req source.RepoRequest) ([]ingest.Request, error)
}

// DefaultHeartbeat is the SSE keepalive cadence.
const DefaultHeartbeat = 30 * time.Second

// Options configures the handler set.
type Options struct {
	Ingestor Ingestor
	Querier  Querier
	Sessions Sessions
	Repos    RepoCollector
	Logger   *logging.Logger

	// Heartbeat overrides the SSE keepalive interval. Zero means
	// DefaultHeartbeat.
	Heartbeat time.Duration
}

// Handlers owns the route implementations.
type Handlers struct {
	ingestor  Ingestor
	querier   Querier
	sessions  Sessions
	repos     RepoCollector
	log       *logging.Logger
	heartbeat time.Duration
}

// New validates the wiring and returns the handler set.
func New(opts Options) (*Handlers, error) {
	if opts.Ingestor == nil {
		return nil, fmt.Errorf("api: ingestor is required")
	}
	if opts.Querier == nil {
		return nil, fmt.Errorf("api: querier is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("api: sessions is required")
	}
	if opts.Repos == nil {
		return nil, fmt.Errorf("api: repo collector is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handlers{
		ingestor:  opts.Ingestor,
		querier:   opts.Querier,
		sessions:  opts.Sessions,
		repos:     opts.Repos,
		log:       log.Named("api"),
		heartbeat: heartbeat,
	}, nil
}

// Register mounts every route. webhookLimit, when non-nil, wraps the two
// webhook intake routes only; the rest of the API is not rate limited.
func (h *Handlers) Register(e *echo.Echo, webhookLimit echo.MiddlewareFunc) {
	g := e.Group("/api")
	g.POST("/ingest/file", h.handleIngestFile)
	g.POST("/ingest/url", h.handleIngestURL)
	g.POST("/ingest/batch", h.handleIngestBatch)
	g.POST("/ingest/repo", h.handleIngestRepo)
	g.GET("/ingest/jobs/:id", h.handleGetJob)
	g.DELETE("/ingest/jobs/:id", h.handleCancelJob)
	g.GET("/ingest/jobs/:id/events", h.handleJobEvents)
	g.POST("/query", h.handleQuery)
	g.GET("/sessions", h.handleListSessions)
	g.GET("/sessions/:id", h.handleGetSession)
	g.GET("/sessions/:id/actions", h.handleSessionActions)

	hooks := e.Group("/webhook")
	if webhookLimit != nil {
		hooks.Use(webhookLimit)
	}
	hooks.POST("/session-logger", h.handleSessionLogger)
	hooks.POST("/action-tracker", h.handleActionTracker)
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps domain error kinds onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	label := "internal"
	switch {
	case errors.Is(err, knowledge.ErrValidation):
		status, label = http.StatusBadRequest, "validation"
	case errors.Is(err, knowledge.ErrNotFound):
		status, label = http.StatusNotFound, "not_found"
	case errors.Is(err, knowledge.ErrUnsupportedFormat):
		status, label = http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, knowledge.ErrConflict):
		status, label = http.StatusConflict, "conflict"
	case errors.Is(err, knowledge.ErrTimeout):
		status, label = http.StatusGatewayTimeout, "timeout"
	}
	return c.JSON(status, errorBody{Error: label, Detail: err.Error()})
}

// bindError reports a malformed request body as a 400 without leaking
// echo's internal bind error shape.
func bindError(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorBody{
		Error:  "validation",
		Detail: "malformed request body: " + err.Error(),
	})
}
