package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/events"
	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/query"
	"github.com/finderskeepers/keeperd/internal/session"
	"github.com/finderskeepers/keeperd/internal/source"
)

type fakeIngestor struct {
	mu        sync.Mutex
	items     []*ingest.Request
	batches   [][]*ingest.Request
	itemJob   *ingest.Job
	itemErr   error
	batchErr  error
	jobs      map[string]*ingest.Job
	cancelled []string
	events    chan events.Message
	last      map[string]ingest.ProgressEvent
	unsubbed  bool
}

func (f *fakeIngestor) IngestItem(_ context.Context, req *ingest.Request) (*ingest.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, req)
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	if f.itemJob != nil {
		return f.itemJob, nil
	}
	return &ingest.Job{ID: "job-1", Kind: ingest.JobItem, State: ingest.StateQueued, Project: req.Project}, nil
}

func (f *fakeIngestor) IngestBatch(_ context.Context, reqs []*ingest.Request) (*ingest.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, reqs)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	members := make([]string, len(reqs))
	for i := range reqs {
		members[i] = "member-" + string(rune('a'+i))
	}
	return &ingest.Job{
		ID:        "batch-1",
		Kind:      ingest.JobBatch,
		State:     ingest.StateQueued,
		Project:   reqs[0].Project,
		MemberIDs: members,
		Total:     len(reqs),
	}, nil
}

func (f *fakeIngestor) GetJob(_ context.Context, jobID string) (*ingest.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		snapshot := *job
		return &snapshot, nil
	}
	return nil, knowledge.NotFoundf("job %s", jobID)
}

func (f *fakeIngestor) CancelJob(_ context.Context, jobID string) (*ingest.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, knowledge.NotFoundf("job %s", jobID)
	}
	snapshot := *job
	snapshot.State = ingest.StateCancelled
	snapshot.Outcome = ingest.OutcomeCancelled
	return &snapshot, nil
}

func (f *fakeIngestor) Subscribe(string) (<-chan events.Message, func(), error) {
	return f.events, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubbed = true
	}, nil
}

func (f *fakeIngestor) LastEvent(jobID string) (ingest.ProgressEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.last[jobID]
	return ev, ok
}

func (f *fakeIngestor) lastItem() *ingest.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil
	}
	return f.items[len(f.items)-1]
}

func (f *fakeIngestor) lastBatch() []*ingest.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

type fakeQuerier struct {
	resp    *query.Response
	err     error
	lastReq *query.Request
}

func (f *fakeQuerier) Query(_ context.Context, req *query.Request) (*query.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &query.Response{Results: []query.Result{}}, nil
}

type fakeSessions struct {
	sessionEvents []*session.SessionEvent
	actionEvents  []*session.ActionEvent
	sessionErr    error
	actionErr     error
	sessions      map[string]*knowledge.Session
	actions       map[string][]knowledge.Action
	listed        []knowledge.Session
	lastProject   string
	lastStatus    knowledge.SessionStatus
	lastLimit     int
}

func (f *fakeSessions) HandleSessionEvent(_ context.Context, ev *session.SessionEvent) (*session.SessionAck, error) {
	f.sessionEvents = append(f.sessionEvents, ev)
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	id := ev.SessionID
	if id == "" {
		id = "sess_generated"
	}
	return &session.SessionAck{Success: true, SessionID: id, Action: ev.ActionType, Timestamp: time.Now().UTC()}, nil
}

func (f *fakeSessions) HandleActionEvent(_ context.Context, ev *session.ActionEvent) (*session.ActionAck, error) {
	f.actionEvents = append(f.actionEvents, ev)
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	return &session.ActionAck{Success: true, SessionID: ev.SessionID, ActionID: "act_1", Timestamp: time.Now().UTC()}, nil
}

func (f *fakeSessions) GetSession(_ context.Context, sessionID string) (*knowledge.Session, error) {
	if sess, ok := f.sessions[sessionID]; ok {
		return sess, nil
	}
	return nil, knowledge.NotFoundf("session %s", sessionID)
}

func (f *fakeSessions) ListSessions(_ context.Context, project string, status knowledge.SessionStatus, limit int) ([]knowledge.Session, error) {
	if status != "" {
		switch status {
		case knowledge.SessionActive, knowledge.SessionEnded, knowledge.SessionCrashed:
		default:
			return nil, knowledge.Validationf("unknown session status %q", status)
		}
	}
	f.lastProject, f.lastStatus, f.lastLimit = project, status, limit
	return f.listed, nil
}

func (f *fakeSessions) SessionActions(_ context.Context, sessionID string) ([]knowledge.Action, error) {
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, knowledge.NotFoundf("session %s", sessionID)
	}
	return f.actions[sessionID], nil
}

type fakeRepos struct {
	items   []ingest.Request
	err     error
	lastReq source.RepoRequest
}

func (f *fakeRepos) Collect(_ context.Context, req source.RepoRequest) ([]ingest.Request, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

type apiRig struct {
	e     *echo.Echo
	ing   *fakeIngestor
	q     *fakeQuerier
	sess  *fakeSessions
	repos *fakeRepos
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	r := &apiRig{
		ing: &fakeIngestor{
			jobs:   map[string]*ingest.Job{},
			last:   map[string]ingest.ProgressEvent{},
			events: make(chan events.Message, 8),
		},
		q: &fakeQuerier{},
		sess: &fakeSessions{
			sessions: map[string]*knowledge.Session{},
			actions:  map[string][]knowledge.Action{},
		},
		repos: &fakeRepos{},
	}
	h, err := New(Options{
		Ingestor:  r.ing,
		Querier:   r.q,
		Sessions:  r.sess,
		Repos:     r.repos,
		Logger:    logging.Nop(),
		Heartbeat: 25 * time.Millisecond,
	})
	require.NoError(t, err)
	r.e = echo.New()
	h.Register(r.e, nil)
	return r
}

// doJSON posts a JSON payload and returns the recorder.
func (r *apiRig) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	r.e.ServeHTTP(rec, req)
	return rec
}

// doRaw sends a prebuilt body with an explicit content type.
func (r *apiRig) doRaw(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	r.e.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a recorder body into out.
func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestNewRequiresPorts(t *testing.T) {
	base := Options{
		Ingestor: &fakeIngestor{},
		Querier:  &fakeQuerier{},
		Sessions: &fakeSessions{},
		Repos:    &fakeRepos{},
	}

	for name, mutate := range map[string]func(*Options){
		"ingestor": func(o *Options) { o.Ingestor = nil },
		"querier":  func(o *Options) { o.Querier = nil },
		"sessions": func(o *Options) { o.Sessions = nil },
		"repos":    func(o *Options) { o.Repos = nil },
	} {
		opts := base
		mutate(&opts)
		_, err := New(opts)
		require.Error(t, err, name)
	}

	h, err := New(base)
	require.NoError(t, err)
	require.Equal(t, DefaultHeartbeat, h.heartbeat)
}

func TestErrorEnvelopeStatusMapping(t *testing.T) {
	rig := newAPIRig(t)

	cases := []struct {
		name   string
		err    error
		status int
		label  string
	}{
		{"validation", knowledge.Validationf("bad input"), http.StatusBadRequest, "validation"},
		{"not_found", knowledge.NotFoundf("job x"), http.StatusNotFound, "not_found"},
		{"unsupported", knowledge.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, "unsupported_format"},
		{"internal", io.ErrUnexpectedEOF, http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rig.q.err = tc.err
			rec := rig.doJSON(t, http.MethodPost, "/api/query", map[string]string{"q": "x", "project": "p"})
			require.Equal(t, tc.status, rec.Code)

			var body errorBody
			decode(t, rec, &body)
			require.Equal(t, tc.label, body.Error)
			require.NotEmpty(t, body.Detail)
		})
	}
}
