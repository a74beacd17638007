package mcptools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/query"
)

type fakeIngestor struct {
	lastReq *ingest.Request
	job     *ingest.Job
	jobErr  error
	last    map[string]ingest.ProgressEvent
}

func (f *fakeIngestor) IngestItem(_ context.Context, req *ingest.Request) (*ingest.Job, error) {
	f.lastReq = req
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return f.job, nil
}

func (f *fakeIngestor) GetJob(_ context.Context, jobID string) (*ingest.Job, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	if f.job != nil && f.job.ID == jobID {
		return f.job, nil
	}
	return nil, knowledge.NotFoundf("job %s", jobID)
}

func (f *fakeIngestor) LastEvent(jobID string) (ingest.ProgressEvent, bool) {
	ev, ok := f.last[jobID]
	return ev, ok
}

type fakeQuerier struct {
	lastReq *query.Request
	resp    *query.Response
	err     error
}

func (f *fakeQuerier) Query(_ context.Context, req *query.Request) (*query.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestServer(t *testing.T, ing *fakeIngestor, q *fakeQuerier) *Server {
	t.Helper()
	s, err := New(Options{
		Ingestor:       ing,
		Querier:        q,
		Logger:         logging.Nop(),
		DefaultProject: "fallback",
	})
	require.NoError(t, err)
	return s
}

func TestNewRequiresServices(t *testing.T) {
	_, err := New(Options{Querier: &fakeQuerier{}})
	require.Error(t, err)

	_, err = New(Options{Ingestor: &fakeIngestor{}})
	require.Error(t, err)
}

func TestSearchToolMapsRequestAndResults(t *testing.T) {
	q := &fakeQuerier{resp: &query.Response{
		Results: []query.Result{{
			DocumentID: "doc-1",
			Title:      "Pipeline notes",
			Snippet:    "the good part",
			Score:      0.7,
			Provenance: []string{"vector"},
			Source:     query.Source{SourceURI: "file:///notes.md"},
		}},
		TookMS: 9,
	}}
	s := newTestServer(t, &fakeIngestor{}, q)

	out, err := s.search(context.Background(), searchInput{
		Query:    "pipeline",
		Project:  "demo",
		TopK:     3,
		Mode:     "vector",
		DocTypes: []string{"file"},
		Tags:     []string{"notes"},
	})
	require.NoError(t, err)

	require.NotNil(t, q.lastReq)
	assert.Equal(t, "pipeline", q.lastReq.Q)
	assert.Equal(t, "demo", q.lastReq.Project)
	assert.Equal(t, 3, q.lastReq.TopK)
	assert.Equal(t, query.ModeVector, q.lastReq.Mode)
	assert.Equal(t, []knowledge.DocType{knowledge.DocTypeFile}, q.lastReq.Filters.DocTypes)

	assert.Equal(t, 1, out.Count)
	assert.Equal(t, int64(9), out.TookMS)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "doc-1", out.Results[0].DocumentID)
	assert.Equal(t, "file:///notes.md", out.Results[0].SourceURI)
}

func TestSearchToolUsesDefaultProject(t *testing.T) {
	q := &fakeQuerier{resp: &query.Response{}}
	s := newTestServer(t, &fakeIngestor{}, q)

	_, err := s.search(context.Background(), searchInput{Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", q.lastReq.Project)
}

func TestSearchToolRejectsUnknownMode(t *testing.T) {
	s := newTestServer(t, &fakeIngestor{}, &fakeQuerier{})

	_, err := s.search(context.Background(), searchInput{Query: "x", Mode: "psychic"})
	require.ErrorIs(t, err, knowledge.ErrValidation)
}

func TestIngestURLTool(t *testing.T) {
	ing := &fakeIngestor{job: &ingest.Job{ID: "job-1", State: ingest.StateQueued}}
	s := newTestServer(t, ing, &fakeQuerier{})

	out, err := s.ingestURL(context.Background(), ingestURLInput{
		URL:      "https://example.com/post",
		Tags:     []string{"web"},
		Priority: "low",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", out.JobID)
	assert.Equal(t, "queued", out.State)

	require.NotNil(t, ing.lastReq)
	assert.Equal(t, "fallback", ing.lastReq.Project)
	assert.Equal(t, "https://example.com/post", ing.lastReq.URL)
	assert.Equal(t, ingest.PriorityLow, ing.lastReq.Priority)
}

func TestIngestURLToolRejectsBadPriority(t *testing.T) {
	s := newTestServer(t, &fakeIngestor{}, &fakeQuerier{})

	_, err := s.ingestURL(context.Background(), ingestURLInput{URL: "https://x", Priority: "asap"})
	require.ErrorIs(t, err, knowledge.ErrValidation)
}

func TestGetJobTool(t *testing.T) {
	ing := &fakeIngestor{
		job: &ingest.Job{
			ID:         "job-2",
			State:      ingest.StateDone,
			Outcome:    ingest.OutcomeSucceeded,
			DocumentID: "doc-9",
		},
		last: map[string]ingest.ProgressEvent{
			"job-2": {JobID: "job-2", Percent: 100},
		},
	}
	s := newTestServer(t, ing, &fakeQuerier{})

	out, err := s.getJob(context.Background(), getJobInput{JobID: "job-2"})
	require.NoError(t, err)
	assert.Equal(t, "done", out.State)
	assert.Equal(t, "succeeded", out.Outcome)
	assert.Equal(t, "doc-9", out.DocumentID)
	assert.Equal(t, float64(100), out.Percent)
	assert.True(t, out.Terminal)
}

func TestGetJobToolUnknown(t *testing.T) {
	s := newTestServer(t, &fakeIngestor{}, &fakeQuerier{})

	_, err := s.getJob(context.Background(), getJobInput{JobID: "ghost"})
	require.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestHTTPHandlerIsMountable(t *testing.T) {
	s := newTestServer(t, &fakeIngestor{}, &fakeQuerier{})
	require.NotNil(t, s.HTTPHandler())
}
