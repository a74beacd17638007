package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/query"
)

type searchInput struct {
	Query    string   `json:"query" jsonschema:"required,What to search for"`
	Project  string   `json:"project,omitempty" jsonschema:"Project to search in (server default when omitted)"`
	TopK     int      `json:"top_k,omitempty" jsonschema:"Maximum results (default 10)"`
	Mode     string   `json:"mode,omitempty" jsonschema:"Retrieval mode: hybrid, vector, keyword, or graph-augmented (default hybrid)"`
	DocTypes []string `json:"doc_types,omitempty" jsonschema:"Restrict to document types"`
	Tags     []string `json:"tags,omitempty" jsonschema:"Restrict to documents carrying all of these tags"`
}

type searchResult struct {
	DocumentID string   `json:"document_id" jsonschema:"Document identifier"`
	Title      string   `json:"title" jsonschema:"Document title"`
	Snippet    string   `json:"snippet" jsonschema:"Best-matching excerpt"`
	Score      float64  `json:"score" jsonschema:"Fused relevance score"`
	Provenance []string `json:"provenance" jsonschema:"Which retrieval paths found it"`
	SourceURI  string   `json:"source_uri,omitempty" jsonschema:"Where the document came from"`
}

type searchOutput struct {
	Results []searchResult `json:"results" jsonschema:"Ranked results"`
	Count   int            `json:"count" jsonschema:"Number of results"`
	TookMS  int64          `json:"took_ms" jsonschema:"Query latency in milliseconds"`
}

type ingestURLInput struct {
	URL      string   `json:"url" jsonschema:"required,Page to fetch and ingest"`
	Project  string   `json:"project,omitempty" jsonschema:"Project to file the document under (server default when omitted)"`
	Tags     []string `json:"tags,omitempty" jsonschema:"Tags to attach"`
	Priority string   `json:"priority,omitempty" jsonschema:"Queue priority: high, normal, or low"`
}

type ingestURLOutput struct {
	JobID string `json:"job_id" jsonschema:"Handle for polling with get_job"`
	State string `json:"state" jsonschema:"Job state at submission"`
}

type getJobInput struct {
	JobID string `json:"job_id" jsonschema:"required,Job handle returned by an ingest tool"`
}

type getJobOutput struct {
	JobID      string  `json:"job_id" jsonschema:"Job identifier"`
	State      string  `json:"state" jsonschema:"Current pipeline state"`
	Percent    float64 `json:"percent" jsonschema:"Coarse progress"`
	Outcome    string  `json:"outcome,omitempty" jsonschema:"Final outcome once terminal"`
	DocumentID string  `json:"document_id,omitempty" jsonschema:"Resulting document id"`
	Error      string  `json:"error,omitempty" jsonschema:"Failure detail"`
	Terminal   bool    `json:"terminal" jsonschema:"Whether the job is finished"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "knowledge_search",
		Description: "Search the knowledge base with hybrid vector + keyword retrieval",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args searchInput) (_ *mcp.CallToolResult, out searchOutput, toolErr error) {
		start := time.Now()
		s.metrics.active(ctx, "knowledge_search", 1)
		defer func() {
			s.metrics.active(ctx, "knowledge_search", -1)
			s.metrics.invocation(ctx, "knowledge_search", time.Since(start), toolErr)
		}()

		out, toolErr = s.search(ctx, args)
		if toolErr != nil {
			return nil, searchOutput{}, toolErr
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%d results in %dms", out.Count, out.TookMS)},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_url",
		Description: "Fetch a URL and ingest it into the knowledge base",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args ingestURLInput) (_ *mcp.CallToolResult, out ingestURLOutput, toolErr error) {
		start := time.Now()
		s.metrics.active(ctx, "ingest_url", 1)
		defer func() {
			s.metrics.active(ctx, "ingest_url", -1)
			s.metrics.invocation(ctx, "ingest_url", time.Since(start), toolErr)
		}()

		out, toolErr = s.ingestURL(ctx, args)
		if toolErr != nil {
			return nil, ingestURLOutput{}, toolErr
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "queued as " + out.JobID},
			},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_job",
		Description: "Check the status of an ingestion job",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args getJobInput) (_ *mcp.CallToolResult, out getJobOutput, toolErr error) {
		start := time.Now()
		s.metrics.active(ctx, "get_job", 1)
		defer func() {
			s.metrics.active(ctx, "get_job", -1)
			s.metrics.invocation(ctx, "get_job", time.Since(start), toolErr)
		}()

		out, toolErr = s.getJob(ctx, args)
		if toolErr != nil {
			return nil, getJobOutput{}, toolErr
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%s: %s", out.JobID, out.State)},
			},
		}, out, nil
	})
}

func (s *Server) project(override string) string {
	if override != "" {
		return override
	}
	return s.defaultProject
}

func (s *Server) search(ctx context.Context, args searchInput) (searchOutput, error) {
	mode, err := query.ParseMode(args.Mode)
	if err != nil {
		return searchOutput{}, err
	}
	var docTypes []knowledge.DocType
	for _, dt := range args.DocTypes {
		docTypes = append(docTypes, knowledge.DocType(dt))
	}
	resp, err := s.querier.Query(ctx, &query.Request{
		Q:       args.Query,
		Project: s.project(args.Project),
		TopK:    args.TopK,
		Mode:    mode,
		Filters: query.Filters{
			DocTypes: docTypes,
			Tags:     args.Tags,
		},
	})
	if err != nil {
		return searchOutput{}, err
	}

	out := searchOutput{
		Results: make([]searchResult, 0, len(resp.Results)),
		Count:   len(resp.Results),
		TookMS:  resp.TookMS,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, searchResult{
			DocumentID: r.DocumentID,
			Title:      r.Title,
			Snippet:    r.Snippet,
			Score:      r.Score,
			Provenance: r.Provenance,
			SourceURI:  r.Source.SourceURI,
		})
	}
	return out, nil
}

func (s *Server) ingestURL(ctx context.Context, args ingestURLInput) (ingestURLOutput, error) {
	priority, err := ingest.ParsePriority(args.Priority)
	if err != nil {
		return ingestURLOutput{}, err
	}
	job, err := s.ingestor.IngestItem(ctx, &ingest.Request{
		Project:  s.project(args.Project),
		URL:      args.URL,
		Tags:     args.Tags,
		Priority: priority,
	})
	if err != nil {
		return ingestURLOutput{}, err
	}
	return ingestURLOutput{JobID: job.ID, State: string(job.State)}, nil
}

func (s *Server) getJob(ctx context.Context, args getJobInput) (getJobOutput, error) {
	job, err := s.ingestor.GetJob(ctx, args.JobID)
	if err != nil {
		return getJobOutput{}, err
	}
	out := getJobOutput{
		JobID:      job.ID,
		State:      string(job.State),
		Outcome:    string(job.Outcome),
		DocumentID: job.DocumentID,
		Error:      job.Error,
		Terminal:   job.State.Terminal(),
	}
	if last, ok := s.ingestor.LastEvent(job.ID); ok {
		out.Percent = last.Percent
	}
	return out, nil
}
