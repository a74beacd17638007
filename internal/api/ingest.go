package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/source"
)

// ingestAccepted is the response body for single-item ingest submissions.
type ingestAccepted struct {
	JobID string `json:"job_id"`

	// DocumentID is filled when the submission coalesced onto a job that
	// already resolved its document.
	DocumentID string `json:"document_id_if_known,omitempty"`
	Dedup      bool   `json:"dedup"`
}

// batchAccepted is the response body for POST /api/ingest/batch.
type batchAccepted struct {
	JobID  string   `json:"job_id"`
	JobIDs []string `json:"job_ids,omitempty"`
}

// repoAccepted is the response body for POST /api/ingest/repo.
type repoAccepted struct {
	BatchID string   `json:"batch_id"`
	JobIDs  []string `json:"job_ids,omitempty"`
}

func acceptedFromJob(job *ingest.Job) ingestAccepted {
	return ingestAccepted{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		Dedup:      job.Outcome == ingest.OutcomeDeduplicated,
	}
}

// handleIngestFile accepts a multipart upload: a "file" part plus form
// fields project, title, tags, priority, force_reingest.
func (h *Handlers) handleIngestFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return writeError(c, knowledge.Validationf("multipart field %q is required", "file"))
	}
	f, err := fh.Open()
	if err != nil {
		return writeError(c, knowledge.Validationf("unreadable upload: %v", err))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return writeError(c, knowledge.Validationf("unreadable upload: %v", err))
	}

	priority, err := ingest.ParsePriority(c.FormValue("priority"))
	if err != nil {
		return writeError(c, err)
	}
	req := &ingest.Request{
		Project:       c.FormValue("project"),
		Data:          data,
		Filename:      fh.Filename,
		Title:         c.FormValue("title"),
		Tags:          splitTags(c.FormValue("tags")),
		Priority:      priority,
		ForceReingest: c.FormValue("force_reingest") == "true",
	}
	job, err := h.ingestor.IngestItem(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, acceptedFromJob(job))
}

// ingestURLRequest is the body for POST /api/ingest/url.
type ingestURLRequest struct {
	URL           string   `json:"url"`
	Project       string   `json:"project"`
	Title         string   `json:"title,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	ForceReingest bool     `json:"force_reingest,omitempty"`
}

func (h *Handlers) handleIngestURL(c echo.Context) error {
	var body ingestURLRequest
	if err := c.Bind(&body); err != nil {
		return bindError(c, err)
	}
	priority, err := ingest.ParsePriority(body.Priority)
	if err != nil {
		return writeError(c, err)
	}
	req := &ingest.Request{
		Project:       body.Project,
		URL:           body.URL,
		Title:         body.Title,
		Tags:          body.Tags,
		Priority:      priority,
		ForceReingest: body.ForceReingest,
	}
	job, err := h.ingestor.IngestItem(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, acceptedFromJob(job))
}

// batchItem is one member of POST /api/ingest/batch. Exactly one of url
// and text supplies the content.
type batchItem struct {
	URL      string   `json:"url,omitempty"`
	Text     string   `json:"text,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Title    string   `json:"title,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Priority string   `json:"priority,omitempty"`
}

// ingestBatchRequest is the body for POST /api/ingest/batch. Project and
// priority apply to every item; an item-level priority wins.
type ingestBatchRequest struct {
	Items    []batchItem `json:"items"`
	Project  string      `json:"project"`
	Priority string      `json:"priority,omitempty"`
}

func (h *Handlers) handleIngestBatch(c echo.Context) error {
	var body ingestBatchRequest
	if err := c.Bind(&body); err != nil {
		return bindError(c, err)
	}
	defaultPriority, err := ingest.ParsePriority(body.Priority)
	if err != nil {
		return writeError(c, err)
	}
	reqs := make([]*ingest.Request, 0, len(body.Items))
	for i := range body.Items {
		item := &body.Items[i]
		priority := defaultPriority
		if item.Priority != "" {
			priority, err = ingest.ParsePriority(item.Priority)
			if err != nil {
				return writeError(c, knowledge.Validationf("item %d: %v", i, err))
			}
		}
		reqs = append(reqs, &ingest.Request{
			Project:  body.Project,
			Data:     []byte(item.Text),
			URL:      item.URL,
			Filename: item.Filename,
			Title:    item.Title,
			Tags:     item.Tags,
			Priority: priority,
		})
	}
	job, err := h.ingestor.IngestBatch(c.Request().Context(), reqs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, batchAccepted{JobID: job.ID, JobIDs: job.MemberIDs})
}

// ingestRepoRequest is the body for POST /api/ingest/repo. Exactly one of
// url and path selects the repository.
type ingestRepoRequest struct {
	URL     string   `json:"url,omitempty"`
	Path    string   `json:"path,omitempty"`
	Project string   `json:"project"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (h *Handlers) handleIngestRepo(c echo.Context) error {
	var body ingestRepoRequest
	if err := c.Bind(&body); err != nil {
		return bindError(c, err)
	}
	items, err := h.repos.Collect(c.Request().Context(), source.RepoRequest{
		URL:     body.URL,
		Path:    body.Path,
		Project: body.Project,
		Include: body.Include,
		Exclude: body.Exclude,
		Tags:    body.Tags,
	})
	if err != nil {
		return writeError(c, err)
	}
	reqs := make([]*ingest.Request, len(items))
	for i := range items {
		reqs[i] = &items[i]
	}
	job, err := h.ingestor.IngestBatch(c.Request().Context(), reqs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, repoAccepted{BatchID: job.ID, JobIDs: job.MemberIDs})
}

func (h *Handlers) handleGetJob(c echo.Context) error {
	job, err := h.ingestor.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// handleCancelJob requests a best-effort cancel and returns the resulting
// snapshot; already-running stages finish their current step.
func (h *Handlers) handleCancelJob(c echo.Context) error {
	job, err := h.ingestor.CancelJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, job)
}

// splitTags parses the comma-separated tags form field.
func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
