package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/ingest"
)

// handleJobEvents streams a job's progress as server-sent events. The
// last-known state is replayed on attach, heartbeat comments keep idle
// connections alive, and the stream closes after the terminal event.
func (h *Handlers) handleJobEvents(c echo.Context) error {
	jobID := c.Param("id")
	ctx := c.Request().Context()

	// Reject unknown jobs with a plain 404 before any stream bytes go out.
	if _, err := h.ingestor.GetJob(ctx, jobID); err != nil {
		return writeError(c, err)
	}

	// Subscribe before reading the replay snapshot so no transition
	// between the two is lost; a duplicate of the snapshot is harmless.
	ch, unsub, err := h.ingestor.Subscribe(jobID)
	if err != nil {
		return writeError(c, err)
	}
	defer unsub()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	if last, ok := h.ingestor.LastEvent(jobID); ok {
		if err := writeSSE(res, last); err != nil {
			return nil
		}
		if last.Terminal {
			return nil
		}
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case msg, open := <-ch:
			if !open {
				return nil
			}
			var ev ingest.ProgressEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				h.log.Warn(ctx, "malformed progress event on bus",
					zap.Error(err), zap.String("subject", msg.Subject))
				continue
			}
			if err := writeSSE(res, ev); err != nil {
				return nil
			}
			if ev.Terminal {
				return nil
			}
		}
	}
}

// writeSSE frames one progress event. Terminal events are named
// "completed" or "error" so EventSource clients can route them without
// parsing the payload.
func writeSSE(res *echo.Response, ev ingest.ProgressEvent) error {
	name := "progress"
	if ev.Terminal {
		if ev.Outcome == ingest.OutcomeFailed {
			name = "error"
		} else {
			name = "completed"
		}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
