package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobWatchCmd)
	jobCmd.AddCommand(jobCancelCmd)
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and follow ingestion jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job's current state",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobGet,
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress until it finishes",
	Long: `Attach to the job's progress stream and print each state transition.
Exits non-zero when the job fails.

Examples:
  fkctl job watch job_1730000000000_a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: runJobWatch,
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobCancel,
}

// jobSnapshot mirrors the server's job payload.
type jobSnapshot struct {
	ID         string    `json:"job_id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Priority   string    `json:"priority,omitempty"`
	Project    string    `json:"project"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	MemberIDs  []string  `json:"member_ids,omitempty"`
	Processed  int       `json:"processed,omitempty"`
	Total      int       `json:"total,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// progressEvent mirrors the SSE data payload.
type progressEvent struct {
	JobID      string  `json:"job_id"`
	State      string  `json:"state"`
	Percent    float64 `json:"percent"`
	Message    string  `json:"message,omitempty"`
	Outcome    string  `json:"outcome,omitempty"`
	DocumentID string  `json:"document_id,omitempty"`
	Error      string  `json:"error,omitempty"`
	Processed  int     `json:"processed,omitempty"`
	Total      int     `json:"total,omitempty"`
	Terminal   bool    `json:"terminal"`
}

func jobPath(id string) string {
	return "/api/ingest/jobs/" + url.PathEscape(id)
}

func runJobGet(cmd *cobra.Command, args []string) error {
	var j jobSnapshot
	if err := getJSON(jobPath(args[0]), &j); err != nil {
		return err
	}
	if printJSON(j) {
		return nil
	}
	printJob(cmd, j)
	return nil
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	var j jobSnapshot
	if err := deleteJSON(jobPath(args[0]), &j); err != nil {
		return err
	}
	if printJSON(j) {
		return nil
	}
	cmd.Printf("Cancel requested: job %s is now %s\n", j.ID, j.State)
	return nil
}

func printJob(cmd *cobra.Command, j jobSnapshot) {
	cmd.Printf("Job:      %s (%s)\n", j.ID, j.Kind)
	cmd.Printf("Project:  %s\n", j.Project)
	cmd.Printf("State:    %s\n", j.State)
	if j.Outcome != "" {
		cmd.Printf("Outcome:  %s\n", j.Outcome)
	}
	if j.DocumentID != "" {
		cmd.Printf("Document: %s\n", j.DocumentID)
	}
	if j.ChunkCount > 0 {
		cmd.Printf("Chunks:   %d\n", j.ChunkCount)
	}
	if j.Total > 0 {
		cmd.Printf("Members:  %d/%d processed\n", j.Processed, j.Total)
	}
	if j.Error != "" {
		cmd.Printf("Error:    %s\n", j.Error)
	}
	cmd.Printf("Updated:  %s\n", j.UpdatedAt.Local().Format(time.RFC3339))
}

func runJobWatch(cmd *cobra.Command, args []string) error {
	// No client timeout: the stream stays open until the job reaches a
	// terminal state.
	req, err := http.NewRequest(http.MethodGet, apiURL(jobPath(args[0])+"/events"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		payload, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev progressEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		if jsonOut {
			cmd.Println(payload)
		} else {
			cmd.Println(formatProgress(ev))
		}
		if ev.Terminal {
			if ev.Outcome == "failed" {
				return fmt.Errorf("job failed: %s", ev.Error)
			}
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return fmt.Errorf("stream closed before the job finished")
}

// formatProgress renders one progress event as a single line.
func formatProgress(ev progressEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%3.0f%%] %s", ev.Percent, ev.State)
	if ev.Total > 0 {
		fmt.Fprintf(&b, " (%d/%d)", ev.Processed, ev.Total)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, " %s", ev.Message)
	}
	if ev.Terminal {
		if ev.Outcome != "" {
			fmt.Fprintf(&b, " outcome=%s", ev.Outcome)
		}
		if ev.DocumentID != "" {
			fmt.Fprintf(&b, " document=%s", ev.DocumentID)
		}
		if ev.Error != "" {
			fmt.Fprintf(&b, " error=%q", ev.Error)
		}
	}
	return b.String()
}
