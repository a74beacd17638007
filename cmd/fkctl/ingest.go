package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	ingestTitle    string
	ingestTags     []string
	ingestPriority string
	ingestForce    bool
	repoInclude    []string
	repoExclude    []string
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestFileCmd)
	ingestCmd.AddCommand(ingestURLCmd)
	ingestCmd.AddCommand(ingestRepoCmd)

	ingestCmd.PersistentFlags().StringVar(&ingestTitle, "title", "", "document title (defaults to filename or page title)")
	ingestCmd.PersistentFlags().StringSliceVar(&ingestTags, "tag", nil, "tag to attach (repeatable)")
	ingestCmd.PersistentFlags().StringVar(&ingestPriority, "priority", "", "job priority: high|normal|low")
	ingestCmd.PersistentFlags().BoolVar(&ingestForce, "force", false, "re-ingest even when the content hash is already known")

	ingestRepoCmd.Flags().StringSliceVar(&repoInclude, "include", nil, "path glob to include (repeatable)")
	ingestRepoCmd.Flags().StringSliceVar(&repoExclude, "exclude", nil, "path glob to exclude (repeatable)")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Submit content for ingestion",
	Long: `Submit files, URLs, or whole repositories to keeperd.

Every submission returns a job id; follow it with "fkctl job watch".`,
}

var ingestFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Upload a local file",
	Long: `Upload one local file for ingestion.

Examples:
  # Upload a PDF into the docs project
  fkctl ingest file --project docs report.pdf

  # Tag and prioritize
  fkctl ingest file --project docs --tag research --tag q3 --priority high notes.md`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestFile,
}

var ingestURLCmd = &cobra.Command{
	Use:   "url <url>",
	Short: "Fetch and ingest a URL",
	Long: `Fetch a URL server-side and ingest the document behind it.

Examples:
  fkctl ingest url --project docs https://example.com/design.html`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestURL,
}

var ingestRepoCmd = &cobra.Command{
	Use:   "repo <url-or-path>",
	Short: "Ingest a git repository",
	Long: `Expand a git repository into per-file ingestion jobs.

A local directory is walked in place; anything else is treated as a clone
URL and fetched shallowly by the server.

Examples:
  # Remote repository
  fkctl ingest repo --project keeper https://github.com/finderskeepers/keeperd

  # Local checkout, markdown only
  fkctl ingest repo --project keeper --include "**/*.md" ~/src/keeperd`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestRepo,
}

// ingestAccepted mirrors the server's single-item intake response.
type ingestAccepted struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id_if_known,omitempty"`
	Dedup      bool   `json:"dedup"`
}

// repoAccepted mirrors the repository intake response.
type repoAccepted struct {
	BatchID string   `json:"batch_id"`
	JobIDs  []string `json:"job_ids,omitempty"`
}

type ingestURLRequest struct {
	URL           string   `json:"url"`
	Project       string   `json:"project"`
	Title         string   `json:"title,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	ForceReingest bool     `json:"force_reingest,omitempty"`
}

type ingestRepoRequest struct {
	URL     string   `json:"url,omitempty"`
	Path    string   `json:"path,omitempty"`
	Project string   `json:"project"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func requireProject() error {
	if project == "" {
		return fmt.Errorf("--project is required (or set project in ~/.config/finderskeepers/config.toml)")
	}
	return nil
}

func runIngestFile(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	fields := map[string]string{
		"project":  project,
		"title":    ingestTitle,
		"tags":     strings.Join(ingestTags, ","),
		"priority": ingestPriority,
	}
	if ingestForce {
		fields["force_reingest"] = "true"
	}

	var accepted ingestAccepted
	if err := postMultipart("/api/ingest/file", filepath.Base(args[0]), data, fields, &accepted); err != nil {
		return err
	}
	return printAccepted(cmd, accepted)
}

func runIngestURL(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	req := ingestURLRequest{
		URL:           args[0],
		Project:       project,
		Title:         ingestTitle,
		Tags:          ingestTags,
		Priority:      ingestPriority,
		ForceReingest: ingestForce,
	}
	var accepted ingestAccepted
	if err := postJSON("/api/ingest/url", req, &accepted); err != nil {
		return err
	}
	return printAccepted(cmd, accepted)
}

func runIngestRepo(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	req := ingestRepoRequest{
		Project: project,
		Include: repoInclude,
		Exclude: repoExclude,
		Tags:    ingestTags,
	}
	target, isLocal, err := resolveRepoTarget(args[0])
	if err != nil {
		return err
	}
	if isLocal {
		req.Path = target
	} else {
		req.URL = target
	}

	var accepted repoAccepted
	if err := postJSON("/api/ingest/repo", req, &accepted); err != nil {
		return err
	}
	if printJSON(accepted) {
		return nil
	}
	cmd.Printf("Queued %d files as batch %s\n", len(accepted.JobIDs), accepted.BatchID)
	cmd.Printf("Follow with: fkctl job watch %s\n", accepted.BatchID)
	return nil
}

// resolveRepoTarget treats an existing local directory as a path and
// anything else as a clone URL. Local paths are made absolute because the
// daemon resolves them in its own working directory.
func resolveRepoTarget(arg string) (target string, isLocal bool, err error) {
	info, statErr := os.Stat(arg)
	if statErr != nil || !info.IsDir() {
		return arg, false, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", false, fmt.Errorf("resolve %s: %w", arg, err)
	}
	return abs, true, nil
}

func printAccepted(cmd *cobra.Command, a ingestAccepted) error {
	if printJSON(a) {
		return nil
	}
	if a.Dedup {
		cmd.Printf("Already known: document %s (job %s)\n", a.DocumentID, a.JobID)
		return nil
	}
	cmd.Printf("Queued as job %s\n", a.JobID)
	cmd.Printf("Follow with: fkctl job watch %s\n", a.JobID)
	return nil
}
