package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryTopK     int
	queryMode     string
	queryDocTypes []string
	queryTags     []string
)

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of results (server default 10)")
	queryCmd.Flags().StringVar(&queryMode, "mode", "", "retrieval mode: hybrid|vector|keyword|graph-augmented")
	queryCmd.Flags().StringSliceVar(&queryDocTypes, "type", nil, "doc type filter (repeatable)")
	queryCmd.Flags().StringSliceVar(&queryTags, "tag", nil, "tag filter (repeatable)")
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Query the knowledge base",
	Long: `Run a hybrid retrieval query and print the ranked documents.

Examples:
  fkctl query --project docs "how does chunk overlap work"
  fkctl query --project docs --mode graph-augmented --type session-export "flaky deploy"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

type queryFilters struct {
	DocTypes []string `json:"doc_type,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type queryRequest struct {
	Q       string       `json:"q"`
	Project string       `json:"project"`
	TopK    int          `json:"top_k,omitempty"`
	Filters queryFilters `json:"filters,omitempty"`
	Mode    string       `json:"mode,omitempty"`
}

type querySource struct {
	DocType   string `json:"doc_type"`
	SourceURI string `json:"source_uri,omitempty"`
	Project   string `json:"project"`
}

type queryResult struct {
	DocumentID string      `json:"document_id"`
	ChunkID    string      `json:"chunk_id"`
	Title      string      `json:"title"`
	Snippet    string      `json:"snippet"`
	Score      float64     `json:"score"`
	Provenance []string    `json:"provenance"`
	Source     querySource `json:"source"`
}

type queryResponse struct {
	Results []queryResult `json:"results"`
	TookMS  int64         `json:"took_ms"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	req := queryRequest{
		Q:       strings.Join(args, " "),
		Project: project,
		TopK:    queryTopK,
		Mode:    queryMode,
		Filters: queryFilters{
			DocTypes: queryDocTypes,
			Tags:     queryTags,
		},
	}
	var resp queryResponse
	if err := postJSON("/api/query", req, &resp); err != nil {
		return err
	}
	if printJSON(resp) {
		return nil
	}

	if len(resp.Results) == 0 {
		cmd.Printf("No results (%dms)\n", resp.TookMS)
		return nil
	}
	for i, r := range resp.Results {
		cmd.Printf("%2d. %s  [%.4f]  %s\n", i+1, r.Title, r.Score, strings.Join(r.Provenance, ","))
		cmd.Printf("    %s  %s\n", r.DocumentID, r.Source.DocType)
		if r.Source.SourceURI != "" {
			cmd.Printf("    %s\n", r.Source.SourceURI)
		}
		if r.Snippet != "" {
			cmd.Printf("    %s\n", indentSnippet(r.Snippet))
		}
	}
	cmd.Printf("\n%d results in %dms\n", len(resp.Results), resp.TookMS)
	return nil
}

// indentSnippet keeps multi-line snippets aligned under their result row.
func indentSnippet(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n    ")
}
