package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sessionsStatus string
	sessionsLimit  int
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)

	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by status: active|ended|crashed")
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "maximum sessions to return")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded agent sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long: `List recorded sessions, newest first.

Examples:
  fkctl sessions list --project docs
  fkctl sessions list --project docs --status active --limit 20`,
	RunE: runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session and its actions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

// sessionInfo mirrors the server's session payload.
type sessionInfo struct {
	ID        string     `json:"session_id"`
	AgentType string     `json:"agent_type"`
	UserID    string     `json:"user_id"`
	Project   string     `json:"project"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type sessionList struct {
	Sessions []sessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

// actionInfo mirrors the server's action payload.
type actionInfo struct {
	ID            string    `json:"action_id"`
	ActionType    string    `json:"action_type"`
	Description   string    `json:"description"`
	FilesAffected []string  `json:"files_affected,omitempty"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
}

type actionList struct {
	SessionID string       `json:"session_id"`
	Actions   []actionInfo `json:"actions"`
	Count     int          `json:"count"`
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	if project != "" {
		params.Set("project", project)
	}
	if sessionsStatus != "" {
		params.Set("status", sessionsStatus)
	}
	if sessionsLimit > 0 {
		params.Set("limit", strconv.Itoa(sessionsLimit))
	}
	path := "/api/sessions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var list sessionList
	if err := getJSON(path, &list); err != nil {
		return err
	}
	if printJSON(list) {
		return nil
	}

	if list.Count == 0 {
		cmd.Println("No sessions")
		return nil
	}
	for _, s := range list.Sessions {
		cmd.Println(formatSessionLine(s))
	}
	cmd.Printf("\n%d sessions\n", list.Count)
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	id := url.PathEscape(args[0])

	var s sessionInfo
	if err := getJSON("/api/sessions/"+id, &s); err != nil {
		return err
	}
	var actions actionList
	if err := getJSON("/api/sessions/"+id+"/actions", &actions); err != nil {
		return err
	}

	if jsonOut {
		printJSON(map[string]any{"session": s, "actions": actions.Actions})
		return nil
	}

	cmd.Printf("Session:  %s\n", s.ID)
	cmd.Printf("Project:  %s\n", s.Project)
	cmd.Printf("Agent:    %s", s.AgentType)
	if s.UserID != "" {
		cmd.Printf(" (%s)", s.UserID)
	}
	cmd.Println()
	cmd.Printf("Status:   %s\n", s.Status)
	cmd.Printf("Started:  %s\n", s.StartTime.Local().Format(time.RFC3339))
	if s.EndTime != nil {
		cmd.Printf("Ended:    %s (%s)\n", s.EndTime.Local().Format(time.RFC3339), s.Reason)
	}

	if actions.Count == 0 {
		cmd.Println("\nNo actions recorded")
		return nil
	}
	cmd.Printf("\nActions (%d):\n", actions.Count)
	for _, a := range actions.Actions {
		cmd.Println(formatActionLine(a))
	}
	return nil
}

// formatSessionLine renders one session as a single list row.
func formatSessionLine(s sessionInfo) string {
	end := "-"
	if s.EndTime != nil {
		end = s.EndTime.Local().Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("%-36s %-8s %-14s %s  %s",
		s.ID, s.Status, s.AgentType, s.StartTime.Local().Format("2006-01-02 15:04"), end)
}

// formatActionLine renders one action as a single list row.
func formatActionLine(a actionInfo) string {
	mark := "ok"
	if !a.Success {
		mark = "FAIL"
	}
	line := fmt.Sprintf("  %s  %-4s %-16s %s",
		a.Timestamp.Local().Format("15:04:05"), mark, a.ActionType, a.Description)
	if len(a.FilesAffected) > 0 {
		line += " [" + strings.Join(a.FilesAffected, ", ") + "]"
	}
	return line
}
