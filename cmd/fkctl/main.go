// Package main implements the fkctl CLI for operating a keeperd daemon.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// serverURL is the keeperd base URL after flag/config resolution.
	serverURL string
	// project applies to commands that take a project scope.
	project string
	// jsonOut switches output to raw JSON.
	jsonOut bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fkctl",
	Short: "CLI for keeperd operations",
	Long: `fkctl talks to a running keeperd daemon over HTTP.

It submits ingestion jobs and follows their progress, queries the knowledge
base, and inspects recorded agent sessions.

Connection settings come from ~/.config/finderskeepers/config.toml (server
URL and default project); flags override the file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return resolveClientConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "keeperd server URL (default http://localhost:8400)")
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "project scope")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON responses")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("fkctl\n")
		cmd.Printf("Version:    %s\n", version)
		cmd.Printf("Commit:     %s\n", gitCommit)
		cmd.Printf("Build Date: %s\n", buildDate)
	},
}
