package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/roadmap/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"                  _                       \n" +
		"  _ __ ___   __ _| |_ __ ___   __ _ _ __  \n" +
		" | '__/ _ \\ / _` | | '_ ` _ \\ / _` | '_ \\ \n" +
		" | | | (_) | (_| | | | | | | | (_| | |_) |\n" +
		" |_|  \\___/ \\__,_|_|_| |_| |_|\\__,_| .__/ \n" +
		"                                   |_|    \n"
)

// Global flags.
var (
	jsonOut bool
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:           "roadmap",
	Short:         "roadmap - work hierarchy and focus engine",
	Long:          color.CyanString(logo) + "\nTracks stages, milestones, tasks, subtasks and sidequests, keeps them consistent, and tells you what to work on next.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "roadmap %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output machine-readable JSON")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file (overrides store.path)")
	rootCmd.AddCommand(versionCmd)
}
