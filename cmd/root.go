package cmd

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lastmsg",
	Short: "lastmsg - find a user's latest message across channels",
	Long: `lastmsg finds the most recent message a user posted anywhere in a workspace.
Channels are paged newest first in parallel, and channels that can no longer
hold anything newer than the best candidate are dropped early.

Messages can be read live from Slack, from a local SQLite archive filled by
"lastmsg sync", or from a Slack workspace export stored in S3.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
}
