package main

import (
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "journal-companion",
		Short:         "Journal with a chat companion that remembers your entries",
		Long:          `Stores markdown journal entries, indexes them for hybrid search and answers questions about them.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newReindexCmd(),
		newEmbedCmd(),
	)
	return rootCmd
}
