package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-chunk every journal entry",
		Long:  `Replaces the chunks of every entry. New chunks are embedded by the worker, or right away with --embed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, chunks, err := a.journal.ReindexAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d entries into %d chunks.\n", entries, chunks)

			if embed, _ := cmd.Flags().GetBool("embed"); embed {
				return runEmbed(cmd, a)
			}
			return nil
		},
	}

	cmd.Flags().Bool("embed", false, "Embed the new chunks before exiting")
	return cmd
}

func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Embed pending chunks once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return runEmbed(cmd, a)
		},
	}
}

func runEmbed(cmd *cobra.Command, a *app) error {
	n, err := a.worker.ProcessPending(cmd.Context())
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	total, pending, err := a.store.ChunkStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d chunks, %d of %d still pending.\n", n, pending, total)
	return nil
}
