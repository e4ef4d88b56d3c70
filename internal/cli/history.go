package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lencap/vm/internal/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent provisioning runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 10, "Number of runs to show")
	historyCmd.Flags().Duration("prune", 0, "Delete runs older than this before listing")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	prune, _ := cmd.Flags().GetDuration("prune")
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := journal.Open(a.cfg.JournalPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if prune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-prune))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Pruned %d runs\n", n)
	}

	runs, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Fprintf(a.out, "%s  %s  %s  (%d VMs, %d failed)\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"), shortID(run.ID), run.Source, len(run.Entries), run.Failed())
		for _, e := range run.Entries {
			line := fmt.Sprintf("  [%s] %s", nameColor(e.VM), e.Action)
			if e.Created {
				line += ", created"
			}
			if e.Error != "" {
				line += " " + color.RedString("%s: %s", e.ErrorKind, e.Error)
			}
			fmt.Fprintf(a.out, "%s (%s)\n", line, e.Duration.Round(time.Millisecond))
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
