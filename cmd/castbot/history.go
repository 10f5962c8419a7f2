package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"castbot/internal/app"
	"castbot/internal/config"
	"castbot/internal/storage"
	logx "castbot/pkg/logx"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent broadcast runs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to config file (json or yaml)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath string, limit int) error {
	cfg, err := config.NewConfigManager(configPath).Load()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.Nop())
	if errors.Is(err, storage.ErrDisabled) {
		return fmt.Errorf("storage is disabled in %s", configPath)
	}
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.RecentRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN\tSTATE\tREASON\tCYCLES\tSENT\tFAILED\tSKIPPED\tPACING")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%ds/%ds\n",
			r.StartedAt.Local().Format(time.DateTime), shortID(r.ID), r.State, dash(r.Reason),
			r.Cycles, r.Sent, r.Failed, r.Skipped, r.DelaySec, r.IntervalSec)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
