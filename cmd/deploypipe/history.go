package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/deploypipe/internal/store"
	"github.com/loykin/deploypipe/internal/util"
	"github.com/loykin/deploypipe/pkg/runner"
	"github.com/spf13/cobra"
)

var (
	historyTopology   string
	historyEnv        string
	historyStatus     string
	historyLimit      int
	historyFormat     string
	historyTopologies bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded pipeline runs, one run in detail, or stored topologies",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDoc()
		if err != nil {
			return err
		}
		st, err := openStore(doc)
		if err != nil {
			return err
		}
		if st == nil {
			return errors.New("store is disabled; no history available")
		}
		defer func() { _ = st.Close() }()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		asJSON := util.TrimAndLower(historyFormat) == "json"

		switch {
		case historyTopologies:
			sums, err := st.ListTopologies(ctx, historyEnv)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, sums)
			}
			return renderTopologies(out, sums)
		case len(args) == 1:
			rec, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, rec)
			}
			return renderRun(out, *rec)
		}

		runs, err := st.ListRuns(ctx, store.RunFilter{
			TopologyID:  historyTopology,
			Environment: historyEnv,
			Status:      runner.Status(util.TrimAndLower(historyStatus)),
			Limit:       historyLimit,
		})
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(out, runs)
		}
		return renderRuns(out, runs)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyTopology, "topology", "", "only runs of this topology id")
	historyCmd.Flags().StringVar(&historyEnv, "env", "", "only runs (or topologies) of this environment")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only runs with this status (succeeded, failed, rejected)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "show up to N latest runs (0 = all)")
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "output format: text or json")
	historyCmd.Flags().BoolVar(&historyTopologies, "topologies", false, "list stored topologies instead of runs")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderRuns(w io.Writer, runs []runner.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tENVIRONMENT\tSTATUS\tFAILED STAGE\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Environment, r.Status, dash(r.FailedStage),
			r.StartedAt.Local().Format(time.DateTime), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

func renderTopologies(w io.Writer, sums []store.TopologySummary) error {
	if len(sums) == 0 {
		_, err := fmt.Fprintln(w, "no topologies stored")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPOLOGY\tENVIRONMENT\tTIER\tSTAGES\tCREATED")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Environment, tierLabel(s.IsProduction),
			joinStages(s.Stages), s.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
