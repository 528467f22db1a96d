package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/loykin/deploypipe/internal/util"
	"github.com/loykin/deploypipe/pkg/topology"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	planFormat string
	planSave   bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build the pipeline for the configured environment and print its topology",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDoc()
		if err != nil {
			return err
		}
		res, err := construct(cmd.Context(), doc)
		if err != nil {
			return err
		}
		snap := res.Topology.Snapshot()
		if planSave {
			st, err := openStore(doc)
			if err != nil {
				return err
			}
			if st != nil {
				defer func() { _ = st.Close() }()
				if err := st.SaveTopology(cmd.Context(), snap); err != nil {
					return err
				}
			}
		}
		return renderSnapshot(cmd.OutOrStdout(), snap, planFormat)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Build the pipeline and report whether it is well formed",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDoc()
		if err != nil {
			return err
		}
		res, err := construct(cmd.Context(), doc)
		if err != nil {
			return err
		}
		env := res.Topology.Environment()
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %s pipeline for %q with stages %s\n",
			tierLabel(env.IsProduction), env.Name, joinStages(res.Topology.StageNames()))
		return err
	},
}

func init() {
	planCmd.Flags().StringVar(&planFormat, "format", "text", "output format: text, json or yaml")
	planCmd.Flags().BoolVar(&planSave, "save", false, "store the topology snapshot")
}

func tierLabel(prod bool) string {
	if prod {
		return "production"
	}
	return "non-production"
}

func joinStages(names []string) string {
	return strings.Join(names, " -> ")
}

func renderSnapshot(w io.Writer, snap topology.Snapshot, format string) error {
	switch util.TrimAndLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(snap)
	case "text", "":
		return renderSnapshotText(w, snap)
	default:
		return fmt.Errorf("unsupported format %q (valid: text, json, yaml)", format)
	}
}

func renderSnapshotText(w io.Writer, snap topology.Snapshot) error {
	fmt.Fprintf(w, "Topology %s\n", snap.ID)
	fmt.Fprintf(w, "Environment: %s (%s), branch %s\n\n", snap.Environment.Name, tierLabel(snap.Environment.IsProduction), snap.Environment.Branch)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tSTAGE\tKIND\tACTION\tINPUTS\tOUTPUTS\tCREDENTIAL")
	for _, st := range snap.Stages {
		if len(st.Actions) == 0 {
			fmt.Fprintf(tw, "%d\t%s\t%s\t-\t-\t-\t-\n", st.Order, st.Name, st.Kind)
			continue
		}
		for _, a := range st.Actions {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", st.Order, st.Name, st.Kind, a.Name,
				dash(strings.Join(a.Inputs, ",")), dash(strings.Join(a.Outputs, ",")), dash(a.CredentialRef))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(snap.Artifacts) > 0 {
		fmt.Fprintln(w, "\nArtifacts:")
		for _, a := range snap.Artifacts {
			fmt.Fprintf(w, "  %s  %s  %s\n", a.ID, a.State, dash(a.ProducedBy))
		}
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
