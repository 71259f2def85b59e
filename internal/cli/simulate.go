package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/sim"
)

type SimulateOptions struct {
	Seed               uint64
	SuccessProbability float64
	Speed              float64
	Realtime           bool
	FailNodes          []string
	RulesFile          string
}

func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Run a scenario to completion and print logs and metrics",
		Long: `Run a scenario once. Node timers are skipped unless --realtime is set, so
the run finishes immediately while durations still count toward the metrics.

Outcome rules are read from a YAML list of {when, succeed} entries, for example:

  - when: layer == "ai" && confidence < 0.5
    succeed: false`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := opts.input(cmd, args[0])
			if err != nil {
				return err
			}
			return runSimulate(cmd.Context(), rootOpts, in, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "seed for outcomes and durations")
	cmd.Flags().Float64Var(&opts.SuccessProbability, "success-probability", 0, "probability that a node succeeds")
	cmd.Flags().Float64Var(&opts.Speed, "speed", 0, "speed multiplier for --realtime runs")
	cmd.Flags().BoolVar(&opts.Realtime, "realtime", false, "wait for node durations")
	cmd.Flags().StringSliceVar(&opts.FailNodes, "fail", nil, "node ids that fail")
	cmd.Flags().StringVar(&opts.RulesFile, "rules", "", "YAML file with outcome rules")

	return cmd
}

func (o *SimulateOptions) input(cmd *cobra.Command, path string) (app.SimulateInput, error) {
	format, err := scenario.ParseFormat(filepath.Ext(path))
	if err != nil {
		return app.SimulateInput{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return app.SimulateInput{}, err
	}

	in := app.SimulateInput{
		Format: format,
		Source: string(data),
		Options: app.RunOptions{
			Speed:     o.Speed,
			FailNodes: o.FailNodes,
			Instant:   !o.Realtime,
		},
	}
	if cmd.Flags().Changed("seed") {
		seed := o.Seed
		in.Options.Seed = &seed
	}
	if cmd.Flags().Changed("success-probability") {
		p := o.SuccessProbability
		in.Options.SuccessProbability = &p
	}
	if o.RulesFile != "" {
		raw, err := os.ReadFile(o.RulesFile)
		if err != nil {
			return app.SimulateInput{}, err
		}
		if err := yaml.Unmarshal(raw, &in.Options.Rules); err != nil {
			return app.SimulateInput{}, fmt.Errorf("rules %s: %w", o.RulesFile, err)
		}
	}
	return in, nil
}

func runSimulate(ctx context.Context, opts *RootOptions, in app.SimulateInput, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := opts.runtime()
	if err != nil {
		return err
	}
	svc := newService(rt, opts.logger(rt))

	res, err := svc.Simulate(ctx, in)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printResult(w, res)
}

func printResult(w io.Writer, res *app.SimulationResult) error {
	fmt.Fprintf(w, "scenario %s (%s): %s", res.Scenario.ID, res.Scenario.Name, res.Lifecycle)
	if res.TimedOut {
		fmt.Fprint(w, " (timed out)")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nLAYER\tNODE\tSTATUS\tACTOR\tMS\tEVENT")
	for _, e := range res.Logs {
		ms := "-"
		if e.Details.ExecutionTimeMS != nil {
			ms = fmt.Sprint(*e.Details.ExecutionTimeMS)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Layer, e.NodeID, e.Status, e.Actor, ms, e.Event)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	m := res.Metrics
	fmt.Fprintf(w, "\nreactions %d, average %.1fms, critical path %dms (cumulative %dms)\n",
		m.TotalReactions, m.AverageReactionTimeMS, m.CriticalPathMS, m.CumulativeCriticalPathMS)

	layers := make([]scenario.Layer, 0, len(m.LayerStatistics))
	for l := range m.LayerStatistics {
		layers = append(layers, l)
	}
	slices.Sort(layers)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tDECISIONS\tOK\tFAILED\tAVG MS\tAUTOMATION %")
	for _, l := range layers {
		s := m.LayerStatistics[l]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.1f\t%.1f\n", l, s.TotalDecisions, s.SuccessfulDecisions, s.FailedDecisions, s.AverageResponseTimeMS, s.AutomationRate)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	bypassed := 0
	for _, st := range res.Statuses {
		if st == sim.StatusBypassed {
			bypassed++
		}
	}
	if bypassed > 0 {
		fmt.Fprintf(w, "%d node(s) bypassed\n", bypassed)
	}
	return nil
}
