package main

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/iris/internal/census"
	"github.com/talgya/iris/internal/engine"
	"github.com/talgya/iris/internal/gen"
	"github.com/talgya/iris/internal/params"
)

// inputs are the three files a fresh run is built from.
type inputs struct {
	Params params.Parameters
	Dims   census.Dimensions
	Census []float64
}

func loadInputs(paths inputPaths) (inputs, error) {
	var in inputs
	p, err := params.Load(paths.Params)
	if err != nil {
		return in, err
	}
	if err := p.Validate(); err != nil {
		return in, err
	}
	dims, err := census.ReadDimensions(paths.Values)
	if err != nil {
		return in, err
	}
	cen, err := census.ReadCensus(paths.Census)
	if err != nil {
		return in, err
	}
	if _, err := gen.CreateCDF(cen); err != nil {
		return in, fmt.Errorf("%s: %w", paths.Census, err)
	}
	slog.Debug("inputs loaded", "params", paths.Params, "values", paths.Values, "census", paths.Census)
	return inputs{Params: p, Dims: dims, Census: cen}, nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check input files and optionally generate the population",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInputs(resolveInputs(cmd))
			if err != nil {
				return inPhase("Input Error", err)
			}
			out := cmd.OutOrStdout()
			p := in.Params
			fmt.Fprintf(out, "agents:            %s\n", humanize.Comma(int64(p.N)))
			fmt.Fprintf(out, "steps:             %s\n", humanize.Comma(int64(p.Steps)))
			fmt.Fprintf(out, "value dimensions:  %d\n", len(in.Dims.Values))
			fmt.Fprintf(out, "behavior tuples:   %s\n", humanize.Comma(int64(len(gen.PermuteList(in.Dims.Behaviors)))))
			fmt.Fprintf(out, "powerful agents:   %s\n", humanize.Comma(int64(gen.PowerfulCount(p.N, p.PowerPercent, true))))
			fmt.Fprintf(out, "family sizes:      1-%d\n", len(in.Census))

			generate, _ := cmd.Flags().GetBool("generate")
			if !generate {
				return nil
			}
			seed, _ := cmd.Flags().GetInt64("seed")
			m, err := engine.NewModel(engine.Config{
				Params:     p,
				Dimensions: in.Dims,
				Census:     in.Census,
				Seed:       seed,
				Verify:     true,
			})
			if err != nil {
				return inPhase("Generation Error", err)
			}
			fmt.Fprintf(out, "families:          %s\n", humanize.Comma(int64(m.Graph.Families)))
			fmt.Fprintf(out, "edges:             %s\n", humanize.Comma(int64(m.Graph.Edges)))
			fmt.Fprintf(out, "reciprocated:      %s\n", humanize.Comma(int64(m.Graph.Reciprocated)))
			return nil
		},
	}
	addInputFlags(cmd)
	cmd.Flags().Bool("generate", false, "Also generate and verify the graph and attributes")
	cmd.Flags().Int64("seed", 1, "Seed used with --generate")
	return cmd
}
