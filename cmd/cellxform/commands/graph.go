package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/model"
)

func newGraphCommand() *cobra.Command {
	var (
		protocolPath string
		levels       bool
	)

	cmd := &cobra.Command{
		Use:   "graph <model>",
		Short: "Print the variable dependency graph",
		Long: `Print the variable dependency graph of a model in DOT format.

With --protocol the protocol is applied first, so the graph shows the
transformed and sliced model. With --levels the evaluation order is printed
instead, one level per line.`,
		Example: `  # Render the dependency graph
  cellxform graph luo_rudy_1991.cue | dot -Tsvg > model.svg

  # Graph of the model after a protocol
  cellxform graph luo_rudy_1991.cue --protocol clamp.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			parser := a.parser()
			m, err := parser.LoadModel(ctx, args[0])
			if err != nil {
				return err
			}

			if protocolPath != "" {
				p, err := parser.LoadProtocol(ctx, protocolPath, nil)
				if err != nil {
					return err
				}
				tr := engine.New(m,
					engine.WithUnitsChecker(engine.NewUnitsChecker(m, a.settings.Units.Strict)),
					engine.WithTracer(a.telemetry.Tracer.Tracer()),
				)
				tr.Inputs, tr.Outputs = p.Inputs, p.Outputs
				if _, err := tr.Apply(ctx); err != nil {
					return err
				}
			}

			builder := model.NewDAGBuilder(m)
			graph, err := builder.BuildGraph()
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeOutput(a.out, "json", graph)
			}
			if levels {
				for i, level := range graph.Levels {
					fmt.Fprintf(a.out, "%d: %s\n", i, strings.Join(level, " "))
				}
				return nil
			}
			_, err = fmt.Fprint(a.out, builder.ToDOT())
			return err
		},
	}

	cmd.Flags().StringVarP(&protocolPath, "protocol", "p", "", "protocol to apply before graphing")
	cmd.Flags().BoolVar(&levels, "levels", false, "print evaluation levels instead of DOT")

	return cmd
}
