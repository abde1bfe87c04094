package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/model"
	"github.com/cellxform/cellxform/pkg/policy"
)

// validationResult is printed by `cellxform validate`.
type validationResult struct {
	Model    string      `json:"model" yaml:"model"`
	Stats    model.Stats `json:"stats" yaml:"stats"`
	Levels   int         `json:"levels" yaml:"levels"`
	Protocol string      `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Inputs   int         `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs  []string    `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	Violations []string `json:"violations,omitempty" yaml:"violations,omitempty"`
	Warnings   []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Status is the outcome of a dry run against a copy of the model.
	Status engine.RunStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Valid  bool             `json:"valid" yaml:"valid"`
}

func newValidateCommand() *cobra.Command {
	var noPolicy bool

	cmd := &cobra.Command{
		Use:   "validate <model> [protocol]",
		Short: "Validate a model and optionally a protocol",
		Long: `Validate a model file and, optionally, a protocol against it.

This command checks:
  - Schema conformance of the model and protocol files
  - Structural rules of the model (definitions, kinds, connections)
  - That the dependency graph is acyclic
  - Policy compliance of the protocol (OPA/rego)
  - That the protocol applies cleanly to a copy of the model`,
		Example: `  # Validate a model
  cellxform validate luo_rudy_1991.cue

  # Validate a protocol against a model
  cellxform validate luo_rudy_1991.cue clamp.yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			var pe *policy.Engine
			if len(args) == 2 && !noPolicy && !a.settings.Policy.Disabled {
				if pe, err = a.policyEngine(ctx); err != nil {
					return err
				}
			}

			result, err := runValidate(ctx, a, args, pe)
			if result != nil {
				if werr := writeOutput(a.out, "", result); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip policy checks")

	return cmd
}

func runValidate(ctx context.Context, a *app, args []string, pe *policy.Engine) (*validationResult, error) {
	parser := a.parser()
	m, err := parser.LoadModel(ctx, args[0])
	if err != nil {
		return nil, err
	}

	graph, err := model.NewDAGBuilder(m).BuildGraph()
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", args[0], err)
	}

	result := &validationResult{
		Model:  m.Name,
		Stats:  m.Stats(),
		Levels: len(graph.Levels),
		Valid:  true,
	}
	if len(args) == 1 {
		return result, nil
	}

	p, err := parser.LoadProtocol(ctx, args[1], nil)
	if err != nil {
		return nil, err
	}
	result.Protocol = p.Name
	result.Inputs = len(p.Inputs)

	dry := m.Clone()
	tr := engine.New(dry, engine.WithUnitsChecker(engine.NewUnitsChecker(dry, a.settings.Units.Strict)))
	tr.Inputs, tr.Outputs = p.Inputs, p.Outputs

	if pe != nil {
		res, err := pe.Evaluate(ctx, tr.ChangeSet(), "validate")
		if err != nil {
			return nil, err
		}
		for _, v := range res.Violations {
			result.Violations = append(result.Violations, v.String())
		}
		for _, v := range res.Warnings {
			result.Warnings = append(result.Warnings, v.String())
		}
		if !res.Allowed {
			result.Valid = false
			result.Status = engine.RunStatusDenied
			return result, &policy.DeniedError{Violations: res.Violations}
		}
	}

	report, err := tr.Apply(ctx)
	result.Status = report.Status
	result.Outputs = report.Outputs
	if err != nil {
		result.Valid = false
		return result, err
	}
	return result, nil
}
