package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/events"
	"github.com/cellxform/cellxform/pkg/policy"
	"github.com/cellxform/cellxform/pkg/stores"
	"github.com/cellxform/cellxform/pkg/telemetry"
)

// applyOptions are the inputs of one apply run.
type applyOptions struct {
	modelPath    string
	protocolPath string
	outFormat    string
	events       bool
	noPolicy     bool
	dbPath       string
	params       map[string]string
}

func newApplyCommand() *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply <model> <protocol>",
		Short: "Apply a protocol to a model",
		Long: `Apply a protocol to a model and print the run report.

This command:
  - Loads and validates the model and the protocol (CUE, YAML, JSON or Starlark)
  - Checks the batch against the built-in and configured Rego policies
  - Substitutes variables and equations, synthesizing connections
  - Slices the model down to the protocol outputs
  - Records the run and its events in the history database`,
		Example: `  # Apply a protocol and print a YAML report
  cellxform apply luo_rudy_1991.cue clamp.yaml

  # Stream progress events as NDJSON
  cellxform apply luo_rudy_1991.cue clamp.yaml --events

  # Pass parameters to a Starlark protocol
  cellxform apply luo_rudy_1991.cue clamp.star --param scale=3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.modelPath, opts.protocolPath = args[0], args[1]

			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			var pe *policy.Engine
			if !opts.noPolicy && !a.settings.Policy.Disabled {
				if pe, err = a.policyEngine(ctx); err != nil {
					return err
				}
			}

			_, err = runApply(ctx, a, opts, pe, a.out)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.outFormat, "out", "o", "yaml", "report format (yaml, json)")
	cmd.Flags().BoolVar(&opts.events, "events", false, "stream progress events as NDJSON instead of printing a report")
	cmd.Flags().BoolVar(&opts.noPolicy, "no-policy", false, "skip policy checks")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "run history database (overrides settings)")
	cmd.Flags().StringToStringVar(&opts.params, "param", nil, "protocol script parameter key=value")

	return cmd
}

// runApply loads the inputs of opts, applies the protocol and writes the
// report or event stream to out. pe may be nil to skip policy checks.
func runApply(ctx context.Context, a *app, opts applyOptions, pe *policy.Engine, out io.Writer) (report *engine.Report, err error) {
	runID := uuid.NewString()

	op := telemetry.StartOperation(ctx, "apply",
		telemetry.AttrModelPath.String(opts.modelPath),
		telemetry.AttrProtocolPath.String(opts.protocolPath),
		telemetry.AttrRunID.String(runID),
	)
	defer func() { op.End(err) }()
	parser := a.parser()
	m, err := parser.LoadModel(op.Ctx, opts.modelPath)
	if err != nil {
		return nil, err
	}

	runLogger := op.Logger.WithRunID(runID).WithModel(m.Name, opts.modelPath)
	ctx = runLogger.WithContext(op.Ctx)
	logger := runLogger.Zerolog()
	p, err := parser.LoadProtocol(ctx, opts.protocolPath, protocolParams(opts.params))
	if err != nil {
		return nil, err
	}

	var enc *events.Encoder
	var stream engine.Observer
	if opts.events {
		enc = events.NewEncoder(out, runID)
		stream = events.NewStream(enc)
	}

	var recorder *stores.Recorder
	if !a.settings.Store.Disabled {
		store, err := a.openStore(ctx, opts.dbPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		recorder = stores.NewRecorder(store, runID)
		if err := recorder.Begin(ctx, m.Name, opts.modelPath, opts.protocolPath); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	engineOpts := []engine.Option{
		engine.WithID(runID),
		engine.WithUnitsChecker(engine.NewUnitsChecker(m, a.settings.Units.Strict)),
		engine.WithMetrics(a.telemetry.Metrics),
		engine.WithTracer(a.telemetry.Tracer.Tracer()),
	}
	if recorder != nil {
		engineOpts = append(engineOpts, engine.WithObserver(events.Tee(stream, recorder)))
	} else if stream != nil {
		engineOpts = append(engineOpts, engine.WithObserver(stream))
	}
	if pe != nil {
		engineOpts = append(engineOpts, engine.WithPolicy(pe))
	}

	tr := engine.New(m, engineOpts...)
	tr.Inputs, tr.Outputs = p.Inputs, p.Outputs

	logger.Debug().
		Str("protocol", p.Name).
		Int("inputs", len(p.Inputs)).
		Int("outputs", len(p.Outputs)).
		Msg("Applying protocol")

	report, err = tr.Apply(ctx)
	if op.Span != nil {
		op.Span.SetAttributes(telemetry.AttrRunStatus.String(string(report.Status)))
	}

	if recorder != nil {
		if ferr := recorder.Finish(ctx, report); ferr != nil {
			logger.Warn().Err(ferr).Msg("Failed to record run outcome")
		}
	}

	if enc != nil {
		if err != nil {
			if eerr := enc.EncodeError(report.Stage, err); eerr != nil {
				logger.Warn().Err(eerr).Msg("Failed to stream error")
			}
			return report, err
		}
		return report, enc.EncodeReport(report)
	}

	if werr := writeOutput(out, opts.outFormat, report); werr != nil && err == nil {
		err = werr
	}
	return report, err
}
