package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cellxform/cellxform/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "watch <model> <protocol>",
		Short: "Re-apply a protocol whenever its inputs change",
		Long: `Apply a protocol, then re-apply it each time the model file, the
protocol file or a custom policy changes. Every run is recorded in the
history database.

While watching, Prometheus metrics are served on the configured listen
address unless watch.serve_metrics is false.`,
		Example: `  # Re-run the clamp protocol on every save
  cellxform watch luo_rudy_1991.cue clamp.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.modelPath, opts.protocolPath = args[0], args[1]

			a, ctx, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			return runWatch(ctx, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.outFormat, "out", "o", "yaml", "report format (yaml, json)")
	cmd.Flags().BoolVar(&opts.events, "events", false, "stream progress events as NDJSON instead of printing reports")
	cmd.Flags().BoolVar(&opts.noPolicy, "no-policy", false, "skip policy checks")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "run history database (overrides settings)")
	cmd.Flags().StringToStringVar(&opts.params, "param", nil, "protocol script parameter key=value")

	return cmd
}

// runWatch applies opts once and again after every change until ctx is done.
// Failed runs are logged and do not stop the watch.
func runWatch(ctx context.Context, a *app, opts applyOptions) error {
	logger := a.telemetry.Logger.NewComponentLogger("watch").Zerolog()
	metrics := a.telemetry.Metrics

	if a.settings.Watch.ServeMetrics {
		if srv := metrics.StartMetricsServer(); srv != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	var pe *policy.Engine
	if !opts.noPolicy && !a.settings.Policy.Disabled {
		var err error
		if pe, err = a.policyEngine(ctx); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Directories are watched so that editors replacing files are seen.
	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, path := range []string{opts.modelPath, opts.protocolPath} {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	policyChanged := make(chan struct{}, 1)
	if pe != nil && len(a.settings.Policy.Dirs) > 0 {
		loader := policy.NewLoader(logger)
		err := loader.Watch(ctx, a.settings.Policy.Dirs, func(ctx context.Context, policies []policy.Policy) error {
			if err := pe.ReplaceCustomPolicies(ctx, policies); err != nil {
				return err
			}
			select {
			case policyChanged <- struct{}{}:
			default:
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	metrics.SetActiveWatches(1)
	defer metrics.SetActiveWatches(0)

	runs := 0
	apply := func(reason string) {
		if runs > 0 && !opts.events && !jsonOutput && opts.outFormat != "json" {
			fmt.Fprintln(a.out, "---")
		}
		runs++

		report, err := runApply(ctx, a, opts, pe, a.out)
		if err != nil {
			metrics.RecordReload("failure")
			ev := logger.Warn().Err(err).Str("reason", reason)
			if report != nil {
				ev = ev.Str("run_id", report.ID).Str("stage", report.Stage)
			}
			ev.Msg("Protocol run failed")
			return
		}
		metrics.RecordReload("success")
		logger.Info().
			Str("reason", reason).
			Str("run_id", report.ID).
			Dur("duration", report.Duration).
			Msg("Protocol applied")
	}

	apply("initial")

	changed := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("runs", runs).Msg("Stopped watching")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !targets[abs] {
				continue
			}
			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Input changed")

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(a.settings.Watch.Debounce, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})

		case <-changed:
			apply("input changed")

		case <-policyChanged:
			apply("policy changed")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
