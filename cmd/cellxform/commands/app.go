package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cellxform/cellxform/pkg/config"
	"github.com/cellxform/cellxform/pkg/policy"
	"github.com/cellxform/cellxform/pkg/settings"
	"github.com/cellxform/cellxform/pkg/stores"
	"github.com/cellxform/cellxform/pkg/telemetry"
)

// app holds what every command needs: settings, telemetry and the output
// stream.
type app struct {
	settings  *settings.Settings
	telemetry *telemetry.Telemetry
	out       io.Writer
}

// newApp loads settings and sets up telemetry for cmd. The returned context
// carries the telemetry and its logger.
func newApp(cmd *cobra.Command) (*app, context.Context, error) {
	s, err := settings.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		s.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&s.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	ctx := tel.WithContext(cmd.Context())
	if s.Source != "" {
		tel.Logger.WithField("config", s.Source).Debug("Settings loaded")
	}

	return &app{settings: s, telemetry: tel, out: cmd.OutOrStdout()}, ctx, nil
}

// close flushes telemetry.
func (a *app) close(ctx context.Context) {
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.telemetry.Logger.WithError(err).Warn("Failed to shut down telemetry")
	}
}

// parser returns a model and protocol parser configured from settings.
func (a *app) parser() *config.CUEParser {
	return config.NewCUEParser().WithStarlarkTimeout(a.settings.Protocol.StarlarkTimeout)
}

// openStore opens and migrates the run history database. path overrides
// the configured location.
func (a *app) openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	cfg := a.settings.StoreConfig()
	if path != "" {
		cfg.Path = path
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// policyEngine builds the policy engine with the built-in policies and the
// configured custom policy paths.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(a.telemetry.Logger.NewComponentLogger("policy").Zerolog())
	if err != nil {
		return nil, err
	}
	if len(a.settings.Policy.Dirs) > 0 {
		if err := pe.LoadPolicies(ctx, a.settings.Policy.Dirs); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// writeOutput prints v as JSON when --json is set or format is "json", and
// as YAML otherwise.
func writeOutput(w io.Writer, format string, v interface{}) error {
	if jsonOutput || format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if format != "" && format != "yaml" {
		return fmt.Errorf("unsupported output format: %s (must be 'yaml' or 'json')", format)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// protocolParams converts --param key=value pairs, keeping numbers and
// booleans typed.
func protocolParams(raw map[string]string) map[string]interface{} {
	params := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if i, err := strconv.Atoi(v); err == nil {
			params[k] = i
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			params[k] = b
		} else {
			params[k] = v
		}
	}
	return params
}
