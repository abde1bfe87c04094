package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/cellxform/cellxform/pkg/stores"
	"github.com/cellxform/cellxform/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CELLXFORM"

// Settings is the complete cellxform tool configuration.
type Settings struct {
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Store     StoreSettings    `mapstructure:"store"`
	Policy    PolicySettings   `mapstructure:"policy"`
	Units     UnitsSettings    `mapstructure:"units"`
	Protocol  ProtocolSettings `mapstructure:"protocol"`
	Watch     WatchSettings    `mapstructure:"watch"`

	// Source is the config file that was read, if any.
	Source string `mapstructure:"-"`
}

// StoreSettings configures the run history database.
type StoreSettings struct {
	Path     string `mapstructure:"path" validate:"required_unless=Disabled true"`
	Disabled bool   `mapstructure:"disabled"`
}

// PolicySettings configures pre-apply policy checks.
type PolicySettings struct {
	// Dirs are files or directories of custom policies.
	Dirs     []string `mapstructure:"dirs" validate:"dive,required"`
	Disabled bool     `mapstructure:"disabled"`
}

// UnitsSettings configures the units checker.
type UnitsSettings struct {
	// Strict requires every unit to be declared by the model or built in.
	Strict bool `mapstructure:"strict"`
}

// ProtocolSettings configures protocol loading.
type ProtocolSettings struct {
	// StarlarkTimeout bounds the evaluation of .star protocols.
	StarlarkTimeout time.Duration `mapstructure:"starlark_timeout" validate:"gt=0"`
}

// WatchSettings configures `cellxform watch`.
type WatchSettings struct {
	Debounce time.Duration `mapstructure:"debounce" validate:"gte=0"`
	// ServeMetrics exposes the Prometheus endpoint while watching.
	ServeMetrics bool `mapstructure:"serve_metrics"`
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() *Settings {
	return &Settings{
		Telemetry: *telemetry.DefaultConfig(),
		Store: StoreSettings{
			Path: filepath.Join("data", "cellxform.db"),
		},
		Policy: PolicySettings{
			Dirs: []string{},
		},
		Protocol: ProtocolSettings{
			StarlarkTimeout: 5 * time.Second,
		},
		Watch: WatchSettings{
			Debounce:     300 * time.Millisecond,
			ServeMetrics: true,
		},
	}
}

// DefaultSearchPaths returns the directories searched for cellxform.yaml or
// cellxform.toml when no file is given.
func DefaultSearchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "cellxform"))
	}
	return paths
}

// Load reads settings from path, or from the first cellxform.{yaml,toml}
// found in searchPaths when path is empty, then applies CELLXFORM_*
// environment variables over the file and the defaults. A missing file is
// only an error when path is given explicitly.
func Load(path string, searchPaths ...string) (*Settings, error) {
	v := viper.New()
	setDefaults(v, DefaultSettings())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("telemetry.logging.level", EnvPrefix+"_LOG_LEVEL"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if len(searchPaths) == 0 {
			searchPaths = DefaultSearchPaths()
		}
		v.SetConfigName("cellxform")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	s.Source = v.ConfigFileUsed()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Settings) {
	t := d.Telemetry
	v.SetDefault("telemetry.service_name", t.ServiceName)
	v.SetDefault("telemetry.service_version", t.ServiceVersion)
	v.SetDefault("telemetry.environment", t.Environment)
	v.SetDefault("telemetry.resource_attributes", t.ResourceAttributes)

	v.SetDefault("telemetry.logging.level", t.Logging.Level)
	v.SetDefault("telemetry.logging.format", t.Logging.Format)
	v.SetDefault("telemetry.logging.output", t.Logging.Output)
	v.SetDefault("telemetry.logging.enable_caller", t.Logging.EnableCaller)
	v.SetDefault("telemetry.logging.time_format", t.Logging.TimeFormat)

	v.SetDefault("telemetry.tracing.enabled", t.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", t.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.endpoint", t.Tracing.Endpoint)
	v.SetDefault("telemetry.tracing.sampling_rate", t.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.max_export_batch_size", t.Tracing.MaxExportBatchSize)
	v.SetDefault("telemetry.tracing.export_timeout", t.Tracing.ExportTimeout)
	v.SetDefault("telemetry.tracing.headers", t.Tracing.Headers)
	v.SetDefault("telemetry.tracing.insecure", t.Tracing.Insecure)

	v.SetDefault("telemetry.metrics.enabled", t.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.listen_address", t.Metrics.ListenAddress)
	v.SetDefault("telemetry.metrics.path", t.Metrics.Path)
	v.SetDefault("telemetry.metrics.namespace", t.Metrics.Namespace)
	v.SetDefault("telemetry.metrics.histogram_buckets", t.Metrics.DefaultHistogramBuckets)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.disabled", d.Store.Disabled)
	v.SetDefault("policy.dirs", d.Policy.Dirs)
	v.SetDefault("policy.disabled", d.Policy.Disabled)
	v.SetDefault("units.strict", d.Units.Strict)
	v.SetDefault("protocol.starlark_timeout", d.Protocol.StarlarkTimeout)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.serve_metrics", d.Watch.ServeMetrics)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings and the embedded telemetry configuration.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validation failed: %w", err)
		}
		errs := make([]error, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msg := fmt.Sprintf("failed %s validation", fe.Tag())
			if fe.Param() != "" {
				msg = fmt.Sprintf("failed %s=%s validation", fe.Tag(), fe.Param())
			}
			errs = append(errs, &ConfigError{Field: fe.Namespace(), Message: msg})
		}
		return errors.Join(errs...)
	}

	if err := s.Telemetry.Validate(); err != nil {
		return &ConfigError{Field: "telemetry", Message: err.Error()}
	}
	return nil
}

// StoreConfig returns the SQLite store configuration.
func (s *Settings) StoreConfig() stores.Config {
	return stores.Config{Path: s.Store.Path}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
