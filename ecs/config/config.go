// Package config loads stage, logging and metrics settings from TOML or YAML files.
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/logging"
	"github.com/DangerosoDavo/archecs/ecs/schedule"
)

var (
	ErrUnknownFormat   = eris.New("unknown config file format")
	ErrUnknownExecutor = eris.New("unknown executor")
)

type Config struct {
	Stage   StageConfig   `toml:"stage" yaml:"stage"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

type StageConfig struct {
	Executor        string   `toml:"executor" yaml:"executor"` // "parallel" or "single"
	Workers         int      `toml:"workers" yaml:"workers"`   // 0 = GOMAXPROCS
	ApplyBuffers    bool     `toml:"apply_buffers" yaml:"apply_buffers"`
	Ambiguity       string   `toml:"ambiguity" yaml:"ambiguity"`
	AmbiguityIgnore []string `toml:"ambiguity_ignore" yaml:"ambiguity_ignore"`
}

type LoggingConfig struct {
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"`   // "json" or "console"
	Backend string `toml:"backend" yaml:"backend"` // "zap" or "zerolog"
}

type MetricsConfig struct {
	StatsDAddress string   `toml:"statsd_address" yaml:"statsd_address"`
	Namespace     string   `toml:"namespace" yaml:"namespace"`
	Tags          []string `toml:"tags" yaml:"tags"`
	Prometheus    bool     `toml:"prometheus" yaml:"prometheus"`
	SigNozService string   `toml:"signoz_service" yaml:"signoz_service"`
	LogSummaries  string   `toml:"log_summaries" yaml:"log_summaries"` // "", "json" or "kv"
}

// Load reads path on top of the defaults. The extension picks the format.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read config %s", path)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, eris.Wrapf(ErrUnknownFormat, "%s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Stage: StageConfig{
			Executor:     "parallel",
			ApplyBuffers: true,
			Ambiguity:    "allow",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  logging.FormatConsole,
			Backend: logging.BackendZap,
		},
		Metrics: MetricsConfig{
			Namespace: "ecs",
		},
	}
}

// Validate checks the values that would otherwise only fail when stages are built.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Stage.Executor) {
	case "", "parallel", "single":
	default:
		return eris.Wrapf(ErrUnknownExecutor, "%q", c.Stage.Executor)
	}
	if _, err := schedule.ParseAmbiguityLevel(c.Stage.Ambiguity); err != nil {
		return err
	}
	switch schedule.ObservationLogFormat(c.Metrics.LogSummaries) {
	case "", schedule.ObservationLogFormatJSON, schedule.ObservationLogFormatKeyValue:
	default:
		return eris.Errorf("unknown summary log format %q", c.Metrics.LogSummaries)
	}
	return nil
}

// Logger builds the logger the logging section describes.
func (c *Config) Logger() (ecs.Logger, error) {
	return logging.New(logging.Options{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		Backend: c.Logging.Backend,
	})
}

// Runtime holds what a configuration builds once and shares between stages.
type Runtime struct {
	cfg *Config

	Logger     ecs.Logger
	Observer   schedule.StageObserver
	Prometheus *schedule.PrometheusStageCollector
	StatsD     statsd.ClientInterface
}

// Build creates the logger, the statsd client and the stage observer chain. SigNoz spans are written
// to out. Prometheus metrics are only collected; Runtime.Prometheus renders them.
func (c *Config) Build(out io.Writer) (*Runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	rt := &Runtime{cfg: c, Logger: logger}

	obs := schedule.ObservationConfig{}
	if c.Metrics.StatsDAddress != "" {
		opts := []statsd.Option{statsd.WithNamespace(c.Metrics.Namespace)}
		if len(c.Metrics.Tags) > 0 {
			opts = append(opts, statsd.WithTags(c.Metrics.Tags))
		}
		client, err := statsd.New(c.Metrics.StatsDAddress, opts...)
		if err != nil {
			return nil, eris.Wrapf(err, "statsd client for %s", c.Metrics.StatsDAddress)
		}
		rt.StatsD = client
		obs.StatsD = client
	}
	if c.Metrics.Prometheus {
		rt.Prometheus = schedule.NewPrometheusStageCollector(nil)
		obs.EnablePrometheus = true
		obs.PrometheusCollector = rt.Prometheus
	}
	if c.Metrics.SigNozService != "" {
		obs.EnableSigNoz = true
		obs.SigNozOptions = &schedule.SigNozOptions{Writer: out, ServiceName: c.Metrics.SigNozService}
	}
	if c.Metrics.LogSummaries != "" {
		obs.EnableStructuredLogging = true
		obs.LoggingFormat = schedule.ObservationLogFormat(c.Metrics.LogSummaries)
	}
	rt.Observer = schedule.BuildObserver(obs, logger)
	return rt, nil
}

// StageOptions configures one stage. Every stage built with the returned options gets its own
// executor.
func (r *Runtime) StageOptions() []schedule.StageOption {
	level, _ := schedule.ParseAmbiguityLevel(r.cfg.Stage.Ambiguity)
	stage := r.cfg.Stage
	opts := []schedule.StageOption{
		schedule.WithStageLogger(r.Logger),
		schedule.WithAmbiguityLevel(level),
		schedule.WithObserver(r.Observer),
		func(s *schedule.SystemStage) {
			s.SetApplyBuffers(stage.ApplyBuffers)
			s.SetExecutor(newExecutor(stage))
		},
	}
	if len(stage.AmbiguityIgnore) > 0 {
		opts = append(opts, schedule.WithAmbiguityIgnorePrefixes(stage.AmbiguityIgnore...))
	}
	return opts
}

// Close flushes and closes the statsd client.
func (r *Runtime) Close() error {
	if r.StatsD == nil {
		return nil
	}
	return r.StatsD.Close()
}

// StageOptions builds a Runtime writing metrics to stdout and returns its stage options.
func (c *Config) StageOptions() ([]schedule.StageOption, error) {
	rt, err := c.Build(os.Stdout)
	if err != nil {
		return nil, err
	}
	return rt.StageOptions(), nil
}

func newExecutor(c StageConfig) schedule.ParallelSystemExecutor {
	if strings.EqualFold(c.Executor, "single") {
		return schedule.NewSingleThreadedExecutor()
	}
	return schedule.NewParallelExecutor(c.Workers)
}
