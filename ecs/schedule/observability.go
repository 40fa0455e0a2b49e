package schedule

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/goccy/go-json"
	"go.uber.org/multierr"

	ecs "github.com/DangerosoDavo/archecs"
)

// StageSummary describes one run of a stage.
type StageSummary struct {
	Stage       string
	Tick        uint32
	Duration    time.Duration
	Systems     int
	SystemsRun  int
	Iterations  int
	Ambiguities int
	// Skipped is set when the stage criteria rejected the run outright.
	Skipped bool
	// BufferErrors counts systems whose buffers failed to apply; Err combines their errors.
	BufferErrors int
	Err          error
}

func (s *StageSummary) recordBufferError(err error) {
	if err == nil {
		return
	}
	s.BufferErrors++
	s.Err = multierr.Append(s.Err, err)
}

// StageObserver is notified after every run of a stage.
type StageObserver interface {
	StageCompleted(summary StageSummary)
}

// StageObserverFunc adapts a function to StageObserver.
type StageObserverFunc func(summary StageSummary)

func (f StageObserverFunc) StageCompleted(summary StageSummary) { f(summary) }

// ObservationLogFormat selects how the logging observer renders summaries.
type ObservationLogFormat string

const (
	ObservationLogFormatJSON     ObservationLogFormat = "json"
	ObservationLogFormatKeyValue ObservationLogFormat = "kv"
)

// PrometheusCollectorOptions configures the Prometheus text collector.
type PrometheusCollectorOptions struct {
	// Writer, when set, receives the full metric set after every observation.
	Writer          io.Writer
	DurationBuckets []time.Duration
}

// SigNozOptions configures the span exporter.
type SigNozOptions struct {
	Writer      io.Writer
	ServiceName string
}

// ObservationConfig selects the observers BuildObserver chains together.
type ObservationConfig struct {
	Observer StageObserver

	EnableStructuredLogging bool
	StructuredLogger        ecs.Logger
	LoggingFormat           ObservationLogFormat

	EnablePrometheus    bool
	PrometheusCollector *PrometheusStageCollector
	PrometheusOptions   *PrometheusCollectorOptions

	EnableSigNoz  bool
	SigNozOptions *SigNozOptions

	StatsD statsd.ClientInterface
}

type noopObserver struct{}

func (noopObserver) StageCompleted(StageSummary) {}

type compositeObserver struct {
	observers []StageObserver
}

func (c compositeObserver) StageCompleted(summary StageSummary) {
	for _, observer := range c.observers {
		observer.StageCompleted(summary)
	}
}

// BuildObserver chains the observers cfg enables. The logging observer falls back to logger.
func BuildObserver(cfg ObservationConfig, logger ecs.Logger) StageObserver {
	var observers []StageObserver
	if cfg.Observer != nil {
		observers = append(observers, cfg.Observer)
	}
	if cfg.EnableStructuredLogging {
		structured := cfg.StructuredLogger
		if structured == nil {
			structured = logger
		}
		observers = append(observers, NewLoggingObserver(structured, cfg.LoggingFormat))
	}
	if cfg.EnablePrometheus {
		collector := cfg.PrometheusCollector
		if collector == nil {
			collector = NewPrometheusStageCollector(cfg.PrometheusOptions)
		}
		observers = append(observers, collector)
	}
	if cfg.EnableSigNoz {
		observers = append(observers, NewSigNozSpanExporter(cfg.SigNozOptions))
	}
	if cfg.StatsD != nil {
		observers = append(observers, NewStatsDObserver(cfg.StatsD))
	}

	switch len(observers) {
	case 0:
		return noopObserver{}
	case 1:
		return observers[0]
	}
	return compositeObserver{observers: observers}
}

type loggingObserver struct {
	logger ecs.Logger
	format ObservationLogFormat
}

// NewLoggingObserver logs every summary at info level, as a JSON document or as key-value pairs.
func NewLoggingObserver(logger ecs.Logger, format ObservationLogFormat) StageObserver {
	if logger == nil {
		return noopObserver{}
	}
	if format != ObservationLogFormatKeyValue {
		format = ObservationLogFormatJSON
	}
	return loggingObserver{logger: logger, format: format}
}

func (o loggingObserver) StageCompleted(summary StageSummary) {
	if o.format == ObservationLogFormatKeyValue {
		o.logger.With("stage", summary.Stage).Info("stage summary",
			"tick", summary.Tick,
			"duration", summary.Duration,
			"systems", summary.Systems,
			"systems_run", summary.SystemsRun,
			"iterations", summary.Iterations,
			"ambiguities", summary.Ambiguities,
			"skipped", summary.Skipped,
			"buffer_errors", summary.BufferErrors,
		)
		return
	}
	data, err := json.Marshal(summaryPayload(summary))
	if err != nil {
		o.logger.With("stage", summary.Stage).Error("stage summary marshal error", "err", err)
		return
	}
	o.logger.Info(string(data))
}

func summaryPayload(summary StageSummary) map[string]any {
	return map[string]any{
		"stage":         summary.Stage,
		"tick":          summary.Tick,
		"duration_ms":   float64(summary.Duration) / float64(time.Millisecond),
		"systems":       summary.Systems,
		"systems_run":   summary.SystemsRun,
		"iterations":    summary.Iterations,
		"ambiguities":   summary.Ambiguities,
		"skipped":       summary.Skipped,
		"buffer_errors": summary.BufferErrors,
	}
}

// PrometheusStageCollector aggregates summaries per stage and renders them in the Prometheus text
// exposition format.
type PrometheusStageCollector struct {
	options *PrometheusCollectorOptions
	mu      sync.Mutex
	samples map[string]*prometheusSample
}

type prometheusSample struct {
	durationSum   float64
	durationCount float64
	buckets       []float64
	systemsRun    float64
	skipped       float64
	bufferErrors  float64
}

func NewPrometheusStageCollector(opts *PrometheusCollectorOptions) *PrometheusStageCollector {
	if opts == nil {
		opts = &PrometheusCollectorOptions{}
	}
	return &PrometheusStageCollector{
		options: opts,
		samples: make(map[string]*prometheusSample),
	}
}

func (c *PrometheusStageCollector) StageCompleted(summary StageSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sample, ok := c.samples[summary.Stage]
	if !ok {
		sample = &prometheusSample{}
		if buckets := c.options.DurationBuckets; len(buckets) > 0 {
			sample.buckets = make([]float64, len(buckets))
		}
		c.samples[summary.Stage] = sample
	}
	seconds := summary.Duration.Seconds()
	sample.durationSum += seconds
	sample.durationCount++
	for i := range sample.buckets {
		if seconds <= c.options.DurationBuckets[i].Seconds() {
			sample.buckets[i]++
		}
	}
	sample.systemsRun += float64(summary.SystemsRun)
	if summary.Skipped {
		sample.skipped++
	}
	sample.bufferErrors += float64(summary.BufferErrors)

	if c.options.Writer != nil {
		_ = c.writeMetricsLocked(c.options.Writer)
	}
}

func (c *PrometheusStageCollector) WriteMetrics(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeMetricsLocked(w)
}

func (c *PrometheusStageCollector) writeMetricsLocked(w io.Writer) error {
	if w == nil {
		return nil
	}
	stages := make([]string, 0, len(c.samples))
	for stage := range c.samples {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	var buf bytes.Buffer
	buf.WriteString("# HELP ecs_stage_duration_seconds Stage run duration.\n")
	buf.WriteString("# TYPE ecs_stage_duration_seconds summary\n")
	for _, stage := range stages {
		sample := c.samples[stage]
		labels := fmt.Sprintf("stage=%q", stage)
		fmt.Fprintf(&buf, "ecs_stage_duration_seconds_sum{%s} %f\n", labels, sample.durationSum)
		fmt.Fprintf(&buf, "ecs_stage_duration_seconds_count{%s} %f\n", labels, sample.durationCount)
		for i, bucket := range sample.buckets {
			le := c.options.DurationBuckets[i].Seconds()
			fmt.Fprintf(&buf, "ecs_stage_duration_seconds_bucket{%s,le=\"%.6f\"} %f\n", labels, le, bucket)
		}
	}

	buf.WriteString("# HELP ecs_stage_systems_run_total Systems run per stage.\n")
	buf.WriteString("# TYPE ecs_stage_systems_run_total counter\n")
	for _, stage := range stages {
		fmt.Fprintf(&buf, "ecs_stage_systems_run_total{stage=%q} %f\n", stage, c.samples[stage].systemsRun)
	}

	buf.WriteString("# HELP ecs_stage_skipped_total Runs rejected by the stage run criteria.\n")
	buf.WriteString("# TYPE ecs_stage_skipped_total counter\n")
	for _, stage := range stages {
		fmt.Fprintf(&buf, "ecs_stage_skipped_total{stage=%q} %f\n", stage, c.samples[stage].skipped)
	}

	buf.WriteString("# HELP ecs_stage_buffer_errors_total Systems whose deferred commands failed to apply.\n")
	buf.WriteString("# TYPE ecs_stage_buffer_errors_total counter\n")
	for _, stage := range stages {
		fmt.Fprintf(&buf, "ecs_stage_buffer_errors_total{stage=%q} %f\n", stage, c.samples[stage].bufferErrors)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// SigNozSpanExporter writes one JSON span per stage run.
type SigNozSpanExporter struct {
	opts *SigNozOptions
	mu   sync.Mutex
}

func NewSigNozSpanExporter(opts *SigNozOptions) *SigNozSpanExporter {
	if opts == nil {
		opts = &SigNozOptions{}
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "ecs-schedule"
	}
	return &SigNozSpanExporter{opts: opts}
}

func (e *SigNozSpanExporter) StageCompleted(summary StageSummary) {
	if e.opts.Writer == nil {
		return
	}
	span := map[string]any{
		"service_name": e.opts.ServiceName,
		"name":         "stage:" + summary.Stage,
		"timestamp":    time.Now().UnixNano(),
		"duration_ms":  float64(summary.Duration) / float64(time.Millisecond),
		"attributes":   summaryPayload(summary),
	}
	payload, err := json.Marshal(span)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.opts.Writer.Write(append(payload, '\n'))
}

type statsdObserver struct {
	client statsd.ClientInterface
}

// NewStatsDObserver reports stage timings and executed system counts. A nil client discards them.
func NewStatsDObserver(client statsd.ClientInterface) StageObserver {
	if client == nil {
		client = &statsd.NoOpClient{}
	}
	return statsdObserver{client: client}
}

func (o statsdObserver) StageCompleted(summary StageSummary) {
	tags := []string{"stage:" + summary.Stage}
	_ = o.client.Timing("stage.duration", summary.Duration, tags, 1)
	_ = o.client.Count("stage.systems_run", int64(summary.SystemsRun), tags, 1)
	if summary.Skipped {
		_ = o.client.Incr("stage.skipped", tags, 1)
	}
	if summary.BufferErrors > 0 {
		_ = o.client.Count("stage.buffer_errors", int64(summary.BufferErrors), tags, 1)
	}
}
