package schedule

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ecs "github.com/DangerosoDavo/archecs"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (l *recordingLogger) With(string, any) ecs.Logger   { return l }
func (l *recordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

type recordingStatsD struct {
	statsd.NoOpClient
	timings map[string]time.Duration
	counts  map[string]int64
}

func (r *recordingStatsD) Timing(name string, value time.Duration, _ []string, _ float64) error {
	r.timings[name] = value
	return nil
}

func (r *recordingStatsD) Count(name string, value int64, _ []string, _ float64) error {
	r.counts[name] += value
	return nil
}

func sampleSummary() StageSummary {
	return StageSummary{
		Stage:      "Update",
		Tick:       42,
		Duration:   5 * time.Millisecond,
		Systems:    3,
		SystemsRun: 2,
		Iterations: 1,
	}
}

func TestPrometheusStageCollectorWritesMetrics(t *testing.T) {
	collector := NewPrometheusStageCollector(&PrometheusCollectorOptions{
		DurationBuckets: []time.Duration{time.Millisecond, 10 * time.Millisecond},
	})
	collector.StageCompleted(sampleSummary())

	var buf bytes.Buffer
	require.NoError(t, collector.WriteMetrics(&buf))
	metrics := buf.String()
	assert.Contains(t, metrics, `ecs_stage_duration_seconds_sum{stage="Update"}`)
	assert.Contains(t, metrics, `ecs_stage_duration_seconds_bucket{stage="Update",le="0.010000"} 1.000000`)
	assert.Contains(t, metrics, `ecs_stage_duration_seconds_bucket{stage="Update",le="0.001000"} 0.000000`)
	assert.Contains(t, metrics, `ecs_stage_systems_run_total{stage="Update"} 2.000000`)
}

func TestSigNozSpanExporterWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewSigNozSpanExporter(&SigNozOptions{Writer: &buf, ServiceName: "ecs-test"})
	exporter.StageCompleted(sampleSummary())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "ecs-test", payload["service_name"])
	assert.Equal(t, "stage:Update", payload["name"])
	attrs, ok := payload["attributes"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, attrs["systems_run"])
}

func TestLoggingObserverFormats(t *testing.T) {
	logger := &recordingLogger{}
	NewLoggingObserver(logger, ObservationLogFormatJSON).StageCompleted(sampleSummary())
	NewLoggingObserver(logger, ObservationLogFormatKeyValue).StageCompleted(sampleSummary())

	require.Len(t, logger.entries, 2)
	assert.True(t, strings.HasPrefix(logger.entries[0], `INFO {`))
	assert.Contains(t, logger.entries[0], `"stage":"Update"`)
	assert.True(t, strings.HasPrefix(logger.entries[1], "INFO stage summary"))
}

func TestBuildObserverChain(t *testing.T) {
	assert.IsType(t, noopObserver{}, BuildObserver(ObservationConfig{}, nil))

	var seen []StageSummary
	direct := StageObserverFunc(func(s StageSummary) { seen = append(seen, s) })
	assert.IsType(t, direct, BuildObserver(ObservationConfig{Observer: direct}, nil))

	client := &recordingStatsD{timings: map[string]time.Duration{}, counts: map[string]int64{}}
	var spans bytes.Buffer
	logger := &recordingLogger{}
	chain := BuildObserver(ObservationConfig{
		Observer:                direct,
		EnableStructuredLogging: true,
		EnablePrometheus:        true,
		EnableSigNoz:            true,
		SigNozOptions:           &SigNozOptions{Writer: &spans},
		StatsD:                  client,
	}, logger)
	chain.StageCompleted(sampleSummary())

	require.Len(t, seen, 1)
	assert.Len(t, logger.entries, 1)
	assert.NotZero(t, spans.Len())
	assert.Equal(t, 5*time.Millisecond, client.timings["stage.duration"])
	assert.EqualValues(t, 2, client.counts["stage.systems_run"])
}

func TestStageReportsToObserver(t *testing.T) {
	w := newTagWorld()
	collector := NewPrometheusStageCollector(nil)
	s := NewSingleThreadedStage(WithStageName("Update"), WithObserver(collector)).
		AddSystem(makeParallel(0)).
		AddSystem(makeExclusive(1).AtEnd())
	runTimes(s, w, 3)

	var buf bytes.Buffer
	require.NoError(t, collector.WriteMetrics(&buf))
	assert.Contains(t, buf.String(), `ecs_stage_systems_run_total{stage="Update"} 6.000000`)
	assert.Contains(t, buf.String(), `ecs_stage_duration_seconds_count{stage="Update"} 3.000000`)
}

func TestStatsDObserverDefaultsToNoOp(t *testing.T) {
	require.NotPanics(t, func() { NewStatsDObserver(nil).StageCompleted(sampleSummary()) })
}
