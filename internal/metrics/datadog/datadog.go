// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Submission model:
//   - pipeline goroutine calls IncCounter/ObserveHistogram at any time
//   - metrics buffer in-memory under a mutex
//   - a ticker goroutine flushes periodically (default: once per minute),
//     so long batch runs produce an actual time series
//   - Close() stops the loop and performs one final flush for short runs
//
// If the process dies with SIGKILL/OOM, the tail flush is lost; no backend
// can fix that.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"playmart/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "etl".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets these; unit tests
	// use them to avoid real network submission and nondeterministic
	// clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK the backend
// needs; depending on it (instead of *datadogV2.MetricsApi) keeps Flush
// testable with a fake.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api ctxSubmitter

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	fileCounts      map[string]float64   // kind\x00status -> count
	rowCounts       map[string]float64   // table -> count
	resolverCounts  map[string]float64   // outcome -> count
	durationSamples map[string][]float64 // kind -> samples (seconds)
}

type ctxSubmitter struct {
	ctx context.Context
	sub metricsSubmitter
}

// NewBackend constructs a Datadog backend using the official client and
// starts its periodic flush goroutine.
//
// Credentials come from the standard DD_API_KEY/DD_APP_KEY environment via
// dd.NewDefaultContext; network errors surface from Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "etl"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        ctxSubmitter{ctx: dd.NewDefaultContext(parent), sub: submitter},
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		fileCounts:      make(map[string]float64),
		rowCounts:       make(map[string]float64),
		resolverCounts:  make(map[string]float64),
		durationSamples: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
// Call once at process shutdown.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.FilesTotal:
		b.fileCounts[kindStatusKey(labels["kind"], labels["status"])] += delta

	case metrics.RowsTotal:
		table := labels["table"]
		if table == "" {
			return
		}
		b.rowCounts[table] += delta

	case metrics.ResolverTotal:
		outcome := labels["outcome"]
		if outcome == "" {
			outcome = "unknown"
		}
		b.resolverCounts[outcome] += delta

	default:
		// Unknown metrics are ignored.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.FileDurationSeconds:
		kind := labels["kind"]
		if kind == "" {
			kind = "unknown"
		}
		b.durationSamples[kind] = append(b.durationSamples[kind], value)

	default:
		// Unknown histograms are ignored.
	}
}

// snapshot is the buffered state used to build one flush payload. Flush
// must reset buffers under the lock but submit out-of-lock; snapshot is the
// seam between the two.
type snapshot struct {
	fileCounts      map[string]float64
	rowCounts       map[string]float64
	resolverCounts  map[string]float64
	durationSamples map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		fileCounts:      b.fileCounts,
		rowCounts:       b.rowCounts,
		resolverCounts:  b.resolverCounts,
		durationSamples: b.durationSamples,
	}

	b.fileCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.resolverCounts = make(map[string]float64)
	b.durationSamples = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.fileCounts) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.resolverCounts) == 0 &&
		len(s.durationSamples) == 0
}

// Flush submits buffered metrics and resets local buffers.
//
// Buffers are reset even if submission fails, by design: the pipeline must
// not block or retry on a metrics outage.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.sub.SubmitMetrics(b.api.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs the Datadog series for a snapshot at a fixed
// timestamp. Pure (no locks, network, or clocks), so it carries the
// naming/tagging contract and is unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.fileCounts)+len(s.rowCounts)+len(s.resolverCounts)+8)

	for k, v := range s.fileCounts {
		if v == 0 {
			continue
		}
		kind, status := splitKindStatusKey(k)
		tags := withTags(b.baseTags, "kind:"+kind, "status:"+status)
		series = append(series, countSeries("etl.files.total", v, tags, nowUnix))
	}

	for table, v := range s.rowCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "table:"+table)
		series = append(series, countSeries("etl.rows.total", v, tags, nowUnix))
	}

	for outcome, v := range s.resolverCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "outcome:"+outcome)
		series = append(series, countSeries("etl.resolver.lookups.total", v, tags, nowUnix))
	}

	for kind, samples := range s.durationSamples {
		addPercentiles(&series, withTags(b.baseTags, "kind:"+kind), "etl.file.duration_seconds", samples, nowUnix)
	}

	return series
}

// addPercentiles appends a fixed set of percentile gauges for a sample set.
// It sorts a copy; the input is not mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, metricPrefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func kindStatusKey(kind, status string) string {
	return kind + "\x00" + status
}

func splitKindStatusKey(k string) (kind, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:etl".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
