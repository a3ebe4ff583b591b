package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/researchbridge-backend/internal/platform/envutil"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	runsTotal    *CounterVec
	runDuration  *HistogramVec
	runsInflight *Gauge
	stepsTotal   *CounterVec
	tokensTotal  *CounterVec
	costTotal    *CounterVec

	llmRequests *CounterVec
	llmLatency  *HistogramVec

	snapshotCache *CounterVec
	queueDepth    *GaugeVec
	redisUp       *Gauge
	redisPing     *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

// Init installs the process-wide metrics when METRICS_ENABLED is set.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("rb_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"rb_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		apiInflight: NewGauge("rb_api_inflight_requests", "In-flight API requests."),

		runsTotal: NewCounterVec("rb_research_runs_total", "Research runs by kind/outcome.", []string{"kind", "outcome"}),
		runDuration: NewHistogramVec(
			"rb_research_run_duration_seconds",
			"Research run wall time by kind/outcome.",
			[]string{"kind", "outcome"},
			[]float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		),
		runsInflight: NewGauge("rb_research_runs_inflight", "Research runs currently executing in this process."),
		stepsTotal:   NewCounterVec("rb_research_steps_total", "Persisted research steps by type.", []string{"step_type"}),
		tokensTotal:  NewCounterVec("rb_research_tokens_total", "Estimated tokens of persisted steps by type.", []string{"step_type"}),
		costTotal:    NewCounterVec("rb_research_cost_usd_total", "Estimated USD cost of completed sessions.", nil),

		llmRequests: NewCounterVec("rb_llm_requests_total", "Generative stream requests by model/status.", []string{"model", "status"}),
		llmLatency: NewHistogramVec(
			"rb_llm_stream_duration_seconds",
			"Generative stream duration by model/status.",
			[]string{"model", "status"},
			[]float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		),

		snapshotCache: NewCounterVec("rb_snapshot_cache_lookups_total", "Session snapshot cache lookups by result.", []string{"result"}),
		queueDepth:    NewGaugeVec("rb_research_run_queue", "Research runs by status.", []string{"status"}),
		redisUp:       NewGauge("rb_redis_up", "Redis reachability (1 up, 0 down)."),
		redisPing:     NewGauge("rb_redis_ping_seconds", "Redis ping latency in seconds."),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.runsTotal, m.runDuration, m.runsInflight, m.stepsTotal, m.tokensTotal, m.costTotal,
		m.llmRequests, m.llmLatency,
		m.snapshotCache, m.queueDepth, m.redisUp, m.redisPing,
	}
	for _, mw := range writers {
		if err := mw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Add(1)
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Add(-1)
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsInflight.Add(1)
}

func (m *Metrics) ObserveRun(kind, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.Inc(kind, outcome)
	m.runDuration.Observe(dur.Seconds(), kind, outcome)
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.runsInflight.Add(-1)
}

func (m *Metrics) ObserveStep(stepType string, tokens int64) {
	if m == nil {
		return
	}
	m.stepsTotal.Inc(stepType)
	m.tokensTotal.Add(float64(tokens), stepType)
}

func (m *Metrics) AddCost(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.costTotal.Add(usd)
}

func (m *Metrics) ObserveLLMRequest(model, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if model == "" {
		model = "default"
	}
	m.llmRequests.Inc(model, status)
	m.llmLatency.Observe(dur.Seconds(), model, status)
}

func (m *Metrics) ObserveSnapshotCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.snapshotCache.Inc("hit")
		return
	}
	m.snapshotCache.Inc("miss")
}

func scrapeInterval() time.Duration {
	return envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 15*time.Second)
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil && ctx.Err() == nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartRunQueueCollector samples run counts by status.
func (m *Metrics) StartRunQueueCollector(ctx context.Context, log *logger.Logger, count func(context.Context) (map[string]int64, error)) {
	if m == nil || count == nil {
		return
	}
	interval := scrapeInterval()
	statuses := []string{"queued", "running", "succeeded", "failed"}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sampleRunQueue(ctx, log, statuses, count)
			}
		}
	}()
}

func (m *Metrics) sampleRunQueue(ctx context.Context, log *logger.Logger, statuses []string, count func(context.Context) (map[string]int64, error)) {
	rows, err := count(ctx)
	if err != nil {
		if log != nil && ctx.Err() == nil {
			log.Warn("metrics: run queue query failed", "error", err)
		}
		return
	}
	for _, s := range statuses {
		m.queueDepth.Set(0, s)
	}
	for status, n := range rows {
		status = strings.TrimSpace(status)
		if status == "" {
			status = "unknown"
		}
		m.queueDepth.Set(float64(n), status)
	}
}
