package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ta-enginev1/internal/pipeline"
)

// Metrics holds all Prometheus metrics for the pipeline engine.
type Metrics struct {
	CandlesTotal prometheus.Counter
	WSReconnects prometheus.Counter
	CandleLag    prometheus.Gauge

	// Streaming executor metrics
	ResultsTotal     *prometheus.CounterVec // labels: stage
	StageErrorsTotal *prometheus.CounterVec // labels: stage
	TickDur          prometheus.Histogram

	// Batch executor metrics
	RunsTotal      prometheus.Counter
	RunDur         prometheus.Histogram
	CacheHitsTotal *prometheus.CounterVec // labels: stage

	// Ring buffer overflow
	RingBufOverflow prometheus.Counter

	// Backpressure metrics
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Resampler metrics
	ResampledCandlesTotal *prometheus.CounterVec // labels: interval
	StaleCandlesRejected  prometheus.Counter

	// Store metrics
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram

	// Circuit breaker metrics
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Gateway + alerting
	GatewayClients prometheus.Gauge
	AlertsTotal    *prometheus.CounterVec // labels: rule
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_candles_total",
			Help: "Total candles ingested from the feed",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_ws_reconnects_total",
			Help: "Total WebSocket feed reconnection attempts",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_candle_lag_seconds",
			Help: "Lag between candle timestamp and processing time",
		}),

		// Streaming executor
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_results_total",
			Help: "Total indicator results emitted (by stage)",
		}, []string{"stage"}),
		StageErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_stage_errors_total",
			Help: "Total stage failures (by stage)",
		}, []string{"stage"}),
		TickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_tick_duration_seconds",
			Help:    "Streaming executor latency per candle across all stages",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),

		// Batch executor
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_runs_total",
			Help: "Total batch pipeline runs",
		}),
		RunDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_run_duration_seconds",
			Help:    "Batch run latency end to end",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_cache_hits_total",
			Help: "Batch result cache hits (by stage)",
		}, []string{"stage"}),

		// Ring buffer
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped candles)",
		}),

		// Backpressure
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_fanout_drops_total",
			Help: "Candles dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		// Resampler
		ResampledCandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_resampled_candles_total",
			Help: "Total resampled candles emitted (by interval seconds)",
		}, []string{"interval"}),
		StaleCandlesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_stale_candles_rejected_total",
			Help: "Candles rejected by the resampler due to staleness",
		}),

		// Stores
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		// Circuit breaker
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),

		// Gateway + alerting
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_gateway_clients",
			Help: "Currently connected gateway WebSocket clients",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taengine_alerts_total",
			Help: "Alerts fired (by rule)",
		}, []string{"rule"}),
	}

	prometheus.MustRegister(
		m.CandlesTotal,
		m.WSReconnects,
		m.CandleLag,
		m.ResultsTotal,
		m.StageErrorsTotal,
		m.TickDur,
		m.RunsTotal,
		m.RunDur,
		m.CacheHitsTotal,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.ResampledCandlesTotal,
		m.StaleCandlesRejected,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.GatewayClients,
		m.AlertsTotal,
	)

	return m
}

// ObserveTick records one streaming executor call: emitted results and
// failures per stage plus the whole-tick latency.
func (m *Metrics) ObserveTick(tick *pipeline.TickResult, dur time.Duration) {
	if tick == nil {
		return
	}
	for stageID, res := range tick.Results {
		if res != nil {
			m.ResultsTotal.WithLabelValues(stageID).Inc()
		}
	}
	for _, se := range tick.Errors {
		m.StageErrorsTotal.WithLabelValues(se.StageID).Inc()
	}
	m.TickDur.Observe(dur.Seconds())
}

// ObserveRun records one completed batch run from its execution metrics.
func (m *Metrics) ObserveRun(run *pipeline.RunResult) {
	if run == nil {
		return
	}
	m.RunsTotal.Inc()
	m.RunDur.Observe(run.Metrics.TotalProcessingTime.Seconds())
	for stageID, sm := range run.Metrics.Stages {
		if sm == nil {
			continue
		}
		m.ResultsTotal.WithLabelValues(stageID).Add(float64(len(run.StageResults[stageID])))
		if sm.ErrorCount > 0 {
			m.StageErrorsTotal.WithLabelValues(stageID).Add(float64(sm.ErrorCount))
		}
		if sm.CacheHits > 0 {
			m.CacheHitsTotal.WithLabelValues(stageID).Add(float64(sm.CacheHits))
		}
	}
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastCandleTime time.Time `json:"last_candle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	PipelineOK     bool      `json:"pipeline_ok"`
	Stages         []string  `json:"stages"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPipelineOK(v bool) {
	h.mu.Lock()
	h.PipelineOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStages(ids []string) {
	h.mu.Lock()
	h.Stages = ids
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.PipelineOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.PipelineOK && !h.FeedConnected {
		overallStatus = "unhealthy"
	}

	// Candle age
	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		FeedConnected   bool     `json:"feed_connected"`
		LastCandleTime  string   `json:"last_candle_time"`
		CandleAge       string   `json:"candle_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		PipelineOK      bool     `json:"pipeline_ok"`
		Stages          []string `json:"stages"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		PipelineOK:      h.PipelineOK,
		Stages:          h.Stages,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
