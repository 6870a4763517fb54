package metrics

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/pipeline"
)

// NewMetrics registers against the default registry, so the test binary
// gets exactly one instance.
var testMetrics = NewMetrics()

func TestObserveTick_CountsResultsAndErrors(t *testing.T) {
	m := testMetrics

	tick := &pipeline.TickResult{
		Results: map[string]*model.IndicatorResult{
			"tick_sma":  {TS: time.Now()},
			"tick_warm": nil, // still warming up, must not count
		},
		Errors: []pipeline.StageError{
			{StageID: "tick_flaky", Err: errors.New("boom")},
		},
	}
	m.ObserveTick(tick, 250*time.Microsecond)

	if got := testutil.ToFloat64(m.ResultsTotal.WithLabelValues("tick_sma")); got != 1 {
		t.Errorf("ResultsTotal[tick_sma] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResultsTotal.WithLabelValues("tick_warm")); got != 0 {
		t.Errorf("ResultsTotal[tick_warm] = %v, want 0 for nil result", got)
	}
	if got := testutil.ToFloat64(m.StageErrorsTotal.WithLabelValues("tick_flaky")); got != 1 {
		t.Errorf("StageErrorsTotal[tick_flaky] = %v, want 1", got)
	}
}

func TestObserveRun_RecordsRunAndStageCounters(t *testing.T) {
	m := testMetrics
	runsBefore := testutil.ToFloat64(m.RunsTotal)

	run := &pipeline.RunResult{
		PipelineID: "p1",
		StageResults: map[string][]model.IndicatorResult{
			"run_ema": make([]model.IndicatorResult, 5),
		},
		Metrics: pipeline.ExecutionMetrics{
			TotalExecutions:     1,
			TotalProcessingTime: 3 * time.Millisecond,
			Stages: map[string]*pipeline.StageMetrics{
				"run_ema": {Executions: 1, ErrorCount: 2, CacheHits: 3},
			},
		},
	}
	m.ObserveRun(run)

	if got := testutil.ToFloat64(m.RunsTotal) - runsBefore; got != 1 {
		t.Errorf("RunsTotal delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResultsTotal.WithLabelValues("run_ema")); got != 5 {
		t.Errorf("ResultsTotal[run_ema] = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.StageErrorsTotal.WithLabelValues("run_ema")); got != 2 {
		t.Errorf("StageErrorsTotal[run_ema] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("run_ema")); got != 3 {
		t.Errorf("CacheHitsTotal[run_ema] = %v, want 3", got)
	}
}

func TestObserve_NilSafe(t *testing.T) {
	m := testMetrics
	runsBefore := testutil.ToFloat64(m.RunsTotal)

	m.ObserveTick(nil, time.Millisecond)
	m.ObserveRun(nil)

	if got := testutil.ToFloat64(m.RunsTotal) - runsBefore; got != 0 {
		t.Errorf("RunsTotal delta after nil ObserveRun = %v, want 0", got)
	}
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()

	// Fresh status: no feed, no pipeline.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 503 {
		t.Fatalf("fresh status code = %d, want 503", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("fresh status = %v, want unhealthy", body["status"])
	}

	h.SetFeedConnected(true)
	h.SetPipelineOK(true)
	h.SetStages([]string{"sma", "rsi"})
	h.SetLastCandleTime(time.Now())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("recovered status code = %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("recovered status = %v, want healthy", body["status"])
	}
	if body["candle_age"] == "" {
		t.Error("candle_age empty after SetLastCandleTime")
	}
	stages, ok := body["stages"].([]any)
	if !ok || len(stages) != 2 {
		t.Errorf("stages = %v, want 2 entries", body["stages"])
	}
}
