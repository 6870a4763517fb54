package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Test doubles and fixtures
// ────────────────────────────────────────────────────────────

var errBoom = errors.New("boom")

// stubIndicator emits the close price once warm. With fail set, every
// calculation and update errors out.
type stubIndicator struct {
	name string
	warm int // candles before the first result, min 1
	fail bool
}

type stubState struct{ count int }

func (s *stubIndicator) Name() string { return s.name }

func (s *stubIndicator) ValidateParams(indicator.Params) error { return nil }

func (s *stubIndicator) RequiredPeriods(indicator.Params) int {
	if s.warm < 1 {
		return 1
	}
	return s.warm
}

func (s *stubIndicator) Calculate(candles []model.Candle, p indicator.Params) ([]model.IndicatorResult, error) {
	if s.fail {
		return nil, errBoom
	}
	required := s.RequiredPeriods(p)
	if len(candles) < required {
		return nil, &indicator.InsufficientDataError{Required: required, Provided: len(candles)}
	}
	st := s.InitState(p)
	out := make([]model.IndicatorResult, 0, len(candles))
	for _, c := range candles {
		var res *model.IndicatorResult
		var err error
		st, res, err = s.UpdateState(st, c)
		if err != nil {
			return nil, err
		}
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, nil
}

func (s *stubIndicator) InitState(indicator.Params) indicator.State { return &stubState{} }

func (s *stubIndicator) UpdateState(st indicator.State, c model.Candle) (indicator.State, *model.IndicatorResult, error) {
	state, ok := st.(*stubState)
	if !ok {
		return st, nil, &indicator.StreamStateError{Operation: s.name + ".update", Reason: "state does not belong to this indicator"}
	}
	if s.fail {
		return state, nil, errBoom
	}
	state.count++
	if state.count < s.RequiredPeriods(nil) {
		return state, nil, nil
	}
	return state, &model.IndicatorResult{Value: c.Close, TS: c.TS, Metadata: map[string]any{"indicator": s.name}}, nil
}

func testSeries(n int) []model.Candle {
	out := make([]model.Candle, n)
	base := time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC)
	price := decimal.RequireFromString("500")
	seed := int64(777)
	for i := 0; i < n; i++ {
		seed = (seed*1103515245 + 12345) % 2147483648
		move := decimal.NewFromInt(seed%120 - 60).Div(decimal.NewFromInt(30))
		price = price.Add(move)
		out[i] = model.Candle{
			Symbol: "TEST",
			TS:     base.Add(time.Duration(i) * time.Minute),
			Open:   price.Sub(move),
			High:   price.Add(decimal.RequireFromString("0.8")),
			Low:    price.Sub(decimal.RequireFromString("0.8")),
			Close:  price,
			Volume: decimal.NewFromInt(seed%3000 + 50),
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Error handling policies
// ────────────────────────────────────────────────────────────

func TestExecute_FailFastAborts(t *testing.T) {
	b := NewBuilder().
		AddStage("ok", &stubIndicator{name: "ok"}, nil).
		AddStage("broken", &stubIndicator{name: "broken", fail: true}, nil).
		AddStage("after", &stubIndicator{name: "after"}, nil)

	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	run, err := p.Execute(testSeries(5))
	if err == nil {
		t.Fatal("expected execute to fail under fail_fast")
	}
	if run != nil {
		t.Error("no result expected on an aborted run")
	}
	var se StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %T", err)
	}
	if se.StageID != "broken" {
		t.Errorf("error names stage %q, want broken", se.StageID)
	}
	if !errors.Is(err, errBoom) {
		t.Error("underlying cause must stay reachable through the chain")
	}
}

func TestExecute_ContinueOnErrorRunsEveryStage(t *testing.T) {
	b := NewBuilder().
		Configure(WithErrorHandling(ContinueOnError)).
		AddStage("broken", &stubIndicator{name: "broken", fail: true}, nil).
		AddStage("dependent", &stubIndicator{name: "dependent"}, nil).
		AddStage("independent", &stubIndicator{name: "independent"}, nil).
		AddDependency("dependent", "broken")

	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	series := testSeries(5)
	run, err := p.Execute(series)
	if err != nil {
		t.Fatalf("continue_on_error must not abort: %v", err)
	}

	if len(run.Errors) != 1 || run.Errors[0].StageID != "broken" {
		t.Fatalf("expected one recorded error for broken, got %v", run.Errors)
	}
	if rs, ok := run.StageResults["broken"]; !ok || len(rs) != 0 {
		t.Errorf("failed stage must record an empty result, got %v (present=%v)", rs, ok)
	}
	// Stages downstream of the failure still run against the dataset.
	if len(run.StageResults["dependent"]) != len(series) {
		t.Errorf("dependent stage did not run: %d results", len(run.StageResults["dependent"]))
	}
	if len(run.StageResults["independent"]) != len(series) {
		t.Errorf("independent stage did not run: %d results", len(run.StageResults["independent"]))
	}
	if run.Metrics.Stages["broken"].ErrorCount != 1 {
		t.Errorf("broken ErrorCount = %d, want 1", run.Metrics.Stages["broken"].ErrorCount)
	}
}

func TestExecute_InsufficientDataSurfaces(t *testing.T) {
	b := NewBuilder().AddStage("sma", mustIndicator(t, "sma"), indicator.Params{"period": 10})
	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Execute(testSeries(4))
	var ide *indicator.InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if ide.Required != 10 || ide.Provided != 4 {
		t.Errorf("reported %d/%d, want 10/4", ide.Required, ide.Provided)
	}
}

// ────────────────────────────────────────────────────────────
// Results, metrics, determinism
// ────────────────────────────────────────────────────────────

func TestExecute_StageResultsAndMetrics(t *testing.T) {
	b := NewBuilder().
		AddStage("fast", mustIndicator(t, "sma"), indicator.Params{"period": 3}).
		AddStage("slow", mustIndicator(t, "sma"), indicator.Params{"period": 5}).
		AddDependency("slow", "fast")

	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	series := testSeries(20)
	run, err := p.Execute(series)
	if err != nil {
		t.Fatal(err)
	}

	if run.PipelineID != p.ID() {
		t.Errorf("run pipeline id %q, want %q", run.PipelineID, p.ID())
	}
	if got := len(run.StageResults["fast"]); got != 18 {
		t.Errorf("fast emitted %d results, want 18", got)
	}
	if got := len(run.StageResults["slow"]); got != 16 {
		t.Errorf("slow emitted %d results, want 16", got)
	}
	if run.Metrics.TotalExecutions != 1 {
		t.Errorf("TotalExecutions = %d, want 1 per run", run.Metrics.TotalExecutions)
	}
	if run.Metrics.TotalProcessingTime < 0 {
		t.Error("negative processing time")
	}
	if run.Metrics.LastExecutionTime.IsZero() {
		t.Error("LastExecutionTime not recorded")
	}
	for _, id := range []string{"fast", "slow"} {
		sm := run.Metrics.Stages[id]
		if sm == nil || sm.Executions != 1 {
			t.Errorf("stage %s Executions = %+v, want 1", id, sm)
		}
	}
	if len(run.Aggregated) != 0 || run.Aggregated == nil {
		t.Errorf("default aggregate must be empty and non-nil, got %v", run.Aggregated)
	}
	if run.Errors != nil {
		t.Errorf("clean run collected errors: %v", run.Errors)
	}
}

func TestExecute_Deterministic(t *testing.T) {
	b := NewBuilder().
		Configure(WithCaching(false)).
		AddStage("sma", mustIndicator(t, "sma"), indicator.Params{"period": 5}).
		AddStage("rsi", mustIndicator(t, "rsi"), indicator.Params{"period": 7}).
		AddStage("boll", mustIndicator(t, "bollinger"), indicator.Params{"period": 6})

	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	series := testSeries(40)

	first, err := p.Execute(series)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, err := p.Execute(series)
		if err != nil {
			t.Fatal(err)
		}
		assertSameStageResults(t, first.StageResults, again.StageResults)
	}
}

func assertSameStageResults(t *testing.T, a, b map[string][]model.IndicatorResult) {
	t.Helper()
	if len(a) != len(b) {
		t.Fatalf("stage sets differ: %d vs %d", len(a), len(b))
	}
	for id, ra := range a {
		rb, ok := b[id]
		if !ok || len(ra) != len(rb) {
			t.Fatalf("stage %s: %d vs %d results", id, len(ra), len(rb))
		}
		for i := range ra {
			if !ra[i].Value.Equal(rb[i].Value) || !ra[i].TS.Equal(rb[i].TS) {
				t.Fatalf("stage %s result %d differs: %s vs %s", id, i, ra[i].Value, rb[i].Value)
			}
			for k, v := range ra[i].Values {
				if !v.Equal(rb[i].Values[k]) {
					t.Fatalf("stage %s result %d component %s differs", id, i, k)
				}
			}
		}
	}
}

func TestExecute_ParallelMatchesSequential(t *testing.T) {
	series := testSeries(40)
	build := func(mode ExecutionMode) *Pipeline {
		b := NewBuilder().
			Configure(WithExecutionMode(mode), WithCaching(false), WithParallelStages(3)).
			AddStage("sma", mustIndicator(t, "sma"), indicator.Params{"period": 5}).
			AddStage("ema", mustIndicator(t, "ema"), indicator.Params{"period": 5}).
			AddStage("rsi", mustIndicator(t, "rsi"), indicator.Params{"period": 7}).
			AddStage("atr", mustIndicator(t, "atr"), indicator.Params{"period": 5}).
			AddStage("combo", mustIndicator(t, "macd"), indicator.Params{"fast_period": 3, "slow_period": 6, "signal_period": 3})
		b.AddDependency("combo", "sma")
		b.AddDependency("combo", "ema")
		p, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		return p
	}

	seq, err := build(Sequential).Execute(series)
	if err != nil {
		t.Fatal(err)
	}
	par, err := build(Parallel).Execute(series)
	if err != nil {
		t.Fatal(err)
	}
	assertSameStageResults(t, seq.StageResults, par.StageResults)
}

func TestExecute_ParallelFailFast(t *testing.T) {
	b := NewBuilder().
		Configure(WithExecutionMode(Parallel), WithParallelStages(2)).
		AddStage("ok", &stubIndicator{name: "ok"}, nil).
		AddStage("broken", &stubIndicator{name: "broken", fail: true}, nil)

	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Execute(testSeries(5))
	var se StageError
	if !errors.As(err, &se) || se.StageID != "broken" {
		t.Fatalf("expected StageError for broken, got %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Input mapping
// ────────────────────────────────────────────────────────────

func TestExecute_InputMappingReadsAlternateField(t *testing.T) {
	series := testSeries(10)
	b := NewBuilder().
		AddStage("close-sma", mustIndicator(t, "sma"), indicator.Params{"period": 10}).
		AddStage("high-sma", mustIndicator(t, "sma"), indicator.Params{"period": 10},
			WithInputMapping(map[model.Field]model.Field{model.FieldClose: model.FieldHigh}))

	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	run, err := p.Execute(series)
	if err != nil {
		t.Fatal(err)
	}

	sum := decimal.Zero
	for _, c := range series {
		sum = sum.Add(c.High)
	}
	wantHigh := sum.Div(decimal.NewFromInt(10)).Round(indicator.ResultPrecision)

	got := run.StageResults["high-sma"][0].Value
	if !got.Equal(wantHigh) {
		t.Errorf("remapped stage = %s, want mean of highs %s", got, wantHigh)
	}
	if got.Equal(run.StageResults["close-sma"][0].Value) {
		t.Error("remapped stage unexpectedly matches the close-based stage")
	}
}

// ────────────────────────────────────────────────────────────
// Caching
// ────────────────────────────────────────────────────────────

func TestExecute_CacheHitsOnRepeatRun(t *testing.T) {
	b := NewBuilder().AddStage("sma", mustIndicator(t, "sma"), indicator.Params{"period": 3})
	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	series := testSeries(10)

	first, err := p.Execute(series)
	if err != nil {
		t.Fatal(err)
	}
	if first.Metrics.Stages["sma"].CacheHits != 0 {
		t.Error("first run cannot hit the cache")
	}

	second, err := p.Execute(series)
	if err != nil {
		t.Fatal(err)
	}
	if second.Metrics.Stages["sma"].CacheHits != 1 {
		t.Errorf("repeat run CacheHits = %d, want 1", second.Metrics.Stages["sma"].CacheHits)
	}
	assertSameStageResults(t, first.StageResults, second.StageResults)
}

func TestExecute_CacheMissOnDifferentData(t *testing.T) {
	b := NewBuilder().AddStage("sma", mustIndicator(t, "sma"), indicator.Params{"period": 3})
	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Execute(testSeries(10)); err != nil {
		t.Fatal(err)
	}
	altered := testSeries(10)
	altered[5].Close = altered[5].Close.Add(decimal.NewFromInt(1))
	run, err := p.Execute(altered)
	if err != nil {
		t.Fatal(err)
	}
	if run.Metrics.Stages["sma"].CacheHits != 0 {
		t.Error("different data must not hit the cache")
	}
}

func TestCache_EvictsOldestBeyondCapacity(t *testing.T) {
	c := NewCache(2)
	c.Put("a", nil)
	c.Put("b", nil)
	c.Put("c", nil)
	if c.Len() != 2 {
		t.Fatalf("cache holds %d entries, capacity 2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry must be evicted first")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newest entry missing")
	}
}

// ────────────────────────────────────────────────────────────
// Aggregator wiring
// ────────────────────────────────────────────────────────────

func TestExecute_SummaryAggregator(t *testing.T) {
	b := NewBuilder().
		Configure(WithAggregator(SummaryAggregator)).
		AddStage("sma", mustIndicator(t, "sma"), indicator.Params{"period": 3})

	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	run, err := p.Execute(testSeries(12))
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Aggregated) != 1 {
		t.Fatalf("expected one summary row, got %d", len(run.Aggregated))
	}
	row := run.Aggregated[0]
	if row.Metadata["stage"] != "sma" {
		t.Errorf("summary stage = %v, want sma", row.Metadata["stage"])
	}
	count, _ := row.Component("count")
	if !count.Equal(decimal.NewFromInt(10)) {
		t.Errorf("summary count = %s, want 10", count)
	}
	for _, comp := range []string{"mean", "min", "max", "stddev"} {
		if _, ok := row.Component(comp); !ok {
			t.Errorf("summary missing %s component", comp)
		}
	}
}
