package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/pipeline"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func tickWith(t *testing.T, stage, value string) *pipeline.TickResult {
	t.Helper()
	return &pipeline.TickResult{
		Results: map[string]*model.IndicatorResult{
			stage: {
				Value: mustDecimal(t, value),
				TS:    time.Unix(1700000000, 0).UTC(),
			},
		},
	}
}

func newTestEngine(t *testing.T, rules ...Rule) *Engine {
	t.Helper()
	eng, err := NewEngine(nil, rules)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{Name: "hot", Stage: "rsi_main", Op: OpGreaterThan, Threshold: decimal.NewFromInt(70)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	noStage := Rule{Name: "x", Op: OpLessThan}
	if err := noStage.Validate(); err == nil {
		t.Fatal("expected error for rule without stage")
	}

	badOp := Rule{Name: "x", Stage: "rsi_main", Op: Op("near")}
	if err := badOp.Validate(); err == nil {
		t.Fatal("expected error for unknown op")
	}

	if _, err := NewEngine(nil, []Rule{badOp}); err == nil {
		t.Fatal("NewEngine should reject invalid rules")
	}
}

func TestEngineGreaterThanFiresOncePerTransition(t *testing.T) {
	eng := newTestEngine(t, Rule{
		Name:      "rsi_overbought",
		Stage:     "rsi_main",
		Op:        OpGreaterThan,
		Threshold: decimal.NewFromInt(70),
		Level:     AlertWarning,
	})

	sequence := []struct {
		value string
		fires bool
	}{
		{"65", false},
		{"72", true},  // crosses above
		{"75", false}, // still above, no repeat
		{"68", false}, // re-arms
		{"71", true},  // fires again
	}

	for i, step := range sequence {
		alerts := eng.Evaluate(tickWith(t, "rsi_main", step.value))
		if got := len(alerts) == 1; got != step.fires {
			t.Fatalf("step %d (value %s): fired=%v, want %v", i, step.value, got, step.fires)
		}
	}
}

func TestEngineLessThan(t *testing.T) {
	eng := newTestEngine(t, Rule{
		Name:      "rsi_oversold",
		Stage:     "rsi_main",
		Op:        OpLessThan,
		Threshold: decimal.NewFromInt(30),
	})

	sequence := []struct {
		value string
		fires bool
	}{
		{"35", false},
		{"28", true},
		{"25", false},
		{"31", false},
		{"29", true},
	}

	for i, step := range sequence {
		alerts := eng.Evaluate(tickWith(t, "rsi_main", step.value))
		if got := len(alerts) == 1; got != step.fires {
			t.Fatalf("step %d (value %s): fired=%v, want %v", i, step.value, got, step.fires)
		}
	}
}

func TestEngineCrossBothDirections(t *testing.T) {
	eng := newTestEngine(t, Rule{
		Name:      "price_level",
		Stage:     "ema_fast",
		Op:        OpCross,
		Threshold: decimal.NewFromInt(100),
	})

	// First observation never fires, even when already past the
	// threshold. There is nothing to cross from.
	if alerts := eng.Evaluate(tickWith(t, "ema_fast", "105")); len(alerts) != 0 {
		t.Fatalf("first tick fired %d alerts, want 0", len(alerts))
	}

	if alerts := eng.Evaluate(tickWith(t, "ema_fast", "104")); len(alerts) != 0 {
		t.Fatalf("no crossing yet, got %d alerts", len(alerts))
	}

	alerts := eng.Evaluate(tickWith(t, "ema_fast", "96"))
	if len(alerts) != 1 {
		t.Fatalf("downward cross fired %d alerts, want 1", len(alerts))
	}
	if alerts[0].Title != "price_level crossed below 100" {
		t.Fatalf("unexpected title %q", alerts[0].Title)
	}

	alerts = eng.Evaluate(tickWith(t, "ema_fast", "101"))
	if len(alerts) != 1 {
		t.Fatalf("upward cross fired %d alerts, want 1", len(alerts))
	}
	if alerts[0].Title != "price_level crossed above 100" {
		t.Fatalf("unexpected title %q", alerts[0].Title)
	}
}

func TestEngineComponentLookup(t *testing.T) {
	eng := newTestEngine(t, Rule{
		Name:      "macd_momentum",
		Stage:     "macd_main",
		Component: "histogram",
		Op:        OpGreaterThan,
		Threshold: decimal.NewFromInt(1),
	})

	tick := &pipeline.TickResult{
		Results: map[string]*model.IndicatorResult{
			"macd_main": {
				Value: mustDecimal(t, "2.5"),
				Values: map[string]decimal.Decimal{
					"macd":      mustDecimal(t, "2.5"),
					"signal":    mustDecimal(t, "1.0"),
					"histogram": mustDecimal(t, "1.5"),
				},
				TS: time.Unix(1700000060, 0).UTC(),
			},
		},
	}

	alerts := eng.Evaluate(tick)
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Value != "1.5" {
		t.Fatalf("alert value = %q, want histogram component 1.5", alerts[0].Value)
	}
	if alerts[0].Stage != "macd_main" {
		t.Fatalf("alert stage = %q", alerts[0].Stage)
	}

	// A tick without the component leaves the rule untouched.
	bare := tickWith(t, "macd_main", "3.0")
	if alerts := eng.Evaluate(bare); len(alerts) != 0 {
		t.Fatalf("missing component fired %d alerts", len(alerts))
	}
}

func TestEngineMissingStageSkips(t *testing.T) {
	eng := newTestEngine(t, Rule{
		Name:      "vol_spike",
		Stage:     "obv_main",
		Op:        OpGreaterThan,
		Threshold: decimal.NewFromInt(1000),
	})

	// Ticks for other stages do not advance this rule's state.
	for i := 0; i < 3; i++ {
		if alerts := eng.Evaluate(tickWith(t, "sma_fast", "99")); len(alerts) != 0 {
			t.Fatalf("unrelated stage fired alerts")
		}
	}

	alerts := eng.Evaluate(tickWith(t, "obv_main", "1500"))
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Level != AlertInfo {
		t.Fatalf("level = %q, want default INFO", alerts[0].Level)
	}
}

type captureNotifier struct {
	mu     sync.Mutex
	calls  int
	alerts []Alert
	err    error
}

func (c *captureNotifier) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureNotifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestEngineDeliverFansOut(t *testing.T) {
	good := &captureNotifier{}
	bad := &captureNotifier{err: errors.New("endpoint down")}

	eng, err := NewEngine(nil, nil, bad, good)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	eng.deliver(context.Background(), Alert{
		Level:   AlertCritical,
		Title:   "test alert",
		Message: "something happened",
	})

	if bad.Calls() != 1 {
		t.Fatalf("failing notifier called %d times, want 1", bad.Calls())
	}
	if good.Calls() != 1 || len(good.alerts) != 1 {
		t.Fatalf("healthy notifier not reached after a failure: calls=%d", good.Calls())
	}
	if good.alerts[0].Title != "test alert" {
		t.Fatalf("delivered title = %q", good.alerts[0].Title)
	}
}

func TestEngineRunConsumesChannel(t *testing.T) {
	sink := &captureNotifier{}
	eng, err := NewEngine(nil, []Rule{{
		Name:      "rsi_overbought",
		Stage:     "rsi_main",
		Op:        OpGreaterThan,
		Threshold: decimal.NewFromInt(70),
	}}, sink)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan *pipeline.TickResult, 4)
	done := make(chan struct{})
	go func() {
		eng.Run(ctx, ticks)
		close(done)
	}()

	ticks <- tickWith(t, "rsi_main", "65")
	ticks <- tickWith(t, "rsi_main", "80")
	close(ticks)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}

	// Delivery runs on the dispatcher goroutine; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for sink.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.Calls() != 1 {
		t.Fatalf("notifier called %d times, want 1", sink.Calls())
	}
}
