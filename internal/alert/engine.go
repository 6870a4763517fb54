package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ta-enginev1/internal/pipeline"
)

// Op is the comparison a rule applies between a stage value and its
// threshold.
type Op string

const (
	// OpGreaterThan fires when the value moves above the threshold.
	// It re-arms once the value falls back to or below the threshold.
	OpGreaterThan Op = "gt"
	// OpLessThan fires when the value moves below the threshold.
	// It re-arms once the value rises back to or above the threshold.
	OpLessThan Op = "lt"
	// OpCross fires whenever the value crosses the threshold in either
	// direction. Needs one prior value before it can fire.
	OpCross Op = "cross"
)

// Rule describes one condition evaluated against a pipeline stage's
// output on every streaming tick.
type Rule struct {
	Name      string
	Stage     string
	Component string // key within a composite result's values, empty for the primary value
	Op        Op
	Threshold decimal.Decimal
	Level     AlertLevel
}

// Validate checks that the rule is well formed.
func (r Rule) Validate() error {
	if r.Stage == "" {
		return errors.New("alert: rule stage is required")
	}
	switch r.Op {
	case OpGreaterThan, OpLessThan, OpCross:
	default:
		return fmt.Errorf("alert: rule %q: unknown op %q", r.Name, r.Op)
	}
	return nil
}

func (r Rule) target() string {
	if r.Component != "" {
		return r.Stage + "." + r.Component
	}
	return r.Stage
}

// ruleState tracks where a rule's watched value sits relative to its
// threshold so each rule fires once per transition, not once per tick.
type ruleState struct {
	prev   decimal.Decimal
	ready  bool
	active bool
}

// Engine evaluates a fixed set of rules against streaming tick results
// and fans fired alerts out to all configured notifiers.
type Engine struct {
	rules     []Rule
	states    []ruleState
	notifiers []Notifier
	log       *slog.Logger
	alertCh   chan Alert

	// OnFire is called synchronously for every alert Run fires (optional).
	OnFire func(a Alert)
}

// NewEngine creates a rule engine. Rules are validated up front so a
// bad rule fails at startup rather than silently never firing.
func NewEngine(logger *slog.Logger, rules []Rule, notifiers ...Notifier) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if len(notifiers) == 0 {
		notifiers = []Notifier{&LogNotifier{}}
	}
	return &Engine{
		rules:     rules,
		states:    make([]ruleState, len(rules)),
		notifiers: notifiers,
		log:       logger,
		alertCh:   make(chan Alert, 64),
	}, nil
}

// Run consumes tick results and dispatches alerts until ctx is
// cancelled or the channel is closed. Evaluation stays on this
// goroutine; delivery happens on a separate one so a slow notifier
// never stalls the pipeline.
func (e *Engine) Run(ctx context.Context, ticks <-chan *pipeline.TickResult) {
	go e.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			for _, a := range e.Evaluate(tick) {
				if e.OnFire != nil {
					e.OnFire(a)
				}
				select {
				case e.alertCh <- a:
				default:
					e.log.Warn("alert queue full, dropping", "title", a.Title)
				}
			}
		}
	}
}

// Evaluate steps every rule with one tick's stage results and returns
// the alerts that fired. Stages missing from the tick leave their
// rules' state untouched.
func (e *Engine) Evaluate(tick *pipeline.TickResult) []Alert {
	if tick == nil {
		return nil
	}
	var fired []Alert
	for i := range e.rules {
		r := &e.rules[i]
		value, ts, ok := ruleValue(*r, tick)
		if !ok {
			continue
		}
		if a, ok := e.states[i].step(*r, value, ts); ok {
			fired = append(fired, a)
		}
	}
	return fired
}

func (e *Engine) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-e.alertCh:
			e.deliver(ctx, a)
		}
	}
}

// deliver sends one alert to every notifier. A failing notifier is
// logged and skipped, the rest still receive the alert.
func (e *Engine) deliver(ctx context.Context, a Alert) {
	for _, n := range e.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := n.Send(sendCtx, a); err != nil {
			e.log.Warn("alert delivery failed", "title", a.Title, "error", err)
		}
		cancel()
	}
}

func ruleValue(r Rule, tick *pipeline.TickResult) (decimal.Decimal, time.Time, bool) {
	res, ok := tick.Results[r.Stage]
	if !ok || res == nil {
		return decimal.Decimal{}, time.Time{}, false
	}
	if r.Component != "" {
		v, ok := res.Values[r.Component]
		return v, res.TS, ok
	}
	return res.Value, res.TS, true
}

func (s *ruleState) step(r Rule, value decimal.Decimal, ts time.Time) (Alert, bool) {
	prev, ready := s.prev, s.ready
	s.prev = value
	s.ready = true

	switch r.Op {
	case OpGreaterThan:
		if value.GreaterThan(r.Threshold) {
			if !s.active {
				s.active = true
				return makeAlert(r, value, ts, "above"), true
			}
		} else {
			s.active = false
		}
	case OpLessThan:
		if value.LessThan(r.Threshold) {
			if !s.active {
				s.active = true
				return makeAlert(r, value, ts, "below"), true
			}
		} else {
			s.active = false
		}
	case OpCross:
		if !ready {
			return Alert{}, false
		}
		if prev.LessThanOrEqual(r.Threshold) && value.GreaterThan(r.Threshold) {
			return makeAlert(r, value, ts, "crossed above"), true
		}
		if prev.GreaterThanOrEqual(r.Threshold) && value.LessThan(r.Threshold) {
			return makeAlert(r, value, ts, "crossed below"), true
		}
	}
	return Alert{}, false
}

func makeAlert(r Rule, value decimal.Decimal, ts time.Time, what string) Alert {
	level := r.Level
	if level == "" {
		level = AlertInfo
	}
	name := r.Name
	if name == "" {
		name = r.target()
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Alert{
		Level:   level,
		Rule:    name,
		Title:   fmt.Sprintf("%s %s %s", name, what, r.Threshold.String()),
		Message: fmt.Sprintf("%s is %s, threshold %s (%s)", r.target(), value.String(), r.Threshold.String(), what),
		Stage:   r.Stage,
		Value:   value.String(),
		TS:      ts,
	}
}
