package config

import (
	"strings"
	"testing"

	"ta-enginev1/internal/alert"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/pipeline"
)

const sampleYAML = `
id: momentum
execution_mode: parallel
error_handling: continue_on_error
parallel_stages: 4
stages:
  - id: sma_fast
    indicator: sma
    params:
      period: 9
  - id: sma_slow
    indicator: sma
    params:
      period: 21
  - id: rsi_main
    indicator: rsi
    params:
      period: 14
  - id: macd_main
    indicator: macd
    params:
      fast_period: 12
      slow_period: 26
      signal_period: 9
    depends_on: [sma_fast]
  - id: atr_high
    indicator: atr
    params:
      period: 14
    input_mapping:
      close: high
alerts:
  - name: rsi_overbought
    stage: rsi_main
    op: gt
    threshold: "70"
    level: WARNING
  - name: macd_flip
    stage: macd_main
    component: histogram
    op: cross
    threshold: "0"
`

func TestParsePipelineSpec(t *testing.T) {
	spec, err := ParsePipelineSpec([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParsePipelineSpec: %v", err)
	}
	if spec.ID != "momentum" {
		t.Errorf("id = %q", spec.ID)
	}
	if len(spec.Stages) != 5 {
		t.Fatalf("stages = %d, want 5", len(spec.Stages))
	}
	if len(spec.Alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(spec.Alerts))
	}
	if spec.Stages[3].DependsOn[0] != "sma_fast" {
		t.Errorf("macd_main depends_on = %v", spec.Stages[3].DependsOn)
	}
}

func TestPipelineSpecBuild(t *testing.T) {
	spec, err := ParsePipelineSpec([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	p, err := spec.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if p.ID() != "momentum" {
		t.Errorf("pipeline id = %q, want momentum", p.ID())
	}
	if p.Mode() != pipeline.Parallel {
		t.Errorf("mode = %q, want parallel", p.Mode())
	}
	if p.ErrorHandling() != pipeline.ContinueOnError {
		t.Errorf("error handling = %q", p.ErrorHandling())
	}
	if len(p.Stages()) != 5 {
		t.Fatalf("built %d stages, want 5", len(p.Stages()))
	}

	macd, ok := p.Stage("macd_main")
	if !ok {
		t.Fatal("macd_main missing from built pipeline")
	}
	if len(macd.DependsOn) != 1 || macd.DependsOn[0] != "sma_fast" {
		t.Errorf("macd_main deps = %v", macd.DependsOn)
	}
	if got := macd.Params["fast_period"]; got != 12 {
		t.Errorf("fast_period = %v (%T), want 12", got, got)
	}

	atr, ok := p.Stage("atr_high")
	if !ok {
		t.Fatal("atr_high missing from built pipeline")
	}
	if atr.InputMapping[model.FieldClose] != model.FieldHigh {
		t.Errorf("input mapping = %v", atr.InputMapping)
	}
}

func TestPipelineSpecBuild_UnknownIndicator(t *testing.T) {
	spec := &PipelineSpec{Stages: []StageSpec{{ID: "x", Indicator: "vwap"}}}
	if _, err := spec.Build(); err == nil {
		t.Fatal("expected error for unregistered indicator")
	} else if !strings.Contains(err.Error(), "vwap") {
		t.Errorf("error does not name the indicator: %v", err)
	}
}

func TestPipelineSpecBuild_BadMode(t *testing.T) {
	spec := &PipelineSpec{
		ExecutionMode: "turbo",
		Stages:        []StageSpec{{ID: "x", Indicator: "sma", Params: map[string]any{"period": 5}}},
	}
	if _, err := spec.Build(); err == nil {
		t.Fatal("expected error for unknown execution_mode")
	}
}

func TestPipelineSpecBuild_BadInputMapping(t *testing.T) {
	spec := &PipelineSpec{
		Stages: []StageSpec{{
			ID:           "x",
			Indicator:    "sma",
			Params:       map[string]any{"period": 5},
			InputMapping: map[string]string{"close": "vwap"},
		}},
	}
	if _, err := spec.Build(); err == nil {
		t.Fatal("expected error for unknown source field")
	}
}

func TestAlertRules(t *testing.T) {
	spec, err := ParsePipelineSpec([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	rules, err := spec.AlertRules()
	if err != nil {
		t.Fatalf("AlertRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}

	first := rules[0]
	if first.Op != alert.OpGreaterThan || first.Stage != "rsi_main" {
		t.Errorf("rule 0 = %+v", first)
	}
	if first.Threshold.String() != "70" {
		t.Errorf("threshold = %s", first.Threshold)
	}
	if first.Level != alert.AlertWarning {
		t.Errorf("level = %q", first.Level)
	}

	second := rules[1]
	if second.Component != "histogram" || second.Op != alert.OpCross {
		t.Errorf("rule 1 = %+v", second)
	}
}

func TestAlertRules_UnknownStage(t *testing.T) {
	spec := &PipelineSpec{
		Stages: []StageSpec{{ID: "rsi_main", Indicator: "rsi"}},
		Alerts: []AlertSpec{{Name: "x", Stage: "nope", Op: "gt", Threshold: "1"}},
	}
	if _, err := spec.AlertRules(); err == nil {
		t.Fatal("expected error for alert on unknown stage")
	}
}

func TestAlertRules_BadThreshold(t *testing.T) {
	spec := &PipelineSpec{
		Stages: []StageSpec{{ID: "rsi_main", Indicator: "rsi"}},
		Alerts: []AlertSpec{{Name: "x", Stage: "rsi_main", Op: "gt", Threshold: "seventy"}},
	}
	if _, err := spec.AlertRules(); err == nil {
		t.Fatal("expected error for unparseable threshold")
	}
}
