package pipeline

import (
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

// Aggregator reduces a run's per-stage results into the run-level
// aggregate. The default is the identity reduction, an empty list.
type Aggregator func(map[string][]model.IndicatorResult) []model.IndicatorResult

func defaultAggregator(map[string][]model.IndicatorResult) []model.IndicatorResult {
	return []model.IndicatorResult{}
}

// SummaryAggregator reduces each stage's series to a single descriptive
// result with count, mean, min, max and sample standard deviation
// components. Stages appear in id order; stages with no results are
// skipped. Statistics run at the float boundary and are rounded back to
// the engine precision.
func SummaryAggregator(stageResults map[string][]model.IndicatorResult) []model.IndicatorResult {
	ids := make([]string, 0, len(stageResults))
	for id := range stageResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.IndicatorResult, 0, len(ids))
	for _, id := range ids {
		rs := stageResults[id]
		if len(rs) == 0 {
			continue
		}
		vals := make([]float64, len(rs))
		for i, r := range rs {
			vals[i], _ = r.Value.Float64()
		}
		sort.Float64s(vals)

		sd := 0.0
		if len(vals) > 1 {
			sd = stat.StdDev(vals, nil)
		}
		components := map[string]decimal.Decimal{
			"count":  decimal.NewFromInt(int64(len(vals))),
			"mean":   round(stat.Mean(vals, nil)),
			"min":    round(vals[0]),
			"max":    round(vals[len(vals)-1]),
			"stddev": round(sd),
		}
		out = append(out, model.IndicatorResult{
			Value:    components["mean"],
			Values:   components,
			TS:       rs[len(rs)-1].TS,
			Metadata: map[string]any{"stage": id, "samples": len(vals)},
		})
	}
	return out
}

func round(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(indicator.ResultPrecision)
}
