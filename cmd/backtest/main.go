// cmd/backtest runs a pipeline over historical candles from SQLite to
// validate indicator output without live market data.
//
// Usage:
//
//	go run ./cmd/backtest --symbol=RELIANCE --interval=60 --from=0
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"ta-enginev1/config"
	"ta-enginev1/internal/pipeline"
	sqlitestore "ta-enginev1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	pipelineFile := flag.String("pipeline", "config/pipeline.yaml", "Pipeline YAML definition")
	symbol := flag.String("symbol", "RELIANCE", "Symbol to run over")
	interval := flag.Int("interval", 60, "Candle interval in seconds")
	from := flag.Int64("from", 0, "Unix timestamp to start from (0=all)")
	to := flag.Int64("to", 0, "Unix timestamp to stop at (0=now)")
	save := flag.Bool("save", false, "Persist stage results back to SQLite")
	tail := flag.Int("tail", 3, "Per-stage trailing results to print (0=none)")
	flag.Parse()

	spec, err := config.LoadPipelineSpec(*pipelineFile)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	pipe, err := spec.Build()
	if err != nil {
		log.Fatalf("[backtest] pipeline build failed: %v", err)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	end := *to
	if end == 0 {
		end = time.Now().Unix()
	}
	candles, err := reader.ReadCandles(*symbol, *interval, *from, end)
	if err != nil {
		log.Fatalf("[backtest] read candles: %v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("[backtest] no candles for %s at %ds in the requested range", *symbol, *interval)
	}
	log.Printf("[backtest] pipeline %q: %d stages, %d candles (%s at %ds)",
		pipe.ID(), len(pipe.Stages()), len(candles), *symbol, *interval)

	started := time.Now()
	run, err := pipe.Execute(candles)
	if err != nil {
		log.Fatalf("[backtest] execution failed: %v", err)
	}
	elapsed := time.Since(started)

	printStageTable(pipe, run)
	if *tail > 0 {
		printTails(pipe, run, *tail)
	}

	if *save {
		writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[backtest] sqlite open for save failed: %v", err)
		}
		if err := writer.SaveResults(pipe.ID(), run.StageResults); err != nil {
			log.Fatalf("[backtest] save results: %v", err)
		}
		writer.Close()
		log.Printf("[backtest] results saved under pipeline id %q", pipe.ID())
	}

	totalResults := 0
	for _, results := range run.StageResults {
		totalResults += len(results)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles processed: %-16d ║\n", len(candles))
	fmt.Printf("║  Stage results:     %-16d ║\n", totalResults)
	fmt.Printf("║  Stage errors:      %-16d ║\n", len(run.Errors))
	fmt.Printf("║  Wall time:         %-16s ║\n", elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
}

func printStageTable(pipe *pipeline.Pipeline, run *pipeline.RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Stage", "Indicator", "Results", "Last Value", "Errors", "Cache Hits", "Duration"})

	for _, id := range pipe.ExecutionOrder() {
		st, _ := pipe.Stage(id)
		results := run.StageResults[id]
		last := "-"
		if n := len(results); n > 0 {
			last = results[n-1].Value.StringFixed(4)
		}
		errCount, cacheHits, dur := 0, 0, time.Duration(0)
		if sm := run.Metrics.Stages[id]; sm != nil {
			errCount, cacheHits, dur = sm.ErrorCount, sm.CacheHits, sm.Duration
		}
		t.AppendRow(table.Row{id, st.Indicator.Name(), len(results), last, errCount, cacheHits, dur.Round(time.Microsecond)})
	}
	t.AppendFooter(table.Row{"", "", "", "", len(run.Errors), "", run.Metrics.TotalProcessingTime.Round(time.Microsecond)})
	t.Render()

	for _, stageErr := range run.Errors {
		log.Printf("[backtest] stage error: %v", stageErr)
	}
}

func printTails(pipe *pipeline.Pipeline, run *pipeline.RunResult, tail int) {
	for _, id := range pipe.ExecutionOrder() {
		results := run.StageResults[id]
		if len(results) == 0 {
			continue
		}
		start := len(results) - tail
		if start < 0 {
			start = 0
		}
		fmt.Printf("\n%s (last %d):\n", id, len(results)-start)
		for _, r := range results[start:] {
			if len(r.Values) > 0 {
				fmt.Printf("  [%s] %s  %v\n", r.TS.Format("2006-01-02 15:04:05"), r.Value.StringFixed(4), componentString(r.Values))
			} else {
				fmt.Printf("  [%s] %s\n", r.TS.Format("2006-01-02 15:04:05"), r.Value.StringFixed(4))
			}
		}
	}
}

func componentString(values map[string]decimal.Decimal) string {
	parts := make([]string, 0, len(values))
	for _, k := range sortedKeys(values) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, values[k].StringFixed(4)))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(values map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
