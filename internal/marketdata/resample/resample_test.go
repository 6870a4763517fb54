package resample

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// makeCandle creates a test base candle at the given Unix second.
func makeCandle(symbol string, unixSec int64, open, high, low, close_, vol int64) model.Candle {
	return model.Candle{
		Symbol: symbol,
		TS:     time.Unix(unixSec, 0).UTC(),
		Open:   decimal.NewFromInt(open),
		High:   decimal.NewFromInt(high),
		Low:    decimal.NewFromInt(low),
		Close:  decimal.NewFromInt(close_),
		Volume: decimal.NewFromInt(vol),
	}
}

func wantInt(t *testing.T, name string, got decimal.Decimal, want int64) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Errorf("%s: expected %d, got %s", name, want, got)
	}
}

func TestResampler_60s(t *testing.T) {
	r := New([]int{60})
	r.StaleTolerance = 0 // disable for tests with historical timestamps
	outCh := make(chan Resampled, 100)

	// Feed 60 1s candles (second 0 to 59), all in one bucket, then one
	// candle in second 60 to trigger finalization.
	baseTS := int64(1700000000)
	baseTS = baseTS - (baseTS % 60)

	for i := int64(0); i < 60; i++ {
		r.ProcessOne(makeCandle("SBIN", baseTS+i, 500+i, 510+i, 490+i, 505+i, 100), outCh)
	}

	// Nothing emitted until the bucket closes
	if len(outCh) != 0 {
		t.Fatalf("expected no emission before bucket close, got %d", len(outCh))
	}

	// Trigger new bucket
	r.ProcessOne(makeCandle("SBIN", baseTS+60, 600, 610, 590, 605, 100), outCh)

	if len(outCh) != 1 {
		t.Fatalf("expected exactly 1 finalized candle, got %d", len(outCh))
	}
	rc := <-outCh
	if rc.Interval != 60 {
		t.Errorf("expected interval=60, got %d", rc.Interval)
	}
	c := rc.Candle
	if c.Symbol != "SBIN" {
		t.Errorf("expected symbol=SBIN, got %s", c.Symbol)
	}
	if !c.TS.Equal(time.Unix(baseTS, 0).UTC()) {
		t.Errorf("expected ts=%v, got %v", time.Unix(baseTS, 0).UTC(), c.TS)
	}
	wantInt(t, "open", c.Open, 500)
	wantInt(t, "close", c.Close, 564) // 505 + 59
	wantInt(t, "high", c.High, 569)   // 510 + 59
	wantInt(t, "low", c.Low, 490)
	wantInt(t, "volume", c.Volume, 6000) // 60 * 100
}

func TestResampler_MultipleIntervals(t *testing.T) {
	r := New([]int{60, 300}) // 1m and 5m
	r.StaleTolerance = 0
	outCh := make(chan Resampled, 1000)

	baseTS := int64(1700000000)
	baseTS = baseTS - (baseTS % 300) // align to 5m boundary

	// Feed 300 candles (5 minutes worth)
	for i := int64(0); i < 300; i++ {
		r.ProcessOne(makeCandle("RELIANCE", baseTS+i, 2000, 2100, 1900, 2050, 10), outCh)
	}

	// Trigger new bucket for both intervals
	r.ProcessOne(makeCandle("RELIANCE", baseTS+300, 2100, 2200, 2000, 2150, 10), outCh)

	var candles1m, candles5m []model.Candle
	for len(outCh) > 0 {
		rc := <-outCh
		switch rc.Interval {
		case 60:
			candles1m = append(candles1m, rc.Candle)
		case 300:
			candles5m = append(candles5m, rc.Candle)
		}
	}

	if len(candles1m) != 5 {
		t.Errorf("expected 5 finalized 1m candles, got %d", len(candles1m))
	}
	if len(candles5m) != 1 {
		t.Errorf("expected 1 finalized 5m candle, got %d", len(candles5m))
	}

	// Verify the 5m candle has all 300 base candles merged
	if len(candles5m) > 0 {
		wantInt(t, "5m volume", candles5m[0].Volume, 3000)
		wantInt(t, "5m high", candles5m[0].High, 2100)
		wantInt(t, "5m low", candles5m[0].Low, 1900)
	}
}

func TestResampler_MultiSymbol(t *testing.T) {
	r := New([]int{60})
	r.StaleTolerance = 0
	outCh := make(chan Resampled, 100)

	baseTS := int64(1700000000)
	baseTS = baseTS - (baseTS % 60)

	// Two symbols in the same bucket
	for i := int64(0); i < 60; i++ {
		r.ProcessOne(makeCandle("A", baseTS+i, 100, 110, 90, 105, 1), outCh)
		r.ProcessOne(makeCandle("B", baseTS+i, 200, 210, 190, 205, 2), outCh)
	}

	// Trigger flush for both
	r.ProcessOne(makeCandle("A", baseTS+60, 100, 110, 90, 105, 1), outCh)
	r.ProcessOne(makeCandle("B", baseTS+60, 200, 210, 190, 205, 2), outCh)

	symbols := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case rc := <-outCh:
			symbols[rc.Candle.Symbol] = true
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}

	if !symbols["A"] || !symbols["B"] {
		t.Errorf("expected candles for both A and B, got %v", symbols)
	}
}

func TestResampler_RunFlushesOnInputClose(t *testing.T) {
	r := New([]int{60})
	r.StaleTolerance = 0
	candleCh := make(chan model.Candle, 100)
	outCh := make(chan Resampled, 100)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), candleCh, outCh)
		close(done)
	}()

	baseTS := int64(1700000000)
	baseTS = baseTS - (baseTS % 60)

	// Partial bucket only
	for i := int64(0); i < 30; i++ {
		candleCh <- makeCandle("T", baseTS+i, 100, 110, 90, 105, 1)
	}
	close(candleCh)
	<-done

	if len(outCh) != 1 {
		t.Fatalf("expected 1 flushed candle on input close, got %d", len(outCh))
	}
	rc := <-outCh
	wantInt(t, "flushed volume", rc.Candle.Volume, 30)
}

func TestResampler_RunCancelAbandonsPartialBuckets(t *testing.T) {
	r := New([]int{60})
	r.StaleTolerance = 0
	candleCh := make(chan model.Candle, 100)
	outCh := make(chan Resampled, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, candleCh, outCh)
		close(done)
	}()

	baseTS := int64(1700000000)
	baseTS = baseTS - (baseTS % 60)

	for i := int64(0); i < 30; i++ {
		candleCh <- makeCandle("T", baseTS+i, 100, 110, 90, 105, 1)
	}

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if len(outCh) != 0 {
		t.Fatalf("cancel must not emit partial buckets, got %d", len(outCh))
	}
}

func TestResampler_PartialBucket_NoEmit(t *testing.T) {
	r := New([]int{60})
	r.StaleTolerance = 0
	outCh := make(chan Resampled, 100)

	baseTS := int64(1700000000)
	baseTS = baseTS - (baseTS % 60)

	// Only 30 candles, no bucket close
	for i := int64(0); i < 30; i++ {
		r.ProcessOne(makeCandle("X", baseTS+i, 100, 110, 90, 105, 1), outCh)
	}

	if len(outCh) != 0 {
		t.Fatalf("partial bucket must not emit, got %d candles", len(outCh))
	}

	// An explicit flush emits it
	r.Flush(outCh)
	if len(outCh) != 1 {
		t.Fatalf("expected 1 candle after flush, got %d", len(outCh))
	}
}

func TestResampler_HookCountsFinalized(t *testing.T) {
	r := New([]int{60})
	r.StaleTolerance = 0
	outCh := make(chan Resampled, 100)

	finalized := 0
	r.OnResampled = func(Resampled) { finalized++ }

	baseTS := int64(1700000000)
	baseTS = baseTS - (baseTS % 60)

	for i := int64(0); i < 121; i++ {
		r.ProcessOne(makeCandle("S", baseTS+i, 100, 110, 90, 105, 1), outCh)
	}

	// Two full buckets closed; the third is still forming.
	if finalized != 2 {
		t.Errorf("expected 2 finalized candles via hook, got %d", finalized)
	}
}
