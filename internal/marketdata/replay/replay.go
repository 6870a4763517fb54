// Package replay provides a candle replayer that reads historical data from
// a candle store and emits it at configurable speed, so streaming pipelines
// can be driven from recorded history instead of a live feed.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"ta-enginev1/internal/model"
)

// Replayer reads historical candles and replays them at a configurable
// speed multiplier.
type Replayer struct {
	reader model.CandleReader
}

// New creates a Replayer backed by a candle reader.
func New(reader model.CandleReader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays all candles for the given symbols at one interval, emitting
// them into outCh in timestamp order.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast
// as possible. fromTS filters candles to those strictly after this Unix
// timestamp (0 = all), matching the resume semantics of the store.
func (r *Replayer) Run(ctx context.Context, symbols []string, interval int, fromTS int64, speed float64, outCh chan<- model.Candle) error {
	// Collect all candles across symbols, sorted by time
	var allCandles []model.Candle
	for _, symbol := range symbols {
		candles, err := r.reader.ReadAllCandles(symbol, interval, fromTS)
		if err != nil {
			return err
		}
		allCandles = append(allCandles, candles...)
	}

	if len(allCandles) == 0 {
		log.Println("[replay] no candles found in store")
		return nil
	}

	// Per-symbol reads are already ordered; a stable sort merges them
	// without reshuffling equal timestamps across symbols.
	sort.SliceStable(allCandles, func(i, j int) bool {
		return allCandles[i].TS.Before(allCandles[j].TS)
	})

	log.Printf("[replay] loaded %d candles across %d symbols, speed=%.1fx",
		len(allCandles), len(symbols), speed)

	var prevTS time.Time
	emitted := 0

	for _, c := range allCandles {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		default:
		}

		// Simulate time gaps between candles
		if speed > 0 && !prevTS.IsZero() {
			gap := c.TS.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = c.TS

		select {
		case outCh <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}
