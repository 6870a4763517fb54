package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/pipeline"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	// Stream trimming: ~3h of 1s ticks + buffer
	resultStreamMaxLen = 12000
	defaultLatestTTL   = 30 * time.Minute
)

// ResultMessage is the wire envelope for one stage result. Decimals
// marshal as JSON strings, so consumers see exact values.
type ResultMessage struct {
	PipelineID string                     `json:"pipeline_id"`
	StageID    string                     `json:"stage_id"`
	Value      decimal.Decimal            `json:"value"`
	Values     map[string]decimal.Decimal `json:"values,omitempty"`
	TS         time.Time                  `json:"ts"`
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes candles and stage results to Redis Streams, latest keys,
// and pubsub channels.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// WriteTick writes one tick's stage results in a single pipelined
// roundtrip: XADD + SET latest + PUBLISH per stage. Stages still warming
// up (nil result) are skipped.
func (w *Writer) WriteTick(ctx context.Context, pipelineID string, tick *pipeline.TickResult) error {
	msgs := BuildMessages(pipelineID, tick)
	return w.writeMessages(ctx, msgs)
}

// BuildMessages converts a tick's non-nil stage results into wire envelopes.
func BuildMessages(pipelineID string, tick *pipeline.TickResult) []ResultMessage {
	if tick == nil || len(tick.Results) == 0 {
		return nil
	}
	msgs := make([]ResultMessage, 0, len(tick.Results))
	for stageID, res := range tick.Results {
		if res == nil {
			continue
		}
		msgs = append(msgs, ResultMessage{
			PipelineID: pipelineID,
			StageID:    stageID,
			Value:      res.Value,
			Values:     res.Values,
			TS:         res.TS,
		})
	}
	return msgs
}

func (w *Writer) writeMessages(ctx context.Context, msgs []ResultMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range msgs {
		msg := &msgs[i]
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[redis] marshal result %s: %v", msg.StageID, err)
			continue
		}
		jsonData := string(data)

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ResultStreamKey(msg.PipelineID, msg.StageID),
			MaxLen: resultStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, ResultLatestKey(msg.PipelineID, msg.StageID), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, ResultPubSubChannel(msg.PipelineID, msg.StageID), jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis result pipeline (%d stages): %w", len(msgs), err)
	}
	return nil
}

// WriteCandle writes one candle in a single pipelined roundtrip:
// SET latest + XADD + PUBLISH.
func (w *Writer) WriteCandle(ctx context.Context, interval int, candle model.Candle) error {
	jsonData := string(candle.JSON())

	// Proportional MAXLEN: ~3h of candles at this interval.
	maxLen := int64(10800/interval) + 100
	if maxLen < 200 {
		maxLen = 200
	}

	pipe := w.client.Pipeline()
	pipe.Set(ctx, CandleLatestKey(interval, candle.Symbol), jsonData, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: CandleStreamKey(interval, candle.Symbol),
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, CandlePubSubChannel(interval, candle.Symbol), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis candle pipeline %s: %w", candle.Symbol, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
