package redis

import "fmt"

// Key space:
//
//	candle:<interval>s:<symbol>          stream of finalized candles
//	candle:<interval>s:latest:<symbol>   latest candle, 30m TTL
//	pub:candle:<interval>s:<symbol>      pubsub channel for live candles
//	res:<pipeline>:<stage>               stream of stage results
//	res:latest:<pipeline>:<stage>        latest stage result, 30m TTL
//	res:pub:<pipeline>:<stage>           pubsub channel for live results

// CandleStreamKey returns the stream key for candles at the given interval.
func CandleStreamKey(interval int, symbol string) string {
	return fmt.Sprintf("candle:%ds:%s", interval, symbol)
}

// CandleLatestKey returns the latest-candle key for the given interval.
func CandleLatestKey(interval int, symbol string) string {
	return fmt.Sprintf("candle:%ds:latest:%s", interval, symbol)
}

// CandlePubSubChannel returns the pubsub channel for live candles.
func CandlePubSubChannel(interval int, symbol string) string {
	return fmt.Sprintf("pub:candle:%ds:%s", interval, symbol)
}

// ResultStreamKey returns the stream key for one stage's results.
func ResultStreamKey(pipelineID, stageID string) string {
	return fmt.Sprintf("res:%s:%s", pipelineID, stageID)
}

// ResultLatestKey returns the latest-result key for one stage.
func ResultLatestKey(pipelineID, stageID string) string {
	return fmt.Sprintf("res:latest:%s:%s", pipelineID, stageID)
}

// ResultPubSubChannel returns the pubsub channel for one stage's results.
func ResultPubSubChannel(pipelineID, stageID string) string {
	return fmt.Sprintf("res:pub:%s:%s", pipelineID, stageID)
}
