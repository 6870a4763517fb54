package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	store "ta-enginev1/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the WS endpoint and REST routes on the mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	rdb := hub.Rdb

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		lastTS := r.URL.Query().Get("last_ts")
		hub.HandleWSRequest(conn, lastTS)
	})

	// REST: latest payload on every channel.
	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetLatestAll())
	})

	// REST: available candle intervals.
	mux.HandleFunc("/api/intervals", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		list := make([]IntervalInfo, len(hub.Intervals))
		for i, interval := range hub.Intervals {
			list[i] = IntervalInfo{Seconds: interval, Label: IntervalLabel(interval)}
		}
		json.NewEncoder(w).Encode(list)
	})

	// REST: historical candles from Redis streams, chronological order.
	// Payloads are passed through as stored, so decimal strings survive.
	mux.HandleFunc("/api/candles", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		symbol := r.URL.Query().Get("symbol")
		if symbol == "" && len(hub.Symbols) > 0 {
			symbol = hub.Symbols[0]
		}
		interval := queryInt(r, "interval", 60)
		limit := clampLimit(queryInt(r, "limit", 200))

		streamKey := store.CandleStreamKey(interval, symbol)
		json.NewEncoder(w).Encode(readStreamHistory(r.Context(), rdb, streamKey, beforeBound(r), limit))
	})

	// REST: historical stage results from Redis streams.
	mux.HandleFunc("/api/results", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		stage := r.URL.Query().Get("stage")
		if stage == "" {
			json.NewEncoder(w).Encode([]json.RawMessage{})
			return
		}
		pipelineID := r.URL.Query().Get("pipeline")
		if pipelineID == "" {
			pipelineID = hub.PipelineID
		}
		limit := clampLimit(queryInt(r, "limit", 300))

		streamKey := store.ResultStreamKey(pipelineID, stage)
		json.NewEncoder(w).Encode(readStreamHistory(r.Context(), rdb, streamKey, beforeBound(r), limit))
	})

	// REST: replay-buffer backfill for a channel_seq gap.
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		channel := r.URL.Query().Get("channel")
		from := int64(queryInt(r, "from", 0))
		to := int64(queryInt(r, "to", 0))
		if channel == "" || from <= 0 || to < from {
			http.Error(w, `{"error":"channel, from and to are required"}`, http.StatusBadRequest)
			return
		}

		raw := hub.GetReplayRange(channel, from, to)
		envelopes := make([]json.RawMessage, len(raw))
		for i, e := range raw {
			envelopes[i] = e
		}
		json.NewEncoder(w).Encode(MissedOut{
			Channel:   channel,
			From:      from,
			To:        to,
			Latest:    hub.GetChannelSeq(channel),
			Envelopes: envelopes,
		})
	})

	// REST: system metrics snapshot.
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		m := CollectMetrics(processStart)
		if hub.Latency != nil {
			m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
		}
		json.NewEncoder(w).Encode(m)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		redisOK := true
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			redisOK = false
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"redis":      redisOK,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// readStreamHistory reads up to limit entries below upperBound from a
// stream and returns their payloads in chronological order.
func readStreamHistory(ctx context.Context, rdb *goredis.Client, streamKey, upperBound string, limit int) []json.RawMessage {
	msgs, err := rdb.XRevRangeN(ctx, streamKey, upperBound, "-", int64(limit)).Result()
	if err != nil {
		return []json.RawMessage{}
	}

	// XREVRANGE returns newest first; reverse to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	out := make([]json.RawMessage, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok || !json.Valid([]byte(data)) {
			continue
		}
		out = append(out, json.RawMessage(data))
	}
	return out
}

// beforeBound converts an optional ?before=RFC3339 query into a stream
// upper bound, defaulting to "+".
func beforeBound(r *http.Request) string {
	beforeStr := r.URL.Query().Get("before")
	if beforeStr == "" {
		return "+"
	}
	if t, err := time.Parse(time.RFC3339Nano, beforeStr); err == nil {
		return strconv.FormatInt(t.UnixMilli()-1, 10) + "-0"
	}
	if t, err := time.Parse(time.RFC3339, beforeStr); err == nil {
		return strconv.FormatInt(t.UnixMilli()-1, 10) + "-0"
	}
	return "+"
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func clampLimit(n int) int {
	if n > 1000 {
		return 1000
	}
	return n
}
