package gateway

import "encoding/json"

// IntervalInfo is the REST response type for /api/intervals.
type IntervalInfo struct {
	Seconds int    `json:"seconds"`
	Label   string `json:"label"`
}

// MissedOut is the REST response type for /api/missed. Envelopes are the
// exact payloads the client would have received live.
type MissedOut struct {
	Channel   string            `json:"channel"`
	From      int64             `json:"from"`
	To        int64             `json:"to"`
	Latest    int64             `json:"latest"`
	Envelopes []json.RawMessage `json:"envelopes"`
}
