package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// DefaultCacheSize bounds the cache a pipeline creates for itself when
// caching is enabled without an injected cache.
const DefaultCacheSize = 128

// Cache memoizes batch stage results, keyed by pipeline, stage, params
// and a digest of the stage's effective input. Entries keep insertion
// order, so eviction drops the oldest once capacity is reached. Safe for
// concurrent use by parallel stage workers.
type Cache struct {
	mu       sync.Mutex
	entries  *linkedhashmap.Map
	capacity int
}

// NewCache creates a cache holding at most capacity entries.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = DefaultCacheSize
	}
	return &Cache{entries: linkedhashmap.New(), capacity: capacity}
}

// Get returns the memoized results for key.
func (c *Cache) Get(key string) ([]model.IndicatorResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]model.IndicatorResult), true
}

// Put stores results under key, evicting the oldest entry when full.
func (c *Cache) Put(key string, results []model.IndicatorResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries.Get(key); ok {
		c.entries.Put(key, results)
		return
	}
	if c.entries.Size() >= c.capacity {
		it := c.entries.Iterator()
		if it.First() {
			c.entries.Remove(it.Key())
		}
	}
	c.entries.Put(key, results)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Size()
}

// cacheKey identifies one stage computation over one input series.
func (p *Pipeline) cacheKey(st Stage, input []model.Candle) string {
	return fmt.Sprintf("%s|%s|%s|%d|%x", p.id, st.ID, paramsFingerprint(st.Params), len(input), seriesDigest(input))
}

func paramsFingerprint(params map[string]any) string {
	if len(params) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, ",")
}

// seriesDigest hashes every field of every candle so that two series
// differing anywhere produce different keys.
func seriesDigest(data []model.Candle) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for i := range data {
		binary.LittleEndian.PutUint64(buf[:], uint64(data[i].TS.UnixNano()))
		h.Write(buf[:])
		for _, d := range [5]decimal.Decimal{
			data[i].Open, data[i].High, data[i].Low, data[i].Close, data[i].Volume,
		} {
			f, _ := d.Float64()
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}
