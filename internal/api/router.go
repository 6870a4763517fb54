// Package api serves the control-plane REST API: the indicator catalog,
// the loaded pipeline description, and latest results. Read-only; the
// pipeline itself is frozen at startup.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/pipeline"
	store "ta-enginev1/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
)

// ParamInfo describes one indicator parameter in the catalog.
type ParamInfo struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Default     any      `json:"default,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Options     []string `json:"options,omitempty"`
	Description string   `json:"description,omitempty"`
}

// IndicatorInfo is one catalog entry.
type IndicatorInfo struct {
	Name          string      `json:"name"`
	WarmupPeriods int         `json:"warmup_periods"`
	Params        []ParamInfo `json:"params"`
}

// StageInfo describes one pipeline stage.
type StageInfo struct {
	ID           string            `json:"id"`
	Indicator    string            `json:"indicator"`
	Params       indicator.Params  `json:"params,omitempty"`
	DependsOn    []string          `json:"depends_on,omitempty"`
	InputMapping map[string]string `json:"input_mapping,omitempty"`
}

// PipelineInfo is the REST response for /api/v1/pipeline.
type PipelineInfo struct {
	ID            string      `json:"id"`
	Mode          string      `json:"mode"`
	ErrorHandling string      `json:"error_handling"`
	Order         []string    `json:"order"`
	Stages        []StageInfo `json:"stages"`
}

// RegisterRoutes registers the control-plane routes on the mux. rdb may
// be nil, in which case /api/v1/results/latest returns 503.
func RegisterRoutes(mux *http.ServeMux, pipe *pipeline.Pipeline, rdb *goredis.Client, start time.Time) {
	mux.HandleFunc("/api/v1/indicators", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if name := r.URL.Query().Get("name"); name != "" {
			ind, ok := indicator.Lookup(name)
			if !ok {
				http.Error(w, `{"error":"unknown indicator"}`, http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(catalogEntry(ind))
			return
		}

		names := indicator.Names()
		catalog := make([]IndicatorInfo, 0, len(names))
		for _, name := range names {
			ind, ok := indicator.Lookup(name)
			if !ok {
				continue
			}
			catalog = append(catalog, catalogEntry(ind))
		}
		json.NewEncoder(w).Encode(catalog)
	})

	mux.HandleFunc("/api/v1/pipeline", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if pipe == nil {
			http.Error(w, `{"error":"no pipeline loaded"}`, http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(describePipeline(pipe))
	})

	mux.HandleFunc("/api/v1/results/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if pipe == nil || rdb == nil {
			http.Error(w, `{"error":"results unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		stageIDs := pipe.ExecutionOrder()
		if stage := r.URL.Query().Get("stage"); stage != "" {
			stageIDs = []string{stage}
		}

		keys := make([]string, len(stageIDs))
		for i, id := range stageIDs {
			keys[i] = store.ResultLatestKey(pipe.ID(), id)
		}

		values, err := rdb.MGet(r.Context(), keys...).Result()
		if err != nil {
			log.Printf("[api] mget latest results: %v", err)
			http.Error(w, `{"error":"redis unavailable"}`, http.StatusBadGateway)
			return
		}

		out := make(map[string]json.RawMessage, len(stageIDs))
		for i, v := range values {
			s, ok := v.(string)
			if !ok || !json.Valid([]byte(s)) {
				continue
			}
			out[stageIDs[i]] = json.RawMessage(s)
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		resp := map[string]interface{}{
			"status":     "ok",
			"uptime_sec": int64(time.Since(start).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		}
		if pipe != nil {
			resp["pipeline_id"] = pipe.ID()
			resp["stages"] = len(pipe.Stages())
		}
		json.NewEncoder(w).Encode(resp)
	})
}

func catalogEntry(ind indicator.Indicator) IndicatorInfo {
	params := []ParamInfo{}
	if pd, ok := ind.(indicator.ParamDescriber); ok {
		meta := pd.Metadata()
		params = make([]ParamInfo, len(meta))
		for i, m := range meta {
			params[i] = ParamInfo{
				Name:        m.Name,
				Type:        m.Type,
				Default:     m.Default,
				Required:    m.Required,
				Min:         m.Min,
				Max:         m.Max,
				Options:     m.Options,
				Description: m.Description,
			}
		}
	}
	return IndicatorInfo{
		Name:          ind.Name(),
		WarmupPeriods: ind.RequiredPeriods(nil),
		Params:        params,
	}
}

func describePipeline(pipe *pipeline.Pipeline) PipelineInfo {
	stages := pipe.Stages()
	infos := make([]StageInfo, len(stages))
	for i, st := range stages {
		info := StageInfo{
			ID:        st.ID,
			Indicator: st.Indicator.Name(),
			Params:    st.Params,
			DependsOn: st.DependsOn,
		}
		if len(st.InputMapping) > 0 {
			info.InputMapping = make(map[string]string, len(st.InputMapping))
			for from, to := range st.InputMapping {
				info.InputMapping[string(from)] = string(to)
			}
		}
		infos[i] = info
	}
	return PipelineInfo{
		ID:            pipe.ID(),
		Mode:          string(pipe.Mode()),
		ErrorHandling: string(pipe.ErrorHandling()),
		Order:         pipe.ExecutionOrder(),
		Stages:        infos,
	}
}
