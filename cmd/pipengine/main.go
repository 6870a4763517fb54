// cmd/pipengine is the streaming indicator service. It consumes candles
// from a feed (live websocket, SQLite replay or a Redis consumer group),
// advances a frozen pipeline one tick per candle and publishes stage
// results to Redis, SQLite, the websocket gateway and the alert engine.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"ta-enginev1/config"
	"ta-enginev1/internal/alert"
	"ta-enginev1/internal/api"
	"ta-enginev1/internal/gateway"
	"ta-enginev1/internal/logger"
	"ta-enginev1/internal/marketdata/bus"
	"ta-enginev1/internal/marketdata/replay"
	"ta-enginev1/internal/marketdata/resample"
	"ta-enginev1/internal/marketdata/ws"
	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/pipeline"
	redisstore "ta-enginev1/internal/store/redis"
	sqlitestore "ta-enginev1/internal/store/sqlite"
)

func main() {
	processStart := time.Now()
	cfg := config.Load()
	lg := logger.Init("pipengine", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		lg.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// ---- Pipeline definition ----
	spec, err := config.LoadPipelineSpec(cfg.PipelineFile)
	if err != nil {
		lg.Error("pipeline file unreadable", "path", cfg.PipelineFile, "error", err)
		os.Exit(1)
	}
	pipe, err := spec.Build()
	if err != nil {
		lg.Error("pipeline build failed", "error", err)
		os.Exit(1)
	}
	rules, err := spec.AlertRules()
	if err != nil {
		lg.Error("alert rules invalid", "error", err)
		os.Exit(1)
	}

	symbols := cfg.ParseSymbols()
	intervals := cfg.ParseIntervals()
	boundSymbol := cfg.BoundSymbol()
	lg.Info("pipeline built",
		"id", pipe.ID(),
		"stages", len(pipe.Stages()),
		"mode", string(pipe.Mode()),
		"symbol", boundSymbol,
		"alert_rules", len(rules))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetStages(pipe.ExecutionOrder())
	health.SetPipelineOK(true)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite recorder (off hot path) ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		lg.Error("sqlite init failed", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer sqlWriter.Close()
	health.SetSQLiteOK(true)
	entryCh := make(chan sqlitestore.Entry, 5000)
	go sqlWriter.Run(ctx, entryCh)

	// ---- Redis sink behind a circuit breaker ----
	var (
		redisWriter *redisstore.Writer
		sink        *redisstore.BufferedWriter
	)
	if w, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		lg.Warn("redis unavailable, continuing without sink", "error", err)
		health.SetRedisConnected(false)
	} else {
		redisWriter = w
		health.SetRedisConnected(true)
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			lg.Warn("redis circuit state change", "from", from.String(), "to", to.String())
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		sink = redisstore.NewBufferedWriter(ctx, w, cb, 10000)
		sink.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		sink.OnFlush = func(count int) { lg.Info("redis buffer flushed", "writes", count) }
	}
	defer func() {
		if redisWriter != nil {
			redisWriter.Close()
		}
	}()

	var rdb *goredis.Client
	if redisWriter != nil {
		rdb = redisWriter.Client()
	}
	health.StartLivenessChecker(ctx, rdb, sqlWriter.DB(), 10*time.Second)

	// ---- Candle source ----
	candleCh := make(chan model.Candle, 5000)
	if err := startFeed(ctx, lg, cfg, prom, health, candleCh); err != nil {
		lg.Error("feed init failed", "mode", cfg.FeedMode, "error", err)
		os.Exit(1)
	}

	// ---- Fan-out: executor, recorder, resampler, redis mirror ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(name string) { prom.FanoutDropsTotal.WithLabelValues(name).Inc() }
	engineCh := fanout.Subscribe("engine")
	recorderCh := fanout.Subscribe("recorder")
	resampleCh := fanout.Subscribe("resample")
	var candleSinkCh <-chan model.Candle
	if sink != nil {
		candleSinkCh = fanout.Subscribe("redis")
	}
	go fanout.Run(ctx, candleCh)

	// ---- Recorder: base-interval candles into SQLite ----
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-recorderCh:
				if !ok {
					return
				}
				select {
				case entryCh <- sqlitestore.Entry{Interval: cfg.BaseIntervalS, Candle: c}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// ---- Redis candle mirror ----
	if candleSinkCh != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case c, ok := <-candleSinkCh:
					if !ok {
						return
					}
					start := time.Now()
					if err := sink.WriteCandle(cfg.BaseIntervalS, c); err != nil {
						lg.Warn("candle publish failed", "symbol", c.Symbol, "error", err)
					}
					prom.RedisWriteDur.Observe(time.Since(start).Seconds())
				}
			}
		}()
	}

	// ---- Resampler: base interval -> higher intervals ----
	resampler := resample.New(intervals)
	resampler.OnResampled = func(r resample.Resampled) {
		prom.ResampledCandlesTotal.WithLabelValues(strconv.Itoa(r.Interval)).Inc()
	}
	resampler.OnStale = func() { prom.StaleCandlesRejected.Inc() }
	resampledCh := make(chan resample.Resampled, 5000)
	go resampler.Run(ctx, resampleCh, resampledCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-resampledCh:
				if !ok {
					return
				}
				select {
				case entryCh <- sqlitestore.Entry{Interval: r.Interval, Candle: r.Candle}:
				case <-ctx.Done():
					return
				}
				if sink != nil {
					if err := sink.WriteCandle(r.Interval, r.Candle); err != nil {
						lg.Warn("resampled candle publish failed", "interval", r.Interval, "error", err)
					}
				}
			}
		}
	}()

	// ---- Alert engine ----
	var alertTicks chan *pipeline.TickResult
	if len(rules) > 0 {
		alertEngine, err := alert.NewEngine(lg, rules, buildNotifiers(cfg)...)
		if err != nil {
			lg.Error("alert engine init failed", "error", err)
			os.Exit(1)
		}
		alertEngine.OnFire = func(a alert.Alert) {
			prom.AlertsTotal.WithLabelValues(a.Rule).Inc()
		}
		alertTicks = make(chan *pipeline.TickResult, 256)
		go alertEngine.Run(ctx, alertTicks)
	}

	// ---- Streaming executor (hot path) ----
	stream := pipe.InitStreaming()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-engineCh:
				if !ok {
					return
				}
				prom.CandlesTotal.Inc()
				prom.CandleLag.Set(time.Since(c.TS).Seconds())
				health.SetLastCandleTime(c.TS)
				if c.Symbol != boundSymbol {
					continue
				}
				start := time.Now()
				tick, err := stream.Update(c)
				if err != nil {
					lg.Error("tick failed", "symbol", c.Symbol, "ts", c.TS, "error", err)
					continue
				}
				prom.ObserveTick(tick, time.Since(start))
				if sink != nil {
					if err := sink.WriteTick(pipe.ID(), tick); err != nil {
						lg.Warn("result publish failed", "error", err)
					}
				}
				// A full alert queue must never stall the tick loop.
				select {
				case alertTicks <- tick:
				default:
				}
			}
		}
	}()

	// ---- Results gateway ----
	hubIntervals := append([]int{cfg.BaseIntervalS}, intervals...)
	var hub *gateway.Hub
	var gwSrv *http.Server
	if rdb != nil {
		hub = gateway.NewHub(rdb, pipe.ID(), symbols, hubIntervals)
		go hub.Run(ctx)
		go hub.StartMetricsBroadcast(ctx, processStart)
		gwMux := http.NewServeMux()
		gateway.RegisterRoutes(gwMux, hub, processStart)
		gwSrv = &http.Server{Addr: cfg.GatewayAddr, Handler: gwMux}
		go func() {
			lg.Info("gateway listening", "addr", cfg.GatewayAddr)
			if err := gwSrv.ListenAndServe(); err != http.ErrServerClosed {
				lg.Error("gateway server error", "error", err)
			}
		}()
	} else {
		lg.Warn("gateway disabled, requires redis")
	}

	// ---- Metadata API ----
	apiMux := http.NewServeMux()
	api.RegisterRoutes(apiMux, pipe, rdb, processStart)
	apiSrv := &http.Server{Addr: cfg.APIAddr, Handler: apiMux}
	go func() {
		lg.Info("api listening", "addr", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			lg.Error("api server error", "error", err)
		}
	}()

	// ---- Channel saturation and gateway gauges ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						prom.ChannelSaturationPct.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
					}
				}
				if hub != nil {
					prom.GatewayClients.Set(float64(hub.ClientCount()))
				}
			}
		}
	}()

	lg.Info("pipengine ready",
		"pipeline", pipe.ID(),
		"feed", cfg.FeedMode,
		"symbols", symbols,
		"intervals", hubIntervals)

	// ---- Wait for shutdown ----
	<-sigCh
	lg.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	if gwSrv != nil {
		gwSrv.Shutdown(shutdownCtx)
	}
	apiSrv.Shutdown(shutdownCtx)

	lg.Info("shutdown complete")
}

// startFeed wires the configured candle source into candleCh. Feed
// goroutines stop on ctx cancellation.
func startFeed(ctx context.Context, lg *slog.Logger, cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus, candleCh chan model.Candle) error {
	switch cfg.FeedMode {
	case "ws":
		feed, err := ws.New(ws.Config{URL: cfg.FeedURL})
		if err != nil {
			return err
		}
		feed.OnReconnect = func() { prom.WSReconnects.Inc() }
		health.SetFeedConnected(true)
		go func() {
			if err := feed.Start(ctx, candleCh); err != nil && ctx.Err() == nil {
				lg.Error("feed stopped", "error", err)
				health.SetFeedConnected(false)
			}
		}()
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			var last uint64
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					cur := feed.Overflow()
					if cur > last {
						prom.RingBufOverflow.Add(float64(cur - last))
						last = cur
					}
				}
			}
		}()

	case "replay":
		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return err
		}
		rep := replay.New(reader)
		health.SetFeedConnected(true)
		go func() {
			defer reader.Close()
			if err := rep.Run(ctx, cfg.ParseSymbols(), cfg.BaseIntervalS, cfg.ReplayFrom, cfg.ReplaySpeed, candleCh); err != nil && ctx.Err() == nil {
				lg.Error("replay failed", "error", err)
			} else {
				lg.Info("replay complete")
			}
			health.SetFeedConnected(false)
		}()

	case "redis":
		rdr, err := redisstore.NewReader(redisstore.ReaderConfig{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			ConsumerGroup: cfg.ConsumerGroup,
			ConsumerName:  cfg.ConsumerName,
		})
		if err != nil {
			return err
		}
		streams := make([]string, 0, len(cfg.ParseSymbols()))
		for _, s := range cfg.ParseSymbols() {
			streams = append(streams, redisstore.CandleStreamKey(cfg.BaseIntervalS, s))
		}
		if err := rdr.EnsureConsumerGroup(ctx, streams); err != nil {
			return err
		}
		health.SetFeedConnected(true)
		go func() {
			if err := rdr.RecoverPending(ctx, streams, candleCh); err != nil && ctx.Err() == nil {
				lg.Warn("pending recovery failed", "error", err)
			}
			if err := rdr.ConsumeCandles(ctx, streams, candleCh); err != nil && ctx.Err() == nil {
				lg.Error("candle consumer stopped", "error", err)
				health.SetFeedConnected(false)
			}
		}()
	}
	return nil
}

// buildNotifiers assembles the notifier set from config. The log
// notifier is always present so fired alerts are never silent.
func buildNotifiers(cfg *config.Config) []alert.Notifier {
	notifiers := []alert.Notifier{&alert.LogNotifier{}}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, alert.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return notifiers
}
