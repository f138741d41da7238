package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rewired-gh/marketpulse/internal/bot"
	"github.com/rewired-gh/marketpulse/internal/config"
	"github.com/rewired-gh/marketpulse/internal/dataset"
	"github.com/rewired-gh/marketpulse/internal/insight"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/market"
	"github.com/rewired-gh/marketpulse/internal/monitor"
	"github.com/rewired-gh/marketpulse/internal/notifier"
	"github.com/rewired-gh/marketpulse/internal/render"
	"github.com/rewired-gh/marketpulse/internal/runner"
	"github.com/rewired-gh/marketpulse/internal/scheduler"
	"github.com/rewired-gh/marketpulse/internal/server"
	"github.com/rewired-gh/marketpulse/internal/storage"
	"github.com/rewired-gh/marketpulse/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Market data
	yahoo := market.NewYahooProvider(market.YahooConfig{
		MaxRetries:     cfg.Market.MaxRetries,
		RetryDelayBase: cfg.Market.RetryDelayBase,
	})
	cache, closeCache := newCache(ctx, cfg)
	defer func() {
		if err := closeCache(); err != nil {
			logger.Error("Failed to close price cache: %v", err)
		}
	}()
	quotes := market.NewService(yahoo, cache, market.ServiceConfig{
		StaleAfter:     cfg.Market.StaleAfter,
		ChangePeriod:   cfg.Market.ChangePeriod,
		ChangeInterval: cfg.Market.ChangeInterval,
	})
	resolver := market.NewResolver(quotes, cfg.Market.HomeSuffix, cfg.Market.Separator)

	// Initialize Telegram client
	tg, err := telegram.NewClient(telegram.ClientConfig{
		Token:          cfg.Telegram.BotToken,
		APIEndpoint:    cfg.Telegram.APIEndpoint,
		MaxRetries:     cfg.Telegram.MaxRetries,
		RetryDelayBase: cfg.Telegram.RetryDelayBase,
		SendRate:       cfg.Telegram.SendRatePerSecond,
		UpdateLimit:    cfg.Telegram.UpdateLimit,
		Debug:          cfg.Telegram.Debug,
	})
	if err != nil {
		logger.Fatal("Failed to initialize Telegram client: %v", err)
	}
	notify := notifier.New(tg, store)

	mon := monitor.New(store, quotes, notify, monitor.Config{
		Epsilon: cfg.Market.AlertEpsilon,
		Assets:  summaryAssets(cfg.Market.SummaryAssets),
	})

	// Reference dataset
	state := dataset.NewState()
	var refresher *dataset.Refresher
	if cfg.Dataset.Enabled {
		acquirer := dataset.NewBrowserAcquirer(dataset.BrowserConfig{
			SourceURL:      cfg.Dataset.SourceURL,
			ExportSelector: cfg.Dataset.ExportSelector,
			DownloadWait:   cfg.Dataset.DownloadWait,
			Timeout:        cfg.Dataset.Timeout,
			Headless:       cfg.Dataset.Headless,
			ExecPath:       cfg.Dataset.BrowserPath,
		})
		refresher = dataset.NewRefresher(acquirer, state, dataset.RealClock, dataset.RefresherConfig{
			Path:       cfg.Dataset.Path,
			StagingDir: cfg.Dataset.StagingDir,
			Policy:     dataset.RetryPolicy{MaxAttempts: cfg.Dataset.MaxAttempts, Backoff: cfg.Dataset.Backoff},
			Validator:  dataset.Validator{MinRows: cfg.Dataset.MinRows, MinBytes: cfg.Dataset.MinBytes},
		})
		if err := refresher.Load(); err != nil {
			logger.Warn("No usable dataset on disk, waiting for the next refresh: %v", err)
		}
	} else {
		logger.Debug("Reference dataset disabled")
	}

	dispatcher := bot.NewDispatcher(bot.Deps{
		Transport: tg,
		Store:     store,
		Resolver:  resolver,
		Quotes:    quotes,
		Sender:    notify,
		Valuer:    mon,
		Enricher: insight.NewEnricher(
			insight.NewDigestStep(quotes, cfg.Market.DigestWindow),
			insight.NewRatingStep(yahoo),
		),
		Codes: state,
	}, bot.Config{HomeSuffix: cfg.Market.HomeSuffix, Separator: cfg.Market.Separator})

	// Skip whatever queued up while the bot was down
	if err := dispatcher.Init(ctx); err != nil {
		logger.Warn("Failed to derive poll cursor, starting from the backlog: %v", err)
	}

	jobs, err := buildSchedule(cfg, mon, notify, refresher)
	if err != nil {
		logger.Fatal("Failed to build schedule: %v", err)
	}
	if refresher != nil && state.Current() == nil {
		refresh := scheduler.JobFunc{JobName: "refresh_dataset", Fn: refresher.Refresh}
		if err := jobs.RunNow(ctx, refresh); err != nil {
			logger.Warn("Initial dataset refresh failed: %v", err)
		}
	}
	if next, ok := jobs.NextDue(); ok {
		logger.Info("Next scheduled job at %s", next.Format(time.RFC3339))
	}

	// Optional status endpoint
	var srv *server.Server
	if cfg.Server.Enabled {
		srvCfg := server.Config{
			Addr:    cfg.Server.Addr,
			Cursor:  dispatcher,
			Dataset: state,
			Store:   store,
		}
		if refresher != nil {
			srvCfg.Refresher = refresher
		}
		srv = server.New(srvCfg)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("Status server failed: %v", err)
			}
		}()
	}

	logger.Info("Starting loop (interval: %v, timezone: %s)", cfg.Schedule.LoopInterval, cfg.Location())
	loop := runner.New(jobs, dispatcher, runner.Config{Interval: cfg.Schedule.LoopInterval})
	if err := loop.Run(ctx); err != nil {
		logger.Error("Loop stopped: %v", err)
	}

	logger.Info("Shutdown signal received, cleaning up...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop status server: %v", err)
		}
	}
	logger.Info("Service stopped")
}

// newCache returns the Redis price cache when it is enabled and reachable, and the
// in-process cache otherwise, along with the function that releases it.
func newCache(ctx context.Context, cfg *config.Config) (market.Cache, func() error) {
	noop := func() error { return nil }
	if !cfg.Cache.RedisEnabled {
		return market.NewMemoryCache(), noop
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis at %s unreachable, using in-memory price cache: %v", cfg.Cache.RedisAddr, err)
		_ = client.Close()
		return market.NewMemoryCache(), noop
	}
	logger.Info("Using Redis price cache at %s", cfg.Cache.RedisAddr)
	rc := market.NewRedisCache(client, cfg.Cache.TTL)
	return rc, rc.Close
}

func summaryAssets(configured []config.AssetConfig) []monitor.Asset {
	if len(configured) == 0 {
		return monitor.DefaultAssets
	}
	assets := make([]monitor.Asset, len(configured))
	for i, a := range configured {
		assets[i] = monitor.Asset{Name: a.Name, Symbol: a.Symbol}
	}
	return assets
}

// buildSchedule registers the periodic jobs. An empty expression disables a job.
func buildSchedule(cfg *config.Config, mon *monitor.Monitor, notify *notifier.Notifier, refresher *dataset.Refresher) (*scheduler.Scheduler, error) {
	sched := scheduler.New(cfg.Location())
	now := time.Now()

	broadcast := scheduler.JobFunc{JobName: "broadcast_summary", Fn: func(ctx context.Context) error {
		res, err := notify.Broadcast(ctx, render.Summary(mon.Summary(ctx)))
		if err != nil {
			return err
		}
		logger.Info("Market summary sent to %d recipient(s), %d failed, %d deactivated", res.Sent, res.Failed, res.Deactivated)
		return nil
	}}
	for _, spec := range cfg.Schedule.Broadcast {
		if spec == "" {
			continue
		}
		if err := sched.AddJob(spec, broadcast, now); err != nil {
			return nil, err
		}
	}

	type job struct {
		spec string
		job  scheduler.Job
	}
	jobs := []job{{cfg.Schedule.CheckAlerts, scheduler.JobFunc{JobName: "check_alerts", Fn: func(ctx context.Context) error {
		fired, err := mon.CheckAlerts(ctx)
		if fired > 0 {
			logger.Info("Fired %d alert(s)", fired)
		}
		return err
	}}}}

	if refresher != nil {
		jobs = append(jobs,
			job{cfg.Schedule.RefreshDataset, scheduler.JobFunc{JobName: "refresh_dataset", Fn: refresher.Refresh}},
			job{cfg.Schedule.DatasetHealth, scheduler.JobFunc{JobName: "dataset_health", Fn: func(ctx context.Context) error {
				_, err := refresher.HealthCheck(ctx)
				return err
			}}},
		)
	}

	for _, j := range jobs {
		if j.spec == "" {
			logger.Debug("Job %s disabled", j.job.Name())
			continue
		}
		if err := sched.AddJob(j.spec, j.job, now); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
