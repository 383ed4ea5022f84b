// housekeeper serves the housekeeping API and keeps the room cache live over
// the configured change feed.
// Usage: housekeeper --config configs/housekeeper.local.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/housekeeping/internal/app"
	"github.com/rickgao/housekeeping/internal/config"
	"github.com/rickgao/housekeeping/internal/database"
	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/feed"
	"github.com/rickgao/housekeeping/internal/httpapi"
	"github.com/rickgao/housekeeping/internal/journal"
	"github.com/rickgao/housekeeping/internal/metrics"
	"github.com/rickgao/housekeeping/internal/realtime"
	"github.com/rickgao/housekeeping/internal/roomcache"
	"github.com/rickgao/housekeeping/internal/store"
	"github.com/rickgao/housekeeping/internal/version"
)

const statusLogInterval = time.Minute

func main() {
	configPath := flag.StringP("config", "c", "configs/housekeeper.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting housekeeper",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"facility", cfg.Instance.Facility,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("housekeeper failed", "error", err)
		os.Exit(1)
	}
	logger.Info("housekeeper stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New(cfg.Metrics.Namespace)
	bus := eventbus.New(logger, eventbus.WithPanicHandler(m.ListenerPanicked))

	// Store
	var (
		st     store.Store
		pool   *pgxpool.Pool
		hub    *feed.Hub
		pinger httpapi.Pinger
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		var err error
		pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg, err := store.NewPostgres(pool, cfg.Feed.ChannelPrefix, logger)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st, pinger = pg, pool

	default:
		hub = feed.NewHub(logger)
		defer hub.Close()

		lite, err := store.NewSQLite(cfg.Store.SQLitePath, hub, logger)
		if err != nil {
			return err
		}
		st, pinger = lite, lite
	}
	defer st.Close()

	// Change feed and connection manager
	channel, err := app.NewChannel(cfg, hub, logger)
	if err != nil {
		return err
	}
	if channel != nil {
		defer channel.Close()
	}

	rtCfg, err := app.RealtimeConfig(cfg.Realtime)
	if err != nil {
		return err
	}
	mgr := realtime.NewManager(rtCfg, channel, bus, logger, realtime.WithRecorder(m))
	defer mgr.Close()

	if channel != nil && rtCfg.Resource != store.TableStatuses {
		unfollow, err := mgr.Follow(store.TableStatuses)
		if err != nil {
			logger.Warn("custom statuses will only refresh on reconciliation", "error", err)
		} else {
			defer unfollow()
		}
	}

	// Room cache
	cache := roomcache.New(app.CacheConfig(cfg), st, bus, logger)
	if err := cache.Start(ctx); err != nil {
		return err
	}
	defer stopWithTimeout(cfg, cache.Stop)

	m.GaugeFunc("cache", "rooms", "Rooms held in the room cache", func() float64 {
		return float64(cache.Stats().Rooms)
	})
	m.GaugeFunc("cache", "drift_fixed", "Entries corrected by reconciliation", func() float64 {
		return float64(cache.Stats().DriftFixed)
	})

	deps := httpapi.Deps{
		Realtime: mgr,
		Rooms:    cache,
		Store:    st,
		Bus:      bus,
		Topic:    mgr.Topic(),
		Database: pinger,
		Metrics:  m,
	}

	// Change journal
	if cfg.Journal.Enabled {
		jr := journal.New(app.JournalConfig(cfg), pool, bus, logger)
		if err := jr.Start(ctx); err != nil {
			return err
		}
		defer stopWithTimeout(cfg, jr.Stop)

		m.GaugeFunc("journal", "pending", "Change events waiting to be journaled", func() float64 {
			return float64(jr.Pending())
		})
		deps.Journal = jr
	}

	server := httpapi.New(httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		MetricsPath:     cfg.Metrics.Path,
		KeepAlive:       httpapi.DefaultKeepAlive,
	}, deps, logger)

	if cfg.Realtime.DisableAutoConnect {
		logger.Info("realtime auto-connect disabled")
	} else {
		mgr.Connect()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		logStatus(gctx, mgr, cache, logger)
		return nil
	})

	logger.Info("housekeeper running",
		"instance_id", cfg.Instance.ID,
		"store", cfg.Store.Driver,
		"transport", cfg.Feed.Transport,
		"http_addr", cfg.HTTP.Addr,
	)

	err = g.Wait()
	logger.Info("shutting down...")
	return err
}

// logStatus periodically logs connection and cache state.
func logStatus(ctx context.Context, mgr *realtime.Manager, cache *roomcache.Cache, logger *slog.Logger) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := mgr.Status()
			stats := cache.Stats()
			logger.Info("stats",
				"realtime_state", status.State,
				"realtime_attempts", status.ConnectionAttempts,
				"realtime_error", status.Error,
				"rooms", stats.Rooms,
				"statuses", stats.Statuses,
				"events_applied", stats.EventsApplied,
				"events_ignored", stats.EventsIgnored,
				"drift_fixed", stats.DriftFixed,
			)
		}
	}
}

func stopWithTimeout(cfg *config.Config, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		slog.Warn("component stop failed", "error", err)
	}
}
