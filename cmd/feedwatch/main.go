// feedwatch connects to the configured change feed and prints change events
// to the console.
// Usage: go run ./cmd/feedwatch --config configs/housekeeper.example.yaml [--room ID | --status NAME]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/rickgao/housekeeping/internal/app"
	"github.com/rickgao/housekeeping/internal/config"
	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/feed"
	"github.com/rickgao/housekeeping/internal/realtime"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/housekeeper.example.yaml", "path to config file")
	room := flag.String("room", "", "only print changes to this room id")
	status := flag.String("status", "", "only print changes to rooms in this status")
	verbose := flag.BoolP("verbose", "v", false, "print full event JSON")
	interval := flag.Duration("interval", 10*time.Second, "status print interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Feed.Transport != config.TransportPostgres && cfg.Feed.Transport != config.TransportWebSocket {
		logger.Error("feedwatch needs a remote feed", "transport", cfg.Feed.Transport)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channel, err := app.NewChannel(cfg, nil, logger)
	if err != nil {
		logger.Error("failed to create channel", "error", err)
		os.Exit(1)
	}
	defer channel.Close()

	rtCfg, err := app.RealtimeConfig(cfg.Realtime)
	if err != nil {
		logger.Error("invalid realtime config", "error", err)
		os.Exit(1)
	}

	bus := eventbus.New(logger)
	mgr := realtime.NewManager(rtCfg, channel, bus, logger)
	defer mgr.Close()

	show := func(ev realtime.ChangeEvent) { printEvent(ev, *verbose) }

	var unsubscribe feed.UnsubscribeFunc
	switch {
	case *room != "":
		unsubscribe, err = mgr.SubscribeToResource(*room, show)
	case *status != "":
		unsubscribe, err = mgr.SubscribeToFilteredEvents(*status, show)
	default:
		unsubscribe = realtime.Listen(bus, mgr.Topic(), show)
	}
	if err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}
	defer unsubscribe()

	mgr.Connect()
	logger.Info("watching changes - press Ctrl+C to stop",
		"transport", cfg.Feed.Transport,
		"resource", rtCfg.Resource,
		"room", *room,
		"status", *status,
	)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down...")
			return
		case <-ticker.C:
			s := mgr.Status()
			logger.Info("status",
				"state", s.State,
				"connected", s.IsConnected,
				"attempts", s.ConnectionAttempts,
				"error", s.Error,
				"last_update", s.LastUpdate,
			)
		}
	}
}

func printEvent(ev realtime.ChangeEvent, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[%s] %s\n", ev.Type, data)
		return
	}

	row := ev.Data
	if len(row) == 0 {
		row = ev.OldData
	}
	fmt.Printf("[%s] %s id=%v room=%v status=%v at=%s\n",
		ev.Type, ev.Resource, row["id"], row["room_number"], row["status"],
		ev.Timestamp.Format(time.RFC3339))
}
