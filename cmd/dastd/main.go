// dastd is the scan engine daemon. It serves the HTTP API, runs the
// schedule ticker and, when a broker is configured, accepts scan tasks
// from the dast-scan-tasks queue.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mqxerror/qa-guardian/api"
	"github.com/mqxerror/qa-guardian/dast/config"
	"github.com/mqxerror/qa-guardian/dast/graphql"
	"github.com/mqxerror/qa-guardian/dast/postgres"
	"github.com/mqxerror/qa-guardian/dast/queue"
	"github.com/mqxerror/qa-guardian/dast/scan"
	"github.com/mqxerror/qa-guardian/dast/schedule"
	"github.com/mqxerror/qa-guardian/dast/slogger"
	"github.com/mqxerror/qa-guardian/dast/store"
)

func main() {
	slogger.Init()
	cfg := config.Load()

	db, err := postgres.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("Failed to connect to database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	repo := postgres.NewRepository(db)

	// The cache is optional: without it status polling falls back to the
	// persisted progress snapshots.
	var cache *store.ProgressCache
	if cfg.ValkeyAddr != "" {
		kv, err := store.NewValkeyStoreAt(cfg.ValkeyAddr)
		if err != nil {
			slog.Warn("Progress cache unavailable, continuing without it",
				"addr", cfg.ValkeyAddr, "error", err)
		} else {
			defer kv.Close()
			cache = store.NewProgressCache(kv)
		}
	}

	events := scan.NewEventRecorder(repo)
	if cfg.RabbitMQURL == "" {
		events.PublishQueue = ""
	}

	manager := scan.NewManager(repo, cache, &scan.SimulatedBackend{}, events)
	if err := manager.RecoverStale(); err != nil {
		slog.Error("Failed to recover stale scans", "error", err)
		os.Exit(1)
	}

	schedules := schedule.NewService(repo)
	gql := graphql.NewRunner(repo, &graphql.SimulatedIntrospector{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := schedule.NewRunner(schedules, manager, events)
	runner.Interval = cfg.TickInterval
	go runner.Run(ctx)

	if cfg.RabbitMQURL != "" {
		go queue.ListenWithRetry(ctx, queue.QueueScanTasks, func(msg string) {
			var req scan.StartRequest
			if err := json.Unmarshal([]byte(msg), &req); err != nil {
				slog.Warn("Dropping malformed scan task", "error", err)
				return
			}
			if _, err := manager.StartScan(ctx, req); err != nil {
				slog.Warn("Queued scan task rejected", "target_id", req.TargetID, "error", err)
			}
		})
	}

	server := api.NewServer(repo, manager, schedules, gql)
	slog.Info("dastd listening", "addr", cfg.ListenAddr, "db_driver", cfg.DBDriver)
	if err := server.Router().Run(cfg.ListenAddr); err != nil {
		slog.Error("HTTP server exited", "error", err)
		os.Exit(1)
	}
}
