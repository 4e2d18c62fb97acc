package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prepline/kitchend/internal/config"
	"github.com/prepline/kitchend/internal/daemon"
	"github.com/prepline/kitchend/internal/db"
)

func main() {
	cfg := config.DefaultConfig()
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite path")
	flag.StringVar(&cfg.LockPath, "lock", cfg.LockPath, "lock file path")
	flag.BoolVar(&cfg.TimersEnabled, "timers-enabled", cfg.TimersEnabled, "accept timer mutations")
	flag.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "sweep interval")
	flag.DurationVar(&cfg.OverdueAfter, "overdue-after", cfg.OverdueAfter, "unacknowledged complete timers escalate to overdue after this")
	flag.DurationVar(&cfg.ChangeLogTTL, "change-log-ttl", cfg.ChangeLogTTL, "change log retention window")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}

	srv := daemon.NewServer(cfg, store, logf)
	startSweepLoop(ctx, store, srv, cfg)
	startRetentionLoop(ctx, store, cfg)

	if err := srv.Start(ctx); err != nil && err != context.Canceled {
		fatal(err)
	}
}

func startSweepLoop(ctx context.Context, store *db.Store, srv *daemon.Server, cfg config.Config) {
	sweeper := daemon.NewSweeper(store, srv.BroadcastChange, cfg.OverdueAfter, cfg.TickInterval, logf)
	if err := sweeper.Sweep(ctx, time.Now()); err != nil {
		logErr("initial sweep", err)
	}
	go sweeper.Run(ctx)
}

func startRetentionLoop(ctx context.Context, store *db.Store, cfg config.Config) {
	retention := daemon.NewRetention(store, cfg.ChangeLogTTL, logf)
	go retention.Run(ctx)
}

func logf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "kitchend: "+format+"\n", args...)
}

func logErr(scope string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "kitchend: %s: %v\n", scope, err)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "kitchend: %v\n", err)
	os.Exit(1)
}
