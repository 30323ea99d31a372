package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"oceania.org/internal/account"
	"oceania.org/internal/audit"
	"oceania.org/internal/bridge"
	"oceania.org/internal/config"
	"oceania.org/internal/dispatch"
	"oceania.org/internal/fanout"
	"oceania.org/internal/httpapi"
	"oceania.org/internal/migrate"
	"oceania.org/internal/moderation"
	"oceania.org/internal/obs"
	"oceania.org/internal/post"
	"oceania.org/internal/ratelimit"
	"oceania.org/internal/session"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()

	// Durable stores when a DSN is configured, in-memory otherwise.
	var (
		accountStore account.Store
		postStore    post.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrate.NewManager(db, "migrations").Up(ctx); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()

		accountStore = account.NewPGStore(db)
		postStore = post.NewPGStore(db)
	} else {
		accountStore = account.NewMemory()
		postStore = post.NewMemory()
	}

	ledger, err := audit.Open(cfg.AuditPath)
	if err != nil {
		log.Fatalf("open audit ledger: %v", err)
	}

	tokens, err := account.NewTokenIssuer(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	var pipeline moderation.Pipeline
	switch cfg.ModerationMode {
	case "score":
		pipeline = moderation.NewScorer(cfg.ModerationURL,
			moderation.WithThreshold(cfg.ModerationThreshold),
			moderation.WithHTTPClient(&http.Client{Timeout: cfg.ModerationTimeout}),
		)
	default:
		pipeline = moderation.NewFilter(cfg.Blocklist)
	}

	var notifier dispatch.Notifier
	if cfg.BridgeURL != "" {
		notifier = bridge.NewNotifier(cfg.BridgeURL,
			bridge.WithQueueSize(cfg.BridgeQueueSize),
			bridge.WithTimeout(cfg.BridgeTimeout),
		)
	}

	hub := fanout.NewHub()
	core := dispatch.New(dispatch.Deps{
		Limiter:    ratelimit.New(cfg.RateCapacity, cfg.RateWindow),
		Registry:   session.NewRegistry(),
		Accounts:   account.NewService(accountStore),
		Posts:      postStore,
		Moderation: pipeline,
		Ledger:     ledger,
		Hub:        hub,
		Tokens:     tokens,
		Bridge:     notifier,
	},
		dispatch.WithDefaultChannel(cfg.DefaultChannel),
		dispatch.WithPageSize(cfg.PageSize),
	)

	api := httpapi.New(core, hub)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting oceania-server %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting new work first, then drain the core's resources.
	_ = srv.Shutdown(ctx)
	if err := core.Shutdown(ctx); err != nil {
		log.Printf("core shutdown: %v", err)
	}
	log.Println("Stopped")
}
