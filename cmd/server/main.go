package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coinvex/balance-engine/internal/admin"
	"github.com/coinvex/balance-engine/internal/config"
	"github.com/coinvex/balance-engine/internal/funding"
	"github.com/coinvex/balance-engine/internal/ledger"
	"github.com/coinvex/balance-engine/internal/metrics"
	"github.com/coinvex/balance-engine/internal/oracle"
	"github.com/coinvex/balance-engine/internal/store"
	"github.com/coinvex/balance-engine/internal/trading"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DBDSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DBDSN)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DB_DSN not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Price oracle (Redis cache optional) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("Redis price cache enabled", "ttl", cfg.PriceCacheTTL)
	}
	prices := oracle.NewClient(cfg.PriceFeedURL, cfg.PrimaryCurrency, rdb, cfg.PriceCacheTTL)

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Core services ---
	ledgerSvc := ledger.NewService(st, cfg.PrimaryCurrency)
	outcome := trading.NewOutcomeCell(cfg.WinSide)

	hub := trading.NewEventHub()
	go hub.Run()

	tradingSvc := trading.NewService(st, ledgerSvc, prices, outcome, hub)
	fundingSvc := funding.NewService(st, ledgerSvc)
	adminHandler := admin.NewHandler(st, ledgerSvc, outcome)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User, X-Admin-Token")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"balance-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// WebSocket feed of settlement/conversion events.
	r.Get("/ws", hub.HandleWS)

	// User-facing surface (identity resolved upstream, X-User header).
	r.Get("/prices", tradingSvc.Prices)
	r.Get("/balances", fundingSvc.Balances)
	r.Get("/trades", tradingSvc.History)
	r.Post("/deposit", fundingSvc.Deposit)
	r.Post("/withdraw", fundingSvc.Withdraw)
	r.Post("/convert", tradingSvc.Convert)
	r.Post("/trade", tradingSvc.Trade)

	// Admin surface.
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireToken(cfg.AdminToken))
		r.Post("/admin/winside", adminHandler.SetWinSide)
		r.Post("/admin/users", adminHandler.CreateUser)
		r.Post("/admin/users/balance", adminHandler.AdjustBalance)
		r.Post("/admin/users/settings", adminHandler.UpdateUserSettings)
		r.Get("/admin/deposits", adminHandler.ListDeposits)
		r.Get("/admin/withdrawals", adminHandler.ListWithdrawals)
		r.Post("/deposit/{id}/status", fundingSvc.SetDepositStatus)
		r.Post("/withdraw/{id}/status", fundingSvc.SetWithdrawalStatus)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("balance-engine listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down balance-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("balance-engine stopped")
}
