package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/animal-market/internal/cache"
	"github.com/iliyamo/animal-market/internal/config"
	"github.com/iliyamo/animal-market/internal/database"
	"github.com/iliyamo/animal-market/internal/handler"
	"github.com/iliyamo/animal-market/internal/middleware"
	"github.com/iliyamo/animal-market/internal/payment"
	"github.com/iliyamo/animal-market/internal/queue"
	"github.com/iliyamo/animal-market/internal/repository"
	"github.com/iliyamo/animal-market/internal/router"
	"github.com/iliyamo/animal-market/internal/service"
	"github.com/iliyamo/animal-market/internal/stream"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx, db); err != nil {
		log.Fatalf("database: %v", err)
	}
	cancelMigrate()

	// Redis is optional: a nil client degrades the snapshot cache to
	// always-miss and the rate limiter to fail-open.
	rdb := config.NewRedisClient()
	capCache := cache.NewCapacityCache(rdb, cfg.CapacityCacheTTL)
	hub := stream.NewHub(cfg.StreamCloseGrace)
	provider := payment.NewHTTPProvider(cfg.PayBaseURL, cfg.PaySecret, cfg.PayNotifyURL, cfg.PayTimeout)

	sessions := repository.NewSessionRepo(db)
	capacity := repository.NewCapacityRepo(db)
	orders := repository.NewOrderRepo(db)

	alloc := &service.AllocationService{
		DB:       db,
		Sessions: sessions,
		Ledger:   capacity,
		Orders:   orders,
		Provider: provider,
		Cache:    capCache,
	}
	settlement := &service.SettlementService{
		DB:       db,
		Sessions: sessions,
		Ledger:   capacity,
		Orders:   orders,
		Provider: provider,
		Cache:    capCache,
		Hub:      hub,
	}

	// Broker consumer for the settlement audit trail.
	go func() {
		if err := queue.StartSettlementConsumer(); err != nil {
			log.Printf("queue: settlement consumer stopped: %v", err)
		}
	}()

	// Periodic sweep moving overdue PENDING orders to EXPIRED and
	// returning their capacity.
	go func() {
		ticker := time.NewTicker(cfg.ExpirySweepPeriod)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := settlement.ExpireOverdue(ctx); err != nil {
				log.Printf("expiry sweep: %v", err)
			} else if n > 0 {
				log.Printf("expiry sweep: expired %d orders", n)
			}
			cancel()
		}
	}()

	e := echo.New()
	rateLimit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	router.RegisterRoutes(e, router.Handlers{
		Session: handler.NewSessionHandler(sessions, capacity, capCache, cfg.DefaultScopeID, cfg.AnimalLimitCents),
		Order:   handler.NewOrderHandler(alloc, settlement, orders),
		Webhook: handler.NewWebhookHandler(settlement, cfg.PaySecret),
		Stream:  handler.NewStreamHandler(hub, orders, cfg.StreamHeartbeat),
		Admin:   handler.NewAdminHandler(settlement, capacity, capCache, hub),
	}, cfg.JWTSecret, rateLimit)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
