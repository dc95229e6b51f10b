package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postauction-system/internal/api/handlers"
	"postauction-system/internal/config"
	"postauction-system/internal/infrastructure/mysql"
	"postauction-system/internal/infrastructure/redis"
	"postauction-system/internal/infrastructure/websocket"
	"postauction-system/internal/services"
	"postauction-system/pkg/logger"
	"postauction-system/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	log := logger.New()
	log.Info("Starting Post-Auction Matcher Service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// Initialize MySQL
	db := utils.InitializeMysql(cfg, log, ctx)
	defer db.Close()
	log.Info("Connected to MySQL")

	// Initialize the metrics recorder and the banker ledger
	recorder := services.NewInMemoryRecorder()
	banker := redis.NewRedisBankerLedger(rdb, log)

	// Initialize output consumers
	archive := mysql.NewMySQLMatchedEventRepository(db)
	publisher := redis.NewRedisMatchedPublisher(rdb)
	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewMatchedEventNotifier(connManager)

	router := services.NewOutputRouter(publisher, archive, notifier, log)

	// Initialize the matcher
	matcher := services.NewEventMatcher(cfg.Matcher, banker, recorder, router.Handlers(), log)

	// Initialize the expiry sweeper
	sweeper := services.NewCronSweeper(matcher, cfg.Matcher.SweepInterval, log)

	// Initialize ingestion
	subscriber := redis.NewRedisEventSubscriber(rdb, log)

	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()

	go func() {
		if err := subscriber.Subscribe(ingestCtx, matcher); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Event subscriber failed", "error", err)
		}
	}()

	go func() {
		if err := sweeper.Start(context.Background()); err != nil {
			log.Error("Failed to start sweeper", "error", err)
		}
	}()

	// Initialize Echo API
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	statsHandler := handlers.NewStatsHandler(matcher, recorder, archive, log)

	api := e.Group("/api/v1")
	api.GET("/stats", statsHandler.GetStats)
	api.GET("/auctions/:id/outcomes", statsHandler.GetAuctionOutcomes)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "postauction-matcher",
			"timestamp": time.Now().Format(time.RFC3339),
			"instance":  cfg.Instance.ID,
		})
	})

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting matcher API server", "address", apiAddr)
		if err := e.Start(apiAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Initialize the matched-event stream server
	wsHandlers := handlers.NewWebSocketHandlers(connManager, log)

	streamRouter := mux.NewRouter()
	streamRouter.HandleFunc("/ws/accounts/{account}", wsHandlers.HandleConnection)
	streamRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	streamServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.StreamPort),
		Handler: streamRouter,
	}

	go func() {
		log.Info("Starting matched-event stream server", "address", streamServer.Addr)
		if err := streamServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Stream server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down matcher service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop ingestion first, then run one final sweep. It resolves only
	// entries already past their deadline; the rest are discarded.
	stopIngest()
	if err := sweeper.Stop(); err != nil {
		log.Error("Failed to stop sweeper", "error", err)
	}
	matcher.CheckExpiredAuctions(ctx)

	if err := e.Shutdown(ctx); err != nil {
		log.Error("API server forced to shutdown", "error", err)
	}
	if err := streamServer.Shutdown(ctx); err != nil {
		log.Error("Stream server forced to shutdown", "error", err)
	}

	log.Info("Matcher service stopped")
}
