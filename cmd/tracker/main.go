package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/deltaguita/market-tracker/internal/config"
	"github.com/deltaguita/market-tracker/internal/database"
	"github.com/deltaguita/market-tracker/internal/listings"
	"github.com/deltaguita/market-tracker/internal/notify"
	"github.com/deltaguita/market-tracker/internal/products"
	"github.com/deltaguita/market-tracker/internal/rates"
	"github.com/deltaguita/market-tracker/internal/scheduler"
)

func main() {
	once := flag.Bool("once", false, "run every tracked query once and exit (cron mode)")
	flag.Parse()

	_ = godotenv.Load() // .env is optional

	cfg := config.LoadEnv()
	logger := newLogger(cfg.AppEnv)
	defer logger.Sync()

	queries, err := config.LoadQueries(cfg.QueriesFile)
	if err != nil {
		logger.Fatal("loading tracked queries failed", zap.Error(err))
	}
	if len(queries) == 0 {
		logger.Fatal("no tracked queries configured", zap.String("file", cfg.QueriesFile))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when configured, otherwise fully in-memory
	// (offline/dev mode, pairs with the mock listing adapter).
	var (
		store   products.Store
		schedSt scheduler.ScheduleStore
		rateSrc rates.Source
	)
	dbCfg := database.NewConfigFromEnv()
	if dbCfg.Complete() {
		pool, err := database.Connect(ctx, dbCfg)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		logger.Info("connected to postgres", zap.String("db", dbCfg.DBName))

		store = products.NewPGStore(pool)
		schedSt = scheduler.NewPGScheduleStore(pool)
		rateSrc = rates.NewService(pool, logger,
			cfg.Rates.APIURL, cfg.Rates.FromCurrency, cfg.Rates.ToCurrency, cfg.Rates.MaxAge)
	} else {
		logger.Warn("no database configured, state will not survive a restart")
		store = products.NewMemStore()
		schedSt = scheduler.NewMemScheduleStore()
		rateSrc = rates.Fixed{Rate: cfg.Rates.FixedRate}
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.Telegram.Configured() {
		sender = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	} else {
		logger.Warn("telegram not configured, notifications are discarded")
	}
	notifier := notify.New(sender, notify.Labels{
		SourceSymbol:    cfg.Rates.SourceSymbol,
		ConvertedSymbol: cfg.Rates.ConvertedSymbol,
	}, logger)

	var adapter listings.Adapter = &listings.MockAdapter{}
	if cfg.Listings.Adapter == "http-json" && cfg.Listings.BaseURL != "" {
		adapter = listings.NewHTTPAdapter(cfg.Listings.BaseURL, cfg.Listings.MaxPages)
	}

	runner := scheduler.NewRunner(store, adapter, rateSrc, notifier, logger)
	sched := scheduler.New(queries, runner, schedSt, cfg.CheckInterval, logger)

	if *once {
		sched.RunAll(ctx)
		return
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	products.NewHandler(store, logger).Register(r.Group("/api"))

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}
	go func() {
		logger.Info("api listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	wg.Wait()
	logger.Info("graceful shutdown complete")
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "development" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
