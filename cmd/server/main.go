package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"songrelay/backend/internal/auth"
	"songrelay/backend/internal/config"
	"songrelay/backend/internal/health"
	"songrelay/backend/internal/logger"
	"songrelay/backend/internal/monitoring"
	"songrelay/backend/internal/pool"
	"songrelay/backend/internal/scheduler"
	"songrelay/backend/internal/service"
	"songrelay/backend/internal/storage"
	"songrelay/backend/internal/storage/memory"
	"songrelay/backend/internal/storage/redis"
	sqlstore "songrelay/backend/internal/storage/sql"
	httptransport "songrelay/backend/internal/transport/http"
	"songrelay/backend/internal/transport/ws"
	"songrelay/backend/internal/workflow"
)

// main 启动点歌转发网关。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting songrelay server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 存储层：配置了数据库用 SQL 存储，否则用内存存储
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		sqlStore, err := sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		store = sqlStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 限流计数：启用 Redis 时走 Redis，否则退回存储自带的计数
	// （SQL 存储不做计数，未启用 Redis 时点歌不限频）
	var limiter storage.RateLimiter
	if l, ok := store.(storage.RateLimiter); ok {
		limiter = l
	}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			panic(fmt.Sprintf("failed to connect to redis: %v", err))
		}
		defer redisClient.Close()
		limiter = redisClient
		log.Info("using redis rate limiting", zap.String("address", cfg.Redis.Address))
	}

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, limiter, log)

	// 业务服务
	addressService := service.NewAddressService(store, cfg, log)
	addressService.SetMetrics(metrics)
	userService := service.NewUserService(store, log)
	userService.SetMetrics(metrics)
	recipientService := service.NewRecipientService(store, log)
	bindingService := service.NewBindingService(store, log)

	// 流程引擎和网关互相引用：引擎通过 Sink 送出效果，
	// 网关把输入事件交给引擎，投递服务通过 Notifier 走网关。
	tokenManager := auth.NewManager(cfg.Auth.TokenSecret, "songrelay", cfg.Auth.TokenExpiry)
	services := &workflow.Services{
		Users:      userService,
		Recipients: recipientService,
		Addresses:  addressService,
		Bindings:   bindingService,
	}
	engine := workflow.NewEngine(services, cfg.Relay.SessionTimeout, log)
	hub := ws.NewHub(engine, tokenManager, metrics, cfg.CORS.AllowedOrigins, log)
	engine.SetSink(hub)
	services.Requests = service.NewRequestService(bindingService, limiter, hub, cfg, log)

	// 清理任务的通知扇出走协程池
	workers := pool.NewWorkerPool(4, 256, log)
	sweeper := scheduler.NewSweeper(addressService, hub, workers, metrics, cfg.Relay.SweepInterval, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:  cfg,
		Hub:     hub,
		Health:  healthChecker,
		Metrics: metrics,
		Logger:  log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	workers.Start(groupCtx)

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting cleanup sweeper", zap.Duration("interval", cfg.Relay.SweepInterval))
		if err := sweeper.Run(groupCtx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")

		engine.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}
