package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/dagplan/internal/application/orchestrator"
	"github.com/aescanero/dagplan/internal/application/routing"
	"github.com/aescanero/dagplan/internal/application/workers"
	"github.com/aescanero/dagplan/internal/config"
	memoryevents "github.com/aescanero/dagplan/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/dagplan/pkg/adapters/events/redis"
	executorllm "github.com/aescanero/dagplan/pkg/adapters/executor/llm"
	"github.com/aescanero/dagplan/pkg/adapters/llm"
	"github.com/aescanero/dagplan/pkg/adapters/metrics/prometheus"
	fsstorage "github.com/aescanero/dagplan/pkg/adapters/storage/fs"
	memorystorage "github.com/aescanero/dagplan/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/dagplan/pkg/adapters/storage/redis"
	"github.com/aescanero/dagplan/pkg/api/grpc"
	"github.com/aescanero/dagplan/pkg/api/http"
	"github.com/aescanero/dagplan/pkg/api/websocket"
	"github.com/aescanero/dagplan/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting dagplan",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client only when a redis backend is selected
	var redisClient *goredis.Client
	if cfg.Storage.Backend == "redis" || cfg.Events.Backend == "redis" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize stores
	var checkpoints ports.CheckpointStore
	var contracts ports.ContractStore
	switch cfg.Storage.Backend {
	case "fs":
		checkpoints = fsstorage.NewCheckpointStore(cfg.Storage.Dir, logger)
		contracts = fsstorage.NewContractStore(cfg.Storage.Dir, logger)
	case "redis":
		checkpoints = redisstorage.NewCheckpointStore(redisClient, logger)
		contracts = redisstorage.NewContractStore(redisClient, logger)
	case "memory":
		checkpoints = memorystorage.NewCheckpointStore()
		contracts = memorystorage.NewContractStore()
	default:
		logger.Fatal("unknown storage backend", zap.String("backend", cfg.Storage.Backend))
	}

	// Initialize event bus
	var eventBus ports.EventBus
	switch cfg.Events.Backend {
	case "memory":
		eventBus = memoryevents.NewBus()
	case "redis":
		eventBus = redisevents.NewStreamsBus(
			redisClient,
			cfg.Events.ConsumerGroup,
			fmt.Sprintf("%s-%d", cfg.Events.ConsumerName, os.Getpid()),
			logger,
		)
	default:
		logger.Fatal("unknown events backend", zap.String("backend", cfg.Events.Backend))
	}

	llmClient, err := llm.NewClient(&llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to create LLM client", zap.Error(err))
	}

	executorFactory := executorllm.NewFactory(llmClient, executorllm.Options{
		Model:       cfg.LLM.DefaultModel,
		Temperature: cfg.LLM.DefaultTemperature,
		MaxTokens:   cfg.LLM.DefaultMaxTokens,
	}, logger)

	// Initialize router
	var router ports.Router
	switch cfg.Router.Strategy {
	case "keyword":
		router = routing.NewKeywordRouter(logger, cfg.Router.FallbackAll)
	case "llm":
		router = routing.NewLLMRouter(llmClient, cfg.LLM.DefaultModel, logger)
	default:
		logger.Fatal("unknown router strategy", zap.String("strategy", cfg.Router.Strategy))
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	validator := orchestrator.NewValidator()

	orchestratorMgr := orchestrator.NewManager(
		checkpoints,
		contracts,
		eventBus,
		metricsCollector,
		router,
		executorFactory,
		validator,
		logger,
		orchestrator.Timeouts{
			Run:  cfg.Timeouts.RunTimeout,
			Node: cfg.Timeouts.NodeTimeout,
			Call: cfg.Timeouts.CallTimeout,
		},
		cfg.Storage.WriteRetries,
	)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		eventBus,
		orchestratorMgr,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Checkpoints:  checkpoints,
		Contracts:    contracts,
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:         cfg.GRPCPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("dagplan started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("events_backend", cfg.Events.Backend),
		zap.String("router_strategy", cfg.Router.Strategy),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("dagplan shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
