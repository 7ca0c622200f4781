package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/capability"
	"github.com/cuongbtq/calc-jobs/internal/config"
	"github.com/cuongbtq/calc-jobs/internal/insight"
	"github.com/cuongbtq/calc-jobs/internal/realtime"
	"github.com/cuongbtq/calc-jobs/internal/worker"
	"github.com/cuongbtq/calc-jobs/internal/worker/storage"
	"github.com/cuongbtq/calc-jobs/shared/logger"
	"github.com/cuongbtq/calc-jobs/shared/middleware"
	"github.com/cuongbtq/calc-jobs/shared/postgresql"
	"github.com/cuongbtq/calc-jobs/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/calc-jobs/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		logger.NewDefault().Error("Service exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.NewDefault().Info("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	baseLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer baseLogger.Close()
	appLogger := baseLogger.WithAttrs(slog.String("service", cfg.App.Name))

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	jobStorage := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	hub := realtime.NewHub(capability.NewVerifier(cfg.Auth.Secret), jobStorage, cfg.Realtime.PongTimeout, appLogger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Updates go straight to the local hub unless Redis fans them out
	// across gateway instances
	var publisher realtime.Publisher = hub
	if cfg.Redis.Enabled {
		redisClient, err := sharedredis.NewClient(&sharedredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()

		publisher = realtime.NewRedisPublisher(redisClient, cfg.Redis.ChannelPrefix)
		relay := realtime.NewRedisRelay(redisClient, cfg.Redis.ChannelPrefix, hub, appLogger.Logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	processor := worker.NewProcessor(
		jobStorage,
		publisher,
		insight.NewEnricher(initInsightGenerator(&cfg.Insight, appLogger.Logger), appLogger.Logger),
		cfg.Worker.ProcessDelay,
		appLogger.Logger,
	)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Queue:         rabbitClient,
		Processor:     processor,
		Concurrency:   cfg.Worker.Concurrency,
		MaxAttempts:   cfg.Worker.MaxAttempts,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      initGateway(cfg, hub, dbClient, appLogger.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error { return workerInstance.Start(gctx) })

	g.Go(func() error {
		appLogger.Info("Realtime gateway listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down worker service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()

		// In-flight jobs keep running on a detached context; Stop waits for them
		done := make(chan struct{})
		go func() {
			workerInstance.Stop()
			close(done)
		}()

		select {
		case <-done:
			appLogger.Info("Worker stopped gracefully")
		case <-shutdownCtx.Done():
			appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
		}

		return srv.Shutdown(shutdownCtx)
	})

	appLogger.Info("Worker service started successfully",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Bool("redis_fanout", cfg.Redis.Enabled),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Worker service stopped with error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initGateway builds the HTTP server hosting the websocket endpoint
func initGateway(cfg *config.Config, hub *realtime.Hub, db *postgresql.Client, logger *slog.Logger) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	r.GET("/health", func(c *gin.Context) {
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "calc-worker-service",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "calc-worker-service",
		})
	})

	ws := realtime.NewHandler(hub, realtime.ConnConfig{
		WriteTimeout: cfg.Realtime.WriteTimeout,
		PongTimeout:  cfg.Realtime.PongTimeout,
		SendBuffer:   cfg.Realtime.SendBuffer,
	}, cfg.Realtime.AllowedOrigins, logger)
	r.GET("/ws", ws.ServeWS)

	return r
}

// initInsightGenerator returns nil when no API key is configured, which
// makes the enricher fall back to the fixed text
func initInsightGenerator(cfg *config.InsightConfig, logger *slog.Logger) insight.Generator {
	if cfg.APIKey == "" {
		logger.Info("OPENAI_API_KEY not set, insights disabled")
		return nil
	}

	return insight.NewOpenAIGenerator(insight.OpenAIConfig{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.Timeout,
	})
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		TLS:             cfg.TLS,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ consumer; republished retries reuse
// the same exchange
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		TLS:                cfg.TLS,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishConfirm:     cfg.Publish.Confirm,
	}, logger)
}
