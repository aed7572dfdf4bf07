// Package main is the entry point for the CityPulse trigger API server.
//
// It loads configuration, wires the database pool, AWS clients, the city-data
// client, and the evaluation service, then serves the HTTP API with graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"citypulse/internal/api"
	"citypulse/internal/citydata"
	"citypulse/internal/config"
	"citypulse/internal/db"
	"citypulse/internal/metrics"
	"citypulse/internal/queue"
	"citypulse/internal/scheduler"
	"citypulse/internal/trigger"
	"citypulse/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("citypulse API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, err := wireDependencies(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	handler := api.NewEvaluationHandler(deps.service, deps.runner, deps.runner, api.NewValidator(), logger)
	router := api.NewRouter(handler, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	logger.Info("citypulse API stopped")
	return nil
}

// dependencies bundles the wired evaluation stack shared by the API handlers.
type dependencies struct {
	service *trigger.Service
	runner  *scheduler.Runner
}

// wireDependencies builds the evaluation service and delivery runner from
// configuration. Shared by cmd/api and reused structurally by cmd/scheduler.
func wireDependencies(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*dependencies, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	// LocalStack support: point the service clients at the local endpoint.
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	cityClient := citydata.NewClient(citydata.ClientConfig{
		BaseURL:   cfg.CityData.BaseURL,
		APIKey:    cfg.CityData.APIKey,
		UserAgent: cfg.CityData.UserAgent,
		CacheTTL:  cfg.CityData.CacheTTL,
	}, citydata.WithHTTPClient(&http.Client{Timeout: cfg.CityData.Timeout}))

	userRepo := db.NewUserRepository(pool)
	historyRepo := db.NewTriggerHistoryRepository(pool, pool)

	clock := types.RealClock{}
	resolver := trigger.NewPolicyResolver(historyRepo, clock, logger)

	disabled := make(map[types.ConditionKind]bool, len(cfg.Engine.DisabledConditions))
	for _, kind := range cfg.Engine.DisabledConditions {
		disabled[types.ConditionKind(kind)] = true
	}
	strategies := trigger.NewDefaultStrategies(trigger.StrategyConfig{
		TempHighC:         cfg.Engine.TempHighC,
		TempLowC:          cfg.Engine.TempLowC,
		PM10Bad:           cfg.Engine.PM10Bad,
		PM25Bad:           cfg.Engine.PM25Bad,
		CongestionLevel:   cfg.Engine.CongestionLevel,
		CongestionRadiusM: cfg.Engine.CongestionRadiusM,
		BikeRadiusM:       cfg.Engine.BikeRadiusM,
		BikeShortageCount: cfg.Engine.BikeShortageCount,
		EventRadiusM:      cfg.Engine.EventRadiusM,
		EventLookahead:    cfg.Engine.EventLookahead,
		EmergencyRadiusM:  cfg.Engine.EmergencyRadiusM,
		Disabled:          disabled,
	})

	service := trigger.NewService(trigger.ServiceConfig{
		Users:            userRepo,
		Provider:         cityClient,
		Resolver:         resolver,
		Strategies:       strategies,
		Clock:            clock,
		Logger:           logger,
		BatchConcurrency: cfg.Engine.BatchConcurrency,
	})

	dispatcher := queue.NewDispatcher(sqsClient, queue.DispatcherConfig{
		StandardQueueURL: cfg.AWS.NotificationQueue,
		UrgentQueueURL:   cfg.AWS.UrgentQueue,
	}, clock, logger)

	publisher := metrics.NewPublisher(cwClient, logger)

	runner := scheduler.NewRunner(scheduler.RunnerConfig{
		Evaluator:  service,
		History:    historyRepo,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Metrics:    publisher,
		Clock:      clock,
		Logger:     logger,
	})

	return &dependencies{service: service, runner: runner}, nil
}

// newPool creates the pgx connection pool with the configured tuning and
// verifies connectivity before returning.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
