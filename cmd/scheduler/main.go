// Package main is the entry point for the CityPulse batch scheduler.
//
// It wires the same evaluation stack as the API server and drives the three
// evaluation cadences (scheduled, realtime, cultural) until the process
// receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

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
	logger.Info("citypulse scheduler starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"scheduled_interval", cfg.Scheduler.ScheduledInterval.String(),
		"realtime_interval", cfg.Scheduler.RealtimeInterval.String(),
		"cultural_interval", cfg.Scheduler.CulturalInterval.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	runner, err := wireRunner(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	// One scheduled cycle at startup so a fresh deploy does not wait a full
	// interval before evaluating anyone.
	if err := runner.RunScheduled(ctx); err != nil {
		logger.ErrorContext(ctx, "initial scheduled cycle failed", "error", err)
	}

	runner.Loop(ctx, cfg.Scheduler.ScheduledInterval, cfg.Scheduler.RealtimeInterval, cfg.Scheduler.CulturalInterval)

	logger.Info("citypulse scheduler stopped")
	return nil
}

// wireRunner builds the evaluation service and delivery runner from
// configuration.
func wireRunner(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*scheduler.Runner, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

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

	return scheduler.NewRunner(scheduler.RunnerConfig{
		Evaluator:  service,
		History:    historyRepo,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Metrics:    metrics.NewPublisher(cwClient, logger),
		Clock:      clock,
		Logger:     logger,
	}), nil
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
