// Package scheduler implements the batch evaluation driver: it runs the
// engine on its cadences, records accepted outcomes in trigger history, and
// hands them to the notification dispatcher.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"citypulse/internal/metrics"
	"citypulse/internal/trigger"
	"citypulse/internal/types"
)

// Evaluator is the slice of the evaluation service the runner drives.
// Implemented by *trigger.Service.
type Evaluator interface {
	EvaluateAllTriggers(ctx context.Context) ([]types.EvaluationResult, error)
	EvaluateRealtimeTriggers(ctx context.Context) ([]types.EvaluationResult, error)
	EvaluateCulturalEventTriggers(ctx context.Context) ([]types.EvaluationResult, error)
}

// MetricsPublisher abstracts metric emission so tests can observe it.
// Implemented by *metrics.Publisher.
type MetricsPublisher interface {
	PublishBatch(ctx context.Context, source types.EvaluationSource, stats metrics.BatchStats)
	PublishDispatchFailure(ctx context.Context, kind types.ConditionKind)
}

// Runner executes one evaluation-and-delivery cycle per invocation.
type Runner struct {
	evaluator  Evaluator
	history    types.TriggerHistoryStore
	dispatcher types.NotificationDispatcher
	resolver   *trigger.PolicyResolver
	metrics    MetricsPublisher
	clock      types.Clock
	logger     *slog.Logger
}

// RunnerConfig holds the dependencies for creating a Runner.
type RunnerConfig struct {
	Evaluator  Evaluator
	History    types.TriggerHistoryStore
	Dispatcher types.NotificationDispatcher
	Resolver   *trigger.PolicyResolver
	Metrics    MetricsPublisher
	Clock      types.Clock
	Logger     *slog.Logger
}

// NewRunner creates the batch driver.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Runner{
		evaluator:  cfg.Evaluator,
		history:    cfg.History,
		dispatcher: cfg.Dispatcher,
		resolver:   cfg.Resolver,
		metrics:    cfg.Metrics,
		clock:      clock,
		logger:     logger,
	}
}

// RunScheduled runs the full scheduled evaluation cycle over all active users.
func (r *Runner) RunScheduled(ctx context.Context) error {
	return r.run(ctx, types.SourceScheduled, r.evaluator.EvaluateAllTriggers)
}

// RunRealtime runs the realtime cycle over users with a known location.
func (r *Runner) RunRealtime(ctx context.Context) error {
	return r.run(ctx, types.SourceRealtime, r.evaluator.EvaluateRealtimeTriggers)
}

// RunCultural runs the cultural event cycle over culture-interested users.
func (r *Runner) RunCultural(ctx context.Context) error {
	return r.run(ctx, types.SourceScheduled, r.evaluator.EvaluateCulturalEventTriggers)
}

func (r *Runner) run(ctx context.Context, source types.EvaluationSource, evaluate func(context.Context) ([]types.EvaluationResult, error)) error {
	started := r.clock.Now()

	results, err := evaluate(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "batch evaluation failed",
			"source", string(source),
			"error", err,
		)
		return err
	}

	stats := metrics.BatchStats{UsersEvaluated: len(results)}
	for _, res := range results {
		stats.ConditionsEvaluated += res.TotalEvaluated
		fired, dropped := r.DeliverResult(ctx, res)
		stats.NotificationsFired += fired
		stats.NotificationsDropped += dropped
	}
	stats.Duration = r.clock.Now().Sub(started)

	if r.metrics != nil {
		r.metrics.PublishBatch(ctx, source, stats)
	}

	r.logger.InfoContext(ctx, "evaluation cycle complete",
		"source", string(source),
		"users_evaluated", stats.UsersEvaluated,
		"conditions_evaluated", stats.ConditionsEvaluated,
		"notifications_fired", stats.NotificationsFired,
		"notifications_dropped", stats.NotificationsDropped,
		"duration_ms", stats.Duration.Milliseconds(),
	)

	return nil
}

// DeliverResult records and dispatches the surviving outcomes of one user's
// evaluation. Returns the number of notifications dispatched and dropped.
//
// Recording happens before dispatch: AppendIfAbsent re-checks suppression
// atomically, so two overlapping cycles cannot both deliver the same outcome.
// The cost is that a dispatch failure after a successful append loses the
// notification rather than duplicating it on retry; that is the intended
// bias for everything except urgent conditions, which are recorded
// best-effort and always dispatched.
func (r *Runner) DeliverResult(ctx context.Context, res types.EvaluationResult) (fired, dropped int) {
	for _, outcome := range res.Outcomes {
		policy := r.resolver.Resolve(outcome.Kind)
		rec := r.buildRecord(res, outcome, policy)

		if policy.Check == types.CheckNone {
			// Urgent path. History is an audit trail here, never a gate.
			if err := r.history.Append(ctx, rec); err != nil {
				r.logger.ErrorContext(ctx, "failed to record urgent outcome, delivering anyway",
					"user_id", res.UserID,
					"kind", string(outcome.Kind),
					"error", err,
				)
			}
			if r.dispatch(ctx, res.UserID, outcome) {
				fired++
			} else {
				dropped++
			}
			continue
		}

		accepted, err := r.history.AppendIfAbsent(ctx, rec, r.resolver.WindowStart(policy))
		if err != nil {
			// Suppression cannot be verified; dropping is the duplicate-safe
			// choice for non-urgent outcomes.
			r.logger.ErrorContext(ctx, "failed to record outcome, dropping",
				"user_id", res.UserID,
				"kind", string(outcome.Kind),
				"error", err,
			)
			dropped++
			continue
		}
		if !accepted {
			r.logger.InfoContext(ctx, "outcome suppressed by concurrent record",
				"user_id", res.UserID,
				"kind", string(outcome.Kind),
				"dedup_key", rec.DedupKey,
			)
			dropped++
			continue
		}

		if r.dispatch(ctx, res.UserID, outcome) {
			fired++
		} else {
			dropped++
		}
	}
	return fired, dropped
}

func (r *Runner) dispatch(ctx context.Context, userID string, outcome types.TriggerOutcome) bool {
	if err := r.dispatcher.Dispatch(ctx, userID, &outcome); err != nil {
		r.logger.ErrorContext(ctx, "notification dispatch failed",
			"user_id", userID,
			"kind", string(outcome.Kind),
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.PublishDispatchFailure(ctx, outcome.Kind)
		}
		return false
	}
	return true
}

func (r *Runner) buildRecord(res types.EvaluationResult, outcome types.TriggerOutcome, policy types.DedupPolicy) *types.TriggerHistoryRecord {
	priority := types.PriorityNormal
	if trigger.IsUrgent(outcome.Kind) {
		priority = types.PriorityHigh
	}
	return &types.TriggerHistoryRecord{
		ID:            uuid.New().String(),
		UserID:        res.UserID,
		Kind:          outcome.Kind,
		Title:         outcome.Title,
		Message:       outcome.Message,
		LocationLabel: outcome.LocationLabel,
		Lat:           outcome.Lat,
		Lon:           outcome.Lon,
		Priority:      priority,
		Source:        res.Source,
		DedupKey:      trigger.DedupKey(outcome, policy),
		Metadata:      outcome.Metadata,
		FiredAt:       r.clock.Now(),
	}
}

// Loop drives the three cadences until the context is cancelled. A zero
// interval disables that cadence.
func (r *Runner) Loop(ctx context.Context, scheduled, realtime, cultural time.Duration) {
	tick := func(interval time.Duration, run func(context.Context) error, name string) {
		if interval <= 0 {
			return
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := run(ctx); err != nil {
					r.logger.ErrorContext(ctx, "cycle failed", "cycle", name, "error", err)
				}
			}
		}
	}

	done := make(chan struct{})
	go func() { tick(scheduled, r.RunScheduled, "scheduled"); done <- struct{}{} }()
	go func() { tick(realtime, r.RunRealtime, "realtime"); done <- struct{}{} }()
	go func() { tick(cultural, r.RunCultural, "cultural"); done <- struct{}{} }()
	<-done
	<-done
	<-done
}
