package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"citypulse/internal/types"
)

// DefaultBatchConcurrency bounds the worker pool for batch evaluation.
// Each user's evaluation is independent, so batches are embarrassingly
// parallel; the limit only protects the history store from read bursts.
const DefaultBatchConcurrency = 10

// EvaluateCommand is the input to a single-user evaluation.
type EvaluateCommand struct {
	UserID string
	// Interests optionally narrows which strategy families run. Empty
	// means the user's declared interests apply.
	Interests types.InterestList
	// Lat/Lon/LocationLabel override the user's stored home location,
	// e.g. for a realtime location update.
	Lat           *float64
	Lon           *float64
	LocationLabel string
	Source        types.EvaluationSource
	// Snapshot reuses an already-fetched snapshot across a batch. Nil
	// means the service fetches one for this call.
	Snapshot *types.Snapshot
}

// Service is the evaluation orchestrator. It runs the strategy set for a
// user in priority order, applies deduplication, and returns the surviving
// outcomes. It performs no persistence and no delivery; recording accepted
// outcomes and dispatching them belongs to the caller.
type Service struct {
	users      types.UserDirectory
	provider   types.SnapshotProvider
	resolver   *PolicyResolver
	strategies []Strategy
	clock      types.Clock
	logger     *slog.Logger

	batchConcurrency int
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Users            types.UserDirectory
	Provider         types.SnapshotProvider
	Resolver         *PolicyResolver
	Strategies       []Strategy
	Clock            types.Clock
	Logger           *slog.Logger
	BatchConcurrency int
}

// NewService creates the evaluation orchestrator. Strategies must already
// be sorted by ascending priority (NewDefaultStrategies guarantees this).
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &Service{
		users:            cfg.Users,
		provider:         cfg.Provider,
		resolver:         cfg.Resolver,
		strategies:       cfg.Strategies,
		clock:            clock,
		logger:           logger,
		batchConcurrency: concurrency,
	}
}

// EvaluateForUser runs all applicable strategies for one user and returns
// the outcomes that survived deduplication.
//
// When the history store is unreachable mid-call, the returned error is
// engine_history_store_unavailable and the returned result contains only
// the outcomes exempt from suppression (urgent / NO_CHECK conditions),
// which must still be delivered.
func (s *Service) EvaluateForUser(ctx context.Context, cmd EvaluateCommand) (*types.EvaluationResult, error) {
	user, err := s.users.FindByID(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status != types.UserStatusActive {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user is not active", nil)
	}

	snapshot := cmd.Snapshot
	if snapshot == nil {
		snapshot = s.FetchSnapshot(ctx)
	}

	tc := s.buildContext(user, cmd, snapshot)

	result := &types.EvaluationResult{
		UserID:      user.ID,
		Source:      tc.Source,
		EvaluatedAt: s.clock.Now(),
	}

	var historyErr error

	for _, strat := range s.strategies {
		if !s.applies(strat, tc) {
			continue
		}

		result.TotalEvaluated++

		outcome, evalErr := strat.Evaluate(ctx, tc)
		if evalErr != nil {
			// Downgraded to "not triggered"; the batch must never die on
			// a single strategy.
			s.logger.ErrorContext(ctx, "strategy evaluation failed",
				"user_id", user.ID,
				"kind", string(strat.SupportedType()),
				"error", evalErr,
			)
			continue
		}
		if !outcome.Triggered {
			continue
		}

		policy := s.resolver.Resolve(outcome.Kind)
		suppressed, supErr := s.resolver.ShouldSuppress(ctx, user.ID, outcome, policy)
		if supErr != nil {
			// Dedup cannot be verified. The safe default is to drop the
			// outcome and fail the call; only suppression-exempt outcomes
			// survive a history outage.
			s.logger.ErrorContext(ctx, "dedup check failed, dropping outcome",
				"user_id", user.ID,
				"kind", string(outcome.Kind),
				"error", supErr,
			)
			historyErr = supErr
			continue
		}
		if suppressed {
			s.logger.InfoContext(ctx, "outcome suppressed as duplicate",
				"user_id", user.ID,
				"kind", string(outcome.Kind),
				"check", string(policy.Check),
				"dedup_key", DedupKey(outcome, policy),
			)
			continue
		}

		result.Outcomes = append(result.Outcomes, outcome)
		result.TotalTriggered++
	}

	if historyErr != nil {
		return result, historyErr
	}
	return result, nil
}

// EvaluateAllTriggers evaluates every active user against one shared
// snapshot. A failure for one user is logged and isolated; it never aborts
// sibling evaluations.
func (s *Service) EvaluateAllTriggers(ctx context.Context) ([]types.EvaluationResult, error) {
	users, err := s.users.FindAllActive(ctx)
	if err != nil {
		return nil, err
	}
	return s.evaluateBatch(ctx, users, EvaluateCommand{Source: types.SourceScheduled})
}

// EvaluateRealtimeTriggers evaluates all active users with a known location
// against the realtime-eligible strategies only.
func (s *Service) EvaluateRealtimeTriggers(ctx context.Context) ([]types.EvaluationResult, error) {
	users, err := s.users.FindAllActive(ctx)
	if err != nil {
		return nil, err
	}
	located := make([]types.User, 0, len(users))
	for _, u := range users {
		if u.Lat != nil && u.Lon != nil {
			located = append(located, u)
		}
	}
	return s.evaluateBatch(ctx, located, EvaluateCommand{Source: types.SourceRealtime})
}

// EvaluateCulturalEventTriggers evaluates users who declared the culture
// interest, restricted to the cultural event strategy.
func (s *Service) EvaluateCulturalEventTriggers(ctx context.Context) ([]types.EvaluationResult, error) {
	users, err := s.users.FindByInterest(ctx, types.InterestCulture)
	if err != nil {
		return nil, err
	}
	return s.evaluateBatch(ctx, users, EvaluateCommand{
		Source:    types.SourceScheduled,
		Interests: types.InterestList{types.InterestCulture},
	})
}

// evaluateBatch runs per-user evaluations on a bounded worker pool. The
// snapshot is fetched once and shared read-only across the batch.
func (s *Service) evaluateBatch(ctx context.Context, users []types.User, base EvaluateCommand) ([]types.EvaluationResult, error) {
	if len(users) == 0 {
		return nil, nil
	}

	snapshot := base.Snapshot
	if snapshot == nil {
		snapshot = s.FetchSnapshot(ctx)
	}

	var mu sync.Mutex
	results := make([]types.EvaluationResult, 0, len(users))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)

	for _, u := range users {
		u := u
		g.Go(func() error {
			cmd := base
			cmd.UserID = u.ID
			cmd.Snapshot = snapshot

			res, err := s.EvaluateForUser(gCtx, cmd)
			if err != nil {
				s.logger.ErrorContext(gCtx, "user evaluation failed",
					"user_id", u.ID,
					"source", string(base.Source),
					"error", err,
				)
				// A partial result may still carry suppression-exempt
				// outcomes that must be delivered.
				if res == nil || len(res.Outcomes) == 0 {
					return nil
				}
			}

			mu.Lock()
			results = append(results, *res)
			mu.Unlock()
			return nil
		})
	}

	// Worker funcs never return errors; Wait only observes ctx cancellation.
	if err := g.Wait(); err != nil {
		return results, err
	}

	s.logger.InfoContext(ctx, "batch evaluation complete",
		"source", string(base.Source),
		"users", len(users),
		"results_with_outcomes", countWithOutcomes(results),
	)

	return results, nil
}

// FetchSnapshot assembles a point-in-time snapshot from the public-data
// provider. Individual feed failures are logged and leave that feed absent;
// strategies treat a missing feed as "condition does not hold".
func (s *Service) FetchSnapshot(ctx context.Context) *types.Snapshot {
	snap := &types.Snapshot{FetchedAt: s.clock.Now()}

	weather, err := s.provider.GetWeather(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "weather feed unavailable", "error", err)
	} else {
		snap.Weather = weather
	}

	air, err := s.provider.GetAirQuality(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "air quality feed unavailable", "error", err)
	} else {
		snap.Air = air
	}

	events, err := s.provider.GetCulturalEvents(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "cultural events feed unavailable", "error", err)
	} else {
		snap.Events = events
	}

	city, err := s.provider.GetCityData(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "city data feed unavailable", "error", err)
	} else {
		snap.City = city
	}

	return snap
}

// buildContext assembles the per-call evaluation context, preferring the
// command's location over the user's stored home location.
func (s *Service) buildContext(user *types.User, cmd EvaluateCommand, snapshot *types.Snapshot) *types.TriggerContext {
	tc := &types.TriggerContext{
		User:          user,
		Interests:     user.Interests,
		Lat:           user.Lat,
		Lon:           user.Lon,
		LocationLabel: user.LocationLabel,
		Snapshot:      snapshot,
		Source:        cmd.Source,
	}
	if cmd.Source == "" {
		tc.Source = types.SourceScheduled
	}
	if len(cmd.Interests) > 0 {
		tc.Interests = cmd.Interests
	}
	if cmd.Lat != nil && cmd.Lon != nil {
		tc.Lat = cmd.Lat
		tc.Lon = cmd.Lon
	}
	if cmd.LocationLabel != "" {
		tc.LocationLabel = cmd.LocationLabel
	}
	return tc
}

// applies decides whether a strategy participates in this evaluation:
// it must be enabled, match the user's interests (urgent conditions always
// apply), and be realtime-eligible for realtime evaluations. Strategies
// filtered out here do not count toward TotalEvaluated.
func (s *Service) applies(strat Strategy, tc *types.TriggerContext) bool {
	if !strat.IsEnabled() {
		return false
	}
	kind := strat.SupportedType()
	if tc.Source == types.SourceRealtime && !IsRealtimeEligible(kind) {
		return false
	}
	if IsUrgent(kind) {
		return true
	}
	if len(tc.Interests) == 0 {
		return false
	}
	return tc.Interests.Has(strat.Interest())
}

func countWithOutcomes(results []types.EvaluationResult) int {
	n := 0
	for _, r := range results {
		if len(r.Outcomes) > 0 {
			n++
		}
	}
	return n
}

// IsUserNotFound reports whether the error is the user-resolution failure,
// which is fatal to a single-user call but tolerated inside a batch.
func IsUserNotFound(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser
}
