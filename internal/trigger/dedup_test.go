package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citypulse/internal/types"
)

// mockClock implements types.Clock for deterministic testing.
type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

// memHistory is an in-memory TriggerHistoryStore for tests. When failWith
// is set, every call returns that error.
type memHistory struct {
	mu       sync.Mutex
	records  []types.TriggerHistoryRecord
	failWith error
}

func (h *memHistory) matches(r types.TriggerHistoryRecord, userID string, kind types.ConditionKind, dedupKey string, since time.Time) bool {
	if r.UserID != userID || r.Kind != kind {
		return false
	}
	if dedupKey != "" && r.DedupKey != dedupKey {
		return false
	}
	if !since.IsZero() && r.FiredAt.Before(since) {
		return false
	}
	return true
}

func (h *memHistory) Exists(_ context.Context, userID string, kind types.ConditionKind, dedupKey string, since time.Time) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return false, h.failWith
	}
	for _, r := range h.records {
		if h.matches(r, userID, kind, dedupKey, since) {
			return true, nil
		}
	}
	return false, nil
}

func (h *memHistory) Append(_ context.Context, rec *types.TriggerHistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return h.failWith
	}
	h.records = append(h.records, *rec)
	return nil
}

func (h *memHistory) AppendIfAbsent(ctx context.Context, rec *types.TriggerHistoryRecord, since time.Time) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return false, h.failWith
	}
	for _, r := range h.records {
		if h.matches(r, rec.UserID, rec.Kind, rec.DedupKey, since) {
			return false, nil
		}
	}
	h.records = append(h.records, *rec)
	return true, nil
}

func newTestResolver(history *memHistory, now time.Time) *PolicyResolver {
	return NewPolicyResolver(history, &mockClock{now: now}, nil)
}

func TestResolve_ExplicitMappings(t *testing.T) {
	r := newTestResolver(&memHistory{}, time.Now())

	assert.Equal(t, types.CheckNone, r.Resolve(types.KindEmergencyAlert).Check)
	assert.Equal(t, types.CheckUniqueIdentifier, r.Resolve(types.KindCulturalEvent).Check)
	assert.Equal(t, MetaKeyCulturalEventID, r.Resolve(types.KindCulturalEvent).UniqueIDKey)
	assert.Equal(t, types.CheckLocationBased, r.Resolve(types.KindBikeShortage).Check)
	assert.Equal(t, time.Hour, r.Resolve(types.KindBikeShortage).Window)
	assert.Equal(t, types.CheckConditionBased, r.Resolve(types.KindTemperatureHigh).Check)
	assert.Equal(t, 30*time.Minute, r.Resolve(types.KindTemperatureHigh).Window)
}

func TestResolve_UnmappedKindFallsBackToDefault(t *testing.T) {
	r := newTestResolver(&memHistory{}, time.Now())

	p := r.Resolve(types.ConditionKind("brand_new_condition"))
	assert.Equal(t, types.CheckConditionBased, p.Check)
	assert.Equal(t, DefaultDedupWindow, p.Window)
}

func TestShouldSuppress_NoCheckNeverSuppresses(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	history := &memHistory{}
	r := newTestResolver(history, now)

	outcome := types.TriggerOutcome{Triggered: true, Kind: types.KindEmergencyAlert}
	policy := r.Resolve(types.KindEmergencyAlert)

	// Seed history with a matching record; NO_CHECK must ignore it.
	require.NoError(t, history.Append(context.Background(), &types.TriggerHistoryRecord{
		UserID: "u1", Kind: types.KindEmergencyAlert, FiredAt: now.Add(-time.Minute),
	}))

	suppressed, err := r.ShouldSuppress(context.Background(), "u1", outcome, policy)
	require.NoError(t, err)
	assert.False(t, suppressed)

	// Even a failing history store cannot block a NO_CHECK outcome.
	history.failWith = errors.New("db down")
	suppressed, err = r.ShouldSuppress(context.Background(), "u1", outcome, policy)
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestShouldSuppress_UniqueIdentifierIsPermanent(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	history := &memHistory{}

	outcome := types.TriggerOutcome{
		Triggered: true,
		Kind:      types.KindCulturalEvent,
		Metadata:  map[string]string{MetaKeyCulturalEventID: "E1"},
	}

	r := newTestResolver(history, now)
	policy := r.Resolve(types.KindCulturalEvent)

	suppressed, err := r.ShouldSuppress(context.Background(), "u1", outcome, policy)
	require.NoError(t, err)
	assert.False(t, suppressed, "no history yet")

	require.NoError(t, history.Append(context.Background(), &types.TriggerHistoryRecord{
		UserID: "u1", Kind: types.KindCulturalEvent, DedupKey: "E1", FiredAt: now,
	}))

	// A year minus a day later the same event id is still suppressed.
	later := newTestResolver(history, now.AddDate(1, 0, -1))
	suppressed, err = later.ShouldSuppress(context.Background(), "u1", outcome, policy)
	require.NoError(t, err)
	assert.True(t, suppressed)

	// A different event id is never suppressed by E1's record.
	other := types.TriggerOutcome{
		Triggered: true,
		Kind:      types.KindCulturalEvent,
		Metadata:  map[string]string{MetaKeyCulturalEventID: "E2"},
	}
	suppressed, err = later.ShouldSuppress(context.Background(), "u1", other, policy)
	require.NoError(t, err)
	assert.False(t, suppressed)

	// Nor is the same event suppressed for a different user.
	suppressed, err = later.ShouldSuppress(context.Background(), "u2", outcome, policy)
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestShouldSuppress_LocationBasedWindow(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	history := &memHistory{}

	require.NoError(t, history.Append(context.Background(), &types.TriggerHistoryRecord{
		UserID: "u1", Kind: types.KindBikeShortage, DedupKey: "ST-101", FiredAt: now,
	}))

	outcome := types.TriggerOutcome{
		Triggered:     true,
		Kind:          types.KindBikeShortage,
		LocationLabel: "ST-101",
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"immediately after", now.Add(time.Minute), true},
		{"just inside window", now.Add(59 * time.Minute), true},
		{"exactly at window edge", now.Add(time.Hour), true},
		{"outside window", now.Add(61 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(history, tt.at)
			policy := r.Resolve(types.KindBikeShortage)
			suppressed, err := r.ShouldSuppress(context.Background(), "u1", outcome, policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, suppressed)
		})
	}

	// A different station within the window is not suppressed.
	r := newTestResolver(history, now.Add(time.Minute))
	other := types.TriggerOutcome{
		Triggered:     true,
		Kind:          types.KindBikeShortage,
		LocationLabel: "ST-202",
	}
	suppressed, err := r.ShouldSuppress(context.Background(), "u1", other, r.Resolve(types.KindBikeShortage))
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestShouldSuppress_ConditionBasedWindow(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	history := &memHistory{}

	require.NoError(t, history.Append(context.Background(), &types.TriggerHistoryRecord{
		UserID: "u1", Kind: types.KindTemperatureHigh, FiredAt: now,
	}))

	outcome := types.TriggerOutcome{Triggered: true, Kind: types.KindTemperatureHigh}

	within := newTestResolver(history, now.Add(29*time.Minute))
	suppressed, err := within.ShouldSuppress(context.Background(), "u1", outcome, within.Resolve(outcome.Kind))
	require.NoError(t, err)
	assert.True(t, suppressed)

	after := newTestResolver(history, now.Add(31*time.Minute))
	suppressed, err = after.ShouldSuppress(context.Background(), "u1", outcome, after.Resolve(outcome.Kind))
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestShouldSuppress_HistoryFailureSurfacesAsUnavailable(t *testing.T) {
	history := &memHistory{failWith: errors.New("connection refused")}
	r := newTestResolver(history, time.Now())

	outcome := types.TriggerOutcome{Triggered: true, Kind: types.KindTemperatureHigh}
	_, err := r.ShouldSuppress(context.Background(), "u1", outcome, r.Resolve(outcome.Kind))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeHistoryUnavailable, appErr.Code)
}

func TestShouldSuppress_MissingUniqueIdentifierDelivers(t *testing.T) {
	history := &memHistory{}
	r := newTestResolver(history, time.Now())

	outcome := types.TriggerOutcome{Triggered: true, Kind: types.KindCulturalEvent}
	suppressed, err := r.ShouldSuppress(context.Background(), "u1", outcome, r.Resolve(outcome.Kind))
	require.NoError(t, err)
	assert.False(t, suppressed)
}
