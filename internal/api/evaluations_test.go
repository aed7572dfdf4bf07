package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citypulse/internal/trigger"
	"citypulse/internal/types"
)

// =============================================================================
// Mocks
// =============================================================================

type mockEvaluator struct {
	evaluateFn  func(ctx context.Context, cmd trigger.EvaluateCommand) (*types.EvaluationResult, error)
	capturedCmd *trigger.EvaluateCommand
}

func (m *mockEvaluator) EvaluateForUser(ctx context.Context, cmd trigger.EvaluateCommand) (*types.EvaluationResult, error) {
	m.capturedCmd = &cmd
	if m.evaluateFn != nil {
		return m.evaluateFn(ctx, cmd)
	}
	return &types.EvaluationResult{UserID: cmd.UserID, Source: cmd.Source}, nil
}

type mockDeliverer struct {
	deliverFn      func(ctx context.Context, res types.EvaluationResult) (int, int)
	deliveredCount int
}

func (m *mockDeliverer) DeliverResult(ctx context.Context, res types.EvaluationResult) (int, int) {
	m.deliveredCount++
	if m.deliverFn != nil {
		return m.deliverFn(ctx, res)
	}
	return len(res.Outcomes), 0
}

type mockBatchRunner struct {
	scheduledErr error
	calls        []string
}

func (m *mockBatchRunner) RunScheduled(ctx context.Context) error {
	m.calls = append(m.calls, "scheduled")
	return m.scheduledErr
}

func (m *mockBatchRunner) RunRealtime(ctx context.Context) error {
	m.calls = append(m.calls, "realtime")
	return nil
}

func (m *mockBatchRunner) RunCultural(ctx context.Context) error {
	m.calls = append(m.calls, "cultural")
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func newTestEvaluationHandler() (*EvaluationHandler, *mockEvaluator, *mockDeliverer, *mockBatchRunner) {
	evaluator := &mockEvaluator{}
	deliverer := &mockDeliverer{}
	runner := &mockBatchRunner{}
	h := NewEvaluationHandler(evaluator, deliverer, runner, NewValidator(), slog.Default())
	return h, evaluator, deliverer, runner
}

// withURLParam creates a chi context with URL parameters.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func triggeredResult(userID string, kinds ...types.ConditionKind) *types.EvaluationResult {
	outcomes := make([]types.TriggerOutcome, 0, len(kinds))
	for _, k := range kinds {
		outcomes = append(outcomes, types.TriggerOutcome{
			Triggered: true,
			Kind:      k,
			Title:     "title for " + string(k),
			Message:   "message for " + string(k),
		})
	}
	return &types.EvaluationResult{
		UserID:         userID,
		Outcomes:       outcomes,
		TotalEvaluated: 8,
		TotalTriggered: len(outcomes),
		Source:         types.SourceScheduled,
		EvaluatedAt:    time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
	}
}

func decodeEvaluation(t *testing.T, w *httptest.ResponseRecorder) (EvaluationDTO, *Meta) {
	t.Helper()
	var resp struct {
		Data EvaluationDTO `json:"data"`
		Meta *Meta         `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data, resp.Meta
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

// =============================================================================
// Evaluate
// =============================================================================

func TestEvaluationHandler_Evaluate_EmptyBody(t *testing.T) {
	h, evaluator, deliverer, _ := newTestEvaluationHandler()

	evaluator.evaluateFn = func(_ context.Context, cmd trigger.EvaluateCommand) (*types.EvaluationResult, error) {
		return triggeredResult(cmd.UserID, types.KindTemperatureHigh), nil
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/evaluations", nil)
	req = withURLParam(req, "userID", "usr_1")
	w := httptest.NewRecorder()

	h.Evaluate(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data, meta := decodeEvaluation(t, w)
	assert.Equal(t, "usr_1", data.UserID)
	assert.Equal(t, 8, data.TotalEvaluated)
	require.Len(t, data.Outcomes, 1)
	assert.Equal(t, types.KindTemperatureHigh, data.Outcomes[0].Kind)
	assert.Nil(t, data.Dispatched, "nothing should be dispatched without deliver flag")
	assert.Nil(t, meta)
	assert.Equal(t, 0, deliverer.deliveredCount)
}

func TestEvaluationHandler_Evaluate_WithDelivery(t *testing.T) {
	h, evaluator, deliverer, _ := newTestEvaluationHandler()

	evaluator.evaluateFn = func(_ context.Context, cmd trigger.EvaluateCommand) (*types.EvaluationResult, error) {
		return triggeredResult(cmd.UserID, types.KindTemperatureHigh, types.KindAirQualityBad), nil
	}
	deliverer.deliverFn = func(_ context.Context, res types.EvaluationResult) (int, int) {
		return 1, 1 // one suppressed by a concurrent record
	}

	body := bytes.NewBufferString(`{"source": "scheduled", "deliver": true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/evaluations", body)
	req = withURLParam(req, "userID", "usr_1")
	w := httptest.NewRecorder()

	h.Evaluate(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data, _ := decodeEvaluation(t, w)
	require.NotNil(t, data.Dispatched)
	assert.Equal(t, 1, *data.Dispatched)
	assert.Equal(t, 1, deliverer.deliveredCount)
	assert.Equal(t, types.SourceScheduled, evaluator.capturedCmd.Source)
}

func TestEvaluationHandler_Evaluate_MissingUserID(t *testing.T) {
	h, evaluator, _, _ := newTestEvaluationHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/users//evaluations", nil)
	req = withURLParam(req, "userID", "")
	w := httptest.NewRecorder()

	h.Evaluate(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeError(t, w).Code)
	assert.Nil(t, evaluator.capturedCmd)
}

func TestEvaluationHandler_Evaluate_InvalidSource(t *testing.T) {
	h, _, _, _ := newTestEvaluationHandler()

	body := bytes.NewBufferString(`{"source": "hourly"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/evaluations", body)
	req = withURLParam(req, "userID", "usr_1")
	w := httptest.NewRecorder()

	h.Evaluate(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), detail.Code)
	assert.Contains(t, detail.Details, "source")
}

func TestEvaluationHandler_Evaluate_UserNotFound(t *testing.T) {
	h, evaluator, _, _ := newTestEvaluationHandler()

	evaluator.evaluateFn = func(_ context.Context, _ trigger.EvaluateCommand) (*types.EvaluationResult, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_missing/evaluations", nil)
	req = withURLParam(req, "userID", "usr_missing")
	w := httptest.NewRecorder()

	h.Evaluate(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundUser), decodeError(t, w).Code)
}

func TestEvaluationHandler_Evaluate_HistoryOutageDegrades(t *testing.T) {
	h, evaluator, _, _ := newTestEvaluationHandler()

	evaluator.evaluateFn = func(_ context.Context, cmd trigger.EvaluateCommand) (*types.EvaluationResult, error) {
		// Suppression-exempt outcomes survive a history outage.
		res := triggeredResult(cmd.UserID, types.KindEmergencyAlert)
		return res, types.NewAppError(types.ErrCodeHistoryUnavailable, "history store unavailable", nil)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/evaluations", nil)
	req = withURLParam(req, "userID", "usr_1")
	w := httptest.NewRecorder()

	h.Evaluate(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data, meta := decodeEvaluation(t, w)
	require.Len(t, data.Outcomes, 1)
	assert.Equal(t, types.KindEmergencyAlert, data.Outcomes[0].Kind)
	require.NotNil(t, meta)
	assert.Contains(t, meta.Warnings, string(types.ErrCodeHistoryUnavailable))
}

func TestEvaluationHandler_Evaluate_UnknownField(t *testing.T) {
	h, _, _, _ := newTestEvaluationHandler()

	body := bytes.NewBufferString(`{"sauce": "scheduled"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/evaluations", body)
	req = withURLParam(req, "userID", "usr_1")
	w := httptest.NewRecorder()

	h.Evaluate(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(errCodeInvalidJSON), decodeError(t, w).Code)
}

// =============================================================================
// UpdateLocation
// =============================================================================

func TestEvaluationHandler_UpdateLocation(t *testing.T) {
	h, evaluator, deliverer, _ := newTestEvaluationHandler()

	evaluator.evaluateFn = func(_ context.Context, cmd trigger.EvaluateCommand) (*types.EvaluationResult, error) {
		res := triggeredResult(cmd.UserID, types.KindBikeShortage)
		res.Source = types.SourceRealtime
		return res, nil
	}

	body := bytes.NewBufferString(`{"lat": 37.5665, "lon": 126.978, "location_label": "City Hall"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/location", body)
	req = withURLParam(req, "userID", "usr_1")
	w := httptest.NewRecorder()

	h.UpdateLocation(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	cmd := evaluator.capturedCmd
	require.NotNil(t, cmd)
	assert.Equal(t, types.SourceRealtime, cmd.Source)
	require.NotNil(t, cmd.Lat)
	assert.InDelta(t, 37.5665, *cmd.Lat, 1e-9)
	require.NotNil(t, cmd.Lon)
	assert.InDelta(t, 126.978, *cmd.Lon, 1e-9)
	assert.Equal(t, "City Hall", cmd.LocationLabel)

	data, _ := decodeEvaluation(t, w)
	require.NotNil(t, data.Dispatched, "location updates always deliver")
	assert.Equal(t, 1, deliverer.deliveredCount)
}

func TestEvaluationHandler_UpdateLocation_InvalidCoordinates(t *testing.T) {
	h, evaluator, _, _ := newTestEvaluationHandler()

	body := bytes.NewBufferString(`{"lat": 95.0, "lon": 126.978}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/location", body)
	req = withURLParam(req, "userID", "usr_1")
	w := httptest.NewRecorder()

	h.UpdateLocation(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeError(t, w)
	assert.Contains(t, detail.Details, "lat")
	assert.Nil(t, evaluator.capturedCmd)
}

func TestEvaluationHandler_UpdateLocation_MissingBody(t *testing.T) {
	h, _, _, _ := newTestEvaluationHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/location", nil)
	req = withURLParam(req, "userID", "usr_1")
	w := httptest.NewRecorder()

	h.UpdateLocation(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(errCodeInvalidJSON), decodeError(t, w).Code)
}

// =============================================================================
// Run
// =============================================================================

func TestEvaluationHandler_Run(t *testing.T) {
	h, _, _, runner := newTestEvaluationHandler()

	body := bytes.NewBufferString(`{"cycle": "realtime"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluations/run", body)
	w := httptest.NewRecorder()

	h.Run(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"realtime"}, runner.calls)
}

func TestEvaluationHandler_Run_InvalidCycle(t *testing.T) {
	h, _, _, runner := newTestEvaluationHandler()

	body := bytes.NewBufferString(`{"cycle": "hourly"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluations/run", body)
	w := httptest.NewRecorder()

	h.Run(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, runner.calls)
}

func TestEvaluationHandler_Run_CycleError(t *testing.T) {
	h, _, _, runner := newTestEvaluationHandler()
	runner.scheduledErr = types.NewAppError(types.ErrCodeUpstreamCityData, "snapshot fetch failed", nil)

	body := bytes.NewBufferString(`{"cycle": "scheduled"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluations/run", body)
	w := httptest.NewRecorder()

	h.Run(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(types.ErrCodeUpstreamCityData), decodeError(t, w).Code)
}

// =============================================================================
// Router
// =============================================================================

func TestRouter_HealthAndRouting(t *testing.T) {
	h, evaluator, _, _ := newTestEvaluationHandler()
	evaluator.evaluateFn = func(_ context.Context, cmd trigger.EvaluateCommand) (*types.EvaluationResult, error) {
		return triggeredResult(cmd.UserID), nil
	}
	router := NewRouter(h, slog.Default())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/users/usr_1/evaluations", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "usr_1", evaluator.capturedCmd.UserID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/users/usr_1/evaluations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
