package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"citypulse/internal/trigger"
	"citypulse/internal/types"
)

// Evaluator is the single-user slice of the evaluation service.
// Implemented by *trigger.Service.
type Evaluator interface {
	EvaluateForUser(ctx context.Context, cmd trigger.EvaluateCommand) (*types.EvaluationResult, error)
}

// Deliverer records and dispatches surviving outcomes.
// Implemented by *scheduler.Runner.
type Deliverer interface {
	DeliverResult(ctx context.Context, res types.EvaluationResult) (fired, dropped int)
}

// BatchRunner exposes the batch cycles for operator-triggered runs.
// Implemented by *scheduler.Runner.
type BatchRunner interface {
	RunScheduled(ctx context.Context) error
	RunRealtime(ctx context.Context) error
	RunCultural(ctx context.Context) error
}

// --- Request/Response Models ---

// EvaluateRequest is the body for POST /v1/users/{userID}/evaluations.
// All fields are optional; an empty body evaluates the user's stored
// profile against a fresh snapshot without delivering anything.
type EvaluateRequest struct {
	Source  string `json:"source" validate:"omitempty,oneof=scheduled realtime"`
	Deliver bool   `json:"deliver"`
}

// LocationUpdateRequest is the body for POST /v1/users/{userID}/location.
type LocationUpdateRequest struct {
	Lat           float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lon           float64 `json:"lon" validate:"required,min=-180,max=180"`
	LocationLabel string  `json:"location_label" validate:"omitempty,max=120"`
}

// RunRequest is the body for POST /v1/evaluations/run.
type RunRequest struct {
	Cycle string `json:"cycle" validate:"required,oneof=scheduled realtime cultural"`
}

// OutcomeDTO is the client-facing shape of one triggered outcome.
type OutcomeDTO struct {
	Kind          types.ConditionKind `json:"condition_kind"`
	Title         string              `json:"title"`
	Message       string              `json:"message"`
	LocationLabel string              `json:"location_label,omitempty"`
	Lat           *float64            `json:"lat,omitempty"`
	Lon           *float64            `json:"lon,omitempty"`
	Metadata      types.Metadata      `json:"metadata,omitempty"`
}

// EvaluationDTO is the client-facing shape of an evaluation result.
type EvaluationDTO struct {
	UserID         string                 `json:"user_id"`
	Source         types.EvaluationSource `json:"source"`
	TotalEvaluated int                    `json:"total_evaluated"`
	TotalTriggered int                    `json:"total_triggered"`
	Outcomes       []OutcomeDTO           `json:"outcomes"`
	Dispatched     *int                   `json:"dispatched,omitempty"`
}

// --- Handler ---

// EvaluationHandler serves the evaluation endpoints.
type EvaluationHandler struct {
	evaluator Evaluator
	deliverer Deliverer
	runner    BatchRunner
	validator *Validator
	logger    *slog.Logger
}

// NewEvaluationHandler creates the handler. The deliverer and runner may be
// nil in read-only deployments; the corresponding endpoints then refuse.
func NewEvaluationHandler(evaluator Evaluator, deliverer Deliverer, runner BatchRunner, v *Validator, logger *slog.Logger) *EvaluationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationHandler{
		evaluator: evaluator,
		deliverer: deliverer,
		runner:    runner,
		validator: v,
		logger:    logger,
	}
}

// Evaluate handles POST /v1/users/{userID}/evaluations.
//
// It evaluates the user on demand and returns the surviving outcomes. With
// "deliver": true the outcomes are also recorded and dispatched. A history
// store outage degrades to the suppression-exempt outcomes with a warning
// instead of failing the request.
func (h *EvaluationHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "user ID is required", nil))
		return
	}

	var req EvaluateRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(w, r, &req); err != nil {
			Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			Error(w, r, err)
			return
		}
	}

	cmd := trigger.EvaluateCommand{
		UserID: userID,
		Source: types.EvaluationSource(req.Source),
	}

	h.respondEvaluation(w, r, cmd, req.Deliver)
}

// UpdateLocation handles POST /v1/users/{userID}/location.
//
// A location update evaluates the realtime-eligible conditions at the new
// position and delivers whatever survives deduplication.
func (h *EvaluationHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "user ID is required", nil))
		return
	}

	var req LocationUpdateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		Error(w, r, err)
		return
	}

	cmd := trigger.EvaluateCommand{
		UserID:        userID,
		Source:        types.SourceRealtime,
		Lat:           &req.Lat,
		Lon:           &req.Lon,
		LocationLabel: req.LocationLabel,
	}

	h.respondEvaluation(w, r, cmd, true)
}

// Run handles POST /v1/evaluations/run, the operator entry point for
// kicking a batch cycle outside its normal cadence.
func (h *EvaluationHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "batch runs are not enabled on this instance", nil))
		return
	}

	var req RunRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		Error(w, r, err)
		return
	}

	var err error
	switch req.Cycle {
	case "scheduled":
		err = h.runner.RunScheduled(r.Context())
	case "realtime":
		err = h.runner.RunRealtime(r.Context())
	case "cultural":
		err = h.runner.RunCultural(r.Context())
	}
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{
		"cycle":  req.Cycle,
		"status": "completed",
	}})
}

func (h *EvaluationHandler) respondEvaluation(w http.ResponseWriter, r *http.Request, cmd trigger.EvaluateCommand, deliver bool) {
	result, err := h.evaluator.EvaluateForUser(r.Context(), cmd)

	var meta *Meta
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeHistoryUnavailable && result != nil {
			// Degraded: only suppression-exempt outcomes survived.
			h.logger.WarnContext(r.Context(), "evaluation degraded by history outage",
				"user_id", cmd.UserID,
			)
			meta = &Meta{Warnings: []string{string(types.ErrCodeHistoryUnavailable)}}
		} else {
			Error(w, r, err)
			return
		}
	}

	dto := toEvaluationDTO(result)

	if deliver && h.deliverer != nil && len(result.Outcomes) > 0 {
		fired, _ := h.deliverer.DeliverResult(r.Context(), *result)
		dto.Dispatched = &fired
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: dto, Meta: meta})
}

func toEvaluationDTO(res *types.EvaluationResult) EvaluationDTO {
	outcomes := make([]OutcomeDTO, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		outcomes = append(outcomes, OutcomeDTO{
			Kind:          o.Kind,
			Title:         o.Title,
			Message:       o.Message,
			LocationLabel: o.LocationLabel,
			Lat:           o.Lat,
			Lon:           o.Lon,
			Metadata:      o.Metadata,
		})
	}
	return EvaluationDTO{
		UserID:         res.UserID,
		Source:         res.Source,
		TotalEvaluated: res.TotalEvaluated,
		TotalTriggered: res.TotalTriggered,
		Outcomes:       outcomes,
	}
}
