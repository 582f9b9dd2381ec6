// Package httpapi exposes the engine over HTTP for daemon deployments. It
// is a thin mapping layer: requests become engine calls, error kinds become
// status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aleksih/kesto/pkg/api"
)

// Handler serves the engine's operations over HTTP.
type Handler struct {
	engine api.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler builds the route table for the given engine. If logger is nil,
// slog.Default() is used.
func NewHandler(engine api.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{engine: engine, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /workflows/{name}/contexts", h.handleCreate)
	h.mux.HandleFunc("GET /contexts/{id}", h.handleGetContext)
	h.mux.HandleFunc("POST /contexts/{id}/run", h.handleRun)
	h.mux.HandleFunc("POST /contexts/{id}/suspend", h.handleSuspend)
	h.mux.HandleFunc("POST /contexts/{id}/cancel", h.handleCancel)
	h.mux.HandleFunc("GET /snapshots", h.handleListSnapshots)
	h.mux.HandleFunc("GET /snapshots/{id}", h.handleGetSnapshot)
	h.mux.HandleFunc("DELETE /snapshots/{id}", h.handleDeleteSnapshot)
	h.mux.HandleFunc("POST /snapshots/{id}/resume", h.handleResume)
	h.mux.HandleFunc("POST /events/{name}", h.handleDeliver)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// contextView is the JSON rendering of an execution context. The Err field
// of the context does not marshal itself, so it is flattened to a string.
type contextView struct {
	ID            string             `json:"id"`
	WorkflowName  string             `json:"workflow_name"`
	StepIndex     int                `json:"step_index"`
	MaxSteps      int                `json:"max_steps"`
	Variables     map[string]any     `json:"variables"`
	Status        api.Status         `json:"status"`
	SuspendReason *api.SuspendReason `json:"suspend_reason,omitempty"`
	SnapshotID    string             `json:"snapshot_id,omitempty"`
	Output        any                `json:"output,omitempty"`
	Error         string             `json:"error,omitempty"`
	History       []api.StepOutcome  `json:"history,omitempty"`
}

func viewOf(ec *api.ExecutionContext) contextView {
	v := contextView{
		ID:            ec.ID,
		WorkflowName:  ec.WorkflowName,
		StepIndex:     ec.StepIndex,
		MaxSteps:      ec.MaxSteps,
		Variables:     ec.Variables,
		Status:        ec.Status,
		SuspendReason: ec.SuspendReason,
		SnapshotID:    ec.SnapshotID,
		Output:        ec.Output,
		History:       ec.History,
	}
	if ec.Err != nil {
		v.Error = ec.Err.Error()
	}
	return v
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Variables map[string]any `json:"variables"`
		MaxSteps  int            `json:"max_steps"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	ec, err := h.engine.Create(r.Context(), r.PathValue("name"), body.Variables, body.MaxSteps)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, viewOf(ec))
}

func (h *Handler) handleGetContext(w http.ResponseWriter, r *http.Request) {
	ec, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(ec))
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ec, err := h.engine.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(ec))
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	snapID, err := h.engine.Suspend(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"snapshot_id": snapID})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ec, err := h.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(ec))
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.engine.Snapshots().List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []api.SnapshotSummary{}
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshots().Load(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Snapshots().Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	var payload *api.ResumePayload
	if r.ContentLength != 0 {
		payload = &api.ResumePayload{}
		if err := decodeBody(r, payload); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	ec, err := h.engine.Resume(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(ec))
}

func (h *Handler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data any `json:"data"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	resumed, err := h.engine.Deliver(r.Context(), r.PathValue("name"), body.Data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]contextView, 0, len(resumed))
	for _, ec := range resumed {
		views = append(views, viewOf(ec))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"resumed": views,
	})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return api.WrapError(api.KindValidation, err, "invalid JSON body")
	}
	return nil
}

// errorBody is the structured error response. FailedAtStep and
// CompensatedSteps are populated for compensation failures only.
type errorBody struct {
	Kind             api.ErrorKind `json:"kind"`
	Message          string        `json:"message"`
	FailedAtStep     string        `json:"failed_at_step,omitempty"`
	CompensatedSteps []string      `json:"compensated_steps,omitempty"`
}

// statusFor maps error kinds to HTTP status codes. Precondition failures
// and lost resume races are both conflicts from the caller's point of view:
// retry later, or not at all.
func statusFor(err error) int {
	switch api.KindOf(err) {
	case api.KindValidation:
		return http.StatusBadRequest
	case api.KindNotFound:
		return http.StatusNotFound
	case api.KindPreconditionNotMet, api.KindConcurrencyConflict:
		return http.StatusConflict
	case api.KindStepExecution, api.KindTimeout, api.KindStepBudgetExceeded:
		return http.StatusInternalServerError
	case api.KindCompensation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Kind: api.KindOf(err), Message: err.Error()}
	if body.Kind == "" {
		body.Kind = api.KindStepExecution
	}

	var kerr *api.Error
	if errors.As(err, &kerr) && kerr.Kind == api.KindCompensation {
		body.FailedAtStep = kerr.FailedAtStep
		body.CompensatedSteps = kerr.CompensatedSteps
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("response encoding failed", slog.Any("error", err))
	}
}
