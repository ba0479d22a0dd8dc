package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/domain"
	"github.com/xela07ax/pipeline-approval-relay/internal/infra/auth"
	"github.com/xela07ax/pipeline-approval-relay/internal/pipeline"
)

// ApprovalRelay is what the handler needs from engine.Relay.
type ApprovalRelay interface {
	Handle(ctx context.Context, event domain.InvocationEvent) (*domain.Decision, error)
}

type ApprovalHandler struct {
	relay  ApprovalRelay
	logger *zap.Logger
}

func NewApprovalHandler(relay ApprovalRelay, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{relay: relay, logger: logger.Named("approval-handler")}
}

// Decide accepts the same body as the Lambda event: {"env","status","summary"}.
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var event domain.InvocationEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		h.logger.Info("approval requested",
			zap.String("user_id", claims.UserID),
			zap.String("env", event.Env),
			zap.String("status", string(event.Status)),
		)
	}

	decision, err := h.relay.Handle(r.Context(), event)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

func statusFor(err error) int {
	var tErr *pipeline.ThrottleError
	switch {
	case errors.Is(err, domain.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStageNotFound),
		errors.Is(err, domain.ErrActionNotFound),
		errors.Is(err, domain.ErrNoPendingApproval),
		errors.Is(err, pipeline.ErrPipelineNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadySubmitted),
		errors.Is(err, domain.ErrEnvironmentFrozen),
		errors.Is(err, pipeline.ErrTokenRejected):
		return http.StatusConflict
	case errors.As(err, &tErr),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
