package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// FreezeService is implemented by engine.FreezeManager.
type FreezeService interface {
	Freeze(ctx context.Context, env string) error
	Unfreeze(ctx context.Context, env string) error
	List(ctx context.Context) ([]string, error)
}

type FreezeHandler struct {
	service FreezeService
	logger  *zap.Logger
}

func NewFreezeHandler(s FreezeService, logger *zap.Logger) *FreezeHandler {
	return &FreezeHandler{service: s, logger: logger.Named("freeze-handler")}
}

func (h *FreezeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Put("/{env}", h.Freeze)
	r.Delete("/{env}", h.Unfreeze)
	return r
}

func (h *FreezeHandler) List(w http.ResponseWriter, r *http.Request) {
	envs, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list frozen environments", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"environments": envs})
}

func (h *FreezeHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "env")
	if env == "" {
		writeError(w, http.StatusBadRequest, "env is required")
		return
	}
	if err := h.service.Freeze(r.Context(), env); err != nil {
		h.logger.Error("failed to freeze environment", zap.String("env", env), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Warn("environment frozen", zap.String("env", env))
	w.WriteHeader(http.StatusNoContent)
}

func (h *FreezeHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "env")
	if env == "" {
		writeError(w, http.StatusBadRequest, "env is required")
		return
	}
	if err := h.service.Unfreeze(r.Context(), env); err != nil {
		h.logger.Error("failed to unfreeze environment", zap.String("env", env), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("environment unfrozen", zap.String("env", env))
	w.WriteHeader(http.StatusNoContent)
}
