package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sid-Lais/cloudara/api/internal/dispatch"
	"github.com/Sid-Lais/cloudara/api/internal/domain"
	"github.com/Sid-Lais/cloudara/api/internal/repository"
	"github.com/Sid-Lais/cloudara/api/internal/service/project"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeSuccess wraps data in the {status, data} envelope.
func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"status": "success", "data": data})
}

// statusFromError maps service errors to a status code and a client-safe message.
func statusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, dispatch.ErrDispatch):
		return http.StatusBadGateway, "build dispatch failed"
	case errors.Is(err, project.ErrSubdomainExhausted):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status, msg := statusFromError(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	}
	writeError(w, status, msg)
}
