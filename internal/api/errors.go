package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/missionctl/missionctl/internal/backend"
)

var errInvalidInput = errors.New("invalid input")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeActionError maps a failed backend mutation onto the mirror's
// error envelope.
func writeActionError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, errInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, backend.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, backend.ErrUnauthorized):
		httpError(w, http.StatusBadGateway, "upstream_auth_error", "%v", err)
	case errors.As(err, &apiErr):
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	default:
		slog.Error("board action failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
