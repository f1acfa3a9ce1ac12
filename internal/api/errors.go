package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/nyaysaathi/internal/counsel"
	"github.com/kalambet/nyaysaathi/internal/document"
	"github.com/kalambet/nyaysaathi/internal/drafting"
	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/resilience"
	"github.com/kalambet/nyaysaathi/internal/session"
	"github.com/kalambet/nyaysaathi/internal/storage"
)

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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto an HTTP status and error type.
func statusFor(err error) (int, string) {
	var verr *drafting.ValidationError
	var pe *resilience.ParseError
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, drafting.ErrUnknownTemplate):
		return http.StatusNotFound, "not_found_error"
	case errors.As(err, &verr), errors.Is(err, document.ErrEmpty):
		return http.StatusUnprocessableEntity, "invalid_request_error"
	case errors.Is(err, counsel.ErrNoDocument), errors.Is(err, counsel.ErrEmptyQuestion):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, document.ErrUnsupported):
		return http.StatusUnsupportedMediaType, "invalid_request_error"
	case errors.Is(err, counsel.ErrNotConfigured), errors.Is(err, drafting.ErrNotConfigured):
		return http.StatusServiceUnavailable, "unavailable_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_error"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "parse_error"
	case engine.IsTransient(err):
		return http.StatusServiceUnavailable, "upstream_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, typ := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "status", code, "error", err)
	}
	httpError(w, code, typ, "%v", err)
}
