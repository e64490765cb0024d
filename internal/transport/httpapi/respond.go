package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/auth"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, kind string, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// writeServiceError maps a use-case error onto its HTTP status. Internal
// failures are logged and reported without detail.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error(ctx, "request failed",
			slog.Int("status", status),
			slog.String("kind", kind),
			slog.Any("err", errs.Loggable(err)),
		)
		writeError(w, status, kind, http.StatusText(status))
		return
	}
	writeError(w, status, kind, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}

	kind := errs.Kind(err)
	switch kind {
	case "validation":
		return http.StatusUnprocessableEntity, kind
	case "invalid_action":
		return http.StatusBadRequest, kind
	case "not_found":
		return http.StatusNotFound, kind
	case "invalid_state":
		return http.StatusConflict, kind
	case "storage":
		return http.StatusServiceUnavailable, kind
	}
	return http.StatusInternalServerError, "internal"
}

// decodeJSON reads at most limit bytes of body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("request body exceeds %d bytes", limit))
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "bad_request", "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		}
		return false
	}
	return true
}
