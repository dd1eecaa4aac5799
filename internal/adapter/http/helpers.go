package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/projectchat/internal/domain"
	"github.com/Strob0t/projectchat/internal/port/completion"
	"github.com/Strob0t/projectchat/internal/resilience"
)

// retryAfterSeconds is advertised on retriable upstream failures.
const retryAfterSeconds = 5

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// idParam returns the "id" URL parameter, writing a 400 when it is not a UUID.
func idParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		writeError(w, http.StatusBadRequest, "invalid identifier format")
		return "", false
	}
	return id, true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps service errors onto status codes. Retriable gateway
// failures carry a Retry-After header.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	if completion.IsRetriable(err) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimSuffix(err.Error(), ": "+domain.ErrValidation.Error())
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "resource was modified by another request")
	case errors.Is(err, completion.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "language model timed out")
	case errors.Is(err, completion.ErrRateLimit):
		writeError(w, http.StatusTooManyRequests, "language model rate limited")
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, completion.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "language model unavailable")
	case errors.Is(err, completion.ErrProtocol):
		slog.ErrorContext(r.Context(), "completion protocol error", "error", err)
		writeError(w, http.StatusBadGateway, "invalid response from language model")
	case errors.Is(err, domain.ErrPersistence):
		slog.ErrorContext(r.Context(), "persistence failure", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeInternalError(w, r, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
