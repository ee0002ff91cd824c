package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/auth"
	"github.com/gridsight/arbiter-api/internal/models"
)

// maxBodyBytes caps request bodies at 1MB.
const maxBodyBytes = 1 << 20

type errorEnvelope struct {
	Errors map[string][]string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeDetail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Errors: map[string][]string{
		"detail": {message},
	}})
}

// writeError maps service errors onto the wire. Validation failures carry
// their per-field messages; conflicts and restricted deletes are client
// errors; denied and missing objects are indistinguishable 404s.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, action string) {
	var fieldErrs models.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Errors: fieldErrs})
	case errors.Is(err, models.ErrConflict):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrDeleteRestricted):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeDetail(w, http.StatusNotFound, models.ErrNotFound.Error())
	default:
		logger.Error("request failed", "action", action, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// caller returns the authenticated user. The auth middleware guarantees it
// is present on API routes; the guard covers misrouted handlers.
func caller(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}
	return user, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		// An unparseable identifier cannot name an existing object.
		writeDetail(w, http.StatusNotFound, models.ErrNotFound.Error())
		return uuid.Nil, false
	}
	return id, true
}

// queryTimeRange parses optional start/end query parameters, defaulting to
// the representable window.
func queryTimeRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	start := models.MinTimestamp
	end := models.MaxTimestamp
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Errors: map[string][]string{
				"start": {fmt.Sprintf("Invalid timestamp %q.", raw)},
			}})
			return start, end, false
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Errors: map[string][]string{
				"end": {fmt.Sprintf("Invalid timestamp %q.", raw)},
			}})
			return start, end, false
		}
		end = t
	}
	return start, end, true
}

// querySiteID parses the optional site_id list filter.
func querySiteID(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get("site_id")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Errors: map[string][]string{
			"site_id": {fmt.Sprintf("Invalid identifier %q.", raw)},
		}})
		return nil, false
	}
	return &id, true
}

func locationHeader(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	w.Header().Set("Location", fmt.Sprintf("%s/%s", r.URL.Path, id))
}
