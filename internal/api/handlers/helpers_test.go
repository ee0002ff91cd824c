package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsight/arbiter-api/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteError(t *testing.T) {
	logger := discardLogger()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "field errors carry per field messages",
			err:      models.FieldErrors{"name": {"Field is required."}},
			wantCode: http.StatusBadRequest,
			wantBody: `{"errors":{"name":["Field is required."]}}`,
		},
		{
			name:     "conflict",
			err:      models.ErrConflict,
			wantCode: http.StatusBadRequest,
			wantBody: `{"errors":{"detail":["object with conflicting attributes already exists"]}}`,
		},
		{
			name:     "delete restricted",
			err:      models.ErrDeleteRestricted,
			wantCode: http.StatusBadRequest,
			wantBody: `{"errors":{"detail":["object cannot be deleted while other objects reference it"]}}`,
		},
		{
			name:     "not found",
			err:      models.ErrNotFound,
			wantCode: http.StatusNotFound,
			wantBody: `{"errors":{"detail":["object not found or access denied"]}}`,
		},
		{
			name:     "wrapped not found",
			err:      fmt.Errorf("get site: %w", models.ErrNotFound),
			wantCode: http.StatusNotFound,
			wantBody: `{"errors":{"detail":["object not found or access denied"]}}`,
		},
		{
			name:     "unexpected errors are opaque",
			err:      fmt.Errorf("connection refused"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"errors":{"detail":["Internal server error"]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, logger, tt.err, "test")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestPathID(t *testing.T) {
	call := func(raw string) (*httptest.ResponseRecorder, uuid.UUID, bool) {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("site_id", raw)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		rec := httptest.NewRecorder()
		id, ok := pathID(rec, req, "site_id")
		return rec, id, ok
	}

	t.Run("valid", func(t *testing.T) {
		want := uuid.New()
		_, id, ok := call(want.String())
		require.True(t, ok)
		assert.Equal(t, want, id)
	})

	t.Run("unparseable ids look like missing objects", func(t *testing.T) {
		rec, _, ok := call("not-a-uuid")
		require.False(t, ok)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"errors":{"detail":["object not found or access denied"]}}`, rec.Body.String())
	})
}

func TestQueryTimeRange(t *testing.T) {
	t.Run("defaults to the representable window", func(t *testing.T) {
		rec := httptest.NewRecorder()
		start, end, ok := queryTimeRange(rec, httptest.NewRequest(http.MethodGet, "/values", nil))
		require.True(t, ok)
		assert.Equal(t, models.MinTimestamp, start)
		assert.Equal(t, models.MaxTimestamp, end)
	})

	t.Run("parses explicit bounds", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/values?start=2026-01-01T00:00:00Z&end=2026-01-02T00:00:00Z", nil)
		start, end, ok := queryTimeRange(rec, req)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("rejects malformed start", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/values?start=yesterday", nil)
		_, _, ok := queryTimeRange(rec, req)
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"errors":{"start":["Invalid timestamp \"yesterday\"."]}}`, rec.Body.String())
	})

	t.Run("rejects malformed end", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/values?end=tomorrow", nil)
		_, _, ok := queryTimeRange(rec, req)
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQuerySiteID(t *testing.T) {
	t.Run("absent filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		id, ok := querySiteID(rec, httptest.NewRequest(http.MethodGet, "/forecasts", nil))
		require.True(t, ok)
		assert.Nil(t, id)
	})

	t.Run("valid filter", func(t *testing.T) {
		want := uuid.New()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/forecasts?site_id="+want.String(), nil)
		id, ok := querySiteID(rec, req)
		require.True(t, ok)
		require.NotNil(t, id)
		assert.Equal(t, want, *id)
	})

	t.Run("malformed filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/forecasts?site_id=nope", nil)
		_, ok := querySiteID(rec, req)
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDecodeBody(t *testing.T) {
	t.Run("valid json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Plant A"}`))
		var dst struct {
			Name string `json:"name"`
		}
		require.True(t, decodeBody(rec, req, &dst))
		assert.Equal(t, "Plant A", dst.Name)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var dst map[string]interface{}
		require.False(t, decodeBody(rec, req, &dst))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"errors":{"detail":["Invalid request body"]}}`, rec.Body.String())
	})
}

func TestLocationHeader(t *testing.T) {
	id := uuid.New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites", nil)
	locationHeader(rec, req, id)
	assert.Equal(t, "/api/v1/sites/"+id.String(), rec.Header().Get("Location"))
}
