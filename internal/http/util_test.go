package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edgeplane/dispatchd/internal/errors"
)

func TestParseLimitOffset(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "limit=10&offset=5", 10, 5},
		{"clamped to max", "limit=9999", 2000, 0},
		{"zero limit floors to one", "limit=0", 1, 0},
		{"negative offset floors to zero", "offset=-3", 50, 0},
		{"garbage falls back to defaults", "limit=lots&offset=some", 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/jobs?"+tt.query, nil)
			lim, off := ParseLimitOffset(req, 50, 2000)
			assert.Equal(t, tt.wantLimit, lim)
			assert.Equal(t, tt.wantOffset, off)
		})
	}
}

func TestWriteAppErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"validation", apperrors.Validation("urgency out of range"), http.StatusUnprocessableEntity, "validation"},
		{"not found", apperrors.NotFound("job"), http.StatusNotFound, "not_found"},
		{"conflict", apperrors.Conflictf("job already terminal"), http.StatusConflict, "conflict"},
		{"unclassified", errors.New("pool exhausted"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAppError(rec, tt.err)

			require.Equal(t, tt.wantCode, rec.Code)
			body := decodeBody[map[string]string](t, rec)
			assert.Equal(t, tt.wantErr, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}
