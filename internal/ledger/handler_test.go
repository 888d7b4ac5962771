package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewHandler(NewRepository(mock), nil), mock
}

func serve(h *Handler, method, target string, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, r)
	return rr
}

func TestCreateBundle(t *testing.T) {
	h, mock := newTestHandler(t)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO session_bundles").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 10, BundleActive, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	rr := serve(h, http.MethodPost, "/", `{"total_sessions": 10}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var b Bundle
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &b))
	assert.Equal(t, 10, b.TotalSessions)
	assert.Equal(t, 0, b.UsedSessions)
	assert.Equal(t, 10, b.RemainingSessions)
	assert.Equal(t, BundleActive, b.Status)
	assert.NotEmpty(t, b.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBundleValidation(t *testing.T) {
	h, mock := newTestHandler(t)

	rr := serve(h, http.MethodPost, "/", `{"total_sessions": 0}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(h, http.MethodPost, "/", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBundleNotFound(t *testing.T) {
	h, mock := newTestHandler(t)

	id := uuid.New()
	mock.ExpectQuery("FROM session_bundles").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	rr := serve(h, http.MethodGet, "/"+id.String(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBundleInvalidID(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := serve(h, http.MethodGet, "/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetJournal(t *testing.T) {
	h, mock := newTestHandler(t)

	bundleID := uuid.New()
	caseID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM session_bundles").
		WithArgs(bundleID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "code", "total_sessions", "used_sessions", "remaining_sessions",
			"status", "expires_at", "created_at", "updated_at",
		}).AddRow(bundleID, "BND-TEST", 10, 1, 9, BundleActive, nil, now, now))
	mock.ExpectQuery("FROM session_usage_journal").
		WithArgs(bundleID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "bundle_id", "case_id", "action", "sessions",
			"actor_id", "actor_role", "note", "created_at",
		}).AddRow(uuid.New(), bundleID, &caseID, ActionUse, 1, "user-1", "clinician", "", now))

	rr := serve(h, http.MethodGet, "/"+bundleID.String()+"/journal", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Journal []JournalEntry `json:"journal"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Journal, 1)
	assert.Equal(t, ActionUse, body.Journal[0].Action)
	require.NotNil(t, body.Journal[0].CaseID)
	assert.Equal(t, caseID, *body.Journal[0].CaseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJournalEmpty(t *testing.T) {
	h, mock := newTestHandler(t)

	bundleID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM session_bundles").
		WithArgs(bundleID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "code", "total_sessions", "used_sessions", "remaining_sessions",
			"status", "expires_at", "created_at", "updated_at",
		}).AddRow(bundleID, "BND-TEST", 10, 0, 10, BundleActive, nil, now, now))
	mock.ExpectQuery("FROM session_usage_journal").
		WithArgs(bundleID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "bundle_id", "case_id", "action", "sessions",
			"actor_id", "actor_role", "note", "created_at",
		}))

	rr := serve(h, http.MethodGet, "/"+bundleID.String()+"/journal", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"journal": []}`, rr.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
