package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/repositories/postgres"
)

type fakeRefreshStatus struct {
	ready bool
	last  *models.RefreshRun
}

func (f fakeRefreshStatus) Ready() bool                 { return f.ready }
func (f fakeRefreshStatus) LastRun() *models.RefreshRun { return f.last }

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response["data"].(map[string]interface{})
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, fakeRefreshStatus{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	data := decodeHealth(t, w)
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()
	run := models.NewRefreshRun(models.RefreshTriggerStartup).Complete([]models.ProviderRefreshResult{
		{Provider: "weather", Status: models.RefreshStatusSuccess},
		{Provider: "calendar", Status: models.RefreshStatusFailed, Error: "boom"},
	})

	t.Run("not ready before the first refresh", func(t *testing.T) {
		handler := NewHealthHandler(nil, fakeRefreshStatus{}, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		data := decodeHealth(t, w)
		assert.Equal(t, "unhealthy", data["status"])
		assert.Equal(t, "pending", data["checks"].(map[string]interface{})["refresh"])
		assert.Nil(t, data["last_refresh"])
	})

	t.Run("ready without database", func(t *testing.T) {
		handler := NewHealthHandler(nil, fakeRefreshStatus{ready: true, last: run}, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeHealth(t, w)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["refresh"])
		assert.NotContains(t, checks, "database")

		last := data["last_refresh"].(map[string]interface{})
		assert.Equal(t, "startup", last["trigger"])
		assert.Equal(t, float64(2), last["providers"])
		assert.Equal(t, float64(1), last["failures"])
	})

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		handler := NewHealthHandler(postgres.WrapDB(db, logger), fakeRefreshStatus{ready: true}, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeHealth(t, w)
		assert.Equal(t, "healthy", data["checks"].(map[string]interface{})["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		handler := NewHealthHandler(postgres.WrapDB(db, logger), fakeRefreshStatus{ready: true}, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		data := decodeHealth(t, w)
		assert.Equal(t, "unhealthy", data["checks"].(map[string]interface{})["database"])
	})
}
