package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mqxerror/qa-guardian/dast/graphql"
	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/postgres"
	"github.com/mqxerror/qa-guardian/dast/scan"
	"github.com/mqxerror/qa-guardian/dast/schedule"
)

func newTestServer(t *testing.T) (*Server, *postgres.Repository, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(db))

	repo := postgres.NewRepository(db)
	scans := scan.NewManager(repo, nil, &scan.SimulatedBackend{}, nil)
	schedules := schedule.NewService(repo)
	gql := graphql.NewRunner(repo, &graphql.SimulatedIntrospector{})

	srv := NewServer(repo, scans, schedules, gql)
	return srv, repo, srv.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	_, _, router := newTestServer(t)
	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartScanEndpoint(t *testing.T) {
	_, _, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scan.StartRequest{
		TargetID:  "target-1",
		TargetURL: "https://example.com",
		Profile:   model.ProfileBaseline,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var started model.Scan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.NotEmpty(t, started.ID)
	assert.Equal(t, model.StatusRunning, started.Status)

	// Poll the status endpoint until the scan finishes.
	deadline := time.Now().Add(5 * time.Second)
	var got model.Scan
	for time.Now().Before(deadline) {
		w = doJSON(t, router, http.MethodGet, "/api/v1/scans/"+started.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		if got.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, model.StatusCompleted, got.Status, got.Error)
	assert.NotEmpty(t, got.Findings)
	assert.Equal(t, 100, got.Progress.Percentage)
}

func TestStartScanRejectsBadRequests(t *testing.T) {
	_, repo, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scan.StartRequest{
		TargetID:  "target-bad",
		TargetURL: "not a url",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A running scan for the target makes further starts conflict.
	require.NoError(t, repo.CreateScan(&model.Scan{
		ID: "busy-1", TargetID: "target-busy", TargetURL: "https://example.com",
		Status: model.StatusRunning, StartedAt: time.Now(),
	}))
	w = doJSON(t, router, http.MethodPost, "/api/v1/scans", scan.StartRequest{
		TargetID:  "target-busy",
		TargetURL: "https://example.com",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelUnknownScanEndpoint(t *testing.T) {
	_, _, router := newTestServer(t)
	w := doJSON(t, router, http.MethodPost, "/api/v1/scans/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// seedCompletedScan inserts a finished scan with two findings, one of
// which matches the suppression used by the false-positive tests.
func seedCompletedScan(t *testing.T, repo *postgres.Repository, targetID string) *model.Scan {
	t.Helper()
	s := model.Scan{
		ID: "seed-" + targetID, TargetID: targetID, TargetURL: "https://example.com",
		Status: model.StatusCompleted, StartedAt: time.Now(),
		Summary: model.Summary{Total: 2, High: 1, Low: 1, ConfidenceMedium: 2},
	}
	require.NoError(t, repo.CreateScan(&s))
	for _, f := range []model.Finding{
		{ScanID: s.ID, PluginID: "40018", Name: "SQL Injection", Risk: model.RiskHigh,
			Confidence: model.ConfidenceMedium, URL: "https://example.com/search", Method: "GET", Param: "q"},
		{ScanID: s.ID, PluginID: "10021", Name: "Header Missing", Risk: model.RiskLow,
			Confidence: model.ConfidenceMedium, URL: "https://example.com/", Method: "GET"},
	} {
		require.NoError(t, repo.AppendFinding(&f))
	}
	return &s
}

func TestFalsePositiveLifecycle(t *testing.T) {
	_, repo, router := newTestServer(t)
	seeded := seedCompletedScan(t, repo, "target-fp")

	// Creating a suppression flags the matching finding in the finished
	// scan and shrinks its summary.
	w := doJSON(t, router, http.MethodPost, "/api/v1/targets/target-fp/false-positives", map[string]any{
		"plugin_id": "40018",
		"url":       "https://example.com/search",
		"param":     "q",
		"reason":    "sanitized upstream",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var fp model.FalsePositive
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fp))

	got, err := repo.GetScan(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Summary.Total)
	assert.Equal(t, 0, got.Summary.High)

	// The findings endpoint hides suppressed findings by default.
	w = doJSON(t, router, http.MethodGet, "/api/v1/scans/"+seeded.ID+"/findings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Findings []model.Finding `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Findings, 1)
	assert.Equal(t, "10021", resp.Findings[0].PluginID)

	// Deleting the suppression releases the finding again.
	w = doJSON(t, router, http.MethodDelete, "/api/v1/targets/target-fp/false-positives/"+fp.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	got, err = repo.GetScan(seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Summary.Total)
	assert.Equal(t, 1, got.Summary.High)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/targets/target-fp/false-positives/"+fp.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScheduleEndpoints(t *testing.T) {
	_, _, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/schedules", map[string]any{
		"target_id":    "target-1",
		"name":         "weekly full",
		"frequency":    "weekly",
		"hour":         3,
		"minute":       30,
		"day_of_week":  2,
		"enabled":      true,
		"scan_profile": "full",
		"target_url":   "https://example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.Schedule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "30 3 * * 2", created.CronExpression)
	require.NotNil(t, created.NextRunAt)

	w = doJSON(t, router, http.MethodPut, "/api/v1/schedules/"+created.ID, map[string]any{
		"frequency": "hourly",
		"minute":    15,
		"enabled":   true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Schedule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "15 * * * *", updated.CronExpression)

	w = doJSON(t, router, http.MethodPost, "/api/v1/schedules", map[string]any{
		"target_id": "target-1",
		"frequency": "weekly",
		"hour":      99,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/schedules/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/v1/schedules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGraphQLScanEndpoints(t *testing.T) {
	_, _, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/graphql-scans", map[string]any{
		"endpoint": "not a url",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/graphql-scans", model.GraphQLScanConfig{
		Endpoint:         "https://api.example.com/graphql",
		UseIntrospection: true,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started model.GraphQLScan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	deadline := time.Now().Add(5 * time.Second)
	var got model.GraphQLScan
	for time.Now().Before(deadline) {
		w = doJSON(t, router, http.MethodGet, "/api/v1/graphql-scans/"+started.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		if got.Status == model.GraphQLStatusCompleted || got.Status == model.GraphQLStatusFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, model.GraphQLStatusCompleted, got.Status, got.Error)
	assert.NotEmpty(t, got.Findings)
}

func TestEventsEndpoint(t *testing.T) {
	_, repo, router := newTestServer(t)
	require.NoError(t, repo.CreateEvent(&model.ScanEvent{
		EventID: "e1", ScanID: "s1", TargetID: "t1",
		Type: "scan.started", Severity: "info", Timestamp: time.Now(),
	}))

	w := doJSON(t, router, http.MethodGet, "/api/v1/events?target_id=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Events []model.ScanEvent `json:"events"`
		Count  int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}
