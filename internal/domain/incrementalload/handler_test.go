package incrementalload

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

func setupHandler(t *testing.T, e *env, hooks ...ReportHook) (*echo.Echo, *Handler) {
	t.Helper()
	h := NewHandler(e.orchestrator(1), zerolog.Nop(), hooks...)
	srv := echo.New()
	h.RegisterRoutes(srv.Group("/api/v1"))
	return srv, h
}

func TestHandler_LatestRunBeforeAnyRun(t *testing.T) {
	srv, _ := setupHandler(t, newEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_TriggerRunAndWait(t *testing.T) {
	e := newEnv(t)
	e.addConceptMap("Condition", "", 1, roninConditionSystem)
	e.addErrors("ronin", "Condition", "test_concept_1")

	var hooked *Report
	srv, _ := setupHandler(t, e, func(_ context.Context, r *Report) { hooked = r })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs?wait=true", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Batches, 1)
	assert.Equal(t, StateDone, report.Batches[0].State)
	require.NotNil(t, hooked)
	assert.Equal(t, report.RunID, hooked.RunID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status runStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	require.NotNil(t, status.Report)
	assert.Equal(t, report.RunID, status.Report.RunID)
}

func TestHandler_TriggerRunFailure(t *testing.T) {
	e := newEnv(t)
	e.source.readErr = errors.New("database unavailable")
	called := false
	srv, _ := setupHandler(t, e, func(context.Context, *Report) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs?wait=true", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, called)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "database unavailable")
}

func TestHandler_ConflictWhileRunning(t *testing.T) {
	srv, h := setupHandler(t, newEnv(t))
	h.running = true

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_TriggerRunInBackground(t *testing.T) {
	e := newEnv(t)
	done := make(chan *Report, 1)
	srv, _ := setupHandler(t, e, func(_ context.Context, r *Report) { done <- r })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	r := <-done
	assert.Empty(t, r.Batches)
}

// cancelAfterNewCode cancels once the first new_code POST has completed.
type cancelAfterNewCode struct {
	next   http.RoundTripper
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelAfterNewCode) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.next.RoundTrip(req)
	if req.Method == http.MethodPost && req.URL.Path == "/terminology/new_code" {
		c.once.Do(c.cancel)
	}
	return resp, err
}

func TestHandler_WaitedRunOutlivesClient(t *testing.T) {
	e := newEnv(t)
	e.addConceptMap("Condition", "", 1, roninConditionSystem)
	e.addErrors("ronin", "Condition", "test_concept_1", "test_concept_2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := terminologyapi.NewClient(terminologyapi.Config{BaseURL: e.srv.URL, Timeout: 5 * time.Second}, zerolog.Nop(),
		terminologyapi.WithHTTPClient(&http.Client{Transport: &cancelAfterNewCode{next: http.DefaultTransport, cancel: cancel}}))
	orc := NewOrchestrator(e.source, NewServices(client, zerolog.Nop()), Options{Concurrency: 1}, zerolog.Nop())

	srv := echo.New()
	NewHandler(orc, zerolog.Nop()).RegisterRoutes(srv.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs?wait=true", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Error(t, ctx.Err(), "request context was canceled mid-run")

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Batches, 1)
	assert.Equal(t, StateDone, report.Batches[0].State, report.Batches[0].Detail)
	assert.False(t, report.Batches[0].PartialState)
	assert.Len(t, e.srv.Codes(), 2)
	assert.Len(t, e.srv.Published(), 2)
}
