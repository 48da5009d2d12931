package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBatch(t *testing.T) {
	r := NewRecorder(false)
	r.ObserveBatch("done", "", 3, 200*time.Millisecond)
	r.ObserveBatch("failed", "PartialLoadError", 1, time.Second)
	r.ObserveBatch("failed", "PartialLoadError", 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.batches.WithLabelValues("done", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.batches.WithLabelValues("failed", "PartialLoadError")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.conceptsLoaded))
	assert.Equal(t, 1, testutil.CollectAndCount(r.batchDuration))
}

func TestObserveCall(t *testing.T) {
	r := NewRecorder(false)
	r.ObserveCall("get_registry", nil)
	r.ObserveCall("get_registry", nil)
	r.ObserveCall("post_new_code", errors.New("500"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.remoteCalls.WithLabelValues("get_registry", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.remoteCalls.WithLabelValues("post_new_code", "error")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	r := NewRecorder(true)
	e := echo.New()
	e.Use(r.Middleware())
	e.GET("/metrics", r.Handler())
	e.GET("/runs/latest", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "none")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `incremental_load_http_request_duration_seconds_count{method="GET",route="/runs/latest",status="404"} 1`)
	assert.Contains(t, body, "go_goroutines")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.httpActive))
}

func TestPush(t *testing.T) {
	var mu sync.Mutex
	var method, path, body string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		mu.Lock()
		method, path, body = req.Method, req.URL.Path, string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	r := NewRecorder(false)
	r.ObserveBatch("done", "", 1, time.Second)
	require.NoError(t, r.Push(context.Background(), gw.URL, DefaultJob, "nightly"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/incremental_load"), path)
	assert.Contains(t, path, "/instance/nightly")
	assert.NotEmpty(t, body)
}

func TestPush_GatewayError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	err := NewRecorder(false).Push(context.Background(), gw.URL, DefaultJob, "")
	assert.ErrorContains(t, err, "push metrics")
}
