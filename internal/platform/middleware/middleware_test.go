package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStack(buf *bytes.Buffer, quiet ...string) *echo.Echo {
	logger := zerolog.New(buf).Level(zerolog.InfoLevel)
	e := echo.New()
	e.Use(RequestID(), Logger(logger, quiet...), Recovery(logger), SecurityHeaders())
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/panic", func(c echo.Context) error { panic("test panic") })
	e.POST("/runs", func(c echo.Context) error { return echo.NewHTTPError(http.StatusConflict, "busy") })
	return e
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestRequestID_GeneratesNew(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newStack(&buf).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	rid := rec.Header().Get(RequestIDHeader)
	assert.Len(t, rid, 36)
	assert.Equal(t, rid, lastLine(t, &buf)["request_id"])
}

func TestRequestID_PreservesExisting(t *testing.T) {
	var buf bytes.Buffer
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	newStack(&buf).ServeHTTP(rec, req)

	assert.Equal(t, "my-custom-id", rec.Header().Get(RequestIDHeader))
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newStack(&buf).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	line := lastLine(t, &buf)
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/ok", line["path"])
	assert.EqualValues(t, 200, line["status"])
}

func TestLogger_HTTPErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newStack(&buf).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	line := lastLine(t, &buf)
	assert.Equal(t, "warn", line["level"])
	assert.EqualValues(t, 409, line["status"])
}

func TestLogger_QuietPaths(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newStack(&buf, "/health").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, buf.String(), "debug lines are below the logger level")
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newStack(&buf).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "test panic")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, rec.Header().Get(RequestIDHeader), body["request_id"])
	assert.Equal(t, float64(http.StatusInternalServerError), lastLine(t, &buf)["status"])
}

func TestSecurityHeaders(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newStack(&buf).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
