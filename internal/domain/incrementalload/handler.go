package incrementalload

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ReportHook runs after every completed run triggered through the Handler.
type ReportHook func(ctx context.Context, r *Report)

// Handler exposes run triggering and the latest report over HTTP. At most
// one run is active at a time.
type Handler struct {
	orc    *Orchestrator
	hooks  []ReportHook
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	latest  *Report
	lastErr string
}

// NewHandler creates a new run handler.
func NewHandler(orc *Orchestrator, logger zerolog.Logger, hooks ...ReportHook) *Handler {
	return &Handler{orc: orc, hooks: hooks, logger: logger}
}

// RegisterRoutes registers run routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/runs", h.TriggerRun)
	g.GET("/runs/latest", h.LatestRun)
}

type runStatus struct {
	Running bool    `json:"running"`
	Error   string  `json:"error,omitempty"`
	Report  *Report `json:"report,omitempty"`
}

// TriggerRun handles POST /runs. The run is started in the background and
// 202 is returned; with ?wait=true the handler blocks and returns the report.
func (h *Handler) TriggerRun(c echo.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	h.running = true
	h.mu.Unlock()

	if c.QueryParam("wait") == "true" {
		// A client that goes away must not stop a run halfway through its
		// mutations.
		report, err := h.execute(context.WithoutCancel(c.Request().Context()))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.JSON(http.StatusOK, report)
	}

	go func() {
		if _, err := h.execute(context.Background()); err != nil {
			h.logger.Error().Err(err).Msg("background run failed")
		}
	}()
	return c.JSON(http.StatusAccepted, runStatus{Running: true})
}

// LatestRun handles GET /runs/latest.
func (h *Handler) LatestRun(c echo.Context) error {
	h.mu.Lock()
	status := runStatus{Running: h.running, Error: h.lastErr, Report: h.latest}
	h.mu.Unlock()

	if status.Report == nil && status.Error == "" && !status.Running {
		return echo.NewHTTPError(http.StatusNotFound, "no run has completed yet")
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) execute(ctx context.Context) (*Report, error) {
	start := time.Now()
	report, err := h.orc.Run(ctx)

	h.mu.Lock()
	h.running = false
	if err != nil {
		h.lastErr = err.Error()
	} else {
		h.lastErr = ""
		h.latest = report
	}
	h.mu.Unlock()

	if err != nil {
		return nil, err
	}
	for _, hook := range h.hooks {
		hook(ctx, report)
	}
	h.logger.Info().Str("run_id", report.RunID.String()).Dur("elapsed", time.Since(start)).Msg("run completed")
	return report, nil
}
