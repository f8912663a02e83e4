// Package jobs exposes the scheduled maintenance endpoints invoked by an
// external cron runner.
package jobs

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduler/internal/domain/reminder"
	"github.com/carelink/scheduler/internal/platform/joblimit"
)

// Defaults applied when a request body omits a parameter.
const (
	defaultGraceMinutes  = 30
	defaultWindowMinutes = 1440
	defaultMaxPerRun     = 100
)

// NoShowMarker marks overdue confirmed appointments as no-shows. The
// appointment service satisfies it.
type NoShowMarker interface {
	DetectAndMarkNoShows(ctx context.Context, grace time.Duration) (int, error)
}

// ReminderScheduler materializes reminder records for upcoming appointments.
type ReminderScheduler interface {
	ScheduleUpcoming(ctx context.Context, window time.Duration, limit int) (reminder.SweepStats, error)
}

// ReminderDispatcher delivers due reminders.
type ReminderDispatcher interface {
	ProcessDue(ctx context.Context, maxBatch int) (reminder.DispatchStats, error)
}

// Limits is the per-job run budget enforced by the rate limiter.
type Limits struct {
	MaxPerWindow int
	Window       time.Duration
}

// Handler exposes the job endpoints over HTTP.
type Handler struct {
	noShows    NoShowMarker
	scheduler  ReminderScheduler
	dispatcher ReminderDispatcher
	limiter    joblimit.Limiter
	limits     Limits
	logger     zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(noShows NoShowMarker, scheduler ReminderScheduler, dispatcher ReminderDispatcher, limiter joblimit.Limiter, limits Limits, logger zerolog.Logger) *Handler {
	return &Handler{
		noShows:    noShows,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		limiter:    limiter,
		limits:     limits,
		logger:     logger.With().Str("component", "jobs").Logger(),
	}
}

// RegisterRoutes registers the job routes on the given group. Cron
// authentication is applied by the caller on the group itself.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/jobs/no-show-sweep", h.HandleNoShowSweep)
	g.POST("/jobs/reminder-schedule", h.HandleReminderSchedule)
	g.POST("/jobs/reminder-dispatch", h.HandleReminderDispatch)
}

// checkLimit enforces the per-job run budget. Limiter backend errors fail
// open so a Redis outage cannot wedge the maintenance jobs.
func (h *Handler) checkLimit(c echo.Context, jobKey string) error {
	decision, err := h.limiter.Allow(c.Request().Context(), jobKey, h.limits.MaxPerWindow, h.limits.Window)
	if err != nil {
		h.logger.Warn().Err(err).Str("job", jobKey).Msg("job limiter unavailable, allowing run")
		return nil
	}
	if decision.Allowed {
		return nil
	}
	retryAfter := int(time.Until(decision.ResetAt).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":               "rate limited",
		"retry_after_seconds": retryAfter,
	})
}

type noShowRequest struct {
	GraceMinutes int `json:"grace_minutes"`
}

// HandleNoShowSweep handles POST /jobs/no-show-sweep.
func (h *Handler) HandleNoShowSweep(c echo.Context) error {
	if err := h.checkLimit(c, "no-show-sweep"); err != nil || c.Response().Committed {
		return err
	}

	req := noShowRequest{GraceMinutes: defaultGraceMinutes}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.GraceMinutes <= 0 {
		req.GraceMinutes = defaultGraceMinutes
	}

	marked, err := h.noShows.DetectAndMarkNoShows(c.Request().Context(), time.Duration(req.GraceMinutes)*time.Minute)
	if err != nil {
		h.logger.Error().Err(err).Msg("no-show sweep failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "no-show sweep failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"marked": marked})
}

type reminderScheduleRequest struct {
	WindowMinutes int `json:"window_minutes"`
	MaxPerRun     int `json:"max_per_run"`
}

// HandleReminderSchedule handles POST /jobs/reminder-schedule.
func (h *Handler) HandleReminderSchedule(c echo.Context) error {
	if err := h.checkLimit(c, "reminder-schedule"); err != nil || c.Response().Committed {
		return err
	}

	req := reminderScheduleRequest{WindowMinutes: defaultWindowMinutes, MaxPerRun: defaultMaxPerRun}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WindowMinutes <= 0 {
		req.WindowMinutes = defaultWindowMinutes
	}
	if req.MaxPerRun <= 0 {
		req.MaxPerRun = defaultMaxPerRun
	}

	stats, err := h.scheduler.ScheduleUpcoming(c.Request().Context(), time.Duration(req.WindowMinutes)*time.Minute, req.MaxPerRun)
	if err != nil {
		h.logger.Error().Err(err).Msg("reminder schedule sweep failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "reminder schedule sweep failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"scheduled":        stats.Scheduled,
		"scanned":          stats.Scanned,
		"skipped_existing": stats.SkippedExisting,
		"duration_ms":      stats.Duration.Milliseconds(),
	})
}

type reminderDispatchRequest struct {
	MaxPerRun int `json:"max_per_run"`
}

// HandleReminderDispatch handles POST /jobs/reminder-dispatch.
func (h *Handler) HandleReminderDispatch(c echo.Context) error {
	if err := h.checkLimit(c, "reminder-dispatch"); err != nil || c.Response().Committed {
		return err
	}

	req := reminderDispatchRequest{MaxPerRun: defaultMaxPerRun}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MaxPerRun <= 0 {
		req.MaxPerRun = defaultMaxPerRun
	}

	stats, err := h.dispatcher.ProcessDue(c.Request().Context(), req.MaxPerRun)
	if err != nil {
		h.logger.Error().Err(err).Msg("reminder dispatch failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "reminder dispatch failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"processed":   stats.Processed,
		"sent":        stats.Sent,
		"failed":      stats.Failed,
		"duration_ms": stats.Duration.Milliseconds(),
	})
}
