package availability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/scheduler/internal/interval"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/availability", h.GetAvailability)
	api.GET("/slots", h.FindSlots)
	api.POST("/availability/rules", h.CreateRule)
	api.GET("/availability/rules", h.ListRules)
	api.DELETE("/availability/rules/:id", h.DeleteRule)
	api.POST("/blackouts", h.CreateBlackout)
	api.GET("/blackouts", h.ListBlackouts)
	api.DELETE("/blackouts/:id", h.DeleteBlackout)
}

func parseWindow(c echo.Context) (interval.Interval, error) {
	start, err := time.Parse(time.RFC3339, c.QueryParam("start"))
	if err != nil {
		return interval.Interval{}, echo.NewHTTPError(http.StatusBadRequest, "invalid start (want RFC3339)")
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam("end"))
	if err != nil {
		return interval.Interval{}, echo.NewHTTPError(http.StatusBadRequest, "invalid end (want RFC3339)")
	}
	w, err := interval.New(start.UTC(), end.UTC())
	if err != nil {
		return interval.Interval{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return w, nil
}

func parseResourceID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.QueryParam("resource_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid resource_id")
	}
	return id, nil
}

func (h *Handler) GetAvailability(c echo.Context) error {
	resourceID, err := parseResourceID(c)
	if err != nil {
		return err
	}
	window, err := parseWindow(c)
	if err != nil {
		return err
	}

	free, err := h.svc.Resolve(c.Request().Context(), resourceID, window)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if free == nil {
		free = []interval.Interval{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resource_id": resourceID,
		"free":        free,
	})
}

func (h *Handler) FindSlots(c echo.Context) error {
	resourceID, err := parseResourceID(c)
	if err != nil {
		return err
	}
	window, err := parseWindow(c)
	if err != nil {
		return err
	}

	q := SlotQuery{
		ResourceID: resourceID,
		Window:     window,
		Duration:   30 * time.Minute,
		Count:      10,
	}
	if v := c.QueryParam("duration_minutes"); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil || mins < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid duration_minutes")
		}
		q.Duration = time.Duration(mins) * time.Minute
	}
	if v := c.QueryParam("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid count")
		}
		q.Count = n
	}
	if v := c.QueryParam("lead_minutes"); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil || mins < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lead_minutes")
		}
		q.MinLeadTime = time.Duration(mins) * time.Minute
	}

	slots, err := h.svc.FindSlots(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if slots == nil {
		slots = []interval.Interval{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resource_id": resourceID,
		"slots":       slots,
	})
}

func (h *Handler) CreateRule(c echo.Context) error {
	var r Rule
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRule(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListRules(c echo.Context) error {
	resourceID, err := parseResourceID(c)
	if err != nil {
		return err
	}
	rules, err := h.svc.ListRules(c.Request().Context(), resourceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rules == nil {
		rules = []*Rule{}
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *Handler) DeleteRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteRule(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "rule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateBlackout(c echo.Context) error {
	var b Blackout
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBlackout(c.Request().Context(), &b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBlackouts(c echo.Context) error {
	resourceID, err := parseResourceID(c)
	if err != nil {
		return err
	}
	window, err := parseWindow(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListBlackouts(c.Request().Context(), resourceID, window)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Blackout{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteBlackout(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteBlackout(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrBlackoutNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "blackout not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
