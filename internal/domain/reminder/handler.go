package reminder

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes reminder records over HTTP.
type Handler struct {
	repo Repository
}

// NewHandler creates a Handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes registers reminder routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/appointments/:id/reminders", h.HandleListByAppointment)
}

// HandleListByAppointment handles GET /appointments/:id/reminders.
func (h *Handler) HandleListByAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}

	records, err := h.repo.ListByAppointment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list reminders")
	}
	if records == nil {
		records = []*Record{}
	}
	return c.JSON(http.StatusOK, records)
}
