package escalation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ordersafety/internal/platform/auth"
	"github.com/ehr/ordersafety/pkg/apperr"
	"github.com/ehr/ordersafety/pkg/pagination"
)

type Handler struct {
	svc    *Service
	engine *Engine
	now    func() time.Time
}

func NewHandler(svc *Service, engine *Engine) *Handler {
	return &Handler{svc: svc, engine: engine, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("physician", "nurse", "nurse_practitioner", "physician_assistant", "resident", "charge_nurse"))
	read.GET("/escalation-rules", h.ListRules)
	read.GET("/escalation-rules/:id", h.GetRule)
	read.GET("/escalation-events", h.ListEvents)
	read.POST("/escalation-events/:id/acknowledge", h.AcknowledgeEvent)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/escalation-rules", h.CreateRule)
	admin.PUT("/escalation-rules/:id", h.UpdateRule)
	admin.POST("/escalation/run", h.Run)
}

func (h *Handler) CreateRule(c echo.Context) error {
	var in RuleInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	r, err := h.svc.CreateRule(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var in RuleInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	r, err := h.svc.UpdateRule(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	r, err := h.svc.GetRule(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

// ListRules returns every rule, or only active ones with ?active=true.
func (h *Handler) ListRules(c echo.Context) error {
	activeOnly := c.QueryParam("active") == "true"
	items, err := h.svc.ListRules(c.Request().Context(), activeOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := EventFilter{Limit: pg.Limit, Offset: pg.Offset}
	if raw := c.QueryParam("acknowledged"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return apperr.Validation("invalid acknowledged: %s", raw)
		}
		f.Acknowledged = &v
	}
	if raw := c.QueryParam("source_type"); raw != "" {
		f.SourceType = &raw
	}
	items, total, err := h.svc.ListEvents(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) AcknowledgeEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	e, err := h.svc.AcknowledgeEvent(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

// Run triggers one engine pass in the caller's tenant.
func (h *Handler) Run(c echo.Context) error {
	report, err := h.engine.Run(c.Request().Context(), h.now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
