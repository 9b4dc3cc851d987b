package orders

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ordersafety/internal/platform/auth"
	"github.com/ehr/ordersafety/pkg/apperr"
	"github.com/ehr/ordersafety/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinicians := api.Group("", auth.RequireRole("physician", "nurse_practitioner", "physician_assistant", "resident", "nurse"))
	clinicians.POST("/orders", h.Create)
	clinicians.GET("/orders/:id", h.Get)
	clinicians.GET("/patients/:id/orders", h.ListByPatient)
	clinicians.POST("/orders/:id/sign", h.Sign)
	clinicians.POST("/orders/:id/cancel", h.Cancel)
	clinicians.POST("/orders/:id/hold", h.Hold)
	clinicians.POST("/orders/:id/resume", h.Resume)
	clinicians.POST("/orders/:id/entered-in-error", h.MarkEnteredInError)

	clinicians.POST("/orders/:id/acknowledge", h.Acknowledge)
	clinicians.POST("/orders/acknowledge", h.BulkAcknowledge)
	clinicians.POST("/orders/:id/critical/acknowledge", h.AcknowledgeCritical)
	clinicians.POST("/orders/:id/forward", h.Forward)
	clinicians.GET("/results/unacknowledged", h.ListUnacknowledged)
	clinicians.GET("/results/critical", h.ListCritical)

	lab := api.Group("", auth.RequireRole("lab_tech", "physician", "resident"))
	lab.POST("/orders/:id/lifecycle", h.UpdateLifecycleStage)
	lab.POST("/orders/:id/results", h.RecordResults)
	lab.POST("/orders/:id/amend", h.Amend)
	lab.POST("/orders/:id/critical", h.RecordCritical)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	caller, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	var in CreateOrderInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	o, err := h.svc.Create(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Sign(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	signer, err := auth.CallerID(ctx)
	if err != nil {
		return err
	}
	res, err := h.svc.Sign(ctx, id, signer, auth.RolesFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	by, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	o, err := h.svc.Cancel(c.Request().Context(), id, req.Reason, by)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Hold(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Hold(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Resume(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Resume(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) MarkEnteredInError(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	o, err := h.svc.MarkEnteredInError(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateLifecycleStage(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Stage string `json:"stage"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	o, err := h.svc.UpdateLifecycleStage(c.Request().Context(), id, req.Stage)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) RecordResults(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Results []Result `json:"results"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	o, err := h.svc.RecordResults(c.Request().Context(), id, req.Results)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Acknowledge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	by, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	o, err := h.svc.Acknowledge(c.Request().Context(), id, by)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) BulkAcknowledge(c echo.Context) error {
	var req struct {
		OrderIDs []uuid.UUID `json:"order_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	by, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	n, err := h.svc.BulkAcknowledge(c.Request().Context(), req.OrderIDs, by)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"acknowledged": n})
}

func (h *Handler) Amend(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Reason  string   `json:"reason"`
		Results []Result `json:"results"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	o, err := h.svc.Amend(c.Request().Context(), id, req.Reason, req.Results)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) RecordCritical(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		NotifiedTo uuid.UUID `json:"notified_to"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	o, err := h.svc.RecordCriticalResult(c.Request().Context(), id, req.NotifiedTo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) AcknowledgeCritical(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	by, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	o, err := h.svc.AcknowledgeCritical(c.Request().Context(), id, by)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Forward(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		RecipientID uuid.UUID `json:"recipient_id"`
		Note        string    `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	from, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	m, err := h.svc.Forward(c.Request().Context(), id, req.RecipientID, from, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

// provider is ?provider_id= when given, otherwise the caller.
func provider(c echo.Context) (uuid.UUID, error) {
	if raw := c.QueryParam("provider_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, apperr.Validation("invalid provider_id")
		}
		return id, nil
	}
	return auth.CallerID(c.Request().Context())
}

func (h *Handler) ListUnacknowledged(c echo.Context) error {
	p, err := provider(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListUnacknowledged(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListCritical(c echo.Context) error {
	p, err := provider(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListCritical(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}
