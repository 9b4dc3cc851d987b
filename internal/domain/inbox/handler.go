package inbox

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
	g := api.Group("/inbox", auth.RequireRole("physician", "nurse", "nurse_practitioner", "physician_assistant", "resident", "pharmacist", "lab_tech"))
	g.GET("", h.List)
	g.POST("", h.Send)
	g.POST("/:id/read", h.MarkRead)
}

// List returns the caller's inbox. Admins may pass ?recipient_id= to view
// another user's.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	recipient, err := auth.CallerID(ctx)
	if raw := c.QueryParam("recipient_id"); raw != "" {
		id, perr := uuid.Parse(raw)
		if perr != nil {
			return apperr.Validation("invalid recipient_id")
		}
		if id != recipient && !auth.HasAnyRole(auth.RolesFromContext(ctx), "admin") {
			return apperr.Authorization("cannot read another user's inbox")
		}
		recipient, err = id, nil
	}
	if err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByRecipient(ctx, recipient, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Send(c echo.Context) error {
	sender, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	var in SendInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	m, err := h.svc.Send(c.Request().Context(), &sender, in, CategoryMessages)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	reader, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	m, err := h.svc.MarkRead(c.Request().Context(), id, reader)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}
