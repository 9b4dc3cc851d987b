package delegation

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
	g := api.Group("", auth.RequireRole("physician", "nurse", "nurse_practitioner", "physician_assistant", "resident", "pharmacist", "lab_tech"))
	g.POST("/delegations", h.CreateDelegation)
	g.DELETE("/delegations/:id", h.RevokeDelegation)
	g.GET("/delegations/granted", h.ListGranted)
	g.GET("/delegations/received", h.ListReceived)

	g.GET("/out-of-office", h.GetOutOfOffice)
	g.PUT("/out-of-office", h.SetOutOfOffice)
	g.DELETE("/out-of-office", h.ClearOutOfOffice)
}

// subject is the caller, or the user named by ?user_id= when an admin acts
// on someone's behalf.
func subject(c echo.Context) (uuid.UUID, error) {
	ctx := c.Request().Context()
	if raw := c.QueryParam("user_id"); raw != "" {
		if !auth.HasAnyRole(auth.RolesFromContext(ctx), "admin") {
			return uuid.Nil, apperr.Authorization("only an admin may act for another user")
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, apperr.Validation("invalid user_id")
		}
		return id, nil
	}
	return auth.CallerID(ctx)
}

func (h *Handler) CreateDelegation(c echo.Context) error {
	delegator, err := subject(c)
	if err != nil {
		return err
	}
	var in CreateDelegationInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	d, err := h.svc.CreateDelegation(c.Request().Context(), delegator, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) RevokeDelegation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	requester, err := auth.CallerID(c.Request().Context())
	if err != nil {
		return err
	}
	d, err := h.svc.RevokeDelegation(c.Request().Context(), id, requester)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListGranted(c echo.Context) error {
	userID, err := subject(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListGranted(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListReceived(c echo.Context) error {
	userID, err := subject(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReceived(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetOutOfOffice(c echo.Context) error {
	userID, err := subject(c)
	if err != nil {
		return err
	}
	o, err := h.svc.GetOutOfOffice(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) SetOutOfOffice(c echo.Context) error {
	userID, err := subject(c)
	if err != nil {
		return err
	}
	var in SetOutOfOfficeInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	o, err := h.svc.SetOutOfOffice(c.Request().Context(), userID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ClearOutOfOffice(c echo.Context) error {
	userID, err := subject(c)
	if err != nil {
		return err
	}
	if err := h.svc.ClearOutOfOffice(c.Request().Context(), userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
