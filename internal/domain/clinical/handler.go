package clinical

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ordersafety/internal/platform/auth"
	"github.com/ehr/ordersafety/pkg/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("physician", "nurse", "nurse_practitioner", "physician_assistant", "resident", "pharmacist"))
	read.GET("/patients/:id/medications", h.ListMedications)
	read.GET("/patients/:id/allergies", h.ListAllergies)

	write := api.Group("", auth.RequireRole("physician", "nurse_practitioner", "physician_assistant", "resident", "pharmacist"))
	write.POST("/patients/:id/medications/reconcile", h.Reconcile)
	write.POST("/patients/:id/allergies", h.AddAllergy)
}

func patientParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid patient id")
	}
	return id, nil
}

func (h *Handler) ListMedications(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	meds, err := h.svc.ListActiveMedications(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	if meds == nil {
		meds = []*ActiveMedication{}
	}
	return c.JSON(http.StatusOK, meds)
}

func (h *Handler) ListAllergies(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	allergies, err := h.svc.ListActiveAllergies(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	if allergies == nil {
		allergies = []*Allergy{}
	}
	return c.JSON(http.StatusOK, allergies)
}

func (h *Handler) AddAllergy(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	var a Allergy
	if err := c.Bind(&a); err != nil {
		return apperr.Validation("invalid request body")
	}
	a.PatientID = patientID
	if err := h.svc.AddAllergy(c.Request().Context(), &a); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Reconcile(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	var in ReconcileInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	result, err := h.svc.Reconcile(c.Request().Context(), patientID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
