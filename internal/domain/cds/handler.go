package cds

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ordersafety/internal/platform/auth"
	"github.com/ehr/ordersafety/internal/platform/validate"
	"github.com/ehr/ordersafety/pkg/apperr"
)

type Handler struct {
	checker   *Checker
	validator *validate.Validator
}

func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker, validator: validate.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cds", auth.RequireRole("physician", "nurse_practitioner", "physician_assistant", "resident", "pharmacist"))
	g.POST("/medication-check", h.MedicationCheck)
}

type medicationCheckRequest struct {
	PatientID uuid.UUID `json:"patient_id" validate:"required"`
	Code      string    `json:"code" validate:"notblank"`
	Dosage    string    `json:"dosage"`
}

type medicationCheckResponse struct {
	Alerts []Alert `json:"alerts"`
}

// MedicationCheck previews the alerts an order would carry without creating it.
func (h *Handler) MedicationCheck(c echo.Context) error {
	var req medicationCheckRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return err
	}
	alerts, err := h.checker.CheckMedication(c.Request().Context(), req.PatientID, req.Code, req.Dosage)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, medicationCheckResponse{Alerts: alerts})
}
