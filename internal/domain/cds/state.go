package cds

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/ordersafety/internal/domain/clinical"
)

// ClinicalLister is satisfied by clinical.Service.
type ClinicalLister interface {
	ListActiveMedications(ctx context.Context, patientID uuid.UUID) ([]*clinical.ActiveMedication, error)
	ListActiveAllergies(ctx context.Context, patientID uuid.UUID) ([]*clinical.Allergy, error)
}

// OrderMedicationSource lists medications on the patient's active orders.
type OrderMedicationSource interface {
	ActiveMedicationOrders(ctx context.Context, patientID uuid.UUID) ([]ActiveMed, error)
}

// PatientState merges the medication list with active medication orders.
// Each code appears once; an order wins over a list entry for the same code.
type PatientState struct {
	clinical ClinicalLister
	orders   OrderMedicationSource
}

func NewPatientState(clinical ClinicalLister, orders OrderMedicationSource) *PatientState {
	return &PatientState{clinical: clinical, orders: orders}
}

func (s *PatientState) ActiveMedicationCodes(ctx context.Context, patientID uuid.UUID) ([]ActiveMed, error) {
	fromOrders, err := s.orders.ActiveMedicationOrders(ctx, patientID)
	if err != nil {
		return nil, err
	}
	listed, err := s.clinical.ListActiveMedications(ctx, patientID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(fromOrders)+len(listed))
	meds := make([]ActiveMed, 0, len(fromOrders)+len(listed))
	for _, m := range fromOrders {
		if seen[m.Code] {
			continue
		}
		seen[m.Code] = true
		meds = append(meds, m)
	}
	for _, m := range listed {
		if seen[m.Code] {
			continue
		}
		seen[m.Code] = true
		meds = append(meds, ActiveMed{Code: m.Code, Display: m.Display})
	}
	return meds, nil
}

func (s *PatientState) ActiveAllergyCodes(ctx context.Context, patientID uuid.UUID) ([]ActiveAllergy, error) {
	allergies, err := s.clinical.ListActiveAllergies(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]ActiveAllergy, 0, len(allergies))
	for _, a := range allergies {
		out = append(out, ActiveAllergy{Code: a.Code, Display: a.Display})
	}
	return out, nil
}
