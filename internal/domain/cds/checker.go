// Package cds runs deterministic medication safety checks against the
// patient's active medications and allergies.
package cds

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/ordersafety/pkg/apperr"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	SourceDrugDrug  = "drug-drug-interaction"
	SourceAllergy   = "drug-allergy"
	SourceDuplicate = "duplicate-therapy"
	SourceDosage    = "dosage-range"
)

// Alert is captured on an order at creation time and never changes after.
type Alert struct {
	Severity    Severity `json:"severity"`
	Summary     string   `json:"summary"`
	Detail      string   `json:"detail,omitempty"`
	Source      string   `json:"source"`
	Overridable bool     `json:"overridable"`
}

// ActiveMed is a medication the patient is currently taking. OrderID is set
// when it comes from an active medication order rather than the medication
// list.
type ActiveMed struct {
	Code    string
	Display string
	OrderID *uuid.UUID
}

type ActiveAllergy struct {
	Code    string
	Display string
}

// ClinicalState is the read-only view of a patient the checker needs.
type ClinicalState interface {
	ActiveMedicationCodes(ctx context.Context, patientID uuid.UUID) ([]ActiveMed, error)
	ActiveAllergyCodes(ctx context.Context, patientID uuid.UUID) ([]ActiveAllergy, error)
}

type Checker struct {
	state ClinicalState
}

func NewChecker(state ClinicalState) *Checker {
	return &Checker{state: state}
}

// CheckMedication returns the alerts for ordering code at dosage. Checks run
// in a fixed order (drug-drug, drug-allergy, duplicate therapy, dosage) and
// every alert they raise is kept.
func (c *Checker) CheckMedication(ctx context.Context, patientID uuid.UUID, code, dosage string) ([]Alert, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("medication code is required")
	}
	meds, err := c.state.ActiveMedicationCodes(ctx, patientID)
	if err != nil {
		return nil, apperr.Internal("load active medications", err)
	}
	allergies, err := c.state.ActiveAllergyCodes(ctx, patientID)
	if err != nil {
		return nil, apperr.Internal("load active allergies", err)
	}

	alerts := []Alert{}
	alerts = append(alerts, checkInteractions(code, meds)...)
	alerts = append(alerts, checkAllergies(code, allergies)...)
	alerts = append(alerts, checkDuplicates(code, meds)...)
	alerts = append(alerts, checkDosage(code, dosage)...)
	return alerts, nil
}

func checkInteractions(code string, meds []ActiveMed) []Alert {
	var alerts []Alert
	for _, m := range meds {
		in, ok := LookupInteraction(code, m.Code)
		if !ok {
			continue
		}
		alerts = append(alerts, Alert{
			Severity:    in.Severity,
			Summary:     fmt.Sprintf("Interaction: %s with %s", DrugName(code), nameOf(m.Code, m.Display)),
			Detail:      in.Description,
			Source:      SourceDrugDrug,
			Overridable: in.Severity != SeverityCritical,
		})
	}
	return alerts
}

func checkAllergies(code string, allergies []ActiveAllergy) []Alert {
	candidate := AllergyClasses(code)
	var alerts []Alert
	for _, a := range allergies {
		if a.Code == code {
			alerts = append(alerts, Alert{
				Severity: SeverityCritical,
				Summary:  fmt.Sprintf("Documented allergy to %s", nameOf(a.Code, a.Display)),
				Detail:   "The patient has an active allergy recorded for this exact medication.",
				Source:   SourceAllergy,
			})
			continue
		}
		allergyClasses := AllergyClasses(a.Code)
		for _, class := range sharedClasses(candidate, allergyClasses) {
			alerts = append(alerts, Alert{
				Severity:    SeverityWarning,
				Summary:     fmt.Sprintf("Class allergy: %s and %s are both %s", DrugName(code), nameOf(a.Code, a.Display), class),
				Detail:      "The patient is allergic to another drug in the same class.",
				Source:      SourceAllergy,
				Overridable: true,
			})
		}
		if hasClass(allergyClasses, allergyClassPenicillin) && hasClass(candidate, allergyClassCephalosporin) {
			alerts = append(alerts, Alert{
				Severity:    SeverityWarning,
				Summary:     fmt.Sprintf("Possible cross-reactivity: %s allergy with cephalosporin %s", nameOf(a.Code, a.Display), DrugName(code)),
				Detail:      "Penicillin-allergic patients may react to cephalosporins.",
				Source:      SourceAllergy,
				Overridable: true,
			})
		}
	}
	return alerts
}

func checkDuplicates(code string, meds []ActiveMed) []Alert {
	candidate := DrugClasses(code)
	reported := make(map[string]bool)
	var alerts []Alert
	for _, m := range meds {
		if m.Code == code {
			alerts = append(alerts, Alert{
				Severity:    SeverityWarning,
				Summary:     fmt.Sprintf("Duplicate therapy: %s is already active", nameOf(m.Code, m.Display)),
				Detail:      existing(m),
				Source:      SourceDuplicate,
				Overridable: true,
			})
			continue
		}
		for _, class := range sharedClasses(candidate, DrugClasses(m.Code)) {
			if reported[class] {
				continue
			}
			reported[class] = true
			alerts = append(alerts, Alert{
				Severity:    SeverityInfo,
				Summary:     fmt.Sprintf("Same class: %s and %s are both %s", DrugName(code), nameOf(m.Code, m.Display), class),
				Detail:      existing(m),
				Source:      SourceDuplicate,
				Overridable: true,
			})
		}
	}
	return alerts
}

func checkDosage(code, dosage string) []Alert {
	limit, ok := MaxSingleDose(code)
	if !ok {
		return nil
	}
	value, unit, ok := ParseDosage(dosage)
	if !ok || unit != limit.Unit || value <= limit.Value {
		return nil
	}
	return []Alert{{
		Severity:    SeverityWarning,
		Summary:     fmt.Sprintf("Dose above maximum: %g %s of %s", value, unit, DrugName(code)),
		Detail:      fmt.Sprintf("Maximum single dose is %g %s.", limit.Value, limit.Unit),
		Source:      SourceDosage,
		Overridable: true,
	}}
}

func nameOf(code, display string) string {
	if display != "" {
		return display
	}
	return DrugName(code)
}

func existing(m ActiveMed) string {
	if m.OrderID != nil {
		return "Existing order " + m.OrderID.String()
	}
	return "Listed on the active medication list"
}
