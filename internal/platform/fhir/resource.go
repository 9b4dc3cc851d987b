package fhir

import (
	"fmt"
	"strings"
	"time"
)

// Code system URIs used by order payloads.
const (
	SystemRxNorm = "http://www.nlm.nih.gov/research/umls/rxnorm"
	SystemLOINC  = "http://loinc.org"
	SystemCPT    = "http://www.ama-assn.org/go/cpt"
	SystemSNOMED = "http://snomed.info/sct"
)

// Resource is the base FHIR resource representation.
type Resource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`
}

type Meta struct {
	VersionID   string     `json:"versionId,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

type Annotation struct {
	Text string `json:"text"`
}

// Dosage carries the free-text sig; structured timing is out of scope.
type Dosage struct {
	Text     string           `json:"text,omitempty"`
	Route    *CodeableConcept `json:"route,omitempty"`
	AsNeeded bool             `json:"asNeededBoolean,omitempty"`
}

type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

type DispenseRequest struct {
	NumberOfRepeatsAllowed int       `json:"numberOfRepeatsAllowed,omitempty"`
	Quantity               *Quantity `json:"quantity,omitempty"`
}

// MedicationRequest is the subset of the R4 resource produced for signed
// medication orders.
type MedicationRequest struct {
	Resource
	Identifier                []Identifier     `json:"identifier,omitempty"`
	Status                    string           `json:"status"`
	Intent                    string           `json:"intent"`
	Priority                  string           `json:"priority,omitempty"`
	MedicationCodeableConcept CodeableConcept  `json:"medicationCodeableConcept"`
	Subject                   Reference        `json:"subject"`
	Encounter                 *Reference       `json:"encounter,omitempty"`
	AuthoredOn                string           `json:"authoredOn,omitempty"`
	Requester                 *Reference       `json:"requester,omitempty"`
	DosageInstruction         []Dosage         `json:"dosageInstruction,omitempty"`
	DispenseRequest           *DispenseRequest `json:"dispenseRequest,omitempty"`
}

// ServiceRequest is the subset of the R4 resource produced for signed lab and
// imaging orders.
type ServiceRequest struct {
	Resource
	Identifier  []Identifier      `json:"identifier,omitempty"`
	Status      string            `json:"status"`
	Intent      string            `json:"intent"`
	Priority    string            `json:"priority,omitempty"`
	Category    []CodeableConcept `json:"category,omitempty"`
	Code        CodeableConcept   `json:"code"`
	Subject     Reference         `json:"subject"`
	Encounter   *Reference        `json:"encounter,omitempty"`
	AuthoredOn  string            `json:"authoredOn,omitempty"`
	Requester   *Reference        `json:"requester,omitempty"`
	ReasonCode  []CodeableConcept `json:"reasonCode,omitempty"`
	BodySite    []CodeableConcept `json:"bodySite,omitempty"`
	Note        []Annotation      `json:"note,omitempty"`
	OrderDetail []CodeableConcept `json:"orderDetail,omitempty"`
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// ParseReference splits "Type/id". ok is false for anything else.
func ParseReference(ref string) (resourceType, id string, ok bool) {
	resourceType, id, ok = strings.Cut(ref, "/")
	if !ok || resourceType == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return resourceType, id, true
}
