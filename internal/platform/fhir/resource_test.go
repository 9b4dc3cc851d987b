package fhir

import (
	"encoding/json"
	"testing"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		ref      string
		wantType string
		wantID   string
		ok       bool
	}{
		{"Patient/123", "Patient", "123", true},
		{"ServiceRequest/abc-def", "ServiceRequest", "abc-def", true},
		{"Patient", "", "", false},
		{"/123", "", "", false},
		{"Patient/", "", "", false},
		{"Patient/1/_history/2", "", "", false},
	}
	for _, tt := range tests {
		gotType, gotID, ok := ParseReference(tt.ref)
		if ok != tt.ok || gotType != tt.wantType || gotID != tt.wantID {
			t.Errorf("ParseReference(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.ref, gotType, gotID, ok, tt.wantType, tt.wantID, tt.ok)
		}
	}
}

func TestFormatReference(t *testing.T) {
	if got := FormatReference("Practitioner", "p1"); got != "Practitioner/p1" {
		t.Errorf("expected Practitioner/p1, got %s", got)
	}
}

func TestServiceRequest_JSONShape(t *testing.T) {
	sr := ServiceRequest{
		Resource: Resource{ResourceType: "ServiceRequest"},
		Status:   "active",
		Intent:   "order",
		Category: []CodeableConcept{{Coding: []Coding{{System: SystemSNOMED, Code: "108252007"}}}},
		Code:     CodeableConcept{Coding: []Coding{{System: SystemLOINC, Code: "24323-8"}}},
		Subject:  Reference{Reference: "Patient/p1"},
	}
	data, err := json.Marshal(sr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed["resourceType"] != "ServiceRequest" {
		t.Errorf("expected resourceType at top level, got %v", parsed["resourceType"])
	}
	if _, ok := parsed["id"]; ok {
		t.Error("expected empty id to be omitted")
	}
	if _, ok := parsed["encounter"]; ok {
		t.Error("expected nil encounter to be omitted")
	}
}

func TestValidationOutcome(t *testing.T) {
	o := ValidationOutcome("dosage", "dosage is required")
	if o.ResourceType != "OperationOutcome" {
		t.Errorf("unexpected resourceType %s", o.ResourceType)
	}
	if len(o.Issue) != 1 || o.Issue[0].Code != "invalid" {
		t.Fatalf("unexpected issues %+v", o.Issue)
	}
	if len(o.Issue[0].Expression) != 1 || o.Issue[0].Expression[0] != "dosage" {
		t.Errorf("expected expression [dosage], got %v", o.Issue[0].Expression)
	}
	if len(ValidationOutcome("", "bad").Issue[0].Expression) != 0 {
		t.Error("expected no expression for empty field")
	}
}
