package cds

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/ordersafety/pkg/apperr"
)

type fakeState struct {
	meds      []ActiveMed
	allergies []ActiveAllergy
	err       error
}

func (f *fakeState) ActiveMedicationCodes(context.Context, uuid.UUID) ([]ActiveMed, error) {
	return f.meds, f.err
}

func (f *fakeState) ActiveAllergyCodes(context.Context, uuid.UUID) ([]ActiveAllergy, error) {
	return f.allergies, f.err
}

func onMeds(codes ...string) *fakeState {
	s := &fakeState{}
	for _, c := range codes {
		s.meds = append(s.meds, ActiveMed{Code: c})
	}
	return s
}

func check(t *testing.T, state *fakeState, code, dosage string) []Alert {
	t.Helper()
	alerts, err := NewChecker(state).CheckMedication(context.Background(), uuid.New(), code, dosage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return alerts
}

func bySource(alerts []Alert, source string) []Alert {
	var out []Alert
	for _, a := range alerts {
		if a.Source == source {
			out = append(out, a)
		}
	}
	return out
}

func TestCheckMedication_InteractionSymmetry(t *testing.T) {
	for _, in := range Interactions() {
		pairs := [][2]string{{in.DrugA, in.DrugB}, {in.DrugB, in.DrugA}}
		for _, p := range pairs {
			active, candidate := p[0], p[1]
			t.Run(DrugName(active)+"+"+DrugName(candidate), func(t *testing.T) {
				got := bySource(check(t, onMeds(active), candidate, ""), SourceDrugDrug)
				if len(got) != 1 {
					t.Fatalf("expected 1 interaction alert, got %d", len(got))
				}
				if got[0].Severity != in.Severity {
					t.Errorf("expected severity %s, got %s", in.Severity, got[0].Severity)
				}
				if got[0].Overridable != (in.Severity != SeverityCritical) {
					t.Errorf("overridable = %v for severity %s", got[0].Overridable, in.Severity)
				}
			})
		}
	}
}

func TestCheckMedication_NoInteraction(t *testing.T) {
	alerts := check(t, onMeds(rxMetformin), rxAtorvastatin, "")
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %+v", alerts)
	}
}

func TestCheckMedication_Allergy(t *testing.T) {
	tests := []struct {
		name      string
		allergy   string
		candidate string
		want      []Severity
		overrides []bool
	}{
		{"exact match", rxAmoxicillin, rxAmoxicillin, []Severity{SeverityCritical}, []bool{false}},
		{"class match", rxIbuprofen, rxNaproxen, []Severity{SeverityWarning}, []bool{true}},
		{"sulfonamide class", rxSulfasalazine, rxSMXTMP, []Severity{SeverityWarning}, []bool{true}},
		{"penicillin to cephalosporin", rxPenicillinG, rxCephalexin, []Severity{SeverityWarning}, []bool{true}},
		{"unrelated", rxPenicillinG, rxMetformin, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &fakeState{allergies: []ActiveAllergy{{Code: tt.allergy}}}
			got := bySource(check(t, state, tt.candidate, ""), SourceAllergy)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d allergy alerts, got %+v", len(tt.want), got)
			}
			for i := range got {
				if got[i].Severity != tt.want[i] || got[i].Overridable != tt.overrides[i] {
					t.Errorf("alert %d: got %s/%v, want %s/%v", i, got[i].Severity, got[i].Overridable, tt.want[i], tt.overrides[i])
				}
			}
		})
	}
}

func TestCheckMedication_Duplicates(t *testing.T) {
	t.Run("exact code", func(t *testing.T) {
		orderID := uuid.New()
		state := &fakeState{meds: []ActiveMed{{Code: rxLisinopril, OrderID: &orderID}}}
		got := bySource(check(t, state, rxLisinopril, ""), SourceDuplicate)
		if len(got) != 1 || got[0].Severity != SeverityWarning || !got[0].Overridable {
			t.Fatalf("expected one overridable warning, got %+v", got)
		}
		if got[0].Detail != "Existing order "+orderID.String() {
			t.Errorf("expected detail to name the order, got %q", got[0].Detail)
		}
	})

	t.Run("one alert per class", func(t *testing.T) {
		got := bySource(check(t, onMeds(rxNaproxen, rxKetorolac), rxIbuprofen, ""), SourceDuplicate)
		if len(got) != 1 || got[0].Severity != SeverityInfo {
			t.Fatalf("expected one info alert for the nsaid class, got %+v", got)
		}
	})

	t.Run("two shared classes", func(t *testing.T) {
		// aspirin and clopidogrel share antiplatelet; aspirin and ibuprofen share nsaid
		got := bySource(check(t, onMeds(rxClopidogrel, rxIbuprofen), rxAspirin, ""), SourceDuplicate)
		if len(got) != 2 {
			t.Fatalf("expected 2 class alerts, got %+v", got)
		}
	})
}

func TestCheckMedication_Dosage(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		dosage string
		want   int
	}{
		{"above max", rxAcetaminophen, "5000 mg", 1},
		{"unit mismatch", rxAcetaminophen, "5000 units", 0},
		{"at max", rxAcetaminophen, "4000 mg", 0},
		{"unparseable", rxAcetaminophen, "two tablets", 0},
		{"no table entry", rxAtorvastatin, "5000 mg", 0},
		{"units normalised", rxHeparin, "12000 Units IV", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bySource(check(t, &fakeState{}, tt.code, tt.dosage), SourceDosage)
			if len(got) != tt.want {
				t.Fatalf("expected %d dosage alerts, got %+v", tt.want, got)
			}
			if tt.want == 1 && (got[0].Severity != SeverityWarning || !got[0].Overridable) {
				t.Errorf("expected overridable warning, got %+v", got[0])
			}
		})
	}
}

func TestCheckMedication_OrderOfChecks(t *testing.T) {
	state := &fakeState{
		meds:      []ActiveMed{{Code: rxWarfarin}, {Code: rxNaproxen}},
		allergies: []ActiveAllergy{{Code: rxAspirin}},
	}
	alerts := check(t, state, rxIbuprofen, "1200 mg")

	want := []string{SourceDrugDrug, SourceAllergy, SourceDuplicate, SourceDosage}
	if len(alerts) != len(want) {
		t.Fatalf("expected %d alerts, got %+v", len(want), alerts)
	}
	for i, src := range want {
		if alerts[i].Source != src {
			t.Errorf("alert %d: expected source %s, got %s", i, src, alerts[i].Source)
		}
	}
}

func TestCheckMedication_Errors(t *testing.T) {
	if _, err := NewChecker(&fakeState{}).CheckMedication(context.Background(), uuid.New(), " ", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for blank code, got %v", err)
	}
	state := &fakeState{err: errors.New("db down")}
	if _, err := NewChecker(state).CheckMedication(context.Background(), uuid.New(), rxAspirin, ""); apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("expected internal error, got %v", err)
	}
}
