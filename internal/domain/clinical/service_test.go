package clinical

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/pkg/apperr"
)

// -- Mock Repositories --

type mockMedicationRepo struct {
	store map[uuid.UUID]*ActiveMedication
}

func newMockMedicationRepo() *mockMedicationRepo {
	return &mockMedicationRepo{store: make(map[uuid.UUID]*ActiveMedication)}
}

func (m *mockMedicationRepo) add(patientID uuid.UUID, code string) *ActiveMedication {
	med := &ActiveMedication{ID: uuid.New(), PatientID: patientID, Code: code, Display: code, Status: MedicationActive, StartedAt: time.Now()}
	m.store[med.ID] = med
	return med
}

func (m *mockMedicationRepo) ListActive(_ context.Context, patientID uuid.UUID) ([]*ActiveMedication, error) {
	var out []*ActiveMedication
	for _, med := range m.store {
		if med.PatientID == patientID && med.Status == MedicationActive {
			out = append(out, med)
		}
	}
	return out, nil
}

func (m *mockMedicationRepo) Stop(_ context.Context, patientID, id uuid.UUID, at time.Time) (bool, error) {
	med, ok := m.store[id]
	if !ok || med.PatientID != patientID || med.Status != MedicationActive {
		return false, nil
	}
	med.Status = MedicationStopped
	med.StoppedAt = &at
	return true, nil
}

func (m *mockMedicationRepo) Upsert(_ context.Context, in *ActiveMedication) error {
	for _, med := range m.store {
		if med.PatientID == in.PatientID && med.Code == in.Code && med.Status == MedicationActive {
			med.Display = in.Display
			med.Dosage = in.Dosage
			*in = *med
			return nil
		}
	}
	in.ID = uuid.New()
	in.StartedAt = time.Now()
	stored := *in
	m.store[in.ID] = &stored
	return nil
}

// snapshot copies every entry so a failed transaction can be rolled back.
func (m *mockMedicationRepo) snapshot() map[uuid.UUID]ActiveMedication {
	out := make(map[uuid.UUID]ActiveMedication, len(m.store))
	for id, med := range m.store {
		out[id] = *med
	}
	return out
}

func (m *mockMedicationRepo) restore(snap map[uuid.UUID]ActiveMedication) {
	m.store = make(map[uuid.UUID]*ActiveMedication, len(snap))
	for id, med := range snap {
		med := med
		m.store[id] = &med
	}
}

type mockAllergyRepo struct {
	store map[uuid.UUID]*Allergy
}

func (m *mockAllergyRepo) Create(_ context.Context, a *Allergy) error {
	a.ID = uuid.New()
	m.store[a.ID] = a
	return nil
}

func (m *mockAllergyRepo) ListActive(_ context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	var out []*Allergy
	for _, a := range m.store {
		if a.PatientID == patientID && a.Status == "active" {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockPatients map[uuid.UUID]bool

func (m mockPatients) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m[id], nil
}

// rollbackTx restores the medication store when fn fails.
type rollbackTx struct {
	meds  *mockMedicationRepo
	calls int
}

func (r *rollbackTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	snap := r.meds.snapshot()
	if err := fn(ctx); err != nil {
		r.meds.restore(snap)
		return err
	}
	return nil
}

type testEnv struct {
	svc       *Service
	meds      *mockMedicationRepo
	allergies *mockAllergyRepo
	tx        *rollbackTx
	patientID uuid.UUID
}

func newTestEnv() *testEnv {
	patientID := uuid.New()
	meds := newMockMedicationRepo()
	allergies := &mockAllergyRepo{store: make(map[uuid.UUID]*Allergy)}
	tx := &rollbackTx{meds: meds}
	svc := NewService(meds, allergies, mockPatients{patientID: true}, tx, zerolog.Nop())
	return &testEnv{svc: svc, meds: meds, allergies: allergies, tx: tx, patientID: patientID}
}

func strPtr(s string) *string { return &s }

func TestService_Reconcile(t *testing.T) {
	env := newTestEnv()
	warfarin := env.meds.add(env.patientID, "11289")
	lisinopril := env.meds.add(env.patientID, "29046")

	result, err := env.svc.Reconcile(context.Background(), env.patientID, ReconcileInput{
		Stop: []uuid.UUID{warfarin.ID},
		Upsert: []MedicationInput{
			{Code: "29046", Display: "Lisinopril", Dosage: strPtr("20 mg")},
			{Code: "1191", Display: "Aspirin", Dosage: strPtr("81 mg")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.tx.calls != 1 {
		t.Errorf("expected one transaction, got %d", env.tx.calls)
	}
	if result.Stopped != 1 || len(result.Upserted) != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Upserted[0].ID != lisinopril.ID {
		t.Error("expected existing lisinopril entry to be updated in place")
	}

	active, _ := env.svc.ListActiveMedications(context.Background(), env.patientID)
	if len(active) != 2 {
		t.Fatalf("expected 2 active medications, got %d", len(active))
	}
	for _, m := range active {
		if m.Code == "11289" {
			t.Error("warfarin should have been stopped")
		}
	}
}

func TestService_Reconcile_AllOrNothing(t *testing.T) {
	env := newTestEnv()
	warfarin := env.meds.add(env.patientID, "11289")

	_, err := env.svc.Reconcile(context.Background(), env.patientID, ReconcileInput{
		Stop:   []uuid.UUID{warfarin.ID, uuid.New()},
		Upsert: []MedicationInput{{Code: "1191", Display: "Aspirin"}},
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	active, _ := env.svc.ListActiveMedications(context.Background(), env.patientID)
	if len(active) != 1 || active[0].Code != "11289" {
		t.Errorf("expected medication list unchanged, got %+v", active)
	}
}

func TestService_Reconcile_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   ReconcileInput
		want error
	}{
		{"empty", ReconcileInput{}, apperr.ErrValidation},
		{"blank code", ReconcileInput{Upsert: []MedicationInput{{Code: " ", Display: "Aspirin"}}}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			_, err := env.svc.Reconcile(context.Background(), env.patientID, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if env.tx.calls != 0 {
				t.Error("transaction should not start for invalid input")
			}
		})
	}

	env := newTestEnv()
	_, err := env.svc.Reconcile(context.Background(), uuid.New(), ReconcileInput{Upsert: []MedicationInput{{Code: "1191", Display: "Aspirin"}}})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound for unknown patient, got %v", err)
	}
}

func TestService_AddAllergy(t *testing.T) {
	tests := []struct {
		name    string
		allergy Allergy
		wantErr error
	}{
		{"valid", Allergy{Code: "7980", Display: "Penicillin G"}, nil},
		{"missing code", Allergy{Display: "Penicillin G"}, apperr.ErrValidation},
		{"missing display", Allergy{Code: "7980"}, apperr.ErrValidation},
		{"bad status", Allergy{Code: "7980", Display: "Penicillin G", Status: "maybe"}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			a := tt.allergy
			a.PatientID = env.patientID
			err := env.svc.AddAllergy(context.Background(), &a)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Status != "active" {
				t.Errorf("expected default status active, got %s", a.Status)
			}
			list, _ := env.svc.ListActiveAllergies(context.Background(), env.patientID)
			if len(list) != 1 {
				t.Errorf("expected 1 allergy, got %d", len(list))
			}
		})
	}
}
