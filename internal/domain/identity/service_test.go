package identity

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehr/ordersafety/pkg/apperr"
)

// -- Mock Repositories --

type mockUserRepo struct {
	store map[uuid.UUID]*User
	err   error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{store: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) add(name string, created time.Time, active bool, roles ...string) *User {
	u := &User{ID: uuid.New(), DisplayName: name, Roles: roles, Active: active, CreatedAt: created}
	m.store[u.ID] = u
	return u
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.store[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) FindActiveByRole(_ context.Context, role string) (*User, error) {
	var matches []*User
	for _, u := range m.store {
		if u.Active && u.HasRole(role) {
			matches = append(matches, u)
		}
	}
	if len(matches) == 0 {
		return nil, pgx.ErrNoRows
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches[0], nil
}

type mockPatientRepo struct {
	store map[uuid.UUID]*Patient
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

func newTestService() (*Service, *mockUserRepo, *mockPatientRepo) {
	users := newMockUserRepo()
	patients := &mockPatientRepo{store: make(map[uuid.UUID]*Patient)}
	return NewService(users, patients), users, patients
}

func TestService_GetUser(t *testing.T) {
	svc, users, _ := newTestService()
	u := users.add("Dr. Grey", time.Now(), true, "physician")

	got, err := svc.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DisplayName != "Dr. Grey" {
		t.Errorf("expected Dr. Grey, got %s", got.DisplayName)
	}

	_, err = svc.GetUser(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestService_GetUser_StoreFailure(t *testing.T) {
	svc, users, _ := newTestService()
	users.err = errors.New("connection refused")

	_, err := svc.GetUser(context.Background(), uuid.New())
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("expected internal error, got %v", err)
	}
	if _, err := svc.UserExists(context.Background(), uuid.New()); err == nil {
		t.Error("expected UserExists to surface store failure")
	}
}

func TestService_UserExists(t *testing.T) {
	svc, users, _ := newTestService()
	u := users.add("Nurse Joy", time.Now(), true, "nurse")

	ok, err := svc.UserExists(context.Background(), u.ID)
	if err != nil || !ok {
		t.Errorf("expected user to exist, got %v, %v", ok, err)
	}
	ok, err = svc.UserExists(context.Background(), uuid.New())
	if err != nil || ok {
		t.Errorf("expected missing user, got %v, %v", ok, err)
	}
}

func TestService_FindActiveUserByRole(t *testing.T) {
	svc, users, _ := newTestService()
	now := time.Now()
	users.add("Newer", now, true, "charge_nurse")
	oldest := users.add("Oldest", now.Add(-2*time.Hour), true, "charge_nurse", "nurse")
	users.add("Inactive", now.Add(-5*time.Hour), false, "charge_nurse")

	tests := []struct {
		name    string
		role    string
		want    *uuid.UUID
		wantErr bool
	}{
		{"earliest active wins", "charge_nurse", &oldest.ID, false},
		{"no match", "radiologist", nil, false},
		{"blank role", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.FindActiveUserByRole(context.Background(), tt.role)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("expected no user, got %s", got.DisplayName)
				}
				return
			}
			if got == nil || got.ID != *tt.want {
				t.Errorf("expected %s, got %+v", *tt.want, got)
			}
		})
	}
}

func TestService_PatientExists(t *testing.T) {
	svc, _, patients := newTestService()
	p := &Patient{ID: uuid.New(), MRN: "MRN001", FamilyName: "Doe", GivenName: "Jane"}
	patients.store[p.ID] = p

	ok, err := svc.PatientExists(context.Background(), p.ID)
	if err != nil || !ok {
		t.Errorf("expected patient to exist, got %v, %v", ok, err)
	}
	ok, err = svc.PatientExists(context.Background(), uuid.New())
	if err != nil || ok {
		t.Errorf("expected missing patient, got %v, %v", ok, err)
	}

	_, err = svc.GetPatient(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestPatient_FullName(t *testing.T) {
	tests := []struct {
		given, family, want string
	}{
		{"Jane", "Doe", "Jane Doe"},
		{"", "Doe", "Doe"},
		{"Jane", "", "Jane"},
	}
	for _, tt := range tests {
		p := &Patient{GivenName: tt.given, FamilyName: tt.family}
		if got := p.FullName(); got != tt.want {
			t.Errorf("FullName() = %q, want %q", got, tt.want)
		}
	}
}
