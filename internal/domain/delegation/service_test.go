package delegation

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/pkg/apperr"
)

// -- Mock Repositories --

type mockDelegationRepo struct {
	store map[uuid.UUID]*Delegation
	clock time.Time
}

func newMockDelegationRepo() *mockDelegationRepo {
	return &mockDelegationRepo{store: make(map[uuid.UUID]*Delegation), clock: time.Now().Add(-time.Hour)}
}

func (m *mockDelegationRepo) Create(_ context.Context, d *Delegation) error {
	d.ID = uuid.New()
	d.Active = true
	m.clock = m.clock.Add(time.Minute)
	d.CreatedAt = m.clock
	m.store[d.ID] = d
	return nil
}

func (m *mockDelegationRepo) GetByID(_ context.Context, id uuid.UUID) (*Delegation, error) {
	d, ok := m.store[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (m *mockDelegationRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	m.store[id].Active = false
	return nil
}

func (m *mockDelegationRepo) filter(keep func(*Delegation) bool) []*Delegation {
	var out []*Delegation
	for _, d := range m.store {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *mockDelegationRepo) ListByDelegator(_ context.Context, id uuid.UUID, _, _ int) ([]*Delegation, int, error) {
	out := m.filter(func(d *Delegation) bool { return d.DelegatorID == id })
	return out, len(out), nil
}

func (m *mockDelegationRepo) ListByDelegate(_ context.Context, id uuid.UUID, _, _ int) ([]*Delegation, int, error) {
	out := m.filter(func(d *Delegation) bool { return d.DelegateID == id })
	return out, len(out), nil
}

func (m *mockDelegationRepo) ListInEffect(_ context.Context, id uuid.UUID, category string, now time.Time) ([]*Delegation, error) {
	return m.filter(func(d *Delegation) bool {
		return d.DelegatorID == id && d.InEffect(now) && d.Covers(category)
	}), nil
}

type mockOOORepo struct {
	store map[uuid.UUID]*OutOfOffice
}

func (m *mockOOORepo) Get(_ context.Context, id uuid.UUID) (*OutOfOffice, error) {
	o, ok := m.store[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return o, nil
}

func (m *mockOOORepo) Upsert(_ context.Context, o *OutOfOffice) error {
	m.store[o.UserID] = o
	return nil
}

func (m *mockOOORepo) Clear(_ context.Context, id uuid.UUID) error {
	if o, ok := m.store[id]; ok {
		*o = OutOfOffice{UserID: id}
	}
	return nil
}

type mockUsers map[uuid.UUID]bool

func (m mockUsers) UserExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m[id], nil
}

type testEnv struct {
	svc               *Service
	delegations       *mockDelegationRepo
	ooo               *mockOOORepo
	users             mockUsers
	alice, bob, carol uuid.UUID
}

func newTestEnv() *testEnv {
	env := &testEnv{
		delegations: newMockDelegationRepo(),
		ooo:         &mockOOORepo{store: make(map[uuid.UUID]*OutOfOffice)},
		alice:       uuid.New(),
		bob:         uuid.New(),
		carol:       uuid.New(),
	}
	env.users = mockUsers{env.alice: true, env.bob: true, env.carol: true}
	env.svc = NewService(env.delegations, env.ooo, env.users, zerolog.Nop())
	return env
}

func (env *testEnv) delegate(t *testing.T, from, to uuid.UUID, typ string) *Delegation {
	t.Helper()
	d, err := env.svc.CreateDelegation(context.Background(), from, CreateDelegationInput{DelegateID: to, DelegationType: typ})
	if err != nil {
		t.Fatalf("create delegation: %v", err)
	}
	return d
}

func TestResolveEffectiveRecipient_NoRedirect(t *testing.T) {
	env := newTestEnv()
	got, err := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, CategoryResults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != env.alice {
		t.Errorf("expected original recipient, got %s", got)
	}
}

func TestResolveEffectiveRecipient_OutOfOfficeBeatsDelegation(t *testing.T) {
	env := newTestEnv()
	env.delegate(t, env.alice, env.bob, CategoryResults)
	if _, err := env.svc.SetOutOfOffice(context.Background(), env.alice, SetOutOfOfficeInput{AutoForwardTo: &env.carol}); err != nil {
		t.Fatalf("set out of office: %v", err)
	}

	got, err := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, CategoryResults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != env.carol {
		t.Errorf("expected auto-forward target %s, got %s", env.carol, got)
	}
}

func TestResolveEffectiveRecipient_OutOfOfficeWithoutForward(t *testing.T) {
	env := newTestEnv()
	env.delegate(t, env.alice, env.bob, CategoryMessages)
	env.svc.SetOutOfOffice(context.Background(), env.alice, SetOutOfOfficeInput{})

	got, _ := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, CategoryMessages)
	if got != env.bob {
		t.Errorf("expected delegate %s, got %s", env.bob, got)
	}
}

func TestResolveEffectiveRecipient_OutOfOfficeWindow(t *testing.T) {
	env := newTestEnv()
	start := time.Now().Add(24 * time.Hour)
	env.svc.SetOutOfOffice(context.Background(), env.alice, SetOutOfOfficeInput{StartAt: &start, AutoForwardTo: &env.carol})

	got, _ := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, CategoryMessages)
	if got != env.alice {
		t.Errorf("future absence should not forward, got %s", got)
	}

	env.svc.now = func() time.Time { return start.Add(time.Hour) }
	got, _ = env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, CategoryMessages)
	if got != env.carol {
		t.Errorf("expected forward once absence starts, got %s", got)
	}
}

func TestResolveEffectiveRecipient_AllCoversEveryCategory(t *testing.T) {
	for _, category := range []string{CategoryMessages, CategoryResults, CategoryOrders} {
		t.Run(category, func(t *testing.T) {
			env := newTestEnv()
			env.delegate(t, env.alice, env.bob, CategoryAll)
			got, err := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, category)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != env.bob {
				t.Errorf("expected delegate for %s, got %s", category, got)
			}
		})
	}
}

func TestResolveEffectiveRecipient_NewestDelegationWins(t *testing.T) {
	env := newTestEnv()
	env.delegate(t, env.alice, env.bob, CategoryResults)
	env.delegate(t, env.alice, env.carol, CategoryAll)

	got, _ := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, CategoryResults)
	if got != env.carol {
		t.Errorf("expected newest delegate %s, got %s", env.carol, got)
	}
}

func TestResolveEffectiveRecipient_IgnoresOtherCategoryAndRevoked(t *testing.T) {
	env := newTestEnv()
	env.delegate(t, env.alice, env.bob, CategoryOrders)
	revoked := env.delegate(t, env.alice, env.carol, CategoryResults)
	if _, err := env.svc.RevokeDelegation(context.Background(), revoked.ID, env.alice); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	got, _ := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, CategoryResults)
	if got != env.alice {
		t.Errorf("expected original recipient, got %s", got)
	}
	if _, err := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, "billing"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown category, got %v", err)
	}
}

func TestCreateDelegation_Validation(t *testing.T) {
	env := newTestEnv()
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name      string
		delegator uuid.UUID
		in        CreateDelegationInput
		want      error
	}{
		{"self", env.alice, CreateDelegationInput{DelegateID: env.alice, DelegationType: CategoryAll}, apperr.ErrValidation},
		{"bad type", env.alice, CreateDelegationInput{DelegateID: env.bob, DelegationType: "billing"}, apperr.ErrValidation},
		{"missing delegate id", env.alice, CreateDelegationInput{DelegationType: CategoryAll}, apperr.ErrValidation},
		{"window reversed", env.alice, CreateDelegationInput{DelegateID: env.bob, DelegationType: CategoryAll, ValidFrom: &now, ValidTo: &earlier}, apperr.ErrValidation},
		{"unknown delegate", env.alice, CreateDelegationInput{DelegateID: uuid.New(), DelegationType: CategoryAll}, apperr.ErrNotFound},
		{"unknown delegator", uuid.New(), CreateDelegationInput{DelegateID: env.bob, DelegationType: CategoryAll}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateDelegation(context.Background(), tt.delegator, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRevokeDelegation(t *testing.T) {
	env := newTestEnv()
	d := env.delegate(t, env.alice, env.bob, CategoryAll)

	if _, err := env.svc.RevokeDelegation(context.Background(), d.ID, env.bob); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("expected authorization error for delegate, got %v", err)
	}
	if _, err := env.svc.RevokeDelegation(context.Background(), uuid.New(), env.alice); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	got, err := env.svc.RevokeDelegation(context.Background(), d.ID, env.alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Active {
		t.Error("expected delegation to be inactive")
	}
	if _, ok := env.delegations.store[d.ID]; !ok {
		t.Error("revocation must keep the record")
	}

	granted, total, _ := env.svc.ListGranted(context.Background(), env.alice, 20, 0)
	if total != 1 || granted[0].Active {
		t.Errorf("expected one inactive granted delegation, got %d", total)
	}
	received, _, _ := env.svc.ListReceived(context.Background(), env.bob, 20, 0)
	if len(received) != 1 {
		t.Errorf("expected one received delegation, got %d", len(received))
	}
}

func TestSetOutOfOffice_Validation(t *testing.T) {
	env := newTestEnv()
	stranger := uuid.New()
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name string
		in   SetOutOfOfficeInput
		want error
	}{
		{"forward to self", SetOutOfOfficeInput{AutoForwardTo: &env.alice}, apperr.ErrValidation},
		{"forward to unknown", SetOutOfOfficeInput{AutoForwardTo: &stranger}, apperr.ErrNotFound},
		{"window reversed", SetOutOfOfficeInput{StartAt: &now, EndAt: &earlier}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.SetOutOfOffice(context.Background(), env.alice, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestOutOfOffice_GetAndClear(t *testing.T) {
	env := newTestEnv()

	o, err := env.svc.GetOutOfOffice(context.Background(), env.alice)
	if err != nil || o.OutOfOffice {
		t.Fatalf("expected default not-away status, got %+v (%v)", o, err)
	}

	env.svc.SetOutOfOffice(context.Background(), env.alice, SetOutOfOfficeInput{AutoForwardTo: &env.bob})
	o, _ = env.svc.GetOutOfOffice(context.Background(), env.alice)
	if !o.OutOfOffice || o.AutoForwardTo == nil || *o.AutoForwardTo != env.bob {
		t.Errorf("unexpected status %+v", o)
	}

	if err := env.svc.ClearOutOfOffice(context.Background(), env.alice); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ := env.svc.ResolveEffectiveRecipient(context.Background(), env.alice, CategoryMessages)
	if got != env.alice {
		t.Errorf("expected no forward after clear, got %s", got)
	}
}
