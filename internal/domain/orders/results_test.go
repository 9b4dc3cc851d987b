package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ordersafety/internal/domain/inbox"
	"github.com/ehr/ordersafety/pkg/apperr"
)

func potassium(value string) []Result {
	unit := "mmol/L"
	return []Result{{Code: "2823-3", Display: "Potassium", Value: value, Unit: &unit}}
}

func TestService_RecordResults(t *testing.T) {
	env := newTestEnv()
	o := env.order(StatusActive)
	ctx := context.Background()

	got, err := env.svc.RecordResults(ctx, o.ID, potassium("4.1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Results) != 1 || got.Results[0].Value != "4.1" {
		t.Errorf("unexpected results %+v", got.Results)
	}
	if _, err := env.svc.RecordResults(ctx, o.ID, potassium("4.2")); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on second recording, got %v", err)
	}
	if _, err := env.svc.RecordResults(ctx, o.ID, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for empty results, got %v", err)
	}
	if _, err := env.svc.RecordResults(ctx, o.ID, []Result{{Code: "2823-3"}}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for missing value, got %v", err)
	}

	draft := env.order(StatusDraft)
	if _, err := env.svc.RecordResults(ctx, draft.ID, potassium("4.1")); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on a draft, got %v", err)
	}
}

func TestService_Acknowledge(t *testing.T) {
	env := newTestEnv()
	o := env.order(StatusCompleted)
	first, second := uuid.New(), uuid.New()

	got, err := env.svc.Acknowledge(context.Background(), o.ID, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AcknowledgedBy == nil || *got.AcknowledgedBy != first || !got.AcknowledgedAt.Equal(env.now) {
		t.Errorf("unexpected acknowledgment %v at %v", got.AcknowledgedBy, got.AcknowledgedAt)
	}

	env.now = env.now.Add(time.Hour)
	got, err = env.svc.Acknowledge(context.Background(), o.ID, second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got.AcknowledgedBy != first {
		t.Error("the first acknowledgment should be kept")
	}
}

func TestService_Acknowledge_NotFound(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Acknowledge(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_BulkAcknowledge(t *testing.T) {
	env := newTestEnv()
	a := env.order(StatusCompleted)
	b := env.order(StatusCompleted)
	earlier := env.now.Add(-time.Hour)
	prior := uuid.New()
	c := env.order(StatusCompleted)
	c.AcknowledgedAt, c.AcknowledgedBy = &earlier, &prior
	voided := env.order(StatusEnteredInError)

	n, err := env.svc.BulkAcknowledge(context.Background(), []uuid.UUID{a.ID, b.ID, c.ID, voided.ID, uuid.New()}, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 acknowledged, got %d", n)
	}
	if *env.repo.store[c.ID].AcknowledgedBy != prior {
		t.Error("an already acknowledged order must not be touched")
	}
	if env.repo.store[voided.ID].AcknowledgedAt != nil {
		t.Error("an order entered in error must not be acknowledged")
	}
	if _, err := env.svc.Acknowledge(context.Background(), voided.ID, uuid.New()); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected single acknowledge to reject the same order, got %v", err)
	}

	if _, err := env.svc.BulkAcknowledge(context.Background(), nil, uuid.New()); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_Amend(t *testing.T) {
	env := newTestEnv()
	o := env.order(StatusCompleted)
	o.Results = potassium("6.8")
	ackAt, ackBy := env.now.Add(-time.Hour), uuid.New()
	o.AcknowledgedAt, o.AcknowledgedBy = &ackAt, &ackBy

	got, err := env.svc.Amend(context.Background(), o.ID, "hemolyzed sample", potassium("4.4"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AcknowledgedAt != nil || got.AcknowledgedBy != nil {
		t.Error("amending must clear the acknowledgment")
	}
	if len(got.PriorResults) != 1 || got.PriorResults[0].Value != "6.8" {
		t.Errorf("expected prior results to be kept, got %+v", got.PriorResults)
	}
	if got.Results[0].Value != "4.4" {
		t.Errorf("expected new results, got %+v", got.Results)
	}
	if got.AmendReason == nil || *got.AmendReason != "hemolyzed sample" || got.AmendedAt == nil {
		t.Errorf("unexpected amendment stamp %v %v", got.AmendReason, got.AmendedAt)
	}
}

func TestService_Amend_KeepsResultsWhenNoneGiven(t *testing.T) {
	env := newTestEnv()
	o := env.order(StatusCompleted)
	o.Results = potassium("5.0")
	ackAt, ackBy := env.now, uuid.New()
	o.AcknowledgedAt, o.AcknowledgedBy = &ackAt, &ackBy

	got, err := env.svc.Amend(context.Background(), o.ID, "units corrected in report", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Results[0].Value != "5.0" || got.PriorResults[0].Value != "5.0" {
		t.Errorf("unexpected results %+v / %+v", got.Results, got.PriorResults)
	}
	if got.AcknowledgedAt != nil {
		t.Error("amending must clear the acknowledgment even without new results")
	}
}

func TestService_Amend_ReasonRequired(t *testing.T) {
	env := newTestEnv()
	o := env.order(StatusCompleted)
	if _, err := env.svc.Amend(context.Background(), o.ID, "", potassium("1")); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_RecordCriticalResult(t *testing.T) {
	env := newTestEnv()
	o := env.order(StatusCompleted)
	notified := uuid.New()

	got, err := env.svc.RecordCriticalResult(context.Background(), o.ID, notified)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsCritical || *got.CriticalNotifiedTo != notified || !got.CriticalNotifiedAt.Equal(env.now) {
		t.Errorf("unexpected critical stamp %+v", got)
	}
	if got.CriticalAcknowledgedAt != nil || got.AcknowledgedAt != nil {
		t.Error("recording a critical result must not acknowledge it")
	}

	if _, err := env.svc.RecordCriticalResult(context.Background(), o.ID, uuid.Nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_AcknowledgeCritical(t *testing.T) {
	env := newTestEnv()
	o := env.order(StatusCompleted)
	by := uuid.New()

	if _, err := env.svc.AcknowledgeCritical(context.Background(), o.ID, by); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on a non-critical order, got %v", err)
	}
	if _, err := env.svc.RecordCriticalResult(context.Background(), o.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}
	got, err := env.svc.AcknowledgeCritical(context.Background(), o.ID, by)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CriticalAcknowledgedBy == nil || *got.CriticalAcknowledgedBy != by {
		t.Errorf("unexpected critical acknowledgment %v", got.CriticalAcknowledgedBy)
	}
}

func TestService_Forward(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		want     string
	}{
		{"normal result", false, inbox.PriorityNormal},
		{"critical result", true, inbox.PriorityUrgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			o := env.order(StatusCompleted)
			o.Results = potassium("6.8")
			o.IsCritical = tt.critical
			to, from := uuid.New(), uuid.New()

			if _, err := env.svc.Forward(context.Background(), o.ID, to, from, "please review"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(env.sender.sent) != 1 {
				t.Fatalf("expected 1 message, got %d", len(env.sender.sent))
			}
			m := env.sender.sent[0]
			if m.Priority != tt.want {
				t.Errorf("expected priority %s, got %s", tt.want, m.Priority)
			}
			if m.RecipientID != to || *env.sender.from != from {
				t.Errorf("unexpected addressing %s from %v", m.RecipientID, env.sender.from)
			}
			if env.sender.category != CategoryResults {
				t.Errorf("expected category results, got %s", env.sender.category)
			}
			if m.SourceID == nil || *m.SourceID != o.ID || *m.PatientID != o.PatientID {
				t.Error("message should reference the order and patient")
			}
			if !strings.Contains(*m.Body, "Potassium: 6.8 mmol/L") || !strings.Contains(*m.Body, "please review") {
				t.Errorf("unexpected body %q", *m.Body)
			}
		})
	}
}

func TestService_Forward_UnknownOrder(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Forward(context.Background(), uuid.New(), uuid.New(), uuid.New(), "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_ListCritical_Ordering(t *testing.T) {
	env := newTestEnv()
	provider := uuid.New()
	mk := func(priority string, critical bool, age time.Duration) *Order {
		o := env.order(StatusCompleted)
		o.OrderedBy = provider
		o.Priority = priority
		o.IsCritical = critical
		o.Results = potassium("1")
		o.OrderedAt = env.now.Add(-age)
		return o
	}
	routineOld := mk(PriorityRoutine, false, 3*time.Hour)
	routineNew := mk(PriorityRoutine, false, time.Hour)
	stat := mk(PriorityStat, false, 5*time.Hour)
	criticalRoutine := mk(PriorityRoutine, true, 2*time.Hour)
	criticalStat := mk(PriorityStat, true, 4*time.Hour)
	urgent := mk(PriorityUrgent, false, 2*time.Hour)
	asap := mk(PriorityASAP, false, 2*time.Hour)

	items, err := env.svc.ListUnacknowledged(context.Background(), provider)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []uuid.UUID{criticalStat.ID, criticalRoutine.ID, stat.ID, asap.ID, urgent.ID, routineNew.ID, routineOld.ID}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("position %d: expected %s/%v, got %s/%v", i, env.repo.store[id].Priority, env.repo.store[id].IsCritical, items[i].Priority, items[i].IsCritical)
		}
	}

	critical, err := env.svc.ListCritical(context.Background(), provider)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(critical) != 2 || critical[0].ID != criticalStat.ID {
		t.Errorf("unexpected critical list %+v", critical)
	}
}

func TestService_ListCriticalUnacknowledgedBefore(t *testing.T) {
	env := newTestEnv()
	old := env.order(StatusCompleted)
	oldAt := env.now.Add(-45 * time.Minute)
	old.IsCritical, old.CriticalNotifiedAt = true, &oldAt

	fresh := env.order(StatusCompleted)
	freshAt := env.now.Add(-10 * time.Minute)
	fresh.IsCritical, fresh.CriticalNotifiedAt = true, &freshAt

	items, err := env.svc.ListCriticalUnacknowledgedBefore(context.Background(), env.now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != old.ID {
		t.Errorf("expected only the older critical result, got %d items", len(items))
	}
}

func TestBulkAcknowledgeSQL_SkipsEnteredInError(t *testing.T) {
	if !strings.Contains(bulkAcknowledgeSQL, "status <> 'entered-in-error'") {
		t.Errorf("bulk acknowledge must skip entered-in-error orders:\n%s", bulkAcknowledgeSQL)
	}
}
