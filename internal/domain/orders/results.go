package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ordersafety/internal/domain/inbox"
	"github.com/ehr/ordersafety/pkg/apperr"
)

// CategoryResults is the delegation category result traffic is routed under.
const CategoryResults = "results"

// RecordResults attaches the first set of results to an order. Later
// changes go through Amend so the earlier values are kept.
func (s *Service) RecordResults(ctx context.Context, id uuid.UUID, results []Result) (*Order, error) {
	if len(results) == 0 {
		return nil, apperr.Validation("results are required")
	}
	if err := validateResults(results); err != nil {
		return nil, err
	}
	return s.update(ctx, id, func(o *Order, now time.Time) error {
		if o.Status != StatusActive && o.Status != StatusOnHold && o.Status != StatusCompleted {
			return apperr.Conflict("cannot record results on an order that is %s", o.Status)
		}
		if o.Results != nil {
			return apperr.Conflict("results already recorded; amend them instead")
		}
		o.Results = results
		return nil
	})
}

// Acknowledge marks the order's results reviewed. The first acknowledgment
// is kept if the order is acknowledged again.
func (s *Service) Acknowledge(ctx context.Context, id, by uuid.UUID) (*Order, error) {
	return s.update(ctx, id, func(o *Order, now time.Time) error {
		if o.Status == StatusEnteredInError {
			return apperr.Conflict("order was entered in error")
		}
		if o.AcknowledgedAt != nil {
			return nil
		}
		o.AcknowledgedAt = &now
		o.AcknowledgedBy = &by
		return nil
	})
}

// BulkAcknowledge acknowledges every listed order that is still
// unacknowledged and returns the number changed. Orders entered in error
// are left alone.
func (s *Service) BulkAcknowledge(ctx context.Context, ids []uuid.UUID, by uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, apperr.Validation("order_ids are required")
	}
	n, err := s.orders.BulkAcknowledge(ctx, ids, by, s.now())
	if err != nil {
		return 0, apperr.Internal("acknowledge orders", err)
	}
	s.logger.Info().Int("requested", len(ids)).Int("acknowledged", n).Msg("bulk acknowledge")
	return n, nil
}

// Amend records a correction. The current results are kept as the prior
// results, replaced when newResults is non-nil, and the acknowledgment is
// cleared so the result is reviewed again.
func (s *Service) Amend(ctx context.Context, id uuid.UUID, reason string, newResults []Result) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if newResults != nil {
		if err := validateResults(newResults); err != nil {
			return nil, err
		}
	}
	return s.update(ctx, id, func(o *Order, now time.Time) error {
		if o.Status == StatusEnteredInError {
			return apperr.Conflict("order was entered in error")
		}
		o.PriorResults = o.Results
		if newResults != nil {
			o.Results = newResults
		}
		o.AmendedAt = &now
		o.AmendReason = &reason
		o.AcknowledgedAt = nil
		o.AcknowledgedBy = nil
		return nil
	})
}

// RecordCriticalResult flags the order critical and notes who was told.
// It does not acknowledge anything; escalation watches for the critical
// acknowledgment.
func (s *Service) RecordCriticalResult(ctx context.Context, id, notifiedTo uuid.UUID) (*Order, error) {
	if notifiedTo == uuid.Nil {
		return nil, apperr.Validation("notified_to is required")
	}
	o, err := s.update(ctx, id, func(o *Order, now time.Time) error {
		if o.Status == StatusEnteredInError || o.Status == StatusCancelled {
			return apperr.Conflict("cannot flag an order that is %s", o.Status)
		}
		o.IsCritical = true
		o.CriticalNotifiedTo = &notifiedTo
		o.CriticalNotifiedAt = &now
		o.CriticalAcknowledgedAt = nil
		o.CriticalAcknowledgedBy = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn().
		Str("order_id", o.ID.String()).
		Str("notified_to", notifiedTo.String()).
		Msg("critical result recorded")
	return o, nil
}

func (s *Service) AcknowledgeCritical(ctx context.Context, id, by uuid.UUID) (*Order, error) {
	return s.update(ctx, id, func(o *Order, now time.Time) error {
		if !o.IsCritical {
			return apperr.Conflict("order has no critical result")
		}
		if o.CriticalAcknowledgedAt != nil {
			return nil
		}
		o.CriticalAcknowledgedAt = &now
		o.CriticalAcknowledgedBy = &by
		return nil
	})
}

// Forward sends a summary of the order to another clinician's inbox, urgent
// when the result is critical.
func (s *Service) Forward(ctx context.Context, id, to, from uuid.UUID, note string) (*inbox.Message, error) {
	if to == uuid.Nil {
		return nil, apperr.Validation("recipient_id is required")
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	priority := inbox.PriorityNormal
	if o.IsCritical {
		priority = inbox.PriorityUrgent
	}
	body := summarize(o, note)
	sourceType := "order"
	msg, err := s.messages.Send(ctx, &from, inbox.SendInput{
		MessageType: inbox.TypeResult,
		Priority:    priority,
		Subject:     "Result forwarded: " + o.CodeDisplay,
		Body:        &body,
		PatientID:   &o.PatientID,
		RecipientID: to,
		SourceType:  &sourceType,
		SourceID:    &o.ID,
	}, CategoryResults)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func summarize(o *Order, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) order %s, status %s", o.CodeDisplay, o.Code, o.ID, o.Status)
	if o.IsCritical {
		b.WriteString(", CRITICAL")
	}
	for _, r := range o.Results {
		b.WriteString("\n")
		name := r.Display
		if name == "" {
			name = r.Code
		}
		b.WriteString(name + ": " + r.Value)
		if r.Unit != nil {
			b.WriteString(" " + *r.Unit)
		}
		if r.Interpretation != nil {
			b.WriteString(" [" + *r.Interpretation + "]")
		}
	}
	if note = strings.TrimSpace(note); note != "" {
		b.WriteString("\n\n" + note)
	}
	return b.String()
}

func (s *Service) ListUnacknowledged(ctx context.Context, providerID uuid.UUID) ([]*Order, error) {
	items, err := s.orders.ListUnacknowledged(ctx, providerID)
	if err != nil {
		return nil, apperr.Internal("list unacknowledged results", err)
	}
	sortForReview(items)
	return items, nil
}

func (s *Service) ListCritical(ctx context.Context, providerID uuid.UUID) ([]*Order, error) {
	items, err := s.orders.ListCritical(ctx, providerID)
	if err != nil {
		return nil, apperr.Internal("list critical results", err)
	}
	sortForReview(items)
	return items, nil
}

// ListCriticalUnacknowledgedBefore returns critical orders whose
// notification is older than threshold and still not acknowledged.
func (s *Service) ListCriticalUnacknowledgedBefore(ctx context.Context, threshold time.Time) ([]*Order, error) {
	items, err := s.orders.ListCriticalUnacknowledgedBefore(ctx, threshold)
	if err != nil {
		return nil, apperr.Internal("list unacknowledged critical results", err)
	}
	return items, nil
}

// sortForReview puts critical orders first, then higher priority, then the
// most recent activity.
func sortForReview(items []*Order) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsCritical != b.IsCritical {
			return a.IsCritical
		}
		if ra, rb := rank(a.Priority), rank(b.Priority); ra != rb {
			return ra < rb
		}
		return activityAt(a).After(activityAt(b))
	})
}

func rank(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return len(priorityRank)
}

func activityAt(o *Order) time.Time {
	switch {
	case o.ReportedAt != nil:
		return *o.ReportedAt
	case o.CompletedAt != nil:
		return *o.CompletedAt
	default:
		return o.OrderedAt
	}
}

func validateResults(results []Result) error {
	for i, r := range results {
		if strings.TrimSpace(r.Code) == "" {
			return apperr.Validation("results[%d].code is required", i)
		}
		if strings.TrimSpace(r.Value) == "" {
			return apperr.Validation("results[%d].value is required", i)
		}
	}
	return nil
}

// update loads the order under lock, applies fn and writes it back.
func (s *Service) update(ctx context.Context, id uuid.UUID, fn func(*Order, time.Time) error) (*Order, error) {
	var out *Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(o, s.now()); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return apperr.Internal("update order", err)
		}
		out = o
		return nil
	})
	return out, err
}
