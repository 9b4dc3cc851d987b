package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/internal/domain/identity"
	"github.com/ehr/ordersafety/internal/domain/inbox"
	"github.com/ehr/ordersafety/internal/domain/orders"
	"github.com/ehr/ordersafety/internal/platform/db"
	"github.com/ehr/ordersafety/pkg/apperr"
)

// CriticalResultSource is satisfied by orders.Service.
type CriticalResultSource interface {
	ListCriticalUnacknowledgedBefore(ctx context.Context, threshold time.Time) ([]*orders.Order, error)
}

// UrgentMessageSource is satisfied by inbox.Service.
type UrgentMessageSource interface {
	ListUnreadUrgentBefore(ctx context.Context, threshold time.Time, priorityFilter *string) ([]*inbox.Message, error)
}

// RoleDirectory is satisfied by identity.Service.
type RoleDirectory interface {
	FindActiveUserByRole(ctx context.Context, role string) (*identity.User, error)
}

// RecipientResolver is satisfied by delegation.Service.
type RecipientResolver interface {
	ResolveEffectiveRecipient(ctx context.Context, recipient uuid.UUID, category string) (uuid.UUID, error)
}

// MessageCreator is satisfied by inbox.Service.
type MessageCreator interface {
	Create(ctx context.Context, m *inbox.Message) error
}

// Locker is satisfied by lock.RedisLocker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

type EngineDeps struct {
	Rules    RuleRepository
	Events   EventRepository
	Results  CriticalResultSource
	Messages UrgentMessageSource
	Users    RoleDirectory
	Resolver RecipientResolver
	Inbox    MessageCreator

	// Locker is optional; without it runs are not guarded against overlap.
	Locker  Locker
	LockTTL time.Duration

	// Deduplicate skips items that already have an open event under the
	// same rule.
	Deduplicate bool

	// SkipEscalationMessages leaves escalation alerts out of urgent
	// message scans so an unread alert is not escalated again.
	SkipEscalationMessages bool
}

// Engine scans for overdue critical results and urgent messages and alerts
// the rule's target.
type Engine struct {
	EngineDeps
	logger zerolog.Logger
}

func NewEngine(d EngineDeps, logger zerolog.Logger) *Engine {
	if d.LockTTL <= 0 {
		d.LockTTL = 5 * time.Minute
	}
	return &Engine{EngineDeps: d, logger: logger.With().Str("component", "escalation_engine").Logger()}
}

// candidate is one overdue item found by a rule.
type candidate struct {
	sourceType string
	sourceID   uuid.UUID
	recipient  *uuid.UUID
	patientID  *uuid.UUID
	label      string
	since      time.Time
}

const lockKeyPrefix = "ordersafety:escalation:run:"

// Run evaluates every active rule once as of now.
func (e *Engine) Run(ctx context.Context, now time.Time) (RunReport, error) {
	report := RunReport{RanAt: now}

	if e.Locker != nil {
		key := lockKeyPrefix + db.TenantFromContext(ctx)
		token, ok, err := e.Locker.TryLock(ctx, key, e.LockTTL)
		if err != nil {
			return report, apperr.Internal("acquire escalation lock", err)
		}
		if !ok {
			e.logger.Info().Msg("escalation run already in progress, skipping")
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if err := e.Locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				e.logger.Warn().Err(err).Msg("release escalation lock")
			}
		}()
	}

	rules, err := e.Rules.List(ctx, true)
	if err != nil {
		return report, apperr.Internal("list escalation rules", err)
	}

	for _, rule := range rules {
		report.RulesEvaluated++
		items, err := e.candidates(ctx, rule, now)
		if err != nil {
			report.Errors++
			e.logger.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("scan for overdue items")
			continue
		}
		for _, c := range items {
			report.Candidates++
			e.escalate(ctx, rule, c, now, &report)
		}
	}

	e.logger.Info().
		Int("rules", report.RulesEvaluated).
		Int("candidates", report.Candidates).
		Int("escalated", report.Escalated).
		Int("no_target", report.NoTarget).
		Int("message_failures", report.MessageFailures).
		Msg("escalation run finished")
	return report, nil
}

func (e *Engine) candidates(ctx context.Context, rule *Rule, now time.Time) ([]candidate, error) {
	threshold := rule.Threshold(now)
	var out []candidate
	switch rule.RuleType {
	case RuleCriticalResult:
		found, err := e.Results.ListCriticalUnacknowledgedBefore(ctx, threshold)
		if err != nil {
			return nil, err
		}
		for _, o := range found {
			recipient := o.CriticalNotifiedTo
			if recipient == nil {
				recipient = &o.OrderedBy
			}
			patient := o.PatientID
			c := candidate{
				sourceType: SourceOrder,
				sourceID:   o.ID,
				recipient:  recipient,
				patientID:  &patient,
				label:      "Critical result " + o.CodeDisplay,
				since:      o.OrderedAt,
			}
			if o.CriticalNotifiedAt != nil {
				c.since = *o.CriticalNotifiedAt
			}
			out = append(out, c)
		}
	case RuleUrgentMessage:
		found, err := e.Messages.ListUnreadUrgentBefore(ctx, threshold, rule.PriorityFilter)
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			if e.SkipEscalationMessages && m.MessageType == inbox.TypeEscalation {
				continue
			}
			recipient := m.RecipientID
			out = append(out, candidate{
				sourceType: SourceMessage,
				sourceID:   m.ID,
				recipient:  &recipient,
				patientID:  m.PatientID,
				label:      "Urgent message \"" + m.Subject + "\"",
				since:      m.CreatedAt,
			})
		}
	default:
		return nil, fmt.Errorf("unknown rule type %q", rule.RuleType)
	}
	return out, nil
}

func categoryFor(ruleType string) string {
	if ruleType == RuleCriticalResult {
		return orders.CategoryResults
	}
	return inbox.CategoryMessages
}

// target picks who to alert: the rule's user, else any active holder of the
// rule's role, then follows that person's delegation or out-of-office.
func (e *Engine) target(ctx context.Context, rule *Rule) (uuid.UUID, bool, error) {
	var who uuid.UUID
	switch {
	case rule.TargetUserID != nil:
		who = *rule.TargetUserID
	case rule.TargetRole != nil:
		u, err := e.Users.FindActiveUserByRole(ctx, *rule.TargetRole)
		if err != nil {
			return uuid.Nil, false, err
		}
		if u == nil {
			return uuid.Nil, false, nil
		}
		who = u.ID
	default:
		return uuid.Nil, false, nil
	}
	resolved, err := e.Resolver.ResolveEffectiveRecipient(ctx, who, categoryFor(rule.RuleType))
	if err != nil {
		return uuid.Nil, false, err
	}
	return resolved, true, nil
}

func (e *Engine) escalate(ctx context.Context, rule *Rule, c candidate, now time.Time, report *RunReport) {
	log := e.logger.With().Str("rule_id", rule.ID.String()).Str("source_id", c.sourceID.String()).Logger()

	if e.Deduplicate {
		open, err := e.Events.HasOpen(ctx, rule.ID, c.sourceID)
		if err != nil {
			report.Errors++
			log.Error().Err(err).Msg("check open escalation")
			return
		}
		if open {
			report.Duplicates++
			return
		}
	}

	to, ok, err := e.target(ctx, rule)
	if err != nil {
		report.Errors++
		log.Error().Err(err).Msg("resolve escalation target")
		return
	}
	if !ok {
		report.NoTarget++
		log.Warn().Msg("no escalation target, item skipped")
		return
	}

	waited := int(now.Sub(c.since).Minutes())
	reason := fmt.Sprintf("%s unacknowledged for %d minutes (rule %q, threshold %d minutes)",
		c.label, waited, rule.Name, rule.ThresholdMinutes)
	ev := &Event{
		RuleID:            rule.ID,
		SourceType:        c.sourceType,
		SourceID:          c.sourceID,
		OriginalRecipient: c.recipient,
		EscalatedTo:       to,
		Reason:            reason,
	}
	if err := e.Events.Create(ctx, ev); err != nil {
		report.Errors++
		log.Error().Err(err).Msg("record escalation event")
		return
	}
	report.Escalated++

	sourceType := "escalation_event"
	msg := &inbox.Message{
		MessageType: inbox.TypeEscalation,
		Priority:    inbox.PriorityUrgent,
		Subject:     "Escalation: " + c.label,
		Body:        &reason,
		PatientID:   c.patientID,
		RecipientID: to,
		SourceType:  &sourceType,
		SourceID:    &ev.ID,
	}
	if err := e.Inbox.Create(ctx, msg); err != nil {
		report.MessageFailures++
		log.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("escalation message not delivered")
		return
	}
	log.Info().Str("event_id", ev.ID.String()).Str("escalated_to", to.String()).Msg("item escalated")
}

// RunEvery runs the engine on each tick until ctx is cancelled. wrap, when
// set, prepares the context of each run (for example to pin a tenant).
func (e *Engine) RunEvery(ctx context.Context, interval time.Duration, wrap func(context.Context, func(context.Context) error) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.logger.Info().Dur("interval", interval).Msg("escalation ticker started")
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			run := func(ctx context.Context) error {
				_, err := e.Run(ctx, t)
				return err
			}
			var err error
			if wrap != nil {
				err = wrap(ctx, run)
			} else {
				err = run(ctx)
			}
			if err != nil {
				e.logger.Error().Err(err).Msg("escalation run failed")
			}
		}
	}
}
