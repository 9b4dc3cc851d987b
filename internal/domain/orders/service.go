package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/internal/domain/cds"
	"github.com/ehr/ordersafety/internal/domain/identity"
	"github.com/ehr/ordersafety/internal/domain/inbox"
	"github.com/ehr/ordersafety/internal/platform/db"
	"github.com/ehr/ordersafety/internal/platform/fhir"
	"github.com/ehr/ordersafety/internal/platform/validate"
	"github.com/ehr/ordersafety/pkg/apperr"
)

// DefaultSignerRoles are the licensed roles allowed to sign orders.
var DefaultSignerRoles = []string{"physician", "nurse_practitioner", "physician_assistant", "resident"}

// PatientLookup is satisfied by identity.Service.
type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// MedicationChecker is satisfied by cds.Checker.
type MedicationChecker interface {
	CheckMedication(ctx context.Context, patientID uuid.UUID, code, dosage string) ([]cds.Alert, error)
}

// ResourceSync mirrors a signed order into the external resource store.
type ResourceSync interface {
	AttemptSync(ctx context.Context, o *Order) SyncOutcome
}

// MessagePublisher sends a signed order to the integration queue.
type MessagePublisher interface {
	AttemptPublish(ctx context.Context, o *Order, p *identity.Patient) SyncOutcome
}

// MessageSender is satisfied by inbox.Service.
type MessageSender interface {
	Send(ctx context.Context, senderID *uuid.UUID, in inbox.SendInput, category string) (*inbox.Message, error)
}

type Service struct {
	orders      OrderRepository
	patients    PatientLookup
	checker     MedicationChecker
	sync        ResourceSync
	publisher   MessagePublisher
	messages    MessageSender
	tx          db.TxRunner
	signerRoles map[string]bool
	validator   *validate.Validator
	logger      zerolog.Logger
	now         func() time.Time
}

type Deps struct {
	Orders    OrderRepository
	Patients  PatientLookup
	Checker   MedicationChecker
	Sync      ResourceSync
	Publisher MessagePublisher
	Messages  MessageSender
	Tx        db.TxRunner
	// SignerRoles overrides DefaultSignerRoles when non-empty.
	SignerRoles []string
}

func NewService(d Deps, logger zerolog.Logger) *Service {
	roles := d.SignerRoles
	if len(roles) == 0 {
		roles = DefaultSignerRoles
	}
	signers := make(map[string]bool, len(roles))
	for _, r := range roles {
		signers[r] = true
	}
	return &Service{
		orders:      d.Orders,
		patients:    d.Patients,
		checker:     d.Checker,
		sync:        d.Sync,
		publisher:   d.Publisher,
		messages:    d.Messages,
		tx:          d.Tx,
		signerRoles: signers,
		validator:   validate.New(),
		logger:      logger.With().Str("component", "orders").Logger(),
		now:         time.Now,
	}
}

// Create validates and stores a draft order. Medication orders carry the
// safety alerts raised at this moment; lab panel orders list their member
// tests.
func (s *Service) Create(ctx context.Context, orderedBy uuid.UUID, in CreateOrderInput) (*Order, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	if _, err := s.patients.GetPatient(ctx, in.PatientID); err != nil {
		return nil, err
	}

	o := &Order{
		PatientID:   in.PatientID,
		EncounterID: in.EncounterID,
		OrderType:   in.OrderType,
		Status:      StatusDraft,
		Priority:    in.Priority,
		Code:        strings.TrimSpace(in.Code),
		CodeDisplay: strings.TrimSpace(in.Display),
		Alerts:      []cds.Alert{},
		OrderedBy:   orderedBy,
		OrderedAt:   s.now(),
	}
	if o.Priority == "" {
		o.Priority = PriorityRoutine
	}

	switch in.OrderType {
	case TypeMedication:
		if in.Medication == nil {
			return nil, apperr.Validation("medication is required for medication orders")
		}
		m := in.Medication
		alerts, err := s.checker.CheckMedication(ctx, in.PatientID, o.Code, m.Dosage)
		if err != nil {
			return nil, err
		}
		o.Alerts = append(o.Alerts, alerts...)
		o.CodeSystem = strPtr(fhir.SystemRxNorm)
		o.Detail = MedicationDetail{
			Dosage: m.Dosage, Route: m.Route, Frequency: m.Frequency, Duration: m.Duration,
			Quantity: m.Quantity, QuantityUnit: m.QuantityUnit, Refills: m.Refills,
			PRN: m.PRN, PRNReason: m.PRNReason,
		}
	case TypeLaboratory:
		d := LabDetail{}
		if l := in.Laboratory; l != nil {
			d.PanelCode, d.SpecimenType, d.Fasting, d.Notes = l.PanelCode, l.SpecimenType, l.Fasting, l.Notes
		}
		if d.PanelCode != nil {
			panel, ok := cds.ExpandPanel(*d.PanelCode)
			if !ok {
				return nil, apperr.Validation("unknown panel code: %s", *d.PanelCode)
			}
			d.Tests = panel.Tests
		} else {
			d.Tests = []cds.LabTest{{Code: o.Code, Display: o.CodeDisplay}}
		}
		o.CodeSystem = strPtr(fhir.SystemLOINC)
		o.Detail = d
	case TypeImaging:
		if in.Imaging == nil {
			return nil, apperr.Validation("imaging is required for imaging orders")
		}
		im := in.Imaging
		o.CodeSystem = strPtr(fhir.SystemCPT)
		o.Detail = ImagingDetail{Indication: im.Indication, BodySite: im.BodySite, Laterality: im.Laterality, Contrast: im.Contrast}
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, apperr.Internal("create order", err)
	}
	s.logger.Info().
		Str("order_id", o.ID.String()).
		Str("order_type", o.OrderType).
		Int("alerts", len(o.Alerts)).
		Msg("order created")
	return o, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, id, "load order")
	}
	return o, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	items, total, err := s.orders.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list orders", err)
	}
	return items, total, nil
}

// Sign activates a draft order and then tries to deliver it to the resource
// store and the integration queue. Delivery failures are reported as
// warnings; the order stays signed.
func (s *Service) Sign(ctx context.Context, id, signer uuid.UUID, signerRoles []string) (*SignResult, error) {
	if !s.canSign(signerRoles) {
		return nil, apperr.Authorization("signing requires a licensed clinical role")
	}

	var res *SignResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != StatusDraft {
			return apperr.Conflict("only draft orders can be signed; order is %s", o.Status)
		}
		patient, err := s.patients.GetPatient(ctx, o.PatientID)
		if err != nil {
			return err
		}

		now := s.now()
		o.Status = StatusActive
		o.SignedBy = &signer
		o.SignedAt = &now
		if err := s.orders.Update(ctx, o); err != nil {
			return apperr.Internal("sign order", err)
		}

		res = &SignResult{Order: o, Warnings: []string{}}
		synced := s.sync.AttemptSync(ctx, o)
		if synced.Status == SyncDelivered && synced.ResourceID != "" {
			o.ExternalResourceID = &synced.ResourceID
			err := s.tx.WithTx(ctx, func(ctx context.Context) error {
				return s.orders.Update(ctx, o)
			})
			if err != nil {
				o.ExternalResourceID = nil
				res.Warnings = append(res.Warnings, "external resource id "+synced.ResourceID+" not recorded")
				s.logger.Warn().Err(err).
					Str("order_id", o.ID.String()).
					Str("resource_id", synced.ResourceID).
					Msg("failed to record external resource id")
			}
		}
		published := s.publisher.AttemptPublish(ctx, o, patient)

		for _, out := range []SyncOutcome{synced, published} {
			res.Outcomes = append(res.Outcomes, out)
			if out.Status == SyncFailed {
				res.Warnings = append(res.Warnings, out.Target+": "+out.Reason)
				s.logger.Warn().
					Str("order_id", o.ID.String()).
					Str("target", out.Target).
					Str("reason", out.Reason).
					Msg("order delivery failed")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", id.String()).Str("signed_by", signer.String()).Msg("order signed")
	return res, nil
}

func (s *Service) canSign(roles []string) bool {
	for _, r := range roles {
		if s.signerRoles[r] {
			return true
		}
	}
	return false
}

// Cancel stops an order that has not reached a terminal status.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, by uuid.UUID) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	return s.transition(ctx, id, StatusCancelled, func(o *Order, now time.Time) {
		o.CancelledBy = &by
		o.CancelledAt = &now
		o.StatusReason = &reason
	})
}

func (s *Service) Hold(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, StatusOnHold, nil)
}

func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, StatusActive, nil)
}

func (s *Service) MarkEnteredInError(ctx context.Context, id uuid.UUID, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	return s.transition(ctx, id, StatusEnteredInError, func(o *Order, _ time.Time) {
		o.StatusReason = &reason
	})
}

// transition moves the order to status when the transition table allows
// it, applying stamp to the locked row before it is written.
func (s *Service) transition(ctx context.Context, id uuid.UUID, status string, stamp func(*Order, time.Time)) (*Order, error) {
	var out *Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, status) {
			return apperr.Conflict("cannot move order from %s to %s", o.Status, status)
		}
		from := o.Status
		o.Status = status
		if stamp != nil {
			stamp(o, s.now())
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return apperr.Internal("update order status", err)
		}
		s.logger.Info().
			Str("order_id", o.ID.String()).
			Str("from", from).
			Str("to", status).
			Msg("order status changed")
		out = o
		return nil
	})
	return out, err
}

// UpdateLifecycleStage stamps a fulfilment stage. Only the completed stage
// changes the order's status.
func (s *Service) UpdateLifecycleStage(ctx context.Context, id uuid.UUID, stage string) (*Order, error) {
	if !validStages[stage] {
		return nil, apperr.Validation("invalid stage: %s", stage)
	}
	var out *Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		switch stage {
		case StageCompleted:
			if !CanTransition(o.Status, StatusCompleted) {
				return apperr.Conflict("cannot complete an order that is %s", o.Status)
			}
			o.Status = StatusCompleted
			o.CompletedAt = &now
		default:
			if o.Status != StatusActive && o.Status != StatusOnHold && o.Status != StatusCompleted {
				return apperr.Conflict("cannot record %s on an order that is %s", stage, o.Status)
			}
			switch stage {
			case StageSpecimenReceived:
				o.SpecimenReceivedAt = &now
			case StageLabProcessing:
				o.LabProcessingAt = &now
			case StageReported:
				o.ReportedAt = &now
			}
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return apperr.Internal("update order stage", err)
		}
		out = o
		return nil
	})
	return out, err
}

func (s *Service) lockOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetForUpdate(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, id, "load order")
	}
	return o, nil
}

func notFoundOr(err error, id uuid.UUID, msg string) error {
	if db.IsNotFound(err) {
		return apperr.NotFound("order", id)
	}
	return apperr.Internal(msg, err)
}

func strPtr(s string) *string { return &s }
