package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/internal/domain/identity"
	"github.com/ehr/ordersafety/internal/platform/fhir"
	"github.com/ehr/ordersafety/internal/platform/hl7v2"
	"github.com/ehr/ordersafety/internal/platform/queue"
)

type SyncStatus string

const (
	SyncDelivered SyncStatus = "delivered"
	SyncFailed    SyncStatus = "failed"
)

const (
	TargetResourceStore = "resource_store"
	TargetQueue         = "integration_queue"
)

// SyncOutcome is the result of one best-effort delivery of a signed order.
type SyncOutcome struct {
	Target     string     `json:"target"`
	Status     SyncStatus `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	ResourceID string     `json:"resource_id,omitempty"`
}

func delivered(target, resourceID string) SyncOutcome {
	return SyncOutcome{Target: target, Status: SyncDelivered, ResourceID: resourceID}
}

func failed(target, reason string) SyncOutcome {
	return SyncOutcome{Target: target, Status: SyncFailed, Reason: reason}
}

const orderIdentifierSystem = "urn:ordersafety:order"

// ResourceCreator is satisfied by fhirstore.Client.
type ResourceCreator interface {
	CreateResource(ctx context.Context, resourceType string, resource interface{}) (string, error)
}

// FHIRSync writes signed orders to the external FHIR store. A nil creator
// means the store is not configured and every attempt reports "disabled".
type FHIRSync struct {
	creator ResourceCreator
	logger  zerolog.Logger
}

func NewFHIRSync(creator ResourceCreator, logger zerolog.Logger) *FHIRSync {
	return &FHIRSync{creator: creator, logger: logger.With().Str("component", "fhir_sync").Logger()}
}

func (s *FHIRSync) AttemptSync(ctx context.Context, o *Order) SyncOutcome {
	if s.creator == nil {
		return failed(TargetResourceStore, "disabled")
	}
	resourceType, resource := BuildResource(o)
	id, err := s.creator.CreateResource(ctx, resourceType, resource)
	if err != nil {
		return failed(TargetResourceStore, err.Error())
	}
	s.logger.Debug().Str("order_id", o.ID.String()).Str("resource_id", id).Msg("order synced")
	return delivered(TargetResourceStore, id)
}

var (
	categoryLab = fhir.CodeableConcept{Coding: []fhir.Coding{{
		System: fhir.SystemSNOMED, Code: "108252007", Display: "Laboratory procedure",
	}}}
	categoryImaging = fhir.CodeableConcept{Coding: []fhir.Coding{{
		System: fhir.SystemSNOMED, Code: "363679005", Display: "Imaging",
	}}}
)

// BuildResource maps an order to a MedicationRequest or, for lab and imaging
// orders, a ServiceRequest.
func BuildResource(o *Order) (string, interface{}) {
	system := ""
	if o.CodeSystem != nil {
		system = *o.CodeSystem
	}
	code := fhir.CodeableConcept{
		Coding: []fhir.Coding{{System: system, Code: o.Code, Display: o.CodeDisplay}},
		Text:   o.CodeDisplay,
	}
	subject := fhir.Reference{Reference: fhir.FormatReference("Patient", o.PatientID.String())}
	ident := []fhir.Identifier{{System: orderIdentifierSystem, Value: o.ID.String()}}
	var encounter, requester *fhir.Reference
	if o.EncounterID != nil {
		encounter = &fhir.Reference{Reference: fhir.FormatReference("Encounter", o.EncounterID.String())}
	}
	if o.SignedBy != nil {
		requester = &fhir.Reference{Reference: fhir.FormatReference("Practitioner", o.SignedBy.String())}
	}
	authored := ""
	if o.SignedAt != nil {
		authored = o.SignedAt.UTC().Format(time.RFC3339)
	}

	if d, ok := o.Detail.(MedicationDetail); ok {
		mr := &fhir.MedicationRequest{
			Resource:                  fhir.Resource{ResourceType: "MedicationRequest"},
			Identifier:                ident,
			Status:                    "active",
			Intent:                    "order",
			Priority:                  o.Priority,
			MedicationCodeableConcept: code,
			Subject:                   subject,
			Encounter:                 encounter,
			AuthoredOn:                authored,
			Requester:                 requester,
			DosageInstruction: []fhir.Dosage{{
				Text:     d.Dosage + " " + d.Route + " " + d.Frequency,
				Route:    &fhir.CodeableConcept{Text: d.Route},
				AsNeeded: d.PRN,
			}},
		}
		if d.Refills > 0 || d.Quantity != nil {
			dr := &fhir.DispenseRequest{NumberOfRepeatsAllowed: d.Refills}
			if d.Quantity != nil {
				q := &fhir.Quantity{Value: *d.Quantity}
				if d.QuantityUnit != nil {
					q.Unit = *d.QuantityUnit
				}
				dr.Quantity = q
			}
			mr.DispenseRequest = dr
		}
		return "MedicationRequest", mr
	}

	sr := &fhir.ServiceRequest{
		Resource:   fhir.Resource{ResourceType: "ServiceRequest"},
		Identifier: ident,
		Status:     "active",
		Intent:     "order",
		Priority:   o.Priority,
		Code:       code,
		Subject:    subject,
		Encounter:  encounter,
		AuthoredOn: authored,
		Requester:  requester,
	}
	switch d := o.Detail.(type) {
	case LabDetail:
		sr.Category = []fhir.CodeableConcept{categoryLab}
		for _, t := range d.Tests {
			sr.OrderDetail = append(sr.OrderDetail, fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: fhir.SystemLOINC, Code: t.Code, Display: t.Display}},
			})
		}
		if d.Notes != nil {
			sr.Note = []fhir.Annotation{{Text: *d.Notes}}
		}
	case ImagingDetail:
		sr.Category = []fhir.CodeableConcept{categoryImaging}
		sr.ReasonCode = []fhir.CodeableConcept{{Text: d.Indication}}
		if d.BodySite != nil {
			sr.BodySite = []fhir.CodeableConcept{{Text: *d.BodySite}}
		}
	}
	return "ServiceRequest", sr
}

// Publisher is satisfied by queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Endpoints names both ends of the HL7 interface.
type Endpoints struct {
	SendingApp        string
	SendingFacility   string
	ReceivingApp      string
	ReceivingFacility string
}

// QueuePublish renders signed orders as HL7 v2 ORM messages and publishes
// them. A nil publisher reports "disabled".
type QueuePublish struct {
	publisher Publisher
	endpoints Endpoints
	logger    zerolog.Logger
	now       func() time.Time
}

func NewQueuePublish(publisher Publisher, endpoints Endpoints, logger zerolog.Logger) *QueuePublish {
	return &QueuePublish{
		publisher: publisher,
		endpoints: endpoints,
		logger:    logger.With().Str("component", "order_publish").Logger(),
		now:       time.Now,
	}
}

var hl7Categories = map[string]string{
	TypeMedication: hl7v2.CategoryPharmacy,
	TypeLaboratory: hl7v2.CategoryLab,
	TypeImaging:    hl7v2.CategoryRadiology,
}

func (q *QueuePublish) AttemptPublish(ctx context.Context, o *Order, p *identity.Patient) SyncOutcome {
	if q.publisher == nil {
		return failed(TargetQueue, "disabled")
	}
	body, err := BuildOrderMessage(o, p, q.endpoints, q.now(), uuid.NewString())
	if err != nil {
		return failed(TargetQueue, err.Error())
	}
	msg := queue.Message{
		ContentType: hl7v2.ContentType,
		Body:        body,
		Headers: map[string]string{
			"order_id": o.ID.String(),
			"category": hl7Categories[o.OrderType],
		},
	}
	if err := q.publisher.Publish(ctx, msg); err != nil {
		return failed(TargetQueue, err.Error())
	}
	q.logger.Debug().Str("order_id", o.ID.String()).Msg("order published")
	return delivered(TargetQueue, "")
}

// BuildOrderMessage renders the ORM^O01 message for a signed order.
func BuildOrderMessage(o *Order, p *identity.Patient, ep Endpoints, at time.Time, controlID string) ([]byte, error) {
	hp := hl7v2.Patient{
		MRN:        p.MRN,
		FamilyName: p.FamilyName,
		GivenName:  p.GivenName,
		BirthDate:  p.BirthDate,
	}
	if p.Gender != nil {
		hp.Gender = *p.Gender
	}
	ho := hl7v2.Order{
		PlacerID:  o.ID.String(),
		Category:  hl7Categories[o.OrderType],
		Code:      o.Code,
		Display:   o.CodeDisplay,
		Priority:  o.Priority,
		OrderedAt: o.OrderedAt,
	}
	if o.EncounterID != nil {
		ho.EncounterID = o.EncounterID.String()
	}
	if o.SignedAt != nil {
		ho.SignedAt = *o.SignedAt
	}
	if o.SignedBy != nil {
		ho.Signer = o.SignedBy.String()
	}
	env := hl7v2.Envelope{
		SendingApp:        ep.SendingApp,
		SendingFacility:   ep.SendingFacility,
		ReceivingApp:      ep.ReceivingApp,
		ReceivingFacility: ep.ReceivingFacility,
		Timestamp:         at,
		ControlID:         controlID,
	}
	return hl7v2.BuildOrderMessage(env, hp, ho)
}
