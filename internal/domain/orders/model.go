package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ordersafety/internal/domain/cds"
)

const (
	TypeMedication = "medication"
	TypeLaboratory = "laboratory"
	TypeImaging    = "imaging"
)

const (
	StatusDraft          = "draft"
	StatusActive         = "active"
	StatusOnHold         = "on-hold"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusEnteredInError = "entered-in-error"
)

const (
	PriorityRoutine = "routine"
	PriorityUrgent  = "urgent"
	PriorityASAP    = "asap"
	PriorityStat    = "stat"
)

const (
	StageSpecimenReceived = "specimen_received"
	StageLabProcessing    = "lab_processing"
	StageCompleted        = "completed"
	StageReported         = "reported"
)

var validStages = map[string]bool{
	StageSpecimenReceived: true, StageLabProcessing: true, StageCompleted: true, StageReported: true,
}

// priorityRank orders review queues: lower is more pressing.
var priorityRank = map[string]int{
	PriorityStat: 0, PriorityASAP: 1, PriorityUrgent: 2, PriorityRoutine: 3,
}

// OrderDetail is the type-specific part of an order. The concrete type always
// agrees with Order.OrderType.
type OrderDetail interface {
	OrderType() string
}

type MedicationDetail struct {
	Dosage       string   `json:"dosage"`
	Route        string   `json:"route"`
	Frequency    string   `json:"frequency"`
	Duration     *string  `json:"duration,omitempty"`
	Quantity     *float64 `json:"quantity,omitempty"`
	QuantityUnit *string  `json:"quantity_unit,omitempty"`
	Refills      int      `json:"refills"`
	PRN          bool     `json:"prn"`
	PRNReason    *string  `json:"prn_reason,omitempty"`
}

func (MedicationDetail) OrderType() string { return TypeMedication }

// LabDetail carries the tests to run. A panel order lists every member test.
type LabDetail struct {
	PanelCode    *string       `json:"panel_code,omitempty"`
	Tests        []cds.LabTest `json:"tests"`
	SpecimenType *string       `json:"specimen_type,omitempty"`
	Fasting      bool          `json:"fasting"`
	Notes        *string       `json:"notes,omitempty"`
}

func (LabDetail) OrderType() string { return TypeLaboratory }

type ImagingDetail struct {
	Indication string  `json:"indication"`
	BodySite   *string `json:"body_site,omitempty"`
	Laterality *string `json:"laterality,omitempty"`
	Contrast   bool    `json:"contrast"`
}

func (ImagingDetail) OrderType() string { return TypeImaging }

// Result is one reported observation on an order.
type Result struct {
	Code           string  `json:"code"`
	Display        string  `json:"display,omitempty"`
	Value          string  `json:"value"`
	Unit           *string `json:"unit,omitempty"`
	Interpretation *string `json:"interpretation,omitempty"`
	ReferenceRange *string `json:"reference_range,omitempty"`
}

type Order struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	PatientID   uuid.UUID   `db:"patient_id" json:"patient_id"`
	EncounterID *uuid.UUID  `db:"encounter_id" json:"encounter_id,omitempty"`
	OrderType   string      `db:"order_type" json:"order_type"`
	Status      string      `db:"status" json:"status"`
	Priority    string      `db:"priority" json:"priority"`
	CodeSystem  *string     `db:"code_system" json:"code_system,omitempty"`
	Code        string      `db:"code" json:"code"`
	CodeDisplay string      `db:"code_display" json:"code_display"`
	Detail      OrderDetail `db:"detail" json:"detail"`
	Alerts      []cds.Alert `db:"cds_alerts" json:"cds_alerts"`

	OrderedBy    uuid.UUID  `db:"ordered_by" json:"ordered_by"`
	OrderedAt    time.Time  `db:"ordered_at" json:"ordered_at"`
	SignedBy     *uuid.UUID `db:"signed_by" json:"signed_by,omitempty"`
	SignedAt     *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	CancelledBy  *uuid.UUID `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	StatusReason *string    `db:"status_reason" json:"status_reason,omitempty"`

	SpecimenReceivedAt *time.Time `db:"specimen_received_at" json:"specimen_received_at,omitempty"`
	LabProcessingAt    *time.Time `db:"lab_processing_at" json:"lab_processing_at,omitempty"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ReportedAt         *time.Time `db:"reported_at" json:"reported_at,omitempty"`

	Results                []Result   `db:"results" json:"results,omitempty"`
	IsCritical             bool       `db:"is_critical" json:"is_critical"`
	CriticalNotifiedTo     *uuid.UUID `db:"critical_notified_to" json:"critical_notified_to,omitempty"`
	CriticalNotifiedAt     *time.Time `db:"critical_notified_at" json:"critical_notified_at,omitempty"`
	CriticalAcknowledgedAt *time.Time `db:"critical_acknowledged_at" json:"critical_acknowledged_at,omitempty"`
	CriticalAcknowledgedBy *uuid.UUID `db:"critical_acknowledged_by" json:"critical_acknowledged_by,omitempty"`
	AcknowledgedAt         *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy         *uuid.UUID `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AmendedAt              *time.Time `db:"amended_at" json:"amended_at,omitempty"`
	AmendReason            *string    `db:"amend_reason" json:"amend_reason,omitempty"`
	PriorResults           []Result   `db:"prior_results" json:"prior_results,omitempty"`

	ExternalResourceID *string   `db:"external_resource_id" json:"external_resource_id,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// transitions lists the statuses reachable from each status. Statuses with
// no entry are terminal.
var transitions = map[string][]string{
	StatusDraft:  {StatusActive, StatusCancelled, StatusEnteredInError},
	StatusActive: {StatusCompleted, StatusCancelled, StatusOnHold, StatusEnteredInError},
	StatusOnHold: {StatusActive, StatusCompleted, StatusCancelled, StatusEnteredInError},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type MedicationInput struct {
	Dosage       string   `json:"dosage" validate:"notblank"`
	Route        string   `json:"route" validate:"notblank"`
	Frequency    string   `json:"frequency" validate:"notblank"`
	Duration     *string  `json:"duration,omitempty"`
	Quantity     *float64 `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	QuantityUnit *string  `json:"quantity_unit,omitempty"`
	Refills      int      `json:"refills" validate:"gte=0"`
	PRN          bool     `json:"prn"`
	PRNReason    *string  `json:"prn_reason,omitempty"`
}

type LabInput struct {
	PanelCode    *string `json:"panel_code,omitempty"`
	SpecimenType *string `json:"specimen_type,omitempty"`
	Fasting      bool    `json:"fasting"`
	Notes        *string `json:"notes,omitempty"`
}

type ImagingInput struct {
	Indication string  `json:"indication" validate:"notblank"`
	BodySite   *string `json:"body_site,omitempty"`
	Laterality *string `json:"laterality,omitempty" validate:"omitempty,oneof=left right bilateral"`
	Contrast   bool    `json:"contrast"`
}

// CreateOrderInput is the request to place a draft order. Exactly the detail
// block matching OrderType must be present.
type CreateOrderInput struct {
	PatientID   uuid.UUID  `json:"patient_id" validate:"required"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	OrderType   string     `json:"order_type" validate:"required,oneof=medication laboratory imaging"`
	Priority    string     `json:"priority,omitempty" validate:"omitempty,oneof=routine urgent asap stat"`
	Code        string     `json:"code" validate:"notblank"`
	Display     string     `json:"display" validate:"notblank"`

	Medication *MedicationInput `json:"medication,omitempty"`
	Laboratory *LabInput        `json:"laboratory,omitempty"`
	Imaging    *ImagingInput    `json:"imaging,omitempty"`
}

// SignResult is the signed order plus any external delivery that did not
// go through. Warnings never mean the signature failed.
type SignResult struct {
	Order    *Order        `json:"order"`
	Outcomes []SyncOutcome `json:"outcomes"`
	Warnings []string      `json:"warnings"`
}
