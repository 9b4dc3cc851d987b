package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// ContentType is the MIME type used when ORM messages are put on the wire.
const ContentType = "x-application/hl7-v2+er7"

const timestampLayout = "20060102150405"

// Order category tokens carried in ORC/OBR.
const (
	CategoryPharmacy  = "RX"
	CategoryLab       = "LAB"
	CategoryRadiology = "RAD"
)

// codingSystems maps an order category token to the coding system token that
// qualifies OBR-4.
var codingSystems = map[string]string{
	CategoryPharmacy:  "RXNORM",
	CategoryLab:       "LN",
	CategoryRadiology: "CPT",
}

// CodingSystemFor returns the coding system token for a category token.
func CodingSystemFor(category string) (string, bool) {
	s, ok := codingSystems[category]
	return s, ok
}

// Envelope identifies both ends of the interface and the message instance.
type Envelope struct {
	SendingApp        string
	SendingFacility   string
	ReceivingApp      string
	ReceivingFacility string
	Timestamp         time.Time
	ControlID         string
}

type Patient struct {
	MRN        string
	FamilyName string
	GivenName  string
	BirthDate  *time.Time
	Gender     string
}

type Order struct {
	PlacerID    string
	EncounterID string
	Category    string
	Code        string
	Display     string
	Priority    string
	OrderedAt   time.Time
	SignedAt    time.Time
	Signer      string
}

// BuildOrderMessage renders an ORM^O01 new-order message with exactly five
// segments: MSH, PID, PV1, ORC and OBR, separated by carriage returns.
func BuildOrderMessage(env Envelope, p Patient, o Order) ([]byte, error) {
	system, ok := CodingSystemFor(o.Category)
	if !ok {
		return nil, fmt.Errorf("hl7v2: unknown order category %q", o.Category)
	}
	if o.PlacerID == "" || o.Code == "" {
		return nil, fmt.Errorf("hl7v2: placer id and code are required")
	}
	if env.ControlID == "" {
		return nil, fmt.Errorf("hl7v2: control id is required")
	}

	signedAt := formatTime(o.SignedAt)
	segments := []string{
		"MSH|^~\\&|" + join(
			escape(env.SendingApp), escape(env.SendingFacility),
			escape(env.ReceivingApp), escape(env.ReceivingFacility),
			formatTime(env.Timestamp), "", "ORM^O01", escape(env.ControlID), "P", "2.5.1",
		),
		segment("PID", map[int]string{
			1: "1",
			3: escape(p.MRN) + "^^^^MR",
			5: escape(p.FamilyName) + "^" + escape(p.GivenName),
			7: formatDate(p.BirthDate),
			8: administrativeSex(p.Gender),
		}),
		segment("PV1", map[int]string{
			1:  "1",
			2:  "O",
			19: escape(o.EncounterID),
		}),
		segment("ORC", map[int]string{
			1:  "NW",
			2:  escape(o.PlacerID),
			5:  "SC",
			9:  signedAt,
			12: escape(o.Signer),
		}),
		segment("OBR", map[int]string{
			1:  "1",
			2:  escape(o.PlacerID),
			4:  escape(o.Code) + "^" + escape(o.Display) + "^" + system,
			5:  priorityCode(o.Priority),
			6:  formatTime(o.OrderedAt),
			16: escape(o.Signer),
			24: o.Category,
		}),
	}
	return []byte(strings.Join(segments, "\r")), nil
}

// segment renders name followed by fields at their 1-based positions.
func segment(name string, fields map[int]string) string {
	last := 0
	for i := range fields {
		if i > last {
			last = i
		}
	}
	parts := make([]string, last+1)
	parts[0] = name
	for i, v := range fields {
		parts[i] = v
	}
	return strings.Join(parts, "|")
}

func join(fields ...string) string {
	return strings.Join(fields, "|")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("20060102")
}

func administrativeSex(gender string) string {
	switch strings.ToLower(gender) {
	case "male":
		return "M"
	case "female":
		return "F"
	case "other":
		return "O"
	default:
		return "U"
	}
}

func priorityCode(priority string) string {
	switch priority {
	case "stat":
		return "S"
	case "asap", "urgent":
		return "A"
	default:
		return "R"
	}
}

// escape applies the HL7 escape sequences for the default delimiters.
// Backslash goes first so the inserted sequences are not escaped again.
func escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}
