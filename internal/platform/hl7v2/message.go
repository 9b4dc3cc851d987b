package hl7v2

import (
	"fmt"
	"strings"
)

// Message is a parsed HL7v2 message.
type Message struct {
	Segments []Segment
}

// Segment holds raw field values. Fields[0] is the segment name, so
// Fields[n] is field n for every segment, MSH included (MSH-1 is the
// field separator).
type Segment struct {
	Name   string
	Fields []string
}

// Parse splits raw on carriage returns (or newlines) into segments.
func Parse(raw []byte) (*Message, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	msg := &Message{}
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		if len(line) < 3 {
			return nil, fmt.Errorf("hl7v2: segment too short: %q", line)
		}
		parts := strings.Split(line, "|")
		seg := Segment{Name: parts[0]}
		if seg.Name == "MSH" {
			// Re-insert MSH-1 so indices line up with the standard.
			seg.Fields = append([]string{"MSH", "|"}, parts[1:]...)
		} else {
			seg.Fields = parts
		}
		msg.Segments = append(msg.Segments, seg)
	}

	if len(msg.Segments) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if msg.Segments[0].Name != "MSH" {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", msg.Segments[0].Name)
	}
	return msg, nil
}

// Segment returns the first segment named name, or nil.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// Field returns field n (1-based), or "" when absent.
func (s *Segment) Field(n int) string {
	if n < 1 || n >= len(s.Fields) {
		return ""
	}
	return s.Fields[n]
}

// Component returns component c (1-based) of field n.
func (s *Segment) Component(n, c int) string {
	comps := strings.Split(s.Field(n), "^")
	if c < 1 || c > len(comps) {
		return ""
	}
	return comps[c-1]
}
