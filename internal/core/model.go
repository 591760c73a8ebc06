package core

import (
	"strings"
	"time"
)

// Segment identifies a named region of an email that rules can target.
type Segment string

const (
	SegmentSubject Segment = "subject"
	SegmentBody    Segment = "body"
	SegmentHeaders Segment = "headers"
	SegmentFrom    Segment = "from"
	SegmentTo      Segment = "to"
)

// ParseSegment normalizes a segment name and reports whether it is a
// member of the segment enum.
func ParseSegment(name string) (Segment, bool) {
	switch Segment(strings.ToLower(strings.TrimSpace(name))) {
	case SegmentSubject:
		return SegmentSubject, true
	case SegmentBody:
		return SegmentBody, true
	case SegmentHeaders:
		return SegmentHeaders, true
	case SegmentFrom:
		return SegmentFrom, true
	case SegmentTo:
		return SegmentTo, true
	}
	return "", false
}

// HeaderField is a single header occurrence. Repeated header names are
// kept as separate fields in original message order.
type HeaderField struct {
	Name  string
	Value string
}

// ParsedEmail is an email broken into the segments rules can address.
// It is immutable after the parser returns it.
type ParsedEmail struct {
	Headers []HeaderField
	Subject string
	Body    string
	From    string
	To      string
	Date    time.Time
}

// Header returns all values for a header name, case-insensitively, in
// original order.
func (e *ParsedEmail) Header(name string) []string {
	var values []string
	for _, f := range e.Headers {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// SegmentText maps a segment to its searchable text. The segment set is
// closed, so dispatch is a fixed mapping rather than dynamic lookup.
func (e *ParsedEmail) SegmentText(seg Segment) string {
	switch seg {
	case SegmentSubject:
		return e.Subject
	case SegmentBody:
		return e.Body
	case SegmentFrom:
		return e.From
	case SegmentTo:
		return e.To
	case SegmentHeaders:
		var b strings.Builder
		for _, f := range e.Headers {
			b.WriteString(f.Name)
			b.WriteString(": ")
			b.WriteString(f.Value)
			b.WriteString("\n")
		}
		return b.String()
	}
	return ""
}

// Rule is one detection rule: look for Phrase inside Segment.
type Rule struct {
	Segment Segment
	Phrase  string
}

// RuleSet is an ordered, immutable collection of rules. Insertion order
// determines finding order in analysis results.
type RuleSet struct {
	rules []Rule
}

// Rules returns the rules in insertion order.
func (rs *RuleSet) Rules() []Rule {
	return rs.rules
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Finding is one concrete match of a rule against message text.
type Finding struct {
	Segment  Segment
	Phrase   string
	Context  string
	Position int
}

// AnalysisResult is the outcome of evaluating a rule set against one
// parsed email.
type AnalysisResult struct {
	IsFlagged   bool
	Findings    []Finding
	Identity    string
	Email       *ParsedEmail
	EvaluatedAt time.Time
}

// FlaggedEmail is the persisted record of a flagged message.
type FlaggedEmail struct {
	Identity     string
	Subject      string
	From         string
	To           string
	ReceivedAt   time.Time
	FindingCount int
	FlaggedAt    time.Time
}

// PhraseStat is the cumulative occurrence counter for one
// (phrase, segment) pair across all stored flagged emails.
type PhraseStat struct {
	Phrase      string
	Segment     Segment
	Occurrences int64
	LastSeen    time.Time
}

// PersistOutcome reports what a Persist call did.
type PersistOutcome int

const (
	// OutcomeNone means the result was clean and nothing was written.
	OutcomeNone PersistOutcome = iota
	// OutcomeInserted means the flagged email and its findings were stored.
	OutcomeInserted
	// OutcomeDuplicateSkipped means an email with the same identity was
	// already stored; nothing was written.
	OutcomeDuplicateSkipped
)

// PhraseCounts aggregates findings into per (phrase, segment)
// occurrence counts for statistics updates.
func PhraseCounts(findings []Finding) map[Rule]int {
	counts := make(map[Rule]int)
	for _, f := range findings {
		counts[Rule{Segment: f.Segment, Phrase: f.Phrase}]++
	}
	return counts
}

func (o PersistOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicateSkipped:
		return "duplicate_skipped"
	default:
		return "none"
	}
}
