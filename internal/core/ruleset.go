package core

import "strings"

// RuleRow is one raw rule as loaded from the setup file, before
// validation. StartSegment and EndSegment name the same segment; the
// loader keeps both columns because the upstream file format has both.
type RuleRow struct {
	StartSegment string
	EndSegment   string
	Phrase       string
}

// NewRuleSet validates raw rows into an immutable RuleSet. Validation
// fails closed: any bad row rejects the whole set with a
// RuleValidationError naming the row. Duplicate (segment, phrase) pairs
// are retained as distinct rules; each carries its own provenance
// upstream and will double-count matches.
func NewRuleSet(rows []RuleRow) (*RuleSet, error) {
	rules := make([]Rule, 0, len(rows))
	for i, row := range rows {
		start, ok := ParseSegment(row.StartSegment)
		if !ok {
			return nil, &RuleValidationError{Row: i, Reason: "unknown start segment " + strings.TrimSpace(row.StartSegment)}
		}
		end, ok := ParseSegment(row.EndSegment)
		if !ok {
			return nil, &RuleValidationError{Row: i, Reason: "unknown end segment " + strings.TrimSpace(row.EndSegment)}
		}
		if start != end {
			return nil, &RuleValidationError{Row: i, Reason: "start and end segments differ"}
		}
		phrase := strings.TrimSpace(row.Phrase)
		if phrase == "" {
			return nil, &RuleValidationError{Row: i, Reason: "empty phrase"}
		}
		rules = append(rules, Rule{Segment: start, Phrase: phrase})
	}
	return &RuleSet{rules: rules}, nil
}
