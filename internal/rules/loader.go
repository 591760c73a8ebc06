package rules

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

// Loader reads rule setup files with the columns start_segment,
// end_segment, suspicious_phrase into a validated core.RuleSet.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a new rule loader.
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger}
}

// LoadFile loads and validates a rule set from a CSV file.
func (l *Loader) LoadFile(path string) (*core.RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	rs, err := l.Load(f)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Loaded rule set",
		zap.String("file", path),
		zap.Int("rules", rs.Len()))
	return rs, nil
}

// Load reads CSV rows from r. A header row naming the expected columns
// is skipped when present. Row indexes in validation errors count data
// rows only, matching the order rules are evaluated in.
func (l *Loader) Load(r io.Reader) (*core.RuleSet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read rules CSV: %w", err)
	}

	var rows []core.RuleRow
	for i, record := range records {
		if i == 0 && isHeaderRow(record) {
			continue
		}
		if len(record) < 3 {
			return nil, &core.RuleValidationError{Row: len(rows), Reason: "expected 3 columns: start_segment, end_segment, suspicious_phrase"}
		}
		rows = append(rows, core.RuleRow{
			StartSegment: record[0],
			EndSegment:   record[1],
			Phrase:       record[2],
		})
	}

	return core.NewRuleSet(rows)
}

func isHeaderRow(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "start_segment")
}
