package core

import "fmt"

// ParseError indicates the raw input was not a well-formed message.
// Nothing is analyzed or persisted when parsing fails.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse email: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse email: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RuleValidationError rejects an entire rule set because of one bad
// row. Row is the zero-based index of the offending row.
type RuleValidationError struct {
	Row    int
	Reason string
}

func (e *RuleValidationError) Error() string {
	return fmt.Sprintf("invalid rule at row %d: %s", e.Row, e.Reason)
}

// StorageError indicates a persist or query operation failed and was
// rolled back. The store is left without partial state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
