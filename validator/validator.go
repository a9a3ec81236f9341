// Package validator implements the line validator described in section
// 4.1 of the design specification: a pure function over a single line
// that returns either OK or a tagged error. It is the per-line decode
// step the fragment worker calls for every non-empty line.
package validator

import (
	"strings"

	"github.com/gurre/ddb-pitr/refdata"
)

// ErrorType enumerates the tagged validation failures a line can
// produce, per section 4.1.
type ErrorType string

const (
	ErrTooFewColumns ErrorType = "too_few_columns"
	ErrMissingField  ErrorType = "missing_field"
)

// InvalidValueType returns the "invalid_<category>" error type named in
// section 4.1 for a reference-data membership failure.
func InvalidValueType(category string) ErrorType {
	return ErrorType("invalid_" + category)
}

// Error is the tagged validation error returned for a rejected line. It
// is a plain value, not a Go error: individual line errors are data the
// fragment worker counts and (at most once per job) samples, never
// something that propagates up a call stack.
type Error struct {
	Type     ErrorType
	Category string // reference-data category, set only for invalid-value errors
	Field    string
	Value    string
	Message  string
}

// Config carries the two Open Question parameters (A: minimum column
// count, B: field offsets) that the spec explicitly refuses to default
// at the validator level — callers must supply them.
type Config struct {
	MinColumnCount int
	CurrencyOffset int
	ProvinceOffset int
	ProductOffset  int
}

// Validator validates a single line against structural and referential
// rules. Implementations must be safe for concurrent use by multiple
// fragment workers, since reference data is shared read-only.
type Validator interface {
	Validate(line string) (ok bool, verr *Error)
}

// DefaultValidator implements the default rule set from section 4.1.
type DefaultValidator struct {
	cfg  Config
	refs *refdata.ReferenceData
}

// New creates a DefaultValidator bound to the given field-offset
// configuration and reference-data snapshot.
func New(cfg Config, refs *refdata.ReferenceData) *DefaultValidator {
	return &DefaultValidator{cfg: cfg, refs: refs}
}

// field categories checked against reference data, keyed by their
// configured column offset.
const (
	categoryCurrency = "currencies"
	categoryProvince = "provinces"
	categoryProduct  = "products"
)

// Validate implements the three-step rule set from section 4.1:
//  1. split by ';' and reject too few columns;
//  2. reject empty currency/province/product fields;
//  3. reject values absent from a non-empty reference-data category.
//
// Empty or whitespace-only lines are the caller's responsibility to
// skip before calling Validate (section 4.1: they are not validated and
// do not count toward processedLines).
func (v *DefaultValidator) Validate(line string) (bool, *Error) {
	line = strings.TrimRight(line, "\r")
	cols := strings.Split(line, ";")
	if len(cols) < v.cfg.MinColumnCount {
		return false, &Error{
			Type:    ErrTooFewColumns,
			Message: "line has fewer than the minimum required columns",
		}
	}

	checks := []struct {
		offset   int
		category string
	}{
		{v.cfg.CurrencyOffset, categoryCurrency},
		{v.cfg.ProvinceOffset, categoryProvince},
		{v.cfg.ProductOffset, categoryProduct},
	}

	for _, c := range checks {
		if c.offset >= len(cols) {
			continue
		}
		value := strings.TrimSpace(cols[c.offset])
		if value == "" {
			return false, &Error{
				Type:    ErrMissingField,
				Field:   c.category,
				Message: "required field is empty",
			}
		}
		if v.refs.HasCategory(c.category) && !v.refs.Contains(c.category, value) {
			return false, &Error{
				Type:     InvalidValueType(c.category),
				Category: c.category,
				Field:    c.category,
				Value:    value,
				Message:  "value is not a member of the allowed reference set",
			}
		}
	}

	return true, nil
}
