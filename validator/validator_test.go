package validator

import (
	"testing"

	"github.com/gurre/ddb-pitr/refdata"
)

func testConfig() Config {
	return Config{
		MinColumnCount: 12,
		CurrencyOffset: 3,
		ProvinceOffset: 10,
		ProductOffset:  11,
	}
}

func validLine() string {
	cols := make([]string, 12)
	for i := range cols {
		cols[i] = "x"
	}
	cols[3] = "USD"
	cols[10] = "ON"
	cols[11] = "WIDGET"
	line := ""
	for i, c := range cols {
		if i > 0 {
			line += ";"
		}
		line += c
	}
	return line
}

func refs() *refdata.ReferenceData {
	return refdata.New(map[string][]string{
		"currencies": {"USD", "CAD"},
		"provinces":  {"ON", "QC"},
		"products":   {"WIDGET", "GADGET"},
	})
}

func TestValidateHappyPath(t *testing.T) {
	v := New(testConfig(), refs())
	ok, verr := v.Validate(validLine())
	if !ok || verr != nil {
		t.Fatalf("expected valid line to pass, got ok=%v verr=%+v", ok, verr)
	}
}

func TestValidateTooFewColumns(t *testing.T) {
	v := New(testConfig(), refs())
	ok, verr := v.Validate("a;b;c")
	if ok || verr == nil {
		t.Fatal("expected too-few-columns error")
	}
	if verr.Type != ErrTooFewColumns {
		t.Errorf("Type = %s, want %s", verr.Type, ErrTooFewColumns)
	}
}

func TestValidateMissingField(t *testing.T) {
	v := New(testConfig(), refs())
	cols := make([]string, 12)
	for i := range cols {
		cols[i] = "x"
	}
	cols[3] = "  " // whitespace-only currency
	cols[10] = "ON"
	cols[11] = "WIDGET"
	line := cols[0]
	for i := 1; i < len(cols); i++ {
		line += ";" + cols[i]
	}

	ok, verr := v.Validate(line)
	if ok || verr == nil {
		t.Fatal("expected missing-field error")
	}
	if verr.Type != ErrMissingField {
		t.Errorf("Type = %s, want %s", verr.Type, ErrMissingField)
	}
	if verr.Field != "currencies" {
		t.Errorf("Field = %s, want currencies", verr.Field)
	}
}

func TestValidateInvalidReferenceValue(t *testing.T) {
	v := New(testConfig(), refs())
	cols := make([]string, 12)
	for i := range cols {
		cols[i] = "x"
	}
	cols[3] = "ZZZ" // not a known currency
	cols[10] = "ON"
	cols[11] = "WIDGET"
	line := cols[0]
	for i := 1; i < len(cols); i++ {
		line += ";" + cols[i]
	}

	ok, verr := v.Validate(line)
	if ok || verr == nil {
		t.Fatal("expected invalid-currency error")
	}
	if verr.Type != InvalidValueType("currencies") {
		t.Errorf("Type = %s, want %s", verr.Type, InvalidValueType("currencies"))
	}
	if verr.Value != "ZZZ" {
		t.Errorf("Value = %s, want ZZZ", verr.Value)
	}
}

func TestValidateEmptyReferenceCategoryImposesNoRestriction(t *testing.T) {
	v := New(testConfig(), refdata.New(nil))
	ok, verr := v.Validate(validLine())
	if !ok || verr != nil {
		t.Fatalf("expected no restriction with empty reference data, got ok=%v verr=%+v", ok, verr)
	}
}

func TestValidateTrimsTrailingCR(t *testing.T) {
	v := New(testConfig(), refs())
	ok, verr := v.Validate(validLine() + "\r")
	if !ok || verr != nil {
		t.Fatalf("expected CRLF line to validate same as LF, got ok=%v verr=%+v", ok, verr)
	}
}
