package kpi

import (
	"strings"
	"unicode"
)

// Field names one semantic column the aggregator reads.
type Field int

const (
	FieldResponse Field = iota
	FieldDispatch
	FieldTravel
	FieldDuration
	FieldStatus
	FieldCenter
	FieldSeverity
	FieldShift
	FieldMonth
	FieldHospital
	numFields
)

var fieldNames = [numFields]string{
	"response", "dispatch", "travel", "duration", "status",
	"center", "severity", "shift", "month", "hospital",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "unknown"
	}
	return fieldNames[f]
}

// aliases lists header candidates per field, most specific first.
var aliases = [numFields][]string{
	FieldResponse: {"ResponseMin", "TotalResponse", "response"},
	FieldDispatch: {"DispatchMin", "dispatch"},
	FieldTravel:   {"TravelMin", "travel"},
	FieldDuration: {"DurationMin", "Duration", "duration"},
	FieldStatus:   {"Status", "status"},
	FieldCenter:   {"Center", "centre"},
	FieldSeverity: {"Severity", "severity"},
	FieldShift:    {"Shift", "shift"},
	FieldMonth:    {"Month", "month"},
	FieldHospital: {"Hospital", "hospital"},
}

// Columns maps each Field to the header that carries it; "" means the
// dataset has no such column.
type Columns [numFields]string

// Header returns the resolved header for f.
func (c Columns) Header(f Field) string {
	return c[f]
}

// Resolve matches every field against keys, which must be in header order.
// For each field the aliases are tried in order and the first header whose
// normalised form contains the normalised alias wins.
func Resolve(keys []string) Columns {
	norm := make([]string, len(keys))
	for i, k := range keys {
		norm[i] = normalize(k)
	}

	var cols Columns
	for f := Field(0); f < numFields; f++ {
		cols[f] = match(keys, norm, aliases[f])
	}
	return cols
}

func match(keys, norm, candidates []string) string {
	for _, c := range candidates {
		nc := normalize(c)
		for i, nk := range norm {
			if strings.Contains(nk, nc) {
				return keys[i]
			}
		}
	}
	return ""
}

// normalize lower-cases s and drops underscores and whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if r == '_' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
