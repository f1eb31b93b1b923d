// Package fitfile decodes FIT activity and monitoring files into ordered,
// timestamped records. Decoding is best-effort: non-fatal inconsistencies are
// reported as warnings and parsing continues. Only header or checksum
// failures (with validation enabled) and truncated structures are fatal.
package fitfile

import (
	"fmt"
	"time"
)

// Value is one decoded field: a tuple of values plus units. Most fields are
// single-valued; arrays keep their elements in order.
type Value struct {
	Values []any
	Units  string

	// invalid flags sentinel ("invalid") elements, parallel to Values.
	invalid []bool
}

// Scalar returns the single value, or nil if the field is empty or an array.
func (v Value) Scalar() any {
	if len(v.Values) == 1 {
		return v.Values[0]
	}
	return nil
}

// Float returns the single value coerced to float64.
func (v Value) Float() (float64, bool) {
	return toFloat(v.Scalar())
}

// Record is one decoded data message.
type Record struct {
	Name    string
	Global  uint16
	Time    time.Time
	HasTime bool
	Fields  map[string]Value
}

// Field returns a named field and whether it was present.
func (r Record) Field(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// File is the decoded content of one FIT byte blob.
type File struct {
	Records  []Record
	Warnings []string
}

// MalformedFileError is returned when the header or checksum validation
// fails, or when the byte stream cannot be parsed at all.
type MalformedFileError struct {
	Reason string
}

func (e *MalformedFileError) Error() string {
	return fmt.Sprintf("malformed FIT file: %s", e.Reason)
}

func malformed(format string, args ...any) error {
	return &MalformedFileError{Reason: fmt.Sprintf(format, args...)}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}
