package trajectory

import (
	"fmt"
	"strings"
)

// InputErrorKind classifies why a trajectory input was rejected.
type InputErrorKind string

const (
	// KindMissingColumn means one or more required columns are absent.
	KindMissingColumn InputErrorKind = "missing-column"
	// KindBadValue means a required numeric field could not be parsed.
	KindBadValue InputErrorKind = "bad-value"
	// KindEmptyHeader means the input has no header row.
	KindEmptyHeader InputErrorKind = "empty-header"
	// KindTimeCollision means quantisation mapped two distinct timestamps
	// of one object onto the same instant.
	KindTimeCollision InputErrorKind = "time-collision"
)

// InvalidInputError reports a malformed trajectory input.
type InvalidInputError struct {
	Kind    InputErrorKind
	Columns []string
	Line    int
	Value   string
	// Object and Other describe a time collision: the object and the raw
	// timestamp of the earlier row.
	Object string
	Other  string
}

func (e *InvalidInputError) Error() string {
	switch e.Kind {
	case KindMissingColumn:
		return fmt.Sprintf("invalid input (%s): %s", e.Kind, strings.Join(e.Columns, ", "))
	case KindBadValue:
		return fmt.Sprintf("invalid input (%s): line %d column %s: %q", e.Kind, e.Line, strings.Join(e.Columns, ", "), e.Value)
	case KindTimeCollision:
		return fmt.Sprintf("invalid input (%s): line %d: object %s time %q quantises onto the same instant as %q",
			e.Kind, e.Line, e.Object, e.Value, e.Other)
	default:
		return fmt.Sprintf("invalid input (%s)", e.Kind)
	}
}
