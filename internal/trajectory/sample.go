// Package trajectory owns the immutable multi-object trajectory table that
// the event detectors read.
//
// Responsibilities: the Sample type, object identifier ordering, grouping of
// samples into time-ordered frames, per-object lifespans, and loading
// delimiter-separated tracker exports into a Table.
//
// No detection logic lives here; see internal/events.
package trajectory

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"
)

// ObjectID is a stable object label produced by the upstream tracker.
type ObjectID string

// numeric returns the label's numeric value when it parses as a finite number.
func (id ObjectID) numeric() (float64, bool) {
	v, err := strconv.ParseFloat(string(id), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Less reports whether id sorts before other. Labels that both parse as
// numbers compare by value ("7" < "12"); numeric labels sort before
// non-numeric ones; everything else compares lexically.
func (id ObjectID) Less(other ObjectID) bool {
	a, aok := id.numeric()
	b, bok := other.numeric()
	switch {
	case aok && bok:
		if a != b {
			return a < b
		}
	case aok:
		return true
	case bok:
		return false
	}
	return id < other
}

// Sample is one observation of an object at a quantised instant.
type Sample struct {
	Object      ObjectID
	Time        float64
	Position    r3.Vec
	Velocity    r3.Vec
	HasVelocity bool
}

// Distance returns the Euclidean distance between two positions.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}
