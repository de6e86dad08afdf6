// Package events detects proximity events between pairs of tracked objects.
//
// Responsibilities: interaction intervals (hysteresis with gap tolerance and
// minimum-duration filtering), merge (fusion) and split (rupture) events at
// track boundaries, and the correlation of merges with splits that share a
// continuing identity into composite couples.
//
// Every detector reads an immutable trajectory.Table and returns freshly
// allocated record slices. Nothing here performs I/O.
package events

import (
	"fmt"
	"math"

	"github.com/banshee-data/couple.report/internal/trajectory"
)

// RecordType discriminates rows when all tables are exported together.
type RecordType string

const (
	TypeInteraction           RecordType = "interaction"
	TypeFusion                RecordType = "fusion"
	TypeRupture               RecordType = "rupture"
	TypeCoupleFusionToRupture RecordType = "couple_fusion_to_rupture"
	TypeCoupleRuptureToFusion RecordType = "couple_rupture_to_fusion"
)

// RecordTypes lists every record type in export order.
var RecordTypes = []RecordType{
	TypeInteraction,
	TypeFusion,
	TypeRupture,
	TypeCoupleFusionToRupture,
	TypeCoupleRuptureToFusion,
}

// PairKey identifies an unordered object pair. A is always ordered before B.
type PairKey struct {
	A, B trajectory.ObjectID
}

// NewPairKey orders a and b by trajectory.ObjectID.Less.
func NewPairKey(a, b trajectory.ObjectID) PairKey {
	if b.Less(a) {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// String renders the pair as "A-B".
func (k PairKey) String() string {
	return fmt.Sprintf("%s-%s", k.A, k.B)
}

// Interval is one sub-interval during which two objects stayed within the
// interaction distance, allowing short gaps.
type Interval struct {
	ID       string              `json:"interaction_id"`
	Object1  trajectory.ObjectID `json:"object1"`
	Object2  trajectory.ObjectID `json:"object2"`
	Seq      int                 `json:"seq"`
	Start    float64             `json:"start"`
	End      float64             `json:"end"`
	Duration float64             `json:"duration"`
}

// Pair returns the interval's object pair.
func (iv Interval) Pair() PairKey { return PairKey{A: iv.Object1, B: iv.Object2} }

// MergeRecord reports that Object1's track ended within the merge distance
// of Object2, which is taken to continue under its own identifier.
type MergeRecord struct {
	ID         string              `json:"fusion_id"`
	Object1    trajectory.ObjectID `json:"object1"`
	Object2    trajectory.ObjectID `json:"object2"`
	Time       float64             `json:"fusion_time"`
	Distance   float64             `json:"distance"`
	FusionName trajectory.ObjectID `json:"fusion_name"`
}

// SplitRecord reports that Object1's track began within the split distance
// of Object2, the identity it is taken to have diverged from.
type SplitRecord struct {
	ID          string              `json:"rupture_id"`
	Object1     trajectory.ObjectID `json:"object1"`
	Object2     trajectory.ObjectID `json:"object2"`
	Time        float64             `json:"rupture_time"`
	Distance    float64             `json:"distance"`
	RuptureName trajectory.ObjectID `json:"rupture_name"`
}

// CoupleRecord links a merge and a split through their shared continuing
// identity. DurationCouple is always non-negative for the record's ordering.
type CoupleRecord struct {
	Name             trajectory.ObjectID `json:"name_couple"`
	Obj1PreF         trajectory.ObjectID `json:"obj1preF"`
	Obj2PreF         trajectory.ObjectID `json:"obj2preF"`
	Obj3PostR        trajectory.ObjectID `json:"obj3postR"`
	Obj4PostR        trajectory.ObjectID `json:"obj4postR"`
	TimeF            float64             `json:"timeF"`
	TimeR            float64             `json:"timeR"`
	DurationCouple   float64             `json:"duration_couple"`
	InteractionCount int                 `json:"interaction_count"`
	TotalDuration    float64             `json:"total_duration"`
}

// SuffixLetters encodes a 1-based sub-interval sequence number in bijective
// base 26: 1 is "a", 26 is "z", 27 is "aa". Non-positive values encode as "".
func SuffixLetters(seq int) string {
	var buf []byte
	for seq > 0 {
		seq--
		buf = append(buf, byte('a'+seq%26))
		seq /= 26
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// IntervalID returns the sub-interval identifier "A-B-<suffix>".
func IntervalID(pair PairKey, seq int) string {
	return pair.String() + "-" + SuffixLetters(seq)
}

// round strips float noise left by differences of quantised timestamps.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

const (
	durationPlaces = 6
	distancePlaces = 5
)
