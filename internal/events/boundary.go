package events

import (
	"fmt"

	"github.com/banshee-data/couple.report/internal/trajectory"
)

// neighbour is an object found near another at a track boundary.
type neighbour struct {
	object   trajectory.ObjectID
	distance float64
}

// boundaryNeighbours returns the objects strictly within threshold of sp's
// object at its first (atEnd false) or last (atEnd true) instant, in frame
// order.
func boundaryNeighbours(tbl *trajectory.Table, sp trajectory.Lifespan, atEnd bool, threshold float64) []neighbour {
	fi, slot := sp.FirstFrame, sp.FirstSlot
	if atEnd {
		fi, slot = sp.LastFrame, sp.LastSlot
	}
	f := tbl.Frame(fi)
	self := f.Samples[slot].Position

	var out []neighbour
	for k, s := range f.Samples {
		if k == slot {
			continue
		}
		d := trajectory.Distance(self, s.Position)
		if d < threshold {
			out = append(out, neighbour{object: s.Object, distance: d})
		}
	}
	return out
}

func mergeRecords(sp trajectory.Lifespan, ns []neighbour) []MergeRecord {
	out := make([]MergeRecord, 0, len(ns))
	for _, n := range ns {
		out = append(out, MergeRecord{
			ID:         fmt.Sprintf("%s-%s", sp.Object, n.object),
			Object1:    sp.Object,
			Object2:    n.object,
			Time:       sp.Last,
			Distance:   round(n.distance, distancePlaces),
			FusionName: n.object,
		})
	}
	return out
}

func splitRecords(sp trajectory.Lifespan, ns []neighbour) []SplitRecord {
	out := make([]SplitRecord, 0, len(ns))
	for _, n := range ns {
		out = append(out, SplitRecord{
			ID:          fmt.Sprintf("%s-%s", n.object, sp.Object),
			Object1:     sp.Object,
			Object2:     n.object,
			Time:        sp.First,
			Distance:    round(n.distance, distancePlaces),
			RuptureName: n.object,
		})
	}
	return out
}

// DetectMerges reports, for every object, each other object strictly within
// distanceThreshold at the instant the first object was last observed.
// Records are ordered by ending object, then by neighbour. Reverse
// directions are not collapsed: two objects ending together near each other
// produce two records.
func DetectMerges(tbl *trajectory.Table, distanceThreshold float64) []MergeRecord {
	out := []MergeRecord{}
	for _, sp := range tbl.Lifespans() {
		out = append(out, mergeRecords(sp, boundaryNeighbours(tbl, sp, true, distanceThreshold))...)
	}
	return out
}

// DetectSplits mirrors DetectMerges on each object's first observation.
func DetectSplits(tbl *trajectory.Table, distanceThreshold float64) []SplitRecord {
	out := []SplitRecord{}
	for _, sp := range tbl.Lifespans() {
		out = append(out, splitRecords(sp, boundaryNeighbours(tbl, sp, false, distanceThreshold))...)
	}
	return out
}
