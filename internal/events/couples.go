package events

import (
	"math"

	"github.com/banshee-data/couple.report/internal/trajectory"
)

// interactionStats aggregates the intervals of one pair.
type interactionStats struct {
	count int
	total float64
}

func aggregateByPair(intervals []Interval) map[PairKey]interactionStats {
	agg := make(map[PairKey]interactionStats)
	for _, iv := range intervals {
		k := NewPairKey(iv.Object1, iv.Object2)
		s := agg[k]
		s.count++
		s.total += iv.Duration
		agg[k] = s
	}
	return agg
}

// CorrelateMergeThenSplit pairs every merge with each split of the same
// continuing identity that happens strictly later: two objects became one
// and later became two again.
func CorrelateMergeThenSplit(intervals []Interval, merges []MergeRecord, splits []SplitRecord) []CoupleRecord {
	return correlate(intervals, merges, splits, func(tf, tr float64) bool { return tr > tf })
}

// CorrelateSplitThenMerge pairs every merge with each split of the same
// continuing identity that happened strictly earlier.
func CorrelateSplitThenMerge(intervals []Interval, merges []MergeRecord, splits []SplitRecord) []CoupleRecord {
	return correlate(intervals, merges, splits, func(tf, tr float64) bool { return tr < tf })
}

// correlate joins merges to splits on FusionName == RuptureName, keeping the
// matches accepted by ordered. Output follows merge order, then split order.
func correlate(intervals []Interval, merges []MergeRecord, splits []SplitRecord, ordered func(tf, tr float64) bool) []CoupleRecord {
	byName := make(map[trajectory.ObjectID][]SplitRecord)
	for _, s := range splits {
		byName[s.RuptureName] = append(byName[s.RuptureName], s)
	}
	agg := aggregateByPair(intervals)

	out := []CoupleRecord{}
	for _, m := range merges {
		stats := agg[NewPairKey(m.Object1, m.Object2)]
		for _, s := range byName[m.FusionName] {
			if !ordered(m.Time, s.Time) {
				continue
			}
			out = append(out, CoupleRecord{
				Name:             m.FusionName,
				Obj1PreF:         m.Object1,
				Obj2PreF:         m.Object2,
				Obj3PostR:        s.Object1,
				Obj4PostR:        s.Object2,
				TimeF:            m.Time,
				TimeR:            s.Time,
				DurationCouple:   round(math.Abs(s.Time-m.Time), durationPlaces),
				InteractionCount: stats.count,
				TotalDuration:    round(stats.total, durationPlaces),
			})
		}
	}
	return out
}
