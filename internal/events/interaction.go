package events

import (
	"sort"

	"github.com/banshee-data/couple.report/internal/trajectory"
)

// InteractionParams configures interaction detection.
type InteractionParams struct {
	// DistanceThreshold is the strict upper bound on pair distance.
	DistanceThreshold float64
	// TimeGapThreshold is the longest absence (in time units) an open
	// sub-interval survives; a longer gap closes it and opens the next one.
	TimeGapThreshold float64
	// MinDuration drops sub-intervals shorter than this.
	MinDuration float64
}

// DetectInteractions sweeps the table in ascending time and returns every
// interaction sub-interval, in the order they were closed.
func DetectInteractions(tbl *trajectory.Table, distanceThreshold, timeGapThreshold, minDuration float64) []Interval {
	tr := newIntervalTracker(tbl, InteractionParams{
		DistanceThreshold: distanceThreshold,
		TimeGapThreshold:  timeGapThreshold,
		MinDuration:       minDuration,
	})
	var buf []bool
	for _, f := range tbl.Frames() {
		buf = proximity(f, distanceThreshold, buf)
		tr.frame(f, buf)
	}
	return tr.finish()
}

// pairIndex identifies a pair by table ranks, a < b.
type pairIndex struct {
	a, b int
}

type activeInterval struct {
	seq      int
	start    float64
	end      float64
	lastSeen float64
	// opened orders the end-of-sweep flush by first activation.
	opened int
}

// intervalTracker is the per-pair open/extend/close state machine.
// Frames must be fed in ascending time with pairs in proximity order.
type intervalTracker struct {
	params   InteractionParams
	objects  []trajectory.ObjectID
	active   map[pairIndex]*activeInterval
	counters map[pairIndex]int
	opened   int
	out      []Interval
}

func newIntervalTracker(tbl *trajectory.Table, p InteractionParams) *intervalTracker {
	return &intervalTracker{
		params:   p,
		objects:  tbl.Objects(),
		active:   make(map[pairIndex]*activeInterval),
		counters: make(map[pairIndex]int),
	}
}

// frame applies one instant. near[k] holds the proximity of the k-th pair
// of f in (i, j>i) enumeration order.
func (tr *intervalTracker) frame(f trajectory.Frame, near []bool) {
	n := f.Len()
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			tr.observe(pairIndex{f.Ranks[i], f.Ranks[j]}, f.Time, near[k])
			k++
		}
	}
}

func (tr *intervalTracker) observe(key pairIndex, t float64, near bool) {
	st, ok := tr.active[key]
	switch {
	case near && !ok:
		tr.active[key] = tr.open(key, t)
		tr.opened++
		tr.active[key].opened = tr.opened
	case near && t-st.lastSeen > tr.params.TimeGapThreshold:
		tr.emit(key, st)
		next := tr.open(key, t)
		next.opened = st.opened
		tr.active[key] = next
	case near:
		st.end = t
		st.lastSeen = t
	case ok:
		tr.emit(key, st)
		delete(tr.active, key)
	}
}

func (tr *intervalTracker) open(key pairIndex, t float64) *activeInterval {
	tr.counters[key]++
	return &activeInterval{seq: tr.counters[key], start: t, end: t, lastSeen: t}
}

func (tr *intervalTracker) emit(key pairIndex, st *activeInterval) {
	d := round(st.end-st.start, durationPlaces)
	if d < tr.params.MinDuration {
		return
	}
	pair := PairKey{A: tr.objects[key.a], B: tr.objects[key.b]}
	tr.out = append(tr.out, Interval{
		ID:       IntervalID(pair, st.seq),
		Object1:  pair.A,
		Object2:  pair.B,
		Seq:      st.seq,
		Start:    st.start,
		End:      st.end,
		Duration: d,
	})
}

// finish flushes sub-intervals still open after the last frame.
func (tr *intervalTracker) finish() []Interval {
	keys := make([]pairIndex, 0, len(tr.active))
	for k := range tr.active {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return tr.active[keys[i]].opened < tr.active[keys[j]].opened
	})
	for _, k := range keys {
		tr.emit(k, tr.active[k])
	}
	tr.active = make(map[pairIndex]*activeInterval)
	if tr.out == nil {
		return []Interval{}
	}
	return tr.out
}

// proximity reports, for every pair of f in (i, j>i) order, whether the
// pair is strictly closer than threshold. buf is reused when large enough.
func proximity(f trajectory.Frame, threshold float64, buf []bool) []bool {
	n := f.Len()
	size := n * (n - 1) / 2
	if cap(buf) < size {
		buf = make([]bool, size)
	}
	buf = buf[:size]
	k := 0
	for i := 0; i < n; i++ {
		pi := f.Samples[i].Position
		for j := i + 1; j < n; j++ {
			buf[k] = trajectory.Distance(pi, f.Samples[j].Position) < threshold
			k++
		}
	}
	return buf
}
