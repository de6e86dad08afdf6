package trajectory

import (
	"sort"
)

// Frame groups every sample observed at one instant. Samples are ordered by
// object (ObjectID.Less) and Ranks[i] is the table-wide rank of Samples[i].
type Frame struct {
	Time    float64
	Samples []Sample
	Ranks   []int
}

// Len returns the number of objects present in the frame.
func (f Frame) Len() int { return len(f.Samples) }

// Lifespan records where an object's observations begin and end.
type Lifespan struct {
	Object ObjectID
	First  float64
	Last   float64
	// FirstFrame/LastFrame index Table.Frame; FirstSlot/LastSlot index the
	// object's sample within that frame.
	FirstFrame int
	FirstSlot  int
	LastFrame  int
	LastSlot   int
	Count      int
}

// Table is an immutable set of samples indexed by (object, time).
//
// Callers must not modify slices returned by its accessors.
type Table struct {
	frames     []Frame
	objects    []ObjectID
	rank       map[ObjectID]int
	spans      []Lifespan
	size       int
	duplicates int
}

// NewTable builds a table from samples in any order. When two samples share
// the same (object, time) the later one in the input wins.
func NewTable(samples []Sample) *Table {
	type key struct {
		obj ObjectID
		t   float64
	}
	latest := make(map[key]int, len(samples))
	dups := 0
	for i, s := range samples {
		k := key{s.Object, s.Time}
		if _, ok := latest[k]; ok {
			dups++
		}
		latest[k] = i
	}

	kept := make([]Sample, 0, len(latest))
	for i, s := range samples {
		if latest[key{s.Object, s.Time}] == i {
			kept = append(kept, s)
		}
	}

	objSet := make(map[ObjectID]struct{})
	for _, s := range kept {
		objSet[s.Object] = struct{}{}
	}
	objects := make([]ObjectID, 0, len(objSet))
	for id := range objSet {
		objects = append(objects, id)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Less(objects[j]) })
	rank := make(map[ObjectID]int, len(objects))
	for i, id := range objects {
		rank[id] = i
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Time != kept[j].Time {
			return kept[i].Time < kept[j].Time
		}
		return rank[kept[i].Object] < rank[kept[j].Object]
	})

	t := &Table{
		objects:    objects,
		rank:       rank,
		spans:      make([]Lifespan, len(objects)),
		size:       len(kept),
		duplicates: dups,
	}
	for i := 0; i < len(kept); {
		j := i
		for j < len(kept) && kept[j].Time == kept[i].Time {
			j++
		}
		f := Frame{Time: kept[i].Time, Samples: kept[i:j:j], Ranks: make([]int, j-i)}
		for k := range f.Samples {
			f.Ranks[k] = rank[f.Samples[k].Object]
		}
		t.frames = append(t.frames, f)
		i = j
	}

	for fi, f := range t.frames {
		for slot, r := range f.Ranks {
			sp := &t.spans[r]
			if sp.Count == 0 {
				sp.Object = objects[r]
				sp.First, sp.FirstFrame, sp.FirstSlot = f.Time, fi, slot
			}
			sp.Last, sp.LastFrame, sp.LastSlot = f.Time, fi, slot
			sp.Count++
		}
	}
	return t
}

// Len returns the number of samples in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Duplicates returns how many input samples were superseded by a later
// sample for the same (object, time).
func (t *Table) Duplicates() int {
	if t == nil {
		return 0
	}
	return t.duplicates
}

// NumFrames returns the number of distinct timestamps.
func (t *Table) NumFrames() int {
	if t == nil {
		return 0
	}
	return len(t.frames)
}

// Frame returns the i-th frame in ascending time order.
func (t *Table) Frame(i int) Frame { return t.frames[i] }

// Frames returns all frames in ascending time order.
func (t *Table) Frames() []Frame {
	if t == nil {
		return nil
	}
	return t.frames
}

// Objects returns every object identifier in ascending order.
func (t *Table) Objects() []ObjectID {
	if t == nil {
		return nil
	}
	return t.objects
}

// Rank returns the position of id in Objects.
func (t *Table) Rank(id ObjectID) (int, bool) {
	if t == nil {
		return 0, false
	}
	r, ok := t.rank[id]
	return r, ok
}

// Lifespans returns one entry per object, in Objects order.
func (t *Table) Lifespans() []Lifespan {
	if t == nil {
		return nil
	}
	return t.spans
}

// Track returns an object's samples in ascending time order.
func (t *Table) Track(id ObjectID) []Sample {
	r, ok := t.Rank(id)
	if !ok {
		return nil
	}
	sp := t.spans[r]
	out := make([]Sample, 0, sp.Count)
	for fi := sp.FirstFrame; fi <= sp.LastFrame; fi++ {
		f := t.frames[fi]
		k := sort.SearchInts(f.Ranks, r)
		if k < len(f.Ranks) && f.Ranks[k] == r {
			out = append(out, f.Samples[k])
		}
	}
	return out
}

// TimeRange returns the first and last timestamps in the table.
func (t *Table) TimeRange() (start, end float64, ok bool) {
	if t.NumFrames() == 0 {
		return 0, 0, false
	}
	return t.frames[0].Time, t.frames[len(t.frames)-1].Time, true
}
