// Package report summarises detection results across runs and renders them
// as HTML charts or PNG histograms.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/couple.report/internal/events"
	"github.com/banshee-data/couple.report/internal/export"
	"github.com/banshee-data/couple.report/internal/monitoring"
)

// Stats describes a sample. Std is the unbiased sample deviation and is NaN
// for fewer than two values; every field but Count is NaN for an empty sample.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

// MarshalJSON writes undefined (NaN) statistics as null.
func (s Stats) MarshalJSON() ([]byte, error) {
	num := func(v float64) *float64 {
		if math.IsNaN(v) {
			return nil
		}
		return &v
	}
	return json.Marshal(struct {
		Count  int      `json:"count"`
		Mean   *float64 `json:"mean"`
		Std    *float64 `json:"std"`
		Min    *float64 `json:"min"`
		Q1     *float64 `json:"q1"`
		Median *float64 `json:"median"`
		Q3     *float64 `json:"q3"`
		Max    *float64 `json:"max"`
	}{s.Count, num(s.Mean), num(s.Std), num(s.Min), num(s.Q1), num(s.Median), num(s.Q3), num(s.Max)})
}

// Describe computes Stats over xs. xs is not modified.
func Describe(xs []float64) Stats {
	nan := math.NaN()
	if len(xs) == 0 {
		return Stats{Mean: nan, Std: nan, Min: nan, Q1: nan, Median: nan, Q3: nan, Max: nan}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	s := Stats{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Std:    nan,
		Min:    sorted[0],
		Q1:     stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		Median: stat.Quantile(0.5, stat.LinInterp, sorted, nil),
		Q3:     stat.Quantile(0.75, stat.LinInterp, sorted, nil),
		Max:    sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		s.Std = stat.StdDev(sorted, nil)
	}
	return s
}

// Summary aggregates one or more detection results.
type Summary struct {
	Sources             []string                  `json:"sources,omitempty"`
	Counts              map[events.RecordType]int `json:"counts"`
	InteractionDuration Stats                     `json:"interaction_duration"`
	CoupleDuration      Stats                     `json:"couple_duration"`

	interactionDurations []float64
	coupleDurations      []float64
}

func newSummary() *Summary {
	s := &Summary{Counts: make(map[events.RecordType]int, len(events.RecordTypes))}
	for _, t := range events.RecordTypes {
		s.Counts[t] = 0
	}
	return s
}

func (s *Summary) finish() *Summary {
	s.InteractionDuration = Describe(s.interactionDurations)
	s.CoupleDuration = Describe(s.coupleDurations)
	return s
}

// InteractionDurations returns the raw interaction durations.
func (s *Summary) InteractionDurations() []float64 { return s.interactionDurations }

// CoupleDurations returns the raw merge-then-split couple durations.
func (s *Summary) CoupleDurations() []float64 { return s.coupleDurations }

// Summarise counts rows per type and describes interaction durations and
// merge-then-split couple durations. Rows of unknown type are counted but
// otherwise ignored.
func Summarise(rows []export.Row) *Summary {
	s := newSummary()
	s.add(rows)
	return s.finish()
}

func (s *Summary) add(rows []export.Row) {
	for _, r := range rows {
		s.Counts[r.Type]++
		switch r.Type {
		case events.TypeInteraction:
			if d, ok := r.Float("duration"); ok {
				s.interactionDurations = append(s.interactionDurations, d)
			}
		case events.TypeCoupleFusionToRupture:
			if d, ok := r.Float("duration_couple"); ok {
				s.coupleDurations = append(s.coupleDurations, d)
			}
		}
	}
}

// SummariseResult summarises a single in-memory result.
func SummariseResult(res *events.Result) *Summary {
	s := newSummary()
	for t, n := range res.Counts() {
		s.Counts[t] = n
	}
	for _, iv := range res.Interactions {
		s.interactionDurations = append(s.interactionDurations, iv.Duration)
	}
	for _, c := range res.MergeThenSplit {
		s.coupleDurations = append(s.coupleDurations, c.DurationCouple)
	}
	return s.finish()
}

// SummariseDir reads every *.csv combined export in dir, in name order.
func SummariseDir(dir string) (*Summary, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no CSV exports found in %s", dir)
	}

	s := newSummary()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", p, err)
		}
		rows, err := export.ReadCombinedCSV(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		monitoring.Logf("summary: %s has %d rows", filepath.Base(p), len(rows))
		s.Sources = append(s.Sources, filepath.Base(p))
		s.add(rows)
	}
	return s.finish(), nil
}

// histogram bins xs into n equal-width bins spanning [min, max]. It returns
// the bin lower edges and counts; both are empty for empty xs.
func histogram(xs []float64, n int) (edges, counts []float64) {
	if len(xs) == 0 || n < 1 {
		return nil, nil
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	// Histogram needs every value strictly below the top divider.
	hi = math.Nextafter(hi, math.Inf(1))
	if hi-lo < 1e-9 {
		hi = lo + 1e-9
	}
	dividers := floats.Span(make([]float64, n+1), lo, hi)
	dividers[n] = hi
	counts = stat.Histogram(nil, dividers, sorted, nil)
	return dividers[:n], counts
}
