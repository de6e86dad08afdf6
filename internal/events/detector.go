package events

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/couple.report/internal/monitoring"
	"github.com/banshee-data/couple.report/internal/trajectory"
)

// Params holds the detection thresholds. Distances are in position units,
// times in the table's time units.
type Params struct {
	InteractionDistance float64 `json:"interaction_distance"`
	FusionDistance      float64 `json:"fusion_distance"`
	TimeGapThreshold    float64 `json:"time_gap_threshold"`
	MinDuration         float64 `json:"min_duration"`
}

// DefaultParams returns the thresholds used for ant colony recordings at
// 50 frames per second.
func DefaultParams() Params {
	return Params{
		InteractionDistance: 0.055,
		FusionDistance:      0.02,
		TimeGapThreshold:    0.05,
		MinDuration:         1.0,
	}
}

// Validate rejects negative thresholds.
func (p Params) Validate() error {
	switch {
	case p.InteractionDistance < 0:
		return fmt.Errorf("interaction_distance must be non-negative, got %g", p.InteractionDistance)
	case p.FusionDistance < 0:
		return fmt.Errorf("fusion_distance must be non-negative, got %g", p.FusionDistance)
	case p.TimeGapThreshold < 0:
		return fmt.Errorf("time_gap_threshold must be non-negative, got %g", p.TimeGapThreshold)
	case p.MinDuration < 0:
		return fmt.Errorf("min_duration must be non-negative, got %g", p.MinDuration)
	}
	return nil
}

// Result is the output of a full detection pass.
type Result struct {
	Params         Params         `json:"params"`
	Interactions   []Interval     `json:"interactions"`
	Merges         []MergeRecord  `json:"merges"`
	Splits         []SplitRecord  `json:"splits"`
	MergeThenSplit []CoupleRecord `json:"merge_then_split"`
	SplitThenMerge []CoupleRecord `json:"split_then_merge"`
}

// Counts returns the number of records per type.
func (r *Result) Counts() map[RecordType]int {
	return map[RecordType]int{
		TypeInteraction:           len(r.Interactions),
		TypeFusion:                len(r.Merges),
		TypeRupture:               len(r.Splits),
		TypeCoupleFusionToRupture: len(r.MergeThenSplit),
		TypeCoupleRuptureToFusion: len(r.SplitThenMerge),
	}
}

// frameWindow bounds the number of per-frame proximity vectors held at once.
const frameWindow = 256

// Detector runs the detectors over a table with bounded parallelism. Output
// is identical to the sequential DetectInteractions, DetectMerges and
// DetectSplits for any worker count.
type Detector struct {
	params  Params
	workers int
}

// Option configures a Detector.
type Option func(*Detector)

// WithWorkers sets the number of goroutines used per stage. Values below 1
// select runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(d *Detector) { d.workers = n }
}

// NewDetector returns a Detector for p.
func NewDetector(p Params, opts ...Option) *Detector {
	d := &Detector{params: p}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = runtime.GOMAXPROCS(0)
	}
	return d
}

// Params returns the detector's thresholds.
func (d *Detector) Params() Params { return d.params }

// Interactions computes pair proximity for windows of frames in parallel and
// feeds the window to the interval state machine in time order.
func (d *Detector) Interactions(ctx context.Context, tbl *trajectory.Table) ([]Interval, error) {
	tr := newIntervalTracker(tbl, InteractionParams{
		DistanceThreshold: d.params.InteractionDistance,
		TimeGapThreshold:  d.params.TimeGapThreshold,
		MinDuration:       d.params.MinDuration,
	})
	frames := tbl.Frames()
	near := make([][]bool, frameWindow)

	for lo := 0; lo < len(frames); lo += frameWindow {
		hi := min(lo+frameWindow, len(frames))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.workers)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				near[i-lo] = proximity(frames[i], d.params.InteractionDistance, near[i-lo])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i := lo; i < hi; i++ {
			tr.frame(frames[i], near[i-lo])
		}
	}
	return tr.finish(), nil
}

// Merges runs DetectMerges with one task per object.
func (d *Detector) Merges(ctx context.Context, tbl *trajectory.Table) ([]MergeRecord, error) {
	return perObject(ctx, d.workers, tbl, func(sp trajectory.Lifespan) []MergeRecord {
		return mergeRecords(sp, boundaryNeighbours(tbl, sp, true, d.params.FusionDistance))
	})
}

// Splits runs DetectSplits with one task per object.
func (d *Detector) Splits(ctx context.Context, tbl *trajectory.Table) ([]SplitRecord, error) {
	return perObject(ctx, d.workers, tbl, func(sp trajectory.Lifespan) []SplitRecord {
		return splitRecords(sp, boundaryNeighbours(tbl, sp, false, d.params.FusionDistance))
	})
}

func perObject[T any](ctx context.Context, workers int, tbl *trajectory.Table, fn func(trajectory.Lifespan) []T) ([]T, error) {
	spans := tbl.Lifespans()
	parts := make([][]T, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sp := range spans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parts[i] = fn(sp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := []T{}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// Run executes every detector and both correlations.
func (d *Detector) Run(ctx context.Context, tbl *trajectory.Table) (*Result, error) {
	if err := d.params.Validate(); err != nil {
		return nil, err
	}
	monitoring.Logf("detecting over %d samples, %d objects, %d frames (workers=%d)",
		tbl.Len(), len(tbl.Objects()), tbl.NumFrames(), d.workers)

	res := &Result{Params: d.params}
	var err error

	done := monitoring.Timed("interactions")
	res.Interactions, err = d.Interactions(ctx, tbl)
	done()
	if err != nil {
		return nil, fmt.Errorf("interactions: %w", err)
	}

	done = monitoring.Timed("merges")
	res.Merges, err = d.Merges(ctx, tbl)
	done()
	if err != nil {
		return nil, fmt.Errorf("merges: %w", err)
	}

	done = monitoring.Timed("splits")
	res.Splits, err = d.Splits(ctx, tbl)
	done()
	if err != nil {
		return nil, fmt.Errorf("splits: %w", err)
	}

	res.MergeThenSplit = CorrelateMergeThenSplit(res.Interactions, res.Merges, res.Splits)
	res.SplitThenMerge = CorrelateSplitThenMerge(res.Interactions, res.Merges, res.Splits)

	c := res.Counts()
	monitoring.Logf("detected %d interactions, %d merges, %d splits, %d merge-then-split, %d split-then-merge",
		c[TypeInteraction], c[TypeFusion], c[TypeRupture], c[TypeCoupleFusionToRupture], c[TypeCoupleRuptureToFusion])
	return res, nil
}
