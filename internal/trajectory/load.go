package trajectory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultDelimiter is the field separator used by the tracker exports.
const DefaultDelimiter = ';'

// DefaultTimeStep disables quantisation: timestamps are only stripped of
// float noise. Set TrackerTimeStep to snap input onto the tracker's grid.
const DefaultTimeStep = 0.0

// TrackerTimeStep is the sampling period of the tracker exports.
const TrackerTimeStep = 0.02

// columnAliases maps canonical column names to accepted header spellings.
// The *Splined names are what the spline-smoothing tracker writes.
var columnAliases = map[string][]string{
	"object": {"object"},
	"time":   {"time"},
	"x":      {"x", "XSplined"},
	"y":      {"y", "YSplined"},
	"z":      {"z", "ZSplined"},
	"vx":     {"vx", "VXSplined"},
	"vy":     {"vy", "VYSplined"},
	"vz":     {"vz", "VZSplined"},
}

var requiredColumns = []string{"time", "object", "x", "y", "z"}

// LoadOptions controls how delimiter-separated input is parsed.
type LoadOptions struct {
	// Delimiter separates fields; zero means DefaultDelimiter.
	Delimiter rune
	// TimeStep quantises timestamps; zero or negative disables quantisation.
	// Two rows of one object that quantise onto the same time are rejected
	// with KindTimeCollision.
	TimeStep float64
}

// DefaultLoadOptions returns the options matching the tracker's exports.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{Delimiter: DefaultDelimiter, TimeStep: DefaultTimeStep}
}

// LoadStats summarises a load.
type LoadStats struct {
	Rows        int // data rows read
	DroppedRows int // rows with a non-numeric time
	Duplicates  int // samples superseded by a later (object, time) duplicate
	// MissingPositions counts samples with a blank coordinate. The
	// coordinate is NaN, so the sample is never near anything.
	MissingPositions int
	Objects     int
	Frames      int
}

// LoadFile reads a trajectory table from path.
func LoadFile(path string, opts LoadOptions) (*Table, LoadStats, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("open trajectory file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, opts)
}

// ReadCSV parses a delimiter-separated trajectory table with a header row.
// Required columns are checked before any data row is read. Rows whose
// time is not numeric are dropped; a non-numeric position is an error.
func ReadCSV(r io.Reader, opts LoadOptions) (*Table, LoadStats, error) {
	var stats LoadStats
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}

	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, &InvalidInputError{Kind: KindEmptyHeader}
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read header: %w", err)
	}

	idx, err := resolveColumns(header)
	if err != nil {
		return nil, stats, err
	}
	_, hasVX := idx["vx"]
	_, hasVY := idx["vy"]
	_, hasVZ := idx["vz"]
	hasVelocity := hasVX && hasVY && hasVZ

	type sampleKey struct {
		object ObjectID
		time   float64
	}
	var rawTimes map[sampleKey]string
	if opts.TimeStep > 0 {
		rawTimes = make(map[sampleKey]string)
	}

	var samples []Sample
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, stats, fmt.Errorf("read line %d: %w", line, err)
		}
		stats.Rows++

		ts, ok := parseFloat(field(rec, idx["time"]))
		if !ok {
			stats.DroppedRows++
			continue
		}
		s := Sample{
			Object: ObjectID(strings.TrimSpace(field(rec, idx["object"]))),
			Time:   Quantize(ts, opts.TimeStep),
		}
		if rawTimes != nil {
			raw := strings.TrimSpace(field(rec, idx["time"]))
			k := sampleKey{s.Object, s.Time}
			if prev, seen := rawTimes[k]; seen && prev != raw {
				return nil, stats, &InvalidInputError{
					Kind: KindTimeCollision, Columns: []string{"time"}, Line: line,
					Value: raw, Object: string(s.Object), Other: prev,
				}
			}
			rawTimes[k] = raw
		}
		var pos [3]float64
		missing := false
		for i, col := range []string{"x", "y", "z"} {
			cell := strings.TrimSpace(field(rec, idx[col]))
			if cell == "" {
				pos[i] = math.NaN()
				missing = true
				continue
			}
			v, ok := parseFloat(cell)
			if !ok {
				return nil, stats, &InvalidInputError{Kind: KindBadValue, Columns: []string{col}, Line: line, Value: field(rec, idx[col])}
			}
			pos[i] = v
		}
		if missing {
			stats.MissingPositions++
		}
		s.Position = r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}

		if hasVelocity {
			var vel [3]float64
			valid := true
			for i, col := range []string{"vx", "vy", "vz"} {
				v, ok := parseFloat(field(rec, idx[col]))
				if !ok {
					valid = false
					break
				}
				vel[i] = v
			}
			if valid {
				s.Velocity = r3.Vec{X: vel[0], Y: vel[1], Z: vel[2]}
				s.HasVelocity = true
			}
		}
		samples = append(samples, s)
	}

	t := NewTable(samples)
	stats.Duplicates = t.Duplicates()
	stats.Objects = len(t.Objects())
	stats.Frames = t.NumFrames()
	return t, stats, nil
}

// Quantize snaps ts to the nearest multiple of step and strips float noise
// below 1e-9. A non-positive step only strips the noise.
func Quantize(ts, step float64) float64 {
	if step > 0 {
		ts = math.Round(ts/step) * step
	}
	ts = math.Round(ts*1e9) / 1e9
	if ts == 0 {
		return 0
	}
	return ts
}

func resolveColumns(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	idx := make(map[string]int, len(columnAliases))
	for canon, names := range columnAliases {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				idx[canon] = i
				break
			}
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &InvalidInputError{Kind: KindMissingColumn, Columns: missing}
	}
	return idx, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
