// Package export writes detection results as CSV and reads combined exports
// back for batch summaries.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/couple.report/internal/events"
)

// TypeColumn is the discriminator column of a combined export.
const TypeColumn = "type"

var (
	intervalColumns = []string{"interaction_id", "object1", "object2", "start", "end", "duration"}
	mergeColumns    = []string{"fusion_id", "object1", "object2", "fusion_time", "distance", "fusion_name"}
	splitColumns    = []string{"rupture_id", "object1", "object2", "rupture_time", "distance", "rupture_name"}
	coupleColumns   = []string{
		"name_couple", "obj1preF", "obj2preF", "obj3postR", "obj4postR",
		"timeF", "timeR", "duration_couple", "interaction_count", "total_duration",
	}
)

// table is one record kind rendered as string cells keyed by column.
type table struct {
	typ     events.RecordType
	columns []string
	rows    []map[string]string
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func intervalTable(ivs []events.Interval) table {
	t := table{typ: events.TypeInteraction, columns: intervalColumns}
	for _, iv := range ivs {
		t.rows = append(t.rows, map[string]string{
			"interaction_id": iv.ID,
			"object1":        string(iv.Object1),
			"object2":        string(iv.Object2),
			"start":          ff(iv.Start),
			"end":            ff(iv.End),
			"duration":       ff(iv.Duration),
		})
	}
	return t
}

func mergeTable(ms []events.MergeRecord) table {
	t := table{typ: events.TypeFusion, columns: mergeColumns}
	for _, m := range ms {
		t.rows = append(t.rows, map[string]string{
			"fusion_id":   m.ID,
			"object1":     string(m.Object1),
			"object2":     string(m.Object2),
			"fusion_time": ff(m.Time),
			"distance":    ff(m.Distance),
			"fusion_name": string(m.FusionName),
		})
	}
	return t
}

func splitTable(ss []events.SplitRecord) table {
	t := table{typ: events.TypeRupture, columns: splitColumns}
	for _, s := range ss {
		t.rows = append(t.rows, map[string]string{
			"rupture_id":   s.ID,
			"object1":      string(s.Object1),
			"object2":      string(s.Object2),
			"rupture_time": ff(s.Time),
			"distance":     ff(s.Distance),
			"rupture_name": string(s.RuptureName),
		})
	}
	return t
}

func coupleTable(typ events.RecordType, cs []events.CoupleRecord) table {
	t := table{typ: typ, columns: coupleColumns}
	for _, c := range cs {
		t.rows = append(t.rows, map[string]string{
			"name_couple":       string(c.Name),
			"obj1preF":          string(c.Obj1PreF),
			"obj2preF":          string(c.Obj2PreF),
			"obj3postR":         string(c.Obj3PostR),
			"obj4postR":         string(c.Obj4PostR),
			"timeF":             ff(c.TimeF),
			"timeR":             ff(c.TimeR),
			"duration_couple":   ff(c.DurationCouple),
			"interaction_count": strconv.Itoa(c.InteractionCount),
			"total_duration":    ff(c.TotalDuration),
		})
	}
	return t
}

func resultTables(res *events.Result) []table {
	return []table{
		intervalTable(res.Interactions),
		mergeTable(res.Merges),
		splitTable(res.Splits),
		coupleTable(events.TypeCoupleFusionToRupture, res.MergeThenSplit),
		coupleTable(events.TypeCoupleRuptureToFusion, res.SplitThenMerge),
	}
}

// CombinedColumns returns the header of a combined export: the type column
// followed by the union of every table's columns in first-seen order.
func CombinedColumns() []string {
	cols := []string{TypeColumn}
	seen := map[string]bool{TypeColumn: true}
	for _, group := range [][]string{intervalColumns, mergeColumns, splitColumns, coupleColumns} {
		for _, c := range group {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// WriteCombinedCSV writes every table of res into one CSV, one after the
// other, tagging each row with its record type. Cells a table lacks are empty.
func WriteCombinedCSV(w io.Writer, res *events.Result) error {
	cols := CombinedColumns()
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for _, t := range resultTables(res) {
		for _, row := range t.rows {
			record[0] = string(t.typ)
			for i, c := range cols[1:] {
				record[i+1] = row[c]
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeTable(w io.Writer, t table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return err
	}
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, c := range t.columns {
			record[i] = row[c]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteIntervalsCSV writes interaction intervals with their own header.
func WriteIntervalsCSV(w io.Writer, ivs []events.Interval) error {
	return writeTable(w, intervalTable(ivs))
}

// WriteMergesCSV writes merge records with their own header.
func WriteMergesCSV(w io.Writer, ms []events.MergeRecord) error {
	return writeTable(w, mergeTable(ms))
}

// WriteSplitsCSV writes split records with their own header.
func WriteSplitsCSV(w io.Writer, ss []events.SplitRecord) error {
	return writeTable(w, splitTable(ss))
}

// WriteCouplesCSV writes couple records with their own header.
func WriteCouplesCSV(w io.Writer, cs []events.CoupleRecord) error {
	return writeTable(w, coupleTable(events.TypeCoupleFusionToRupture, cs))
}

// Row is one line of a combined export.
type Row struct {
	Type   events.RecordType
	Fields map[string]string
}

// Float parses column col. Missing or empty cells report false.
func (r Row) Float(col string) (float64, bool) {
	s, ok := r.Fields[col]
	if !ok || s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ReadCombinedCSV parses a combined export. Columns may appear in any order
// but the type column is required.
func ReadCombinedCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty export: no header")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	typeIdx := -1
	for i, h := range header {
		if h == TypeColumn {
			typeIdx = i
			break
		}
	}
	if typeIdx < 0 {
		return nil, fmt.Errorf("export has no %q column", TypeColumn)
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows)+2, err)
		}
		row := Row{Fields: make(map[string]string, len(header))}
		for i, v := range rec {
			if i < len(header) {
				row.Fields[header[i]] = v
			}
		}
		if typeIdx < len(rec) {
			row.Type = events.RecordType(rec[typeIdx])
		}
		rows = append(rows, row)
	}
	return rows, nil
}
