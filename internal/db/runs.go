package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/couple.report/internal/events"
	"github.com/banshee-data/couple.report/internal/trajectory"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted detection pass. Result is only populated by GetRun.
type Run struct {
	RunID     string                    `json:"run_id"`
	Source    string                    `json:"source"`
	Params    events.Params             `json:"params"`
	Samples   int                       `json:"sample_count"`
	Objects   int                       `json:"object_count"`
	Frames    int                       `json:"frame_count"`
	CreatedAt int64                     `json:"created_at"`
	Counts    map[events.RecordType]int `json:"counts"`
	Result    *events.Result            `json:"result,omitempty"`
}

// RunStore persists detection runs and their record tables.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// SaveRun persists run and every table of run.Result in one transaction. If
// RunID is empty, a UUID is generated; if CreatedAt is zero, the current time
// in Unix nanoseconds is used.
func (s *RunStore) SaveRun(run *Run) error {
	if run.Result == nil {
		return errors.New("run has no result")
	}
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	run.Params = run.Result.Params
	run.Counts = run.Result.Counts()

	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			INSERT INTO runs (run_id, source, params_json, sample_count, object_count, frame_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Source, string(params), run.Samples, run.Objects, run.Frames, run.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		if err := insertResult(tx, run.RunID, run.Result); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func insertResult(tx *sql.Tx, runID string, res *events.Result) error {
	for i, iv := range res.Interactions {
		if _, err := tx.Exec(`
			INSERT INTO interactions (run_id, ord, interaction_id, object1, object2, seq, start_time, end_time, duration)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, iv.ID, string(iv.Object1), string(iv.Object2), iv.Seq, iv.Start, iv.End, iv.Duration,
		); err != nil {
			return fmt.Errorf("failed to insert interaction %s: %w", iv.ID, err)
		}
	}
	for i, m := range res.Merges {
		if _, err := tx.Exec(`
			INSERT INTO fusions (run_id, ord, fusion_id, object1, object2, fusion_time, distance, fusion_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, m.ID, string(m.Object1), string(m.Object2), m.Time, m.Distance, string(m.FusionName),
		); err != nil {
			return fmt.Errorf("failed to insert fusion %s: %w", m.ID, err)
		}
	}
	for i, sp := range res.Splits {
		if _, err := tx.Exec(`
			INSERT INTO ruptures (run_id, ord, rupture_id, object1, object2, rupture_time, distance, rupture_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, sp.ID, string(sp.Object1), string(sp.Object2), sp.Time, sp.Distance, string(sp.RuptureName),
		); err != nil {
			return fmt.Errorf("failed to insert rupture %s: %w", sp.ID, err)
		}
	}
	for _, group := range []struct {
		kind    events.RecordType
		records []events.CoupleRecord
	}{
		{events.TypeCoupleFusionToRupture, res.MergeThenSplit},
		{events.TypeCoupleRuptureToFusion, res.SplitThenMerge},
	} {
		for i, c := range group.records {
			if _, err := tx.Exec(`
				INSERT INTO couples (
					run_id, kind, ord, name_couple, obj1_pre_f, obj2_pre_f, obj3_post_r, obj4_post_r,
					time_f, time_r, duration_couple, interaction_count, total_duration
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, string(group.kind), i, string(c.Name), string(c.Obj1PreF), string(c.Obj2PreF),
				string(c.Obj3PostR), string(c.Obj4PostR), c.TimeF, c.TimeR, c.DurationCouple,
				c.InteractionCount, c.TotalDuration,
			); err != nil {
				return fmt.Errorf("failed to insert %s couple: %w", group.kind, err)
			}
		}
	}
	return nil
}

const runColumns = `
	r.run_id, r.source, r.params_json, r.sample_count, r.object_count, r.frame_count, r.created_at,
	(SELECT COUNT(*) FROM interactions i WHERE i.run_id = r.run_id),
	(SELECT COUNT(*) FROM fusions f WHERE f.run_id = r.run_id),
	(SELECT COUNT(*) FROM ruptures p WHERE p.run_id = r.run_id),
	(SELECT COUNT(*) FROM couples c WHERE c.run_id = r.run_id AND c.kind = 'couple_fusion_to_rupture'),
	(SELECT COUNT(*) FROM couples c WHERE c.run_id = r.run_id AND c.kind = 'couple_rupture_to_fusion')`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run    Run
		params string
		counts [5]int
	)
	if err := row.Scan(
		&run.RunID, &run.Source, &params, &run.Samples, &run.Objects, &run.Frames, &run.CreatedAt,
		&counts[0], &counts[1], &counts[2], &counts[3], &counts[4],
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params of run %s: %w", run.RunID, err)
	}
	run.Counts = make(map[events.RecordType]int, len(events.RecordTypes))
	for i, t := range events.RecordTypes {
		run.Counts[t] = counts[i]
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first, without their records.
// A non-positive limit returns every run.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs r ORDER BY r.created_at DESC, r.run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the run with every record table populated.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs r WHERE r.run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	res := &events.Result{Params: run.Params}
	if res.Interactions, err = s.interactions(runID); err != nil {
		return nil, err
	}
	if res.Merges, err = s.merges(runID); err != nil {
		return nil, err
	}
	if res.Splits, err = s.splits(runID); err != nil {
		return nil, err
	}
	if res.MergeThenSplit, err = s.couples(runID, events.TypeCoupleFusionToRupture); err != nil {
		return nil, err
	}
	if res.SplitThenMerge, err = s.couples(runID, events.TypeCoupleRuptureToFusion); err != nil {
		return nil, err
	}
	run.Result = res
	return run, nil
}

func (s *RunStore) interactions(runID string) ([]events.Interval, error) {
	rows, err := s.db.Query(`
		SELECT interaction_id, object1, object2, seq, start_time, end_time, duration
		FROM interactions WHERE run_id = ? ORDER BY ord`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	out := []events.Interval{}
	for rows.Next() {
		var iv events.Interval
		var o1, o2 string
		if err := rows.Scan(&iv.ID, &o1, &o2, &iv.Seq, &iv.Start, &iv.End, &iv.Duration); err != nil {
			return nil, err
		}
		iv.Object1, iv.Object2 = trajectory.ObjectID(o1), trajectory.ObjectID(o2)
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *RunStore) merges(runID string) ([]events.MergeRecord, error) {
	rows, err := s.db.Query(`
		SELECT fusion_id, object1, object2, fusion_time, distance, fusion_name
		FROM fusions WHERE run_id = ? ORDER BY ord`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fusions: %w", err)
	}
	defer rows.Close()

	out := []events.MergeRecord{}
	for rows.Next() {
		var m events.MergeRecord
		var o1, o2, name string
		if err := rows.Scan(&m.ID, &o1, &o2, &m.Time, &m.Distance, &name); err != nil {
			return nil, err
		}
		m.Object1, m.Object2, m.FusionName = trajectory.ObjectID(o1), trajectory.ObjectID(o2), trajectory.ObjectID(name)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *RunStore) splits(runID string) ([]events.SplitRecord, error) {
	rows, err := s.db.Query(`
		SELECT rupture_id, object1, object2, rupture_time, distance, rupture_name
		FROM ruptures WHERE run_id = ? ORDER BY ord`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ruptures: %w", err)
	}
	defer rows.Close()

	out := []events.SplitRecord{}
	for rows.Next() {
		var sp events.SplitRecord
		var o1, o2, name string
		if err := rows.Scan(&sp.ID, &o1, &o2, &sp.Time, &sp.Distance, &name); err != nil {
			return nil, err
		}
		sp.Object1, sp.Object2, sp.RuptureName = trajectory.ObjectID(o1), trajectory.ObjectID(o2), trajectory.ObjectID(name)
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *RunStore) couples(runID string, kind events.RecordType) ([]events.CoupleRecord, error) {
	rows, err := s.db.Query(`
		SELECT name_couple, obj1_pre_f, obj2_pre_f, obj3_post_r, obj4_post_r,
			time_f, time_r, duration_couple, interaction_count, total_duration
		FROM couples WHERE run_id = ? AND kind = ? ORDER BY ord`, runID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query couples: %w", err)
	}
	defer rows.Close()

	out := []events.CoupleRecord{}
	for rows.Next() {
		var c events.CoupleRecord
		var name, o1, o2, o3, o4 string
		if err := rows.Scan(&name, &o1, &o2, &o3, &o4, &c.TimeF, &c.TimeR, &c.DurationCouple, &c.InteractionCount, &c.TotalDuration); err != nil {
			return nil, err
		}
		c.Name = trajectory.ObjectID(name)
		c.Obj1PreF, c.Obj2PreF = trajectory.ObjectID(o1), trajectory.ObjectID(o2)
		c.Obj3PostR, c.Obj4PostR = trajectory.ObjectID(o3), trajectory.ObjectID(o4)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, through ON DELETE CASCADE, its records.
func (s *RunStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("failed to delete run %s: %w", runID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}
