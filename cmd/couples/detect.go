package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/couple.report/internal/api"
	"github.com/banshee-data/couple.report/internal/config"
	"github.com/banshee-data/couple.report/internal/db"
	"github.com/banshee-data/couple.report/internal/events"
	"github.com/banshee-data/couple.report/internal/export"
	"github.com/banshee-data/couple.report/internal/monitoring"
	"github.com/banshee-data/couple.report/internal/trajectory"
)

func runDetect(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	det := addDetectionFlags(fs)
	output := fs.String("o", "-", "Combined CSV output path ('-' for stdout)")
	tablesDir := fs.String("tables", "", "Also write one CSV per table into this directory")
	dbPath := fs.String("db", "", "Persist the run into this database")
	source := fs.String("source", "", "Source name recorded with the run (default: input file name)")
	remote := fs.String("remote", "", "Submit to a couples server at this base URL instead of detecting locally")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	input := fs.Arg(0)
	if *source == "" {
		*source = filepath.Base(input)
	}

	cfg, err := det.load()
	if err != nil {
		return err
	}

	var res *events.Result
	if *remote != "" {
		res, err = detectRemote(ctx, *remote, input, *source, det)
	} else {
		res, err = detectLocal(ctx, input, *source, *dbPath, cfg)
	}
	if err != nil {
		return err
	}

	if *tablesDir != "" {
		if err := writeTables(*tablesDir, res); err != nil {
			return err
		}
	}
	return writeOutput(*output, stdout, func(w io.Writer) error {
		return export.WriteCombinedCSV(w, res)
	})
}

func detectLocal(ctx context.Context, input, source, dbPath string, cfg *config.DetectionConfig) (*events.Result, error) {
	tbl, stats, err := trajectory.LoadFile(input, cfg.LoadOptions())
	if err != nil {
		return nil, err
	}
	start, end, _ := tbl.TimeRange()
	monitoring.Logf("loaded %s: %d rows, %d objects, %d frames over [%g, %g] (%d dropped, %d duplicates, %d missing positions)",
		source, stats.Rows, stats.Objects, stats.Frames, start, end, stats.DroppedRows, stats.Duplicates, stats.MissingPositions)

	res, err := events.NewDetector(cfg.Params(), events.WithWorkers(cfg.GetWorkers())).Run(ctx, tbl)
	if err != nil {
		return nil, err
	}
	if dbPath == "" {
		return res, nil
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	run := &db.Run{Source: source, Samples: tbl.Len(), Objects: stats.Objects, Frames: stats.Frames, Result: res}
	if err := db.NewRunStore(database).SaveRun(run); err != nil {
		return nil, err
	}
	monitoring.Logf("saved run %s to %s", run.RunID, dbPath)
	return res, nil
}

func detectRemote(ctx context.Context, baseURL, input, source string, det *detectionFlags) (*events.Result, error) {
	f, err := os.Open(filepath.Clean(input))
	if err != nil {
		return nil, fmt.Errorf("open trajectory file: %w", err)
	}
	defer f.Close()

	q := det.query()
	q.Set("source", source)
	run, err := api.NewClient(baseURL, nil).Detect(ctx, f, q)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("submitted %s as run %s to %s", source, run.RunID, baseURL)
	if run.Result == nil {
		return nil, fmt.Errorf("server returned run %s without a result", run.RunID)
	}
	return run.Result, nil
}

func writeTables(dir string, res *events.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"interactions.csv", func(w io.Writer) error { return export.WriteIntervalsCSV(w, res.Interactions) }},
		{"fusions.csv", func(w io.Writer) error { return export.WriteMergesCSV(w, res.Merges) }},
		{"ruptures.csv", func(w io.Writer) error { return export.WriteSplitsCSV(w, res.Splits) }},
		{"couples_fusion_to_rupture.csv", func(w io.Writer) error { return export.WriteCouplesCSV(w, res.MergeThenSplit) }},
		{"couples_rupture_to_fusion.csv", func(w io.Writer) error { return export.WriteCouplesCSV(w, res.SplitThenMerge) }},
	}
	for _, f := range files {
		if err := writeOutput(filepath.Join(dir, f.name), nil, f.write); err != nil {
			return err
		}
	}
	return nil
}

// writeOutput writes to path, or to stdout when path is "-".
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
