package report

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotDurationHistograms writes interaction_durations.png and
// couple_durations.png into dir. Histograms with no data are skipped.
// It returns the paths written.
func PlotDurationHistograms(dir string, s *Summary) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var written []string
	for _, h := range []struct {
		file, title string
		values      []float64
	}{
		{"interaction_durations.png", "Interaction durations", s.interactionDurations},
		{"couple_durations.png", "Merge-then-split durations", s.coupleDurations},
	} {
		if len(h.values) == 0 {
			continue
		}
		path := filepath.Join(dir, h.file)
		if err := plotHistogram(path, h.title, h.values); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func plotHistogram(path, title string, values []float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Duration"
	p.Y.Label.Text = "Count"

	hist, err := plotter.NewHist(plotter.Values(values), HistogramBins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	p.Add(hist)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
