package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/couple.report/internal/events"
)

// AssetsHost is where rendered pages load the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// HistogramBins is the bin count for duration histograms.
const HistogramBins = 20

// RenderCharts writes an HTML page with record counts per type and the
// interaction and couple duration histograms.
func RenderCharts(w io.Writer, title string, s *Summary) error {
	page := components.NewPage()
	page.SetPageTitle(title)
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(
		countsChart(title, s),
		durationChart("Interaction durations", s.InteractionDuration, s.interactionDurations),
		durationChart("Merge-then-split durations", s.CoupleDuration, s.coupleDurations),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

func countsChart(title string, s *Summary) *charts.Bar {
	x := make([]string, 0, len(events.RecordTypes))
	y := make([]opts.BarData, 0, len(events.RecordTypes))
	for _, t := range events.RecordTypes {
		x = append(x, string(t))
		y = append(y, opts.BarData{Value: s.Counts[t]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "records per type"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("records", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func durationChart(title string, st Stats, xs []float64) *charts.Bar {
	edges, counts := histogram(xs, HistogramBins)
	x := make([]string, len(edges))
	y := make([]opts.BarData, len(counts))
	for i := range edges {
		x[i] = strconv.FormatFloat(edges[i], 'f', 2, 64)
		y[i] = opts.BarData{Value: counts[i]}
	}

	subtitle := "no data"
	if st.Count > 0 {
		subtitle = fmt.Sprintf("n=%d mean=%.3f median=%.3f max=%.3f", st.Count, st.Mean, st.Median, st.Max)
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "duration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count"}),
	)
	bar.SetXAxis(x).AddSeries("count", y)
	return bar
}
