package main

import (
	"flag"
	"io"

	"github.com/banshee-data/couple.report/internal/monitoring"
	"github.com/banshee-data/couple.report/internal/report"
)

func runSummary(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	htmlOut := fs.String("html", "", "Write an HTML chart page to this path")
	pngDir := fs.String("png", "", "Write PNG duration histograms into this directory")
	title := fs.String("title", "Couples summary", "Chart page title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	s, err := report.SummariseDir(fs.Arg(0))
	if err != nil {
		return err
	}

	if *htmlOut != "" {
		if err := writeOutput(*htmlOut, stdout, func(w io.Writer) error {
			return report.RenderCharts(w, *title, s)
		}); err != nil {
			return err
		}
		monitoring.Logf("wrote charts to %s", *htmlOut)
	}
	if *pngDir != "" {
		paths, err := report.PlotDurationHistograms(*pngDir, s)
		if err != nil {
			return err
		}
		for _, p := range paths {
			monitoring.Logf("wrote %s", p)
		}
	}

	return printJSON(stdout, s)
}
