package main

import (
	"errors"
	"flag"
	"net/url"
	"os"
	"strconv"

	"github.com/banshee-data/couple.report/internal/config"
)

// detectionFlags registers the threshold flags on fs. Only flags given on the
// command line end up in the override.
type detectionFlags struct {
	configPath string
	override   config.DetectionConfig
}

func addDetectionFlags(fs *flag.FlagSet) *detectionFlags {
	f := &detectionFlags{}
	fs.StringVar(&f.configPath, "config", config.DefaultConfigPath, "Detection config file (.json or .yaml); built-in defaults when the default file is absent")

	floatVar := func(dst **float64, name, usage string) {
		fs.Func(name, usage, func(s string) error {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			*dst = &v
			return nil
		})
	}
	floatVar(&f.override.InteractionDistance, "interaction-distance", "Interaction distance threshold (exclusive)")
	floatVar(&f.override.FusionDistance, "fusion-distance", "Merge and split distance threshold (exclusive)")
	floatVar(&f.override.TimeGapThreshold, "time-gap", "Longest tolerated gap inside one interaction")
	floatVar(&f.override.MinDuration, "min-duration", "Minimum interaction duration")
	floatVar(&f.override.TimeStep, "time-step", "Snap input times to this step (0 keeps them as given)")
	fs.Func("delimiter", "Input field delimiter", func(s string) error {
		f.override.Delimiter = &s
		return nil
	})
	fs.Func("workers", "Parallel workers (0 uses every CPU)", func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		f.override.Workers = &v
		return nil
	})
	return f
}

// load reads the config file, if any, and applies the flag overrides.
func (f *detectionFlags) load() (*config.DetectionConfig, error) {
	base := config.DefaultDetectionConfig()
	path := f.configPath
	if path == config.DefaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		fromFile, err := config.LoadDetectionConfig(path)
		if err != nil {
			return nil, err
		}
		base = base.Merge(fromFile)
	}
	cfg := base.Merge(&f.override)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// query encodes the overrides as /api/detect query parameters.
func (f *detectionFlags) query() url.Values {
	q := url.Values{}
	set := func(name string, v *float64) {
		if v != nil {
			q.Set(name, strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	set("interaction_distance", f.override.InteractionDistance)
	set("fusion_distance", f.override.FusionDistance)
	set("time_gap_threshold", f.override.TimeGapThreshold)
	set("min_duration", f.override.MinDuration)
	set("time_step", f.override.TimeStep)
	if f.override.Delimiter != nil {
		q.Set("delimiter", *f.override.Delimiter)
	}
	return q
}
