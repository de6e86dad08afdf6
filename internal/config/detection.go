package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/couple.report/internal/events"
	"github.com/banshee-data/couple.report/internal/trajectory"
)

// DefaultConfigPath is the path to the canonical detection defaults file.
const DefaultConfigPath = "config/detection.defaults.json"

// DetectionConfig holds the detection thresholds and loader settings.
// The schema matches the /api/config endpoint so the same document can be
// used for startup configuration and for per-request overrides.
type DetectionConfig struct {
	// Detector thresholds
	InteractionDistance *float64 `json:"interaction_distance,omitempty" yaml:"interaction_distance,omitempty"`
	FusionDistance      *float64 `json:"fusion_distance,omitempty" yaml:"fusion_distance,omitempty"`
	TimeGapThreshold    *float64 `json:"time_gap_threshold,omitempty" yaml:"time_gap_threshold,omitempty"`
	MinDuration         *float64 `json:"min_duration,omitempty" yaml:"min_duration,omitempty"`

	// Loader
	TimeStep  *float64 `json:"time_step,omitempty" yaml:"time_step,omitempty"`
	Delimiter *string  `json:"delimiter,omitempty" yaml:"delimiter,omitempty"` // single character

	// Workers bounds detector parallelism; 0 means GOMAXPROCS.
	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultDetectionConfig returns a fully populated config.
func DefaultDetectionConfig() *DetectionConfig {
	p := events.DefaultParams()
	return &DetectionConfig{
		InteractionDistance: ptrFloat64(p.InteractionDistance),
		FusionDistance:      ptrFloat64(p.FusionDistance),
		TimeGapThreshold:    ptrFloat64(p.TimeGapThreshold),
		MinDuration:         ptrFloat64(p.MinDuration),
		TimeStep:            ptrFloat64(trajectory.DefaultTimeStep),
		Delimiter:           ptrString(string(trajectory.DefaultDelimiter)),
		Workers:             ptrInt(0),
	}
}

// LoadDetectionConfig loads a DetectionConfig from a .json, .yaml or .yml
// file of at most 1MB. Fields omitted from the file fall back to defaults
// through the Get* methods, so partial configs are safe.
func LoadDetectionConfig(path string) (*DetectionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DetectionConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Merge returns a copy of c with every field set in o taking precedence.
func (c *DetectionConfig) Merge(o *DetectionConfig) *DetectionConfig {
	out := *c
	if o == nil {
		return &out
	}
	if o.InteractionDistance != nil {
		out.InteractionDistance = o.InteractionDistance
	}
	if o.FusionDistance != nil {
		out.FusionDistance = o.FusionDistance
	}
	if o.TimeGapThreshold != nil {
		out.TimeGapThreshold = o.TimeGapThreshold
	}
	if o.MinDuration != nil {
		out.MinDuration = o.MinDuration
	}
	if o.TimeStep != nil {
		out.TimeStep = o.TimeStep
	}
	if o.Delimiter != nil {
		out.Delimiter = o.Delimiter
	}
	if o.Workers != nil {
		out.Workers = o.Workers
	}
	return &out
}

// Validate checks that the configuration values are valid.
func (c *DetectionConfig) Validate() error {
	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"interaction_distance", c.InteractionDistance},
		{"fusion_distance", c.FusionDistance},
		{"time_gap_threshold", c.TimeGapThreshold},
		{"min_duration", c.MinDuration},
		{"time_step", c.TimeStep},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %g", f.name, *f.v)
		}
	}

	if c.Delimiter != nil && utf8.RuneCountInString(*c.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", *c.Delimiter)
	}

	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetInteractionDistance returns the interaction threshold or its default.
func (c *DetectionConfig) GetInteractionDistance() float64 {
	if c.InteractionDistance == nil {
		return events.DefaultParams().InteractionDistance
	}
	return *c.InteractionDistance
}

// GetFusionDistance returns the merge/split threshold or its default.
func (c *DetectionConfig) GetFusionDistance() float64 {
	if c.FusionDistance == nil {
		return events.DefaultParams().FusionDistance
	}
	return *c.FusionDistance
}

func (c *DetectionConfig) GetTimeGapThreshold() float64 {
	if c.TimeGapThreshold == nil {
		return events.DefaultParams().TimeGapThreshold
	}
	return *c.TimeGapThreshold
}

func (c *DetectionConfig) GetMinDuration() float64 {
	if c.MinDuration == nil {
		return events.DefaultParams().MinDuration
	}
	return *c.MinDuration
}

func (c *DetectionConfig) GetTimeStep() float64 {
	if c.TimeStep == nil {
		return trajectory.DefaultTimeStep
	}
	return *c.TimeStep
}

// GetDelimiter returns the first rune of Delimiter, or ';'.
func (c *DetectionConfig) GetDelimiter() rune {
	if c.Delimiter == nil || *c.Delimiter == "" {
		return trajectory.DefaultDelimiter
	}
	r, _ := utf8.DecodeRuneInString(*c.Delimiter)
	return r
}

func (c *DetectionConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// Params converts the thresholds for events.NewDetector.
func (c *DetectionConfig) Params() events.Params {
	return events.Params{
		InteractionDistance: c.GetInteractionDistance(),
		FusionDistance:      c.GetFusionDistance(),
		TimeGapThreshold:    c.GetTimeGapThreshold(),
		MinDuration:         c.GetMinDuration(),
	}
}

// LoadOptions converts the loader settings for trajectory.ReadCSV.
func (c *DetectionConfig) LoadOptions() trajectory.LoadOptions {
	return trajectory.LoadOptions{Delimiter: c.GetDelimiter(), TimeStep: c.GetTimeStep()}
}
