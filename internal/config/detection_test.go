package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/couple.report/internal/events"
)

func TestDefaultDetectionConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultDetectionConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, events.DefaultParams(), cfg.Params())
	assert.Equal(t, ';', cfg.GetDelimiter())
	assert.Equal(t, 0.0, cfg.GetTimeStep())
	assert.Equal(t, 0, cfg.GetWorkers())
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cfg := &DetectionConfig{}
	assert.Equal(t, events.DefaultParams(), cfg.Params())
	opts := cfg.LoadOptions()
	assert.Equal(t, ';', opts.Delimiter)
	assert.Equal(t, 0.0, opts.TimeStep)
}

func TestCanonicalDefaultsFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadDetectionConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, *DefaultDetectionConfig(), *cfg)
}

func TestLoadDetectionConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		return path
	}

	t.Run("json", func(t *testing.T) {
		cfg, err := LoadDetectionConfig(write("a.json", `{"fusion_distance": 0.03, "delimiter": ","}`))
		require.NoError(t, err)
		assert.Equal(t, 0.03, cfg.GetFusionDistance())
		assert.Equal(t, ',', cfg.GetDelimiter())
		assert.Equal(t, 0.055, cfg.GetInteractionDistance())
	})

	t.Run("yaml", func(t *testing.T) {
		cfg, err := LoadDetectionConfig(write("b.yaml", "min_duration: 0.5\nworkers: 4\n"))
		require.NoError(t, err)
		assert.Equal(t, 0.5, cfg.GetMinDuration())
		assert.Equal(t, 4, cfg.GetWorkers())
		assert.Equal(t, 0.05, cfg.GetTimeGapThreshold())
	})

	t.Run("bad extension", func(t *testing.T) {
		_, err := LoadDetectionConfig(write("c.toml", "x = 1"))
		assert.ErrorContains(t, err, "extension")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadDetectionConfig(filepath.Join(dir, "nope.json"))
		assert.ErrorContains(t, err, "stat")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := LoadDetectionConfig(write("d.json", `{"min_duration": "long"}`))
		assert.ErrorContains(t, err, "parse")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := LoadDetectionConfig(write("e.yml", "interaction_distance: -1\n"))
		assert.ErrorContains(t, err, "interaction_distance")
	})

	t.Run("too large", func(t *testing.T) {
		_, err := LoadDetectionConfig(write("f.json", `{"pad":"`+strings.Repeat("x", 1<<20)+`"}`))
		assert.ErrorContains(t, err, "too large")
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     DetectionConfig
		wantErr string
	}{
		{"empty", DetectionConfig{}, ""},
		{"negative step", DetectionConfig{TimeStep: ptrFloat64(-0.02)}, "time_step"},
		{"long delimiter", DetectionConfig{Delimiter: ptrString(";;")}, "delimiter"},
		{"empty delimiter", DetectionConfig{Delimiter: ptrString("")}, "delimiter"},
		{"negative workers", DetectionConfig{Workers: ptrInt(-1)}, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	base := DefaultDetectionConfig()
	merged := base.Merge(&DetectionConfig{MinDuration: ptrFloat64(0), Workers: ptrInt(2)})
	assert.Equal(t, 0.0, merged.GetMinDuration())
	assert.Equal(t, 2, merged.GetWorkers())
	assert.Equal(t, 0.055, merged.GetInteractionDistance())
	assert.Equal(t, 1.0, base.GetMinDuration(), "base is not modified")
	assert.Equal(t, *base, *base.Merge(nil))
}
