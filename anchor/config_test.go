package anchor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	for _, name := range []string{"", "default", "smooth", "responsive"} {
		cfg, err := PresetConfig(name)
		require.NoError(t, err, name)
		assert.NoError(t, cfg.Validate(), name)
	}
	_, err := PresetConfig("jittery")
	assert.Error(t, err)
}

func TestPresets_Differ(t *testing.T) {
	def := DefaultConfig()
	smooth := SmoothConfig()
	responsive := ResponsiveConfig()

	assert.Greater(t, smooth.Filters.Position.MeasurementNoise, def.Filters.Position.MeasurementNoise)
	assert.Greater(t, smooth.Tracking.StabilizationFrames, def.Tracking.StabilizationFrames)
	assert.Less(t, responsive.Tracking.StabilizationFrames, def.Tracking.StabilizationFrames)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing subject id", func(c *Config) { c.Subjects = []SubjectConfig{{Topic: "x"}} }},
		{"duplicate subject", func(c *Config) {
			c.Subjects = []SubjectConfig{{ID: "a"}, {ID: "a"}}
		}},
		{"negative process noise", func(c *Config) { c.Filters.Rotation.ProcessNoise = -1 }},
		{"zero measurement noise", func(c *Config) { c.Filters.Scale.MeasurementNoise = 0 }},
		{"negative stabilization", func(c *Config) { c.Tracking.StabilizationFrames = -1 }},
		{"negative max missed", func(c *Config) { c.Tracking.MaxMissedFrames = -1 }},
		{"bad timeout", func(c *Config) { c.Tracking.LossTimeout = "soon" }},
		{"visibility above one", func(c *Config) { c.Tracking.VisibilityThreshold = 1.5 }},
		{"zero min eye distance", func(c *Config) { c.Extractor.MinEyeDistancePx = 0 }},
		{"inverted comfort band", func(c *Config) { c.Confidence.MinComfortPx = 500 }},
		{"alpha out of range", func(c *Config) { c.Confidence.FastAlpha = 2 }},
		{"zero cadence", func(c *Config) { c.Calibration.CadenceFrames = 0 }},
		{"zero ipd", func(c *Config) { c.Calibration.InterpupillaryMm = 0 }},
		{"inverted factor bounds", func(c *Config) { c.Calibration.MinFactor = 3 }},
		{"inverted scale bounds", func(c *Config) { c.Calibration.MinScale = 1 }},
		{"zero base scale", func(c *Config) { c.Calibration.BaseScale = 0 }},
		{"bad cache max age", func(c *Config) { c.Calibration.CacheMaxAge = "weekly" }},
		{"qos above two", func(c *Config) { c.MQTT.QoS = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTrackingConfig_GetLossTimeout(t *testing.T) {
	assert.Equal(t, time.Second, TrackingConfig{LossTimeout: "1000ms"}.GetLossTimeout())
	assert.Equal(t, time.Duration(0), TrackingConfig{}.GetLossTimeout())
	assert.Equal(t, time.Duration(0), TrackingConfig{LossTimeout: "later"}.GetLossTimeout())
}

func TestCalibrationConfig_GetCacheMaxAge(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, CalibrationConfig{CacheMaxAge: "168h"}.GetCacheMaxAge())
	assert.Equal(t, time.Duration(0), CalibrationConfig{}.GetCacheMaxAge())
	assert.Equal(t, time.Duration(0), CalibrationConfig{CacheMaxAge: "weekly"}.GetCacheMaxAge())
}

func TestCalibrationConfig_CategoryMultiplier(t *testing.T) {
	cal := DefaultConfig().Calibration
	assert.Equal(t, 0.95, cal.CategoryMultiplier("tight"))
	assert.Equal(t, 1.10, cal.CategoryMultiplier("loose"))
	assert.Equal(t, 1.0, cal.CategoryMultiplier(""))
	assert.Equal(t, 1.0, cal.CategoryMultiplier("unknown"))
}

func TestParseConfig_OverridesPreset(t *testing.T) {
	data := []byte(`
preset: smooth
mqtt:
  broker: tcp://broker:1883
  qos: 1
  retain: true
subjects:
  - id: left
    topic: landmarks/left
    mirrored: true
    category: loose
  - id: right
    topic: landmarks/right
tracking:
  lossTimeout: 2s
calibration:
  cacheMaxAge: 24h
  categories:
    wide: 1.3
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	smooth := SmoothConfig()
	assert.Equal(t, "smooth", cfg.Preset)
	assert.Equal(t, smooth.Filters, cfg.Filters, "unset fields keep the preset")
	assert.Equal(t, smooth.Tracking.StabilizationFrames, cfg.Tracking.StabilizationFrames)
	assert.Equal(t, 2*time.Second, cfg.Tracking.GetLossTimeout())
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "headanchor", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.True(t, cfg.MQTT.Retain)
	assert.Equal(t, 24*time.Hour, cfg.Calibration.GetCacheMaxAge())

	require.Len(t, cfg.Subjects, 2)
	assert.True(t, cfg.Subjects[0].Mirrored)
	assert.Equal(t, "loose", cfg.GetSubjectByID("left").Category)
	assert.Nil(t, cfg.GetSubjectByID("middle"))

	assert.Equal(t, 1.3, cfg.Calibration.CategoryMultiplier("wide"))
	assert.Equal(t, 1.10, cfg.Calibration.CategoryMultiplier("loose"), "preset categories survive")
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "subjects: [\n"},
		{"unknown preset", "preset: wobbly\n"},
		{"invalid value", "tracking:\n  visibilityThreshold: 7\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	t.Setenv("MQTT_USERNAME", "anchor")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_PUBLISH_PREFIX", "studio")
	t.Setenv("MQTT_CLIENT_ID", "")

	cfg, err := ParseConfig([]byte("mqtt:\n  broker: tcp://file:1883\n  clientId: fromfile\n"))
	require.NoError(t, err)
	assert.Equal(t, "tcp://env:1883", cfg.MQTT.Broker)
	assert.Equal(t, "anchor", cfg.MQTT.Username)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, "studio", cfg.MQTT.PublishPrefix)
	assert.Equal(t, "fromfile", cfg.MQTT.ClientID, "empty variables do not override")
}

func TestLoadSaveConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	cfg := testConfig()
	cfg.Asset.Offset = Vec3{X: 0.1, Y: -0.2, Z: 0.3}
	cfg.Subjects[0].Mirrored = true
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Asset, loaded.Asset)
	assert.Equal(t, cfg.Subjects, loaded.Subjects)
	assert.Equal(t, cfg.Calibration, loaded.Calibration)

	require.NoError(t, os.WriteFile(path, []byte("tracking: [oops"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
