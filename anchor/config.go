package anchor

import (
	"fmt"
	"time"
)

// Config represents the full configuration file
type Config struct {
	Preset      string            `yaml:"preset,omitempty" json:"preset,omitempty"` // default, smooth or responsive; other fields override it
	MQTT        MQTTConfig        `yaml:"mqtt" json:"mqtt"`
	Subjects    []SubjectConfig   `yaml:"subjects" json:"subjects"`
	Filters     FilterConfig      `yaml:"filters" json:"filters"`
	Tracking    TrackingConfig    `yaml:"tracking" json:"tracking"`
	Extractor   ExtractorConfig   `yaml:"extractor" json:"extractor"`
	Confidence  ConfidenceConfig  `yaml:"confidence" json:"confidence"`
	Calibration CalibrationConfig `yaml:"calibration" json:"calibration"`
	Asset       AssetConfig       `yaml:"asset" json:"asset"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	QoS           byte   `yaml:"qos" json:"qos"`       // publish QoS, 0-2
	Retain        bool   `yaml:"retain" json:"retain"` // retain published poses
}

// SubjectConfig defines one tracked subject. Each subject gets its own
// pipeline fed from its own landmark topic.
type SubjectConfig struct {
	ID       string `yaml:"id" json:"id"`
	Topic    string `yaml:"topic" json:"topic"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"` // calibration multiplier key, e.g. "tight" or "loose"
	Mirrored bool   `yaml:"mirrored" json:"mirrored"`                     // detector frames are a selfie (mirrored) view
}

// NoisePair is the process/measurement noise for one filtered quantity.
type NoisePair struct {
	ProcessNoise     float64 `yaml:"processNoise" json:"processNoise"`         // Q: higher = faster, noisier
	MeasurementNoise float64 `yaml:"measurementNoise" json:"measurementNoise"` // R: higher = smoother, slower
}

// FilterConfig holds the noise pairs for every filtered quantity.
type FilterConfig struct {
	Position    NoisePair `yaml:"position" json:"position"`
	Rotation    NoisePair `yaml:"rotation" json:"rotation"`
	Scale       NoisePair `yaml:"scale" json:"scale"`
	HistorySize int       `yaml:"historySize" json:"historySize"`
}

// TrackingConfig controls the pipeline state machine.
type TrackingConfig struct {
	StabilizationFrames int     `yaml:"stabilizationFrames" json:"stabilizationFrames"` // Calibrating -> Stable after this many measured frames
	MaxMissedFrames     int     `yaml:"maxMissedFrames" json:"maxMissedFrames"`         // 0 disables the miss counter
	LossTimeout         string  `yaml:"lossTimeout" json:"lossTimeout"`                 // duration string like "1000ms"; empty disables
	VisibilityThreshold float64 `yaml:"visibilityThreshold" json:"visibilityThreshold"` // visible when confidence > threshold
}

// GetLossTimeout parses LossTimeout. Empty or unparsable values disable the
// timeout and return 0.
func (c TrackingConfig) GetLossTimeout() time.Duration {
	if c.LossTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.LossTimeout)
	if err != nil {
		return 0
	}
	return d
}

// ExtractorConfig tunes raw pose extraction.
type ExtractorConfig struct {
	YawSensitivity   float64 `yaml:"yawSensitivity" json:"yawSensitivity"`     // radians per eye-distance of nose offset
	PitchSensitivity float64 `yaml:"pitchSensitivity" json:"pitchSensitivity"` // radians per eye-distance of nose offset
	PitchNeutral     float64 `yaml:"pitchNeutral" json:"pitchNeutral"`         // nose drop below the eye line at zero pitch, in eye-distances
	ScaleSensitivity float64 `yaml:"scaleSensitivity" json:"scaleSensitivity"` // raw scale per pixel of eye distance
	MinEyeDistancePx float64 `yaml:"minEyeDistancePx" json:"minEyeDistancePx"`
}

// ConfidenceConfig tunes the confidence scorer.
type ConfidenceConfig struct {
	MinComfortPx       float64 `yaml:"minComfortPx" json:"minComfortPx"` // eye distance below this is too far away
	MaxComfortPx       float64 `yaml:"maxComfortPx" json:"maxComfortPx"` // eye distance above this is too close
	JitterTolerance    float64 `yaml:"jitterTolerance" json:"jitterTolerance"`
	JitterPenalty      float64 `yaml:"jitterPenalty" json:"jitterPenalty"`
	DeviationThreshold float64 `yaml:"deviationThreshold" json:"deviationThreshold"`
	FastAlpha          float64 `yaml:"fastAlpha" json:"fastAlpha"`
	SlowAlpha          float64 `yaml:"slowAlpha" json:"slowAlpha"`
	HistorySize        int     `yaml:"historySize" json:"historySize"`
}

// CalibrationConfig tunes the anthropometric scale calibrator.
type CalibrationConfig struct {
	CadenceFrames          int                `yaml:"cadenceFrames" json:"cadenceFrames"`
	WarmupFrames           int                `yaml:"warmupFrames" json:"warmupFrames"`
	InterpupillaryMm       float64            `yaml:"interpupillaryMm" json:"interpupillaryMm"`
	FocalLengthPx          float64            `yaml:"focalLengthPx" json:"focalLengthPx"`
	ReferenceEyeDistancePx float64            `yaml:"referenceEyeDistancePx" json:"referenceEyeDistancePx"`
	ReferenceHeadWidthMm   float64            `yaml:"referenceHeadWidthMm" json:"referenceHeadWidthMm"`
	ReferenceHeadHeightMm  float64            `yaml:"referenceHeadHeightMm" json:"referenceHeadHeightMm"`
	MinFactor              float64            `yaml:"minFactor" json:"minFactor"`
	MaxFactor              float64            `yaml:"maxFactor" json:"maxFactor"`
	BaseScale              float64            `yaml:"baseScale" json:"baseScale"`
	MinScale               float64            `yaml:"minScale" json:"minScale"`
	MaxScale               float64            `yaml:"maxScale" json:"maxScale"`
	Categories             map[string]float64 `yaml:"categories,omitempty" json:"categories,omitempty"`
	CacheMaxAge            string             `yaml:"cacheMaxAge,omitempty" json:"cacheMaxAge,omitempty"` // duration string; cached calibrations older than this are ignored at startup; empty keeps them forever
}

// GetCacheMaxAge parses CacheMaxAge. Empty or unparsable values return 0.
func (c CalibrationConfig) GetCacheMaxAge() time.Duration {
	if c.CacheMaxAge == "" {
		return 0
	}
	d, err := time.ParseDuration(c.CacheMaxAge)
	if err != nil {
		return 0
	}
	return d
}

// CategoryMultiplier returns the multiplier for an asset category, or 1.
func (c CalibrationConfig) CategoryMultiplier(category string) float64 {
	if m, ok := c.Categories[category]; ok && m > 0 {
		return m
	}
	return 1.0
}

// AssetConfig maps filtered pose into render space.
type AssetConfig struct {
	Offset              Vec3    `yaml:"offset" json:"offset"`
	PositionSensitivity Vec3    `yaml:"positionSensitivity" json:"positionSensitivity"`
	ReferenceRawScale   float64 `yaml:"referenceRawScale" json:"referenceRawScale"` // raw scale at which the calibrated scale applies unchanged; 0 ignores raw scale
}

// DefaultConfig returns the recommended configuration for a 30 fps feed.
func DefaultConfig() Config {
	return Config{
		MQTT: MQTTConfig{
			PublishPrefix: "headanchor",
			ClientID:      "headanchor",
		},
		Filters: FilterConfig{
			Position:    NoisePair{ProcessNoise: 0.001, MeasurementNoise: 0.01},
			Rotation:    NoisePair{ProcessNoise: 0.002, MeasurementNoise: 0.02},
			Scale:       NoisePair{ProcessNoise: 0.0005, MeasurementNoise: 0.01},
			HistorySize: DefaultHistorySize,
		},
		Tracking: TrackingConfig{
			StabilizationFrames: 30,
			MaxMissedFrames:     30,
			LossTimeout:         "1000ms",
			VisibilityThreshold: 0.5,
		},
		Extractor: ExtractorConfig{
			YawSensitivity:   1.5,
			PitchSensitivity: 1.5,
			PitchNeutral:     0.5,
			ScaleSensitivity: 0.01, // 100px eye distance -> 1.0
			MinEyeDistancePx: 1.0,
		},
		Confidence: ConfidenceConfig{
			MinComfortPx:       40,
			MaxComfortPx:       400,
			JitterTolerance:    0.02,
			JitterPenalty:      10,
			DeviationThreshold: 0.25,
			FastAlpha:          0.7,
			SlowAlpha:          0.3,
			HistorySize:        10,
		},
		Calibration: CalibrationConfig{
			CadenceFrames:          30,
			WarmupFrames:           30,
			InterpupillaryMm:       63.0,
			FocalLengthPx:          600.0,
			ReferenceEyeDistancePx: 100.0,
			ReferenceHeadWidthMm:   140.0,
			ReferenceHeadHeightMm:  185.0,
			MinFactor:              0.5,
			MaxFactor:              2.0,
			BaseScale:              0.0018,
			MinScale:               0.0005,
			MaxScale:               0.01,
			Categories: map[string]float64{
				"tight": 0.95,
				"loose": 1.10,
			},
		},
		Asset: AssetConfig{
			PositionSensitivity: Vec3{X: 2, Y: 2, Z: 1},
			ReferenceRawScale:   1.0,
		},
	}
}

// SmoothConfig trades latency for a steadier overlay.
func SmoothConfig() Config {
	cfg := DefaultConfig()
	cfg.Filters.Position = NoisePair{ProcessNoise: 0.0005, MeasurementNoise: 0.02}
	cfg.Filters.Rotation = NoisePair{ProcessNoise: 0.001, MeasurementNoise: 0.04}
	cfg.Filters.Scale = NoisePair{ProcessNoise: 0.0002, MeasurementNoise: 0.02}
	cfg.Tracking.StabilizationFrames = 45
	cfg.Confidence.FastAlpha = 0.5
	return cfg
}

// ResponsiveConfig follows fast head motion at the cost of more jitter.
func ResponsiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Filters.Position = NoisePair{ProcessNoise: 0.005, MeasurementNoise: 0.005}
	cfg.Filters.Rotation = NoisePair{ProcessNoise: 0.01, MeasurementNoise: 0.01}
	cfg.Filters.Scale = NoisePair{ProcessNoise: 0.002, MeasurementNoise: 0.005}
	cfg.Tracking.StabilizationFrames = 15
	cfg.Confidence.FastAlpha = 0.85
	return cfg
}

// PresetConfig returns the named preset. An empty name is the default preset.
func PresetConfig(name string) (Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "smooth":
		cfg := SmoothConfig()
		cfg.Preset = name
		return cfg, nil
	case "responsive":
		cfg := ResponsiveConfig()
		cfg.Preset = name
		return cfg, nil
	default:
		return Config{}, fmt.Errorf("unknown preset %q", name)
	}
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, s := range c.Subjects {
		if s.ID == "" {
			return fmt.Errorf("subjects[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("subjects[%d].id %q is duplicated", i, s.ID)
		}
		seen[s.ID] = true
	}

	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	for name, np := range map[string]NoisePair{
		"position": c.Filters.Position,
		"rotation": c.Filters.Rotation,
		"scale":    c.Filters.Scale,
	} {
		if np.ProcessNoise < 0 {
			return fmt.Errorf("filters.%s.processNoise must be non-negative, got %f", name, np.ProcessNoise)
		}
		if np.MeasurementNoise <= 0 {
			return fmt.Errorf("filters.%s.measurementNoise must be positive, got %f", name, np.MeasurementNoise)
		}
	}

	if c.Tracking.StabilizationFrames < 0 {
		return fmt.Errorf("tracking.stabilizationFrames must be non-negative, got %d", c.Tracking.StabilizationFrames)
	}
	if c.Tracking.MaxMissedFrames < 0 {
		return fmt.Errorf("tracking.maxMissedFrames must be non-negative, got %d", c.Tracking.MaxMissedFrames)
	}
	if c.Tracking.LossTimeout != "" {
		if _, err := time.ParseDuration(c.Tracking.LossTimeout); err != nil {
			return fmt.Errorf("invalid tracking.lossTimeout '%s': %w", c.Tracking.LossTimeout, err)
		}
	}
	if c.Tracking.VisibilityThreshold < 0 || c.Tracking.VisibilityThreshold > 1 {
		return fmt.Errorf("tracking.visibilityThreshold must be between 0 and 1, got %f", c.Tracking.VisibilityThreshold)
	}

	if c.Extractor.MinEyeDistancePx <= 0 {
		return fmt.Errorf("extractor.minEyeDistancePx must be positive, got %f", c.Extractor.MinEyeDistancePx)
	}

	if c.Confidence.MinComfortPx >= c.Confidence.MaxComfortPx {
		return fmt.Errorf("confidence.minComfortPx (%f) must be below maxComfortPx (%f)", c.Confidence.MinComfortPx, c.Confidence.MaxComfortPx)
	}
	for name, a := range map[string]float64{"fastAlpha": c.Confidence.FastAlpha, "slowAlpha": c.Confidence.SlowAlpha} {
		if a < 0 || a > 1 {
			return fmt.Errorf("confidence.%s must be between 0 and 1, got %f", name, a)
		}
	}

	cal := c.Calibration
	if cal.CadenceFrames <= 0 {
		return fmt.Errorf("calibration.cadenceFrames must be positive, got %d", cal.CadenceFrames)
	}
	if cal.InterpupillaryMm <= 0 || cal.FocalLengthPx <= 0 || cal.ReferenceEyeDistancePx <= 0 ||
		cal.ReferenceHeadWidthMm <= 0 || cal.ReferenceHeadHeightMm <= 0 {
		return fmt.Errorf("calibration reference dimensions must be positive")
	}
	if cal.MinFactor <= 0 || cal.MinFactor >= cal.MaxFactor {
		return fmt.Errorf("calibration factor bounds [%f, %f] are invalid", cal.MinFactor, cal.MaxFactor)
	}
	if cal.MinScale <= 0 || cal.MinScale >= cal.MaxScale {
		return fmt.Errorf("calibration scale bounds [%f, %f] are invalid", cal.MinScale, cal.MaxScale)
	}
	if cal.BaseScale <= 0 {
		return fmt.Errorf("calibration.baseScale must be positive, got %f", cal.BaseScale)
	}
	if cal.CacheMaxAge != "" {
		if _, err := time.ParseDuration(cal.CacheMaxAge); err != nil {
			return fmt.Errorf("invalid calibration.cacheMaxAge '%s': %w", cal.CacheMaxAge, err)
		}
	}

	return nil
}

// GetSubjectByID returns the subject config for the given ID
func (c *Config) GetSubjectByID(id string) *SubjectConfig {
	for i := range c.Subjects {
		if c.Subjects[i].ID == id {
			return &c.Subjects[i]
		}
	}
	return nil
}
