package anchor

import (
	"fmt"
	"math"
)

// FactorBounds is the accepted range for the overall scale factor.
type FactorBounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether f lies within the bounds, inclusive.
func (b FactorBounds) Contains(f float64) bool {
	return f >= b.Min && f <= b.Max
}

// ScaleCalibration is one anthropometric scale measurement. Accepted is false
// for the default calibration and for fallbacks returned after a rejection.
type ScaleCalibration struct {
	HeadWidthPx        float64      `json:"headWidthPx"`
	HeadHeightPx       float64      `json:"headHeightPx"`
	EyeDistancePx      float64      `json:"eyeDistancePx"`
	WidthMm            float64      `json:"widthMm"`
	HeightMm           float64      `json:"heightMm"`
	DistanceMm         float64      `json:"distanceMm"`
	OverallScaleFactor float64      `json:"overallScaleFactor"`
	Scale              float64      `json:"scale"`
	Category           string       `json:"category,omitempty"`
	Bounds             FactorBounds `json:"bounds"`
	ComputedAtFrame    int          `json:"computedAtFrame"`
	ValidUntilFrame    int          `json:"validUntilFrame"`
	Accepted           bool         `json:"accepted"`
}

// ScaleCalibrator turns landmark geometry into an asset scale, recomputing at
// most once per cadence and serving a cached value in between.
type ScaleCalibrator struct {
	cfg        CalibrationConfig
	category   string
	current    ScaleCalibration
	validUntil int
}

// NewScaleCalibrator creates a calibrator for an asset category. The category
// selects a multiplier from the config; unknown categories use 1.
func NewScaleCalibrator(cfg CalibrationConfig, category string) *ScaleCalibrator {
	c := &ScaleCalibrator{cfg: cfg, category: category}
	c.current = c.Default()
	return c
}

// Default returns the calibration used before any measurement is accepted:
// factor 1 at the configured base scale.
func (c *ScaleCalibrator) Default() ScaleCalibration {
	return ScaleCalibration{
		OverallScaleFactor: 1,
		Scale:              c.scaleFor(1),
		Category:           c.category,
		Bounds:             c.bounds(),
	}
}

// Current returns the cached calibration.
func (c *ScaleCalibrator) Current() ScaleCalibration {
	return c.current
}

// Seed replaces the cache, for example with a calibration persisted by a
// previous run. The factor goes through the same bounds check as a fresh
// measurement; a rejected seed leaves the cache unchanged and returns the
// error. The next recomputation happens on the normal schedule.
func (c *ScaleCalibrator) Seed(cal ScaleCalibration) error {
	resolved, err := c.resolve(cal)
	if err != nil {
		return fmt.Errorf("seeding calibration: %w", err)
	}
	c.current = resolved
	return nil
}

// Reset drops the cache and returns to the default calibration.
func (c *ScaleCalibrator) Reset() {
	c.current = c.Default()
	c.validUntil = 0
}

// Expire keeps the cached calibration but makes the next eligible frame
// recompute it.
func (c *ScaleCalibrator) Expire() {
	c.validUntil = 0
}

// Observe offers a frame to the calibrator. It recomputes only once warm-up
// has passed and the cached value has expired; otherwise, and for incomplete
// landmark sets, it returns the cache unchanged. After a recomputation
// attempt the next one is scheduled CadenceFrames later whether or not the
// new value was accepted. On rejection the returned calibration is the cached
// (or default) value and the error wraps ErrCalibrationOutOfBounds or
// ErrInvalidMeasurement.
func (c *ScaleCalibrator) Observe(frame int, set *LandmarkSet) (ScaleCalibration, error) {
	if frame < c.cfg.WarmupFrames || frame < c.validUntil || !set.Complete() {
		return c.current, nil
	}
	c.validUntil = frame + c.cfg.CadenceFrames

	measured, err := c.measure(set)
	if err != nil {
		return c.current, err
	}
	measured.ComputedAtFrame = frame
	measured.ValidUntilFrame = c.validUntil

	resolved, err := c.resolve(measured)
	if err != nil {
		return resolved, err
	}
	c.current = resolved
	return resolved, nil
}

// Resolve bounds-checks an already computed scale factor and converts it to a
// scale. Out-of-bounds or non-finite factors return the cached calibration
// with an error. The cache is not modified.
func (c *ScaleCalibrator) Resolve(factor float64) (ScaleCalibration, error) {
	return c.resolve(ScaleCalibration{OverallScaleFactor: factor})
}

func (c *ScaleCalibrator) resolve(cal ScaleCalibration) (ScaleCalibration, error) {
	f := cal.OverallScaleFactor
	if !isFinite(f) {
		return c.current, fmt.Errorf("scale factor %v: %w", f, ErrInvalidMeasurement)
	}
	b := c.bounds()
	if !b.Contains(f) {
		return c.current, fmt.Errorf("scale factor %.3f outside [%.3f, %.3f]: %w", f, b.Min, b.Max, ErrCalibrationOutOfBounds)
	}
	cal.Scale = c.scaleFor(f)
	cal.Category = c.category
	cal.Bounds = b
	cal.Accepted = true
	return cal, nil
}

// measure computes the pixel and millimetre dimensions and the averaged
// per-axis factor. Millimetres use the interpupillary distance as the ruler.
func (c *ScaleCalibrator) measure(set *LandmarkSet) (ScaleCalibration, error) {
	if !set.Finite(CalibrationIndices...) {
		return ScaleCalibration{}, fmt.Errorf("non-finite calibration landmark: %w", ErrInvalidMeasurement)
	}
	left, err := set.LeftEyeCenter()
	if err != nil {
		return ScaleCalibration{}, err
	}
	right, err := set.RightEyeCenter()
	if err != nil {
		return ScaleCalibration{}, err
	}
	lt, _ := set.LeftTemple()
	rt, _ := set.RightTemple()
	crown, _ := set.Crown()
	chin, _ := set.Chin()

	eyePx := Distance2D(left, right)
	if !isFinite(eyePx) || eyePx <= 0 {
		return ScaleCalibration{}, fmt.Errorf("eye distance %v px: %w", eyePx, ErrInvalidMeasurement)
	}
	widthPx := Distance2D(lt, rt)
	heightPx := Distance2D(crown, chin)
	if !isFinite(widthPx) || widthPx <= 0 {
		return ScaleCalibration{}, fmt.Errorf("head width %v px: %w", widthPx, ErrInvalidMeasurement)
	}
	if !isFinite(heightPx) || heightPx <= 0 {
		return ScaleCalibration{}, fmt.Errorf("head height %v px: %w", heightPx, ErrInvalidMeasurement)
	}

	mmPerPx := c.cfg.InterpupillaryMm / eyePx
	cal := ScaleCalibration{
		HeadWidthPx:   widthPx,
		HeadHeightPx:  heightPx,
		EyeDistancePx: eyePx,
		WidthMm:       widthPx * mmPerPx,
		HeightMm:      heightPx * mmPerPx,
		DistanceMm:    c.cfg.FocalLengthPx * c.cfg.InterpupillaryMm / eyePx,
	}

	eyeFactor := eyePx / c.cfg.ReferenceEyeDistancePx
	widthFactor := cal.WidthMm / c.cfg.ReferenceHeadWidthMm
	heightFactor := cal.HeightMm / c.cfg.ReferenceHeadHeightMm
	cal.OverallScaleFactor = (eyeFactor + widthFactor + heightFactor) / 3

	if math.IsNaN(cal.OverallScaleFactor) {
		return ScaleCalibration{}, fmt.Errorf("scale factor is NaN: %w", ErrInvalidMeasurement)
	}
	return cal, nil
}

func (c *ScaleCalibrator) scaleFor(factor float64) float64 {
	return clamp(c.cfg.BaseScale*factor*c.cfg.CategoryMultiplier(c.category), c.cfg.MinScale, c.cfg.MaxScale)
}

func (c *ScaleCalibrator) bounds() FactorBounds {
	return FactorBounds{Min: c.cfg.MinFactor, Max: c.cfg.MaxFactor}
}
