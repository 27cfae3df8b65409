package anchor

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ConfidenceInput is everything the scorer looks at for one frame.
type ConfidenceInput struct {
	Landmarks        *LandmarkSet
	EyeDistancePx    float64
	FramesSinceStart int
}

// ConfidenceScorer rates how trustworthy the current frame's pose is. The
// score only gates visibility; it never feeds back into the filters.
type ConfidenceScorer struct {
	cfg                 ConfidenceConfig
	stabilizationFrames int
	history             *Ring[float64]
	previous            []Landmark
}

// NewConfidenceScorer creates a scorer. stabilizationFrames is the warm-up
// length over which the score ramps up to full weight.
func NewConfidenceScorer(cfg ConfidenceConfig, stabilizationFrames int) *ConfidenceScorer {
	size := cfg.HistorySize
	if size <= 0 {
		size = 10
	}
	return &ConfidenceScorer{
		cfg:                 cfg,
		stabilizationFrames: stabilizationFrames,
		history:             NewRing[float64](size),
	}
}

// Score returns the blended confidence in [0, 1] for one frame.
func (c *ConfidenceScorer) Score(in ConfidenceInput) float64 {
	raw := c.countFactor(in.Landmarks) *
		c.distanceFactor(in.EyeDistancePx) *
		c.jitterFactor(in.Landmarks, in.EyeDistancePx) *
		c.rampFactor(in.FramesSinceStart)
	if !isFinite(raw) {
		raw = 0
	}
	raw = clamp(raw, 0, 1)

	blended := raw
	if c.history.Len() > 0 {
		avg := c.Average()
		alpha := c.cfg.FastAlpha
		if math.Abs(raw-avg) > c.cfg.DeviationThreshold {
			alpha = c.cfg.SlowAlpha
		}
		blended = alpha*raw + (1-alpha)*avg
	}
	c.history.Push(raw)

	return clamp(blended, 0, 1)
}

// Average returns the mean of the raw scores in the rolling window, or 0 when
// the window is empty.
func (c *ConfidenceScorer) Average() float64 {
	if c.history.Len() == 0 {
		return 0
	}
	return stat.Mean(c.history.Slice(), nil)
}

// Reset clears the rolling window and the previous-frame jitter sample.
func (c *ConfidenceScorer) Reset() {
	c.history.Clear()
	c.previous = nil
}

func (c *ConfidenceScorer) countFactor(set *LandmarkSet) float64 {
	n := set.Len()
	switch {
	case n >= FaceLandmarkCount:
		return 1.0
	case n*10 >= FaceLandmarkCount*9:
		return 0.9
	case n*2 >= FaceLandmarkCount:
		return 0.6
	case n > 0:
		return 0.3
	default:
		return 0
	}
}

// distanceFactor penalizes faces outside the comfortable eye-distance band by
// the ratio of how far outside they are.
func (c *ConfidenceScorer) distanceFactor(eyePx float64) float64 {
	if !isFinite(eyePx) || eyePx <= 0 {
		return 0
	}
	switch {
	case eyePx < c.cfg.MinComfortPx:
		return eyePx / c.cfg.MinComfortPx
	case c.cfg.MaxComfortPx > 0 && eyePx > c.cfg.MaxComfortPx:
		return c.cfg.MaxComfortPx / eyePx
	default:
		return 1
	}
}

// jitterFactor compares the sampled landmarks with the previous frame. The
// first frame, and frames missing any sample point, are not penalized.
func (c *ConfidenceScorer) jitterFactor(set *LandmarkSet, eyePx float64) float64 {
	if !set.Finite(JitterSampleIndices...) {
		c.previous = nil
		return 1
	}
	current := make([]Landmark, len(JitterSampleIndices))
	for i, idx := range JitterSampleIndices {
		current[i], _ = set.At(idx)
	}
	previous := c.previous
	c.previous = current

	if previous == nil || !isFinite(eyePx) || eyePx <= 0 {
		return 1
	}

	var total float64
	for i := range current {
		total += Distance2D(current[i], previous[i])
	}
	jitter := total / float64(len(current)) / eyePx

	excess := jitter - c.cfg.JitterTolerance
	if excess <= 0 {
		return 1
	}
	return 1 / (1 + c.cfg.JitterPenalty*excess)
}

func (c *ConfidenceScorer) rampFactor(frames int) float64 {
	if c.stabilizationFrames <= 0 {
		return 1
	}
	if frames < 0 {
		frames = 0
	}
	return math.Min(1, float64(frames+1)/float64(c.stabilizationFrames))
}
