package anchor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blankSet returns n landmarks at the origin. Identical frames never jitter.
func blankSet(t *testing.T, n int) *LandmarkSet {
	t.Helper()
	s, err := NewLandmarkSet(make([]Landmark, n))
	require.NoError(t, err)
	return s
}

func TestConfidenceScorer_Degenerate(t *testing.T) {
	cfg := DefaultConfig().Confidence
	tests := []struct {
		name string
		in   ConfidenceInput
	}{
		{"no landmarks", ConfidenceInput{EyeDistancePx: 100}},
		{"zero eye distance", ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount)}},
		{"negative eye distance", ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount), EyeDistancePx: -5}},
		{"nan eye distance", ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount), EyeDistancePx: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfidenceScorer(cfg, 0)
			assert.Equal(t, 0.0, c.Score(tt.in))
		})
	}
}

func TestConfidenceScorer_CountTiers(t *testing.T) {
	cfg := DefaultConfig().Confidence
	tests := []struct {
		n    int
		want float64
	}{
		{MaxLandmarks, 1.0},
		{FaceLandmarkCount, 1.0},
		{430, 0.9},
		{422, 0.9},
		{421, 0.6},
		{300, 0.6},
		{234, 0.6},
		{233, 0.3},
		{1, 0.3},
	}
	for _, tt := range tests {
		c := NewConfidenceScorer(cfg, 0)
		got := c.Score(ConfidenceInput{Landmarks: blankSet(t, tt.n), EyeDistancePx: 100})
		assert.InDelta(t, tt.want, got, 1e-12, "%d landmarks", tt.n)
	}
}

func TestConfidenceScorer_ComfortBand(t *testing.T) {
	cfg := DefaultConfig().Confidence
	tests := []struct {
		eyePx float64
		want  float64
	}{
		{20, 0.5},
		{40, 1},
		{250, 1},
		{400, 1},
		{800, 0.5},
	}
	for _, tt := range tests {
		c := NewConfidenceScorer(cfg, 0)
		got := c.Score(ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount), EyeDistancePx: tt.eyePx})
		assert.InDelta(t, tt.want, got, 1e-12, "%.0f px", tt.eyePx)
	}
}

func TestConfidenceScorer_Ramp(t *testing.T) {
	cfg := DefaultConfig().Confidence
	tests := []struct {
		frames int
		want   float64
	}{
		{0, 0.1},
		{4, 0.5},
		{9, 1},
		{20, 1},
		{-3, 0.1},
	}
	for _, tt := range tests {
		c := NewConfidenceScorer(cfg, 10)
		got := c.Score(ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount), EyeDistancePx: 100, FramesSinceStart: tt.frames})
		assert.InDelta(t, tt.want, got, 1e-12, "frame %d", tt.frames)
	}
}

func TestConfidenceScorer_Blend(t *testing.T) {
	cfg := DefaultConfig().Confidence

	t.Run("large deviation uses slow alpha", func(t *testing.T) {
		c := NewConfidenceScorer(cfg, 0)
		require.Equal(t, 1.0, c.Score(ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount), EyeDistancePx: 100}))
		got := c.Score(ConfidenceInput{Landmarks: blankSet(t, 100), EyeDistancePx: 100})
		assert.InDelta(t, 0.3*0.3+0.7*1, got, 1e-12)
	})

	t.Run("small deviation uses fast alpha", func(t *testing.T) {
		c := NewConfidenceScorer(cfg, 0)
		c.Score(ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount), EyeDistancePx: 100})
		got := c.Score(ConfidenceInput{Landmarks: blankSet(t, 430), EyeDistancePx: 100})
		assert.InDelta(t, 0.7*0.9+0.3*1, got, 1e-12)
	})

	t.Run("average tracks raw scores", func(t *testing.T) {
		c := NewConfidenceScorer(cfg, 0)
		assert.Equal(t, 0.0, c.Average())
		c.Score(ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount), EyeDistancePx: 100})
		c.Score(ConfidenceInput{Landmarks: blankSet(t, 100), EyeDistancePx: 100})
		assert.InDelta(t, 0.65, c.Average(), 1e-12)
	})
}

func TestConfidenceScorer_Jitter(t *testing.T) {
	cfg := DefaultConfig().Confidence
	c := NewConfidenceScorer(cfg, 0)

	pts := defaultFace().points()
	first, err := NewLandmarkSet(pts)
	require.NoError(t, err)
	require.Equal(t, 1.0, c.Score(ConfidenceInput{Landmarks: first, EyeDistancePx: 100}))

	// a still face is not penalized
	assert.InDelta(t, 1.0, c.Score(ConfidenceInput{Landmarks: first, EyeDistancePx: 100}), 1e-12)

	// a 10 px jump is 0.1 eye distances: factor 1/(1 + 10*0.08)
	moved, err := NewLandmarkSet(shifted(pts, 10, 0))
	require.NoError(t, err)
	raw := 1 / (1 + 10*0.08)
	got := c.Score(ConfidenceInput{Landmarks: moved, EyeDistancePx: 100})
	assert.InDelta(t, 0.3*raw+0.7*1, got, 1e-9)

	// a small drift stays within tolerance
	drift, err := NewLandmarkSet(shifted(pts, 11, 0))
	require.NoError(t, err)
	c.Reset()
	c.Score(ConfidenceInput{Landmarks: moved, EyeDistancePx: 100})
	assert.InDelta(t, 1.0, c.Score(ConfidenceInput{Landmarks: drift, EyeDistancePx: 100}), 1e-12)
}

func TestConfidenceScorer_Reset(t *testing.T) {
	cfg := DefaultConfig().Confidence
	c := NewConfidenceScorer(cfg, 0)
	c.Score(ConfidenceInput{Landmarks: blankSet(t, FaceLandmarkCount), EyeDistancePx: 100})
	c.Reset()
	assert.Equal(t, 0.0, c.Average())

	// no blending against the cleared window
	got := c.Score(ConfidenceInput{Landmarks: blankSet(t, 100), EyeDistancePx: 100})
	assert.InDelta(t, 0.3, got, 1e-12)
}
