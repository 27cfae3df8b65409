package anchor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoseExtractor_NeutralFace(t *testing.T) {
	ex := NewPoseExtractor(DefaultConfig().Extractor)
	pose, err := ex.Extract(defaultFace().set(t), testFrameWidth, testFrameHeight)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, pose.Position.X, 1e-12)
	assert.InDelta(t, 180.0/480.0, pose.Position.Y, 1e-12)
	assert.InDelta(t, -0.05, pose.Position.Z, 1e-12)
	assert.InDelta(t, 0.0, pose.Euler.Yaw, 1e-12)
	assert.InDelta(t, 0.0, pose.Euler.Pitch, 1e-12)
	assert.InDelta(t, 0.0, pose.Euler.Roll, 1e-12)
	assertQuatNear(t, IdentityQuat(), pose.Rotation, 1e-12)
	assert.InDelta(t, 100.0, pose.EyeDistancePx, 1e-9)
	assert.InDelta(t, 1.0, pose.Scale.X, 1e-9)
	assert.Equal(t, pose.Scale.X, pose.Scale.Z)
}

func TestPoseExtractor_Angles(t *testing.T) {
	ex := NewPoseExtractor(DefaultConfig().Extractor)

	tests := []struct {
		name      string
		face      func() faceSpec
		wantYaw   float64
		wantPitch float64
	}{
		{"nose right", func() faceSpec { f := defaultFace(); f.noseDX = 0.1; return f }, 0.15, 0},
		{"nose left", func() faceSpec { f := defaultFace(); f.noseDX = -0.2; return f }, -0.3, 0},
		{"nose down", func() faceSpec { f := defaultFace(); f.noseDY = 0.2; return f }, 0, 0.3},
		{"nose up", func() faceSpec { f := defaultFace(); f.noseDY = -0.1; return f }, 0, -0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pose, err := ex.Extract(tt.face().set(t), testFrameWidth, testFrameHeight)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantYaw, pose.Euler.Yaw, 1e-9)
			assert.InDelta(t, tt.wantPitch, pose.Euler.Pitch, 1e-9)
			assertQuatNear(t, EulerToQuat(pose.Euler), pose.Rotation, 1e-12)
		})
	}
}

func TestPoseExtractor_Roll(t *testing.T) {
	pts := defaultFace().points()
	for _, i := range LeftEyeIndices {
		pts[i].Y += 10
	}
	s, err := NewLandmarkSet(pts)
	require.NoError(t, err)

	pose, err := NewPoseExtractor(DefaultConfig().Extractor).Extract(s, testFrameWidth, testFrameHeight)
	require.NoError(t, err)
	assert.InDelta(t, math.Atan2(10, 100), pose.Euler.Roll, 1e-12)
	assert.InDelta(t, math.Hypot(10, 100), pose.EyeDistancePx, 1e-9)
}

func TestPoseExtractor_Errors(t *testing.T) {
	ex := NewPoseExtractor(DefaultConfig().Extractor)

	nanNose := defaultFace().points()
	nanNose[NoseTipIndex].X = math.NaN()

	sameEyes := defaultFace().points()
	for _, i := range LeftEyeIndices {
		sameEyes[i] = sameEyes[RightEyeIndices[0]]
	}
	for _, i := range RightEyeIndices {
		sameEyes[i] = sameEyes[RightEyeIndices[0]]
	}

	short := defaultFace()
	short.count = 100

	tests := []struct {
		name    string
		points  []Landmark
		w, h    int
		wantErr error
	}{
		{"empty", nil, testFrameWidth, testFrameHeight, ErrLandmarksInsufficient},
		{"short mesh", short.points(), testFrameWidth, testFrameHeight, ErrLandmarksInsufficient},
		{"zero width", defaultFace().points(), 0, testFrameHeight, ErrInvalidMeasurement},
		{"negative height", defaultFace().points(), testFrameWidth, -1, ErrInvalidMeasurement},
		{"nan nose", nanNose, testFrameWidth, testFrameHeight, ErrInvalidMeasurement},
		{"zero eye distance", sameEyes, testFrameWidth, testFrameHeight, ErrInvalidMeasurement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewLandmarkSet(tt.points)
			require.NoError(t, err)
			_, err = ex.Extract(s, tt.w, tt.h)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := ex.Extract(nil, testFrameWidth, testFrameHeight)
	assert.ErrorIs(t, err, ErrLandmarksInsufficient)
}

func TestPoseExtractor_MinEyeDistance(t *testing.T) {
	cfg := DefaultConfig().Extractor
	cfg.MinEyeDistancePx = 150
	_, err := NewPoseExtractor(cfg).Extract(defaultFace().set(t), testFrameWidth, testFrameHeight)
	assert.ErrorIs(t, err, ErrInvalidMeasurement)
}
