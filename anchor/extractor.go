package anchor

import (
	"fmt"
	"math"
)

// extractorIndices are every landmark the extractor reads.
var extractorIndices = append(append([]int{NoseTipIndex, ForeheadIndex}, LeftEyeIndices...), RightEyeIndices...)

// PoseExtractor derives a raw head pose from a single landmark set. It keeps no
// state between frames.
type PoseExtractor struct {
	cfg ExtractorConfig
}

// NewPoseExtractor creates an extractor with the given tuning.
func NewPoseExtractor(cfg ExtractorConfig) *PoseExtractor {
	return &PoseExtractor{cfg: cfg}
}

// Config returns the extractor tuning.
func (e *PoseExtractor) Config() ExtractorConfig {
	return e.cfg
}

// Extract computes position, rotation and scale for one frame.
//
// Position x and y are the forehead point normalized by frame size; z is the
// mean eye depth. Yaw and pitch come from the nose offset relative to the eye
// midpoint, measured in eye distances. Roll is the angle of the line from the
// subject's right eye to their left eye.
func (e *PoseExtractor) Extract(set *LandmarkSet, frameWidth, frameHeight int) (RawPose, error) {
	if set.Len() == 0 {
		return RawPose{}, fmt.Errorf("no landmarks: %w", ErrLandmarksInsufficient)
	}
	if !set.Has(extractorIndices...) {
		return RawPose{}, fmt.Errorf("pose needs index %d, have %d: %w", maxIndex(extractorIndices), set.Len(), ErrLandmarksInsufficient)
	}
	if frameWidth <= 0 || frameHeight <= 0 {
		return RawPose{}, fmt.Errorf("frame size %dx%d: %w", frameWidth, frameHeight, ErrInvalidMeasurement)
	}
	if !set.Finite(extractorIndices...) {
		return RawPose{}, fmt.Errorf("non-finite landmark: %w", ErrInvalidMeasurement)
	}

	left, err := set.LeftEyeCenter()
	if err != nil {
		return RawPose{}, err
	}
	right, err := set.RightEyeCenter()
	if err != nil {
		return RawPose{}, err
	}
	nose, err := set.NoseTip()
	if err != nil {
		return RawPose{}, err
	}
	forehead, err := set.Forehead()
	if err != nil {
		return RawPose{}, err
	}

	eyeDist := Distance2D(left, right)
	if !isFinite(eyeDist) || eyeDist < e.cfg.MinEyeDistancePx || eyeDist <= 0 {
		return RawPose{}, fmt.Errorf("eye distance %.3fpx below %.3fpx: %w", eyeDist, e.cfg.MinEyeDistancePx, ErrInvalidMeasurement)
	}

	midX := (left.X + right.X) / 2
	midY := (left.Y + right.Y) / 2

	euler := Euler{
		Yaw:   (nose.X - midX) / eyeDist * e.cfg.YawSensitivity,
		Pitch: ((nose.Y-midY)/eyeDist - e.cfg.PitchNeutral) * e.cfg.PitchSensitivity,
		Roll:  math.Atan2(left.Y-right.Y, left.X-right.X),
	}

	s := eyeDist * e.cfg.ScaleSensitivity
	pose := RawPose{
		Position: Vec3{
			X: forehead.X / float64(frameWidth),
			Y: forehead.Y / float64(frameHeight),
			Z: (left.Z + right.Z) / 2,
		},
		Euler:         euler,
		Rotation:      EulerToQuat(euler),
		Scale:         Vec3{X: s, Y: s, Z: s},
		EyeDistancePx: eyeDist,
	}

	if !pose.Position.IsFinite() || !pose.Scale.IsFinite() ||
		!isFinite(euler.Yaw) || !isFinite(euler.Pitch) || !isFinite(euler.Roll) {
		return RawPose{}, fmt.Errorf("non-finite pose: %w", ErrInvalidMeasurement)
	}
	return pose, nil
}
