package anchor

import (
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
)

// Vec3 is a three-component vector.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Scale returns v multiplied by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// IsFinite reports whether every component is a finite number.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// Euler holds intrinsic Y-X-Z angles in radians. See orientation.go for the
// convention.
type Euler struct {
	Yaw   float64 `json:"yaw"`   // about Y
	Pitch float64 `json:"pitch"` // about X
	Roll  float64 `json:"roll"`  // about Z
}

// RawPose is the unfiltered measurement the extractor derives from one frame.
type RawPose struct {
	Position      Vec3        `json:"position"` // x, y normalized to [0,1]; z relative depth
	Euler         Euler       `json:"euler"`
	Rotation      quat.Number `json:"rotation"`
	Scale         Vec3        `json:"scale"`
	EyeDistancePx float64     `json:"eyeDistancePx"`
}

// PoseEstimate is the filtered pose for one processed frame. Raw keeps the
// pre-filter measurement for diagnostics.
type PoseEstimate struct {
	Position   Vec3        `json:"position"`
	Rotation   quat.Number `json:"rotation"`
	Euler      Euler       `json:"euler"`
	Scale      Vec3        `json:"scale"`
	Confidence float64     `json:"confidence"`
	Timestamp  time.Time   `json:"timestamp"`
	Frame      int         `json:"frame"`
	Raw        RawPose     `json:"raw"`
}

// RenderTransform is what the consumer applies to the asset.
type RenderTransform struct {
	Position Vec3        `json:"position"`
	Rotation quat.Number `json:"rotation"`
	Scale    Vec3        `json:"scale"`
	Visible  bool        `json:"visible"`
}

// Detection is one completed detector result. A nil Landmarks field means the
// detector found no face in the frame.
type Detection struct {
	Seq         int64        `json:"seq"`
	Landmarks   *LandmarkSet `json:"landmarks"`
	FrameWidth  int          `json:"frameWidth"`
	FrameHeight int          `json:"frameHeight"`
	CapturedAt  time.Time    `json:"capturedAt"`
	CompletedAt time.Time    `json:"completedAt"`
}

// Output is emitted by the pipeline once per update call.
type Output struct {
	SubjectID string          `json:"subjectId"`
	SessionID string          `json:"sessionId"`
	Pose      PoseEstimate    `json:"pose"`
	Transform RenderTransform `json:"transform"`
	State     TrackingState   `json:"state"`
	Measured  bool            `json:"measured"` // false when the tick had no usable detection
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// clamp limits a value to a range
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
