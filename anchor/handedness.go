package anchor

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Handedness converts detector space into render space. Detector space has x
// to the right, y down and z away from the camera in image coordinates; render
// space is right-handed with y up and z toward the viewer. When the camera
// feed is a selfie view the x axis is mirrored as well.
//
// All three conversions apply the same reflection S = diag(mx, -1, -1) where
// mx is -1 for a mirrored feed and +1 otherwise.
type Handedness struct {
	MirrorX bool
}

// mx returns the x-axis sign of the reflection.
func (h Handedness) mx() float64 {
	if h.MirrorX {
		return -1
	}
	return 1
}

// Position maps a detector-space offset to render space: (mx·x, -y, -z).
func (h Handedness) Position(v Vec3) Vec3 {
	return Vec3{X: h.mx() * v.X, Y: -v.Y, Z: -v.Z}
}

// Rotation conjugates q by the reflection: q' = (w, det(S)·S·v).
// det(S) = mx, so the result is (w, x, -mx·y, -mx·z).
func (h Handedness) Rotation(q quat.Number) quat.Number {
	mx := h.mx()
	return quat.Number{
		Real: q.Real,
		Imag: q.Imag,
		Jmag: -mx * q.Jmag,
		Kmag: -mx * q.Kmag,
	}
}

// Scale mirrors the x scale for a mirrored feed: (mx·sx, sy, sz).
func (h Handedness) Scale(s Vec3) Vec3 {
	return Vec3{X: h.mx() * s.X, Y: s.Y, Z: s.Z}
}

// WrapAngle normalizes an angle in radians to the range [-π, π).
func WrapAngle(rad float64) float64 {
	rad = math.Mod(rad+math.Pi, 2*math.Pi)
	if rad < 0 {
		rad += 2 * math.Pi
	}
	return rad - math.Pi
}
