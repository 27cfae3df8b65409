package anchor

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Euler convention
//
// All Euler angles in this package are intrinsic Y-X-Z: yaw about Y first,
// then pitch about the rotated X, then roll about the twice-rotated Z. The
// equivalent quaternion is q = qYaw · qPitch · qRoll. Angles are radians,
// positive counter-clockwise when looking down the axis toward the origin.
// Pitch is recovered with asin and is therefore confined to [-π/2, π/2];
// round trips are exact away from the ±π/2 gimbal lock, where roll is folded
// into yaw.

// zeroMagnitude is the quaternion length below which renormalization is
// abandoned in favour of the identity.
const zeroMagnitude = 1e-9

// IdentityQuat returns the unit quaternion {1, 0, 0, 0}.
func IdentityQuat() quat.Number {
	return quat.Number{Real: 1}
}

// EulerToQuat converts intrinsic Y-X-Z angles to a unit quaternion.
func EulerToQuat(e Euler) quat.Number {
	c1, s1 := math.Cos(e.Pitch/2), math.Sin(e.Pitch/2)
	c2, s2 := math.Cos(e.Yaw/2), math.Sin(e.Yaw/2)
	c3, s3 := math.Cos(e.Roll/2), math.Sin(e.Roll/2)

	return quat.Number{
		Real: c1*c2*c3 + s1*s2*s3,
		Imag: s1*c2*c3 + c1*s2*s3,
		Jmag: c1*s2*c3 - s1*c2*s3,
		Kmag: c1*c2*s3 - s1*s2*c3,
	}
}

// QuatToEuler converts a quaternion to intrinsic Y-X-Z angles. The input
// does not need to be normalized; a zero quaternion yields zero angles.
func QuatToEuler(q quat.Number) Euler {
	q, ok := normalizeQuat(q)
	if !ok {
		return Euler{}
	}
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	m11 := 1 - 2*(y*y+z*z)
	m13 := 2 * (x*z + w*y)
	m21 := 2 * (x*y + w*z)
	m22 := 1 - 2*(x*x+z*z)
	m23 := 2 * (y*z - w*x)
	m31 := 2 * (x*z - w*y)
	m33 := 1 - 2*(x*x+y*y)

	e := Euler{Pitch: math.Asin(-clamp(m23, -1, 1))}
	if math.Abs(m23) < 0.9999999 {
		e.Yaw = math.Atan2(m13, m33)
		e.Roll = math.Atan2(m21, m22)
	} else {
		e.Yaw = math.Atan2(-m31, m11)
	}
	return e
}

// normalizeQuat divides q by its magnitude. It returns false when the
// magnitude is numerically zero or not finite.
func normalizeQuat(q quat.Number) (quat.Number, bool) {
	n := quat.Abs(q)
	if !isFinite(n) || n < zeroMagnitude {
		return quat.Number{}, false
	}
	return quat.Scale(1/n, q), true
}

func quatDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// OrientationEstimator filters a rotation as four independent scalar
// estimators over the quaternion components, renormalizing after each update.
type OrientationEstimator struct {
	w, x, y, z *ScalarEstimator
}

// NewOrientationEstimator creates an orientation estimator sharing q and r
// across components.
func NewOrientationEstimator(q, r float64, historySize int) *OrientationEstimator {
	return &OrientationEstimator{
		w: NewScalarEstimator(q, r, historySize),
		x: NewScalarEstimator(q, r, historySize),
		y: NewScalarEstimator(q, r, historySize),
		z: NewScalarEstimator(q, r, historySize),
	}
}

// Update filters a measured rotation and returns the unit-length estimate.
//
// q and -q describe the same rotation, so the measurement is first flipped
// into the hemisphere of the current estimate. If the filtered components
// collapse to zero length the filter is re-seeded with the identity.
func (o *OrientationEstimator) Update(m quat.Number) quat.Number {
	if o.w.Initialized() && quatDot(m, o.current()) < 0 {
		m = quat.Scale(-1, m)
	}

	raw := quat.Number{
		Real: o.w.Update(m.Real),
		Imag: o.x.Update(m.Imag),
		Jmag: o.y.Update(m.Jmag),
		Kmag: o.z.Update(m.Kmag),
	}

	q, ok := normalizeQuat(raw)
	if !ok {
		o.seed(IdentityQuat())
		return IdentityQuat()
	}
	return q
}

// Estimate returns the normalized current estimate, or the identity before
// the first update.
func (o *OrientationEstimator) Estimate() quat.Number {
	q, ok := normalizeQuat(o.current())
	if !ok {
		return IdentityQuat()
	}
	return q
}

// SetParameters re-tunes all four components.
func (o *OrientationEstimator) SetParameters(q, r float64) {
	for _, e := range o.components() {
		e.SetParameters(q, r)
	}
}

// Reset clears all four components.
func (o *OrientationEstimator) Reset() {
	for _, e := range o.components() {
		e.Reset()
	}
}

// Metrics returns per-component metrics in W, X, Y, Z order.
func (o *OrientationEstimator) Metrics() [4]EstimatorMetrics {
	return [4]EstimatorMetrics{o.w.Metrics(), o.x.Metrics(), o.y.Metrics(), o.z.Metrics()}
}

// Component returns the estimator for component 0 (W), 1 (X), 2 (Y) or 3 (Z).
func (o *OrientationEstimator) Component(i int) *ScalarEstimator {
	c := o.components()
	if i < 0 || i >= len(c) {
		return nil
	}
	return c[i]
}

func (o *OrientationEstimator) components() [4]*ScalarEstimator {
	return [4]*ScalarEstimator{o.w, o.x, o.y, o.z}
}

func (o *OrientationEstimator) current() quat.Number {
	return quat.Number{Real: o.w.Estimate(), Imag: o.x.Estimate(), Jmag: o.y.Estimate(), Kmag: o.z.Estimate()}
}

func (o *OrientationEstimator) seed(q quat.Number) {
	o.Reset()
	o.w.Update(q.Real)
	o.x.Update(q.Imag)
	o.y.Update(q.Jmag)
	o.z.Update(q.Kmag)
}
