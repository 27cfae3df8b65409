package anchor

// Vector3Estimator filters a 3-vector with one ScalarEstimator per axis.
// Cross-axis correlation is not modelled.
type Vector3Estimator struct {
	x, y, z *ScalarEstimator
}

// NewVector3Estimator creates a vector estimator sharing q and r across axes.
func NewVector3Estimator(q, r float64, historySize int) *Vector3Estimator {
	return &Vector3Estimator{
		x: NewScalarEstimator(q, r, historySize),
		y: NewScalarEstimator(q, r, historySize),
		z: NewScalarEstimator(q, r, historySize),
	}
}

// Update filters all three axes and returns the new estimate.
func (v *Vector3Estimator) Update(m Vec3) Vec3 {
	return Vec3{
		X: v.x.Update(m.X),
		Y: v.y.Update(m.Y),
		Z: v.z.Update(m.Z),
	}
}

// Estimate returns the current estimate without updating.
func (v *Vector3Estimator) Estimate() Vec3 {
	return Vec3{X: v.x.Estimate(), Y: v.y.Estimate(), Z: v.z.Estimate()}
}

// Initialized reports whether every axis has been seeded.
func (v *Vector3Estimator) Initialized() bool {
	return v.x.Initialized() && v.y.Initialized() && v.z.Initialized()
}

// SetParameters re-tunes all axes.
func (v *Vector3Estimator) SetParameters(q, r float64) {
	v.x.SetParameters(q, r)
	v.y.SetParameters(q, r)
	v.z.SetParameters(q, r)
}

// Reset clears all axes.
func (v *Vector3Estimator) Reset() {
	v.x.Reset()
	v.y.Reset()
	v.z.Reset()
}

// Axis returns the estimator for axis 0 (X), 1 (Y) or 2 (Z).
func (v *Vector3Estimator) Axis(i int) *ScalarEstimator {
	switch i {
	case 0:
		return v.x
	case 1:
		return v.y
	case 2:
		return v.z
	}
	return nil
}

// Metrics returns per-axis metrics in X, Y, Z order.
func (v *Vector3Estimator) Metrics() [3]EstimatorMetrics {
	return [3]EstimatorMetrics{v.x.Metrics(), v.y.Metrics(), v.z.Metrics()}
}
