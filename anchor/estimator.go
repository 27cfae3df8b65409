package anchor

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Numerical stability constants, not user-tunable.
const (
	// MinMeasurementNoise is the floor applied to R so the gain never divides by zero.
	MinMeasurementNoise = 1e-9
	// InitialCovariance is the error covariance of a freshly reset estimator.
	InitialCovariance = 1.0
	// DefaultHistorySize is the ring capacity used when none is configured.
	DefaultHistorySize = 30
)

// Sample is one entry of an estimator's diagnostic history.
type Sample struct {
	Measurement float64 `json:"measurement"`
	Estimate    float64 `json:"estimate"`
	Innovation  float64 `json:"innovation"`
}

// EstimatorMetrics summarises the current filter state.
type EstimatorMetrics struct {
	Gain             float64 `json:"gain"`
	Covariance       float64 `json:"covariance"`
	NoiseRatio       float64 `json:"noiseRatio"` // Q/R
	InnovationStdDev float64 `json:"innovationStdDev"`
	Samples          int     `json:"samples"`
}

// ScalarEstimator is a one-dimensional recursive (Kalman) filter over a
// random-walk state model.
//
//	predict:  P = P + Q
//	gain:     K = P / (P + R)
//	update:   x = x + K(z - x)
//	          P = (1 - K) P
//
// The first update after construction or Reset passes the measurement through
// unfiltered.
type ScalarEstimator struct {
	estimate    float64
	p           float64
	k           float64
	q           float64
	r           float64
	initialized bool
	history     *Ring[Sample]
}

// NewScalarEstimator creates an estimator with process noise q, measurement
// noise r and a diagnostic history of historySize samples.
func NewScalarEstimator(q, r float64, historySize int) *ScalarEstimator {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	e := &ScalarEstimator{
		p:       InitialCovariance,
		history: NewRing[Sample](historySize),
	}
	e.SetParameters(q, r)
	return e
}

// Update folds a measurement into the estimate and returns the new estimate.
// Non-finite measurements are dropped.
func (e *ScalarEstimator) Update(measurement float64) float64 {
	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return e.estimate
	}

	if !e.initialized {
		e.estimate = measurement
		e.initialized = true
		e.history.Push(Sample{Measurement: measurement, Estimate: measurement})
		return e.estimate
	}

	e.p += e.q
	e.k = e.p / (e.p + e.r)
	innovation := measurement - e.estimate
	e.estimate += e.k * innovation
	e.p = (1 - e.k) * e.p
	if e.p < 0 {
		e.p = 0
	}

	e.history.Push(Sample{Measurement: measurement, Estimate: e.estimate, Innovation: innovation})
	return e.estimate
}

// SetParameters re-tunes the filter at runtime. Q is floored at zero and R at
// MinMeasurementNoise.
func (e *ScalarEstimator) SetParameters(q, r float64) {
	if math.IsNaN(q) || q < 0 {
		q = 0
	}
	if math.IsNaN(r) || r < MinMeasurementNoise {
		r = MinMeasurementNoise
	}
	e.q = q
	e.r = r
}

// Parameters returns the current process and measurement noise.
func (e *ScalarEstimator) Parameters() (q, r float64) {
	return e.q, e.r
}

// Reset returns the estimator to its uninitialized state.
func (e *ScalarEstimator) Reset() {
	e.estimate = 0
	e.p = InitialCovariance
	e.k = 0
	e.initialized = false
	e.history.Clear()
}

// Estimate returns the current estimate.
func (e *ScalarEstimator) Estimate() float64 {
	return e.estimate
}

// Initialized reports whether at least one measurement has been accepted since
// the last reset.
func (e *ScalarEstimator) Initialized() bool {
	return e.initialized
}

// Covariance returns the current error covariance P.
func (e *ScalarEstimator) Covariance() float64 {
	return e.p
}

// History returns the recorded samples, oldest first.
func (e *ScalarEstimator) History() []Sample {
	return e.history.Slice()
}

// Metrics returns gain, covariance, Q/R and the standard deviation of the
// innovations currently held in the history.
func (e *ScalarEstimator) Metrics() EstimatorMetrics {
	m := EstimatorMetrics{
		Gain:       e.k,
		Covariance: e.p,
		NoiseRatio: e.q / e.r,
		Samples:    e.history.Len(),
	}
	if e.history.Len() >= 2 {
		innovations := make([]float64, e.history.Len())
		for i := range innovations {
			innovations[i] = e.history.At(i).Innovation
		}
		m.InnovationStdDev = stat.StdDev(innovations, nil)
	}
	return m
}
