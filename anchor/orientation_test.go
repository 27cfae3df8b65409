package anchor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func assertQuatNear(t *testing.T, want, got quat.Number, delta float64) {
	t.Helper()
	assert.InDelta(t, want.Real, got.Real, delta, "w")
	assert.InDelta(t, want.Imag, got.Imag, delta, "x")
	assert.InDelta(t, want.Jmag, got.Jmag, delta, "y")
	assert.InDelta(t, want.Kmag, got.Kmag, delta, "z")
}

func axisQuat(x, y, z, angle float64) quat.Number {
	s := math.Sin(angle / 2)
	return quat.Number{Real: math.Cos(angle / 2), Imag: x * s, Jmag: y * s, Kmag: z * s}
}

func TestEulerToQuat_SingleAxis(t *testing.T) {
	tests := []struct {
		name  string
		euler Euler
		want  quat.Number
	}{
		{"identity", Euler{}, IdentityQuat()},
		{"yaw", Euler{Yaw: 0.7}, axisQuat(0, 1, 0, 0.7)},
		{"pitch", Euler{Pitch: -0.4}, axisQuat(1, 0, 0, -0.4)},
		{"roll", Euler{Roll: 1.2}, axisQuat(0, 0, 1, 1.2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertQuatNear(t, tt.want, EulerToQuat(tt.euler), 1e-12)
		})
	}
}

func TestEulerToQuat_ComposesYawPitchRoll(t *testing.T) {
	e := Euler{Yaw: 0.5, Pitch: -0.3, Roll: 0.9}
	want := quat.Mul(quat.Mul(axisQuat(0, 1, 0, e.Yaw), axisQuat(1, 0, 0, e.Pitch)), axisQuat(0, 0, 1, e.Roll))
	assertQuatNear(t, want, EulerToQuat(e), 1e-12)
}

func TestQuatToEuler_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		e := Euler{
			Yaw:   (rng.Float64()*2 - 1) * (math.Pi - 0.01),
			Pitch: (rng.Float64()*2 - 1) * 1.4,
			Roll:  (rng.Float64()*2 - 1) * (math.Pi - 0.01),
		}
		q := EulerToQuat(e)
		require.InDelta(t, 1.0, quat.Abs(q), 1e-12)

		got := QuatToEuler(q)
		require.InDelta(t, e.Yaw, got.Yaw, 1e-9, "yaw for %+v", e)
		require.InDelta(t, e.Pitch, got.Pitch, 1e-9, "pitch for %+v", e)
		require.InDelta(t, e.Roll, got.Roll, 1e-9, "roll for %+v", e)
	}
}

func TestQuatToEuler_Degenerate(t *testing.T) {
	assert.Equal(t, Euler{}, QuatToEuler(quat.Number{}))

	// unnormalized input is accepted
	got := QuatToEuler(quat.Scale(3, EulerToQuat(Euler{Yaw: 0.25})))
	assert.InDelta(t, 0.25, got.Yaw, 1e-12)

	// gimbal lock keeps pitch at the pole
	got = QuatToEuler(EulerToQuat(Euler{Pitch: math.Pi / 2}))
	assert.InDelta(t, math.Pi/2, got.Pitch, 1e-6)
	assert.InDelta(t, 0.0, got.Roll, 1e-12)
}

func TestOrientationEstimator_UnitNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	o := NewOrientationEstimator(0.002, 0.02, 10)
	for i := 0; i < 300; i++ {
		m := quat.Number{
			Real: rng.NormFloat64(),
			Imag: rng.NormFloat64(),
			Jmag: rng.NormFloat64(),
			Kmag: rng.NormFloat64(),
		}
		got := o.Update(m)
		require.InDelta(t, 1.0, quat.Abs(got), 1e-9)
		require.InDelta(t, 1.0, quat.Abs(o.Estimate()), 1e-9)
	}
}

func TestOrientationEstimator_ZeroFallsBackToIdentity(t *testing.T) {
	o := NewOrientationEstimator(0.002, 0.02, 10)
	assert.Equal(t, IdentityQuat(), o.Estimate(), "identity before first update")

	got := o.Update(quat.Number{})
	assert.Equal(t, IdentityQuat(), got)
	assert.Equal(t, IdentityQuat(), o.Estimate())

	// the re-seeded filter continues from the identity
	next := o.Update(IdentityQuat())
	assertQuatNear(t, IdentityQuat(), next, 1e-12)
}

func TestOrientationEstimator_HemisphereAlignment(t *testing.T) {
	o := NewOrientationEstimator(0.002, 0.02, 10)
	q := EulerToQuat(Euler{Yaw: 0.3, Pitch: 0.1})
	o.Update(q)

	// -q is the same rotation; without alignment the components would average
	// toward zero
	for i := 0; i < 10; i++ {
		got := o.Update(quat.Scale(-1, q))
		require.InDelta(t, 1.0, quat.Abs(got), 1e-9)
		assertQuatNear(t, q, got, 1e-9)
	}
}

func TestOrientationEstimator_SmoothsStep(t *testing.T) {
	o := NewOrientationEstimator(0.002, 0.02, 10)
	o.Update(IdentityQuat())

	target := EulerToQuat(Euler{Yaw: 0.8})
	got := QuatToEuler(o.Update(target))
	assert.Greater(t, got.Yaw, 0.0)
	assert.Less(t, got.Yaw, 0.8)

	for i := 0; i < 500; i++ {
		o.Update(target)
	}
	assert.InDelta(t, 0.8, QuatToEuler(o.Estimate()).Yaw, 1e-3)

	o.Reset()
	assertQuatNear(t, target, o.Update(target), 1e-12)
	assert.NotNil(t, o.Component(0))
	assert.Nil(t, o.Component(4))
	assert.Len(t, o.Metrics(), 4)
}
