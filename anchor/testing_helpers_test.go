package anchor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testFrameWidth  = 640
	testFrameHeight = 480
	frameInterval   = time.Second / 30
)

// faceSpec describes a synthetic upright face. The defaults produce a face
// whose calibration factors are all exactly 1 under DefaultConfig.
type faceSpec struct {
	cx, cy   float64 // midpoint between the eye centres, pixels
	eyeDist  float64 // distance between eye centres, pixels
	noseDX   float64 // nose offset from the neutral position, in eye distances
	noseDY   float64
	heightMm float64 // crown to chin
	widthMm  float64 // temple to temple
	count    int     // number of landmarks; 0 means a full mesh
}

func defaultFace() faceSpec {
	cal := DefaultConfig().Calibration
	return faceSpec{
		cx:       320,
		cy:       240,
		eyeDist:  cal.ReferenceEyeDistancePx,
		heightMm: cal.ReferenceHeadHeightMm,
		widthMm:  cal.ReferenceHeadWidthMm,
	}
}

// points builds the landmark slice. Unused indices sit on a small grid around
// the face so the set has a sensible bounding box.
func (f faceSpec) points() []Landmark {
	n := f.count
	if n == 0 {
		n = FaceLandmarkCount
	}
	pts := make([]Landmark, n)
	for i := range pts {
		pts[i] = Landmark{
			X: f.cx + float64(i%20-10)*2,
			Y: f.cy + float64(i/20-12)*2,
		}
	}
	set := func(i int, x, y, z float64) {
		if i < n {
			pts[i] = Landmark{X: x, Y: y, Z: z}
		}
	}

	ipd := DefaultConfig().Calibration.InterpupillaryMm
	pxPerMm := f.eyeDist / ipd
	half := f.eyeDist / 2
	spread := f.eyeDist * 0.15

	// eye groups average to their centres
	for _, eye := range []struct {
		outer, inner, upper, lower int
		x, dir                     float64
	}{
		{RightEyeOuter, RightEyeInner, RightEyeUpperLid, RightEyeLowerLid, f.cx - half, -1},
		{LeftEyeOuter, LeftEyeInner, LeftEyeUpperLid, LeftEyeLowerLid, f.cx + half, 1},
	} {
		set(eye.outer, eye.x+eye.dir*spread, f.cy, -0.05)
		set(eye.inner, eye.x-eye.dir*spread, f.cy, -0.05)
		set(eye.upper, eye.x, f.cy-2, -0.05)
		set(eye.lower, eye.x, f.cy+2, -0.05)
	}

	neutral := DefaultConfig().Extractor.PitchNeutral
	set(NoseTipIndex, f.cx+f.noseDX*f.eyeDist, f.cy+(neutral+f.noseDY)*f.eyeDist, -0.1)
	set(ForeheadIndex, f.cx, f.cy-0.6*f.eyeDist, 0)

	heightPx := f.heightMm * pxPerMm
	set(CrownIndex, f.cx, f.cy-0.4*heightPx, 0)
	set(ChinIndex, f.cx, f.cy+0.6*heightPx, 0)

	widthPx := f.widthMm * pxPerMm
	set(RightTempleIndex, f.cx-widthPx/2, f.cy, 0)
	set(LeftTempleIndex, f.cx+widthPx/2, f.cy, 0)
	return pts
}

func (f faceSpec) set(t *testing.T) *LandmarkSet {
	t.Helper()
	s, err := NewLandmarkSet(f.points())
	require.NoError(t, err)
	return s
}

func (f faceSpec) detection(t *testing.T, seq int64) *Detection {
	t.Helper()
	return &Detection{
		Seq:         seq,
		Landmarks:   f.set(t),
		FrameWidth:  testFrameWidth,
		FrameHeight: testFrameHeight,
	}
}

// shifted returns a copy of pts translated by (dx, dy).
func shifted(pts []Landmark, dx, dy float64) []Landmark {
	out := make([]Landmark, len(pts))
	for i, p := range pts {
		out[i] = Landmark{X: p.X + dx, Y: p.Y + dy, Z: p.Z}
	}
	return out
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Subjects = []SubjectConfig{{ID: "head", Topic: "landmarks/head"}}
	return &cfg
}
