package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kwv/headanchor/anchor"
	"github.com/kwv/headanchor/internal/log"
)

const (
	frameWidth  = 640
	frameHeight = 480
	tickStep    = time.Second / 30
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// face builds a full-mesh detection of an upright face whose eye midpoint is
// at (cx, cy). Its calibration factors are all 1 under the default config.
func face(t *testing.T, seq int64, cx, cy float64) *anchor.Detection {
	t.Helper()
	cfg := anchor.DefaultConfig()
	eyeDist := cfg.Calibration.ReferenceEyeDistancePx
	pxPerMm := eyeDist / cfg.Calibration.InterpupillaryMm

	pts := make([]anchor.Landmark, anchor.FaceLandmarkCount)
	for i := range pts {
		pts[i] = anchor.Landmark{X: cx + float64(i%20-10)*2, Y: cy + float64(i/20-12)*2}
	}

	half, spread := eyeDist/2, eyeDist*0.15
	for _, eye := range []struct {
		outer, inner, upper, lower int
		x, dir                     float64
	}{
		{anchor.RightEyeOuter, anchor.RightEyeInner, anchor.RightEyeUpperLid, anchor.RightEyeLowerLid, cx - half, -1},
		{anchor.LeftEyeOuter, anchor.LeftEyeInner, anchor.LeftEyeUpperLid, anchor.LeftEyeLowerLid, cx + half, 1},
	} {
		pts[eye.outer] = anchor.Landmark{X: eye.x + eye.dir*spread, Y: cy, Z: -0.05}
		pts[eye.inner] = anchor.Landmark{X: eye.x - eye.dir*spread, Y: cy, Z: -0.05}
		pts[eye.upper] = anchor.Landmark{X: eye.x, Y: cy - 2, Z: -0.05}
		pts[eye.lower] = anchor.Landmark{X: eye.x, Y: cy + 2, Z: -0.05}
	}

	pts[anchor.NoseTipIndex] = anchor.Landmark{X: cx, Y: cy + cfg.Extractor.PitchNeutral*eyeDist, Z: -0.1}
	pts[anchor.ForeheadIndex] = anchor.Landmark{X: cx, Y: cy - 0.6*eyeDist}

	heightPx := cfg.Calibration.ReferenceHeadHeightMm * pxPerMm
	pts[anchor.CrownIndex] = anchor.Landmark{X: cx, Y: cy - 0.4*heightPx}
	pts[anchor.ChinIndex] = anchor.Landmark{X: cx, Y: cy + 0.6*heightPx}

	widthPx := cfg.Calibration.ReferenceHeadWidthMm * pxPerMm
	pts[anchor.RightTempleIndex] = anchor.Landmark{X: cx - widthPx/2, Y: cy}
	pts[anchor.LeftTempleIndex] = anchor.Landmark{X: cx + widthPx/2, Y: cy}

	set, err := anchor.NewLandmarkSet(pts)
	require.NoError(t, err)
	return &anchor.Detection{Seq: seq, Landmarks: set, FrameWidth: frameWidth, FrameHeight: frameHeight}
}

// writeRecording writes `faces` face detections followed by `misses` empty
// frames and returns the file path.
func writeRecording(t *testing.T, faces, misses int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := anchor.NewRecordingWriter(f)
	for i := 0; i < faces; i++ {
		require.NoError(t, w.Write(face(t, int64(i), 320, 240)))
	}
	for i := 0; i < misses; i++ {
		require.NoError(t, w.Write(nil))
	}
	require.NoError(t, w.Flush())
	return path
}

func testConfig(subjects ...string) *anchor.Config {
	cfg := anchor.DefaultConfig()
	for _, id := range subjects {
		cfg.Subjects = append(cfg.Subjects, anchor.SubjectConfig{ID: id, Topic: "landmarks/" + id})
	}
	return &cfg
}

// newTestApp returns a quiet App configured for the given subjects, with its
// calibration cache under a temp dir.
func newTestApp(t *testing.T, subjects ...string) *App {
	t.Helper()
	a := NewApp()
	a.SetLogger(log.Discard())
	a.CalibrationCache = filepath.Join(t.TempDir(), "calibration.json")
	a.Configure(testConfig(subjects...), nil)
	return a
}

// feed queues one detection per tick and runs n ticks starting at t0.
func feed(t *testing.T, a *App, subjectID string, n int) []anchor.Output {
	t.Helper()
	var outs []anchor.Output
	for i := 0; i < n; i++ {
		a.handleDetection(subjectID, face(t, int64(i), 320, 240), nil)
		outs = append(outs, a.Tick(t0.Add(time.Duration(i)*tickStep))...)
	}
	return outs
}
