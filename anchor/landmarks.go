package anchor

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Face mesh sizes. A full mesh has FaceLandmarkCount points; detectors with
// iris refinement append ten more.
const (
	FaceLandmarkCount = 468
	MaxLandmarks      = 478
)

// Face mesh landmark indices used by the extractor and calibrator.
// "Left" and "Right" are the subject's own left and right.
const (
	NoseTipIndex      = 1
	CrownIndex        = 10
	ForeheadIndex     = 151
	ChinIndex         = 152
	RightTempleIndex  = 127
	LeftTempleIndex   = 356
	RightEyeOuter     = 33
	RightEyeInner     = 133
	RightEyeUpperLid  = 159
	RightEyeLowerLid  = 145
	LeftEyeOuter      = 263
	LeftEyeInner      = 362
	LeftEyeUpperLid   = 386
	LeftEyeLowerLid   = 374
	MouthRightCorner  = 61
	MouthLeftCorner   = 291
	ChinUnderlipIndex = 199
)

// Named landmark groups.
var (
	RightEyeIndices = []int{RightEyeOuter, RightEyeInner, RightEyeUpperLid, RightEyeLowerLid}
	LeftEyeIndices  = []int{LeftEyeInner, LeftEyeOuter, LeftEyeUpperLid, LeftEyeLowerLid}

	// JitterSampleIndices is the subset compared frame to frame when scoring
	// jitter: nose, crown, eye corners, mouth corners and chin.
	JitterSampleIndices = []int{
		NoseTipIndex, CrownIndex, RightEyeOuter, LeftEyeOuter,
		MouthRightCorner, MouthLeftCorner, ChinUnderlipIndex, ChinIndex,
	}

	// CalibrationIndices are the points the scale calibrator reads.
	CalibrationIndices = []int{
		RightEyeOuter, RightEyeInner, RightEyeUpperLid, RightEyeLowerLid,
		LeftEyeOuter, LeftEyeInner, LeftEyeUpperLid, LeftEyeLowerLid,
		RightTempleIndex, LeftTempleIndex, CrownIndex, ChinIndex,
	}
)

// Landmark is one detector keypoint: pixel position plus relative depth.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Point returns the 2D image-plane position.
func (l Landmark) Point() orb.Point {
	return orb.Point{l.X, l.Y}
}

// IsFinite reports whether all three coordinates are finite.
func (l Landmark) IsFinite() bool {
	return isFinite(l.X) && isFinite(l.Y) && isFinite(l.Z)
}

// Distance2D is the image-plane distance between two landmarks in pixels.
func Distance2D(a, b Landmark) float64 {
	return planar.Distance(a.Point(), b.Point())
}

// LandmarkSet is the fixed-capacity, immutable landmark container for one
// frame. Construct it with NewLandmarkSet; the count is validated once there
// and the accessors below only check indices against it.
type LandmarkSet struct {
	points [MaxLandmarks]Landmark
	n      int
}

// NewLandmarkSet copies points into a new set. Sets larger than MaxLandmarks
// are rejected.
func NewLandmarkSet(points []Landmark) (*LandmarkSet, error) {
	if len(points) > MaxLandmarks {
		return nil, fmt.Errorf("%d landmarks exceeds capacity %d: %w", len(points), MaxLandmarks, ErrInvalidMeasurement)
	}
	s := &LandmarkSet{n: len(points)}
	copy(s.points[:], points)
	return s, nil
}

// Len returns the number of landmarks supplied by the detector.
func (s *LandmarkSet) Len() int {
	if s == nil {
		return 0
	}
	return s.n
}

// Complete reports whether the set holds a full face mesh.
func (s *LandmarkSet) Complete() bool {
	return s.Len() >= FaceLandmarkCount
}

// Has reports whether every index is present in the set.
func (s *LandmarkSet) Has(indices ...int) bool {
	for _, i := range indices {
		if i < 0 || i >= s.Len() {
			return false
		}
	}
	return true
}

// At returns landmark i and whether it exists.
func (s *LandmarkSet) At(i int) (Landmark, bool) {
	if !s.Has(i) {
		return Landmark{}, false
	}
	return s.points[i], true
}

// Points returns a copy of the supplied landmarks.
func (s *LandmarkSet) Points() []Landmark {
	out := make([]Landmark, s.Len())
	if s != nil {
		copy(out, s.points[:s.n])
	}
	return out
}

// Finite reports whether every listed landmark exists and is finite.
func (s *LandmarkSet) Finite(indices ...int) bool {
	for _, i := range indices {
		l, ok := s.At(i)
		if !ok || !l.IsFinite() {
			return false
		}
	}
	return true
}

// Mean averages the listed landmarks.
func (s *LandmarkSet) Mean(indices ...int) (Landmark, error) {
	if len(indices) == 0 {
		return Landmark{}, fmt.Errorf("empty landmark group: %w", ErrInvalidMeasurement)
	}
	if !s.Has(indices...) {
		return Landmark{}, fmt.Errorf("group needs index %d, have %d: %w", maxIndex(indices), s.Len(), ErrLandmarksInsufficient)
	}
	var m Landmark
	for _, i := range indices {
		m.X += s.points[i].X
		m.Y += s.points[i].Y
		m.Z += s.points[i].Z
	}
	n := float64(len(indices))
	return Landmark{X: m.X / n, Y: m.Y / n, Z: m.Z / n}, nil
}

// LeftEyeCenter is the mean of the left eye group.
func (s *LandmarkSet) LeftEyeCenter() (Landmark, error) { return s.Mean(LeftEyeIndices...) }

// RightEyeCenter is the mean of the right eye group.
func (s *LandmarkSet) RightEyeCenter() (Landmark, error) { return s.Mean(RightEyeIndices...) }

// NoseTip returns the nose tip landmark.
func (s *LandmarkSet) NoseTip() (Landmark, error) { return s.single(NoseTipIndex) }

// Forehead returns the mid-forehead landmark.
func (s *LandmarkSet) Forehead() (Landmark, error) { return s.single(ForeheadIndex) }

// Crown returns the top-of-head landmark used for head height.
func (s *LandmarkSet) Crown() (Landmark, error) { return s.single(CrownIndex) }

// Chin returns the chin landmark.
func (s *LandmarkSet) Chin() (Landmark, error) { return s.single(ChinIndex) }

// LeftTemple returns the left temple landmark.
func (s *LandmarkSet) LeftTemple() (Landmark, error) { return s.single(LeftTempleIndex) }

// RightTemple returns the right temple landmark.
func (s *LandmarkSet) RightTemple() (Landmark, error) { return s.single(RightTempleIndex) }

// Bound returns the image-plane bounding box of the set.
func (s *LandmarkSet) Bound() orb.Bound {
	mp := make(orb.MultiPoint, 0, s.Len())
	for _, l := range s.Points() {
		mp = append(mp, l.Point())
	}
	return mp.Bound()
}

func (s *LandmarkSet) single(i int) (Landmark, error) {
	l, ok := s.At(i)
	if !ok {
		return Landmark{}, fmt.Errorf("need index %d, have %d: %w", i, s.Len(), ErrLandmarksInsufficient)
	}
	return l, nil
}

// MarshalJSON encodes the set as an array of {x, y, z} objects.
func (s *LandmarkSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Points())
}

// UnmarshalJSON decodes an array of {x, y, z} objects, applying the same
// validation as NewLandmarkSet.
func (s *LandmarkSet) UnmarshalJSON(data []byte) error {
	var points []Landmark
	if err := json.Unmarshal(data, &points); err != nil {
		return err
	}
	parsed, err := NewLandmarkSet(points)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

func maxIndex(indices []int) int {
	m := -1
	for _, i := range indices {
		if i > m {
			m = i
		}
	}
	return m
}
