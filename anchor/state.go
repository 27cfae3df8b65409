package anchor

import (
	"sort"
	"sync"
	"time"
)

// DefaultTrailLength is the number of poses kept per subject for trail export.
const DefaultTrailLength = 300

// TrailPoint is one entry of a subject's recent pose trail.
type TrailPoint struct {
	Frame      int           `json:"frame"`
	Timestamp  time.Time     `json:"timestamp"`
	Position   Vec3          `json:"position"` // normalized image position of the filtered pose
	Euler      Euler         `json:"euler"`
	Confidence float64       `json:"confidence"`
	State      TrackingState `json:"state"`
	Visible    bool          `json:"visible"`
}

// subjectState is everything tracked for one subject.
type subjectState struct {
	output    Output
	hasOutput bool
	detection *Detection
	trail     *Ring[TrailPoint]
	color     string
}

// StateTracker keeps the latest per-subject results for the HTTP endpoints.
// Readers always receive copies.
type StateTracker struct {
	mu          sync.RWMutex
	subjects    map[string]*subjectState
	trailLength int
}

// NewStateTracker creates a tracker keeping trailLength poses per subject.
func NewStateTracker(trailLength int) *StateTracker {
	if trailLength <= 0 {
		trailLength = DefaultTrailLength
	}
	return &StateTracker{
		subjects:    make(map[string]*subjectState),
		trailLength: trailLength,
	}
}

var defaultPalette = []string{"#E6194B", "#3CB44B", "#4363D8", "#F58231", "#911EB4", "#42D4F4"}

func (st *StateTracker) subject(id string) *subjectState {
	s, ok := st.subjects[id]
	if !ok {
		s = &subjectState{
			trail: NewRing[TrailPoint](st.trailLength),
			color: defaultPalette[len(st.subjects)%len(defaultPalette)],
		}
		st.subjects[id] = s
	}
	return s
}

// SetColor sets the overlay color for a subject
func (st *StateTracker) SetColor(subjectID, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subject(subjectID).color = hexColor
}

// Color returns the overlay color for a subject.
func (st *StateTracker) Color(subjectID string) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.subject(subjectID).color
}

// Record stores a pipeline output and, when the tick was measured, appends it
// to the trail.
func (st *StateTracker) Record(out Output) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.subject(out.SubjectID)
	s.output = out
	s.hasOutput = true
	if out.Measured {
		s.trail.Push(TrailPoint{
			Frame:      out.Pose.Frame,
			Timestamp:  out.Pose.Timestamp,
			Position:   out.Pose.Position,
			Euler:      out.Pose.Euler,
			Confidence: out.Pose.Confidence,
			State:      out.State,
			Visible:    out.Transform.Visible,
		})
	}
}

// RecordDetection stores the latest detection with landmarks for overlays.
// Detections without a face are ignored so the overlay keeps the last face.
func (st *StateTracker) RecordDetection(subjectID string, det *Detection) {
	if det == nil || det.Landmarks == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	d := *det
	st.subject(subjectID).detection = &d
}

// Output returns the latest output for a subject.
func (st *StateTracker) Output(subjectID string) (Output, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.subjects[subjectID]
	if !ok || !s.hasOutput {
		return Output{}, false
	}
	return s.output, true
}

// Outputs returns the latest output of every subject, ordered by subject ID.
func (st *StateTracker) Outputs() []Output {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Output, 0, len(st.subjects))
	for _, s := range st.subjects {
		if s.hasOutput {
			out = append(out, s.output)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// Detection returns a copy of the latest detection with landmarks.
func (st *StateTracker) Detection(subjectID string) (*Detection, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.subjects[subjectID]
	if !ok || s.detection == nil {
		return nil, false
	}
	d := *s.detection
	return &d, true
}

// Trail returns the recorded trail for a subject, oldest first.
func (st *StateTracker) Trail(subjectID string) []TrailPoint {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.subjects[subjectID]
	if !ok {
		return nil
	}
	return s.trail.Slice()
}

// SubjectIDs returns every subject with recorded state, sorted.
func (st *StateTracker) SubjectIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.subjects))
	for id := range st.subjects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
