package anchor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrackingState is the pipeline lifecycle state.
type TrackingState int

// Tracking states. A pipeline starts Uninitialized, enters Calibrating on the
// first usable detection, becomes Stable after StabilizationFrames measured
// frames, and drops to Lost after too many misses or the loss timeout. A
// detection while Lost starts Calibrating again.
const (
	StateUninitialized TrackingState = iota
	StateCalibrating
	StateStable
	StateLost
)

var stateNames = map[TrackingState]string{
	StateUninitialized: "uninitialized",
	StateCalibrating:   "calibrating",
	StateStable:        "stable",
	StateLost:          "lost",
}

func (s TrackingState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("TrackingState(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s TrackingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *TrackingState) UnmarshalText(b []byte) error {
	for st, n := range stateNames {
		if n == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown tracking state %q", string(b))
}

// FilterTuning holds runtime noise adjustments. Only non-zero fields are
// applied.
type FilterTuning struct {
	PositionQ float64 `json:"positionQ,omitempty"`
	PositionR float64 `json:"positionR,omitempty"`
	RotationQ float64 `json:"rotationQ,omitempty"`
	RotationR float64 `json:"rotationR,omitempty"`
	ScaleQ    float64 `json:"scaleQ,omitempty"`
	ScaleR    float64 `json:"scaleR,omitempty"`
}

// PipelineMetrics is a diagnostic snapshot of a pipeline.
type PipelineMetrics struct {
	SubjectID         string              `json:"subjectId"`
	SessionID         string              `json:"sessionId"`
	State             TrackingState       `json:"state"`
	Frame             int                 `json:"frame"`
	FramesSinceStart  int                 `json:"framesSinceStart"`
	MissedFrames      int                 `json:"missedFrames"`
	LastMeasurement   time.Time           `json:"lastMeasurement"`
	ConfidenceAverage float64             `json:"confidenceAverage"`
	Position          [3]EstimatorMetrics `json:"position"`
	Rotation          [4]EstimatorMetrics `json:"rotation"`
	Scale             [3]EstimatorMetrics `json:"scale"`
	Calibration       ScaleCalibration    `json:"calibration"`
	Tuning            FilterTuning        `json:"tuning"`
}

// Pipeline runs the per-frame estimation for one subject: extract, filter,
// score, calibrate and compose. Update must be driven by a single goroutine;
// the mutex only lets diagnostics readers take consistent snapshots.
type Pipeline struct {
	mu sync.Mutex

	subject  SubjectConfig
	tracking TrackingConfig
	tuning   FilterTuning
	timeout  time.Duration
	logger   *slog.Logger

	extractor  *PoseExtractor
	position   *Vector3Estimator
	rotation   *OrientationEstimator
	scale      *Vector3Estimator
	scorer     *ConfidenceScorer
	calibrator *ScaleCalibrator
	composer   *TransformComposer

	state            TrackingState
	sessionID        string
	frame            int
	framesSinceStart int
	missed           int
	startedAt        time.Time
	lastAccepted     time.Time
	last             Output
	stopped          bool
}

// NewPipeline builds a pipeline for one subject. A nil logger uses
// slog.Default.
func NewPipeline(cfg *Config, subject SubjectConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	f := cfg.Filters
	p := &Pipeline{
		subject:  subject,
		tracking: cfg.Tracking,
		timeout:  cfg.Tracking.GetLossTimeout(),
		logger:   logger.With("component", "pipeline", "subject", subject.ID),
		tuning: FilterTuning{
			PositionQ: f.Position.ProcessNoise, PositionR: f.Position.MeasurementNoise,
			RotationQ: f.Rotation.ProcessNoise, RotationR: f.Rotation.MeasurementNoise,
			ScaleQ: f.Scale.ProcessNoise, ScaleR: f.Scale.MeasurementNoise,
		},
		extractor:  NewPoseExtractor(cfg.Extractor),
		position:   NewVector3Estimator(f.Position.ProcessNoise, f.Position.MeasurementNoise, f.HistorySize),
		rotation:   NewOrientationEstimator(f.Rotation.ProcessNoise, f.Rotation.MeasurementNoise, f.HistorySize),
		scale:      NewVector3Estimator(f.Scale.ProcessNoise, f.Scale.MeasurementNoise, f.HistorySize),
		scorer:     NewConfidenceScorer(cfg.Confidence, cfg.Tracking.StabilizationFrames),
		calibrator: NewScaleCalibrator(cfg.Calibration, subject.Category),
		composer:   NewTransformComposer(cfg.Asset, Handedness{MirrorX: subject.Mirrored}, cfg.Tracking.VisibilityThreshold),
		sessionID:  uuid.NewString(),
	}
	p.last = p.emptyOutput()
	return p
}

// Update applies at most one detection for this tick. A nil detection, or one
// with no landmarks, is a miss. Frames that cannot be measured keep the
// previous estimate and also count as misses. ErrTrackingLost is returned
// only on the tick that enters StateLost; the returned Output is valid in
// that case too.
func (p *Pipeline) Update(det *Detection, now time.Time) (Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return Output{}, ErrStopped
	}
	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	frame := p.frame
	p.frame++

	if det != nil && det.Landmarks != nil {
		raw, err := p.extractor.Extract(det.Landmarks, det.FrameWidth, det.FrameHeight)
		if err == nil {
			return p.measured(det, raw, frame, now), nil
		}
		p.logger.Debug("skipping frame", "frame", frame, "seq", det.Seq, "error", err)
	}
	return p.miss(frame, now)
}

func (p *Pipeline) measured(det *Detection, raw RawPose, frame int, now time.Time) Output {
	if p.state == StateUninitialized || p.state == StateLost {
		p.transition(StateCalibrating, frame)
	}
	p.missed = 0
	p.lastAccepted = now

	since := p.framesSinceStart
	confidence := p.scorer.Score(ConfidenceInput{
		Landmarks:        det.Landmarks,
		EyeDistancePx:    raw.EyeDistancePx,
		FramesSinceStart: since,
	})

	cal, err := p.calibrator.Observe(since, det.Landmarks)
	if err != nil {
		p.logger.Warn("calibration rejected", "frame", frame, "error", err)
	}

	rot := p.rotation.Update(raw.Rotation)
	ts := det.CapturedAt
	if ts.IsZero() {
		ts = now
	}
	pose := PoseEstimate{
		Position:   p.position.Update(raw.Position),
		Rotation:   rot,
		Euler:      QuatToEuler(rot),
		Scale:      p.scale.Update(raw.Scale),
		Confidence: confidence,
		Timestamp:  ts,
		Frame:      frame,
		Raw:        raw,
	}

	p.framesSinceStart++
	if p.state == StateCalibrating && p.framesSinceStart >= p.tracking.StabilizationFrames {
		p.transition(StateStable, frame)
	}

	p.last = Output{
		SubjectID: p.subject.ID,
		SessionID: p.sessionID,
		Pose:      pose,
		Transform: p.composer.Compose(pose, cal, p.state),
		State:     p.state,
		Measured:  true,
	}
	return p.last
}

func (p *Pipeline) miss(frame int, now time.Time) (Output, error) {
	p.missed++

	pose := p.last.Pose
	pose.Frame = frame
	pose.Confidence = p.scorer.Score(ConfidenceInput{FramesSinceStart: p.framesSinceStart})

	var err error
	if p.state != StateLost && p.lossConfirmed(now) {
		p.transition(StateLost, frame)
		p.resetFilters()
		err = ErrTrackingLost
	}

	p.last = Output{
		SubjectID: p.subject.ID,
		SessionID: p.sessionID,
		Pose:      pose,
		Transform: p.composer.Compose(pose, p.calibrator.Current(), p.state),
		State:     p.state,
	}
	return p.last, err
}

// lossConfirmed reports whether the miss counter or the loss timeout has
// expired. The timeout runs from the last accepted detection, or from the
// first update if nothing has been accepted yet.
func (p *Pipeline) lossConfirmed(now time.Time) bool {
	if p.tracking.MaxMissedFrames > 0 && p.missed >= p.tracking.MaxMissedFrames {
		return true
	}
	if p.timeout > 0 {
		ref := p.lastAccepted
		if ref.IsZero() {
			ref = p.startedAt
		}
		return now.Sub(ref) >= p.timeout
	}
	return false
}

func (p *Pipeline) transition(to TrackingState, frame int) {
	if p.state == to {
		return
	}
	p.logger.Info("tracking state changed", "from", p.state, "to", to, "frame", frame, "missed", p.missed)
	p.state = to
}

// resetFilters clears every estimator and the confidence window. The cached
// calibration survives but is recomputed at the next opportunity.
func (p *Pipeline) resetFilters() {
	p.position.Reset()
	p.rotation.Reset()
	p.scale.Reset()
	p.scorer.Reset()
	p.calibrator.Expire()
	p.framesSinceStart = 0
}

// Stop halts the pipeline and clears all filter state. Updates fail with
// ErrStopped until Start is called.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.resetFilters()
	p.missed = 0
	p.startedAt = time.Time{}
	p.lastAccepted = time.Time{}
	p.state = StateUninitialized
	p.last = p.emptyOutput()
	p.logger.Info("tracking stopped")
}

// Start resumes a stopped pipeline from StateUninitialized under a new
// session ID. It is a no-op on a running pipeline.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		return
	}
	p.stopped = false
	p.sessionID = uuid.NewString()
	p.last = p.emptyOutput()
	p.logger.Info("tracking started", "session", p.sessionID)
}

// Stopped reports whether Stop has been called without a matching Start.
func (p *Pipeline) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// State returns the current tracking state.
func (p *Pipeline) State() TrackingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Last returns the most recent output.
func (p *Pipeline) Last() Output {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// SessionID identifies the current tracking session. It changes on Start.
func (p *Pipeline) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Subject returns the subject configuration.
func (p *Pipeline) Subject() SubjectConfig {
	return p.subject
}

// Calibration returns the cached scale calibration.
func (p *Pipeline) Calibration() ScaleCalibration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calibrator.Current()
}

// SeedCalibration installs a previously persisted calibration. A seed whose
// factor is non-finite or out of bounds is rejected and the current
// calibration is kept.
func (p *Pipeline) SeedCalibration(cal ScaleCalibration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calibrator.Seed(cal)
}

// SetFilterParameters applies the non-zero fields of t to the estimators.
func (p *Pipeline) SetFilterParameters(t FilterTuning) {
	p.mu.Lock()
	defer p.mu.Unlock()

	apply := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	apply(&p.tuning.PositionQ, t.PositionQ)
	apply(&p.tuning.PositionR, t.PositionR)
	apply(&p.tuning.RotationQ, t.RotationQ)
	apply(&p.tuning.RotationR, t.RotationR)
	apply(&p.tuning.ScaleQ, t.ScaleQ)
	apply(&p.tuning.ScaleR, t.ScaleR)

	p.position.SetParameters(p.tuning.PositionQ, p.tuning.PositionR)
	p.rotation.SetParameters(p.tuning.RotationQ, p.tuning.RotationR)
	p.scale.SetParameters(p.tuning.ScaleQ, p.tuning.ScaleR)
	p.logger.Info("filter parameters updated", "tuning", p.tuning)
}

// FilterTuning returns the noise parameters in effect.
func (p *Pipeline) FilterTuning() FilterTuning {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tuning
}

// Metrics returns a diagnostic snapshot.
func (p *Pipeline) Metrics() PipelineMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PipelineMetrics{
		SubjectID:         p.subject.ID,
		SessionID:         p.sessionID,
		State:             p.state,
		Frame:             p.frame,
		FramesSinceStart:  p.framesSinceStart,
		MissedFrames:      p.missed,
		LastMeasurement:   p.lastAccepted,
		ConfidenceAverage: p.scorer.Average(),
		Position:          p.position.Metrics(),
		Rotation:          p.rotation.Metrics(),
		Scale:             p.scale.Metrics(),
		Calibration:       p.calibrator.Current(),
		Tuning:            p.tuning,
	}
}

// HistoryChannels lists the estimator channels available from History.
var HistoryChannels = []string{
	"position.x", "position.y", "position.z",
	"rotation.w", "rotation.x", "rotation.y", "rotation.z",
	"scale.x", "scale.y", "scale.z",
}

// History returns the sample history of one estimator channel, oldest first.
func (p *Pipeline) History(channel string) ([]Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var e *ScalarEstimator
	switch channel {
	case "position.x", "position.y", "position.z":
		e = p.position.Axis(axisIndex(channel))
	case "scale.x", "scale.y", "scale.z":
		e = p.scale.Axis(axisIndex(channel))
	case "rotation.w":
		e = p.rotation.Component(0)
	case "rotation.x", "rotation.y", "rotation.z":
		e = p.rotation.Component(axisIndex(channel) + 1)
	}
	if e == nil {
		return nil, fmt.Errorf("%q: %w", channel, ErrUnknownChannel)
	}
	return e.History(), nil
}

func axisIndex(channel string) int {
	switch channel[len(channel)-1] {
	case 'x':
		return 0
	case 'y':
		return 1
	default:
		return 2
	}
}

func (p *Pipeline) emptyOutput() Output {
	return Output{
		SubjectID: p.subject.ID,
		SessionID: p.sessionID,
		Pose:      PoseEstimate{Rotation: IdentityQuat()},
		Transform: RenderTransform{Rotation: IdentityQuat()},
		State:     StateUninitialized,
	}
}
