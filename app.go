package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kwv/headanchor/anchor"
	"github.com/kwv/headanchor/internal/log"
)

const (
	defaultFPS               = 30
	defaultHTTPPort          = 8080
	mailboxCapacity          = 4
	calibrationFlushInterval = 30 * time.Second
	shutdownTimeout          = 5 * time.Second
	replaySubjectID          = "replay"
)

// AppOptions carries command-line settings into an App.
type AppOptions struct {
	ConfigFile       string
	CalibrationCache string
	FPS              int
	HttpPort         int
	MqttMode         bool
	HttpMode         bool
	RecordFile       string
}

// App encapsulates the application state and dependencies
type App struct {
	Config       *anchor.Config
	Calibration  *anchor.CalibrationCache
	StateTracker *anchor.StateTracker
	MQTTClient   *anchor.MQTTClient
	Publisher    *anchor.Publisher

	// CLI flags
	ConfigFile       string
	CalibrationCache string
	FPS              int
	HttpPort         int
	MqttMode         bool
	HttpMode         bool
	RecordFile       string

	logger     *slog.Logger // tagged component=app
	baseLogger *slog.Logger // handed to pipelines and MQTT, which tag themselves

	recMu    sync.Mutex
	recorder *anchor.RecordingWriter

	mu        sync.RWMutex
	subjects  []string
	pipelines map[string]*anchor.Pipeline
	mailboxes map[string]*anchor.Mailbox
	calDirty  bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker:     anchor.NewStateTracker(anchor.DefaultTrailLength),
		CalibrationCache: anchor.DefaultCalibrationCachePath,
		FPS:              defaultFPS,
		HttpPort:         defaultHTTPPort,
		logger:           log.Component("app"),
		baseLogger:       log.L(),
		pipelines:        make(map[string]*anchor.Pipeline),
		mailboxes:        make(map[string]*anchor.Mailbox),
	}
}

// SetLogger replaces the logger used by the App and by every component it
// creates afterwards.
func (a *App) SetLogger(l *slog.Logger) {
	a.baseLogger = l
	a.logger = l.With("component", "app")
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	if opts.CalibrationCache != "" {
		a.CalibrationCache = opts.CalibrationCache
	}
	if opts.FPS > 0 {
		a.FPS = opts.FPS
	}
	if opts.HttpPort > 0 {
		a.HttpPort = opts.HttpPort
	}
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.RecordFile = opts.RecordFile
}

// loadConfig reads the config file, or falls back to the default preset when
// no file was given.
func (a *App) loadConfig() (*anchor.Config, error) {
	if a.ConfigFile == "" {
		cfg := anchor.DefaultConfig()
		cfg.ApplyEnv()
		return &cfg, nil
	}
	cfg, err := anchor.LoadConfig(a.ConfigFile)
	if err != nil {
		return nil, err
	}
	a.logger.Info("loaded config", "path", a.ConfigFile, "subjects", len(cfg.Subjects))
	return cfg, nil
}

// loadCalibration reads the calibration cache. Failures, and caches older
// than maxAge when maxAge is positive, are logged and an empty cache is used.
func (a *App) loadCalibration(maxAge time.Duration) *anchor.CalibrationCache {
	cache, err := anchor.LoadCalibrationCache(a.CalibrationCache)
	switch {
	case err != nil:
		a.logger.Warn("failed to load calibration cache", "path", a.CalibrationCache, "error", err)
	case cache == nil:
		a.logger.Info("no calibration cache found, subjects start at the default scale", "path", a.CalibrationCache)
	case maxAge > 0 && cache.NeedsRecalibration(maxAge):
		a.logger.Info("calibration cache is stale, subjects start at the default scale",
			"path", a.CalibrationCache, "maxAge", maxAge)
	default:
		a.logger.Info("loaded calibration cache", "path", a.CalibrationCache, "subjects", cache.SubjectIDs())
		return cache
	}
	return &anchor.CalibrationCache{Subjects: make(map[string]anchor.ScaleCalibration)}
}

// Configure installs cfg and builds one pipeline and mailbox per subject.
// Cached calibrations seed the matching pipelines.
func (a *App) Configure(cfg *anchor.Config, cache *anchor.CalibrationCache) {
	if cache == nil {
		cache = &anchor.CalibrationCache{Subjects: make(map[string]anchor.ScaleCalibration)}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.Config = cfg
	a.Calibration = cache
	a.subjects = a.subjects[:0]
	a.pipelines = make(map[string]*anchor.Pipeline, len(cfg.Subjects))
	a.mailboxes = make(map[string]*anchor.Mailbox, len(cfg.Subjects))

	for _, s := range cfg.Subjects {
		p := anchor.NewPipeline(cfg, s, a.baseLogger)
		a.seed(p, cache)
		a.subjects = append(a.subjects, s.ID)
		a.pipelines[s.ID] = p
		a.mailboxes[s.ID] = anchor.NewMailbox(mailboxCapacity)
	}
	sort.Strings(a.subjects)
}

// seed installs the cached calibration for p's subject, if any. Rejected
// entries are logged and the pipeline keeps its default calibration.
func (a *App) seed(p *anchor.Pipeline, cache *anchor.CalibrationCache) {
	id := p.Subject().ID
	cal, ok := cache.Get(id)
	if !ok {
		return
	}
	if err := p.SeedCalibration(cal); err != nil {
		a.logger.Warn("ignoring cached calibration", "subject", id, "error", err)
		return
	}
	a.logger.Info("seeded calibration", "subject", id, "factor", cal.OverallScaleFactor)
}

// Pipeline returns the pipeline for a subject.
func (a *App) Pipeline(subjectID string) (*anchor.Pipeline, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pipelines[subjectID]
	return p, ok
}

// Subjects returns the configured subject IDs in sorted order.
func (a *App) Subjects() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.subjects...)
}

// handleDetection is the MQTT callback. It queues the detection for the
// next render tick.
func (a *App) handleDetection(subjectID string, det *anchor.Detection, err error) {
	if err != nil {
		a.logger.Warn("dropping undecodable detection", "subject", subjectID, "error", err)
		return
	}

	a.mu.RLock()
	mb, ok := a.mailboxes[subjectID]
	a.mu.RUnlock()
	if !ok {
		a.logger.Warn("detection for unknown subject", "subject", subjectID)
		return
	}

	if det != nil && det.CompletedAt.IsZero() {
		det.CompletedAt = time.Now()
	}
	a.record(det)
	if mb.Offer(det) {
		a.logger.Debug("render loop behind, dropped oldest detection", "subject", subjectID, "dropped", mb.Dropped())
	}
	a.StateTracker.RecordDetection(subjectID, det)
}

// Tick runs one update for every subject, applying at most one queued
// detection each. Subjects with nothing queued register a miss. Outputs are
// returned in subject order.
func (a *App) Tick(now time.Time) []anchor.Output {
	subjects := a.Subjects()
	outs := make([]anchor.Output, 0, len(subjects))

	for _, id := range subjects {
		a.mu.RLock()
		p, mb := a.pipelines[id], a.mailboxes[id]
		a.mu.RUnlock()

		det, _ := mb.Take()
		out, err := p.Update(det, now)
		switch {
		case errors.Is(err, anchor.ErrStopped):
			continue
		case errors.Is(err, anchor.ErrTrackingLost):
			a.logger.Warn("tracking lost", "subject", id, "frame", out.Pose.Frame)
		case err != nil:
			a.logger.Error("pipeline update failed", "subject", id, "error", err)
			continue
		}

		a.StateTracker.Record(out)
		a.cacheCalibration(id, p.Calibration())

		if a.Publisher != nil {
			if err := a.Publisher.Publish(out); err != nil {
				a.logger.Debug("publish failed", "subject", id, "error", err)
			}
		}
		outs = append(outs, out)
	}
	return outs
}

// record appends det to the session recording when one is open.
func (a *App) record(det *anchor.Detection) {
	a.recMu.Lock()
	defer a.recMu.Unlock()
	if a.recorder == nil {
		return
	}
	if err := a.recorder.Write(det); err != nil {
		a.logger.Warn("recording detection failed", "error", err)
	}
}

// openRecording starts a session recording at path. The returned function
// flushes and closes it.
func (a *App) openRecording(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording: %w", err)
	}
	a.recMu.Lock()
	a.recorder = anchor.NewRecordingWriter(f)
	a.recMu.Unlock()
	a.logger.Info("recording detections", "path", path)

	return func() {
		a.recMu.Lock()
		defer a.recMu.Unlock()
		if err := a.recorder.Flush(); err != nil {
			a.logger.Warn("flushing recording failed", "path", path, "error", err)
		}
		a.logger.Info("recording closed", "path", path, "frames", a.recorder.Count())
		a.recorder = nil
		_ = f.Close()
	}, nil
}

// stopTracking stops every pipeline, which resets its filters, discards
// queued detections and drops the subject from the combined topic.
func (a *App) stopTracking() {
	for _, id := range a.Subjects() {
		a.mu.RLock()
		p, mb := a.pipelines[id], a.mailboxes[id]
		a.mu.RUnlock()
		p.Stop()
		mb.Drain()
		if a.Publisher != nil {
			a.Publisher.Clear(id)
		}
	}
}

// cacheCalibration stores a newly accepted calibration and marks the cache
// for the next flush.
func (a *App) cacheCalibration(subjectID string, cal anchor.ScaleCalibration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Calibration == nil {
		return
	}
	if prev, ok := a.Calibration.Get(subjectID); ok &&
		prev.ComputedAtFrame == cal.ComputedAtFrame && prev.OverallScaleFactor == cal.OverallScaleFactor {
		return
	}
	if a.Calibration.Put(subjectID, cal) {
		a.calDirty = true
		a.logger.Info("calibration updated", "subject", subjectID, "factor", cal.OverallScaleFactor, "scale", cal.Scale)
	}
}

// SaveCalibration writes the calibration cache if it changed since the last
// save.
func (a *App) SaveCalibration() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.calDirty || a.CalibrationCache == "" || a.Calibration == nil {
		return nil
	}
	if err := anchor.SaveCalibrationCache(a.CalibrationCache, a.Calibration); err != nil {
		return err
	}
	a.calDirty = false
	a.logger.Debug("saved calibration cache", "path", a.CalibrationCache)
	return nil
}

// Run drives the render loop at the configured frame rate until ctx is done.
// The calibration cache is flushed periodically and on exit, and every
// pipeline is stopped on exit.
func (a *App) Run(ctx context.Context) error {
	fps := a.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	flush := time.NewTicker(calibrationFlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.SaveCalibration(); err != nil {
				a.logger.Warn("failed to save calibration cache", "error", err)
			}
			a.stopTracking()
			return nil
		case now := <-ticker.C:
			a.Tick(now)
		case <-flush.C:
			if err := a.SaveCalibration(); err != nil {
				a.logger.Warn("failed to save calibration cache", "error", err)
			}
		}
	}
}

// RunService starts MQTT and HTTP as configured and runs the render loop
// until ctx is cancelled.
func (a *App) RunService(ctx context.Context) error {
	if !a.MqttMode && !a.HttpMode {
		return errors.New("nothing to serve: enable --mqtt, --http or both")
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Subjects) == 0 {
		return errors.New("no subjects configured")
	}
	a.Configure(cfg, a.loadCalibration(cfg.Calibration.GetCacheMaxAge()))

	if a.RecordFile != "" {
		closeRecording, err := a.openRecording(a.RecordFile)
		if err != nil {
			return err
		}
		defer closeRecording()
	}

	if a.MqttMode {
		client, err := anchor.NewMQTTClient(cfg, a.handleDetection, a.baseLogger)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured")
		}
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		a.MQTTClient = client
		a.Publisher = anchor.NewPublisher(client.Client(), cfg.MQTT.PublishPrefix, a.baseLogger)
		a.Publisher.SetQoS(cfg.MQTT.QoS)
		a.Publisher.SetRetain(cfg.MQTT.Retain)
		defer client.Disconnect()
	}

	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("starting HTTP server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("HTTP server error", "error", err)
			}
		}()
	}

	a.printServiceInfo(os.Stdout)

	err = a.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Warn("HTTP shutdown", "error", serr)
		}
	}
	a.logger.Info("service stopped")
	return err
}

func (a *App) printServiceInfo(w io.Writer) {
	fmt.Fprintln(w, "\nService Running")
	fmt.Fprintln(w, "===============")
	fmt.Fprintf(w, "Render loop: %d fps, %d subject(s)\n", a.FPS, len(a.Subjects()))

	if a.MqttMode && a.Publisher != nil {
		fmt.Fprintln(w, "\nMQTT:")
		fmt.Fprintln(w, "  Subscribed topics:")
		for _, s := range a.Config.Subjects {
			if s.Topic != "" {
				fmt.Fprintf(w, "    - %s (%s)\n", s.Topic, s.ID)
			}
		}
		fmt.Fprintf(w, "  Publishing to: %s\n", a.Publisher.SubjectTopic("{subjectID}"))
		fmt.Fprintf(w, "  Combined poses: %s\n", a.Publisher.CombinedTopic())
	}

	if a.HttpMode {
		fmt.Fprintf(w, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(w, "  GET  /health          - Health check")
		fmt.Fprintln(w, "  GET  /poses           - Latest output per subject")
		fmt.Fprintln(w, "  GET  /metrics         - Pipeline diagnostics (?subject=)")
		fmt.Fprintln(w, "  GET  /overlay.svg     - Landmark overlay (?subject=)")
		fmt.Fprintln(w, "  GET  /overlay.png     - Landmark overlay (?subject=)")
		fmt.Fprintln(w, "  GET  /status.png      - Trail and state (?subject=)")
		fmt.Fprintln(w, "  GET  /history.png     - Estimator history (?subject=&channel=)")
		fmt.Fprintln(w, "  GET  /trail.geojson   - Pose trail (?subject=)")
		fmt.Fprintln(w, "  POST /tuning          - Adjust filter noise (?subject=)")
	}

	fmt.Fprintln(w, "\nPress Ctrl+C to stop")
}

// ReplayOptions configures RunReplay.
type ReplayOptions struct {
	Input     string
	Subject   string
	GeoJSON   string  // trail export path; empty skips
	Tolerance float64 // trail simplification tolerance
	Plot      string  // history plot path; empty skips
	Channel   string  // history channel for Plot
	Output    io.Writer
	Progress  io.Writer // progress bar destination; nil disables
}

// ReplaySummary describes a completed replay.
type ReplaySummary struct {
	Frames      int                     `json:"frames"`
	Measured    int                     `json:"measured"`
	Losses      int                     `json:"losses"`
	FinalState  anchor.TrackingState    `json:"finalState"`
	Calibration anchor.ScaleCalibration `json:"calibration"`
}

// replaySubject picks the subject config for offline runs.
func replaySubject(cfg *anchor.Config, id string) (anchor.SubjectConfig, error) {
	if id != "" {
		if s := cfg.GetSubjectByID(id); s != nil {
			return *s, nil
		}
		if len(cfg.Subjects) > 0 {
			return anchor.SubjectConfig{}, fmt.Errorf("subject %q not in config", id)
		}
		return anchor.SubjectConfig{ID: id}, nil
	}
	if len(cfg.Subjects) > 0 {
		return cfg.Subjects[0], nil
	}
	return anchor.SubjectConfig{ID: replaySubjectID}, nil
}

// RunReplay feeds a recording through a fresh pipeline on a synthetic clock
// at the configured frame rate. Each output is written to opts.Output as one
// JSON line.
func (a *App) RunReplay(opts ReplayOptions) (ReplaySummary, error) {
	var summary ReplaySummary

	cfg, err := a.loadConfig()
	if err != nil {
		return summary, fmt.Errorf("loading config: %w", err)
	}
	subject, err := replaySubject(cfg, opts.Subject)
	if err != nil {
		return summary, err
	}
	dets, err := anchor.LoadRecording(opts.Input)
	if err != nil {
		return summary, err
	}

	p := anchor.NewPipeline(cfg, subject, a.baseLogger)
	a.seed(p, a.loadCalibration(cfg.Calibration.GetCacheMaxAge()))
	tracker := anchor.NewStateTracker(len(dets))

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(dets),
			progressbar.OptionSetDescription("Replaying "+filepath.Base(opts.Input)),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
		)
	}

	var enc *json.Encoder
	if opts.Output != nil {
		enc = json.NewEncoder(opts.Output)
	}

	fps := a.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	step := time.Second / time.Duration(fps)
	start := time.Now()

	for i, det := range dets {
		out, err := p.Update(det, start.Add(time.Duration(i)*step))
		if errors.Is(err, anchor.ErrTrackingLost) {
			summary.Losses++
		} else if err != nil {
			return summary, fmt.Errorf("frame %d: %w", i, err)
		}
		if out.Measured {
			summary.Measured++
		}
		tracker.Record(out)
		if enc != nil {
			if err := enc.Encode(out); err != nil {
				return summary, fmt.Errorf("writing output: %w", err)
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	summary.Frames = len(dets)
	summary.FinalState = p.State()
	summary.Calibration = p.Calibration()

	if opts.GeoJSON != "" {
		fc := anchor.TrailToFeatureCollection(subject.ID, tracker.Trail(subject.ID), opts.Tolerance)
		data, err := json.MarshalIndent(fc, "", "  ")
		if err != nil {
			return summary, fmt.Errorf("encoding trail: %w", err)
		}
		if err := os.WriteFile(opts.GeoJSON, data, 0644); err != nil {
			return summary, fmt.Errorf("writing trail: %w", err)
		}
		a.logger.Info("wrote pose trail", "path", opts.GeoJSON)
	}

	if opts.Plot != "" {
		channel := opts.Channel
		if channel == "" {
			channel = anchor.HistoryChannels[0]
		}
		samples, err := p.History(channel)
		if err != nil {
			return summary, err
		}
		if err := writeFile(opts.Plot, func(w io.Writer) error {
			return anchor.WriteHistoryPNG(w, subject.ID+" "+channel, samples)
		}); err != nil {
			return summary, fmt.Errorf("writing history plot: %w", err)
		}
		a.logger.Info("wrote history plot", "path", opts.Plot, "channel", channel)
	}

	a.logger.Info("replay complete",
		"frames", summary.Frames, "measured", summary.Measured,
		"losses", summary.Losses, "state", summary.FinalState)
	return summary, nil
}

// RunCalibrate runs the scale calibrator alone over a recording and stores
// the last accepted calibration in the cache file.
func (a *App) RunCalibrate(input, subjectID string) (anchor.ScaleCalibration, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return anchor.ScaleCalibration{}, fmt.Errorf("loading config: %w", err)
	}
	subject, err := replaySubject(cfg, subjectID)
	if err != nil {
		return anchor.ScaleCalibration{}, err
	}
	dets, err := anchor.LoadRecording(input)
	if err != nil {
		return anchor.ScaleCalibration{}, err
	}

	c := anchor.NewScaleCalibrator(cfg.Calibration, subject.Category)
	frame, rejected := 0, 0
	for _, det := range dets {
		if det == nil || det.Landmarks == nil {
			continue
		}
		if _, err := c.Observe(frame, det.Landmarks); err != nil {
			rejected++
			a.logger.Debug("calibration rejected", "frame", frame, "error", err)
		}
		frame++
	}

	cal := c.Current()
	if !cal.Accepted {
		return cal, fmt.Errorf("no calibration accepted from %d usable frames (%d rejected)", frame, rejected)
	}

	cache := a.loadCalibration(0)
	cache.Put(subject.ID, cal)
	if err := anchor.SaveCalibrationCache(a.CalibrationCache, cache); err != nil {
		return cal, err
	}
	a.logger.Info("calibration saved",
		"subject", subject.ID, "factor", cal.OverallScaleFactor,
		"scale", cal.Scale, "distanceMm", cal.DistanceMm, "path", a.CalibrationCache)
	return cal, nil
}

// RunExport renders the overlay for one frame of a recording. The recording
// is replayed up to that frame so the overlay carries the filtered pose.
func (a *App) RunExport(input string, frame int, format, output string) error {
	format = strings.ToLower(format)
	if format != "svg" && format != "png" {
		return fmt.Errorf("unsupported format %q (want svg or png)", format)
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	subject, err := replaySubject(cfg, "")
	if err != nil {
		return err
	}
	dets, err := anchor.LoadRecording(input)
	if err != nil {
		return err
	}
	if frame < 0 || frame >= len(dets) {
		return fmt.Errorf("frame %d out of range [0, %d)", frame, len(dets))
	}
	det := dets[frame]
	if det == nil || det.Landmarks == nil {
		return fmt.Errorf("frame %d has no face", frame)
	}

	p := anchor.NewPipeline(cfg, subject, a.baseLogger)
	step := time.Second / defaultFPS
	start := time.Now()
	var out anchor.Output
	for i := 0; i <= frame; i++ {
		out, _ = p.Update(dets[i], start.Add(time.Duration(i)*step))
	}

	r := anchor.NewOverlayRenderer(det, &out, a.StateTracker.Color(subject.ID))
	err = writeFile(output, func(w io.Writer) error {
		if format == "svg" {
			return r.RenderToSVG(w)
		}
		return r.RenderToPNG(w)
	})
	if err != nil {
		return fmt.Errorf("rendering overlay: %w", err)
	}
	a.logger.Info("wrote overlay", "path", output, "frame", frame, "state", out.State)
	return nil
}

// writeFile creates path and hands it to fn, closing it afterwards.
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
