package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kwv/headanchor/anchor"
)

// maxTuningBody caps the POST /tuning request body.
const maxTuningBody = 4096

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()
	logger := a.baseLogger.With("component", "http")

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			Subjects      []string  `json:"subjects"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			Subjects:      a.Subjects(),
			MQTTConnected: a.MQTTClient != nil && a.MQTTClient.IsConnected(),
		}
		writeJSON(w, status)
	})

	// Latest output per subject
	mux.HandleFunc("/poses", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.StateTracker.Outputs())
	})

	// Pipeline diagnostics
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("subject") == "" {
			metrics := make([]anchor.PipelineMetrics, 0)
			for _, id := range a.Subjects() {
				if p, ok := a.Pipeline(id); ok {
					metrics = append(metrics, p.Metrics())
				}
			}
			writeJSON(w, metrics)
			return
		}
		p, _, ok := pipelineFor(a, w, r)
		if !ok {
			return
		}
		writeJSON(w, p.Metrics())
	})

	// Landmark overlay, vector and raster
	overlay := func(png bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			_, id, ok := pipelineFor(a, w, r)
			if !ok {
				return
			}
			det, ok := a.StateTracker.Detection(id)
			if !ok {
				http.Error(w, "No landmarks received", http.StatusServiceUnavailable)
				return
			}
			var out *anchor.Output
			if o, ok := a.StateTracker.Output(id); ok {
				out = &o
			}
			renderer := anchor.NewOverlayRenderer(det, out, a.StateTracker.Color(id))

			w.Header().Set("Cache-Control", "no-cache")
			var err error
			if png {
				w.Header().Set("Content-Type", "image/png")
				err = renderer.RenderToPNG(w)
			} else {
				w.Header().Set("Content-Type", "image/svg+xml")
				err = renderer.RenderToSVG(w)
			}
			if err != nil {
				logger.Error("rendering overlay", "subject", id, "error", err)
			}
		}
	}
	mux.HandleFunc("/overlay.svg", overlay(false))
	mux.HandleFunc("/overlay.png", overlay(true))

	// Trail and state raster
	mux.HandleFunc("/status.png", func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := pipelineFor(a, w, r)
		if !ok {
			return
		}
		out, ok := a.StateTracker.Output(id)
		if !ok {
			out = p.Last()
		}
		renderer := anchor.NewStatusRenderer(id, a.StateTracker.Trail(id), out, p.Calibration(), a.StateTracker.Color(id))
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			logger.Error("encoding status PNG", "subject", id, "error", err)
		}
	})

	// Estimator history plot
	mux.HandleFunc("/history.png", func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := pipelineFor(a, w, r)
		if !ok {
			return
		}
		channel := r.URL.Query().Get("channel")
		if channel == "" {
			channel = anchor.HistoryChannels[0]
		}
		samples, err := p.History(channel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := anchor.WriteHistoryPNG(w, id+" "+channel, samples); err != nil {
			logger.Error("encoding history PNG", "subject", id, "channel", channel, "error", err)
		}
	})

	// Pose trail as GeoJSON
	mux.HandleFunc("/trail.geojson", func(w http.ResponseWriter, r *http.Request) {
		_, id, ok := pipelineFor(a, w, r)
		if !ok {
			return
		}
		fc := anchor.TrailToFeatureCollection(id, a.StateTracker.Trail(id), 0.001)
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(fc); err != nil {
			logger.Error("encoding trail", "subject", id, "error", err)
		}
	})

	// Runtime filter tuning
	mux.HandleFunc("/tuning", func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := pipelineFor(a, w, r)
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, p.FilterTuning())
		case http.MethodPost:
			var t anchor.FilterTuning
			dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTuningBody))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&t); err != nil {
				http.Error(w, fmt.Sprintf("invalid tuning: %v", err), http.StatusBadRequest)
				return
			}
			if err := validateTuning(t); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			p.SetFilterParameters(t)
			logger.Info("filter tuning applied", "subject", id, "tuning", t)
			writeJSON(w, p.FilterTuning())
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// pipelineFor resolves the ?subject= parameter. Without one, a single
// configured subject is used. On failure it writes the error response and
// returns ok false.
func pipelineFor(a *App, w http.ResponseWriter, r *http.Request) (*anchor.Pipeline, string, bool) {
	id := r.URL.Query().Get("subject")
	if id == "" {
		subjects := a.Subjects()
		switch len(subjects) {
		case 0:
			http.Error(w, "No subjects configured", http.StatusServiceUnavailable)
			return nil, "", false
		case 1:
			id = subjects[0]
		default:
			http.Error(w, "subject parameter required", http.StatusBadRequest)
			return nil, "", false
		}
	}
	p, ok := a.Pipeline(id)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown subject %q", id), http.StatusNotFound)
		return nil, "", false
	}
	return p, id, true
}

// validateTuning rejects negative noise values. Zero fields are left alone
// by SetFilterParameters.
func validateTuning(t anchor.FilterTuning) error {
	for name, v := range map[string]float64{
		"positionQ": t.PositionQ, "positionR": t.PositionR,
		"rotationQ": t.RotationQ, "rotationR": t.RotationR,
		"scaleQ": t.ScaleQ, "scaleR": t.ScaleR,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %g", name, v)
		}
	}
	if t == (anchor.FilterTuning{}) {
		return errors.New("no tuning fields set")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
