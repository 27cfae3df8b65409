package anchor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxRecordingLine bounds one JSON line; a full mesh with iris points is
// roughly 30 KB.
const maxRecordingLine = 1 << 20

// A recording is JSON lines, one Detection per line in completion order. A
// detection with "landmarks": null, or a bare null line, is a frame without a
// face. Blank lines are ignored.

// ReadRecording decodes every detection from r.
func ReadRecording(r io.Reader) ([]*Detection, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordingLine)

	var out []*Detection
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		if bytes.Equal(text, []byte("null")) {
			out = append(out, nil)
			continue
		}
		var det Detection
		if err := json.Unmarshal(text, &det); err != nil {
			return nil, fmt.Errorf("recording line %d: %w", line, err)
		}
		out = append(out, &det)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	return out, nil
}

// LoadRecording reads a recording file.
func LoadRecording(path string) ([]*Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadRecording(f)
}

// RecordingWriter appends detections to a recording.
type RecordingWriter struct {
	w *bufio.Writer
	n int
}

// NewRecordingWriter creates a writer. Call Flush when done.
func NewRecordingWriter(w io.Writer) *RecordingWriter {
	return &RecordingWriter{w: bufio.NewWriter(w)}
}

// Write appends one detection. A nil detection records a missed frame.
func (rw *RecordingWriter) Write(det *Detection) error {
	line, err := EncodeDetection(det, false)
	if err != nil {
		return fmt.Errorf("recording entry %d: %w", rw.n, err)
	}
	if _, err := rw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing recording entry %d: %w", rw.n, err)
	}
	rw.n++
	return nil
}

// Count returns the number of entries written.
func (rw *RecordingWriter) Count() int {
	return rw.n
}

// Flush writes any buffered entries.
func (rw *RecordingWriter) Flush() error {
	return rw.w.Flush()
}
