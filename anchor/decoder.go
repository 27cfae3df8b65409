package anchor

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var errPayloadTooLarge = errors.New("decompressed payload too large")

// DecodeDetection decodes a detector message. Payloads are either raw JSON
// (starting with '{') or zlib-compressed JSON. A "landmarks": null payload is a
// frame in which the detector found no face.
func DecodeDetection(data []byte) (*Detection, error) {
	jsonBytes := bytes.TrimSpace(data)
	if len(jsonBytes) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	// compressed payloads are not trimmed; their trailing checksum may end in
	// a whitespace byte
	if jsonBytes[0] != '{' {
		var err error
		jsonBytes, err = inflateZlib(data)
		if errors.Is(err, errPayloadTooLarge) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON or zlib-compressed")
		}
	}

	var det Detection
	if err := json.Unmarshal(jsonBytes, &det); err != nil {
		return nil, fmt.Errorf("parsing detection JSON: %w", err)
	}
	return &det, nil
}

// EncodeDetection marshals a detection, optionally zlib-compressing it. A nil
// detection encodes as null.
func EncodeDetection(det *Detection, compress bool) ([]byte, error) {
	data, err := json.Marshal(det)
	if err != nil {
		return nil, fmt.Errorf("marshaling detection: %w", err)
	}
	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing detection: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressing detection: %w", err)
	}
	return buf.Bytes(), nil
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := io.ReadAll(io.LimitReader(reader, maxRecordingLine+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	if len(decompressed) > maxRecordingLine {
		return nil, fmt.Errorf("%w: over %d bytes", errPayloadTooLarge, maxRecordingLine)
	}
	return decompressed, nil
}
