package anchor

import "errors"

var (
	// ErrLandmarksInsufficient is returned when a landmark set is shorter than
	// the highest index a computation needs. The frame is skipped and the
	// previous filtered estimate retained.
	ErrLandmarksInsufficient = errors.New("anchor: landmarks insufficient")

	// ErrInvalidMeasurement is returned for NaN or degenerate geometry, such as
	// a zero eye distance or a non-positive frame size.
	ErrInvalidMeasurement = errors.New("anchor: invalid measurement")

	// ErrCalibrationOutOfBounds is returned when a computed scale factor falls
	// outside the configured safety band. The cached or default value is used.
	ErrCalibrationOutOfBounds = errors.New("anchor: calibration out of bounds")

	// ErrTrackingLost is returned on the tick a pipeline transitions to StateLost.
	ErrTrackingLost = errors.New("anchor: tracking lost")

	// ErrStopped is returned by Update after Stop has been called.
	ErrStopped = errors.New("anchor: pipeline stopped")

	// ErrUnknownChannel is returned by History for an unrecognised channel name.
	ErrUnknownChannel = errors.New("anchor: unknown history channel")
)
