package anchor

// TransformComposer maps a filtered pose and the cached calibration to the
// transform the consumer applies to the asset.
type TransformComposer struct {
	cfg        AssetConfig
	handedness Handedness
	threshold  float64
}

// NewTransformComposer creates a composer. threshold is the confidence above
// which the asset is shown.
func NewTransformComposer(cfg AssetConfig, h Handedness, threshold float64) *TransformComposer {
	return &TransformComposer{cfg: cfg, handedness: h, threshold: threshold}
}

// Handedness returns the sign convention in use.
func (c *TransformComposer) Handedness() Handedness {
	return c.handedness
}

// Compose builds the render transform.
//
// The normalized image position is centred on the frame, scaled by the
// position sensitivity, converted to render space and offset. The calibrated
// scale is modulated by the filtered raw scale relative to ReferenceRawScale,
// so the asset grows as the head approaches the camera.
func (c *TransformComposer) Compose(pose PoseEstimate, cal ScaleCalibration, state TrackingState) RenderTransform {
	sens := c.cfg.PositionSensitivity
	local := Vec3{
		X: (pose.Position.X - 0.5) * sens.X,
		Y: (pose.Position.Y - 0.5) * sens.Y,
		Z: pose.Position.Z * sens.Z,
	}

	rel := Vec3{X: 1, Y: 1, Z: 1}
	if c.cfg.ReferenceRawScale > 0 {
		rel = pose.Scale.Scale(1 / c.cfg.ReferenceRawScale)
	}

	rot, ok := normalizeQuat(pose.Rotation)
	if !ok {
		rot = IdentityQuat()
	}

	return RenderTransform{
		Position: c.handedness.Position(local).Add(c.cfg.Offset),
		Rotation: c.handedness.Rotation(rot),
		Scale:    c.handedness.Scale(rel.Scale(cal.Scale)),
		Visible:  pose.Confidence > c.threshold && state != StateLost,
	}
}
