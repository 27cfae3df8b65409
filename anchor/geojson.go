package anchor

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
)

// Detections and trails are exported in image coordinates: x to the right, y
// down. Landmark geometry is in pixels; trail geometry is in normalized frame
// units [0,1].

// DetectionToFeatureCollection exports a detection as GeoJSON: all landmarks
// as one MultiPoint, the eye line, the nose tip, and the landmark bounds.
func DetectionToFeatureCollection(subjectID string, det *Detection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if det == nil || det.Landmarks.Len() == 0 {
		return fc
	}
	set := det.Landmarks

	mp := make(orb.MultiPoint, 0, set.Len())
	for _, l := range set.Points() {
		if l.IsFinite() {
			mp = append(mp, l.Point())
		}
	}
	f := geojson.NewFeature(mp)
	f.Properties["subjectId"] = subjectID
	f.Properties["layerType"] = "landmarks"
	f.Properties["count"] = set.Len()
	f.Properties["seq"] = det.Seq
	fc.Append(f)

	bounds := geojson.NewFeature(set.Bound().ToPolygon())
	bounds.Properties["subjectId"] = subjectID
	bounds.Properties["layerType"] = "bounds"
	fc.Append(bounds)

	left, errL := set.LeftEyeCenter()
	right, errR := set.RightEyeCenter()
	if errL == nil && errR == nil {
		eyes := geojson.NewFeature(orb.LineString{right.Point(), left.Point()})
		eyes.Properties["subjectId"] = subjectID
		eyes.Properties["layerType"] = "eyeLine"
		eyes.Properties["eyeDistancePx"] = Distance2D(left, right)
		fc.Append(eyes)
	}

	if nose, err := set.NoseTip(); err == nil {
		n := geojson.NewFeature(nose.Point())
		n.Properties["subjectId"] = subjectID
		n.Properties["layerType"] = "noseTip"
		fc.Append(n)
	}
	return fc
}

// TrailToFeatureCollection exports a subject's trail as a simplified
// LineString plus a Point for the most recent pose. tolerance is the
// Douglas-Peucker tolerance in normalized units; 0 disables simplification.
func TrailToFeatureCollection(subjectID string, trail []TrailPoint, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if len(trail) == 0 {
		return fc
	}

	ls := make(orb.LineString, len(trail))
	for i, tp := range trail {
		ls[i] = orb.Point{tp.Position.X, tp.Position.Y}
	}
	rawCount := len(ls)
	if tolerance > 0 && len(ls) > 2 {
		if s, ok := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone()).(orb.LineString); ok {
			ls = s
		}
	}

	first, last := trail[0], trail[len(trail)-1]
	if len(ls) >= 2 {
		line := geojson.NewFeature(ls)
		line.Properties["subjectId"] = subjectID
		line.Properties["layerType"] = "trail"
		line.Properties["points"] = rawCount
		line.Properties["firstFrame"] = first.Frame
		line.Properties["lastFrame"] = last.Frame
		line.Properties["startTime"] = first.Timestamp
		line.Properties["endTime"] = last.Timestamp
		fc.Append(line)
	}

	head := geojson.NewFeature(orb.Point{last.Position.X, last.Position.Y})
	head.Properties["subjectId"] = subjectID
	head.Properties["layerType"] = "pose"
	head.Properties["frame"] = last.Frame
	head.Properties["state"] = last.State.String()
	head.Properties["confidence"] = last.Confidence
	head.Properties["visible"] = last.Visible
	head.Properties["yaw"] = last.Euler.Yaw
	head.Properties["pitch"] = last.Euler.Pitch
	head.Properties["roll"] = last.Euler.Roll
	fc.Append(head)
	return fc
}
