package anchor

import (
	"fmt"
	"image/color"
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"gonum.org/v1/gonum/num/quat"
)

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// OverlayRenderer draws a detection frame with its landmarks, the eye line,
// and the filtered head axes projected at the forehead. Output size equals
// the detector frame size, one unit per pixel.
type OverlayRenderer struct {
	Detection  *Detection
	Output     *Output // optional; draws head axes when set
	Color      color.RGBA
	PointSize  float64 // landmark dot radius in pixels
	AxisLength float64 // axis length as a multiple of eye distance
	Resolution canvas.Resolution
}

// NewOverlayRenderer creates an overlay renderer with default styling.
func NewOverlayRenderer(det *Detection, out *Output, hexColor string) *OverlayRenderer {
	return &OverlayRenderer{
		Detection:  det,
		Output:     out,
		Color:      parseHexColor(hexColor),
		PointSize:  1.5,
		AxisLength: 1.0,
		Resolution: canvas.DPMM(1),
	}
}

func (r *OverlayRenderer) size() (float64, float64, error) {
	if r.Detection == nil || r.Detection.FrameWidth <= 0 || r.Detection.FrameHeight <= 0 {
		return 0, 0, fmt.Errorf("overlay needs a detection with a frame size: %w", ErrInvalidMeasurement)
	}
	return float64(r.Detection.FrameWidth), float64(r.Detection.FrameHeight), nil
}

// RenderToSVG writes the overlay as SVG.
func (r *OverlayRenderer) RenderToSVG(w io.Writer) error {
	width, height, err := r.size()
	if err != nil {
		return err
	}
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the overlay as PNG.
func (r *OverlayRenderer) RenderToPNG(w io.Writer) error {
	width, height, err := r.size()
	if err != nil {
		return err
	}
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, width, height)
	return png.Encode(w, rast)
}

func (r *OverlayRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) {
	// canvas is y-up, detector frames are y-down
	toCanvas := func(l Landmark) (float64, float64) {
		return l.X, height - l.Y
	}

	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	set := r.Detection.Landmarks
	if set.Len() == 0 {
		return
	}

	dotStyle := canvas.DefaultStyle
	dotStyle.Fill = canvas.Paint{Color: r.Color}
	dotStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, l := range set.Points() {
		if !l.IsFinite() {
			continue
		}
		x, y := toCanvas(l)
		renderer.RenderPath(canvas.Circle(r.PointSize).Translate(x, y), dotStyle, canvas.Identity)
	}

	left, errL := set.LeftEyeCenter()
	right, errR := set.RightEyeCenter()
	if errL != nil || errR != nil {
		return
	}

	lineStyle := canvas.DefaultStyle
	lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	lineStyle.Stroke = canvas.Paint{Color: canvas.Black}
	lineStyle.StrokeWidth = 1.0

	eyeLine := &canvas.Path{}
	eyeLine.MoveTo(toCanvas(right))
	eyeLine.LineTo(toCanvas(left))
	renderer.RenderPath(eyeLine, lineStyle, canvas.Identity)

	if nose, err := set.NoseTip(); err == nil {
		mid := Landmark{X: (left.X + right.X) / 2, Y: (left.Y + right.Y) / 2}
		noseLine := &canvas.Path{}
		noseLine.MoveTo(toCanvas(mid))
		noseLine.LineTo(toCanvas(nose))
		renderer.RenderPath(noseLine, lineStyle, canvas.Identity)
	}

	forehead, err := set.Forehead()
	if err != nil || r.Output == nil {
		return
	}
	length := Distance2D(left, right) * r.AxisLength
	ox, oy := toCanvas(forehead)
	for _, axis := range projectAxes(r.Output.Pose.Rotation, length) {
		style := lineStyle
		style.Stroke = canvas.Paint{Color: axis.color}
		style.StrokeWidth = 2.0
		p := &canvas.Path{}
		p.MoveTo(ox, oy)
		// detector space is y-down; flip to canvas
		p.LineTo(ox+axis.dx, oy-axis.dy)
		renderer.RenderPath(p, style, canvas.Identity)
	}
}

type projectedAxis struct {
	dx, dy float64
	color  color.RGBA
}

// projectAxes rotates the unit axes by q (detector space) and drops z.
func projectAxes(q quat.Number, length float64) []projectedAxis {
	q, ok := normalizeQuat(q)
	if !ok {
		q = IdentityQuat()
	}
	axes := []struct {
		v quat.Number
		c color.RGBA
	}{
		{quat.Number{Imag: 1}, color.RGBA{R: 220, A: 255}},
		{quat.Number{Jmag: 1}, color.RGBA{G: 180, A: 255}},
		{quat.Number{Kmag: 1}, color.RGBA{B: 220, A: 255}},
	}
	out := make([]projectedAxis, len(axes))
	for i, a := range axes {
		r := quat.Mul(quat.Mul(q, a.v), quat.Conj(q))
		out[i] = projectedAxis{dx: r.Imag * length, dy: r.Jmag * length, color: a.c}
	}
	return out
}
