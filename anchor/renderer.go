package anchor

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// StatusRenderer draws a raster status card for one subject: the recent
// trail of filtered head positions in frame coordinates, coloured by tracking
// state, and a text block with the current pose.
type StatusRenderer struct {
	SubjectID   string
	Trail       []TrailPoint
	Output      Output
	Calibration ScaleCalibration
	Color       color.RGBA
	Width       int
	Height      int
}

// NewStatusRenderer creates a 640x480 status renderer.
func NewStatusRenderer(subjectID string, trail []TrailPoint, out Output, cal ScaleCalibration, hexColor string) *StatusRenderer {
	return &StatusRenderer{
		SubjectID:   subjectID,
		Trail:       trail,
		Output:      out,
		Calibration: cal,
		Color:       parseHexColor(hexColor),
		Width:       640,
		Height:      480,
	}
}

var (
	colorBackground  = color.RGBA{245, 245, 245, 255}
	colorFrame       = color.RGBA{180, 180, 180, 255}
	colorText        = color.RGBA{0, 0, 0, 255}
	colorCalibrating = color.RGBA{230, 170, 0, 255}
	colorLost        = color.RGBA{150, 150, 150, 255}
)

// stateColor picks the trail colour for a tracking state.
func (r *StatusRenderer) stateColor(s TrackingState) color.RGBA {
	switch s {
	case StateStable:
		return r.Color
	case StateCalibrating:
		return colorCalibrating
	default:
		return colorLost
	}
}

// Render draws the status card.
func (r *StatusRenderer) Render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.Set(x, y, colorBackground)
		}
	}

	// frame outline, inset for the text block
	const margin = 10
	top := 90
	drawRect(img, margin, top, r.Width-margin, r.Height-margin, colorFrame)

	toPixel := func(p Vec3) (int, int) {
		fw := float64(r.Width - 2*margin)
		fh := float64(r.Height - margin - top)
		return margin + int(math.Round(p.X*fw)), top + int(math.Round(p.Y*fh))
	}

	for i, tp := range r.Trail {
		x, y := toPixel(tp.Position)
		c := r.stateColor(tp.State)
		if i > 0 {
			px, py := toPixel(r.Trail[i-1].Position)
			drawLine(img, px, py, x, y, c)
		}
		drawCircle(img, x, y, 2, c)
	}
	if r.Output.Measured {
		x, y := toPixel(r.Output.Pose.Position)
		drawCircle(img, x, y, 6, r.stateColor(r.Output.State))
	}

	e := r.Output.Pose.Euler
	lines := []string{
		fmt.Sprintf("%s  state=%s  visible=%t", r.SubjectID, r.Output.State, r.Output.Transform.Visible),
		fmt.Sprintf("confidence=%.2f  frame=%d", r.Output.Pose.Confidence, r.Output.Pose.Frame),
		fmt.Sprintf("yaw=%.1f  pitch=%.1f  roll=%.1f (deg)", degrees(e.Yaw), degrees(e.Pitch), degrees(e.Roll)),
		fmt.Sprintf("scale=%.5f  factor=%.3f  distance=%.0fmm", r.Calibration.Scale, r.Calibration.OverallScaleFactor, r.Calibration.DistanceMm),
	}
	for i, l := range lines {
		drawText(img, margin, 20+i*18, l, colorText)
	}
	return img
}

// RenderToPNG writes the status card as PNG.
func (r *StatusRenderer) RenderToPNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}
}

// drawLine draws a one pixel line using Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	errAcc := dx + dy
	for {
		setPixel(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * errAcc
		if e2 >= dy {
			errAcc += dy
			x0 += sx
		}
		if e2 <= dx {
			errAcc += dx
			y0 += sy
		}
	}
}

// drawRect draws a rectangle outline
func drawRect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	drawLine(img, x0, y0, x1, y0, c)
	drawLine(img, x1, y0, x1, y1, c)
	drawLine(img, x1, y1, x0, y1, c)
	drawLine(img, x0, y1, x0, y0, c)
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.Set(x, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
