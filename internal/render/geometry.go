package render

import (
	"fmt"
	"math"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

const (
	// CurveBend is the control point offset as a fraction of edge length.
	CurveBend = 0.15
	// MaxCurveOffset caps the control point offset in content pixels.
	MaxCurveOffset = 50
)

// Curve is a quadratic edge from (X0, Y0) to (X1, Y1) with control point
// (CX, CY).
type Curve struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	Color  Color   `json:"color"`
}

// EdgeCurve runs from the bottom edge of the source footprint to the top
// edge of the target's, bent perpendicular to the straight line.
func EdgeCurve(src, dst *tree.Node) Curve {
	_, sh := tree.Size(src)
	_, th := tree.Size(dst)
	c := Curve{
		Source: src.ID,
		Target: dst.ID,
		X0:     src.X,
		Y0:     src.Y + sh/2,
		X1:     dst.X,
		Y1:     dst.Y - th/2,
		Color:  EdgeColor,
	}

	mx, my := (c.X0+c.X1)/2, (c.Y0+c.Y1)/2
	dx, dy := c.X1-c.X0, c.Y1-c.Y0
	length := math.Hypot(dx, dy)
	if length == 0 {
		c.CX, c.CY = mx, my
		return c
	}
	offset := math.Min(length*CurveBend, MaxCurveOffset)
	c.CX = mx - dy/length*offset
	c.CY = my + dx/length*offset
	return c
}

// Point evaluates the curve at t in [0, 1].
func (c Curve) Point(t float64) (float64, float64) {
	u := 1 - t
	x := u*u*c.X0 + 2*u*t*c.CX + t*t*c.X1
	y := u*u*c.Y0 + 2*u*t*c.CY + t*t*c.Y1
	return x, y
}

// Path returns the curve as SVG path data.
func (c Curve) Path() string {
	return fmt.Sprintf("M%.1f %.1f Q%.1f %.1f %.1f %.1f", c.X0, c.Y0, c.CX, c.CY, c.X1, c.Y1)
}

// Color is an 8-bit RGBA colour.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// Hex returns the colour as #rrggbb, ignoring alpha.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Opacity returns alpha in [0, 1].
func (c Color) Opacity() float64 {
	return float64(c.A) / 255
}

func (c Color) withAlpha(a uint8) Color {
	c.A = a
	return c
}

var (
	AnchorColor     = Color{0xf5, 0xb7, 0x00, 0xff}
	OccupationColor = Color{0x3b, 0x82, 0xf6, 0xff}
	GroupColor      = Color{0x8b, 0x5c, 0xf6, 0xff}
	SkillColor      = Color{0x10, 0xb9, 0x81, 0xff}
	CompletedColor  = Color{0x22, 0xc5, 0x5e, 0xff}
	SavedColor      = Color{0xef, 0x44, 0x44, 0xff}
	HoverColor      = Color{0xff, 0xff, 0xff, 0xff}
	MarkerColor     = Color{0x64, 0x74, 0x8b, 0xff}
	EdgeColor       = Color{0x94, 0xa3, 0xb8, 0xb0}
	NoStroke        = Color{}
)

// Alpha levels by lifecycle state.
const (
	alphaLocked = 0x99
	alphaHidden = 0x4c
)

// nodeFill encodes type and anchor status in hue and lifecycle state in
// alpha. Completed nodes get their own hue.
func nodeFill(n *tree.Node) Color {
	var c Color
	switch {
	case n.Anchor:
		c = AnchorColor
	case n.State == tree.StateCompleted:
		c = CompletedColor
	case n.Type == tree.TypeOccupation:
		c = OccupationColor
	case n.Type == tree.TypeSkillGroup:
		c = GroupColor
	default:
		c = SkillColor
	}
	switch n.State {
	case tree.StateLocked:
		c = c.withAlpha(alphaLocked)
	case tree.StateHidden:
		c = c.withAlpha(alphaHidden)
	}
	return c
}

func nodeStroke(n *tree.Node, f *Frame) Color {
	switch {
	case n.ID == f.Hovered || n.ID == f.Selected:
		return HoverColor
	case f.Saved[n.ID]:
		return SavedColor
	}
	return NoStroke
}
