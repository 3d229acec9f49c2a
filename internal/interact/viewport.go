// Package interact turns pointer, wheel and keyboard input into viewport
// state. All viewport changes go through Reduce so every transition is a
// plain function of the previous state and one action.
package interact

import (
	"math"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/render"
)

const (
	DefaultMinZoom = 0.2
	DefaultMaxZoom = 3.0

	// WheelSensitivity converts wheel delta units into a zoom exponent.
	WheelSensitivity = 0.0015
	// KeyPanStep is the keyboard pan distance at zoom 1, in pixels.
	KeyPanStep = 50
	// softness is the fraction of the remaining distance to a zoom bound
	// that one over-reaching gesture may cover.
	softness = 0.5
)

// Viewport is the zoom and pan applied to the content.
type Viewport struct {
	Zoom float64 `json:"zoom"`
	PanX float64 `json:"panX"`
	PanY float64 `json:"panY"`
}

// Home is the untouched viewport.
var Home = Viewport{Zoom: 1}

// Transform returns the viewport as a render transform.
func (v Viewport) Transform() render.Transform {
	return render.Transform{Scale: v.Zoom, TX: v.PanX, TY: v.PanY}
}

// Limits bounds the zoom level.
type Limits struct {
	MinZoom float64
	MaxZoom float64
}

// DefaultLimits returns the standard zoom range.
func DefaultLimits() Limits {
	return Limits{MinZoom: DefaultMinZoom, MaxZoom: DefaultMaxZoom}
}

func (l Limits) normalized() Limits {
	if l.MinZoom <= 0 {
		l.MinZoom = DefaultMinZoom
	}
	if l.MaxZoom < l.MinZoom {
		l.MaxZoom = l.MinZoom
	}
	return l
}

// Action is a viewport transition.
type Action interface {
	apply(v Viewport, l Limits) Viewport
}

// Wheel zooms by a wheel delta, keeping the content point under (X, Y)
// fixed on screen. Negative deltas zoom in.
type Wheel struct {
	X, Y  float64
	Delta float64
}

// Drag pans by a raw screen delta.
type Drag struct {
	DX, DY float64
}

// KeyPan pans by a number of keyboard steps along each axis.
type KeyPan struct {
	StepsX, StepsY float64
}

// Set replaces the viewport outright.
type Set struct {
	Viewport Viewport
}

// Reduce applies one action.
func Reduce(v Viewport, a Action, l Limits) Viewport {
	return a.apply(v, l.normalized())
}

func (w Wheel) apply(v Viewport, l Limits) Viewport {
	if math.IsNaN(w.Delta) || math.IsInf(w.Delta, 0) {
		return v
	}
	zoom := softClamp(v.Zoom, v.Zoom*math.Exp(-w.Delta*WheelSensitivity), l)
	if zoom == v.Zoom {
		return v
	}
	// content point under the cursor
	cx := (w.X - v.PanX) / v.Zoom
	cy := (w.Y - v.PanY) / v.Zoom
	return Viewport{
		Zoom: zoom,
		PanX: w.X - cx*zoom,
		PanY: w.Y - cy*zoom,
	}
}

func (d Drag) apply(v Viewport, _ Limits) Viewport {
	v.PanX += d.DX
	v.PanY += d.DY
	return v
}

func (k KeyPan) apply(v Viewport, _ Limits) Viewport {
	step := KeyPanStep / v.Zoom
	v.PanX += k.StepsX * step
	v.PanY += k.StepsY * step
	return v
}

func (s Set) apply(_ Viewport, _ Limits) Viewport {
	return s.Viewport
}

// softClamp moves from current toward target. A target past a bound only
// closes part of the remaining gap, so the bound is approached but never
// crossed.
func softClamp(current, target float64, l Limits) float64 {
	switch {
	case target > l.MaxZoom:
		if current >= l.MaxZoom {
			return math.Min(current, l.MaxZoom)
		}
		return math.Min(current+(l.MaxZoom-current)*softness, l.MaxZoom)
	case target < l.MinZoom:
		if current <= l.MinZoom {
			return math.Max(current, l.MinZoom)
		}
		return math.Max(current+(l.MinZoom-current)*softness, l.MinZoom)
	}
	return target
}
