package interact

import (
	"math"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestZoomNeverLeavesBounds(t *testing.T) {
	l := DefaultLimits()
	v := Home
	for i := 0; i < 1000; i++ {
		v = Reduce(v, Wheel{X: 400, Y: 300, Delta: -500}, l)
		if v.Zoom > l.MaxZoom {
			t.Fatalf("zoom %v above max after %d gestures", v.Zoom, i+1)
		}
	}
	if v.Zoom < l.MaxZoom-0.01 {
		t.Errorf("repeated zoom-in should approach max, got %v", v.Zoom)
	}

	for i := 0; i < 1000; i++ {
		v = Reduce(v, Wheel{X: 400, Y: 300, Delta: 500}, l)
		if v.Zoom < l.MinZoom {
			t.Fatalf("zoom %v below min after %d gestures", v.Zoom, i+1)
		}
	}
	if v.Zoom > l.MinZoom+0.01 {
		t.Errorf("repeated zoom-out should approach min, got %v", v.Zoom)
	}
}

func TestSoftResistanceNearBound(t *testing.T) {
	l := Limits{MinZoom: 0.5, MaxZoom: 2}
	v := Viewport{Zoom: 1.8}
	// a gesture that would overshoot only closes half the gap
	v = Reduce(v, Wheel{Delta: -1000}, l)
	if !approx(v.Zoom, 1.9) {
		t.Errorf("zoom = %v, want 1.9", v.Zoom)
	}
}

func TestNonFiniteWheelIsIgnored(t *testing.T) {
	l := DefaultLimits()
	for _, d := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if v := Reduce(Home, Wheel{X: 400, Y: 300, Delta: d}, l); v != Home {
			t.Errorf("delta %v moved the viewport to %+v", d, v)
		}
	}
}

func TestZoomIsMultiplicative(t *testing.T) {
	l := DefaultLimits()
	a := Reduce(Home, Wheel{Delta: -100}, l)
	b := Reduce(a, Wheel{Delta: -100}, l)
	if !approx(b.Zoom/a.Zoom, a.Zoom/Home.Zoom) {
		t.Errorf("equal deltas should scale equally: %v then %v", a.Zoom, b.Zoom)
	}
}

func TestZoomAnchoredAtPointer(t *testing.T) {
	v := Viewport{Zoom: 1.3, PanX: 40, PanY: -25}
	px, py := 250.0, 180.0
	cx, cy := (px-v.PanX)/v.Zoom, (py-v.PanY)/v.Zoom

	v = Reduce(v, Wheel{X: px, Y: py, Delta: -200}, DefaultLimits())
	sx, sy := v.Transform().Apply(cx, cy)
	if !approx(sx, px) || !approx(sy, py) {
		t.Errorf("content point moved from (%v, %v) to (%v, %v)", px, py, sx, sy)
	}
}

func TestKeyPanScalesWithZoom(t *testing.T) {
	c := NewController(Config{})
	c.Dispatch(Set{Viewport{Zoom: 2}})
	if !c.Key("ArrowLeft") {
		t.Fatal("arrow key not handled")
	}
	if v := c.Viewport(); !approx(v.PanX, KeyPanStep/2) {
		t.Errorf("pan at zoom 2 = %v, want %v", v.PanX, KeyPanStep/2.0)
	}
	c.Key("ArrowDown")
	if v := c.Viewport(); !approx(v.PanY, -KeyPanStep/2) {
		t.Errorf("pan y = %v", v.PanY)
	}
	if c.Key("q") {
		t.Error("unknown key should not be handled")
	}
}

func TestDragPansByRawDelta(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := NewController(Config{Now: clk.Now})
	c.Dispatch(Set{Viewport{Zoom: 2.5}})

	c.PointerDown(100, 100)
	c.PointerMove(130, 90)
	v := c.Viewport()
	if v.PanX != 30 || v.PanY != -10 {
		t.Errorf("pan = (%v, %v), want (30, -10) regardless of zoom", v.PanX, v.PanY)
	}
	c.PointerUp()
	c.PointerMove(500, 500)
	if c.Viewport() != v {
		t.Error("moves after pointer up must not pan")
	}
}

func TestThrottleAccumulates(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := NewController(Config{Now: clk.Now})

	c.PointerDown(0, 0)
	c.PointerMove(10, 0) // applied: first event
	clk.Advance(5 * time.Millisecond)
	c.PointerMove(20, 0) // held back
	clk.Advance(5 * time.Millisecond)
	c.PointerMove(25, 0) // held back

	if v := c.Viewport(); v.PanX != 10 {
		t.Fatalf("pan = %v, want 10 while throttled", v.PanX)
	}

	clk.Advance(6 * time.Millisecond)
	c.Tick(clk.Now())
	if v := c.Viewport(); v.PanX != 25 {
		t.Errorf("pan = %v, want 25 once the interval passed", v.PanX)
	}

	clk.Advance(time.Millisecond)
	c.Wheel(0, 0, -100)
	if c.Viewport().Zoom != 1 {
		t.Error("wheel inside the interval should be held back")
	}
	clk.Advance(DefaultThrottle)
	c.Wheel(0, 0, -100)
	want := math.Exp(200 * WheelSensitivity)
	if z := c.Viewport().Zoom; !approx(z, want) {
		t.Errorf("zoom = %v, want accumulated %v", z, want)
	}
}

func TestPointerUpFlushes(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := NewController(Config{Now: clk.Now})
	c.PointerDown(0, 0)
	c.PointerMove(5, 5)
	c.PointerMove(8, 9) // held back
	c.PointerUp()
	if v := c.Viewport(); v.PanX != 8 || v.PanY != 9 {
		t.Errorf("pan = (%v, %v), want (8, 9)", v.PanX, v.PanY)
	}
	if c.Dragging() {
		t.Error("drag should have ended")
	}
}

func TestResetAnimation(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := NewController(Config{Now: clk.Now})
	c.Dispatch(Set{Viewport{Zoom: 3, PanX: 200, PanY: -100}})

	c.Reset()
	if !c.Animating() {
		t.Fatal("reset should start an animation")
	}

	clk.Advance(ResetDuration / 2)
	v := c.Tick(clk.Now())
	p := easeOutCubic(0.5)
	if !approx(v.Zoom, 3+(1-3)*p) || !approx(v.PanX, 200*(1-p)) {
		t.Errorf("midway viewport %+v", v)
	}
	if v.Zoom-1 > (3-1)/2 {
		t.Error("ease-out should be past halfway at half time")
	}

	clk.Advance(ResetDuration / 2)
	v = c.Tick(clk.Now())
	if v != Home || c.Animating() {
		t.Errorf("animation should end exactly at home, got %+v", v)
	}
}

func TestGestureCancelsReset(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := NewController(Config{Now: clk.Now})
	c.Dispatch(Set{Viewport{Zoom: 2, PanX: 100}})
	c.Reset()

	clk.Advance(100 * time.Millisecond)
	mid := c.Tick(clk.Now())

	c.PointerDown(0, 0)
	if c.Animating() {
		t.Fatal("new gesture should cancel the animation")
	}
	clk.Advance(ResetDuration)
	if v := c.Tick(clk.Now()); v != mid {
		t.Errorf("viewport kept animating after cancel: %+v vs %+v", v, mid)
	}
}

func TestResetAtHomeIsNoop(t *testing.T) {
	c := NewController(Config{})
	c.Reset()
	if c.Animating() {
		t.Error("nothing to animate at home")
	}
}
