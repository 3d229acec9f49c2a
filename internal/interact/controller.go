package interact

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultThrottle is one animation frame.
	DefaultThrottle = 16 * time.Millisecond
	// ResetDuration is the length of the reset-view animation.
	ResetDuration = 300 * time.Millisecond
)

// Config configures a Controller.
type Config struct {
	Limits   Limits
	Throttle time.Duration
	Now      func() time.Time
}

// Controller owns the viewport. Pointer and wheel input is throttled:
// events arriving within the throttle interval are accumulated and
// applied together on the next accepted event or Tick.
type Controller struct {
	mu       sync.Mutex
	v        Viewport
	limits   Limits
	throttle time.Duration
	now      func() time.Time

	lastApplied time.Time

	pendingDX, pendingDY float64
	pendingDrag          bool
	pendingWheel         *Wheel

	dragging     bool
	lastX, lastY float64

	anim *resetAnimation
}

type resetAnimation struct {
	from  Viewport
	start time.Time
}

// NewController creates a controller at the home viewport.
func NewController(cfg Config) *Controller {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		v:        Home,
		limits:   cfg.Limits.normalized(),
		throttle: cfg.Throttle,
		now:      cfg.Now,
	}
}

// Viewport returns the current viewport.
func (c *Controller) Viewport() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

// Limits returns the zoom range.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Dispatch applies an action immediately, cancelling any reset animation.
func (c *Controller) Dispatch(a Action) Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anim = nil
	c.v = Reduce(c.v, a, c.limits)
	return c.v
}

// Wheel zooms at a screen point, subject to the throttle.
func (c *Controller) Wheel(x, y, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anim = nil
	if c.pendingWheel == nil {
		c.pendingWheel = &Wheel{}
	}
	c.pendingWheel.X, c.pendingWheel.Y = x, y
	c.pendingWheel.Delta += delta
	c.flushLocked(c.now(), false)
}

// PointerDown starts a drag.
func (c *Controller) PointerDown(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anim = nil
	c.dragging = true
	c.lastX, c.lastY = x, y
}

// PointerMove pans by the movement since the last pointer event while a
// drag is in progress, subject to the throttle.
func (c *Controller) PointerMove(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dragging {
		return
	}
	c.pendingDX += x - c.lastX
	c.pendingDY += y - c.lastY
	c.pendingDrag = true
	c.lastX, c.lastY = x, y
	c.flushLocked(c.now(), false)
}

// PointerUp ends a drag, applying any movement still held back.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = false
	c.flushLocked(c.now(), true)
}

// Dragging reports whether a drag is in progress.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

// Key handles a keyboard event and reports whether it was recognised.
// Arrow keys pan by a step that is constant in content space; "0" and
// "Home" reset the view.
func (c *Controller) Key(key string) bool {
	var a KeyPan
	switch key {
	case "ArrowLeft", "Left":
		a.StepsX = 1
	case "ArrowRight", "Right":
		a.StepsX = -1
	case "ArrowUp", "Up":
		a.StepsY = 1
	case "ArrowDown", "Down":
		a.StepsY = -1
	case "0", "Home":
		c.Reset()
		return true
	default:
		return false
	}
	c.Dispatch(a)
	return true
}

// Reset starts animating back to the home viewport.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.v == Home {
		c.anim = nil
		return
	}
	c.anim = &resetAnimation{from: c.v, start: c.now()}
}

// Animating reports whether a reset animation is running.
func (c *Controller) Animating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anim != nil
}

// Tick advances the reset animation and applies held-back input whose
// throttle interval has passed. Call it once per frame.
func (c *Controller) Tick(now time.Time) Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushLocked(now, false)

	if c.anim != nil {
		t := float64(now.Sub(c.anim.start)) / float64(ResetDuration)
		if t >= 1 {
			c.v = Home
			c.anim = nil
		} else {
			p := easeOutCubic(math.Max(t, 0))
			from := c.anim.from
			c.v = Viewport{
				Zoom: from.Zoom + (Home.Zoom-from.Zoom)*p,
				PanX: from.PanX + (Home.PanX-from.PanX)*p,
				PanY: from.PanY + (Home.PanY-from.PanY)*p,
			}
		}
	}
	return c.v
}

// flushLocked applies accumulated pointer and wheel input when the
// throttle allows it, or unconditionally when force is set.
func (c *Controller) flushLocked(now time.Time, force bool) {
	if !c.pendingDrag && c.pendingWheel == nil {
		return
	}
	if !force && !c.lastApplied.IsZero() && now.Sub(c.lastApplied) < c.throttle {
		return
	}
	if c.pendingDrag {
		c.v = Reduce(c.v, Drag{DX: c.pendingDX, DY: c.pendingDY}, c.limits)
		c.pendingDX, c.pendingDY, c.pendingDrag = 0, 0, false
	}
	if c.pendingWheel != nil {
		c.v = Reduce(c.v, *c.pendingWheel, c.limits)
		c.pendingWheel = nil
	}
	c.lastApplied = now
}

func easeOutCubic(t float64) float64 {
	u := 1 - t
	return 1 - u*u*u
}
