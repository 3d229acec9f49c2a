// Package governor samples frame durations and picks the renderer strategy
// the measured frame rate can sustain.
package governor

import (
	"context"
	"log"
	"sync"
	"time"
)

// Strategy identifies a renderer strategy, cheapest first.
type Strategy int

const (
	StrategyMinimal Strategy = iota
	StrategySimplified
	StrategyGPU
)

func (s Strategy) String() string {
	switch s {
	case StrategyMinimal:
		return "minimal"
	case StrategySimplified:
		return "simplified"
	case StrategyGPU:
		return "gpu"
	}
	return "unknown"
}

// Frame-rate thresholds.
const (
	MinimalBelowFPS    = 20
	SimplifiedBelowFPS = 35
)

const (
	DefaultWindow   = 60
	DefaultInterval = 1 * time.Second
)

// Caps bounds how many visible nodes each strategy draws.
type Caps struct {
	Minimal    int `yaml:"minimal"`
	Simplified int `yaml:"simplified"`
	GPU        int `yaml:"gpu"`
}

// DefaultCaps returns the standard per-strategy node caps.
func DefaultCaps() Caps {
	return Caps{Minimal: 10, Simplified: 15, GPU: 25}
}

// For returns the cap for s.
func (c Caps) For(s Strategy) int {
	switch s {
	case StrategyMinimal:
		return c.Minimal
	case StrategySimplified:
		return c.Simplified
	default:
		return c.GPU
	}
}

// Select maps an average frame rate to a strategy.
func Select(fps float64) Strategy {
	switch {
	case fps < MinimalBelowFPS:
		return StrategyMinimal
	case fps < SimplifiedBelowFPS:
		return StrategySimplified
	default:
		return StrategyGPU
	}
}

// Config configures a Governor.
type Config struct {
	Window   int
	Interval time.Duration
	Caps     Caps
	// OnChange is called from Evaluate whenever the strategy switches.
	OnChange func(from, to Strategy)
	Logger   *log.Logger
	Debug    bool
}

// Governor keeps a rolling window of frame durations.
type Governor struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	samples []time.Duration
	next    int
	count   int
	total   time.Duration
	current Strategy

	stop chan struct{}
}

// New creates a governor that starts on the GPU strategy.
func New(cfg Config) *Governor {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Caps == (Caps{}) {
		cfg.Caps = DefaultCaps()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Governor{
		cfg:     cfg,
		logger:  logger,
		samples: make([]time.Duration, cfg.Window),
		current: StrategyGPU,
	}
}

// RecordFrame adds one frame duration to the window, displacing the
// oldest sample once the window is full.
func (g *Governor) RecordFrame(d time.Duration) {
	if d < 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == len(g.samples) {
		g.total -= g.samples[g.next]
	} else {
		g.count++
	}
	g.samples[g.next] = d
	g.total += d
	g.next = (g.next + 1) % len(g.samples)
}

// AverageFPS returns the frame rate implied by the mean sampled frame
// duration, or 0 when nothing has been sampled.
func (g *Governor) AverageFPS() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.averageFPSLocked()
}

func (g *Governor) averageFPSLocked() float64 {
	if g.count == 0 {
		return 0
	}
	if g.total <= 0 {
		return 1000
	}
	mean := g.total / time.Duration(g.count)
	return float64(time.Second) / float64(mean)
}

// Samples returns how many frames are in the window.
func (g *Governor) Samples() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Current returns the strategy chosen by the last evaluation.
func (g *Governor) Current() Strategy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// NodeCap returns the node cap of the current strategy.
func (g *Governor) NodeCap() int {
	return g.cfg.Caps.For(g.Current())
}

// Caps returns the configured caps.
func (g *Governor) Caps() Caps {
	return g.cfg.Caps
}

// Evaluate re-selects the strategy from the current window. With no
// samples the current strategy is kept.
func (g *Governor) Evaluate() Strategy {
	g.mu.Lock()
	if g.count == 0 {
		s := g.current
		g.mu.Unlock()
		return s
	}
	fps := g.averageFPSLocked()
	from := g.current
	to := Select(fps)
	g.current = to
	g.mu.Unlock()

	if g.cfg.Debug {
		g.logger.Printf("governor: %.1f fps over %d frames -> %s", fps, g.Samples(), to)
	}
	if to != from {
		g.logger.Printf("governor: switching renderer %s -> %s (%.1f fps)", from, to, fps)
		if g.cfg.OnChange != nil {
			g.cfg.OnChange(from, to)
		}
	}
	return to
}

// Reset clears the window and returns to the GPU strategy.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.samples {
		g.samples[i] = 0
	}
	g.next, g.count, g.total = 0, 0, 0
	g.current = StrategyGPU
}

// Start begins evaluating on the configured interval. Starting a running
// governor is a no-op.
func (g *Governor) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return
	}
	g.stop = make(chan struct{})
	go g.run(ctx, g.stop)
}

// Stop signals the evaluation loop to stop. Safe to call more than once.
func (g *Governor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
}

func (g *Governor) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			g.Evaluate()
		}
	}
}
