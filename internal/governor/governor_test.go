package governor

import (
	"bytes"
	"context"
	"log"
	"math"
	"testing"
	"time"
)

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func TestSelectThresholds(t *testing.T) {
	tests := []struct {
		fps  float64
		want Strategy
	}{
		{0, StrategyMinimal},
		{19.9, StrategyMinimal},
		{20, StrategySimplified},
		{25, StrategySimplified},
		{34.9, StrategySimplified},
		{35, StrategyGPU},
		{60, StrategyGPU},
	}
	for _, tc := range tests {
		if got := Select(tc.fps); got != tc.want {
			t.Errorf("Select(%v) = %s, want %s", tc.fps, got, tc.want)
		}
	}
}

func TestSlowFramesSelectSimplified(t *testing.T) {
	var changes []Strategy
	g := New(Config{
		Logger:   quietLogger(),
		OnChange: func(from, to Strategy) { changes = append(changes, to) },
	})
	if g.Current() != StrategyGPU {
		t.Fatalf("governor should start on gpu, got %s", g.Current())
	}

	for i := 0; i < DefaultWindow; i++ {
		g.RecordFrame(40 * time.Millisecond)
	}
	if fps := g.AverageFPS(); math.Abs(fps-25) > 1e-9 {
		t.Errorf("average fps = %v, want 25", fps)
	}
	if got := g.Evaluate(); got != StrategySimplified {
		t.Errorf("evaluate = %s, want simplified", got)
	}
	if len(changes) != 1 || changes[0] != StrategySimplified {
		t.Errorf("expected one change to simplified, got %v", changes)
	}
	if g.NodeCap() != 15 {
		t.Errorf("node cap = %d, want 15", g.NodeCap())
	}
}

func TestRollingWindow(t *testing.T) {
	g := New(Config{Window: 4, Logger: quietLogger()})
	for i := 0; i < 4; i++ {
		g.RecordFrame(100 * time.Millisecond)
	}
	if fps := g.AverageFPS(); math.Abs(fps-10) > 1e-9 {
		t.Fatalf("fps = %v, want 10", fps)
	}
	// four fast frames push every slow one out
	for i := 0; i < 4; i++ {
		g.RecordFrame(10 * time.Millisecond)
	}
	if fps := g.AverageFPS(); math.Abs(fps-100) > 1e-9 {
		t.Errorf("fps = %v, want 100", fps)
	}
	if g.Samples() != 4 {
		t.Errorf("samples = %d, want 4", g.Samples())
	}
}

func TestNoSamplesKeepsStrategy(t *testing.T) {
	g := New(Config{Logger: quietLogger()})
	if g.AverageFPS() != 0 {
		t.Error("empty window should report 0 fps")
	}
	if g.Evaluate() != StrategyGPU {
		t.Error("empty window should keep gpu")
	}
}

func TestEvaluateDoesNotRepeatCallbacks(t *testing.T) {
	calls := 0
	g := New(Config{Logger: quietLogger(), OnChange: func(_, _ Strategy) { calls++ }})
	for i := 0; i < 10; i++ {
		g.RecordFrame(100 * time.Millisecond)
	}
	g.Evaluate()
	g.Evaluate()
	if calls != 1 {
		t.Errorf("callback fired %d times, want 1", calls)
	}
	if g.Current() != StrategyMinimal {
		t.Errorf("current = %s, want minimal", g.Current())
	}

	g.Reset()
	if g.Current() != StrategyGPU || g.Samples() != 0 {
		t.Error("reset should clear samples and return to gpu")
	}
}

func TestCaps(t *testing.T) {
	c := DefaultCaps()
	if c.For(StrategyMinimal) != 10 || c.For(StrategySimplified) != 15 || c.For(StrategyGPU) != 25 {
		t.Errorf("unexpected caps %+v", c)
	}
	g := New(Config{Caps: Caps{Minimal: 1, Simplified: 2, GPU: 3}, Logger: quietLogger()})
	if g.NodeCap() != 3 {
		t.Errorf("custom gpu cap = %d, want 3", g.NodeCap())
	}
}

func TestRunEvaluatesOnInterval(t *testing.T) {
	changed := make(chan Strategy, 1)
	g := New(Config{
		Interval: 10 * time.Millisecond,
		Logger:   quietLogger(),
		OnChange: func(_, to Strategy) {
			select {
			case changed <- to:
			default:
			}
		},
	})
	for i := 0; i < DefaultWindow; i++ {
		g.RecordFrame(80 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	select {
	case s := <-changed:
		if s != StrategyMinimal {
			t.Errorf("switched to %s, want minimal", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("governor never evaluated")
	}
	g.Stop()
}

func TestStrategyString(t *testing.T) {
	if StrategyGPU.String() != "gpu" || StrategySimplified.String() != "simplified" || StrategyMinimal.String() != "minimal" {
		t.Error("unexpected strategy names")
	}
}
