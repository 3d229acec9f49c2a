// Package render draws positioned tree nodes onto a Surface. Three
// strategies share one contract and differ in draw cost:
//
//   - GPU: every node as an instanced quad in a single batch, with the
//     viewport applied as one uniform transform.
//   - Simplified: one retained element per node and edge; pan and zoom
//     only move the container transform.
//   - Minimal: retained like Simplified, with uniform markers and a small
//     fixed edge budget.
//
// Renderers never mutate the frame they are given.
package render

import (
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/governor"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/spatial"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// Transform maps content coordinates to screen coordinates:
// screen = content*Scale + (TX, TY).
type Transform struct {
	Scale float64 `json:"scale"`
	TX    float64 `json:"tx"`
	TY    float64 `json:"ty"`
}

// Identity is the transform of an untouched viewport.
var Identity = Transform{Scale: 1}

// Apply maps a content point to the screen.
func (t Transform) Apply(x, y float64) (float64, float64) {
	return x*t.Scale + t.TX, y*t.Scale + t.TY
}

// Invert maps a screen point back to content coordinates.
func (t Transform) Invert(sx, sy float64) (float64, float64) {
	s := t.Scale
	if s == 0 {
		s = 1
	}
	return (sx - t.TX) / s, (sy - t.TY) / s
}

// Visible returns the content-space rectangle shown on a w x h screen.
func (t Transform) Visible(w, h float64) tree.Rect {
	x0, y0 := t.Invert(0, 0)
	x1, y1 := t.Invert(w, h)
	return tree.Rect{MinX: x0, MinY: y0, MaxX: x1, MaxY: y1}
}

// Frame is everything a renderer needs for one draw. Nodes are the
// culled, visible nodes; Edges may reference nodes outside the frame and
// those are skipped.
type Frame struct {
	Nodes     []tree.Node
	Edges     []tree.Edge
	Transform Transform
	Saved     map[string]bool
	Hovered   string
	Selected  string
	// Cap limits how many nodes are drawn. Zero means no limit.
	Cap int
}

// Stats describes what a render produced.
type Stats struct {
	Nodes     int
	Edges     int
	DrawCalls int
}

// Surface is an output target. GPU rendering submits whole batches;
// retained rendering submits incremental patches.
type Surface interface {
	Size() (w, h float64)
	DrawBatch(b *Batch) error
	ApplyPatch(p *Patch) error
}

// Renderer is one rendering strategy.
type Renderer interface {
	Strategy() governor.Strategy
	Render(s Surface, f *Frame) (Stats, error)
	// Reset forgets retained state so the next render redraws everything.
	Reset()
}

// New returns the renderer for a strategy.
func New(s governor.Strategy) Renderer {
	switch s {
	case governor.StrategyMinimal:
		return newRetained(governor.StrategyMinimal)
	case governor.StrategySimplified:
		return newRetained(governor.StrategySimplified)
	default:
		return &gpuRenderer{}
	}
}

// HitTest returns the node under a screen point.
func HitTest(ix *spatial.Index, t Transform, sx, sy float64) (tree.Node, bool) {
	x, y := t.Invert(sx, sy)
	return ix.HitTest(x, y)
}

// selectNodes drops invisible nodes and applies the node cap, keeping
// anchors first and otherwise preserving input order.
func selectNodes(nodes []tree.Node, limit int) []*tree.Node {
	out := make([]*tree.Node, 0, len(nodes))
	for i := range nodes {
		if nodes[i].Visible && nodes[i].Anchor {
			out = append(out, &nodes[i])
		}
	}
	for i := range nodes {
		if nodes[i].Visible && !nodes[i].Anchor {
			out = append(out, &nodes[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// selectEdges keeps edges whose endpoints are both drawn, up to limit
// (zero means no limit).
func selectEdges(edges []tree.Edge, drawn map[string]*tree.Node, limit int) []Curve {
	var out []Curve
	for _, e := range edges {
		src, ok := drawn[e.Source]
		if !ok {
			continue
		}
		dst, ok := drawn[e.Target]
		if !ok {
			continue
		}
		out = append(out, EdgeCurve(src, dst))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func byID(nodes []*tree.Node) map[string]*tree.Node {
	m := make(map[string]*tree.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}
