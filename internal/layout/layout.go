// Package layout assigns 2D positions to competence tree nodes using a
// tiered radial layout around the anchor nodes.
//
// Layout never fails: nodes that cannot be reached from an anchor within
// MaxLevels tiers (disconnected components, cycles, very deep chains) are
// placed on an outer orphan ring so every visible node gets a position.
package layout

import (
	"math"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

const (
	// MaxLevels bounds tier expansion, anchors included (levels 0..4).
	MaxLevels = 5
	// SpreadArc is the arc over which siblings fan out from their parent.
	SpreadArc = math.Pi / 2

	// DefaultWidth and DefaultHeight stand in for the viewport when its
	// size is unknown (headless use).
	DefaultWidth  = 1200
	DefaultHeight = 800

	minBaseRadius   = 180
	minLevelStep    = 140
	minAnchorRadius = 120
)

// Config holds the viewport dimensions radii are scaled from.
type Config struct {
	Width  float64
	Height float64
}

// Engine computes layouts for a fixed viewport size.
type Engine struct {
	width  float64
	height float64
}

// Result is the outcome of a layout pass.
type Result struct {
	// Nodes is a copy of the input in input order. Visible nodes carry
	// positions; hidden nodes are left at the origin.
	Nodes   []tree.Node
	Levels  int
	Orphans int
}

// New creates an engine. Non-positive dimensions fall back to defaults.
func New(cfg Config) *Engine {
	e := &Engine{width: cfg.Width, height: cfg.Height}
	if e.width <= 0 {
		e.width = DefaultWidth
	}
	if e.height <= 0 {
		e.height = DefaultHeight
	}
	return e
}

// Compute lays out nodes around (cx, cy) with default viewport dimensions.
func Compute(nodes []tree.Node, edges []tree.Edge, cx, cy float64) []tree.Node {
	return New(Config{}).Layout(nodes, edges, cx, cy).Nodes
}

func (e *Engine) span() float64 {
	return math.Min(e.width, e.height)
}

// BaseRadius is the distance of the first tier from the centre.
func (e *Engine) BaseRadius() float64 {
	return math.Max(minBaseRadius, e.span()*0.22)
}

// LevelStep is the radius added per tier beyond the first.
func (e *Engine) LevelStep() float64 {
	return math.Max(minLevelStep, e.span()*0.16)
}

// AnchorRadius is the circle radius used when there are several anchors.
func (e *Engine) AnchorRadius(anchors int) float64 {
	r := math.Max(minAnchorRadius, e.span()*0.12)
	// keep anchors from overlapping on the circle
	need := float64(anchors) * tree.AnchorWidth / (2 * math.Pi)
	return math.Max(r, need)
}

func (e *Engine) ringStart(anchors int) float64 {
	base := e.BaseRadius()
	if anchors > 1 {
		return math.Max(base, e.AnchorRadius(anchors)+e.LevelStep())
	}
	return base
}

// OrphanRadius is the radius of the fallback ring.
func (e *Engine) OrphanRadius(anchors int) float64 {
	return e.ringStart(anchors) + float64(MaxLevels-1)*e.LevelStep()
}

type placement struct {
	angle float64
}

// Layout computes positions for the visible nodes.
func (e *Engine) Layout(nodes []tree.Node, edges []tree.Edge, cx, cy float64) Result {
	out := make([]tree.Node, len(nodes))
	copy(out, nodes)

	index := make(map[string]int, len(out))
	var visible []int
	for i := range out {
		out[i].X, out[i].Y = 0, 0
		if !out[i].Visible {
			continue
		}
		index[out[i].ID] = i
		visible = append(visible, i)
	}

	// adjacency and single parent, restricted to visible nodes
	adj := make(map[string][]string)
	parent := make(map[string]string)
	for _, edge := range edges {
		if _, ok := index[edge.Source]; !ok {
			continue
		}
		if _, ok := index[edge.Target]; !ok {
			continue
		}
		adj[edge.Source] = append(adj[edge.Source], edge.Target)
		parent[edge.Target] = edge.Source
	}

	var anchors []int
	for _, i := range visible {
		if out[i].Anchor {
			anchors = append(anchors, i)
		}
	}

	placed := make(map[string]placement, len(visible))
	setPos := func(i int, x, y, angle float64) {
		out[i].X, out[i].Y = x, y
		placed[out[i].ID] = placement{angle: angle}
	}

	switch len(anchors) {
	case 0:
	case 1:
		setPos(anchors[0], cx, cy, 0)
	default:
		r := e.AnchorRadius(len(anchors))
		step := 2 * math.Pi / float64(len(anchors))
		for k, i := range anchors {
			a := float64(k) * step
			setPos(i, cx+r*math.Cos(a), cy+r*math.Sin(a), a)
		}
	}

	levels := 0
	if len(anchors) > 0 {
		levels = 1
	}

	current := make([]string, 0, len(anchors))
	for _, i := range anchors {
		current = append(current, out[i].ID)
	}

	start := e.ringStart(len(anchors))
	levelStep := e.LevelStep()

	for level := 1; level < MaxLevels && len(current) > 0; level++ {
		var next []string
		discoveredBy := make(map[string]string)
		for _, p := range current {
			for _, c := range adj[p] {
				if _, done := placed[c]; done {
					continue
				}
				if _, seen := discoveredBy[c]; seen {
					continue
				}
				discoveredBy[c] = p
				next = append(next, c)
			}
		}
		if len(next) == 0 {
			break
		}

		// group by parent, groups ordered by first appearance
		var order []string
		groups := make(map[string][]string)
		for _, c := range next {
			g, ok := parent[c]
			if _, isPlaced := placed[g]; !ok || !isPlaced {
				g = discoveredBy[c]
			}
			if _, exists := groups[g]; !exists {
				order = append(order, g)
			}
			groups[g] = append(groups[g], c)
		}

		radius := start + float64(level-1)*levelStep
		for _, g := range order {
			children := groups[g]
			base := placed[g].angle
			for k, c := range children {
				a := base
				if len(children) > 1 {
					a = base - SpreadArc/2 + float64(k)*SpreadArc/float64(len(children)-1)
				}
				setPos(index[c], cx+radius*math.Cos(a), cy+radius*math.Sin(a), a)
			}
		}

		levels++
		current = next
	}

	var orphans []int
	for _, i := range visible {
		if _, ok := placed[out[i].ID]; !ok {
			orphans = append(orphans, i)
		}
	}
	if len(orphans) > 0 {
		r := e.OrphanRadius(len(anchors))
		step := 2 * math.Pi / float64(len(orphans))
		for k, i := range orphans {
			a := float64(k) * step
			setPos(i, cx+r*math.Cos(a), cy+r*math.Sin(a), a)
		}
	}

	return Result{Nodes: out, Levels: levels, Orphans: len(orphans)}
}
