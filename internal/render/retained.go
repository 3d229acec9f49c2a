package render

import (
	"sort"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/governor"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

const (
	// MinimalMaxEdges is the edge budget of the minimal strategy.
	MinimalMaxEdges = 10
	// MarkerSize is the side of the uniform minimal-strategy marker.
	MarkerSize = 14
)

// ElementKind distinguishes retained elements.
type ElementKind uint8

const (
	ElementNode ElementKind = iota
	ElementEdge
)

// Element is one retained node or edge. Exactly one of Quad or Curve is
// meaningful, according to Kind.
type Element struct {
	ID    string      `json:"id"`
	Kind  ElementKind `json:"kind"`
	Quad  Quad        `json:"quad"`
	Curve Curve       `json:"curve"`
}

// Patch updates a retained scene. Transform always applies to the whole
// container; Upsert and Remove carry only what changed.
type Patch struct {
	Transform Transform `json:"transform"`
	Upsert    []Element `json:"upsert,omitempty"`
	Remove    []string  `json:"remove,omitempty"`
}

// Empty reports whether the patch changes no elements.
func (p *Patch) Empty() bool {
	return len(p.Upsert) == 0 && len(p.Remove) == 0
}

type retainedRenderer struct {
	strategy  governor.Strategy
	elements  map[string]Element
	transform Transform
	primed    bool
}

func newRetained(s governor.Strategy) *retainedRenderer {
	return &retainedRenderer{strategy: s, elements: make(map[string]Element)}
}

func (r *retainedRenderer) Strategy() governor.Strategy { return r.strategy }

func (r *retainedRenderer) Reset() {
	r.elements = make(map[string]Element)
	r.primed = false
}

func edgeElementID(c Curve) string {
	return "edge:" + c.Source + "->" + c.Target
}

func (r *retainedRenderer) Render(s Surface, f *Frame) (Stats, error) {
	minimal := r.strategy == governor.StrategyMinimal

	nodes := selectNodes(f.Nodes, f.Cap)
	edgeLimit := 0
	if minimal {
		edgeLimit = MinimalMaxEdges
	}
	curves := selectEdges(f.Edges, byID(nodes), edgeLimit)

	next := make(map[string]Element, len(nodes)+len(curves))
	for _, n := range nodes {
		q := detailQuad(n, f)
		if minimal {
			q = markerQuad(n)
		}
		next[n.ID] = Element{ID: n.ID, Kind: ElementNode, Quad: q}
	}
	for _, c := range curves {
		id := edgeElementID(c)
		next[id] = Element{ID: id, Kind: ElementEdge, Curve: c}
	}

	p := &Patch{Transform: f.Transform}
	for id, el := range next {
		if prev, ok := r.elements[id]; !ok || prev != el {
			p.Upsert = append(p.Upsert, el)
		}
	}
	for id := range r.elements {
		if _, ok := next[id]; !ok {
			p.Remove = append(p.Remove, id)
		}
	}
	sort.Slice(p.Upsert, func(i, j int) bool { return p.Upsert[i].ID < p.Upsert[j].ID })
	sort.Strings(p.Remove)

	stats := Stats{Nodes: len(nodes), Edges: len(curves)}
	if r.primed && p.Empty() && f.Transform == r.transform {
		return stats, nil
	}
	if err := s.ApplyPatch(p); err != nil {
		return Stats{}, err
	}
	r.elements = next
	r.transform = f.Transform
	r.primed = true
	stats.DrawCalls = 1
	return stats, nil
}

func markerQuad(n *tree.Node) Quad {
	fill := MarkerColor
	if n.Anchor {
		fill = AnchorColor
	}
	return Quad{ID: n.ID, X: n.X, Y: n.Y, W: MarkerSize, H: MarkerSize, Fill: fill}
}
