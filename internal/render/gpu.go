package render

import (
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/governor"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// Quad is one node instance. X and Y are the content-space centre.
type Quad struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	W      float64 `json:"w"`
	H      float64 `json:"h"`
	Fill   Color   `json:"fill"`
	Stroke Color   `json:"stroke"`
	Label  string  `json:"label,omitempty"`
}

// Batch is a single draw call: every instance in content coordinates and
// one transform for all of them.
type Batch struct {
	Transform Transform `json:"transform"`
	Quads     []Quad    `json:"quads"`
	Curves    []Curve   `json:"curves"`
}

type gpuRenderer struct{}

func (r *gpuRenderer) Strategy() governor.Strategy { return governor.StrategyGPU }

func (r *gpuRenderer) Reset() {}

func (r *gpuRenderer) Render(s Surface, f *Frame) (Stats, error) {
	nodes := selectNodes(f.Nodes, f.Cap)
	b := &Batch{
		Transform: f.Transform,
		Quads:     make([]Quad, len(nodes)),
		Curves:    selectEdges(f.Edges, byID(nodes), 0),
	}
	for i, n := range nodes {
		b.Quads[i] = detailQuad(n, f)
	}
	if err := s.DrawBatch(b); err != nil {
		return Stats{}, err
	}
	return Stats{Nodes: len(b.Quads), Edges: len(b.Curves), DrawCalls: 1}, nil
}

func detailQuad(n *tree.Node, f *Frame) Quad {
	w, h := tree.Size(n)
	return Quad{
		ID:     n.ID,
		X:      n.X,
		Y:      n.Y,
		W:      w,
		H:      h,
		Fill:   nodeFill(n),
		Stroke: nodeStroke(n, f),
		Label:  n.Label,
	}
}
