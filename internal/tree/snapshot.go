package tree

import (
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/digest"
)

// Data is a tree as returned by the backend.
type Data struct {
	TreeID string `json:"tree_id"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`
}

// Snapshot is a positioned tree: nodes carrying layout positions plus the
// edges between them. Snapshots are replaced wholesale, never mutated.
type Snapshot struct {
	TreeID    string `json:"tree_id"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	Hash      string `json:"hash"`
	NodeCount int    `json:"node_count"`
	// Fallback is set when positions came from the grid fallback rather
	// than the layout engine. Fallback snapshots are never cached.
	Fallback bool `json:"fallback,omitempty"`
}

// Sanitize drops edges whose endpoints are not in the node set and
// returns how many were discarded. Nodes with an empty or duplicate id
// are dropped too (first occurrence wins).
func Sanitize(d *Data) (dropped int) {
	ids := make(map[string]struct{}, len(d.Nodes))
	nodes := d.Nodes[:0]
	for _, n := range d.Nodes {
		if n.ID == "" {
			continue
		}
		if _, dup := ids[n.ID]; dup {
			continue
		}
		ids[n.ID] = struct{}{}
		nodes = append(nodes, n)
	}
	d.Nodes = nodes

	edges := d.Edges[:0]
	for _, e := range d.Edges {
		_, okSrc := ids[e.Source]
		_, okDst := ids[e.Target]
		if !okSrc || !okDst {
			dropped++
			continue
		}
		edges = append(edges, e)
	}
	d.Edges = edges
	return dropped
}

// hashNode is the part of a node that participates in the content hash.
// Positions are derived and excluded.
type hashNode struct {
	ID        string                 `json:"id"`
	Label     string                 `json:"label"`
	Type      NodeType               `json:"type"`
	Anchor    bool                   `json:"a"`
	Visible   bool                   `json:"v"`
	State     NodeState              `json:"s"`
	Challenge string                 `json:"c,omitempty"`
	XPReward  int                    `json:"xp,omitempty"`
	Metadata  map[string]interface{} `json:"m,omitempty"`
}

// Digest returns the content hash of a tree's nodes and edges.
func Digest(nodes []Node, edges []Edge) (string, error) {
	hn := make([]hashNode, len(nodes))
	for i, n := range nodes {
		hn[i] = hashNode{
			ID: n.ID, Label: n.Label, Type: n.Type, Anchor: n.Anchor,
			Visible: n.Visible, State: n.State, Challenge: n.Challenge,
			XPReward: n.XPReward, Metadata: n.Metadata,
		}
	}
	return digest.Of("tree", struct {
		Nodes []hashNode `json:"nodes"`
		Edges []Edge     `json:"edges"`
	}{hn, edges})
}

// Stale reports whether a cached snapshot no longer matches freshly
// fetched content.
func (s *Snapshot) Stale(nodeCount int, hash string) bool {
	return s == nil || s.NodeCount != nodeCount || s.Hash != hash
}

// Index returns a map from node id to its position in s.Nodes.
func (s *Snapshot) Index() map[string]int {
	idx := make(map[string]int, len(s.Nodes))
	for i, n := range s.Nodes {
		idx[n.ID] = i
	}
	return idx
}

// WithNodes returns a copy of s whose node slice is a fresh copy with fn
// applied to every node. The receiver is left untouched.
func (s *Snapshot) WithNodes(fn func(*Node)) *Snapshot {
	out := *s
	out.Nodes = make([]Node, len(s.Nodes))
	copy(out.Nodes, s.Nodes)
	for i := range out.Nodes {
		fn(&out.Nodes[i])
	}
	return &out
}

// Children returns the ids of direct targets of id in edge order.
func Children(edges []Edge, id string) []string {
	var out []string
	for _, e := range edges {
		if e.Source == id {
			out = append(out, e.Target)
		}
	}
	return out
}
