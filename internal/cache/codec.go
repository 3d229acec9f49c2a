package cache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// Envelope format:
// [8 bytes: write time, unix milliseconds, big-endian]
// [zstd-compressed JSON: compactSnapshot]
const timestampSize = 8

// compactNode keeps only what a render needs. Challenge text and
// metadata are dropped and do not survive a round trip.
type compactNode struct {
	ID      string         `json:"i"`
	Label   string         `json:"l,omitempty"`
	Type    tree.NodeType  `json:"t"`
	Anchor  bool           `json:"a,omitempty"`
	Visible bool           `json:"v"`
	State   tree.NodeState `json:"s"`
	XP      int            `json:"xp,omitempty"`
	X       float64        `json:"x"`
	Y       float64        `json:"y"`
}

type compactEdge struct {
	Source string `json:"s"`
	Target string `json:"t"`
	Type   string `json:"k,omitempty"`
}

type compactSnapshot struct {
	TreeID    string        `json:"id"`
	Hash      string        `json:"h"`
	NodeCount int           `json:"n"`
	Fallback  bool          `json:"f,omitempty"`
	Nodes     []compactNode `json:"nodes"`
	Edges     []compactEdge `json:"edges"`
}

// Compact returns a copy of s reduced to render-relevant fields.
func Compact(s *tree.Snapshot) *tree.Snapshot {
	if s == nil {
		return nil
	}
	out := &tree.Snapshot{
		TreeID:    s.TreeID,
		Hash:      s.Hash,
		NodeCount: s.NodeCount,
		Fallback:  s.Fallback,
	}
	if s.Nodes != nil {
		out.Nodes = make([]tree.Node, len(s.Nodes))
		for i, n := range s.Nodes {
			out.Nodes[i] = tree.Node{
				ID: n.ID, Label: n.Label, Type: n.Type, Anchor: n.Anchor,
				Visible: n.Visible, State: n.State, XPReward: n.XPReward,
				X: n.X, Y: n.Y,
			}
		}
	}
	if s.Edges != nil {
		out.Edges = make([]tree.Edge, len(s.Edges))
		for i, e := range s.Edges {
			out.Edges[i] = tree.Edge{Source: e.Source, Target: e.Target, Type: e.Type}
		}
	}
	return out
}

func (c *Cache) encode(s *tree.Snapshot, writtenAt time.Time) ([]byte, error) {
	cs := compactSnapshot{
		TreeID:    s.TreeID,
		Hash:      s.Hash,
		NodeCount: s.NodeCount,
		Fallback:  s.Fallback,
		Nodes:     make([]compactNode, len(s.Nodes)),
		Edges:     make([]compactEdge, len(s.Edges)),
	}
	for i, n := range s.Nodes {
		cs.Nodes[i] = compactNode{
			ID: n.ID, Label: n.Label, Type: n.Type, Anchor: n.Anchor,
			Visible: n.Visible, State: n.State, XP: n.XPReward, X: n.X, Y: n.Y,
		}
	}
	for i, e := range s.Edges {
		cs.Edges[i] = compactEdge{Source: e.Source, Target: e.Target, Type: e.Type}
	}

	raw, err := json.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	buf := make([]byte, timestampSize)
	binary.BigEndian.PutUint64(buf, uint64(writtenAt.UnixMilli()))
	return c.enc.EncodeAll(raw, buf), nil
}

func (c *Cache) decode(data []byte) (*tree.Snapshot, time.Time, error) {
	if len(data) < timestampSize {
		return nil, time.Time{}, fmt.Errorf("entry too small: %d bytes", len(data))
	}
	writtenAt := time.UnixMilli(int64(binary.BigEndian.Uint64(data[:timestampSize])))

	raw, err := c.dec.DecodeAll(data[timestampSize:], nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decompressing: %w", err)
	}

	var cs compactSnapshot
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, time.Time{}, fmt.Errorf("parsing snapshot: %w", err)
	}

	s := &tree.Snapshot{
		TreeID:    cs.TreeID,
		Hash:      cs.Hash,
		NodeCount: cs.NodeCount,
		Fallback:  cs.Fallback,
		Nodes:     make([]tree.Node, len(cs.Nodes)),
		Edges:     make([]tree.Edge, len(cs.Edges)),
	}
	for i, n := range cs.Nodes {
		s.Nodes[i] = tree.Node{
			ID: n.ID, Label: n.Label, Type: n.Type, Anchor: n.Anchor,
			Visible: n.Visible, State: n.State, XPReward: n.XP, X: n.X, Y: n.Y,
		}
	}
	for i, e := range cs.Edges {
		s.Edges[i] = tree.Edge{Source: e.Source, Target: e.Target, Type: e.Type}
	}
	return s, writtenAt, nil
}
