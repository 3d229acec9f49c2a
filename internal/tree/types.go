// Package tree provides the competence graph model: nodes, edges and
// positioned snapshots.
package tree

import (
	"encoding/json"
	"fmt"
)

// NodeType is the semantic type of a node.
type NodeType uint8

const (
	TypeSkill NodeType = iota
	TypeSkillGroup
	TypeOccupation
)

var nodeTypeNames = [...]string{
	TypeSkill:      "skill",
	TypeSkillGroup: "skillgroup",
	TypeOccupation: "occupation",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", t)
}

// ParseNodeType parses the wire name of a node type.
func ParseNodeType(s string) (NodeType, error) {
	switch s {
	case "skill", "":
		return TypeSkill, nil
	case "skillgroup", "skill_group":
		return TypeSkillGroup, nil
	case "occupation":
		return TypeOccupation, nil
	}
	return 0, fmt.Errorf("unknown node type %q", s)
}

func (t NodeType) MarshalText() ([]byte, error) {
	if int(t) >= len(nodeTypeNames) {
		return nil, fmt.Errorf("invalid node type %d", t)
	}
	return []byte(nodeTypeNames[t]), nil
}

func (t *NodeType) UnmarshalText(b []byte) error {
	v, err := ParseNodeType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// NodeState is the lifecycle state of a node.
type NodeState uint8

const (
	StateLocked NodeState = iota
	StateAvailable
	StateCompleted
	StateHidden
)

var nodeStateNames = [...]string{
	StateLocked:    "locked",
	StateAvailable: "available",
	StateCompleted: "completed",
	StateHidden:    "hidden",
}

func (s NodeState) String() string {
	if int(s) < len(nodeStateNames) {
		return nodeStateNames[s]
	}
	return fmt.Sprintf("NodeState(%d)", s)
}

// ParseNodeState parses the wire name of a lifecycle state.
// An empty string means locked.
func ParseNodeState(s string) (NodeState, error) {
	switch s {
	case "locked", "":
		return StateLocked, nil
	case "available":
		return StateAvailable, nil
	case "completed":
		return StateCompleted, nil
	case "hidden":
		return StateHidden, nil
	}
	return 0, fmt.Errorf("unknown node state %q", s)
}

func (s NodeState) MarshalText() ([]byte, error) {
	if int(s) >= len(nodeStateNames) {
		return nil, fmt.Errorf("invalid node state %d", s)
	}
	return []byte(nodeStateNames[s]), nil
}

func (s *NodeState) UnmarshalText(b []byte) error {
	v, err := ParseNodeState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Node is a skill, skill group or occupation in a competence tree.
// X and Y are assigned by the layout engine and are not part of the
// node's identity.
type Node struct {
	ID        string                 `json:"id"`
	Label     string                 `json:"label"`
	Type      NodeType               `json:"type"`
	Anchor    bool                   `json:"is_anchor,omitempty"`
	Visible   bool                   `json:"is_visible"`
	State     NodeState              `json:"state"`
	Challenge string                 `json:"challenge,omitempty"`
	XPReward  int                    `json:"xp_reward,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
}

// UnmarshalJSON decodes a node, defaulting is_visible to true when the
// field is absent or null.
func (n *Node) UnmarshalJSON(data []byte) error {
	type alias Node
	aux := struct {
		*alias
		Visible *bool `json:"is_visible"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n.Visible = aux.Visible == nil || *aux.Visible
	if n.XPReward < 0 {
		return fmt.Errorf("node %q: negative xp_reward %d", n.ID, n.XPReward)
	}
	return nil
}

// Edge is a directed relation between two nodes.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight,omitempty"`
	Type   string  `json:"type,omitempty"`
}

// EdgePrerequisite is the conventional edge type for "prerequisite-of".
const EdgePrerequisite = "prerequisite-of"
