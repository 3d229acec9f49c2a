package tree

import "math"

// Rect is an axis-aligned rectangle in content coordinates.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// RectAround returns the rectangle of size w x h centred on (x, y).
func RectAround(x, y, w, h float64) Rect {
	return Rect{MinX: x - w/2, MinY: y - h/2, MaxX: x + w/2, MaxY: y + h/2}
}

// Intersects reports whether r and o overlap. Touching edges count.
func (r Rect) Intersects(o Rect) bool {
	return r.MinX <= o.MaxX && o.MinX <= r.MaxX && r.MinY <= o.MaxY && o.MinY <= r.MaxY
}

// Contains reports whether (x, y) lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Expand grows r by d on every side.
func (r Rect) Expand(d float64) Rect {
	return Rect{MinX: r.MinX - d, MinY: r.MinY - d, MaxX: r.MaxX + d, MaxY: r.MaxY + d}
}

// Footprint sizes, in content pixels.
const (
	AnchorWidth      = 180
	AnchorHeight     = 64
	OccupationWidth  = 160
	OccupationHeight = 56
	GroupWidth       = 150
	GroupHeight      = 52
	SkillWidth       = 130
	SkillHeight      = 44
)

// MaxFootprint is the largest width or height any node can occupy.
const MaxFootprint = AnchorWidth

// Size returns the rendered footprint of a node.
func Size(n *Node) (w, h float64) {
	if n.Anchor {
		return AnchorWidth, AnchorHeight
	}
	switch n.Type {
	case TypeOccupation:
		return OccupationWidth, OccupationHeight
	case TypeSkillGroup:
		return GroupWidth, GroupHeight
	case TypeSkill:
		return SkillWidth, SkillHeight
	}
	return SkillWidth, SkillHeight
}

// Footprint returns the rectangle a node occupies at its position.
func Footprint(n *Node) Rect {
	w, h := Size(n)
	return RectAround(n.X, n.Y, w, h)
}

// Distance returns the euclidean distance from (x, y) to the node centre.
func Distance(n *Node, x, y float64) float64 {
	return math.Hypot(n.X-x, n.Y-y)
}
