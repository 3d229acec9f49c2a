// Package spatial provides a grid-bucketed index over positioned nodes
// for viewport culling and pointer hit-testing.
package spatial

import (
	"math"
	"sort"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// DefaultGridSize is the bucket edge length in content pixels.
const DefaultGridSize = 200

type cell struct {
	x, y int
}

type entry struct {
	node  tree.Node
	rect  tree.Rect
	cells []cell
	// seq orders results deterministically by insertion
	seq uint64
}

// Index buckets nodes by the grid cells their footprint overlaps. A node
// lives in every cell its footprint touches, so a bounds query only needs
// the cells overlapping the query rectangle.
//
// Index is not safe for concurrent use; it is owned by the view
// controller.
type Index struct {
	gridSize float64
	buckets  map[cell]map[string]*entry
	entries  map[string]*entry
	seq      uint64
}

// New creates an empty index. A non-positive gridSize uses DefaultGridSize.
func New(gridSize float64) *Index {
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	return &Index{
		gridSize: gridSize,
		buckets:  make(map[cell]map[string]*entry),
		entries:  make(map[string]*entry),
	}
}

// GridSize returns the bucket edge length.
func (ix *Index) GridSize() float64 {
	return ix.gridSize
}

// Len returns the number of indexed nodes.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// cellLimit keeps infinite or huge query bounds from overflowing int.
const cellLimit = 1 << 40

func (ix *Index) cellOf(x, y float64) cell {
	return cell{clampCell(x / ix.gridSize), clampCell(y / ix.gridSize)}
}

func clampCell(v float64) int {
	v = math.Floor(v)
	if v > cellLimit || math.IsNaN(v) {
		return cellLimit
	}
	if v < -cellLimit {
		return -cellLimit
	}
	return int(v)
}

// IndexAll replaces the index contents with the visible nodes given.
func (ix *Index) IndexAll(nodes []tree.Node) {
	ix.buckets = make(map[cell]map[string]*entry)
	ix.entries = make(map[string]*entry, len(nodes))
	for i := range nodes {
		if !nodes[i].Visible {
			continue
		}
		ix.Add(nodes[i])
	}
}

// Add inserts or replaces a node.
func (ix *Index) Add(n tree.Node) {
	if _, ok := ix.entries[n.ID]; ok {
		ix.Remove(n.ID)
	}
	ix.seq++
	e := &entry{node: n, rect: tree.Footprint(&n), seq: ix.seq}

	lo := ix.cellOf(e.rect.MinX, e.rect.MinY)
	hi := ix.cellOf(e.rect.MaxX, e.rect.MaxY)
	for cx := lo.x; cx <= hi.x; cx++ {
		for cy := lo.y; cy <= hi.y; cy++ {
			c := cell{cx, cy}
			b := ix.buckets[c]
			if b == nil {
				b = make(map[string]*entry)
				ix.buckets[c] = b
			}
			b[n.ID] = e
			e.cells = append(e.cells, c)
		}
	}
	ix.entries[n.ID] = e
}

// Remove deletes a node by id. It reports whether the node was present.
func (ix *Index) Remove(id string) bool {
	e, ok := ix.entries[id]
	if !ok {
		return false
	}
	for _, c := range e.cells {
		b := ix.buckets[c]
		delete(b, id)
		if len(b) == 0 {
			delete(ix.buckets, c)
		}
	}
	delete(ix.entries, id)
	return true
}

// Get returns the indexed copy of a node.
func (ix *Index) Get(id string) (tree.Node, bool) {
	e, ok := ix.entries[id]
	if !ok {
		return tree.Node{}, false
	}
	return e.node, true
}

// QueryBounds returns every node whose footprint intersects bounds, in
// insertion order.
func (ix *Index) QueryBounds(bounds tree.Rect) []tree.Node {
	if bounds.MaxX < bounds.MinX || bounds.MaxY < bounds.MinY {
		return nil
	}
	lo := ix.cellOf(bounds.MinX, bounds.MinY)
	hi := ix.cellOf(bounds.MaxX, bounds.MaxY)

	// A huge query covers more cells than there are buckets; scan buckets
	// instead of cells then.
	span := float64(hi.x-lo.x+1) * float64(hi.y-lo.y+1)
	seen := make(map[string]struct{})
	var hits []*entry
	visit := func(b map[string]*entry) {
		for id, e := range b {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if e.rect.Intersects(bounds) {
				hits = append(hits, e)
			}
		}
	}

	if span > float64(len(ix.buckets)) {
		for c, b := range ix.buckets {
			if c.x < lo.x || c.x > hi.x || c.y < lo.y || c.y > hi.y {
				continue
			}
			visit(b)
		}
	} else {
		for cx := lo.x; cx <= hi.x; cx++ {
			for cy := lo.y; cy <= hi.y; cy++ {
				if b, ok := ix.buckets[cell{cx, cy}]; ok {
					visit(b)
				}
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	out := make([]tree.Node, len(hits))
	for i, e := range hits {
		out[i] = e.node
	}
	return out
}

// Nearest returns nodes whose centre lies within maxDistance of (x, y),
// closest first. Ties are broken by id.
func (ix *Index) Nearest(x, y, maxDistance float64) []tree.Node {
	if maxDistance < 0 {
		return nil
	}
	// a centre within maxDistance implies the footprint overlaps this box
	box := tree.Rect{MinX: x - maxDistance, MinY: y - maxDistance, MaxX: x + maxDistance, MaxY: y + maxDistance}
	candidates := ix.QueryBounds(box)

	type hit struct {
		node tree.Node
		dist float64
	}
	var hits []hit
	for i := range candidates {
		d := tree.Distance(&candidates[i], x, y)
		if d <= maxDistance {
			hits = append(hits, hit{candidates[i], d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].node.ID < hits[j].node.ID
	})
	out := make([]tree.Node, len(hits))
	for i, h := range hits {
		out[i] = h.node
	}
	return out
}

// HitTest returns the node whose footprint contains (x, y). When
// footprints overlap the node with the nearest centre wins.
func (ix *Index) HitTest(x, y float64) (tree.Node, bool) {
	candidates := ix.QueryBounds(tree.Rect{MinX: x, MinY: y, MaxX: x, MaxY: y})
	best := -1
	bestDist := math.Inf(1)
	for i := range candidates {
		d := tree.Distance(&candidates[i], x, y)
		if d < bestDist || (d == bestDist && candidates[i].ID < candidates[best].ID) {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return tree.Node{}, false
	}
	return candidates[best], true
}
