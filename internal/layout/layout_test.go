package layout

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

const eps = 1e-9

func node(id string, anchor bool) tree.Node {
	return tree.Node{ID: id, Label: id, Anchor: anchor, Visible: true}
}

func byID(nodes []tree.Node) map[string]tree.Node {
	m := make(map[string]tree.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

func randomGraph(r *rand.Rand, n int) ([]tree.Node, []tree.Edge) {
	nodes := make([]tree.Node, n)
	for i := range nodes {
		nodes[i] = node(fmt.Sprintf("n%d", i), r.Intn(20) == 0)
		if r.Intn(10) == 0 {
			nodes[i].Visible = false
		}
	}
	var edges []tree.Edge
	for i := 0; i < n*2; i++ {
		edges = append(edges, tree.Edge{
			Source: nodes[r.Intn(n)].ID,
			Target: nodes[r.Intn(n)].ID,
		})
	}
	return nodes, edges
}

func TestSingleAnchorAtCenter(t *testing.T) {
	nodes := []tree.Node{node("A", true), node("B", false)}
	edges := []tree.Edge{{Source: "A", Target: "B"}}

	out := byID(Compute(nodes, edges, 400, 300))
	if out["A"].X != 400 || out["A"].Y != 300 {
		t.Errorf("anchor at (%v, %v), want (400, 300)", out["A"].X, out["A"].Y)
	}
}

func TestScenarioAnchorWithTwoChildren(t *testing.T) {
	nodes := []tree.Node{node("A", true), node("B", false), node("C", false)}
	edges := []tree.Edge{{Source: "A", Target: "B"}, {Source: "A", Target: "C"}}
	cx, cy := 500.0, 500.0

	e := New(Config{})
	res := e.Layout(nodes, edges, cx, cy)
	out := byID(res.Nodes)

	a, b, c := out["A"], out["B"], out["C"]
	if a.X != cx || a.Y != cy {
		t.Fatalf("A at (%v, %v), want centre", a.X, a.Y)
	}

	rb := math.Hypot(b.X-cx, b.Y-cy)
	rc := math.Hypot(c.X-cx, c.Y-cy)
	if math.Abs(rb-rc) > eps {
		t.Errorf("children at different radii: %v vs %v", rb, rc)
	}
	if math.Abs(rb-e.BaseRadius()) > eps {
		t.Errorf("child radius %v, want base radius %v", rb, e.BaseRadius())
	}

	ab := math.Atan2(b.Y-cy, b.X-cx)
	ac := math.Atan2(c.Y-cy, c.X-cx)
	if math.Abs(ab+math.Pi/4) > eps || math.Abs(ac-math.Pi/4) > eps {
		t.Errorf("child angles %v, %v; want -pi/4, +pi/4", ab, ac)
	}
	if res.Levels != 2 || res.Orphans != 0 {
		t.Errorf("levels=%d orphans=%d, want 2 and 0", res.Levels, res.Orphans)
	}
}

func TestScenarioNoAnchorsOrphanRing(t *testing.T) {
	nodes := make([]tree.Node, 30)
	for i := range nodes {
		nodes[i] = node(fmt.Sprintf("n%02d", i), false)
	}
	cx, cy := 0.0, 0.0
	e := New(Config{})
	res := e.Layout(nodes, nil, cx, cy)

	if res.Orphans != 30 {
		t.Fatalf("expected 30 orphans, got %d", res.Orphans)
	}
	r := e.OrphanRadius(0)
	step := 2 * math.Pi / 30
	for i, n := range res.Nodes {
		if d := math.Hypot(n.X-cx, n.Y-cy); math.Abs(d-r) > 1e-6 {
			t.Errorf("%s at radius %v, want %v", n.ID, d, r)
		}
		wantX := cx + r*math.Cos(float64(i)*step)
		wantY := cy + r*math.Sin(float64(i)*step)
		if math.Abs(n.X-wantX) > 1e-6 || math.Abs(n.Y-wantY) > 1e-6 {
			t.Errorf("%s at (%v, %v), want (%v, %v)", n.ID, n.X, n.Y, wantX, wantY)
		}
	}
}

func TestEveryVisibleNodePositioned(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, size := range []int{1, 10, 100, 1000} {
		nodes, edges := randomGraph(r, size)
		res := New(Config{Width: 1920, Height: 1080}).Layout(nodes, edges, 0, 0)

		if len(res.Nodes) != len(nodes) {
			t.Fatalf("size %d: got %d nodes back", size, len(res.Nodes))
		}
		seen := make(map[string]int)
		for _, n := range res.Nodes {
			seen[n.ID]++
			if !n.Visible {
				continue
			}
			if math.IsNaN(n.X) || math.IsNaN(n.Y) || math.IsInf(n.X, 0) || math.IsInf(n.Y, 0) {
				t.Errorf("size %d: %s has invalid position (%v, %v)", size, n.ID, n.X, n.Y)
			}
		}
		for id, c := range seen {
			if c != 1 {
				t.Errorf("size %d: %s appears %d times", size, id, c)
			}
		}
	}
}

func TestCyclesDoNotLoop(t *testing.T) {
	nodes := []tree.Node{node("A", true), node("B", false), node("C", false), node("D", false)}
	edges := []tree.Edge{
		{Source: "A", Target: "B"},
		{Source: "B", Target: "C"},
		{Source: "C", Target: "A"},
		{Source: "C", Target: "C"},
		{Source: "D", Target: "D"},
	}
	res := New(Config{}).Layout(nodes, edges, 0, 0)
	if res.Orphans != 1 {
		t.Errorf("expected D to be the only orphan, got %d orphans", res.Orphans)
	}
	out := byID(res.Nodes)
	if out["A"].X != 0 || out["A"].Y != 0 {
		t.Error("anchor moved by cycle back-edge")
	}
}

func TestLevelCapOrphansDeepNodes(t *testing.T) {
	var nodes []tree.Node
	var edges []tree.Edge
	for i := 0; i < 8; i++ {
		nodes = append(nodes, node(fmt.Sprintf("c%d", i), i == 0))
		if i > 0 {
			edges = append(edges, tree.Edge{Source: fmt.Sprintf("c%d", i-1), Target: fmt.Sprintf("c%d", i)})
		}
	}
	res := New(Config{}).Layout(nodes, edges, 0, 0)
	if res.Levels != MaxLevels {
		t.Errorf("levels = %d, want %d", res.Levels, MaxLevels)
	}
	if res.Orphans != 8-MaxLevels {
		t.Errorf("orphans = %d, want %d", res.Orphans, 8-MaxLevels)
	}
}

func TestLastSeenParentWins(t *testing.T) {
	nodes := []tree.Node{node("A", true), node("P1", false), node("P2", false), node("X", false)}
	edges := []tree.Edge{
		{Source: "A", Target: "P1"},
		{Source: "A", Target: "P2"},
		{Source: "P1", Target: "X"},
		{Source: "P2", Target: "X"},
	}
	out := byID(Compute(nodes, edges, 0, 0))
	// X is P2's only child, so it sits on P2's angle
	ap2 := math.Atan2(out["P2"].Y, out["P2"].X)
	ax := math.Atan2(out["X"].Y, out["X"].X)
	if math.Abs(ap2-ax) > eps {
		t.Errorf("X angle %v, want P2 angle %v", ax, ap2)
	}
}

func TestHiddenNodesIgnored(t *testing.T) {
	hidden := node("H", false)
	hidden.Visible = false
	nodes := []tree.Node{node("A", true), hidden, node("B", false)}
	edges := []tree.Edge{{Source: "A", Target: "H"}, {Source: "H", Target: "B"}}

	res := New(Config{}).Layout(nodes, edges, 10, 10)
	out := byID(res.Nodes)
	if out["H"].X != 0 || out["H"].Y != 0 {
		t.Error("hidden node received a position")
	}
	// B is only reachable through H, so it becomes an orphan
	if res.Orphans != 1 {
		t.Errorf("expected 1 orphan, got %d", res.Orphans)
	}
}

func TestMultipleAnchorsOnCircle(t *testing.T) {
	nodes := []tree.Node{node("A1", true), node("A2", true), node("A3", true), node("A4", true)}
	e := New(Config{Width: 1000, Height: 1000})
	res := e.Layout(nodes, nil, 0, 0)
	r := e.AnchorRadius(4)
	for _, n := range res.Nodes {
		if d := math.Hypot(n.X, n.Y); math.Abs(d-r) > 1e-6 {
			t.Errorf("%s at radius %v, want %v", n.ID, d, r)
		}
	}
	if res.Orphans != 0 {
		t.Errorf("anchors must never be orphans, got %d", res.Orphans)
	}
}

func TestRadiiScaleWithViewport(t *testing.T) {
	small := New(Config{Width: 320, Height: 480})
	large := New(Config{Width: 3840, Height: 2160})
	if small.BaseRadius() != minBaseRadius {
		t.Errorf("small viewport should use the floor radius, got %v", small.BaseRadius())
	}
	if large.BaseRadius() <= small.BaseRadius() {
		t.Error("large viewport should have a larger base radius")
	}
	if New(Config{}).BaseRadius() != New(Config{Width: DefaultWidth, Height: DefaultHeight}).BaseRadius() {
		t.Error("unknown viewport should behave like the default size")
	}
}

func TestDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	nodes, edges := randomGraph(r, 300)
	a := Compute(nodes, edges, 50, 50)
	b := Compute(nodes, edges, 50, 50)
	for i := range a {
		if a[i].X != b[i].X || a[i].Y != b[i].Y {
			t.Fatalf("node %s differs between runs", a[i].ID)
		}
	}
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	nodes := []tree.Node{node("A", true)}
	nodes[0].X = 99
	Compute(nodes, nil, 0, 0)
	if nodes[0].X != 99 {
		t.Error("input slice was mutated")
	}
}

func TestGrid(t *testing.T) {
	nodes := make([]tree.Node, 5)
	for i := range nodes {
		nodes[i] = node(fmt.Sprintf("g%d", i), false)
	}
	nodes[2].Visible = false

	out := Grid(nodes, 0, 0)
	positions := make(map[[2]float64]bool)
	for _, n := range out {
		if !n.Visible {
			continue
		}
		p := [2]float64{n.X, n.Y}
		if positions[p] {
			t.Errorf("two nodes share position %v", p)
		}
		positions[p] = true
	}
	if len(positions) != 4 {
		t.Errorf("expected 4 distinct positions, got %d", len(positions))
	}
	// 4 nodes -> 2x2 grid centred on origin
	if out[0].X != -GridSpacingX/2 || out[0].Y != -GridSpacingY/2 {
		t.Errorf("first cell at (%v, %v)", out[0].X, out[0].Y)
	}
}
