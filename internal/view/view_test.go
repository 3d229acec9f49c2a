package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/cache"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/governor"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/layout"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/offload"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/remote"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/render"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/store"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

var quiet = log.New(io.Discard, "", 0)

type fakeFetcher struct {
	mu      sync.Mutex
	trees   map[string]*tree.Data
	err     error
	gates   map[string]chan struct{}
	started chan string
}

func (f *fakeFetcher) FetchTree(ctx context.Context, treeID, token string) (*tree.Data, error) {
	f.mu.Lock()
	gate := f.gates[treeID]
	started := f.started
	f.mu.Unlock()
	if started != nil {
		started <- treeID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.trees[treeID]
	if !ok {
		return nil, fmt.Errorf("tree %s: %w", treeID, remote.ErrNotFound)
	}
	cp := &tree.Data{TreeID: d.TreeID}
	cp.Nodes = append(cp.Nodes, d.Nodes...)
	cp.Edges = append(cp.Edges, d.Edges...)
	return cp, nil
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeCompleter) CompleteNode(ctx context.Context, nodeID, token string) (*remote.CompleteResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, nodeID)
	if c.err != nil {
		return nil, c.err
	}
	return &remote.CompleteResponse{NodeID: nodeID, State: "completed", XPEarned: 10}, nil
}

type fakeTokens struct {
	err error
}

func (f fakeTokens) Token() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "test-token", nil
}

// rowLayout places node i at (100 + 150i, 200).
func rowLayout(nodes []tree.Node, edges []tree.Edge, cx, cy float64) []tree.Node {
	out := make([]tree.Node, len(nodes))
	copy(out, nodes)
	for i := range out {
		out[i].X = 100 + 150*float64(i)
		out[i].Y = 200
	}
	return out
}

func sampleData(id string) *tree.Data {
	return &tree.Data{
		TreeID: id,
		Nodes: []tree.Node{
			{ID: "a", Label: "Data analysis", Type: tree.TypeSkillGroup, Anchor: true, Visible: true, State: tree.StateAvailable},
			{ID: "b", Label: "SQL", Type: tree.TypeSkill, Visible: true, State: tree.StateLocked,
				Challenge: "Write a query joining three tables", XPReward: 20,
				Metadata: map[string]interface{}{"source": "esco"}},
			{ID: "c", Label: "Statistics", Type: tree.TypeSkill, Visible: true, State: tree.StateLocked},
			{ID: "d", Label: "Data engineer", Type: tree.TypeOccupation, Visible: true, State: tree.StateLocked},
		},
		Edges: []tree.Edge{
			{Source: "a", Target: "b", Weight: 0.8, Type: tree.EdgePrerequisite},
			{Source: "a", Target: "c", Weight: 0.5},
			{Source: "b", Target: "d", Weight: 1},
			{Source: "b", Target: "ghost"},
		},
	}
}

type harness struct {
	view      *View
	surface   *render.Recorder
	fetcher   *fakeFetcher
	completer *fakeCompleter
	saved     *store.Memory
	cache     *cache.Cache
	exec      *offload.Executor
	gov       *governor.Governor
}

type harnessOpts struct {
	layout  offload.LayoutFunc
	timeout time.Duration
	tokens  fakeTokens
	cache   *cache.Cache
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	if o.layout == nil {
		o.layout = rowLayout
	}
	if o.timeout == 0 {
		o.timeout = 2 * time.Second
	}
	if o.cache == nil {
		c, err := cache.New(nil, cache.Config{Logger: quiet})
		if err != nil {
			t.Fatal(err)
		}
		o.cache = c
	}
	h := &harness{
		surface:   render.NewRecorder(1200, 800),
		fetcher:   &fakeFetcher{trees: map[string]*tree.Data{"t1": sampleData("t1"), "t2": sampleData("t2")}},
		completer: &fakeCompleter{},
		saved:     store.NewMemory(),
		cache:     o.cache,
		exec:      offload.New(offload.Config{Timeout: o.timeout, Layout: o.layout, Logger: quiet}),
		gov:       governor.New(governor.Config{Interval: time.Hour, Logger: quiet}),
	}
	v, err := New(Deps{
		Fetcher:   h.fetcher,
		Completer: h.completer,
		Tokens:    o.tokens,
		Saved:     h.saved,
		Cache:     h.cache,
		Executor:  h.exec,
		Governor:  h.gov,
		Surface:   h.surface,
		Logger:    quiet,
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	h.view = v
	t.Cleanup(v.Unmount)
	return h
}

func nodeByID(t *testing.T, s *tree.Snapshot, id string) tree.Node {
	t.Helper()
	for _, n := range s.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not in snapshot", id)
	return tree.Node{}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}, Options{}); err == nil {
		t.Error("expected error for missing collaborators")
	}
}

func TestLoadComputesThenHitsCache(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	if err := h.view.Mount(ctx, "t1", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	st := h.view.Status()
	if st.FromCache || st.Fallback || st.Nodes != 4 || st.Indexed != 4 {
		t.Fatalf("first load status: %+v", st)
	}
	snap := h.view.Snapshot()
	if len(snap.Edges) != 3 {
		t.Errorf("dangling edge should be dropped, got %d edges", len(snap.Edges))
	}
	if b := nodeByID(t, snap, "b"); b.X != 250 || b.Y != 200 {
		t.Errorf("b at (%v, %v), want (250, 200)", b.X, b.Y)
	}
	h.cache.Wait()

	if err := h.view.Load(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	st = h.view.Status()
	if !st.FromCache {
		t.Fatalf("second load should come from cache: %+v", st)
	}
	snap = h.view.Snapshot()
	b := nodeByID(t, snap, "b")
	if b.X != 250 || b.Challenge == "" || b.Metadata["source"] != "esco" {
		t.Errorf("cached load should keep positions and restore detail: %+v", b)
	}
	if snap.Edges[0].Weight != 0.8 {
		t.Errorf("edge weight should be restored, got %v", snap.Edges[0].Weight)
	}
}

func TestStaleCacheIsRecomputed(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	stale := &tree.Snapshot{TreeID: "t1", Hash: "outdated", NodeCount: 4,
		Nodes: []tree.Node{{ID: "a", X: -999, Y: -999, Visible: true}}}
	<-h.cache.Put(ctx, cacheKey("t1"), stale)

	if err := h.view.Mount(ctx, "t1", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	if h.view.Status().FromCache {
		t.Error("stale entry must not be used")
	}
	if a := nodeByID(t, h.view.Snapshot(), "a"); a.X != 100 {
		t.Errorf("a should be freshly laid out, got x=%v", a.X)
	}
	cached, ok := h.cache.Get(ctx, cacheKey("t1"))
	if !ok || cached.Hash == "outdated" {
		t.Error("fresh layout should replace the stale entry")
	}
}

func TestLayoutTimeoutFallsBackToGrid(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	blocking := func(nodes []tree.Node, edges []tree.Edge, cx, cy float64) []tree.Node {
		<-release
		return nodes
	}
	h := newHarness(t, harnessOpts{layout: blocking, timeout: 50 * time.Millisecond})
	ctx := context.Background()

	if err := h.view.Mount(ctx, "t1", Callbacks{}); err != nil {
		t.Fatalf("timeout should not fail the load: %v", err)
	}
	snap := h.view.Snapshot()
	if !snap.Fallback || !h.view.Status().Fallback {
		t.Fatal("expected fallback snapshot")
	}
	want := layout.Grid(sampleData("t1").Nodes, 600, 400)
	for i, n := range snap.Nodes {
		if n.X != want[i].X || n.Y != want[i].Y {
			t.Errorf("%s at (%v, %v), want grid (%v, %v)", n.ID, n.X, n.Y, want[i].X, want[i].Y)
		}
	}
	keys, _ := h.cache.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("fallback layouts must not be cached, got %v", keys)
	}
}

func TestSupersededLoadIsDiscarded(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	if err := h.view.Mount(ctx, "t2", Callbacks{}); err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	h.fetcher.mu.Lock()
	h.fetcher.gates = map[string]chan struct{}{"t1": gate}
	h.fetcher.started = make(chan string, 4)
	h.fetcher.mu.Unlock()

	slow := make(chan error, 1)
	go func() { slow <- h.view.Load(ctx, "t1") }()
	if id := <-h.fetcher.started; id != "t1" {
		t.Fatalf("expected t1 fetch first, got %s", id)
	}

	if err := h.view.Load(ctx, "t2"); err != nil {
		t.Fatal(err)
	}
	close(gate)

	if err := <-slow; !errors.Is(err, ErrSuperseded) {
		t.Errorf("slow load: got %v, want ErrSuperseded", err)
	}
	if id := h.view.Snapshot().TreeID; id != "t2" {
		t.Errorf("current tree %s, want t2", id)
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, harnessOpts{tokens: fakeTokens{err: remote.ErrNoToken}})
	err := h.view.Mount(ctx, "t1", Callbacks{})
	var authErr *AuthError
	if !errors.As(err, &authErr) || !errors.Is(err, remote.ErrNoToken) {
		t.Errorf("missing token: got %v", err)
	}

	h = newHarness(t, harnessOpts{})
	h.fetcher.setErr(fmt.Errorf("fetching: %w", remote.ErrUnauthorized))
	if err := h.view.Mount(ctx, "t1", Callbacks{}); !errors.As(err, &authErr) {
		t.Errorf("rejected token: got %v", err)
	}

	h.fetcher.setErr(nil)
	err = h.view.Load(ctx, "missing")
	var dataErr *DataError
	if !errors.As(err, &dataErr) || dataErr.TreeID != "missing" || !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("unknown tree: got %v", err)
	}
	if h.view.Snapshot() != nil {
		t.Error("failed loads must not install a snapshot")
	}
}

func TestFrameDrawsVisibleNodes(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	if _, err := h.view.Frame(time.Now()); err != nil {
		t.Fatalf("frame before load: %v", err)
	}
	if h.surface.Batches() != 0 {
		t.Error("nothing should be drawn before a tree is loaded")
	}

	if err := h.view.Mount(context.Background(), "t1", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	stats, err := h.view.Frame(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Nodes != 4 || stats.Edges != 3 || stats.DrawCalls != 1 {
		t.Errorf("stats %+v", stats)
	}
	if h.surface.Batches() != 1 || len(h.surface.Nodes()) != 4 {
		t.Errorf("batches=%d nodes=%v", h.surface.Batches(), h.surface.Nodes())
	}
}

func TestFramesFeedGovernor(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	start := time.Now()
	for i := 0; i < 5; i++ {
		h.view.Frame(start.Add(time.Duration(i) * 20 * time.Millisecond))
	}
	h.view.Frame(start.Add(10 * time.Second))
	if n := h.gov.Samples(); n != 4 {
		t.Errorf("samples = %d, want 4 (long gaps ignored)", n)
	}
	if fps := h.gov.AverageFPS(); fps < 49 || fps > 51 {
		t.Errorf("fps = %v, want 50", fps)
	}
}

func TestStrategyChangeSwapsRenderer(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	var mu sync.Mutex
	var changes []string
	cb := Callbacks{OnStrategyChange: func(from, to governor.Strategy) {
		mu.Lock()
		changes = append(changes, from.String()+">"+to.String())
		mu.Unlock()
	}}
	if err := h.view.Mount(context.Background(), "t1", cb); err != nil {
		t.Fatal(err)
	}
	h.view.Frame(time.Time{})

	for i := 0; i < 60; i++ {
		h.gov.RecordFrame(40 * time.Millisecond)
	}
	if s := h.gov.Evaluate(); s != governor.StrategySimplified {
		t.Fatalf("governor chose %s", s)
	}
	if _, err := h.view.Frame(time.Time{}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0] != "gpu>simplified" {
		t.Errorf("changes %v", changes)
	}
	if h.view.Status().Strategy != governor.StrategySimplified {
		t.Error("renderer should follow the governor")
	}
	if h.surface.Patches() != 1 {
		t.Errorf("simplified renderer should patch, got %d patches", h.surface.Patches())
	}
}

func TestHoverAndClick(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	var clicked []string
	cb := Callbacks{OnNodeClick: func(id string) { clicked = append(clicked, id) }}
	if err := h.view.Mount(context.Background(), "t1", cb); err != nil {
		t.Fatal(err)
	}

	if id := h.view.Hover(250, 200); id != "b" {
		t.Errorf("hover = %q, want b", id)
	}
	if id := h.view.Hover(5, 700); id != "" {
		t.Errorf("hover over empty space = %q", id)
	}
	if id, ok := h.view.Click(400, 210); !ok || id != "c" {
		t.Errorf("click = %q %v", id, ok)
	}
	if _, ok := h.view.Click(5, 700); ok || h.view.Selected() != "" {
		t.Error("clicking empty space should clear the selection")
	}
	if len(clicked) != 1 || clicked[0] != "c" {
		t.Errorf("callbacks %v", clicked)
	}
}

func TestPointerEvents(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	if err := h.view.Mount(ctx, "t1", Callbacks{}); err != nil {
		t.Fatal(err)
	}

	h.view.HandleEvent(ctx, render.InputEvent{Kind: render.EventPointerDown, X: 250, Y: 200})
	h.view.HandleEvent(ctx, render.InputEvent{Kind: render.EventPointerUp, X: 252, Y: 201})
	if h.view.Selected() != "b" {
		t.Errorf("tap should select b, got %q", h.view.Selected())
	}

	before := h.view.Controller().Viewport()
	h.view.HandleEvent(ctx, render.InputEvent{Kind: render.EventPointerDown, X: 400, Y: 200})
	h.view.HandleEvent(ctx, render.InputEvent{Kind: render.EventPointerMove, X: 500, Y: 200})
	h.view.HandleEvent(ctx, render.InputEvent{Kind: render.EventPointerUp, X: 500, Y: 200})
	vp := h.view.Controller().Viewport()
	if vp.PanX-before.PanX != 100 || vp.PanY != before.PanY {
		t.Errorf("drag should pan by 100, got %+v from %+v", vp, before)
	}
	if h.view.Selected() != "b" {
		t.Error("a drag must not change the selection")
	}

	// Content moved right by about 100: c is now under x=500.
	if id := h.view.Hover(500, 200); id != "c" {
		t.Errorf("hover after pan = %q, want c", id)
	}
}

func TestToggleSaved(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	if _, err := h.view.ToggleSaved(ctx, "b"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("before load: got %v", err)
	}
	if err := h.view.Mount(ctx, "t1", Callbacks{}); err != nil {
		t.Fatal(err)
	}

	saved, err := h.view.ToggleSaved(ctx, "b")
	if err != nil || !saved || !h.view.IsSaved("b") {
		t.Fatalf("toggle on: %v %v", saved, err)
	}
	ids, _ := h.saved.SavedNodes(ctx, "t1")
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("persisted %v", ids)
	}

	h.view.Click(250, 200)
	if err := h.view.HandleEvent(ctx, render.InputEvent{Kind: render.EventKey, Key: "s"}); err != nil {
		t.Fatal(err)
	}
	if h.view.IsSaved("b") {
		t.Error("key s should toggle the selected node off")
	}
	ids, _ = h.saved.SavedNodes(ctx, "t1")
	if len(ids) != 0 {
		t.Errorf("persisted %v after toggle off", ids)
	}

	h.view.ToggleSaved(ctx, "c")
	if err := h.view.Load(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if !h.view.IsSaved("c") {
		t.Error("saved nodes should be restored on load")
	}
}

func TestCompleteNode(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	var completed []string
	cb := Callbacks{OnNodeComplete: func(id string) { completed = append(completed, id) }}
	if err := h.view.Mount(ctx, "t1", cb); err != nil {
		t.Fatal(err)
	}
	before := h.view.Snapshot()

	if err := h.view.CompleteNode(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	after := h.view.Snapshot()
	if after == before {
		t.Fatal("snapshot should be replaced")
	}
	if nodeByID(t, before, "b").State != tree.StateLocked {
		t.Error("previous snapshot must not be mutated")
	}
	if s := nodeByID(t, after, "b").State; s != tree.StateCompleted {
		t.Errorf("b state %s", s)
	}
	if s := nodeByID(t, after, "d").State; s != tree.StateAvailable {
		t.Errorf("child d state %s, want available", s)
	}
	if s := nodeByID(t, after, "c").State; s != tree.StateLocked {
		t.Errorf("unrelated c state %s", s)
	}
	if after.Hash == before.Hash {
		t.Error("hash should change with node state")
	}
	if n, _ := h.view.index.Get("d"); n.State != tree.StateAvailable {
		t.Error("spatial index should hold the patched node")
	}
	cached, ok := h.cache.Get(ctx, cacheKey("t1"))
	if !ok || cached.Hash != after.Hash {
		t.Error("cache should hold the patched snapshot")
	}
	if len(completed) != 1 || completed[0] != "b" {
		t.Errorf("callbacks %v", completed)
	}
	if len(h.completer.calls) != 1 {
		t.Errorf("backend calls %v", h.completer.calls)
	}
}

func TestCompleteNodeKeepsHiddenChildOutOfIndex(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	h.fetcher.trees["hidden"] = &tree.Data{
		TreeID: "hidden",
		Nodes: []tree.Node{
			{ID: "a", Label: "Data analysis", Type: tree.TypeSkillGroup, Anchor: true, Visible: true, State: tree.StateAvailable},
			{ID: "hid", Label: "Secret", Type: tree.TypeSkill, State: tree.StateLocked},
		},
		Edges: []tree.Edge{{Source: "a", Target: "hid"}},
	}
	if err := h.view.Mount(ctx, "hidden", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	if n := h.view.Status().Indexed; n != 1 {
		t.Fatalf("indexed %d before completion, want 1", n)
	}

	if err := h.view.CompleteNode(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if s := nodeByID(t, h.view.Snapshot(), "hid"); s.State != tree.StateAvailable {
		t.Errorf("hid state %s, want available", s.State)
	}
	if _, ok := h.view.index.Get("hid"); ok {
		t.Error("hidden node should stay out of the spatial index")
	}
	if id, ok := h.view.Click(250, 200); ok {
		t.Errorf("hidden node should not be clickable, got %q", id)
	}
	if n := h.view.Status().Indexed; n != 1 {
		t.Errorf("indexed %d after completion, want 1", n)
	}
}

func TestCompleteNodeRejected(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	if err := h.view.Mount(ctx, "t1", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	before := h.view.Snapshot()

	h.completer.err = fmt.Errorf("completing: %w", remote.ErrUnauthorized)
	var authErr *AuthError
	if err := h.view.CompleteNode(ctx, "b"); !errors.As(err, &authErr) {
		t.Errorf("got %v, want AuthError", err)
	}
	if h.view.Snapshot() != before {
		t.Error("a rejected completion must leave the snapshot alone")
	}
}

func TestUnmountAndRemount(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	if err := h.view.Mount(ctx, "t1", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	h.view.Unmount()
	h.view.Unmount()

	if err := h.view.Mount(ctx, "t2", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	if st := h.view.Status(); st.TreeID != "t2" || st.Fallback {
		t.Errorf("remount status %+v", st)
	}
}
