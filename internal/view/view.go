// Package view is the tree view controller. It fetches a tree, obtains
// positions from the cache or the background layout workers, keeps the
// spatial index, and draws each frame with the renderer strategy the
// performance governor currently allows.
package view

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/cache"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/governor"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/interact"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/layout"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/offload"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/remote"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/render"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/spatial"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// Fetcher retrieves tree data from the backend.
type Fetcher interface {
	FetchTree(ctx context.Context, treeID, token string) (*tree.Data, error)
}

// Completer marks nodes complete on the backend.
type Completer interface {
	CompleteNode(ctx context.Context, nodeID, token string) (*remote.CompleteResponse, error)
}

// TokenSource supplies the access token.
type TokenSource interface {
	Token() (string, error)
}

// SavedStore persists saved node ids per tree.
type SavedStore interface {
	SavedNodes(ctx context.Context, treeID string) ([]string, error)
	SetSaved(ctx context.Context, treeID, nodeID string, saved bool) error
}

// statusSurface is implemented by surfaces that can show a transient hint.
type statusSurface interface {
	SendStatus(text string) error
}

// Callbacks are invoked outside the view's lock.
type Callbacks struct {
	OnNodeClick      func(nodeID string)
	OnNodeComplete   func(nodeID string)
	OnStrategyChange func(from, to governor.Strategy)
}

// Deps are the collaborators a view is built from. Cache and Saved are
// optional.
type Deps struct {
	Fetcher   Fetcher
	Completer Completer
	Tokens    TokenSource
	Saved     SavedStore
	Cache     *cache.Cache
	Executor  *offload.Executor
	Governor  *governor.Governor
	Surface   render.Surface
	Logger    *log.Logger
}

// Options tune a view.
type Options struct {
	GridSize float64
	Limits   interact.Limits
	Throttle time.Duration
	Now      func() time.Time
	Debug    bool
}

// Status summarises the view for display.
type Status struct {
	TreeID     string
	Nodes      int
	Indexed    int
	FromCache  bool
	Fallback   bool
	LayoutTime time.Duration
	Strategy   governor.Strategy
	FPS        float64
	Cache      cache.Stats
	Viewport   interact.Viewport
}

const (
	// clickSlop is how far a pointer may travel between down and up and
	// still count as a click, in screen pixels.
	clickSlop = 4
	// maxFrameGap drops frame intervals that mean the loop was paused.
	maxFrameGap = time.Second
)

// View owns the positioned snapshot and the spatial index. All mutation
// happens under mu; renderers get read-only frames.
type View struct {
	deps   Deps
	opts   Options
	logger *log.Logger
	ctrl   *interact.Controller

	mu        sync.Mutex
	cb        Callbacks
	mounted   bool
	cancel    context.CancelFunc
	treeID    string
	gen       uint64
	snap      *tree.Snapshot
	index     *spatial.Index
	saved     map[string]bool
	renderer  render.Renderer
	hovered   string
	selected  string
	lastFrame time.Time
	downX     float64
	downY     float64

	fromCache  bool
	layoutTime time.Duration
}

// New creates an unmounted view.
func New(deps Deps, opts Options) (*View, error) {
	if deps.Fetcher == nil || deps.Tokens == nil || deps.Executor == nil || deps.Governor == nil || deps.Surface == nil {
		return nil, errors.New("view: fetcher, tokens, executor, governor and surface are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &View{
		deps:   deps,
		opts:   opts,
		logger: logger,
		ctrl: interact.NewController(interact.Config{
			Limits:   opts.Limits,
			Throttle: opts.Throttle,
			Now:      opts.Now,
		}),
		index:    spatial.New(opts.GridSize),
		saved:    make(map[string]bool),
		renderer: render.New(deps.Governor.Current()),
	}, nil
}

// Mount starts the layout workers and the governor, then loads treeID.
// The returned error is the load error, if any; the view stays mounted
// either way so the caller can retry with Load.
func (v *View) Mount(ctx context.Context, treeID string, cb Callbacks) error {
	v.mu.Lock()
	if !v.mounted {
		runCtx, cancel := context.WithCancel(context.Background())
		v.cancel = cancel
		v.deps.Executor.Start()
		v.deps.Governor.Start(runCtx)
		v.mounted = true
	}
	v.cb = cb
	v.mu.Unlock()

	return v.Load(ctx, treeID)
}

// Unmount stops the workers and the governor and waits for pending cache
// writes. Late load results are discarded.
func (v *View) Unmount() {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = false
	v.gen++
	v.cancel()
	v.mu.Unlock()

	v.deps.Governor.Stop()
	v.deps.Executor.Close()
	if v.deps.Cache != nil {
		v.deps.Cache.Wait()
	}
}

// Load fetches treeID and makes it the current tree. Fetch failures come
// back as *DataError or *AuthError. Layout failures do not fail the load:
// the tree is placed on a grid instead.
func (v *View) Load(ctx context.Context, treeID string) error {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.treeID = treeID
	v.mu.Unlock()

	token, err := v.deps.Tokens.Token()
	if err != nil {
		return &AuthError{Err: err}
	}

	data, err := v.deps.Fetcher.FetchTree(ctx, treeID, token)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			return &AuthError{Err: err}
		}
		return &DataError{TreeID: treeID, Err: err}
	}
	if !v.current(gen) {
		return ErrSuperseded
	}

	if dropped := tree.Sanitize(data); dropped > 0 {
		v.logger.Printf("tree %s: dropped %d dangling edges", treeID, dropped)
	}
	hash, err := tree.Digest(data.Nodes, data.Edges)
	if err != nil {
		return &DataError{TreeID: treeID, Err: fmt.Errorf("hashing tree: %w", err)}
	}

	snap, fromCache, layoutTime, err := v.positions(ctx, treeID, data, hash)
	if err != nil {
		return err
	}

	var saved []string
	if v.deps.Saved != nil {
		saved, err = v.deps.Saved.SavedNodes(ctx, treeID)
		if err != nil {
			v.logger.Printf("tree %s: reading saved nodes: %v", treeID, err)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return ErrSuperseded
	}
	v.snap = snap
	v.index.IndexAll(snap.Nodes)
	v.saved = make(map[string]bool, len(saved))
	for _, id := range saved {
		v.saved[id] = true
	}
	v.hovered, v.selected = "", ""
	v.fromCache = fromCache
	v.layoutTime = layoutTime
	v.renderer.Reset()
	if v.opts.Debug {
		v.logger.Printf("tree %s: %d nodes, %d edges, cached=%v fallback=%v layout=%v",
			treeID, len(snap.Nodes), len(snap.Edges), fromCache, snap.Fallback, layoutTime)
	}
	return nil
}

func (v *View) current(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return gen == v.gen
}

func cacheKey(treeID string) string {
	return "layout:" + treeID
}

// positions returns a positioned snapshot for freshly fetched data: the
// cached one when it still matches, otherwise a new layout.
func (v *View) positions(ctx context.Context, treeID string, data *tree.Data, hash string) (*tree.Snapshot, bool, time.Duration, error) {
	key := cacheKey(treeID)
	if v.deps.Cache != nil {
		if cached, ok := v.deps.Cache.Get(ctx, key); ok {
			if !cached.Stale(len(data.Nodes), hash) {
				return restoreDetail(cached, data), true, 0, nil
			}
			if v.opts.Debug {
				v.logger.Printf("tree %s: cached layout is stale", treeID)
			}
		}
	}

	w, h := v.deps.Surface.Size()
	cx, cy := w/2, h/2
	snap := &tree.Snapshot{
		TreeID:    treeID,
		Edges:     data.Edges,
		Hash:      hash,
		NodeCount: len(data.Nodes),
	}

	start := time.Now()
	res, err := v.deps.Executor.CalculateLayout(ctx, data.Nodes, data.Edges, cx, cy)
	switch {
	case err == nil:
		snap.Nodes = res.Nodes
		if v.deps.Cache != nil {
			v.deps.Cache.Put(ctx, key, snap)
		}
		return snap, false, res.ComputeTime, nil
	case ctx.Err() != nil:
		return nil, false, 0, ctx.Err()
	default:
		v.logger.Printf("layout for %s failed, using grid fallback: %v", treeID, err)
		snap.Nodes = layout.Grid(data.Nodes, cx, cy)
		snap.Fallback = true
		return snap, false, time.Since(start), nil
	}
}

// restoreDetail puts back the fields the cache drops (challenge text,
// metadata, edge weights) from the fresh payload, keeping cached
// positions.
func restoreDetail(cached *tree.Snapshot, data *tree.Data) *tree.Snapshot {
	byID := make(map[string]*tree.Node, len(data.Nodes))
	for i := range data.Nodes {
		byID[data.Nodes[i].ID] = &data.Nodes[i]
	}
	out := cached.WithNodes(func(n *tree.Node) {
		if src, ok := byID[n.ID]; ok {
			n.Challenge = src.Challenge
			n.Metadata = src.Metadata
		}
	})
	out.Edges = data.Edges
	return out
}

// Frame draws one frame at time now. Call it from the display loop.
func (v *View) Frame(now time.Time) (render.Stats, error) {
	v.mu.Lock()

	if !v.lastFrame.IsZero() {
		if gap := now.Sub(v.lastFrame); gap > 0 && gap <= maxFrameGap {
			v.deps.Governor.RecordFrame(gap)
		}
	}
	v.lastFrame = now

	vp := v.ctrl.Tick(now)

	var changed func()
	if want := v.deps.Governor.Current(); want != v.renderer.Strategy() {
		from := v.renderer.Strategy()
		v.renderer = render.New(want)
		changed = v.strategyChanged(from, want)
	}

	if v.snap == nil {
		v.mu.Unlock()
		if changed != nil {
			changed()
		}
		return render.Stats{}, nil
	}

	t := vp.Transform()
	w, h := v.deps.Surface.Size()
	frame := &render.Frame{
		Nodes:     v.index.QueryBounds(t.Visible(w, h)),
		Edges:     v.snap.Edges,
		Transform: t,
		Saved:     v.saved,
		Hovered:   v.hovered,
		Selected:  v.selected,
		Cap:       v.deps.Governor.NodeCap(),
	}
	strategy := v.renderer.Strategy()
	stats, err := v.renderer.Render(v.deps.Surface, frame)
	v.mu.Unlock()

	if changed != nil {
		changed()
	}
	if err != nil {
		return stats, fmt.Errorf("rendering %s frame: %w", strategy, err)
	}
	return stats, nil
}

func (v *View) strategyChanged(from, to governor.Strategy) func() {
	cb := v.cb.OnStrategyChange
	surface := v.deps.Surface
	return func() {
		if s, ok := surface.(statusSurface); ok {
			if err := s.SendStatus("renderer: " + to.String()); err != nil {
				v.logger.Printf("sending status: %v", err)
			}
		}
		if cb != nil {
			cb(from, to)
		}
	}
}

// HandleEvent applies one display input event. Keys "s" and "Enter" act
// on the selected node: toggle saved and complete.
func (v *View) HandleEvent(ctx context.Context, ev render.InputEvent) error {
	switch ev.Kind {
	case render.EventPointerDown:
		v.mu.Lock()
		v.downX, v.downY = ev.X, ev.Y
		v.mu.Unlock()
		v.ctrl.PointerDown(ev.X, ev.Y)
	case render.EventPointerMove:
		if v.ctrl.Dragging() {
			v.ctrl.PointerMove(ev.X, ev.Y)
		} else {
			v.Hover(ev.X, ev.Y)
		}
	case render.EventPointerUp:
		v.ctrl.PointerMove(ev.X, ev.Y)
		v.ctrl.PointerUp()
		v.mu.Lock()
		dx, dy := ev.X-v.downX, ev.Y-v.downY
		v.mu.Unlock()
		if dx*dx+dy*dy <= clickSlop*clickSlop {
			v.Click(ev.X, ev.Y)
		}
	case render.EventClick:
		v.Click(ev.X, ev.Y)
	case render.EventWheel:
		v.ctrl.Wheel(ev.X, ev.Y, ev.Delta)
	case render.EventKey:
		switch ev.Key {
		case "s":
			if id := v.Selected(); id != "" {
				_, err := v.ToggleSaved(ctx, id)
				return err
			}
		case "Enter":
			if id := v.Selected(); id != "" {
				return v.CompleteNode(ctx, id)
			}
		default:
			v.ctrl.Key(ev.Key)
		}
	}
	return nil
}

// Hover updates the hovered node from a screen point and returns its id,
// or "" when the point is over empty space.
func (v *View) Hover(sx, sy float64) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hovered = ""
	if n, ok := render.HitTest(v.index, v.ctrl.Viewport().Transform(), sx, sy); ok {
		v.hovered = n.ID
	}
	return v.hovered
}

// Click selects the node under a screen point and reports it through
// OnNodeClick.
func (v *View) Click(sx, sy float64) (string, bool) {
	v.mu.Lock()
	n, ok := render.HitTest(v.index, v.ctrl.Viewport().Transform(), sx, sy)
	if !ok {
		v.selected = ""
		v.mu.Unlock()
		return "", false
	}
	v.selected = n.ID
	cb := v.cb.OnNodeClick
	v.mu.Unlock()

	if cb != nil {
		cb(n.ID)
	}
	return n.ID, true
}

// Selected returns the selected node id.
func (v *View) Selected() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selected
}

// ToggleSaved flips a node's saved state and persists it. It returns the
// new state.
func (v *View) ToggleSaved(ctx context.Context, nodeID string) (bool, error) {
	v.mu.Lock()
	if v.snap == nil {
		v.mu.Unlock()
		return false, ErrNotLoaded
	}
	treeID := v.treeID
	saved := !v.saved[nodeID]
	next := make(map[string]bool, len(v.saved)+1)
	for id := range v.saved {
		if id != nodeID {
			next[id] = true
		}
	}
	if saved {
		next[nodeID] = true
	}
	v.saved = next
	v.mu.Unlock()

	if v.deps.Saved != nil {
		if err := v.deps.Saved.SetSaved(ctx, treeID, nodeID, saved); err != nil {
			return saved, fmt.Errorf("saving node %s: %w", nodeID, err)
		}
	}
	return saved, nil
}

// IsSaved reports whether a node is saved.
func (v *View) IsSaved(nodeID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.saved[nodeID]
}

// CompleteNode marks a node complete on the backend, then patches the
// local snapshot: the node becomes completed and its locked children
// become available. The snapshot is replaced, not mutated.
func (v *View) CompleteNode(ctx context.Context, nodeID string) error {
	v.mu.Lock()
	if v.snap == nil {
		v.mu.Unlock()
		return ErrNotLoaded
	}
	gen, treeID := v.gen, v.treeID
	v.mu.Unlock()

	token, err := v.deps.Tokens.Token()
	if err != nil {
		return &AuthError{Err: err}
	}
	if v.deps.Completer == nil {
		return errors.New("view: no completer configured")
	}
	if _, err := v.deps.Completer.CompleteNode(ctx, nodeID, token); err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			return &AuthError{Err: err}
		}
		return &DataError{TreeID: treeID, Err: err}
	}

	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return ErrSuperseded
	}
	snap, touched := patchCompleted(v.snap, nodeID)
	if hash, err := tree.Digest(snap.Nodes, snap.Edges); err == nil {
		snap.Hash = hash
	}
	v.snap = snap
	for _, i := range touched {
		v.index.Remove(snap.Nodes[i].ID)
		if snap.Nodes[i].Visible {
			v.index.Add(snap.Nodes[i])
		}
	}
	cb := v.cb.OnNodeComplete
	v.mu.Unlock()

	if v.deps.Cache != nil && !snap.Fallback {
		v.deps.Cache.Put(ctx, cacheKey(treeID), snap)
	}
	if cb != nil {
		cb(nodeID)
	}
	return nil
}

// patchCompleted returns a copy of s with nodeID completed and its locked
// direct children available, plus the indexes of the nodes it changed.
func patchCompleted(s *tree.Snapshot, nodeID string) (*tree.Snapshot, []int) {
	children := make(map[string]bool)
	for _, id := range tree.Children(s.Edges, nodeID) {
		children[id] = true
	}
	out := s.WithNodes(func(n *tree.Node) {})
	var touched []int
	for i := range out.Nodes {
		n := &out.Nodes[i]
		switch {
		case n.ID == nodeID && n.State != tree.StateCompleted:
			n.State = tree.StateCompleted
			touched = append(touched, i)
		case children[n.ID] && n.State == tree.StateLocked:
			n.State = tree.StateAvailable
			touched = append(touched, i)
		}
	}
	return out, touched
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (v *View) Snapshot() *tree.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

// Controller returns the interaction controller.
func (v *View) Controller() *interact.Controller {
	return v.ctrl
}

// Status reports the current state of the view.
func (v *View) Status() Status {
	v.mu.Lock()
	s := Status{
		TreeID:     v.treeID,
		Indexed:    v.index.Len(),
		FromCache:  v.fromCache,
		LayoutTime: v.layoutTime,
		Strategy:   v.renderer.Strategy(),
	}
	if v.snap != nil {
		s.Nodes = len(v.snap.Nodes)
		s.Fallback = v.snap.Fallback
	}
	v.mu.Unlock()

	s.FPS = v.deps.Governor.AverageFPS()
	s.Viewport = v.ctrl.Viewport()
	if v.deps.Cache != nil {
		s.Cache = v.deps.Cache.Stats()
	}
	return s
}
