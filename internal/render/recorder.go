package render

import (
	"sort"
	"sync"
)

// scene is the current picture on a surface, rebuilt from batches and
// patched incrementally by retained renderers.
type scene struct {
	transform Transform
	elements  map[string]Element
}

func newScene() scene {
	return scene{transform: Identity, elements: make(map[string]Element)}
}

func (sc *scene) applyBatch(b *Batch) {
	sc.transform = b.Transform
	sc.elements = make(map[string]Element, len(b.Quads)+len(b.Curves))
	for _, q := range b.Quads {
		sc.elements[q.ID] = Element{ID: q.ID, Kind: ElementNode, Quad: q}
	}
	for _, c := range b.Curves {
		id := edgeElementID(c)
		sc.elements[id] = Element{ID: id, Kind: ElementEdge, Curve: c}
	}
}

func (sc *scene) applyPatch(p *Patch) {
	sc.transform = p.Transform
	for _, id := range p.Remove {
		delete(sc.elements, id)
	}
	for _, el := range p.Upsert {
		sc.elements[el.ID] = el
	}
}

// sorted returns edges first so nodes draw on top, each group by id.
func (sc *scene) sorted() []Element {
	out := make([]Element, 0, len(sc.elements))
	for _, el := range sc.elements {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == ElementEdge
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Recorder is an in-memory surface. It keeps the resulting scene and
// counts calls, for tests and benchmarks.
type Recorder struct {
	mu      sync.Mutex
	width   float64
	height  float64
	scene   scene
	batches int
	patches int
	last    *Patch
}

// NewRecorder creates a recorder of the given screen size.
func NewRecorder(width, height float64) *Recorder {
	return &Recorder{width: width, height: height, scene: newScene()}
}

func (r *Recorder) Size() (float64, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Resize changes the reported screen size.
func (r *Recorder) Resize(width, height float64) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()
}

func (r *Recorder) DrawBatch(b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
	r.scene.applyBatch(b)
	return nil
}

func (r *Recorder) ApplyPatch(p *Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches++
	r.last = p
	r.scene.applyPatch(p)
	return nil
}

// Batches returns how many batches were drawn.
func (r *Recorder) Batches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

// Patches returns how many patches were applied.
func (r *Recorder) Patches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patches
}

// LastPatch returns the most recent patch, or nil.
func (r *Recorder) LastPatch() *Patch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Elements returns the current scene, edges first.
func (r *Recorder) Elements() []Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scene.sorted()
}

// Transform returns the current scene transform.
func (r *Recorder) Transform() Transform {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scene.transform
}

// Nodes returns the ids of node elements in the scene.
func (r *Recorder) Nodes() []string {
	var ids []string
	for _, el := range r.Elements() {
		if el.Kind == ElementNode {
			ids = append(ids, el.ID)
		}
	}
	return ids
}
