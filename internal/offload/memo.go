package offload

import (
	"container/list"
	"sync"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/digest"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// memo remembers recent layout results by request content.
type memo struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List // front = most recent
}

type memoEntry struct {
	key   string
	nodes []tree.Node
}

func newMemo(max int) *memo {
	return &memo{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func memoKey(req request) (string, error) {
	treeHash, err := tree.Digest(req.nodes, req.edges)
	if err != nil {
		return "", err
	}
	return digest.Of("layout", struct {
		Tree string  `json:"tree"`
		CX   float64 `json:"cx"`
		CY   float64 `json:"cy"`
	}{treeHash, req.cx, req.cy})
}

func (m *memo) get(key string) ([]tree.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(el)
	return append([]tree.Node(nil), el.Value.(*memoEntry).nodes...), true
}

func (m *memo) put(key string, nodes []tree.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := append([]tree.Node(nil), nodes...)
	if el, ok := m.entries[key]; ok {
		el.Value.(*memoEntry).nodes = stored
		m.order.MoveToFront(el)
		return
	}
	for m.order.Len() >= m.max {
		back := m.order.Back()
		delete(m.entries, back.Value.(*memoEntry).key)
		m.order.Remove(back)
	}
	m.entries[key] = m.order.PushFront(&memoEntry{key: key, nodes: stored})
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
