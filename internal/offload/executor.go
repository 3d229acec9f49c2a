// Package offload runs layout passes on background workers. Callers talk
// to the workers by message: every request carries a correlation id and
// responses are matched back to the waiting caller by that id, so
// completion order does not matter.
package offload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/layout"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultWorkers  = 1
	DefaultMemoSize = 16
)

var (
	ErrTimeout       = errors.New("layout request timed out")
	ErrWorkerCrashed = errors.New("layout worker crashed")
	ErrClosed        = errors.New("executor is not running")
)

// LayoutFunc computes positions for a node set.
type LayoutFunc func(nodes []tree.Node, edges []tree.Edge, cx, cy float64) []tree.Node

// Config configures an Executor.
type Config struct {
	Timeout  time.Duration
	Workers  int
	MemoSize int
	Layout   LayoutFunc // defaults to layout.Compute
	Logger   *log.Logger
}

// Result is the answer to one layout request.
type Result struct {
	Nodes       []tree.Node
	Cached      bool
	ComputeTime time.Duration
}

type request struct {
	id     string
	nodes  []tree.Node
	edges  []tree.Edge
	cx, cy float64
}

type response struct {
	id     string
	result Result
	err    error
}

// Executor owns a pool of layout workers.
type Executor struct {
	cfg    Config
	logger *log.Logger
	memo   *memo

	mu       sync.Mutex
	pending  map[string]chan response
	requests chan request
	stop     chan struct{}
	running  bool
	restarts int

	wg sync.WaitGroup
}

// New creates an executor. Call Start before sending requests.
func New(cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MemoSize <= 0 {
		cfg.MemoSize = DefaultMemoSize
	}
	if cfg.Layout == nil {
		cfg.Layout = layout.Compute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		cfg:     cfg,
		logger:  logger,
		memo:    newMemo(cfg.MemoSize),
		pending: make(map[string]chan response),
	}
}

// Start launches the workers. Starting a running executor is a no-op.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.requests = make(chan request)
	e.stop = make(chan struct{})
	for i := 0; i < e.cfg.Workers; i++ {
		e.spawn()
	}
}

// Close stops the workers and rejects every in-flight request with
// ErrClosed. It does not wait: a worker stuck inside a layout pass is
// abandoned and its eventual response dropped.
func (e *Executor) Close() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stop)
	e.rejectAllLocked(ErrClosed)
	e.mu.Unlock()
	return nil
}

// Wait blocks until every worker has exited. Only meaningful after Close.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Pending returns the number of requests awaiting a response.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Restarts returns how many times a crashed worker has been replaced.
func (e *Executor) Restarts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restarts
}

// CalculateLayout sends a layout request to the workers and waits for the
// matching response. The timeout covers queueing and computation.
func (e *Executor) CalculateLayout(ctx context.Context, nodes []tree.Node, edges []tree.Edge, cx, cy float64) (Result, error) {
	req := request{
		id:    uuid.NewString(),
		nodes: append([]tree.Node(nil), nodes...),
		edges: append([]tree.Edge(nil), edges...),
		cx:    cx,
		cy:    cy,
	}
	reply := make(chan response, 1)

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return Result{}, ErrClosed
	}
	e.pending[req.id] = reply
	requests, stop := e.requests, e.stop
	e.mu.Unlock()

	timer := time.NewTimer(e.cfg.Timeout)
	defer timer.Stop()

	select {
	case requests <- req:
	case resp := <-reply:
		// rejected before a worker picked it up
		return resp.result, resp.err
	case <-timer.C:
		e.forget(req.id)
		return Result{}, fmt.Errorf("request %s: %w", req.id, ErrTimeout)
	case <-ctx.Done():
		e.forget(req.id)
		return Result{}, ctx.Err()
	case <-stop:
		e.forget(req.id)
		return Result{}, ErrClosed
	}

	select {
	case resp := <-reply:
		return resp.result, resp.err
	case <-timer.C:
		e.forget(req.id)
		return Result{}, fmt.Errorf("request %s: %w", req.id, ErrTimeout)
	case <-ctx.Done():
		e.forget(req.id)
		return Result{}, ctx.Err()
	}
}

func (e *Executor) forget(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// deliver hands a response to its waiting caller. Responses for requests
// that already timed out or were rejected are dropped.
func (e *Executor) deliver(resp response) {
	e.mu.Lock()
	reply, ok := e.pending[resp.id]
	if ok {
		delete(e.pending, resp.id)
	}
	e.mu.Unlock()
	if ok {
		reply <- resp
	}
}

func (e *Executor) rejectAllLocked(err error) {
	for id, reply := range e.pending {
		reply <- response{id: id, err: err}
		delete(e.pending, id)
	}
}

// spawn must be called with e.mu held.
func (e *Executor) spawn() {
	e.wg.Add(1)
	go e.worker(e.requests, e.stop)
}

func (e *Executor) worker(requests <-chan request, stop <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-stop:
			return
		case req := <-requests:
			resp, crashed := e.handle(req)
			if crashed != nil {
				e.crash(crashed)
				return
			}
			e.deliver(resp)
		}
	}
}

// crash rejects everything in flight and replaces the worker.
func (e *Executor) crash(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Printf("layout worker crashed, rejecting %d in-flight requests: %v", len(e.pending), cause)
	e.rejectAllLocked(fmt.Errorf("%w: %v", ErrWorkerCrashed, cause))
	if e.running {
		e.restarts++
		e.spawn()
	}
}

func (e *Executor) handle(req request) (resp response, crashed error) {
	resp.id = req.id
	start := time.Now()

	key, err := memoKey(req)
	if err != nil {
		e.logger.Printf("layout memo key for %s: %v", req.id, err)
	}
	if key != "" {
		if nodes, ok := e.memo.get(key); ok {
			resp.result = Result{Nodes: nodes, Cached: true, ComputeTime: time.Since(start)}
			return resp, nil
		}
	}

	defer func() {
		if r := recover(); r != nil {
			crashed = fmt.Errorf("panic: %v", r)
		}
	}()

	nodes := e.cfg.Layout(req.nodes, req.edges, req.cx, req.cy)
	if key != "" {
		e.memo.put(key, nodes)
	}
	resp.result = Result{Nodes: nodes, ComputeTime: time.Since(start)}
	return resp, nil
}
