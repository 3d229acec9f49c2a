// Package cache provides a two-tier cache of positioned tree snapshots: a
// bounded in-memory LRU checked first, and a persistent key/value store
// checked on miss, whose hits are promoted back into memory.
package cache

import (
	"container/list"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/store"
	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

const (
	DefaultMaxEntries = 64
	DefaultTTL        = 24 * time.Hour
)

// Store is the persistent tier. Get must return store.ErrNotFound for
// missing keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// Config configures a Cache.
type Config struct {
	MaxEntries int           // in-memory capacity (LRU)
	TTL        time.Duration // entries older than this read as absent
	Now        func() time.Time
	Logger     *log.Logger
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64
	Size    int // in-memory entries
}

type memEntry struct {
	key       string
	snap      *tree.Snapshot
	writtenAt time.Time
	element   *list.Element
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg     Config
	persist Store
	logger  *log.Logger

	mu      sync.Mutex
	entries map[string]*memEntry
	lru     *list.List // front = most recently used

	hits   atomic.Int64
	misses atomic.Int64

	enc *zstd.Encoder
	dec *zstd.Decoder

	writes   map[string]*keyWrites // guarded by mu
	inflight sync.WaitGroup
}

// keyWrites tracks the background writes for one key. When writes
// overlap, the store may finish them in any order, so the last one to
// finish rewrites the newest value.
type keyWrites struct {
	latest     []byte
	pending    int
	overlapped bool
}

// New creates a cache over the given persistent store. persist may be nil
// for a memory-only cache.
func New(persist Store, cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}

	return &Cache{
		cfg:     cfg,
		persist: persist,
		logger:  logger,
		entries: make(map[string]*memEntry),
		lru:     list.New(),
		writes:  make(map[string]*keyWrites),
		enc:     enc,
		dec:     dec,
	}, nil
}

func (c *Cache) expired(writtenAt time.Time) bool {
	return c.cfg.Now().Sub(writtenAt) > c.cfg.TTL
}

// Get returns the snapshot stored under key. Expired entries are evicted
// and reported absent. Persistent-tier failures are logged and treated as
// misses.
func (c *Cache) Get(ctx context.Context, key string) (*tree.Snapshot, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if !c.expired(e.writtenAt) {
			c.lru.MoveToFront(e.element)
			c.mu.Unlock()
			c.hits.Add(1)
			return e.snap, true
		}
		c.removeLocked(e)
	}
	c.mu.Unlock()

	if c.persist == nil {
		c.misses.Add(1)
		return nil, false
	}

	data, err := c.persist.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Printf("cache: reading %s: %v", key, err)
		}
		c.misses.Add(1)
		return nil, false
	}

	snap, writtenAt, err := c.decode(data)
	if err != nil {
		c.logger.Printf("cache: dropping unreadable entry %s: %v", key, err)
		if err := c.persist.Delete(ctx, key); err != nil {
			c.logger.Printf("cache: deleting unreadable %s: %v", key, err)
		}
		c.misses.Add(1)
		return nil, false
	}
	if c.expired(writtenAt) {
		if err := c.persist.Delete(ctx, key); err != nil {
			c.logger.Printf("cache: evicting expired %s: %v", key, err)
		}
		c.misses.Add(1)
		return nil, false
	}

	// promote
	c.mu.Lock()
	c.insertLocked(key, snap, writtenAt)
	c.mu.Unlock()

	c.hits.Add(1)
	return snap, true
}

// Put stores a compacted copy of snap under key. The memory tier is
// updated before Put returns; the persistent write happens in the
// background and its result is delivered on the returned channel, which
// callers may ignore.
func (c *Cache) Put(ctx context.Context, key string, snap *tree.Snapshot) <-chan error {
	done := make(chan error, 1)
	now := c.cfg.Now()
	compact := Compact(snap)

	c.mu.Lock()
	c.insertLocked(key, compact, now)
	c.mu.Unlock()

	if c.persist == nil {
		done <- nil
		return done
	}

	data, err := c.encode(compact, now)
	if err != nil {
		done <- err
		return done
	}

	c.mu.Lock()
	w, ok := c.writes[key]
	if !ok {
		w = &keyWrites{}
		c.writes[key] = w
	}
	w.latest = data
	if w.pending > 0 {
		w.overlapped = true
	}
	w.pending++
	c.mu.Unlock()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		done <- c.write(ctx, key, data)
	}()
	return done
}

// write stores data under key. The last of a run of overlapping writes
// stores the newest value once more on its own, so the persistent tier
// ends on the value of the last Put.
func (c *Cache) write(ctx context.Context, key string, data []byte) error {
	for {
		err := c.persist.Put(ctx, key, data)
		if err != nil {
			c.logger.Printf("cache: writing %s: %v", key, err)
		}

		c.mu.Lock()
		w := c.writes[key]
		w.pending--
		if w.pending > 0 || !w.overlapped {
			if w.pending == 0 {
				delete(c.writes, key)
			}
			c.mu.Unlock()
			return err
		}
		w.overlapped = false
		w.pending = 1
		data = w.latest
		c.mu.Unlock()
	}
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()
	if c.persist == nil {
		return nil
	}
	return c.persist.Delete(ctx, key)
}

// Keys lists the keys held by the persistent tier, or the memory tier
// when there is no persistent store.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	if c.persist != nil {
		return c.persist.Keys(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for e := c.lru.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(string))
	}
	return keys, nil
}

// Stats returns hit/miss counters and the in-memory size.
func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	c.mu.Lock()
	s.Size = len(c.entries)
	c.mu.Unlock()
	return s
}

// Clear empties both tiers and resets the counters.
func (c *Cache) Clear(ctx context.Context) error {
	c.Wait()

	c.mu.Lock()
	c.entries = make(map[string]*memEntry)
	c.lru.Init()
	c.mu.Unlock()

	c.hits.Store(0)
	c.misses.Store(0)

	if c.persist == nil {
		return nil
	}
	return c.persist.Clear(ctx)
}

// Wait blocks until background writes have finished.
func (c *Cache) Wait() {
	c.inflight.Wait()
}

// Close waits for background writes and releases the codecs.
func (c *Cache) Close() error {
	c.Wait()
	c.dec.Close()
	return c.enc.Close()
}

func (c *Cache) insertLocked(key string, snap *tree.Snapshot, writtenAt time.Time) {
	if e, ok := c.entries[key]; ok {
		e.snap = snap
		e.writtenAt = writtenAt
		c.lru.MoveToFront(e.element)
		return
	}
	for len(c.entries) >= c.cfg.MaxEntries {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.removeLocked(c.entries[back.Value.(string)])
	}
	e := &memEntry{key: key, snap: snap, writtenAt: writtenAt}
	e.element = c.lru.PushFront(key)
	c.entries[key] = e
}

func (c *Cache) removeLocked(e *memEntry) {
	c.lru.Remove(e.element)
	delete(c.entries, e.key)
}
