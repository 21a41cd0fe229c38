// Package cache stores generation results keyed by schema content hash.
//
// The durable Store is the source of truth; an in-process LRU sits in front of
// it. Storage failures never reach callers of Get and Set: they are logged as
// warnings and degrade to a miss or an unpersisted write.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/farm-stack/farm/internal/logger"
	"github.com/farm-stack/farm/internal/schema"
)

const entryVersion = 1

// ErrNotFound is returned by stores when no entry exists for a hash.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached generation result.
type Entry struct {
	Version     int              `json:"version"`
	Hash        string           `json:"hash"`
	Schema      *schema.Document `json:"schema"`
	Artifacts   []string         `json:"artifacts"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Artifacts = append([]string(nil), e.Artifacts...)
	return &c
}

// Store is a durable entry backend.
type Store interface {
	Name() string
	Load(ctx context.Context, hash string) (*Entry, error)
	Save(ctx context.Context, entry *Entry) error
	Clear(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// LatestStore is implemented by stores that remember which entry the most
// recent cycle used.
type LatestStore interface {
	SaveLatest(ctx context.Context, hash string) error
	// LoadLatest returns ErrNotFound when nothing has been marked.
	LoadLatest(ctx context.Context) (string, error)
}

// StorageError wraps a failing store operation.
type StorageError struct {
	Op      string
	Backend string
	Hash    string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Hash == "" {
		return fmt.Sprintf("cache %s failed (%s): %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("cache %s failed (%s, %s): %v", e.Op, e.Backend, short(e.Hash), e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Hash returns the content hash used as the cache key for doc.
func Hash(doc *schema.Document) string {
	return doc.Hash()
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for storage warnings.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cache) { c.logger = logger.OrNop(l) }
}

// WithMemoryEntries sets the size of the in-process LRU. Zero disables it.
func WithMemoryEntries(n int) Option {
	return func(c *Cache) { c.memorySize = n }
}

// Cache is the generation cache used by the orchestrator.
type Cache struct {
	store      Store
	memory     *lru.Cache[string, *Entry]
	memorySize int
	logger     *zap.SugaredLogger

	hits   atomic.Int64
	misses atomic.Int64
}

// New wraps store with an LRU front.
func New(store Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("cache: store is required")
	}
	c := &Cache{
		store:      store,
		memorySize: 128,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.memorySize > 0 {
		memory, err := lru.New[string, *Entry](c.memorySize)
		if err != nil {
			return nil, errors.Wrap(err, "creating memory cache")
		}
		c.memory = memory
	}
	return c, nil
}

// Get looks up the entry for hash. A storage failure is reported as a miss.
func (c *Cache) Get(ctx context.Context, hash string) (*Entry, bool) {
	e, ok := c.lookup(ctx, hash)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return e, ok
}

func (c *Cache) lookup(ctx context.Context, hash string) (*Entry, bool) {
	if c.memory != nil {
		if e, ok := c.memory.Get(hash); ok {
			return e.clone(), true
		}
	}

	e, err := c.store.Load(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.warn(&StorageError{Op: "read", Backend: c.store.Name(), Hash: hash, Err: err})
		}
		return nil, false
	}
	if e.Hash != hash || e.Schema == nil {
		c.warn(&StorageError{Op: "read", Backend: c.store.Name(), Hash: hash, Err: errors.New("entry does not match its key")})
		return nil, false
	}

	if c.memory != nil {
		c.memory.Add(hash, e.clone())
	}
	return e, true
}

// Set records entry under hash, replacing any previous entry. A storage
// failure leaves the result unpersisted and is only logged.
func (c *Cache) Set(ctx context.Context, hash string, entry *Entry) {
	e := entry.clone()
	e.Version = entryVersion
	e.Hash = hash
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if err := c.store.Save(ctx, e); err != nil {
		c.warn(&StorageError{Op: "write", Backend: c.store.Name(), Hash: hash, Err: err})
		if c.memory != nil {
			c.memory.Remove(hash)
		}
		return
	}
	if c.memory != nil {
		c.memory.Add(hash, e)
	}
}

// MarkLatest records hash as the entry the most recent cycle used. Failures
// are only logged.
func (c *Cache) MarkLatest(ctx context.Context, hash string) {
	ls, ok := c.store.(LatestStore)
	if !ok {
		return
	}
	if err := ls.SaveLatest(ctx, hash); err != nil {
		c.warn(&StorageError{Op: "mark", Backend: c.store.Name(), Hash: hash, Err: err})
	}
}

// Latest returns the entry last passed to MarkLatest. It does not count
// towards hits or misses.
func (c *Cache) Latest(ctx context.Context) (*Entry, bool) {
	ls, ok := c.store.(LatestStore)
	if !ok {
		return nil, false
	}
	hash, err := ls.LoadLatest(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.warn(&StorageError{Op: "read", Backend: c.store.Name(), Err: err})
		}
		return nil, false
	}
	return c.lookup(ctx, hash)
}

// Clear removes every entry. Unlike Get and Set, failures are returned.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	if c.memory != nil {
		c.memory.Purge()
	}
	n, err := c.store.Clear(ctx)
	if err != nil {
		return n, &StorageError{Op: "clear", Backend: c.store.Name(), Err: err}
	}
	return n, nil
}

// Stats describes cache usage.
type Stats struct {
	Backend       string
	Entries       int
	MemoryEntries int
	Hits          int64
	Misses        int64
}

// Stats reports the durable entry count and in-process counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Backend: c.store.Name(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
	if c.memory != nil {
		s.MemoryEntries = c.memory.Len()
	}
	n, err := c.store.Count(ctx)
	if err != nil {
		return s, &StorageError{Op: "count", Backend: c.store.Name(), Err: err}
	}
	s.Entries = n
	return s, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) warn(err *StorageError) {
	c.logger.Warnw("Type cache unavailable, continuing without it",
		"op", err.Op,
		"backend", err.Backend,
		"hash", short(err.Hash),
		"error", err.Err,
	)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
