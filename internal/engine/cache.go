package engine

import (
	"container/list"
	"context"
	"sync"

	"github.com/r7-consult/wasm-sqlite-database/internal/storage"
)

// CompiledQuery is a pre-parsed statement ready for repeated execution,
// analogous to a database/sql prepared statement.
type CompiledQuery struct {
	SQL  string
	Stmt Statement
}

// Execute runs the compiled statement against db under tenant.
func (c *CompiledQuery) Execute(ctx context.Context, db *storage.DB, tenant string) (*ResultSet, error) {
	return Execute(ctx, db, tenant, c.Stmt)
}

// QueryCache caches parsed statements keyed by their source text, with LRU
// eviction once maxSize is exceeded.
//
// What: A compile-once, execute-many cache for hot queries.
// How: A map plus a container/list tracks recency; maxSize <= 0 disables
// eviction entirely.
// Why: Re-parsing identical SQL text on every call is wasted work for
// workloads that run the same query repeatedly with the underlying data
// changing (polling, dashboards, scheduled reports).
type QueryCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	sql     string
	compiled *CompiledQuery
}

// NewQueryCache creates a cache holding at most maxSize compiled queries.
// maxSize <= 0 means unbounded.
func NewQueryCache(maxSize int) *QueryCache {
	return &QueryCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Compile parses sql (if not already cached) and returns the CompiledQuery.
func (c *QueryCache) Compile(sql string) (*CompiledQuery, error) {
	c.mu.Lock()
	if el, ok := c.entries[sql]; ok {
		c.order.MoveToFront(el)
		c.mu.Unlock()
		return el.Value.(*cacheEntry).compiled, nil
	}
	c.mu.Unlock()

	stmt, err := ParseSQL(sql)
	if err != nil {
		return nil, err
	}
	compiled := &CompiledQuery{SQL: sql, Stmt: stmt}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[sql]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).compiled, nil
	}
	el := c.order.PushFront(&cacheEntry{sql: sql, compiled: compiled})
	c.entries[sql] = el
	if c.maxSize > 0 {
		for c.order.Len() > c.maxSize {
			oldest := c.order.Back()
			if oldest == nil {
				break
			}
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).sql)
		}
	}
	return compiled, nil
}

// MustCompile is like Compile but panics on parse error.
func (c *QueryCache) MustCompile(sql string) *CompiledQuery {
	q, err := c.Compile(sql)
	if err != nil {
		panic(err)
	}
	return q
}
