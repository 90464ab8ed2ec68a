package mustache

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
)

// ----------------------------- Template compilation cache ----------------

// DefaultCacheSize is the capacity of caches created with a size <= 0.
const DefaultCacheSize = 1024

// DefaultCache is used by renders that do not configure a cache.
var DefaultCache = NewTemplateCache(DefaultCacheSize)

// cacheKey fingerprints a template instead of holding its bytes. The size is
// part of the key so a hash collision also needs an equal length.
type cacheKey struct {
	sum      uint64
	size     int
	open     string
	close    string
	comments bool
}

func newCacheKey(src string, tags Tags, comments bool) cacheKey {
	return cacheKey{
		sum:      xxhash.Sum64String(src),
		size:     len(src),
		open:     tags.Open,
		close:    tags.Close,
		comments: comments,
	}
}

// CacheStats is a snapshot of cache activity.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	Capacity  int
}

// TemplateCache maps (template, tags, comment mode) to compiled templates and
// evicts the least recently used entry once capacity is reached. Lookups and
// insertions both count as use. It is safe for concurrent use.
type TemplateCache struct {
	lru       *lru.Cache
	capacity  int
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	onEvict   func(*CompiledTemplate)
}

// CacheOption configures a TemplateCache.
type CacheOption func(*TemplateCache)

// WithEvictHook registers fn to be called with every evicted template.
func WithEvictHook(fn func(*CompiledTemplate)) CacheOption {
	return func(c *TemplateCache) { c.onEvict = fn }
}

// NewTemplateCache creates a cache holding at most capacity templates.
func NewTemplateCache(capacity int, opts ...CacheOption) *TemplateCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	c := &TemplateCache{capacity: capacity}
	for _, o := range opts {
		o(c)
	}
	// Only fails for a non-positive size.
	c.lru, _ = lru.NewWithEvict(capacity, c.evicted)
	return c
}

func (c *TemplateCache) evicted(_ any, value any) {
	c.evictions.Add(1)
	if c.onEvict != nil {
		if ct, ok := value.(*CompiledTemplate); ok {
			c.onEvict(ct)
		}
	}
}

func (c *TemplateCache) get(key cacheKey, src string) (*CompiledTemplate, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		if ct := v.(*CompiledTemplate); ct.src == src {
			c.hits.Add(1)
			return ct, true
		}
	}
	c.misses.Add(1)
	return nil, false
}

func (c *TemplateCache) put(key cacheKey, ct *CompiledTemplate) {
	c.lru.Add(key, ct)
}

// Contains reports whether a template is cached, without touching its
// recency or the hit counters.
func (c *TemplateCache) Contains(src string, tags Tags, comments bool) bool {
	if !tags.valid() {
		tags = DefaultTags
	}
	v, ok := c.lru.Peek(newCacheKey(src, tags, comments))
	return ok && v.(*CompiledTemplate).src == src
}

// Len returns the number of cached templates.
func (c *TemplateCache) Len() int { return c.lru.Len() }

// Capacity returns the maximum number of cached templates.
func (c *TemplateCache) Capacity() int { return c.capacity }

// Purge drops every entry. Purged entries count as evictions.
func (c *TemplateCache) Purge() { c.lru.Purge() }

// Stats returns the current counters.
func (c *TemplateCache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
	}
}

// ----------------------------- Field reflection cache -----------------------

type fieldCache struct {
	mu    sync.RWMutex
	cache map[fieldCacheKey]fieldInfo
}

type fieldCacheKey struct {
	typ  reflect.Type
	name string
}

type fieldInfo struct {
	index []int
	found bool
}

var globalFieldCache = newFieldCache()

func newFieldCache() *fieldCache {
	return &fieldCache{
		cache: make(map[fieldCacheKey]fieldInfo),
	}
}

func (fc *fieldCache) lookup(typ reflect.Type, name string) fieldInfo {
	key := fieldCacheKey{typ: typ, name: name}
	fc.mu.RLock()
	info, ok := fc.cache[key]
	fc.mu.RUnlock()
	if ok {
		return info
	}
	info = resolveField(typ, name)
	fc.mu.Lock()
	fc.cache[key] = info
	fc.mu.Unlock()
	return info
}
