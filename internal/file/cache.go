package file

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_metadata_cache_hits_total",
		Help: "Metadata lookups served from the in-process cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_metadata_cache_misses_total",
		Help: "Metadata lookups that went to the metadata store.",
	})
)

// CachedStore decorates a MetadataStore with an expiring LRU for lookups.
// Only servable records are cached; every Update refreshes or evicts the entry,
// so a soft delete is visible immediately in this process.
type CachedStore struct {
	next  MetadataStore
	byID  *expirable.LRU[string, Record]
	byKey *expirable.LRU[string, string]
}

// NewCachedStore wraps next. size is the maximum number of cached records.
func NewCachedStore(next MetadataStore, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:  next,
		byID:  expirable.NewLRU[string, Record](size, nil, ttl),
		byKey: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Create implements MetadataStore. Provisional records are never cached.
func (c *CachedStore) Create(ctx context.Context, rec *Record) error {
	return c.next.Create(ctx, rec)
}

// Update implements MetadataStore.
func (c *CachedStore) Update(ctx context.Context, rec *Record) error {
	c.evict(rec.ID)
	if err := c.next.Update(ctx, rec); err != nil {
		return err
	}
	c.put(rec)
	return nil
}

// GetByID implements MetadataStore.
func (c *CachedStore) GetByID(ctx context.Context, id string) (*Record, error) {
	if rec, ok := c.byID.Get(id); ok {
		cacheHitsTotal.Inc()
		return &rec, nil
	}
	cacheMissesTotal.Inc()

	rec, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(rec)
	return rec, nil
}

// FindByUniqueKey implements MetadataStore.
func (c *CachedStore) FindByUniqueKey(ctx context.Context, key string) (*Record, error) {
	if id, ok := c.byKey.Get(key); ok {
		if rec, ok := c.byID.Get(id); ok {
			cacheHitsTotal.Inc()
			return &rec, nil
		}
	}
	cacheMissesTotal.Inc()

	rec, err := c.next.FindByUniqueKey(ctx, key)
	if err != nil {
		return nil, err
	}
	c.put(rec)
	return rec, nil
}

// FindByDeleted implements MetadataStore. Listings always bypass the cache.
func (c *CachedStore) FindByDeleted(ctx context.Context, deleted bool) ([]*Record, error) {
	return c.next.FindByDeleted(ctx, deleted)
}

func (c *CachedStore) put(rec *Record) {
	if !rec.Servable() {
		c.evict(rec.ID)
		return
	}
	c.byID.Add(rec.ID, *rec)
	if rec.UniqueKey != nil {
		c.byKey.Add(*rec.UniqueKey, rec.ID)
	}
}

func (c *CachedStore) evict(id string) {
	if rec, ok := c.byID.Peek(id); ok && rec.UniqueKey != nil {
		c.byKey.Remove(*rec.UniqueKey)
	}
	c.byID.Remove(id)
}
