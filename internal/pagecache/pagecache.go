// Package pagecache implements the url_hash-keyed page cache of spec §4.7:
// a Postgres-backed persistent tier authoritative for "what was last
// fetched for this URL", fronted by a bounded in-memory LRU that is
// invalidated on every write so it never serves stale data.
//
// Grounded on the teacher's internal/storage/postgres/retrieval_store.go
// (pgxpool raw-SQL insert shape, table-name validation) for the
// persistent tier, and internal/storage/memory/job_store.go (mutex+map
// store) for the front tier's shape before it was swapped onto
// hashicorp/golang-lru/v2 for the bounded-eviction Open Question (c)
// resolution recorded in DESIGN.md.
package pagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2"

	"github.com/webextract/service/internal/domain"
)

const defaultTTL = time.Hour

// DB is the subset of pgxpool.Pool the cache needs, satisfied by
// *pgxpool.Pool in production and a stub in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Row is the subset of pgx.Row the cache needs.
type Row interface {
	Scan(dest ...any) error
}

// Cache is the page cache's persistent-plus-LRU implementation.
type Cache struct {
	db         DB
	front      *lru.Cache[string, domain.Page]
	defaultTTL time.Duration
}

// New builds a Cache backed by db with a bounded LRU front tier of the
// given size.
func New(db DB, lruSize int) (*Cache, error) {
	if lruSize <= 0 {
		lruSize = 1000
	}
	front, err := lru.New[string, domain.Page](lruSize)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db, front: front, defaultTTL: defaultTTL}, nil
}

// Probe implements spec §4.7's probe operation: a Hit iff a row exists,
// its FetchedAt is within ttlSeconds (nil means the cache's default TTL;
// a present-but-zero value disables the TTL cap), and forceRefresh is
// false.
func (c *Cache) Probe(ctx context.Context, urlHash string, ttlSeconds *int, forceRefresh bool) (domain.Page, bool, error) {
	if forceRefresh {
		return domain.Page{}, false, nil
	}

	if page, ok := c.front.Get(urlHash); ok {
		if c.withinTTL(page.FetchedAt, ttlSeconds) {
			return page, true, nil
		}
		c.front.Remove(urlHash)
	}

	page, ok, err := c.load(ctx, "url_hash = $1", urlHash)
	if err != nil || !ok {
		return domain.Page{}, false, err
	}
	if !c.withinTTL(page.FetchedAt, ttlSeconds) {
		return domain.Page{}, false, nil
	}
	c.front.Add(urlHash, page)
	return page, true, nil
}

// LookupByContent implements spec §4.7's optional secondary reuse lookup.
func (c *Cache) LookupByContent(ctx context.Context, contentHash string) (domain.Page, bool, error) {
	return c.load(ctx, "content_hash = $1", contentHash)
}

func (c *Cache) withinTTL(fetchedAt time.Time, ttlSeconds *int) bool {
	ttl := c.defaultTTL
	if ttlSeconds != nil {
		if *ttlSeconds <= 0 {
			return true // explicit disable of the TTL cap
		}
		ttl = time.Duration(*ttlSeconds) * time.Second
	}
	return time.Since(fetchedAt) <= ttl
}

// ContentHash computes the page's content-addressed identity from its
// normalized Markdown, per spec §4.7's store() contract.
func ContentHash(markdown string) string {
	sum := sha256.Sum256([]byte(markdown))
	return hex.EncodeToString(sum[:])
}
