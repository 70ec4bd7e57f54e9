// Package robotscache fetches and caches robots.txt policies per host,
// coalescing concurrent lookups for the same host into one upstream fetch.
//
// Grounded on the teacher's internal/crawler/robotspolicy.go (temoto/
// robotstxt client, sync.Map cache), generalized with explicit TTLs and
// an explicit golang.org/x/sync/singleflight group in place of the
// teacher's implicit sync.Map coalescing.
package robotscache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const (
	positiveTTL = time.Hour
	negativeTTL = 15 * time.Minute
	fetchTimeout = 5 * time.Second
)

type entry struct {
	data      *robotstxt.RobotsData
	allowAll  bool
	expiresAt time.Time
}

// Cache fetches and caches robots.txt policies per host.
type Cache struct {
	client *http.Client
	mu     sync.RWMutex
	byHost map[string]entry
	group  singleflight.Group
}

// New constructs a Cache with a dedicated short-timeout HTTP client.
func New() *Cache {
	return &Cache{
		client: &http.Client{Timeout: fetchTimeout},
		byHost: make(map[string]entry),
	}
}

// Allowed reports whether userAgent may fetch path on host. It fails open
// (allows) on any fetch or parse error. Callers only consult this when the
// request explicitly opted into respecting robots.
func (c *Cache) Allowed(ctx context.Context, scheme, host, path, userAgent string) (bool, error) {
	e, err := c.load(ctx, scheme, host, userAgent)
	if err != nil {
		return true, nil //nolint:nilerr // fail open per spec §4.2
	}
	if e.allowAll || e.data == nil {
		return true, nil
	}
	group := e.data.FindGroup(userAgent)
	if group == nil {
		return true, nil
	}
	return group.Test(path), nil
}

func (c *Cache) load(ctx context.Context, scheme, host, userAgent string) (entry, error) {
	key := strings.ToLower(host)

	c.mu.RLock()
	if e, ok := c.byHost[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.RUnlock()
		return e, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, scheme, host, userAgent)
	})
	if err != nil {
		return entry{}, err
	}
	e := result.(entry)
	c.mu.Lock()
	c.byHost[key] = e
	c.mu.Unlock()
	return e, nil
}

func (c *Cache) fetch(ctx context.Context, scheme, host, userAgent string) (entry, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return entry{}, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return entry{allowAll: true, expiresAt: time.Now().Add(negativeTTL)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return entry{allowAll: true, expiresAt: time.Now().Add(negativeTTL)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return entry{allowAll: true, expiresAt: time.Now().Add(negativeTTL)}, nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return entry{allowAll: true, expiresAt: time.Now().Add(negativeTTL)}, nil
	}

	return entry{data: data, expiresAt: time.Now().Add(positiveTTL)}, nil
}

// HostOf extracts the lowercase host from a canonical URL, for callers
// that only have the URL string.
func HostOf(rawURL string) (scheme, host string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	return strings.ToLower(u.Scheme), strings.ToLower(u.Host), nil
}
