package pagecache

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webextract/service/internal/domain"
)

// stubDB is an in-memory stand-in for pgxpool.Pool keyed by url_hash,
// enough to exercise Cache's SQL-shaped calls without a real database.
type stubDB struct {
	byHash map[string]domain.Page
}

func newStubDB() *stubDB { return &stubDB{byHash: map[string]domain.Page{}} }

func (s *stubDB) Exec(_ context.Context, _ string, args ...any) (int64, error) {
	page := domain.Page{
		ID:           args[0].(string),
		URL:          args[1].(string),
		CanonicalURL: args[2].(string),
		URLHash:      args[3].(string),
		StatusCode:   args[5].(int),
		FetchedAt:    args[22].(time.Time),
	}
	if h, ok := args[4].(*string); ok {
		page.ContentHash = h
	}
	if t, ok := args[6].(*string); ok {
		page.Title = t
	}
	if md, ok := args[8].(*string); ok {
		page.Markdown = md
	}
	s.byHash[page.URLHash] = page
	return 1, nil
}

func (s *stubDB) QueryRow(_ context.Context, _ string, args ...any) Row {
	key := args[0].(string)
	page, ok := s.byHash[key]
	if !ok {
		return errRow{pgx.ErrNoRows}
	}
	return pageRow{page}
}

type errRow struct{ err error }

func (r errRow) Scan(_ ...any) error { return r.err }

type pageRow struct{ page domain.Page }

func (r pageRow) Scan(dest ...any) error {
	*dest[0].(*string) = r.page.ID
	*dest[1].(*string) = r.page.URL
	*dest[2].(*string) = r.page.CanonicalURL
	*dest[3].(*string) = r.page.URLHash
	*dest[4].(**string) = r.page.ContentHash
	*dest[5].(*int) = r.page.StatusCode
	*dest[6].(**string) = r.page.Title
	*dest[7].(**string) = r.page.Description
	*dest[8].(**string) = r.page.Markdown
	*dest[9].(**string) = r.page.RawHTML
	*dest[10].(**string) = nil
	*dest[11].(*[]string) = r.page.LinksInternal
	*dest[12].(*[]string) = r.page.LinksExternal
	*dest[13].(**int) = r.page.WordCount
	*dest[14].(**int) = r.page.ReadTimeMin
	*dest[15].(*int64) = r.page.FetchDuration.Milliseconds()
	*dest[16].(**string) = r.page.OGImage
	*dest[17].(**string) = r.page.FaviconURL
	*dest[18].(**string) = r.page.SiteName
	*dest[19].(**string) = r.page.Language
	*dest[20].(**string) = r.page.Author
	*dest[21].(**string) = r.page.PublishedAt
	*dest[22].(*time.Time) = r.page.FetchedAt
	*dest[23].(**string) = r.page.ErrorCode
	*dest[24].(**string) = r.page.ErrorMessage
	return nil
}

func strptr(s string) *string { return &s }

func TestStoreAndProbe_RoundTrips(t *testing.T) {
	cache, err := New(newStubDB(), 10)
	require.NoError(t, err)

	markdown := "# hello"
	page := domain.Page{
		ID:        "p1",
		URL:       "https://example.com/",
		URLHash:   "hash1",
		StatusCode: 200,
		Markdown:  &markdown,
		FetchedAt: time.Now(),
	}
	require.NoError(t, cache.Store(context.Background(), page))

	got, hit, err := cache.Probe(context.Background(), "hash1", nil, false)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "p1", got.ID)
}

func TestProbe_MissesOnForceRefresh(t *testing.T) {
	cache, err := New(newStubDB(), 10)
	require.NoError(t, err)

	page := domain.Page{ID: "p1", URLHash: "hash1", FetchedAt: time.Now()}
	require.NoError(t, cache.Store(context.Background(), page))

	_, hit, err := cache.Probe(context.Background(), "hash1", nil, true)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestProbe_MissesWhenStale(t *testing.T) {
	cache, err := New(newStubDB(), 10)
	require.NoError(t, err)

	page := domain.Page{ID: "p1", URLHash: "hash1", FetchedAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, cache.Store(context.Background(), page))

	ttl := 3600
	_, hit, err := cache.Probe(context.Background(), "hash1", &ttl, false)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestProbe_DisabledTTLAllowsArbitrarilyStale(t *testing.T) {
	cache, err := New(newStubDB(), 10)
	require.NoError(t, err)

	page := domain.Page{ID: "p1", URLHash: "hash1", FetchedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, cache.Store(context.Background(), page))

	noCap := 0
	_, hit, err := cache.Probe(context.Background(), "hash1", &noCap, false)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestProbe_MissForUnknownHash(t *testing.T) {
	cache, err := New(newStubDB(), 10)
	require.NoError(t, err)

	_, hit, err := cache.Probe(context.Background(), "nope", nil, false)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestContentHash_IsDeterministic(t *testing.T) {
	assert.Equal(t, ContentHash("same"), ContentHash("same"))
	assert.NotEqual(t, ContentHash("a"), ContentHash("b"))
}
