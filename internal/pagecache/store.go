package pagecache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/domain"
)

const upsertSQL = `
INSERT INTO pages (
	id, url, canonical_url, url_hash, content_hash, status_code,
	title, description, markdown, raw_html, renderer,
	links_internal, links_external, word_count, read_time_min,
	fetch_duration_ms, og_image, favicon_url, site_name, language,
	author, published_at, fetched_at, error_code, error_message
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11,
	$12, $13, $14, $15,
	$16, $17, $18, $19, $20,
	$21, $22, $23, $24, $25
)
ON CONFLICT (url_hash) DO UPDATE SET
	url = EXCLUDED.url,
	canonical_url = EXCLUDED.canonical_url,
	content_hash = EXCLUDED.content_hash,
	status_code = EXCLUDED.status_code,
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	markdown = EXCLUDED.markdown,
	raw_html = EXCLUDED.raw_html,
	renderer = EXCLUDED.renderer,
	links_internal = EXCLUDED.links_internal,
	links_external = EXCLUDED.links_external,
	word_count = EXCLUDED.word_count,
	read_time_min = EXCLUDED.read_time_min,
	fetch_duration_ms = EXCLUDED.fetch_duration_ms,
	og_image = EXCLUDED.og_image,
	favicon_url = EXCLUDED.favicon_url,
	site_name = EXCLUDED.site_name,
	language = EXCLUDED.language,
	author = EXCLUDED.author,
	published_at = EXCLUDED.published_at,
	fetched_at = EXCLUDED.fetched_at,
	error_code = EXCLUDED.error_code,
	error_message = EXCLUDED.error_message
`

const selectColumns = `
	id, url, canonical_url, url_hash, content_hash, status_code,
	title, description, markdown, raw_html, renderer,
	links_internal, links_external, word_count, read_time_min,
	fetch_duration_ms, og_image, favicon_url, site_name, language,
	author, published_at, fetched_at, error_code, error_message
`

// Store upserts page by url_hash, per spec §4.7's last-writer-wins store()
// contract. ContentHash is computed from page.Markdown when not already
// populated.
func (c *Cache) Store(ctx context.Context, page domain.Page) error {
	if page.ContentHash == nil && page.Markdown != nil {
		hash := ContentHash(*page.Markdown)
		page.ContentHash = &hash
	}

	_, err := c.db.Exec(ctx, upsertSQL,
		page.ID, page.URL, page.CanonicalURL, page.URLHash, page.ContentHash, page.StatusCode,
		page.Title, page.Description, page.Markdown, page.RawHTML, rendererString(page.Renderer),
		page.LinksInternal, page.LinksExternal, page.WordCount, page.ReadTimeMin,
		page.FetchDuration.Milliseconds(), page.OGImage, page.FaviconURL, page.SiteName, page.Language,
		page.Author, page.PublishedAt, page.FetchedAt, page.ErrorCode, page.ErrorMessage,
	)
	if err != nil {
		return apierr.Wrap(apierr.CodeInternalError, "could not persist page", err)
	}

	c.front.Add(page.URLHash, page)
	return nil
}

func (c *Cache) load(ctx context.Context, where string, arg string) (domain.Page, bool, error) {
	row := c.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM pages WHERE "+where, arg)

	var (
		page         domain.Page
		rendererStr  *string
		fetchMillis  int64
	)
	err := row.Scan(
		&page.ID, &page.URL, &page.CanonicalURL, &page.URLHash, &page.ContentHash, &page.StatusCode,
		&page.Title, &page.Description, &page.Markdown, &page.RawHTML, &rendererStr,
		&page.LinksInternal, &page.LinksExternal, &page.WordCount, &page.ReadTimeMin,
		&fetchMillis, &page.OGImage, &page.FaviconURL, &page.SiteName, &page.Language,
		&page.Author, &page.PublishedAt, &page.FetchedAt, &page.ErrorCode, &page.ErrorMessage,
	)
	if err != nil {
		if isNoRows(err) {
			return domain.Page{}, false, nil
		}
		return domain.Page{}, false, apierr.Wrap(apierr.CodeInternalError, "could not load page", err)
	}

	page.FetchDuration = time.Duration(fetchMillis) * time.Millisecond
	if rendererStr != nil {
		r := domain.Renderer(*rendererStr)
		page.Renderer = &r
	}
	return page, true, nil
}

func rendererString(r *domain.Renderer) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
