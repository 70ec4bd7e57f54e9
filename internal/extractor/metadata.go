package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// metadata is the set of page-level fields spec §4.6 step 4 names.
type metadata struct {
	Title        string
	Description  string
	CanonicalURL string
	OGImage      string
	SiteName     string
	Language     string
	Author       string
	PublishedAt  string
	FaviconURL   string
}

var publishedTimeTags = []string{"article:published_time", "og:published_time", "publication_date", "datePublished"}

func extractMetadata(doc *goquery.Document, finalURL string) metadata {
	m := metadata{
		Description:  firstMeta(doc, "og:description", "description"),
		OGImage:      firstMeta(doc, "og:image"),
		Author:       firstMeta(doc, "author"),
		SiteName:     firstMeta(doc, "og:site_name"),
		Language:     pageLanguage(doc),
		CanonicalURL: firstAttr(doc, "link[rel='canonical']", "href"),
	}
	for _, tag := range publishedTimeTags {
		if v := firstMeta(doc, tag); v != "" {
			m.PublishedAt = normalizePublishedAt(v)
			break
		}
	}

	ogTitle := firstMeta(doc, "og:title")
	m.Title = resolveTitle(doc, ogTitle)
	m.FaviconURL = resolveFavicon(doc, finalURL)
	return m
}

func resolveTitle(doc *goquery.Document, ogTitle string) string {
	if ogTitle != "" {
		return ogTitle
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return ""
}

func resolveFavicon(doc *goquery.Document, finalURL string) string {
	href := firstAttr(doc, "link[rel='icon']", "href")
	if href == "" {
		href = firstAttr(doc, "link[rel='shortcut icon']", "href")
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		return href
	}
	if href != "" {
		if resolved, err := base.Parse(href); err == nil {
			return resolved.String()
		}
		return href
	}
	return base.Scheme + "://" + base.Host + "/favicon.ico"
}

// normalizePublishedAt parses whatever timestamp format the page's
// published-time meta tag happens to use and re-renders it as RFC 3339,
// since sites emit this field in dozens of inconsistent formats. Falls
// back to the raw value when it can't be parsed at all.
func normalizePublishedAt(raw string) string {
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format("2006-01-02T15:04:05Z07:00")
}

func pageLanguage(doc *goquery.Document) string {
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		return strings.TrimSpace(lang)
	}
	return ""
}

// firstMeta reads <meta property="key" content="..."> or
// <meta name="key" content="...">, whichever is present, for the first
// matching key in order.
func firstMeta(doc *goquery.Document, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc.Find(`meta[property='` + k + `']`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if v, ok := doc.Find(`meta[name='` + k + `']`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, selector, attr string) string {
	v, ok := doc.Find(selector).First().Attr(attr)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
