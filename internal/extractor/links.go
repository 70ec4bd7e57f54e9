package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/webextract/service/internal/urlsafe"
)

var disallowedLinkSchemes = []string{"mailto:", "tel:", "javascript:", "data:"}

// links is every anchor in the post-drop document, partitioned by
// registrable domain against finalURL and deduplicated preserving
// first-seen order, per spec §4.6 step 5.
type links struct {
	Internal []string
	External []string
}

func collectLinks(doc *goquery.Document, finalURL string) links {
	baseHost := registrableDomain(finalURL)

	seenInternal := make(map[string]struct{})
	seenExternal := make(map[string]struct{})
	out := links{}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		for _, scheme := range disallowedLinkSchemes {
			if strings.HasPrefix(lower, scheme) {
				return
			}
		}

		normalized, err := urlsafe.Normalize(href, finalURL)
		if err != nil {
			return
		}

		if registrableDomain(normalized.Canonical) == baseHost && baseHost != "" {
			if _, dup := seenInternal[normalized.Canonical]; !dup {
				seenInternal[normalized.Canonical] = struct{}{}
				out.Internal = append(out.Internal, normalized.Canonical)
			}
			return
		}
		if _, dup := seenExternal[normalized.Canonical]; !dup {
			seenExternal[normalized.Canonical] = struct{}{}
			out.External = append(out.External, normalized.Canonical)
		}
	})

	return out
}

func registrableDomain(rawURL string) string {
	n, err := urlsafe.Normalize(rawURL, "")
	if err != nil {
		return ""
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(n.Host); err == nil {
		return domain
	}
	return n.Host
}
