// Package rendertrigger implements the §4.5 render-trigger heuristic that
// decides, for RenderAuto, whether a static fetch's body warrants falling
// back to headless rendering.
//
// Grounded on the teacher's internal/crawler/detector_heuristic.go and
// internal/headless/detector/heuristic.go (SPA shell markers, body-length
// threshold), merged into the spec's fuller rule set (meta-refresh,
// stripped-text-length check).
package rendertrigger

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	minBodyBytes    = 500
	minTextContent  = 200
)

var spaShellIDs = []string{"app", "root", "__next_data__"}

// ShouldRender reports whether the static body warrants a headless
// fallback under spec §4.5's render-trigger rules.
func ShouldRender(body []byte) bool {
	if len(body) < minBodyBytes {
		return true
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// Malformed markup is itself a signal that a real browser is needed
		// to produce something extractable.
		return true
	}

	if hasSPAShell(doc) {
		return true
	}
	if hasRedirectingMetaRefresh(doc) {
		return true
	}
	if strippedTextLength(doc) < minTextContent {
		return true
	}
	return false
}

func hasSPAShell(doc *goquery.Document) bool {
	for _, id := range spaShellIDs {
		sel := doc.Find("#" + id)
		if sel.Length() == 0 {
			continue
		}
		if strings.TrimSpace(sel.Text()) == "" && sel.Children().Length() == 0 {
			return true
		}
	}
	return false
}

func hasRedirectingMetaRefresh(doc *goquery.Document) bool {
	found := false
	doc.Find(`meta[http-equiv]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		if strings.Contains(strings.ToLower(content), "url=") {
			found = true
			return false
		}
		return true
	})
	return found
}

func strippedTextLength(doc *goquery.Document) int {
	clone := doc.Clone()
	clone.Find("script, style").Remove()
	text := strings.TrimSpace(clone.Text())
	return len(text)
}
