package extractor

import (
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// mainContent runs a readability-style text-density/link-density scoring
// pass over cleanedHTML and returns the selected subtree as HTML, falling
// back to the input unchanged if readability can't find an article.
//
// Grounded on jonesrussell-north-cloud's
// internal/content/rawcontent/readability_fallback.go usage pattern.
func mainContent(cleanedHTML, finalURL string) (contentHTML, readabilityTitle string) {
	parsed, err := url.Parse(finalURL)
	if err != nil {
		return cleanedHTML, ""
	}

	article, err := readability.FromReader(strings.NewReader(cleanedHTML), parsed)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return cleanedHTML, ""
	}
	return article.Content, strings.TrimSpace(article.Title)
}
