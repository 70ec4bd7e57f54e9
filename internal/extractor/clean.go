// Package extractor implements the HTML-to-Markdown pipeline of spec §4.6:
// boilerplate stripping, readability-style main-content selection, GFM
// Markdown emission, metadata extraction, and link collection.
//
// Grounded on original_source/app/services/extractor.py's pipeline shape
// (clean_html -> extract_content -> html_to_markdown -> extract_metadata,
// extract_links) translated onto Go's goquery/go-readability stack, since
// the teacher repo has no content-extraction component of its own.
package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var disallowedSelectors = []string{
	"script", "style", "noscript", "nav", "footer", "header", "aside",
	"form", "iframe",
}

var adTrackerPattern = regexp.MustCompile(`(?i)(nav|navbar|menu|sidebar|footer|header|cookie|banner|popup|modal|\bad\b|advertisement)`)

// clean parses rawHTML, removes disallowed subtrees and elements whose
// class/id match the ad/tracker heuristic, and re-renders the result so it
// can be handed to the readability pass as plain HTML.
func clean(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	doc.Find(strings.Join(disallowedSelectors, ", ")).Remove()
	doc.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if adTrackerPattern.MatchString(class + " " + id) {
			s.Remove()
		}
	})

	html, err := doc.Html()
	if err != nil {
		return "", err
	}
	return html, nil
}
