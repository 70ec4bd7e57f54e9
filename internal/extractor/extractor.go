package extractor

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/webextract/service/internal/apierr"
)

// Result is the extractor's output, per spec §4.6's contract
// {title, description, markdown, metadata, links}.
type Result struct {
	Title        string
	Description  string
	Markdown     string
	CanonicalURL string
	OGImage      string
	SiteName     string
	Language     string
	Author       string
	PublishedAt  string
	FaviconURL   string
	WordCount    int
	ReadTimeMin  int
	LinksInternal []string
	LinksExternal []string
}

// Extract runs the full pipeline against rawHTML, fetched from finalURL.
// Determinism: byte-identical input and URL must yield a byte-identical
// Result, per spec §4.6.
func Extract(rawHTML, finalURL string) (Result, error) {
	original, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Result{}, apierr.Wrap(apierr.CodeInternalError, "could not parse document", err)
	}

	cleanedHTML, err := clean(rawHTML)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.CodeInternalError, "could not clean document", err)
	}

	contentHTML, readabilityTitle := mainContent(cleanedHTML, finalURL)
	markdown, err := toMarkdown(contentHTML, finalURL)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.CodeInternalError, "could not render markdown", err)
	}

	meta := extractMetadata(original, finalURL)
	if meta.Title == "" {
		meta.Title = readabilityTitle
	}

	wordCount := countWords(markdown)
	cleanedDoc, err := goquery.NewDocumentFromReader(strings.NewReader(cleanedHTML))
	if err != nil {
		return Result{}, apierr.Wrap(apierr.CodeInternalError, "could not parse cleaned document", err)
	}
	linkSet := collectLinks(cleanedDoc, finalURL)

	return Result{
		Title:         meta.Title,
		Description:   meta.Description,
		Markdown:      markdown,
		CanonicalURL:  meta.CanonicalURL,
		OGImage:       meta.OGImage,
		SiteName:      meta.SiteName,
		Language:      meta.Language,
		Author:        meta.Author,
		PublishedAt:   meta.PublishedAt,
		FaviconURL:    meta.FaviconURL,
		WordCount:     wordCount,
		ReadTimeMin:   readTimeMinutes(wordCount),
		LinksInternal: linkSet.Internal,
		LinksExternal: linkSet.External,
	}, nil
}

var markdownPunctuation = strings.NewReplacer(
	"#", "", "*", "", "_", "", "`", "", ">", "", "|", "", "-", "", "[", "", "]", "", "(", "", ")", "",
)

// countWords tokenizes markdown on whitespace after stripping Markdown
// punctuation, per spec §4.6 step 4.
func countWords(markdown string) int {
	stripped := markdownPunctuation.Replace(markdown)
	fields := strings.Fields(stripped)
	return len(fields)
}

func readTimeMinutes(wordCount int) int {
	if wordCount == 0 {
		return 0
	}
	return int(math.Ceil(float64(wordCount) / 200.0))
}
