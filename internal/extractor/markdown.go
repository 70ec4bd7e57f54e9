package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/webextract/service/internal/urlsafe"
)

// toMarkdown walks contentHTML's DOM and emits GFM-style Markdown,
// rewriting link/image targets to absolute URLs against baseURL and
// stripping tracking query parameters via urlsafe's ruleset, per spec
// §4.6 step 3. Hand rolled: no HTML-to-Markdown Go library exists in the
// reference pack (see DESIGN.md stdlib-justifications).
//
// Post-processing pass (blank-line collapse, symbol-only-line removal,
// cookie-banner/breadcrumb stripping, duplicate-line collapse, heading
// spacing) is grounded on original_source/app/services/extractor.py's
// html_to_markdown.
func toMarkdown(contentHTML, baseURL string) (string, error) {
	nodes, err := html.ParseFragment(strings.NewReader(contentHTML), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return "", err
	}

	c := &mdConverter{baseURL: baseURL}
	var b strings.Builder
	for _, n := range nodes {
		c.walk(&b, n)
	}
	return postProcess(b.String()), nil
}

type mdConverter struct {
	baseURL string
}

func (c *mdConverter) walk(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		// fallthrough to tag dispatch below
	default:
		c.walkChildren(b, n)
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level, _ := strconv.Atoi(strings.TrimPrefix(n.Data, "h"))
		b.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		c.walkChildren(b, n)
		b.WriteString("\n\n")
	case "p", "div", "section", "article":
		b.WriteString("\n\n")
		c.walkChildren(b, n)
		b.WriteString("\n\n")
	case "br":
		b.WriteString("\n")
	case "hr":
		b.WriteString("\n\n---\n\n")
	case "strong", "b":
		b.WriteString("**")
		c.walkChildren(b, n)
		b.WriteString("**")
	case "em", "i":
		b.WriteString("_")
		c.walkChildren(b, n)
		b.WriteString("_")
	case "code":
		if !isInsidePre(n) {
			b.WriteString("`")
			c.walkChildren(b, n)
			b.WriteString("`")
		} else {
			c.walkChildren(b, n)
		}
	case "pre":
		b.WriteString("\n\n```\n")
		c.walkChildren(b, n)
		b.WriteString("\n```\n\n")
	case "blockquote":
		var inner strings.Builder
		c.walkChildren(&inner, n)
		for _, line := range strings.Split(strings.TrimSpace(inner.String()), "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	case "ul":
		b.WriteString("\n")
		c.walkList(b, n, false)
		b.WriteString("\n")
	case "ol":
		b.WriteString("\n")
		c.walkList(b, n, true)
		b.WriteString("\n")
	case "a":
		c.writeLink(b, n)
	case "img":
		c.writeImage(b, n)
	case "table":
		c.writeTable(b, n)
	case "script", "style":
		// never emitted even if present in already-cleaned input
	default:
		c.walkChildren(b, n)
	}
}

func (c *mdConverter) walkChildren(b *strings.Builder, n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(b, child)
	}
}

func (c *mdConverter) walkList(b *strings.Builder, n *html.Node, ordered bool) {
	i := 1
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode || child.Data != "li" {
			continue
		}
		var item strings.Builder
		c.walkChildren(&item, child)
		prefix := "- "
		if ordered {
			prefix = fmt.Sprintf("%d. ", i)
			i++
		}
		b.WriteString(prefix + strings.TrimSpace(item.String()) + "\n")
	}
}

func (c *mdConverter) writeLink(b *strings.Builder, n *html.Node) {
	href := attr(n, "href")
	var text strings.Builder
	c.walkChildren(&text, n)
	label := strings.TrimSpace(text.String())
	if href == "" {
		b.WriteString(label)
		return
	}
	resolved := c.resolve(href)
	if label == "" {
		label = resolved
	}
	b.WriteString("[" + label + "](" + resolved + ")")
}

func (c *mdConverter) writeImage(b *strings.Builder, n *html.Node) {
	src := attr(n, "src")
	if src == "" {
		return
	}
	alt := attr(n, "alt")
	b.WriteString("![" + alt + "](" + c.resolve(src) + ")")
}

func (c *mdConverter) resolve(href string) string {
	normalized, err := urlsafe.Normalize(href, c.baseURL)
	if err == nil {
		return normalized.Canonical
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func (c *mdConverter) writeTable(b *strings.Builder, table *html.Node) {
	var rows [][]string
	var header []string

	forEachRow(table, func(row *html.Node, isHeaderRow bool) {
		var cells []string
		for cell := row.FirstChild; cell != nil; cell = cell.NextSibling {
			if cell.Type != html.ElementNode || (cell.Data != "td" && cell.Data != "th") {
				continue
			}
			var cellText strings.Builder
			c.walkChildren(&cellText, cell)
			cells = append(cells, strings.TrimSpace(strings.ReplaceAll(cellText.String(), "|", "\\|")))
		}
		if len(cells) == 0 {
			return
		}
		if isHeaderRow && header == nil {
			header = cells
			return
		}
		rows = append(rows, cells)
	})

	if header == nil && len(rows) > 0 {
		header = rows[0]
		rows = rows[1:]
	}
	if header == nil {
		return
	}

	b.WriteString("\n\n| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("| " + strings.Join(repeat("---", len(header)), " | ") + " |\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(padTo(row, len(header)), " | ") + " |\n")
	}
	b.WriteString("\n")
}

func forEachRow(table *html.Node, fn func(row *html.Node, isHeaderRow bool)) {
	var walk func(n *html.Node, inHead bool)
	walk = func(n *html.Node, inHead bool) {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode {
				continue
			}
			switch child.Data {
			case "thead":
				walk(child, true)
			case "tbody", "tfoot":
				walk(child, false)
			case "tr":
				fn(child, inHead)
			}
		}
	}
	walk(table, false)
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func padTo(cells []string, n int) []string {
	if len(cells) >= n {
		return cells[:n]
	}
	out := make([]string, n)
	copy(out, cells)
	return out
}

func isInsidePre(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "pre" {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

var (
	blankLinesPattern    = regexp.MustCompile(`\n{3,}`)
	symbolOnlyLinePattern = regexp.MustCompile(`^[\-*/=_~+#>. ]+$`)
	breadcrumbPattern    = regexp.MustCompile(`^.*>.*>.*$`)
)

var cookiePatterns = []string{"we use cookies", "accept all", "privacy policy", "cookie settings", "manage cookies"}

// postProcess mirrors original_source's html_to_markdown cleanup passes:
// collapsing blank runs, dropping symbol-only/cookie-banner/breadcrumb
// lines, collapsing 3+ repeats of the same line, and spacing headings.
func postProcess(markdown string) string {
	markdown = blankLinesPattern.ReplaceAllString(markdown, "\n\n")

	lines := strings.Split(markdown, "\n")
	var out []string
	var lastLine string
	repeatCount := 0

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if stripped != "" && symbolOnlyLinePattern.MatchString(stripped) {
			continue
		}
		if stripped == "" {
			out = append(out, "")
			continue
		}

		lower := strings.ToLower(stripped)
		if len(stripped) < 100 {
			isCookie := false
			for _, p := range cookiePatterns {
				if strings.Contains(lower, p) {
					isCookie = true
					break
				}
			}
			if isCookie {
				continue
			}
			if breadcrumbPattern.MatchString(stripped) {
				continue
			}
		}

		if stripped == lastLine {
			repeatCount++
			if repeatCount >= 2 {
				continue
			}
		} else {
			repeatCount = 0
		}

		if strings.HasPrefix(stripped, "#") {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			out = append(out, stripped, "")
			lastLine = stripped
			continue
		}

		out = append(out, stripped)
		lastLine = stripped
	}

	result := strings.TrimSpace(strings.Join(out, "\n"))
	return blankLinesPattern.ReplaceAllString(result, "\n\n")
}
