package agentextract

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/coordinator"
	"github.com/webextract/service/internal/domain"
)

type stubScraper struct {
	page domain.Page
	err  error
}

func (s *stubScraper) Scrape(_ context.Context, _ coordinator.Request) (coordinator.Result, error) {
	if s.err != nil {
		return coordinator.Result{}, s.err
	}
	return coordinator.Result{Page: s.page}, nil
}

type stubLLM struct {
	mu        sync.Mutex
	responses [][]byte
	errs      []error
	calls     int
	prompts   []string
}

func (s *stubLLM) Extract(_ context.Context, _, userPrompt string, _ map[string]any) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, userPrompt)
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return s.responses[len(s.responses)-1], nil
}

func pageWithMarkdown(md string) domain.Page {
	return domain.Page{ID: "p1", URL: "https://example.com/article", Markdown: &md}
}

func TestRun_SuccessfulExtractionReturnsDataAndProvenance(t *testing.T) {
	scraper := &stubScraper{page: pageWithMarkdown("# Title\n\nSome body text.")}
	llm := &stubLLM{responses: [][]byte{[]byte(`{"title":"Title"}`)}}
	e := &Extractor{Scraper: scraper, LLM: llm}

	result, err := e.Run(context.Background(), Params{
		URL:    "https://example.com/article",
		Prompt: "extract the title",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"title"},
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
			},
		},
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Title"}`, string(result.Data))
	assert.Equal(t, "https://example.com/article", result.Provenance.SourceURL)
	assert.NotEmpty(t, result.Provenance.MarkdownFingerprint)
	assert.Equal(t, 1, llm.calls)
}

func TestRun_SchemaViolationTriggersCorrectiveRetry(t *testing.T) {
	scraper := &stubScraper{page: pageWithMarkdown("content")}
	llm := &stubLLM{responses: [][]byte{
		[]byte(`{"wrong":"shape"}`),
		[]byte(`{"title":"Fixed"}`),
	}}
	e := &Extractor{Scraper: scraper, LLM: llm}

	result, err := e.Run(context.Background(), Params{
		URL:    "https://example.com/article",
		Prompt: "extract the title",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"title"},
		},
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Fixed"}`, string(result.Data))
	assert.Equal(t, 2, llm.calls)
	assert.Contains(t, llm.prompts[1], "previous response was invalid")
}

func TestRun_RetryExhaustionReturnsLLMOutputInvalid(t *testing.T) {
	scraper := &stubScraper{page: pageWithMarkdown("content")}
	llm := &stubLLM{responses: [][]byte{
		[]byte(`{"wrong":"a"}`),
		[]byte(`{"wrong":"b"}`),
		[]byte(`{"wrong":"c"}`),
	}}
	e := &Extractor{Scraper: scraper, LLM: llm}

	_, err := e.Run(context.Background(), Params{
		URL:    "https://example.com/article",
		Prompt: "extract the title",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"title"},
		},
	})

	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeLLMOutputInvalid, apiErr.Code)
	assert.Equal(t, 3, llm.calls)
}

func TestRun_LLMProviderErrorIsWrapped(t *testing.T) {
	scraper := &stubScraper{page: pageWithMarkdown("content")}
	llm := &stubLLM{errs: []error{assertErr("boom")}}
	e := &Extractor{Scraper: scraper, LLM: llm}

	_, err := e.Run(context.Background(), Params{URL: "https://example.com/article", Prompt: "x"})

	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeLLMProviderError, apiErr.Code)
}

func TestRun_NoSchemaReturnsRawResponseWithoutValidation(t *testing.T) {
	scraper := &stubScraper{page: pageWithMarkdown("content")}
	llm := &stubLLM{responses: [][]byte{[]byte(`{"anything":true}`)}}
	e := &Extractor{Scraper: scraper, LLM: llm}

	result, err := e.Run(context.Background(), Params{URL: "https://example.com/article", Prompt: "x"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"anything":true}`, string(result.Data))
	assert.Equal(t, 1, llm.calls)
}

func TestRun_ScrapeFailurePropagates(t *testing.T) {
	scraper := &stubScraper{err: apierr.New(apierr.CodeFetchError, "fetch failed")}
	e := &Extractor{Scraper: scraper, LLM: &stubLLM{}}

	_, err := e.Run(context.Background(), Params{URL: "https://example.com/article", Prompt: "x"})
	require.Error(t, err)
}

func TestRun_EmptyPageContentIsRejected(t *testing.T) {
	scraper := &stubScraper{page: domain.Page{URL: "https://example.com/article"}}
	e := &Extractor{Scraper: scraper, LLM: &stubLLM{}}

	_, err := e.Run(context.Background(), Params{URL: "https://example.com/article", Prompt: "x"})
	require.Error(t, err)
}

func TestTruncateMarkdown_LeavesShortContentUntouched(t *testing.T) {
	short := "short content"
	assert.Equal(t, short, truncateMarkdown(short))
}

func TestTruncateMarkdown_ElidesMiddleOfLongContent(t *testing.T) {
	long := strings.Repeat("a", headChars) + strings.Repeat("b", 500) + strings.Repeat("c", tailChars)
	truncated := truncateMarkdown(long)

	assert.Contains(t, truncated, "elided")
	assert.True(t, strings.HasPrefix(truncated, strings.Repeat("a", headChars)))
	assert.True(t, strings.HasSuffix(truncated, strings.Repeat("c", tailChars)))
	assert.NotContains(t, truncated, strings.Repeat("b", 500))
}

type assertErrType string

func (e assertErrType) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrType(msg) }
