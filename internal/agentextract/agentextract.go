// Package agentextract implements spec §4.11's LLM-backed extraction: scrape
// a URL through the coordinator, assemble a prompt from the page's Markdown
// plus the caller's instruction and optional JSON Schema, invoke an LLM
// forced into structured output, and validate the response against the
// schema, retrying with a corrective prompt on failure.
//
// Prompt assembly and error-wrapping follow original_source/app/services/llm.py's
// extract_structured_data: a system prompt instructing JSON-only output, the
// schema appended as a structured-output constraint, and every failure
// surfaced as a single typed error. That original calls Gemini with
// response_mime_type="application/json"; this package targets Anthropic's
// Messages API instead, using forced tool-use as the equivalent structured-
// output mechanism.
package agentextract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/coordinator"
	"github.com/webextract/service/internal/domain"
)

const (
	maxRetries = 2
	headChars  = 12000
	tailChars  = 4000
)

// Scraper is the subset of *coordinator.Coordinator the extractor needs.
type Scraper interface {
	Scrape(ctx context.Context, req coordinator.Request) (coordinator.Result, error)
}

// LLMClient invokes the extraction model, forced into returning a single
// JSON value. Implementations should map provider timeouts and transport
// failures onto ctx.Err() / plain errors; Extractor classifies them.
type LLMClient interface {
	Extract(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) ([]byte, error)
}

// Params controls a single extraction.
type Params struct {
	URL           string
	Prompt        string
	Schema        map[string]any
	RespectRobots bool
	RenderPolicy  domain.RenderPolicy
	APIKeyID      string
	RateLimit     int
	GovernorCap   int
}

// Provenance records where an extraction's data came from.
type Provenance struct {
	SourceURL           string `json:"source_url"`
	MarkdownFingerprint string `json:"markdown_fingerprint"`
}

// Result is a completed extraction.
type Result struct {
	Data       json.RawMessage `json:"data"`
	Provenance Provenance      `json:"provenance"`
}

// Extractor runs agent extractions on behalf of the job engine.
type Extractor struct {
	Scraper Scraper
	LLM     LLMClient
}

const systemPrompt = "You are an expert data extractor. You are given a webpage's content in Markdown " +
	"and a user request describing what to pull out of it. Call the emit_extraction tool exactly once with " +
	"the extracted data and nothing else — no preamble, no explanation outside the tool call."

// Run executes the scrape-assemble-invoke-validate pipeline for one request.
func (e *Extractor) Run(ctx context.Context, params Params) (Result, error) {
	scraped, err := e.Scraper.Scrape(ctx, coordinator.Request{
		URL:           params.URL,
		APIKeyID:      params.APIKeyID,
		RateLimit:     params.RateLimit,
		RespectRobots: params.RespectRobots,
		RenderPolicy:  params.RenderPolicy,
		GovernorCap:   params.GovernorCap,
	})
	if err != nil {
		return Result{}, err
	}
	if scraped.Page.Markdown == nil || *scraped.Page.Markdown == "" {
		return Result{}, apierr.New(apierr.CodeFetchError, "page had no extractable content")
	}

	markdown := *scraped.Page.Markdown
	fingerprint := fingerprintOf(markdown)
	basePrompt := buildUserPrompt(params.Prompt, truncateMarkdown(markdown))

	var (
		raw     []byte
		lastErr error
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		prompt := basePrompt
		if attempt > 0 {
			prompt = fmt.Sprintf(
				"%s\n\nYour previous response was invalid: %s\nCall emit_extraction again with corrected data that satisfies the schema.",
				basePrompt, lastErr,
			)
		}

		raw, lastErr = e.LLM.Extract(ctx, systemPrompt, prompt, params.Schema)
		if lastErr != nil {
			if ctx.Err() != nil {
				return Result{}, apierr.Wrap(apierr.CodeLLMTimeout, "llm call timed out", ctx.Err())
			}
			return Result{}, apierr.Wrap(apierr.CodeLLMProviderError, "llm call failed", lastErr)
		}

		if params.Schema == nil {
			return Result{Data: raw, Provenance: Provenance{SourceURL: scraped.Page.URL, MarkdownFingerprint: fingerprint}}, nil
		}

		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			lastErr = fmt.Errorf("response was not valid JSON: %w", err)
			continue
		}
		if violations := Validate(params.Schema, parsed); len(violations) > 0 {
			lastErr = fmt.Errorf("schema violations: %v", violations)
			continue
		}
		return Result{Data: raw, Provenance: Provenance{SourceURL: scraped.Page.URL, MarkdownFingerprint: fingerprint}}, nil
	}

	return Result{}, apierr.Wrap(apierr.CodeLLMOutputInvalid, "llm output did not satisfy schema after retries", lastErr)
}

func buildUserPrompt(instruction, markdown string) string {
	return fmt.Sprintf("User request:\n%s\n\nWebpage content (Markdown):\n%s", instruction, markdown)
}

// truncateMarkdown keeps a head-heavy slice of markdown — most of the budget
// spent on the start of the document, a smaller tail in case the wanted
// data sits near the end — joined by an elision marker.
func truncateMarkdown(markdown string) string {
	if len(markdown) <= headChars+tailChars {
		return markdown
	}
	omitted := len(markdown) - headChars - tailChars
	return fmt.Sprintf("%s\n\n...[elided %d characters]...\n\n%s",
		markdown[:headChars], omitted, markdown[len(markdown)-tailChars:])
}

func fingerprintOf(markdown string) string {
	sum := sha256.Sum256([]byte(markdown))
	return hex.EncodeToString(sum[:])
}
