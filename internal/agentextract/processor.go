package agentextract

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/jobengine"
)

// JobParams is the JSON shape of an agent-extract job's input_params, per
// spec §6's POST /api/v1/agent/extract request body.
type JobParams struct {
	URL           string         `json:"url"`
	Prompt        string         `json:"prompt"`
	Schema        map[string]any `json:"schema"`
	RespectRobots bool           `json:"respect_robots"`
	Render        string         `json:"render"`
	RateLimit     int            `json:"rate_limit"`
	GovernorCap   int            `json:"governor_cap"`
}

// Processor adapts Extractor.Run into a jobengine.Processor for
// domain.JobTypeAgentExtract.
func (e *Extractor) Processor() jobengine.Processor {
	return func(ctx context.Context, job domain.Job, report jobengine.Report) ([]byte, error) {
		var p JobParams
		if err := json.Unmarshal(job.InputParams, &p); err != nil {
			return nil, apierr.Wrap(apierr.CodeValidationError, "invalid agent extract job params", err)
		}

		result, err := e.Run(ctx, Params{
			URL:           p.URL,
			Prompt:        p.Prompt,
			Schema:        p.Schema,
			RespectRobots: p.RespectRobots,
			RenderPolicy:  domain.ParseRenderPolicy(p.Render),
			APIKeyID:      job.ApiKeyID,
			RateLimit:     p.RateLimit,
			GovernorCap:   p.GovernorCap,
		})
		if err != nil {
			return nil, err
		}
		one := 1
		report(1, &one)

		blob, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal agent extract result: %w", err)
		}
		return blob, nil
	}
}
