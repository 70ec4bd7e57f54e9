package sitecrawler

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/jobengine"
)

// JobParams is the JSON shape of a map job's input_params, per spec §6's
// POST /api/v1/map request body.
type JobParams struct {
	SeedURL       string   `json:"seed_url"`
	MaxDepth      int      `json:"max_depth"`
	MaxPages      int      `json:"max_pages"`
	Include       []string `json:"include"`
	Exclude       []string `json:"exclude"`
	RespectRobots bool     `json:"respect_robots"`
	Render        string   `json:"render"`
	Concurrency   int      `json:"concurrency"`
	Force         bool     `json:"force"`
	RateLimit     int      `json:"rate_limit"`
	GovernorCap   int      `json:"governor_cap"`
}

// Processor adapts Crawler.Run into a jobengine.Processor for domain.JobTypeMap.
func (c *Crawler) Processor() jobengine.Processor {
	return func(ctx context.Context, job domain.Job, report jobengine.Report) ([]byte, error) {
		var p JobParams
		if err := json.Unmarshal(job.InputParams, &p); err != nil {
			return nil, apierr.Wrap(apierr.CodeValidationError, "invalid map job params", err)
		}

		result, err := c.Run(ctx, job.ID, Params{
			SeedURL:       p.SeedURL,
			MaxDepth:      p.MaxDepth,
			MaxPages:      p.MaxPages,
			Include:       p.Include,
			Exclude:       p.Exclude,
			RespectRobots: p.RespectRobots,
			RenderPolicy:  domain.ParseRenderPolicy(p.Render),
			Concurrency:   p.Concurrency,
			Force:         p.Force,
			APIKeyID:      job.ApiKeyID,
			RateLimit:     p.RateLimit,
			GovernorCap:   p.GovernorCap,
		}, func(discovered int, total *int) { report(discovered, total) })
		if err != nil {
			return nil, err
		}

		blob, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal map result: %w", err)
		}
		return blob, nil
	}
}
