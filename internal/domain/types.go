// Package domain holds the core data model shared by every component:
// API keys, normalized URLs, cached pages, background jobs, and the
// append-only event log.
package domain

import (
	"errors"
	"time"
)

// ErrNotFound signals that a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Scope is a capability an ApiKey may hold.
type Scope string

const (
	ScopeScrape Scope = "scrape"
	ScopeMap    Scope = "map"
	ScopeSearch Scope = "search"
	ScopeAgent  Scope = "agent"
	ScopeAdmin  Scope = "admin"
)

// ApiKey is the opaque secret presented by a client, stored only as the
// unsalted SHA-256 hex digest of its token.
type ApiKey struct {
	ID          string
	KeyHash     string
	Name        string
	Scopes      []Scope
	RateLimit   int
	IsActive    bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// HasScope reports whether the key carries the given scope.
func (k ApiKey) HasScope(s Scope) bool {
	for _, have := range k.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// Renderer identifies which fetch strategy produced a Page.
type Renderer string

const (
	RendererStatic   Renderer = "static"
	RendererHeadless Renderer = "headless"
)

// RenderPolicy is the client-chosen headless-rendering strategy.
type RenderPolicy string

const (
	RenderAuto   RenderPolicy = "auto"
	RenderAlways RenderPolicy = "always"
	RenderNever  RenderPolicy = "never"
)

// ParseRenderPolicy maps a free-form string onto a typed RenderPolicy,
// defaulting to RenderAuto for anything unrecognized or empty.
func ParseRenderPolicy(s string) RenderPolicy {
	switch RenderPolicy(s) {
	case RenderAlways:
		return RenderAlways
	case RenderNever:
		return RenderNever
	default:
		return RenderAuto
	}
}

// Page is a cached extraction result, keyed by URLHash.
type Page struct {
	ID             string
	URL            string
	CanonicalURL   string
	URLHash        string
	ContentHash    *string
	StatusCode     int
	Title          *string
	Description    *string
	Markdown       *string
	RawHTML        *string
	Renderer       *Renderer
	LinksInternal  []string
	LinksExternal  []string
	WordCount      *int
	ReadTimeMin    *int
	FetchDuration  time.Duration
	OGImage        *string
	FaviconURL     *string
	SiteName       *string
	Language       *string
	Author         *string
	PublishedAt    *string
	FetchedAt      time.Time
	ErrorCode      *string
	ErrorMessage   *string
}

// Failed reports whether the cached page represents a terminal error.
func (p Page) Failed() bool {
	return p.ErrorCode != nil
}

// JobType enumerates the two kinds of background work the engine runs.
type JobType string

const (
	JobTypeMap          JobType = "map"
	JobTypeAgentExtract JobType = "agent_extract"
)

// JobStatus is the job state-machine's current state.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is sticky / final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is a unit of background work owned by exactly one ApiKey.
type Job struct {
	ID              string
	ApiKeyID        string
	Type            JobType
	Status          JobStatus
	InputParams     []byte // opaque JSON blob
	IdempotencyKey  *string
	ErrorCode       *string
	ErrorMessage    *string
	PagesDiscovered int
	PagesTotal      *int
	ResultBlob      []byte
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LeaseHeartbeat  *time.Time
	ReclaimCount    int
	CancelRequested bool
}

// JobPage links a Job to a Page it discovered, annotated with crawl depth.
type JobPage struct {
	JobID  string
	PageID string
	Depth  int
}

// EventLevel is the severity of an audit/log Event.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// Event is an append-only audit/log record correlating a job and api key.
type Event struct {
	ID        string
	ApiKeyID  *string
	JobID     *string
	EventType string
	Level     EventLevel
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Extraction is a persisted agent-extract result, linked to the job that
// produced it and (when the source page is cached) the Page it came from.
type Extraction struct {
	ID        string
	JobID     string
	PageID    *string
	Data      []byte // JSON
	Prompt    string
	CreatedAt time.Time
}
