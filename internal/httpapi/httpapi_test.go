package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webextract/service/internal/apikeys"
	"github.com/webextract/service/internal/coordinator"
	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/search"
)

type stubScraper struct {
	result coordinator.Result
	err    error
}

func (s *stubScraper) Scrape(_ context.Context, _ coordinator.Request) (coordinator.Result, error) {
	return s.result, s.err
}

type stubJobs struct {
	submitted domain.Job
	submitErr error
	status    domain.Job
	statusErr error
	cancelErr error
}

func (s *stubJobs) Submit(_ context.Context, apiKeyID string, jobType domain.JobType, params []byte, _ *string) (domain.Job, error) {
	if s.submitErr != nil {
		return domain.Job{}, s.submitErr
	}
	s.submitted.ApiKeyID = apiKeyID
	s.submitted.Type = jobType
	s.submitted.InputParams = params
	return s.submitted, nil
}

func (s *stubJobs) Status(_ context.Context, _ string) (domain.Job, error) {
	return s.status, s.statusErr
}

func (s *stubJobs) Cancel(_ context.Context, _ string) error {
	return s.cancelErr
}

type stubSearcher struct {
	results []search.Result
	err     error
}

func (s *stubSearcher) Search(_ context.Context, _ search.Params) ([]search.Result, error) {
	return s.results, s.err
}

type stubApiKeyStore struct {
	byHash map[string]domain.ApiKey
	byID   map[string]domain.ApiKey
	all    []domain.ApiKey
}

func newStubApiKeyStore() *stubApiKeyStore {
	return &stubApiKeyStore{byHash: map[string]domain.ApiKey{}, byID: map[string]domain.ApiKey{}}
}

func (s *stubApiKeyStore) Create(_ context.Context, key domain.ApiKey) (domain.ApiKey, error) {
	s.byID[key.ID] = key
	s.byHash[key.KeyHash] = key
	s.all = append(s.all, key)
	return key, nil
}

func (s *stubApiKeyStore) Get(_ context.Context, id string) (domain.ApiKey, error) {
	k, ok := s.byID[id]
	if !ok {
		return domain.ApiKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (s *stubApiKeyStore) List(_ context.Context) ([]domain.ApiKey, error) {
	return s.all, nil
}

func (s *stubApiKeyStore) Revoke(_ context.Context, id string) error {
	k, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	k.IsActive = false
	s.byID[id] = k
	return nil
}

func (s *stubApiKeyStore) SetActive(_ context.Context, id string, active bool) error {
	k, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	k.IsActive = active
	s.byID[id] = k
	return nil
}

func (s *stubApiKeyStore) FindByHash(_ context.Context, hash string) (domain.ApiKey, error) {
	k, ok := s.byHash[hash]
	if !ok {
		return domain.ApiKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (s *stubApiKeyStore) TouchLastUsed(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *stubApiKeyStore, string) {
	t.Helper()
	store := newStubApiKeyStore()
	ids := 0
	svc := &apikeys.Service{
		Store:       store,
		IDGenerator: func() string { ids++; return "key-1" },
	}
	created, err := svc.Create(context.Background(), apikeys.CreateParams{
		Name:      "test",
		Scopes:    []domain.Scope{domain.ScopeScrape, domain.ScopeMap, domain.ScopeSearch, domain.ScopeAgent},
		RateLimit: 60,
	})
	require.NoError(t, err)

	srv := NewRouter(Deps{
		Scraper:         &stubScraper{},
		Jobs:            &stubJobs{},
		ApiKeys:         svc,
		Search:          &stubSearcher{},
		AdminSecret:     "admin-secret",
		DefaultGovernor: 5,
	})
	return srv, store, created.PlaintextKey
}

func TestScrape_ReturnsPageOnSuccess(t *testing.T) {
	store := newStubApiKeyStore()
	svc := &apikeys.Service{Store: store, IDGenerator: func() string { return "key-1" }}
	created, err := svc.Create(context.Background(), apikeys.CreateParams{
		Name: "t", Scopes: []domain.Scope{domain.ScopeScrape}, RateLimit: 60,
	})
	require.NoError(t, err)

	title := "Example"
	scraper := &stubScraper{result: coordinator.Result{Page: domain.Page{
		URL: "https://example.com", CanonicalURL: "https://example.com", StatusCode: 200, Title: &title,
	}}}
	srv := NewRouter(Deps{Scraper: scraper, ApiKeys: svc})

	body := bytes.NewBufferString(`{"url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", body)
	req.Header.Set("X-API-Key", created.PlaintextKey)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Example")
}

func TestScrape_MissingAPIKeyIsUnauthorized(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScrape_InvalidURLIsRejected(t *testing.T) {
	srv, _, key := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", bytes.NewBufferString(`{"url":"not-a-url"}`))
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitMap_ReturnsAcceptedWithJobID(t *testing.T) {
	store := newStubApiKeyStore()
	svc := &apikeys.Service{Store: store, IDGenerator: func() string { return "key-1" }}
	created, err := svc.Create(context.Background(), apikeys.CreateParams{
		Name: "t", Scopes: []domain.Scope{domain.ScopeMap}, RateLimit: 60,
	})
	require.NoError(t, err)

	jobs := &stubJobs{submitted: domain.Job{ID: "job-1", Status: domain.JobQueued}}
	srv := NewRouter(Deps{Jobs: jobs, ApiKeys: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/map", bytes.NewBufferString(`{"url":"https://example.com","max_depth":2}`))
	req.Header.Set("X-API-Key", created.PlaintextKey)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-1")
}

func TestJobStatus_ForbidsNonOwningKey(t *testing.T) {
	store := newStubApiKeyStore()
	svc := &apikeys.Service{Store: store, IDGenerator: func() string { return "key-1" }}
	created, err := svc.Create(context.Background(), apikeys.CreateParams{
		Name: "t", Scopes: []domain.Scope{domain.ScopeMap}, RateLimit: 60,
	})
	require.NoError(t, err)

	jobs := &stubJobs{status: domain.Job{ID: "job-1", ApiKeyID: "someone-else", Status: domain.JobRunning}}
	srv := NewRouter(Deps{Jobs: jobs, ApiKeys: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
	req.Header.Set("X-API-Key", created.PlaintextKey)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminCreateKey_RequiresAdminSecret(t *testing.T) {
	store := newStubApiKeyStore()
	svc := &apikeys.Service{Store: store, IDGenerator: func() string { return "key-1" }}
	srv := NewRouter(Deps{ApiKeys: svc, AdminSecret: "admin-secret"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/keys", bytes.NewBufferString(`{"name":"n","scopes":["scrape"]}`))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminCreateKey_ReturnsPlaintextKeyOnce(t *testing.T) {
	store := newStubApiKeyStore()
	svc := &apikeys.Service{Store: store, IDGenerator: func() string { return "key-1" }}
	srv := NewRouter(Deps{ApiKeys: svc, AdminSecret: "admin-secret"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/keys", bytes.NewBufferString(`{"name":"n","scopes":["scrape"]}`))
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"wx_`)
}

func TestHealthz_ReturnsOK(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
