// The webextract server binary wires every component of §2's pipeline
// together: HTTP API, job-engine worker pool, and job-engine reaper share
// one process and one Postgres pool.
//
// Grounded on the teacher's main.go/cmd/webcrawler/main.go: config load,
// zap logger construction with zap.ReplaceGlobals, signal.NotifyContext
// for graceful shutdown, a goroutine running the background dispatcher
// alongside the http.Server, and a bounded-grace Shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goccyjson "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/webextract/service/internal/agentextract"
	"github.com/webextract/service/internal/apikeys"
	"github.com/webextract/service/internal/config"
	"github.com/webextract/service/internal/coordinator"
	"github.com/webextract/service/internal/domain"
	"github.com/webextract/service/internal/domaingovernor"
	"github.com/webextract/service/internal/eventlog"
	"github.com/webextract/service/internal/fetcher"
	"github.com/webextract/service/internal/fetcher/headless"
	"github.com/webextract/service/internal/fetcher/static"
	"github.com/webextract/service/internal/httpapi"
	"github.com/webextract/service/internal/id"
	"github.com/webextract/service/internal/jobengine"
	logcfg "github.com/webextract/service/internal/logging"
	"github.com/webextract/service/internal/metrics"
	"github.com/webextract/service/internal/migrations"
	"github.com/webextract/service/internal/pagecache"
	"github.com/webextract/service/internal/ratelimit"
	"github.com/webextract/service/internal/robotscache"
	"github.com/webextract/service/internal/search"
	"github.com/webextract/service/internal/search/bing"
	"github.com/webextract/service/internal/sitecrawler"
	"github.com/webextract/service/internal/store/postgres"
	"github.com/webextract/service/internal/urlsafe"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		logger.Fatal("connect postgres failed", zap.Error(err))
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		logger.Fatal("apply migrations failed", zap.Error(err))
	}

	idGen := id.NewGenerator()

	apiKeyStore := postgres.NewApiKeyStore(pool)
	eventStore := postgres.NewEventStore(pool)
	jobPageStore := postgres.NewJobPageStore(pool)
	extractionStore := postgres.NewExtractionStore(pool)

	keys := &apikeys.Service{
		Store:       apiKeyStore,
		IDGenerator: idGen.NewID,
	}

	events := eventlog.NewHub(eventlog.Config{Logger: logger.Named("eventlog")}, &eventlog.PostgresSink{Store: eventStore})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := events.Close(closeCtx); closeErr != nil {
			logger.Warn("eventlog close failed", zap.Error(closeErr))
		}
	}()

	limiter := buildLimiter(cfg)
	governor := domaingovernor.New(cfg.Governor.DefaultCapacity)
	robots := robotscache.New()

	staticFetcher := static.New(static.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   20 * time.Second,
	}, urlsafe.DefaultResolver)

	var headlessFetcher *headless.Fetcher
	if cfg.Headless.Enabled {
		headlessFetcher, err = headless.New(headless.Config{
			MaxParallel: cfg.Headless.MaxParallel,
			UserAgent:   cfg.Crawler.UserAgent,
			NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
		}, urlsafe.DefaultResolver)
		if err != nil {
			logger.Warn("headless fetcher init failed, falling back to static-only", zap.Error(err))
			headlessFetcher = nil
		} else {
			defer headlessFetcher.Close()
		}
	}

	pageCache, err := pagecache.New(pool, cfg.Crawler.PageCacheLRUSize)
	if err != nil {
		logger.Fatal("page cache init failed", zap.Error(err))
	}

	var headlessIface fetcher.Fetcher
	if headlessFetcher != nil {
		headlessIface = headlessFetcher
	}

	coord := &coordinator.Coordinator{
		RateLimiter: limiter,
		Robots:      robots,
		Governor:    governor,
		Static:      staticFetcher,
		Headless:    headlessIface,
		Cache:       pageCache,
		Resolver:    urlsafe.DefaultResolver,
		UserAgent:   cfg.Crawler.UserAgent,
		IDGenerator: idGen.NewID,
	}

	jobStore := jobengine.NewPostgresStore(postgres.NewJobDB(pool))

	crawler := &sitecrawler.Crawler{
		Scraper:     coord,
		Recorder:    jobPageStore,
		Events:      events,
		IDGenerator: idGen.NewID,
	}

	llmClient := agentextract.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model, 4096)
	agentExtractor := &agentextract.Extractor{
		Scraper: coord,
		LLM:     llmClient,
	}

	engine := &jobengine.Engine{
		Store: jobStore,
		Processors: map[domain.JobType]jobengine.Processor{
			domain.JobTypeMap:          crawler.Processor(),
			domain.JobTypeAgentExtract: recordingAgentProcessor(agentExtractor, extractionStore, idGen),
		},
		Cfg: jobengine.Config{
			Workers:        cfg.JobEngine.Workers,
			Lease:          cfg.JobLease(),
			PollInterval:   time.Duration(cfg.JobEngine.PollIntervalMs) * time.Millisecond,
			QueueWatermark: cfg.JobEngine.QueueDepthWatermark,
		},
		IDGenerator: idGen.NewID,
		Logger:      logger.Named("jobengine"),
	}

	var searchIface httpapi.Searcher
	if cfg.Search.APIKey != "" {
		searchIface = &search.Service{
			Provider: bing.New(cfg.Search.APIKey, cfg.Search.Endpoint),
			Scraper:  coord,
		}
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Scraper:         coord,
		Jobs:            engine,
		ApiKeys:         keys,
		Search:          searchIface,
		AdminSecret:     cfg.Admin.Secret,
		DefaultGovernor: cfg.Governor.DefaultCapacity,
		RequestTimeout:  60 * time.Second,
		Logger:          logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("job engine started", zap.Int("workers", cfg.JobEngine.Workers))
		engine.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownGraceMs)*time.Millisecond,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// logging builds the service logger, grounded on internal/logging.New.
func logging(development bool) (*zap.Logger, error) {
	return logcfg.New(development)
}

// buildLimiter picks the Redis-backed limiter when configured, falling
// back to the in-process sliding window for local/dev runs, per spec
// §4.3/§5's "process-wide" rate limiter requirement.
func buildLimiter(cfg config.Config) ratelimit.Limiter {
	rlCfg := ratelimit.Config{WindowSeconds: cfg.RateLimit.WindowSeconds}
	if cfg.Redis.Address == "" {
		return ratelimit.NewInProcess(rlCfg)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return ratelimit.NewRedis(client, rlCfg)
}

// recordingAgentProcessor wraps the agent extractor's Processor with a
// side-effecting persistence step: every completed extraction is also
// written to the extractions table (keyed by job, not just held in the
// job's own result_blob), so a later lookup by job_id does not require
// decoding the job row's opaque blob.
func recordingAgentProcessor(extractor *agentextract.Extractor, store *postgres.ExtractionStore, idGen *id.Generator) jobengine.Processor {
	inner := extractor.Processor()
	return func(ctx context.Context, job domain.Job, report jobengine.Report) ([]byte, error) {
		blob, err := inner(ctx, job, report)
		if err != nil {
			return nil, err
		}

		var params agentextract.JobParams
		_ = goccyjson.Unmarshal(job.InputParams, &params)

		if recErr := store.Create(ctx, domain.Extraction{
			ID:        idGen.NewID(),
			JobID:     job.ID,
			Data:      blob,
			Prompt:    params.Prompt,
			CreatedAt: time.Now().UTC(),
		}); recErr != nil {
			zap.L().Named("jobengine").Warn("extraction record persist failed", zap.String("job_id", job.ID), zap.Error(recErr))
		}
		return blob, nil
	}
}
