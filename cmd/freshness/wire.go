package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/api"
	"github.com/JakeFAU/doc-freshness/internal/clock/system"
	"github.com/JakeFAU/doc-freshness/internal/cohere"
	"github.com/JakeFAU/doc-freshness/internal/config"
	"github.com/JakeFAU/doc-freshness/internal/connector"
	"github.com/JakeFAU/doc-freshness/internal/decay"
	"github.com/JakeFAU/doc-freshness/internal/discovery"
	"github.com/JakeFAU/doc-freshness/internal/embedding"
	"github.com/JakeFAU/doc-freshness/internal/extract"
	collyfetcher "github.com/JakeFAU/doc-freshness/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/doc-freshness/internal/fetcher/headless"
	"github.com/JakeFAU/doc-freshness/internal/hash/sha256"
	"github.com/JakeFAU/doc-freshness/internal/headless/detector"
	"github.com/JakeFAU/doc-freshness/internal/id/uuid"
	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/monitor"
	"github.com/JakeFAU/doc-freshness/internal/pipeline"
	"github.com/JakeFAU/doc-freshness/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/doc-freshness/internal/publisher/pubsub"
	"github.com/JakeFAU/doc-freshness/internal/queue"
	"github.com/JakeFAU/doc-freshness/internal/reconstruct"
	"github.com/JakeFAU/doc-freshness/internal/scheduler"
	gcsstore "github.com/JakeFAU/doc-freshness/internal/storage/gcs"
	localstore "github.com/JakeFAU/doc-freshness/internal/storage/local"
	"github.com/JakeFAU/doc-freshness/internal/storage/memory"
	"github.com/JakeFAU/doc-freshness/internal/storage/postgres"
	"github.com/JakeFAU/doc-freshness/internal/storage/sqlite"
	"github.com/JakeFAU/doc-freshness/internal/worker"
)

const defaultOllamaURL = "http://localhost:11434"

type service struct {
	pipeline *pipeline.Pipeline
	jobs     *scheduler.Scheduler
	api      *api.Server
	closers  []func()
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// build constructs every component from cfg. On error, anything already
// opened is closed.
func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (svc *service, err error) {
	svc = &service{}
	defer func() {
		if err != nil {
			svc.close()
			svc = nil
		}
	}()

	clock := system.New()
	ids := uuid.New()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, store.Close)

	blobs, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}

	var publisher ingest.Publisher
	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.NewFromProject(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func() { _ = pub.Close() })
		publisher = pub
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		Limiter:       limiter,
	})

	extractor := extract.New(extract.Config{MaxBodyChars: cfg.Extract.MaxBodyChars}, fetcher, logger.Named("extract"))
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			RespectRobots:     cfg.HTTP.RespectRobots,
		})
		if err != nil {
			logger.Warn("Headless fetcher init failed", zap.Error(err))
		} else {
			svc.closers = append(svc.closers, headless.Close)
			extractor.WithHeadless(headless, detector.NewHeuristic(cfg.Headless.PromotionThresh))
		}
	}

	embedder, err := newEmbeddingService(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	composer := embedding.NewComposer(embedding.NewCache(embedder, cfg.Embedding.CacheSize))

	scorer := decay.NewScorer(
		decay.NewWhoisLookup(time.Duration(cfg.Decay.WhoisTimeoutSeconds)*time.Second),
		decay.NewCertLookup(time.Duration(cfg.Decay.TLSTimeoutSeconds)*time.Second),
		cfg.Decay.FreeHosts,
		clock,
		logger.Named("decay"),
	)

	connectors, err := newConnectors(cfg.Discovery, fetcher)
	if err != nil {
		return nil, err
	}

	q := queue.New(store, store, ids, clock, logger.Named("queue"))
	orchestrator := discovery.NewOrchestrator(connectors, q, clock, discovery.Config{
		Concurrency: cfg.Discovery.Concurrency,
		Lookback:    cfg.Lookback(),
		MaxEnqueue:  cfg.Discovery.MaxEnqueue,
	}, logger.Named("discovery"))

	processor := worker.New(worker.Deps{
		Queue:     q,
		Extractor: extractor,
		Composer:  composer,
		Scorer:    scorer,
		Pages:     store,
		Blobs:     blobs,
		Publisher: publisher,
		Hasher:    sha256.New(),
		IDs:       ids,
		Clock:     clock,
	}, worker.Config{
		BatchSize:      cfg.Batch.Size,
		Concurrency:    cfg.Batch.Concurrency,
		MaxRetries:     cfg.Batch.MaxRetries,
		BackoffInitial: time.Duration(cfg.Batch.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Batch.BackoffMaxMs) * time.Millisecond,
		ItemTimeout:    cfg.ItemTimeout(),
		BlobPrefix:     cfg.Blob.Prefix,
		Topic:          cfg.PubSub.IngestedTopic,
	}, logger.Named("worker"))

	decayMonitor := monitor.New(
		store,
		monitor.NewHTTPProber(cfg.ProbeTimeout(), cfg.Decay.ProbeUserAgent),
		publisher,
		clock,
		monitor.Config{Concurrency: cfg.Decay.ProbeConcurrency, Topic: cfg.PubSub.DecayedTopic},
		logger.Named("monitor"),
	)

	summarizer, err := newSummarizer(cfg)
	if err != nil {
		return nil, err
	}

	svc.jobs = scheduler.New(clock, logger.Named("scheduler"))
	svc.pipeline = pipeline.New(pipeline.Deps{
		Discovery:     orchestrator,
		Batch:         processor,
		Scanner:       processor,
		Decay:         decayMonitor,
		Queue:         q,
		Store:         store,
		Reconstructor: reconstruct.New(store, summarizer, ids, clock, logger.Named("reconstruct")),
		Jobs:          svc.jobs,
		Clock:         clock,
	}, logger.Named("pipeline"))
	if err := svc.pipeline.Register(pipeline.Schedules{
		Discovery: cfg.Discovery.Schedule,
		Batch:     cfg.Batch.Schedule,
		Decay:     cfg.Decay.Schedule,
	}); err != nil {
		return nil, err
	}

	svc.api = api.NewServer(svc.pipeline, time.Duration(cfg.Server.RequestTimeoutSeconds)*time.Second, logger.Named("api"))
	logger.Info("Service wired",
		zap.String("store", cfg.Store.Driver),
		zap.String("blob", cfg.Blob.Driver),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.String("summarizer", summarizer.Model()),
		zap.Strings("connectors", orchestrator.Connectors()),
	)
	return svc, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ingest.Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)})
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	case config.StoreSQLite:
		return sqlite.New(cfg.SQLitePath)
	default:
		return memory.NewStore(), nil
	}
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (ingest.BlobStore, error) {
	switch cfg.Driver {
	case config.BlobMemory:
		return memory.NewBlobStore(), nil
	case config.BlobLocal:
		return localstore.New(localstore.Config{BaseDir: cfg.LocalDir})
	case config.BlobGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcsstore.New(client, gcsstore.Config{Bucket: cfg.Bucket})
	default:
		return nil, nil
	}
}

func newEmbeddingService(cfg config.EmbeddingConfig) (ingest.EmbeddingService, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Provider {
	case config.EmbeddingCohere:
		opts := []cohere.Option{cohere.WithTimeout(timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, cohere.WithBaseURL(cfg.BaseURL))
		}
		client, err := cohere.New(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return embedding.NewCohere(client, cfg.Model, cfg.Dimensions), nil
	case config.EmbeddingOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		return embedding.NewOllama(baseURL, cfg.Model, cfg.Dimensions)
	default:
		return embedding.NewMock(cfg.Dimensions), nil
	}
}

func newSummarizer(cfg config.Config) (ingest.Summarizer, error) {
	if cfg.Reconstruct.Provider != config.SummarizerCohere {
		return reconstruct.NewTemplate(), nil
	}
	apiKey := cfg.Reconstruct.APIKey
	if apiKey == "" {
		apiKey = cfg.Embedding.APIKey
	}
	client, err := cohere.New(apiKey, cohere.WithTimeout(time.Duration(cfg.Reconstruct.TimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}
	return reconstruct.NewCohere(client, cfg.Reconstruct.Model)
}

func newConnectors(cfg config.DiscoveryConfig, fetcher ingest.Fetcher) ([]ingest.Connector, error) {
	out := make([]ingest.Connector, 0, len(cfg.Connectors))
	for _, name := range cfg.Connectors {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case connector.SourceArxiv:
			out = append(out, connector.NewArxiv(cfg.ArxivFeedURL, fetcher))
		case connector.SourceOpenAlex:
			out = append(out, connector.NewOpenAlex(cfg.OpenAlexURL, cfg.PerPage, cfg.CrossRefMailto, fetcher))
		case connector.SourceCrossRef:
			out = append(out, connector.NewCrossRef(cfg.CrossRefURL, cfg.PerPage, cfg.CrossRefMailto, fetcher))
		case connector.SourceCommonCrawl:
			out = append(out, connector.NewCommonCrawl(cfg.CommonCrawlURL, cfg.CommonCrawlPattern, cfg.CommonCrawlMIME, fetcher))
		default:
			return nil, fmt.Errorf("unknown connector %q", name)
		}
	}
	return out, nil
}
