package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/analyze"
	"github.com/sells-group/catalog-ingest/internal/cache"
	"github.com/sells-group/catalog-ingest/internal/completion"
	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/cost"
	"github.com/sells-group/catalog-ingest/internal/dedup"
	"github.com/sells-group/catalog-ingest/internal/extract"
	"github.com/sells-group/catalog-ingest/internal/fetcher"
	"github.com/sells-group/catalog-ingest/internal/learning"
	"github.com/sells-group/catalog-ingest/internal/monitoring"
	"github.com/sells-group/catalog-ingest/internal/normalize"
	"github.com/sells-group/catalog-ingest/internal/ocr"
	"github.com/sells-group/catalog-ingest/internal/parse"
	"github.com/sells-group/catalog-ingest/internal/pipeline"
	"github.com/sells-group/catalog-ingest/internal/profile"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/internal/retrieval"
	"github.com/sells-group/catalog-ingest/internal/review"
	"github.com/sells-group/catalog-ingest/internal/store"
	anthropicpkg "github.com/sells-group/catalog-ingest/pkg/anthropic"
)

// appEnv holds the store and every component needed by the ingest, review
// and serve commands.
type appEnv struct {
	Store    store.Store
	Cache    *cache.MultiTier
	Learning *learning.Engine
	Queue    *review.Queue
	Pipeline *pipeline.Pipeline
	Monitor  *monitoring.Checker
	Fetcher  fetcher.Fetcher
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store, builds the
// completion caller when the mode needs one and wires every component.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var caller *completion.Caller
	var pdf ocr.Extractor
	if mode == "ingest" || mode == "serve" {
		caller, err = newCaller(cfg)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		pdf, err = ocr.NewExtractor(cfg.OCR)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	env, err := newEnv(st, caller, pdf, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// newEnv wires components around an open store. caller and pdf may be nil;
// ingestion then only extracts tabular documents.
func newEnv(st store.Store, caller *completion.Caller, pdf ocr.Extractor, c *config.Config) (*appEnv, error) {
	catalog, err := loadCatalog(c.Normalize.CatalogPath)
	if err != nil {
		return nil, err
	}

	l1 := time.Duration(c.Ingest.L1TTLSecs) * time.Second
	l2 := time.Duration(c.Ingest.L2TTLHours) * time.Hour
	mt := cache.New(st, l1, l2)

	engine := learning.New(st, learning.ConfigFrom(c.Learning))
	queue := review.New(st, engine, c.Review)

	var structureCaller *completion.Caller
	if c.Ingest.StructureLLM {
		structureCaller = caller
	}

	stages := pipeline.Stages{
		Analyzer: analyze.New(parse.New(pdf, c.Ingest.MaxFileBytes), structureCaller),
		Extractor: extract.NewScheduler(caller, mt, extract.Config{
			MaxChars:    c.Ingest.ChunkMaxChars,
			Overlap:     c.Ingest.ChunkOverlapChars,
			Concurrency: c.Ingest.ChunkConcurrency,
		}),
		Deduper: dedup.New(c.Dedup),
		Normalizer: normalize.New(caller,
			retrieval.NewCatalogRetriever(c.Normalize.StrongMatch, catalog),
			profile.NewFileProvider(c.Normalize.ProfilesDir),
			engine,
			normalize.Config{
				BatchSize:     c.Normalize.BatchSize,
				Concurrency:   c.Normalize.BatchConcurrency,
				CatalogID:     catalog.ID,
				UseCompletion: c.Normalize.UseCompletion && caller != nil,
			}),
		Queue: queue,
	}

	monitor := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(c.Monitoring), c.Monitoring)

	zap.L().Info("components initialized",
		zap.String("store", c.Store.Driver),
		zap.Bool("completion", caller != nil),
		zap.String("catalog", catalog.ID),
		zap.Int("categories", len(catalog.Categories)),
	)

	return &appEnv{
		Store:    st,
		Cache:    mt,
		Learning: engine,
		Queue:    queue,
		Pipeline: pipeline.New(st, stages, pipeline.Config{FileConcurrency: c.Ingest.FileConcurrency}),
		Monitor:  monitor,
		Fetcher:  newFetcher(c),
	}, nil
}

func newFetcher(c *config.Config) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   c.Fetch.UserAgent,
		Timeout:     time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:  c.Fetch.MaxRetries,
		MaxBytes:    int64(c.Ingest.MaxFileBytes),
		RatePerHost: c.Fetch.RatePerHost,
		Burst:       c.Fetch.Burst,
		Concurrency: c.Fetch.Concurrency,
	})
}

// loadCatalog reads the configured catalog, falling back to the built-in one
// when the file does not exist.
func loadCatalog(path string) (*retrieval.Catalog, error) {
	if path == "" {
		return retrieval.DefaultCatalog(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("catalog file not found, using built-in catalog", zap.String("path", path))
		return retrieval.DefaultCatalog(), nil
	}
	catalog, err := retrieval.LoadCatalog(path)
	if err != nil {
		return nil, eris.Wrap(err, "load catalog")
	}
	return catalog, nil
}

// newCaller builds the single completion call site for the configured
// provider.
func newCaller(c *config.Config) (*completion.Caller, error) {
	var completer completion.Completer
	switch c.Completion.Provider {
	case "anthropic":
		completer = completion.NewAnthropicCompleter(
			anthropicpkg.NewClient(c.Anthropic.Key),
			c.Anthropic.HaikuModel,
			c.Anthropic.SonnetModel,
			c.Completion.MaxTokens,
		)
	case "openai":
		completer = completion.NewOpenAICompleter(c.OpenAI.Key, c.OpenAI.BaseURL, c.OpenAI.Model, c.Completion.MaxTokens)
	default:
		return nil, eris.Errorf("unsupported completion provider: %s", c.Completion.Provider)
	}

	return completion.NewCaller(completer, completion.CallerConfig{
		Timeout:    time.Duration(c.Completion.TimeoutSecs) * time.Second,
		RatePerSec: c.Completion.RatePerSec,
		Burst:      c.Completion.Burst,
		Retry:      resilience.FromSettings(c.Completion.MaxAttempts, c.Completion.InitialBackoffMs, c.Completion.MaxBackoffMs),
		Breaker:    resilience.FromCircuitSettings(c.Completion.BreakerFailures, c.Completion.BreakerResetSecs),
	}, cost.NewCalculator(ratesFrom(c.Pricing))), nil
}

func ratesFrom(p config.PricingConfig) cost.Rates {
	conv := func(in map[string]config.ModelPricing) map[string]cost.ModelRate {
		if len(in) == 0 {
			return nil
		}
		out := make(map[string]cost.ModelRate, len(in))
		for name, mp := range in {
			out[name] = cost.ModelRate{
				Input:         mp.Input,
				Output:        mp.Output,
				CacheWriteMul: mp.CacheWriteMul,
				CacheReadMul:  mp.CacheReadMul,
			}
		}
		return out
	}
	return cost.Rates{Anthropic: conv(p.Anthropic), OpenAI: conv(p.OpenAI)}
}
