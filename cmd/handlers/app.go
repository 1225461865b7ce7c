package handlers

import (
	"context"
	"fmt"

	"newsdesk/internal/clusterer"
	"newsdesk/internal/collector"
	"newsdesk/internal/components"
	"newsdesk/internal/config"
	"newsdesk/internal/fetcher"
	"newsdesk/internal/httpx"
	"newsdesk/internal/images"
	"newsdesk/internal/llmx"
	"newsdesk/internal/logger"
	"newsdesk/internal/pipeline"
	"newsdesk/internal/publisher"
	"newsdesk/internal/scorer"
	"newsdesk/internal/sources"
	"newsdesk/internal/store"
	"newsdesk/internal/synthesizer"
)

// app bundles the long-lived dependencies of a pipeline process.
type app struct {
	cfg   *config.Config
	store *store.Store
	pipe  *pipeline.Pipeline
}

// buildApp loads the configuration and constructs the full pipeline.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.App.LogLevel)

	st, err := store.New(cfg.Store.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := httpx.New(httpx.Options{
		MaxRetries:        cfg.HTTP.MaxRetries,
		BackoffBase:       cfg.HTTP.BackoffBase,
		BackoffCap:        cfg.HTTP.BackoffCap,
		BreakerThreshold:  cfg.HTTP.BreakerThreshold,
		BreakerCooldown:   cfg.HTTP.BreakerCooldown,
		GlobalConcurrency: cfg.HTTP.GlobalConcurrency,
	})
	registry := sources.NewRegistry(cfg.Sources())

	// LLM calls share the outbound policy: their retries, breaker state
	// and counters show up in the same cycle summary as the feed traffic.
	llmHTTP := client.Standard()
	gemini, err := llmx.NewGemini(ctx, cfg.AI.Gemini.APIKey, cfg.AI.Gemini.Model, cfg.AI.Gemini.Timeout, llmHTTP)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	openAI, err := llmx.NewOpenAI(cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.Model, cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.Timeout, llmHTTP)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	// Scoring and component selection run on the cheap model; writing and
	// component generation on the strong one. Each side falls back to the
	// other provider on failure.
	scoringChat := llmx.NewFallback(gemini, openAI)
	writingChat := llmx.NewFallback(openAI, gemini)

	pipe := pipeline.New(
		collector.New(client, registry, st, cfg.Pipeline.RetentionWindow,
			cfg.Pipeline.FeedConcurrency, cfg.HTTP.FeedTimeout, cfg.HTTP.ImageTimeout),
		scorer.New(scoringChat, st, cfg.Pipeline.ImportanceThreshold, cfg.Pipeline.LLMConcurrency),
		clusterer.New(cfg.Pipeline.ClusteringWindow),
		fetcher.New(client, st, cfg.Scraper.Endpoint, cfg.Scraper.APIKey,
			cfg.Scraper.Timeout, cfg.Pipeline.FetchConcurrency, cfg.Store.BodyCacheTTL),
		images.New(client, cfg.HTTP.ImageTimeout),
		synthesizer.New(writingChat, cfg.Pipeline.MaxSynthesisSources),
		components.NewSelector(scoringChat),
		components.NewGenerator(writingChat),
		publisher.New(st, st),
		st,
		pipeline.Options{
			ClusteringWindow: cfg.Pipeline.ClusteringWindow,
			CycleBudget:      cfg.Pipeline.CycleBudget,
			ProcessedHorizon: cfg.Store.ProcessedHorizon,
			BodyCacheTTL:     cfg.Store.BodyCacheTTL,
			Net:              client,
		},
	)

	return &app{cfg: cfg, store: st, pipe: pipe}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Error("failed to close store", err)
	}
}
