package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/screener/internal/ai/gemini"
	"github.com/spigell/screener/internal/ai/openai"
	"github.com/spigell/screener/internal/embedding"
	"github.com/spigell/screener/internal/events"
	"github.com/spigell/screener/internal/logger"
	"github.com/spigell/screener/internal/metrics"
	"github.com/spigell/screener/internal/queue"
	"github.com/spigell/screener/internal/scoring"
	"github.com/spigell/screener/internal/screening"
	"github.com/spigell/screener/internal/secrets"
	"github.com/spigell/screener/internal/server"
	"github.com/spigell/screener/internal/storage/postgres"
)

// buildOptions selects the optional parts of the graph.
type buildOptions struct {
	// queue makes the orchestrator hand work to NATS instead of the
	// in-process pool.
	queue bool
}

// components is everything a command needs, built from the config.
type components struct {
	pool         *pgxpool.Pool
	store        *postgres.Store
	rdb          *redis.Client
	nc           *nats.Conn
	js           nats.JetStreamContext
	publisher    *queue.Publisher
	orchestrator *screening.Orchestrator
	closers      []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// healthChecks reports reachability of the configured backends.
func (c *components) healthChecks() map[string]server.Check {
	checks := map[string]server.Check{
		"postgres": func(ctx context.Context) error { return c.pool.Ping(ctx) },
	}
	if c.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }
	}
	if c.nc != nil {
		checks["nats"] = func(context.Context) error {
			if status := c.nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection is %s", status)
			}
			return nil
		}
	}
	return checks
}

func buildComponents(ctx context.Context, cfg *Config, log *zap.Logger, opts buildOptions) (*components, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	metrics.Register()

	c := &components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	c.closers = append(c.closers, pool.Close)
	c.store = postgres.NewStore(pool, log.Named("store"))

	if cfg.Redis.URL != "" {
		rdb, err := newRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		c.rdb = rdb
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	if opts.queue {
		if !cfg.NATS.Enabled() {
			return nil, errors.New("nats.url is required for queued screening (set NATS_URL)")
		}
		if err := c.connectQueue(cfg.NATS, log); err != nil {
			return nil, err
		}
	}

	client, err := newGeminiClient(ctx, cfg.AI.Gemini)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg, client, c.rdb, log)
	if err != nil {
		return nil, err
	}

	deps := screening.Deps{
		Store:    c.store,
		Embedder: embedder,
		Pool:     screening.NewPool(cfg.Screening, log.Named("pool")),
		Logger:   log.Named("screening"),
	}

	var judge scoring.SkillJudge
	if client != nil {
		generator, err := newGenerator(client, cfg.AI.Gemini, log)
		if err != nil {
			return nil, err
		}
		if cfg.AI.FuzzySkills {
			judge = gemini.NewSkillJudge(generator, log.Named("judge"))
		}
		if cfg.AI.Rationale {
			deps.Summarizer = gemini.NewSummarizer(generator, cfg.AI.Gemini.MaxLogLength, log.Named("rationale"))
		}
	}
	if judge == nil {
		log.Info("fuzzy skill matching is disabled, only exact matches count")
	}
	if deps.Summarizer == nil {
		log.Info("rationale generation is disabled, placeholders will be stored")
	}
	deps.Matcher = scoring.NewSkillMatcher(scoring.NewNormalizer(cfg.Scoring.SkillAliases), judge, log.Named("skills"))

	deps.Scorer, err = scoring.NewScorer(cfg.Scoring.Weights, cfg.Scoring.ShortlistThreshold)
	if err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}

	if c.rdb != nil {
		deps.Events = events.NewRedisPublisher(c.rdb, log.Named("events"))
	}
	if c.publisher != nil {
		deps.Dispatcher = c.publisher
	}

	c.orchestrator, err = screening.NewOrchestrator(deps)
	if err != nil {
		return nil, err
	}

	ok = true
	return c, nil
}

func (c *components) connectQueue(cfg queue.Config, log *zap.Logger) error {
	nc, err := queue.Connect(cfg, log.Named("nats"))
	if err != nil {
		return err
	}
	c.nc = nc
	c.closers = append(c.closers, nc.Close)

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}
	if err := queue.EnsureStream(js, cfg); err != nil {
		return err
	}
	c.js = js
	c.publisher = queue.NewPublisher(js, log.Named("publisher"))
	return nil
}

func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// newGeminiClient returns nil when no key is configured.
func newGeminiClient(ctx context.Context, cfg *GeminiConfig) (*genai.Client, error) {
	if cfg == nil {
		return nil, nil
	}
	apiKey, err := secrets.Optional(secrets.Source{
		Name:  "gemini api key",
		File:  cfg.APIKeyFile,
		Env:   "GEMINI_API_KEY",
		Value: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}
	if apiKey == "" {
		return nil, nil
	}
	return gemini.NewClient(ctx, apiKey)
}

func newGenerator(client *genai.Client, cfg *GeminiConfig, log *zap.Logger) (*gemini.Generator, error) {
	genLogger := logger.WithCommonFields(log.Named("gemini"), "gemini", cfg.Model).With(
		zap.Int("ai_retry_attempts", cfg.MaxRetries),
	)
	return gemini.NewGenerator(client, gemini.Options{
		Model:        cfg.Model,
		MaxRetries:   cfg.MaxRetries,
		QuotaMaxWait: cfg.QuotaMaxWait,
		MaxLogLength: cfg.MaxLogLength,
	}, genLogger)
}

// newEmbedder builds provider -> metrics -> redis cache -> vector contract.
func newEmbedder(cfg *Config, client *genai.Client, rdb *redis.Client, log *zap.Logger) (*embedding.Embedder, error) {
	dims := cfg.Embedding.Dimensions
	if dims == 0 {
		dims = embedding.DefaultDimensions
	}

	var provider embedding.Provider
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "gemini":
		if client == nil {
			return nil, errors.New("gemini embeddings need an api key (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)")
		}
		p, err := gemini.NewEmbedder(client, gemini.EmbedderOptions{
			Model:      cfg.AI.Gemini.EmbeddingModel,
			Dimensions: dims,
			MaxRetries: cfg.AI.Gemini.MaxRetries,
		}, log.Named("gemini-embed"))
		if err != nil {
			return nil, err
		}
		provider = p
	case "openai":
		oc := cfg.AI.OpenAI
		if oc == nil {
			oc = &OpenAIConfig{}
		}
		apiKey, err := secrets.Load(secrets.Source{
			Name:  "openai api key",
			File:  oc.APIKeyFile,
			Env:   "OPENAI_API_KEY",
			Value: oc.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.openai.api-key-file or OPENAI_API_KEY_FILE)", err)
		}
		provider = openai.NewEmbedder(openai.Config{
			APIKey:     apiKey,
			BaseURL:    oc.BaseURL,
			Model:      oc.Model,
			Dimensions: dims,
			User:       oc.User,
		}, log.Named("openai-embed"))
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Embedding.Provider)
	}

	provider = embedding.NewInstrumentedProvider(provider, strings.ToLower(cfg.Embedding.Provider), log.Named("embedding"))
	if rdb != nil {
		store := embedding.NewRedisStore(rdb, cfg.Redis.CacheTTL)
		provider = embedding.NewCachedProvider(provider, store, dims, metrics.EmbeddingCacheTotal, log.Named("embedding-cache"))
	}

	log.Debug("embedder ready",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", provider.Model()),
		zap.Int("dimensions", dims),
	)
	return embedding.NewEmbedder(provider, dims), nil
}
