package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/retry"
)

const (
	defaultEmbeddingModel = "gemini-embedding-001"
	embeddingTaskType     = "SEMANTIC_SIMILARITY"
)

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// EmbedderOptions configures the Gemini embedder.
type EmbedderOptions struct {
	Model      string
	Dimensions int
	MaxRetries int
}

// Embedder is an embedding provider backed by the Gemini embedding models.
type Embedder struct {
	models     contentEmbedder
	model      string
	dimensions int
	maxRetries int
	logger     *zap.Logger
}

func NewEmbedder(client *genai.Client, opts EmbedderOptions, logger *zap.Logger) (*Embedder, error) {
	if client == nil {
		return nil, errors.New("gemini client is required")
	}
	return newEmbedder(client.Models, opts, logger), nil
}

func newEmbedder(models contentEmbedder, opts EmbedderOptions, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultEmbeddingModel
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Embedder{
		models:     models,
		model:      model,
		dimensions: opts.Dimensions,
		maxRetries: opts.MaxRetries,
		logger:     logger,
	}
}

func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding of text. Temporary server errors are retried
// here; quota errors are returned as RATE_LIMIT for the dispatcher to back
// off on.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{TaskType: embeddingTaskType}
	if e.dimensions > 0 {
		config.OutputDimensionality = genai.Ptr(int32(e.dimensions))
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	policy := retry.Policy{
		MaxAttempts: e.maxRetries,
		BaseDelay:   time.Second,
		Wait:        wait,
		Classify: func(err error) retry.Decision {
			var apiErr genai.APIError
			return retry.Decision{Retry: errors.As(err, &apiErr) && isTemporary(apiErr)}
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			e.logger.Warn("gemini embed failed, retrying",
				zap.String("model", e.model),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
		},
	}

	resp, err := retry.Do(ctx, policy, func(ctx context.Context) (*genai.EmbedContentResponse, error) {
		return e.models.EmbedContent(ctx, e.model, contents, config)
	})
	if err != nil {
		return nil, classifyError(fmt.Errorf("embed content: %w", err))
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, screenerrors.Unavailable("gemini returned an empty embedding", nil)
	}

	return resp.Embeddings[0].Values, nil
}
