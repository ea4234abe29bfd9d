// Package openai provides an embedding provider for OpenAI-compatible APIs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	screenerrors "github.com/spigell/screener/internal/errors"
)

const defaultModel = string(openai.SmallEmbedding3)

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
}

// Embedder implements embedding.Provider on top of the embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	logger     *zap.Logger
}

func NewEmbedder(cfg Config, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		logger:     logger,
	}
}

func (e *Embedder) Model() string { return string(e.model) }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, screenerrors.Unavailable("empty embedding response", nil)
	}

	e.logger.Debug("openai embedding created",
		zap.String("model", string(e.model)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
	)
	return resp.Data[0].Embedding, nil
}

// parseAPIError maps an API failure onto a domain error kind so the
// dispatcher knows whether to retry.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := fmt.Sprintf("embedding API error %d: %s", reqErr.HTTPStatusCode, detail(reqErr.Body))
		return byStatus(reqErr.HTTPStatusCode, msg, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		return byStatus(apiErr.HTTPStatusCode, msg, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return screenerrors.Unavailable("embedding request failed", err)
}

func byStatus(code int, msg string, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return screenerrors.RateLimit(msg, err)
	case code >= http.StatusInternalServerError:
		return screenerrors.Unavailable(msg, err)
	case code >= http.StatusBadRequest:
		return screenerrors.InvalidInput(msg, err)
	default:
		return screenerrors.Unavailable(msg, err)
	}
}

// detail extracts the "detail" field some compatible providers use, falling
// back to the raw body.
func detail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return strings.TrimSpace(string(body))
}
