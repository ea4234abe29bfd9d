package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/metrics"
	"github.com/spigell/screener/internal/retry"
	"github.com/spigell/screener/internal/utils"
)

const (
	defaultModel        = "gemini-2.5-flash"
	defaultMaxRetries   = 3
	defaultBaseDelay    = 5 * time.Second
	defaultQuotaMaxWait = 30 * time.Second
	defaultMaxLogLength = 200
)

// waitFor pauses between attempts and returns early when ctx is done.
var waitFor = utils.WaitFor

var retryDelayPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*(ms|s|sec|secs|seconds?)?\b`)

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type sdkChats struct {
	chats *genai.Chats
}

func (s sdkChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := s.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Options tunes the Generator. Zero values use package defaults.
type Options struct {
	Model        string
	MaxRetries   int
	BaseDelay    time.Duration
	QuotaMaxWait time.Duration
	MaxLogLength int
}

// Generator sends single-turn prompts to Gemini with bounded retries on
// temporary and quota errors.
type Generator struct {
	chats        chatCreator
	model        string
	maxRetries   int
	baseDelay    time.Duration
	quotaMaxWait time.Duration
	maxLogLen    int
	logger       *zap.Logger
}

// NewClient creates a Google GenAI client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// NewGenerator wraps client for text generation.
func NewGenerator(client *genai.Client, opts Options, logger *zap.Logger) (*Generator, error) {
	if client == nil {
		return nil, errors.New("gemini client is required")
	}
	return newGenerator(sdkChats{chats: client.Chats}, opts, logger), nil
}

func newGenerator(chats chatCreator, opts Options, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxLogLength <= 0 {
		opts.MaxLogLength = defaultMaxLogLength
	}

	return &Generator{
		chats:        chats,
		model:        model,
		maxRetries:   opts.MaxRetries,
		baseDelay:    opts.BaseDelay,
		quotaMaxWait: opts.QuotaMaxWait,
		maxLogLen:    opts.MaxLogLength,
		logger:       logger,
	}
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// GenerateContent sends message with the given system instruction and returns
// the concatenated text of the first response.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	return g.generate(ctx, system, message, nil)
}

// GenerateJSON is GenerateContent with the response MIME type set to JSON.
func (g *Generator) GenerateJSON(ctx context.Context, system, message string) (string, error) {
	return g.generate(ctx, system, message, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
}

func (g *Generator) generate(ctx context.Context, system, message string, config *genai.GenerateContentConfig) (string, error) {
	if g == nil || g.chats == nil {
		return "", screenerrors.Unavailable("gemini generator is not initialized", nil)
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return "", screenerrors.InvalidInput("message must not be empty", nil)
	}

	if config == nil {
		config = &genai.GenerateContentConfig{}
	}
	if system = strings.TrimSpace(system); system != "" {
		config.SystemInstruction = &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: system}},
		}
	}

	g.logger.Debug("gemini generate content request",
		zap.String("model", g.model),
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.TruncateForLog(message, g.maxLogLen)),
	)

	policy := retry.Policy{
		MaxAttempts: g.maxRetries,
		BaseDelay:   g.baseDelay,
		Classify:    g.classify,
		Wait:        wait,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			metrics.LLMRetriesTotal.WithLabelValues(g.model, retryReason(err)).Inc()
			g.logger.Warn("gemini call failed, retrying",
				zap.String("model", g.model),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", g.maxRetries),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
		},
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}

	output, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return g.send(ctx, config, message)
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return "", classifyError(err)
	}

	metrics.LLMRequestsTotal.WithLabelValues(g.model, "success").Inc()
	g.logger.Debug("gemini generate content response",
		zap.String("model", g.model),
		zap.Int("response_length", utf8.RuneCountInString(output)),
		zap.String("response_preview", utils.TruncateForLog(output, g.maxLogLen)),
	)

	return output, nil
}

func (g *Generator) send(ctx context.Context, config *genai.GenerateContentConfig, message string) (string, error) {
	chat, err := g.chats.Create(ctx, g.model, config, nil)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini api returned no response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}
	return output, nil
}

// classify retries temporary server errors and quota errors whose suggested
// delay fits within quotaMaxWait.
func (g *Generator) classify(err error) retry.Decision {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return retry.Decision{Retry: false}
	}

	switch {
	case isQuota(apiErr):
		limit := g.quotaMaxWait
		if limit <= 0 {
			limit = defaultQuotaMaxWait
		}
		delay, ok := suggestedDelay(apiErr.Message)
		if ok && delay > limit {
			g.logger.Warn("gemini quota delay exceeds limit, not retrying",
				zap.Duration("suggested_delay", delay),
				zap.Duration("limit", limit),
			)
			return retry.Decision{Retry: false}
		}
		return retry.Decision{Retry: true, Wait: delay}
	case isTemporary(apiErr):
		return retry.Decision{Retry: true}
	default:
		return retry.Decision{Retry: false}
	}
}

// classifyError maps a final Gemini failure onto a domain error.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return screenerrors.Unavailable("gemini call interrupted", err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case isQuota(apiErr):
			return screenerrors.RateLimit("gemini quota exhausted", err)
		case isTemporary(apiErr):
			return screenerrors.Unavailable("gemini temporarily unavailable", err)
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return screenerrors.InvalidInput("gemini rejected the request", err)
		}
	}
	return screenerrors.Internal("gemini call failed", err)
}

func isQuota(apiErr genai.APIError) bool {
	return apiErr.Code == http.StatusTooManyRequests || strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED")
}

func isTemporary(apiErr genai.APIError) bool {
	switch apiErr.Code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return strings.EqualFold(apiErr.Status, "UNAVAILABLE") || strings.EqualFold(apiErr.Status, "INTERNAL")
}

func retryReason(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && isQuota(apiErr) {
		return "quota"
	}
	return "temporary"
}

// suggestedDelay extracts "retry after 60 seconds" / "retry in 12.5s" hints.
func suggestedDelay(message string) (time.Duration, bool) {
	m := retryDelayPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	unit := time.Second
	if strings.EqualFold(m[2], "ms") {
		unit = time.Millisecond
	}
	return time.Duration(value * float64(unit)), true
}

func wait(ctx context.Context, d time.Duration) error {
	return waitFor(ctx, d)
}
