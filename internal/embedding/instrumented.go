package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/metrics"
)

// InstrumentedProvider records request metrics and logs around a Provider.
type InstrumentedProvider struct {
	inner    Provider
	provider string
	logger   *zap.Logger
}

func NewInstrumentedProvider(inner Provider, provider string, logger *zap.Logger) *InstrumentedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedProvider{inner: inner, provider: provider, logger: logger}
}

func (p *InstrumentedProvider) Model() string { return p.inner.Model() }

func (p *InstrumentedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.inner.Model()
	start := time.Now()

	vec, err := p.inner.Embed(ctx, text)

	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(p.provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, model, string(screenerrors.TypeOf(err))).Inc()
		p.logger.Error("embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, fmt.Errorf("embed: %w", err)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(p.provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(p.provider, model).Observe(duration.Seconds())

	p.logger.Debug("embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(vec)),
	)

	return vec, nil
}
