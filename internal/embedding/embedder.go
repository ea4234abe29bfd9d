// Package embedding turns text into fixed-length vectors and compares them.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	screenerrors "github.com/spigell/screener/internal/errors"
)

// DefaultDimensions matches the 768-dimensional models the store is sized for.
const DefaultDimensions = 768

// Provider is a remote embedding model.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Embedder enforces the vector contract on top of a Provider: blank text maps
// to the zero vector without a remote call and every vector has exactly
// Dimensions entries.
type Embedder struct {
	provider   Provider
	dimensions int
}

func NewEmbedder(provider Provider, dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{provider: provider, dimensions: dimensions}
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Model() string {
	if e.provider == nil {
		return ""
	}
	return e.provider.Model()
}

// Embed returns the vector for text. Provider failures are returned as is;
// no vector is fabricated for them.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dimensions), nil
	}
	if e.provider == nil {
		return nil, screenerrors.Unavailable("embedding provider is not configured", nil)
	}

	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != e.dimensions {
		return nil, screenerrors.InvalidInput(
			fmt.Sprintf("embedding has %d dimensions, expected %d", len(vec), e.dimensions), nil)
	}
	return vec, nil
}

// Cosine returns (a·b)/(|a||b|), or 0 when either norm is zero or the
// lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) {
		return 0
	}
	return math.Max(-1, math.Min(1, sim))
}
