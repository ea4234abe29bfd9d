package scoring

import (
	"fmt"
	"math"
)

const (
	DefaultSimilarityWeight   = 0.50
	DefaultSkillsWeight       = 0.30
	DefaultExperienceWeight   = 0.20
	DefaultShortlistThreshold = 0.65

	weightTolerance = 1e-6
)

// Weights of the three sub-scores in the final score.
type Weights struct {
	Similarity float64 `mapstructure:"similarity" json:"similarity" yaml:"similarity"`
	Skills     float64 `mapstructure:"skills" json:"skills" yaml:"skills"`
	Experience float64 `mapstructure:"experience" json:"experience" yaml:"experience"`
}

func DefaultWeights() Weights {
	return Weights{
		Similarity: DefaultSimilarityWeight,
		Skills:     DefaultSkillsWeight,
		Experience: DefaultExperienceWeight,
	}
}

// Validate requires non-negative weights summing to one.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"similarity": w.Similarity, "skills": w.Skills, "experience": w.Experience} {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("%s weight must be non-negative, got %v", name, v)
		}
	}
	if sum := w.Similarity + w.Skills + w.Experience; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// Result is the full score breakdown for one application.
type Result struct {
	Similarity      float64
	SkillCoverage   float64
	ExperienceScore float64
	FinalScore      float64
	Shortlisted     bool
}

// Scorer combines sub-scores with fixed weights and applies the shortlist
// threshold. It holds no mutable state.
type Scorer struct {
	weights   Weights
	threshold float64
}

func NewScorer(weights Weights, threshold float64) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("shortlist threshold must be within [0,1], got %v", threshold)
	}
	return &Scorer{weights: weights, threshold: threshold}, nil
}

// DefaultScorer uses the 0.50/0.30/0.20 weights and a 0.65 threshold.
func DefaultScorer() *Scorer {
	return &Scorer{weights: DefaultWeights(), threshold: DefaultShortlistThreshold}
}

func (s *Scorer) Weights() Weights { return s.weights }
func (s *Scorer) Threshold() float64 { return s.threshold }

// Aggregate returns the weighted sum clamped to [0,1]. The raw cosine is
// weighted as is, so a negative similarity lowers the score. NaN counts as
// zero.
func (s *Scorer) Aggregate(similarity, coverage, experience float64) float64 {
	final := s.weights.Similarity*zeroNaN(similarity) +
		s.weights.Skills*zeroNaN(coverage) +
		s.weights.Experience*zeroNaN(experience)
	return Clamp01(final)
}

// Shortlisted reports whether the final score reaches the threshold.
func (s *Scorer) Shortlisted(final float64) bool {
	return final >= s.threshold
}

// Score computes the full breakdown.
func (s *Scorer) Score(similarity, coverage, experience float64) Result {
	final := s.Aggregate(similarity, coverage, experience)
	return Result{
		Similarity:      Clamp01(similarity),
		SkillCoverage:   Clamp01(coverage),
		ExperienceScore: Clamp01(experience),
		FinalScore:      final,
		Shortlisted:     s.Shortlisted(final),
	}
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// Clamp01 bounds v to [0,1], mapping NaN to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
