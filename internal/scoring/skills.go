// Package scoring holds the pure scoring rules used by screening: skill
// coverage, experience fit and the weighted aggregate.
package scoring

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var skillNoise = regexp.MustCompile(`[^\p{L}\p{N}_\-+./]+`)

// Normalizer canonicalises skill names: lower case, punctuation stripped,
// whitespace collapsed and synonyms mapped through an alias table.
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer builds a Normalizer. Alias keys are normalised the same way
// as skills so configuration may use any casing.
func NewNormalizer(aliases map[string]string) *Normalizer {
	n := &Normalizer{aliases: make(map[string]string, len(aliases))}
	for from, to := range aliases {
		key := clean(from)
		target := clean(to)
		if key == "" || target == "" {
			continue
		}
		n.aliases[key] = target
	}
	return n
}

// Normalize returns the canonical form of a single skill, or "" when nothing
// meaningful is left.
func (n *Normalizer) Normalize(skill string) string {
	key := clean(skill)
	if key == "" {
		return ""
	}
	if n != nil {
		if canonical, ok := n.aliases[key]; ok {
			return canonical
		}
	}
	return key
}

// NormalizeAll normalises and de-duplicates skills, keeping first-seen order.
func (n *Normalizer) NormalizeAll(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		k := n.Normalize(s)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func clean(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = skillNoise.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// SkillJudge answers whether a candidate's skill list implies the required
// skill, typically by asking a generative model.
type SkillJudge interface {
	HasSkill(ctx context.Context, candidateSkills []string, required string) (bool, error)
}

// CoverageResult is the outcome of matching one candidate against the
// required skill set.
type CoverageResult struct {
	Score   float64
	Exact   []string
	Fuzzy   []string
	Missing []string
}

// Matched returns every required skill counted as present.
func (c CoverageResult) Matched() []string {
	out := make([]string, 0, len(c.Exact)+len(c.Fuzzy))
	out = append(out, c.Exact...)
	return append(out, c.Fuzzy...)
}

// SkillMatcher computes required-skill coverage. Exact matches on normalised
// names come first; the judge is consulted once per remaining skill and any
// judge failure counts as not matched.
type SkillMatcher struct {
	normalizer *Normalizer
	judge      SkillJudge
	logger     *zap.Logger
}

// NewSkillMatcher builds a matcher. A nil judge disables fuzzy matching.
func NewSkillMatcher(normalizer *Normalizer, judge SkillJudge, logger *zap.Logger) *SkillMatcher {
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SkillMatcher{normalizer: normalizer, judge: judge, logger: logger}
}

// Normalizer exposes the normaliser used by the matcher.
func (m *SkillMatcher) Normalizer() *Normalizer {
	return m.normalizer
}

// Coverage returns matched/|required|. An empty required set covers fully;
// an empty candidate set covers nothing.
func (m *SkillMatcher) Coverage(ctx context.Context, required, candidate []string) CoverageResult {
	req := m.normalizer.NormalizeAll(required)
	if len(req) == 0 {
		return CoverageResult{Score: 1}
	}

	cand := m.normalizer.NormalizeAll(candidate)
	if len(cand) == 0 {
		return CoverageResult{Score: 0, Missing: req}
	}

	have := make(map[string]struct{}, len(cand))
	for _, s := range cand {
		have[s] = struct{}{}
	}

	var result CoverageResult
	for _, skill := range req {
		if _, ok := have[skill]; ok {
			result.Exact = append(result.Exact, skill)
			continue
		}
		if m.fuzzyMatch(ctx, cand, skill) {
			result.Fuzzy = append(result.Fuzzy, skill)
			continue
		}
		result.Missing = append(result.Missing, skill)
	}

	result.Score = float64(len(result.Exact)+len(result.Fuzzy)) / float64(len(req))
	return result
}

func (m *SkillMatcher) fuzzyMatch(ctx context.Context, candidate []string, required string) bool {
	if m.judge == nil {
		return false
	}

	ok, err := m.judge.HasSkill(ctx, candidate, required)
	if err != nil {
		m.logger.Warn("fuzzy skill match failed, counting as unmatched",
			zap.String("skill", required),
			zap.Error(err),
		)
		return false
	}
	return ok
}
