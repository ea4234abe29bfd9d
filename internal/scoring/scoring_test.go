package scoring

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type judgeCall struct {
	candidate []string
	required  string
}

type stubJudge struct {
	answers map[string]bool
	errs    map[string]error
	calls   []judgeCall
}

func (s *stubJudge) HasSkill(_ context.Context, candidate []string, required string) (bool, error) {
	s.calls = append(s.calls, judgeCall{candidate: candidate, required: required})
	if err := s.errs[required]; err != nil {
		return false, err
	}
	return s.answers[required], nil
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(map[string]string{"GoLang": "go", "k8s": "Kubernetes", "rest api": "rest"})

	tests := []struct {
		in   string
		want string
	}{
		{in: "  Python ", want: "python"},
		{in: "Golang", want: "go"},
		{in: "K8S", want: "kubernetes"},
		{in: "REST   API", want: "rest"},
		{in: "C++", want: "c++"},
		{in: "Node.js", want: "node.js"},
		{in: "CI/CD", want: "ci/cd"},
		{in: "scikit-learn!", want: "scikit-learn"},
		{in: "Кубернетес", want: "кубернетес"},
		{in: "Français", want: "français"},
		{in: "1С:Предприятие", want: "1с предприятие"},
		{in: "  ,;  ", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Normalize(tt.in), "input %q", tt.in)
	}
}

func TestCoverageKeepsNonLatinSkills(t *testing.T) {
	m := NewSkillMatcher(nil, nil, zap.NewNop())
	ctx := context.Background()

	res := m.Coverage(ctx, []string{"Go", "Кубернетес"}, []string{"go"})
	assert.Equal(t, 0.5, res.Score)
	assert.Equal(t, []string{"кубернетес"}, res.Missing)

	res = m.Coverage(ctx, []string{"Разработка"}, []string{"python"})
	assert.Equal(t, 0.0, res.Score)

	res = m.Coverage(ctx, []string{"Разработка"}, []string{"разработка "})
	assert.Equal(t, 1.0, res.Score)
}

func TestNormalizeAllDeduplicates(t *testing.T) {
	n := NewNormalizer(map[string]string{"golang": "go"})

	got := n.NormalizeAll([]string{"Go", "golang", "", "Django", "django "})

	assert.Equal(t, []string{"go", "django"}, got)
}

func TestCoverageEmptyRequiredIsFull(t *testing.T) {
	judge := &stubJudge{}
	m := NewSkillMatcher(nil, judge, zap.NewNop())

	for _, candidate := range [][]string{nil, {}, {"cobol"}, {"python", "go"}} {
		res := m.Coverage(context.Background(), nil, candidate)
		assert.Equal(t, 1.0, res.Score)
	}
	assert.Empty(t, judge.calls)
}

func TestCoverageEmptyCandidateIsZero(t *testing.T) {
	judge := &stubJudge{answers: map[string]bool{"python": true}}
	m := NewSkillMatcher(nil, judge, zap.NewNop())

	res := m.Coverage(context.Background(), []string{"python", "django"}, nil)

	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, []string{"python", "django"}, res.Missing)
	assert.Empty(t, judge.calls)
}

func TestCoverageExactMatchSkipsJudge(t *testing.T) {
	judge := &stubJudge{}
	m := NewSkillMatcher(nil, judge, zap.NewNop())

	res := m.Coverage(context.Background(), []string{"Python", "Django"}, []string{"python", "DJANGO", "aws"})

	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, []string{"python", "django"}, res.Exact)
	assert.Empty(t, judge.calls)
}

func TestCoverageFuzzyOnlyForUnmatched(t *testing.T) {
	judge := &stubJudge{answers: map[string]bool{"rest": true}}
	m := NewSkillMatcher(nil, judge, zap.NewNop())

	res := m.Coverage(context.Background(),
		[]string{"python", "rest", "kubernetes"},
		[]string{"python", "fastapi"},
	)

	require.Len(t, judge.calls, 2)
	assert.Equal(t, "rest", judge.calls[0].required)
	assert.Equal(t, "kubernetes", judge.calls[1].required)
	assert.Equal(t, []string{"python", "fastapi"}, judge.calls[0].candidate)

	assert.InDelta(t, 2.0/3.0, res.Score, 1e-9)
	assert.Equal(t, []string{"python"}, res.Exact)
	assert.Equal(t, []string{"rest"}, res.Fuzzy)
	assert.Equal(t, []string{"kubernetes"}, res.Missing)
	assert.Equal(t, []string{"python", "rest"}, res.Matched())
}

func TestCoverageJudgeFailureIsFailClosed(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	judge := &stubJudge{
		answers: map[string]bool{"django": true},
		errs:    map[string]error{"aws": errors.New("deadline exceeded")},
	}
	m := NewSkillMatcher(nil, judge, zap.New(core))

	res := m.Coverage(context.Background(), []string{"aws", "django"}, []string{"python"})

	assert.Equal(t, 0.5, res.Score)
	assert.Equal(t, []string{"aws"}, res.Missing)
	require.Equal(t, 1, observed.FilterMessage("fuzzy skill match failed, counting as unmatched").Len())
}

func TestCoverageWithoutJudge(t *testing.T) {
	m := NewSkillMatcher(nil, nil, nil)

	res := m.Coverage(context.Background(), []string{"python", "django"}, []string{"javascript"})

	assert.Equal(t, 0.0, res.Score)
}

func TestExperienceFitProperties(t *testing.T) {
	assert.Equal(t, 1.0, ExperienceFit(0, 0.5))
	assert.Equal(t, 0.0, ExperienceFit(0, 0))

	for _, r := range []float64{0.5, 1, 3, 7, 12} {
		assert.Equal(t, 1.0, ExperienceFit(r, r), "required %v", r)
		assert.Equal(t, 0.0, ExperienceFit(r, 0), "required %v", r)
	}
}

func TestExperienceFitCurve(t *testing.T) {
	tests := []struct {
		name      string
		required  float64
		candidate float64
		want      float64
	}{
		{name: "exceeds requirement", required: 3, candidate: 4, want: 1},
		{name: "cap at twice required", required: 3, candidate: 30, want: 1},
		{name: "ratio 0.9", required: 10, candidate: 9, want: 0.85},
		{name: "ratio 0.8", required: 10, candidate: 8, want: 0.7},
		{name: "ratio one third", required: 3, candidate: 1, want: 0.8 / 3},
		{name: "negative candidate", required: 3, candidate: -2, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ExperienceFit(tt.required, tt.candidate), 1e-9)
		})
	}
}

func TestExperienceFitMonotonic(t *testing.T) {
	for _, required := range []float64{1, 2, 3, 5, 10} {
		prev := -1.0
		for years := 0.0; years <= 3*required; years += 0.05 {
			got := ExperienceFit(required, years)
			require.GreaterOrEqual(t, got, prev, "required=%v years=%v", required, years)
			require.True(t, got >= 0 && got <= 1)
			prev = got
		}
	}
}

func TestTotalYears(t *testing.T) {
	assert.Equal(t, 4.5, TotalYears(2, 2.5, -1, math.Inf(1)))
	assert.Equal(t, 0.0, TotalYears())
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	require.Error(t, Weights{Similarity: 0.6, Skills: 0.3, Experience: 0.2}.Validate())
	require.Error(t, Weights{Similarity: 1.2, Skills: -0.2, Experience: 0}.Validate())

	_, err := NewScorer(DefaultWeights(), 1.5)
	require.Error(t, err)
}

func TestScorerScenarios(t *testing.T) {
	s := DefaultScorer()

	// exact skills, enough experience, similarity 0.8
	a := s.Score(0.8, 1.0, ExperienceFit(3, 4))
	assert.InDelta(t, 0.90, a.FinalScore, 1e-9)
	assert.True(t, a.Shortlisted)

	// no skills, one year of three, similarity 0.3
	b := s.Score(0.3, 0, ExperienceFit(3, 1))
	assert.InDelta(t, 0.2033, b.FinalScore, 1e-4)
	assert.False(t, b.Shortlisted)
}

func TestAggregateClampsAndIsDeterministic(t *testing.T) {
	s := DefaultScorer()

	inputs := [][3]float64{
		{-1, 0, 0},
		{1, 1, 1},
		{2, 5, 9},
		{math.NaN(), 1, 1},
		{-0.4, 0.5, 0.5},
		{0.65, 0.65, 0.65},
	}

	for _, in := range inputs {
		first := s.Aggregate(in[0], in[1], in[2])
		second := s.Aggregate(in[0], in[1], in[2])
		assert.Equal(t, first, second)
		assert.GreaterOrEqual(t, first, 0.0)
		assert.LessOrEqual(t, first, 1.0)
		assert.Equal(t, s.Shortlisted(first), s.Shortlisted(second))
	}

	assert.True(t, s.Shortlisted(0.65))
	assert.False(t, s.Shortlisted(0.6499))
}

func TestScoreWeighsNegativeSimilarity(t *testing.T) {
	res := DefaultScorer().Score(-0.3, 0.5, 1)

	assert.Equal(t, 0.0, res.Similarity)
	assert.InDelta(t, 0.20, res.FinalScore, 1e-9)

	assert.InDelta(t, 0.3, DefaultScorer().Aggregate(-0.4, 1, 1), 1e-9)
	assert.Equal(t, 0.0, DefaultScorer().Aggregate(-1, 0, 0))
}
