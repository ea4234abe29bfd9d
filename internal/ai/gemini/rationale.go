package gemini

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/screener/internal/metrics"
	"github.com/spigell/screener/internal/screening"
	"github.com/spigell/screener/internal/utils"
)

//go:embed prompts/rationale.md
var rationaleTemplate string

const (
	rationaleSystem   = "You write HR screening summaries. Respond only with a JSON object."
	maxRationaleItems = 5

	reasonNotConfigured = screening.ReasonSummarizerUnavailable
	reasonError         = "Summary generation error."
)

// Summarizer produces screening rationales with Gemini. It never fails: parse
// problems yield a degraded record with the raw answer, and service problems
// yield a placeholder.
type Summarizer struct {
	generator jsonGenerator
	maxLogLen int
	logger    *zap.Logger
}

func NewSummarizer(generator jsonGenerator, maxLogLength int, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &Summarizer{generator: generator, maxLogLen: maxLogLength, logger: logger}
}

// rationaleDoc uses tags without underscores; keys are normalised before
// decoding.
type rationaleDoc struct {
	Strengths      []string `mapstructure:"strengths"`
	SkillMatches   []string `mapstructure:"skillmatches"`
	Gaps           []string `mapstructure:"gaps"`
	ExperienceFit  string   `mapstructure:"experiencefit"`
	Risks          []string `mapstructure:"risks"`
	ScoreAlignment string   `mapstructure:"scorealignment"`
}

func (s *Summarizer) Summarize(ctx context.Context, in screening.RationaleInput) screening.Rationale {
	if s == nil || s.generator == nil {
		metrics.RationaleTotal.WithLabelValues(string(screening.RationalePlaceholder)).Inc()
		return screening.PlaceholderRationale(reasonNotConfigured, in.Breakdown)
	}

	prompt := buildRationalePrompt(in)

	raw, err := s.generator.GenerateJSON(ctx, rationaleSystem, prompt)
	if err != nil {
		s.logger.Warn("rationale generation failed, using placeholder", zap.Error(err))
		metrics.RationaleTotal.WithLabelValues(string(screening.RationalePlaceholder)).Inc()
		r := screening.PlaceholderRationale(reasonError, in.Breakdown)
		r.ScoreAlignment = "Error: " + err.Error() + ", " + r.ScoreAlignment
		return r
	}

	rationale, err := parseRationale(raw)
	if err != nil {
		s.logger.Warn("rationale response is not valid json, keeping raw summary",
			zap.Int("response_length", utf8.RuneCountInString(raw)),
			zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
			zap.Error(err),
		)
		metrics.RationaleTotal.WithLabelValues(string(screening.RationaleDegraded)).Inc()
		return screening.DegradedRationale(raw, in.Breakdown)
	}

	if rationale.ScoreAlignment == "" {
		rationale.ScoreAlignment = "Breakdown: " + in.Breakdown.String()
	}
	metrics.RationaleTotal.WithLabelValues(string(screening.RationaleGenerated)).Inc()
	return rationale
}

func buildRationalePrompt(in screening.RationaleInput) string {
	template := rationaleTemplate
	if strings.TrimSpace(template) == "" {
		template = "JD:\n{{JOB_DESCRIPTION}}\n\nSkills:\n{{REQUIRED_SKILLS}}\n\nCandidate Profile:\n{{CANDIDATE_PROFILE}}\n\nScore Breakdown (0..1): {{SCORE_BREAKDOWN}}"
	}

	description := strings.TrimSpace(in.JobDescription)
	if title := strings.TrimSpace(in.JobTitle); title != "" {
		description = title + "\n\n" + description
	}

	skills := "none"
	if len(in.RequiredSkills) > 0 {
		skills = strings.Join(in.RequiredSkills, ", ")
	}

	profile := strings.TrimSpace(in.CandidateProfile)
	if profile == "" {
		profile = "(empty profile)"
	}

	breakdown := in.Breakdown.String()
	if len(in.MatchedSkills) > 0 {
		breakdown += "\nmatched skills: " + strings.Join(in.MatchedSkills, ", ")
	}
	if len(in.MissingSkills) > 0 {
		breakdown += "\nmissing skills: " + strings.Join(in.MissingSkills, ", ")
	}

	replacer := strings.NewReplacer(
		"{{JOB_DESCRIPTION}}", description,
		"{{REQUIRED_SKILLS}}", skills,
		"{{CANDIDATE_PROFILE}}", profile,
		"{{SCORE_BREAKDOWN}}", breakdown,
	)
	return replacer.Replace(template)
}

func parseRationale(raw string) (screening.Rationale, error) {
	data, err := parseObject(raw)
	if err != nil {
		return screening.Rationale{}, err
	}

	fields := normalizeKeys(data)
	if !hasAnyKey(fields, "strengths", "skillmatches", "gaps", "experiencefit", "risks", "scorealignment") {
		return screening.Rationale{}, errors.New("parse gemini response: no rationale fields")
	}

	var doc rationaleDoc
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       lenientHook,
		WeaklyTypedInput: true,
		Result:           &doc,
	})
	if err != nil {
		return screening.Rationale{}, err
	}
	if err := decoder.Decode(fields); err != nil {
		return screening.Rationale{}, err
	}

	return screening.Rationale{
		Strengths:      cleanList(doc.Strengths),
		SkillMatches:   cleanList(doc.SkillMatches),
		Gaps:           cleanList(doc.Gaps),
		ExperienceFit:  strings.TrimSpace(doc.ExperienceFit),
		Risks:          cleanList(doc.Risks),
		ScoreAlignment: strings.TrimSpace(doc.ScoreAlignment),
		Kind:           screening.RationaleGenerated,
	}, nil
}

// lenientHook joins lists decoded into strings and renders non-string list
// items as text.
func lenientHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	switch {
	case to.Kind() == reflect.String && (from.Kind() == reflect.Slice || from.Kind() == reflect.Map):
		if items, ok := data.([]any); ok {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				if s := coerceString(item); s != "" {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, "; "), nil
		}
		return coerceString(data), nil
	case to.Kind() == reflect.Slice && from.Kind() == reflect.Slice:
		if items, ok := data.([]any); ok {
			out := make([]string, 0, len(items))
			for _, item := range items {
				out = append(out, coerceString(item))
			}
			return out, nil
		}
	case to.Kind() == reflect.Slice && from.Kind() == reflect.String:
		if s := strings.TrimSpace(data.(string)); s != "" {
			return []string{s}, nil
		}
		return []string{}, nil
	}
	return data, nil
}

func hasAnyKey(data map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := data[k]; ok {
			return true
		}
	}
	return false
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == maxRationaleItems {
			break
		}
	}
	return out
}
