package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"go.uber.org/zap"
)

type jsonGenerator interface {
	GenerateJSON(ctx context.Context, system, message string) (string, error)
	Model() string
}

//go:embed prompts/skill_judge.md
var skillJudgePrompt string

// SkillJudge asks Gemini whether a candidate's skills imply a required skill
// that was not matched literally.
type SkillJudge struct {
	generator jsonGenerator
	logger    *zap.Logger
}

func NewSkillJudge(generator jsonGenerator, logger *zap.Logger) *SkillJudge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SkillJudge{generator: generator, logger: logger}
}

// HasSkill returns the model's yes/no verdict. Any failure, including an
// unparseable answer, is returned as an error so the caller can fail closed.
func (j *SkillJudge) HasSkill(ctx context.Context, candidateSkills []string, required string) (bool, error) {
	if j == nil || j.generator == nil {
		return false, errors.New("skill judge is not configured")
	}

	required = strings.TrimSpace(required)
	if required == "" {
		return false, errors.New("required skill must not be empty")
	}

	message := buildJudgeMessage(candidateSkills, required)

	raw, err := j.generator.GenerateJSON(ctx, skillJudgePrompt, message)
	if err != nil {
		return false, err
	}

	data, err := parseObject(raw)
	if err != nil {
		return false, err
	}

	value, ok := data["present"]
	if !ok {
		return false, fmt.Errorf("parse gemini response: missing \"present\" field")
	}

	present := coerceBool(value)
	j.logger.Debug("fuzzy skill verdict",
		zap.String("skill", required),
		zap.Bool("present", present),
		zap.String("reason", coerceString(data["reason"])),
	)
	return present, nil
}

func buildJudgeMessage(candidateSkills []string, required string) string {
	var b strings.Builder
	b.WriteString("Candidate skills:\n")
	listed := 0
	for _, s := range candidateSkills {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
		listed++
	}
	if listed == 0 {
		b.WriteString("- none\n")
	}
	b.WriteString("\nRequired skill: ")
	b.WriteString(required)
	return b.String()
}
