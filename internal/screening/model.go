package screening

import (
	"fmt"
	"time"

	"github.com/spigell/screener/internal/scoring"
)

// JobPosting is an open position candidates apply to.
type JobPosting struct {
	ID                     int64     `json:"id" yaml:"id"`
	Title                  string    `json:"title" yaml:"title"`
	Description            string    `json:"description" yaml:"description"`
	RequiredSkills         []string  `json:"required_skills" yaml:"required_skills"`
	MinimumExperienceYears int       `json:"minimum_experience_years" yaml:"minimum_experience_years"`
	ApplicationDeadline    time.Time `json:"application_deadline" yaml:"application_deadline"`

	// DescriptionEmbedding is nil until computed.
	DescriptionEmbedding []float32 `json:"-" yaml:"-"`
}

// DeadlinePassed reports whether applications are closed at now.
func (j *JobPosting) DeadlinePassed(now time.Time) bool {
	return !j.ApplicationDeadline.IsZero() && !now.Before(j.ApplicationDeadline)
}

type WorkEntry struct {
	Employer      string  `json:"employer" yaml:"employer"`
	Title         string  `json:"title" yaml:"title"`
	DurationYears float64 `json:"duration_years" yaml:"duration_years"`
}

type Education struct {
	Level       string `json:"level" yaml:"level"`
	Institution string `json:"institution" yaml:"institution"`
	Degree      string `json:"degree" yaml:"degree"`
}

// Application is one candidate's submission to a job.
type Application struct {
	ID            int64       `json:"id" yaml:"id"`
	JobID         int64       `json:"job_id" yaml:"job_id"`
	CandidateName string      `json:"candidate_name,omitempty" yaml:"candidate_name,omitempty"`
	Skills        []string    `json:"skills" yaml:"skills"`
	WorkHistory   []WorkEntry `json:"work_history" yaml:"work_history"`
	Education     []Education `json:"education" yaml:"education"`
	ResumeText    string      `json:"resume_text" yaml:"resume_text"`
	CoverLetter   string      `json:"cover_letter" yaml:"cover_letter"`

	// ProfileEmbedding is nil until computed.
	ProfileEmbedding []float32       `json:"-" yaml:"-"`
	Status           Status          `json:"status" yaml:"status"`
	Breakdown        *ScoreBreakdown `json:"breakdown,omitempty" yaml:"breakdown,omitempty"`
	Rationale        *Rationale      `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	ScreenedAt       *time.Time      `json:"screened_at,omitempty" yaml:"screened_at,omitempty"`
}

// ExperienceYears is the sum of the work history durations.
func (a *Application) ExperienceYears() float64 {
	durations := make([]float64, 0, len(a.WorkHistory))
	for _, w := range a.WorkHistory {
		durations = append(durations, w.DurationYears)
	}
	return scoring.TotalYears(durations...)
}

// ScoreBreakdown is persisted together with the status and rationale.
type ScoreBreakdown struct {
	Similarity      float64 `json:"similarity" yaml:"similarity"`
	SkillCoverage   float64 `json:"skill_coverage" yaml:"skill_coverage"`
	ExperienceScore float64 `json:"experience_score" yaml:"experience_score"`
	FinalScore      float64 `json:"final_score" yaml:"final_score"`
}

func (b ScoreBreakdown) String() string {
	return fmt.Sprintf("similarity=%.2f skill_coverage=%.2f experience=%.2f final=%.2f",
		b.Similarity, b.SkillCoverage, b.ExperienceScore, b.FinalScore)
}

func breakdownFrom(r scoring.Result) ScoreBreakdown {
	return ScoreBreakdown{
		Similarity:      r.Similarity,
		SkillCoverage:   r.SkillCoverage,
		ExperienceScore: r.ExperienceScore,
		FinalScore:      r.FinalScore,
	}
}

type RationaleKind string

const (
	RationaleGenerated   RationaleKind = "generated"
	RationaleDegraded    RationaleKind = "degraded"
	RationalePlaceholder RationaleKind = "placeholder"
)

// Rationale is the human-readable explanation attached to a screening.
type Rationale struct {
	Strengths      []string      `json:"strengths" yaml:"strengths"`
	SkillMatches   []string      `json:"skill_matches" yaml:"skill_matches"`
	Gaps           []string      `json:"gaps" yaml:"gaps"`
	ExperienceFit  string        `json:"experience_fit" yaml:"experience_fit"`
	Risks          []string      `json:"risks" yaml:"risks"`
	ScoreAlignment string        `json:"score_alignment" yaml:"score_alignment"`
	RawSummary     string        `json:"raw_summary,omitempty" yaml:"raw_summary,omitempty"`
	Kind           RationaleKind `json:"kind" yaml:"kind"`
}

// ReasonSummarizerUnavailable is the placeholder text used when no rationale
// generator is configured.
const ReasonSummarizerUnavailable = "Summary unavailable (rationale generator not configured)."

// PlaceholderRationale is returned when no summary could be generated.
func PlaceholderRationale(reason string, b ScoreBreakdown) Rationale {
	return Rationale{
		Strengths:      []string{},
		SkillMatches:   []string{},
		Gaps:           []string{},
		ExperienceFit:  reason,
		Risks:          []string{},
		ScoreAlignment: "Breakdown: " + b.String(),
		Kind:           RationalePlaceholder,
	}
}

// DegradedRationale keeps an unparseable model answer for human review.
func DegradedRationale(raw string, b ScoreBreakdown) Rationale {
	r := PlaceholderRationale("Parsing failed, see raw_summary.", b)
	r.RawSummary = raw
	r.Kind = RationaleDegraded
	return r
}

// RationaleInput is everything the summarizer gets to see.
type RationaleInput struct {
	JobTitle         string
	JobDescription   string
	RequiredSkills   []string
	CandidateProfile string
	Breakdown        ScoreBreakdown
	MatchedSkills    []string
	MissingSkills    []string
}
