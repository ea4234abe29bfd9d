package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/screener/internal/scheduler"
	"github.com/spigell/screener/internal/scoring"
	"github.com/spigell/screener/internal/screening"
	"github.com/spigell/screener/internal/storage/postgres"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	setDefaults()
	t.Cleanup(func() {
		viper.Reset()
		setDefaults()
	})
}

func TestGetConfigDefaults(t *testing.T) {
	resetViper(t)
	viper.Set("database-url", "postgres://localhost/screener")

	cfg, err := getConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	assert.Equal(t, scoring.DefaultWeights(), cfg.Scoring.Weights)
	assert.Equal(t, scoring.DefaultShortlistThreshold, cfg.Scoring.ShortlistThreshold)
	assert.Equal(t, "gemini", cfg.Embedding.Provider)
	assert.Equal(t, scheduler.DefaultSpec, cfg.Schedule.Sweep)
	assert.Equal(t, 720*time.Hour, cfg.Redis.CacheTTL)
	assert.True(t, cfg.AI.FuzzySkills)
	assert.True(t, cfg.AI.Rationale)
	assert.False(t, cfg.NATS.Enabled())
}

func TestGetConfigOverrides(t *testing.T) {
	resetViper(t)
	viper.Set("database-url", "postgres://db/screener")
	viper.Set("nats.url", "nats://nats:4222")
	viper.Set("nats.ack-wait", "90s")
	viper.Set("screening.workers", 8)
	viper.Set("scoring.skill-aliases", map[string]string{"golang": "go"})
	viper.Set("ai.gemini.model", "gemini-2.5-flash")
	viper.Set("ai.gemini.quota-max-wait", "30s")

	cfg, err := getConfig()
	require.NoError(t, err)

	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, 90*time.Second, cfg.NATS.AckWait)
	assert.Equal(t, 8, cfg.Screening.Workers)
	assert.Equal(t, map[string]string{"golang": "go"}, cfg.Scoring.SkillAliases)
	require.NotNil(t, cfg.AI.Gemini)
	assert.Equal(t, "gemini-2.5-flash", cfg.AI.Gemini.Model)
	assert.Equal(t, 30*time.Second, cfg.AI.Gemini.QuotaMaxWait)
}

func TestValidate(t *testing.T) {
	base := Config{DatabaseURL: "postgres://db", Embedding: EmbeddingConfig{Provider: "openai"}}
	require.NoError(t, base.validate())

	missingDB := base
	missingDB.DatabaseURL = ""
	assert.ErrorContains(t, missingDB.validate(), "database-url")

	badProvider := base
	badProvider.Embedding.Provider = "word2vec"
	assert.ErrorContains(t, badProvider.validate(), "unsupported embedding provider")

	badDims := base
	badDims.Embedding.Dimensions = -1
	assert.Error(t, badDims.validate())
}

func TestParseID(t *testing.T) {
	id, err := parseID("42", "job")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "abc", "0", "-3"} {
		_, err := parseID(raw, "job")
		assert.Error(t, err, raw)
	}
}

func TestPrintResult(t *testing.T) {
	summary := &screening.RunSummary{
		RunID:        "run-1",
		JobID:        7,
		Applications: 1,
		Outcomes: []screening.Outcome{{
			ApplicationID: 3,
			Status:        screening.StatusShortlisted,
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, outputJSON, summary))
	assert.Contains(t, buf.String(), `"run_id": "run-1"`)
	assert.Contains(t, buf.String(), `"status": "shortlisted"`)

	buf.Reset()
	require.NoError(t, printResult(&buf, outputYAML, summary))
	assert.Contains(t, buf.String(), "run_id: run-1")
	assert.Contains(t, buf.String(), "application_id: 3")

	assert.Error(t, printResult(&buf, "xml", summary))
	assert.NoError(t, validOutput(outputText))
	assert.Error(t, validOutput("xml"))
}

func TestJobLabel(t *testing.T) {
	deadline := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, "5 Backend Engineer / 2 of 3 pending / deadline 2026-05-01 18:00",
		jobLabel(postgres.JobOverview{ID: 5, Title: " Backend Engineer ", Deadline: &deadline, Pending: 2, Applications: 3}))
	assert.Equal(t, "6 QA / 0 of 0 pending / no deadline",
		jobLabel(postgres.JobOverview{ID: 6, Title: "QA"}))
}
