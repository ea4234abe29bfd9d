package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/screening"
)

func TestSchemaIsEmbedded(t *testing.T) {
	for _, want := range []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		"CREATE TABLE IF NOT EXISTS job_postings",
		"CREATE TABLE IF NOT EXISTS applications",
		"description_embedding    vector",
		"profile_embedding vector",
	} {
		assert.Contains(t, schema, want)
	}
}

func TestVectorSliceNil(t *testing.T) {
	assert.Nil(t, vectorSlice(nil))
	assert.Equal(t, 0.0, deref(nil))
}

// testPool connects to SCREENER_TEST_DATABASE_URL. The database must have the
// vector extension available.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := strings.TrimSpace(os.Getenv("SCREENER_TEST_DATABASE_URL"))
	if url == "" {
		t.Skip("SCREENER_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE applications, job_postings RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

func seedJob(t *testing.T, pool *pgxpool.Pool, deadline time.Time, skills ...string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO job_postings (title, description, required_skills, minimum_experience_years, application_deadline)
		 VALUES ('Backend Engineer', 'Python services', $1, 3, $2) RETURNING id`,
		skills, deadline,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedApplication(t *testing.T, pool *pgxpool.Pool, jobID int64, status string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO applications (job_id, skills, work_history, resume_text, status)
		 VALUES ($1, $2, $3, 'Four years of Django', $4) RETURNING id`,
		jobID, []string{"python", "django"},
		[]screening.WorkEntry{{Employer: "Acme", Title: "Developer", DurationYears: 4}},
		status,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestStoreRoundTrip(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool, nil)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	dueJob := seedJob(t, pool, now.Add(-time.Hour), "python", "django")
	futureJob := seedJob(t, pool, now.Add(time.Hour), "go")
	appID := seedApplication(t, pool, dueJob, "pending")
	seedApplication(t, pool, dueJob, "rejected")
	seedApplication(t, pool, futureJob, "pending")

	job, err := store.GetJob(ctx, dueJob)
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "django"}, job.RequiredSkills)
	assert.Nil(t, job.DescriptionEmbedding)

	require.NoError(t, store.SetJobEmbedding(ctx, dueJob, []float32{0.1, 0.2, 0.3}))
	job, err = store.GetJob(ctx, dueJob)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, job.DescriptionEmbedding)

	app, err := store.GetApplication(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, screening.StatusPending, app.Status)
	assert.Equal(t, 4.0, app.ExperienceYears())
	assert.Nil(t, app.Breakdown)

	refs, err := store.ListApplications(ctx, dueJob)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	due, err := store.ListDueJobs(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{dueJob}, due)

	rec := screening.ScreeningRecord{
		ApplicationID: appID,
		Expected:      screening.StatusPending,
		Status:        screening.StatusShortlisted,
		Breakdown:     screening.ScoreBreakdown{Similarity: 0.8, SkillCoverage: 1, ExperienceScore: 1, FinalScore: 0.9},
		Rationale:     screening.Rationale{Strengths: []string{"Django"}, Kind: screening.RationaleGenerated},
		ScreenedAt:    now,
	}
	require.NoError(t, store.SaveScreening(ctx, rec))

	app, err = store.GetApplication(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, screening.StatusShortlisted, app.Status)
	require.NotNil(t, app.Breakdown)
	assert.Equal(t, 0.9, app.Breakdown.FinalScore)
	require.NotNil(t, app.Rationale)
	assert.Equal(t, []string{"Django"}, app.Rationale.Strengths)

	err = store.SaveScreening(ctx, rec)
	assert.True(t, screenerrors.Is(err, screenerrors.ErrTypeConflict))

	due, err = store.ListDueJobs(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	jobs, err := store.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, futureJob, jobs[0].ID)
	assert.Equal(t, 1, jobs[0].Pending)
}

func TestStoreNotFound(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool, nil)
	ctx := context.Background()

	_, err := store.GetJob(ctx, 404)
	assert.True(t, screenerrors.Is(err, screenerrors.ErrTypeNotFound))

	_, err = store.GetApplication(ctx, 404)
	assert.True(t, screenerrors.Is(err, screenerrors.ErrTypeNotFound))

	err = store.SetApplicationEmbedding(ctx, 404, []float32{1})
	assert.True(t, screenerrors.Is(err, screenerrors.ErrTypeNotFound))

	err = store.SaveScreening(ctx, screening.ScreeningRecord{ApplicationID: 404, Expected: screening.StatusPending})
	assert.True(t, screenerrors.Is(err, screenerrors.ErrTypeNotFound))
}
