// Package postgres persists job postings, applications and screening results
// in PostgreSQL with the pgvector extension.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/screening"
)

//go:embed schema.sql
var schema string

// NewPool creates and verifies a connection pool. The pgvector codecs are
// registered on every new connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Store implements screening.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

var _ screening.Store = (*Store)(nil)

func (s *Store) GetJob(ctx context.Context, id int64) (*screening.JobPosting, error) {
	var (
		job       screening.JobPosting
		deadline  *time.Time
		embedding *pgvector.Vector
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, description, required_skills, minimum_experience_years,
		        application_deadline, description_embedding
		 FROM job_postings WHERE id = $1`,
		id,
	).Scan(
		&job.ID, &job.Title, &job.Description, &job.RequiredSkills,
		&job.MinimumExperienceYears, &deadline, &embedding,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, screenerrors.NotFound(fmt.Sprintf("job %d not found", id), err)
	}
	if err != nil {
		return nil, fmt.Errorf("getJob: %w", err)
	}

	if deadline != nil {
		job.ApplicationDeadline = *deadline
	}
	job.DescriptionEmbedding = vectorSlice(embedding)
	return &job, nil
}

func (s *Store) GetApplication(ctx context.Context, id int64) (*screening.Application, error) {
	var (
		app        screening.Application
		status     string
		embedding  *pgvector.Vector
		similarity *float64
		coverage   *float64
		experience *float64
		final      *float64
		rationale  *screening.Rationale
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, candidate_name, skills, work_history, education,
		        resume_text, cover_letter, profile_embedding, status,
		        similarity, skill_coverage, experience_score, final_score,
		        rationale, screened_at
		 FROM applications WHERE id = $1`,
		id,
	).Scan(
		&app.ID, &app.JobID, &app.CandidateName, &app.Skills, &app.WorkHistory, &app.Education,
		&app.ResumeText, &app.CoverLetter, &embedding, &status,
		&similarity, &coverage, &experience, &final,
		&rationale, &app.ScreenedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, screenerrors.NotFound(fmt.Sprintf("application %d not found", id), err)
	}
	if err != nil {
		return nil, fmt.Errorf("getApplication: %w", err)
	}

	app.Status, err = screening.ParseStatus(status)
	if err != nil {
		return nil, screenerrors.InvalidInput(fmt.Sprintf("application %d", id), err)
	}
	app.ProfileEmbedding = vectorSlice(embedding)
	app.Rationale = rationale
	if final != nil {
		app.Breakdown = &screening.ScoreBreakdown{
			Similarity:      deref(similarity),
			SkillCoverage:   deref(coverage),
			ExperienceScore: deref(experience),
			FinalScore:      *final,
		}
	}
	return &app, nil
}

func (s *Store) ListApplications(ctx context.Context, jobID int64) ([]screening.ApplicationRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status FROM applications WHERE job_id = $1 ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listApplications query: %w", err)
	}
	defer rows.Close()

	refs := make([]screening.ApplicationRef, 0)
	for rows.Next() {
		var (
			ref    screening.ApplicationRef
			status string
		)
		if err := rows.Scan(&ref.ID, &status); err != nil {
			return nil, fmt.Errorf("listApplications scan: %w", err)
		}
		if ref.Status, err = screening.ParseStatus(status); err != nil {
			s.logger.Warn("skipping application with unknown status",
				zap.Int64("application_id", ref.ID), zap.Error(err))
			continue
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listApplications rows: %w", err)
	}
	return refs, nil
}

func (s *Store) ListDueJobs(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT j.id
		 FROM job_postings j
		 WHERE j.application_deadline IS NOT NULL
		   AND j.application_deadline <= $1
		   AND EXISTS (
		       SELECT 1 FROM applications a
		       WHERE a.job_id = j.id AND a.status = 'pending'
		   )
		 ORDER BY j.application_deadline, j.id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("listDueJobs query: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("listDueJobs scan: %w", err)
	}
	return ids, nil
}

func (s *Store) SetJobEmbedding(ctx context.Context, id int64, vec []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_postings SET description_embedding = $1, updated_at = NOW() WHERE id = $2`,
		pgvector.NewVector(vec), id,
	)
	if err != nil {
		return fmt.Errorf("setJobEmbedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return screenerrors.NotFound(fmt.Sprintf("job %d not found", id), nil)
	}
	return nil
}

func (s *Store) SetApplicationEmbedding(ctx context.Context, id int64, vec []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE applications SET profile_embedding = $1, updated_at = NOW() WHERE id = $2`,
		pgvector.NewVector(vec), id,
	)
	if err != nil {
		return fmt.Errorf("setApplicationEmbedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return screenerrors.NotFound(fmt.Sprintf("application %d not found", id), nil)
	}
	return nil
}

// SaveScreening writes scores, rationale and status in one transaction. The
// row is locked and its status compared with rec.Expected first, so a human
// decision taken while the application was being scored is never
// overwritten.
func (s *Store) SaveScreening(ctx context.Context, rec screening.ScreeningRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("saveScreening begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("saveScreening rollback failed", zap.Error(err))
		}
	}()

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM applications WHERE id = $1 FOR UPDATE`,
		rec.ApplicationID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return screenerrors.NotFound(fmt.Sprintf("application %d not found", rec.ApplicationID), err)
	}
	if err != nil {
		return fmt.Errorf("saveScreening lock: %w", err)
	}

	if screening.Status(current) != rec.Expected {
		return screenerrors.Conflict(
			fmt.Sprintf("application %d status changed from %s to %s", rec.ApplicationID, rec.Expected, current), nil)
	}

	_, err = tx.Exec(ctx,
		`UPDATE applications
		 SET status = $1, similarity = $2, skill_coverage = $3, experience_score = $4,
		     final_score = $5, rationale = $6, screened_at = $7, updated_at = NOW()
		 WHERE id = $8`,
		string(rec.Status),
		rec.Breakdown.Similarity, rec.Breakdown.SkillCoverage,
		rec.Breakdown.ExperienceScore, rec.Breakdown.FinalScore,
		rec.Rationale, rec.ScreenedAt, rec.ApplicationID,
	)
	if err != nil {
		return fmt.Errorf("saveScreening update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("saveScreening commit: %w", err)
	}
	return nil
}

// JobOverview is a row of the job picker.
type JobOverview struct {
	ID           int64
	Title        string
	Deadline     *time.Time
	Pending      int
	Applications int
}

// ListJobs returns the most recent jobs with application counts.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobOverview, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT j.id, j.title, j.application_deadline,
		        COUNT(a.id) FILTER (WHERE a.status = 'pending'),
		        COUNT(a.id)
		 FROM job_postings j
		 LEFT JOIN applications a ON a.job_id = j.id
		 GROUP BY j.id
		 ORDER BY j.id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listJobs query: %w", err)
	}
	defer rows.Close()

	jobs := make([]JobOverview, 0)
	for rows.Next() {
		var j JobOverview
		if err := rows.Scan(&j.ID, &j.Title, &j.Deadline, &j.Pending, &j.Applications); err != nil {
			return nil, fmt.Errorf("listJobs scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listJobs rows: %w", err)
	}
	return jobs, nil
}

func vectorSlice(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
