package screening

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/logger"
)

// JobTask asks a worker to run the per-job driver.
type JobTask struct {
	RunID           string `json:"run_id"`
	JobID           int64  `json:"job_id"`
	EnforceDeadline bool   `json:"enforce_deadline"`
	Rescreen        bool   `json:"rescreen,omitempty"`
}

// ApplicationTask asks a worker to screen one application.
type ApplicationTask struct {
	RunID         string `json:"run_id"`
	JobID         int64  `json:"job_id"`
	ApplicationID int64  `json:"application_id"`
	Rescreen      bool   `json:"rescreen,omitempty"`
}

type EmbedKind string

const (
	EmbedKindJob         EmbedKind = "job"
	EmbedKindApplication EmbedKind = "application"
)

// ParseEmbedKind converts a raw string to an EmbedKind.
func ParseEmbedKind(s string) (EmbedKind, error) {
	switch k := EmbedKind(s); k {
	case EmbedKindJob, EmbedKindApplication:
		return k, nil
	}
	return "", screenerrors.InvalidInput(fmt.Sprintf("unknown embedding target %q", s), nil)
}

// EmbedTask asks a worker to compute an entity's embedding, e.g. right after
// a job posting is created.
type EmbedTask struct {
	Kind  EmbedKind `json:"kind"`
	ID    int64     `json:"id"`
	Force bool      `json:"force,omitempty"`
}

// HandleEmbedTask runs an embedding task. A missing entity is logged and
// skipped.
func (o *Orchestrator) HandleEmbedTask(ctx context.Context, task EmbedTask) error {
	var err error
	switch task.Kind {
	case EmbedKindJob:
		_, err = o.EmbedJob(ctx, task.ID, task.Force)
	case EmbedKindApplication:
		_, err = o.EmbedApplication(ctx, task.ID, task.Force)
	default:
		return screenerrors.InvalidInput(fmt.Sprintf("unknown embedding target %q", task.Kind), nil)
	}

	if screenerrors.Is(err, screenerrors.ErrTypeNotFound) {
		o.logger.Warn("embedding target not found, skipping",
			zap.String("kind", string(task.Kind)),
			zap.Int64("id", task.ID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// EmbedJob makes sure the job has a description embedding. An existing
// vector is kept unless force is set. It reports whether a vector was
// computed.
func (o *Orchestrator) EmbedJob(ctx context.Context, jobID int64, force bool) (bool, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	computed := force || !o.usable(job.DescriptionEmbedding)
	if _, err := o.ensureJobEmbedding(ctx, job, force); err != nil {
		return false, err
	}
	return computed, nil
}

// EmbedApplication makes sure the application has a profile embedding. An
// existing vector is kept unless force is set. It reports whether a vector
// was computed.
func (o *Orchestrator) EmbedApplication(ctx context.Context, applicationID int64, force bool) (bool, error) {
	app, err := o.store.GetApplication(ctx, applicationID)
	if err != nil {
		return false, err
	}
	computed := force || !o.usable(app.ProfileEmbedding)
	if _, err := o.ensureApplicationEmbedding(ctx, app, force); err != nil {
		return false, err
	}
	return computed, nil
}

func (o *Orchestrator) ensureJobEmbedding(ctx context.Context, job *JobPosting, force bool) ([]float32, error) {
	if !force && o.usable(job.DescriptionEmbedding) {
		return job.DescriptionEmbedding, nil
	}

	vec, err := o.embedder.Embed(ctx, JobText(job))
	if err != nil {
		return nil, err
	}
	if err := o.store.SetJobEmbedding(ctx, job.ID, vec); err != nil {
		return nil, fmt.Errorf("store job embedding: %w", err)
	}
	job.DescriptionEmbedding = vec

	o.logger.Debug("job embedding stored",
		zap.Int64(logger.FieldJobID, job.ID),
		zap.Int("dimensions", len(vec)),
		zap.Bool("force", force),
	)
	return vec, nil
}

func (o *Orchestrator) ensureApplicationEmbedding(ctx context.Context, app *Application, force bool) ([]float32, error) {
	if !force && o.usable(app.ProfileEmbedding) {
		return app.ProfileEmbedding, nil
	}

	vec, err := o.embedder.Embed(ctx, ProfileText(app))
	if err != nil {
		return nil, err
	}
	if err := o.store.SetApplicationEmbedding(ctx, app.ID, vec); err != nil {
		return nil, fmt.Errorf("store application embedding: %w", err)
	}
	app.ProfileEmbedding = vec

	o.logger.Debug("application embedding stored",
		zap.Int64(logger.FieldApplicationID, app.ID),
		zap.Int("dimensions", len(vec)),
		zap.Bool("force", force),
	)
	return vec, nil
}

// usable reports whether a stored vector can be reused. A vector of the wrong
// length was produced by a different model configuration.
func (o *Orchestrator) usable(vec []float32) bool {
	return vec != nil && len(vec) == o.embedder.Dimensions()
}
