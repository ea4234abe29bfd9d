package screening

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spigell/screener/internal/embedding"
	screenerrors "github.com/spigell/screener/internal/errors"
	"github.com/spigell/screener/internal/logger"
	"github.com/spigell/screener/internal/metrics"
	"github.com/spigell/screener/internal/scoring"
	"github.com/spigell/screener/internal/telemetry"
)

// ApplicationRef is the part of an application needed to decide whether it
// gets screened.
type ApplicationRef struct {
	ID     int64
	Status Status
}

// ScreeningRecord is persisted in one transaction. Expected is the status the
// application had when scoring started; the store must refuse the write with
// a CONFLICT error if it changed in the meantime.
type ScreeningRecord struct {
	ApplicationID int64
	Expected      Status
	Status        Status
	Breakdown     ScoreBreakdown
	Rationale     Rationale
	ScreenedAt    time.Time
}

// Store is the persistence the orchestrator needs. Missing entities are
// reported as NOT_FOUND domain errors.
type Store interface {
	GetJob(ctx context.Context, id int64) (*JobPosting, error)
	GetApplication(ctx context.Context, id int64) (*Application, error)
	ListApplications(ctx context.Context, jobID int64) ([]ApplicationRef, error)
	ListDueJobs(ctx context.Context, now time.Time) ([]int64, error)
	SetJobEmbedding(ctx context.Context, id int64, vec []float32) error
	SetApplicationEmbedding(ctx context.Context, id int64, vec []float32) error
	SaveScreening(ctx context.Context, rec ScreeningRecord) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

type CoverageMatcher interface {
	Coverage(ctx context.Context, required, candidate []string) scoring.CoverageResult
}

// Summarizer writes the rationale. It must not fail; problems are reported
// through the rationale kind.
type Summarizer interface {
	Summarize(ctx context.Context, in RationaleInput) Rationale
}

// Dispatcher hands units of work to other workers.
type Dispatcher interface {
	DispatchJob(ctx context.Context, task JobTask) error
	DispatchApplications(ctx context.Context, tasks []ApplicationTask) error
}

// EventPublisher announces finished screenings to downstream consumers.
type EventPublisher interface {
	PublishScreened(ctx context.Context, ev ScreenedEvent) error
}

// ScreenedEvent is emitted after an application's screening is committed.
type ScreenedEvent struct {
	RunID         string    `json:"run_id"`
	JobID         int64     `json:"job_id"`
	ApplicationID int64     `json:"application_id"`
	Status        Status    `json:"status"`
	FinalScore    float64   `json:"final_score"`
	RationaleKind string    `json:"rationale_kind"`
	ScreenedAt    time.Time `json:"screened_at"`
}

// Deps wires the orchestrator. Store, Embedder, Matcher and Scorer are
// required. Without a Dispatcher all work runs in-process on Pool.
type Deps struct {
	Store      Store
	Embedder   Embedder
	Matcher    CoverageMatcher
	Scorer     *scoring.Scorer
	Summarizer Summarizer
	Dispatcher Dispatcher
	Events     EventPublisher
	Pool       *Pool
	Logger     *zap.Logger
	Now        func() time.Time
}

// Orchestrator drives screening of jobs and their applications.
type Orchestrator struct {
	store      Store
	embedder   Embedder
	matcher    CoverageMatcher
	scorer     *scoring.Scorer
	summarizer Summarizer
	dispatcher Dispatcher
	events     EventPublisher
	pool       *Pool
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
}

func NewOrchestrator(d Deps) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("screening store is required")
	case d.Embedder == nil:
		return nil, errors.New("embedder is required")
	case d.Matcher == nil:
		return nil, errors.New("skill matcher is required")
	case d.Scorer == nil:
		return nil, errors.New("scorer is required")
	}

	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Pool == nil {
		d.Pool = NewPool(PoolOptions{}, d.Logger)
	}

	return &Orchestrator{
		store:      d.Store,
		embedder:   d.Embedder,
		matcher:    d.Matcher,
		scorer:     d.Scorer,
		summarizer: d.Summarizer,
		dispatcher: d.Dispatcher,
		events:     d.Events,
		pool:       d.Pool,
		tracer:     telemetry.GetTracer("github.com/spigell/screener/internal/screening"),
		logger:     d.Logger,
		now:        d.Now,
	}, nil
}

// ScreenOptions tunes a manual screening run.
type ScreenOptions struct {
	// Rescreen also scores reviewed and shortlisted applications.
	Rescreen bool
	// Async hands the job to the dispatcher instead of running it here.
	Async bool
}

// Outcome is the result of one application unit.
type Outcome struct {
	ApplicationID int64           `json:"application_id" yaml:"application_id"`
	Status        Status          `json:"status,omitempty" yaml:"status,omitempty"`
	Breakdown     *ScoreBreakdown `json:"breakdown,omitempty" yaml:"breakdown,omitempty"`
	RationaleKind RationaleKind   `json:"rationale_kind,omitempty" yaml:"rationale_kind,omitempty"`
	Skipped       string          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

type Failure struct {
	ApplicationID int64  `json:"application_id" yaml:"application_id"`
	Error         string `json:"error" yaml:"error"`
}

// RunSummary describes one job run.
type RunSummary struct {
	RunID        string    `json:"run_id" yaml:"run_id"`
	JobID        int64     `json:"job_id" yaml:"job_id"`
	Skipped      string    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Applications int       `json:"applications" yaml:"applications"`
	Dispatched   int       `json:"dispatched" yaml:"dispatched"`
	Outcomes     []Outcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	Failures     []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// ScreenJob screens one job now, regardless of its deadline. It only touches
// pending applications unless opts.Rescreen is set, so repeated calls are
// harmless.
func (o *Orchestrator) ScreenJob(ctx context.Context, jobID int64, opts ScreenOptions) (*RunSummary, error) {
	task := JobTask{RunID: uuid.NewString(), JobID: jobID, Rescreen: opts.Rescreen}

	if opts.Async {
		if o.dispatcher == nil {
			return nil, screenerrors.InvalidInput("async screening needs a task queue", nil)
		}
		if err := o.dispatcher.DispatchJob(ctx, task); err != nil {
			return nil, fmt.Errorf("dispatch job %d: %w", jobID, err)
		}
		return &RunSummary{RunID: task.RunID, JobID: jobID, Dispatched: 1}, nil
	}

	return o.runJob(ctx, task, true)
}

// SweepDueJobs starts a deadline-enforcing run for every job whose deadline
// has passed and that still has pending applications. It returns the number
// of jobs started.
func (o *Orchestrator) SweepDueJobs(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "SweepDueJobs")
	defer span.End()

	ids, err := o.store.ListDueJobs(ctx, o.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("list due jobs: %w", err)
	}
	metrics.SweepDueJobs.Set(float64(len(ids)))

	runID := uuid.NewString()
	log := logger.WithScreeningFields(o.logger, runID, 0, 0)
	log.Info("sweep found due jobs", zap.Int("jobs", len(ids)))

	started := 0
	var errs []error
	for _, id := range ids {
		task := JobTask{RunID: runID, JobID: id, EnforceDeadline: true}

		if o.dispatcher != nil {
			if err := o.dispatcher.DispatchJob(ctx, task); err != nil {
				log.Error("failed to dispatch job", zap.Int64(logger.FieldJobID, id), zap.Error(err))
				errs = append(errs, fmt.Errorf("dispatch job %d: %w", id, err))
				continue
			}
			started++
			continue
		}

		if _, err := o.runJob(ctx, task, true); err != nil {
			log.Error("failed to screen job", zap.Int64(logger.FieldJobID, id), zap.Error(err))
			errs = append(errs, fmt.Errorf("screen job %d: %w", id, err))
			continue
		}
		started++
	}

	if ctx.Err() != nil {
		return started, ctx.Err()
	}
	return started, errors.Join(errs...)
}

// HandleJobTask runs the per-job driver for a task taken off the queue.
// Application units are dispatched when a dispatcher is configured.
func (o *Orchestrator) HandleJobTask(ctx context.Context, task JobTask) (*RunSummary, error) {
	return o.runJob(ctx, task, o.dispatcher == nil)
}

func (o *Orchestrator) runJob(ctx context.Context, task JobTask, local bool) (*RunSummary, error) {
	if task.RunID == "" {
		task.RunID = uuid.NewString()
	}
	ctx, span := o.tracer.Start(ctx, "ScreenJob", trace.WithAttributes(
		telemetry.String(logger.FieldRunID, task.RunID),
		telemetry.Int64(logger.FieldJobID, task.JobID),
	))
	defer span.End()

	log := logger.WithScreeningFields(o.logger, task.RunID, task.JobID, 0)
	summary := &RunSummary{RunID: task.RunID, JobID: task.JobID}

	job, err := o.store.GetJob(ctx, task.JobID)
	if err != nil {
		if screenerrors.Is(err, screenerrors.ErrTypeNotFound) {
			log.Warn("job not found, skipping", zap.Error(err))
			summary.Skipped = "job not found"
			return summary, nil
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load job %d: %w", task.JobID, err)
	}

	if task.EnforceDeadline && !job.DeadlinePassed(o.now()) {
		log.Info("job deadline not reached, skipping", zap.Time("deadline", job.ApplicationDeadline))
		summary.Skipped = "deadline not reached"
		return summary, nil
	}

	if _, err := o.ensureJobEmbedding(ctx, job, false); err != nil {
		metrics.ScreeningFailuresTotal.WithLabelValues("job_embedding").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embed job %d: %w", job.ID, err)
	}

	refs, err := o.store.ListApplications(ctx, job.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list applications of job %d: %w", job.ID, err)
	}

	tasks := make([]ApplicationTask, 0, len(refs))
	for _, ref := range refs {
		if !Screenable(ref.Status, task.Rescreen) {
			continue
		}
		tasks = append(tasks, ApplicationTask{
			RunID:         task.RunID,
			JobID:         job.ID,
			ApplicationID: ref.ID,
			Rescreen:      task.Rescreen,
		})
	}
	summary.Applications = len(tasks)

	log.Info("screening job",
		zap.Int("applications", len(refs)),
		zap.Int("screenable", len(tasks)),
		zap.Bool("local", local),
	)

	if len(tasks) == 0 {
		return summary, nil
	}

	if !local {
		if err := o.dispatcher.DispatchApplications(ctx, tasks); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("dispatch applications of job %d: %w", job.ID, err)
		}
		summary.Dispatched = len(tasks)
		return summary, nil
	}

	for _, res := range o.pool.Run(ctx, tasks, o.HandleApplicationTask) {
		if res.Err != nil {
			summary.Failures = append(summary.Failures, Failure{ApplicationID: res.Task.ApplicationID, Error: res.Err.Error()})
			continue
		}
		summary.Outcomes = append(summary.Outcomes, *res.Outcome)
	}

	log.Info("job screened",
		zap.Int("outcomes", len(summary.Outcomes)),
		zap.Int("failures", len(summary.Failures)),
	)
	return summary, nil
}

// HandleApplicationTask scores one application and persists the breakdown,
// rationale and new status together. Missing entities and concurrent status
// changes are skipped, not failed. Embedding and store errors are returned
// for the caller to retry.
func (o *Orchestrator) HandleApplicationTask(ctx context.Context, task ApplicationTask) (*Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "ScreenApplication", trace.WithAttributes(
		telemetry.String(logger.FieldRunID, task.RunID),
		telemetry.Int64(logger.FieldJobID, task.JobID),
		telemetry.Int64(logger.FieldApplicationID, task.ApplicationID),
	))
	defer span.End()

	log := logger.WithScreeningFields(o.logger, task.RunID, task.JobID, task.ApplicationID)
	outcome := &Outcome{ApplicationID: task.ApplicationID}

	skip := func(reason string, err error) (*Outcome, error) {
		log.Warn("skipping application", zap.String("reason", reason), zap.Error(err))
		metrics.ApplicationsScreenedTotal.WithLabelValues("skipped").Inc()
		outcome.Skipped = reason
		return outcome, nil
	}
	fail := func(stage string, err error) (*Outcome, error) {
		metrics.ScreeningFailuresTotal.WithLabelValues(stage).Inc()
		span.SetStatus(codes.Error, err.Error())
		log.Error("application screening failed", zap.String(logger.FieldStage, stage), zap.Error(err))
		return nil, err
	}

	app, err := o.store.GetApplication(ctx, task.ApplicationID)
	if err != nil {
		if screenerrors.Is(err, screenerrors.ErrTypeNotFound) {
			return skip("application not found", err)
		}
		return fail("load", fmt.Errorf("load application %d: %w", task.ApplicationID, err))
	}
	if task.JobID != 0 && app.JobID != task.JobID {
		return skip("application belongs to another job", nil)
	}
	if !Screenable(app.Status, task.Rescreen) {
		return skip("status "+string(app.Status)+" is not screenable", nil)
	}

	job, err := o.store.GetJob(ctx, app.JobID)
	if err != nil {
		if screenerrors.Is(err, screenerrors.ErrTypeNotFound) {
			return skip("job not found", err)
		}
		return fail("load", fmt.Errorf("load job %d: %w", app.JobID, err))
	}

	jobVec, err := o.ensureJobEmbedding(ctx, job, false)
	if err != nil {
		return fail("job_embedding", fmt.Errorf("embed job %d: %w", job.ID, err))
	}
	appVec, err := o.ensureApplicationEmbedding(ctx, app, false)
	if err != nil {
		return fail("application_embedding", fmt.Errorf("embed application %d: %w", app.ID, err))
	}

	similarity := embedding.Cosine(jobVec, appVec)
	coverage := o.matcher.Coverage(ctx, job.RequiredSkills, app.Skills)
	experience := scoring.ExperienceFit(float64(job.MinimumExperienceYears), app.ExperienceYears())
	result := o.scorer.Score(similarity, coverage.Score, experience)
	breakdown := breakdownFrom(result)

	rationale := o.summarize(ctx, RationaleInput{
		JobTitle:         job.Title,
		JobDescription:   job.Description,
		RequiredSkills:   job.RequiredSkills,
		CandidateProfile: ProfileText(app),
		Breakdown:        breakdown,
		MatchedSkills:    coverage.Matched(),
		MissingSkills:    coverage.Missing,
	})

	status := outcomeStatus(result.Shortlisted)
	if !IsTransitionAllowed(app.Status, status) {
		return skip(fmt.Sprintf("transition %s -> %s not allowed", app.Status, status), nil)
	}

	screenedAt := o.now().UTC()
	err = o.store.SaveScreening(ctx, ScreeningRecord{
		ApplicationID: app.ID,
		Expected:      app.Status,
		Status:        status,
		Breakdown:     breakdown,
		Rationale:     rationale,
		ScreenedAt:    screenedAt,
	})
	if err != nil {
		switch {
		case screenerrors.Is(err, screenerrors.ErrTypeConflict):
			return skip("status changed during screening", err)
		case screenerrors.Is(err, screenerrors.ErrTypeNotFound):
			return skip("application not found", err)
		}
		return fail("save", fmt.Errorf("save screening of application %d: %w", app.ID, err))
	}

	metrics.ApplicationsScreenedTotal.WithLabelValues(string(status)).Inc()
	metrics.FinalScore.Observe(breakdown.FinalScore)
	log.Info("application screened",
		zap.String("status", string(status)),
		zap.Float64("final_score", breakdown.FinalScore),
		zap.Float64("similarity", breakdown.Similarity),
		zap.Float64("skill_coverage", breakdown.SkillCoverage),
		zap.Float64("experience", breakdown.ExperienceScore),
		zap.String("rationale", string(rationale.Kind)),
	)

	o.publish(ctx, log, ScreenedEvent{
		RunID:         task.RunID,
		JobID:         app.JobID,
		ApplicationID: app.ID,
		Status:        status,
		FinalScore:    breakdown.FinalScore,
		RationaleKind: string(rationale.Kind),
		ScreenedAt:    screenedAt,
	})

	outcome.Status = status
	outcome.Breakdown = &breakdown
	outcome.RationaleKind = rationale.Kind
	return outcome, nil
}

func (o *Orchestrator) summarize(ctx context.Context, in RationaleInput) Rationale {
	if o.summarizer == nil {
		return PlaceholderRationale(ReasonSummarizerUnavailable, in.Breakdown)
	}
	return o.summarizer.Summarize(ctx, in)
}

func (o *Orchestrator) publish(ctx context.Context, log *zap.Logger, ev ScreenedEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishScreened(ctx, ev); err != nil {
		log.Warn("failed to publish screened event", zap.Error(err))
	}
}
