package screening

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	screenerrors "github.com/spigell/screener/internal/errors"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[int64]*JobPosting
	apps map[int64]*Application
	// dangling ids are listed for a job but have no record.
	dangling map[int64][]int64

	jobEmbeds int
	appEmbeds int
	saved     []ScreeningRecord

	// beforeSave runs inside SaveScreening before the status check.
	beforeSave func(app *Application)
	saveErr    error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[int64]*JobPosting),
		apps:     make(map[int64]*Application),
		dangling: make(map[int64][]int64),
	}
}

func (s *memStore) addJob(j *JobPosting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

func (s *memStore) addApp(a *Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Status == "" {
		a.Status = StatusPending
	}
	s.apps[a.ID] = a
}

func (s *memStore) app(id int64) Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.apps[id]
}

func (s *memStore) GetJob(_ context.Context, id int64) (*JobPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, screenerrors.NotFound(fmt.Sprintf("job %d not found", id), nil)
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) GetApplication(_ context.Context, id int64) (*Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return nil, screenerrors.NotFound(fmt.Sprintf("application %d not found", id), nil)
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) ListApplications(_ context.Context, jobID int64) ([]ApplicationRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []ApplicationRef
	for _, a := range s.apps {
		if a.JobID == jobID {
			refs = append(refs, ApplicationRef{ID: a.ID, Status: a.Status})
		}
	}
	for _, id := range s.dangling[jobID] {
		refs = append(refs, ApplicationRef{ID: id, Status: StatusPending})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (s *memStore) ListDueJobs(_ context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, j := range s.jobs {
		if !j.DeadlinePassed(now) {
			continue
		}
		for _, a := range s.apps {
			if a.JobID == j.ID && a.Status == StatusPending {
				ids = append(ids, j.ID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids, nil
}

func (s *memStore) SetJobEmbedding(_ context.Context, id int64, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return screenerrors.NotFound("job not found", nil)
	}
	j.DescriptionEmbedding = vec
	s.jobEmbeds++
	return nil
}

func (s *memStore) SetApplicationEmbedding(_ context.Context, id int64, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return screenerrors.NotFound("application not found", nil)
	}
	a.ProfileEmbedding = vec
	s.appEmbeds++
	return nil
}

func (s *memStore) SaveScreening(_ context.Context, rec ScreeningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	a, ok := s.apps[rec.ApplicationID]
	if !ok {
		return screenerrors.NotFound("application not found", nil)
	}
	if s.beforeSave != nil {
		s.beforeSave(a)
	}
	if a.Status != rec.Expected {
		return screenerrors.Conflict("status changed", nil)
	}
	b, r, at := rec.Breakdown, rec.Rationale, rec.ScreenedAt
	a.Status = rec.Status
	a.Breakdown = &b
	a.Rationale = &r
	a.ScreenedAt = &at
	s.saved = append(s.saved, rec)
	return nil
}

// textProvider returns a fixed vector per text and can fail for selected
// texts.
type textProvider struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	fail     map[string]error
	calls    map[string]int
}

func newTextProvider(fallback []float32) *textProvider {
	return &textProvider{
		vectors:  make(map[string][]float32),
		fallback: fallback,
		fail:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (p *textProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[text]++
	if err := p.fail[text]; err != nil {
		return nil, err
	}
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return p.fallback, nil
}

func (p *textProvider) Model() string { return "test-embed" }

func (p *textProvider) callCount(text string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[text]
}

type stubSummarizer struct {
	mu     sync.Mutex
	inputs []RationaleInput
}

func (s *stubSummarizer) Summarize(_ context.Context, in RationaleInput) Rationale {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return Rationale{
		Strengths:      []string{"fits"},
		ExperienceFit:  "ok",
		ScoreAlignment: in.Breakdown.String(),
		Kind:           RationaleGenerated,
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []JobTask
	apps []ApplicationTask
	err  error
}

func (d *recordingDispatcher) DispatchJob(_ context.Context, task JobTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, task)
	return nil
}

func (d *recordingDispatcher) DispatchApplications(_ context.Context, tasks []ApplicationTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.apps = append(d.apps, tasks...)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []ScreenedEvent
	err    error
}

func (r *recordingEvents) PublishScreened(_ context.Context, ev ScreenedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}
