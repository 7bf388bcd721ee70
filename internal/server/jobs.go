package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dygy/piano-grep/internal/cache"
	"github.com/dygy/piano-grep/internal/config"
	"github.com/dygy/piano-grep/internal/pipeline"
	"github.com/dygy/piano-grep/internal/progress"
)

// Job status constants
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
)

// Job represents a processing job
type Job struct {
	ID        string
	Filename  string
	InputPath string
	URL       string
	WorkDir   string
	Options   pipeline.Config
	CreatedAt time.Time

	mu      sync.Mutex
	status  JobStatus
	stage   string
	result  *pipeline.Result
	err     string
	events  []progress.Event
	changed chan struct{}
	done    chan struct{}
}

func newJob(id, workDir string) *Job {
	return &Job{
		ID:        id,
		WorkDir:   workDir,
		CreatedAt: time.Now(),
		status:    StatusPending,
		stage:     "queued",
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// record appends a progress event and wakes every waiting stream
func (j *Job) record(e progress.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if e.Kind == progress.EventStage {
		j.stage = e.Stage
	}
	j.events = append(j.events, e)
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) finish(res *pipeline.Result, err error) {
	j.mu.Lock()
	if err != nil {
		j.status = StatusFailed
		j.err = err.Error()
	} else {
		j.status = StatusComplete
		j.result = res
	}
	j.stage = "finished"
	close(j.changed)
	j.changed = make(chan struct{})
	j.mu.Unlock()
	close(j.done)
}

// Done is closed once the job completed or failed
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Snapshot is a consistent copy of the mutable job state
type Snapshot struct {
	Status JobStatus
	Stage  string
	Error  string
	Result *pipeline.Result
}

// Snapshot returns the current state
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{Status: j.status, Stage: j.stage, Error: j.err, Result: j.result}
}

// eventsSince returns the events after the first n, a channel closed on the
// next change and whether the job has finished
func (j *Job) eventsSince(n int) ([]progress.Event, <-chan struct{}, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var evs []progress.Event
	if n < len(j.events) {
		evs = append(evs, j.events[n:]...)
	}
	finished := j.status == StatusComplete || j.status == StatusFailed
	return evs, j.changed, finished
}

// JobManager manages processing jobs
type JobManager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	settings *config.Config
	cache    *cache.ResultCache
	opts     []pipeline.Option
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a new job manager. Job directories and the result
// cache live under the configured results dir.
func NewJobManager(settings *config.Config, logger *slog.Logger, opts ...pipeline.Option) (*JobManager, error) {
	dir := settings.Server.ResultsDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	rc, err := cache.New(filepath.Join(dir, ".cache"), settings.Analysis.ScriptsDir, pipeline.Fingerprint(settings))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:     make(map[string]*Job),
		settings: settings,
		cache:    rc,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Create registers a new job with its own directory
func (m *JobManager) Create() (*Job, error) {
	id := uuid.New().String()
	workDir := filepath.Join(m.settings.Server.ResultsDir, id)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, err
	}

	job := newJob(id, workDir)

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()
	return job, nil
}

// Get retrieves a job by ID
func (m *JobManager) Get(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Start runs the job in the background
func (m *JobManager) Start(job *Job) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Process(m.ctx, job)
	}()
}

// Process runs the transcription pipeline for a job and schedules its
// removal after the configured TTL
func (m *JobManager) Process(ctx context.Context, job *Job) {
	job.setStatus(StatusProcessing)
	log := m.logger.With(slog.String("job", job.ID))
	log.Info("job started", slog.String("input", job.Filename))
	start := time.Now()

	reporter := progress.NewReporter(nil, false).OnEvent(job.record)
	opts := append([]pipeline.Option{
		pipeline.WithCache(m.cache),
		pipeline.WithReporter(reporter),
	}, m.opts...)
	orch := pipeline.NewOrchestrator(m.settings, nil, false, opts...)

	cfg := job.Options
	cfg.InputPath = job.InputPath
	cfg.InputURL = job.URL
	cfg.JobID = job.ID
	cfg.OutputDir = job.WorkDir

	res, err := orch.Execute(ctx, cfg)
	if err != nil {
		reporter.Error(err)
		log.Error("job failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(start)))
	} else {
		log.Info("job complete",
			slog.Int("right_notes", len(res.Arrangement.Right)),
			slog.Int("left_notes", len(res.Arrangement.Left)),
			slog.Bool("cached", res.FromCache),
			slog.Duration("elapsed", time.Since(start)))
	}
	job.finish(res, err)

	if ttl := m.settings.Server.JobTTL; ttl > 0 {
		time.AfterFunc(ttl, func() { m.remove(job) })
	}
}

func (m *JobManager) remove(job *Job) {
	m.mu.Lock()
	delete(m.jobs, job.ID)
	m.mu.Unlock()
	if err := os.RemoveAll(job.WorkDir); err != nil {
		m.logger.Warn("job cleanup failed", slog.String("job", job.ID), slog.Any("error", err))
	}
}

// Shutdown cancels running jobs and waits for them to return
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
