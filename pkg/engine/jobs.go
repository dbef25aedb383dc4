package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/homesteadops/homestead/pkg/telemetry"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 64
	defaultJobTimeout = 30 * time.Minute
)

// ManagerConfig configures the job manager.
type ManagerConfig struct {
	// Workers is the number of concurrent job workers.
	Workers int

	// QueueSize is the dispatch queue capacity.
	QueueSize int

	// JobTimeout bounds the execution of a single job. A job exceeding it
	// fails with a timeout error instead of hanging.
	JobTimeout time.Duration
}

// Manager owns the job lifecycle: it accepts job requests, persists job
// records, schedules asynchronous execution via the matching executor,
// tracks status and cancellation, and reaps old terminal records.
type Manager struct {
	cfg       ManagerConfig
	store     StateStore
	executors map[JobKind]Executor
	log       *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer

	// mu guards busy and active. The busy-server exclusion is checked and
	// set under this mutex at submission time, not at dispatch, so two
	// submissions for the same idle server cannot both pass the check.
	mu     sync.Mutex
	busy   map[string]string // target -> job id
	active map[string]*jobHandle

	queue  chan *jobHandle
	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// jobHandle is the in-memory execution state for a non-terminal job.
type jobHandle struct {
	job *Job

	// mu guards the lifecycle flags and serializes writes to job between
	// Cancel and finish. A cancel that fetched the handle just before the
	// job resolves must observe finished instead of mutating a terminal
	// record.
	mu              sync.Mutex
	started         bool
	finished        bool
	cancelRequested bool

	done chan struct{}
}

func (h *jobHandle) cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelRequested
}

func (h *jobHandle) markStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelRequested {
		return false
	}
	h.started = true
	return true
}

// NewManager creates a job manager backed by the given store and executors.
// metrics and tracer may be nil.
func NewManager(cfg ManagerConfig, store StateStore, log *telemetry.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer, executors ...Executor) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		executors: make(map[JobKind]Executor),
		log:       log.Component("jobs"),
		metrics:   metrics,
		tracer:    tracer,
		busy:      make(map[string]string),
		active:    make(map[string]*jobHandle),
		queue:     make(chan *jobHandle, cfg.QueueSize),
		stopCh:    make(chan struct{}),
	}

	for _, ex := range executors {
		for _, kind := range ex.Kinds() {
			m.executors[kind] = ex
		}
	}

	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	return m
}

// Close stops accepting work and waits for in-flight jobs to finish. Jobs
// still queued stay persisted; Recover re-enqueues them on the next start.
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// Recover reconciles persisted job records with a fresh process: jobs left
// queued by an earlier shutdown are re-enqueued for execution, and jobs
// persisted as running are orphans of a crash and fail terminally. Call it
// once after construction, before the first submission.
func (m *Manager) Recover(ctx context.Context) error {
	running, err := m.store.ListJobs(ctx, JobFilter{Status: JobStatusRunning})
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}
	for _, job := range running {
		now := time.Now().UTC()
		job.Status = JobStatusFailed
		job.EndedAt = &now
		job.CancellationRequested = false
		job.Error = NewExecutionError("job interrupted by process restart", nil).WithTarget(job.Target)
		if err := m.store.PutJob(ctx, job); err != nil {
			return fmt.Errorf("failed to fail orphaned job %s: %w", job.ID, err)
		}
		m.log.WithJob(job.ID).Warn().
			Str("kind", string(job.Kind)).
			Msg("failed job orphaned by restart")
	}

	queued, err := m.store.ListJobs(ctx, JobFilter{Status: JobStatusQueued})
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	// Oldest first, so recovered jobs keep their original relative order.
	sort.Slice(queued, func(i, j int) bool {
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	for _, job := range queued {
		handle := &jobHandle{job: job, done: make(chan struct{})}

		if _, ok := m.executors[job.Kind]; !ok {
			m.finish(ctx, handle, nil, NewValidationError(fmt.Sprintf("no executor for job kind %q", job.Kind)))
			continue
		}

		m.mu.Lock()
		if _, taken := m.busy[job.Target]; taken {
			m.mu.Unlock()
			m.finish(ctx, handle, nil,
				NewError(ErrCodeResourceBusy, "server already has a recovered job", nil).WithTarget(job.Target))
			continue
		}
		m.busy[job.Target] = job.ID
		m.active[job.ID] = handle
		m.mu.Unlock()

		select {
		case m.queue <- handle:
			m.log.WithJob(job.ID).Info().
				Str("kind", string(job.Kind)).
				Msg("re-enqueued queued job after restart")
		default:
			m.finish(ctx, handle, nil, m.queueFullError(job.Target))
		}
	}
	return nil
}

// Submit validates the kind, persists a queued job record, atomically claims
// the busy-server slot for the target, and schedules asynchronous dispatch.
// It returns the job id immediately and never blocks on execution; when the
// dispatch queue is full the job is rejected with a busy error instead.
func (m *Manager) Submit(ctx context.Context, kind JobKind, target string, payload []byte) (string, error) {
	if target == "" {
		return "", NewValidationError("job target is required")
	}
	if _, ok := m.executors[kind]; !ok {
		return "", NewValidationError(fmt.Sprintf("unknown job kind %q", kind))
	}

	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Target:    target,
		Status:    JobStatusQueued,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	handle := &jobHandle{job: job, done: make(chan struct{})}

	m.mu.Lock()
	if holder, taken := m.busy[target]; taken {
		m.mu.Unlock()
		return "", NewError(ErrCodeResourceBusy, "server already has an active job", nil).
			WithTarget(target).
			WithDetail("active_job_id", holder)
	}
	m.busy[target] = job.ID
	m.active[job.ID] = handle
	m.mu.Unlock()

	if err := m.store.PutJob(ctx, job); err != nil {
		m.release(handle)
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	select {
	case m.queue <- handle:
	case <-m.stopCh:
		m.release(handle)
		return "", NewCancelledError("job manager is shutting down").WithTarget(target)
	default:
		// Queue saturated: the persisted record resolves terminally
		// instead of lingering as queued.
		queueErr := m.queueFullError(target)
		m.finish(ctx, handle, nil, queueErr)
		return "", queueErr
	}

	m.log.Info().
		Str("job_id", job.ID).
		Str("kind", string(kind)).
		Str("target", target).
		Msg("job submitted")
	if m.metrics != nil {
		m.metrics.JobSubmitted(string(kind))
	}

	return job.ID, nil
}

// GetStatus returns the job record for the given id.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// GetLogs returns the ordered log entries for a job. The log grows while the
// job runs and is safe to poll repeatedly.
func (m *Manager) GetLogs(ctx context.Context, jobID string) ([]LogEntry, error) {
	if _, err := m.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return m.store.GetJobLogs(ctx, jobID)
}

// Cancel requests cancellation of a job. A job that has not started
// transitions directly to cancelled with no side effects; a running job keeps
// running until the executor observes the flag at its next checkpoint.
// Returns false if the job is already terminal.
func (m *Manager) Cancel(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	handle, ok := m.active[jobID]
	m.mu.Unlock()

	if !ok {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		// Not in the active set means the job already resolved.
		_ = job
		return false, nil
	}

	handle.mu.Lock()
	if handle.finished {
		// The job resolved between the active-set lookup and here.
		handle.mu.Unlock()
		return false, nil
	}
	handle.cancelRequested = true

	if handle.started {
		// Cooperative: persist the flag so pollers see it, then wait for
		// the executor to honor it between steps. The handle lock keeps
		// this write ordered against the terminal persist in finish.
		handle.job.CancellationRequested = true
		err := m.store.PutJob(ctx, handle.job)
		handle.mu.Unlock()
		if err != nil {
			return true, fmt.Errorf("failed to persist cancellation flag: %w", err)
		}
		m.log.WithJob(jobID).Info().Msg("cancellation requested")
		return true, nil
	}
	handle.mu.Unlock()

	// Never started: resolve to cancelled immediately. The worker skips the
	// handle when it reaches it.
	m.finish(ctx, handle, nil, NewCancelledError("cancelled before start"))
	return true, nil
}

// Cleanup removes terminal job records older than the threshold. It does not
// touch the resources those jobs created.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	removed, err := m.store.DeleteJobsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	if removed > 0 {
		m.log.Info().Int64("removed", removed).Msg("cleaned up terminal jobs")
	}
	return removed, nil
}

// Await blocks until the job reaches a terminal state and returns its final
// record.
func (m *Manager) Await(ctx context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	handle, ok := m.active[jobID]
	m.mu.Unlock()

	if ok {
		select {
		case <-handle.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.store.GetJob(ctx, jobID)
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case handle := <-m.queue:
			m.run(handle)
		case <-m.stopCh:
			return
		}
	}
}

// run executes a single job. Executor errors and panics become the job's
// terminal error and are never propagated as a process fault.
func (m *Manager) run(handle *jobHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)
	defer cancel()

	job := handle.job
	if !handle.markStarted() {
		// Cancel raced with dispatch; Cancel already resolved the job.
		return
	}

	var span trace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.StartJobSpan(ctx, job.ID, string(job.Kind), job.Target)
		defer span.End()
	}

	now := time.Now().UTC()
	handle.mu.Lock()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	err := m.store.PutJob(ctx, job)
	handle.mu.Unlock()
	if err != nil {
		m.finish(ctx, handle, nil, NewExecutionError("failed to persist running state", err))
		return
	}

	if m.metrics != nil {
		m.metrics.JobStarted()
	}
	m.log.WithJob(job.ID).Info().Str("kind", string(job.Kind)).Msg("job started")

	executor := m.executors[job.Kind]
	reporter := &stepReporter{manager: m, handle: handle}

	var result []byte
	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = NewExecutionError(fmt.Sprintf("executor panic: %v", r), nil)
			}
		}()
		result, execErr = executor.Execute(ctx, job, reporter)
	}()

	if execErr != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			execErr = NewTimeoutError("job exceeded its deadline", execErr).WithTarget(job.Target)
		case handle.cancelled() && IsCancelled(execErr):
			// Executor honored the cancellation flag at a checkpoint.
		default:
			if CodeOf(execErr) == ErrCodeExecution {
				execErr = NewExecutionError("job execution failed", execErr).WithTarget(job.Target)
			}
		}
	}

	if span != nil {
		telemetry.RecordError(span, execErr)
	}
	m.finish(ctx, handle, result, execErr)
}

// finish records the terminal state, releases the busy-server slot, and
// signals waiters. Partial progress already committed to the state store is
// retained; recovery is the job of a subsequent corrective job.
func (m *Manager) finish(ctx context.Context, handle *jobHandle, result []byte, execErr error) {
	handle.mu.Lock()
	if handle.finished {
		handle.mu.Unlock()
		return
	}
	handle.finished = true

	job := handle.job
	now := time.Now().UTC()
	job.EndedAt = &now
	job.Result = result

	switch {
	case execErr == nil:
		job.Status = JobStatusSucceeded
	case IsCancelled(execErr):
		job.Status = JobStatusCancelled
		job.Error = asError(execErr)
	default:
		job.Status = JobStatusFailed
		job.Error = asError(execErr)
	}
	job.CancellationRequested = false

	if err := m.store.PutJob(ctx, job); err != nil {
		m.log.WithJob(job.ID).Error().Err(err).Msg("failed to persist terminal job state")
	}
	handle.mu.Unlock()

	m.release(handle)
	close(handle.done)

	if m.metrics != nil {
		m.metrics.JobCompleted(string(job.Kind), string(job.Status), now.Sub(job.CreatedAt))
		m.refreshResourceGauges(ctx)
	}
	m.log.WithJob(job.ID).Info().
		Str("status", string(job.Status)).
		Msg("job finished")
}

// refreshResourceGauges recomputes the server and deployment gauges from the
// store. Jobs are the only writers of those records, so terminal transitions
// are the natural refresh point.
func (m *Manager) refreshResourceGauges(ctx context.Context) {
	if !m.metrics.Enabled() {
		return
	}
	servers, err := m.store.ListServers(ctx)
	if err != nil {
		return
	}
	managed := 0
	deployments := 0
	for _, server := range servers {
		if server.Status != ServerStatusDeleted {
			managed++
		}
		deps, err := m.store.ListDeployments(ctx, server.Name)
		if err != nil {
			continue
		}
		for _, dep := range deps {
			if dep.Status == DeploymentStatusActive {
				deployments++
			}
		}
	}
	m.metrics.SetServersManaged(managed)
	m.metrics.SetDeploymentsActive(deployments)
}

func (m *Manager) release(handle *jobHandle) {
	m.mu.Lock()
	if m.busy[handle.job.Target] == handle.job.ID {
		delete(m.busy, handle.job.Target)
	}
	delete(m.active, handle.job.ID)
	m.mu.Unlock()
}

func (m *Manager) queueFullError(target string) *Error {
	return NewError(ErrCodeResourceBusy, "job queue is full", nil).
		WithTarget(target).
		WithDetail("queue_capacity", strconv.Itoa(m.cfg.QueueSize))
}

func asError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewExecutionError(err.Error(), nil)
}

// stepReporter appends checkpoint entries to the job log and exposes the
// cooperative cancellation flag to executors.
type stepReporter struct {
	manager *Manager
	handle  *jobHandle
}

func (r *stepReporter) append(level, step, message string) {
	entry := &LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Step:      step,
		Message:   message,
	}
	if err := r.manager.store.AppendJobLog(context.Background(), r.handle.job.ID, entry); err != nil {
		r.manager.log.Error().Err(err).Str("job_id", r.handle.job.ID).Msg("failed to append job log")
	}
}

// Step checkpoints the start of a named step before it is attempted.
func (r *stepReporter) Step(step, message string) {
	r.append("info", step, message)
	r.manager.log.Debug().
		Str("job_id", r.handle.job.ID).
		Str("step", step).
		Msg(message)
}

func (r *stepReporter) Info(step, message string) {
	r.append("info", step, message)
}

func (r *stepReporter) Warn(step, message string) {
	r.append("warning", step, message)
}

func (r *stepReporter) Cancelled() bool {
	return r.handle.cancelled()
}
