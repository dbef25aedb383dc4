package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/homesteadops/homestead/pkg/telemetry"
)

// memStore is an in-memory StateStore for tests.
type memStore struct {
	mu          sync.Mutex
	servers     map[string]*Server
	deployments map[string]*Deployment
	jobs        map[string]*Job
	logs        map[string][]LogEntry
	nextSeq     int64

	failPutJob bool
}

func newMemStore() *memStore {
	return &memStore{
		servers:     make(map[string]*Server),
		deployments: make(map[string]*Deployment),
		jobs:        make(map[string]*Job),
		logs:        make(map[string][]LogEntry),
	}
}

func (s *memStore) GetServer(_ context.Context, name string) (*Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	server, ok := s.servers[name]
	if !ok {
		return nil, NewNotFoundError("server", name)
	}
	copied := *server
	return &copied, nil
}

func (s *memStore) PutServer(_ context.Context, server *Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *server
	s.servers[server.Name] = &copied
	return nil
}

func (s *memStore) DeleteServer(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[name]; !ok {
		return NewNotFoundError("server", name)
	}
	delete(s.servers, name)
	return nil
}

func (s *memStore) ListServers(_ context.Context) ([]*Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Server, 0, len(s.servers))
	for _, server := range s.servers {
		copied := *server
		out = append(out, &copied)
	}
	return out, nil
}

func depKey(serverName, appID string) string { return serverName + "/" + appID }

func (s *memStore) GetDeployment(_ context.Context, serverName, appID string) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.deployments[depKey(serverName, appID)]
	if !ok {
		return nil, NewNotFoundError("deployment", depKey(serverName, appID))
	}
	copied := *dep
	return &copied, nil
}

func (s *memStore) PutDeployment(_ context.Context, dep *Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *dep
	s.deployments[depKey(dep.ServerName, dep.AppID)] = &copied
	return nil
}

func (s *memStore) ListDeployments(_ context.Context, serverName string) ([]*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Deployment
	for _, dep := range s.deployments {
		if dep.ServerName == serverName {
			copied := *dep
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, NewNotFoundError("job", id)
	}
	copied := *job
	return &copied, nil
}

func (s *memStore) PutJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPutJob {
		return errors.New("simulated store failure")
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memStore) AppendJobLog(_ context.Context, jobID string, entry *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	entry.Seq = s.nextSeq
	s.logs[jobID] = append(s.logs[jobID], *entry)
	return nil
}

func (s *memStore) GetJobLogs(_ context.Context, jobID string) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.logs[jobID]))
	copy(out, s.logs[jobID])
	return out, nil
}

func (s *memStore) ListJobs(_ context.Context, filter JobFilter) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Target != "" && job.Target != filter.Target {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		copied := *job
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memStore) DeleteJobsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.EndedAt != nil && job.EndedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.logs, id)
			removed++
		}
	}
	return removed, nil
}

// fakeExecutor runs a configurable function for one job kind.
type fakeExecutor struct {
	kind JobKind
	fn   func(ctx context.Context, job *Job, report StepReporter) ([]byte, error)
}

func (e *fakeExecutor) Kinds() []JobKind { return []JobKind{e.kind} }

func (e *fakeExecutor) Execute(ctx context.Context, job *Job, report StepReporter) ([]byte, error) {
	return e.fn(ctx, job, report)
}

func newTestManager(t *testing.T, cfg ManagerConfig, store StateStore, executors ...Executor) *Manager {
	t.Helper()
	m := NewManager(cfg, store, telemetry.Nop(), nil, nil, executors...)
	t.Cleanup(m.Close)
	return m
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(_ context.Context, _ *Job, report StepReporter) ([]byte, error) {
			report.Step("allocating", "starting allocation")
			return []byte(`{"ok":true}`), nil
		},
	}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id")
	}

	job, err := m.Await(ctx, jobID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if job.Status != JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if string(job.Result) != `{"ok":true}` {
		t.Fatalf("unexpected result: %s", job.Result)
	}
	if job.StartedAt == nil || job.EndedAt == nil {
		t.Fatal("expected start and end timestamps")
	}
	if job.EndedAt.Before(*job.StartedAt) {
		t.Fatal("ended before started")
	}
}

func TestSubmitValidation(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{kind: JobKindServerSetup, fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
		return nil, nil
	}}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	if _, err := m.Submit(ctx, JobKindServerSetup, "", nil); !IsValidation(err) {
		t.Fatalf("expected validation error for empty target, got %v", err)
	}
	if _, err := m.Submit(ctx, JobKind("bogus"), "web1", nil); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown kind, got %v", err)
	}
	if len(store.jobs) != 0 {
		t.Fatalf("validation failures must not persist jobs, found %d", len(store.jobs))
	}
}

func TestBusyServerExclusion(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
			<-release
			return nil, nil
		},
	}
	m := newTestManager(t, ManagerConfig{Workers: 2}, store, exec)

	ctx := context.Background()
	first, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	_, err = m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if !IsResourceBusy(err) {
		t.Fatalf("expected resource busy, got %v", err)
	}
	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatal("expected a typed error")
	}
	if typed.Details["active_job_id"] != first {
		t.Fatalf("busy error should name the active job, got %v", typed.Details)
	}

	// A different server is unaffected.
	if _, err := m.Submit(ctx, JobKindServerSetup, "web2", nil); err != nil {
		t.Fatalf("second server submit failed: %v", err)
	}

	close(release)
	if _, err := m.Await(ctx, first); err != nil {
		t.Fatalf("await failed: %v", err)
	}

	// Slot released after terminal state.
	if _, err := m.Submit(ctx, JobKindServerSetup, "web1", nil); err != nil {
		t.Fatalf("submit after completion failed: %v", err)
	}
}

func TestBusyServerExclusionUnderConcurrency(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
			<-release
			return nil, nil
		},
	}
	m := newTestManager(t, ManagerConfig{Workers: 4}, store, exec)
	defer close(release)

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Submit(context.Background(), JobKindServerSetup, "web1", nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var accepted, busy int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case IsResourceBusy(err):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("exactly one submission must win, got %d", accepted)
	}
	if busy != attempts-1 {
		t.Fatalf("expected %d busy rejections, got %d", attempts-1, busy)
	}
}

func TestCancelBeforeStart(t *testing.T) {
	store := newMemStore()
	blocker := make(chan struct{})
	var executed sync.Map
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(_ context.Context, job *Job, _ StepReporter) ([]byte, error) {
			executed.Store(job.ID, true)
			<-blocker
			return nil, nil
		},
	}
	// One worker so the second job stays queued behind the first.
	m := newTestManager(t, ManagerConfig{Workers: 1}, store, exec)
	defer close(blocker)

	ctx := context.Background()
	if _, err := m.Submit(ctx, JobKindServerSetup, "web1", nil); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	queuedID, err := m.Submit(ctx, JobKindServerSetup, "web2", nil)
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	accepted, err := m.Cancel(ctx, queuedID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !accepted {
		t.Fatal("cancel of a queued job must be accepted")
	}

	job, err := m.GetStatus(ctx, queuedID)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if job.Status != JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if !IsCancelled(job.Error) {
		t.Fatalf("expected a cancelled error, got %v", job.Error)
	}
	if _, ran := executed.Load(queuedID); ran {
		t.Fatal("cancelled-before-start job must never execute")
	}

	// The target slot is free again.
	if _, err := m.Submit(ctx, JobKindServerSetup, "web2", nil); err != nil {
		t.Fatalf("resubmit after cancel failed: %v", err)
	}
}

func TestCancelRunningJobIsCooperative(t *testing.T) {
	store := newMemStore()
	started := make(chan struct{})
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(ctx context.Context, _ *Job, report StepReporter) ([]byte, error) {
			close(started)
			for {
				if report.Cancelled() {
					return nil, NewCancelledError("cancelled at checkpoint")
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(5 * time.Millisecond):
				}
			}
		},
	}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started

	accepted, err := m.Cancel(ctx, jobID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !accepted {
		t.Fatal("cancel of a running job must be accepted")
	}

	job, err := m.Await(ctx, jobID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if job.Status != JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if job.CancellationRequested {
		t.Fatal("terminal job must not keep the cancellation flag")
	}
}

func TestCancelTerminalJobReturnsFalse(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{kind: JobKindServerSetup, fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
		return nil, nil
	}}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := m.Await(ctx, jobID); err != nil {
		t.Fatalf("await failed: %v", err)
	}

	accepted, err := m.Cancel(ctx, jobID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if accepted {
		t.Fatal("cancel of a terminal job must return false")
	}
}

func TestJobTimeout(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(ctx context.Context, _ *Job, _ StepReporter) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	m := newTestManager(t, ManagerConfig{JobTimeout: 30 * time.Millisecond}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	job, err := m.Await(ctx, jobID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if job.Status != JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !IsTimeout(job.Error) {
		t.Fatalf("expected timeout error, got %v", job.Error)
	}
}

func TestExecutorErrorBecomesTerminalError(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
			return nil, fmt.Errorf("provider exploded")
		},
	}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	job, err := m.Await(ctx, jobID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if job.Status != JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Code != ErrCodeExecution {
		t.Fatalf("expected execution error, got %v", job.Error)
	}
}

func TestExecutorPanicIsContained(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
			panic("boom")
		},
	}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	job, err := m.Await(ctx, jobID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if job.Status != JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
}

func TestJobLogIsOrdered(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(_ context.Context, _ *Job, report StepReporter) ([]byte, error) {
			report.Step("one", "first")
			report.Info("one", "detail")
			report.Step("two", "second")
			report.Warn("two", "careful")
			return nil, nil
		},
	}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := m.Await(ctx, jobID); err != nil {
		t.Fatalf("await failed: %v", err)
	}

	logs, err := m.GetLogs(ctx, jobID)
	if err != nil {
		t.Fatalf("get logs failed: %v", err)
	}
	if len(logs) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].Seq <= logs[i-1].Seq {
			t.Fatalf("log sequence not monotonic at %d: %d <= %d", i, logs[i].Seq, logs[i-1].Seq)
		}
	}
	if logs[0].Step != "one" || logs[2].Step != "two" {
		t.Fatalf("unexpected step order: %v", logs)
	}
	if logs[3].Level != "warning" {
		t.Fatalf("expected warning level, got %s", logs[3].Level)
	}
}

func TestGetLogsUnknownJob(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{kind: JobKindServerSetup, fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
		return nil, nil
	}}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	if _, err := m.GetLogs(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCleanupRemovesOldTerminalJobs(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{kind: JobKindServerSetup, fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
		return nil, nil
	}}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := m.Await(ctx, jobID); err != nil {
		t.Fatalf("await failed: %v", err)
	}

	// Age the record artificially.
	store.mu.Lock()
	old := time.Now().UTC().Add(-48 * time.Hour)
	store.jobs[jobID].EndedAt = &old
	store.mu.Unlock()

	removed, err := m.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := m.GetStatus(ctx, jobID); !IsNotFound(err) {
		t.Fatalf("expected not found after cleanup, got %v", err)
	}
}

func TestRecoverReenqueuesQueuedAndFailsOrphanedRunning(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	// Records left behind by an earlier process.
	queued := &Job{
		ID:        "queued-1",
		Kind:      JobKindServerSetup,
		Target:    "web1",
		Status:    JobStatusQueued,
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	startedAt := time.Now().UTC().Add(-30 * time.Second)
	orphaned := &Job{
		ID:        "running-1",
		Kind:      JobKindServerSetup,
		Target:    "web2",
		Status:    JobStatusRunning,
		CreatedAt: startedAt,
		StartedAt: &startedAt,
	}
	if err := store.PutJob(ctx, queued); err != nil {
		t.Fatalf("seed queued job: %v", err)
	}
	if err := store.PutJob(ctx, orphaned); err != nil {
		t.Fatalf("seed running job: %v", err)
	}

	var executed sync.Map
	exec := &fakeExecutor{
		kind: JobKindServerSetup,
		fn: func(_ context.Context, job *Job, _ StepReporter) ([]byte, error) {
			executed.Store(job.ID, true)
			return nil, nil
		},
	}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	if err := m.Recover(ctx); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	job, err := m.Await(ctx, "queued-1")
	if err != nil {
		t.Fatalf("await recovered job failed: %v", err)
	}
	if job.Status != JobStatusSucceeded {
		t.Fatalf("recovered job status = %s, want succeeded", job.Status)
	}
	if _, ran := executed.Load("queued-1"); !ran {
		t.Fatal("recovered queued job never executed")
	}

	job, err = m.GetStatus(ctx, "running-1")
	if err != nil {
		t.Fatalf("get orphaned job failed: %v", err)
	}
	if job.Status != JobStatusFailed {
		t.Fatalf("orphaned job status = %s, want failed", job.Status)
	}
	if job.Error == nil || job.Error.Code != ErrCodeExecution {
		t.Fatalf("orphaned job error = %v, want execution error", job.Error)
	}
	if job.EndedAt == nil {
		t.Fatal("orphaned job must carry an end timestamp")
	}
	if _, ran := executed.Load("running-1"); ran {
		t.Fatal("orphaned running job must not be re-executed")
	}

	// Both targets are free again.
	for _, target := range []string{"web1", "web2"} {
		if _, err := m.Submit(ctx, JobKindServerSetup, target, nil); err != nil {
			t.Fatalf("submit for %s after recovery failed: %v", target, err)
		}
	}
}

func TestCancelAfterCompletionLeavesTerminalRecord(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	exec := &fakeExecutor{kind: JobKindServerSetup, fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
		<-release
		return []byte(`{"ok":true}`), nil
	}}
	m := newTestManager(t, ManagerConfig{}, store, exec)

	ctx := context.Background()
	jobID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	m.mu.Lock()
	handle := m.active[jobID]
	m.mu.Unlock()
	if handle == nil {
		t.Fatal("expected an active handle")
	}

	close(release)
	if _, err := m.Await(ctx, jobID); err != nil {
		t.Fatalf("await failed: %v", err)
	}

	// Re-adding the handle mimics a cancel whose active-set lookup happened
	// just before completion removed the entry.
	m.mu.Lock()
	m.active[jobID] = handle
	m.mu.Unlock()

	accepted, err := m.Cancel(ctx, jobID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if accepted {
		t.Fatal("cancel after completion must return false")
	}

	job, err := m.GetStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if job.Status != JobStatusSucceeded {
		t.Fatalf("terminal status changed to %s", job.Status)
	}
	if job.CancellationRequested {
		t.Fatal("cancellation flag persisted onto a terminal record")
	}

	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	store := newMemStore()
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	exec := &fakeExecutor{kind: JobKindServerSetup, fn: func(_ context.Context, _ *Job, _ StepReporter) ([]byte, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}}
	m := newTestManager(t, ManagerConfig{Workers: 1, QueueSize: 1}, store, exec)

	ctx := context.Background()
	firstID, err := m.Submit(ctx, JobKindServerSetup, "web1", nil)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	// Wait until the worker holds the first job so the next one fills the
	// queue deterministically.
	<-started

	secondID, err := m.Submit(ctx, JobKindServerSetup, "web2", nil)
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	_, err = m.Submit(ctx, JobKindServerSetup, "web3", nil)
	if !IsResourceBusy(err) {
		t.Fatalf("expected a busy error for a full queue, got %v", err)
	}

	// The rejection resolves the persisted record terminally and frees the
	// target slot.
	rejected, err := store.ListJobs(ctx, JobFilter{Target: "web3"})
	if err != nil {
		t.Fatalf("list jobs failed: %v", err)
	}
	if len(rejected) != 1 {
		t.Fatalf("expected 1 rejected record, got %d", len(rejected))
	}
	if rejected[0].Status != JobStatusFailed {
		t.Fatalf("rejected job status = %s, want failed", rejected[0].Status)
	}
	if rejected[0].Error == nil || rejected[0].Error.Code != ErrCodeResourceBusy {
		t.Fatalf("rejected job error = %v, want resource busy", rejected[0].Error)
	}
	m.mu.Lock()
	_, taken := m.busy["web3"]
	m.mu.Unlock()
	if taken {
		t.Fatal("rejected submission must release the busy slot")
	}

	close(release)
	for _, id := range []string{firstID, secondID} {
		job, err := m.Await(ctx, id)
		if err != nil {
			t.Fatalf("await failed: %v", err)
		}
		if job.Status != JobStatusSucceeded {
			t.Fatalf("job %s status = %s, want succeeded", id, job.Status)
		}
	}

	// With the queue drained the same target is accepted again.
	retryID, err := m.Submit(ctx, JobKindServerSetup, "web3", nil)
	if err != nil {
		t.Fatalf("resubmit after drain failed: %v", err)
	}
	if job, err := m.Await(ctx, retryID); err != nil || job.Status != JobStatusSucceeded {
		t.Fatalf("retry did not succeed: %v %v", job, err)
	}
}
