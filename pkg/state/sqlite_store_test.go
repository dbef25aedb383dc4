package state

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/homesteadops/homestead/pkg/engine"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "homestead.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestServerRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	server := &engine.Server{
		Name:       "web1",
		Provider:   "dev",
		Region:     "fra1",
		Size:       "small",
		Status:     engine.ServerStatusActive,
		InstanceID: "i-1",
		IPAddress:  "10.0.0.5",
		DNS:        &engine.DNSConfig{Zone: "example.com", Subdomain: "home"},
		Apps:       []string{"postgres", "nextcloud"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.PutServer(ctx, server); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.GetServer(ctx, "web1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != engine.ServerStatusActive || got.InstanceID != "i-1" || got.IPAddress != "10.0.0.5" {
		t.Fatalf("server fields lost: %+v", got)
	}
	if got.DNS == nil || got.DNS.Zone != "example.com" || got.DNS.Subdomain != "home" {
		t.Fatalf("DNS configuration lost: %+v", got.DNS)
	}
	if len(got.Apps) != 2 || got.Apps[1] != "nextcloud" {
		t.Fatalf("app list lost: %v", got.Apps)
	}

	// Upsert replaces the record.
	server.Status = engine.ServerStatusDeleting
	if err := store.PutServer(ctx, server); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, _ = store.GetServer(ctx, "web1")
	if got.Status != engine.ServerStatusDeleting {
		t.Fatalf("upsert not applied: %s", got.Status)
	}
}

func TestServerWithoutDNS(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.PutServer(ctx, &engine.Server{Name: "bare", Status: engine.ServerStatusPending}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := store.GetServer(ctx, "bare")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.DNS != nil {
		t.Fatalf("expected nil DNS, got %+v", got.DNS)
	}
	if got.Apps == nil || len(got.Apps) != 0 {
		t.Fatalf("expected empty app list, got %v", got.Apps)
	}
}

func TestGetServerNotFound(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.GetServer(context.Background(), "ghost"); !engine.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteServerCascadesDeployments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.PutServer(ctx, &engine.Server{Name: "web1", Status: engine.ServerStatusActive})
	_ = store.PutDeployment(ctx, &engine.Deployment{
		ServerName: "web1",
		AppID:      "nextcloud",
		Status:     engine.DeploymentStatusActive,
	})

	if err := store.DeleteServer(ctx, "web1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.GetServer(ctx, "web1"); !engine.IsNotFound(err) {
		t.Fatalf("server still present: %v", err)
	}
	deps, err := store.ListDeployments(ctx, "web1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("deployments survived server deletion: %v", deps)
	}

	if err := store.DeleteServer(ctx, "web1"); !engine.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListServers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		_ = store.PutServer(ctx, &engine.Server{Name: name, Status: engine.ServerStatusActive})
	}
	servers, err := store.ListServers(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
}

func TestDeploymentRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.PutServer(ctx, &engine.Server{Name: "web1", Status: engine.ServerStatusActive})

	now := time.Now().UTC().Truncate(time.Second)
	dep := &engine.Deployment{
		ServerName:     "web1",
		AppID:          "nextcloud",
		Status:         engine.DeploymentStatusDeploying,
		Domain:         "nextcloud.example.com",
		CredentialsRef: "web1/nextcloud",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.PutDeployment(ctx, dep); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.GetDeployment(ctx, "web1", "nextcloud")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Domain != "nextcloud.example.com" || got.CredentialsRef != "web1/nextcloud" {
		t.Fatalf("deployment fields lost: %+v", got)
	}

	dep.Status = engine.DeploymentStatusActive
	if err := store.PutDeployment(ctx, dep); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, _ = store.GetDeployment(ctx, "web1", "nextcloud")
	if got.Status != engine.DeploymentStatusActive {
		t.Fatalf("upsert not applied: %s", got.Status)
	}

	if _, err := store.GetDeployment(ctx, "web1", "ghost"); !engine.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJobRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Second)
	started := created.Add(time.Second)
	ended := created.Add(2 * time.Second)
	job := &engine.Job{
		ID:        "job-1",
		Kind:      engine.JobKindAppDeploy,
		Target:    "web1",
		Status:    engine.JobStatusFailed,
		Payload:   json.RawMessage(`{"app_id":"nextcloud"}`),
		Result:    json.RawMessage(`{"partial":true}`),
		Error:     engine.NewExecutionError("play failed", nil).WithTarget("web1"),
		CreatedAt: created,
		StartedAt: &started,
		EndedAt:   &ended,
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Kind != engine.JobKindAppDeploy || got.Status != engine.JobStatusFailed {
		t.Fatalf("job fields lost: %+v", got)
	}
	if string(got.Payload) != `{"app_id":"nextcloud"}` {
		t.Fatalf("payload lost: %s", got.Payload)
	}
	if got.Error == nil || got.Error.Code != engine.ErrCodeExecution || got.Error.Target != "web1" {
		t.Fatalf("error detail lost: %+v", got.Error)
	}
	if got.StartedAt == nil || got.EndedAt == nil {
		t.Fatal("timestamps lost")
	}
	if !got.StartedAt.Equal(started) || !got.EndedAt.Equal(ended) {
		t.Fatalf("timestamps drifted: %v %v", got.StartedAt, got.EndedAt)
	}
}

func TestJobWithoutErrorOrTimestamps(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	job := &engine.Job{
		ID:        "job-1",
		Kind:      engine.JobKindServerSetup,
		Target:    "web1",
		Status:    engine.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Error != nil || got.StartedAt != nil || got.EndedAt != nil {
		t.Fatalf("expected empty optional fields: %+v", got)
	}
}

func TestJobLogAppendAssignsSequence(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_ = store.PutJob(ctx, &engine.Job{
		ID: "job-1", Kind: engine.JobKindServerSetup, Target: "web1",
		Status: engine.JobStatusRunning, CreatedAt: time.Now().UTC(),
	})

	for _, step := range []string{"allocating server", "waiting for instance", "applying DNS record"} {
		entry := &engine.LogEntry{Timestamp: time.Now().UTC(), Level: "info", Step: step, Message: step}
		if err := store.AppendJobLog(ctx, "job-1", entry); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if entry.Seq == 0 {
			t.Fatal("sequence not assigned")
		}
	}

	logs, err := store.GetJobLogs(ctx, "job-1")
	if err != nil {
		t.Fatalf("get logs failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].Seq <= logs[i-1].Seq {
			t.Fatalf("sequence not monotonic: %v", logs)
		}
	}
	if logs[2].Step != "applying DNS record" {
		t.Fatalf("entries out of order: %v", logs)
	}
}

func TestListJobsFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	jobs := []*engine.Job{
		{ID: "j1", Kind: engine.JobKindServerSetup, Target: "web1", Status: engine.JobStatusSucceeded, CreatedAt: base},
		{ID: "j2", Kind: engine.JobKindAppDeploy, Target: "web1", Status: engine.JobStatusFailed, CreatedAt: base.Add(time.Minute)},
		{ID: "j3", Kind: engine.JobKindAppDeploy, Target: "web2", Status: engine.JobStatusRunning, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, job := range jobs {
		if err := store.PutJob(ctx, job); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	all, err := store.ListJobs(ctx, engine.JobFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	// Newest first.
	if all[0].ID != "j3" {
		t.Fatalf("wrong sort order: %s first", all[0].ID)
	}

	byKind, _ := store.ListJobs(ctx, engine.JobFilter{Kind: engine.JobKindAppDeploy})
	if len(byKind) != 2 {
		t.Fatalf("kind filter: expected 2, got %d", len(byKind))
	}
	byTarget, _ := store.ListJobs(ctx, engine.JobFilter{Target: "web2"})
	if len(byTarget) != 1 || byTarget[0].ID != "j3" {
		t.Fatalf("target filter wrong: %v", byTarget)
	}
	byStatus, _ := store.ListJobs(ctx, engine.JobFilter{Status: engine.JobStatusFailed})
	if len(byStatus) != 1 || byStatus[0].ID != "j2" {
		t.Fatalf("status filter wrong: %v", byStatus)
	}
	combined, _ := store.ListJobs(ctx, engine.JobFilter{Kind: engine.JobKindAppDeploy, Target: "web1"})
	if len(combined) != 1 || combined[0].ID != "j2" {
		t.Fatalf("combined filter wrong: %v", combined)
	}
}

func TestDeleteJobsOlderThanKeepsRunning(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	jobs := []*engine.Job{
		{ID: "old-done", Kind: engine.JobKindAppDeploy, Target: "web1", Status: engine.JobStatusSucceeded, CreatedAt: old, EndedAt: &old},
		{ID: "old-running", Kind: engine.JobKindAppDeploy, Target: "web2", Status: engine.JobStatusRunning, CreatedAt: old},
		{ID: "recent-done", Kind: engine.JobKindAppDeploy, Target: "web3", Status: engine.JobStatusFailed, CreatedAt: recent, EndedAt: &recent},
	}
	for _, job := range jobs {
		if err := store.PutJob(ctx, job); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	removed, err := store.DeleteJobsOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.GetJob(ctx, "old-done"); !engine.IsNotFound(err) {
		t.Fatal("old terminal job not removed")
	}
	if _, err := store.GetJob(ctx, "old-running"); err != nil {
		t.Fatalf("running job must survive cleanup: %v", err)
	}
	if _, err := store.GetJob(ctx, "recent-done"); err != nil {
		t.Fatalf("recent job must survive cleanup: %v", err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homestead.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	_ = store.PutServer(ctx, &engine.Server{
		Name:   "web1",
		Status: engine.ServerStatusActive,
		DNS:    &engine.DNSConfig{Zone: "example.com"},
	})
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to recreate store: %v", err)
	}
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("failed to re-init store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetServer(ctx, "web1")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if got.DNS == nil || got.DNS.Zone != "example.com" {
		t.Fatalf("state lost across reopen: %+v", got)
	}
}
