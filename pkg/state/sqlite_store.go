// Package state provides the durable SQLite-backed state store. The store is
// the single source of truth for servers, deployments, and jobs; records
// survive process restarts and job logs are append-only.
package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/homesteadops/homestead/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.StateStore on a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// GetServer retrieves a server by name.
func (s *SQLiteStore) GetServer(ctx context.Context, name string) (*engine.Server, error) {
	query := `
		SELECT name, provider, region, size, instance_id, ip_address, status,
		       dns_zone, dns_subdomain, apps, created_at, updated_at
		FROM servers
		WHERE name = ?
	`

	server := &engine.Server{}
	var zone, subdomain, apps string
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&server.Name,
		&server.Provider,
		&server.Region,
		&server.Size,
		&server.InstanceID,
		&server.IPAddress,
		&server.Status,
		&zone,
		&subdomain,
		&apps,
		&server.CreatedAt,
		&server.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("server", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}

	if zone != "" {
		server.DNS = &engine.DNSConfig{Zone: zone, Subdomain: subdomain}
	}
	if err := json.Unmarshal([]byte(apps), &server.Apps); err != nil {
		return nil, fmt.Errorf("failed to decode server apps: %w", err)
	}
	return server, nil
}

// PutServer creates or replaces a server record.
func (s *SQLiteStore) PutServer(ctx context.Context, server *engine.Server) error {
	apps, err := json.Marshal(server.Apps)
	if err != nil {
		return fmt.Errorf("failed to encode server apps: %w", err)
	}
	if server.Apps == nil {
		apps = []byte("[]")
	}

	var zone, subdomain string
	if server.DNS != nil {
		zone = server.DNS.Zone
		subdomain = server.DNS.Subdomain
	}

	query := `
		INSERT INTO servers (name, provider, region, size, instance_id, ip_address, status,
		                     dns_zone, dns_subdomain, apps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			provider = excluded.provider,
			region = excluded.region,
			size = excluded.size,
			instance_id = excluded.instance_id,
			ip_address = excluded.ip_address,
			status = excluded.status,
			dns_zone = excluded.dns_zone,
			dns_subdomain = excluded.dns_subdomain,
			apps = excluded.apps,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		server.Name,
		server.Provider,
		server.Region,
		server.Size,
		server.InstanceID,
		server.IPAddress,
		server.Status,
		zone,
		subdomain,
		string(apps),
		server.CreatedAt,
		server.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put server: %w", err)
	}
	return nil
}

// DeleteServer removes a server record and its deployments.
func (s *SQLiteStore) DeleteServer(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError("server", name)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM deployments WHERE server_name = ?", name); err != nil {
		return fmt.Errorf("failed to delete server deployments: %w", err)
	}
	return nil
}

// ListServers lists all server records ordered by name.
func (s *SQLiteStore) ListServers(ctx context.Context) ([]*engine.Server, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM servers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan server name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate servers: %w", err)
	}

	servers := make([]*engine.Server, 0, len(names))
	for _, name := range names {
		server, err := s.GetServer(ctx, name)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// GetDeployment retrieves a deployment by server and app id.
func (s *SQLiteStore) GetDeployment(ctx context.Context, serverName, appID string) (*engine.Deployment, error) {
	query := `
		SELECT server_name, app_id, status, credentials_ref, domain, created_at, updated_at
		FROM deployments
		WHERE server_name = ? AND app_id = ?
	`

	dep := &engine.Deployment{}
	err := s.db.QueryRowContext(ctx, query, serverName, appID).Scan(
		&dep.ServerName,
		&dep.AppID,
		&dep.Status,
		&dep.CredentialsRef,
		&dep.Domain,
		&dep.CreatedAt,
		&dep.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("deployment", serverName+"/"+appID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return dep, nil
}

// PutDeployment creates or replaces a deployment record.
func (s *SQLiteStore) PutDeployment(ctx context.Context, dep *engine.Deployment) error {
	query := `
		INSERT INTO deployments (server_name, app_id, status, credentials_ref, domain, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_name, app_id) DO UPDATE SET
			status = excluded.status,
			credentials_ref = excluded.credentials_ref,
			domain = excluded.domain,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		dep.ServerName,
		dep.AppID,
		dep.Status,
		dep.CredentialsRef,
		dep.Domain,
		dep.CreatedAt,
		dep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put deployment: %w", err)
	}
	return nil
}

// ListDeployments lists all deployments for a server.
func (s *SQLiteStore) ListDeployments(ctx context.Context, serverName string) ([]*engine.Deployment, error) {
	query := `
		SELECT server_name, app_id, status, credentials_ref, domain, created_at, updated_at
		FROM deployments
		WHERE server_name = ?
		ORDER BY app_id
	`

	rows, err := s.db.QueryContext(ctx, query, serverName)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deps []*engine.Deployment
	for rows.Next() {
		dep := &engine.Deployment{}
		if err := rows.Scan(
			&dep.ServerName,
			&dep.AppID,
			&dep.Status,
			&dep.CredentialsRef,
			&dep.Domain,
			&dep.CreatedAt,
			&dep.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deps = append(deps, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deployments: %w", err)
	}
	return deps, nil
}

// GetJob retrieves a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*engine.Job, error) {
	query := `
		SELECT id, kind, target, status, cancellation_requested, payload, result, error,
		       created_at, started_at, ended_at
		FROM jobs
		WHERE id = ?
	`

	job := &engine.Job{}
	var cancelRequested int
	var errJSON sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.Kind,
		&job.Target,
		&job.Status,
		&cancelRequested,
		&job.Payload,
		&job.Result,
		&errJSON,
		&job.CreatedAt,
		&job.StartedAt,
		&job.EndedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.CancellationRequested = cancelRequested != 0
	if errJSON.Valid && errJSON.String != "" {
		job.Error = &engine.Error{}
		if err := json.Unmarshal([]byte(errJSON.String), job.Error); err != nil {
			return nil, fmt.Errorf("failed to decode job error: %w", err)
		}
	}
	return job, nil
}

// PutJob creates or replaces a job record.
func (s *SQLiteStore) PutJob(ctx context.Context, job *engine.Job) error {
	var errJSON sql.NullString
	if job.Error != nil {
		data, err := json.Marshal(job.Error)
		if err != nil {
			return fmt.Errorf("failed to encode job error: %w", err)
		}
		errJSON = sql.NullString{String: string(data), Valid: true}
	}

	cancelRequested := 0
	if job.CancellationRequested {
		cancelRequested = 1
	}

	query := `
		INSERT INTO jobs (id, kind, target, status, cancellation_requested, payload, result, error,
		                  created_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			cancellation_requested = excluded.cancellation_requested,
			result = excluded.result,
			error = excluded.error,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Kind,
		job.Target,
		job.Status,
		cancelRequested,
		[]byte(job.Payload),
		[]byte(job.Result),
		errJSON,
		job.CreatedAt,
		job.StartedAt,
		job.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put job: %w", err)
	}
	return nil
}

// AppendJobLog appends an entry to a job's log. The sequence number is
// assigned by the database, so entries are totally ordered per job.
func (s *SQLiteStore) AppendJobLog(ctx context.Context, jobID string, entry *engine.LogEntry) error {
	query := `
		INSERT INTO job_logs (job_id, timestamp, level, step, message)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		jobID,
		entry.Timestamp,
		entry.Level,
		entry.Step,
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get log sequence: %w", err)
	}
	entry.Seq = seq
	return nil
}

// GetJobLogs returns a job's log entries in sequence order.
func (s *SQLiteStore) GetJobLogs(ctx context.Context, jobID string) ([]engine.LogEntry, error) {
	query := `
		SELECT seq, timestamp, level, step, message
		FROM job_logs
		WHERE job_id = ?
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []engine.LogEntry
	for rows.Next() {
		var entry engine.LogEntry
		if err := rows.Scan(&entry.Seq, &entry.Timestamp, &entry.Level, &entry.Step, &entry.Message); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job logs: %w", err)
	}
	return entries, nil
}

// ListJobs lists jobs matching the filter, most recent first.
func (s *SQLiteStore) ListJobs(ctx context.Context, filter engine.JobFilter) ([]*engine.Job, error) {
	query := `
		SELECT id FROM jobs
		WHERE (? = '' OR kind = ?)
		  AND (? = '' OR target = ?)
		  AND (? = '' OR status = ?)
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query,
		string(filter.Kind), string(filter.Kind),
		filter.Target, filter.Target,
		string(filter.Status), string(filter.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	jobs := make([]*engine.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DeleteJobsOlderThan removes terminal jobs that ended before the cutoff.
// Their logs go with them via the foreign key cascade.
func (s *SQLiteStore) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE ended_at IS NOT NULL
		  AND ended_at < ?
		  AND status IN (?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query, cutoff,
		engine.JobStatusSucceeded, engine.JobStatusFailed, engine.JobStatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

var _ engine.StateStore = (*SQLiteStore)(nil)
