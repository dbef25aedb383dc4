package engine

import (
	"context"
	"time"
)

// StateStore is the durable, process-wide repository of servers, deployments,
// and job records. It is the single source of truth; all operations are
// atomic at the single-record level and survive process restarts.
type StateStore interface {
	// GetServer retrieves a server by name.
	GetServer(ctx context.Context, name string) (*Server, error)

	// PutServer creates or replaces a server record.
	PutServer(ctx context.Context, server *Server) error

	// DeleteServer removes a server record.
	DeleteServer(ctx context.Context, name string) error

	// ListServers lists all server records.
	ListServers(ctx context.Context) ([]*Server, error)

	// GetDeployment retrieves a deployment by server and app id.
	GetDeployment(ctx context.Context, serverName, appID string) (*Deployment, error)

	// PutDeployment creates or replaces a deployment record.
	PutDeployment(ctx context.Context, dep *Deployment) error

	// ListDeployments lists all deployments for a server.
	ListDeployments(ctx context.Context, serverName string) ([]*Deployment, error)

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, id string) (*Job, error)

	// PutJob creates or replaces a job record.
	PutJob(ctx context.Context, job *Job) error

	// AppendJobLog appends an entry to a job's log. The log is append-only;
	// the store assigns the sequence number.
	AppendJobLog(ctx context.Context, jobID string, entry *LogEntry) error

	// GetJobLogs returns a job's log entries in sequence order.
	GetJobLogs(ctx context.Context, jobID string) ([]LogEntry, error)

	// ListJobs lists jobs matching the filter.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// DeleteJobsOlderThan removes terminal job records that ended before
	// the cutoff, returning the number removed.
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CloudProvider creates and destroys server instances. Implementations wrap
// a cloud SDK; the core treats them as black boxes.
type CloudProvider interface {
	// CreateInstance allocates a new instance.
	CreateInstance(ctx context.Context, spec InstanceSpec) (*Instance, error)

	// DeleteInstance deprovisions an instance by provider id.
	DeleteInstance(ctx context.Context, instanceID string) error

	// InstanceStatus reports the remote lifecycle state of an instance.
	InstanceStatus(ctx context.Context, instanceID string) (InstanceState, error)
}

// DNSProvider manages DNS records in the configured zone.
type DNSProvider interface {
	// CreateRecord points domain at target.
	CreateRecord(ctx context.Context, domain, target string) error

	// DeleteRecord removes the record for domain.
	DeleteRecord(ctx context.Context, domain string) error
}

// Provisioner runs a provisioning play against a host. It is a single
// blocking call per step; the returned output is attached to the job log.
type Provisioner interface {
	Run(ctx context.Context, playbook string, inventory []string, vars map[string]string) (string, error)
}

// CredentialsVault generates and stores secrets for deployments.
type CredentialsVault interface {
	// GeneratePassword produces a random password honoring the policy.
	GeneratePassword(policy PasswordPolicy) (string, error)

	// Store persists a secret under ref.
	Store(ref, secret string) error

	// Retrieve returns the secret stored under ref.
	Retrieve(ref string) (string, error)
}

// ConfigStore is the key-value configuration collaborator for cross-cutting
// settings such as the active provider name.
type ConfigStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// HostGateway abstracts host reachability checks and provisioning-unit
// placement. The SSH transport implements it.
type HostGateway interface {
	// WaitForReady blocks until the host accepts connections or the
	// bounded wait is exhausted.
	WaitForReady(ctx context.Context, address string) error

	// UploadUnit places a rendered provisioning unit on the host.
	UploadUnit(ctx context.Context, address, remotePath string, content []byte) error
}

// StepReporter records executor progress into the job log. Every
// remote-affecting step must be checkpointed before it is attempted so that
// failure triage can distinguish "attempted but unknown outcome" from "never
// attempted".
type StepReporter interface {
	// Step checkpoints the start of a named step.
	Step(step, message string)

	// Info records an informational entry for the current step.
	Info(step, message string)

	// Warn records a warning entry for the current step.
	Warn(step, message string)

	// Cancelled reports whether cancellation has been requested. Executors
	// check it between steps only; a step already in flight completes or
	// fails on its own.
	Cancelled() bool
}

// Executor performs the provisioning steps for one job kind.
// Implementations must be safe for concurrent use across distinct jobs.
type Executor interface {
	// Kinds returns the job kinds this executor handles.
	Kinds() []JobKind

	// Execute runs the job to completion, returning a result payload on
	// success. Errors are recorded as the job's terminal error by the job
	// manager and never propagate further.
	Execute(ctx context.Context, job *Job, report StepReporter) ([]byte, error)
}

// InstallPlanner orders and validates application installs and removals.
// The app registry implements it.
type InstallPlanner interface {
	// ResolveDependencies returns the ordered install plan for an app:
	// dependencies before dependents, bundle-mandatory companions
	// included, no id repeated.
	ResolveDependencies(appID string) ([]string, error)

	// ResolveRemovalOrder returns the ordered removal plan for an app,
	// excluding apps still required by other deployed applications.
	ResolveRemovalOrder(appID string, deployed []string, force bool) ([]string, error)

	// Has reports whether the catalog knows the app id.
	Has(appID string) bool
}
