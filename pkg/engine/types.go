package engine

import (
	"encoding/json"
	"time"
)

// ServerStatus represents the provisioning status of a server.
type ServerStatus string

const (
	ServerStatusPending      ServerStatus = "pending"
	ServerStatusProvisioning ServerStatus = "provisioning"
	ServerStatusActive       ServerStatus = "active"
	ServerStatusFailed       ServerStatus = "failed"
	ServerStatusDeleting     ServerStatus = "deleting"
	ServerStatusDeleted      ServerStatus = "deleted"
)

// Server represents a provisioned server tracked by the control plane.
// Servers are mutated only by executors through jobs dispatched by the job
// manager, never concurrently for the same server.
type Server struct {
	// Name is the unique identifier for this server.
	Name string `json:"name"`

	// Provider is the cloud provider this server was created with.
	Provider string `json:"provider"`

	// Region is the provider region or location.
	Region string `json:"region,omitempty"`

	// Size is the provider instance size.
	Size string `json:"size,omitempty"`

	// InstanceID is the provider-assigned instance identifier.
	InstanceID string `json:"instance_id,omitempty"`

	// IPAddress is the public address of the instance once allocated.
	IPAddress string `json:"ip_address,omitempty"`

	// Status is the current provisioning status.
	Status ServerStatus `json:"status"`

	// DNS is the DNS configuration for this server. The zone is mandatory
	// once a server is active; no application job targets a server without
	// a valid DNS configuration.
	DNS *DNSConfig `json:"dns,omitempty"`

	// Apps lists the ids of applications deployed to this server.
	Apps []string `json:"apps,omitempty"`

	// CreatedAt is when the server record was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the server record was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// DeploymentStatus represents the status of an application deployment.
type DeploymentStatus string

const (
	DeploymentStatusDeploying   DeploymentStatus = "deploying"
	DeploymentStatusActive      DeploymentStatus = "active"
	DeploymentStatusFailed      DeploymentStatus = "failed"
	DeploymentStatusUndeploying DeploymentStatus = "undeploying"
	DeploymentStatusRemoved     DeploymentStatus = "removed"
)

// Deployment associates an application with a server. At most one active
// deployment of a given application id exists per server.
type Deployment struct {
	// ServerName is the server this deployment targets.
	ServerName string `json:"server_name"`

	// AppID is the catalog id of the deployed application.
	AppID string `json:"app_id"`

	// Status is the current deployment status.
	Status DeploymentStatus `json:"status"`

	// CredentialsRef is the vault reference for generated credentials.
	CredentialsRef string `json:"credentials_ref,omitempty"`

	// Domain is the computed domain the application is served under.
	Domain string `json:"domain,omitempty"`

	// CreatedAt is when the deployment record was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the deployment record was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// JobKind identifies which executor handles a job.
type JobKind string

const (
	JobKindServerSetup  JobKind = "server-setup"
	JobKindServerDelete JobKind = "server-delete"
	JobKindAppDeploy    JobKind = "app-deploy"
	JobKindAppUndeploy  JobKind = "app-undeploy"
	JobKindInfraInstall JobKind = "infra-install"
	JobKindDNSUpdate    JobKind = "dns-update"
)

// JobStatus represents the lifecycle state of a job.
// Transitions: queued -> running -> {succeeded, failed, cancelled}.
// Terminal states are final.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is a unit of asynchronous work owned by the job manager and persisted
// for durability across restarts.
type Job struct {
	// ID is the unique identifier generated at submission.
	ID string `json:"id"`

	// Kind identifies which executor handles this job.
	Kind JobKind `json:"kind"`

	// Target is the resource (server name) this job operates on.
	Target string `json:"target"`

	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`

	// CancellationRequested is set by Cancel while the job is running.
	// Cancellation is cooperative; executors observe the flag between
	// steps. Externally the job still reports running until it resolves.
	CancellationRequested bool `json:"cancellation_requested,omitempty"`

	// Payload carries kind-specific parameters.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Result is the result payload once the job succeeds.
	Result json.RawMessage `json:"result,omitempty"`

	// Error is the terminal error detail, if the job failed.
	Error *Error `json:"error,omitempty"`

	// CreatedAt is when the job was submitted.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the executor began running, if it did.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt is when the job reached a terminal state.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// LogEntry is a single append-only entry in a job's log.
type LogEntry struct {
	// Seq is the monotonically increasing sequence number within the job.
	Seq int64 `json:"seq"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`

	// Step is the named executor step this entry belongs to, if any.
	Step string `json:"step,omitempty"`

	// Message is the human-readable log message.
	Message string `json:"message"`
}

// JobFilter selects jobs for listing.
type JobFilter struct {
	// Kind filters by job kind, if non-empty.
	Kind JobKind `json:"kind,omitempty"`

	// Target filters by target resource, if non-empty.
	Target string `json:"target,omitempty"`

	// Status filters by lifecycle state, if non-empty.
	Status JobStatus `json:"status,omitempty"`
}

// InstanceState is the remote lifecycle state reported by a cloud provider.
type InstanceState string

const (
	InstanceStateStarting InstanceState = "starting"
	InstanceStateRunning  InstanceState = "running"
	InstanceStateStopped  InstanceState = "stopped"
	InstanceStateGone     InstanceState = "gone"
)

// InstanceSpec describes the instance to create with a cloud provider.
type InstanceSpec struct {
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
	Size   string `json:"size,omitempty"`
	Image  string `json:"image,omitempty"`
}

// Instance is a created cloud instance.
type Instance struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IPAddress string `json:"ip_address,omitempty"`
}

// PasswordPolicy controls generated credential strength.
type PasswordPolicy struct {
	// Length is the generated password length.
	Length int `json:"length"`

	// Symbols includes punctuation characters when true.
	Symbols bool `json:"symbols"`
}
