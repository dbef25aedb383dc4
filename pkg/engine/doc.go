// Package engine is the core of the Homestead control plane: the durable
// asynchronous job engine, the executors that carry out server, application,
// and infrastructure work, and the orchestrator façade that enforces
// cross-component rules before any job is accepted.
//
// Jobs are the only way remote state changes. Submit persists a job record
// and returns its id immediately; a worker pool executes jobs asynchronously
// against the matching Executor, reporting progress into an append-only
// per-job log. At most one job runs per target server at a time, and
// cancellation is cooperative: executors observe the flag at step boundaries,
// never mid-step.
//
// Every collaborator the engine needs (state store, cloud provider, DNS,
// provisioner, credentials vault, host gateway, install planner) is an
// interface defined here and implemented elsewhere, so providers and
// transports stay swappable.
package engine
