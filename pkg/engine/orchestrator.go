package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/homesteadops/homestead/pkg/telemetry"
)

// ServerOptions carries the provider parameters for a new server.
type ServerOptions struct {
	Provider string `json:"provider"`
	Region   string `json:"region,omitempty"`
	Size     string `json:"size,omitempty"`
	Image    string `json:"image,omitempty"`
}

// PlanResult describes the jobs scheduled for a deploy or undeploy request.
type PlanResult struct {
	// Apps is the resolved plan in execution order.
	Apps []string `json:"apps"`

	// JobID is the id of the first submitted job. Follow-on jobs for the
	// remaining plan entries are submitted as earlier ones succeed.
	JobID string `json:"job_id"`
}

// Orchestrator is the façade that enforces cross-component invariants
// (DNS-first, dependency-ordered deployment, server-exists checks) and
// translates external requests into job submissions.
type Orchestrator struct {
	store   StateStore
	manager *Manager
	planner InstallPlanner
	log     *telemetry.Logger
	tracer  *telemetry.Tracer
}

// NewOrchestrator creates the orchestrator façade.
func NewOrchestrator(store StateStore, manager *Manager, planner InstallPlanner, log *telemetry.Logger, tracer *telemetry.Tracer) *Orchestrator {
	return &Orchestrator{
		store:   store,
		manager: manager,
		planner: planner,
		log:     log.Component("orchestrator"),
		tracer:  tracer,
	}
}

// SetupServer validates the DNS-first rule, persists the server record with
// its DNS configuration, and submits the server-setup job. The DNS
// configuration is persisted before submission so the job observes a
// consistent precondition even if it runs much later.
func (o *Orchestrator) SetupServer(ctx context.Context, name, zone, subdomain string, opts ServerOptions) (string, error) {
	ctx, span := o.span(ctx, "setup_server", name)
	defer span()

	name = strings.TrimSpace(name)
	if name == "" {
		return "", NewValidationError("server name is required")
	}
	dns := &DNSConfig{Zone: strings.TrimSpace(zone), Subdomain: strings.TrimSpace(subdomain)}
	if err := dns.Validate(); err != nil {
		return "", err
	}

	existing, err := o.store.GetServer(ctx, name)
	if err != nil && !IsNotFound(err) {
		return "", fmt.Errorf("failed to look up server: %w", err)
	}
	if existing != nil && existing.Status != ServerStatusDeleted && existing.Status != ServerStatusFailed {
		return "", NewValidationError("server already exists").WithTarget(name)
	}

	now := time.Now().UTC()
	server := &Server{
		Name:      name,
		Provider:  opts.Provider,
		Region:    opts.Region,
		Size:      opts.Size,
		Status:    ServerStatusPending,
		DNS:       dns,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.PutServer(ctx, server); err != nil {
		return "", fmt.Errorf("failed to persist server: %w", err)
	}

	payload, _ := json.Marshal(ServerSetupPayload{
		Region: opts.Region,
		Size:   opts.Size,
		Image:  opts.Image,
	})
	jobID, err := o.manager.Submit(ctx, JobKindServerSetup, name, payload)
	if err != nil {
		return "", err
	}

	o.log.WithServer(name).Info().Str("job_id", jobID).Str("zone", zone).Msg("server setup scheduled")
	return jobID, nil
}

// DeployApp resolves the install plan for the app and submits one job per
// plan entry, chained so later jobs are only submitted once earlier ones
// succeed. Validation failures surface synchronously and submit zero jobs.
func (o *Orchestrator) DeployApp(ctx context.Context, serverName, appID string) (*PlanResult, error) {
	ctx, span := o.span(ctx, "deploy_app", serverName)
	defer span()

	server, err := o.store.GetServer(ctx, serverName)
	if err != nil {
		return nil, err
	}
	if err := server.DNS.Validate(); err != nil {
		return nil, NewPreconditionError("server has no DNS configuration").WithTarget(serverName)
	}

	plan, err := o.planner.ResolveDependencies(appID)
	if err != nil {
		return nil, err
	}

	jobID, err := o.submitAppJob(ctx, JobKindAppDeploy, serverName, plan[0])
	if err != nil {
		return nil, err
	}

	if len(plan) > 1 {
		go o.runChain(JobKindAppDeploy, serverName, plan[1:], jobID)
	}

	o.log.WithServer(serverName).WithApp(appID).Info().
		Strs("plan", plan).
		Str("job_id", jobID).
		Msg("deployment scheduled")

	return &PlanResult{Apps: plan, JobID: jobID}, nil
}

// UndeployApp resolves the safe removal order and submits the undeploy
// chain. Removal of an app still required by another deployed application is
// rejected unless force is set.
func (o *Orchestrator) UndeployApp(ctx context.Context, serverName, appID string, force bool) (*PlanResult, error) {
	ctx, span := o.span(ctx, "undeploy_app", serverName)
	defer span()

	if _, err := o.store.GetServer(ctx, serverName); err != nil {
		return nil, err
	}

	deployed, err := o.activeApps(ctx, serverName)
	if err != nil {
		return nil, err
	}
	if !contains(deployed, appID) {
		return nil, NewNotFoundError("deployment", fmt.Sprintf("%s/%s", serverName, appID))
	}

	plan, err := o.planner.ResolveRemovalOrder(appID, deployed, force)
	if err != nil {
		return nil, err
	}

	jobID, err := o.submitAppJob(ctx, JobKindAppUndeploy, serverName, plan[0])
	if err != nil {
		return nil, err
	}

	if len(plan) > 1 {
		go o.runChain(JobKindAppUndeploy, serverName, plan[1:], jobID)
	}

	o.log.WithServer(serverName).WithApp(appID).Info().
		Strs("plan", plan).
		Str("job_id", jobID).
		Msg("removal scheduled")

	return &PlanResult{Apps: plan, JobID: jobID}, nil
}

// UpdateDNS submits a dns-update job that replaces the server's DNS
// configuration and re-points its record. The new zone is validated
// synchronously; the record change itself happens inside the job.
func (o *Orchestrator) UpdateDNS(ctx context.Context, serverName, zone, subdomain string) (string, error) {
	ctx, span := o.span(ctx, "update_dns", serverName)
	defer span()

	next := &DNSConfig{Zone: strings.TrimSpace(zone), Subdomain: strings.TrimSpace(subdomain)}
	if err := next.Validate(); err != nil {
		return "", err
	}
	if _, err := o.store.GetServer(ctx, serverName); err != nil {
		return "", err
	}

	payload, _ := json.Marshal(DNSUpdatePayload{Zone: next.Zone, Subdomain: next.Subdomain})
	return o.manager.Submit(ctx, JobKindDNSUpdate, serverName, payload)
}

// DeleteServer submits a server-delete job.
func (o *Orchestrator) DeleteServer(ctx context.Context, serverName string) (string, error) {
	ctx, span := o.span(ctx, "delete_server", serverName)
	defer span()

	if _, err := o.store.GetServer(ctx, serverName); err != nil {
		return "", err
	}
	return o.manager.Submit(ctx, JobKindServerDelete, serverName, nil)
}

// InstallInfra submits an infra-install job for a shared component.
func (o *Orchestrator) InstallInfra(ctx context.Context, serverName, component string) (string, error) {
	ctx, span := o.span(ctx, "install_infra", serverName)
	defer span()

	if strings.TrimSpace(component) == "" {
		return "", NewValidationError("infrastructure component is required")
	}
	if _, err := o.store.GetServer(ctx, serverName); err != nil {
		return "", err
	}

	payload, _ := json.Marshal(InfraInstallPayload{Component: component})
	return o.manager.Submit(ctx, JobKindInfraInstall, serverName, payload)
}

// runChain submits the remaining plan entries one at a time, each only after
// the previous job succeeded. A failed or cancelled link aborts the chain;
// the already-submitted jobs' state tells the operator where it stopped.
func (o *Orchestrator) runChain(kind JobKind, serverName string, rest []string, prevJobID string) {
	ctx := context.Background()
	log := o.log.WithServer(serverName)
	for _, appID := range rest {
		prev, err := o.manager.Await(ctx, prevJobID)
		if err != nil {
			log.Error().Err(err).Msg("chain await failed")
			return
		}
		if prev.Status != JobStatusSucceeded {
			log.Warn().
				Str("job_id", prev.ID).
				Str("status", string(prev.Status)).
				Str("next_app", appID).
				Msg("aborting chain after non-success")
			return
		}

		prevJobID, err = o.submitAppJob(ctx, kind, serverName, appID)
		if err != nil {
			log.WithApp(appID).Error().Err(err).Msg("chain submission failed")
			return
		}
	}
}

func (o *Orchestrator) submitAppJob(ctx context.Context, kind JobKind, serverName, appID string) (string, error) {
	payload, _ := json.Marshal(AppJobPayload{AppID: appID})
	return o.manager.Submit(ctx, kind, serverName, payload)
}

// activeApps lists active application deployments on a server, excluding
// infrastructure components.
func (o *Orchestrator) activeApps(ctx context.Context, serverName string) ([]string, error) {
	deps, err := o.store.ListDeployments(ctx, serverName)
	if err != nil {
		return nil, err
	}
	apps := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep.Status == DeploymentStatusActive && !strings.HasPrefix(dep.AppID, infraPrefix) {
			apps = append(apps, dep.AppID)
		}
	}
	return apps, nil
}

func (o *Orchestrator) span(ctx context.Context, operation, target string) (context.Context, func()) {
	if o.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := o.tracer.StartOperationSpan(ctx, operation, target)
	return ctx, func() { span.End() }
}
