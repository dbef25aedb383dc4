package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// infraPrefix namespaces infrastructure components in the deployment table so
// they share the at-most-one-active invariant with applications.
const infraPrefix = "infra/"

// InfraExecutor installs and upgrades shared infrastructure components
// (reverse proxy, container runtime) that applications depend on.
// Installation is idempotent: re-running against an installed component
// detects the existing installation and upgrades instead of duplicating.
type InfraExecutor struct {
	store StateStore
	prov  Provisioner
}

// NewInfraExecutor creates the executor for infrastructure jobs.
func NewInfraExecutor(store StateStore, prov Provisioner) *InfraExecutor {
	return &InfraExecutor{store: store, prov: prov}
}

// Kinds implements Executor.
func (e *InfraExecutor) Kinds() []JobKind {
	return []JobKind{JobKindInfraInstall}
}

// Execute implements Executor.
func (e *InfraExecutor) Execute(ctx context.Context, job *Job, report StepReporter) ([]byte, error) {
	var payload InfraInstallPayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return nil, err
	}
	component := strings.TrimSpace(payload.Component)
	if component == "" {
		return nil, NewValidationError("infrastructure component is required")
	}

	server, err := e.store.GetServer(ctx, job.Target)
	if err != nil {
		return nil, err
	}
	if server.Status != ServerStatusActive {
		return nil, NewPreconditionError("server is not active").WithTarget(server.Name)
	}

	record := infraPrefix + component
	existing, err := e.store.GetDeployment(ctx, server.Name, record)
	if err != nil && !IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up component: %w", err)
	}

	playbook := "infra/" + component
	action := "install"
	if existing != nil && existing.Status == DeploymentStatusActive {
		action = "upgrade"
	}

	if err := checkpointCancel(report, "infra-install"); err != nil {
		return nil, err
	}

	report.Step("running provisioning play", fmt.Sprintf("%s %s on %s", action, component, server.Name))
	output, err := e.prov.Run(ctx, playbook, []string{server.IPAddress}, map[string]string{
		"component": component,
		"action":    action,
	})
	if output != "" {
		report.Info("running provisioning play", output)
	}
	if err != nil {
		return nil, NewExecutionError(fmt.Sprintf("%s of %s failed", action, component), err).WithTarget(server.Name)
	}

	now := time.Now().UTC()
	dep := existing
	if dep == nil {
		dep = &Deployment{
			ServerName: server.Name,
			AppID:      record,
			CreatedAt:  now,
		}
	}
	dep.Status = DeploymentStatusActive
	dep.UpdatedAt = now
	if err := e.store.PutDeployment(ctx, dep); err != nil {
		return nil, fmt.Errorf("failed to persist component record: %w", err)
	}

	return []byte(fmt.Sprintf(`{"component":%q,"action":%q}`, component, action)), nil
}
