package engine

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// AppExecutor deploys and undeploys catalog applications onto servers.
type AppExecutor struct {
	store   StateStore
	dns     DNSProvider
	prov    Provisioner
	vault   CredentialsVault
	gateway HostGateway

	// UnitDir is the remote directory provisioning units are rendered to.
	UnitDir string

	// Policy controls generated credential strength.
	Policy PasswordPolicy
}

// NewAppExecutor creates the executor for application jobs.
func NewAppExecutor(store StateStore, dns DNSProvider, prov Provisioner, vault CredentialsVault, gateway HostGateway) *AppExecutor {
	return &AppExecutor{
		store:   store,
		dns:     dns,
		prov:    prov,
		vault:   vault,
		gateway: gateway,
		UnitDir: "/etc/homestead/units",
		Policy:  PasswordPolicy{Length: 32, Symbols: false},
	}
}

// Kinds implements Executor.
func (e *AppExecutor) Kinds() []JobKind {
	return []JobKind{JobKindAppDeploy, JobKindAppUndeploy}
}

// Execute implements Executor.
func (e *AppExecutor) Execute(ctx context.Context, job *Job, report StepReporter) ([]byte, error) {
	var payload AppJobPayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.AppID == "" {
		return nil, NewValidationError("app id is required")
	}

	switch job.Kind {
	case JobKindAppDeploy:
		return e.deploy(ctx, job.Target, payload.AppID, report)
	case JobKindAppUndeploy:
		return e.undeploy(ctx, job.Target, payload.AppID, report)
	default:
		return nil, NewValidationError(fmt.Sprintf("app executor cannot handle kind %q", job.Kind))
	}
}

// unitSpec is the rendered provisioning unit uploaded before the play runs.
type unitSpec struct {
	App            string `yaml:"app"`
	Server         string `yaml:"server"`
	Domain         string `yaml:"domain"`
	CredentialsRef string `yaml:"credentials_ref"`
}

func (e *AppExecutor) deploy(ctx context.Context, serverName, appID string, report StepReporter) ([]byte, error) {
	server, err := e.store.GetServer(ctx, serverName)
	if err != nil {
		return nil, err
	}

	// DNS-first is re-checked at execution time: time may have passed
	// between submission and dispatch.
	if err := server.DNS.Validate(); err != nil {
		return nil, NewPreconditionError("server has no DNS configuration").WithTarget(serverName)
	}
	if server.Status != ServerStatusActive {
		return nil, NewPreconditionError("server is not active").WithTarget(serverName)
	}

	existing, err := e.store.GetDeployment(ctx, serverName, appID)
	if err != nil && !IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up deployment: %w", err)
	}
	if existing != nil && existing.Status == DeploymentStatusActive {
		// At most one active deployment per (server, app); nothing to do.
		report.Info("deploy", fmt.Sprintf("%s already deployed on %s", appID, serverName))
		return []byte(fmt.Sprintf(`{"app":%q,"domain":%q,"noop":true}`, appID, existing.Domain)), nil
	}

	now := time.Now().UTC()
	domain := server.DNS.Domain(appID)
	credRef := fmt.Sprintf("%s/%s", serverName, appID)

	dep := existing
	if dep == nil {
		dep = &Deployment{ServerName: serverName, AppID: appID, CreatedAt: now}
	}
	dep.Status = DeploymentStatusDeploying
	dep.Domain = domain
	dep.CredentialsRef = credRef
	dep.UpdatedAt = now
	if err := e.store.PutDeployment(ctx, dep); err != nil {
		return nil, fmt.Errorf("failed to persist deployment: %w", err)
	}

	report.Step("generating credentials", credRef)
	password, err := e.vault.GeneratePassword(e.Policy)
	if err != nil {
		return nil, e.failDeploy(ctx, dep, NewExecutionError("credential generation failed", err))
	}
	if err := e.vault.Store(credRef, password); err != nil {
		return nil, e.failDeploy(ctx, dep, NewExecutionError("credential storage failed", err))
	}

	if err := checkpointCancel(report, "app-deploy"); err != nil {
		return nil, e.failDeploy(ctx, dep, err)
	}

	report.Step("applying DNS record", fmt.Sprintf("%s -> %s", domain, server.IPAddress))
	if err := e.dns.CreateRecord(ctx, domain, server.IPAddress); err != nil {
		return nil, e.failDeploy(ctx, dep, NewExecutionError("DNS record creation failed", err))
	}

	if err := checkpointCancel(report, "app-deploy"); err != nil {
		return nil, e.failDeploy(ctx, dep, err)
	}

	unit, err := yaml.Marshal(unitSpec{
		App:            appID,
		Server:         serverName,
		Domain:         domain,
		CredentialsRef: credRef,
	})
	if err != nil {
		return nil, e.failDeploy(ctx, dep, NewExecutionError("unit rendering failed", err))
	}
	unitPath := fmt.Sprintf("%s/%s.yml", e.UnitDir, appID)

	report.Step("uploading unit", unitPath)
	if err := e.gateway.UploadUnit(ctx, fmt.Sprintf("%s:22", server.IPAddress), unitPath, unit); err != nil {
		return nil, e.failDeploy(ctx, dep, NewExecutionError("unit upload failed", err))
	}

	if err := checkpointCancel(report, "app-deploy"); err != nil {
		return nil, e.failDeploy(ctx, dep, err)
	}

	report.Step("running provisioning play", fmt.Sprintf("deploying %s", appID))
	output, err := e.prov.Run(ctx, "apps/"+appID, []string{server.IPAddress}, map[string]string{
		"app":    appID,
		"domain": domain,
		"unit":   unitPath,
	})
	if output != "" {
		report.Info("running provisioning play", output)
	}
	if err != nil {
		return nil, e.failDeploy(ctx, dep, NewExecutionError("deployment play failed", err))
	}

	dep.Status = DeploymentStatusActive
	dep.UpdatedAt = time.Now().UTC()
	if err := e.store.PutDeployment(ctx, dep); err != nil {
		return nil, fmt.Errorf("failed to persist deployment: %w", err)
	}

	if !contains(server.Apps, appID) {
		server.Apps = append(server.Apps, appID)
		server.UpdatedAt = time.Now().UTC()
		if err := e.store.PutServer(ctx, server); err != nil {
			return nil, fmt.Errorf("failed to persist server: %w", err)
		}
	}

	return []byte(fmt.Sprintf(`{"app":%q,"domain":%q}`, appID, domain)), nil
}

func (e *AppExecutor) undeploy(ctx context.Context, serverName, appID string, report StepReporter) ([]byte, error) {
	server, err := e.store.GetServer(ctx, serverName)
	if err != nil {
		return nil, err
	}

	dep, err := e.store.GetDeployment(ctx, serverName, appID)
	if err != nil {
		return nil, err
	}
	if dep.Status == DeploymentStatusRemoved {
		report.Info("undeploy", fmt.Sprintf("%s already removed from %s", appID, serverName))
		return nil, nil
	}

	now := time.Now().UTC()
	dep.Status = DeploymentStatusUndeploying
	dep.UpdatedAt = now
	if err := e.store.PutDeployment(ctx, dep); err != nil {
		return nil, fmt.Errorf("failed to persist deployment: %w", err)
	}

	report.Step("running provisioning play", fmt.Sprintf("removing %s", appID))
	output, err := e.prov.Run(ctx, "apps/"+appID+"/remove", []string{server.IPAddress}, map[string]string{
		"app": appID,
	})
	if output != "" {
		report.Info("running provisioning play", output)
	}
	if err != nil {
		dep.Status = DeploymentStatusFailed
		dep.UpdatedAt = time.Now().UTC()
		_ = e.store.PutDeployment(ctx, dep)
		return nil, NewExecutionError("removal play failed", err).WithTarget(serverName)
	}

	if err := checkpointCancel(report, "app-undeploy"); err != nil {
		return nil, err
	}

	if dep.Domain != "" {
		report.Step("removing DNS record", dep.Domain)
		if err := e.dns.DeleteRecord(ctx, dep.Domain); err != nil {
			report.Warn("removing DNS record", fmt.Sprintf("failed to remove %s: %v", dep.Domain, err))
		}
	}

	dep.Status = DeploymentStatusRemoved
	dep.UpdatedAt = time.Now().UTC()
	if err := e.store.PutDeployment(ctx, dep); err != nil {
		return nil, fmt.Errorf("failed to persist deployment: %w", err)
	}

	server.Apps = remove(server.Apps, appID)
	server.UpdatedAt = time.Now().UTC()
	if err := e.store.PutServer(ctx, server); err != nil {
		return nil, fmt.Errorf("failed to persist server: %w", err)
	}

	return nil, nil
}

// failDeploy marks the deployment failed and returns the original error.
// State already committed is retained for a corrective job to inspect.
func (e *AppExecutor) failDeploy(ctx context.Context, dep *Deployment, cause error) error {
	if IsCancelled(cause) {
		// Cancellation between steps leaves the deployment as-is; the
		// record stays deploying until a corrective job resolves it.
		return cause
	}
	dep.Status = DeploymentStatusFailed
	dep.UpdatedAt = time.Now().UTC()
	_ = e.store.PutDeployment(ctx, dep)
	return cause
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
