package engine

import (
	"context"
	"fmt"
	"time"
)

// ServerExecutor performs server provisioning steps: create and baseline
// setup, deletion, and DNS record updates.
type ServerExecutor struct {
	store   StateStore
	cloud   CloudProvider
	dns     DNSProvider
	prov    Provisioner
	gateway HostGateway

	// PollInterval and PollTimeout bound the instance state waits.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// NewServerExecutor creates the executor for server jobs.
func NewServerExecutor(store StateStore, cloud CloudProvider, dns DNSProvider, prov Provisioner, gateway HostGateway) *ServerExecutor {
	return &ServerExecutor{
		store:        store,
		cloud:        cloud,
		dns:          dns,
		prov:         prov,
		gateway:      gateway,
		PollInterval: 5 * time.Second,
		PollTimeout:  10 * time.Minute,
	}
}

// Kinds implements Executor.
func (e *ServerExecutor) Kinds() []JobKind {
	return []JobKind{JobKindServerSetup, JobKindServerDelete, JobKindDNSUpdate}
}

// Execute implements Executor.
func (e *ServerExecutor) Execute(ctx context.Context, job *Job, report StepReporter) ([]byte, error) {
	switch job.Kind {
	case JobKindServerSetup:
		return e.setup(ctx, job, report)
	case JobKindServerDelete:
		return e.delete(ctx, job, report)
	case JobKindDNSUpdate:
		return e.updateDNS(ctx, job, report)
	default:
		return nil, NewValidationError(fmt.Sprintf("server executor cannot handle kind %q", job.Kind))
	}
}

// setup provisions the instance, applies the DNS record, waits for SSH
// readiness, and runs the baseline play. The server record and its DNS
// configuration must already be persisted; DNS-first is re-checked here
// because arbitrary time may pass between submission and dispatch.
func (e *ServerExecutor) setup(ctx context.Context, job *Job, report StepReporter) ([]byte, error) {
	var payload ServerSetupPayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return nil, err
	}

	server, err := e.store.GetServer(ctx, job.Target)
	if err != nil {
		return nil, err
	}
	if err := server.DNS.Validate(); err != nil {
		return nil, NewPreconditionError("server has no DNS configuration").WithTarget(server.Name)
	}

	report.Step("allocating server", fmt.Sprintf("creating instance for %s", server.Name))
	instance, err := e.cloud.CreateInstance(ctx, InstanceSpec{
		Name:   server.Name,
		Region: payload.Region,
		Size:   payload.Size,
		Image:  payload.Image,
	})
	if err != nil {
		e.markFailed(ctx, server)
		return nil, NewExecutionError("instance creation failed", err).WithTarget(server.Name)
	}

	server.InstanceID = instance.ID
	server.IPAddress = instance.IPAddress
	server.Status = ServerStatusProvisioning
	server.UpdatedAt = time.Now().UTC()
	if err := e.store.PutServer(ctx, server); err != nil {
		return nil, fmt.Errorf("failed to persist server: %w", err)
	}

	if err := checkpointCancel(report, "server-setup"); err != nil {
		return nil, err
	}

	report.Step("waiting for instance", fmt.Sprintf("instance %s starting", instance.ID))
	err = pollUntil(ctx, e.PollInterval, e.PollTimeout, func(ctx context.Context) (bool, error) {
		state, err := e.cloud.InstanceStatus(ctx, instance.ID)
		if err != nil {
			return false, NewExecutionError("instance status check failed", err)
		}
		return state == InstanceStateRunning, nil
	})
	if err != nil {
		e.markFailed(ctx, server)
		return nil, err
	}

	if err := checkpointCancel(report, "server-setup"); err != nil {
		return nil, err
	}

	domain := server.DNS.Domain(server.Name)
	report.Step("applying DNS record", fmt.Sprintf("%s -> %s", domain, server.IPAddress))
	if err := e.dns.CreateRecord(ctx, domain, server.IPAddress); err != nil {
		e.markFailed(ctx, server)
		return nil, NewExecutionError("DNS record creation failed", err).WithTarget(server.Name)
	}

	if err := checkpointCancel(report, "server-setup"); err != nil {
		return nil, err
	}

	report.Step("waiting for SSH", fmt.Sprintf("probing %s:22", server.IPAddress))
	if err := e.gateway.WaitForReady(ctx, fmt.Sprintf("%s:22", server.IPAddress)); err != nil {
		e.markFailed(ctx, server)
		return nil, NewTimeoutError("host never became reachable", err).WithTarget(server.Name)
	}

	if err := checkpointCancel(report, "server-setup"); err != nil {
		return nil, err
	}

	report.Step("running provisioning play", "applying baseline configuration")
	output, err := e.prov.Run(ctx, "baseline", []string{server.IPAddress}, map[string]string{
		"server_name": server.Name,
		"domain":      domain,
	})
	if output != "" {
		report.Info("running provisioning play", output)
	}
	if err != nil {
		e.markFailed(ctx, server)
		return nil, NewExecutionError("baseline provisioning failed", err).WithTarget(server.Name)
	}

	server.Status = ServerStatusActive
	server.UpdatedAt = time.Now().UTC()
	if err := e.store.PutServer(ctx, server); err != nil {
		return nil, fmt.Errorf("failed to persist server: %w", err)
	}

	return []byte(fmt.Sprintf(`{"domain":%q,"instance_id":%q}`, domain, instance.ID)), nil
}

// delete deprovisions the remote instance. The server is marked deleted only
// after the provider confirms the instance is gone; otherwise it stays failed
// so a follow-on job or manual cleanup can deal with a resource that may
// still be billing.
func (e *ServerExecutor) delete(ctx context.Context, job *Job, report StepReporter) ([]byte, error) {
	server, err := e.store.GetServer(ctx, job.Target)
	if err != nil {
		return nil, err
	}

	server.Status = ServerStatusDeleting
	server.UpdatedAt = time.Now().UTC()
	if err := e.store.PutServer(ctx, server); err != nil {
		return nil, fmt.Errorf("failed to persist server: %w", err)
	}

	if server.DNS != nil && server.DNS.Zone != "" {
		domain := server.DNS.Domain(server.Name)
		report.Step("removing DNS record", domain)
		if err := e.dns.DeleteRecord(ctx, domain); err != nil {
			// The record may already be gone; deletion continues.
			report.Warn("removing DNS record", fmt.Sprintf("failed to remove %s: %v", domain, err))
		}
	}

	if server.InstanceID != "" {
		report.Step("deprovisioning instance", server.InstanceID)
		if err := e.cloud.DeleteInstance(ctx, server.InstanceID); err != nil {
			e.markFailed(ctx, server)
			return nil, NewExecutionError("instance deletion failed", err).WithTarget(server.Name)
		}

		report.Step("confirming deletion", server.InstanceID)
		err = pollUntil(ctx, e.PollInterval, e.PollTimeout, func(ctx context.Context) (bool, error) {
			state, err := e.cloud.InstanceStatus(ctx, server.InstanceID)
			if err != nil {
				return false, NewExecutionError("instance status check failed", err)
			}
			return state == InstanceStateGone, nil
		})
		if err != nil {
			e.markFailed(ctx, server)
			return nil, err
		}
	}

	server.Status = ServerStatusDeleted
	server.UpdatedAt = time.Now().UTC()
	if err := e.store.PutServer(ctx, server); err != nil {
		return nil, fmt.Errorf("failed to persist server: %w", err)
	}

	return nil, nil
}

// updateDNS replaces the server's DNS configuration and re-points its record.
func (e *ServerExecutor) updateDNS(ctx context.Context, job *Job, report StepReporter) ([]byte, error) {
	var payload DNSUpdatePayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return nil, err
	}
	next := &DNSConfig{Zone: payload.Zone, Subdomain: payload.Subdomain}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	server, err := e.store.GetServer(ctx, job.Target)
	if err != nil {
		return nil, err
	}

	if server.DNS != nil && server.DNS.Zone != "" {
		old := server.DNS.Domain(server.Name)
		report.Step("removing DNS record", old)
		if err := e.dns.DeleteRecord(ctx, old); err != nil {
			report.Warn("removing DNS record", fmt.Sprintf("failed to remove %s: %v", old, err))
		}
	}

	if err := checkpointCancel(report, "dns-update"); err != nil {
		return nil, err
	}

	domain := next.Domain(server.Name)
	if server.IPAddress != "" {
		report.Step("applying DNS record", fmt.Sprintf("%s -> %s", domain, server.IPAddress))
		if err := e.dns.CreateRecord(ctx, domain, server.IPAddress); err != nil {
			return nil, NewExecutionError("DNS record creation failed", err).WithTarget(server.Name)
		}
	}

	server.DNS = next
	server.UpdatedAt = time.Now().UTC()
	if err := e.store.PutServer(ctx, server); err != nil {
		return nil, fmt.Errorf("failed to persist server: %w", err)
	}

	return []byte(fmt.Sprintf(`{"domain":%q}`, domain)), nil
}

// markFailed records the failed status without clobbering a store error; the
// job error is what callers see. Partial remote state is retained on purpose.
func (e *ServerExecutor) markFailed(ctx context.Context, server *Server) {
	server.Status = ServerStatusFailed
	server.UpdatedAt = time.Now().UTC()
	_ = e.store.PutServer(ctx, server)
}
