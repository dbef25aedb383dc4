// Package dev provides in-memory simulated providers for local development
// and end-to-end tests. Instances come up after a short configurable delay,
// DNS records live in a map, and provisioning runs are recorded instead of
// executed.
package dev

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homesteadops/homestead/pkg/engine"
)

// CloudProvider simulates a cloud. Created instances start in the starting
// state and transition to running after StartupDelay.
type CloudProvider struct {
	// StartupDelay is how long an instance stays in the starting state.
	StartupDelay time.Duration

	mu        sync.Mutex
	instances map[string]*devInstance
	nextIP    int

	// FailCreate forces CreateInstance to fail, for tests.
	FailCreate bool
}

type devInstance struct {
	instance  engine.Instance
	createdAt time.Time
	deleted   bool
}

// NewCloudProvider creates a simulated cloud provider.
func NewCloudProvider() *CloudProvider {
	return &CloudProvider{
		instances: make(map[string]*devInstance),
		nextIP:    10,
	}
}

// CreateInstance allocates a simulated instance.
func (p *CloudProvider) CreateInstance(_ context.Context, spec engine.InstanceSpec) (*engine.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailCreate {
		return nil, fmt.Errorf("simulated create failure for %s", spec.Name)
	}

	p.nextIP++
	inst := engine.Instance{
		ID:        "dev-" + uuid.New().String()[:8],
		Name:      spec.Name,
		IPAddress: fmt.Sprintf("10.0.0.%d", p.nextIP),
	}
	p.instances[inst.ID] = &devInstance{
		instance:  inst,
		createdAt: time.Now(),
	}
	return &inst, nil
}

// DeleteInstance marks a simulated instance as gone.
func (p *CloudProvider) DeleteInstance(_ context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.instances[instanceID]
	if !ok {
		return engine.NewNotFoundError("instance", instanceID)
	}
	inst.deleted = true
	return nil
}

// InstanceStatus reports the simulated lifecycle state.
func (p *CloudProvider) InstanceStatus(_ context.Context, instanceID string) (engine.InstanceState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.instances[instanceID]
	if !ok {
		return engine.InstanceStateGone, nil
	}
	if inst.deleted {
		return engine.InstanceStateGone, nil
	}
	if time.Since(inst.createdAt) < p.StartupDelay {
		return engine.InstanceStateStarting, nil
	}
	return engine.InstanceStateRunning, nil
}

// DNSProvider keeps records in memory.
type DNSProvider struct {
	mu      sync.Mutex
	records map[string]string
}

// NewDNSProvider creates a simulated DNS provider.
func NewDNSProvider() *DNSProvider {
	return &DNSProvider{records: make(map[string]string)}
}

// CreateRecord points domain at target.
func (p *DNSProvider) CreateRecord(_ context.Context, domain, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[domain] = target
	return nil
}

// DeleteRecord removes the record for domain.
func (p *DNSProvider) DeleteRecord(_ context.Context, domain string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[domain]; !ok {
		return engine.NewNotFoundError("dns record", domain)
	}
	delete(p.records, domain)
	return nil
}

// Lookup returns the target for a domain, for tests.
func (p *DNSProvider) Lookup(domain string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.records[domain]
	return target, ok
}

// PlayRun records one simulated provisioning run.
type PlayRun struct {
	Playbook  string
	Inventory []string
	Vars      map[string]string
}

// Provisioner records provisioning runs instead of executing them.
type Provisioner struct {
	mu   sync.Mutex
	runs []PlayRun

	// Fail maps playbook names to forced failures, for tests.
	Fail map[string]error
}

// NewProvisioner creates a simulated provisioner.
func NewProvisioner() *Provisioner {
	return &Provisioner{Fail: make(map[string]error)}
}

// Run records the play and returns a canned output line.
func (p *Provisioner) Run(_ context.Context, playbook string, inventory []string, vars map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.Fail[playbook]; err != nil {
		return "", err
	}

	p.runs = append(p.runs, PlayRun{Playbook: playbook, Inventory: inventory, Vars: vars})
	return fmt.Sprintf("play %s completed on %d host(s)", playbook, len(inventory)), nil
}

// Runs returns a copy of the recorded runs.
func (p *Provisioner) Runs() []PlayRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayRun, len(p.runs))
	copy(out, p.runs)
	return out
}

// HostGateway pretends every host is reachable and keeps uploaded units in
// memory keyed by address and remote path.
type HostGateway struct {
	mu    sync.Mutex
	units map[string][]byte
}

// NewHostGateway creates a simulated host gateway.
func NewHostGateway() *HostGateway {
	return &HostGateway{units: make(map[string][]byte)}
}

// WaitForReady returns immediately unless the context is already done.
func (g *HostGateway) WaitForReady(ctx context.Context, _ string) error {
	return ctx.Err()
}

// UploadUnit stores the unit content in memory.
func (g *HostGateway) UploadUnit(_ context.Context, address, remotePath string, content []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.units[address+":"+remotePath] = append([]byte(nil), content...)
	return nil
}

// Unit returns an uploaded unit, for tests.
func (g *HostGateway) Unit(address, remotePath string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	content, ok := g.units[address+":"+remotePath]
	return content, ok
}

var (
	_ engine.CloudProvider = (*CloudProvider)(nil)
	_ engine.DNSProvider   = (*DNSProvider)(nil)
	_ engine.Provisioner   = (*Provisioner)(nil)
	_ engine.HostGateway   = (*HostGateway)(nil)
)
