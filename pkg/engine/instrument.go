package engine

import (
	"context"

	"github.com/homesteadops/homestead/pkg/telemetry"
)

// InstrumentCloudProvider wraps a cloud provider so every call is counted in
// the provider metrics. A nil collector returns the provider unchanged.
func InstrumentCloudProvider(name string, next CloudProvider, metrics *telemetry.Metrics) CloudProvider {
	if metrics == nil {
		return next
	}
	return &measuredCloud{name: name, next: next, metrics: metrics}
}

// InstrumentDNSProvider wraps a DNS provider the same way.
func InstrumentDNSProvider(name string, next DNSProvider, metrics *telemetry.Metrics) DNSProvider {
	if metrics == nil {
		return next
	}
	return &measuredDNS{name: name, next: next, metrics: metrics}
}

type measuredCloud struct {
	name    string
	next    CloudProvider
	metrics *telemetry.Metrics
}

func (c *measuredCloud) CreateInstance(ctx context.Context, spec InstanceSpec) (*Instance, error) {
	instance, err := c.next.CreateInstance(ctx, spec)
	c.metrics.ProviderCall(c.name, "create_instance", err)
	return instance, err
}

func (c *measuredCloud) DeleteInstance(ctx context.Context, instanceID string) error {
	err := c.next.DeleteInstance(ctx, instanceID)
	c.metrics.ProviderCall(c.name, "delete_instance", err)
	return err
}

func (c *measuredCloud) InstanceStatus(ctx context.Context, instanceID string) (InstanceState, error) {
	state, err := c.next.InstanceStatus(ctx, instanceID)
	c.metrics.ProviderCall(c.name, "instance_status", err)
	return state, err
}

type measuredDNS struct {
	name    string
	next    DNSProvider
	metrics *telemetry.Metrics
}

func (d *measuredDNS) CreateRecord(ctx context.Context, domain, target string) error {
	err := d.next.CreateRecord(ctx, domain, target)
	d.metrics.ProviderCall(d.name, "create_record", err)
	return err
}

func (d *measuredDNS) DeleteRecord(ctx context.Context, domain string) error {
	err := d.next.DeleteRecord(ctx, domain)
	d.metrics.ProviderCall(d.name, "delete_record", err)
	return err
}
