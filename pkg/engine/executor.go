package engine

import (
	"context"
	"encoding/json"
	"time"
)

// ServerSetupPayload carries the parameters for a server-setup job. The DNS
// configuration is not part of the payload: the orchestrator persists it on
// the server record before submission so the job observes a consistent
// precondition no matter when it runs.
type ServerSetupPayload struct {
	Region string `json:"region,omitempty"`
	Size   string `json:"size,omitempty"`
	Image  string `json:"image,omitempty"`
}

// AppJobPayload carries the application id for deploy and undeploy jobs.
type AppJobPayload struct {
	AppID string `json:"app_id"`
}

// InfraInstallPayload carries the shared infrastructure component to install.
type InfraInstallPayload struct {
	Component string `json:"component"`
}

// DNSUpdatePayload carries a DNS configuration change for a server.
type DNSUpdatePayload struct {
	Zone      string `json:"zone"`
	Subdomain string `json:"subdomain,omitempty"`
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return NewValidationError("job payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewValidationError("malformed job payload").WithDetail("cause", err.Error())
	}
	return nil
}

// checkpointCancel returns a cancellation error if the flag was raised. It is
// called between steps only; a step already in flight against a remote system
// completes or fails on its own first.
func checkpointCancel(report StepReporter, operation string) error {
	if report.Cancelled() {
		return NewCancelledError("cancellation observed at step boundary").WithOperation(operation)
	}
	return nil
}

// pollUntil polls fn at the given interval until it reports done, the bounded
// wait is exhausted, or the context ends.
func pollUntil(ctx context.Context, interval, timeout time.Duration, fn func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return NewTimeoutError("bounded wait exceeded", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
