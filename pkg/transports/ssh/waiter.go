package ssh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// WaitOptions controls host readiness polling.
type WaitOptions struct {
	// Interval is the delay between reachability probes.
	Interval time.Duration

	// Timeout bounds the total wait.
	Timeout time.Duration

	// DialTimeout bounds a single probe.
	DialTimeout time.Duration
}

// DefaultWaitOptions returns the standard polling parameters.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Interval:    5 * time.Second,
		Timeout:     5 * time.Minute,
		DialTimeout: 3 * time.Second,
	}
}

// WaitForReady polls the host's SSH port until it accepts connections or the
// wait is exhausted. Provisioned instances commonly report running before
// sshd is up, so polling is the only reliable readiness signal.
func WaitForReady(ctx context.Context, address string, opts WaitOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}

	deadline := time.Now().Add(opts.Timeout)
	log.Debug().Str("address", address).Dur("timeout", opts.Timeout).Msg("waiting for SSH readiness")

	for {
		if Reachable(address, opts.DialTimeout) {
			log.Debug().Str("address", address).Msg("host is reachable")
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("host %s not reachable after %s", address, opts.Timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
}
