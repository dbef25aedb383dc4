package ssh

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/homesteadops/homestead/pkg/engine"
)

// Gateway adapts the SSH transport to the engine's host gateway contract.
// One gateway serves all hosts; a fresh client is dialed per upload.
type Gateway struct {
	// User is the login user for provisioning connections.
	User string

	// KeyPath is the private key used for authentication.
	KeyPath string

	// ConnectTimeout bounds each dial attempt.
	ConnectTimeout time.Duration

	// Wait configures readiness polling.
	Wait WaitOptions
}

// NewGateway creates a gateway with default wait options.
func NewGateway(user, keyPath string) *Gateway {
	return &Gateway{
		User:           user,
		KeyPath:        keyPath,
		ConnectTimeout: 30 * time.Second,
		Wait:           DefaultWaitOptions(),
	}
}

// WaitForReady blocks until the host accepts TCP connections on its SSH
// port or the bounded wait is exhausted.
func (g *Gateway) WaitForReady(ctx context.Context, address string) error {
	return WaitForReady(ctx, address, g.Wait)
}

// UploadUnit dials the host and places the rendered unit at remotePath.
func (g *Gateway) UploadUnit(ctx context.Context, address, remotePath string, content []byte) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host = address
		port = "22"
	}

	cfg := DefaultConfig(host, g.User)
	cfg.Port = parsePort(port)
	cfg.AuthMethod = AuthMethodKey
	cfg.PrivateKeyPath = g.KeyPath
	cfg.ConnectionTimeout = g.ConnectTimeout

	client, err := NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create ssh client for %s: %w", host, err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	defer func() { _ = client.Close() }()

	return client.Upload(ctx, remotePath, content, 0o600)
}

func parsePort(s string) int {
	port := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 22
		}
		port = port*10 + int(r-'0')
	}
	if port == 0 || port > 65535 {
		return 22
	}
	return port
}

var _ engine.HostGateway = (*Gateway)(nil)
