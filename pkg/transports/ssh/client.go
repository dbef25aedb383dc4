// Package ssh provides the SSH transport used by executors: reachability
// waiting, remote command execution, and SFTP unit upload.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is an SSH connection to a single host.
type Client struct {
	config *Config

	mu        sync.Mutex
	client    *ssh.Client
	connected bool
}

// NewClient creates an SSH client for the given configuration.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build ssh config: %w", err)
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errChan:
		return fmt.Errorf("ssh dial %s: %w", address, err)
	case client := <-connChan:
		c.client = client
		c.connected = true
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Run executes a command on the remote host and returns its combined output.
func (c *Client) Run(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || client == nil {
		return "", fmt.Errorf("not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	timeout := c.config.CommandTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return out.String(), ctx.Err()
	case <-time.After(timeout):
		_ = session.Signal(ssh.SIGKILL)
		return out.String(), fmt.Errorf("command timed out after %s", timeout)
	case err := <-done:
		if err != nil {
			return out.String(), fmt.Errorf("command failed: %w", err)
		}
		return out.String(), nil
	}
}

// Close tears down the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		c.connected = false
		return err
	}
	return nil
}

// Reachable reports whether the host accepts TCP connections on the SSH
// port. It does not authenticate.
func Reachable(address string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
