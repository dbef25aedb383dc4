package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication.
	AuthMethodKey AuthMethod = "key"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// AuthMethod specifies which authentication method to use.
	AuthMethod AuthMethod

	// Password for password-based authentication.
	Password string

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string

	// PrivateKeyPassphrase is the passphrase for encrypted private keys.
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file. If empty, host
	// key verification is disabled.
	KnownHostsPath string

	// StrictHostKeyChecking rejects unknown hosts when true.
	StrictHostKeyChecking bool

	// ConnectionTimeout is the timeout for establishing a connection.
	ConnectionTimeout time.Duration

	// CommandTimeout is the default timeout for command execution.
	CommandTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        5 * time.Minute,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required for key authentication")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	return nil
}

// Address returns the host:port address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BuildSSHClientConfig constructs the underlying ssh.ClientConfig.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		auth = append(auth, ssh.Password(c.Password))
	case AuthMethodKey:
		key, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec
	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		callback, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}
