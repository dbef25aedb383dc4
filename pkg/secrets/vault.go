package secrets

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/homesteadops/homestead/pkg/engine"
)

// FileVault stores secrets in a single file encrypted with
// XChaCha20-Poly1305. The key lives in a sibling file created on first use
// with 0600 permissions. Suitable for a single-node control plane; not a
// replacement for a networked secret manager.
type FileVault struct {
	path    string
	keyPath string

	mu      sync.Mutex
	secrets map[string]string
	key     []byte
}

// NewFileVault opens (or creates) a vault at path. The key file sits next to
// it with a .key suffix.
func NewFileVault(path string) (*FileVault, error) {
	v := &FileVault{
		path:    path,
		keyPath: path + ".key",
		secrets: make(map[string]string),
	}
	if err := v.loadKey(); err != nil {
		return nil, err
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

// GeneratePassword satisfies the credentials contract by delegating to the
// package-level generator.
func (v *FileVault) GeneratePassword(policy engine.PasswordPolicy) (string, error) {
	return GeneratePassword(policy)
}

// Store persists a secret under ref.
func (v *FileVault) Store(ref, secret string) error {
	if ref == "" {
		return engine.NewValidationError("secret reference is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.secrets[ref] = secret
	return v.save()
}

// Retrieve returns the secret stored under ref.
func (v *FileVault) Retrieve(ref string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	secret, ok := v.secrets[ref]
	if !ok {
		return "", engine.NewNotFoundError("secret", ref)
	}
	return secret, nil
}

func (v *FileVault) loadKey() error {
	data, err := os.ReadFile(v.keyPath)
	if err == nil {
		if len(data) != chacha20poly1305.KeySize {
			return fmt.Errorf("vault key file %s has wrong size", v.keyPath)
		}
		v.key = data
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read vault key: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("failed to generate vault key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(v.keyPath), 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}
	if err := os.WriteFile(v.keyPath, key, 0o600); err != nil {
		return fmt.Errorf("failed to write vault key: %w", err)
	}
	v.key = key
	return nil
}

func (v *FileVault) load() error {
	data, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read vault: %w", err)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return fmt.Errorf("vault file %s is truncated", v.path)
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt vault: %w", err)
	}

	if err := json.Unmarshal(plaintext, &v.secrets); err != nil {
		return fmt.Errorf("failed to decode vault: %w", err)
	}
	return nil
}

// save encrypts and writes the vault atomically via a temp file rename.
func (v *FileVault) save() error {
	plaintext, err := json.Marshal(v.secrets)
	if err != nil {
		return fmt.Errorf("failed to encode vault: %w", err)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	data := aead.Seal(nonce, nonce, plaintext, nil)

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return fmt.Errorf("failed to replace vault: %w", err)
	}
	return nil
}

var _ engine.CredentialsVault = (*FileVault)(nil)
