package basic

import (
	"context"
	"fmt"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

// VaultConfig contains Vault store configuration.
type VaultConfig struct {
	Address    string
	Token      string
	MountPath  string
	SecretPath string
	Timeout    time.Duration
}

// VaultStore is a Vault-backed credential store. All credentials live
// in a single KV v2 secret whose data maps credential keys to
// "hash:role[:disabled]" values, the same line format the file store
// uses minus the leading key. The secret is read once into memory and
// refreshed on every write; verification never calls Vault.
type VaultStore struct {
	client     *vaultapi.Client
	mountPath  string
	secretPath string
	mem        *MemoryStore
	mu         sync.Mutex
}

var _ Store = (*VaultStore)(nil)

// NewVaultStore creates a Vault-backed credential store and loads the
// initial snapshot.
func NewVaultStore(ctx context.Context, cfg VaultConfig) (*VaultStore, error) {
	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mountPath := cfg.MountPath
	if mountPath == "" {
		mountPath = "secret"
	}

	s := &VaultStore{
		client:     client,
		mountPath:  mountPath,
		secretPath: cfg.SecretPath,
		mem:        NewMemoryStore(),
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// NewVaultStoreFromClient wraps an existing Vault client. Tests use it
// against a stub HTTP server.
func NewVaultStoreFromClient(
	ctx context.Context,
	client *vaultapi.Client,
	mountPath, secretPath string,
) (*VaultStore, error) {
	if mountPath == "" {
		mountPath = "secret"
	}

	s := &VaultStore{
		client:     client,
		mountPath:  mountPath,
		secretPath: secretPath,
		mem:        NewMemoryStore(),
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *VaultStore) dataPath() string {
	return fmt.Sprintf("%s/data/%s", s.mountPath, s.secretPath)
}

// Reload re-reads the Vault secret and swaps the in-memory snapshot.
// A missing secret is treated as an empty store.
func (s *VaultStore) Reload(ctx context.Context) error {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.dataPath())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	creds := make(map[string]*Credential)

	if secret != nil && secret.Data != nil {
		// KV v2 wraps the payload in a "data" key.
		data, _ := secret.Data["data"].(map[string]interface{})
		for key, raw := range data {
			value, ok := raw.(string)
			if !ok {
				return fmt.Errorf("vault secret %s: key %q has non-string value", s.secretPath, key)
			}

			cred, err := parseCredentialLine(key + ":" + value)
			if err != nil {
				return fmt.Errorf("vault secret %s: key %q: %w", s.secretPath, key, err)
			}
			creds[key] = cred
		}
	}

	s.mem.Replace(creds)
	return nil
}

// Get retrieves a credential by key.
func (s *VaultStore) Get(ctx context.Context, key string) (*Credential, error) {
	return s.mem.Get(ctx, key)
}

// List returns all credentials.
func (s *VaultStore) List(ctx context.Context) ([]*Credential, error) {
	return s.mem.List(ctx)
}

// AddOrUpdate registers a credential and writes the snapshot to Vault.
func (s *VaultStore) AddOrUpdate(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.AddOrUpdate(ctx, cred); err != nil {
		return err
	}

	return s.persist(ctx)
}

// Revoke disables a credential and writes the snapshot to Vault.
func (s *VaultStore) Revoke(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Revoke(ctx, key); err != nil {
		return err
	}

	return s.persist(ctx)
}

// Verify checks a key and secret pair.
func (s *VaultStore) Verify(ctx context.Context, key, secret string) (*Credential, error) {
	return s.mem.Verify(ctx, key, secret)
}

// Count returns the number of credentials in the store.
func (s *VaultStore) Count(ctx context.Context) (int, error) {
	return s.mem.Count(ctx)
}

// persist writes the current snapshot to Vault. Callers must hold s.mu.
func (s *VaultStore) persist(ctx context.Context) error {
	creds, err := s.mem.List(ctx)
	if err != nil {
		return err
	}

	data := make(map[string]interface{}, len(creds))
	for _, cred := range creds {
		value := fmt.Sprintf("%s:%s", cred.SecretHash, cred.Role)
		if !cred.Enabled {
			value += ":disabled"
		}
		data[cred.Key] = value
	}

	wrapped := map[string]interface{}{"data": data}
	if _, err := s.client.Logical().WriteWithContext(ctx, s.dataPath(), wrapped); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}
