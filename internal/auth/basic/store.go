package basic

import (
	"context"
	"sync"
	"time"
)

// Store is the interface for credential storage backends.
//
// Verify is the hot path used by the authentication middleware and must
// be safe for concurrent use with the management operations.
type Store interface {
	// Get retrieves a credential by key.
	Get(ctx context.Context, key string) (*Credential, error)

	// List returns all credentials, including revoked ones.
	List(ctx context.Context) ([]*Credential, error)

	// AddOrUpdate registers a credential or replaces an existing one.
	AddOrUpdate(ctx context.Context, cred *Credential) error

	// Revoke disables a credential. The credential is kept so its key
	// cannot be re-registered accidentally.
	Revoke(ctx context.Context, key string) error

	// Verify checks a key and plain secret pair. It returns the
	// credential on success and ErrInvalidCredentials when the key is
	// unknown, the secret is wrong, or the credential is revoked.
	Verify(ctx context.Context, key, secret string) (*Credential, error)

	// Count returns the number of credentials in the store.
	Count(ctx context.Context) (int, error)
}

// dummyHash is a bcrypt hash compared against when the key is unknown
// so that verification takes the same time for unknown keys as for
// wrong secrets.
var dummyHash = func() string {
	h, err := HashSecret("krestgw-dummy-secret")
	if err != nil {
		panic(err)
	}
	return h
}()

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	creds map[string]*Credential
	mu    sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[string]*Credential),
	}
}

// Get retrieves a credential by key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[key]
	if !ok {
		return nil, ErrCredentialNotFound
	}

	return cred.Clone(), nil
}

// List returns all credentials.
func (s *MemoryStore) List(ctx context.Context) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds := make([]*Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		creds = append(creds, cred.Clone())
	}

	return creds, nil
}

// AddOrUpdate registers a credential or replaces an existing one.
func (s *MemoryStore) AddOrUpdate(ctx context.Context, cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := cred.Clone()
	stored.UpdatedAt = now
	if existing, ok := s.creds[cred.Key]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	s.creds[cred.Key] = stored
	return nil
}

// Revoke disables a credential.
func (s *MemoryStore) Revoke(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[key]
	if !ok {
		return ErrCredentialNotFound
	}

	cred.Enabled = false
	cred.UpdatedAt = time.Now()
	return nil
}

// Verify checks a key and secret pair.
func (s *MemoryStore) Verify(ctx context.Context, key, secret string) (*Credential, error) {
	s.mu.RLock()
	cred, ok := s.creds[key]
	if ok {
		cred = cred.Clone()
	}
	s.mu.RUnlock()

	return verifyCredential(cred, ok, secret)
}

// Count returns the number of credentials in the store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds), nil
}

// Replace atomically swaps the store contents. It is used by
// file-backed reloads.
func (s *MemoryStore) Replace(creds map[string]*Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
}

// verifyCredential performs the shared verification logic. The bcrypt
// comparison runs even when the key is unknown so that lookups cannot
// be used to probe which keys exist.
func verifyCredential(cred *Credential, found bool, secret string) (*Credential, error) {
	if !found {
		_ = CompareSecret(dummyHash, secret)
		return nil, ErrInvalidCredentials
	}

	if err := CompareSecret(cred.SecretHash, secret); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !cred.Enabled {
		return nil, ErrInvalidCredentials
	}

	return cred, nil
}
