package basic

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore is a file-backed credential store. Credentials live in a
// plain text file, one per line:
//
//	key:bcrypt-hash:role[:disabled]
//
// Blank lines and lines starting with '#' are ignored. The whole file
// is parsed into memory; lookups never touch the disk. Writes go to a
// temporary file which is renamed over the original so readers of the
// file never observe a partial write.
type FileStore struct {
	path string
	mem  *MemoryStore
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed credential store and loads the
// file. A missing file is not an error; it is treated as empty.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		mem:  NewMemoryStore(),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Reload re-reads the credential file and atomically swaps the
// in-memory snapshot. A parse error leaves the previous snapshot in
// effect.
func (s *FileStore) Reload() error {
	creds, err := ParseCredentialFile(s.path)
	if err != nil {
		return err
	}

	s.mem.Replace(creds)
	return nil
}

// Get retrieves a credential by key.
func (s *FileStore) Get(ctx context.Context, key string) (*Credential, error) {
	return s.mem.Get(ctx, key)
}

// List returns all credentials.
func (s *FileStore) List(ctx context.Context) ([]*Credential, error) {
	return s.mem.List(ctx)
}

// AddOrUpdate registers a credential and persists the file. When the
// file cannot be written the in-memory snapshot is rolled back so the
// serving state never diverges from the file.
func (s *FileStore) AddOrUpdate(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshot(cred.Key)

	if err := s.mem.AddOrUpdate(ctx, cred); err != nil {
		return err
	}

	if err := s.persist(ctx); err != nil {
		s.restore(cred.Key, prev)
		return err
	}

	return nil
}

// Revoke disables a credential and persists the file. A failed write
// rolls the revocation back.
func (s *FileStore) Revoke(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshot(key)

	if err := s.mem.Revoke(ctx, key); err != nil {
		return err
	}

	if err := s.persist(ctx); err != nil {
		s.restore(key, prev)
		return err
	}

	return nil
}

// Verify checks a key and secret pair.
func (s *FileStore) Verify(ctx context.Context, key, secret string) (*Credential, error) {
	return s.mem.Verify(ctx, key, secret)
}

// Count returns the number of credentials in the store.
func (s *FileStore) Count(ctx context.Context) (int, error) {
	return s.mem.Count(ctx)
}

// snapshot returns a copy of the stored credential for key, or nil when
// the key is absent. Callers must hold s.mu.
func (s *FileStore) snapshot(key string) *Credential {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()

	if cred, ok := s.mem.creds[key]; ok {
		return cred.Clone()
	}
	return nil
}

// restore puts the previous credential state back after a failed
// persist. A nil prev removes the entry. Callers must hold s.mu.
func (s *FileStore) restore(key string, prev *Credential) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	if prev == nil {
		delete(s.mem.creds, key)
		return
	}
	s.mem.creds[key] = prev
}

// persist writes the current snapshot to disk atomically. Callers must
// hold s.mu.
func (s *FileStore) persist(ctx context.Context) error {
	creds, err := s.mem.List(ctx)
	if err != nil {
		return err
	}

	return WriteCredentialFile(s.path, creds)
}

// ParseCredentialFile reads a credential file into a map keyed by
// credential key. A missing file yields an empty map.
func ParseCredentialFile(path string) (map[string]*Credential, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Credential), nil
		}
		return nil, fmt.Errorf("failed to open credential file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	creds := make(map[string]*Credential)
	scanner := bufio.NewScanner(f)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cred, err := parseCredentialLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}

		if _, exists := creds[cred.Key]; exists {
			return nil, fmt.Errorf("%s:%d: duplicate key %q", path, lineNo, cred.Key)
		}

		creds[cred.Key] = cred
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credential file %s: %w", path, err)
	}

	return creds, nil
}

// parseCredentialLine parses a single key:hash:role[:disabled] line.
// The bcrypt hash contains '$' but never ':', so a plain split is safe.
func parseCredentialLine(line string) (*Credential, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return nil, fmt.Errorf("expected key:hash:role[:disabled], got %d fields", len(parts))
	}

	role, err := ParseRole(parts[2])
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Key:        strings.TrimSpace(parts[0]),
		SecretHash: parts[1],
		Role:       role,
		Enabled:    true,
	}

	if len(parts) == 4 {
		switch strings.TrimSpace(parts[3]) {
		case "disabled":
			cred.Enabled = false
		case "":
		default:
			return nil, fmt.Errorf("unknown flag %q", parts[3])
		}
	}

	if err := cred.Validate(); err != nil {
		return nil, err
	}

	return cred, nil
}

// WriteCredentialFile writes credentials to path atomically via a
// temporary file in the same directory.
func WriteCredentialFile(path string, creds []*Credential) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	w := bufio.NewWriter(tmp)
	for _, cred := range creds {
		line := fmt.Sprintf("%s:%s:%s", cred.Key, cred.SecretHash, cred.Role)
		if !cred.Enabled {
			line += ":disabled"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write credential file: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush credential file: %w", err)
	}

	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("failed to chmod credential file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}

	return nil
}
