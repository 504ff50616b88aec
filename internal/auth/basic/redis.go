package basic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis hash field names.
const (
	redisFieldHash    = "secret_hash"
	redisFieldRole    = "role"
	redisFieldEnabled = "enabled"
	redisFieldCreated = "created_at"
	redisFieldUpdated = "updated_at"
)

// RedisConfig contains Redis store configuration.
type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// RedisStore is a Redis-backed credential store. Each credential is a
// Redis hash under <prefix><key> and the set of known keys lives in a
// Redis set so List does not need SCAN.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed credential store and verifies
// connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "krestgw:cred:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

// NewRedisStoreFromClient wraps an existing Redis client. Tests use it
// with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "krestgw:cred:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) credKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "_keys"
}

// Get retrieves a credential by key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Credential, error) {
	fields, err := s.client.HGetAll(ctx, s.credKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrCredentialNotFound
	}

	return credentialFromFields(key, fields)
}

// List returns all credentials.
func (s *RedisStore) List(ctx context.Context) ([]*Credential, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	creds := make([]*Credential, 0, len(keys))
	for _, key := range keys {
		cred, err := s.Get(ctx, key)
		if errors.Is(err, ErrCredentialNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	return creds, nil
}

// AddOrUpdate registers a credential or replaces an existing one.
func (s *RedisStore) AddOrUpdate(ctx context.Context, cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	now := time.Now()
	created := cred.CreatedAt
	if created.IsZero() {
		created = now
	}
	if existing, err := s.Get(ctx, cred.Key); err == nil {
		created = existing.CreatedAt
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.credKey(cred.Key), map[string]interface{}{
		redisFieldHash:    cred.SecretHash,
		redisFieldRole:    cred.Role.String(),
		redisFieldEnabled: fmt.Sprintf("%t", cred.Enabled),
		redisFieldCreated: created.Format(time.RFC3339Nano),
		redisFieldUpdated: now.Format(time.RFC3339Nano),
	})
	pipe.SAdd(ctx, s.indexKey(), cred.Key)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Revoke disables a credential.
func (s *RedisStore) Revoke(ctx context.Context, key string) error {
	exists, err := s.client.Exists(ctx, s.credKey(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return ErrCredentialNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.credKey(key), redisFieldEnabled, "false")
	pipe.HSet(ctx, s.credKey(key), redisFieldUpdated, time.Now().Format(time.RFC3339Nano))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Verify checks a key and secret pair.
func (s *RedisStore) Verify(ctx context.Context, key, secret string) (*Credential, error) {
	cred, err := s.Get(ctx, key)
	if errors.Is(err, ErrCredentialNotFound) {
		return verifyCredential(nil, false, secret)
	}
	if err != nil {
		return nil, err
	}

	return verifyCredential(cred, true, secret)
}

// Count returns the number of credentials in the store.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(n), nil
}

// credentialFromFields rebuilds a credential from Redis hash fields.
func credentialFromFields(key string, fields map[string]string) (*Credential, error) {
	role, err := ParseRole(fields[redisFieldRole])
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Key:        key,
		SecretHash: fields[redisFieldHash],
		Role:       role,
		Enabled:    fields[redisFieldEnabled] == "true",
	}

	if v := fields[redisFieldCreated]; v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			cred.CreatedAt = ts
		}
	}
	if v := fields[redisFieldUpdated]; v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			cred.UpdatedAt = ts
		}
	}

	return cred, nil
}
