package basic

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Validator verifies HTTP Basic credentials against a store.
type Validator struct {
	store  Store
	realm  string
	logger *zap.Logger
}

// ValidatorOption is a functional option for configuring the validator.
type ValidatorOption func(*Validator)

// WithRealm sets the realm announced in WWW-Authenticate challenges.
func WithRealm(realm string) ValidatorOption {
	return func(v *Validator) {
		v.realm = realm
	}
}

// WithLogger sets the validator logger.
func WithLogger(logger *zap.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// NewValidator creates a new credential validator.
func NewValidator(store Store, opts ...ValidatorOption) *Validator {
	v := &Validator{
		store:  store,
		realm:  "restricted",
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Realm returns the configured realm.
func (v *Validator) Realm() string {
	return v.realm
}

// Validate verifies a key and secret pair against the store.
func (v *Validator) Validate(ctx context.Context, key, secret string) (*Credential, error) {
	cred, err := v.store.Verify(ctx, key, secret)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			v.logger.Error("credential verification failed",
				zap.Error(err),
			)
			return nil, err
		}
		v.logger.Debug("credentials rejected",
			zap.String("key", key),
		)
		return nil, err
	}

	return cred, nil
}

// ValidateRequest extracts and verifies credentials from an HTTP request.
func (v *Validator) ValidateRequest(r *http.Request) (*Credential, error) {
	key, secret, err := ExtractFromRequest(r)
	if err != nil {
		return nil, err
	}

	return v.Validate(r.Context(), key, secret)
}
