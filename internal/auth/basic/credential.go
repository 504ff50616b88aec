// Package basic provides HTTP Basic credential verification for the
// gateway. Credentials are identified by an API key and carry a bcrypt
// hash of the shared secret plus a role used for authorization.
package basic

import (
	"fmt"
	"strings"
	"time"
)

// Role determines which operations a credential may perform against
// the upstream.
type Role string

// Known roles.
const (
	// RoleAdmin may perform any operation.
	RoleAdmin Role = "admin"

	// RoleProducer may read anywhere and write under /topics.
	RoleProducer Role = "producer"

	// RoleConsumer may read anywhere and write under /consumers.
	RoleConsumer Role = "consumer"

	// RoleReadOnly may only perform safe methods.
	RoleReadOnly Role = "readonly"
)

// ParseRole parses a role name. Role names are case-insensitive.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleProducer:
		return RoleProducer, nil
	case RoleConsumer:
		return RoleConsumer, nil
	case RoleReadOnly:
		return RoleReadOnly, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRole, s)
	}
}

// Valid reports whether the role is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProducer, RoleConsumer, RoleReadOnly:
		return true
	}
	return false
}

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// Credential represents a stored API credential.
type Credential struct {
	// Key uniquely identifies the credential. Keys must not contain
	// a colon because the wire and file formats use it as a separator.
	Key string `json:"key"`

	// SecretHash is the bcrypt hash of the shared secret. The plain
	// secret is never stored.
	SecretHash string `json:"secretHash"`

	// Role determines authorization for proxied requests.
	Role Role `json:"role"`

	// Enabled is false for revoked credentials. Revoked credentials
	// are kept so their keys cannot be silently re-registered with a
	// different secret.
	Enabled bool `json:"enabled"`

	// CreatedAt is when the credential was first registered.
	CreatedAt time.Time `json:"createdAt,omitempty"`

	// UpdatedAt is when the credential was last modified.
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Validate checks structural validity of the credential.
func (c *Credential) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidCredentialKey)
	}
	if strings.Contains(c.Key, ":") {
		return fmt.Errorf("%w: key %q must not contain ':'", ErrInvalidCredentialKey, c.Key)
	}
	if c.SecretHash == "" {
		return fmt.Errorf("%w: secret hash must not be empty", ErrInvalidCredentialKey)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	return nil
}

// Clone returns a copy of the credential.
func (c *Credential) Clone() *Credential {
	clone := *c
	return &clone
}
