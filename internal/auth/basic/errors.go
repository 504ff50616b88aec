package basic

import (
	"errors"
	"fmt"

	"github.com/vyrodovalexey/krestgw/internal/util"
)

// Sentinel errors for basic credential verification. Each wraps the
// matching gateway sentinel so util.StatusCode maps it to the response
// status without callers enumerating store errors.
var (
	// ErrMissingCredentials indicates no Authorization header was provided.
	ErrMissingCredentials = fmt.Errorf("missing credentials: %w", util.ErrUnauthorized)

	// ErrInvalidHeader indicates a malformed Authorization header.
	ErrInvalidHeader = fmt.Errorf("invalid authorization header: %w", util.ErrUnauthorized)

	// ErrInvalidCredentials indicates verification failed. Unknown keys,
	// wrong secrets, and revoked credentials all produce this error so
	// a caller cannot distinguish which keys exist.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", util.ErrUnauthorized)

	// ErrCredentialNotFound indicates the credential does not exist.
	// Store management APIs return it; the verification path does not.
	ErrCredentialNotFound = fmt.Errorf("credential %w", util.ErrNotFound)

	// ErrCredentialExists indicates a create conflicted with an
	// existing credential.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrInvalidCredentialKey indicates a structurally invalid key.
	ErrInvalidCredentialKey = fmt.Errorf("invalid credential key: %w", util.ErrInvalidInput)

	// ErrInvalidRole indicates an unknown role name.
	ErrInvalidRole = fmt.Errorf("invalid role: %w", util.ErrInvalidInput)

	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)
