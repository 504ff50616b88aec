package basic

import "context"

type contextKey string

const credentialContextKey contextKey = "basic_credential"

// ContextWithCredential returns a context carrying the authenticated
// credential.
func ContextWithCredential(ctx context.Context, cred *Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}

// CredentialFromContext extracts the authenticated credential from the
// context.
func CredentialFromContext(ctx context.Context) (*Credential, bool) {
	cred, ok := ctx.Value(credentialContextKey).(*Credential)
	return cred, ok
}
