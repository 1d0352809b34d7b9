// Package credentials resolves the API keys used by AI nodes.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// ErrCredentialMissing is returned when neither an explicit credential nor an
// environment default is available.
var ErrCredentialMissing = errors.New("credential missing")

// Store is the credential lookup the resolver depends on.
type Store interface {
	CredentialByID(ctx context.Context, id string) (*models.Credential, error)
}

// EnvVar returns the environment variable holding the default key of provider.
func EnvVar(provider models.CredentialProvider) string {
	return strings.ToUpper(string(provider)) + "_API_KEY"
}

// Resolver looks up API keys. An explicit credential id wins over the
// environment default.
type Resolver struct {
	store     Store
	lookupEnv func(string) (string, bool)
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, lookupEnv: os.LookupEnv}
}

// WithEnv replaces the environment lookup.
func (r *Resolver) WithEnv(lookup func(string) (string, bool)) *Resolver {
	return &Resolver{store: r.store, lookupEnv: lookup}
}

// Resolve returns the API key for provider. When credentialID is set, it must
// name a credential of owner for the same provider; there is no fallback to
// the environment in that case. Lookup failures other than a missing
// credential are returned as they are so the caller can retry them.
func (r *Resolver) Resolve(ctx context.Context, owner, credentialID string, provider models.CredentialProvider) (string, error) {
	if credentialID != "" {
		return r.fromStore(ctx, owner, credentialID, provider)
	}

	value, ok := r.lookupEnv(EnvVar(provider))
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: no %s credential selected and %s is not set", ErrCredentialMissing, provider, EnvVar(provider))
	}

	return value, nil
}

func (r *Resolver) fromStore(ctx context.Context, owner, credentialID string, provider models.CredentialProvider) (string, error) {
	if r.store == nil {
		return "", fmt.Errorf("%w: credential %s", ErrCredentialMissing, credentialID)
	}

	credential, err := r.store.CredentialByID(ctx, credentialID)
	if persistence.IsCredentialNotFound(err) {
		return "", fmt.Errorf("%w: credential %s", ErrCredentialMissing, credentialID)
	}

	if err != nil {
		return "", fmt.Errorf("failed to load credential %s: %w", credentialID, err)
	}

	// Another user's credential is reported exactly like a missing one.
	if owner != "" && credential.Owner != owner {
		return "", fmt.Errorf("%w: credential %s", ErrCredentialMissing, credentialID)
	}

	if credential.Provider != provider {
		return "", fmt.Errorf("%w: credential %s is for %s, not %s", ErrCredentialMissing, credentialID, credential.Provider, provider)
	}

	return credential.Value, nil
}
