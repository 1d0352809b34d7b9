package credentials_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/nodebase/pkg/credentials"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) CredentialByID(context.Context, string) (*models.Credential, error) {
	return nil, errors.New("connection refused")
}

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]

		return v, ok
	}
}

func TestResolver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir()).Credentials()

	require.NoError(t, store.CreateCredential(ctx, &models.Credential{
		ID: "cred-openai", Owner: "alice", Name: "mine", Provider: models.CredentialProviderOpenAI, Value: "sk-alice",
	}))

	resolver := credentials.NewResolver(store).WithEnv(env(map[string]string{
		"OPENAI_API_KEY": "sk-env",
	}))

	tests := []struct {
		name         string
		owner        string
		credentialID string
		provider     models.CredentialProvider
		want         string
		missing      bool
	}{
		{"explicit credential wins over env", "alice", "cred-openai", models.CredentialProviderOpenAI, "sk-alice", false},
		{"env default without credential id", "alice", "", models.CredentialProviderOpenAI, "sk-env", false},
		{"no env default", "alice", "", models.CredentialProviderGemini, "", true},
		{"unknown credential id", "alice", "cred-nope", models.CredentialProviderOpenAI, "", true},
		{"credential of another user", "bob", "cred-openai", models.CredentialProviderOpenAI, "", true},
		{"credential for another provider", "alice", "cred-openai", models.CredentialProviderAnthropic, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, tt.owner, tt.credentialID, tt.provider)
			if tt.missing {
				require.ErrorIs(t, err, credentials.ErrCredentialMissing)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_StoreFailureIsNotMissing(t *testing.T) {
	t.Parallel()

	resolver := credentials.NewResolver(failingStore{}).WithEnv(env(nil))

	_, err := resolver.Resolve(context.Background(), "alice", "cred-1", models.CredentialProviderOpenAI)
	require.Error(t, err)
	assert.NotErrorIs(t, err, credentials.ErrCredentialMissing)
}

func TestEnvVar(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OPENAI_API_KEY", credentials.EnvVar(models.CredentialProviderOpenAI))
	assert.Equal(t, "ANTHROPIC_API_KEY", credentials.EnvVar(models.CredentialProviderAnthropic))
	assert.Equal(t, "GEMINI_API_KEY", credentials.EnvVar(models.CredentialProviderGemini))
}
