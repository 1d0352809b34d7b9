package services_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/persistence/file"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential_CreateListDelete(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	service := services.NewCredential(store, slog.Default())

	created, err := service.Create(ctx, "user-1", services.CreateCredentialRequest{
		Name:     " OpenAI key ",
		Provider: models.CredentialProviderOpenAI,
		Value:    "sk-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "OpenAI key", created.Name)

	body, err := json.Marshal(created)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "sk-secret")

	stored, err := store.Credentials().CredentialByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", stored.Value)

	list, err := service.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = service.List(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, list)

	err = service.Delete(ctx, "user-2", created.ID)
	assert.True(t, persistence.IsCredentialNotFound(err))

	require.NoError(t, service.Delete(ctx, "user-1", created.ID))

	_, err = store.Credentials().CredentialByID(ctx, created.ID)
	assert.True(t, persistence.IsCredentialNotFound(err))
}

func TestCredential_CreateValidation(t *testing.T) {
	service := services.NewCredential(file.NewPersistence(t.TempDir()), slog.Default())

	tests := []struct {
		name string
		req  services.CreateCredentialRequest
	}{
		{"missing name", services.CreateCredentialRequest{Provider: "openai", Value: "k"}},
		{"unknown provider", services.CreateCredentialRequest{Name: "n", Provider: "mistral", Value: "k"}},
		{"missing value", services.CreateCredentialRequest{Name: "n", Provider: "gemini"}},
		{"blank value", services.CreateCredentialRequest{Name: "n", Provider: "gemini", Value: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(context.Background(), "user-1", tt.req)
			require.ErrorIs(t, err, services.ErrInvalidCredential)
			assert.True(t, services.IsValidationError(err))
		})
	}
}
