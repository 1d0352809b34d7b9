package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// storedCredential keeps the secret value, which models.Credential hides from JSON.
type storedCredential struct {
	models.Credential

	Value string `json:"value"`
}

// CredentialRepository handles credential-related file operations.
type CredentialRepository struct {
	store *Persistence
}

func (cr *CredentialRepository) CreateCredential(_ context.Context, credential *models.Credential) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}

	return cr.store.write(credentialsDir, credential.ID, storedCredential{Credential: *credential, Value: credential.Value})
}

func (cr *CredentialRepository) CredentialByID(_ context.Context, id string) (*models.Credential, error) {
	cr.store.mu.RLock()
	defer cr.store.mu.RUnlock()

	return cr.load(id)
}

func (cr *CredentialRepository) CredentialsByOwner(_ context.Context, owner string) ([]*models.Credential, error) {
	cr.store.mu.RLock()
	defer cr.store.mu.RUnlock()

	ids, err := cr.store.ids(credentialsDir)
	if err != nil {
		return nil, err
	}

	credentials := make([]*models.Credential, 0)

	for _, id := range ids {
		credential, err := cr.load(id)
		if err != nil {
			return nil, err
		}

		if credential.Owner == owner {
			credentials = append(credentials, credential)
		}
	}

	sort.SliceStable(credentials, func(i, j int) bool {
		return credentials[i].CreatedAt.After(credentials[j].CreatedAt)
	})

	return credentials, nil
}

func (cr *CredentialRepository) DeleteCredential(_ context.Context, id string) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	err := cr.store.remove(credentialsDir, id)
	if isNotExist(err) {
		return persistence.ErrCredentialNotFound
	}

	return err
}

func (cr *CredentialRepository) load(id string) (*models.Credential, error) {
	var stored storedCredential

	err := cr.store.read(credentialsDir, id, &stored)
	if isNotExist(err) {
		return nil, persistence.ErrCredentialNotFound
	}

	if err != nil {
		return nil, err
	}

	credential := stored.Credential
	credential.Value = stored.Value

	return &credential, nil
}
