package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Credential manages the provider API keys of a user.
type Credential struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewCredential(persistence persistence.Persistence, logger *slog.Logger) *Credential {
	return &Credential{
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "credential_service"),
	}
}

type CreateCredentialRequest struct {
	Name     string                    `json:"name"     validate:"required,min=1,max=255"`
	Provider models.CredentialProvider `json:"provider" validate:"required,oneof=openai anthropic gemini"`
	Value    string                    `json:"value"    validate:"required"`
}

func (s *Credential) Create(ctx context.Context, owner string, req CreateCredentialRequest) (*models.Credential, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrMissingOwner
	}

	err := s.validate.Struct(req)
	if err != nil {
		return nil, NewValidationError("Create", "INVALID_CREDENTIAL", err.Error(), ErrInvalidCredential)
	}

	credential := &models.Credential{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Owner:     owner,
		Name:      strings.TrimSpace(req.Name),
		Provider:  req.Provider,
		Value:     strings.TrimSpace(req.Value),
		CreatedAt: time.Now().UTC(),
	}

	err = s.validate.Struct(credential)
	if err != nil {
		return nil, NewValidationError("Create", "INVALID_CREDENTIAL", err.Error(), ErrInvalidCredential)
	}

	err = s.persistence.Credentials().CreateCredential(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	s.logger.InfoContext(ctx, "Credential created", "credential_id", credential.ID, "provider", credential.Provider)

	return credential, nil
}

func (s *Credential) List(ctx context.Context, owner string) ([]*models.Credential, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrMissingOwner
	}

	credentials, err := s.persistence.Credentials().CredentialsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	return credentials, nil
}

// Delete removes a credential of owner. A credential of another user is
// reported as not found.
func (s *Credential) Delete(ctx context.Context, owner, id string) error {
	credential, err := s.persistence.Credentials().CredentialByID(ctx, id)
	if err != nil {
		return err
	}

	if credential.Owner != owner {
		return fmt.Errorf("credential %s: %w", id, persistence.ErrCredentialNotFound)
	}

	return s.persistence.Credentials().DeleteCredential(ctx, id)
}
