package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// CredentialRepository handles credential-related database operations.
type CredentialRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *sql.DB, logger *slog.Logger) *CredentialRepository {
	return &CredentialRepository{db: db, logger: logger}
}

func (r *CredentialRepository) CreateCredential(ctx context.Context, credential *models.Credential) error {
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO credentials (id, owner, name, provider, value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		credential.ID,
		credential.Owner,
		credential.Name,
		string(credential.Provider),
		credential.Value,
		credential.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", credential.ID, err)
	}

	return nil
}

func (r *CredentialRepository) CredentialByID(ctx context.Context, id string) (*models.Credential, error) {
	query := `
		SELECT id, owner, name, provider, value, created_at
		FROM credentials
		WHERE id = $1
	`

	credential, err := scanCredential(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrCredentialNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query credential %s: %w", id, err)
	}

	return credential, nil
}

func (r *CredentialRepository) CredentialsByOwner(ctx context.Context, owner string) ([]*models.Credential, error) {
	query := `
		SELECT id, owner, name, provider, value, created_at
		FROM credentials
		WHERE owner = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	credentials := make([]*models.Credential, 0)

	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}

		credentials = append(credentials, credential)
	}

	return credentials, rows.Err()
}

func (r *CredentialRepository) DeleteCredential(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM credentials WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete credential %s: %w", id, err)
	}

	return expectOneRow(result, persistence.ErrCredentialNotFound)
}

func scanCredential(scanner interface {
	Scan(dest ...any) error
}) (*models.Credential, error) {
	var (
		credential models.Credential
		provider   string
	)

	err := scanner.Scan(&credential.ID, &credential.Owner, &credential.Name, &provider, &credential.Value, &credential.CreatedAt)
	if err != nil {
		return nil, err
	}

	credential.Provider = models.CredentialProvider(provider)

	return &credential, nil
}
