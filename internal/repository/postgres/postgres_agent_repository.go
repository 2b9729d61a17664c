package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexusedu/credit-service/internal/models"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
)

type PostgresAgentRepository struct {
	db *sql.DB
}

func NewPostgresAgentRepository(db *sql.DB) *PostgresAgentRepository {
	return &PostgresAgentRepository{db: db}
}

func (r *PostgresAgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	if id == "" {
		return nil, pkgerrors.ErrInvalidArgument
	}

	query := `SELECT id, display_name, role, credit_limit, password_hash FROM agents WHERE id = $1`

	var agent models.Agent
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&agent.ID,
		&agent.DisplayName,
		&agent.Role,
		&agent.CreditLimit,
		&agent.PasswordHash,
	)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrAgentNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get agent by id: %w", err)
	}

	return &agent, nil
}
