package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/nexusedu/credit-service/internal/models"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
)

type PostgresFinanceRequestRepository struct {
	db *sql.DB
}

func NewPostgresFinanceRequestRepository(db *sql.DB) *PostgresFinanceRequestRepository {
	return &PostgresFinanceRequestRepository{db: db}
}

const financeRequestColumns = `id, account_id, agent_id, amount, kind, reason, status, note, resolved_by, resolved_at, created_at`

func scanFinanceRequest(row interface{ Scan(...any) error }) (*models.FinanceRequest, error) {
	var req models.FinanceRequest
	var note, resolvedBy sql.NullString
	var resolvedAt sql.NullInt64
	err := row.Scan(&req.ID, &req.AccountID, &req.AgentID, &req.Amount, &req.Kind,
		&req.Reason, &req.Status, &note, &resolvedBy, &resolvedAt, &req.CreatedAt)
	if err != nil {
		return nil, err
	}
	req.Note = note.String
	req.ResolvedBy = resolvedBy.String
	req.ResolvedAt = resolvedAt.Int64
	return &req, nil
}

func (r *PostgresFinanceRequestRepository) Create(ctx context.Context, req *models.FinanceRequest) error {
	if req == nil || req.ID == "" {
		return pkgerrors.ErrInvalidArgument
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO finance_requests (id, account_id, agent_id, amount, kind, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.AccountID, req.AgentID, req.Amount, req.Kind, req.Reason, req.Status, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create finance request: %w", err)
	}
	return nil
}

func (r *PostgresFinanceRequestRepository) GetByID(ctx context.Context, id string) (*models.FinanceRequest, error) {
	query := `SELECT ` + financeRequestColumns + ` FROM finance_requests WHERE id = $1`
	req, err := scanFinanceRequest(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get finance request: %w", err)
	}
	return req, nil
}

func (r *PostgresFinanceRequestRepository) ListByStatus(ctx context.Context, status models.RequestStatus) ([]models.FinanceRequest, error) {
	query := `SELECT ` + financeRequestColumns + ` FROM finance_requests WHERE status = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list finance requests: %w", err)
	}
	defer rows.Close()

	var out []models.FinanceRequest
	for rows.Next() {
		req, err := scanFinanceRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finance request: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read finance requests: %w", err)
	}
	return out, nil
}

// Resolve flips a pending request to its terminal status. The WHERE clause
// on pending is the idempotency protection: a request that already left
// pending comes back AlreadyResolved.
func (r *PostgresFinanceRequestRepository) Resolve(ctx context.Context, id string, status models.RequestStatus, resolvedBy, note string, resolvedAt int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE finance_requests SET status = $1, resolved_by = $2, note = $3, resolved_at = $4
		 WHERE id = $5 AND status = $6`,
		status, resolvedBy, note, resolvedAt, id, models.RequestPending)
	if err != nil {
		return fmt.Errorf("failed to resolve finance request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM finance_requests WHERE id = $1`, id).Scan(&one)
		if stderrors.Is(err, sql.ErrNoRows) {
			return pkgerrors.ErrRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check finance request: %w", err)
		}
		return pkgerrors.ErrAlreadyResolved
	}
	return nil
}
