package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexusedu/credit-service/internal/infrastructure/observability"
	"github.com/nexusedu/credit-service/internal/models"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account == nil || account.ID == "" {
		return pkgerrors.ErrInvalidArgument
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO accounts (id, global_balance, created_at) VALUES ($1, $2, $3)`,
		account.ID, account.GlobalBalance, account.CreatedAt)
	if err == nil {
		for _, b := range account.Buckets {
			if _, err = dbTx.ExecContext(ctx,
				`INSERT INTO buckets (account_id, tool_id, label, balance) VALUES ($1, $2, $3, $4)`,
				account.ID, b.ToolID, b.Label, b.Balance); err != nil {
				break
			}
		}
	}
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "CreateAccount", "error", rbErr)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return dbTx.Commit()
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := r.db.QueryRowContext(ctx,
		`SELECT id, global_balance, created_at FROM accounts WHERE id = $1`, id).
		Scan(&account.ID, &account.GlobalBalance, &account.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	account.Buckets = make(map[string]models.Bucket)
	rows, err := r.db.QueryContext(ctx,
		`SELECT tool_id, label, balance FROM buckets WHERE account_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get buckets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b models.Bucket
		if err := rows.Scan(&b.ToolID, &b.Label, &b.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		account.Buckets[b.ToolID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read buckets: %w", err)
	}
	return &account, nil
}

// Apply mutates balances and inserts ledger rows in one transaction. The
// account row is locked with FOR UPDATE and every balance change is a
// conditional update that refuses to go below zero, so two concurrent
// debits cannot jointly overdraw the account even without the service
// level lock.
func (r *PostgresAccountRepository) Apply(ctx context.Context, accountID string, legs []*models.Transaction) (models.BalanceSnapshot, error) {
	var err error
	tracer := otel.Tracer("account-repository")
	ctx, span := tracer.Start(ctx, "ApplyTransactions")
	span.SetAttributes(attribute.String("account_id", accountID), attribute.Int("legs", len(legs)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ApplyTransactions", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ApplyTransactions").Observe(time.Since(start).Seconds())
	}()

	for _, leg := range legs {
		if leg == nil {
			err = pkgerrors.ErrNilTransaction
			return models.BalanceSnapshot{}, err
		}
		if leg.Amount == 0 || leg.AccountID != accountID {
			err = pkgerrors.ErrInvalidArgument
			return models.BalanceSnapshot{}, err
		}
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Apply", "error", err)
		return models.BalanceSnapshot{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := dbTx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("rollback failed", "method", "Apply", "error", rbErr)
			}
		}
	}()

	var global int64
	err = dbTx.QueryRowContext(ctx,
		`SELECT global_balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&global)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrAccountNotFound
		return models.BalanceSnapshot{}, err
	}
	if err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("failed to lock account: %w", err)
	}

	for _, leg := range legs {
		switch leg.PocketUsed {
		case models.PocketGlobal:
			err = dbTx.QueryRowContext(ctx,
				`UPDATE accounts SET global_balance = global_balance + $1
				 WHERE id = $2 AND global_balance + $1 >= 0
				 RETURNING global_balance`,
				leg.Amount, accountID).Scan(&global)
			if stderrors.Is(err, sql.ErrNoRows) {
				err = pkgerrors.ErrInsufficientCredits
				return models.BalanceSnapshot{}, err
			}
			if err != nil {
				return models.BalanceSnapshot{}, fmt.Errorf("failed to update global balance: %w", err)
			}
		case models.PocketSpecialized:
			var balance int64
			err = dbTx.QueryRowContext(ctx,
				`UPDATE buckets SET balance = balance + $1
				 WHERE account_id = $2 AND tool_id = $3 AND balance + $1 >= 0
				 RETURNING balance`,
				leg.Amount, accountID, leg.ToolID).Scan(&balance)
			if stderrors.Is(err, sql.ErrNoRows) {
				if leg.Amount < 0 {
					err = pkgerrors.ErrInsufficientCredits
					return models.BalanceSnapshot{}, err
				}
				// First credit for this tool creates the bucket.
				err = dbTx.QueryRowContext(ctx,
					`INSERT INTO buckets (account_id, tool_id, label, balance)
					 VALUES ($1, $2, $3, $4)
					 ON CONFLICT (account_id, tool_id)
					 DO UPDATE SET balance = buckets.balance + EXCLUDED.balance
					 RETURNING balance`,
					accountID, leg.ToolID, leg.ToolID, leg.Amount).Scan(&balance)
				if err != nil {
					return models.BalanceSnapshot{}, fmt.Errorf("failed to create bucket: %w", err)
				}
			} else if err != nil {
				return models.BalanceSnapshot{}, fmt.Errorf("failed to update bucket: %w", err)
			}
		default:
			err = pkgerrors.ErrInvalidArgument
			return models.BalanceSnapshot{}, err
		}

		_, err = dbTx.ExecContext(ctx,
			`INSERT INTO transactions (id, account_id, amount, tool_id, type, pocket_used, description, correlation_id, gateway_reference, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			leg.ID, leg.AccountID, leg.Amount, leg.ToolID, leg.Type, leg.PocketUsed,
			leg.Description, leg.CorrelationID, leg.GatewayReference, leg.Timestamp)
		if err != nil {
			return models.BalanceSnapshot{}, fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	snapshot := models.BalanceSnapshot{GlobalBalance: global, Buckets: make(map[string]models.Bucket)}
	var rows *sql.Rows
	rows, err = dbTx.QueryContext(ctx,
		`SELECT tool_id, label, balance FROM buckets WHERE account_id = $1`, accountID)
	if err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("failed to read buckets: %w", err)
	}
	for rows.Next() {
		var b models.Bucket
		if err = rows.Scan(&b.ToolID, &b.Label, &b.Balance); err != nil {
			rows.Close()
			return models.BalanceSnapshot{}, fmt.Errorf("failed to scan bucket: %w", err)
		}
		snapshot.Buckets[b.ToolID] = b
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("failed to read buckets: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Apply", "error", err)
		return models.BalanceSnapshot{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("ledger batch applied", "method", "Apply", "account_id", accountID, "legs", len(legs))
	return snapshot, nil
}
