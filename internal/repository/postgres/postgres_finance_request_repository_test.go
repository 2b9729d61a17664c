package repository_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexusedu/credit-service/internal/models"
	repository "github.com/nexusedu/credit-service/internal/repository/postgres"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const financeRequestQuery = `id, account_id, agent_id, amount, kind, reason, status, note, resolved_by, resolved_at, created_at`

var financeRequestColumns = []string{"id", "account_id", "agent_id", "amount", "kind", "reason", "status", "note", "resolved_by", "resolved_at", "created_at"}

func TestPostgresFinanceRequestRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresFinanceRequestRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		req := &models.FinanceRequest{
			ID:        "fin-1",
			AccountID: "acc-1",
			AgentID:   "ag-1",
			Amount:    700,
			Kind:      models.KindCreditAddition,
			Reason:    "student lost access for a week",
			Status:    models.RequestPending,
			CreatedAt: 1700000000000,
		}
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO finance_requests`)).
			WithArgs(req.ID, req.AccountID, req.AgentID, req.Amount, req.Kind, req.Reason, req.Status, req.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Create(ctx, req)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NilRequest", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresFinanceRequestRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresFinanceRequestRepository(db)
	ctx := context.Background()

	t.Run("PendingRequestHasNullResolutionFields", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+financeRequestQuery)).
			WithArgs("fin-1").
			WillReturnRows(sqlmock.NewRows(financeRequestColumns).
				AddRow("fin-1", "acc-1", "ag-1", int64(700), "credit_addition", "student lost access", "pending", nil, nil, nil, int64(1700000000000)))

		req, err := repo.GetByID(ctx, "fin-1")
		assert.NoError(t, err)
		assert.Equal(t, models.RequestPending, req.Status)
		assert.Empty(t, req.ResolvedBy)
		assert.Zero(t, req.ResolvedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+financeRequestQuery)).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(financeRequestColumns))

		_, err := repo.GetByID(ctx, "ghost")
		assert.ErrorIs(t, err, pkgerrors.ErrRequestNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresFinanceRequestRepository_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresFinanceRequestRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE finance_requests SET status`).
			WithArgs(models.RequestApproved, "fin-9", "ok", int64(1700000002000), "fin-1", models.RequestPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Resolve(ctx, "fin-1", models.RequestApproved, "fin-9", "ok", 1700000002000)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyResolved", func(t *testing.T) {
		mock.ExpectExec(`UPDATE finance_requests SET status`).
			WithArgs(models.RequestApproved, "fin-9", "", int64(1700000002000), "fin-1", models.RequestPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM finance_requests WHERE id = $1`)).
			WithArgs("fin-1").
			WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		err := repo.Resolve(ctx, "fin-1", models.RequestApproved, "fin-9", "", 1700000002000)
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyResolved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectExec(`UPDATE finance_requests SET status`).
			WithArgs(models.RequestApproved, "fin-9", "", int64(1700000002000), "ghost", models.RequestPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM finance_requests WHERE id = $1`)).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"one"}))

		err := repo.Resolve(ctx, "ghost", models.RequestApproved, "fin-9", "", 1700000002000)
		assert.ErrorIs(t, err, pkgerrors.ErrRequestNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresFinanceRequestRepository_ListByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresFinanceRequestRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + financeRequestQuery)).
		WithArgs(models.RequestPending).
		WillReturnRows(sqlmock.NewRows(financeRequestColumns).
			AddRow("fin-2", "acc-1", "ag-1", int64(500), "refund", "double charge on invoice", "pending", nil, nil, nil, int64(1700000001000)).
			AddRow("fin-1", "acc-2", "ag-2", int64(700), "credit_addition", "student lost access", "pending", nil, nil, nil, int64(1700000000000)))

	out, err := repo.ListByStatus(ctx, models.RequestPending)
	assert.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "fin-2", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
