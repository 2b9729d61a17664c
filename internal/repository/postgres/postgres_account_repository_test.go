package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexusedu/credit-service/internal/models"
	repository "github.com/nexusedu/credit-service/internal/repository/postgres"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPostgresAccountRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresAccountRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		account := &models.Account{
			ID:            "acc-1",
			GlobalBalance: 100,
			Buckets: map[string]models.Bucket{
				"email": {ToolID: "email", Label: "Email credits", Balance: 10},
			},
			CreatedAt: time.Now().UnixMilli(),
		}
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO accounts`)).
			WithArgs(account.ID, account.GlobalBalance, account.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO buckets`)).
			WithArgs(account.ID, "email", "Email credits", int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Create(ctx, account)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NilAccount", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresAccountRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresAccountRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, global_balance, created_at FROM accounts WHERE id = $1`)).
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "global_balance", "created_at"}).
				AddRow("acc-1", int64(250), int64(1700000000000)))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT tool_id, label, balance FROM buckets WHERE account_id = $1`)).
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"tool_id", "label", "balance"}).
				AddRow("email", "Email credits", int64(10)))

		account, err := repo.GetByID(ctx, "acc-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(250), account.GlobalBalance)
		assert.Equal(t, int64(10), account.Buckets["email"].Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, global_balance, created_at FROM accounts WHERE id = $1`)).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id", "global_balance", "created_at"}))

		_, err := repo.GetByID(ctx, "ghost")
		assert.ErrorIs(t, err, pkgerrors.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresAccountRepository_Apply(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresAccountRepository(db)
	ctx := context.Background()

	leg := func(amount int64, pocket models.Pocket) *models.Transaction {
		return &models.Transaction{
			ID:         "tx-1",
			AccountID:  "acc-1",
			Amount:     amount,
			ToolID:     "email",
			Type:       models.TypeUsage,
			PocketUsed: pocket,
			Timestamp:  1700000000000,
		}
	}

	t.Run("GlobalDebit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT global_balance FROM accounts WHERE id = $1 FOR UPDATE`)).
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"global_balance"}).AddRow(int64(100)))
		mock.ExpectQuery(`UPDATE accounts SET global_balance`).
			WithArgs(int64(-30), "acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"global_balance"}).AddRow(int64(70)))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT tool_id, label, balance FROM buckets WHERE account_id = $1`)).
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"tool_id", "label", "balance"}))
		mock.ExpectCommit()

		snapshot, err := repo.Apply(ctx, "acc-1", []*models.Transaction{leg(-30, models.PocketGlobal)})
		assert.NoError(t, err)
		assert.Equal(t, int64(70), snapshot.GlobalBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientCredits", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT global_balance FROM accounts WHERE id = $1 FOR UPDATE`)).
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"global_balance"}).AddRow(int64(10)))
		// Conditional update refuses to go below zero: no row comes back.
		mock.ExpectQuery(`UPDATE accounts SET global_balance`).
			WithArgs(int64(-30), "acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"global_balance"}))
		mock.ExpectRollback()

		_, err := repo.Apply(ctx, "acc-1", []*models.Transaction{leg(-30, models.PocketGlobal)})
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AccountNotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT global_balance FROM accounts WHERE id = $1 FOR UPDATE`)).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"global_balance"}))
		mock.ExpectRollback()

		_, err := repo.Apply(ctx, "ghost", []*models.Transaction{{
			ID: "tx-1", AccountID: "ghost", Amount: -1, ToolID: "email", PocketUsed: models.PocketGlobal,
		}})
		assert.ErrorIs(t, err, pkgerrors.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BucketCreatedOnFirstCredit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT global_balance FROM accounts WHERE id = $1 FOR UPDATE`)).
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"global_balance"}).AddRow(int64(0)))
		mock.ExpectQuery(`UPDATE buckets SET balance`).
			WithArgs(int64(15), "acc-1", "email").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO buckets`)).
			WithArgs("acc-1", "email", "email", int64(15)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(15)))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT tool_id, label, balance FROM buckets WHERE account_id = $1`)).
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"tool_id", "label", "balance"}).
				AddRow("email", "email", int64(15)))
		mock.ExpectCommit()

		snapshot, err := repo.Apply(ctx, "acc-1", []*models.Transaction{leg(15, models.PocketSpecialized)})
		assert.NoError(t, err)
		assert.Equal(t, int64(15), snapshot.Buckets["email"].Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingBucketDebitFails", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT global_balance FROM accounts WHERE id = $1 FOR UPDATE`)).
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"global_balance"}).AddRow(int64(100)))
		mock.ExpectQuery(`UPDATE buckets SET balance`).
			WithArgs(int64(-5), "acc-1", "email").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectRollback()

		_, err := repo.Apply(ctx, "acc-1", []*models.Transaction{leg(-5, models.PocketSpecialized)})
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ZeroAmountLegRejectedBeforeAnyQuery", func(t *testing.T) {
		_, err := repo.Apply(ctx, "acc-1", []*models.Transaction{leg(0, models.PocketGlobal)})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NilLeg", func(t *testing.T) {
		_, err := repo.Apply(ctx, "acc-1", []*models.Transaction{nil})
		assert.ErrorIs(t, err, pkgerrors.ErrNilTransaction)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
