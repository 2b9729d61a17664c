package repository

import (
	"context"

	"github.com/nexusedu/credit-service/internal/models"
)

// AccountRepository is the ledger store for balances. Apply is the single
// write path: it adjusts the global balance and bucket balances by the
// signed amounts of the given legs and records them as ledger entries in one
// atomic unit. If any balance would go negative, nothing is written and
// ErrInsufficientCredits is returned.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Apply(ctx context.Context, accountID string, legs []*models.Transaction) (models.BalanceSnapshot, error)
}
