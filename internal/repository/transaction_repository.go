package repository

import (
	"context"

	"github.com/nexusedu/credit-service/internal/models"
)

// TransactionRepository is the read side of the ledger. Entries are written
// only through AccountRepository.Apply and are never mutated or deleted.
type TransactionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	ListByAccount(ctx context.Context, accountID string) ([]models.Transaction, error)
}
