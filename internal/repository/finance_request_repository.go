package repository

import (
	"context"

	"github.com/nexusedu/credit-service/internal/models"
)

// FinanceRequestRepository stores held credit operations. Resolve flips a
// pending request to its terminal status; a request that is no longer
// pending returns ErrAlreadyResolved so the caller is forced to reconcile.
type FinanceRequestRepository interface {
	Create(ctx context.Context, req *models.FinanceRequest) error
	GetByID(ctx context.Context, id string) (*models.FinanceRequest, error)
	ListByStatus(ctx context.Context, status models.RequestStatus) ([]models.FinanceRequest, error)
	Resolve(ctx context.Context, id string, status models.RequestStatus, resolvedBy, note string, resolvedAt int64) error
}
