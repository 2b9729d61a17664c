package memory

import (
	"context"

	"github.com/nexusedu/credit-service/internal/models"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
)

type AccountRepository struct {
	s *Store
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account == nil || account.ID == "" {
		return pkgerrors.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := cloneAccount(account)
	if c.Buckets == nil {
		c.Buckets = make(map[string]models.Bucket)
	}
	r.s.accounts[c.ID] = c
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, pkgerrors.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (r *AccountRepository) Apply(ctx context.Context, accountID string, legs []*models.Transaction) (models.BalanceSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[accountID]
	if !ok {
		return models.BalanceSnapshot{}, pkgerrors.ErrAccountNotFound
	}

	// Stage on a copy so a rejected batch leaves the account untouched.
	staged := cloneAccount(a)
	for _, leg := range legs {
		if leg == nil {
			return models.BalanceSnapshot{}, pkgerrors.ErrNilTransaction
		}
		if leg.Amount == 0 || leg.AccountID != accountID {
			return models.BalanceSnapshot{}, pkgerrors.ErrInvalidArgument
		}
		switch leg.PocketUsed {
		case models.PocketGlobal:
			if staged.GlobalBalance+leg.Amount < 0 {
				return models.BalanceSnapshot{}, pkgerrors.ErrInsufficientCredits
			}
			staged.GlobalBalance += leg.Amount
		case models.PocketSpecialized:
			b, ok := staged.Buckets[leg.ToolID]
			if !ok {
				if leg.Amount < 0 {
					return models.BalanceSnapshot{}, pkgerrors.ErrInsufficientCredits
				}
				b = models.Bucket{ToolID: leg.ToolID, Label: leg.ToolID}
			}
			if b.Balance+leg.Amount < 0 {
				return models.BalanceSnapshot{}, pkgerrors.ErrInsufficientCredits
			}
			b.Balance += leg.Amount
			staged.Buckets[leg.ToolID] = b
		default:
			return models.BalanceSnapshot{}, pkgerrors.ErrInvalidArgument
		}
	}

	r.s.accounts[accountID] = staged
	for _, leg := range legs {
		cp := *leg
		r.s.transactions[cp.ID] = &cp
		r.s.txByAccount[accountID] = append(r.s.txByAccount[accountID], cp.ID)
	}
	return staged.Snapshot(), nil
}

type TransactionRepository struct {
	s *Store
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	tx, ok := r.s.transactions[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID string) ([]models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ids := r.s.txByAccount[accountID]
	out := make([]models.Transaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // newest first
		out = append(out, *r.s.transactions[ids[i]])
	}
	return out, nil
}

type AgentRepository struct {
	s *Store
}

func (r *AgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.agents[id]
	if !ok {
		return nil, pkgerrors.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}
