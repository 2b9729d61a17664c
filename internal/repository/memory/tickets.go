package memory

import (
	"context"
	"sort"

	"github.com/nexusedu/credit-service/internal/models"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
)

type TicketRepository struct {
	s *Store
}

func (r *TicketRepository) Create(ctx context.Context, ticket *models.SupportTicket) error {
	if ticket == nil || ticket.ID == "" {
		return pkgerrors.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (r *TicketRepository) GetByID(ctx context.Context, id string) (*models.SupportTicket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, pkgerrors.ErrTicketNotFound
	}
	return cloneTicket(t), nil
}

func (r *TicketRepository) List(ctx context.Context) ([]models.SupportTicket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.SupportTicket, 0, len(r.s.tickets))
	for _, t := range r.s.tickets {
		out = append(out, *cloneTicket(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *TicketRepository) UpdateStatus(ctx context.Context, id string, from, to models.TicketStatus, escalated bool, priority models.TicketPriority) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return pkgerrors.ErrTicketNotFound
	}
	if t.Status != from {
		return pkgerrors.ErrIllegalTransition
	}
	t.Status = to
	t.IsEscalated = escalated
	if priority != "" {
		t.Priority = priority
	}
	return nil
}

func (r *TicketRepository) AppendMessage(ctx context.Context, ticketID string, msg *models.Message) error {
	if msg == nil {
		return pkgerrors.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[ticketID]
	if !ok {
		return pkgerrors.ErrTicketNotFound
	}
	t.Messages = append(t.Messages, *msg)
	t.LastMessageAt = msg.CreatedAt
	return nil
}

func (r *TicketRepository) SetNPS(ctx context.Context, id string, score int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return pkgerrors.ErrTicketNotFound
	}
	if t.Status != models.StatusResolved || t.NPS != nil {
		return pkgerrors.ErrIllegalTransition
	}
	t.NPS = &score
	return nil
}

type FinanceRequestRepository struct {
	s *Store
}

func (r *FinanceRequestRepository) Create(ctx context.Context, req *models.FinanceRequest) error {
	if req == nil || req.ID == "" {
		return pkgerrors.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *req
	r.s.requests[cp.ID] = &cp
	return nil
}

func (r *FinanceRequestRepository) GetByID(ctx context.Context, id string) (*models.FinanceRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, pkgerrors.ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *FinanceRequestRepository) ListByStatus(ctx context.Context, status models.RequestStatus) ([]models.FinanceRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.FinanceRequest, 0)
	for _, req := range r.s.requests {
		if req.Status == status {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (r *FinanceRequestRepository) Resolve(ctx context.Context, id string, status models.RequestStatus, resolvedBy, note string, resolvedAt int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return pkgerrors.ErrRequestNotFound
	}
	if req.Status != models.RequestPending {
		return pkgerrors.ErrAlreadyResolved
	}
	req.Status = status
	req.ResolvedBy = resolvedBy
	req.Note = note
	req.ResolvedAt = resolvedAt
	return nil
}
