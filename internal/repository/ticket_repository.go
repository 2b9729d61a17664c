package repository

import (
	"context"

	"github.com/nexusedu/credit-service/internal/models"
)

// TicketRepository is the durable ticket store. UpdateStatus is a
// compare-and-swap on the current status so that two agents racing on the
// same ticket have exactly one winner; a mismatch returns
// ErrIllegalTransition and mutates nothing.
type TicketRepository interface {
	Create(ctx context.Context, ticket *models.SupportTicket) error
	GetByID(ctx context.Context, id string) (*models.SupportTicket, error)
	List(ctx context.Context) ([]models.SupportTicket, error)
	UpdateStatus(ctx context.Context, id string, from, to models.TicketStatus, escalated bool, priority models.TicketPriority) error
	AppendMessage(ctx context.Context, ticketID string, msg *models.Message) error
	SetNPS(ctx context.Context, id string, score int) error
}
