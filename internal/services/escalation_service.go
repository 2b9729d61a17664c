package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nexusedu/credit-service/internal/audit"
	"github.com/nexusedu/credit-service/internal/models"
	"github.com/nexusedu/credit-service/internal/repository"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// TicketAction is a requested state-machine transition.
type TicketAction string

const (
	ActionClaim           TicketAction = "claim"
	ActionEscalateFinance TicketAction = "escalate_finance"
	ActionEscalateAdmin   TicketAction = "escalate_admin"
	ActionPickup          TicketAction = "pickup"
	ActionProposeClosure  TicketAction = "propose_closure"
	ActionResolve         TicketAction = "resolve"
)

type EscalationService interface {
	Open(ctx context.Context, studentID, subject, text string) (*models.SupportTicket, error)
	Get(ctx context.Context, ticketID string) (*models.SupportTicket, error)
	Transition(ctx context.Context, ticketID string, agent *models.Agent, action TicketAction, reason string) (*models.SupportTicket, error)
	PostMessage(ctx context.Context, ticketID, authorID, authorRole, text string, isInternal bool, attachmentURL string) (*models.Message, error)
	Queue(ctx context.Context) ([]models.SupportTicket, error)
	RecordNPS(ctx context.Context, ticketID string, score int) error
}

type escalationService struct {
	tickets repository.TicketRepository
	auditor *audit.Recorder
}

func NewEscalationService(tickets repository.TicketRepository, auditor *audit.Recorder) *escalationService {
	return &escalationService{tickets: tickets, auditor: auditor}
}

func (s *escalationService) Open(ctx context.Context, studentID, subject, text string) (*models.SupportTicket, error) {
	tracer := otel.Tracer("escalation-service")
	ctx, span := tracer.Start(ctx, "OpenTicket")
	defer span.End()

	if studentID == "" || strings.TrimSpace(subject) == "" {
		span.SetStatus(codes.Error, "invalid ticket request")
		return nil, pkgerrors.ErrInvalidArgument
	}

	now := time.Now().UnixMilli()
	ticket := &models.SupportTicket{
		ID:            newID("tic"),
		StudentID:     studentID,
		Subject:       subject,
		Status:        models.StatusOpen,
		Priority:      models.PriorityMedium,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if strings.TrimSpace(text) != "" {
		ticket.Messages = []models.Message{{
			ID:         newID("msg"),
			TicketID:   ticket.ID,
			AuthorID:   studentID,
			AuthorRole: "student",
			Text:       text,
			CreatedAt:  now,
		}}
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		span.RecordError(err)
		slog.Error("failed to create ticket", "student_id", studentID, "error", err)
		return nil, err
	}

	slog.Info("ticket opened", "ticket_id", ticket.ID, "student_id", studentID)
	return ticket, nil
}

func (s *escalationService) Get(ctx context.Context, ticketID string) (*models.SupportTicket, error) {
	return s.tickets.GetByID(ctx, ticketID)
}

func (s *escalationService) Transition(ctx context.Context, ticketID string, agent *models.Agent, action TicketAction, reason string) (*models.SupportTicket, error) {
	tracer := otel.Tracer("escalation-service")
	ctx, span := tracer.Start(ctx, "Transition")
	defer span.End()

	if agent == nil {
		span.SetStatus(codes.Error, "no agent")
		return nil, pkgerrors.ErrInvalidArgument
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	switch action {
	case ActionClaim:
		err = s.claim(ctx, ticket, agent)
	case ActionEscalateFinance:
		err = s.escalate(ctx, ticket, agent, models.StatusPendingFinance, reason)
	case ActionEscalateAdmin:
		err = s.escalate(ctx, ticket, agent, models.StatusPendingAdmin, reason)
	case ActionPickup:
		err = s.pickup(ctx, ticket, agent)
	case ActionProposeClosure:
		err = s.proposeClosure(ctx, ticket, agent)
	case ActionResolve:
		err = s.resolve(ctx, ticket, agent)
	default:
		err = pkgerrors.ErrInvalidArgument
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(action)+" failed")
		slog.Warn("ticket transition rejected", "ticket_id", ticketID, "agent_id", agent.ID, "action", action, "status", ticket.Status, "error", err)
		return nil, err
	}

	updated, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	slog.Info("ticket transitioned", "ticket_id", ticketID, "agent_id", agent.ID, "action", action, "status", updated.Status)
	return updated, nil
}

func (s *escalationService) claim(ctx context.Context, ticket *models.SupportTicket, agent *models.Agent) error {
	if !agent.Role.Can(models.CapClaimTicket) {
		return pkgerrors.ErrIllegalTransition
	}
	// CAS in the store decides the winner when two agents race on the
	// same open ticket.
	return s.tickets.UpdateStatus(ctx, ticket.ID, models.StatusOpen, models.StatusInProgress, ticket.IsEscalated, "")
}

func (s *escalationService) escalate(ctx context.Context, ticket *models.SupportTicket, agent *models.Agent, target models.TicketStatus, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return pkgerrors.ErrInvalidArgument
	}
	if !agent.Role.Can(models.CapEscalate) {
		return pkgerrors.ErrIllegalTransition
	}
	if ticket.Status != models.StatusOpen && ticket.Status != models.StatusInProgress {
		return pkgerrors.ErrIllegalTransition
	}

	if err := s.tickets.UpdateStatus(ctx, ticket.ID, ticket.Status, target, true, models.PriorityHigh); err != nil {
		return err
	}

	tier := "FINANCE"
	if target == models.StatusPendingAdmin {
		tier = "ADMIN"
	}
	msg := &models.Message{
		ID:         newID("msg"),
		TicketID:   ticket.ID,
		AuthorID:   agent.ID,
		AuthorRole: string(agent.Role),
		Text:       fmt.Sprintf("TICKET ESCALATED TO %s: %s", tier, reason),
		IsInternal: true,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := s.tickets.AppendMessage(ctx, ticket.ID, msg); err != nil {
		slog.Error("failed to append escalation note", "ticket_id", ticket.ID, "error", err)
		return err
	}

	s.auditor.Record(agent.ID, audit.ActionTicketEscalated, audit.SeverityMedium,
		fmt.Sprintf("ticket %s escalated to %s: %s", ticket.ID, tier, reason))
	return nil
}

func (s *escalationService) pickup(ctx context.Context, ticket *models.SupportTicket, agent *models.Agent) error {
	var needed models.Capability
	switch ticket.Status {
	case models.StatusPendingFinance:
		needed = models.CapPickupFinance
	case models.StatusPendingAdmin:
		needed = models.CapPickupAdmin
	default:
		return pkgerrors.ErrIllegalTransition
	}
	if !agent.Role.Can(needed) {
		return pkgerrors.ErrIllegalTransition
	}
	// isEscalated clears; the escalation note stays in the transcript.
	return s.tickets.UpdateStatus(ctx, ticket.ID, ticket.Status, models.StatusInProgress, false, "")
}

func (s *escalationService) proposeClosure(ctx context.Context, ticket *models.SupportTicket, agent *models.Agent) error {
	if !agent.Role.Can(models.CapResolveTicket) {
		return pkgerrors.ErrIllegalTransition
	}
	return s.tickets.UpdateStatus(ctx, ticket.ID, models.StatusInProgress, models.StatusPendingClosure, ticket.IsEscalated, "")
}

func (s *escalationService) resolve(ctx context.Context, ticket *models.SupportTicket, agent *models.Agent) error {
	if !agent.Role.Can(models.CapResolveTicket) {
		return pkgerrors.ErrIllegalTransition
	}
	if ticket.Status != models.StatusInProgress && ticket.Status != models.StatusPendingClosure {
		return pkgerrors.ErrIllegalTransition
	}
	return s.tickets.UpdateStatus(ctx, ticket.ID, ticket.Status, models.StatusResolved, ticket.IsEscalated, "")
}

func (s *escalationService) PostMessage(ctx context.Context, ticketID, authorID, authorRole, text string, isInternal bool, attachmentURL string) (*models.Message, error) {
	tracer := otel.Tracer("escalation-service")
	ctx, span := tracer.Start(ctx, "PostMessage")
	defer span.End()

	if authorID == "" || strings.TrimSpace(text) == "" {
		span.SetStatus(codes.Error, "invalid message")
		return nil, pkgerrors.ErrInvalidArgument
	}

	msg := &models.Message{
		ID:            newID("msg"),
		TicketID:      ticketID,
		AuthorID:      authorID,
		AuthorRole:    authorRole,
		Text:          text,
		AttachmentURL: attachmentURL,
		IsInternal:    isInternal,
		CreatedAt:     time.Now().UnixMilli(),
	}

	// Posting never changes status, even on resolved tickets: late
	// messages are kept for audit.
	if err := s.tickets.AppendMessage(ctx, ticketID, msg); err != nil {
		span.RecordError(err)
		slog.Error("failed to append message", "ticket_id", ticketID, "author_id", authorID, "error", err)
		return nil, err
	}

	slog.Info("message appended", "ticket_id", ticketID, "author_id", authorID, "internal", isInternal)
	return msg, nil
}

// Queue returns unresolved tickets, escalated ones first, then by most
// recent activity.
func (s *escalationService) Queue(ctx context.Context) ([]models.SupportTicket, error) {
	tracer := otel.Tracer("escalation-service")
	ctx, span := tracer.Start(ctx, "Queue")
	defer span.End()

	all, err := s.tickets.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	queue := make([]models.SupportTicket, 0, len(all))
	for _, t := range all {
		if t.Status != models.StatusResolved {
			queue = append(queue, t)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].IsEscalated != queue[j].IsEscalated {
			return queue[i].IsEscalated
		}
		return queue[i].LastMessageAt > queue[j].LastMessageAt
	})
	return queue, nil
}

func (s *escalationService) RecordNPS(ctx context.Context, ticketID string, score int) error {
	if score < 0 || score > 10 {
		return pkgerrors.ErrInvalidArgument
	}
	if err := s.tickets.SetNPS(ctx, ticketID, score); err != nil {
		slog.Warn("nps rejected", "ticket_id", ticketID, "score", score, "error", err)
		return err
	}
	slog.Info("nps recorded", "ticket_id", ticketID, "score", score)
	return nil
}
