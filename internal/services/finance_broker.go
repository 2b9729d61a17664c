package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexusedu/credit-service/internal/audit"
	"github.com/nexusedu/credit-service/internal/models"
	"github.com/nexusedu/credit-service/internal/repository"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Reasons shorter than this are useless in an audit review.
const minReasonLength = 10

// ProposalResult is the outcome of an agent proposing a credit operation:
// either it was applied directly (Transaction set) or it was held for
// higher approval (Request set).
type ProposalResult struct {
	Decision    Decision               `json:"decision"`
	Transaction *models.Transaction    `json:"transaction,omitempty"`
	Request     *models.FinanceRequest `json:"request,omitempty"`
}

type FinanceBroker interface {
	Propose(ctx context.Context, agentID, accountID string, amount int64, kind models.RequestKind, reason string) (*ProposalResult, error)
	Create(ctx context.Context, agentID, accountID string, amount int64, kind models.RequestKind, reason string) (*models.FinanceRequest, error)
	Resolve(ctx context.Context, requestID string, decision models.RequestStatus, resolverID, note string) (*models.FinanceRequest, error)
	ListPending(ctx context.Context) ([]models.FinanceRequest, error)
}

type financeBroker struct {
	requests repository.FinanceRequestRepository
	agents   repository.AgentRepository
	accounts repository.AccountRepository
	wallet   WalletService
	auditor  *audit.Recorder
}

func NewFinanceBroker(
	requests repository.FinanceRequestRepository,
	agents repository.AgentRepository,
	accounts repository.AccountRepository,
	wallet WalletService,
	auditor *audit.Recorder,
) *financeBroker {
	return &financeBroker{
		requests: requests,
		agents:   agents,
		accounts: accounts,
		wallet:   wallet,
		auditor:  auditor,
	}
}

func validKind(kind models.RequestKind) bool {
	return kind == models.KindCreditAddition || kind == models.KindRefund
}

// Propose runs the authorization policy for an agent-initiated credit
// operation: within the agent's limit it is applied immediately and
// audited; over the limit a pending finance request is created instead.
func (b *financeBroker) Propose(ctx context.Context, agentID, accountID string, amount int64, kind models.RequestKind, reason string) (*ProposalResult, error) {
	tracer := otel.Tracer("finance-broker")
	ctx, span := tracer.Start(ctx, "Propose")
	defer span.End()

	if amount <= 0 || !validKind(kind) {
		span.SetStatus(codes.Error, "invalid proposal")
		return nil, pkgerrors.ErrInvalidArgument
	}
	if len(strings.TrimSpace(reason)) < minReasonLength {
		span.SetStatus(codes.Error, "reason too short")
		return nil, pkgerrors.ErrInvalidArgument
	}

	agent, err := b.agents.GetByID(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		slog.Error("unknown agent in proposal", "agent_id", agentID, "error", err)
		return nil, err
	}

	if Authorize(agent, amount) == DecisionRequiresEscalation {
		req, err := b.Create(ctx, agentID, accountID, amount, kind, reason)
		if err != nil {
			return nil, err
		}
		return &ProposalResult{Decision: DecisionRequiresEscalation, Request: req}, nil
	}

	tx, err := b.applyOperation(ctx, accountID, amount, kind, reason)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	action := audit.ActionCreditAddDirect
	if kind == models.KindRefund {
		action = audit.ActionCreditRefundDirect
	}
	b.auditor.Record(agentID, action, audit.SeverityMedium,
		fmt.Sprintf("agent %s processed %d credits for account %s. Reason: %s", agentID, amount, accountID, reason))

	return &ProposalResult{Decision: DecisionDirect, Transaction: tx}, nil
}

// Create records a pending finance request for a higher tier to resolve.
func (b *financeBroker) Create(ctx context.Context, agentID, accountID string, amount int64, kind models.RequestKind, reason string) (*models.FinanceRequest, error) {
	tracer := otel.Tracer("finance-broker")
	ctx, span := tracer.Start(ctx, "CreateRequest")
	defer span.End()

	if amount <= 0 || !validKind(kind) {
		span.SetStatus(codes.Error, "invalid request")
		return nil, pkgerrors.ErrInvalidArgument
	}
	if len(strings.TrimSpace(reason)) < minReasonLength {
		span.SetStatus(codes.Error, "reason too short")
		return nil, pkgerrors.ErrInvalidArgument
	}
	if _, err := b.accounts.GetByID(ctx, accountID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, err := b.agents.GetByID(ctx, agentID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	req := &models.FinanceRequest{
		ID:        newID("fin"),
		AccountID: accountID,
		AgentID:   agentID,
		Amount:    amount,
		Kind:      kind,
		Reason:    reason,
		Status:    models.RequestPending,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := b.requests.Create(ctx, req); err != nil {
		span.RecordError(err)
		slog.Error("failed to create finance request", "agent_id", agentID, "account_id", accountID, "error", err)
		return nil, err
	}

	slog.Info("finance request created", "request_id", req.ID, "agent_id", agentID, "account_id", accountID, "amount", amount, "kind", kind)
	return req, nil
}

// Resolve settles a pending request. The status flip is a compare-and-swap
// on pending, so a second resolution attempt fails with AlreadyResolved and
// applies nothing. Approval triggers exactly one ledger operation.
func (b *financeBroker) Resolve(ctx context.Context, requestID string, decision models.RequestStatus, resolverID, note string) (*models.FinanceRequest, error) {
	tracer := otel.Tracer("finance-broker")
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()

	if decision != models.RequestApproved && decision != models.RequestRejected {
		span.SetStatus(codes.Error, "invalid decision")
		return nil, pkgerrors.ErrInvalidArgument
	}

	resolver, err := b.agents.GetByID(ctx, resolverID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !resolver.Role.Can(models.CapResolveSpend) {
		span.SetStatus(codes.Error, "resolver lacks capability")
		slog.Error("resolver not allowed to settle finance requests", "resolver_id", resolverID, "role", resolver.Role)
		return nil, pkgerrors.ErrInvalidArgument
	}

	req, err := b.requests.GetByID(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := b.requests.Resolve(ctx, requestID, decision, resolverID, note, time.Now().UnixMilli()); err != nil {
		span.RecordError(err)
		slog.Warn("finance request resolution rejected", "request_id", requestID, "error", err)
		return nil, err
	}

	if decision == models.RequestApproved {
		description := fmt.Sprintf("approved via request %s: %s", req.ID, req.Reason)
		if _, err := b.applyOperation(ctx, req.AccountID, req.Amount, req.Kind, description); err != nil {
			span.RecordError(err)
			slog.Error("approved request but ledger apply failed", "request_id", requestID, "account_id", req.AccountID, "error", err)
			return nil, fmt.Errorf("%w: request %s approved but not applied", pkgerrors.ErrInternal, requestID)
		}
		b.auditor.Record(resolverID, audit.ActionFinanceApproved, audit.SeverityCritical,
			fmt.Sprintf("finance request %s APPROVED: %d credits for account %s", requestID, req.Amount, req.AccountID))
	} else {
		b.auditor.Record(resolverID, audit.ActionFinanceRejected, audit.SeverityMedium,
			fmt.Sprintf("finance request %s REJECTED", requestID))
	}

	return b.requests.GetByID(ctx, requestID)
}

func (b *financeBroker) ListPending(ctx context.Context) ([]models.FinanceRequest, error) {
	return b.requests.ListByStatus(ctx, models.RequestPending)
}

func (b *financeBroker) applyOperation(ctx context.Context, accountID string, amount int64, kind models.RequestKind, description string) (*models.Transaction, error) {
	if kind == models.KindRefund {
		return b.wallet.Refund(ctx, accountID, amount, models.ToolGlobal, description)
	}
	return b.wallet.Credit(ctx, accountID, amount, models.ToolGlobal, description, "")
}
