package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nexusedu/credit-service/internal/classifier"
	"github.com/nexusedu/credit-service/internal/infrastructure/auth"
	"github.com/nexusedu/credit-service/internal/models"
	service "github.com/nexusedu/credit-service/internal/services"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
)

type Handler struct {
	wallet     service.WalletService
	escalation service.EscalationService
	broker     service.FinanceBroker
	agents     service.AgentService
}

func NewHandler(
	wallet service.WalletService,
	escalation service.EscalationService,
	broker service.FinanceBroker,
	agents service.AgentService,
) *Handler {
	return &Handler{
		wallet:     wallet,
		escalation: escalation,
		broker:     broker,
		agents:     agents,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrAccountNotFound),
		errors.Is(err, pkgerrors.ErrTicketNotFound),
		errors.Is(err, pkgerrors.ErrRequestNotFound),
		errors.Is(err, pkgerrors.ErrAgentNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInsufficientCredits),
		errors.Is(err, pkgerrors.ErrIllegalTransition),
		errors.Is(err, pkgerrors.ErrAlreadyResolved),
		errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed),
		errors.Is(err, pkgerrors.ErrBalanceLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// agentFromContext loads the agent the auth middleware put in the request
// context.
func (h *Handler) agentFromContext(r *http.Request) (*models.Agent, error) {
	agentID, ok := r.Context().Value(auth.CtxAgentID).(string)
	if !ok || agentID == "" {
		return nil, pkgerrors.ErrInvalidCredentials
	}
	return h.agents.GetAgent(r.Context(), agentID)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID  string `json:"agentId"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	token, err := h.agents.Login(r.Context(), req.AgentID, req.Password)
	if err != nil {
		slog.Error("login failed", "agent_id", req.AgentID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	var req struct {
		ToolID      string `json:"toolId"`
		Cost        int64  `json:"cost"`
		Description string `json:"description"`
		RequestID   string `json:"requestId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := h.wallet.Consume(r.Context(), accountID, req.ToolID, req.Cost, req.Description, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	h.propose(w, r, models.KindCreditAddition)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.propose(w, r, models.KindRefund)
}

// propose runs an agent-initiated credit or refund through the
// authorization policy. Within the agent's limit the operation applies
// immediately; over it the response carries the pending finance request.
func (h *Handler) propose(w http.ResponseWriter, r *http.Request, kind models.RequestKind) {
	accountID := mux.Vars(r)["id"]
	agentID, _ := r.Context().Value(auth.CtxAgentID).(string)

	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := h.broker.Propose(r.Context(), agentID, accountID, req.Amount, kind, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if result.Decision == service.DecisionRequiresEscalation {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.wallet.GetBalance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.wallet.GetHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) OpenTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID string `json:"studentId"`
		Subject   string `json:"subject"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ticket, err := h.escalation.Open(r.Context(), req.StudentID, req.Subject, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := struct {
		Ticket        *models.SupportTicket `json:"ticket"`
		SuggestedTier string                `json:"suggestedTier,omitempty"`
	}{Ticket: ticket}
	// Advisory only: the hint never moves the ticket anywhere.
	if tier, ok := classifier.SuggestTier(req.Subject + " " + req.Text); ok {
		resp.SuggestedTier = string(tier)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.escalation.Queue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.escalation.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	ticketID := mux.Vars(r)["id"]
	agent, err := h.agentFromContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	action := service.TicketAction(req.Action)
	if req.Action == "start" {
		action = service.ActionClaim
	}

	ticket, err := h.escalation.Transition(r.Context(), ticketID, agent, action, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	ticketID := mux.Vars(r)["id"]
	agentID, _ := r.Context().Value(auth.CtxAgentID).(string)
	role, _ := r.Context().Value(auth.CtxAgentRole).(string)

	var req struct {
		Text          string `json:"text"`
		IsInternal    bool   `json:"isInternal"`
		AttachmentURL string `json:"attachmentUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	msg, err := h.escalation.PostMessage(r.Context(), ticketID, agentID, role, req.Text, req.IsInternal, req.AttachmentURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) RecordNPS(w http.ResponseWriter, r *http.Request) {
	ticketID := mux.Vars(r)["id"]
	var req struct {
		Score int `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.escalation.RecordNPS(r.Context(), ticketID, req.Score); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) CreateFinanceRequest(w http.ResponseWriter, r *http.Request) {
	agentID, _ := r.Context().Value(auth.CtxAgentID).(string)
	var req struct {
		AccountID string             `json:"accountId"`
		Amount    int64              `json:"amount"`
		Kind      models.RequestKind `json:"kind"`
		Reason    string             `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	created, err := h.broker.Create(r.Context(), agentID, req.AccountID, req.Amount, req.Kind, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListFinanceRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != string(models.RequestPending) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "only the pending queue is listable"})
		return
	}

	pending, err := h.broker.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) ResolveFinanceRequest(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]
	resolverID, _ := r.Context().Value(auth.CtxAgentID).(string)

	var req struct {
		Decision models.RequestStatus `json:"decision"`
		Note     string               `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resolved, err := h.broker.Resolve(r.Context(), requestID, req.Decision, resolverID, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
