package memory

import (
	"sync"

	"github.com/nexusedu/credit-service/internal/models"
)

// Store holds all in-memory state behind one mutex, so every repository
// call is one atomic unit and no partial write is ever observable. The
// per-entity repositories returned by Accounts, Tickets etc. are views over
// this shared state. Intended for tests and local development; production
// runs on the postgres implementations.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
	txByAccount  map[string][]string
	tickets      map[string]*models.SupportTicket
	requests     map[string]*models.FinanceRequest
	agents       map[string]*models.Agent
}

func NewStore() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Reset drops all state. Tests call it between cases.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]*models.Account)
	s.transactions = make(map[string]*models.Transaction)
	s.txByAccount = make(map[string][]string)
	s.tickets = make(map[string]*models.SupportTicket)
	s.requests = make(map[string]*models.FinanceRequest)
	s.agents = make(map[string]*models.Agent)
}

func (s *Store) Accounts() *AccountRepository             { return &AccountRepository{s} }
func (s *Store) Transactions() *TransactionRepository     { return &TransactionRepository{s} }
func (s *Store) Tickets() *TicketRepository               { return &TicketRepository{s} }
func (s *Store) FinanceRequests() *FinanceRequestRepository { return &FinanceRequestRepository{s} }
func (s *Store) Agents() *AgentRepository                 { return &AgentRepository{s} }

// SeedAgent registers an agent in the directory.
func (s *Store) SeedAgent(agent *models.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[cp.ID] = &cp
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.Buckets = make(map[string]models.Bucket, len(a.Buckets))
	for id, b := range a.Buckets {
		c.Buckets[id] = b
	}
	return &c
}

func cloneTicket(t *models.SupportTicket) *models.SupportTicket {
	c := *t
	c.Messages = append([]models.Message(nil), t.Messages...)
	if t.NPS != nil {
		n := *t.NPS
		c.NPS = &n
	}
	return &c
}
