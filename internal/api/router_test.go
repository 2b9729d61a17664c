package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nexusedu/credit-service/internal/api"
	"github.com/nexusedu/credit-service/internal/audit"
	"github.com/nexusedu/credit-service/internal/infrastructure/redis"
	"github.com/nexusedu/credit-service/internal/models"
	"github.com/nexusedu/credit-service/internal/repository/memory"
	service "github.com/nexusedu/credit-service/internal/services"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := value.(string); ok {
		f.data[key] = s
	}
	return nil
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	if s, ok := value.(string); ok {
		f.data[key] = s
	} else {
		f.data[key] = ""
	}
	return true, nil
}

func (f *fakeRedis) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeRedis) Close() error { return nil }

type fakeProducer struct{}

func (f *fakeProducer) Send(ctx context.Context, topic, key string, value []byte) error { return nil }
func (f *fakeProducer) Close() error                                                    { return nil }

const testJWTSecret = "test-secret"

type apiEnv struct {
	server *httptest.Server
	store  *memory.Store
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := memory.NewStore()
	rc := &fakeRedis{data: make(map[string]string)}
	producer := &fakeProducer{}
	auditor := audit.NewRecorder(producer, "audit-trail")

	wallet := service.NewWalletService(store.Accounts(), store.Transactions(), rc, producer)
	escalation := service.NewEscalationService(store.Tickets(), auditor)
	broker := service.NewFinanceBroker(store.FinanceRequests(), store.Agents(), store.Accounts(), wallet, auditor)
	agents := service.NewAgentService(store.Agents(), rc, testJWTSecret)

	handler := api.NewHandler(wallet, escalation, broker, agents)
	router := api.SetupRouter(handler, rc, testJWTSecret)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiEnv{server: server, store: store}
}

func (e *apiEnv) seedAccount(t *testing.T, id string, global int64, buckets map[string]int64) {
	t.Helper()
	account := &models.Account{
		ID:            id,
		GlobalBalance: global,
		Buckets:       make(map[string]models.Bucket),
		CreatedAt:     time.Now().UnixMilli(),
	}
	for toolID, balance := range buckets {
		account.Buckets[toolID] = models.Bucket{ToolID: toolID, Label: toolID, Balance: balance}
	}
	assert.NoError(t, e.store.Accounts().Create(context.Background(), account))
}

func (e *apiEnv) seedAgent(t *testing.T, id string, role models.Role, limit int64, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	assert.NoError(t, err)
	e.store.SeedAgent(&models.Agent{
		ID:           id,
		DisplayName:  id,
		Role:         role,
		CreditLimit:  limit,
		PasswordHash: string(hash),
	})
}

// do issues a JSON request against the test server. A non-empty token goes
// out as a bearer header.
func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	assert.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *apiEnv) login(t *testing.T, agentID, password string) string {
	t.Helper()
	var resp map[string]string
	status := e.do(t, http.MethodPost, "/login", "", map[string]string{
		"agentId":  agentID,
		"password": password,
	}, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, resp["token"])
	return resp["token"]
}

func TestRouter_Login(t *testing.T) {
	env := newAPIEnv(t)
	env.seedAgent(t, "ag-1", models.RoleSupport, 100, "hunter2")

	t.Run("Success", func(t *testing.T) {
		token := env.login(t, "ag-1", "hunter2")
		assert.NotEmpty(t, token)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		status := env.do(t, http.MethodPost, "/login", "", map[string]string{
			"agentId":  "ag-1",
			"password": "nope",
		}, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestRouter_Consume(t *testing.T) {
	env := newAPIEnv(t)
	env.seedAccount(t, "acc-1", 10, map[string]int64{"email": 3})

	t.Run("Success", func(t *testing.T) {
		var result service.ConsumeResult
		status := env.do(t, http.MethodPost, "/accounts/acc-1/consume", "", map[string]interface{}{
			"toolId":      "email",
			"cost":        5,
			"description": "email tool run",
		}, &result)
		assert.Equal(t, http.StatusOK, status)
		assert.Len(t, result.Transactions, 2)
		assert.Equal(t, int64(8), result.Balances.GlobalBalance)
	})

	t.Run("Insufficient", func(t *testing.T) {
		status := env.do(t, http.MethodPost, "/accounts/acc-1/consume", "", map[string]interface{}{
			"toolId": "email",
			"cost":   1000,
		}, nil)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		status := env.do(t, http.MethodPost, "/accounts/ghost/consume", "", map[string]interface{}{
			"toolId": "email",
			"cost":   1,
		}, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("DuplicateRequestID", func(t *testing.T) {
		body := map[string]interface{}{
			"toolId":    "email",
			"cost":      1,
			"requestId": "req-777",
		}
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/accounts/acc-1/consume", "", body, nil))
		assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/accounts/acc-1/consume", "", body, nil))
	})
}

func TestRouter_BalanceAndHistory(t *testing.T) {
	env := newAPIEnv(t)
	env.seedAccount(t, "acc-1", 42, nil)

	var snapshot models.BalanceSnapshot
	status := env.do(t, http.MethodGet, "/accounts/acc-1/balance", "", nil, &snapshot)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(42), snapshot.GlobalBalance)

	var history []*models.Transaction
	status = env.do(t, http.MethodGet, "/accounts/acc-1/transactions", "", nil, &history)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, history)

	status = env.do(t, http.MethodGet, "/accounts/ghost/balance", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouter_AuthBoundary(t *testing.T) {
	env := newAPIEnv(t)
	env.seedAccount(t, "acc-1", 0, nil)

	t.Run("NoToken", func(t *testing.T) {
		status := env.do(t, http.MethodPost, "/accounts/acc-1/credit", "", map[string]interface{}{
			"amount": 10,
			"reason": "manual correction",
		}, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("GarbageToken", func(t *testing.T) {
		status := env.do(t, http.MethodGet, "/finance-requests", "not-a-jwt", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestRouter_CreditThroughPolicy(t *testing.T) {
	env := newAPIEnv(t)
	env.seedAccount(t, "acc-1", 0, nil)
	env.seedAgent(t, "ag-1", models.RoleSupport, 100, "hunter2")
	token := env.login(t, "ag-1", "hunter2")

	t.Run("WithinLimitAppliesDirectly", func(t *testing.T) {
		var result service.ProposalResult
		status := env.do(t, http.MethodPost, "/accounts/acc-1/credit", token, map[string]interface{}{
			"amount": 100,
			"reason": "course access restored",
		}, &result)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, service.DecisionDirect, result.Decision)
		assert.NotNil(t, result.Transaction)
	})

	t.Run("OverLimitEscalates", func(t *testing.T) {
		var result service.ProposalResult
		status := env.do(t, http.MethodPost, "/accounts/acc-1/credit", token, map[string]interface{}{
			"amount": 101,
			"reason": "course access restored",
		}, &result)
		assert.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, service.DecisionRequiresEscalation, result.Decision)
		assert.NotNil(t, result.Request)
	})

	t.Run("ShortReasonRejected", func(t *testing.T) {
		status := env.do(t, http.MethodPost, "/accounts/acc-1/refund", token, map[string]interface{}{
			"amount": 10,
			"reason": "because",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestRouter_FinanceRequestLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	env.seedAccount(t, "acc-1", 0, nil)
	env.seedAgent(t, "ag-1", models.RoleSupport, 10, "hunter2")
	env.seedAgent(t, "fin-1", models.RoleFinance, 10000, "hunter2")
	supportToken := env.login(t, "ag-1", "hunter2")
	financeToken := env.login(t, "fin-1", "hunter2")

	var created models.FinanceRequest
	status := env.do(t, http.MethodPost, "/finance-requests", supportToken, map[string]interface{}{
		"accountId": "acc-1",
		"amount":    700,
		"kind":      "credit_addition",
		"reason":    "bulk license purchase",
	}, &created)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.RequestPending, created.Status)

	var pending []*models.FinanceRequest
	status = env.do(t, http.MethodGet, "/finance-requests?status=pending", financeToken, nil, &pending)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, pending, 1)

	status = env.do(t, http.MethodGet, "/finance-requests?status=approved", financeToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var resolved models.FinanceRequest
	status = env.do(t, http.MethodPost, "/finance-requests/"+created.ID+"/resolve", financeToken, map[string]interface{}{
		"decision": "approved",
		"note":     "ok",
	}, &resolved)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RequestApproved, resolved.Status)

	var snapshot models.BalanceSnapshot
	status = env.do(t, http.MethodGet, "/accounts/acc-1/balance", "", nil, &snapshot)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(700), snapshot.GlobalBalance)

	status = env.do(t, http.MethodPost, "/finance-requests/"+created.ID+"/resolve", financeToken, map[string]interface{}{
		"decision": "rejected",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestRouter_TicketFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.seedAgent(t, "ag-1", models.RoleSupport, 100, "hunter2")
	env.seedAgent(t, "fin-1", models.RoleFinance, 10000, "hunter2")
	supportToken := env.login(t, "ag-1", "hunter2")
	financeToken := env.login(t, "fin-1", "hunter2")

	var opened struct {
		Ticket        *models.SupportTicket `json:"ticket"`
		SuggestedTier string                `json:"suggestedTier"`
	}
	status := env.do(t, http.MethodPost, "/tickets", "", map[string]interface{}{
		"studentId": "stu-1",
		"subject":   "refund for cancelled course",
		"text":      "I was charged twice",
	}, &opened)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.StatusOpen, opened.Ticket.Status)
	assert.Equal(t, "finance", opened.SuggestedTier)

	ticketPath := "/tickets/" + opened.Ticket.ID

	var claimed models.SupportTicket
	status = env.do(t, http.MethodPost, ticketPath+"/transition", supportToken, map[string]interface{}{
		"action": "claim",
	}, &claimed)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.StatusInProgress, claimed.Status)

	status = env.do(t, http.MethodPost, ticketPath+"/transition", supportToken, map[string]interface{}{
		"action": "escalate_finance",
		"reason": "needs a double-charge reversal",
	}, nil)
	assert.Equal(t, http.StatusOK, status)

	var msg models.Message
	status = env.do(t, http.MethodPost, ticketPath+"/message", supportToken, map[string]interface{}{
		"text":       "context for finance",
		"isInternal": true,
	}, &msg)
	assert.Equal(t, http.StatusCreated, status)
	assert.True(t, msg.IsInternal)

	status = env.do(t, http.MethodPost, ticketPath+"/transition", financeToken, map[string]interface{}{
		"action": "pickup",
	}, nil)
	assert.Equal(t, http.StatusOK, status)

	var resolvedTicket models.SupportTicket
	status = env.do(t, http.MethodPost, ticketPath+"/transition", financeToken, map[string]interface{}{
		"action": "resolve",
	}, &resolvedTicket)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.StatusResolved, resolvedTicket.Status)

	status = env.do(t, http.MethodPost, ticketPath+"/nps", "", map[string]interface{}{"score": 9}, nil)
	assert.Equal(t, http.StatusOK, status)
	status = env.do(t, http.MethodPost, ticketPath+"/nps", "", map[string]interface{}{"score": 3}, nil)
	assert.Equal(t, http.StatusConflict, status)

	var queue []*models.SupportTicket
	status = env.do(t, http.MethodGet, "/tickets", supportToken, nil, &queue)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, queue)
}

func TestRouter_Metrics(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := env.server.Client().Get(env.server.URL + "/metrics")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
