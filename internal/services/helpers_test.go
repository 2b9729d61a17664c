package service

import (
	"context"
	"sync"
	"time"

	"github.com/nexusedu/credit-service/internal/audit"
	"github.com/nexusedu/credit-service/internal/infrastructure/redis"
	"github.com/nexusedu/credit-service/internal/models"
	"github.com/nexusedu/credit-service/internal/repository/memory"
)

// fakeRedis is an in-memory stand-in for the Redis client. TTLs are not
// honored; tests delete keys explicitly when they need expiry behaviour.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
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
	f.data[key] = toString(value)
	return nil
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = toString(value)
	return true, nil
}

func (f *fakeRedis) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeRedis) Close() error { return nil }

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// fakeProducer records sent messages. Publishing in the services is async,
// so tests only assert on it after the operation under test is fully done
// and never on exact counts.
type fakeProducer struct {
	mu       sync.Mutex
	messages []fakeMessage
}

type fakeMessage struct {
	topic string
	key   string
	value []byte
}

func (f *fakeProducer) Send(ctx context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, fakeMessage{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type testEnv struct {
	store      *memory.Store
	redis      *fakeRedis
	producer   *fakeProducer
	wallet     WalletService
	escalation EscalationService
	broker     FinanceBroker
}

func newTestEnv() *testEnv {
	store := memory.NewStore()
	fr := newFakeRedis()
	fp := &fakeProducer{}
	auditor := audit.NewRecorder(fp, "audit-trail")
	wallet := NewWalletService(store.Accounts(), store.Transactions(), fr, fp)
	return &testEnv{
		store:      store,
		redis:      fr,
		producer:   fp,
		wallet:     wallet,
		escalation: NewEscalationService(store.Tickets(), auditor),
		broker:     NewFinanceBroker(store.FinanceRequests(), store.Agents(), store.Accounts(), wallet, auditor),
	}
}

func (e *testEnv) seedAccount(id string, global int64, buckets map[string]int64) {
	account := &models.Account{
		ID:            id,
		GlobalBalance: global,
		Buckets:       make(map[string]models.Bucket),
		CreatedAt:     time.Now().UnixMilli(),
	}
	for toolID, balance := range buckets {
		account.Buckets[toolID] = models.Bucket{ToolID: toolID, Label: toolID, Balance: balance}
	}
	if err := e.store.Accounts().Create(context.Background(), account); err != nil {
		panic(err)
	}
}

func (e *testEnv) seedAgent(id string, role models.Role, limit int64) *models.Agent {
	agent := &models.Agent{
		ID:          id,
		DisplayName: id,
		Role:        role,
		CreditLimit: limit,
	}
	e.store.SeedAgent(agent)
	return agent
}
