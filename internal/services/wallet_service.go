package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	stderrors "errors"

	"github.com/nexusedu/credit-service/internal/infrastructure/kafka"
	"github.com/nexusedu/credit-service/internal/infrastructure/redis"
	"github.com/nexusedu/credit-service/internal/models"
	"github.com/nexusedu/credit-service/internal/repository"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ConsumeResult is the outcome of a successful consume: the written ledger
// legs (one, or two on a split draw) and the balances after.
type ConsumeResult struct {
	Transactions []models.Transaction   `json:"transactions"`
	Balances     models.BalanceSnapshot `json:"balances"`
}

type WalletService interface {
	Consume(ctx context.Context, accountID, toolID string, cost int64, description, requestID string) (*ConsumeResult, error)
	Credit(ctx context.Context, accountID string, amount int64, toolID, description, gatewayRef string) (*models.Transaction, error)
	Refund(ctx context.Context, accountID string, amount int64, toolID, description string) (*models.Transaction, error)
	GetBalance(ctx context.Context, accountID string) (models.BalanceSnapshot, error)
	GetHistory(ctx context.Context, accountID string) ([]models.Transaction, error)
}

type walletService struct {
	accounts     repository.AccountRepository
	transactions repository.TransactionRepository
	redisClient  redis.RedisClient
	producer     kafka.KafkaProducer
	locks        sync.Map // accountID -> *sync.Mutex
}

func NewWalletService(
	accounts repository.AccountRepository,
	transactions repository.TransactionRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
) *walletService {
	return &walletService{
		accounts:     accounts,
		transactions: transactions,
		redisClient:  redisClient,
		producer:     producer,
	}
}

var idSeq atomic.Int64

func newID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idSeq.Add(1))
}

// lockAccount serializes all balance mutations for one account: an
// in-process mutex per account, plus a Redis lock so two instances cannot
// interleave the sufficiency check and the write.
func (s *walletService) lockAccount(ctx context.Context, accountID string) (func(), error) {
	v, _ := s.locks.LoadOrStore(accountID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	lockKey := fmt.Sprintf("account:%s:lock", accountID)
	ok, err := s.redisClient.SetNX(ctx, lockKey, "locked", 3*time.Second)
	if err != nil {
		mu.Unlock()
		slog.Error("failed to acquire lock", "account_id", accountID, "error", err)
		return nil, pkgerrors.ErrBalanceLocked
	}
	if !ok {
		mu.Unlock()
		slog.Error("balance is locked", "account_id", accountID)
		return nil, pkgerrors.ErrBalanceLocked
	}

	return func() {
		s.redisClient.Del(ctx, lockKey)
		mu.Unlock()
	}, nil
}

func (s *walletService) Consume(ctx context.Context, accountID, toolID string, cost int64, description, requestID string) (*ConsumeResult, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "Consume")
	defer span.End()

	if accountID == "" || toolID == "" || cost <= 0 {
		span.SetStatus(codes.Error, "invalid consume request")
		return nil, pkgerrors.ErrInvalidArgument
	}

	if requestID != "" {
		requestKey := fmt.Sprintf("request:%s", requestID)
		ok, err := s.redisClient.SetNX(ctx, requestKey, "pending", 24*time.Hour)
		if err != nil {
			slog.Error("failed to set request key", "request_id", requestID, "error", err)
			span.RecordError(err)
			return nil, err
		}
		if !ok {
			slog.Warn("request already processed", "request_id", requestID, "account_id", accountID)
			span.SetStatus(codes.Error, "request already processed")
			return nil, pkgerrors.ErrRequestAlreadyProcessed
		}
		result, err := s.consume(ctx, span, accountID, toolID, cost, description)
		if err != nil {
			// A failed consume must not burn the key; the caller may
			// retry with the same request id after topping up.
			s.redisClient.Del(ctx, requestKey)
		}
		return result, err
	}

	return s.consume(ctx, span, accountID, toolID, cost, description)
}

func (s *walletService) consume(ctx context.Context, span trace.Span, accountID, toolID string, cost int64, description string) (*ConsumeResult, error) {
	release, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account lookup failed")
		slog.Error("failed to load account", "account_id", accountID, "error", err)
		return nil, err
	}

	var bucketBalance int64
	if toolID != models.ToolGlobal {
		bucketBalance = account.Buckets[toolID].Balance
	}

	now := time.Now().UnixMilli()
	var legs []*models.Transaction
	switch {
	case bucketBalance >= cost:
		// Specialized pocket alone covers it; global stays untouched.
		legs = []*models.Transaction{{
			ID:          newID("tx"),
			AccountID:   accountID,
			Amount:      -cost,
			ToolID:      toolID,
			Type:        models.TypeUsage,
			PocketUsed:  models.PocketSpecialized,
			Description: description,
			Timestamp:   now,
		}}
	case bucketBalance == 0:
		if account.GlobalBalance < cost {
			span.SetStatus(codes.Error, "insufficient credits")
			slog.Warn("insufficient credits", "account_id", accountID, "tool_id", toolID, "cost", cost, "global", account.GlobalBalance)
			return nil, pkgerrors.ErrInsufficientCredits
		}
		legs = []*models.Transaction{{
			ID:          newID("tx"),
			AccountID:   accountID,
			Amount:      -cost,
			ToolID:      toolID,
			Type:        models.TypeUsage,
			PocketUsed:  models.PocketGlobal,
			Description: description,
			Timestamp:   now,
		}}
	default:
		// Split draw: drain the bucket, then cover the remainder from the
		// sovereign balance — only if the two together suffice.
		if bucketBalance+account.GlobalBalance < cost {
			span.SetStatus(codes.Error, "insufficient credits")
			slog.Warn("insufficient credits", "account_id", accountID, "tool_id", toolID, "cost", cost, "bucket", bucketBalance, "global", account.GlobalBalance)
			return nil, pkgerrors.ErrInsufficientCredits
		}
		corr := newID("cons")
		legs = []*models.Transaction{
			{
				ID:            newID("tx"),
				AccountID:     accountID,
				Amount:        -bucketBalance,
				ToolID:        toolID,
				Type:          models.TypeUsage,
				PocketUsed:    models.PocketSpecialized,
				Description:   description,
				CorrelationID: corr,
				Timestamp:     now,
			},
			{
				ID:            newID("tx"),
				AccountID:     accountID,
				Amount:        -(cost - bucketBalance),
				ToolID:        toolID,
				Type:          models.TypeUsage,
				PocketUsed:    models.PocketGlobal,
				Description:   description,
				CorrelationID: corr,
				Timestamp:     now,
			},
		}
	}

	snapshot, err := s.accounts.Apply(ctx, accountID, legs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		slog.Error("failed to apply consume", "account_id", accountID, "tool_id", toolID, "cost", cost, "error", err)
		return nil, err
	}

	s.invalidateBalanceCache(ctx, accountID)
	result := &ConsumeResult{Balances: snapshot}
	for _, leg := range legs {
		result.Transactions = append(result.Transactions, *leg)
		s.publishTransaction(leg)
	}

	slog.Info("credits consumed", "account_id", accountID, "tool_id", toolID, "cost", cost, "legs", len(legs))
	return result, nil
}

func (s *walletService) Credit(ctx context.Context, accountID string, amount int64, toolID, description, gatewayRef string) (*models.Transaction, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "Credit")
	defer span.End()

	txType := models.TypeBonus
	if gatewayRef != "" {
		txType = models.TypePurchase
	}
	return s.applyAdditive(ctx, span, accountID, amount, toolID, description, gatewayRef, txType)
}

func (s *walletService) Refund(ctx context.Context, accountID string, amount int64, toolID, description string) (*models.Transaction, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "Refund")
	defer span.End()

	return s.applyAdditive(ctx, span, accountID, amount, toolID, description, "", models.TypeRefund)
}

func (s *walletService) applyAdditive(ctx context.Context, span trace.Span, accountID string, amount int64, toolID, description, gatewayRef string, txType models.TransactionType) (*models.Transaction, error) {
	if accountID == "" || toolID == "" || amount <= 0 {
		span.SetStatus(codes.Error, "invalid additive request")
		return nil, pkgerrors.ErrInvalidArgument
	}

	release, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	pocket := models.PocketSpecialized
	if toolID == models.ToolGlobal {
		pocket = models.PocketGlobal
	}

	tx := &models.Transaction{
		ID:               newID("tx"),
		AccountID:        accountID,
		Amount:           amount,
		ToolID:           toolID,
		Type:             txType,
		PocketUsed:       pocket,
		Description:      description,
		GatewayReference: gatewayRef,
		Timestamp:        time.Now().UnixMilli(),
	}

	if _, err := s.accounts.Apply(ctx, accountID, []*models.Transaction{tx}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		slog.Error("failed to apply credit", "account_id", accountID, "tool_id", toolID, "amount", amount, "type", txType, "error", err)
		return nil, err
	}

	s.invalidateBalanceCache(ctx, accountID)
	s.publishTransaction(tx)
	slog.Info("credits added", "account_id", accountID, "tool_id", toolID, "amount", amount, "type", txType)
	return tx, nil
}

func (s *walletService) invalidateBalanceCache(ctx context.Context, accountID string) {
	key := fmt.Sprintf("account:%s:balance", accountID)
	if err := s.redisClient.Del(ctx, key); err != nil {
		slog.Error("failed to invalidate balance cache", "account_id", accountID, "error", err)
	}
}

func (s *walletService) publishTransaction(tx *models.Transaction) {
	payload, err := json.Marshal(tx)
	if err != nil {
		slog.Error("failed to marshal wallet event", "transaction_id", tx.ID, "error", err)
		return
	}
	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.producer.Send(context.Background(), "wallet-events", tx.AccountID, payload); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send wallet event after retries", "transaction_id", tx.ID)
	}()
}

func (s *walletService) GetBalance(ctx context.Context, accountID string) (models.BalanceSnapshot, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer span.End()

	cacheKey := fmt.Sprintf("account:%s:balance", accountID)
	if cached, err := s.redisClient.Get(ctx, cacheKey); err == nil {
		var snapshot models.BalanceSnapshot
		if err := json.Unmarshal([]byte(cached), &snapshot); err == nil {
			return snapshot, nil
		}
		slog.Error("failed to unmarshal cached balance", "account_id", accountID, "error", err)
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Error("failed to read balance cache", "account_id", accountID, "error", err)
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get balance", "account_id", accountID, "error", err)
		return models.BalanceSnapshot{}, err
	}

	snapshot := account.Snapshot()
	if payload, err := json.Marshal(snapshot); err == nil {
		if err := s.redisClient.Set(ctx, cacheKey, string(payload), 5*time.Minute); err != nil {
			slog.Error("failed to cache balance", "account_id", accountID, "error", err)
		}
	}
	return snapshot, nil
}

func (s *walletService) GetHistory(ctx context.Context, accountID string) ([]models.Transaction, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "GetHistory")
	defer span.End()

	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	history, err := s.transactions.ListByAccount(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get transaction history", "account_id", accountID, "error", err)
		return nil, err
	}
	return history, nil
}
