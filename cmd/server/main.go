package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexusedu/credit-service/internal/api"
	"github.com/nexusedu/credit-service/internal/audit"
	"github.com/nexusedu/credit-service/internal/config"
	"github.com/nexusedu/credit-service/internal/infrastructure/kafka"
	"github.com/nexusedu/credit-service/internal/infrastructure/redis"
	"github.com/nexusedu/credit-service/internal/observability"
	core "github.com/nexusedu/credit-service/internal/repository/postgres"
	service "github.com/nexusedu/credit-service/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdown, _ := observability.Setup("credit-service")
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()
	if err := core.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	accountRepo := core.NewPostgresAccountRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	ticketRepo := core.NewPostgresTicketRepository(db)
	requestRepo := core.NewPostgresFinanceRequestRepository(db)
	agentRepo := core.NewPostgresAgentRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()
	auditor := audit.NewRecorder(producer, "audit-trail")

	walletSvc := service.NewWalletService(accountRepo, transactionRepo, redisClient, producer)
	escalationSvc := service.NewEscalationService(ticketRepo, auditor)
	broker := service.NewFinanceBroker(requestRepo, agentRepo, accountRepo, walletSvc, auditor)
	agentSvc := service.NewAgentService(agentRepo, redisClient, cfg.JWTSecret)

	paymentConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "payments", "credit-service-group", walletSvc, redisClient)
	go paymentConsumer.Consume(context.Background())
	defer paymentConsumer.Close()

	handler := api.NewHandler(walletSvc, escalationSvc, broker, agentSvc)
	router := api.SetupRouter(handler, redisClient, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
