package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nexusedu/credit-service/internal/infrastructure/redis"
	"github.com/nexusedu/credit-service/internal/models"
	"github.com/nexusedu/credit-service/internal/repository"
	pkgerrors "github.com/nexusedu/credit-service/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// AgentService is boundary plumbing around the agent directory: token
// issuing for the middleware and agent lookup for the engines.
type AgentService interface {
	Login(ctx context.Context, agentID, password string) (string, error)
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

type agentService struct {
	agents      repository.AgentRepository
	redisClient redis.RedisClient
	jwtSecret   string
}

func NewAgentService(agents repository.AgentRepository, redisClient redis.RedisClient, jwtSecret string) *agentService {
	return &agentService{agents: agents, redisClient: redisClient, jwtSecret: jwtSecret}
}

func (s *agentService) Login(ctx context.Context, agentID, password string) (string, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		slog.Error("failed to login", "agent_id", agentID, "error", err)
		return "", pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)); err != nil {
		slog.Error("invalid password", "agent_id", agentID)
		return "", pkgerrors.ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"agent_id": agent.ID,
		"role":     string(agent.Role),
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		slog.Error("failed to generate JWT", "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.redisClient.Set(ctx, fmt.Sprintf("agent:%s:token", agent.ID), tokenString, time.Hour); err != nil {
		slog.Error("failed to cache JWT", "agent_id", agent.ID, "error", err)
	}

	slog.Info("agent logged in", "agent_id", agent.ID, "role", agent.Role)
	return tokenString, nil
}

func (s *agentService) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	return s.agents.GetByID(ctx, agentID)
}
