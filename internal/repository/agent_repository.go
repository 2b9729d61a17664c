package repository

import (
	"context"

	"github.com/nexusedu/credit-service/internal/models"
)

// AgentRepository is the agent directory: role and credit limit per agent.
type AgentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Agent, error)
}
