package service

import "github.com/nexusedu/credit-service/internal/models"

// Decision is the outcome of the agent authorization policy.
type Decision string

const (
	DecisionDirect             Decision = "direct"
	DecisionRequiresEscalation Decision = "requires_escalation"
)

// Authorize decides whether an agent may apply a credit grant/refund of
// amount directly or must raise a finance request. The boundary is
// inclusive: amount == creditLimit is still direct. Pure function, no I/O.
func Authorize(agent *models.Agent, amount int64) Decision {
	if agent == nil || !agent.Role.Can(models.CapGrantCredit) {
		return DecisionRequiresEscalation
	}
	if amount <= agent.CreditLimit {
		return DecisionDirect
	}
	return DecisionRequiresEscalation
}
