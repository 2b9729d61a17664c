package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nexusedu/credit-service/internal/infrastructure/kafka"
)

// Action tags for the audit trail. Consumers filter on these.
const (
	ActionCreditAddDirect    = "CREDIT_ADD_DIRECT"
	ActionCreditRefundDirect = "CREDIT_REFUND_DIRECT"
	ActionFinanceApproved    = "FINANCE_REQUEST_APPROVED"
	ActionFinanceRejected    = "FINANCE_REQUEST_REJECTED"
	ActionTicketEscalated    = "TICKET_ESCALATED"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Entry struct {
	ActorID   string   `json:"actor_id"`
	Action    string   `json:"action"`
	Severity  Severity `json:"severity"`
	Detail    string   `json:"detail"`
	CreatedAt int64    `json:"created_at"`
}

// Recorder appends audit entries to the audit topic. Emission is
// fire-and-forget with retries; an unreachable broker never fails the
// operation being audited, it only logs.
type Recorder struct {
	producer kafka.KafkaProducer
	topic    string
}

func NewRecorder(producer kafka.KafkaProducer, topic string) *Recorder {
	return &Recorder{producer: producer, topic: topic}
}

func (r *Recorder) Record(actorID, action string, severity Severity, detail string) {
	entry := Entry{
		ActorID:   actorID,
		Action:    action,
		Severity:  severity,
		Detail:    detail,
		CreatedAt: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		slog.Error("failed to marshal audit entry", "action", action, "error", err)
		return
	}

	slog.Info("audit", "actor_id", actorID, "action", action, "severity", severity, "detail", detail)

	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := r.producer.Send(context.Background(), r.topic, action, payload); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send audit entry after retries", "actor_id", actorID, "action", action)
	}()
}
