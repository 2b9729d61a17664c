package models

// TransactionType is the business reason for a ledger entry.
type TransactionType string

const (
	TypePurchase TransactionType = "purchase"
	TypeUsage    TransactionType = "usage"
	TypeBonus    TransactionType = "bonus"
	TypeRefund   TransactionType = "refund"
)

// Pocket identifies which draw source a transaction leg touched.
type Pocket string

const (
	PocketGlobal      Pocket = "global"
	PocketSpecialized Pocket = "specialized"
)

// Transaction is an immutable ledger entry. Corrections are new offsetting
// entries, never edits. A split draw produces two legs sharing CorrelationID.
type Transaction struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"accountId"`
	Amount           int64           `json:"amount"` // signed: positive = credit, negative = debit
	ToolID           string          `json:"toolId"`
	Type             TransactionType `json:"type"`
	PocketUsed       Pocket          `json:"pocketUsed"`
	Description      string          `json:"description"`
	CorrelationID    string          `json:"correlationId,omitempty"`
	GatewayReference string          `json:"gatewayReference,omitempty"`
	Timestamp        int64           `json:"timestamp"` // epoch milliseconds
}
