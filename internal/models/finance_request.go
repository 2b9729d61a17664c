package models

// RequestKind is the semantic tag of a held credit operation; resolution
// dispatches to the matching wallet operation.
type RequestKind string

const (
	KindCreditAddition RequestKind = "credit_addition"
	KindRefund         RequestKind = "refund"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// FinanceRequest holds a grant/refund that exceeded the proposing agent's
// credit limit. Terminal once resolved; a second resolution attempt is
// rejected, not ignored.
type FinanceRequest struct {
	ID         string        `json:"id"`
	AccountID  string        `json:"accountId"`
	AgentID    string        `json:"agentId"`
	Amount     int64         `json:"amount"`
	Kind       RequestKind   `json:"kind"`
	Reason     string        `json:"reason"`
	Status     RequestStatus `json:"status"`
	Note       string        `json:"note,omitempty"`
	ResolvedBy string        `json:"resolvedBy,omitempty"`
	ResolvedAt int64         `json:"resolvedAt,omitempty"`
	CreatedAt  int64         `json:"createdAt"`
}
