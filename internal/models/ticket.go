package models

// TicketStatus is the ticket lifecycle state machine. open → in_progress →
// pending_closure → resolved, with lateral pending_finance / pending_admin
// entered by escalation and left only by a matching-tier pickup.
type TicketStatus string

const (
	StatusOpen           TicketStatus = "open"
	StatusInProgress     TicketStatus = "in_progress"
	StatusPendingClosure TicketStatus = "pending_closure"
	StatusPendingFinance TicketStatus = "pending_finance"
	StatusPendingAdmin   TicketStatus = "pending_admin"
	StatusResolved       TicketStatus = "resolved"
)

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
)

// Message is an append-only ticket entry. isInternal messages are staff-only
// and never appear in student-facing transcripts.
type Message struct {
	ID            string `json:"id"`
	TicketID      string `json:"ticketId"`
	AuthorID      string `json:"authorId"`
	AuthorRole    string `json:"authorRole"`
	Text          string `json:"text"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
	IsInternal    bool   `json:"isInternal"`
	CreatedAt     int64  `json:"createdAt"`
}

// SupportTicket is retained for audit and never deleted.
type SupportTicket struct {
	ID            string         `json:"id"`
	StudentID     string         `json:"studentId"`
	Subject       string         `json:"subject"`
	Status        TicketStatus   `json:"status"`
	Priority      TicketPriority `json:"priority"`
	IsEscalated   bool           `json:"isEscalated"`
	Messages      []Message      `json:"messages"`
	LastMessageAt int64          `json:"lastMessageAt"`
	NPS           *int           `json:"nps,omitempty"`
	CreatedAt     int64          `json:"createdAt"`
}

// VisibleMessages filters the transcript for a student-facing view.
func (t *SupportTicket) VisibleMessages() []Message {
	out := make([]Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if !m.IsInternal {
			out = append(out, m)
		}
	}
	return out
}
