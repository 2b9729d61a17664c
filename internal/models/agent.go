package models

// Role is the closed set of staff roles. Authorization decisions run on
// these tags and the capability table below, never on free-text permission
// fields.
type Role string

const (
	RoleSupport Role = "support"
	RoleFinance Role = "finance"
	RoleAdmin   Role = "admin"
)

// Capability names an operation a role may perform.
type Capability string

const (
	CapClaimTicket   Capability = "claim_ticket"
	CapResolveTicket Capability = "resolve_ticket"
	CapEscalate      Capability = "escalate"
	CapPickupFinance Capability = "pickup_finance"
	CapPickupAdmin   Capability = "pickup_admin"
	CapGrantCredit   Capability = "grant_credit"
	CapResolveSpend  Capability = "resolve_spend_request"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleSupport: {
		CapClaimTicket:   true,
		CapResolveTicket: true,
		CapEscalate:      true,
		CapGrantCredit:   true,
	},
	RoleFinance: {
		CapClaimTicket:   true,
		CapResolveTicket: true,
		CapEscalate:      true,
		CapPickupFinance: true,
		CapGrantCredit:   true,
		CapResolveSpend:  true,
	},
	RoleAdmin: {
		CapClaimTicket:   true,
		CapResolveTicket: true,
		CapEscalate:      true,
		CapPickupFinance: true,
		CapPickupAdmin:   true,
		CapGrantCredit:   true,
		CapResolveSpend:  true,
	},
}

// Can reports whether the role holds the capability. Unknown roles hold
// nothing.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// Valid reports whether r is one of the closed role tags.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Agent is a support/finance/admin actor. CreditLimit is the maximum amount
// it may grant or refund without escalation; 0 means every credit operation
// escalates.
type Agent struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Role         Role   `json:"role"`
	CreditLimit  int64  `json:"creditLimit"`
	PasswordHash string `json:"-"`
}
