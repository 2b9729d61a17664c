package errors

import "errors"

var (
	// Domain errors. The engines return these as structured kinds; the API
	// layer maps them to HTTP statuses and the UI decides the wording.
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrIllegalTransition   = errors.New("illegal ticket transition")
	ErrAlreadyResolved     = errors.New("finance request already resolved")
	ErrInvalidArgument     = errors.New("invalid argument")

	ErrAccountNotFound     = errors.New("account not found")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrRequestNotFound     = errors.New("finance request not found")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrNilTransaction = errors.New("transaction is nil")

	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrBalanceLocked           = errors.New("balance is locked")
	ErrInternal                = errors.New("internal error")
)
