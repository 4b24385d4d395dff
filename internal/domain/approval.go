package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Normalized approval decisions as returned to callers.
const (
	DecisionYes = "yes"
	DecisionNo  = "no"
)

// ParseDecision maps a free-form staff decision onto approve/revert.
// Only "yes" (case-insensitive) approves; anything else reverts to Pending.
func ParseDecision(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), DecisionYes)
}

// ApprovalRequest is the inbound payload for a staff approval decision.
type ApprovalRequest struct {
	Decision string `json:"approved" validate:"nonzero"`
}

// ApprovalResult echoes the account number and the normalized decision.
type ApprovalResult struct {
	AccountNumber int64  `json:"account_number"`
	Approved      string `json:"approved"`
}

// OpenAccountRequest is the inbound payload for opening a ledger account.
type OpenAccountRequest struct {
	CustomerID     int64           `json:"customer_id"`
	AccountType    AccountType     `json:"account_type" validate:"nonzero"`
	OpeningBalance decimal.Decimal `json:"account_balance"`
}
