/**
 * @description
 * This file defines the core domain model for a ledger Account and the
 * approval state it carries.
 *
 * @notes
 * - Balance is the authoritative mutable field. It is never recomputed from
 *   the entry history; OpeningBalance exists so that reconciliation can check
 *   Balance == OpeningBalance + sum(entries).
 * - A freshly opened account is always Pending (unapproved, disabled).
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus mirrors the approval flag of an account.
type AccountStatus string

const (
	AccountStatusEnabled  AccountStatus = "enabled"
	AccountStatusDisabled AccountStatus = "disabled"
)

// AccountType is the product kind chosen when the account is opened.
type AccountType string

const (
	SavingsAccount AccountType = "SAVINGS"
	CurrentAccount AccountType = "CURRENT"
)

// Valid reports whether the account type is one the ledger recognises.
func (t AccountType) Valid() bool {
	return t == SavingsAccount || t == CurrentAccount
}

// Account is a customer's ledger account.
type Account struct {
	Number         int64           `json:"account_number"`
	CustomerID     int64           `json:"customer_id"`
	Type           AccountType     `json:"account_type"`
	Balance        decimal.Decimal `json:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Status         AccountStatus   `json:"status"`
	Approved       bool            `json:"approved"`
	ApprovedBy     *int64          `json:"approved_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Transactions   []Transaction   `json:"transactions,omitempty"`
}

// NewPendingAccount builds an account in its initial Pending state.
func NewPendingAccount(customerID int64, accountType AccountType, openingBalance decimal.Decimal, now time.Time) *Account {
	return &Account{
		CustomerID:     customerID,
		Type:           accountType,
		Balance:        openingBalance,
		OpeningBalance: openingBalance,
		Status:         AccountStatusDisabled,
		Approved:       false,
		CreatedAt:      now,
	}
}

// SetApproval moves the account between Pending and Approved. Status and the
// approved flag always change together and the approver is stamped on every
// decision, including a revert to Pending.
func (a *Account) SetApproval(approved bool, approverID int64) {
	a.Approved = approved
	if approved {
		a.Status = AccountStatusEnabled
	} else {
		a.Status = AccountStatusDisabled
	}
	approver := approverID
	a.ApprovedBy = &approver
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.ApprovedBy != nil {
		approver := *a.ApprovedBy
		cp.ApprovedBy = &approver
	}
	if a.Transactions != nil {
		cp.Transactions = make([]Transaction, len(a.Transactions))
		copy(cp.Transactions, a.Transactions)
	}
	return &cp
}
