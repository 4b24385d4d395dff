/**
 * @description
 * This file defines the ledger entry model. Every transfer produces exactly
 * two entries, a DEBIT on the source and a CREDIT on the destination, linked
 * by a shared TransferID.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType tags the side of a transfer an entry records.
type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "DEBIT"
	TransactionTypeCredit TransactionType = "CREDIT"
)

// Transaction is an immutable, append-only ledger entry owned by one account.
// Amount is signed: negative for debits, positive for credits.
type Transaction struct {
	ID            int64           `json:"id"`
	TransferID    uuid.UUID       `json:"transfer_id"`
	AccountNumber int64           `json:"account_number"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference"`
	Type          TransactionType `json:"transaction_type"`
	InitiatorID   int64           `json:"initiated_by"`
}

// TransferRequest is the inbound payload for moving funds between accounts.
// InitiatorID is never read from the body; it comes from the authenticated caller.
type TransferRequest struct {
	FromAccountNumber int64           `json:"from_account_number" validate:"nonzero"`
	ToAccountNumber   int64           `json:"to_account_number" validate:"nonzero"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason" validate:"max=255"`
	InitiatorID       int64           `json:"-"`
}

// TransferReceipt echoes the accepted transfer parameters. Post-transfer
// balances are intentionally absent.
type TransferReceipt struct {
	TransferID        uuid.UUID       `json:"transfer_id"`
	FromAccountNumber int64           `json:"from_account_number"`
	ToAccountNumber   int64           `json:"to_account_number"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason"`
	InitiatedBy       int64           `json:"initiated_by"`
	Date              time.Time       `json:"date"`
}

// MoneyScale is the number of fractional digits balances and entries are
// stored with (NUMERIC(19,4)).
const MoneyScale = 4

// FitsMoneyScale reports whether d can be stored without rounding.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}
