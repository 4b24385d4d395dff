package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys for events published on the shared topic exchange.
const (
	RoutingKeyTransferCompleted    = "ledger.transfer.completed"
	RoutingKeyApprovalChanged      = "account.approval.changed"
	RoutingKeyAccountOpened        = "account.opened"
	RoutingKeyBeneficiaryAdded     = "beneficiary.added"
	RoutingKeyBeneficiaryRemoved   = "beneficiary.removed"
	RoutingKeyReconciliationDrift  = "ledger.reconciliation.drift"
	RoutingKeyStaffAccountDecision = "staff.account.decision"
)

// TransferCompletedEvent is emitted once both legs of a transfer are committed.
type TransferCompletedEvent struct {
	EventID           uuid.UUID       `json:"event_id"`
	TransferID        uuid.UUID       `json:"transfer_id"`
	FromAccountNumber int64           `json:"from_account_number"`
	ToAccountNumber   int64           `json:"to_account_number"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason"`
	InitiatedBy       int64           `json:"initiated_by"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

// AccountApprovalChangedEvent is emitted on every staff approval decision.
type AccountApprovalChangedEvent struct {
	EventID       uuid.UUID     `json:"event_id"`
	AccountNumber int64         `json:"account_number"`
	CustomerID    int64         `json:"customer_id"`
	Approved      bool          `json:"approved"`
	Status        AccountStatus `json:"status"`
	ApprovedBy    int64         `json:"approved_by"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// AccountOpenedEvent is emitted when a new Pending account is created.
type AccountOpenedEvent struct {
	EventID        uuid.UUID       `json:"event_id"`
	AccountNumber  int64           `json:"account_number"`
	CustomerID     int64           `json:"customer_id"`
	AccountType    AccountType     `json:"account_type"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// BeneficiaryEvent is emitted when a beneficiary is added or removed.
type BeneficiaryEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	BeneficiaryID int64     `json:"beneficiary_id"`
	CustomerID    int64     `json:"customer_id"`
	AccountNumber int64     `json:"account_number"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ReconciliationDriftEvent reports an account whose balance disagrees with its entries.
type ReconciliationDriftEvent struct {
	EventID        uuid.UUID       `json:"event_id"`
	AccountNumber  int64           `json:"account_number"`
	Balance        decimal.Decimal `json:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	EntriesTotal   decimal.Decimal `json:"entries_total"`
	Drift          decimal.Decimal `json:"drift"`
	DetectedAt     time.Time       `json:"detected_at"`
}

// StaffAccountDecision is consumed from staff tooling to approve or revert an account.
type StaffAccountDecision struct {
	AccountNumber int64  `json:"account_number" validate:"nonzero"`
	Decision      string `json:"decision" validate:"nonzero"`
	ApproverID    int64  `json:"approver_id" validate:"nonzero"`
}
