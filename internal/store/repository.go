/**
 * @description
 * This file defines the storage contracts consumed by the ledger core. The
 * Repository covers plain lookups; every mutation happens inside WithinTx so
 * that a transfer's read, validation and two-account write land as one unit.
 *
 * @dependencies
 * - internal/domain: For the service's domain models.
 * - github.com/shopspring/decimal: For balance arithmetic in reconciliation snapshots.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// IsNotFound reports whether err is a lookup miss on any ledger aggregate.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrCustomerNotFound)
}

// Repository defines read access plus the transactional entry point.
type Repository interface {
	FindAccount(ctx context.Context, accountNumber int64) (*domain.Account, error)
	FindCustomer(ctx context.Context, customerID int64) (*domain.Customer, error)
	FindCustomerByUsername(ctx context.Context, username string) (*domain.Customer, error)
	ListAccountsByCustomer(ctx context.Context, customerID int64) ([]domain.Account, error)
	// ListTransactions returns entries newest first. A limit <= 0 returns all of them.
	ListTransactions(ctx context.Context, accountNumber int64, limit int) ([]domain.Transaction, error)
	ListLedgerTotals(ctx context.Context) ([]LedgerTotals, error)

	// WithinTx runs fn in a single storage transaction. If fn returns an error
	// nothing it staged is kept and that error is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the unit of work handed to WithinTx callbacks.
type Tx interface {
	// LockAccounts loads and locks the named accounts in ascending number order.
	LockAccounts(ctx context.Context, accountNumbers ...int64) (map[int64]*domain.Account, error)
	LockCustomer(ctx context.Context, customerID int64) (*domain.Customer, error)
	FindAccount(ctx context.Context, accountNumber int64) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	// PersistAccounts writes account state and appends any entry with a zero ID.
	PersistAccounts(ctx context.Context, accounts []*domain.Account) error
	// PersistCustomer syncs the beneficiary set and returns the stored customer.
	PersistCustomer(ctx context.Context, customer *domain.Customer) (*domain.Customer, error)
	EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

// OutboxMessage is a claimed row of the transactional event outbox.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// OutboxRepository is consumed by the outbox dispatcher and the pruning job.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
	PruneOutbox(ctx context.Context, publishedBefore time.Time) (int64, error)
}

// LedgerTotals is a per-account snapshot used by reconciliation.
type LedgerTotals struct {
	AccountNumber  int64
	Balance        decimal.Decimal
	OpeningBalance decimal.Decimal
	EntriesTotal   decimal.Decimal
}

// Drift is the amount by which the balance disagrees with opening balance plus entries.
func (t LedgerTotals) Drift() decimal.Decimal {
	return t.Balance.Sub(t.OpeningBalance.Add(t.EntriesTotal))
}
