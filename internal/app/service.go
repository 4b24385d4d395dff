/**
 * @description
 * This file contains the Service that owns the ledger core: transfers, account
 * approval and the beneficiary registry. Every mutation goes through
 * store.Repository.WithinTx and publishes its event through the transactional
 * outbox in the same unit of work.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transfa/ledger-service/internal/store"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrTransferNotPermitted = errors.New("transfer not permitted")
	ErrDuplicateBeneficiary = errors.New("beneficiary already added")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrSelfTransfer         = errors.New("source and destination accounts must differ")
	ErrInvalidAccountType   = errors.New("unsupported account type")
	ErrApproverNotStaff     = errors.New("approver does not hold the staff role")
	ErrTransferRateLimited  = errors.New("too many transfer attempts")
)

// StorageError reports a collaborator failure. It is surfaced as-is and
// never retried by the service.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// RateLimitError carries the retry hint for a rejected transfer.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %ds", ErrTransferRateLimited, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrTransferRateLimited
}

// TransferRateLimiter meters transfer attempts per initiating customer. It is
// satisfied by RedisTransferRateLimiter.
type TransferRateLimiter interface {
	ConsumeTransfer(ctx context.Context, initiatorID int64) (TransferAllowance, error)
}

// Service provides the ledger business logic.
type Service struct {
	repo           store.Repository
	locker         *accountLocker
	eventsExchange string
	now            func() time.Time
	rateLimiter    TransferRateLimiter
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, eventsExchange string) *Service {
	return &Service{
		repo:           repo,
		locker:         newAccountLocker(),
		eventsExchange: eventsExchange,
		now:            time.Now,
	}
}

// SetTransferRateLimiter enables per-initiator throttling of transfers.
func (s *Service) SetTransferRateLimiter(limiter TransferRateLimiter) {
	s.rateLimiter = limiter
}

// classify passes business and lookup errors through untouched and wraps
// anything else as a StorageError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if store.IsNotFound(err) || isBusinessError(err) {
		return err
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds,
		ErrTransferNotPermitted,
		ErrDuplicateBeneficiary,
		ErrInvalidAmount,
		ErrSelfTransfer,
		ErrInvalidAccountType,
		ErrApproverNotStaff,
		ErrTransferRateLimited,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
