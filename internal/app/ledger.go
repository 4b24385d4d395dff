package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// Transfer moves req.Amount from the source to the destination account.
//
// Validation happens strictly before any write: both accounts must exist and
// be approved and the source must cover the amount. Balances and the DEBIT and
// CREDIT entries are written in one storage transaction together with the
// ledger.transfer.completed outbox event. Storage failures are not retried.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferReceipt, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: must be greater than zero, got %s", ErrInvalidAmount, req.Amount.String())
	}
	if !domain.FitsMoneyScale(req.Amount) {
		return nil, fmt.Errorf("%w: at most %d decimal places allowed, got %s", ErrInvalidAmount, domain.MoneyScale, req.Amount.String())
	}
	if req.FromAccountNumber == req.ToAccountNumber {
		return nil, fmt.Errorf("%w: account number %d", ErrSelfTransfer, req.FromAccountNumber)
	}
	if err := s.consumeTransferAllowance(ctx, req.InitiatorID); err != nil {
		return nil, err
	}

	initiator, err := s.repo.FindCustomer(ctx, req.InitiatorID)
	if err != nil {
		return nil, classify("resolve initiator", err)
	}

	unlock := s.locker.Lock(req.FromAccountNumber, req.ToAccountNumber)
	defer unlock()

	receipt := &domain.TransferReceipt{
		TransferID:        uuid.New(),
		FromAccountNumber: req.FromAccountNumber,
		ToAccountNumber:   req.ToAccountNumber,
		Amount:            req.Amount,
		Reason:            req.Reason,
		InitiatedBy:       initiator.ID,
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		accounts, err := tx.LockAccounts(ctx, req.FromAccountNumber, req.ToAccountNumber)
		if err != nil {
			return err
		}
		from := accounts[req.FromAccountNumber]
		to := accounts[req.ToAccountNumber]

		for _, account := range []*domain.Account{from, to} {
			if !account.Approved {
				return fmt.Errorf("%w: account number %d is pending approval", ErrTransferNotPermitted, account.Number)
			}
		}
		if from.Balance.Sub(req.Amount).IsNegative() {
			return fmt.Errorf("%w: account number %d cannot cover %s", ErrInsufficientFunds, from.Number, req.Amount.String())
		}

		receipt.Date = s.now()
		postTransfer(from, to, req.Amount, req.Reason, initiator.ID, receipt.TransferID, receipt.Date)

		if err := tx.PersistAccounts(ctx, []*domain.Account{from, to}); err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, s.eventsExchange, domain.RoutingKeyTransferCompleted, domain.TransferCompletedEvent{
			EventID:           uuid.New(),
			TransferID:        receipt.TransferID,
			FromAccountNumber: from.Number,
			ToAccountNumber:   to.Number,
			Amount:            req.Amount,
			Reason:            req.Reason,
			InitiatedBy:       initiator.ID,
			OccurredAt:        receipt.Date,
		})
	})
	if err != nil {
		log.Printf("level=warn component=ledger msg=\"transfer rejected\" transfer_id=%s from=%d to=%d amount=%s initiator=%d err=%v",
			receipt.TransferID, req.FromAccountNumber, req.ToAccountNumber, req.Amount.String(), initiator.ID, err)
		return nil, classify("transfer", err)
	}

	log.Printf("level=info component=ledger msg=\"transfer completed\" transfer_id=%s from=%d to=%d amount=%s initiator=%d",
		receipt.TransferID, req.FromAccountNumber, req.ToAccountNumber, req.Amount.String(), initiator.ID)
	return receipt, nil
}

// postTransfer applies both legs in memory. The two entries share the
// timestamp, memo, initiator and transfer id; their amounts are exact negatives.
func postTransfer(from, to *domain.Account, amount decimal.Decimal, reason string, initiatorID int64, transferID uuid.UUID, at time.Time) {
	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)

	from.Transactions = append(from.Transactions, domain.Transaction{
		TransferID:    transferID,
		AccountNumber: from.Number,
		Date:          at,
		Amount:        amount.Neg(),
		Reference:     reason,
		Type:          domain.TransactionTypeDebit,
		InitiatorID:   initiatorID,
	})
	to.Transactions = append(to.Transactions, domain.Transaction{
		TransferID:    transferID,
		AccountNumber: to.Number,
		Date:          at,
		Amount:        amount,
		Reference:     reason,
		Type:          domain.TransactionTypeCredit,
		InitiatorID:   initiatorID,
	})
}

func (s *Service) consumeTransferAllowance(ctx context.Context, initiatorID int64) error {
	if s.rateLimiter == nil {
		return nil
	}
	allowance, err := s.rateLimiter.ConsumeTransfer(ctx, initiatorID)
	if err != nil {
		log.Printf("level=warn component=ledger msg=\"transfer rate limiter unavailable; allowing request\" initiator=%d err=%v", initiatorID, err)
		return nil
	}
	if !allowance.Allowed() {
		log.Printf("level=warn component=ledger msg=\"transfer rate limited\" initiator=%d attempts=%d limit=%d retry_after=%s",
			initiatorID, allowance.Attempts, allowance.Limit, allowance.RetryAfter)
		return &RateLimitError{RetryAfterSeconds: allowance.RetryAfterSeconds()}
	}
	return nil
}
