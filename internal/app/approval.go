package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// ApproveAccount applies a staff decision to an account. "yes" moves it to
// Approved (approved, enabled); any other decision moves it back to Pending
// (unapproved, disabled). The approver is stamped either way.
func (s *Service) ApproveAccount(ctx context.Context, accountNumber int64, decision string, approverID int64) (*domain.ApprovalResult, error) {
	approver, err := s.repo.FindCustomer(ctx, approverID)
	if err != nil {
		return nil, classify("resolve approver", err)
	}
	if !approver.HasRole(domain.RoleStaff) {
		return nil, fmt.Errorf("%w: customer %d", ErrApproverNotStaff, approverID)
	}

	approved := domain.ParseDecision(decision)

	unlock := s.locker.Lock(accountNumber)
	defer unlock()

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		accounts, err := tx.LockAccounts(ctx, accountNumber)
		if err != nil {
			return err
		}
		account := accounts[accountNumber]
		account.SetApproval(approved, approver.ID)

		if err := tx.PersistAccounts(ctx, []*domain.Account{account}); err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, s.eventsExchange, domain.RoutingKeyApprovalChanged, domain.AccountApprovalChangedEvent{
			EventID:       uuid.New(),
			AccountNumber: account.Number,
			CustomerID:    account.CustomerID,
			Approved:      account.Approved,
			Status:        account.Status,
			ApprovedBy:    approver.ID,
			OccurredAt:    s.now(),
		})
	})
	if err != nil {
		return nil, classify("approve account", err)
	}

	result := &domain.ApprovalResult{AccountNumber: accountNumber, Approved: domain.DecisionNo}
	if approved {
		result.Approved = domain.DecisionYes
	}
	log.Printf("level=info component=approval msg=\"account decision recorded\" account_number=%d approved=%s approver=%d",
		accountNumber, result.Approved, approver.ID)
	return result, nil
}
