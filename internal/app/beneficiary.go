package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// AddBeneficiary registers targetAccountNumber as an unapproved, active
// beneficiary of the customer. The returned record is the one read back from
// storage, so it carries the storage-assigned ID.
func (s *Service) AddBeneficiary(ctx context.Context, customerID, targetAccountNumber int64) (*domain.Beneficiary, error) {
	var added domain.Beneficiary

	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if _, err := tx.FindAccount(ctx, targetAccountNumber); err != nil {
			return err
		}
		if _, exists := customer.Beneficiaries[targetAccountNumber]; exists {
			return fmt.Errorf("%w: account number %d for customer %d", ErrDuplicateBeneficiary, targetAccountNumber, customerID)
		}

		if customer.Beneficiaries == nil {
			customer.Beneficiaries = make(map[int64]*domain.Beneficiary)
		}
		customer.Beneficiaries[targetAccountNumber] = domain.NewBeneficiary(customer.ID, targetAccountNumber, s.now())

		persisted, err := tx.PersistCustomer(ctx, customer)
		if err != nil {
			return err
		}
		stored, ok := persisted.Beneficiaries[targetAccountNumber]
		if !ok {
			return fmt.Errorf("beneficiary for account number %d missing after persist", targetAccountNumber)
		}
		added = *stored

		return tx.EnqueueEvent(ctx, s.eventsExchange, domain.RoutingKeyBeneficiaryAdded, domain.BeneficiaryEvent{
			EventID:       uuid.New(),
			BeneficiaryID: added.ID,
			CustomerID:    customer.ID,
			AccountNumber: targetAccountNumber,
			OccurredAt:    s.now(),
		})
	})
	if err != nil {
		return nil, classify("add beneficiary", err)
	}

	log.Printf("level=info component=beneficiary msg=\"beneficiary added\" customer_id=%d beneficiary_id=%d account_number=%d",
		customerID, added.ID, targetAccountNumber)
	return &added, nil
}

// ListBeneficiaries returns a detached copy of the customer's beneficiaries.
func (s *Service) ListBeneficiaries(ctx context.Context, customerID int64) ([]domain.Beneficiary, error) {
	customer, err := s.repo.FindCustomer(ctx, customerID)
	if err != nil {
		return nil, classify("list beneficiaries", err)
	}
	return customer.BeneficiaryList(), nil
}

// RemoveBeneficiary deletes the customer's beneficiary with the given ID.
// A missing beneficiary is reported as false with a nil error.
func (s *Service) RemoveBeneficiary(ctx context.Context, customerID, beneficiaryID int64) (bool, error) {
	removed := false

	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		beneficiary, ok := customer.BeneficiaryByID(beneficiaryID)
		if !ok {
			return nil
		}
		delete(customer.Beneficiaries, beneficiary.AccountNumber)

		if _, err := tx.PersistCustomer(ctx, customer); err != nil {
			return err
		}
		removed = true
		return tx.EnqueueEvent(ctx, s.eventsExchange, domain.RoutingKeyBeneficiaryRemoved, domain.BeneficiaryEvent{
			EventID:       uuid.New(),
			BeneficiaryID: beneficiary.ID,
			CustomerID:    customer.ID,
			AccountNumber: beneficiary.AccountNumber,
			OccurredAt:    s.now(),
		})
	})
	if err != nil {
		return false, classify("remove beneficiary", err)
	}

	if !removed {
		log.Printf("level=info component=beneficiary msg=\"beneficiary not found\" customer_id=%d beneficiary_id=%d", customerID, beneficiaryID)
	}
	return removed, nil
}
