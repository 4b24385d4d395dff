package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// OpenAccount creates a Pending account for the customer with the given
// opening balance. Staff must approve it before it can move money.
func (s *Service) OpenAccount(ctx context.Context, req domain.OpenAccountRequest) (*domain.Account, error) {
	if !req.AccountType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccountType, req.AccountType)
	}
	if req.OpeningBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance %s is negative", ErrInvalidAmount, req.OpeningBalance.String())
	}
	if !domain.FitsMoneyScale(req.OpeningBalance) {
		return nil, fmt.Errorf("%w: opening balance %s has more than %d decimal places", ErrInvalidAmount, req.OpeningBalance.String(), domain.MoneyScale)
	}

	var created *domain.Account
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		customer, err := tx.LockCustomer(ctx, req.CustomerID)
		if err != nil {
			return err
		}
		account := domain.NewPendingAccount(customer.ID, req.AccountType, req.OpeningBalance, s.now())
		created, err = tx.CreateAccount(ctx, account)
		if err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, s.eventsExchange, domain.RoutingKeyAccountOpened, domain.AccountOpenedEvent{
			EventID:        uuid.New(),
			AccountNumber:  created.Number,
			CustomerID:     created.CustomerID,
			AccountType:    created.Type,
			OpeningBalance: created.OpeningBalance,
			OccurredAt:     created.CreatedAt,
		})
	})
	if err != nil {
		return nil, classify("open account", err)
	}

	log.Printf("level=info component=accounts msg=\"account opened\" account_number=%d customer_id=%d type=%s",
		created.Number, created.CustomerID, created.Type)
	return created, nil
}

// ListCustomerAccounts returns every account owned by the customer.
func (s *Service) ListCustomerAccounts(ctx context.Context, customerID int64) ([]domain.Account, error) {
	if _, err := s.repo.FindCustomer(ctx, customerID); err != nil {
		return nil, classify("list accounts", err)
	}
	accounts, err := s.repo.ListAccountsByCustomer(ctx, customerID)
	if err != nil {
		return nil, classify("list accounts", err)
	}
	return accounts, nil
}

// GetCustomerAccount returns one of the customer's accounts with its entries,
// newest first. Accounts owned by someone else are reported as not found.
func (s *Service) GetCustomerAccount(ctx context.Context, customerID, accountNumber int64) (*domain.Account, error) {
	account, err := s.FindAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if account.CustomerID != customerID {
		return nil, fmt.Errorf("account number %d for customer %d: %w", accountNumber, customerID, store.ErrAccountNotFound)
	}

	entries, err := s.repo.ListTransactions(ctx, accountNumber, 0)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	account.Transactions = entries
	return account, nil
}

// ListAccountTransactions returns the newest limit entries of an account.
func (s *Service) ListAccountTransactions(ctx context.Context, accountNumber int64, limit int) ([]domain.Transaction, error) {
	if _, err := s.FindAccount(ctx, accountNumber); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListTransactions(ctx, accountNumber, limit)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	return entries, nil
}

// FindAccount looks up a single account without its entries.
func (s *Service) FindAccount(ctx context.Context, accountNumber int64) (*domain.Account, error) {
	account, err := s.repo.FindAccount(ctx, accountNumber)
	if err != nil {
		return nil, classify("find account", err)
	}
	return account, nil
}

// FindCustomerByUsername resolves a customer by login name.
func (s *Service) FindCustomerByUsername(ctx context.Context, username string) (*domain.Customer, error) {
	customer, err := s.repo.FindCustomerByUsername(ctx, username)
	if err != nil {
		return nil, classify("find customer", err)
	}
	return customer, nil
}

// FindCustomer looks up a customer by identifier.
func (s *Service) FindCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	customer, err := s.repo.FindCustomer(ctx, customerID)
	if err != nil {
		return nil, classify("find customer", err)
	}
	return customer, nil
}
