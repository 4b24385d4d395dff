package app

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

const testExchange = "transfa.events"

var testNow = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	svc := NewService(repo, testExchange)
	svc.now = func() time.Time { return testNow }
	return svc, repo
}

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", raw, err)
	}
	return d
}

func seedCustomer(repo *store.MemoryRepository, id int64, roles ...domain.Role) *domain.Customer {
	if len(roles) == 0 {
		roles = []domain.Role{domain.RoleCustomer}
	}
	return repo.SeedCustomer(domain.Customer{
		ID:       id,
		Username: "user" + strconv.FormatInt(id, 10),
		Roles:    roles,
	})
}

func seedAccount(t *testing.T, repo *store.MemoryRepository, number, owner int64, balance string, approved bool) *domain.Account {
	t.Helper()
	return repo.SeedAccount(domain.Account{
		Number:     number,
		CustomerID: owner,
		Type:       domain.SavingsAccount,
		Balance:    dec(t, balance),
		Approved:   approved,
	})
}

func mustFindAccount(t *testing.T, repo *store.MemoryRepository, number int64) *domain.Account {
	t.Helper()
	account, err := repo.FindAccount(context.Background(), number)
	if err != nil {
		t.Fatalf("FindAccount(%d) returned error: %v", number, err)
	}
	return account
}

func mustListEntries(t *testing.T, repo *store.MemoryRepository, number int64) []domain.Transaction {
	t.Helper()
	entries, err := repo.ListTransactions(context.Background(), number, 0)
	if err != nil {
		t.Fatalf("ListTransactions(%d) returned error: %v", number, err)
	}
	return entries
}

// failingTxRepo delegates reads to a MemoryRepository and fails every WithinTx.
type failingTxRepo struct {
	store.Repository
	err error
}

func (r *failingTxRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.err
}

var errStorageDown = errors.New("connection reset by peer")
