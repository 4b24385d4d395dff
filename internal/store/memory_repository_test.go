package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

func TestMemoryRepository_WithinTxRollsBackOnError(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SeedCustomer(domain.Customer{ID: 1, Username: "ada"})
	repo.SeedAccount(domain.Account{Number: 100, CustomerID: 1, Balance: decimal.NewFromInt(50), Approved: true})

	boom := errors.New("boom")
	err := repo.WithinTx(context.Background(), func(tx Tx) error {
		accounts, err := tx.LockAccounts(context.Background(), 100)
		if err != nil {
			return err
		}
		account := accounts[100]
		account.Balance = decimal.Zero
		account.Transactions = append(account.Transactions, domain.Transaction{Amount: decimal.NewFromInt(-50)})
		if err := tx.PersistAccounts(context.Background(), []*domain.Account{account}); err != nil {
			return err
		}
		if err := tx.EnqueueEvent(context.Background(), "transfa.events", "ledger.transfer.completed", map[string]int{"n": 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error to be returned unchanged, got %v", err)
	}

	account, _ := repo.FindAccount(context.Background(), 100)
	if !account.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("rolled back balance leaked: %s", account.Balance)
	}
	entries, _ := repo.ListTransactions(context.Background(), 100, 0)
	if len(entries) != 0 {
		t.Fatalf("rolled back entries leaked: %d", len(entries))
	}
	if keys := repo.OutboxRoutingKeys(); len(keys) != 0 {
		t.Fatalf("rolled back outbox rows leaked: %v", keys)
	}
}

func TestMemoryRepository_TxSeesItsOwnWrites(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SeedCustomer(domain.Customer{ID: 1})
	repo.SeedAccount(domain.Account{Number: 100, CustomerID: 1, Balance: decimal.NewFromInt(50)})

	err := repo.WithinTx(context.Background(), func(tx Tx) error {
		accounts, _ := tx.LockAccounts(context.Background(), 100)
		accounts[100].Balance = decimal.NewFromInt(10)
		if err := tx.PersistAccounts(context.Background(), []*domain.Account{accounts[100]}); err != nil {
			return err
		}
		again, err := tx.FindAccount(context.Background(), 100)
		if err != nil {
			return err
		}
		if !again.Balance.Equal(decimal.NewFromInt(10)) {
			t.Errorf("expected staged balance 10, got %s", again.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx returned error: %v", err)
	}
}

func TestMemoryRepository_NotFoundErrorsCarryIdentifier(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindAccount(context.Background(), 4242)
	if !IsNotFound(err) || !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if want := "account number 4242: account not found"; err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}

	_, err = repo.FindCustomerByUsername(context.Background(), "ghost")
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}

	err = repo.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.LockAccounts(context.Background(), 1, 2)
		return err
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound from LockAccounts, got %v", err)
	}
}

func TestMemoryRepository_ReadsAreDetached(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SeedCustomer(domain.Customer{ID: 1, Beneficiaries: map[int64]*domain.Beneficiary{
		200: {AccountNumber: 200, Active: true},
	}})

	customer, _ := repo.FindCustomer(context.Background(), 1)
	customer.Beneficiaries[200].Approved = true
	delete(customer.Beneficiaries, 200)

	again, _ := repo.FindCustomer(context.Background(), 1)
	b, ok := again.Beneficiaries[200]
	if !ok || b.Approved {
		t.Fatalf("mutating a read leaked into storage")
	}
	if b.ID == 0 || b.CustomerID != 1 {
		t.Fatalf("expected seeded beneficiary to get id and owner, got %+v", b)
	}
}

func TestMemoryRepository_CreateAccountUsesSequence(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SeedCustomer(domain.Customer{ID: 1})

	var numbers []int64
	for i := 0; i < 2; i++ {
		err := repo.WithinTx(context.Background(), func(tx Tx) error {
			created, err := tx.CreateAccount(context.Background(), domain.NewPendingAccount(1, domain.SavingsAccount, decimal.Zero, time.Now()))
			if err != nil {
				return err
			}
			numbers = append(numbers, created.Number)
			return nil
		})
		if err != nil {
			t.Fatalf("WithinTx returned error: %v", err)
		}
	}
	if numbers[0] != firstAccountNumber || numbers[1] != firstAccountNumber+1 {
		t.Fatalf("unexpected account numbers %v", numbers)
	}
}

func TestMemoryRepository_ListTransactionsNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SeedCustomer(domain.Customer{ID: 1})
	repo.SeedAccount(domain.Account{Number: 100, CustomerID: 1, Balance: decimal.NewFromInt(100)})

	for i := int64(1); i <= 3; i++ {
		err := repo.WithinTx(context.Background(), func(tx Tx) error {
			accounts, _ := tx.LockAccounts(context.Background(), 100)
			a := accounts[100]
			a.Balance = a.Balance.Sub(decimal.NewFromInt(i))
			a.Transactions = append(a.Transactions, domain.Transaction{Amount: decimal.NewFromInt(-i), Type: domain.TransactionTypeDebit})
			return tx.PersistAccounts(context.Background(), []*domain.Account{a})
		})
		if err != nil {
			t.Fatalf("WithinTx returned error: %v", err)
		}
	}

	entries, _ := repo.ListTransactions(context.Background(), 100, 2)
	if len(entries) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(entries))
	}
	if !entries[0].Amount.Equal(decimal.NewFromInt(-3)) || !entries[1].Amount.Equal(decimal.NewFromInt(-2)) {
		t.Fatalf("expected newest first, got %s then %s", entries[0].Amount, entries[1].Amount)
	}

	totals, _ := repo.ListLedgerTotals(context.Background())
	if len(totals) != 1 || !totals[0].Drift().IsZero() {
		t.Fatalf("expected consistent ledger, got %+v", totals)
	}
}

func TestMemoryRepository_OutboxLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	err := repo.WithinTx(context.Background(), func(tx Tx) error {
		if err := tx.EnqueueEvent(context.Background(), " transfa.events ", "a.one", map[string]string{"k": "v"}); err != nil {
			return err
		}
		return tx.EnqueueEvent(context.Background(), "transfa.events", "a.two", map[string]string{"k": "v"})
	})
	if err != nil {
		t.Fatalf("WithinTx returned error: %v", err)
	}

	claimed, err := repo.ClaimOutboxMessages(context.Background(), 10, 120)
	if err != nil {
		t.Fatalf("ClaimOutboxMessages returned error: %v", err)
	}
	if len(claimed) != 2 || claimed[0].Exchange != "transfa.events" || claimed[0].Attempts != 1 {
		t.Fatalf("unexpected claim %+v", claimed)
	}

	again, _ := repo.ClaimOutboxMessages(context.Background(), 10, 120)
	if len(again) != 0 {
		t.Fatalf("in-flight rows must not be claimed twice, got %d", len(again))
	}

	_ = repo.MarkOutboxPublished(context.Background(), claimed[0].ID)
	_ = repo.MarkOutboxFailed(context.Background(), claimed[1].ID, 60, "broker down")

	pruned, err := repo.PruneOutbox(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PruneOutbox returned error: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}
	if keys := repo.OutboxRoutingKeys(); len(keys) != 1 || keys[0] != "a.two" {
		t.Fatalf("expected the failed row to remain, got %v", keys)
	}
}

func TestLoadMemorySeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.json")
	seed := `{
  "customers": [
    {"id": 7, "username": "ada", "roles": ["CUSTOMER"]},
    {"id": 9, "username": "grace", "roles": ["STAFF"]}
  ],
  "accounts": [
    {"account_number": 100, "customer_id": 7, "account_type": "SAVINGS", "balance": "500.00", "approved": true}
  ],
  "beneficiaries": [
    {"customer_id": 9, "account_number": 100, "approved": true, "active": true}
  ]
}`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	repo, err := LoadMemorySeed(path)
	if err != nil {
		t.Fatalf("LoadMemorySeed returned error: %v", err)
	}
	staff, err := repo.FindCustomerByUsername(context.Background(), "grace")
	if err != nil || !staff.HasRole(domain.RoleStaff) {
		t.Fatalf("expected staff customer grace, got %+v err=%v", staff, err)
	}
	account, err := repo.FindAccount(context.Background(), 100)
	if err != nil {
		t.Fatalf("FindAccount returned error: %v", err)
	}
	if !account.OpeningBalance.Equal(decimal.RequireFromString("500")) || account.Status != domain.AccountStatusEnabled {
		t.Fatalf("unexpected seeded account %+v", account)
	}

	b, ok := staff.Beneficiaries[100]
	if !ok || !b.Approved || b.CustomerID != 9 || b.ID == 0 {
		t.Fatalf("expected seeded beneficiary for account 100, got %+v", staff.Beneficiaries)
	}

	if _, err := LoadMemorySeed(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected missing seed file to fail")
	}

	orphan := filepath.Join(dir, "orphan.json")
	if err := os.WriteFile(orphan, []byte(`{"beneficiaries": [{"customer_id": 42, "account_number": 100}]}`), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := LoadMemorySeed(orphan); err == nil {
		t.Fatalf("expected beneficiaries for an unknown customer to fail")
	}
}

func TestUniqueSorted(t *testing.T) {
	got := uniqueSorted([]int64{300, 100, 300, 200})
	want := []int64{100, 200, 300}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTruncateReason(t *testing.T) {
	long := make([]byte, 2500)
	for i := range long {
		long[i] = 'x'
	}
	if got := truncateReason(string(long)); len(got) != 2000 {
		t.Fatalf("expected 2000 characters, got %d", len(got))
	}
	if got := truncateReason("  short  "); got != "short" {
		t.Fatalf("expected trimmed reason, got %q", got)
	}
}

func TestTruncateReason_KeepsRunesWhole(t *testing.T) {
	// 1999 ASCII bytes followed by two-byte runes put a rune across the cap.
	reason := strings.Repeat("x", 1999) + strings.Repeat("é", 10)
	got := truncateReason(reason)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated reason is not valid UTF-8")
	}
	if len(got) != 1999 {
		t.Fatalf("expected cut before the split rune at 1999 bytes, got %d", len(got))
	}

	reason = strings.Repeat("€", 700)
	got = truncateReason(reason)
	if !utf8.ValidString(got) || len(got) > 2000 || utf8.RuneCountInString(got) != 666 {
		t.Fatalf("unexpected truncation: %d bytes, %d runes", len(got), utf8.RuneCountInString(got))
	}
}
