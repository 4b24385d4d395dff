/**
 * @description
 * This file contains an in-process implementation of the ledger Repository.
 * It backs local runs (STORE_DRIVER=memory) and the service tests.
 *
 * @notes
 * - A single mutex is held for the whole WithinTx callback, so every unit of
 *   work is serialized. Writes are staged on the memoryTx and applied only when
 *   the callback returns nil.
 * - Records are cloned on the way in and out; callers never share memory with the store.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

const (
	outboxPending    = "pending"
	outboxProcessing = "processing"
	outboxPublished  = "published"

	firstAccountNumber = 100000
)

// MemoryRepository keeps the whole ledger in process memory.
type MemoryRepository struct {
	mu        sync.Mutex
	customers map[int64]*domain.Customer
	accounts  map[int64]*domain.Account
	entries   map[int64][]domain.Transaction
	outbox    []*memoryOutboxRow

	nextCustomerID    int64
	nextAccountNumber int64
	nextEntryID       int64
	nextBeneficiaryID int64
	nextOutboxID      int64

	now func() time.Time
}

type memoryOutboxRow struct {
	message             OutboxMessage
	status              string
	nextAttemptAt       time.Time
	processingStartedAt time.Time
	publishedAt         time.Time
	lastError           string
}

// NewMemoryRepository creates an empty in-memory ledger store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers:         make(map[int64]*domain.Customer),
		accounts:          make(map[int64]*domain.Account),
		entries:           make(map[int64][]domain.Transaction),
		nextCustomerID:    1,
		nextAccountNumber: firstAccountNumber,
		nextEntryID:       1,
		nextBeneficiaryID: 1,
		nextOutboxID:      1,
		now:               time.Now,
	}
}

type memorySeed struct {
	Customers     []domain.Customer    `json:"customers"`
	Accounts      []domain.Account     `json:"accounts"`
	Beneficiaries []domain.Beneficiary `json:"beneficiaries"`
}

// LoadMemorySeed builds a MemoryRepository from a JSON file holding
// {"customers": [...], "accounts": [...], "beneficiaries": [...]}.
// Beneficiaries are attached to the customer named by their customer_id.
func LoadMemorySeed(path string) (*MemoryRepository, error) {
	repo := NewMemoryRepository()
	if strings.TrimSpace(path) == "" {
		return repo, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory seed %s: %w", path, err)
	}
	var seed memorySeed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to decode memory seed %s: %w", path, err)
	}
	byCustomer := make(map[int64]map[int64]*domain.Beneficiary)
	for i := range seed.Beneficiaries {
		b := seed.Beneficiaries[i]
		if byCustomer[b.CustomerID] == nil {
			byCustomer[b.CustomerID] = make(map[int64]*domain.Beneficiary)
		}
		if _, dup := byCustomer[b.CustomerID][b.AccountNumber]; dup {
			return nil, fmt.Errorf("memory seed %s: customer %d lists account number %d twice", path, b.CustomerID, b.AccountNumber)
		}
		byCustomer[b.CustomerID][b.AccountNumber] = &b
	}
	for _, c := range seed.Customers {
		if set, ok := byCustomer[c.ID]; ok {
			c.Beneficiaries = set
			delete(byCustomer, c.ID)
		}
		repo.SeedCustomer(c)
	}
	if len(byCustomer) > 0 {
		unknown := make([]int64, 0, len(byCustomer))
		for customerID := range byCustomer {
			unknown = append(unknown, customerID)
		}
		return nil, fmt.Errorf("memory seed %s: beneficiaries for unknown customers %v", path, uniqueSorted(unknown))
	}
	for _, a := range seed.Accounts {
		repo.SeedAccount(a)
	}
	return repo, nil
}

// SeedCustomer stores a customer as-is, assigning an ID when it has none.
func (m *MemoryRepository) SeedCustomer(c domain.Customer) *domain.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := c.Clone()
	if stored.ID == 0 {
		stored.ID = m.nextCustomerID
	}
	if stored.ID >= m.nextCustomerID {
		m.nextCustomerID = stored.ID + 1
	}
	if stored.Status == "" {
		stored.Status = "enabled"
	}
	for _, b := range stored.Beneficiaries {
		b.CustomerID = stored.ID
		if b.ID == 0 {
			b.ID = m.nextBeneficiaryID
			m.nextBeneficiaryID++
		}
	}
	m.customers[stored.ID] = stored
	return stored.Clone()
}

// SeedAccount stores an account as-is, assigning a number when it has none.
// Without an explicit opening balance the current balance is taken as opening.
func (m *MemoryRepository) SeedAccount(a domain.Account) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := a.Clone()
	if stored.Number == 0 {
		stored.Number = m.nextAccountNumber
	}
	if stored.Number >= m.nextAccountNumber {
		m.nextAccountNumber = stored.Number + 1
	}
	if stored.OpeningBalance.IsZero() && len(stored.Transactions) == 0 {
		stored.OpeningBalance = stored.Balance
	}
	if stored.Status == "" {
		stored.Status = domain.AccountStatusDisabled
		if stored.Approved {
			stored.Status = domain.AccountStatusEnabled
		}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	for _, entry := range stored.Transactions {
		entry.ID = m.nextEntryID
		entry.AccountNumber = stored.Number
		m.nextEntryID++
		m.entries[stored.Number] = append(m.entries[stored.Number], entry)
	}
	stored.Transactions = nil
	m.accounts[stored.Number] = stored
	return stored.Clone()
}

func (m *MemoryRepository) FindAccount(ctx context.Context, accountNumber int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountNumber]
	if !ok {
		return nil, fmt.Errorf("account number %d: %w", accountNumber, ErrAccountNotFound)
	}
	return account.Clone(), nil
}

func (m *MemoryRepository) FindCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	customer, ok := m.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", customerID, ErrCustomerNotFound)
	}
	return customer.Clone(), nil
}

func (m *MemoryRepository) FindCustomerByUsername(ctx context.Context, username string) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trimmed := strings.TrimSpace(username)
	for _, customer := range m.customers {
		if customer.Username == trimmed {
			return customer.Clone(), nil
		}
	}
	return nil, fmt.Errorf("username %q: %w", username, ErrCustomerNotFound)
}

func (m *MemoryRepository) ListAccountsByCustomer(ctx context.Context, customerID int64) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var accounts []domain.Account
	for _, account := range m.accounts {
		if account.CustomerID == customerID {
			accounts = append(accounts, *account.Clone())
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Number < accounts[j].Number })
	return accounts, nil
}

func (m *MemoryRepository) ListTransactions(ctx context.Context, accountNumber int64, limit int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.entries[accountNumber]
	entries := make([]domain.Transaction, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		entries = append(entries, stored[i])
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (m *MemoryRepository) ListLedgerTotals(ctx context.Context) ([]LedgerTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make([]LedgerTotals, 0, len(m.accounts))
	for number, account := range m.accounts {
		sum := decimal.Zero
		for _, entry := range m.entries[number] {
			sum = sum.Add(entry.Amount)
		}
		totals = append(totals, LedgerTotals{
			AccountNumber:  number,
			Balance:        account.Balance,
			OpeningBalance: account.OpeningBalance,
			EntriesTotal:   sum,
		})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].AccountNumber < totals[j].AccountNumber })
	return totals, nil
}

func (m *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		repo:      m,
		accounts:  make(map[int64]*domain.Account),
		customers: make(map[int64]*domain.Customer),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memoryTx struct {
	repo      *MemoryRepository
	accounts  map[int64]*domain.Account
	customers map[int64]*domain.Customer
	entries   []domain.Transaction
	outbox    []*memoryOutboxRow
}

func (t *memoryTx) account(number int64) (*domain.Account, bool) {
	if staged, ok := t.accounts[number]; ok {
		return staged, true
	}
	stored, ok := t.repo.accounts[number]
	return stored, ok
}

func (t *memoryTx) customer(id int64) (*domain.Customer, bool) {
	if staged, ok := t.customers[id]; ok {
		return staged, true
	}
	stored, ok := t.repo.customers[id]
	return stored, ok
}

func (t *memoryTx) LockAccounts(ctx context.Context, accountNumbers ...int64) (map[int64]*domain.Account, error) {
	locked := make(map[int64]*domain.Account, len(accountNumbers))
	for _, number := range uniqueSorted(accountNumbers) {
		account, ok := t.account(number)
		if !ok {
			return nil, fmt.Errorf("account number %d: %w", number, ErrAccountNotFound)
		}
		locked[number] = account.Clone()
	}
	return locked, nil
}

func (t *memoryTx) LockCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	customer, ok := t.customer(customerID)
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", customerID, ErrCustomerNotFound)
	}
	return customer.Clone(), nil
}

func (t *memoryTx) FindAccount(ctx context.Context, accountNumber int64) (*domain.Account, error) {
	account, ok := t.account(accountNumber)
	if !ok {
		return nil, fmt.Errorf("account number %d: %w", accountNumber, ErrAccountNotFound)
	}
	return account.Clone(), nil
}

func (t *memoryTx) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	if _, ok := t.customer(account.CustomerID); !ok {
		return nil, fmt.Errorf("customer %d: %w", account.CustomerID, ErrCustomerNotFound)
	}
	created := account.Clone()
	created.Number = t.repo.nextAccountNumber
	created.Transactions = nil
	t.repo.nextAccountNumber++
	t.accounts[created.Number] = created.Clone()
	return created, nil
}

func (t *memoryTx) PersistAccounts(ctx context.Context, accounts []*domain.Account) error {
	for _, account := range accounts {
		if _, ok := t.account(account.Number); !ok {
			return fmt.Errorf("account number %d: %w", account.Number, ErrAccountNotFound)
		}
		for i := range account.Transactions {
			entry := &account.Transactions[i]
			if entry.ID != 0 {
				continue
			}
			entry.ID = t.repo.nextEntryID
			entry.AccountNumber = account.Number
			t.repo.nextEntryID++
			t.entries = append(t.entries, *entry)
		}
		stored := account.Clone()
		stored.Transactions = nil
		t.accounts[account.Number] = stored
	}
	return nil
}

func (t *memoryTx) PersistCustomer(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	if _, ok := t.customer(customer.ID); !ok {
		return nil, fmt.Errorf("customer %d: %w", customer.ID, ErrCustomerNotFound)
	}
	stored := customer.Clone()
	for _, b := range stored.Beneficiaries {
		b.CustomerID = stored.ID
		if b.ID == 0 {
			b.ID = t.repo.nextBeneficiaryID
			t.repo.nextBeneficiaryID++
		}
	}
	t.customers[stored.ID] = stored
	return stored.Clone(), nil
}

func (t *memoryTx) EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.outbox = append(t.outbox, &memoryOutboxRow{
		message: OutboxMessage{
			Exchange:   strings.TrimSpace(exchange),
			RoutingKey: strings.TrimSpace(routingKey),
			Payload:    blob,
		},
		status: outboxPending,
	})
	return nil
}

func (t *memoryTx) commit() {
	for number, account := range t.accounts {
		t.repo.accounts[number] = account
	}
	for id, customer := range t.customers {
		t.repo.customers[id] = customer
	}
	for _, entry := range t.entries {
		t.repo.entries[entry.AccountNumber] = append(t.repo.entries[entry.AccountNumber], entry)
	}
	now := t.repo.now()
	for _, row := range t.outbox {
		row.message.ID = t.repo.nextOutboxID
		row.nextAttemptAt = now
		t.repo.nextOutboxID++
		t.repo.outbox = append(t.repo.outbox, row)
	}
}

func (m *MemoryRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	staleBefore := now.Add(-time.Duration(staleAfterSeconds) * time.Second)
	var claimed []OutboxMessage
	for _, row := range m.outbox {
		if len(claimed) == limit {
			break
		}
		due := row.status == outboxPending && !row.nextAttemptAt.After(now)
		stale := row.status == outboxProcessing && row.processingStartedAt.Before(staleBefore)
		if !due && !stale {
			continue
		}
		row.status = outboxProcessing
		row.processingStartedAt = now
		row.message.Attempts++
		claimed = append(claimed, row.message)
	}
	return claimed, nil
}

func (m *MemoryRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.outbox {
		if row.message.ID == id {
			row.status = outboxPublished
			row.publishedAt = m.now()
			row.lastError = ""
			return nil
		}
	}
	return nil
}

func (m *MemoryRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.outbox {
		if row.message.ID == id {
			row.status = outboxPending
			row.nextAttemptAt = m.now().Add(time.Duration(retryAfterSeconds) * time.Second)
			row.lastError = truncateReason(reason)
			return nil
		}
	}
	return nil
}

func (m *MemoryRepository) PruneOutbox(ctx context.Context, publishedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.outbox[:0]
	var pruned int64
	for _, row := range m.outbox {
		if row.status == outboxPublished && row.publishedAt.Before(publishedBefore) {
			pruned++
			continue
		}
		kept = append(kept, row)
	}
	m.outbox = kept
	return pruned, nil
}

// OutboxRoutingKeys lists the routing keys of every stored outbox row in insertion order.
func (m *MemoryRepository) OutboxRoutingKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.outbox))
	for _, row := range m.outbox {
		keys = append(keys, row.message.RoutingKey)
	}
	return keys
}
