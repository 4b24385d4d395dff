/**
 * @description
 * This file contains the PostgreSQL implementation of the ledger Repository.
 * Account rows are locked with SELECT ... FOR UPDATE, always in ascending
 * account-number order, so concurrent transfers touching the same pair of
 * accounts serialize without deadlocking.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - github.com/shopspring/decimal: NUMERIC columns are moved as text and parsed here.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is the pgx-backed ledger store.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `account_number, customer_id, account_type, balance::text, opening_balance::text,
	status, approved, approved_by, created_at`

func (r *PostgresRepository) FindAccount(ctx context.Context, accountNumber int64) (*domain.Account, error) {
	return findAccount(ctx, r.db, accountNumber, false)
}

func (r *PostgresRepository) FindCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	return findCustomer(ctx, r.db, customerID, false)
}

func (r *PostgresRepository) FindCustomerByUsername(ctx context.Context, username string) (*domain.Customer, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM customers WHERE username = $1`, strings.TrimSpace(username)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("username %q: %w", username, ErrCustomerNotFound)
		}
		return nil, err
	}
	return findCustomer(ctx, r.db, id, false)
}

func (r *PostgresRepository) ListAccountsByCustomer(ctx context.Context, customerID int64) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE customer_id = $1 ORDER BY account_number`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, accountNumber int64, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT id, transfer_id, account_number, date, amount::text, reference, transaction_type, initiated_by
		FROM ledger_transactions
		WHERE account_number = $1
		ORDER BY date DESC, id DESC
	`
	args := []any{accountNumber}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Transaction
	for rows.Next() {
		var (
			txn       domain.Transaction
			amountStr string
			txnType   string
		)
		if err := rows.Scan(&txn.ID, &txn.TransferID, &txn.AccountNumber, &txn.Date, &amountStr, &txn.Reference, &txnType, &txn.InitiatorID); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for transaction %d: %w", txn.ID, err)
		}
		txn.Amount = amount
		txn.Type = domain.TransactionType(txnType)
		entries = append(entries, txn)
	}
	return entries, rows.Err()
}

func (r *PostgresRepository) ListLedgerTotals(ctx context.Context) ([]LedgerTotals, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.account_number, a.balance::text, a.opening_balance::text, COALESCE(SUM(t.amount), 0)::text
		FROM accounts a
		LEFT JOIN ledger_transactions t ON t.account_number = a.account_number
		GROUP BY a.account_number
		ORDER BY a.account_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []LedgerTotals
	for rows.Next() {
		var t LedgerTotals
		var balance, opening, entries string
		if err := rows.Scan(&t.AccountNumber, &balance, &opening, &entries); err != nil {
			return nil, err
		}
		if t.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, err
		}
		if t.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
			return nil, err
		}
		if t.EntriesTotal, err = decimal.NewFromString(entries); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockAccounts(ctx context.Context, accountNumbers ...int64) (map[int64]*domain.Account, error) {
	ordered := uniqueSorted(accountNumbers)
	accounts := make(map[int64]*domain.Account, len(ordered))
	for _, number := range ordered {
		account, err := findAccount(ctx, t.tx, number, true)
		if err != nil {
			return nil, err
		}
		accounts[number] = account
	}
	return accounts, nil
}

func (t *postgresTx) LockCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	return findCustomer(ctx, t.tx, customerID, true)
}

func (t *postgresTx) FindAccount(ctx context.Context, accountNumber int64) (*domain.Account, error) {
	return findAccount(ctx, t.tx, accountNumber, false)
}

func (t *postgresTx) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	created := account.Clone()
	err := t.tx.QueryRow(ctx, `
		INSERT INTO accounts (customer_id, account_type, balance, opening_balance, status, approved, created_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
		RETURNING account_number
	`, account.CustomerID, string(account.Type), account.Balance.String(), account.OpeningBalance.String(),
		string(account.Status), account.Approved, account.CreatedAt,
	).Scan(&created.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

func (t *postgresTx) PersistAccounts(ctx context.Context, accounts []*domain.Account) error {
	for _, account := range accounts {
		tag, err := t.tx.Exec(ctx, `
			UPDATE accounts
			SET balance = $1::numeric, status = $2, approved = $3, approved_by = $4
			WHERE account_number = $5
		`, account.Balance.String(), string(account.Status), account.Approved, account.ApprovedBy, account.Number)
		if err != nil {
			return fmt.Errorf("failed to update account %d: %w", account.Number, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("account number %d: %w", account.Number, ErrAccountNotFound)
		}

		for i := range account.Transactions {
			entry := &account.Transactions[i]
			if entry.ID != 0 {
				continue
			}
			err := t.tx.QueryRow(ctx, `
				INSERT INTO ledger_transactions (transfer_id, account_number, date, amount, reference, transaction_type, initiated_by)
				VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
				RETURNING id
			`, entry.TransferID, account.Number, entry.Date, entry.Amount.String(), entry.Reference, string(entry.Type), entry.InitiatorID,
			).Scan(&entry.ID)
			if err != nil {
				return fmt.Errorf("failed to append ledger entry for account %d: %w", account.Number, err)
			}
		}
	}
	return nil
}

func (t *postgresTx) PersistCustomer(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	stored, err := loadBeneficiaries(ctx, t.tx, customer.ID)
	if err != nil {
		return nil, err
	}

	keep := make(map[int64]bool, len(customer.Beneficiaries))
	for _, b := range customer.Beneficiaries {
		if b.ID != 0 {
			keep[b.ID] = true
		}
	}
	for _, b := range stored {
		if keep[b.ID] {
			continue
		}
		if _, err := t.tx.Exec(ctx, `DELETE FROM beneficiaries WHERE id = $1 AND customer_id = $2`, b.ID, customer.ID); err != nil {
			return nil, fmt.Errorf("failed to remove beneficiary %d: %w", b.ID, err)
		}
	}

	for _, b := range customer.Beneficiaries {
		if b.ID != 0 {
			_, err := t.tx.Exec(ctx, `UPDATE beneficiaries SET approved = $1, active = $2 WHERE id = $3 AND customer_id = $4`,
				b.Approved, b.Active, b.ID, customer.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to update beneficiary %d: %w", b.ID, err)
			}
			continue
		}
		_, err := t.tx.Exec(ctx, `
			INSERT INTO beneficiaries (customer_id, account_number, added_date, approved, active)
			VALUES ($1, $2, $3, $4, $5)
		`, customer.ID, b.AccountNumber, b.AddedDate, b.Approved, b.Active)
		if err != nil {
			return nil, fmt.Errorf("failed to add beneficiary for account %d: %w", b.AccountNumber, err)
		}
	}

	return findCustomer(ctx, t.tx, customer.ID, false)
}

func (t *postgresTx) EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	return enqueueEventTx(ctx, t.tx, exchange, routingKey, payload)
}

func findAccount(ctx context.Context, q querier, accountNumber int64, forUpdate bool) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	account, err := scanAccount(q.QueryRow(ctx, query, accountNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account number %d: %w", accountNumber, ErrAccountNotFound)
		}
		return nil, err
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account          domain.Account
		accountType      string
		status           string
		balance, opening string
	)
	err := row.Scan(&account.Number, &account.CustomerID, &accountType, &balance, &opening,
		&status, &account.Approved, &account.ApprovedBy, &account.CreatedAt)
	if err != nil {
		return nil, err
	}
	if account.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("invalid balance for account %d: %w", account.Number, err)
	}
	if account.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return nil, fmt.Errorf("invalid opening balance for account %d: %w", account.Number, err)
	}
	account.Type = domain.AccountType(accountType)
	account.Status = domain.AccountStatus(status)
	return &account, nil
}

func findCustomer(ctx context.Context, q querier, customerID int64, forUpdate bool) (*domain.Customer, error) {
	query := `SELECT id, username, full_name, status, roles, created_at FROM customers WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		customer domain.Customer
		roles    []string
	)
	err := q.QueryRow(ctx, query, customerID).Scan(&customer.ID, &customer.Username, &customer.FullName, &customer.Status, &roles, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("customer %d: %w", customerID, ErrCustomerNotFound)
		}
		return nil, err
	}
	for _, role := range roles {
		customer.Roles = append(customer.Roles, domain.Role(role))
	}

	beneficiaries, err := loadBeneficiaries(ctx, q, customerID)
	if err != nil {
		return nil, err
	}
	customer.Beneficiaries = make(map[int64]*domain.Beneficiary, len(beneficiaries))
	for i := range beneficiaries {
		b := beneficiaries[i]
		customer.Beneficiaries[b.AccountNumber] = &b
	}
	return &customer, nil
}

func loadBeneficiaries(ctx context.Context, q querier, customerID int64) ([]domain.Beneficiary, error) {
	rows, err := q.Query(ctx, `
		SELECT id, customer_id, account_number, added_date, approved, active
		FROM beneficiaries
		WHERE customer_id = $1
		ORDER BY id
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beneficiaries []domain.Beneficiary
	for rows.Next() {
		var b domain.Beneficiary
		if err := rows.Scan(&b.ID, &b.CustomerID, &b.AccountNumber, &b.AddedDate, &b.Approved, &b.Active); err != nil {
			return nil, err
		}
		beneficiaries = append(beneficiaries, b)
	}
	return beneficiaries, rows.Err()
}

func uniqueSorted(numbers []int64) []int64 {
	seen := make(map[int64]bool, len(numbers))
	ordered := make([]int64, 0, len(numbers))
	for _, n := range numbers {
		if seen[n] {
			continue
		}
		seen[n] = true
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	return ordered
}
