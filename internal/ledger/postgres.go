package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger persists balances and transactions in PostgreSQL. The account row is
// locked FOR UPDATE for every mutation, which serializes postings per wallet.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const txColumns = `id, account_code, type, amount::text, description, status, COALESCE(reference, ''), created_at, updated_at`

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO ledger_accounts (code) VALUES ($1)
        ON CONFLICT (code) DO NOTHING`, code)
	return err
}

// Balance returns the current balance of the account.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (decimal.Decimal, error) {
	var raw string
	err := l.db.QueryRow(ctx, `SELECT balance::text FROM ledger_accounts WHERE code = $1`, code).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// Post records a completed transaction and applies it to the balance in one database transaction.
func (l *PostgresLedger) Post(ctx context.Context, p Posting) (Transaction, decimal.Decimal, error) {
	if err := checkPosting(p); err != nil {
		return Transaction{}, decimal.Zero, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, decimal.Zero, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := lockAccount(ctx, tx, p.AccountCode)
	if err != nil {
		return Transaction{}, decimal.Zero, err
	}
	if existing, err := findByReference(ctx, tx, p.Reference); err == nil {
		return existing, balance, ErrDuplicateTransaction
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return Transaction{}, decimal.Zero, err
	}

	delta := p.Amount
	if !p.Type.IsCredit() {
		if balance.LessThan(p.Amount) {
			return Transaction{}, balance, ErrInsufficientFunds
		}
		delta = p.Amount.Neg()
	}

	created, err := insertTransaction(ctx, tx, p, StatusCompleted)
	if err != nil {
		return l.duplicateOr(ctx, p.Reference, balance, err)
	}
	balance, err = applyDelta(ctx, tx, p.AccountCode, delta)
	if err != nil {
		return Transaction{}, decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, decimal.Zero, err
	}
	return created, balance, nil
}

// OpenPending records a pending credit bound to an external reference.
func (l *PostgresLedger) OpenPending(ctx context.Context, p Posting) (Transaction, error) {
	if err := checkPosting(p); err != nil {
		return Transaction{}, err
	}
	if !p.Type.IsCredit() || p.Reference == "" {
		return Transaction{}, ErrInvalidPosting
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := lockAccount(ctx, tx, p.AccountCode); err != nil {
		return Transaction{}, err
	}
	created, err := insertTransaction(ctx, tx, p, StatusPending)
	if err != nil {
		existing, _, dupErr := l.duplicateOr(ctx, p.Reference, decimal.Zero, err)
		return existing, dupErr
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return created, nil
}

// Settle performs the single allowed status transition of a pending transaction.
func (l *PostgresLedger) Settle(ctx context.Context, id string, status Status) (Transaction, decimal.Decimal, error) {
	if status != StatusCompleted && status != StatusFailed {
		return Transaction{}, decimal.Zero, ErrInvalidTransition
	}
	txID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, decimal.Zero, ErrTransactionNotFound
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, decimal.Zero, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE id = $1 FOR UPDATE`, txID))
	if err != nil {
		return Transaction{}, decimal.Zero, err
	}
	balance, err := lockAccount(ctx, tx, current.AccountCode)
	if err != nil {
		return Transaction{}, decimal.Zero, err
	}
	if current.Status != StatusPending {
		if current.Status == status {
			return current, balance, ErrDuplicateTransaction
		}
		return current, balance, ErrInvalidTransition
	}

	if status == StatusCompleted {
		delta := current.Amount
		if !current.Type.IsCredit() {
			if balance.LessThan(current.Amount) {
				return current, balance, ErrInsufficientFunds
			}
			delta = current.Amount.Neg()
		}
		if balance, err = applyDelta(ctx, tx, current.AccountCode, delta); err != nil {
			return Transaction{}, decimal.Zero, err
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE ledger_transactions SET status = $1, updated_at = $2 WHERE id = $3`, string(status), now, txID); err != nil {
		return Transaction{}, decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, decimal.Zero, err
	}

	current.Status = status
	current.UpdatedAt = now
	return current, balance, nil
}

// Transaction fetches one transaction of the account.
func (l *PostgresLedger) Transaction(ctx context.Context, code, id string) (Transaction, error) {
	txID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	return scanTransaction(l.db.QueryRow(ctx, `SELECT `+txColumns+` FROM ledger_transactions
        WHERE id = $1 AND account_code = $2`, txID, code))
}

// ByReference fetches the transaction bound to an external reference.
func (l *PostgresLedger) ByReference(ctx context.Context, reference string) (Transaction, error) {
	if reference == "" {
		return Transaction{}, ErrTransactionNotFound
	}
	return scanTransaction(l.db.QueryRow(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE reference = $1`, reference))
}

// History lists the account's transactions newest first.
func (l *PostgresLedger) History(ctx context.Context, code string, f Filter) ([]Transaction, error) {
	var exists bool
	if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_accounts WHERE code = $1)`, code).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	var (
		where = []string{"account_code = $1"}
		args  = []any{code}
	)
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + txColumns + ` FROM ledger_transactions WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return l.queryTransactions(ctx, query, args...)
}

// Pending lists every transaction still waiting for settlement.
func (l *PostgresLedger) Pending(ctx context.Context) ([]Transaction, error) {
	return l.queryTransactions(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE status = 'pending' ORDER BY seq`)
}

func (l *PostgresLedger) queryTransactions(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// duplicateOr maps a unique-violation on reference to ErrDuplicateTransaction with the winning row.
func (l *PostgresLedger) duplicateOr(ctx context.Context, reference string, balance decimal.Decimal, err error) (Transaction, decimal.Decimal, error) {
	var pgErr *pgconn.PgError
	if reference != "" && errors.As(err, &pgErr) && pgErr.Code == "23505" {
		existing, lookupErr := l.ByReference(ctx, reference)
		if lookupErr != nil {
			return Transaction{}, decimal.Zero, lookupErr
		}
		return existing, balance, ErrDuplicateTransaction
	}
	return Transaction{}, decimal.Zero, err
}

func lockAccount(ctx context.Context, tx pgx.Tx, code string) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRow(ctx, `SELECT balance::text FROM ledger_accounts WHERE code = $1 FOR UPDATE`, code).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func applyDelta(ctx context.Context, tx pgx.Tx, code string, delta decimal.Decimal) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRow(ctx, `UPDATE ledger_accounts SET balance = balance + $1::numeric WHERE code = $2
        RETURNING balance::text`, delta.String(), code).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, p Posting, status Status) (Transaction, error) {
	now := time.Now().UTC()
	id := uuid.New()
	var reference *string
	if p.Reference != "" {
		reference = &p.Reference
	}
	_, err := tx.Exec(ctx, `INSERT INTO ledger_transactions
        (id, account_code, type, amount, description, status, reference, created_at, updated_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $8)`,
		id, p.AccountCode, string(p.Type), p.Amount.String(), p.Description, string(status), reference, now)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:          id.String(),
		AccountCode: p.AccountCode,
		Type:        p.Type,
		Amount:      p.Amount,
		Description: p.Description,
		Status:      status,
		Reference:   p.Reference,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func findByReference(ctx context.Context, tx pgx.Tx, reference string) (Transaction, error) {
	if reference == "" {
		return Transaction{}, ErrTransactionNotFound
	}
	return scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM ledger_transactions WHERE reference = $1`, reference))
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		id        uuid.UUID
		txType    string
		amount    string
		status    string
		createdAt time.Time
		updatedAt time.Time
		t         Transaction
	)
	err := row.Scan(&id, &t.AccountCode, &txType, &amount, &t.Description, &status, &t.Reference, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	t.ID = id.String()
	t.Type = Type(txType)
	t.Status = Status(status)
	t.CreatedAt = createdAt.UTC()
	t.UpdatedAt = updatedAt.UTC()
	return t, nil
}
