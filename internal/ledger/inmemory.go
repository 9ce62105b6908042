package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryLedger struct {
	mu          sync.RWMutex // one lock for every account
	now         func() time.Time
	balances    map[string]decimal.Decimal
	logs        map[string][]string
	txs         map[string]Transaction
	byReference map[string]string
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		now:         func() time.Time { return time.Now().UTC() },
		balances:    make(map[string]decimal.Decimal),
		logs:        make(map[string][]string),
		txs:         make(map[string]Transaction),
		byReference: make(map[string]string),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = decimal.Zero
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return decimal.Zero, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Post(_ context.Context, p Posting) (Transaction, decimal.Decimal, error) {
	if err := checkPosting(p); err != nil {
		return Transaction{}, decimal.Zero, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[p.AccountCode]
	if !ok {
		return Transaction{}, decimal.Zero, ErrAccountNotFound
	}
	if existing, dup := l.existingLocked(p.Reference); dup {
		return existing, balance, ErrDuplicateTransaction
	}

	if p.Type.IsCredit() {
		balance = balance.Add(p.Amount)
	} else {
		if balance.LessThan(p.Amount) {
			return Transaction{}, balance, ErrInsufficientFunds
		}
		balance = balance.Sub(p.Amount)
	}

	tx := l.appendLocked(p, StatusCompleted)
	l.balances[p.AccountCode] = balance
	return tx, balance, nil
}

func (l *inMemoryLedger) OpenPending(_ context.Context, p Posting) (Transaction, error) {
	if err := checkPosting(p); err != nil {
		return Transaction{}, err
	}
	if !p.Type.IsCredit() || p.Reference == "" {
		return Transaction{}, ErrInvalidPosting
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[p.AccountCode]; !ok {
		return Transaction{}, ErrAccountNotFound
	}
	if existing, dup := l.existingLocked(p.Reference); dup {
		return existing, ErrDuplicateTransaction
	}
	return l.appendLocked(p, StatusPending), nil
}

func (l *inMemoryLedger) Settle(_ context.Context, id string, status Status) (Transaction, decimal.Decimal, error) {
	if status != StatusCompleted && status != StatusFailed {
		return Transaction{}, decimal.Zero, ErrInvalidTransition
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[id]
	if !ok {
		return Transaction{}, decimal.Zero, ErrTransactionNotFound
	}
	balance := l.balances[tx.AccountCode]
	if tx.Status != StatusPending {
		if tx.Status == status {
			return tx, balance, ErrDuplicateTransaction
		}
		return tx, balance, ErrInvalidTransition
	}

	if status == StatusCompleted {
		if tx.Type.IsCredit() {
			balance = balance.Add(tx.Amount)
		} else {
			if balance.LessThan(tx.Amount) {
				return tx, balance, ErrInsufficientFunds
			}
			balance = balance.Sub(tx.Amount)
		}
		l.balances[tx.AccountCode] = balance
	}
	tx.Status = status
	tx.UpdatedAt = l.now()
	l.txs[id] = tx
	return tx, balance, nil
}

func (l *inMemoryLedger) Transaction(_ context.Context, code, id string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.txs[id]
	if !ok || tx.AccountCode != code {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (l *inMemoryLedger) ByReference(_ context.Context, reference string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.existingLocked(reference)
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (l *inMemoryLedger) History(_ context.Context, code string, f Filter) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.balances[code]; !ok {
		return nil, ErrAccountNotFound
	}
	ids := l.logs[code]
	out := make([]Transaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		tx := l.txs[ids[i]]
		if !f.match(tx) {
			continue
		}
		out = append(out, tx)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (l *inMemoryLedger) Pending(_ context.Context) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for _, tx := range l.txs {
		if tx.Status == StatusPending {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *inMemoryLedger) existingLocked(reference string) (Transaction, bool) {
	if reference == "" {
		return Transaction{}, false
	}
	id, ok := l.byReference[reference]
	if !ok {
		return Transaction{}, false
	}
	return l.txs[id], true
}

func (l *inMemoryLedger) appendLocked(p Posting, status Status) Transaction {
	now := l.now()
	tx := Transaction{
		ID:          uuid.NewString(),
		AccountCode: p.AccountCode,
		Type:        p.Type,
		Amount:      p.Amount,
		Description: p.Description,
		Status:      status,
		Reference:   p.Reference,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.txs[tx.ID] = tx
	l.logs[p.AccountCode] = append(l.logs[p.AccountCode], tx.ID)
	if p.Reference != "" {
		l.byReference[p.Reference] = tx.ID
	}
	return tx
}
