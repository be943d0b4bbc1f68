package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"piggybank/internal/domain"
	"piggybank/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

func (s *Store) CreateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO subscriptions (name, token, created_at) VALUES (?, ?, ?)`,
		sub.Name, sub.Token, toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Subscription{}, fmt.Errorf("%w: subscription token already issued", ledger.ErrInvalidOperation)
		}
		return domain.Subscription{}, fmt.Errorf("repository: insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("repository: subscription id: %w", err)
	}
	sub.ID = id
	return sub, nil
}

func (s *Store) SubscriptionByToken(ctx context.Context, token string) (domain.Subscription, error) {
	var sub domain.Subscription
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, token FROM subscriptions WHERE token = ?`, token,
	).Scan(&sub.ID, &sub.Name, &sub.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, fmt.Errorf("%w: subscription", ledger.ErrNotFound)
	}
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("repository: select subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct domain.Account) (domain.Account, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO accounts (subscription_id, name, created_at) VALUES (?, ?, ?)`,
		acct.SubscriptionID, acct.Name, toMillis(acct.CreatedAt),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.Account{}, ledger.ErrDuplicateName
		case isForeignKeyViolation(err):
			return domain.Account{}, fmt.Errorf("%w: subscription", ledger.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("repository: insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Account{}, fmt.Errorf("repository: account id: %w", err)
	}
	acct.ID = id
	acct.CreatedAt = fromMillis(toMillis(acct.CreatedAt))
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context, subscriptionID int64) ([]domain.AccountBalance, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT a.id, a.subscription_id, a.name, a.created_at, COALESCE(SUM(t.amount), 0)
		   FROM accounts a
		   LEFT JOIN transactions t ON t.account_id = a.id
		  WHERE a.subscription_id = ?
		  GROUP BY a.id
		  ORDER BY a.id`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.AccountBalance
	for rows.Next() {
		var (
			ab        domain.AccountBalance
			createdAt int64
		)
		if err := rows.Scan(&ab.ID, &ab.SubscriptionID, &ab.Name, &createdAt, &ab.Balance); err != nil {
			return nil, fmt.Errorf("repository: scan account: %w", err)
		}
		ab.CreatedAt = fromMillis(createdAt)
		out = append(out, ab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate accounts: %w", err)
	}
	return out, nil
}

// InTx runs fn inside one IMMEDIATE transaction.
func (s *Store) InTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(ledgerTx{tx: tx})
	})
}

type ledgerTx struct {
	tx *sql.Tx
}

func (l ledgerTx) Account(ctx context.Context, subscriptionID int64, name string) (domain.Account, error) {
	var (
		acct      domain.Account
		createdAt int64
	)
	err := l.tx.QueryRowContext(ctx,
		`SELECT id, subscription_id, name, created_at FROM accounts WHERE subscription_id = ? AND name = ?`,
		subscriptionID, name,
	).Scan(&acct.ID, &acct.SubscriptionID, &acct.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("%w: account %q", ledger.ErrNotFound, name)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("repository: select account: %w", err)
	}
	acct.CreatedAt = fromMillis(createdAt)
	return acct, nil
}

func (l ledgerTx) Balance(ctx context.Context, accountID int64) (int64, error) {
	var balance int64
	err := l.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = ?`, accountID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("repository: sum transactions: %w", err)
	}
	return balance, nil
}

func (l ledgerTx) AppendTransaction(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	res, err := l.tx.ExecContext(ctx,
		`INSERT INTO transactions (account_id, amount, reason, created_at) VALUES (?, ?, ?, ?)`,
		txn.AccountID, txn.Amount, txn.Reason, toMillis(txn.CreatedAt),
	)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("repository: insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("repository: transaction id: %w", err)
	}
	txn.ID = id
	txn.CreatedAt = fromMillis(toMillis(txn.CreatedAt))
	return txn, nil
}

func (l ledgerTx) History(ctx context.Context, accountID int64, limit int) ([]domain.Transaction, error) {
	rows, err := l.tx.QueryContext(ctx,
		`SELECT id, account_id, amount, reason, created_at
		   FROM transactions
		  WHERE account_id = ?
		  ORDER BY id DESC
		  LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: select transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			txn       domain.Transaction
			createdAt int64
		)
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Amount, &txn.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("repository: scan transaction: %w", err)
		}
		txn.CreatedAt = fromMillis(createdAt)
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate transactions: %w", err)
	}
	return out, nil
}
