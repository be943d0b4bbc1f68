package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"piggybank/internal/domain"
)

const (
	// MaxAmount bounds a single movement to keep derived sums far from overflow.
	MaxAmount int64 = 100_000_000_00

	DefaultHistoryLimit = 5
	MaxHistoryLimit     = 100

	maxReasonLength = 200
)

// Store is the persistence contract for the ledger. Implementations must run
// the function passed to InTx inside a single serializable write transaction.
type Store interface {
	CreateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	SubscriptionByToken(ctx context.Context, token string) (domain.Subscription, error)
	CreateAccount(ctx context.Context, acct domain.Account) (domain.Account, error)
	ListAccounts(ctx context.Context, subscriptionID int64) ([]domain.AccountBalance, error)
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the view of the store available inside InTx.
type Tx interface {
	Account(ctx context.Context, subscriptionID int64, name string) (domain.Account, error)
	Balance(ctx context.Context, accountID int64) (int64, error)
	AppendTransaction(ctx context.Context, txn domain.Transaction) (domain.Transaction, error)
	History(ctx context.Context, accountID int64, limit int) ([]domain.Transaction, error)
}

// Receipt describes a committed movement on one account.
type Receipt struct {
	Account     string
	Transaction domain.Transaction
	Balance     int64
}

// TransferReceipt holds both legs of a committed transfer.
type TransferReceipt struct {
	From Receipt
	To   Receipt
}

// Service implements account operations on top of a Store.
type Service struct {
	store          Store
	overdraftLimit int64
	now            func() time.Time
	newToken       func() string
}

type Option func(*Service)

// WithOverdraftLimit lets balances go down to -limit cents. Zero keeps the
// strict no-overdraft policy.
func WithOverdraftLimit(limit int64) Option {
	return func(s *Service) {
		if limit > 0 {
			s.overdraftLimit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTokenGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newToken = gen
		}
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger: store must not be nil")
	}
	s := &Service{
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateSubscription provisions a tenant and issues its bearer token.
func (s *Service) CreateSubscription(ctx context.Context, name string) (domain.Subscription, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Subscription{}, fmt.Errorf("%w: subscription name is required", ErrInvalidOperation)
	}
	sub, err := s.store.CreateSubscription(ctx, domain.Subscription{Name: name, Token: s.newToken()})
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("ledger: create subscription: %w", err)
	}
	return sub, nil
}

// Authenticate resolves a bearer token to its subscription.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Subscription, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Subscription{}, fmt.Errorf("%w: subscription token is required", ErrNotFound)
	}
	sub, err := s.store.SubscriptionByToken(ctx, token)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("ledger: authenticate: %w", err)
	}
	return sub, nil
}

func (s *Service) CreateAccount(ctx context.Context, subscriptionID int64, name string) (domain.Account, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return domain.Account{}, err
	}
	acct, err := s.store.CreateAccount(ctx, domain.Account{
		SubscriptionID: subscriptionID,
		Name:           normalized,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("ledger: create account %q: %w", normalized, err)
	}
	return acct, nil
}

func (s *Service) Deposit(ctx context.Context, subscriptionID int64, name string, amount int64, reason string) (Receipt, error) {
	return s.move(ctx, subscriptionID, name, amount, false, reason)
}

func (s *Service) Withdraw(ctx context.Context, subscriptionID int64, name string, amount int64, reason string) (Receipt, error) {
	return s.move(ctx, subscriptionID, name, amount, true, reason)
}

// move appends one entry of the caller's positive amount, negated for a
// debit. Debits are checked against the overdraft policy inside the same
// transaction as the append.
func (s *Service) move(ctx context.Context, subscriptionID int64, name string, amount int64, debit bool, reason string) (Receipt, error) {
	if err := validateAmount(amount); err != nil {
		return Receipt{}, err
	}
	delta := amount
	if debit {
		delta = -amount
	}
	normalized, err := NormalizeName(name)
	if err != nil {
		return Receipt{}, err
	}
	reason, err = cleanReason(reason)
	if err != nil {
		return Receipt{}, err
	}

	var out Receipt
	err = s.store.InTx(ctx, func(tx Tx) error {
		acct, err := tx.Account(ctx, subscriptionID, normalized)
		if err != nil {
			return err
		}
		r, err := s.appendChecked(ctx, tx, acct, delta, reason)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: %s %q: %w", verb(delta), normalized, err)
	}
	return out, nil
}

// Transfer debits from and credits to in one transaction; either both
// entries commit or neither does.
func (s *Service) Transfer(ctx context.Context, subscriptionID int64, from, to string, amount int64, reason string) (TransferReceipt, error) {
	if err := validateAmount(amount); err != nil {
		return TransferReceipt{}, err
	}
	fromName, err := NormalizeName(from)
	if err != nil {
		return TransferReceipt{}, err
	}
	toName, err := NormalizeName(to)
	if err != nil {
		return TransferReceipt{}, err
	}
	if fromName == toName {
		return TransferReceipt{}, fmt.Errorf("%w: cannot transfer from %q to itself", ErrInvalidOperation, fromName)
	}
	reason, err = cleanReason(reason)
	if err != nil {
		return TransferReceipt{}, err
	}

	var out TransferReceipt
	err = s.store.InTx(ctx, func(tx Tx) error {
		src, err := tx.Account(ctx, subscriptionID, fromName)
		if err != nil {
			return err
		}
		dst, err := tx.Account(ctx, subscriptionID, toName)
		if err != nil {
			return err
		}
		debit, err := s.appendChecked(ctx, tx, src, -amount, transferReason("Transfer to", dst.Name, reason))
		if err != nil {
			return err
		}
		credit, err := s.appendChecked(ctx, tx, dst, amount, transferReason("Transfer from", src.Name, reason))
		if err != nil {
			return err
		}
		out = TransferReceipt{From: debit, To: credit}
		return nil
	})
	if err != nil {
		return TransferReceipt{}, fmt.Errorf("ledger: transfer %q to %q: %w", fromName, toName, err)
	}
	return out, nil
}

func (s *Service) appendChecked(ctx context.Context, tx Tx, acct domain.Account, delta int64, reason string) (Receipt, error) {
	balance, err := tx.Balance(ctx, acct.ID)
	if err != nil {
		return Receipt{}, err
	}
	if delta < 0 && balance+delta < -s.overdraftLimit {
		return Receipt{}, &InsufficientFundsError{Account: acct.Name, Balance: balance, Requested: -delta}
	}
	txn, err := tx.AppendTransaction(ctx, domain.Transaction{
		AccountID: acct.ID,
		Amount:    delta,
		Reason:    reason,
		CreatedAt: s.now(),
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Account: acct.Name, Transaction: txn, Balance: balance + delta}, nil
}

func (s *Service) GetBalance(ctx context.Context, subscriptionID int64, name string) (domain.AccountBalance, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return domain.AccountBalance{}, err
	}
	var out domain.AccountBalance
	err = s.store.InTx(ctx, func(tx Tx) error {
		acct, err := tx.Account(ctx, subscriptionID, normalized)
		if err != nil {
			return err
		}
		balance, err := tx.Balance(ctx, acct.ID)
		if err != nil {
			return err
		}
		out = domain.AccountBalance{Account: acct, Balance: balance}
		return nil
	})
	if err != nil {
		return domain.AccountBalance{}, fmt.Errorf("ledger: balance %q: %w", normalized, err)
	}
	return out, nil
}

// ListAccounts returns every account of the subscription in creation order.
func (s *Service) ListAccounts(ctx context.Context, subscriptionID int64) ([]domain.AccountBalance, error) {
	accounts, err := s.store.ListAccounts(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list accounts: %w", err)
	}
	return accounts, nil
}

// GetHistory returns up to limit transactions, newest first.
func (s *Service) GetHistory(ctx context.Context, subscriptionID int64, name string, limit int) ([]domain.Transaction, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	var out []domain.Transaction
	err = s.store.InTx(ctx, func(tx Tx) error {
		acct, err := tx.Account(ctx, subscriptionID, normalized)
		if err != nil {
			return err
		}
		out, err = tx.History(ctx, acct.ID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: history %q: %w", normalized, err)
	}
	return out, nil
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if amount > MaxAmount {
		return fmt.Errorf("%w: amount exceeds %s", ErrInvalidAmount, domain.FormatCents(MaxAmount))
	}
	return nil
}

func cleanReason(reason string) (string, error) {
	reason = strings.Join(strings.Fields(reason), " ")
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return "", fmt.Errorf("%w: reason longer than %d characters", ErrInvalidOperation, maxReasonLength)
	}
	return reason, nil
}

func transferReason(prefix, counterpart, reason string) string {
	if reason == "" {
		return prefix + " " + counterpart
	}
	return prefix + " " + counterpart + ": " + reason
}

func verb(delta int64) string {
	if delta < 0 {
		return "withdraw from"
	}
	return "deposit to"
}
