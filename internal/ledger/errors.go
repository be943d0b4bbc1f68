package ledger

import (
	"errors"
	"fmt"

	"piggybank/internal/domain"
)

var (
	// ErrNotFound is returned when a subscription or account does not exist
	// within the caller's subscription.
	ErrNotFound = errors.New("ledger: not found")
	// ErrDuplicateName is returned when an account name is already taken in
	// the subscription after normalization.
	ErrDuplicateName = errors.New("ledger: duplicate account name")
	// ErrInvalidAmount is returned for zero, negative or out-of-range amounts.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientFunds is returned when a debit would exceed the overdraft policy.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInvalidOperation is returned for requests that are well formed but
	// make no sense, such as a transfer to the same account.
	ErrInvalidOperation = errors.New("ledger: invalid operation")
)

// InsufficientFundsError carries the balance that blocked a debit.
// It matches ErrInsufficientFunds under errors.Is.
type InsufficientFundsError struct {
	Account   string
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds in %q: balance %s, requested %s",
		e.Account, domain.FormatCents(e.Balance), domain.FormatCents(e.Requested))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
