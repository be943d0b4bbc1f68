package domain

import (
	"fmt"
	"time"
)

// Subscription is a tenant. Every account and session belongs to exactly one.
type Subscription struct {
	ID    int64
	Name  string
	Token string
}

// Account is a named bucket of money inside a subscription.
type Account struct {
	ID             int64
	SubscriptionID int64
	Name           string
	CreatedAt      time.Time
}

// AccountBalance pairs an account with its derived balance.
type AccountBalance struct {
	Account
	Balance int64
}

// Transaction is an immutable signed ledger entry in cents.
type Transaction struct {
	ID        int64
	AccountID int64
	Amount    int64
	Reason    string
	CreatedAt time.Time
}

// FormatCents renders an amount of cents as a dollar string, e.g. -$1.05.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// CentsToMajor converts cents to a float amount in major units for display.
func CentsToMajor(cents int64) float64 {
	return float64(cents) / 100
}
