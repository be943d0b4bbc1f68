package tools

import (
	"errors"
	"fmt"

	"piggybank/internal/domain"
	"piggybank/internal/ledger"
)

// Explain turns an error from Dispatch into a short sentence a child can
// understand. It never exposes internal detail.
func Explain(err error) string {
	if err == nil {
		return ""
	}
	var insufficient *ledger.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		return fmt.Sprintf("There isn't enough money in %s. It has %s, but %s was needed.",
			insufficient.Account, domain.FormatCents(insufficient.Balance), domain.FormatCents(insufficient.Requested))
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "There isn't enough money in that account."
	case errors.Is(err, ledger.ErrNotFound):
		return "I couldn't find that account. You can ask me to list your accounts."
	case errors.Is(err, ledger.ErrDuplicateName):
		return "You already have an account with that name."
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "The amount has to be more than zero, like 1 or 2.50."
	case errors.Is(err, ledger.ErrInvalidOperation):
		return "Sorry, that can't be done with your accounts."
	case errors.Is(err, ErrUnknownTool):
		return "I don't know how to do that yet."
	case errors.Is(err, ErrInvalidArguments):
		return "I didn't get all the details. Could you say that another way?"
	default:
		return "Something went wrong on my side. Please try again in a moment."
	}
}
