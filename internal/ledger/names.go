package ledger

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const maxNameLength = 64

// NormalizeName canonicalizes an account name so that "Savings", " savings "
// and "SAVINGS" address the same account.
func NormalizeName(name string) (string, error) {
	n := norm.NFC.String(name)
	n = strings.Join(strings.Fields(n), " ")
	if n == "" {
		return "", fmt.Errorf("%w: account name is required", ErrInvalidOperation)
	}
	// A Caser holds state, so one is built per call.
	n = norm.NFC.String(cases.Fold().String(n))
	if utf8.RuneCountInString(n) > maxNameLength {
		return "", fmt.Errorf("%w: account name longer than %d characters", ErrInvalidOperation, maxNameLength)
	}
	return n, nil
}
