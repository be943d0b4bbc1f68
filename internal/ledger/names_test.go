package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Savings", "savings"},
		{"  college   FUND ", "college fund"},
		{"ÉCOLE", "école"},
		{"Café", "café"},
	}
	for _, tc := range cases {
		got, err := NormalizeName(tc.in)
		require.NoError(t, err, "in=%q", tc.in)
		require.Equal(t, tc.want, got, "in=%q", tc.in)
	}
}

func TestNormalizeName_Rejects(t *testing.T) {
	_, err := NormalizeName(" \t ")
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = NormalizeName(strings.Repeat("a", maxNameLength+1))
	require.ErrorIs(t, err, ErrInvalidOperation)
}
