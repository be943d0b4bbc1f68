package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"piggybank/internal/ledger"
)

// Argument shapes accepted by the tools. The subscription is never an
// argument; the caller supplies it.

type NoArgs struct{}

type AccountArgs struct {
	Name string `json:"name" jsonschema:"The name of the account."`
}

type HistoryArgs struct {
	Name  string `json:"name" jsonschema:"The name of the account."`
	Limit int    `json:"limit,omitempty" jsonschema:"How many recent transactions to return. Defaults to 5."`
}

type MoneyArgs struct {
	Name   string   `json:"name" jsonschema:"The name of the account."`
	Amount *float64 `json:"amount" jsonschema:"The amount of money in dollars, for example 2.50."`
	Reason string   `json:"reason,omitempty" jsonschema:"Why the money is moving."`
}

type TransferArgs struct {
	FromName string   `json:"from_name" jsonschema:"The account to take money from."`
	ToName   string   `json:"to_name" jsonschema:"The account to put money into."`
	Amount   *float64 `json:"amount" jsonschema:"The amount of money in dollars, for example 2.50."`
	Reason   string   `json:"reason,omitempty" jsonschema:"Why the money is moving."`
}

// decodeArgs strictly decodes raw into out. An empty payload decodes as {}.
func decodeArgs(raw []byte, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after arguments", ErrInvalidArguments)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArguments, field)
	}
	return nil
}

// toCents converts a dollar amount to cents, rounding to the nearest cent.
func toCents(amount *float64) (int64, error) {
	if amount == nil {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidArguments)
	}
	v := *amount
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%w: amount must be a positive number", ledger.ErrInvalidAmount)
	}
	if v > float64(ledger.MaxAmount)/100 {
		return 0, fmt.Errorf("%w: amount is too large", ledger.ErrInvalidAmount)
	}
	cents := int64(math.Round(v * 100))
	if cents <= 0 {
		return 0, fmt.Errorf("%w: amount is less than one cent", ledger.ErrInvalidAmount)
	}
	return cents, nil
}
