package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"piggybank/internal/ledger"
)

// parametersFor derives the JSON schema of a tool's arguments from its
// argument struct. The same bytes are advertised to the model and to MCP
// clients.
func parametersFor[T any]() ([]byte, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("tools: schema for %T: %w", *new(T), err)
	}
	bound(s)
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("tools: encode schema for %T: %w", *new(T), err)
	}
	return raw, nil
}

func mustParameters[T any]() []byte {
	raw, err := parametersFor[T]()
	if err != nil {
		panic(err)
	}
	return raw
}

// bound applies the ranges the struct tags cannot express.
func bound(s *jsonschema.Schema) {
	if amount, ok := s.Properties["amount"]; ok {
		// *float64 infers as ["null","number"]; a null amount is never valid.
		amount.Types = nil
		amount.Type = "number"
		amount.ExclusiveMinimum = jsonschema.Ptr(0.0)
		amount.Maximum = jsonschema.Ptr(float64(ledger.MaxAmount) / 100)
	}
	if limit, ok := s.Properties["limit"]; ok {
		limit.Minimum = jsonschema.Ptr(1.0)
		limit.Maximum = jsonschema.Ptr(float64(ledger.MaxHistoryLimit))
	}
}
