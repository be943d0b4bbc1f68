package usecase

import (
	"context"
	"fmt"
	"strings"

	"piggybank/internal/domain"
	"piggybank/internal/session"
)

// AccountLister is the slice of the ledger needed to seed a session.
type AccountLister interface {
	ListAccounts(ctx context.Context, subscriptionID int64) ([]domain.AccountBalance, error)
}

// SeedAccounts returns a session seed that opens every conversation with a
// snapshot of the subscription's accounts.
func SeedAccounts(l AccountLister) session.SeedFunc {
	return func(ctx context.Context, subscriptionID int64) ([]domain.ChatMessage, error) {
		accounts, err := l.ListAccounts(ctx, subscriptionID)
		if err != nil {
			return nil, fmt.Errorf("usecase: list accounts for seed: %w", err)
		}
		return []domain.ChatMessage{{Role: domain.RoleSystem, Content: accountSnapshot(accounts)}}, nil
	}
}

func accountSnapshot(accounts []domain.AccountBalance) string {
	if len(accounts) == 0 {
		return "No accounts currently exist."
	}
	lines := make([]string, 0, len(accounts)+1)
	lines = append(lines, "Current accounts:")
	for _, a := range accounts {
		lines = append(lines, fmt.Sprintf("- %s: %s", a.Name, domain.FormatCents(a.Balance)))
	}
	return strings.Join(lines, "\n")
}

// buildTranscript prepends the policy prompt to the stored session messages.
// The policy is sent on every turn and never persisted.
func buildTranscript(systemPrompt string, history []domain.ChatMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(history)+1)
	out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: buildPolicyPrompt(systemPrompt)})
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func buildPolicyPrompt(systemPrompt string) string {
	parts := []string{
		"Role:",
		"You are a friendly piggy bank assistant for a child.",
		"",
		"Behavior Rules:",
		behaviorRules(),
	}
	if p := strings.TrimSpace(systemPrompt); p != "" {
		parts = append(parts, "", p)
	}
	return strings.Join(parts, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Use the tools to do every requested operation right away. Do not ask for approval.",
		"2) When a request has several steps, do all of them in the same turn.",
		"3) Do not explain what you are about to do. Just do it.",
		"4) After money is added, withdrawn or transferred, tell the new balance.",
		"5) If a tool returns an error, explain it simply and suggest what to try next.",
		"6) Use short sentences a child can read.",
	}, "\n")
}
