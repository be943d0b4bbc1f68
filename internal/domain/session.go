package domain

import "time"

// Session is the conversation state for one subscription.
type Session struct {
	ID             string
	SubscriptionID int64
	Messages       []ChatMessage
	LastAccess     time.Time
	CreatedAt      time.Time
}
