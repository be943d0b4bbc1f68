package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"piggybank/internal/domain"
	"piggybank/internal/session"
)

var _ session.Store = (*Store)(nil)

// storedMessage is the persisted form of a chat message; per-turn tool
// fields are not kept.
type storedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func encodeMessages(msgs []domain.ChatMessage) (string, error) {
	stored := make([]storedMessage, 0, len(msgs))
	for _, m := range msgs {
		stored = append(stored, storedMessage{Role: m.Role, Content: m.Content})
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("repository: encode messages: %w", err)
	}
	return string(raw), nil
}

func decodeMessages(raw string) ([]domain.ChatMessage, error) {
	var stored []storedMessage
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("repository: decode messages: %w", err)
	}
	msgs := make([]domain.ChatMessage, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return msgs, nil
}

func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	raw, err := encodeMessages(sess.Messages)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, subscription_id, messages, last_access, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.SubscriptionID, raw, toMillis(sess.LastAccess), toMillis(sess.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repository: session %s already exists", sess.ID)
		}
		return fmt.Errorf("repository: insert session: %w", err)
	}
	return nil
}

func (s *Store) TouchSession(ctx context.Context, id string, subscriptionID int64, since, now time.Time) (domain.Session, error) {
	var out domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := activeSession(ctx, tx, id, subscriptionID, since)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_access = ? WHERE id = ?`, toMillis(now), id,
		); err != nil {
			return fmt.Errorf("repository: touch session: %w", err)
		}
		sess.LastAccess = fromMillis(toMillis(now))
		out = sess
		return nil
	})
	return out, err
}

func (s *Store) AppendMessages(ctx context.Context, id string, subscriptionID int64, since, now time.Time, msgs []domain.ChatMessage) (domain.Session, error) {
	var out domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := activeSession(ctx, tx, id, subscriptionID, since)
		if err != nil {
			return err
		}
		sess.Messages = append(sess.Messages, msgs...)
		raw, err := encodeMessages(sess.Messages)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET messages = ?, last_access = ? WHERE id = ?`, raw, toMillis(now), id,
		); err != nil {
			return fmt.Errorf("repository: append session messages: %w", err)
		}
		sess.LastAccess = fromMillis(toMillis(now))
		out = sess
		return nil
	})
	return out, err
}

func (s *Store) DeleteIdleSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE last_access < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("repository: delete idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repository: delete idle sessions: %w", err)
	}
	return int(n), nil
}

func (s *Store) DeleteAllSessions(ctx context.Context) (int, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, fmt.Errorf("repository: delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repository: delete sessions: %w", err)
	}
	return int(n), nil
}

func activeSession(ctx context.Context, tx *sql.Tx, id string, subscriptionID int64, since time.Time) (domain.Session, error) {
	var (
		sess       domain.Session
		raw        string
		lastAccess int64
		createdAt  int64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, subscription_id, messages, last_access, created_at
		   FROM sessions
		  WHERE id = ? AND subscription_id = ? AND last_access >= ?`,
		id, subscriptionID, toMillis(since),
	).Scan(&sess.ID, &sess.SubscriptionID, &raw, &lastAccess, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, session.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: select session: %w", err)
	}
	sess.Messages, err = decodeMessages(raw)
	if err != nil {
		return domain.Session{}, err
	}
	sess.LastAccess = fromMillis(lastAccess)
	sess.CreatedAt = fromMillis(createdAt)
	return sess, nil
}
