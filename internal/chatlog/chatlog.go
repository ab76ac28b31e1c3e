// Package chatlog persists per-user chat transcripts.
package chatlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrNoUser = errors.New("chatlog: user id is required")

// Entry is one stored line. Text carries the role tag, e.g. "USER: hello".
type Entry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"tekst"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	// Append assigns an id and stores e at the end of the user's transcript.
	Append(ctx context.Context, e Entry) (Entry, error)
	// History returns the user's entries in insertion order.
	History(ctx context.Context, userID string) ([]Entry, error)
	Close() error
}

const (
	TagUser     = "USER"
	TagOperator = "OP"
)

// RoleTag maps a client supplied role onto the stored tag.
func RoleTag(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "operator", "op", "assistant", "support":
		return TagOperator
	default:
		return TagUser
	}
}

// Tagged renders "TAG: text".
func Tagged(role, text string) string {
	return RoleTag(role) + ": " + text
}

// MemoryStore keeps transcripts in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byUser map[string][]Entry
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]Entry), now: time.Now}
}

func (m *MemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	if e.UserID == "" {
		return Entry{}, ErrNoUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	m.byUser[e.UserID] = append(m.byUser[e.UserID], e)
	return e, nil
}

func (m *MemoryStore) History(_ context.Context, userID string) ([]Entry, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.byUser[userID]...), nil
}

func (m *MemoryStore) Close() error { return nil }
