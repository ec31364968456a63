package tracker

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session id is unknown to the store.
var ErrSessionNotFound = errors.New("session not found")

// Filter narrows ListSessions results. Zero values mean no constraint.
type Filter struct {
	UserID string
	Status string
	From   *time.Time
	To     *time.Time
}

// Store persists sessions and per-user aggregates. Implementations do not
// need to be safe for concurrent use; the Tracker serializes access.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, f Filter) ([]*Session, error)

	SaveStats(ctx context.Context, st *UserStats) error
	GetStats(ctx context.Context, userID string) (*UserStats, error)
	AllStats(ctx context.Context) (map[string]*UserStats, error)
}
