package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-notify/internal/database"
	"chat-notify/internal/telemetry"
	"chat-notify/pkg/logger"
)

type userPresence struct {
	mu       sync.Mutex
	sessions int
	removed  bool
}

// PresenceTracker turns session starts and ends into persistent presence
// transitions. A user goes Online when the first of their sessions starts and
// Offline when the last one ends. Transitions for one user are serialized;
// different users never wait on each other.
//
// If Online finds a record still open (the process died before closing it),
// that record is closed with zero added duration and a new one is opened.
type PresenceTracker struct {
	store database.PresenceRepository
	log   *logger.Logger
	now   func() time.Time

	mu    sync.Mutex
	users map[int]*userPresence
}

func NewPresenceTracker(store database.PresenceRepository, log *logger.Logger) *PresenceTracker {
	return &PresenceTracker{
		store: store,
		log:   log.With("component", "presence_tracker"),
		now:   func() time.Time { return time.Now().UTC() },
		users: make(map[int]*userPresence),
	}
}

func (p *PresenceTracker) entry(userID int) *userPresence {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[userID]
	if !ok {
		u = &userPresence{}
		p.users[userID] = u
	}
	return u
}

// lock returns the user's entry with its mutex held. An entry released while
// the caller waited for it is no longer in the map, so the lookup is retried.
func (p *PresenceTracker) lock(userID int) *userPresence {
	for {
		u := p.entry(userID)
		u.mu.Lock()
		if !u.removed {
			return u
		}
		u.mu.Unlock()
	}
}

// unlock drops the entry from the map once the user has no sessions left.
// Lock order is always entry mutex before p.mu.
func (p *PresenceTracker) unlock(userID int, u *userPresence) {
	if u.sessions == 0 {
		p.mu.Lock()
		if p.users[userID] == u {
			delete(p.users, userID)
		}
		p.mu.Unlock()
		u.removed = true
	}
	u.mu.Unlock()
}

// Start records one more live session for the user. The returned error joins
// the session-record and status-flag failures; both writes are always attempted.
func (p *PresenceTracker) Start(ctx context.Context, userID int) error {
	u := p.lock(userID)
	defer p.unlock(userID, u)

	u.sessions++
	if u.sessions > 1 {
		p.log.Debug("User %d opened session %d", userID, u.sessions)
		return nil
	}

	now := p.now()
	recordErr := p.openRecord(ctx, userID, now)
	statusErr := p.store.SetUserStatus(ctx, userID, true)
	if recordErr != nil {
		p.log.Error("Error updating user online session for user %d: %v", userID, recordErr)
	}
	if statusErr != nil {
		p.log.Error("Error updating user status for user %d: %v", userID, statusErr)
	}

	telemetry.PresenceTransitions.Add(ctx, 1, telemetry.Kind("online"))
	p.log.Info("User %d online at %s", userID, now.Format(time.RFC3339))
	return errors.Join(recordErr, statusErr)
}

func (p *PresenceTracker) openRecord(ctx context.Context, userID int, now time.Time) error {
	record, err := p.store.GetOnlineSession(ctx, userID)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return err
	case record.Open():
		p.log.Warn("Closing stale online session for user %d started at %s", userID, record.SessionStart.Format(time.RFC3339))
		if _, err := p.store.CloseOnlineSession(ctx, userID, now, 0); err != nil {
			return fmt.Errorf("close stale session: %w", err)
		}
	}

	return p.store.OpenOnlineSession(ctx, userID, now)
}

// End records that one of the user's sessions finished. Ending a user with no
// started sessions is a no-op.
func (p *PresenceTracker) End(ctx context.Context, userID int) error {
	u := p.lock(userID)
	defer p.unlock(userID, u)

	if u.sessions == 0 {
		p.log.Debug("Ignoring end for user %d without a started session", userID)
		return nil
	}
	u.sessions--
	if u.sessions > 0 {
		return nil
	}

	now := p.now()
	recordErr := p.closeRecord(ctx, userID, now)
	statusErr := p.store.SetUserStatus(ctx, userID, false)
	if recordErr != nil {
		p.log.Error("Error ending user online session for user %d: %v", userID, recordErr)
	}
	if statusErr != nil {
		p.log.Error("Error updating user status for user %d: %v", userID, statusErr)
	}

	telemetry.PresenceTransitions.Add(ctx, 1, telemetry.Kind("offline"))
	p.log.Info("User %d offline at %s", userID, now.Format(time.RFC3339))
	return errors.Join(recordErr, statusErr)
}

func (p *PresenceTracker) closeRecord(ctx context.Context, userID int, now time.Time) error {
	record, err := p.store.GetOnlineSession(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !record.Open() {
		return nil
	}

	duration := now.Sub(*record.SessionStart)
	if duration < 0 {
		duration = 0
	}
	_, err = p.store.CloseOnlineSession(ctx, userID, now, duration)
	return err
}

// Sessions returns how many live sessions the tracker counts for the user.
func (p *PresenceTracker) Sessions(userID int) int {
	p.mu.Lock()
	u, ok := p.users[userID]
	p.mu.Unlock()
	if !ok {
		return 0
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessions
}
