// Package dbtest provides an in-memory database.Database for tests.
package dbtest

import (
	"context"
	"sync"
	"time"

	"chat-notify/internal/database"
	"chat-notify/internal/models"
)

// FakeDB keeps every table in memory. The *Err fields inject failures into
// the matching operation until they are reset.
type FakeDB struct {
	mu sync.Mutex

	users       map[int]*models.User
	messages    map[int][]models.MessageSummary
	invitations map[int][]models.InvitationSummary
	sessions    map[int]*models.PresenceRecord
	status      map[int]bool

	UnreadErr      error
	InvitationsErr error
	SessionErr     error
	StatusErr      error

	unreadCalls int
	statusLog   []StatusWrite
}

type StatusWrite struct {
	UserID int
	Online bool
}

var _ database.Database = (*FakeDB)(nil)

func New() *FakeDB {
	return &FakeDB{
		users:       make(map[int]*models.User),
		messages:    make(map[int][]models.MessageSummary),
		invitations: make(map[int][]models.InvitationSummary),
		sessions:    make(map[int]*models.PresenceRecord),
		status:      make(map[int]bool),
	}
}

func (f *FakeDB) Close() error { return nil }

func (f *FakeDB) AddUser(id int, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &models.User{ID: id, Username: name}
}

func (f *FakeDB) SetMessages(userID int, msgs ...models.MessageSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[userID] = append([]models.MessageSummary(nil), msgs...)
}

func (f *FakeDB) SetInvitations(userID int, invs ...models.InvitationSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invitations[userID] = append([]models.InvitationSummary(nil), invs...)
}

func (f *FakeDB) SetUnreadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UnreadErr = err
}

func (f *FakeDB) SetSessionErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SessionErr = err
}

func (f *FakeDB) SetStatusErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusErr = err
}

// PutOnlineSession seeds a presence record, e.g. one left open by a crash.
func (f *FakeDB) PutOnlineSession(r models.PresenceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[r.UserID] = &r
}

func (f *FakeDB) OnlineSession(userID int) (models.PresenceRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.sessions[userID]
	if !ok {
		return models.PresenceRecord{}, false
	}
	return *r, true
}

func (f *FakeDB) Status(userID int) (online bool, written bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	online, written = f.status[userID]
	return online, written
}

func (f *FakeDB) StatusWrites() []StatusWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StatusWrite(nil), f.statusLog...)
}

func (f *FakeDB) UnreadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unreadCalls
}

func (f *FakeDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *FakeDB) UnreadMessages(ctx context.Context, userID int) ([]models.MessageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadCalls++
	if f.UnreadErr != nil {
		return nil, f.UnreadErr
	}
	return append(make([]models.MessageSummary, 0), f.messages[userID]...), nil
}

func (f *FakeDB) PendingInvitations(ctx context.Context, userID int) ([]models.InvitationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InvitationsErr != nil {
		return nil, f.InvitationsErr
	}
	return append(make([]models.InvitationSummary, 0), f.invitations[userID]...), nil
}

func (f *FakeDB) GetOnlineSession(ctx context.Context, userID int) (*models.PresenceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SessionErr != nil {
		return nil, f.SessionErr
	}
	r, ok := f.sessions[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *FakeDB) OpenOnlineSession(ctx context.Context, userID int, start time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SessionErr != nil {
		return f.SessionErr
	}
	r, ok := f.sessions[userID]
	if !ok {
		r = &models.PresenceRecord{UserID: userID}
		f.sessions[userID] = r
	}
	r.SessionStart = &start
	r.SessionEnd = nil
	return nil
}

func (f *FakeDB) CloseOnlineSession(ctx context.Context, userID int, end time.Time, delta time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SessionErr != nil {
		return false, f.SessionErr
	}
	r, ok := f.sessions[userID]
	if !ok || !r.Open() {
		return false, nil
	}
	r.SessionEnd = &end
	r.TotalOnline += delta
	return true, nil
}

func (f *FakeDB) SetUserStatus(ctx context.Context, userID int, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return f.StatusErr
	}
	f.status[userID] = online
	f.statusLog = append(f.statusLog, StatusWrite{UserID: userID, Online: online})
	return nil
}
