package database

import (
	"context"
	"errors"
	"time"

	"chat-notify/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type UserRepository interface {
	GetUserByID(ctx context.Context, id int) (*models.User, error)
}

// NotificationRepository serves the per-tick reads of the delta engine.
type NotificationRepository interface {
	UnreadMessages(ctx context.Context, userID int) ([]models.MessageSummary, error)
	PendingInvitations(ctx context.Context, userID int) ([]models.InvitationSummary, error)
}

type PresenceRepository interface {
	// GetOnlineSession returns ErrNotFound when the user has never been online.
	GetOnlineSession(ctx context.Context, userID int) (*models.PresenceRecord, error)
	// OpenOnlineSession sets session_start and clears session_end, creating the row if absent.
	OpenOnlineSession(ctx context.Context, userID int, start time.Time) error
	// CloseOnlineSession sets session_end and adds delta to the accumulated total,
	// only when the record is open. It reports whether a record was closed.
	CloseOnlineSession(ctx context.Context, userID int, end time.Time, delta time.Duration) (bool, error)
	// SetUserStatus writes the online flag on every room membership of the user.
	SetUserStatus(ctx context.Context, userID int, online bool) error
}

type Database interface {
	UserRepository
	NotificationRepository
	PresenceRepository
	Close() error
}
