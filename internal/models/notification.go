package models

import "time"

type User struct {
	ID       int    `json:"id"`
	Username string `json:"user_name"`
}

// MessageSummary describes one unread private message addressed to a user.
// Text holds the stored payload until the delta engine decodes it.
type MessageSummary struct {
	ID         int     `json:"message_id"`
	SenderID   int     `json:"sender_id"`
	SenderName string  `json:"sender"`
	Text       *string `json:"message"`
	FileURL    *string `json:"fileUrl"`
}

type InvitationSummary struct {
	ID         int    `json:"invitation_id"`
	RoomName   string `json:"room"`
	SenderName string `json:"sender"`
}

// PresenceRecord is the per-user online-time row. The record is open while
// SessionEnd is nil.
type PresenceRecord struct {
	UserID       int
	SessionStart *time.Time
	SessionEnd   *time.Time
	TotalOnline  time.Duration
}

func (r *PresenceRecord) Open() bool {
	return r.SessionStart != nil && r.SessionEnd == nil
}
