package services

import (
	"context"

	"chat-notify/internal/cipher"
	"chat-notify/internal/database"
	"chat-notify/internal/models"
	"chat-notify/internal/telemetry"
	"chat-notify/pkg/logger"
)

// PlaceholderText replaces message bodies that cannot be decrypted.
const PlaceholderText = "Message encoded"

// Delta is the result of one poll. A list is only meaningful when its
// changed flag is set, and then it is the full current list.
type Delta struct {
	MessagesChanged    bool
	Messages           []models.MessageSummary
	InvitationsChanged bool
	Invitations        []models.InvitationSummary
}

func (d Delta) Changed() bool {
	return d.MessagesChanged || d.InvitationsChanged
}

type idSet map[int]struct{}

func idsOf[T any](items []T, id func(T) int) idSet {
	set := make(idSet, len(items))
	for _, item := range items {
		set[id(item)] = struct{}{}
	}
	return set
}

func (s idSet) equal(other idSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}

// DeltaEngine holds the snapshot of what one session last pushed. It is owned
// by a single session goroutine and is not safe for concurrent use.
type DeltaEngine struct {
	store  database.NotificationRepository
	cipher *cipher.Cipher
	userID int
	log    *logger.Logger

	messageIDs    idSet
	invitationIDs idSet
}

func NewDeltaEngine(store database.NotificationRepository, c *cipher.Cipher, userID int, log *logger.Logger) *DeltaEngine {
	return &DeltaEngine{
		store:         store,
		cipher:        c,
		userID:        userID,
		log:           log.With("component", "delta_engine", "user_id", userID),
		messageIDs:    make(idSet),
		invitationIDs: make(idSet),
	}
}

// Poll queries current unread messages and pending invitations and reports
// which of them differ from the snapshot, updating it in place. Storage
// failures are logged and leave that half of the snapshot untouched.
func (e *DeltaEngine) Poll(ctx context.Context) Delta {
	telemetry.Polls.Add(ctx, 1)
	var delta Delta

	messages, err := e.store.UnreadMessages(ctx, e.userID)
	if err != nil {
		telemetry.PollErrors.Add(ctx, 1, telemetry.Kind("messages"))
		e.log.Error("Error retrieving new messages: %v", err)
	} else if current := idsOf(messages, messageID); !current.equal(e.messageIDs) {
		e.messageIDs = current
		delta.MessagesChanged = true
		delta.Messages = e.decode(messages)
	}

	invitations, err := e.store.PendingInvitations(ctx, e.userID)
	if err != nil {
		telemetry.PollErrors.Add(ctx, 1, telemetry.Kind("invitations"))
		e.log.Error("Error retrieving pending invitations: %v", err)
	} else if current := idsOf(invitations, invitationID); !current.equal(e.invitationIDs) {
		e.invitationIDs = current
		delta.InvitationsChanged = true
		delta.Invitations = invitations
		if delta.Invitations == nil {
			delta.Invitations = []models.InvitationSummary{}
		}
	}

	return delta
}

func (e *DeltaEngine) decode(messages []models.MessageSummary) []models.MessageSummary {
	out := make([]models.MessageSummary, len(messages))
	for i, msg := range messages {
		if msg.Text == nil {
			out[i] = msg
			continue
		}
		text := e.cipher.Decrypt(msg.Text)
		if text == nil {
			placeholder := PlaceholderText
			text = &placeholder
		}
		msg.Text = text
		out[i] = msg
	}
	return out
}

func messageID(m models.MessageSummary) int       { return m.ID }
func invitationID(i models.InvitationSummary) int { return i.ID }
