package services

import (
	"context"
	"errors"
	"testing"

	"chat-notify/internal/cipher"
	"chat-notify/internal/database/dbtest"
	"chat-notify/internal/models"
	"chat-notify/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *cipher.Cipher {
	t.Helper()
	c, err := cipher.New("delta engine test key")
	require.NoError(t, err)
	return c
}

func msg(id int, text string) models.MessageSummary {
	return models.MessageSummary{ID: id, SenderID: 1, SenderName: "bob", Text: &text}
}

func ids(messages []models.MessageSummary) []int {
	out := make([]int, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestDeltaEngine_Poll(t *testing.T) {
	ctx := context.Background()

	t.Run("reports nothing when there was and is nothing", func(t *testing.T) {
		db := dbtest.New()
		engine := NewDeltaEngine(db, newTestCipher(t), 42, logger.Discard())

		delta := engine.Poll(ctx)

		assert.False(t, delta.Changed())
	})

	t.Run("second poll without data change reports no change", func(t *testing.T) {
		// given
		db := dbtest.New()
		db.SetMessages(42, msg(1, "a"), msg(2, "b"))
		db.SetInvitations(42, models.InvitationSummary{ID: 9, RoomName: "general", SenderName: "bob"})
		engine := NewDeltaEngine(db, newTestCipher(t), 42, logger.Discard())

		// when
		first := engine.Poll(ctx)
		second := engine.Poll(ctx)

		// then
		assert.True(t, first.MessagesChanged)
		assert.True(t, first.InvitationsChanged)
		assert.False(t, second.MessagesChanged)
		assert.False(t, second.InvitationsChanged)
	})

	t.Run("a removed message is reported with the remaining list", func(t *testing.T) {
		// given
		db := dbtest.New()
		db.SetMessages(42, msg(1, "a"), msg(2, "b"))
		engine := NewDeltaEngine(db, newTestCipher(t), 42, logger.Discard())

		first := engine.Poll(ctx)
		require.True(t, first.MessagesChanged)
		assert.Equal(t, []int{1, 2}, ids(first.Messages))

		// when
		db.SetMessages(42, msg(2, "b"))
		second := engine.Poll(ctx)

		// then
		assert.True(t, second.MessagesChanged)
		assert.Equal(t, []int{2}, ids(second.Messages))
	})

	t.Run("transition to empty is a change with an empty list", func(t *testing.T) {
		// given
		db := dbtest.New()
		db.SetMessages(42, msg(1, "a"))
		db.SetInvitations(42, models.InvitationSummary{ID: 3})
		engine := NewDeltaEngine(db, newTestCipher(t), 42, logger.Discard())
		engine.Poll(ctx)

		// when
		db.SetMessages(42)
		db.SetInvitations(42)
		delta := engine.Poll(ctx)

		// then
		assert.True(t, delta.MessagesChanged)
		assert.NotNil(t, delta.Messages)
		assert.Empty(t, delta.Messages)
		assert.True(t, delta.InvitationsChanged)
		assert.NotNil(t, delta.Invitations)
		assert.Empty(t, delta.Invitations)
	})

	t.Run("same size but different ids is a change", func(t *testing.T) {
		db := dbtest.New()
		db.SetMessages(42, msg(1, "a"))
		engine := NewDeltaEngine(db, newTestCipher(t), 42, logger.Discard())
		engine.Poll(ctx)

		db.SetMessages(42, msg(5, "e"))
		delta := engine.Poll(ctx)

		assert.True(t, delta.MessagesChanged)
		assert.Equal(t, []int{5}, ids(delta.Messages))
	})

	t.Run("storage failure is no change and the next tick recovers", func(t *testing.T) {
		// given
		db := dbtest.New()
		db.SetMessages(42, msg(1, "a"))
		db.SetInvitations(42, models.InvitationSummary{ID: 3})
		engine := NewDeltaEngine(db, newTestCipher(t), 42, logger.Discard())
		engine.Poll(ctx)

		// when
		db.SetMessages(42, msg(1, "a"), msg(2, "b"))
		db.SetInvitations(42, models.InvitationSummary{ID: 3}, models.InvitationSummary{ID: 4})
		db.SetUnreadErr(errors.New("connection reset"))
		failed := engine.Poll(ctx)

		// then
		assert.False(t, failed.MessagesChanged)
		assert.True(t, failed.InvitationsChanged, "invitations are polled independently")

		db.SetUnreadErr(nil)
		recovered := engine.Poll(ctx)
		assert.True(t, recovered.MessagesChanged)
		assert.Equal(t, []int{1, 2}, ids(recovered.Messages))
	})

	t.Run("decrypts stored text and substitutes unrecoverable text", func(t *testing.T) {
		// given
		c := newTestCipher(t)
		plain := "hello"
		enc, err := c.Encrypt(&plain)
		require.NoError(t, err)

		foreign, err := cipher.New("some other key")
		require.NoError(t, err)
		foreignEnc, err := foreign.Encrypt(&plain)
		require.NoError(t, err)

		db := dbtest.New()
		db.SetMessages(42,
			models.MessageSummary{ID: 1, Text: enc},
			msg(2, "legacy plaintext"),
			models.MessageSummary{ID: 3, Text: foreignEnc},
			models.MessageSummary{ID: 4, FileURL: &plain},
		)
		engine := NewDeltaEngine(db, c, 42, logger.Discard())

		// when
		delta := engine.Poll(ctx)

		// then
		require.Len(t, delta.Messages, 4)
		assert.Equal(t, "hello", *delta.Messages[0].Text)
		assert.Equal(t, "legacy plaintext", *delta.Messages[1].Text)
		assert.Equal(t, PlaceholderText, *delta.Messages[2].Text)
		assert.Nil(t, delta.Messages[3].Text)
	})
}
