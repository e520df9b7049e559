package models

// NewMessagesPayload replaces the client's unread-message view.
type NewMessagesPayload struct {
	Messages []MessageSummary `json:"new_message"`
}

// NewInvitationsPayload replaces the client's pending-invitation view.
type NewInvitationsPayload struct {
	Invitations []InvitationSummary `json:"new_invitations"`
}

type OnlineUser struct {
	UserID   int `json:"user_id"`
	Sessions int `json:"sessions"`
}

type OnlineUsersResponse struct {
	Users []OnlineUser `json:"users"`
	Count int          `json:"count"`
}
