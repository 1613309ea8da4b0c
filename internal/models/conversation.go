package models

import "time"

// Conversation is the unique thread between one unordered pair of users.
// UserAID is always the smaller id so the pair maps to a single row.
type Conversation struct {
	ID        int64     `db:"id" json:"id"`
	UserAID   int64     `db:"user_a_id" json:"user_a_id"`
	UserBID   int64     `db:"user_b_id" json:"user_b_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID int64) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// SummaryRow is the raw per-conversation aggregate the store returns for one
// user's sidebar: the peer, the latest message and how many of the peer's
// messages the user has not seen yet. Rows come back ordered by the
// conversation's updated_at, most recent first.
type SummaryRow struct {
	ConversationID int64     `db:"conversation_id"`
	PeerID         int64     `db:"peer_id"`
	UnseenCount    int       `db:"unseen_count"`
	UpdatedAt      time.Time `db:"updated_at"`
	LastMessage    *Message  `db:"-"`
}

// Summary is the API-facing sidebar entry for one conversation.
type Summary struct {
	ConversationID int64    `json:"conversation_id"`
	Peer           Profile  `json:"peer"`
	LastMessage    *Message `json:"last_message,omitempty"`
	UnseenCount    int      `json:"unseen_count"`
}
