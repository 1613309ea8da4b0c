package models

import "encoding/json"

// Protocol event names. Inbound events come from clients, outbound events are
// pushed by the server.
const (
	EventOpenThread     = "open-thread"
	EventSendMessage    = "send-message"
	EventSidebarRequest = "sidebar-request"
	EventMarkSeen       = "mark-seen"

	EventProfile          = "profile"
	EventThread           = "thread"
	EventSummaries        = "conversation-summaries"
	EventPresenceSnapshot = "presence-snapshot"
	EventError            = "error"
)

// ClientEvent is the envelope for inbound websocket frames.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the envelope for outbound websocket frames.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// OpenThreadPayload requests the thread with a peer.
type OpenThreadPayload struct {
	PeerID int64 `json:"peer_id"`
}

// SendMessagePayload carries a new message. At least one of Text, ImageURL
// and VideoURL must be non-empty or the event is dropped.
type SendMessagePayload struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Text       string `json:"text,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	VideoURL   string `json:"video_url,omitempty"`
}

// SidebarPayload requests the conversation summaries for a user.
type SidebarPayload struct {
	UserID int64 `json:"user_id"`
}

// MarkSeenPayload marks every message authored by PeerID in the requester's
// conversation with them as seen.
type MarkSeenPayload struct {
	PeerID int64 `json:"peer_id"`
}
