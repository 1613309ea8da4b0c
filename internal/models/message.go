package models

import "time"

// Message is a single direct message. Exactly one conversation owns it.
// Immutable after creation except for the seen flag, which only ever
// transitions false -> true.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	AuthorID       int64     `db:"author_id" json:"author_id"`
	Text           string    `db:"text" json:"text,omitempty"`
	ImageURL       string    `db:"image_url" json:"image_url,omitempty"`
	VideoURL       string    `db:"video_url" json:"video_url,omitempty"`
	Seen           bool      `db:"seen" json:"seen"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// HasContent reports whether the message carries at least one payload field.
func (m Message) HasContent() bool {
	return m.Text != "" || m.ImageURL != "" || m.VideoURL != ""
}
