package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, conversationID, authorID int64, text, imageURL, videoURL string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	MarkSeen(ctx context.Context, conversationID, authorID int64) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a new message at the end of the conversation.
func (r *MessageRepo) AppendMessage(ctx context.Context, conversationID, authorID int64, text, imageURL, videoURL string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, author_id, text, image_url, video_url) VALUES ($1, $2, $3, $4, $5)
         RETURNING id, conversation_id, author_id, text, image_url, video_url, seen, created_at, updated_at`,
		conversationID, authorID, text, imageURL, videoURL).
		Scan(&msg.ID, &msg.ConversationID, &msg.AuthorID, &msg.Text, &msg.ImageURL, &msg.VideoURL, &msg.Seen, &msg.CreatedAt, &msg.UpdatedAt)
	return msg, err
}

// ListMessages returns the conversation's messages in send order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, conversation_id, author_id, text, image_url, video_url, seen, created_at, updated_at
         FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC, id ASC`, conversationID)
	return msgs, err
}

// MarkSeen flips the seen flag on every unseen message authored by authorID
// in the conversation. Repeating the call is a no-op.
func (r *MessageRepo) MarkSeen(ctx context.Context, conversationID, authorID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET seen = TRUE, updated_at = NOW()
         WHERE conversation_id=$1 AND author_id=$2 AND seen = FALSE`, conversationID, authorID)
	return err
}
