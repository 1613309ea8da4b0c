package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	FindConversation(ctx context.Context, userID, peerID int64) (models.Conversation, error)
	FindOrCreateConversation(ctx context.Context, userID, peerID int64) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error)
	ListSummaryRows(ctx context.Context, userID int64) ([]models.SummaryRow, error)
	Touch(ctx context.Context, conversationID int64) error
	DeleteConversationCascade(ctx context.Context, conversationID int64) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func orderPair(userID, peerID int64) (int64, int64) {
	if userID < peerID {
		return userID, peerID
	}
	return peerID, userID
}

// FindConversation returns the conversation for the unordered pair, or
// ErrConversationNotFound when the pair never exchanged a message.
func (r *ConversationRepo) FindConversation(ctx context.Context, userID, peerID int64) (models.Conversation, error) {
	userA, userB := orderPair(userID, peerID)

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, user_a_id, user_b_id, created_at, updated_at FROM conversations WHERE user_a_id=$1 AND user_b_id=$2`,
		userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// FindOrCreateConversation returns the pair's conversation, creating it when
// absent. The insert-if-absent is a single upsert so two concurrent senders
// for a brand-new pair always land on the same row.
func (r *ConversationRepo) FindOrCreateConversation(ctx context.Context, userID, peerID int64) (models.Conversation, error) {
	if userID == peerID {
		return models.Conversation{}, errors.New("cannot converse with self")
	}
	userA, userB := orderPair(userID, peerID)

	var conv models.Conversation
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO conversations (user_a_id, user_b_id) VALUES ($1, $2)
         ON CONFLICT (user_a_id, user_b_id) DO UPDATE SET user_a_id = EXCLUDED.user_a_id
         RETURNING id, user_a_id, user_b_id, created_at, updated_at`,
		userA, userB).
		Scan(&conv.ID, &conv.UserAID, &conv.UserBID, &conv.CreatedAt, &conv.UpdatedAt)
	return conv, err
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, user_a_id, user_b_id, created_at, updated_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListSummaryRows returns one aggregate row per conversation the user takes
// part in: peer, latest message and unseen count, most recently active first.
func (r *ConversationRepo) ListSummaryRows(ctx context.Context, userID int64) ([]models.SummaryRow, error) {
	query := `SELECT c.id,
            CASE WHEN c.user_a_id = $1 THEN c.user_b_id ELSE c.user_a_id END AS peer_id,
            c.updated_at,
            (SELECT COUNT(*) FROM messages m
               WHERE m.conversation_id = c.id AND m.author_id <> $1 AND m.seen = FALSE) AS unseen_count,
            lm.id, lm.author_id, lm.text, lm.image_url, lm.video_url, lm.seen, lm.created_at, lm.updated_at
        FROM conversations c
        LEFT JOIN LATERAL (
            SELECT * FROM messages m WHERE m.conversation_id = c.id
            ORDER BY m.created_at DESC, m.id DESC LIMIT 1
        ) lm ON TRUE
        WHERE c.user_a_id = $1 OR c.user_b_id = $1
        ORDER BY c.updated_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.SummaryRow
	for rows.Next() {
		var row models.SummaryRow
		var (
			lmID, lmAuthor           sql.NullInt64
			lmText, lmImage, lmVideo sql.NullString
			lmSeen                   sql.NullBool
			lmCreatedAt, lmUpdatedAt sql.NullTime
		)
		if err := rows.Scan(&row.ConversationID, &row.PeerID, &row.UpdatedAt, &row.UnseenCount,
			&lmID, &lmAuthor, &lmText, &lmImage, &lmVideo, &lmSeen, &lmCreatedAt, &lmUpdatedAt); err != nil {
			return nil, err
		}
		if lmID.Valid {
			row.LastMessage = &models.Message{
				ID:             lmID.Int64,
				ConversationID: row.ConversationID,
				AuthorID:       lmAuthor.Int64,
				Text:           lmText.String,
				ImageURL:       lmImage.String,
				VideoURL:       lmVideo.String,
				Seen:           lmSeen.Bool,
				CreatedAt:      lmCreatedAt.Time,
				UpdatedAt:      lmUpdatedAt.Time,
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Touch bumps the conversation's updated_at so sidebars re-order on activity.
func (r *ConversationRepo) Touch(ctx context.Context, conversationID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id=$1`, conversationID)
	return err
}

// DeleteConversationCascade removes the conversation and all its messages.
func (r *ConversationRepo) DeleteConversationCascade(ctx context.Context, conversationID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}
