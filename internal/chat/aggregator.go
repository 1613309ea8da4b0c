package chat

import (
	"context"
	"fmt"

	"messenger-service/internal/models"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
)

// Aggregator computes the per-peer conversation summaries that back the
// sidebar. Every call is a point-in-time query against the store: nothing is
// cached, so it is safe to call from any number of sessions concurrently.
type Aggregator struct {
	convRepo repositories.ConversationRepository
	userRepo repositories.UserRepository
	registry presence.Registry
}

// NewAggregator constructs an Aggregator.
func NewAggregator(convRepo repositories.ConversationRepository, userRepo repositories.UserRepository, registry presence.Registry) *Aggregator {
	return &Aggregator{convRepo: convRepo, userRepo: userRepo, registry: registry}
}

// Summaries returns one entry per conversation the user takes part in,
// ordered by the conversation's last activity, most recent first. The peer
// profile carries the live online flag from the presence registry.
func (a *Aggregator) Summaries(ctx context.Context, userID int64) ([]models.Summary, error) {
	rows, err := a.convRepo.ListSummaryRows(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list summary rows: %w", err)
	}

	peerIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		peerIDs = append(peerIDs, row.PeerID)
	}

	users, err := a.userRepo.BulkUsers(ctx, peerIDs)
	if err != nil {
		return nil, fmt.Errorf("bulk users: %w", err)
	}
	userByID := make(map[int64]models.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}

	summaries := make([]models.Summary, 0, len(rows))
	for _, row := range rows {
		online := a.registry.IsOnline(row.PeerID)
		profile := models.Profile{ID: row.PeerID, Online: online}
		if u, ok := userByID[row.PeerID]; ok {
			profile = u.PublicProfile(online)
		}
		summaries = append(summaries, models.Summary{
			ConversationID: row.ConversationID,
			Peer:           profile,
			LastMessage:    row.LastMessage,
			UnseenCount:    row.UnseenCount,
		})
	}
	return summaries, nil
}
