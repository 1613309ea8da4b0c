package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messenger-service/internal/auth"
	"messenger-service/internal/chat"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
)

// SessionHandler runs the realtime protocol: it authenticates new websocket
// connections, registers presence, and dispatches protocol events against the
// store, fanning results out through the hub.
type SessionHandler struct {
	hub        *Hub
	registry   presence.Registry
	verifier   auth.TokenVerifier
	convRepo   repositories.ConversationRepository
	msgRepo    repositories.MessageRepository
	userRepo   repositories.UserRepository
	aggregator *chat.Aggregator
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(hub *Hub, registry presence.Registry, verifier auth.TokenVerifier,
	convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository,
	userRepo repositories.UserRepository, aggregator *chat.Aggregator) *SessionHandler {
	return &SessionHandler{
		hub:        hub,
		registry:   registry,
		verifier:   verifier,
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		userRepo:   userRepo,
		aggregator: aggregator,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, authenticates it and starts the session.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		log.Printf("websocket auth failed: %v", err)
		payload, _ := json.Marshal(models.ServerEvent{Event: models.EventError, Data: "unauthorized"})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		_ = conn.Close()
		observability.IncWSEvent("auth_failed")
		return
	}

	meta := observability.MetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	sess := newSession(conn, userID, info)

	h.hub.Register(sess)
	h.registry.MarkOnline(userID)
	h.broadcastPresence()

	// net/http cancels the request context once this handler returns, so the
	// pumps need a context tied to the session, not the handshake.
	sessCtx := context.WithoutCancel(ctx)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishSessionEvent(sessCtx, info, "ws_connect", "")

	go sess.writePump()
	go h.readPump(sessCtx, sess)
}

// bearerToken prefers the Authorization header but still admits the query
// token when the header is absent or does not parse.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}

func (h *SessionHandler) readPump(ctx context.Context, sess *Session) {
	var closeReason string
	defer func() {
		h.hub.Unregister(sess)
		sess.close()
		h.registry.MarkOffline(sess.userID)
		h.broadcastPresence()

		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishSessionEvent(ctx, sess.info, "ws_disconnect", closeReason)
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishSessionEvent(ctx, sess.info, "ws_error", closeReason)
			}
			return
		}

		var event models.ClientEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("malformed client event from user %d: %v", sess.userID, err)
			continue
		}
		h.dispatch(ctx, sess, event)
	}
}

// dispatch routes one inbound protocol event. Handler errors are logged here
// and never propagate: a failed event leaves the client's view unchanged.
func (h *SessionHandler) dispatch(ctx context.Context, sess *Session, event models.ClientEvent) {
	observability.IncWSEvent(event.Event)

	switch event.Event {
	case models.EventOpenThread:
		var payload models.OpenThreadPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			log.Printf("open-thread: bad payload: %v", err)
			return
		}
		h.handleOpenThread(ctx, sess, payload.PeerID)
	case models.EventSendMessage:
		var payload models.SendMessagePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			log.Printf("send-message: bad payload: %v", err)
			return
		}
		h.handleSendMessage(ctx, payload)
	case models.EventSidebarRequest:
		var payload models.SidebarPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			log.Printf("sidebar-request: bad payload: %v", err)
			return
		}
		h.handleSidebarRequest(ctx, sess, payload.UserID)
	case models.EventMarkSeen:
		var payload models.MarkSeenPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			log.Printf("mark-seen: bad payload: %v", err)
			return
		}
		h.handleMarkSeen(ctx, sess, payload.PeerID)
	default:
		log.Printf("unknown event %q from user %d", event.Event, sess.userID)
	}
}

// handleOpenThread pushes the peer's profile and the full thread between the
// requester and the peer. A pair that never talked yields an empty thread,
// never an error.
func (h *SessionHandler) handleOpenThread(ctx context.Context, sess *Session, peerID int64) {
	if peerID == 0 {
		log.Printf("open-thread: missing peer id from user %d", sess.userID)
		return
	}

	profile := models.Profile{ID: peerID, Online: h.registry.IsOnline(peerID)}
	user, err := h.userRepo.GetUser(ctx, peerID)
	switch {
	case err == nil:
		profile = user.PublicProfile(profile.Online)
	case errors.Is(err, repositories.ErrUserNotFound):
		// unknown peer still gets a bare profile
	default:
		log.Printf("open-thread: load user %d: %v", peerID, err)
		return
	}
	sess.queue(models.ServerEvent{Event: models.EventProfile, Data: profile})

	messages := []models.Message{}
	conv, err := h.convRepo.FindConversation(ctx, sess.userID, peerID)
	if err == nil {
		if messages, err = h.msgRepo.ListMessages(ctx, conv.ID); err != nil {
			log.Printf("open-thread: list messages: %v", err)
			return
		}
	} else if !errors.Is(err, repositories.ErrConversationNotFound) {
		log.Printf("open-thread: find conversation: %v", err)
		return
	}
	sess.queue(models.ServerEvent{Event: models.EventThread, Data: messages})
}

// handleSendMessage persists a new message and pushes the updated thread and
// summaries to both participants' groups. Empty payloads are dropped without
// any persistence or emit.
func (h *SessionHandler) handleSendMessage(ctx context.Context, payload models.SendMessagePayload) {
	payload.Text = strings.TrimSpace(payload.Text)
	draft := models.Message{Text: payload.Text, ImageURL: payload.ImageURL, VideoURL: payload.VideoURL}
	if payload.SenderID == 0 || payload.ReceiverID == 0 || !draft.HasContent() {
		log.Printf("send-message: dropping invalid payload sender=%d receiver=%d", payload.SenderID, payload.ReceiverID)
		return
	}

	conv, err := h.convRepo.FindOrCreateConversation(ctx, payload.SenderID, payload.ReceiverID)
	if err != nil {
		log.Printf("send-message: find or create conversation: %v", err)
		return
	}

	if _, err := h.msgRepo.AppendMessage(ctx, conv.ID, payload.SenderID, payload.Text, payload.ImageURL, payload.VideoURL); err != nil {
		log.Printf("send-message: append message: %v", err)
		return
	}
	if err := h.convRepo.Touch(ctx, conv.ID); err != nil {
		log.Printf("send-message: touch conversation %d: %v", conv.ID, err)
	}

	messages, err := h.msgRepo.ListMessages(ctx, conv.ID)
	if err != nil {
		log.Printf("send-message: list messages: %v", err)
		return
	}

	thread := models.ServerEvent{Event: models.EventThread, Data: messages}
	h.hub.SendToUser(payload.SenderID, thread)
	h.hub.SendToUser(payload.ReceiverID, thread)

	h.pushSummaries(ctx, payload.SenderID)
	h.pushSummaries(ctx, payload.ReceiverID)
}

// handleSidebarRequest pushes the conversation summaries to the requester only.
func (h *SessionHandler) handleSidebarRequest(ctx context.Context, sess *Session, userID int64) {
	if userID == 0 {
		log.Printf("sidebar-request: missing user id from user %d", sess.userID)
		return
	}

	summaries, err := h.aggregator.Summaries(ctx, userID)
	if err != nil {
		log.Printf("sidebar-request: %v", err)
		return
	}
	sess.queue(models.ServerEvent{Event: models.EventSummaries, Data: summaries})
}

// handleMarkSeen marks every message the peer authored in the requester's
// conversation with them as seen, then refreshes both sidebars. A missing
// conversation is a silent no-op.
func (h *SessionHandler) handleMarkSeen(ctx context.Context, sess *Session, peerID int64) {
	if peerID == 0 {
		log.Printf("mark-seen: missing peer id from user %d", sess.userID)
		return
	}

	conv, err := h.convRepo.FindConversation(ctx, sess.userID, peerID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			log.Printf("mark-seen: no conversation between %d and %d", sess.userID, peerID)
		} else {
			log.Printf("mark-seen: find conversation: %v", err)
		}
		return
	}

	if err := h.msgRepo.MarkSeen(ctx, conv.ID, peerID); err != nil {
		log.Printf("mark-seen: %v", err)
		return
	}

	h.pushSummaries(ctx, sess.userID)
	h.pushSummaries(ctx, peerID)
}

func (h *SessionHandler) pushSummaries(ctx context.Context, userID int64) {
	summaries, err := h.aggregator.Summaries(ctx, userID)
	if err != nil {
		log.Printf("summaries for user %d: %v", userID, err)
		return
	}
	h.hub.SendToUser(userID, models.ServerEvent{Event: models.EventSummaries, Data: summaries})
}

func (h *SessionHandler) broadcastPresence() {
	h.hub.BroadcastAll(models.ServerEvent{Event: models.EventPresenceSnapshot, Data: h.registry.Snapshot()})
}

func (h *SessionHandler) publishSessionEvent(ctx context.Context, info ConnInfo, event, reason string) {
	payload := observability.SessionEventPayload{
		ConnID:     info.ConnID,
		UserID:     info.UserID,
		DeviceID:   info.DeviceID,
		IP:         info.IP,
		Event:      event,
		DurationMs: time.Since(info.ConnectedAt).Milliseconds(),
		Reason:     reason,
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
