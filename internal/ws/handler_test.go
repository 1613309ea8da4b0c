package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/auth"
	"messenger-service/internal/chat"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
)

type wsTestEnv struct {
	convRepo *mocks.ConversationRepositoryMock
	msgRepo  *mocks.MessageRepositoryMock
	userRepo *mocks.UserRepositoryMock
	verifier *mocks.TokenVerifierMock
	registry *presence.MemoryRegistry
	srv      *httptest.Server
}

func newWSTestEnv(t *testing.T) *wsTestEnv {
	gin.SetMode(gin.TestMode)

	env := &wsTestEnv{
		convRepo: new(mocks.ConversationRepositoryMock),
		msgRepo:  new(mocks.MessageRepositoryMock),
		userRepo: new(mocks.UserRepositoryMock),
		verifier: new(mocks.TokenVerifierMock),
		registry: presence.NewMemoryRegistry(),
	}

	aggregator := chat.NewAggregator(env.convRepo, env.userRepo, env.registry)
	handler := NewSessionHandler(NewHub(), env.registry, env.verifier, env.convRepo, env.msgRepo, env.userRepo, aggregator)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	env.srv = httptest.NewServer(router)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *wsTestEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type serverFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.ClientEvent{Event: event, Data: data}))
}

func waitForEvent(t *testing.T, conn *websocket.Conn, name string) serverFrame {
	t.Helper()
	for i := 0; i < 20; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame serverFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame.Event == name {
			return frame
		}
	}
	t.Fatalf("timed out waiting for %q", name)
	return serverFrame{}
}

func TestHandshakeAuthFailure(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "bad-token").Return(int64(0), auth.ErrInvalidToken).Once()

	conn := env.dial(t, "bad-token")

	frame := waitForEvent(t, conn, models.EventError)
	var reason string
	require.NoError(t, json.Unmarshal(frame.Data, &reason))
	require.Equal(t, "unauthorized", reason)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "connection should be force-closed after auth failure")

	require.Empty(t, env.registry.Snapshot())
	env.verifier.AssertExpectations(t)
}

func TestMalformedAuthHeaderFallsBackToQueryToken(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "alice-token").Return(int64(1), nil).Once()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?token=alice-token"
	header := http.Header{"Authorization": []string{"Basic abc"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	frame := waitForEvent(t, conn, models.EventPresenceSnapshot)
	var online []int64
	require.NoError(t, json.Unmarshal(frame.Data, &online))
	require.Equal(t, []int64{1}, online)
	env.verifier.AssertExpectations(t)
}

func TestDispatchOutlivesHandshakeRequest(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "alice-token").Return(int64(1), nil)

	// the store must never see the handshake's request context, which
	// net/http cancels as soon as the handler returns
	var dispatchErr error
	env.userRepo.On("GetUser", mock.Anything, int64(2)).
		Return(models.User{ID: 2, Name: "bob"}, nil).Once()
	env.convRepo.On("FindConversation", mock.Anything, int64(1), int64(2)).
		Run(func(args mock.Arguments) {
			dispatchErr = args.Get(0).(context.Context).Err()
		}).
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	alice := env.dial(t, "alice-token")
	waitForEvent(t, alice, models.EventPresenceSnapshot)

	// give the handshake handler time to return and its context to be cancelled
	time.Sleep(200 * time.Millisecond)

	sendEvent(t, alice, models.EventOpenThread, models.OpenThreadPayload{PeerID: 2})
	waitForEvent(t, alice, models.EventThread)

	require.NoError(t, dispatchErr, "store calls must run on a live context after the handshake returns")
	env.convRepo.AssertExpectations(t)
}

func TestConnectBroadcastsPresenceSnapshot(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "alice-token").Return(int64(1), nil)
	env.verifier.On("Verify", mock.Anything, "bob-token").Return(int64(2), nil)

	alice := env.dial(t, "alice-token")
	frame := waitForEvent(t, alice, models.EventPresenceSnapshot)
	var online []int64
	require.NoError(t, json.Unmarshal(frame.Data, &online))
	require.Contains(t, online, int64(1))

	env.dial(t, "bob-token")

	// alice is told about bob coming online
	for {
		frame = waitForEvent(t, alice, models.EventPresenceSnapshot)
		require.NoError(t, json.Unmarshal(frame.Data, &online))
		if len(online) == 2 {
			break
		}
	}
	require.Equal(t, []int64{1, 2}, online)
}

func TestDisconnectRemovesPresence(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "alice-token").Return(int64(1), nil)
	env.verifier.On("Verify", mock.Anything, "bob-token").Return(int64(2), nil)

	alice := env.dial(t, "alice-token")
	bob := env.dial(t, "bob-token")

	var online []int64
	for {
		frame := waitForEvent(t, bob, models.EventPresenceSnapshot)
		require.NoError(t, json.Unmarshal(frame.Data, &online))
		if len(online) == 2 {
			break
		}
	}

	alice.Close()

	for {
		frame := waitForEvent(t, bob, models.EventPresenceSnapshot)
		require.NoError(t, json.Unmarshal(frame.Data, &online))
		if len(online) == 1 {
			break
		}
	}
	require.Equal(t, []int64{2}, online)
}

func TestSecondTabKeepsUserOnline(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "alice-token").Return(int64(1), nil)
	env.verifier.On("Verify", mock.Anything, "bob-token").Return(int64(2), nil)

	tab1 := env.dial(t, "alice-token")
	tab2 := env.dial(t, "alice-token")
	bob := env.dial(t, "bob-token")
	waitForEvent(t, bob, models.EventPresenceSnapshot)

	tab1.Close()

	// the snapshot broadcast on tab1's disconnect still contains alice
	// because tab2 is alive
	frame := waitForEvent(t, bob, models.EventPresenceSnapshot)
	var online []int64
	require.NoError(t, json.Unmarshal(frame.Data, &online))
	require.Equal(t, []int64{1, 2}, online, "alice must stay online while a tab remains")

	tab2.Close()
}

func TestSendMessageFansOutToBothParties(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "alice-token").Return(int64(1), nil)
	env.verifier.On("Verify", mock.Anything, "bob-token").Return(int64(2), nil)

	conv := models.Conversation{ID: 9, UserAID: 1, UserBID: 2}
	msg := models.Message{ID: 5, ConversationID: 9, AuthorID: 1, Text: "hi"}

	env.convRepo.On("FindOrCreateConversation", mock.Anything, int64(1), int64(2)).Return(conv, nil).Once()
	env.msgRepo.On("AppendMessage", mock.Anything, int64(9), int64(1), "hi", "", "").Return(msg, nil).Once()
	env.convRepo.On("Touch", mock.Anything, int64(9)).Return(nil).Once()
	env.msgRepo.On("ListMessages", mock.Anything, int64(9)).Return([]models.Message{msg}, nil).Once()

	env.convRepo.On("ListSummaryRows", mock.Anything, int64(1)).
		Return([]models.SummaryRow{{ConversationID: 9, PeerID: 2, UnseenCount: 0, LastMessage: &msg}}, nil)
	env.convRepo.On("ListSummaryRows", mock.Anything, int64(2)).
		Return([]models.SummaryRow{{ConversationID: 9, PeerID: 1, UnseenCount: 1, LastMessage: &msg}}, nil)
	env.userRepo.On("BulkUsers", mock.Anything, []int64{2}).Return([]models.User{{ID: 2, Name: "bob"}}, nil)
	env.userRepo.On("BulkUsers", mock.Anything, []int64{1}).Return([]models.User{{ID: 1, Name: "alice"}}, nil)

	alice := env.dial(t, "alice-token")
	bob := env.dial(t, "bob-token")
	// bob's own snapshot confirms his session joined the hub
	waitForEvent(t, bob, models.EventPresenceSnapshot)

	sendEvent(t, alice, models.EventSendMessage, models.SendMessagePayload{
		SenderID: 1, ReceiverID: 2, Text: "hi",
	})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := waitForEvent(t, conn, models.EventThread)
		var thread []models.Message
		require.NoError(t, json.Unmarshal(frame.Data, &thread))
		require.Len(t, thread, 1)
		require.Equal(t, "hi", thread[len(thread)-1].Text)
	}

	frame := waitForEvent(t, bob, models.EventSummaries)
	var summaries []models.Summary
	require.NoError(t, json.Unmarshal(frame.Data, &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, int64(1), summaries[0].Peer.ID)
	require.Equal(t, 1, summaries[0].UnseenCount)
	require.True(t, summaries[0].Peer.Online)

	waitForEvent(t, alice, models.EventSummaries)
	env.convRepo.AssertExpectations(t)
	env.msgRepo.AssertExpectations(t)
}

func TestSendMessageEmptyPayloadIsDropped(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "alice-token").Return(int64(1), nil)

	// the sidebar request that follows proves the invalid event was consumed
	env.convRepo.On("ListSummaryRows", mock.Anything, int64(1)).Return([]models.SummaryRow{}, nil).Once()
	env.userRepo.On("BulkUsers", mock.Anything, []int64{}).Return([]models.User{}, nil).Once()

	alice := env.dial(t, "alice-token")

	sendEvent(t, alice, models.EventSendMessage, models.SendMessagePayload{SenderID: 1, ReceiverID: 2})
	sendEvent(t, alice, models.EventSidebarRequest, models.SidebarPayload{UserID: 1})

	waitForEvent(t, alice, models.EventSummaries)

	env.convRepo.AssertNotCalled(t, "FindOrCreateConversation", mock.Anything, mock.Anything, mock.Anything)
	env.msgRepo.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenThreadWithoutConversation(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "alice-token").Return(int64(1), nil)

	env.userRepo.On("GetUser", mock.Anything, int64(2)).
		Return(models.User{ID: 2, Name: "bob", AvatarURL: "http://cdn/bob.png"}, nil).Once()
	env.convRepo.On("FindConversation", mock.Anything, int64(1), int64(2)).
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	alice := env.dial(t, "alice-token")
	sendEvent(t, alice, models.EventOpenThread, models.OpenThreadPayload{PeerID: 2})

	frame := waitForEvent(t, alice, models.EventProfile)
	var profile models.Profile
	require.NoError(t, json.Unmarshal(frame.Data, &profile))
	require.Equal(t, int64(2), profile.ID)
	require.Equal(t, "bob", profile.Name)
	require.False(t, profile.Online)

	frame = waitForEvent(t, alice, models.EventThread)
	var thread []models.Message
	require.NoError(t, json.Unmarshal(frame.Data, &thread))
	require.Empty(t, thread)

	env.userRepo.AssertExpectations(t)
	env.convRepo.AssertExpectations(t)
}

func TestMarkSeenFlipsPeerMessagesOnly(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "bob-token").Return(int64(2), nil)

	conv := models.Conversation{ID: 9, UserAID: 1, UserBID: 2}
	env.convRepo.On("FindConversation", mock.Anything, int64(2), int64(1)).Return(conv, nil).Twice()
	env.msgRepo.On("MarkSeen", mock.Anything, int64(9), int64(1)).Return(nil).Twice()

	env.convRepo.On("ListSummaryRows", mock.Anything, int64(2)).
		Return([]models.SummaryRow{{ConversationID: 9, PeerID: 1, UnseenCount: 0}}, nil)
	env.convRepo.On("ListSummaryRows", mock.Anything, int64(1)).
		Return([]models.SummaryRow{{ConversationID: 9, PeerID: 2, UnseenCount: 0}}, nil)
	env.userRepo.On("BulkUsers", mock.Anything, []int64{1}).Return([]models.User{{ID: 1, Name: "alice"}}, nil)
	env.userRepo.On("BulkUsers", mock.Anything, []int64{2}).Return([]models.User{{ID: 2, Name: "bob"}}, nil)

	bob := env.dial(t, "bob-token")

	// calling twice must not change the outcome
	sendEvent(t, bob, models.EventMarkSeen, models.MarkSeenPayload{PeerID: 1})
	frame := waitForEvent(t, bob, models.EventSummaries)
	sendEvent(t, bob, models.EventMarkSeen, models.MarkSeenPayload{PeerID: 1})
	frame = waitForEvent(t, bob, models.EventSummaries)

	var summaries []models.Summary
	require.NoError(t, json.Unmarshal(frame.Data, &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, 0, summaries[0].UnseenCount)

	env.convRepo.AssertExpectations(t)
	env.msgRepo.AssertExpectations(t)
}

func TestMarkSeenWithoutConversationIsSilent(t *testing.T) {
	env := newWSTestEnv(t)
	env.verifier.On("Verify", mock.Anything, "bob-token").Return(int64(2), nil)

	env.convRepo.On("FindConversation", mock.Anything, int64(2), int64(7)).
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()
	env.convRepo.On("ListSummaryRows", mock.Anything, int64(2)).Return([]models.SummaryRow{}, nil).Once()
	env.userRepo.On("BulkUsers", mock.Anything, []int64{}).Return([]models.User{}, nil).Once()

	bob := env.dial(t, "bob-token")

	sendEvent(t, bob, models.EventMarkSeen, models.MarkSeenPayload{PeerID: 7})
	sendEvent(t, bob, models.EventSidebarRequest, models.SidebarPayload{UserID: 2})
	waitForEvent(t, bob, models.EventSummaries)

	env.msgRepo.AssertNotCalled(t, "MarkSeen", mock.Anything, mock.Anything, mock.Anything)
}
