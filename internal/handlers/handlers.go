package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tariel-x/tutorlive/internal/config"
	"github.com/tariel-x/tutorlive/internal/conversation"
	"github.com/tariel-x/tutorlive/internal/models"
	"github.com/tariel-x/tutorlive/internal/presence"
	"github.com/tariel-x/tutorlive/internal/push"
	"github.com/tariel-x/tutorlive/internal/turn"

	"github.com/gorilla/websocket"
)

// ConversationStore persists rooms and messages.
type ConversationStore interface {
	GetOrCreateRoom(ctx context.Context, a, b conversation.Party) (*models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	SaveMessage(ctx context.Context, in conversation.NewMessage) (*models.Message, *models.Room, error)
	MarkRead(ctx context.Context, chatID, userID string) (int64, error)
	ListRooms(ctx context.Context, userID string) ([]models.Room, error)
	ListMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error)
}

// PushService delivers notifications to identities without a live connection.
type PushService interface {
	NotifyAsync(userID string, note push.Notification)
	Subscribe(ctx context.Context, userID, endpoint, p256dh, auth string) (*models.PushSubscription, error)
	Unsubscribe(ctx context.Context, userID string) (int64, error)
}

// CredentialIssuer mints TURN credentials for call participants.
type CredentialIssuer interface {
	Credentials(identity string) turn.Credentials
}

type eventHandler func(ctx context.Context, client *wsClient, data json.RawMessage) error

type Handlers struct {
	config     *config.Config
	store      ConversationStore
	push       PushService
	turn       CredentialIssuer
	presence   *presence.Registry
	calls      *CallStore
	wsHub      *WSHub
	wsUpgrader websocket.Upgrader
	metrics    *metrics
	nowFn      func() time.Time

	// presenceMu orders registry mutations with the snapshot broadcast that follows them.
	presenceMu sync.Mutex
	routes     map[string]eventHandler
}

// New wires the realtime core. push and turn may be nil.
func New(
	cfg *config.Config,
	store ConversationStore,
	push PushService,
	turn CredentialIssuer,
	registry *presence.Registry,
	calls *CallStore,
	wsHub *WSHub,
	wsUpgrader websocket.Upgrader,
) *Handlers {
	h := &Handlers{
		config:     cfg,
		store:      store,
		push:       push,
		turn:       turn,
		presence:   registry,
		calls:      calls,
		wsHub:      wsHub,
		wsUpgrader: wsUpgrader,
		metrics:    newMetrics(),
		nowFn:      time.Now,
	}
	h.routes = map[string]eventHandler{
		evRegisterUser:      h.handleRegisterUser,
		evJoinedRoom:        h.handleJoinedRoom,
		evMessage:           h.handleMessage,
		evMarkMessagesRead:  h.handleMarkRead,
		evOutgoingVideoCall: h.handleOutgoingCall,
		evAcceptIncoming:    h.handleAcceptCall,
		evRejectCall:        h.handleRejectCall,
	}
	return h
}
