package handlers

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tariel-x/tutorlive/internal/config"
	"github.com/tariel-x/tutorlive/internal/conversation"
	"github.com/tariel-x/tutorlive/internal/database"
	"github.com/tariel-x/tutorlive/internal/models"
	"github.com/tariel-x/tutorlive/internal/presence"
	"github.com/tariel-x/tutorlive/internal/push"
)

const testJWTSecret = "test-secret"

type fakePush struct {
	mu   sync.Mutex
	sent map[string][]push.Notification
}

func (f *fakePush) NotifyAsync(userID string, note push.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]push.Notification)
	}
	f.sent[userID] = append(f.sent[userID], note)
}

func (f *fakePush) Subscribe(_ context.Context, userID, endpoint, p256dh, auth string) (*models.PushSubscription, error) {
	return &models.PushSubscription{ID: "sub-1", UserID: userID, Endpoint: endpoint, P256DH: p256dh, Auth: auth}, nil
}

func (f *fakePush) Unsubscribe(context.Context, string) (int64, error) {
	return 1, nil
}

func (f *fakePush) notifications(userID string) []push.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Notification(nil), f.sent[userID]...)
}

type testEnv struct {
	h     *Handlers
	store *conversation.Store
	push  *fakePush
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		JWTSecret:          testJWTSecret,
		TURNPort:           3478,
		DefaultDisplayName: "Unknown",
		DefaultAvatarURL:   "https://cdn.example.com/avatar.png",
		CallTTL:            30 * time.Minute,
	}
	store := conversation.NewStore(db)
	fp := &fakePush{}
	h := New(cfg, store, fp, nil, presence.NewRegistry(), newTestCallStore(t), NewWSHub(), websocket.Upgrader{})
	return &testEnv{h: h, store: store, push: fp}
}

// connect registers an in-memory client and discards the presence broadcast it causes.
func (e *testEnv) connect(t *testing.T, userID string, role presence.Role) *wsClient {
	t.Helper()
	client := newWSClient(nil, userID)
	e.h.register(client, presence.Identity{ID: userID, Role: role})
	drain(client)
	return client
}

func (e *testEnv) room(t *testing.T, student, tutor string) *models.Room {
	t.Helper()
	room, err := e.store.GetOrCreateRoom(context.Background(),
		conversation.Party{ID: student, Kind: models.ParticipantUser},
		conversation.Party{ID: tutor, Kind: models.ParticipantTutor},
	)
	require.NoError(t, err)
	return room
}

func (e *testEnv) emit(t *testing.T, client *wsClient, event string, data any) error {
	t.Helper()
	return e.h.dispatch(context.Background(), client, wsEnvelope{Event: event, Data: mustMarshal(data)})
}

func drain(client *wsClient) {
	for {
		select {
		case <-client.send:
		default:
			return
		}
	}
}

func recv(t *testing.T, client *wsClient) wsEnvelope {
	t.Helper()
	select {
	case payload := <-client.send:
		var msg wsEnvelope
		require.NoError(t, json.Unmarshal(payload, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no event delivered to %s", client.remote)
		return wsEnvelope{}
	}
}

// recvEvent skips events other than event, failing if it never arrives.
func recvEvent(t *testing.T, client *wsClient, event string) wsEnvelope {
	t.Helper()
	for {
		msg := recv(t, client)
		if msg.Event == event {
			return msg
		}
	}
}

func expectSilence(t *testing.T, client *wsClient) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("unexpected event for %s: %s", client.remote, payload)
	default:
	}
}

func decodeData[T any](t *testing.T, msg wsEnvelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(msg.Data, &out))
	return out
}
