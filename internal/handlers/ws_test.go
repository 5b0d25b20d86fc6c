package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", gin.WrapH(env.h.MetricsHandler()))
	env.h.RegisterRoutes(router.Group("/api"))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, userID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func dialWS(t *testing.T, srv *httptest.Server, query url.Values) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?" + query.Encode()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) wsEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg wsEnvelope
		require.NoError(t, json.Unmarshal(payload, &msg))
		if msg.Event == event {
			return msg
		}
	}
}

func TestHandshakeWithoutIdentityIsRefused(t *testing.T) {
	srv := newTestServer(t, newTestEnv(t))

	_, resp, err := dialWS(t, srv, url.Values{"userId": {"u1"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = dialWS(t, srv, url.Values{"userId": {"u1"}, "role": {"janitor"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandshakeRequiresTokenWhenConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.h.config.RequireAuth = true
	srv := newTestServer(t, env)

	_, resp, err := dialWS(t, srv, url.Values{"userId": {"u1"}, "role": {"user"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialWS(t, srv, url.Values{"userId": {"u2"}, "token": {signToken(t, "u1", "user")}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialWS(t, srv, url.Values{"token": {signToken(t, "u1", "tutor")}})
	require.NoError(t, err)
	msg := readEvent(t, conn, evGetOnlineUsers)
	require.Equal(t, []string{"u1"}, decodeData[[]string](t, msg))
	require.True(t, env.h.presence.IsOnline("u1", "tutor"))
}

func TestPresenceFollowsConnectionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	srv := newTestServer(t, env)

	student, _, err := dialWS(t, srv, url.Values{"userId": {"u1"}, "role": {"user"}})
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, decodeData[[]string](t, readEvent(t, student, evGetOnlineUsers)))

	tutor, _, err := dialWS(t, srv, url.Values{"userId": {"t1"}, "role": {"tutor"}})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"u1", "t1"}, decodeData[[]string](t, readEvent(t, student, evGetOnlineUsers)))
	readEvent(t, tutor, evGetOnlineUsers)

	require.NoError(t, tutor.Close())
	require.Equal(t, []string{"u1"}, decodeData[[]string](t, readEvent(t, student, evGetOnlineUsers)))
}

func TestMessageOverWebSocket(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "u1", "t1")
	srv := newTestServer(t, env)

	student, _, err := dialWS(t, srv, url.Values{"userId": {"u1"}, "role": {"user"}})
	require.NoError(t, err)
	tutor, _, err := dialWS(t, srv, url.Values{"userId": {"t1"}, "role": {"tutor"}})
	require.NoError(t, err)
	readEvent(t, tutor, evGetOnlineUsers)

	require.NoError(t, student.WriteJSON(map[string]any{"event": "ping"}))
	require.NoError(t, student.WriteJSON(map[string]any{"event": evJoinedRoom, "data": room.ID}))
	require.NoError(t, student.WriteJSON(map[string]any{
		"event": evMessage,
		"data": map[string]any{
			"roomId":       room.ID,
			"recieverId":   "t1",
			"senderId":     "u1",
			"message":      "hello over the wire",
			"message_time": time.Now().UnixMilli(),
		},
	}))

	readEvent(t, student, evJoinedRoomAck)
	msg := readEvent(t, student, evNewMessage)
	require.Contains(t, string(msg.Data), "hello over the wire")
	badge := readEvent(t, tutor, evNewBadge)
	require.Equal(t, room.ID, decodeData[badgeData](t, badge).ChatID)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	srv := newTestServer(t, env)

	conn, _, err := dialWS(t, srv, url.Values{"userId": {"u1"}, "role": {"user"}})
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.Equal(t, "Malformed event", decodeData[eventError](t, readEvent(t, conn, evError)).Message)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": evJoinedRoom, "data": "r1"}))
	readEvent(t, conn, evJoinedRoomAck)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	srv := newTestServer(t, env)

	conn, _, err := dialWS(t, srv, url.Values{"userId": {"u1"}, "role": {"user"}})
	require.NoError(t, err)
	readEvent(t, conn, evGetOnlineUsers)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `tutorlive_online_connections{role="user"} 1`)
}
