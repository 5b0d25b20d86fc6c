package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tariel-x/tutorlive/internal/presence"
)

func TestRegisterBroadcastsSnapshotToEveryRoleGroup(t *testing.T) {
	env := newTestEnv(t)

	student := env.connect(t, "u1", presence.RoleUser)
	admin := env.connect(t, "a1", presence.RoleAdmin)
	drain(student)

	tutor := newWSClient(nil, "t1")
	env.h.register(tutor, presence.Identity{ID: "t1", Role: presence.RoleTutor})

	for _, client := range []*wsClient{student, admin, tutor} {
		msg := recv(t, client)
		require.Equal(t, evGetOnlineUsers, msg.Event)
		require.ElementsMatch(t, []string{"u1", "t1", "a1"}, decodeData[[]string](t, msg))
	}
}

func TestDisconnectRebroadcastsWithoutTheIdentity(t *testing.T) {
	env := newTestEnv(t)

	student := env.connect(t, "u1", presence.RoleUser)
	tutor := env.connect(t, "t1", presence.RoleTutor)
	drain(student)

	env.h.disconnect(tutor)

	msg := recv(t, student)
	require.Equal(t, evGetOnlineUsers, msg.Event)
	require.Equal(t, []string{"u1"}, decodeData[[]string](t, msg))
	_, online := env.h.presence.Resolve("t1")
	require.False(t, online)
}

func TestStaleDisconnectKeepsNewerRegistration(t *testing.T) {
	env := newTestEnv(t)

	old := env.connect(t, "u1", presence.RoleUser)
	fresh := env.connect(t, "u1", presence.RoleUser)
	observer := env.connect(t, "t1", presence.RoleTutor)
	drain(old)
	drain(fresh)

	env.h.disconnect(old)

	conn, online := env.h.presence.Resolve("u1")
	require.True(t, online)
	require.Same(t, fresh, conn)
	expectSilence(t, observer)
}

func TestRegisterUserRebindsConnection(t *testing.T) {
	env := newTestEnv(t)
	client := env.connect(t, "u1", presence.RoleUser)

	require.NoError(t, env.emit(t, client, evRegisterUser, registerUserData{UserID: "t9", Role: "tutor"}))

	msg := recv(t, client)
	require.Equal(t, evGetOnlineUsers, msg.Event)
	require.Equal(t, []string{"t9"}, decodeData[[]string](t, msg))
	require.True(t, env.h.wsHub.InGroup(presence.RoleTutor.Group(), client))
	require.False(t, env.h.wsHub.InGroup(presence.RoleUser.Group(), client))
}

func TestInvalidRegisterUserIsFatal(t *testing.T) {
	env := newTestEnv(t)
	client := env.connect(t, "u1", presence.RoleUser)

	err := env.emit(t, client, evRegisterUser, registerUserData{UserID: "u1", Role: "superuser"})
	require.ErrorIs(t, err, errProtocol)

	err = env.emit(t, client, evRegisterUser, map[string]string{"role": "user"})
	require.ErrorIs(t, err, errProtocol)
	expectSilence(t, client)
}

func TestRegisterUserMustMatchToken(t *testing.T) {
	env := newTestEnv(t)
	client := env.connect(t, "u1", presence.RoleUser)
	client.authID = "u1"

	err := env.h.handleRegisterUser(context.Background(), client, mustMarshal(registerUserData{UserID: "u2", Role: "user"}))
	require.ErrorIs(t, err, errProtocol)
}

func TestUnknownEventReportsError(t *testing.T) {
	env := newTestEnv(t)
	client := env.connect(t, "u1", presence.RoleUser)

	require.NoError(t, env.emit(t, client, "dance", nil))
	msg := recv(t, client)
	require.Equal(t, evError, msg.Event)
	require.Contains(t, decodeData[eventError](t, msg).Message, "dance")
}
