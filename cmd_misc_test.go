package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNickRejectsOverlongNick(t *testing.T) {
	h := newTestHeron(t)
	lu := newTestUser(t, h, "alice")

	long := strings.Repeat("a", h.Config.MaxNickLength+1)
	lu.nickCommand(Message{Command: "NICK", Params: []string{long}})

	// The old nick survives untouched. No truncation.
	assert.Equal(t, "alice", lu.User.DisplayNick)
	_, exists := h.Nicks[canonicalizeNick(long)]
	assert.False(t, exists)

	numerics := drainNumerics(lu)
	require.NotEmpty(t, numerics)
	assert.Equal(t, "432", numerics[0])
}

func TestPreRegNickRejectsOverlongNick(t *testing.T) {
	h := newTestHeron(t)

	c := &LocalClient{
		ID:        99,
		WriteChan: make(chan Message, 64),
		Heron:     h,
		Caps:      newCapSet(),
	}

	long := strings.Repeat("b", h.Config.MaxNickLength+1)
	c.nickCommand(Message{Command: "NICK", Params: []string{long}})

	assert.Empty(t, c.PreRegDisplayNick)

	m := <-c.WriteChan
	assert.Equal(t, "432", m.Command)
}

func TestNickChangeAppliesServerBans(t *testing.T) {
	h := newTestHeron(t)
	lu := newTestUser(t, h, "alice")

	// A ban landing mid-session catches the user at their next nick
	// change.
	require.NoError(t, h.Bans.addBan(ServerBan{
		Kind:     BanKline,
		UserMask: "*",
		HostMask: "host.example.com",
		Reason:   "no longer welcome",
		Setter:   "oper",
		SetAt:    time.Now(),
	}))

	lu.nickCommand(Message{Command: "NICK", Params: []string{"alice2"}})

	_, online := h.Nicks[canonicalizeNick("alice2")]
	assert.False(t, online)
	assert.NotContains(t, h.LocalUsers, lu.ID)

	// Operators are exempt.
	oper := newTestUser(t, h, "odin")
	oper.User.Modes['o'] = struct{}{}
	oper.nickCommand(Message{Command: "NICK", Params: []string{"odin2"}})

	_, online = h.Nicks[canonicalizeNick("odin2")]
	assert.True(t, online)
	assert.Contains(t, h.LocalUsers, oper.ID)
}

func TestDispatchChecksOperBeforeParams(t *testing.T) {
	h := newTestHeron(t)

	lu := newTestUser(t, h, "alice")
	lu.handleMessage(Message{Command: "KLINE"})

	numerics := drainNumerics(lu)
	require.NotEmpty(t, numerics)
	assert.Equal(t, "481", numerics[0])

	// An operator gets past the privilege gate and hits the parameter
	// check.
	oper := newTestUser(t, h, "odin")
	oper.User.Modes['o'] = struct{}{}
	oper.handleMessage(Message{Command: "KLINE"})

	numerics = drainNumerics(oper)
	require.NotEmpty(t, numerics)
	assert.Equal(t, "461", numerics[0])
}

func TestNickUhost(t *testing.T) {
	u := &User{
		DisplayNick: "alice",
		Username:    "~alice",
		Hostname:    "host.example.com",
	}
	assert.Equal(t, "alice!~alice@host.example.com", u.nickUhost())
}

func TestServiceUserModes(t *testing.T) {
	h := newTestHeron(t)

	uid, ok := h.Nicks[canonicalizeNick("NickServ")]
	require.True(t, ok)

	u := h.Users[uid]
	require.NotNil(t, u)
	assert.Contains(t, u.Modes, byte('S'))
	assert.Contains(t, u.Modes, byte('i'))
}
