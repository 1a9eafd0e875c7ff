package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHeron builds a server with services online and an in-memory
// database, without listening on anything.
func newTestHeron(t *testing.T) *Heron {
	t.Helper()

	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bans, err := newBanEngine(store.Bans)
	require.NoError(t, err)

	cfg := &Config{
		ServerName:           "irc.example.com",
		NetworkName:          "example",
		ServerInfo:           "test server",
		MaxNickLength:        20,
		TS6SID:               "1AA",
		AllowChannelCreation: true,
		WhowasDepth:          16,
	}

	h := &Heron{
		Config:       cfg,
		Log:          newLogger("error"),
		Store:        store,
		Bans:         bans,
		Whowas:       newWhowasBuffer(cfg.WhowasDepth),
		Monitor:      newMonitorIndex(),
		Notifier:     newNotifier(),
		LocalClients: make(map[uint64]*LocalClient),
		LocalUsers:   make(map[uint64]*LocalUser),
		LocalServers: make(map[uint64]*LocalServer),
		Opers:        make(map[TS6UID]*User),
		Nicks:        make(map[string]TS6UID),
		Users:        make(map[TS6UID]*User),
		Servers:      make(map[TS6SID]*Server),
		Channels:     make(map[string]*Channel),
		StartTime:    time.Now(),
		ConnRates:    newConnRateTracker(0),
		ShutdownChan: make(chan struct{}),
		ToServerChan: make(chan Event),
	}

	h.Servers[cfg.TS6SID] = &Server{
		SID:         cfg.TS6SID,
		Name:        cfg.ServerName,
		Description: cfg.ServerInfo,
		LinkTime:    h.StartTime,
	}

	h.Services = newServiceRegistry(h)
	h.Services.spawn()

	return h
}

// newTestUser wires a registered local user into the server without a
// network connection.
func newTestUser(t *testing.T, h *Heron, nick string) *LocalUser {
	t.Helper()

	id, ok := h.getClientID()
	require.True(t, ok)
	uid, err := h.makeTS6UID(id)
	require.NoError(t, err)

	lc := &LocalClient{
		ID:        id,
		WriteChan: make(chan Message, 512),
		Heron:     h,
		Caps:      newCapSet(),
	}

	now := time.Now()
	u := &User{
		DisplayNick:    nick,
		NickTS:         now.Unix(),
		Modes:          make(map[byte]struct{}),
		Username:       nick,
		Hostname:       "host.example.com",
		RealHostname:   "host.example.com",
		IP:             "127.0.0.1",
		UID:            uid,
		RealName:       nick,
		ConnectionTime: now,
		Channels:       make(map[string]*Channel),
		MonitorTargets: make(map[string]struct{}),
		AcceptList:     make(map[string]struct{}),
		Server:         h.me(),
	}

	lu := NewLocalUser(lc)
	lu.User = u
	u.LocalUser = lu

	h.LocalUsers[id] = lu
	h.Users[uid] = u
	h.Nicks[canonicalizeNick(nick)] = uid

	return lu
}

// drainNotices empties the user's send queue and returns the NOTICE
// texts.
func drainNotices(lu *LocalUser) []string {
	var texts []string
	for {
		select {
		case m, ok := <-lu.WriteChan:
			if !ok {
				return texts
			}
			if m.Command == "NOTICE" {
				texts = append(texts, m.Params[len(m.Params)-1])
			}
		default:
			return texts
		}
	}
}

func sendToService(t *testing.T, h *Heron, lu *LocalUser, svc,
	text string) []string {
	t.Helper()

	uid, ok := h.Nicks[canonicalizeNick(svc)]
	require.True(t, ok, "service %s not online", svc)

	drainNotices(lu)
	h.Services.handleMessage(lu, h.Users[uid], text)
	return drainNotices(lu)
}

func noticesContain(texts []string, want string) bool {
	for _, text := range texts {
		if strings.Contains(text, want) {
			return true
		}
	}
	return false
}

func TestServicesSpawn(t *testing.T) {
	h := newTestHeron(t)

	for _, nick := range []string{"NickServ", "ChanServ", "OperServ",
		"MemoServ", "HostServ", "BotServ"} {
		uid, ok := h.Nicks[canonicalizeNick(nick)]
		require.True(t, ok, "%s not online", nick)

		u := h.Users[uid]
		require.NotNil(t, u)
		assert.True(t, u.IsService)
		assert.Equal(t, nick, u.DisplayNick)
		assert.Equal(t, "services.example", u.Hostname)
		assert.True(t, strings.HasPrefix(string(u.UID), "1AA"))
	}
}

func TestServiceDispatchGates(t *testing.T) {
	h := newTestHeron(t)
	lu := newTestUser(t, h, "alice")

	notices := sendToService(t, h, lu, "NickServ", "BOGUS")
	assert.True(t, noticesContain(notices, "Unknown command: BOGUS"))

	notices = sendToService(t, h, lu, "OperServ", "STATS")
	assert.True(t, noticesContain(notices, "Permission denied."))

	notices = sendToService(t, h, lu, "MemoServ", "LIST")
	assert.True(t, noticesContain(notices,
		"You must identify to NickServ first."))

	notices = sendToService(t, h, lu, "NickServ", "REGISTER")
	assert.True(t, noticesContain(notices, "Insufficient parameters"))

	notices = sendToService(t, h, lu, "NickServ", "HELP")
	assert.True(t, noticesContain(notices, "NickServ commands:"))
}

func TestNickServRegisterAndIdentify(t *testing.T) {
	h := newTestHeron(t)
	lu := newTestUser(t, h, "alice")

	notices := sendToService(t, h, lu, "NickServ",
		"REGISTER hunter2 alice@example.com")
	assert.True(t, noticesContain(notices, "alice is now registered"))
	assert.Equal(t, "alice", lu.User.Account)

	acct, err := h.Store.Accounts.GetByName("alice")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "alice@example.com", acct.Email)

	// Registering again fails.
	notices = sendToService(t, h, lu, "NickServ", "REGISTER hunter2")
	assert.True(t, noticesContain(notices, "already registered"))

	notices = sendToService(t, h, lu, "NickServ", "LOGOUT")
	assert.True(t, noticesContain(notices, "logged out"))
	assert.Empty(t, lu.User.Account)

	notices = sendToService(t, h, lu, "NickServ", "IDENTIFY wrongpass")
	assert.True(t, noticesContain(notices, "Invalid password for alice."))
	assert.Empty(t, lu.User.Account)

	notices = sendToService(t, h, lu, "NickServ", "IDENTIFY hunter2")
	assert.True(t, noticesContain(notices, "now identified as alice"))
	assert.Equal(t, "alice", lu.User.Account)
}

func TestNickServGhost(t *testing.T) {
	h := newTestHeron(t)
	alice := newTestUser(t, h, "alice")
	bob := newTestUser(t, h, "bob")

	sendToService(t, h, alice, "NickServ", "REGISTER hunter2")

	notices := sendToService(t, h, bob, "NickServ", "GHOST alice wrong")
	assert.True(t, noticesContain(notices, "Invalid password"))

	notices = sendToService(t, h, bob, "NickServ", "GHOST alice hunter2")
	assert.True(t, noticesContain(notices, "alice has been disconnected."))

	_, stillHere := h.Nicks["alice"]
	assert.False(t, stillHere)
	_, stillHere = h.Users[alice.User.UID]
	assert.False(t, stillHere)
}

func TestChanServRegisterAndAutoOp(t *testing.T) {
	h := newTestHeron(t)
	alice := newTestUser(t, h, "alice")

	sendToService(t, h, alice, "NickServ", "REGISTER hunter2")

	// Registration requires being opped in the channel.
	channel := newChannel("#test", time.Now().Unix())
	h.Channels[channel.Name] = channel
	channel.addMember(alice.User, 0)

	notices := sendToService(t, h, alice, "ChanServ", "REGISTER #test")
	assert.True(t, noticesContain(notices, "must have ops"))

	channel.Members[alice.User.UID].Modes |= MemberOp
	notices = sendToService(t, h, alice, "ChanServ", "REGISTER #test")
	assert.True(t, noticesContain(notices, "#test is now registered to alice"))

	rc, err := h.Store.Channels.GetByName("#test")
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, "alice", rc.Founder)

	// The founder gets ops back on rejoin.
	channel.removeUser(alice.User)
	channel.addMember(alice.User, 0)
	require.False(t, channel.userHasOps(alice.User))

	h.Services.channelJoined(channel, alice.User)
	assert.True(t, channel.userHasOps(alice.User))
}

func TestChanServTopicLock(t *testing.T) {
	h := newTestHeron(t)
	alice := newTestUser(t, h, "alice")
	bob := newTestUser(t, h, "bob")

	sendToService(t, h, alice, "NickServ", "REGISTER hunter2")

	channel := newChannel("#test", time.Now().Unix())
	h.Channels[channel.Name] = channel
	channel.addMember(alice.User, MemberOp)
	channel.addMember(bob.User, MemberOp)

	// Unregistered channels are unrestricted.
	assert.True(t, h.Services.canSetTopic(channel, bob.User))

	sendToService(t, h, alice, "ChanServ", "REGISTER #test")
	sendToService(t, h, alice, "ChanServ", "SET #test TOPICLOCK ON")

	assert.True(t, h.Services.canSetTopic(channel, alice.User))
	assert.False(t, h.Services.canSetTopic(channel, bob.User))

	// Granting bob 'o' access lets him through the lock.
	sendToService(t, h, bob, "NickServ", "REGISTER sekrit")
	sendToService(t, h, alice, "ChanServ", "FLAGS #test bob o")
	assert.True(t, h.Services.canSetTopic(channel, bob.User))
}

func TestMemoServSendListRead(t *testing.T) {
	h := newTestHeron(t)
	alice := newTestUser(t, h, "alice")
	bob := newTestUser(t, h, "bob")

	sendToService(t, h, alice, "NickServ", "REGISTER hunter2")
	sendToService(t, h, bob, "NickServ", "REGISTER sekrit")

	notices := sendToService(t, h, alice, "MemoServ", "SEND nobody hi")
	assert.True(t, noticesContain(notices, "not a registered account"))

	drainNotices(bob)
	notices = sendToService(t, h, alice, "MemoServ", "SEND bob hello there")
	assert.True(t, noticesContain(notices, "Memo sent to bob."))

	// Online recipients hear about it immediately.
	assert.True(t, noticesContain(drainNotices(bob),
		"You have a new memo from alice"))

	notices = sendToService(t, h, bob, "MemoServ", "LIST")
	assert.True(t, noticesContain(notices, "from alice"))
	assert.True(t, noticesContain(notices, "* marks unread"))

	notices = sendToService(t, h, bob, "MemoServ", "READ 1")
	assert.True(t, noticesContain(notices, "hello there"))

	count, err := h.Store.Memos.CountUnread("bob")
	require.NoError(t, err)
	assert.Zero(t, count)

	// Memos belong to their recipient.
	notices = sendToService(t, h, alice, "MemoServ", "READ 1")
	assert.True(t, noticesContain(notices, "No such memo"))

	notices = sendToService(t, h, bob, "MemoServ", "DEL 1")
	assert.True(t, noticesContain(notices, "deleted"))
}

func TestOperServAkill(t *testing.T) {
	h := newTestHeron(t)
	oper := newTestUser(t, h, "oper")
	oper.User.Modes['o'] = struct{}{}
	h.Opers[oper.User.UID] = oper.User

	notices := sendToService(t, h, oper, "OperServ",
		"AKILL ADD *@*.bad.example.com spamming")
	assert.True(t, noticesContain(notices, "*@*.bad.example.com"))

	victim := &User{
		Username:     "~spam",
		Hostname:     "spam.bad.example.com",
		RealHostname: "spam.bad.example.com",
	}
	assert.NotNil(t, h.Bans.findMatching(victim))

	notices = sendToService(t, h, oper, "OperServ", "AKILL LIST")
	assert.True(t, noticesContain(notices, "*@*.bad.example.com"))

	notices = sendToService(t, h, oper, "OperServ",
		"AKILL DEL *@*.bad.example.com")
	assert.True(t, noticesContain(notices, "*@*.bad.example.com"))
	assert.Nil(t, h.Bans.findMatching(victim))
}

func TestHostServRequestAndActivate(t *testing.T) {
	h := newTestHeron(t)
	alice := newTestUser(t, h, "alice")
	oper := newTestUser(t, h, "oper")
	oper.User.Modes['o'] = struct{}{}

	sendToService(t, h, alice, "NickServ", "REGISTER hunter2")

	notices := sendToService(t, h, alice, "HostServ", "REQUEST -bad-.host")
	assert.True(t, noticesContain(notices, "not a valid virtual host"))

	notices = sendToService(t, h, alice, "HostServ", "REQUEST cool.vhost")
	assert.True(t, noticesContain(notices, "Requested cool.vhost"))

	// Not usable until an operator approves it.
	notices = sendToService(t, h, alice, "HostServ", "ON")
	assert.True(t, noticesContain(notices, "awaiting approval"))

	notices = sendToService(t, h, oper, "HostServ", "WAITING")
	assert.True(t, noticesContain(notices, "cool.vhost"))

	sendToService(t, h, oper, "HostServ", "ACTIVATE alice")

	drainNotices(alice)
	sendToService(t, h, alice, "HostServ", "ON")
	assert.Equal(t, "cool.vhost", alice.User.Hostname)

	sendToService(t, h, alice, "HostServ", "OFF")
	assert.Equal(t, "host.example.com", alice.User.Hostname)
}

func TestBotServAssign(t *testing.T) {
	h := newTestHeron(t)
	alice := newTestUser(t, h, "alice")
	oper := newTestUser(t, h, "oper")
	oper.User.Modes['o'] = struct{}{}

	sendToService(t, h, alice, "NickServ", "REGISTER hunter2")

	channel := newChannel("#test", time.Now().Unix())
	h.Channels[channel.Name] = channel
	channel.addMember(alice.User, MemberOp)
	sendToService(t, h, alice, "ChanServ", "REGISTER #test")

	notices := sendToService(t, h, oper, "BotServ",
		"BOT ADD Helper bot bots.example Helper Bot")
	assert.True(t, noticesContain(notices, "Helper"))

	notices = sendToService(t, h, alice, "BotServ", "ASSIGN #test Helper")
	assert.True(t, noticesContain(notices, "Assigned"))

	// The bot materializes as an opped member.
	botUID, ok := h.Nicks[canonicalizeNick("Helper")]
	require.True(t, ok)
	bot := h.Users[botUID]
	require.NotNil(t, bot)
	assert.True(t, bot.IsService)
	assert.True(t, channel.memberModes(botUID).atLeastOp())

	notices = sendToService(t, h, alice, "BotServ", "SAY #test hi all")
	require.NotNil(t, notices)

	// The channel members see the bot speak.
	saw := false
	for {
		var m Message
		select {
		case m = <-alice.WriteChan:
		default:
			m = Message{}
		}
		if m.Command == "" {
			break
		}
		if m.Command == "PRIVMSG" &&
			strings.HasPrefix(m.Prefix, "helper!") &&
			m.Params[len(m.Params)-1] == "hi all" {
			saw = true
		}
	}
	assert.True(t, saw)

	sendToService(t, h, alice, "BotServ", "UNASSIGN #test")
	assert.NotContains(t, channel.Members, botUID)
}
