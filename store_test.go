package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAccountRepository(t *testing.T) {
	store := newTestStore(t)

	missing, err := store.Accounts.GetByName("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.Accounts.Create(&Account{
		Name:         "alice",
		PasswordHash: "hash",
		Email:        "alice@example.com",
		RegisteredAt: now,
		LastSeen:     now,
	}))

	acct, err := store.Accounts.GetByName("alice")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "alice", acct.Name)
	assert.Equal(t, "alice@example.com", acct.Email)
	assert.Equal(t, now.Unix(), acct.RegisteredAt.Unix())

	byID, err := store.Accounts.GetByID(acct.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, acct.Name, byID.Name)

	acct.Email = "new@example.com"
	require.NoError(t, store.Accounts.Update(acct))
	updated, err := store.Accounts.GetByName("alice")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", updated.Email)

	require.NoError(t, store.Accounts.Delete("alice"))
	gone, err := store.Accounts.GetByName("alice")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRegisteredChannelRepository(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Channels.Create(&RegisteredChannel{
		Name:         "#test",
		Founder:      "alice",
		RegisteredAt: time.Now(),
	}))

	rc, err := store.Channels.GetByName("#test")
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, "alice", rc.Founder)
	assert.False(t, rc.TopicLock)

	rc.TopicLock = true
	rc.Successor = "bob"
	require.NoError(t, store.Channels.Update(rc))

	rc, err = store.Channels.GetByName("#test")
	require.NoError(t, err)
	assert.True(t, rc.TopicLock)
	assert.Equal(t, "bob", rc.Successor)

	// Access list.
	require.NoError(t, store.Channels.SetAccess("#test", "bob", "ov"))
	require.NoError(t, store.Channels.SetAccess("#test", "carol", "v"))

	access, err := store.Channels.GetAccess("#test")
	require.NoError(t, err)
	assert.Len(t, access, 2)

	// Setting the same account replaces, empty flags removes.
	require.NoError(t, store.Channels.SetAccess("#test", "bob", "o"))
	require.NoError(t, store.Channels.SetAccess("#test", "carol", ""))

	access, err = store.Channels.GetAccess("#test")
	require.NoError(t, err)
	require.Len(t, access, 1)
	assert.Equal(t, "bob", access[0].Account)
	assert.Equal(t, "o", access[0].Flags)

	require.NoError(t, store.Channels.Delete("#test"))
	rc, err = store.Channels.GetByName("#test")
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestMemoRepository(t *testing.T) {
	store := newTestStore(t)

	count, err := store.Memos.CountUnread("alice")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.Memos.Send(&Memo{
		Recipient: "alice",
		Sender:    "bob",
		Body:      "hello",
		SentAt:    time.Now(),
	}))
	require.NoError(t, store.Memos.Send(&Memo{
		Recipient: "alice",
		Sender:    "carol",
		Body:      "hi again",
		SentAt:    time.Now(),
	}))

	count, err = store.Memos.CountUnread("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	memos, err := store.Memos.ListForRecipient("alice")
	require.NoError(t, err)
	require.Len(t, memos, 2)

	require.NoError(t, store.Memos.MarkRead(memos[0].ID))
	count, err = store.Memos.CountUnread("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	memo, err := store.Memos.GetByID(memos[0].ID)
	require.NoError(t, err)
	require.NotNil(t, memo)
	assert.True(t, memo.Read)

	require.NoError(t, store.Memos.Delete(memos[0].ID))
	memos, err = store.Memos.ListForRecipient("alice")
	require.NoError(t, err)
	assert.Len(t, memos, 1)
}

func TestVirtualHostRepository(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Vhosts.Request(&VirtualHost{
		Account:     "alice",
		Vhost:       "cool.vhost.example",
		RequestedAt: time.Now(),
	}))

	v, err := store.Vhosts.GetByAccount("alice")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, v.Approved)

	pending, err := store.Vhosts.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Account)

	require.NoError(t, store.Vhosts.Activate("alice"))
	v, err = store.Vhosts.GetByAccount("alice")
	require.NoError(t, err)
	assert.True(t, v.Approved)

	pending, err = store.Vhosts.GetPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, store.Vhosts.Reject("alice"))
	v, err = store.Vhosts.GetByAccount("alice")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMessageRepository(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Messages.Record(&StoredMessage{
			MsgID:   string(rune('a' + i)),
			Target:  "#test",
			Sender:  "alice!~a@host",
			Command: "PRIVMSG",
			Body:    "message",
			SentAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	latest, err := store.Messages.GetLatest("#test", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	// Chronological order, ending at the newest.
	assert.Equal(t, "d", latest[0].MsgID)
	assert.Equal(t, "e", latest[1].MsgID)

	before, err := store.Messages.GetBefore("#test",
		base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, "a", before[0].MsgID)

	after, err := store.Messages.GetAfter("#test",
		base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "d", after[0].MsgID)

	// Anchors are exclusive.
	between, err := store.Messages.GetBetween("#test",
		base.Add(time.Minute), base.Add(3*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, between, 1)
	assert.Equal(t, "c", between[0].MsgID)

	other, err := store.Messages.GetLatest("#other", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestBotRepositories(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Bots.Create(&Bot{
		Nick:     "helper",
		Username: "bot",
		Hostname: "bots.example",
		RealName: "Helper Bot",
	}))

	bot, err := store.Bots.GetByNick("helper")
	require.NoError(t, err)
	require.NotNil(t, bot)
	assert.Equal(t, "Helper Bot", bot.RealName)

	bots, err := store.Bots.List()
	require.NoError(t, err)
	assert.Len(t, bots, 1)

	require.NoError(t, store.ChannelBots.Assign("#test", "helper"))
	assigned, err := store.ChannelBots.GetBot("#test")
	require.NoError(t, err)
	assert.Equal(t, "helper", assigned)

	// Reassignment replaces.
	require.NoError(t, store.ChannelBots.Assign("#test", "helper"))
	require.NoError(t, store.ChannelBots.Unassign("#test"))
	assigned, err = store.ChannelBots.GetBot("#test")
	require.NoError(t, err)
	assert.Empty(t, assigned)

	require.NoError(t, store.Bots.Delete("helper"))
	bot, err = store.Bots.GetByNick("helper")
	require.NoError(t, err)
	assert.Nil(t, bot)
}
