package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemberModes(t *testing.T) {
	var m MemberModes

	assert.False(t, m.atLeastHalfop())
	assert.Equal(t, "", m.highestSigil())

	m |= MemberVoice
	assert.False(t, m.atLeastHalfop())
	assert.Equal(t, "+", m.highestSigil())

	m |= MemberHalfop
	assert.True(t, m.atLeastHalfop())
	assert.False(t, m.atLeastOp())
	assert.Equal(t, "%", m.highestSigil())

	m |= MemberOp
	assert.True(t, m.atLeastOp())
	assert.Equal(t, "@", m.highestSigil())
	assert.Equal(t, "@%+", m.sigils())

	m |= MemberOwner
	assert.Equal(t, "~", m.highestSigil())
	assert.Equal(t, "~@%+", m.sigils())

	// Higher privilege compares greater, which rank checks rely on.
	assert.Greater(t, MemberOp, MemberHalfop)
	assert.Greater(t, MemberOwner, MemberOp|MemberHalfop|MemberVoice)
}

func TestMemberModeLookups(t *testing.T) {
	for _, entry := range memberModeTable {
		mode, ok := memberModeFromLetter(entry.Letter)
		assert.True(t, ok)
		assert.Equal(t, entry.Mode, mode)

		mode, ok = memberModeFromSigil(entry.Sigil)
		assert.True(t, ok)
		assert.Equal(t, entry.Mode, mode)
	}

	_, ok := memberModeFromLetter('x')
	assert.False(t, ok)
	_, ok = memberModeFromSigil('!')
	assert.False(t, ok)
}

func TestChannelMembership(t *testing.T) {
	channel := newChannel("#Test", 100)
	assert.Equal(t, "#test", channel.Name)
	assert.Equal(t, int64(100), channel.TS)

	u := &User{
		DisplayNick: "alice",
		UID:         "1AAAAAAAB",
		Channels:    make(map[string]*Channel),
	}

	assert.Equal(t, MemberModes(0), channel.memberModes(u.UID))

	channel.addMember(u, MemberOp)
	assert.True(t, u.onChannel(channel))
	assert.True(t, channel.userHasOps(u))
	assert.Equal(t, "alice", channel.Members[u.UID].Nick)

	channel.removeUser(u)
	assert.False(t, u.onChannel(channel))
	assert.Equal(t, MemberModes(0), channel.memberModes(u.UID))
}

func TestChannelModesString(t *testing.T) {
	channel := newChannel("#test", 100)
	channel.Modes['n'] = struct{}{}
	channel.Key = "sekrit"
	channel.Limit = 25

	// Members see the parameters, outsiders don't.
	member := channel.modesString(true)
	assert.Contains(t, member, "n")
	assert.Contains(t, member, "sekrit")
	assert.Contains(t, member, "25")

	outsider := channel.modesString(false)
	assert.Contains(t, outsider, "k")
	assert.Contains(t, outsider, "l")
	assert.NotContains(t, outsider, "sekrit")
	assert.NotContains(t, outsider, "25")
}

func TestUserMatchesList(t *testing.T) {
	u := &User{
		DisplayNick:  "alice",
		Username:     "~alice",
		Hostname:     "host.example.com",
		RealHostname: "host.example.com",
	}

	list := []ChannelListEntry{
		{Mask: "bob!*@*"},
		{Mask: "*!*@*.example.com"},
	}

	assert.True(t, userMatchesList(list, u))
	assert.False(t, userMatchesList(list[:1], u))
	assert.True(t, maskOnList(list, "bob!*@*"))
	assert.False(t, maskOnList(list, "eve!*@*"))
}
