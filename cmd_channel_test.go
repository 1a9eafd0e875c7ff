package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainNumerics empties the user's send queue and returns the numeric
// replies seen, in order.
func drainNumerics(lu *LocalUser) []string {
	var numerics []string
	for {
		select {
		case m, ok := <-lu.WriteChan:
			if !ok {
				return numerics
			}
			if isNumericCommand(m.Command) {
				numerics = append(numerics, m.Command)
			}
		default:
			return numerics
		}
	}
}

func TestJoinChecks(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *Channel)
		key     string
		account string

		// Empty means the join succeeds.
		numeric string
	}{
		{
			name:    "invite only",
			setup:   func(c *Channel) { c.Modes['i'] = struct{}{} },
			numeric: "473",
		},
		{
			name: "invite exempt admits",
			setup: func(c *Channel) {
				c.Modes['i'] = struct{}{}
				c.InviteExempts = append(c.InviteExempts,
					ChannelListEntry{Mask: "bob!*@*"})
			},
		},
		{
			name:  "wrong key",
			setup: func(c *Channel) { c.Key = "sekrit" },
			key:   "wrong",

			numeric: "475",
		},
		{
			// A banned user probing for the key learns about the key
			// first.
			name: "wrong key reported before ban",
			setup: func(c *Channel) {
				c.Key = "sekrit"
				c.Bans = append(c.Bans, ChannelListEntry{Mask: "*!*@*"})
			},
			key:     "wrong",
			numeric: "475",
		},
		{
			name: "banned",
			setup: func(c *Channel) {
				c.Bans = append(c.Bans,
					ChannelListEntry{Mask: "*!*@host.example.com"})
			},
			numeric: "474",
		},
		{
			name: "ban except admits",
			setup: func(c *Channel) {
				c.Bans = append(c.Bans,
					ChannelListEntry{Mask: "*!*@host.example.com"})
				c.Excepts = append(c.Excepts,
					ChannelListEntry{Mask: "bob!*@*"})
			},
		},
		{
			name:    "full",
			setup:   func(c *Channel) { c.Limit = 1 },
			numeric: "471",
		},
		{
			name:    "registered only without account",
			setup:   func(c *Channel) { c.Modes['R'] = struct{}{} },
			numeric: "477",
		},
		{
			name:    "registered only with account",
			setup:   func(c *Channel) { c.Modes['R'] = struct{}{} },
			account: "bob",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newTestHeron(t)
			h.Config.MaxChannelsPerUser = 10

			alice := newTestUser(t, h, "alice")
			channel := newChannel("#test", 1)
			h.Channels[channel.Name] = channel
			channel.addMember(alice.User, MemberOp)

			bob := newTestUser(t, h, "bob")
			bob.User.Account = test.account
			test.setup(channel)

			bob.joinChannel("#test", test.key)

			_, joined := bob.User.Channels["#test"]
			if len(test.numeric) == 0 {
				assert.True(t, joined)
				return
			}

			assert.False(t, joined)
			numerics := drainNumerics(bob)
			require.NotEmpty(t, numerics)
			assert.Equal(t, test.numeric, numerics[0])
		})
	}
}

func TestMakeTS6UID(t *testing.T) {
	h := newTestHeron(t)

	uid, err := h.makeTS6UID(0)
	require.NoError(t, err)
	require.Len(t, string(uid), 9)
	assert.Equal(t, "1AA", string(uid)[:3])
}
