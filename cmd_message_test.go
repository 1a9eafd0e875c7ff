package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFormattingCodes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		out  string
	}{
		{name: "plain", in: "hello world", out: "hello world"},
		{name: "bold", in: "\x02bold\x02 text", out: "bold text"},
		{name: "color foreground", in: "\x034red", out: "red"},
		{name: "color two digit", in: "\x0312blue", out: "blue"},
		{name: "color with background", in: "\x0304,12text", out: "text"},
		{name: "color without digits", in: "\x03text", out: "text"},
		{name: "comma without background kept", in: "\x034,text", out: ",text"},
		{name: "reset and underline", in: "\x1funder\x1f\x0fdone",
			out: "underdone"},
		{name: "mono reverse italic strike", in: "\x11m\x16r\x1di\x1es",
			out: "mris"},
		{name: "empty", in: "", out: ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.out, stripFormattingCodes(test.in))
		})
	}
}

func TestHasFormattingCodes(t *testing.T) {
	assert.False(t, hasFormattingCodes("plain text"))
	assert.True(t, hasFormattingCodes("\x02bold"))
	assert.True(t, hasFormattingCodes("trailing color \x034"))
	assert.False(t, hasFormattingCodes(""))
}

func TestChannelMessageFilters(t *testing.T) {
	tests := []struct {
		name    string
		mode    byte
		text    string
		account string

		// Empty means the message is refused with 404.
		want string
	}{
		{name: "ctcp blocked", mode: 'C', text: "\x01VERSION\x01"},
		{name: "action allowed", mode: 'C', text: "\x01ACTION waves\x01",
			want: "\x01ACTION waves\x01"},
		{name: "colors blocked", mode: 'c', text: "\x034red text"},
		{name: "bold blocked", mode: 'c', text: "\x02loud\x02"},
		{name: "unregistered blocked", mode: 'R', text: "hello"},
		{name: "registered speaks", mode: 'R', text: "hello",
			account: "alice", want: "hello"},
		{name: "colors stripped", mode: 'S', text: "\x02big\x02 \x034red news",
			want: "big red news"},
		{name: "plain survives stripping", mode: 'S', text: "plain",
			want: "plain"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newTestHeron(t)
			h.Config.MaxChannelsPerUser = 10

			alice := newTestUser(t, h, "alice")
			bob := newTestUser(t, h, "bob")

			channel := newChannel("#test", 1)
			h.Channels[channel.Name] = channel
			channel.addMember(alice.User, 0)
			channel.addMember(bob.User, 0)
			channel.Modes[test.mode] = struct{}{}

			alice.User.Account = test.account

			alice.privmsgCommand(Message{
				Command: "PRIVMSG",
				Params:  []string{"#test", test.text},
			})

			var delivered []Message
		drain:
			for {
				select {
				case m := <-bob.WriteChan:
					if m.Command == "PRIVMSG" {
						delivered = append(delivered, m)
					}
				default:
					break drain
				}
			}

			if len(test.want) == 0 {
				assert.Empty(t, delivered)
				numerics := drainNumerics(alice)
				require.NotEmpty(t, numerics)
				assert.Equal(t, "404", numerics[0])
				return
			}

			require.Len(t, delivered, 1)
			assert.Equal(t, test.want,
				delivered[0].Params[len(delivered[0].Params)-1])
		})
	}
}
