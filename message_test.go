package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Message
		wantErr bool
	}{
		{
			name:  "plain command",
			input: "PRIVMSG #test :hello there\r\n",
			want: Message{
				Command: "PRIVMSG",
				Params:  []string{"#test", "hello there"},
			},
		},
		{
			name:  "prefixed command",
			input: ":nick!~user@host PRIVMSG #test :hi\r\n",
			want: Message{
				Prefix:  "nick!~user@host",
				Command: "PRIVMSG",
				Params:  []string{"#test", "hi"},
			},
		},
		{
			name:  "tagged message",
			input: "@time=2026-01-02T03:04:05.000Z;msgid=abc PRIVMSG #test :hi\r\n",
			want: Message{
				Tags: map[string]string{
					"time":  "2026-01-02T03:04:05.000Z",
					"msgid": "abc",
				},
				Command: "PRIVMSG",
				Params:  []string{"#test", "hi"},
			},
		},
		{
			name:  "client only tag",
			input: "@+draft/reply=abc TAGMSG #test\r\n",
			want: Message{
				Tags:    map[string]string{"+draft/reply": "abc"},
				Command: "TAGMSG",
				Params:  []string{"#test"},
			},
		},
		{
			name:  "escaped tag value",
			input: "@key=semi\\:space\\sdone PRIVMSG #test :x\r\n",
			want: Message{
				Tags:    map[string]string{"key": "semi;space done"},
				Command: "PRIVMSG",
				Params:  []string{"#test", "x"},
			},
		},
		{
			name:  "valueless tag",
			input: "@account PRIVMSG #test :x\r\n",
			want: Message{
				Tags:    map[string]string{"account": ""},
				Command: "PRIVMSG",
				Params:  []string{"#test", "x"},
			},
		},
		{
			name:    "empty tag segment",
			input:   "@ PRIVMSG #test :x\r\n",
			wantErr: true,
		},
		{
			name:    "tag segment without message",
			input:   "@time=x\r\n",
			wantErr: true,
		},
		{
			name:    "bad tag name",
			input:   "@br[]oken=x PRIVMSG #test :x\r\n",
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := parseMessage(test.input)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want.Tags, got.Tags)
			assert.Equal(t, test.want.Prefix, got.Prefix)
			assert.Equal(t, test.want.Command, got.Command)
			assert.Equal(t, test.want.Params, got.Params)
		})
	}
}

func TestMessageEncodeRoundTrip(t *testing.T) {
	original := Message{
		Tags:    map[string]string{"msgid": "abc", "time": "x y"},
		Prefix:  "nick!~user@host",
		Command: "PRIVMSG",
		Params:  []string{"#test", "hello there"},
	}

	encoded, err := original.Encode()
	require.NoError(t, err)

	// Tags render in sorted order.
	assert.Equal(t, byte('@'), encoded[0])

	parsed, err := parseMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, original.Tags, parsed.Tags)
	assert.Equal(t, original.Prefix, parsed.Prefix)
	assert.Equal(t, original.Command, parsed.Command)
	assert.Equal(t, original.Params, parsed.Params)
}

func TestWithTagDoesNotMutate(t *testing.T) {
	original := Message{
		Tags:    map[string]string{"a": "1"},
		Command: "PRIVMSG",
		Params:  []string{"#test", "x"},
	}

	tagged := original.withTag("b", "2")

	assert.Equal(t, map[string]string{"a": "1"}, original.Tags)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, tagged.Tags)
}

func TestTagValueEscaping(t *testing.T) {
	tests := []struct {
		raw     string
		escaped string
	}{
		{"plain", "plain"},
		{"semi;colon", "semi\\:colon"},
		{"a space", "a\\sspace"},
		{"back\\slash", "back\\\\slash"},
		{"line\r\nbreak", "line\\r\\nbreak"},
	}

	for _, test := range tests {
		assert.Equal(t, test.escaped, escapeTagValue(test.raw))
		assert.Equal(t, test.raw, unescapeTagValue(test.escaped))
	}

	// Invalid escapes keep the character; a trailing backslash drops.
	assert.Equal(t, "x", unescapeTagValue("\\x"))
	assert.Equal(t, "end", unescapeTagValue("end\\"))
}
