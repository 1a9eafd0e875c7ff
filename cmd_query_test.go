package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChathistoryCapName(t *testing.T) {
	cfg := &Config{}

	_, ok := capByName(cfg, "chathistory")
	assert.True(t, ok)
	assert.NotContains(t, capLSString(cfg, false), "draft/")
}

func TestResolveHistorySelector(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Messages.Record(&StoredMessage{
		MsgID:   "abc123",
		Target:  "#test",
		Sender:  "alice!~alice@host.example.com",
		Command: "PRIVMSG",
		Body:    "hello",
		SentAt:  sent,
	}))

	got, ok := resolveHistorySelector(store.Messages, "#test",
		"timestamp=2026-03-01T12:00:00.000Z")
	require.True(t, ok)
	assert.True(t, got.Equal(sent))

	// A msgid anchors at that message's timestamp.
	got, ok = resolveHistorySelector(store.Messages, "#test", "msgid=abc123")
	require.True(t, ok)
	assert.True(t, got.Equal(sent))

	_, ok = resolveHistorySelector(store.Messages, "#test", "msgid=missing")
	assert.False(t, ok)

	_, ok = resolveHistorySelector(store.Messages, "#test",
		"timestamp=not-a-time")
	assert.False(t, ok)

	_, ok = resolveHistorySelector(store.Messages, "#test", "nonsense")
	assert.False(t, ok)
}
