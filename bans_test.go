package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBanEngine(t *testing.T) *BanEngine {
	t.Helper()

	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e, err := newBanEngine(store.Bans)
	require.NoError(t, err)
	return e
}

func TestBanEngineMatching(t *testing.T) {
	e := newTestBanEngine(t)

	u := &User{
		Username:     "~bad",
		Hostname:     "evil.example.com",
		RealHostname: "evil.example.com",
		IP:           "203.0.113.9",
	}

	assert.Nil(t, e.findMatching(u))

	require.NoError(t, e.addBan(ServerBan{
		Kind:     BanKline,
		UserMask: "*",
		HostMask: "*.example.com",
		Reason:   "testing",
		Setter:   "oper",
		SetAt:    time.Now(),
	}))

	ban := e.findMatching(u)
	require.NotNil(t, ban)
	assert.Equal(t, BanKline, ban.Kind)
	assert.Equal(t, "*@*.example.com", ban.mask())

	require.NoError(t, e.removeBan(BanKline, "*", "*.example.com"))
	assert.Nil(t, e.findMatching(u))
}

func TestBanEngineExpiry(t *testing.T) {
	e := newTestBanEngine(t)

	require.NoError(t, e.addBan(ServerBan{
		Kind:     BanGline,
		UserMask: "*",
		HostMask: "lapsed.example.com",
		SetAt:    time.Now().Add(-2 * time.Hour),
		ExpireAt: time.Now().Add(-time.Hour),
	}))

	u := &User{Username: "~x", Hostname: "lapsed.example.com"}

	// Expired entries never match, and expire() reaps them.
	assert.Nil(t, e.findMatching(u))
	assert.Len(t, e.list(BanGline), 1)
	e.expire(time.Now())
	assert.Empty(t, e.list(BanGline))
}

func TestBanEngineZlineAndJupe(t *testing.T) {
	e := newTestBanEngine(t)

	require.NoError(t, e.addBan(ServerBan{
		Kind:     BanZline,
		HostMask: "203.0.113.*",
		SetAt:    time.Now(),
	}))
	require.NoError(t, e.addBan(ServerBan{
		Kind:     BanJupe,
		HostMask: "bad.server.example",
		SetAt:    time.Now(),
	}))

	assert.NotNil(t, e.matchIP("203.0.113.77"))
	assert.Nil(t, e.matchIP("198.51.100.1"))

	assert.NotNil(t, e.isJuped("bad.server.example"))
	assert.Nil(t, e.isJuped("good.server.example"))
}

func TestBanEnginePersists(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	e, err := newBanEngine(store.Bans)
	require.NoError(t, err)

	require.NoError(t, e.addBan(ServerBan{
		Kind:     BanKline,
		UserMask: "*",
		HostMask: "persist.example.com",
		SetAt:    time.Now(),
	}))

	// A fresh engine over the same repository sees the ban.
	e2, err := newBanEngine(store.Bans)
	require.NoError(t, err)
	require.Len(t, e2.list(BanKline), 1)
	assert.Equal(t, "persist.example.com", e2.list(BanKline)[0].HostMask)

	// Re-adding the same mask replaces rather than duplicates.
	require.NoError(t, e.addBan(ServerBan{
		Kind:     BanKline,
		UserMask: "*",
		HostMask: "persist.example.com",
		Reason:   "updated",
		SetAt:    time.Now(),
	}))
	require.Len(t, e.list(BanKline), 1)
	assert.Equal(t, "updated", e.list(BanKline)[0].Reason)
}
