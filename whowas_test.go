package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhowasBuffer(t *testing.T) {
	w := newWhowasBuffer(3)

	assert.Empty(t, w.find("alice", 0))

	w.add(WhowasEntry{Nick: "alice", Username: "~a", Hostname: "h1"})
	w.add(WhowasEntry{Nick: "bob", Username: "~b", Hostname: "h2"})
	w.add(WhowasEntry{Nick: "Alice", Username: "~a", Hostname: "h3"})

	// Lookups are case insensitive and most recent first.
	found := w.find("ALICE", 0)
	require.Len(t, found, 2)
	assert.Equal(t, "h3", found[0].Hostname)
	assert.Equal(t, "h1", found[1].Hostname)

	// A limit caps the results.
	found = w.find("alice", 1)
	require.Len(t, found, 1)
	assert.Equal(t, "h3", found[0].Hostname)

	// The buffer wraps, evicting the oldest entry.
	w.add(WhowasEntry{Nick: "carol", Username: "~c", Hostname: "h4"})
	assert.Len(t, w.find("alice", 0), 1)
	assert.Len(t, w.find("bob", 0), 1)
	assert.Len(t, w.find("carol", 0), 1)
}

func TestWhowasBufferDepthFloor(t *testing.T) {
	w := newWhowasBuffer(0)
	w.add(WhowasEntry{Nick: "alice"})
	w.add(WhowasEntry{Nick: "bob"})

	assert.Empty(t, w.find("alice", 0))
	assert.Len(t, w.find("bob", 0), 1)
}

func TestMonitorIndex(t *testing.T) {
	m := newMonitorIndex()

	newWatcher := func(id uint64) *LocalUser {
		return &LocalUser{
			LocalClient: &LocalClient{ID: id},
			User: &User{
				DisplayNick:    fmt.Sprintf("watcher%d", id),
				MonitorTargets: make(map[string]struct{}),
			},
		}
	}

	lu1 := newWatcher(1)
	lu2 := newWatcher(2)

	assert.Empty(t, m.watchersOf("alice"))

	m.add("Alice", lu1)
	m.add("alice", lu2)
	lu1.User.MonitorTargets["alice"] = struct{}{}
	lu2.User.MonitorTargets["alice"] = struct{}{}

	assert.Len(t, m.watchersOf("ALICE"), 2)

	m.remove("alice", lu1)
	watchers := m.watchersOf("alice")
	require.Len(t, watchers, 1)
	assert.Equal(t, uint64(2), watchers[0].ID)

	// clear drops every watch the user holds.
	m.clear(lu2)
	assert.Empty(t, m.watchersOf("alice"))
	assert.Empty(t, lu2.User.MonitorTargets)
}
