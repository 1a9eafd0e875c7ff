package main

import "time"

// WhowasEntry is a snapshot of a user taken when their nick went away.
type WhowasEntry struct {
	Nick       string
	Username   string
	Hostname   string
	RealName   string
	ServerName string
	Seen       time.Time
}

// WhowasBuffer keeps a fixed number of entries, oldest evicted first.
type WhowasBuffer struct {
	depth   int
	entries []WhowasEntry

	// Next slot to write. Wraps once the buffer fills.
	pos  int
	full bool
}

func newWhowasBuffer(depth int) *WhowasBuffer {
	if depth < 1 {
		depth = 1
	}
	return &WhowasBuffer{
		depth:   depth,
		entries: make([]WhowasEntry, depth),
	}
}

func (w *WhowasBuffer) add(entry WhowasEntry) {
	w.entries[w.pos] = entry
	w.pos++
	if w.pos == w.depth {
		w.pos = 0
		w.full = true
	}
}

func (w *WhowasBuffer) size() int {
	if w.full {
		return w.depth
	}
	return w.pos
}

// find returns up to limit entries for a nick, most recent first. A
// limit of zero or less means all.
func (w *WhowasBuffer) find(nick string, limit int) []WhowasEntry {
	nick = canonicalizeNick(nick)

	var found []WhowasEntry

	n := w.size()
	for i := 1; i <= n; i++ {
		// Walk backwards from the most recent write.
		idx := (w.pos - i + w.depth) % w.depth

		if canonicalizeNick(w.entries[idx].Nick) != nick {
			continue
		}

		found = append(found, w.entries[idx])
		if limit > 0 && len(found) == limit {
			break
		}
	}

	return found
}

// recordUser snapshots a user into the buffer.
func (w *WhowasBuffer) recordUser(u *User, serverName string) {
	w.add(WhowasEntry{
		Nick:       u.DisplayNick,
		Username:   u.Username,
		Hostname:   u.Hostname,
		RealName:   u.RealName,
		ServerName: serverName,
		Seen:       time.Now(),
	})
}
