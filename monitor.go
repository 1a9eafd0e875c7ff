package main

// A local user may watch at most this many nicks.
const maxMonitorTargets = 100

// MonitorIndex maps watched nicks to the local users watching them.
type MonitorIndex struct {
	// Canonicalized nick to local client IDs.
	watchers map[string]map[uint64]*LocalUser
}

func newMonitorIndex() *MonitorIndex {
	return &MonitorIndex{
		watchers: make(map[string]map[uint64]*LocalUser),
	}
}

// add registers a watch. The caller maintains the user's own target
// set and the target cap.
func (m *MonitorIndex) add(nick string, lu *LocalUser) {
	nick = canonicalizeNick(nick)
	if m.watchers[nick] == nil {
		m.watchers[nick] = make(map[uint64]*LocalUser)
	}
	m.watchers[nick][lu.ID] = lu
}

func (m *MonitorIndex) remove(nick string, lu *LocalUser) {
	nick = canonicalizeNick(nick)
	if set, exists := m.watchers[nick]; exists {
		delete(set, lu.ID)
		if len(set) == 0 {
			delete(m.watchers, nick)
		}
	}
}

// clear drops every watch a user holds, for when they disconnect.
func (m *MonitorIndex) clear(lu *LocalUser) {
	for nick := range lu.User.MonitorTargets {
		m.remove(nick, lu)
	}
	lu.User.MonitorTargets = make(map[string]struct{})
}

// watchersOf lists the local users watching a nick.
func (m *MonitorIndex) watchersOf(nick string) []*LocalUser {
	set, exists := m.watchers[canonicalizeNick(nick)]
	if !exists {
		return nil
	}

	users := make([]*LocalUser, 0, len(set))
	for _, lu := range set {
		users = append(users, lu)
	}
	return users
}
