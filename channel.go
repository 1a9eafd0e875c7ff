package main

import "strconv"

// Maximum modes to include in one MODE message we generate.
const ChanModesPerCommand = 4

// MemberModes is a bitset of the channel privileges a member holds.
type MemberModes uint8

const (
	// MemberVoice is +v (prefix +).
	MemberVoice MemberModes = 1 << iota
	// MemberHalfop is +h (prefix %).
	MemberHalfop
	// MemberOp is +o (prefix @).
	MemberOp
	// MemberAdmin is +a (prefix &).
	MemberAdmin
	// MemberOwner is +q (prefix ~).
	MemberOwner
)

// Ordered highest to lowest. Mode letter and its prefix sigil.
var memberModeTable = []struct {
	Mode   MemberModes
	Letter byte
	Sigil  byte
}{
	{MemberOwner, 'q', '~'},
	{MemberAdmin, 'a', '&'},
	{MemberOp, 'o', '@'},
	{MemberHalfop, 'h', '%'},
	{MemberVoice, 'v', '+'},
}

func (m MemberModes) has(mode MemberModes) bool {
	return m&mode != 0
}

// atLeastOp reports op or better.
func (m MemberModes) atLeastOp() bool {
	return m.has(MemberOp) || m.has(MemberAdmin) || m.has(MemberOwner)
}

// atLeastHalfop reports halfop or better.
func (m MemberModes) atLeastHalfop() bool {
	return m.has(MemberHalfop) || m.atLeastOp()
}

// highestSigil gives the single prefix for NAMES without multi-prefix.
func (m MemberModes) highestSigil() string {
	for _, entry := range memberModeTable {
		if m.has(entry.Mode) {
			return string(entry.Sigil)
		}
	}
	return ""
}

// sigils gives all prefixes, highest first, for multi-prefix clients.
func (m MemberModes) sigils() string {
	s := ""
	for _, entry := range memberModeTable {
		if m.has(entry.Mode) {
			s += string(entry.Sigil)
		}
	}
	return s
}

func memberModeFromSigil(sigil byte) (MemberModes, bool) {
	for _, entry := range memberModeTable {
		if entry.Sigil == sigil {
			return entry.Mode, true
		}
	}
	return 0, false
}

func memberModeFromLetter(letter byte) (MemberModes, bool) {
	for _, entry := range memberModeTable {
		if entry.Letter == letter {
			return entry.Mode, true
		}
	}
	return 0, false
}

// ChannelMember is one user's membership in a channel.
type ChannelMember struct {
	UID TS6UID

	// Cached display nick. Kept in sync on nick change.
	Nick string

	Modes MemberModes
}

// ChannelListEntry is one mask on a channel list (+b, +e, +I).
type ChannelListEntry struct {
	Mask    string
	Setter  string
	SetTime int64
}

// Channel holds everything to do with a channel.
type Channel struct {
	// Canonicalized name.
	Name string

	// Members in the channel.
	// If we have zero members, we should not exist.
	Members map[TS6UID]*ChannelMember

	// Current topic. May be blank.
	Topic string

	// Topic TS. Changes on TOPIC command (or if server tells us one).
	TopicTS int64

	// The person who set the topic. nick!user@host
	TopicSetter string

	// Simple modes set on the channel (n, t, m, i, s, p).
	Modes map[byte]struct{}

	// +k. Blank means no key.
	Key string

	// +l. Zero means no limit.
	Limit int

	Bans          []ChannelListEntry
	Excepts       []ChannelListEntry
	InviteExempts []ChannelListEntry

	// Users explicitly INVITEd. Consumed on join.
	Invites map[TS6UID]struct{}

	// Channel TS. Changes on channel creation (or if another server tells us
	// a different TS).
	TS int64
}

func newChannel(name string, ts int64) *Channel {
	return &Channel{
		Name:    canonicalizeChannel(name),
		Members: make(map[TS6UID]*ChannelMember),
		Modes:   make(map[byte]struct{}),
		Invites: make(map[TS6UID]struct{}),
		TS:      ts,
	}
}

func (c *Channel) hasMode(mode byte) bool {
	_, exists := c.Modes[mode]
	return exists
}

// memberModes looks up a user's privilege bits. Zero if not a member.
func (c *Channel) memberModes(uid TS6UID) MemberModes {
	member, exists := c.Members[uid]
	if !exists {
		return 0
	}
	return member.Modes
}

// Check if a user has operator status in the channel.
func (c *Channel) userHasOps(u *User) bool {
	return c.memberModes(u.UID).atLeastOp()
}

// addMember places the user in the channel with the given privileges.
func (c *Channel) addMember(u *User, modes MemberModes) {
	c.Members[u.UID] = &ChannelMember{
		UID:   u.UID,
		Nick:  u.DisplayNick,
		Modes: modes,
	}
	u.Channels[c.Name] = c
}

// Remove a user from the channel.
func (c *Channel) removeUser(u *User) {
	delete(c.Members, u.UID)
	delete(c.Invites, u.UID)
	delete(u.Channels, c.Name)
}

// Grant a user ops.
func (c *Channel) grantOps(u *User) {
	if member, exists := c.Members[u.UID]; exists {
		member.Modes |= MemberOp
	}
}

// Remove ops from a user
func (c *Channel) removeOps(u *User) {
	if member, exists := c.Members[u.UID]; exists {
		member.Modes &^= MemberOp
	}
}

// modesString renders the simple modes with their parameters, for 324
// replies. Key and limit show only to members.
func (c *Channel) modesString(member bool) string {
	s := "+"
	for m := range c.Modes {
		s += string(m)
	}

	params := ""
	if c.Limit > 0 {
		s += "l"
		if member {
			params += " " + strconv.Itoa(c.Limit)
		}
	}
	if len(c.Key) > 0 {
		s += "k"
		if member {
			params += " " + c.Key
		}
	}

	return s + params
}

// maskOnList checks a list for an exact mask.
func maskOnList(list []ChannelListEntry, mask string) bool {
	for _, entry := range list {
		if entry.Mask == mask {
			return true
		}
	}
	return false
}

// userMatchesList checks the user's nick!user@host against every mask on
// a list.
func userMatchesList(list []ChannelListEntry, u *User) bool {
	for _, entry := range list {
		nick, user, host := parseUserHostMask(entry.Mask)
		if !matchMask(nick, u.DisplayNick) {
			continue
		}
		if userMatchesMask(u, user, host) {
			return true
		}
	}
	return false
}

// Remove all modes from the channel, and all member privileges.
//
// This happens when we lose a channel TS merge. It informs local users
// about the mode changes, but no one else.
func (c *Channel) clearModes(h *Heron) {
	// Build all the messages we need prior to sending.
	var msgs []Message

	// Clear things like +nt, the key, and the limit.

	modeStr := ""
	for k := range c.Modes {
		delete(c.Modes, k)
		modeStr += string(k)
	}
	if len(c.Key) > 0 {
		c.Key = ""
		modeStr += "k"
	}
	if c.Limit > 0 {
		c.Limit = 0
		modeStr += "l"
	}
	if len(modeStr) > 0 {
		msgs = append(msgs, Message{
			Prefix:  h.Config.ServerName,
			Command: "MODE",
			Params:  []string{c.Name, "-" + modeStr},
		})
	}

	// Clear member privileges, batching them up.

	var letters string
	var nicks []string

	flush := func() {
		if len(nicks) == 0 {
			return
		}
		params := []string{c.Name, "-" + letters}
		params = append(params, nicks...)
		msgs = append(msgs, Message{
			Prefix:  h.Config.ServerName,
			Command: "MODE",
			Params:  params,
		})
		letters = ""
		nicks = nil
	}

	for _, member := range c.Members {
		for _, entry := range memberModeTable {
			if !member.Modes.has(entry.Mode) {
				continue
			}
			letters += string(entry.Letter)
			nicks = append(nicks, member.Nick)
			if len(nicks) == ChanModesPerCommand {
				flush()
			}
		}
		member.Modes = 0
	}
	flush()

	// Fire off the messages.
	for _, msg := range msgs {
		h.messageLocalUsersOnChannel(c, msg)
	}
}
