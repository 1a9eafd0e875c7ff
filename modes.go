package main

import (
	"fmt"
	"strconv"
	"time"
)

// modeChange is one parsed mode alteration (or list query).
type modeChange struct {
	add   bool
	mode  byte
	param string
}

// Channel modes we know, by type. List modes and member modes take a
// parameter. k takes one on set, l takes one on set only.
func isListMode(mode byte) bool {
	return mode == 'b' || mode == 'e' || mode == 'I'
}

func isMemberMode(mode byte) bool {
	_, ok := memberModeFromLetter(mode)
	return ok
}

func isSimpleChannelMode(mode byte) bool {
	switch mode {
	case 'i', 'm', 'n', 'p', 's', 't', 'C', 'c', 'S', 'R':
		return true
	}
	return false
}

// parseChannelModes turns MODE parameters (modestring plus arguments)
// into a list of changes. A list mode with no argument left is a query.
// Unknown characters come back in the second return for the caller to
// complain about.
func parseChannelModes(params []string) ([]modeChange, []byte) {
	if len(params) == 0 {
		return nil, nil
	}

	modestr := params[0]
	args := params[1:]
	argIdx := 0

	takeArg := func() (string, bool) {
		if argIdx < len(args) {
			s := args[argIdx]
			argIdx++
			return s, true
		}
		return "", false
	}

	adding := true
	var changes []modeChange
	var unknown []byte

	for i := 0; i < len(modestr); i++ {
		mode := modestr[i]
		switch {
		case mode == '+':
			adding = true
		case mode == '-':
			adding = false

		case isListMode(mode):
			arg, ok := takeArg()
			if !ok {
				// Query.
				changes = append(changes, modeChange{add: true, mode: mode})
				continue
			}
			changes = append(changes,
				modeChange{add: adding, mode: mode, param: arg})

		case isMemberMode(mode):
			arg, ok := takeArg()
			if !ok {
				continue
			}
			changes = append(changes,
				modeChange{add: adding, mode: mode, param: arg})

		case mode == 'k':
			arg, ok := takeArg()
			if adding && !ok {
				continue
			}
			if !adding {
				// -k conventionally echoes *.
				arg = "*"
			}
			changes = append(changes,
				modeChange{add: adding, mode: mode, param: arg})

		case mode == 'l':
			if adding {
				arg, ok := takeArg()
				if !ok {
					continue
				}
				changes = append(changes,
					modeChange{add: true, mode: mode, param: arg})
				continue
			}
			changes = append(changes, modeChange{add: false, mode: mode})

		case isSimpleChannelMode(mode):
			changes = append(changes, modeChange{add: adding, mode: mode})

		default:
			unknown = append(unknown, mode)
		}
	}

	return changes, unknown
}

// formatModeParams renders applied changes into MODE/TMODE parameter
// lists, grouping at most ChanModesPerCommand changes per list.
func formatModeParams(target string, changes []modeChange) [][]string {
	var out [][]string

	for start := 0; start < len(changes); start += ChanModesPerCommand {
		end := start + ChanModesPerCommand
		if end > len(changes) {
			end = len(changes)
		}

		modestr := ""
		var args []string
		var lastSign byte

		for _, ch := range changes[start:end] {
			sign := byte('+')
			if !ch.add {
				sign = '-'
			}
			if sign != lastSign {
				modestr += string(sign)
				lastSign = sign
			}
			modestr += string(ch.mode)
			if len(ch.param) > 0 {
				args = append(args, ch.param)
			}
		}

		params := make([]string, 0, 2+len(args))
		params = append(params, target, modestr)
		params = append(params, args...)
		out = append(out, params)
	}

	return out
}

func (u *LocalUser) modeCommand(m Message) {
	if isValidChannel(m.Params[0]) {
		u.channelModeCommand(m)
		return
	}
	u.userModeCommand(m)
}

func (u *LocalUser) userModeCommand(m Message) {
	target := u.Heron.resolveUser(m.Params[0])
	if target == nil {
		// 401 ERR_NOSUCHNICK
		u.messageFromServer("401", []string{m.Params[0], "No such nick"})
		return
	}

	if target.UID != u.User.UID {
		// 502 ERR_USERSDONTMATCH
		u.messageFromServer("502",
			[]string{"Cannot change mode for other users"})
		return
	}

	if len(m.Params) == 1 {
		// 221 RPL_UMODEIS
		u.messageFromServer("221", []string{u.User.modesString()})
		return
	}

	adding := true
	applied := ""
	lastSign := byte(0)

	appendMode := func(add bool, mode byte) {
		sign := byte('+')
		if !add {
			sign = '-'
		}
		if sign != lastSign {
			applied += string(sign)
			lastSign = sign
		}
		applied += string(mode)
	}

	for i := 0; i < len(m.Params[1]); i++ {
		mode := m.Params[1][i]
		switch mode {
		case '+':
			adding = true
		case '-':
			adding = false

		case 'i', 'w', 'g':
			_, has := u.User.Modes[mode]
			if adding && !has {
				u.User.Modes[mode] = struct{}{}
				appendMode(true, mode)
			} else if !adding && has {
				delete(u.User.Modes, mode)
				appendMode(false, mode)
			}

		case 'C', 's':
			// Oper notice flags.
			if adding && !u.User.isOperator() {
				continue
			}
			_, has := u.User.Modes[mode]
			if adding && !has {
				u.User.Modes[mode] = struct{}{}
				appendMode(true, mode)
			} else if !adding && has {
				delete(u.User.Modes, mode)
				appendMode(false, mode)
			}

		case 'o':
			// Opering up happens through OPER, never MODE.
			if adding {
				continue
			}
			if u.User.isOperator() {
				delete(u.User.Modes, 'o')
				delete(u.Heron.Opers, u.User.UID)
				appendMode(false, 'o')
			}

		default:
			// 501 ERR_UMODEUNKNOWNFLAG
			u.messageFromServer("501", []string{"Unknown MODE flag"})
		}
	}

	if len(applied) == 0 {
		return
	}

	u.maybeQueueMessage(Message{
		Prefix:  u.User.nickUhost(),
		Command: "MODE",
		Params:  []string{u.User.DisplayNick, applied},
	})

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "MODE",
		Params:  []string{string(u.User.UID), applied},
	})
}

func (u *LocalUser) channelModeCommand(m Message) {
	name := canonicalizeChannel(m.Params[0])
	channel, exists := u.Heron.Channels[name]
	if !exists {
		u.messageFromServer("403", []string{m.Params[0], "No such channel"})
		return
	}

	// Query.
	if len(m.Params) == 1 {
		// 324 RPL_CHANNELMODEIS
		u.messageFromServer("324", []string{channel.Name,
			channel.modesString(u.User.onChannel(channel))})
		// 329 RPL_CREATIONTIME
		u.messageFromServer("329", []string{channel.Name,
			fmt.Sprintf("%d", channel.TS)})
		return
	}

	changes, unknown := parseChannelModes(m.Params[1:])
	for _, mode := range unknown {
		// 472 ERR_UNKNOWNMODE
		u.messageFromServer("472", []string{string(mode),
			"is unknown mode char to me"})
	}

	// Separate list queries from actual changes.
	var toApply []modeChange
	for _, ch := range changes {
		if isListMode(ch.mode) && len(ch.param) == 0 {
			u.sendListModeReply(channel, ch.mode)
			continue
		}
		toApply = append(toApply, ch)
	}

	if len(toApply) == 0 {
		return
	}

	if !channel.memberModes(u.User.UID).atLeastHalfop() &&
		!u.User.isOperator() {
		u.messageFromServer("482",
			[]string{channel.Name, "You're not channel operator"})
		return
	}

	applied := u.Heron.applyChannelModes(channel, toApply, u)
	if len(applied) == 0 {
		return
	}

	u.Heron.broadcastChannelModes(channel, u.User.nickUhost(),
		string(u.User.UID), applied)
}

// sendListModeReply answers a list mode query (+b, +e, +I with no
// argument).
func (u *LocalUser) sendListModeReply(channel *Channel, mode byte) {
	var list []ChannelListEntry
	var itemNumeric, endNumeric, endText string

	switch mode {
	case 'b':
		list = channel.Bans
		itemNumeric, endNumeric = "367", "368"
		endText = "End of channel ban list"
	case 'e':
		list = channel.Excepts
		itemNumeric, endNumeric = "348", "349"
		endText = "End of channel exception list"
	case 'I':
		list = channel.InviteExempts
		itemNumeric, endNumeric = "346", "347"
		endText = "End of channel invite list"
	}

	for _, entry := range list {
		u.messageFromServer(itemNumeric, []string{channel.Name, entry.Mask,
			entry.Setter, fmt.Sprintf("%d", entry.SetTime)})
	}
	u.messageFromServer(endNumeric, []string{channel.Name, endText})
}

// applyChannelModes applies parsed changes to a channel, returning the
// ones that took effect. replyTo, when set, receives error numerics and
// is the actor for privilege checks on member modes.
func (h *Heron) applyChannelModes(channel *Channel, changes []modeChange,
	replyTo *LocalUser) []modeChange {
	var applied []modeChange

	now := time.Now().Unix()
	setter := "*"
	var actorModes MemberModes
	enforce := false
	if replyTo != nil {
		setter = replyTo.User.nickUhost()
		actorModes = channel.memberModes(replyTo.User.UID)
		enforce = !replyTo.User.isOperator()
	}

	for _, ch := range changes {
		switch {
		case isListMode(ch.mode):
			var list *[]ChannelListEntry
			switch ch.mode {
			case 'b':
				list = &channel.Bans
			case 'e':
				list = &channel.Excepts
			case 'I':
				list = &channel.InviteExempts
			}
			if ch.add {
				if maskOnList(*list, ch.param) {
					continue
				}
				*list = append(*list, ChannelListEntry{
					Mask:    ch.param,
					Setter:  setter,
					SetTime: now,
				})
				applied = append(applied, ch)
			} else {
				found := false
				kept := (*list)[:0]
				for _, entry := range *list {
					if canonicalizeNick(entry.Mask) ==
						canonicalizeNick(ch.param) {
						found = true
						continue
					}
					kept = append(kept, entry)
				}
				*list = kept
				if found {
					applied = append(applied, ch)
				}
			}

		case isMemberMode(ch.mode):
			memberMode, _ := memberModeFromLetter(ch.mode)

			target := h.resolveUser(ch.param)
			if target == nil || !target.onChannel(channel) {
				if replyTo != nil {
					replyTo.messageFromServer("441", []string{ch.param,
						channel.Name, "They aren't on that channel"})
				}
				continue
			}

			// Granting or removing a rank above your own needs that rank.
			if enforce && memberMode > actorModes {
				if replyTo != nil {
					replyTo.messageFromServer("482", []string{channel.Name,
						"You're not channel operator"})
				}
				continue
			}

			member := channel.Members[target.UID]
			if ch.add {
				if member.Modes.has(memberMode) {
					continue
				}
				member.Modes |= memberMode
			} else {
				if !member.Modes.has(memberMode) {
					continue
				}
				member.Modes &^= memberMode
			}

			// Echo the nick, not the UID, to clients. The caller swaps in
			// UIDs for server propagation.
			applied = append(applied, modeChange{
				add:   ch.add,
				mode:  ch.mode,
				param: target.DisplayNick,
			})

		case ch.mode == 'k':
			if ch.add {
				channel.Key = ch.param
				applied = append(applied, ch)
			} else {
				if len(channel.Key) == 0 {
					continue
				}
				channel.Key = ""
				applied = append(applied, ch)
			}

		case ch.mode == 'l':
			if ch.add {
				limit, err := strconv.Atoi(ch.param)
				if err != nil || limit <= 0 {
					continue
				}
				channel.Limit = limit
				applied = append(applied, ch)
			} else {
				if channel.Limit == 0 {
					continue
				}
				channel.Limit = 0
				applied = append(applied, ch)
			}

		case isSimpleChannelMode(ch.mode):
			_, has := channel.Modes[ch.mode]
			if ch.add && !has {
				channel.Modes[ch.mode] = struct{}{}
				applied = append(applied, ch)
			} else if !ch.add && has {
				delete(channel.Modes, ch.mode)
				applied = append(applied, ch)
			}
		}
	}

	return applied
}

// broadcastChannelModes tells local members and linked servers about
// applied mode changes. Local users see nicks; servers get TMODE with
// UIDs.
func (h *Heron) broadcastChannelModes(channel *Channel, sourceUhost,
	sourceUID string, applied []modeChange) {
	for _, params := range formatModeParams(channel.Name, applied) {
		h.messageLocalUsersOnChannel(channel, Message{
			Prefix:  sourceUhost,
			Command: "MODE",
			Params:  params,
		})
	}

	// Swap member mode nick params for UIDs.
	serverChanges := make([]modeChange, 0, len(applied))
	for _, ch := range applied {
		if isMemberMode(ch.mode) {
			if target := h.resolveUser(ch.param); target != nil {
				ch.param = string(target.UID)
			}
		}
		serverChanges = append(serverChanges, ch)
	}

	ts := fmt.Sprintf("%d", channel.TS)
	for _, params := range formatModeParams(channel.Name, serverChanges) {
		tmodeParams := make([]string, 0, len(params)+1)
		tmodeParams = append(tmodeParams, ts)
		tmodeParams = append(tmodeParams, params...)
		h.messageAllServers(Message{
			Prefix:  sourceUID,
			Command: "TMODE",
			Params:  tmodeParams,
		})
	}
}
