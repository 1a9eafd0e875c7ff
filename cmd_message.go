package main

import (
	"strings"
	"time"
)

func (u *LocalUser) privmsgCommand(m Message) {
	u.sendToTargets(m, "PRIVMSG")
}

func (u *LocalUser) noticeCommand(m Message) {
	u.sendToTargets(m, "NOTICE")
}

func (u *LocalUser) tagmsgCommand(m Message) {
	if !u.Caps.has("message-tags") {
		u.messageFromServer("421", []string{"TAGMSG", "Unknown command"})
		return
	}
	u.sendToTargets(m, "TAGMSG")
}

// sendToTargets handles PRIVMSG, NOTICE, and TAGMSG delivery. NOTICE
// generates no error replies per RFC.
func (u *LocalUser) sendToTargets(m Message, command string) {
	notice := command == "NOTICE"
	tagOnly := command == "TAGMSG"

	body := ""
	if !tagOnly {
		if len(m.Params) < 2 || len(m.Params[1]) == 0 {
			if !notice {
				// 412 ERR_NOTEXTTOSEND
				u.messageFromServer("412", []string{"No text to send"})
			}
			return
		}
		body = m.Params[1]
	}

	u.LastMessageTime = time.Now()

	for _, target := range strings.Split(m.Params[0], ",") {
		params := []string{target}
		if !tagOnly {
			params = append(params, body)
		}

		// Client-only tags pass through. Everything else the client sent
		// gets dropped before we stamp our own.
		out := Message{
			Tags:    clientOnlyTags(m.Tags),
			Prefix:  u.User.nickUhost(),
			Command: command,
			Params:  params,
		}
		out = stampMessage(out, u.User.Account)

		if isValidChannel(target) {
			u.messageToChannel(out, target, notice, tagOnly)
		} else {
			u.messageToUser(out, target, notice, tagOnly)
		}
	}
}

// clientOnlyTags keeps only tags with the + client prefix.
func clientOnlyTags(tags map[string]string) map[string]string {
	var kept map[string]string
	for name, value := range tags {
		if !strings.HasPrefix(name, "+") {
			continue
		}
		if kept == nil {
			kept = make(map[string]string)
		}
		kept[name] = value
	}
	return kept
}

// isCTCP reports a CTCP-delimited message. ACTION is CTCP too but
// channels with +C still allow it.
func isCTCP(text string) bool {
	return len(text) > 0 && text[0] == 0x01
}

func isCTCPAction(text string) bool {
	return strings.HasPrefix(text, "\x01ACTION")
}

// Formatting control codes: bold, color, reset, monospace, reverse,
// italic, strikethrough, underline.
func hasFormattingCodes(text string) bool {
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case 0x02, 0x03, 0x0f, 0x11, 0x16, 0x1d, 0x1e, 0x1f:
			return true
		}
	}
	return false
}

// stripFormattingCodes removes formatting codes. Color takes up to
// two digits, optionally followed by a comma and two more for the
// background.
func stripFormattingCodes(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	isDigit := func(c byte) bool { return c >= '0' && c <= '9' }

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case 0x02, 0x0f, 0x11, 0x16, 0x1d, 0x1e, 0x1f:
			continue
		case 0x03:
			j := i + 1
			for n := 0; n < 2 && j < len(text) && isDigit(text[j]); n++ {
				j++
			}
			if j > i+1 && j < len(text) && text[j] == ',' &&
				j+1 < len(text) && isDigit(text[j+1]) {
				j++
				for n := 0; n < 2 && j < len(text) && isDigit(text[j]); n++ {
					j++
				}
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (u *LocalUser) messageToChannel(out Message, target string,
	notice, tagOnly bool) {
	channel, exists := u.Heron.Channels[canonicalizeChannel(target)]
	if !exists {
		if !notice {
			u.messageFromServer("403", []string{target, "No such channel"})
		}
		return
	}

	member := u.User.onChannel(channel)
	modes := channel.memberModes(u.User.UID)

	text := ""
	if !tagOnly && len(out.Params) > 1 {
		text = out.Params[len(out.Params)-1]
	}

	cannotSend := ""
	switch {
	case channel.hasMode('n') && !member:
		cannotSend = "No external messages"
	case channel.hasMode('m') && !modes.has(MemberVoice) &&
		!modes.atLeastHalfop():
		cannotSend = "You are not voiced"
	case member && !modes.has(MemberVoice) && !modes.atLeastHalfop() &&
		userMatchesList(channel.Bans, u.User) &&
		!userMatchesList(channel.Excepts, u.User):
		cannotSend = "You are banned"
	case channel.hasMode('C') && isCTCP(text) && !isCTCPAction(text):
		cannotSend = "CTCPs are not permitted"
	case channel.hasMode('c') && hasFormattingCodes(text):
		cannotSend = "Colors are not permitted"
	case channel.hasMode('R') && len(u.User.Account) == 0:
		cannotSend = "You must be identified to a registered account"
	}
	if len(cannotSend) > 0 {
		if !notice {
			// 404 ERR_CANNOTSENDTOCHAN
			u.messageFromServer("404", []string{channel.Name, cannotSend})
		}
		return
	}

	if !tagOnly && channel.hasMode('S') && hasFormattingCodes(text) {
		// Strip rather than share the params array with other targets.
		params := make([]string, len(out.Params))
		copy(params, out.Params)
		params[len(params)-1] = stripFormattingCodes(text)
		out.Params = params
	}

	for memberUID := range channel.Members {
		recipient := u.Heron.Users[memberUID]
		if recipient == nil || !recipient.isLocal() {
			continue
		}
		if memberUID == u.User.UID {
			if u.Caps.has("echo-message") {
				u.maybeQueueMessage(out)
			}
			continue
		}
		if tagOnly && !recipient.LocalUser.Caps.has("message-tags") {
			continue
		}
		recipient.LocalUser.maybeQueueMessage(out)
	}

	relay := out
	relay.Prefix = string(u.User.UID)
	u.Heron.messageAllServers(relay)

	if !tagOnly {
		u.Heron.recordMessage(out, u.User.nickUhost(), u.User.Account,
			channel.Name)
	}
}

func (u *LocalUser) messageToUser(out Message, target string,
	notice, tagOnly bool) {
	recipient := u.Heron.resolveUser(target)
	if recipient == nil {
		if !notice {
			u.messageFromServer("401", []string{target, "No such nick"})
		}
		return
	}

	// Fix the target to their current display nick.
	out.Params[0] = recipient.DisplayNick

	// Services answer PRIVMSG themselves. They ignore NOTICE, as
	// services do, to avoid loops.
	if recipient.IsService {
		if !notice && !tagOnly {
			u.Heron.Services.handleMessage(u, recipient, out.Params[1])
		}
		return
	}

	// Caller-ID. +g users only hear from accepted senders and
	// operators.
	if recipient.hasCallerID() && !u.User.isOperator() {
		_, accepted := recipient.AcceptList[canonicalizeNick(u.User.DisplayNick)]
		if !accepted {
			if !notice {
				// 716 RPL_TARGUMODEG
				u.messageFromServer("716", []string{recipient.DisplayNick,
					"is in +g mode (server-side ignore)"})
				// 717 RPL_TARGNOTIFY
				u.messageFromServer("717", []string{recipient.DisplayNick,
					"has been informed that you messaged them"})
				if recipient.isLocal() {
					// 718 RPL_UMODEGMSG
					recipient.LocalUser.messageFromServer("718",
						[]string{u.User.DisplayNick, u.User.nickUhost(),
							"is messaging you, and you have umode +g"})
				}
			}
			return
		}
	}

	if recipient.isLocal() {
		if !tagOnly || recipient.LocalUser.Caps.has("message-tags") {
			recipient.LocalUser.maybeQueueMessage(out)
		}
	} else {
		relay := out
		relay.Prefix = string(u.User.UID)
		relay.Params = append([]string{string(recipient.UID)},
			out.Params[1:]...)
		recipient.ClosestServer.maybeQueueMessage(relay)
	}

	if u.Caps.has("echo-message") {
		u.maybeQueueMessage(out)
	}

	if !notice && !tagOnly && recipient.isAway() {
		// 301 RPL_AWAY
		u.messageFromServer("301",
			[]string{recipient.DisplayNick, recipient.AwayMessage})
	}
}
