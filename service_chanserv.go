package main

import (
	"fmt"
	"strings"
	"time"
)

var chanServCommands = map[string]serviceCommand{
	"REGISTER": {handler: csRegister, minArgs: 1, accountOnly: true,
		help: "REGISTER <#channel> - register a channel you have ops in"},
	"INFO": {handler: csInfo, minArgs: 1,
		help: "INFO <#channel> - show channel registration information"},
	"OP": {handler: csOp, minArgs: 1, accountOnly: true,
		help: "OP <#channel> [nick] - grant channel operator status"},
	"DEOP": {handler: csDeop, minArgs: 1, accountOnly: true,
		help: "DEOP <#channel> [nick] - remove channel operator status"},
	"VOICE": {handler: csVoice, minArgs: 1, accountOnly: true,
		help: "VOICE <#channel> [nick] - grant voice"},
	"DEVOICE": {handler: csDevoice, minArgs: 1, accountOnly: true,
		help: "DEVOICE <#channel> [nick] - remove voice"},
	"KICK": {handler: csKick, minArgs: 2, accountOnly: true,
		help: "KICK <#channel> <nick> [reason] - kick a user"},
	"TOPIC": {handler: csTopic, minArgs: 2, accountOnly: true,
		help: "TOPIC <#channel> <text> - set the topic"},
	"FLAGS": {handler: csFlags, minArgs: 1,
		help: "FLAGS <#channel> [account [flags|-]] - view or set access"},
	"TRANSFER": {handler: csTransfer, minArgs: 2, accountOnly: true,
		help: "TRANSFER <#channel> <account> - transfer founder status"},
	"SET": {handler: csSet, minArgs: 3, accountOnly: true,
		help: "SET <#channel> FOUNDER|SUCCESSOR|TOPICLOCK <value> - change settings"},
	"DROP": {handler: csDrop, minArgs: 1, accountOnly: true,
		help: "DROP <#channel> - delete a channel registration"},
}

// Access flag letters ChanServ understands. o grants op-level control
// and auto-op, v grants auto-voice.
const chanServFlagLetters = "ov"

// csLookup resolves a channel name to its registration. Notices the
// user when it isn't registered.
func csLookup(sv *service, source *User, name string) *RegisteredChannel {
	rc, err := sv.heron.Store.Channels.GetByName(canonicalizeChannel(name))
	if err != nil {
		sv.notice(source, "Unable to look up %s. Please try again.", name)
		return nil
	}
	if rc == nil {
		sv.notice(source, "%s is not registered.", name)
		return nil
	}
	return rc
}

// csControls reports whether the user may manage the channel: founder,
// the o access flag, or an oper override.
func csControls(h *Heron, source *User, rc *RegisteredChannel) bool {
	if source.isOperator() {
		return true
	}
	if len(source.Account) == 0 {
		return false
	}
	if rc.Founder == source.Account {
		return true
	}
	return flagsHave(channelAccessFlags(h, rc.Name, source.Account), 'o')
}

func csRegister(sv *service, source *User, args []string) {
	h := sv.heron
	name := canonicalizeChannel(args[0])

	channel, exists := h.Channels[name]
	if !exists || !source.onChannel(channel) {
		sv.notice(source, "You must be in %s to register it.", args[0])
		return
	}
	if !channel.userHasOps(source) {
		sv.notice(source, "You must have ops in %s to register it.", args[0])
		return
	}

	rc, err := h.Store.Channels.GetByName(name)
	if err != nil {
		sv.notice(source, "Registration failed. Please try again.")
		return
	}
	if rc != nil {
		sv.notice(source, "%s is already registered.", args[0])
		return
	}

	if err := h.Store.Channels.Create(&RegisteredChannel{
		Name:         name,
		Founder:      source.Account,
		RegisteredAt: time.Now(),
	}); err != nil {
		sv.notice(source, "Registration failed. Please try again.")
		return
	}

	sv.notice(source, "%s is now registered to %s.", args[0], source.Account)
}

func csInfo(sv *service, source *User, args []string) {
	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}

	sv.notice(source, "Information on %s:", rc.Name)
	sv.notice(source, "  Founder: %s", rc.Founder)
	sv.notice(source, "  Registered: %s",
		rc.RegisteredAt.Format("Jan 02 15:04:05 2006 MST"))
	if len(rc.Successor) > 0 {
		sv.notice(source, "  Successor: %s", rc.Successor)
	}
	if rc.TopicLock {
		sv.notice(source, "  Topic lock: on")
	}
}

// csMemberMode runs the shared OP/DEOP/VOICE/DEVOICE logic.
func csMemberMode(sv *service, source *User, args []string, add bool,
	letter byte) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}
	if !csControls(h, source, rc) {
		sv.notice(source, "You don't have access to %s.", args[0])
		return
	}

	channel, exists := h.Channels[rc.Name]
	if !exists {
		sv.notice(source, "%s is empty.", args[0])
		return
	}

	target := source
	if len(args) > 1 {
		target = h.resolveUser(args[1])
		if target == nil {
			sv.notice(source, "%s is not online.", args[1])
			return
		}
	}
	if !target.onChannel(channel) {
		sv.notice(source, "%s is not in %s.", target.DisplayNick, args[0])
		return
	}

	sv.setMemberMode(channel, target, add, letter)
	sv.notice(source, "Done.")
}

func csOp(sv *service, source *User, args []string) {
	csMemberMode(sv, source, args, true, 'o')
}

func csDeop(sv *service, source *User, args []string) {
	csMemberMode(sv, source, args, false, 'o')
}

func csVoice(sv *service, source *User, args []string) {
	csMemberMode(sv, source, args, true, 'v')
}

func csDevoice(sv *service, source *User, args []string) {
	csMemberMode(sv, source, args, false, 'v')
}

func csKick(sv *service, source *User, args []string) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}
	if !csControls(h, source, rc) {
		sv.notice(source, "You don't have access to %s.", args[0])
		return
	}

	channel, exists := h.Channels[rc.Name]
	if !exists {
		sv.notice(source, "%s is empty.", args[0])
		return
	}

	target := h.resolveUser(args[1])
	if target == nil || !target.onChannel(channel) {
		sv.notice(source, "%s is not in %s.", args[1], args[0])
		return
	}
	if target.IsService {
		sv.notice(source, "Permission denied.")
		return
	}

	reason := source.DisplayNick
	if len(args) > 2 {
		reason = fmt.Sprintf("%s (%s)", source.DisplayNick,
			strings.Join(args[2:], " "))
	}

	sv.kickUser(channel, target, reason)
}

func csTopic(sv *service, source *User, args []string) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}
	if !csControls(h, source, rc) {
		sv.notice(source, "You don't have access to %s.", args[0])
		return
	}

	channel, exists := h.Channels[rc.Name]
	if !exists {
		sv.notice(source, "%s is empty.", args[0])
		return
	}

	topic := strings.Join(args[1:], " ")
	if len(topic) > maxTopicLength {
		topic = topic[:maxTopicLength]
	}

	channel.Topic = topic
	channel.TopicTS = time.Now().Unix()
	channel.TopicSetter = sv.User.nickUhost()

	h.messageLocalUsersOnChannel(channel, Message{
		Prefix:  sv.User.nickUhost(),
		Command: "TOPIC",
		Params:  []string{channel.Name, topic},
	})
	h.messageAllServers(Message{
		Prefix:  string(sv.User.UID),
		Command: "TOPIC",
		Params:  []string{channel.Name, topic},
	})
}

func csFlags(sv *service, source *User, args []string) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}

	if len(args) == 1 {
		entries, err := h.Store.Channels.GetAccess(rc.Name)
		if err != nil {
			sv.notice(source, "Unable to load the access list.")
			return
		}
		sv.notice(source, "Access list for %s:", rc.Name)
		for _, e := range entries {
			sv.notice(source, "  %s +%s", e.Account, e.Flags)
		}
		sv.notice(source, "End of access list.")
		return
	}

	// Changing flags is for the founder (or an oper).
	if !source.isOperator() && rc.Founder != source.Account {
		sv.notice(source, "Only the founder may change access on %s.",
			args[0])
		return
	}

	account := canonicalizeNick(args[1])
	if len(args) == 2 {
		flags := channelAccessFlags(h, rc.Name, account)
		if len(flags) == 0 {
			sv.notice(source, "%s has no access on %s.", args[1], rc.Name)
			return
		}
		sv.notice(source, "%s has +%s on %s.", args[1], flags, rc.Name)
		return
	}

	flags := strings.TrimPrefix(args[2], "+")
	if flags == "-" || strings.EqualFold(flags, "none") {
		flags = ""
	}
	for i := 0; i < len(flags); i++ {
		if !flagsHave(chanServFlagLetters, flags[i]) {
			sv.notice(source, "Unknown flag: %c. Valid flags: %s.",
				flags[i], chanServFlagLetters)
			return
		}
	}

	if err := h.Store.Channels.SetAccess(rc.Name, account,
		flags); err != nil {
		sv.notice(source, "Unable to set access. Please try again.")
		return
	}

	if len(flags) == 0 {
		sv.notice(source, "Removed %s from the %s access list.", args[1],
			rc.Name)
		return
	}
	sv.notice(source, "Set +%s on %s for %s.", flags, rc.Name, args[1])
}

func csTransfer(sv *service, source *User, args []string) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}
	if !source.isOperator() && rc.Founder != source.Account {
		sv.notice(source, "Only the founder may transfer %s.", args[0])
		return
	}

	account, err := h.Store.Accounts.GetByName(canonicalizeNick(args[1]))
	if err != nil || account == nil {
		sv.notice(source, "%s is not a registered account.", args[1])
		return
	}

	rc.Founder = account.Name
	if err := h.Store.Channels.Update(rc); err != nil {
		sv.notice(source, "Transfer failed. Please try again.")
		return
	}

	sv.notice(source, "%s is now the founder of %s.", account.Name, rc.Name)
}

func csSet(sv *service, source *User, args []string) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}
	if !source.isOperator() && rc.Founder != source.Account {
		sv.notice(source, "Only the founder may change settings on %s.",
			args[0])
		return
	}

	switch strings.ToUpper(args[1]) {
	case "FOUNDER":
		csTransfer(sv, source, []string{args[0], args[2]})
		return

	case "SUCCESSOR":
		account, err := h.Store.Accounts.GetByName(canonicalizeNick(args[2]))
		if err != nil || account == nil {
			sv.notice(source, "%s is not a registered account.", args[2])
			return
		}
		rc.Successor = account.Name

	case "TOPICLOCK", "KEEPTOPIC":
		switch strings.ToLower(args[2]) {
		case "on":
			rc.TopicLock = true
		case "off":
			rc.TopicLock = false
		default:
			sv.notice(source, "Usage: SET <#channel> TOPICLOCK on|off")
			return
		}

	default:
		sv.notice(source, "Settings: FOUNDER, SUCCESSOR, TOPICLOCK.")
		return
	}

	if err := h.Store.Channels.Update(rc); err != nil {
		sv.notice(source, "Unable to save. Please try again.")
		return
	}
	sv.notice(source, "Done.")
}

func csDrop(sv *service, source *User, args []string) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}
	if !source.isOperator() && rc.Founder != source.Account {
		sv.notice(source, "Only the founder may drop %s.", args[0])
		return
	}

	// Clear the access list along with the registration.
	if entries, err := h.Store.Channels.GetAccess(rc.Name); err == nil {
		for _, e := range entries {
			_ = h.Store.Channels.SetAccess(rc.Name, e.Account, "")
		}
	}

	if err := h.Store.Channels.Delete(rc.Name); err != nil {
		sv.notice(source, "Drop failed. Please try again.")
		return
	}

	sv.notice(source, "%s has been dropped.", rc.Name)
}
