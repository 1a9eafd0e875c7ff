package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (u *LocalUser) whoCommand(m Message) {
	mask := m.Params[0]

	if isValidChannel(mask) {
		channel, exists := u.Heron.Channels[canonicalizeChannel(mask)]
		if exists {
			for memberUID, member := range channel.Members {
				user := u.Heron.Users[memberUID]
				if user == nil {
					continue
				}
				u.sendWhoReply(channel.Name, user, member.Modes)
			}
		}
		// 315 RPL_ENDOFWHO
		u.messageFromServer("315", []string{mask, "End of WHO list"})
		return
	}

	for _, user := range u.Heron.Users {
		if !matchMask(mask, user.DisplayNick) {
			continue
		}
		// Invisible users show up only to operators and those sharing a
		// channel.
		if _, invisible := user.Modes['i']; invisible &&
			!u.User.isOperator() && !u.sharesChannel(user) {
			continue
		}
		u.sendWhoReply("*", user, 0)
	}
	u.messageFromServer("315", []string{mask, "End of WHO list"})
}

func (u *LocalUser) sharesChannel(other *User) bool {
	for _, channel := range u.User.Channels {
		if other.onChannel(channel) {
			return true
		}
	}
	return false
}

func (u *LocalUser) sendWhoReply(channelName string, user *User,
	modes MemberModes) {
	flags := "H"
	if user.isAway() {
		flags = "G"
	}
	if user.isOperator() {
		flags += "*"
	}
	flags += modes.highestSigil()

	serverName := u.Heron.Config.ServerName
	if user.Server != nil {
		serverName = user.Server.Name
	}

	// 352 RPL_WHOREPLY
	u.messageFromServer("352", []string{
		channelName,
		user.Username,
		user.Hostname,
		serverName,
		user.DisplayNick,
		flags,
		fmt.Sprintf("%d %s", user.HopCount, user.RealName),
	})
}

func (u *LocalUser) whoisCommand(m Message) {
	user := u.Heron.resolveUser(m.Params[0])
	if user == nil {
		u.messageFromServer("401", []string{m.Params[0], "No such nick"})
		u.messageFromServer("318",
			[]string{m.Params[0], "End of WHOIS list"})
		return
	}

	// 311 RPL_WHOISUSER
	u.messageFromServer("311", []string{user.DisplayNick, user.Username,
		user.Hostname, "*", user.RealName})

	// 319 RPL_WHOISCHANNELS
	if len(user.Channels) > 0 {
		var names []string
		for _, channel := range user.Channels {
			if (channel.hasMode('s') || channel.hasMode('p')) &&
				!u.User.onChannel(channel) && !u.User.isOperator() {
				continue
			}
			names = append(names,
				channel.memberModes(user.UID).highestSigil()+channel.Name)
		}
		if len(names) > 0 {
			u.messageFromServer("319", []string{user.DisplayNick,
				strings.Join(names, " ")})
		}
	}

	// 312 RPL_WHOISSERVER
	serverName := u.Heron.Config.ServerName
	serverInfo := u.Heron.Config.ServerInfo
	if user.Server != nil {
		serverName = user.Server.Name
		serverInfo = user.Server.Description
	}
	u.messageFromServer("312",
		[]string{user.DisplayNick, serverName, serverInfo})

	if user.isAway() {
		// 301 RPL_AWAY
		u.messageFromServer("301",
			[]string{user.DisplayNick, user.AwayMessage})
	}

	if user.isOperator() {
		// 313 RPL_WHOISOPERATOR
		u.messageFromServer("313",
			[]string{user.DisplayNick, "is an IRC operator"})
	}

	if len(user.Account) > 0 {
		// 330 RPL_WHOISACCOUNT
		u.messageFromServer("330", []string{user.DisplayNick, user.Account,
			"is logged in as"})
	}

	if user.isLocal() && user.LocalUser.isTLS() {
		// 671 RPL_WHOISSECURE
		u.messageFromServer("671",
			[]string{user.DisplayNick, "is using a secure connection"})
	}

	if user.isLocal() {
		// 317 RPL_WHOISIDLE
		idle := int(time.Since(user.LocalUser.LastMessageTime).Seconds())
		u.messageFromServer("317", []string{
			user.DisplayNick,
			fmt.Sprintf("%d", idle),
			fmt.Sprintf("%d", user.ConnectionTime.Unix()),
			"seconds idle, signon time",
		})
	}

	// 318 RPL_ENDOFWHOIS
	u.messageFromServer("318",
		[]string{user.DisplayNick, "End of WHOIS list"})
}

func (u *LocalUser) whowasCommand(m Message) {
	nick := m.Params[0]

	limit := 0
	if len(m.Params) > 1 {
		if n, err := strconv.Atoi(m.Params[1]); err == nil {
			limit = n
		}
	}

	entries := u.Heron.Whowas.find(nick, limit)
	if len(entries) == 0 {
		// 406 ERR_WASNOSUCHNICK
		u.messageFromServer("406", []string{nick, "There was no such nickname"})
		u.messageFromServer("369", []string{nick, "End of WHOWAS"})
		return
	}

	for _, entry := range entries {
		// 314 RPL_WHOWASUSER
		u.messageFromServer("314", []string{entry.Nick, entry.Username,
			entry.Hostname, "*", entry.RealName})
		// 312 RPL_WHOISSERVER, reused with the time they were seen.
		u.messageFromServer("312", []string{entry.Nick, entry.ServerName,
			entry.Seen.Format(time.RFC1123)})
	}

	// 369 RPL_ENDOFWHOWAS
	u.messageFromServer("369", []string{nick, "End of WHOWAS"})
}

func (u *LocalUser) userhostCommand(m Message) {
	var replies []string

	params := m.Params
	if len(params) > 5 {
		params = params[:5]
	}

	for _, nick := range params {
		user := u.Heron.resolveUser(nick)
		if user == nil {
			continue
		}
		oper := ""
		if user.isOperator() {
			oper = "*"
		}
		replies = append(replies, fmt.Sprintf("%s%s=+%s@%s",
			user.DisplayNick, oper, user.Username, user.Hostname))
	}

	// 302 RPL_USERHOST
	u.messageFromServer("302", []string{strings.Join(replies, " ")})
}

func (u *LocalUser) isonCommand(m Message) {
	var online []string
	for _, nick := range m.Params {
		if user := u.Heron.resolveUser(nick); user != nil {
			online = append(online, user.DisplayNick)
		}
	}

	// 303 RPL_ISON
	u.messageFromServer("303", []string{strings.Join(online, " ")})
}

func (u *LocalUser) monitorCommand(m Message) {
	subcommand := strings.ToUpper(m.Params[0])

	switch subcommand {
	case "+":
		if len(m.Params) < 2 {
			u.messageFromServer("461",
				[]string{"MONITOR", "Not enough parameters"})
			return
		}
		for _, nick := range strings.Split(m.Params[1], ",") {
			if len(u.User.MonitorTargets) >= maxMonitorTargets {
				// 734 ERR_MONLISTFULL
				u.messageFromServer("734", []string{
					fmt.Sprintf("%d", maxMonitorTargets), nick,
					"Monitor list is full"})
				return
			}

			canon := canonicalizeNick(nick)
			if _, exists := u.User.MonitorTargets[canon]; exists {
				continue
			}
			u.User.MonitorTargets[canon] = struct{}{}
			u.Heron.Monitor.add(nick, u)

			if target := u.Heron.resolveUser(nick); target != nil {
				// 730 RPL_MONONLINE
				u.messageFromServer("730", []string{target.nickUhost()})
			} else {
				// 731 RPL_MONOFFLINE
				u.messageFromServer("731", []string{nick})
			}
		}

	case "-":
		if len(m.Params) < 2 {
			u.messageFromServer("461",
				[]string{"MONITOR", "Not enough parameters"})
			return
		}
		for _, nick := range strings.Split(m.Params[1], ",") {
			canon := canonicalizeNick(nick)
			delete(u.User.MonitorTargets, canon)
			u.Heron.Monitor.remove(nick, u)
		}

	case "C":
		u.Heron.Monitor.clear(u)

	case "L":
		var nicks []string
		for nick := range u.User.MonitorTargets {
			nicks = append(nicks, nick)
		}
		if len(nicks) > 0 {
			// 732 RPL_MONLIST
			u.messageFromServer("732", []string{strings.Join(nicks, ",")})
		}
		// 733 RPL_ENDOFMONLIST
		u.messageFromServer("733", []string{"End of MONITOR list"})

	case "S":
		var online, offline []string
		for nick := range u.User.MonitorTargets {
			if target := u.Heron.resolveUser(nick); target != nil {
				online = append(online, target.nickUhost())
			} else {
				offline = append(offline, nick)
			}
		}
		if len(online) > 0 {
			u.messageFromServer("730", []string{strings.Join(online, ",")})
		}
		if len(offline) > 0 {
			u.messageFromServer("731", []string{strings.Join(offline, ",")})
		}

	default:
		u.messageFromServer("461", []string{"MONITOR", "Invalid subcommand"})
	}
}

func (u *LocalUser) chathistoryCommand(m Message) {
	if !u.Caps.has("chathistory") {
		u.messageFromServer("421", []string{"CHATHISTORY", "Unknown command"})
		return
	}

	subcommand := strings.ToUpper(m.Params[0])
	target := m.Params[1]

	// History of a channel requires membership. Anything else is the
	// other half of a private conversation.
	storedTarget := canonicalizeChannel(target)
	if isValidChannel(target) {
		channel, exists := u.Heron.Channels[storedTarget]
		if !exists || !u.User.onChannel(channel) {
			u.standardReply("FAIL", "CHATHISTORY", "INVALID_TARGET",
				"You cannot view that history")
			return
		}
	}

	limit := u.Heron.Config.ChathistoryLimit
	messages, ok := u.fetchHistory(subcommand, storedTarget, m.Params[2:],
		limit)
	if !ok {
		return
	}

	u.sendHistoryBatch(target, messages)
}

// resolveHistorySelector reads a timestamp= or msgid= selector. A
// msgid anchors at the stored message's timestamp.
func resolveHistorySelector(store MessageRepository, target,
	arg string) (time.Time, bool) {
	if strings.HasPrefix(arg, "timestamp=") {
		t, err := time.Parse(serverTimeFormat,
			strings.TrimPrefix(arg, "timestamp="))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}

	if strings.HasPrefix(arg, "msgid=") {
		m, err := store.GetByMsgID(target, strings.TrimPrefix(arg, "msgid="))
		if err != nil || m == nil {
			return time.Time{}, false
		}
		return m.SentAt, true
	}

	return time.Time{}, false
}

func (u *LocalUser) fetchHistory(subcommand, target string, args []string,
	limit int) ([]StoredMessage, bool) {
	store := u.Heron.Store.Messages

	if len(args) > 0 {
		if n, err := strconv.Atoi(args[len(args)-1]); err == nil &&
			n > 0 && n < limit {
			limit = n
		}
	}

	fail := func() ([]StoredMessage, bool) {
		u.standardReply("FAIL", "CHATHISTORY", "INVALID_PARAMS",
			"Invalid parameters")
		return nil, false
	}

	var messages []StoredMessage
	var err error

	switch subcommand {
	case "LATEST":
		messages, err = store.GetLatest(target, limit)

	case "BEFORE":
		if len(args) < 1 {
			return fail()
		}
		t, ok := resolveHistorySelector(store, target, args[0])
		if !ok {
			return fail()
		}
		messages, err = store.GetBefore(target, t, limit)

	case "AFTER":
		if len(args) < 1 {
			return fail()
		}
		t, ok := resolveHistorySelector(store, target, args[0])
		if !ok {
			return fail()
		}
		messages, err = store.GetAfter(target, t, limit)

	case "AROUND":
		if len(args) < 1 {
			return fail()
		}
		t, ok := resolveHistorySelector(store, target, args[0])
		if !ok {
			return fail()
		}
		messages, err = store.GetAround(target, t, limit)

	case "BETWEEN":
		if len(args) < 2 {
			return fail()
		}
		start, ok1 := resolveHistorySelector(store, target, args[0])
		end, ok2 := resolveHistorySelector(store, target, args[1])
		if !ok1 || !ok2 {
			return fail()
		}
		messages, err = store.GetBetween(target, start, end, limit)

	default:
		u.standardReply("FAIL", "CHATHISTORY", "UNKNOWN_COMMAND",
			"Unknown CHATHISTORY subcommand")
		return nil, false
	}

	if err != nil {
		u.Heron.Log.WithError(err).Warn("unable to fetch history")
		u.standardReply("FAIL", "CHATHISTORY", "MESSAGE_ERROR",
			"Unable to fetch history")
		return nil, false
	}

	return messages, true
}

// sendHistoryBatch replays stored messages, wrapped in a batch when the
// client negotiated for one.
func (u *LocalUser) sendHistoryBatch(target string,
	messages []StoredMessage) {
	batch := u.Caps.has("batch")
	ref := strings.Replace(uuid.NewString()[:13], "-", "", -1)

	if batch {
		u.maybeQueueMessage(Message{
			Prefix:  u.Heron.Config.ServerName,
			Command: "BATCH",
			Params:  []string{"+" + ref, "chathistory", target},
		})
	}

	for _, sm := range messages {
		out := Message{
			Tags: map[string]string{
				"time":  sm.SentAt.UTC().Format(serverTimeFormat),
				"msgid": sm.MsgID,
			},
			Prefix:  sm.Sender,
			Command: sm.Command,
			Params:  []string{target, sm.Body},
		}
		if len(sm.Account) > 0 {
			out.Tags["account"] = sm.Account
		}
		if batch {
			out.Tags["batch"] = ref
		}
		u.maybeQueueMessage(out)
	}

	if batch {
		u.maybeQueueMessage(Message{
			Prefix:  u.Heron.Config.ServerName,
			Command: "BATCH",
			Params:  []string{"-" + ref},
		})
	}
}
