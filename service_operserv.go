package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var operServCommands = map[string]serviceCommand{
	"AKILL": {handler: osAkill, minArgs: 1, operOnly: true,
		help: "AKILL ADD|DEL|LIST - manage network-wide bans"},
	"JUPE": {handler: osJupe, minArgs: 1, operOnly: true,
		help: "JUPE ADD|DEL|LIST - manage juped server names"},
	"MODE": {handler: osMode, minArgs: 2, operOnly: true,
		help: "MODE <#channel> <modes> [args] - force channel modes"},
	"KICK": {handler: osKick, minArgs: 2, operOnly: true,
		help: "KICK <#channel> <nick> [reason] - force a kick"},
	"KILL": {handler: osKill, minArgs: 1, operOnly: true,
		help: "KILL <nick> [reason] - disconnect a user"},
	"SQUIT": {handler: osSquit, minArgs: 1, operOnly: true,
		help: "SQUIT <server> - break a server link"},
	"GLOBAL": {handler: osGlobal, minArgs: 1, operOnly: true,
		help: "GLOBAL <text> - notice every user on this server"},
	"STATS": {handler: osStats, operOnly: true,
		help: "STATS - show network statistics"},
	"RESTART": {handler: osRestart, operOnly: true,
		help: "RESTART - restart the server"},
	"DIE": {handler: osDie, operOnly: true,
		help: "DIE - shut the server down"},
}

func osAkill(sv *service, source *User, args []string) {
	h := sv.heron

	switch strings.ToUpper(args[0]) {
	case "ADD":
		if len(args) < 2 {
			sv.notice(source, "Usage: AKILL ADD [minutes] <user@host> [reason]")
			return
		}
		userMask, hostMask, reason, expireAt, ok := parseBanArgs(args[1:])
		if !ok {
			sv.notice(source, "Invalid mask. AKILLs are user@host.")
			return
		}

		ban := ServerBan{
			Kind:     BanGline,
			UserMask: userMask,
			HostMask: hostMask,
			Reason:   reason,
			Setter:   source.DisplayNick,
			SetAt:    time.Now(),
			ExpireAt: expireAt,
		}
		if err := h.Bans.addBan(ban); err != nil {
			sv.notice(source, "Unable to set the AKILL: %s", err)
			return
		}

		h.noticeOpers(fmt.Sprintf("%s added AKILL for %s (%s)",
			source.DisplayNick, ban.mask(), reason))
		h.Notifier.publish(ServerEvent{
			Kind:    EventBan,
			Message: fmt.Sprintf("AKILL %s (%s)", ban.mask(), reason),
		})

		duration := "0"
		if !expireAt.IsZero() {
			duration = fmt.Sprintf("%d", int(time.Until(expireAt).Seconds()))
		}
		h.messageAllServers(Message{
			Prefix:  string(sv.User.UID),
			Command: "ENCAP",
			Params: []string{"*", "AKILL", userMask, hostMask, duration,
				reason},
		})

		h.disconnectBanned()
		sv.notice(source, "AKILL set on %s.", ban.mask())

	case "DEL":
		if len(args) < 2 {
			sv.notice(source, "Usage: AKILL DEL <user@host>")
			return
		}
		nick, userMask, hostMask := parseUserHostMask(args[1])
		if nick != "*" {
			sv.notice(source, "Invalid mask. AKILLs are user@host.")
			return
		}
		if err := h.Bans.removeBan(BanGline, userMask, hostMask); err != nil {
			sv.notice(source, "Unable to remove the AKILL: %s", err)
			return
		}

		h.noticeOpers(fmt.Sprintf("%s removed AKILL for %s@%s",
			source.DisplayNick, userMask, hostMask))
		h.messageAllServers(Message{
			Prefix:  string(sv.User.UID),
			Command: "ENCAP",
			Params:  []string{"*", "UNAKILL", userMask, hostMask},
		})
		sv.notice(source, "AKILL removed from %s@%s.", userMask, hostMask)

	case "LIST":
		sv.notice(source, "AKILL list:")
		for _, b := range h.Bans.list(BanGline) {
			expiry := "permanent"
			if !b.ExpireAt.IsZero() {
				expiry = b.ExpireAt.Format("Jan 02 15:04:05 2006 MST")
			}
			sv.notice(source, "  %s set by %s (%s) [%s]", b.mask(), b.Setter,
				b.Reason, expiry)
		}
		sv.notice(source, "End of AKILL list.")

	default:
		sv.notice(source, "Usage: AKILL ADD|DEL|LIST")
	}
}

func osJupe(sv *service, source *User, args []string) {
	h := sv.heron

	switch strings.ToUpper(args[0]) {
	case "ADD":
		if len(args) < 2 {
			sv.notice(source, "Usage: JUPE ADD [minutes] <server> [reason]")
			return
		}

		rest := args[1:]
		var expireAt time.Time
		if minutes, err := strconv.Atoi(rest[0]); err == nil {
			if minutes > 0 {
				expireAt = time.Now().Add(
					time.Duration(minutes) * time.Minute)
			}
			rest = rest[1:]
			if len(rest) == 0 {
				sv.notice(source, "Usage: JUPE ADD [minutes] <server> [reason]")
				return
			}
		}

		serverName := rest[0]
		reason := "Juped"
		if len(rest) > 1 {
			reason = strings.Join(rest[1:], " ")
		}

		ban := ServerBan{
			Kind:     BanJupe,
			HostMask: serverName,
			Reason:   reason,
			Setter:   source.DisplayNick,
			SetAt:    time.Now(),
			ExpireAt: expireAt,
		}
		if err := h.Bans.addBan(ban); err != nil {
			sv.notice(source, "Unable to set the jupe: %s", err)
			return
		}

		h.noticeOpers(fmt.Sprintf("%s juped %s (%s)", source.DisplayNick,
			serverName, reason))

		duration := "0"
		if !expireAt.IsZero() {
			duration = fmt.Sprintf("%d", int(time.Until(expireAt).Seconds()))
		}
		h.messageAllServers(Message{
			Prefix:  string(sv.User.UID),
			Command: "ENCAP",
			Params:  []string{"*", "JUPE", serverName, duration, reason},
		})

		// A currently linked match gets disconnected too.
		for _, ls := range h.LocalServers {
			if matchMask(serverName, ls.Server.Name) {
				ls.quit("Juped: " + reason)
			}
		}

		sv.notice(source, "%s is juped.", serverName)

	case "DEL":
		if len(args) < 2 {
			sv.notice(source, "Usage: JUPE DEL <server>")
			return
		}
		if err := h.Bans.removeBan(BanJupe, "", args[1]); err != nil {
			sv.notice(source, "Unable to remove the jupe: %s", err)
			return
		}
		h.noticeOpers(fmt.Sprintf("%s removed the jupe on %s",
			source.DisplayNick, args[1]))
		h.messageAllServers(Message{
			Prefix:  string(sv.User.UID),
			Command: "ENCAP",
			Params:  []string{"*", "UNJUPE", args[1]},
		})
		sv.notice(source, "Jupe removed from %s.", args[1])

	case "LIST":
		sv.notice(source, "Jupe list:")
		for _, b := range h.Bans.list(BanJupe) {
			sv.notice(source, "  %s set by %s (%s)", b.HostMask, b.Setter,
				b.Reason)
		}
		sv.notice(source, "End of jupe list.")

	default:
		sv.notice(source, "Usage: JUPE ADD|DEL|LIST")
	}
}

func osMode(sv *service, source *User, args []string) {
	h := sv.heron

	channel, exists := h.Channels[canonicalizeChannel(args[0])]
	if !exists {
		sv.notice(source, "No such channel: %s", args[0])
		return
	}

	changes, unknown := parseChannelModes(args[1:])
	if len(unknown) > 0 {
		sv.notice(source, "Unknown mode(s): %s", string(unknown))
		return
	}

	applied := h.applyChannelModes(channel, changes, nil)
	if len(applied) == 0 {
		sv.notice(source, "Nothing to change.")
		return
	}

	h.broadcastChannelModes(channel, sv.User.nickUhost(),
		string(sv.User.UID), applied)
	h.noticeOpers(fmt.Sprintf("%s used OperServ MODE on %s",
		source.DisplayNick, channel.Name))
}

func osKick(sv *service, source *User, args []string) {
	h := sv.heron

	channel, exists := h.Channels[canonicalizeChannel(args[0])]
	if !exists {
		sv.notice(source, "No such channel: %s", args[0])
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
	h.noticeOpers(fmt.Sprintf("%s used OperServ KICK on %s in %s",
		source.DisplayNick, target.DisplayNick, channel.Name))
}

func osKill(sv *service, source *User, args []string) {
	h := sv.heron

	target := h.resolveUser(args[0])
	if target == nil {
		sv.notice(source, "%s is not online.", args[0])
		return
	}
	if target.IsService {
		sv.notice(source, "Permission denied.")
		return
	}

	reason := "Killed"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}

	h.noticeOpers(fmt.Sprintf("%s used OperServ KILL on %s (%s)",
		source.DisplayNick, target.DisplayNick, reason))
	h.killUser(target, fmt.Sprintf("%s (%s)", source.DisplayNick, reason))
}

func osSquit(sv *service, source *User, args []string) {
	h := sv.heron

	for _, ls := range h.LocalServers {
		if ls.Server.Name == args[0] {
			h.noticeOpers(fmt.Sprintf("%s used OperServ SQUIT on %s",
				source.DisplayNick, args[0]))
			ls.quit("SQUIT by " + source.DisplayNick)
			return
		}
	}

	for _, server := range h.Servers {
		if server.Name != args[0] || server.ClosestServer == nil {
			continue
		}
		h.noticeOpers(fmt.Sprintf("%s used OperServ SQUIT on %s",
			source.DisplayNick, args[0]))
		server.ClosestServer.maybeQueueMessage(Message{
			Prefix:  string(h.Config.TS6SID),
			Command: "SQUIT",
			Params:  []string{string(server.SID), "SQUIT by " + source.DisplayNick},
		})
		return
	}

	sv.notice(source, "No such server: %s", args[0])
}

func osGlobal(sv *service, source *User, args []string) {
	text := strings.Join(args, " ")
	for _, lu := range sv.heron.LocalUsers {
		lu.maybeQueueMessage(Message{
			Prefix:  sv.User.nickUhost(),
			Command: "NOTICE",
			Params:  []string{lu.User.DisplayNick, "[Global] " + text},
		})
	}
}

func osStats(sv *service, source *User, args []string) {
	h := sv.heron

	sv.notice(source, "Users: %d (%d local)", h.userCount(),
		len(h.LocalUsers))
	sv.notice(source, "Channels: %d", len(h.Channels))
	sv.notice(source, "Servers: %d (%d direct)", len(h.Servers),
		len(h.LocalServers))
	sv.notice(source, "Operators: %d", h.operCount())
	sv.notice(source, "Bans: %d K, %d G, %d Z, %d jupes",
		len(h.Bans.list(BanKline)), len(h.Bans.list(BanGline)),
		len(h.Bans.list(BanZline)), len(h.Bans.list(BanJupe)))
	sv.notice(source, "Up since %s",
		h.StartTime.Format("Jan 02 15:04:05 2006 MST"))
}

func osRestart(sv *service, source *User, args []string) {
	sv.heron.noticeOpers(fmt.Sprintf("%s used OperServ RESTART",
		source.DisplayNick))
	sv.heron.Restart = true
	sv.heron.shutdown()
}

func osDie(sv *service, source *User, args []string) {
	sv.heron.noticeOpers(fmt.Sprintf("%s used OperServ DIE",
		source.DisplayNick))
	sv.heron.shutdown()
}
