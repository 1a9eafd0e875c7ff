package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func (u *LocalUser) operCommand(m Message) {
	// OPER <name> <password>
	block, exists := u.Heron.Config.Opers[m.Params[0]]
	if !exists {
		// 464 ERR_PASSWDMISMATCH
		u.messageFromServer("464", []string{"Password incorrect"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(block.PasswordHash),
		[]byte(m.Params[1])); err != nil {
		u.messageFromServer("464", []string{"Password incorrect"})
		return
	}

	if len(block.Hostmasks) > 0 {
		matched := false
		for _, mask := range block.Hostmasks {
			if matchMask(mask, u.User.RealHostname) ||
				matchMask(mask, u.User.IP) {
				matched = true
				break
			}
		}
		if !matched {
			// 491 ERR_NOOPERHOST
			u.messageFromServer("491", []string{"No O-lines for your host"})
			return
		}
	}

	if u.User.isOperator() {
		// 381 again does no harm.
		u.messageFromServer("381", []string{"You are now an IRC operator"})
		return
	}

	u.User.Modes['o'] = struct{}{}
	u.Heron.Opers[u.User.UID] = u.User

	// 381 RPL_YOUREOPER
	u.messageFromServer("381", []string{"You are now an IRC operator"})

	u.maybeQueueMessage(Message{
		Prefix:  u.User.nickUhost(),
		Command: "MODE",
		Params:  []string{u.User.DisplayNick, "+o"},
	})

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "MODE",
		Params:  []string{string(u.User.UID), "+o"},
	})

	u.Heron.noticeOpers(fmt.Sprintf("%s opered up (%s)",
		u.User.DisplayNick, block.Name))
	u.Heron.Notifier.publish(ServerEvent{
		Kind:    EventOper,
		Message: u.User.nickUhost(),
	})
}

func (u *LocalUser) killCommand(m Message) {
	target := u.Heron.resolveUser(m.Params[0])
	if target == nil {
		u.messageFromServer("401", []string{m.Params[0], "No such nick"})
		return
	}

	if target.IsService {
		u.messageFromServer("481",
			[]string{"Permission Denied- You can't kill a service"})
		return
	}

	reason := "No reason given"
	if len(m.Params) > 1 {
		reason = m.Params[1]
	}

	killedBy := fmt.Sprintf("Killed (%s (%s))", u.User.DisplayNick, reason)

	u.Heron.noticeOpers(fmt.Sprintf("%s killed %s: %s",
		u.User.DisplayNick, target.DisplayNick, reason))

	// Everyone on the network hears about the kill.
	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "KILL",
		Params: []string{string(target.UID),
			fmt.Sprintf("%s!%s (%s)", u.Heron.Config.ServerName,
				u.User.DisplayNick, reason)},
	})

	if target.isLocal() {
		target.LocalUser.quit(killedBy, false)
	} else {
		u.Heron.cleanupUser(target, killedBy)
	}
}

func (u *LocalUser) wallopsCommand(m Message) {
	for _, user := range u.Heron.Users {
		if !user.isLocal() {
			continue
		}
		_, wallops := user.Modes['w']
		if !wallops && !user.isOperator() {
			continue
		}
		user.LocalUser.maybeQueueMessage(Message{
			Prefix:  u.User.nickUhost(),
			Command: "WALLOPS",
			Params:  []string{m.Params[0]},
		})
	}

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "WALLOPS",
		Params:  []string{m.Params[0]},
	})
}

func (u *LocalUser) rehashCommand(m Message) {
	// 382 RPL_REHASHING
	u.messageFromServer("382",
		[]string{u.Heron.ConfigFile, "Rehashing"})
	u.Heron.rehash(u)
}

func (u *LocalUser) dieCommand(m Message) {
	u.Heron.noticeOpers(fmt.Sprintf("%s sent DIE", u.User.DisplayNick))
	u.Heron.shutdown()
}

func (u *LocalUser) restartCommand(m Message) {
	u.Heron.noticeOpers(fmt.Sprintf("%s sent RESTART", u.User.DisplayNick))
	u.Heron.Restart = true
	u.Heron.shutdown()
}

func (u *LocalUser) connectCommand(m Message) {
	linkInfo, exists := u.Heron.Config.Servers[m.Params[0]]
	if !exists {
		// 402 ERR_NOSUCHSERVER
		u.messageFromServer("402", []string{m.Params[0], "No such server"})
		return
	}

	if u.Heron.isLinkedToServer(linkInfo.Name) {
		u.serverNotice(fmt.Sprintf("Already linked to %s", linkInfo.Name))
		return
	}

	u.serverNotice(fmt.Sprintf("Connecting to %s...", linkInfo.Name))
	u.Heron.connectToServer(linkInfo)
}

func (u *LocalUser) squitCommand(m Message) {
	reason := "No reason given"
	if len(m.Params) > 1 {
		reason = m.Params[1]
	}

	var target *Server
	for _, server := range u.Heron.Servers {
		if server.Name == m.Params[0] {
			target = server
			break
		}
	}
	if target == nil || target == u.Heron.me() {
		u.messageFromServer("402", []string{m.Params[0], "No such server"})
		return
	}

	u.Heron.noticeOpers(fmt.Sprintf("%s sent SQUIT for %s: %s",
		u.User.DisplayNick, target.Name, reason))

	if target.isLocal() {
		target.LocalServer.quit(reason)
		return
	}

	// Route the SQUIT towards the target.
	target.ClosestServer.maybeQueueMessage(Message{
		Prefix:  string(u.User.UID),
		Command: "SQUIT",
		Params:  []string{string(target.SID), reason},
	})
}

func (u *LocalUser) linksCommand(m Message) {
	for _, server := range u.Heron.Servers {
		// 364 RPL_LINKS
		u.messageFromServer("364", []string{server.Name, server.Name,
			fmt.Sprintf("%d %s", server.HopCount, server.Description)})
	}
	// 365 RPL_ENDOFLINKS
	u.messageFromServer("365", []string{"*", "End of LINKS list"})
}

// traceCommand gives a summary rather than the full per-connection
// class dump older servers produce.
func (u *LocalUser) traceCommand(m Message) {
	h := u.Heron

	for _, ls := range h.LocalServers {
		// 206 RPL_TRACESERVER
		u.messageFromServer("206", []string{"Serv", "*", "*",
			ls.Server.Name, "*", "V6"})
	}

	if u.User.isOperator() {
		for _, lu := range h.LocalUsers {
			numeric := "205" // RPL_TRACEUSER
			if lu.User.isOperator() {
				numeric = "204" // RPL_TRACEOPERATOR
			}
			u.messageFromServer(numeric, []string{"User", "*",
				lu.User.nickUhost()})
		}
	}

	// 262 RPL_TRACEEND
	u.messageFromServer("262", []string{h.Config.ServerName,
		"End of TRACE"})
}

func (u *LocalUser) statsCommand(m Message) {
	query := m.Params[0]

	switch query {
	case "u":
		uptime := time.Since(u.Heron.StartTime)
		// 242 RPL_STATSUPTIME
		u.messageFromServer("242", []string{
			fmt.Sprintf("Server Up %d days %d:%02d:%02d",
				int(uptime.Hours())/24,
				int(uptime.Hours())%24,
				int(uptime.Minutes())%60,
				int(uptime.Seconds())%60),
		})

	case "o":
		if !u.User.isOperator() {
			u.messageFromServer("481",
				[]string{"Permission Denied- You're not an IRC operator"})
			return
		}
		for name, block := range u.Heron.Config.Opers {
			// 243 RPL_STATSOLINE
			u.messageFromServer("243", []string{"O",
				strings.Join(block.Hostmasks, " "), "*", name})
		}

	case "k", "g":
		if !u.User.isOperator() {
			u.messageFromServer("481",
				[]string{"Permission Denied- You're not an IRC operator"})
			return
		}
		kind := BanKline
		if query == "g" {
			kind = BanGline
		}
		for _, ban := range u.Heron.Bans.list(kind) {
			// 216 RPL_STATSKLINE
			u.messageFromServer("216", []string{query, ban.HostMask, "*",
				ban.UserMask, ban.Reason})
		}
	}

	// 219 RPL_ENDOFSTATS
	u.messageFromServer("219", []string{query, "End of STATS report"})
}

// parseBanArgs reads [duration-minutes] <user@host> [:reason].
func parseBanArgs(params []string) (userMask, hostMask, reason string,
	expireAt time.Time, ok bool) {
	idx := 0
	if minutes, err := strconv.Atoi(params[idx]); err == nil {
		if minutes > 0 {
			expireAt = time.Now().Add(time.Duration(minutes) * time.Minute)
		}
		idx++
		if idx >= len(params) {
			return "", "", "", time.Time{}, false
		}
	}

	nick, user, host := parseUserHostMask(params[idx])
	if nick != "*" {
		// K-lines are user@host, never nick based.
		return "", "", "", time.Time{}, false
	}
	idx++

	reason = "Banned"
	if idx < len(params) {
		reason = strings.Join(params[idx:], " ")
	}

	return user, host, reason, expireAt, true
}

func (u *LocalUser) addServerBan(kind string, m Message) {
	userMask, hostMask, reason, expireAt, ok := parseBanArgs(m.Params)
	if !ok {
		u.messageFromServer("461", []string{m.Command, "Invalid mask"})
		return
	}

	ban := ServerBan{
		Kind:     kind,
		UserMask: userMask,
		HostMask: hostMask,
		Reason:   reason,
		Setter:   u.User.DisplayNick,
		SetAt:    time.Now(),
		ExpireAt: expireAt,
	}

	if err := u.Heron.Bans.addBan(ban); err != nil {
		u.serverNotice(fmt.Sprintf("Unable to set ban: %s", err))
		return
	}

	u.Heron.noticeOpers(fmt.Sprintf("%s added %s-line for %s (%s)",
		u.User.DisplayNick, kind, ban.mask(), reason))
	u.Heron.Notifier.publish(ServerEvent{
		Kind:    EventBan,
		Message: fmt.Sprintf("%s %s (%s)", kind, ban.mask(), reason),
	})

	// Global bans propagate.
	if kind == BanGline {
		duration := "0"
		if !expireAt.IsZero() {
			duration = fmt.Sprintf("%d",
				int(time.Until(expireAt).Seconds()))
		}
		u.Heron.messageAllServers(Message{
			Prefix:  string(u.User.UID),
			Command: "ENCAP",
			Params:  []string{"*", "AKILL", userMask, hostMask, duration, reason},
		})
	}

	u.Heron.disconnectBanned()
}

func (u *LocalUser) removeServerBan(kind string, m Message) {
	nick, userMask, hostMask := parseUserHostMask(m.Params[0])
	if nick != "*" {
		u.messageFromServer("461", []string{m.Command, "Invalid mask"})
		return
	}

	if err := u.Heron.Bans.removeBan(kind, userMask, hostMask); err != nil {
		u.serverNotice(fmt.Sprintf("Unable to remove ban: %s", err))
		return
	}

	u.Heron.noticeOpers(fmt.Sprintf("%s removed %s-line for %s@%s",
		u.User.DisplayNick, kind, userMask, hostMask))

	if kind == BanGline {
		u.Heron.messageAllServers(Message{
			Prefix:  string(u.User.UID),
			Command: "ENCAP",
			Params:  []string{"*", "UNAKILL", userMask, hostMask},
		})
	}
}

func (u *LocalUser) klineCommand(m Message)   { u.addServerBan(BanKline, m) }
func (u *LocalUser) unklineCommand(m Message) { u.removeServerBan(BanKline, m) }
func (u *LocalUser) glineCommand(m Message)   { u.addServerBan(BanGline, m) }
func (u *LocalUser) unglineCommand(m Message) { u.removeServerBan(BanGline, m) }

func (u *LocalUser) zlineCommand(m Message) {
	params := m.Params
	var expireAt time.Time
	if minutes, err := strconv.Atoi(params[0]); err == nil && len(params) > 1 {
		if minutes > 0 {
			expireAt = time.Now().Add(time.Duration(minutes) * time.Minute)
		}
		params = params[1:]
	}

	reason := "Banned"
	if len(params) > 1 {
		reason = strings.Join(params[1:], " ")
	}

	ban := ServerBan{
		Kind:     BanZline,
		UserMask: "*",
		HostMask: params[0],
		Reason:   reason,
		Setter:   u.User.DisplayNick,
		SetAt:    time.Now(),
		ExpireAt: expireAt,
	}

	if err := u.Heron.Bans.addBan(ban); err != nil {
		u.serverNotice(fmt.Sprintf("Unable to set ban: %s", err))
		return
	}

	u.Heron.noticeOpers(fmt.Sprintf("%s added Z-line for %s (%s)",
		u.User.DisplayNick, params[0], reason))

	// Disconnect anyone connected from the IP.
	for _, lu := range u.Heron.LocalUsers {
		if matchMask(params[0], lu.User.IP) {
			lu.quit(fmt.Sprintf("Z-lined: %s", reason), true)
		}
	}
}

func (u *LocalUser) unzlineCommand(m Message) {
	if err := u.Heron.Bans.removeBan(BanZline, "*", m.Params[0]); err != nil {
		u.serverNotice(fmt.Sprintf("Unable to remove ban: %s", err))
		return
	}
	u.Heron.noticeOpers(fmt.Sprintf("%s removed Z-line for %s",
		u.User.DisplayNick, m.Params[0]))
}

// disconnectBanned drops local users matching an active K or G line.
func (h *Heron) disconnectBanned() {
	for _, lu := range h.LocalUsers {
		if lu.User.isOperator() || lu.User.IsService {
			continue
		}
		if ban := h.Bans.findMatching(lu.User); ban != nil {
			lu.quit(fmt.Sprintf("Banned: %s", ban.Reason), true)
		}
	}
}

func (u *LocalUser) sajoinCommand(m Message) {
	target := u.Heron.resolveUser(m.Params[0])
	if target == nil {
		u.messageFromServer("401", []string{m.Params[0], "No such nick"})
		return
	}
	if !target.isLocal() {
		u.serverNotice("SAJOIN works on local users only")
		return
	}

	u.Heron.noticeOpers(fmt.Sprintf("%s used SAJOIN to force %s into %s",
		u.User.DisplayNick, target.DisplayNick, m.Params[1]))
	target.LocalUser.joinChannel(m.Params[1], "")
}

func (u *LocalUser) sapartCommand(m Message) {
	target := u.Heron.resolveUser(m.Params[0])
	if target == nil {
		u.messageFromServer("401", []string{m.Params[0], "No such nick"})
		return
	}
	if !target.isLocal() {
		u.serverNotice("SAPART works on local users only")
		return
	}

	channel, exists := target.Channels[canonicalizeChannel(m.Params[1])]
	if !exists {
		u.messageFromServer("442",
			[]string{m.Params[1], "They're not on that channel"})
		return
	}

	u.Heron.noticeOpers(fmt.Sprintf("%s used SAPART to remove %s from %s",
		u.User.DisplayNick, target.DisplayNick, channel.Name))
	target.LocalUser.partChannel(channel, "Requested")
}

func (u *LocalUser) sanickCommand(m Message) {
	target := u.Heron.resolveUser(m.Params[0])
	if target == nil {
		u.messageFromServer("401", []string{m.Params[0], "No such nick"})
		return
	}
	if !target.isLocal() {
		u.serverNotice("SANICK works on local users only")
		return
	}

	u.Heron.noticeOpers(fmt.Sprintf("%s used SANICK to rename %s to %s",
		u.User.DisplayNick, target.DisplayNick, m.Params[1]))
	target.LocalUser.nickCommand(Message{
		Command: "NICK",
		Params:  []string{m.Params[1]},
	})
}

func (u *LocalUser) samodeCommand(m Message) {
	if !isValidChannel(m.Params[0]) {
		u.messageFromServer("403", []string{m.Params[0], "No such channel"})
		return
	}

	u.Heron.noticeOpers(fmt.Sprintf("%s used SAMODE %s",
		u.User.DisplayNick, strings.Join(m.Params, " ")))
	u.channelModeCommand(m)
}
