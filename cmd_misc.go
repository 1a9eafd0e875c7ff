package main

import (
	"fmt"
	"strings"
	"time"
)

func (u *LocalUser) nickCommand(m Message) {
	if len(m.Params) == 0 {
		// 431 ERR_NONICKNAMEGIVEN
		u.messageFromServer("431", []string{"No nickname given"})
		return
	}

	nick := m.Params[0]

	// Too-long nicks are rejected, not truncated.
	if !isValidNick(u.Heron.Config.MaxNickLength, nick) {
		// 432 ERR_ERRONEUSNICKNAME
		u.messageFromServer("432", []string{nick, "Erroneous nickname"})
		return
	}

	oldNick := u.User.DisplayNick
	oldCanon := canonicalizeNick(oldNick)
	newCanon := canonicalizeNick(nick)

	if nick == oldNick {
		return
	}

	// A case change of your own nick is always fine.
	if newCanon != oldCanon {
		if _, exists := u.Heron.Nicks[newCanon]; exists {
			// 433 ERR_NICKNAMEINUSE
			u.messageFromServer("433",
				[]string{nick, "Nickname is already in use"})
			return
		}
	}

	nickMsg := Message{
		Prefix:  u.User.nickUhost(),
		Command: "NICK",
		Params:  []string{nick},
	}

	delete(u.Heron.Nicks, oldCanon)
	u.User.DisplayNick = nick
	u.User.NickTS = time.Now().Unix()
	u.Heron.Nicks[newCanon] = u.User.UID

	// Registration-era nick tracked for CAP replies.
	u.PreRegDisplayNick = nick

	// Tell the user and everyone sharing a channel, each once.
	u.maybeQueueMessage(nickMsg)
	told := map[TS6UID]struct{}{u.User.UID: {}}
	for _, channel := range u.User.Channels {
		for memberUID := range channel.Members {
			if _, ok := told[memberUID]; ok {
				continue
			}
			told[memberUID] = struct{}{}
			member := u.Heron.Users[memberUID]
			if member == nil || !member.isLocal() {
				continue
			}
			member.LocalUser.maybeQueueMessage(nickMsg)
		}
	}

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "NICK",
		Params:  []string{nick, fmt.Sprintf("%d", u.User.NickTS)},
	})

	if newCanon != oldCanon {
		u.Heron.notifyMonitorOffline(oldNick)
		u.Heron.notifyMonitorOnline(u.User)
	}

	// Server bans apply to the new identity too.
	if !u.User.isOperator() {
		if ban := u.Heron.Bans.findMatching(u.User); ban != nil {
			u.quit(fmt.Sprintf("Banned: %s", ban.Reason), true)
		}
	}
}

// authenticateCommand shadows the pre-registration handler. We don't
// support reauthentication.
func (u *LocalUser) authenticateCommand(m Message) {
	if len(u.User.Account) > 0 || len(u.SASLAccount) > 0 {
		// 907 ERR_SASLALREADY
		u.messageFromServer("907",
			[]string{"You have already authenticated using SASL"})
		return
	}
	// 904 ERR_SASLFAIL
	u.messageFromServer("904", []string{"SASL authentication failed"})
}

func (u *LocalUser) awayCommand(m Message) {
	if len(m.Params) == 0 || len(m.Params[0]) == 0 {
		u.User.AwayMessage = ""
		// 305 RPL_UNAWAY
		u.messageFromServer("305", []string{"You are no longer marked as being away"})
	} else {
		msg := m.Params[0]
		if len(msg) > maxAwayLength {
			msg = msg[:maxAwayLength]
		}
		u.User.AwayMessage = msg
		// 306 RPL_NOWAWAY
		u.messageFromServer("306", []string{"You have been marked as being away"})
	}

	awayParams := []string{}
	if u.User.isAway() {
		awayParams = append(awayParams, u.User.AwayMessage)
	}

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "AWAY",
		Params:  awayParams,
	})

	// away-notify holders sharing a channel hear about the change.
	notify := Message{
		Prefix:  u.User.nickUhost(),
		Command: "AWAY",
		Params:  awayParams,
	}
	told := map[TS6UID]struct{}{u.User.UID: {}}
	for _, channel := range u.User.Channels {
		for memberUID := range channel.Members {
			if _, ok := told[memberUID]; ok {
				continue
			}
			told[memberUID] = struct{}{}
			member := u.Heron.Users[memberUID]
			if member == nil || !member.isLocal() {
				continue
			}
			if !member.LocalUser.Caps.has("away-notify") {
				continue
			}
			member.LocalUser.maybeQueueMessage(notify)
		}
	}
}

func (u *LocalUser) setnameCommand(m Message) {
	realName := m.Params[0]
	if !isValidRealName(realName) {
		u.standardReply("FAIL", "SETNAME", "INVALID_REALNAME",
			"Real name is not valid")
		return
	}

	u.User.RealName = realName

	notify := Message{
		Prefix:  u.User.nickUhost(),
		Command: "SETNAME",
		Params:  []string{realName},
	}

	// The sender sees it too, if they have the cap.
	if u.Caps.has("setname") {
		u.maybeQueueMessage(notify)
	}

	told := map[TS6UID]struct{}{u.User.UID: {}}
	for _, channel := range u.User.Channels {
		for memberUID := range channel.Members {
			if _, ok := told[memberUID]; ok {
				continue
			}
			told[memberUID] = struct{}{}
			member := u.Heron.Users[memberUID]
			if member == nil || !member.isLocal() {
				continue
			}
			if !member.LocalUser.Caps.has("setname") {
				continue
			}
			member.LocalUser.maybeQueueMessage(notify)
		}
	}

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "ENCAP",
		Params:  []string{"*", "SETNAME", realName},
	})
}

func (u *LocalUser) acceptCommand(m Message) {
	if m.Params[0] == "*" {
		for nick := range u.User.AcceptList {
			// 281 RPL_ACCEPTLIST
			u.messageFromServer("281", []string{nick})
		}
		// 282 RPL_ENDOFACCEPT
		u.messageFromServer("282", []string{"End of /ACCEPT list"})
		return
	}

	for _, item := range strings.Split(m.Params[0], ",") {
		if strings.HasPrefix(item, "-") {
			nick := canonicalizeNick(item[1:])
			if _, exists := u.User.AcceptList[nick]; !exists {
				// 458 ERR_ACCEPTNOT
				u.messageFromServer("458", []string{item[1:], "*",
					"is not on your accept list"})
				continue
			}
			delete(u.User.AcceptList, nick)
			continue
		}

		nick := canonicalizeNick(item)
		if _, exists := u.User.AcceptList[nick]; exists {
			// 457 ERR_ACCEPTEXIST
			u.messageFromServer("457", []string{item, "*",
				"is already on your accept list"})
			continue
		}
		u.User.AcceptList[nick] = struct{}{}
	}
}

func (u *LocalUser) pingCommand(m Message) {
	u.maybeQueueMessage(Message{
		Prefix:  u.Heron.Config.ServerName,
		Command: "PONG",
		Params:  []string{u.Heron.Config.ServerName, m.Params[0]},
	})
}

func (u *LocalUser) pongCommand(m Message) {
	// Activity time already updated. Nothing more to do.
}

func (u *LocalUser) quitCommand(m Message) {
	msg := "Client quit"
	if len(m.Params) > 0 {
		msg = fmt.Sprintf("Quit: %s", m.Params[0])
	}
	u.quit(msg, true)
}

func (u *LocalUser) motdCmd(m Message) {
	u.motdCommand()
}

func (u *LocalUser) motdCommand() {
	// 375 RPL_MOTDSTART
	u.messageFromServer("375", []string{
		fmt.Sprintf("- %s Message of the day - ", u.Heron.Config.ServerName),
	})
	// 372 RPL_MOTD
	u.messageFromServer("372", []string{
		fmt.Sprintf("- %s", u.Heron.Config.MOTD),
	})
	// 376 RPL_ENDOFMOTD
	u.messageFromServer("376", []string{"End of MOTD command"})
}

func (u *LocalUser) lusersCmd(m Message) {
	u.lusersCommand()
}

func (u *LocalUser) lusersCommand() {
	h := u.Heron

	// 251 RPL_LUSERCLIENT
	u.messageFromServer("251", []string{
		fmt.Sprintf("There are %d users and %d services on %d servers.",
			h.userCount(), h.serviceCount(), len(h.Servers)),
	})

	// 252 RPL_LUSEROP
	u.messageFromServer("252", []string{
		fmt.Sprintf("%d", h.operCount()),
		"operator(s) online",
	})

	// 253 RPL_LUSERUNKNOWN
	u.messageFromServer("253", []string{
		fmt.Sprintf("%d", len(h.LocalClients)),
		"unknown connection(s)",
	})

	// 254 RPL_LUSERCHANNELS
	u.messageFromServer("254", []string{
		fmt.Sprintf("%d", len(h.Channels)),
		"channels formed",
	})

	// 255 RPL_LUSERME
	u.messageFromServer("255", []string{
		fmt.Sprintf("I have %d clients and %d servers",
			len(h.LocalUsers), len(h.LocalServers)),
	})
}

func (u *LocalUser) versionCommand(m Message) {
	// 351 RPL_VERSION
	u.messageFromServer("351", []string{
		u.Heron.Config.Version,
		u.Heron.Config.ServerName,
		"IRC server",
	})
}

func (u *LocalUser) timeCommand(m Message) {
	// 391 RPL_TIME
	u.messageFromServer("391", []string{
		u.Heron.Config.ServerName,
		time.Now().Format(time.RFC1123),
	})
}

func (u *LocalUser) adminCommand(m Message) {
	cfg := u.Heron.Config

	// 256 RPL_ADMINME
	u.messageFromServer("256", []string{cfg.ServerName,
		"Administrative info"})
	// 257 RPL_ADMINLOC1
	u.messageFromServer("257", []string{cfg.ServerInfo})
	// 258 RPL_ADMINLOC2
	u.messageFromServer("258", []string{cfg.NetworkName})
	// 259 RPL_ADMINEMAIL
	u.messageFromServer("259", []string{cfg.AdminEmail})
}

func (u *LocalUser) infoCommand(m Message) {
	cfg := u.Heron.Config

	// 371 RPL_INFO
	u.messageFromServer("371", []string{
		fmt.Sprintf("%s (%s)", cfg.ServerName, cfg.Version)})
	u.messageFromServer("371", []string{
		fmt.Sprintf("Up since %s",
			u.Heron.StartTime.Format(time.RFC1123))})
	// 374 RPL_ENDOFINFO
	u.messageFromServer("374", []string{"End of INFO list"})
}
