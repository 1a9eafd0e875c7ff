package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LocalServer means the client registered as a server. This holds its info.
type LocalServer struct {
	*LocalClient

	Server *Server

	Capabs map[string]struct{}

	// The last time we heard anything from it.
	LastActivityTime time.Time

	// The last time we sent it a PING.
	LastPingTime time.Time

	// Flags to know about our bursting state.
	GotPING  bool
	GotPONG  bool
	Bursting bool
}

// NewLocalServer upgrades a LocalClient to a LocalServer.
func NewLocalServer(c *LocalClient) *LocalServer {
	now := time.Now()

	s := &LocalServer{
		LocalClient:      c,
		Capabs:           c.PreRegCapabs,
		LastActivityTime: now,
		LastPingTime:     now,
		GotPING:          false,
		GotPONG:          false,
		Bursting:         true,
	}

	return s
}

func (s *LocalServer) String() string {
	return s.Server.String()
}

func (s *LocalServer) messageFromServer(command string, params []string) {
	// For numeric messages, we need to prepend the target.
	if isNumericCommand(command) {
		newParams := []string{string(s.Server.SID)}
		newParams = append(newParams, params...)
		params = newParams
	}

	s.maybeQueueMessage(Message{
		Prefix:  string(s.Heron.Config.TS6SID),
		Command: command,
		Params:  params,
	})
}

func (s *LocalServer) quit(msg string) {
	// May already be cleaning up.
	_, exists := s.Heron.LocalServers[s.ID]
	if !exists {
		return
	}

	s.messageFromServer("ERROR", []string{msg})

	close(s.WriteChan)

	delete(s.Heron.LocalServers, s.ID)
	delete(s.Heron.Servers, s.Server.SID)

	// Forget every server on the far side of this link.
	for sid, server := range s.Heron.Servers {
		if server.ClosestServer == s {
			delete(s.Heron.Servers, sid)
		}
	}

	// All users on the other side must be forgotten. The netsplit quit
	// message is the two servers that lost each other.
	splitMsg := fmt.Sprintf("%s %s", s.Heron.Config.ServerName,
		s.Server.Name)

	for _, user := range s.Heron.Users {
		if user.isLocal() {
			continue
		}
		if user.ClosestServer != s {
			continue
		}
		s.Heron.cleanupUser(user, splitMsg)
	}

	// Inform other servers that we are connected to. QS means they clean
	// up users behind the lost server themselves.
	for _, server := range s.Heron.LocalServers {
		server.maybeQueueMessage(Message{
			Prefix:  string(s.Heron.Config.TS6SID),
			Command: "SQUIT",
			Params:  []string{string(s.Server.SID), msg},
		})
	}

	s.Heron.noticeOpers(fmt.Sprintf("Lost link to %s: %s", s.Server.Name,
		msg))
	s.Heron.Notifier.publish(ServerEvent{
		Kind:    EventServerDelinked,
		Message: s.Server.Name,
	})
}

// cleanupUser forgets a user and tells local clients who shared a
// channel with them. For remote quits, kills, and netsplits.
func (h *Heron) cleanupUser(user *User, quitMsg string) {
	quitMessage := Message{
		Prefix:  user.nickUhost(),
		Command: "QUIT",
		Params:  []string{quitMsg},
	}

	informed := make(map[TS6UID]struct{})
	informed[user.UID] = struct{}{}

	for _, channel := range user.Channels {
		for memberUID := range channel.Members {
			if _, exists := informed[memberUID]; exists {
				continue
			}
			informed[memberUID] = struct{}{}

			member := h.Users[memberUID]
			if member == nil || !member.isLocal() {
				continue
			}
			member.LocalUser.maybeQueueMessage(quitMessage)
		}

		channel.removeUser(user)
		if len(channel.Members) == 0 {
			delete(h.Channels, channel.Name)
		}
	}

	serverName := h.Config.ServerName
	if user.Server != nil {
		serverName = user.Server.Name
	}
	h.Whowas.recordUser(user, serverName)
	h.notifyMonitorOffline(user.DisplayNick)

	delete(h.Opers, user.UID)
	delete(h.Nicks, canonicalizeNick(user.DisplayNick))
	delete(h.Users, user.UID)
}

// Send the burst. This tells the server about the state of the world as we see
// it.
// We send our burst after seeing SVINFO. This means we have not yet processed
// any SID, EUID, or SJOIN messages from the other side.
func (s *LocalServer) sendBurst() {
	h := s.Heron

	// Send all our connected servers with SID commands.
	// Parameters: <server name> <hop count> <SID> <description>
	// e.g.: :8ZZ SID irc3.example.com 2 9ZQ :My Desc
	for _, server := range h.Servers {
		if server == h.me() || server.LocalServer == s {
			continue
		}

		s.maybeQueueMessage(Message{
			Prefix:  string(h.Config.TS6SID),
			Command: "SID",
			Params: []string{
				server.Name,
				fmt.Sprintf("%d", server.HopCount+1),
				string(server.SID),
				server.Description,
			},
		})
	}

	// Send all our users (services included) with EUID commands.
	for _, user := range h.Users {
		s.maybeQueueMessage(euidMessage(h, user))

		if user.isAway() {
			s.maybeQueueMessage(Message{
				Prefix:  string(user.UID),
				Command: "AWAY",
				Params:  []string{user.AwayMessage},
			})
		}
	}

	// Send channels and the users in them with SJOIN commands, member
	// prefixes included. Topics follow as TB.
	for _, channel := range h.Channels {
		var uids []string
		for uid, member := range channel.Members {
			uids = append(uids, member.Modes.sigils()+string(uid))
		}

		s.maybeQueueMessage(Message{
			Prefix:  string(h.Config.TS6SID),
			Command: "SJOIN",
			Params: []string{
				fmt.Sprintf("%d", channel.TS),
				channel.Name,
				channel.modesString(true),
				strings.Join(uids, " "),
			},
		})

		if len(channel.Topic) > 0 {
			s.maybeQueueMessage(Message{
				Prefix:  string(h.Config.TS6SID),
				Command: "TB",
				Params: []string{
					channel.Name,
					fmt.Sprintf("%d", channel.TopicTS),
					channel.TopicSetter,
					channel.Topic,
				},
			})
		}
	}
}

func (s *LocalServer) handleMessage(m Message) {
	// Record that the server said something to us just now.
	s.LastActivityTime = time.Now()

	switch m.Command {
	case "PING":
		s.pingCommand(m)
	case "PONG":
		s.pongCommand(m)
	case "ERROR":
		s.quit("Bye")

	case "SID":
		s.sidCommand(m)
	case "EUID":
		s.euidCommand(m)
	case "UID":
		s.uidCommand(m)
	case "SQUIT":
		s.squitCommand(m)

	case "SJOIN":
		s.sjoinCommand(m)
	case "JOIN":
		s.joinCommand(m)
	case "PART":
		s.partCommand(m)
	case "KICK":
		s.kickCommand(m)
	case "TMODE":
		s.tmodeCommand(m)
	case "TOPIC":
		s.topicCommand(m)
	case "TB":
		s.tbCommand(m)
	case "INVITE":
		s.inviteCommand(m)

	case "NICK":
		s.nickCommand(m)
	case "MODE":
		s.modeCommand(m)
	case "AWAY":
		s.awayCommand(m)
	case "QUIT":
		s.quitCommand(m)
	case "KILL":
		s.killCommand(m)

	case "PRIVMSG", "NOTICE", "TAGMSG":
		s.privmsgCommand(m)
	case "WALLOPS":
		s.wallopsCommand(m)

	case "ENCAP":
		s.encapCommand(m)

	default:
		// 421 ERR_UNKNOWNCOMMAND
		s.messageFromServer("421", []string{m.Command, "Unknown command"})
	}
}

func (s *LocalServer) pingCommand(m Message) {
	// We expect a PING from server as part of burst end.
	// PING <Remote SID>
	if len(m.Params) < 1 {
		// 461 ERR_NEEDMOREPARAMS
		s.messageFromServer("461", []string{"PING", "Not enough parameters"})
		return
	}

	// Allow multiple pings.

	if len(m.Prefix) == 0 {
		m.Prefix = string(s.Server.SID)
	}

	sid := TS6SID(m.Prefix)

	// Do we know the server pinging us?
	if _, exists := s.Heron.Servers[sid]; !exists {
		// 402 ERR_NOSUCHSERVER
		s.messageFromServer("402", []string{string(sid), "No such server"})
		return
	}

	// Reply.
	s.maybeQueueMessage(Message{
		Prefix:  string(s.Heron.Config.TS6SID),
		Command: "PONG",
		Params:  []string{s.Heron.Config.ServerName, string(sid)},
	})

	// If we're bursting, is it over?
	if s.Bursting && sid == s.Server.SID {
		s.GotPING = true

		if s.GotPONG {
			s.Heron.noticeOpers(fmt.Sprintf("Burst with %s over.",
				s.Server.Name))
			s.Bursting = false
		}
	}
}

func (s *LocalServer) pongCommand(m Message) {
	// We expect this at end of server link burst.
	// :<Remote SID> PONG <Remote server name> <My SID>
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"PONG", "Not enough parameters"})
		return
	}

	if TS6SID(m.Prefix) != s.Server.SID {
		s.quit("Unknown prefix")
		return
	}

	if m.Params[1] != string(s.Heron.Config.TS6SID) {
		s.quit("Unknown SID")
		return
	}

	// No reply.

	s.GotPONG = true

	if s.Bursting && s.GotPING {
		s.Heron.noticeOpers(fmt.Sprintf("Burst with %s over.",
			s.Server.Name))
		s.Bursting = false
	}
}

// SID tells us about a new server somewhere behind this link.
func (s *LocalServer) sidCommand(m Message) {
	// Parameters: <server name> <hop count> <SID> <description>
	// e.g.: :8ZZ SID irc3.example.com 2 9ZQ :My Desc

	if !isValidSID(m.Prefix) {
		s.quit("Invalid origin")
		return
	}
	originSID := TS6SID(m.Prefix)

	origin, exists := s.Heron.Servers[originSID]
	if !exists {
		s.quit("Unknown origin")
		return
	}

	if len(m.Params) < 4 {
		s.messageFromServer("461", []string{"SID", "Not enough parameters"})
		return
	}

	name := m.Params[0]

	// Juped servers don't get introduced to the network through us.
	if ban := s.Heron.Bans.isJuped(name); ban != nil {
		s.quit(fmt.Sprintf("Juped server %s: %s", name, ban.Reason))
		return
	}

	hopCount, err := strconv.ParseInt(m.Params[1], 10, 8)
	if err != nil {
		s.quit(fmt.Sprintf("Invalid hop count: %s", err))
		return
	}

	if !isValidSID(m.Params[2]) {
		s.quit("Invalid SID")
		return
	}
	sid := TS6SID(m.Params[2])

	newServer := &Server{
		SID:           sid,
		Name:          name,
		Description:   m.Params[3],
		HopCount:      int(hopCount),
		LinkTime:      time.Now(),
		ClosestServer: s,
		LinkedTo:      origin,
	}

	s.Heron.Servers[sid] = newServer

	s.Heron.messageServersExcept(s, m)
}

// SQUIT removes a server (and everything behind it) from the network.
func (s *LocalServer) squitCommand(m Message) {
	if len(m.Params) < 1 {
		s.messageFromServer("461", []string{"SQUIT", "Not enough parameters"})
		return
	}

	reason := ""
	if len(m.Params) > 1 {
		reason = m.Params[1]
	}

	sid := TS6SID(m.Params[0])

	// SQUIT aimed at us means the peer is dropping the link.
	if sid == s.Heron.Config.TS6SID || sid == s.Server.SID {
		s.quit("SQUIT received")
		return
	}

	target, exists := s.Heron.Servers[sid]
	if !exists {
		return
	}

	// A SQUIT routed through us towards a server on another link.
	if target.ClosestServer != s {
		if target.isLocal() {
			target.LocalServer.quit(reason)
			return
		}
		target.ClosestServer.maybeQueueMessage(m)
		return
	}

	// The server, and everything behind it, goes away.
	lost := target.getLinkedServers(s.Heron.Servers)
	lost = append(lost, target)

	lostSIDs := make(map[TS6SID]struct{})
	for _, server := range lost {
		lostSIDs[server.SID] = struct{}{}
		delete(s.Heron.Servers, server.SID)
	}

	for _, user := range s.Heron.Users {
		if user.Server == nil {
			continue
		}
		if _, gone := lostSIDs[user.Server.SID]; !gone {
			continue
		}
		splitFrom := s.Server.Name
		if user.Server.LinkedTo != nil {
			splitFrom = user.Server.LinkedTo.Name
		}
		s.Heron.cleanupUser(user,
			fmt.Sprintf("%s %s", splitFrom, user.Server.Name))
	}

	s.Heron.noticeOpers(fmt.Sprintf("%s split from the network: %s",
		target.Name, reason))

	s.Heron.messageServersExcept(s, m)
}

// parseIntroducedUser handles the common parts of EUID and UID.
func (s *LocalServer) parseIntroducedUser(m Message,
	euid bool) (*User, bool) {
	if !isValidSID(m.Prefix) {
		s.quit("Invalid SID")
		return nil, false
	}
	sid := TS6SID(m.Prefix)

	origin, exists := s.Heron.Servers[sid]
	if !exists {
		s.quit("Message from unknown server")
		return nil, false
	}

	want := 9
	if euid {
		want = 11
	}
	if len(m.Params) < want {
		s.quit("Truncated user introduction")
		return nil, false
	}

	if !isValidNick(s.Heron.Config.MaxNickLength, m.Params[0]) {
		s.quit("Invalid nick")
		return nil, false
	}

	hopCount, err := strconv.ParseInt(m.Params[1], 10, 8)
	if err != nil {
		s.quit("Invalid hop count")
		return nil, false
	}

	nickTS, err := strconv.ParseInt(m.Params[2], 10, 64)
	if err != nil {
		s.quit("Invalid nick TS")
		return nil, false
	}

	umodes := make(map[byte]struct{})
	for i := 0; i < len(m.Params[3]); i++ {
		if i == 0 {
			if m.Params[3][0] != '+' {
				s.quit("Malformed umode")
				return nil, false
			}
			continue
		}
		umodes[m.Params[3][i]] = struct{}{}
	}

	if !isValidUID(m.Params[7]) {
		s.quit("Invalid UID")
		return nil, false
	}

	u := &User{
		DisplayNick:   m.Params[0],
		HopCount:      int(hopCount),
		NickTS:        nickTS,
		Modes:         umodes,
		Username:      m.Params[4],
		Hostname:      m.Params[5],
		RealHostname:  m.Params[5],
		IP:            m.Params[6],
		UID:           TS6UID(m.Params[7]),
		RealName:      m.Params[len(m.Params)-1],
		Channels:      make(map[string]*Channel),
		Server:        origin,
		ClosestServer: s,
	}

	if euid {
		// EUID carries the real host and account directly.
		u.RealHostname = m.Params[8]
		if m.Params[9] != "*" {
			u.Account = m.Params[9]
		}
	}

	return u, true
}

// EUID introduces a user, real host and account included.
//
// :<SID> EUID <nick> <hops> <nickTS> <umodes> <user> <visible host> <ip>
//   <UID> <real host> <account> :<real name>
func (s *LocalServer) euidCommand(m Message) {
	u, ok := s.parseIntroducedUser(m, true)
	if !ok {
		return
	}
	s.introduceUser(u, m)
}

// UID is the older form without real host or account.
func (s *LocalServer) uidCommand(m Message) {
	u, ok := s.parseIntroducedUser(m, false)
	if !ok {
		return
	}
	s.introduceUser(u, m)
}

// introduceUser records an incoming user, resolving any nick collision
// by TS. The younger nick dies. On a tie, both do.
func (s *LocalServer) introduceUser(u *User, m Message) {
	h := s.Heron

	existingUID, collision := h.Nicks[canonicalizeNick(u.DisplayNick)]
	if collision {
		existing := h.Users[existingUID]

		killExisting := u.NickTS <= existing.NickTS
		killIncoming := existing.NickTS <= u.NickTS

		if killExisting {
			h.killUser(existing, "Nick collision")
		}
		if killIncoming {
			// Tell the network the new user is dead too.
			h.messageAllServers(Message{
				Prefix:  string(h.Config.TS6SID),
				Command: "KILL",
				Params: []string{string(u.UID),
					fmt.Sprintf("%s (Nick collision)", h.Config.ServerName)},
			})
			return
		}
	}

	if u.isOperator() {
		h.Opers[u.UID] = u
	}
	h.Nicks[canonicalizeNick(u.DisplayNick)] = u.UID
	h.Users[u.UID] = u

	h.notifyMonitorOnline(u)

	h.messageServersExcept(s, m)
}

// killUser removes a user anywhere on the network and tells everyone.
func (h *Heron) killUser(user *User, reason string) {
	h.messageAllServers(Message{
		Prefix:  string(h.Config.TS6SID),
		Command: "KILL",
		Params: []string{string(user.UID),
			fmt.Sprintf("%s (%s)", h.Config.ServerName, reason)},
	})

	killedMsg := fmt.Sprintf("Killed (%s)", reason)
	if user.isLocal() {
		user.LocalUser.quit(killedMsg, false)
	} else {
		h.cleanupUser(user, killedMsg)
	}
}

// SJOIN occurs in two contexts:
// 1. During bursts to inform us of channels and users in the channels.
// 2. Outside bursts to inform us of channel creation.
// Channel TS resolves conflicts. The older channel wins.
func (s *LocalServer) sjoinCommand(m Message) {
	// Parameters: <channel TS> <channel name> <modes> [mode params] :<UIDs>
	// e.g., :8ZZ SJOIN 1475187553 #test2 +sn :@8ZZAAAAAB

	if _, exists := s.Heron.Servers[TS6SID(m.Prefix)]; !exists {
		s.quit("Unknown server")
		return
	}

	if len(m.Params) < 4 {
		s.messageFromServer("461", []string{"SJOIN", "Not enough parameters"})
		return
	}

	channelTS, err := strconv.ParseInt(m.Params[0], 10, 64)
	if err != nil {
		s.quit(fmt.Sprintf("Invalid channel TS: %s: %s", m.Params[0], err))
		return
	}

	chanName := canonicalizeChannel(m.Params[1])
	if !isValidChannel(chanName) {
		s.quit("Invalid channel name")
		return
	}

	channel, existed := s.Heron.Channels[chanName]
	if !existed {
		channel = newChannel(chanName, channelTS)
		s.Heron.Channels[chanName] = channel
	}

	theirsWins := channelTS < channel.TS
	oursWins := channelTS > channel.TS

	if theirsWins {
		// The older channel wins. Our modes and member privileges go.
		channel.clearModes(s.Heron)
		channel.TS = channelTS
	}

	// Apply their simple modes unless ours won.
	if !oursWins {
		changes, _ := parseChannelModes(m.Params[2 : len(m.Params)-1])
		s.Heron.applyChannelModes(channel, changes, nil)
	}

	// The user list is the final parameter.
	userList := m.Params[len(m.Params)-1]

	for _, uidRaw := range strings.Split(userList, " ") {
		if len(uidRaw) == 0 {
			continue
		}

		// Member prefixes ride along, e.g. @+8ZZAAAAAB.
		memberModes := MemberModes(0)
		for len(uidRaw) > 0 {
			mode, ok := memberModeFromSigil(uidRaw[0])
			if !ok {
				break
			}
			memberModes |= mode
			uidRaw = uidRaw[1:]
		}

		if !isValidUID(uidRaw) {
			s.quit("Invalid UID")
			return
		}

		user, exists := s.Heron.Users[TS6UID(uidRaw)]
		if !exists {
			s.quit("Unknown user")
			return
		}

		// If our TS won, their privileges don't carry over.
		if oursWins {
			memberModes = 0
		}

		if _, already := channel.Members[user.UID]; already {
			continue
		}
		channel.addMember(user, memberModes)

		// Tell our local users who are in the channel.
		s.Heron.messageLocalUsersOnChannelExcept(channel, user.UID, Message{
			Prefix:  user.nickUhost(),
			Command: "JOIN",
			Params:  []string{channel.Name},
		})

		if memberModes != 0 {
			var changes []modeChange
			for _, entry := range memberModeTable {
				if memberModes.has(entry.Mode) {
					changes = append(changes, modeChange{
						add:   true,
						mode:  entry.Letter,
						param: user.DisplayNick,
					})
				}
			}
			for _, params := range formatModeParams(channel.Name, changes) {
				s.Heron.messageLocalUsersOnChannel(channel, Message{
					Prefix:  s.Server.Name,
					Command: "MODE",
					Params:  params,
				})
			}
		}
	}

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) joinCommand(m Message) {
	// Parameters: <channel TS> <channel> +
	// Prefix is UID.

	if len(m.Params) < 3 {
		s.messageFromServer("461", []string{"JOIN", "Not enough parameters"})
		return
	}

	user, exists := s.Heron.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown UID (JOIN)")
		return
	}

	channelTS, err := strconv.ParseInt(m.Params[0], 10, 64)
	if err != nil {
		s.quit("Invalid TS (JOIN)")
		return
	}

	chanName := canonicalizeChannel(m.Params[1])

	channel, exists := s.Heron.Channels[chanName]
	if !exists {
		channel = newChannel(chanName, channelTS)
		s.Heron.Channels[chanName] = channel
	}

	// Update channel TS if needed. To oldest.
	if channelTS < channel.TS {
		channel.clearModes(s.Heron)
		channel.TS = channelTS
	}

	channel.addMember(user, 0)

	s.Heron.messageLocalUsersOnChannelExcept(channel, user.UID, Message{
		Prefix:  user.nickUhost(),
		Command: "JOIN",
		Params:  []string{channel.Name},
	})

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) partCommand(m Message) {
	if len(m.Params) < 1 {
		s.messageFromServer("461", []string{"PART", "Not enough parameters"})
		return
	}

	user, exists := s.Heron.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown UID (PART)")
		return
	}

	for _, name := range strings.Split(m.Params[0], ",") {
		channel, exists := s.Heron.Channels[canonicalizeChannel(name)]
		if !exists {
			continue
		}

		params := []string{channel.Name}
		if len(m.Params) > 1 {
			params = append(params, m.Params[1])
		}

		s.Heron.messageLocalUsersOnChannelExcept(channel, user.UID, Message{
			Prefix:  user.nickUhost(),
			Command: "PART",
			Params:  params,
		})

		channel.removeUser(user)
		if len(channel.Members) == 0 {
			delete(s.Heron.Channels, channel.Name)
		}
	}

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) kickCommand(m Message) {
	// :<UID> KICK <channel> <target UID> :<reason>
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"KICK", "Not enough parameters"})
		return
	}

	kicker, exists := s.Heron.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown UID (KICK)")
		return
	}

	channel, exists := s.Heron.Channels[canonicalizeChannel(m.Params[0])]
	if !exists {
		return
	}

	target, exists := s.Heron.Users[TS6UID(m.Params[1])]
	if !exists || !target.onChannel(channel) {
		return
	}

	reason := target.DisplayNick
	if len(m.Params) > 2 {
		reason = m.Params[2]
	}

	s.Heron.messageLocalUsersOnChannel(channel, Message{
		Prefix:  kicker.nickUhost(),
		Command: "KICK",
		Params:  []string{channel.Name, target.DisplayNick, reason},
	})

	channel.removeUser(target)
	if len(channel.Members) == 0 {
		delete(s.Heron.Channels, channel.Name)
	}

	s.Heron.messageServersExcept(s, m)
}

// TMODE changes channel modes. The TS rule rejects changes from the
// losing side of a TS conflict.
func (s *LocalServer) tmodeCommand(m Message) {
	// :<source> TMODE <channel TS> <channel> <modes> [args]
	if len(m.Params) < 3 {
		s.messageFromServer("461", []string{"TMODE", "Not enough parameters"})
		return
	}

	channelTS, err := strconv.ParseInt(m.Params[0], 10, 64)
	if err != nil {
		s.quit("Invalid TS (TMODE)")
		return
	}

	channel, exists := s.Heron.Channels[canonicalizeChannel(m.Params[1])]
	if !exists {
		return
	}

	if channelTS > channel.TS {
		return
	}

	changes, _ := parseChannelModes(m.Params[2:])

	// Member mode params arrive as UIDs. Translate for local clients.
	for i := range changes {
		if isMemberMode(changes[i].mode) {
			if target, ok := s.Heron.Users[TS6UID(changes[i].param)]; ok {
				changes[i].param = target.DisplayNick
			}
		}
	}

	applied := s.Heron.applyChannelModes(channel, changes, nil)
	if len(applied) == 0 {
		return
	}

	source := s.sourceName(m.Prefix)
	for _, params := range formatModeParams(channel.Name, applied) {
		s.Heron.messageLocalUsersOnChannel(channel, Message{
			Prefix:  source,
			Command: "MODE",
			Params:  params,
		})
	}

	s.Heron.messageServersExcept(s, m)
}

// sourceName translates a message prefix (UID or SID) into something a
// client can read.
func (s *LocalServer) sourceName(prefix string) string {
	if user, exists := s.Heron.Users[TS6UID(prefix)]; exists {
		return user.nickUhost()
	}
	if server, exists := s.Heron.Servers[TS6SID(prefix)]; exists {
		return server.Name
	}
	return s.Server.Name
}

func (s *LocalServer) topicCommand(m Message) {
	// :<UID> TOPIC <channel> :<topic>
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"TOPIC", "Not enough parameters"})
		return
	}

	user, exists := s.Heron.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown UID (TOPIC)")
		return
	}

	channel, exists := s.Heron.Channels[canonicalizeChannel(m.Params[0])]
	if !exists {
		return
	}

	channel.Topic = m.Params[1]
	channel.TopicTS = time.Now().Unix()
	channel.TopicSetter = user.nickUhost()

	s.Heron.messageLocalUsersOnChannel(channel, Message{
		Prefix:  user.nickUhost(),
		Command: "TOPIC",
		Params:  []string{channel.Name, channel.Topic},
	})

	s.Heron.messageServersExcept(s, m)
}

// TB is the topic burst. We take their topic if we have none, or theirs
// is older.
func (s *LocalServer) tbCommand(m Message) {
	// :<SID> TB <channel> <topic TS> [setter] :<topic>
	if len(m.Params) < 3 {
		s.messageFromServer("461", []string{"TB", "Not enough parameters"})
		return
	}

	channel, exists := s.Heron.Channels[canonicalizeChannel(m.Params[0])]
	if !exists {
		return
	}

	topicTS, err := strconv.ParseInt(m.Params[1], 10, 64)
	if err != nil {
		s.quit("Invalid TS (TB)")
		return
	}

	setter := s.Server.Name
	topic := m.Params[len(m.Params)-1]
	if len(m.Params) >= 4 {
		setter = m.Params[2]
	}

	if len(channel.Topic) > 0 && channel.TopicTS <= topicTS {
		return
	}

	channel.Topic = topic
	channel.TopicTS = topicTS
	channel.TopicSetter = setter

	s.Heron.messageLocalUsersOnChannel(channel, Message{
		Prefix:  s.Server.Name,
		Command: "TOPIC",
		Params:  []string{channel.Name, channel.Topic},
	})

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) inviteCommand(m Message) {
	// :<UID> INVITE <target UID> <channel> [channel TS]
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"INVITE", "Not enough parameters"})
		return
	}

	inviter, exists := s.Heron.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown UID (INVITE)")
		return
	}

	target, exists := s.Heron.Users[TS6UID(m.Params[0])]
	if !exists {
		return
	}

	channel, exists := s.Heron.Channels[canonicalizeChannel(m.Params[1])]
	if !exists {
		return
	}

	channel.Invites[target.UID] = struct{}{}

	if target.isLocal() {
		target.LocalUser.maybeQueueMessage(Message{
			Prefix:  inviter.nickUhost(),
			Command: "INVITE",
			Params:  []string{target.DisplayNick, channel.Name},
		})
	} else {
		target.ClosestServer.maybeQueueMessage(m)
	}
}

func (s *LocalServer) nickCommand(m Message) {
	// Parameters: <nick> <nick TS>

	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"NICK", "Not enough parameters"})
		return
	}

	user, exists := s.Heron.Users[TS6UID(m.Prefix)]
	if !exists {
		s.quit("Unknown user (NICK)")
		return
	}

	nick := m.Params[0]

	nickTS, err := strconv.ParseInt(m.Params[1], 10, 64)
	if err != nil {
		s.quit("Invalid TS (NICK)")
		return
	}

	// Collisions resolve by TS. The younger dies, a tie kills both.
	existingUID, collision := s.Heron.Nicks[canonicalizeNick(nick)]
	if collision && existingUID != user.UID {
		existing := s.Heron.Users[existingUID]

		if nickTS <= existing.NickTS {
			s.Heron.killUser(existing, "Nick collision")
		}
		if existing.NickTS <= nickTS {
			s.Heron.killUser(user, "Nick collision")
			return
		}
	}

	// Tell our local clients who are in a channel with this user before
	// the nick changes, so the prefix shows who they knew.
	nickMsg := Message{
		Prefix:  user.nickUhost(),
		Command: "NICK",
		Params:  []string{nick},
	}

	delete(s.Heron.Nicks, canonicalizeNick(user.DisplayNick))
	oldNick := user.DisplayNick
	user.DisplayNick = nick
	user.NickTS = nickTS
	s.Heron.Nicks[canonicalizeNick(nick)] = user.UID

	told := make(map[TS6UID]struct{})
	for _, channel := range user.Channels {
		for memberUID := range channel.Members {
			if _, exists := told[memberUID]; exists {
				continue
			}
			told[memberUID] = struct{}{}

			member := s.Heron.Users[memberUID]
			if member == nil || !member.isLocal() {
				continue
			}
			member.LocalUser.maybeQueueMessage(nickMsg)
		}
	}

	if canonicalizeNick(oldNick) != canonicalizeNick(nick) {
		s.Heron.notifyMonitorOffline(oldNick)
		s.Heron.notifyMonitorOnline(user)
	}

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) modeCommand(m Message) {
	// :<UID> MODE <UID> :<mode changes>
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"MODE", "Not enough parameters"})
		return
	}

	user, exists := s.Heron.Users[TS6UID(m.Params[0])]
	if !exists {
		return
	}

	adding := true
	for i := 0; i < len(m.Params[1]); i++ {
		mode := m.Params[1][i]
		switch mode {
		case '+':
			adding = true
		case '-':
			adding = false
		default:
			if adding {
				user.Modes[mode] = struct{}{}
				if mode == 'o' {
					s.Heron.Opers[user.UID] = user
				}
			} else {
				delete(user.Modes, mode)
				if mode == 'o' {
					delete(s.Heron.Opers, user.UID)
				}
			}
		}
	}

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) awayCommand(m Message) {
	user, exists := s.Heron.Users[TS6UID(m.Prefix)]
	if !exists {
		return
	}

	if len(m.Params) > 0 && len(m.Params[0]) > 0 {
		user.AwayMessage = m.Params[0]
	} else {
		user.AwayMessage = ""
	}

	// away-notify holders sharing a channel hear about the change.
	notify := Message{
		Prefix:  user.nickUhost(),
		Command: "AWAY",
		Params:  m.Params,
	}
	told := map[TS6UID]struct{}{user.UID: {}}
	for _, channel := range user.Channels {
		for memberUID := range channel.Members {
			if _, exists := told[memberUID]; exists {
				continue
			}
			told[memberUID] = struct{}{}
			member := s.Heron.Users[memberUID]
			if member == nil || !member.isLocal() {
				continue
			}
			if !member.LocalUser.Caps.has("away-notify") {
				continue
			}
			member.LocalUser.maybeQueueMessage(notify)
		}
	}

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) quitCommand(m Message) {
	user, exists := s.Heron.Users[TS6UID(m.Prefix)]
	if !exists {
		return
	}

	msg := "Quit"
	if len(m.Params) > 0 {
		msg = m.Params[0]
	}

	s.Heron.cleanupUser(user, msg)
	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) killCommand(m Message) {
	// :<source> KILL <target UID> :<path> (<reason>)
	if len(m.Params) < 1 {
		s.messageFromServer("461", []string{"KILL", "Not enough parameters"})
		return
	}

	target, exists := s.Heron.Users[TS6UID(m.Params[0])]
	if !exists {
		return
	}

	reason := "Killed"
	if len(m.Params) > 1 {
		reason = fmt.Sprintf("Killed (%s)", m.Params[1])
	}

	if target.isLocal() {
		target.LocalUser.quit(reason, false)
	} else {
		s.Heron.cleanupUser(target, reason)
	}

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) privmsgCommand(m Message) {
	// Parameters: <msgtarget> <text to be sent>
	if len(m.Params) == 0 {
		// 411 ERR_NORECIPIENT
		s.messageFromServer("411",
			[]string{"No recipient given (PRIVMSG)"})
		return
	}

	sourceName := s.sourceName(m.Prefix)

	// Is target a user?
	if isValidUID(m.Params[0]) {
		targetUser, exists := s.Heron.Users[TS6UID(m.Params[0])]
		if exists {
			if targetUser.IsService {
				if sourceUser, ok := s.Heron.Users[TS6UID(m.Prefix)]; ok &&
					m.Command == "PRIVMSG" && len(m.Params) > 1 {
					s.Heron.Services.handleRemoteMessage(sourceUser,
						targetUser, m.Params[1])
				}
				return
			}

			if targetUser.isLocal() {
				// Source and target were UIDs. Translate to uhost and nick
				// respectively.
				out := m
				out.Prefix = sourceName
				out.Params = append([]string{targetUser.DisplayNick},
					m.Params[1:]...)
				targetUser.LocalUser.maybeQueueMessage(out)
			} else {
				targetUser.ClosestServer.maybeQueueMessage(m)
			}
			return
		}
		// Fall through. Treat it as a channel name.
	}

	channel, exists := s.Heron.Channels[canonicalizeChannel(m.Params[0])]
	if !exists {
		s.Heron.Log.WithField("target", m.Params[0]).
			Debug("message to unknown target")
		return
	}

	out := m
	out.Prefix = sourceName
	out.Params = append([]string{channel.Name}, m.Params[1:]...)

	sourceUID := TS6UID(m.Prefix)
	for memberUID := range channel.Members {
		if memberUID == sourceUID {
			continue
		}
		member := s.Heron.Users[memberUID]
		if member == nil || !member.isLocal() {
			continue
		}
		if m.Command == "TAGMSG" &&
			!member.LocalUser.Caps.has("message-tags") {
			continue
		}
		member.LocalUser.maybeQueueMessage(out)
	}

	if m.Command != "TAGMSG" && len(m.Params) > 1 {
		if sourceUser, ok := s.Heron.Users[sourceUID]; ok {
			s.Heron.recordMessage(m, sourceUser.nickUhost(),
				sourceUser.Account, channel.Name)
		}
	}

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) wallopsCommand(m Message) {
	if len(m.Params) < 1 {
		s.messageFromServer("461", []string{"WALLOPS", "Not enough parameters"})
		return
	}

	sourceName := s.sourceName(m.Prefix)

	for _, user := range s.Heron.Users {
		if !user.isLocal() {
			continue
		}
		_, wallops := user.Modes['w']
		if !wallops && !user.isOperator() {
			continue
		}
		user.LocalUser.maybeQueueMessage(Message{
			Prefix:  sourceName,
			Command: "WALLOPS",
			Params:  m.Params,
		})
	}

	s.Heron.messageServersExcept(s, m)
}

// ENCAP carries subcommands addressed to servers matching a mask.
// :<source> ENCAP <target mask> <subcommand> <params>
func (s *LocalServer) encapCommand(m Message) {
	if len(m.Params) < 2 {
		s.messageFromServer("461", []string{"ENCAP", "Not enough parameters"})
		return
	}

	if matchMask(m.Params[0], s.Heron.Config.ServerName) {
		s.handleEncap(m)
	}

	s.Heron.messageServersExcept(s, m)
}

func (s *LocalServer) handleEncap(m Message) {
	subcommand := strings.ToUpper(m.Params[1])
	args := m.Params[2:]

	switch subcommand {
	case "AKILL":
		// AKILL <user mask> <host mask> <duration seconds> :<reason>
		if len(args) < 4 {
			return
		}
		var expireAt time.Time
		if secs, err := strconv.Atoi(args[2]); err == nil && secs > 0 {
			expireAt = time.Now().Add(time.Duration(secs) * time.Second)
		}
		ban := ServerBan{
			Kind:     BanGline,
			UserMask: args[0],
			HostMask: args[1],
			Reason:   args[3],
			Setter:   s.sourceName(m.Prefix),
			SetAt:    time.Now(),
			ExpireAt: expireAt,
		}
		if err := s.Heron.Bans.addBan(ban); err != nil {
			s.Heron.Log.WithError(err).Warn("unable to add network ban")
			return
		}
		s.Heron.noticeLocalOpers(fmt.Sprintf(
			"Network ban for %s added by %s: %s", ban.mask(), ban.Setter,
			ban.Reason))
		s.Heron.disconnectBanned()

	case "UNAKILL":
		// UNAKILL <user mask> <host mask>
		if len(args) < 2 {
			return
		}
		if err := s.Heron.Bans.removeBan(BanGline, args[0],
			args[1]); err != nil {
			s.Heron.Log.WithError(err).Warn("unable to remove network ban")
			return
		}
		s.Heron.noticeLocalOpers(fmt.Sprintf(
			"Network ban for %s@%s removed by %s", args[0], args[1],
			s.sourceName(m.Prefix)))

	case "JUPE":
		// JUPE <server mask> <duration seconds> :<reason>
		if len(args) < 3 {
			return
		}
		var expireAt time.Time
		if secs, err := strconv.Atoi(args[1]); err == nil && secs > 0 {
			expireAt = time.Now().Add(time.Duration(secs) * time.Second)
		}
		ban := ServerBan{
			Kind:     BanJupe,
			UserMask: "*",
			HostMask: args[0],
			Reason:   args[2],
			Setter:   s.sourceName(m.Prefix),
			SetAt:    time.Now(),
			ExpireAt: expireAt,
		}
		if err := s.Heron.Bans.addBan(ban); err != nil {
			s.Heron.Log.WithError(err).Warn("unable to add jupe")
			return
		}
		s.Heron.noticeLocalOpers(fmt.Sprintf("Jupe for %s added by %s: %s",
			args[0], ban.Setter, ban.Reason))

	case "UNJUPE":
		if len(args) < 1 {
			return
		}
		if err := s.Heron.Bans.removeBan(BanJupe, "*", args[0]); err != nil {
			s.Heron.Log.WithError(err).Warn("unable to remove jupe")
			return
		}
		s.Heron.noticeLocalOpers(fmt.Sprintf("Jupe for %s removed by %s",
			args[0], s.sourceName(m.Prefix)))

	case "SETNAME":
		if len(args) < 1 {
			return
		}
		user, exists := s.Heron.Users[TS6UID(m.Prefix)]
		if !exists {
			return
		}
		user.RealName = args[0]

	case "CHGHOST":
		if len(args) < 1 {
			return
		}
		user, exists := s.Heron.Users[TS6UID(m.Prefix)]
		if !exists {
			return
		}
		user.Hostname = args[0]

	case "SU":
		// Account login/logout, from services.
		// SU <UID> [account]
		if len(args) < 1 {
			return
		}
		user, exists := s.Heron.Users[TS6UID(args[0])]
		if !exists {
			return
		}
		account := ""
		if len(args) > 1 {
			account = args[1]
		}
		s.Heron.setAccount(user, account)
	}
}

// setAccount updates a user's account and sends account-notify to local
// users sharing a channel.
func (h *Heron) setAccount(user *User, account string) {
	user.Account = account

	notifyAccount := account
	if len(notifyAccount) == 0 {
		notifyAccount = "*"
	}
	notify := Message{
		Prefix:  user.nickUhost(),
		Command: "ACCOUNT",
		Params:  []string{notifyAccount},
	}

	if user.isLocal() && user.LocalUser.Caps.has("account-notify") {
		user.LocalUser.maybeQueueMessage(notify)
	}

	told := map[TS6UID]struct{}{user.UID: {}}
	for _, channel := range user.Channels {
		for memberUID := range channel.Members {
			if _, exists := told[memberUID]; exists {
				continue
			}
			told[memberUID] = struct{}{}
			member := h.Users[memberUID]
			if member == nil || !member.isLocal() {
				continue
			}
			if !member.LocalUser.Caps.has("account-notify") {
				continue
			}
			member.LocalUser.maybeQueueMessage(notify)
		}
	}
}
