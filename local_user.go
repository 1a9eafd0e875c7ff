package main

import (
	"fmt"
	"time"
)

// LocalUser holds information relevant only to a regular user (non-server)
// client.
type LocalUser struct {
	*LocalClient

	User *User

	// The last time we heard anything from the client.
	LastActivityTime time.Time

	// The last time we sent the client a PING.
	LastPingTime time.Time

	// The last time the client sent a PRIVMSG/NOTICE. We use this to decide
	// idle time.
	LastMessageTime time.Time
}

// NewLocalUser makes a LocalUser from a LocalClient.
func NewLocalUser(c *LocalClient) *LocalUser {
	now := time.Now()

	u := &LocalUser{
		LocalClient:      c,
		LastActivityTime: now,
		LastPingTime:     now,
		LastMessageTime:  now,
	}

	return u
}

func (u *LocalUser) String() string {
	return fmt.Sprintf("%s %s", u.User.String(), u.Conn.RemoteAddr())
}

// Message from this local user to another user, remote or local.
func (u *LocalUser) messageUser(to *User, command string, params []string) {
	if to.isLocal() {
		to.LocalUser.maybeQueueMessage(Message{
			Prefix:  u.User.nickUhost(),
			Command: command,
			Params:  params,
		})
		return
	}

	to.ClosestServer.maybeQueueMessage(Message{
		Prefix:  string(u.User.UID),
		Command: command,
		Params:  params,
	})
}

func (u *LocalUser) serverNotice(s string) {
	u.messageFromServer("NOTICE", []string{
		u.User.DisplayNick,
		fmt.Sprintf("*** Notice --- %s", s),
	})
}

// Send an IRC message to a client. Appears to be from the server.
// This works by writing to a client's channel.
//
// Note: Only the server goroutine should call this (due to channel use).
func (u *LocalUser) messageFromServer(command string, params []string) {
	// For numeric messages, we need to prepend the nick.
	if isNumericCommand(command) {
		newParams := []string{u.User.DisplayNick}
		newParams = append(newParams, params...)
		params = newParams
	}

	u.maybeQueueMessage(Message{
		Prefix:  u.Heron.Config.ServerName,
		Command: command,
		Params:  params,
	})
}

// handleMessage takes a message from the client and dispatches it.
func (u *LocalUser) handleMessage(m Message) {
	u.LastActivityTime = time.Now()

	// Clients SHOULD NOT (section 2.3) send a prefix. Ignore it if they do.
	m.Prefix = ""

	if u.Heron.Config.FloodProtection && !u.User.isOperator() {
		if !u.Limiter.Allow() {
			u.quit("Excess flood", true)
			return
		}
	}

	cmd, exists := userCommands[m.Command]
	if !exists {
		// 421 ERR_UNKNOWNCOMMAND
		u.messageFromServer("421", []string{m.Command, "Unknown command"})
		return
	}

	// The oper gate comes before the parameter check.
	if cmd.operOnly && !u.User.isOperator() {
		// 481 ERR_NOPRIVILEGES
		u.messageFromServer("481",
			[]string{"Permission Denied- You're not an IRC operator"})
		return
	}

	if len(m.Params) < cmd.minParams {
		// 461 ERR_NEEDMOREPARAMS
		u.messageFromServer("461", []string{m.Command, "Not enough parameters"})
		return
	}

	cmd.handler(u, m)
}

// quit means the user is quitting. Tell them why and clean up.
//
// propagate says whether to tell linked servers. We don't when the
// quit came from the network in the first place.
func (u *LocalUser) quit(msg string, propagate bool) {
	// May already be cleaning up.
	_, exists := u.Heron.LocalUsers[u.ID]
	if !exists {
		return
	}

	quitMsg := Message{
		Prefix:  u.User.nickUhost(),
		Command: "QUIT",
		Params:  []string{msg},
	}

	// Tell each local user who shares a channel with them. Each only once,
	// no matter how many channels they share.
	told := make(map[TS6UID]struct{})
	told[u.User.UID] = struct{}{}

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
			member.LocalUser.maybeQueueMessage(quitMsg)
		}

		channel.removeUser(u.User)
		if len(channel.Members) == 0 {
			delete(u.Heron.Channels, channel.Name)
		}
	}

	if propagate {
		for _, server := range u.Heron.LocalServers {
			server.maybeQueueMessage(Message{
				Prefix:  string(u.User.UID),
				Command: "QUIT",
				Params:  []string{msg},
			})
		}
	}

	u.messageFromServer("ERROR", []string{msg})
	close(u.WriteChan)

	u.Heron.Whowas.recordUser(u.User, u.Heron.Config.ServerName)
	u.Heron.Monitor.clear(u)
	u.Heron.notifyMonitorOffline(u.User.DisplayNick)

	delete(u.Heron.Opers, u.User.UID)
	delete(u.Heron.Nicks, canonicalizeNick(u.User.DisplayNick))
	delete(u.Heron.Users, u.User.UID)
	delete(u.Heron.LocalUsers, u.ID)

	u.Heron.Notifier.publish(ServerEvent{
		Kind:    EventUserQuit,
		Message: u.User.nickUhost(),
	})
}

// sendISupport tells the client what we support. 005 RPL_ISUPPORT.
func (u *LocalUser) sendISupport() {
	cfg := u.Heron.Config

	tokens := []string{
		"CASEMAPPING=ascii",
		"CHANTYPES=#&",
		fmt.Sprintf("CHANNELLEN=%d", maxChannelLength),
		fmt.Sprintf("NICKLEN=%d", cfg.MaxNickLength),
		fmt.Sprintf("TOPICLEN=%d", maxTopicLength),
		fmt.Sprintf("AWAYLEN=%d", maxAwayLength),
		"PREFIX=(qaohv)~&@%+",
		"CHANMODES=beI,k,l,imnpstCcRS",
		fmt.Sprintf("MODES=%d", ChanModesPerCommand),
		fmt.Sprintf("MONITOR=%d", maxMonitorTargets),
		fmt.Sprintf("NETWORK=%s", cfg.NetworkName),
		fmt.Sprintf("CHANLIMIT=#&:%d", cfg.MaxChannelsPerUser),
		fmt.Sprintf("MAXCHANNELS=%d", cfg.MaxChannelsPerUser),
	}

	// At most 13 tokens per line, leaving room for the trailing text.
	for len(tokens) > 0 {
		n := len(tokens)
		if n > 13 {
			n = 13
		}
		params := make([]string, 0, n+1)
		params = append(params, tokens[:n]...)
		params = append(params, "are supported by this server")
		u.messageFromServer("005", params)
		tokens = tokens[n:]
	}
}
