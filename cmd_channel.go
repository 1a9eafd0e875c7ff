package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (u *LocalUser) joinCommand(m Message) {
	// JOIN 0 parts all channels.
	if m.Params[0] == "0" {
		for _, channel := range u.User.Channels {
			u.partChannel(channel, "")
		}
		return
	}

	names := strings.Split(m.Params[0], ",")

	var keys []string
	if len(m.Params) > 1 {
		keys = strings.Split(m.Params[1], ",")
	}

	for i, name := range names {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		u.joinChannel(name, key)
	}
}

func (u *LocalUser) joinChannel(name, key string) {
	if !isValidChannel(name) {
		// 403 ERR_NOSUCHCHANNEL
		u.messageFromServer("403", []string{name, "Invalid channel name"})
		return
	}
	name = canonicalizeChannel(name)

	// Already on it? Ignore.
	if _, exists := u.User.Channels[name]; exists {
		return
	}

	if len(u.User.Channels) >= u.Heron.Config.MaxChannelsPerUser {
		// 405 ERR_TOOMANYCHANNELS
		u.messageFromServer("405",
			[]string{name, "You have joined too many channels"})
		return
	}

	channel, exists := u.Heron.Channels[name]
	if !exists {
		if !u.Heron.Config.AllowChannelCreation && !u.User.isOperator() {
			u.messageFromServer("403",
				[]string{name, "Channel creation is disabled"})
			return
		}

		channel = newChannel(name, time.Now().Unix())
		channel.Modes['n'] = struct{}{}
		channel.Modes['t'] = struct{}{}
		u.Heron.Channels[name] = channel
	}

	memberModes := MemberModes(0)
	if !exists {
		// Creator gets ops.
		memberModes = MemberOp
	}

	if exists {
		_, invited := channel.Invites[u.User.UID]

		if channel.hasMode('i') && !invited &&
			!userMatchesList(channel.InviteExempts, u.User) {
			// 473 ERR_INVITEONLYCHAN
			u.messageFromServer("473",
				[]string{channel.Name, "Cannot join channel (+i)"})
			return
		}

		if len(channel.Key) > 0 && key != channel.Key {
			// 475 ERR_BADCHANNELKEY
			u.messageFromServer("475",
				[]string{channel.Name, "Cannot join channel (+k)"})
			return
		}

		if !invited && userMatchesList(channel.Bans, u.User) &&
			!userMatchesList(channel.Excepts, u.User) {
			// 474 ERR_BANNEDFROMCHAN
			u.messageFromServer("474",
				[]string{channel.Name, "Cannot join channel (+b)"})
			return
		}

		if channel.Limit > 0 && len(channel.Members) >= channel.Limit {
			// 471 ERR_CHANNELISFULL
			u.messageFromServer("471",
				[]string{channel.Name, "Cannot join channel (+l)"})
			return
		}

		if channel.hasMode('R') && len(u.User.Account) == 0 {
			// 477 ERR_NEEDREGGEDNICK
			u.messageFromServer("477",
				[]string{channel.Name, "Cannot join channel (+R)"})
			return
		}
	}

	delete(channel.Invites, u.User.UID)
	channel.addMember(u.User, memberModes)

	// Tell local members. Those with extended-join learn the account and
	// real name too.
	joinMsg := Message{
		Prefix:  u.User.nickUhost(),
		Command: "JOIN",
		Params:  []string{channel.Name},
	}
	account := u.User.Account
	if len(account) == 0 {
		account = "*"
	}
	extJoinMsg := Message{
		Prefix:  u.User.nickUhost(),
		Command: "JOIN",
		Params:  []string{channel.Name, account, u.User.RealName},
	}

	for memberUID := range channel.Members {
		member := u.Heron.Users[memberUID]
		if member == nil || !member.isLocal() {
			continue
		}
		if member.LocalUser.Caps.has("extended-join") {
			member.LocalUser.maybeQueueMessage(extJoinMsg)
		} else {
			member.LocalUser.maybeQueueMessage(joinMsg)
		}
	}

	// If they're away, members with away-notify hear about it now.
	if u.User.isAway() {
		u.Heron.messageLocalUsersOnChannelWithCap(channel, "away-notify",
			u.User.UID, Message{
				Prefix:  u.User.nickUhost(),
				Command: "AWAY",
				Params:  []string{u.User.AwayMessage},
			})
	}

	if !exists {
		u.messageFromServer("MODE",
			[]string{channel.Name, channel.modesString(true)})
	}

	u.sendTopicNumerics(channel)
	u.sendNames(channel)

	// Tell servers. A fresh channel goes out as SJOIN so modes and the
	// creator's ops ride along. An existing one is a plain TS6 JOIN.
	if !exists {
		u.Heron.messageAllServers(Message{
			Prefix:  string(u.Heron.Config.TS6SID),
			Command: "SJOIN",
			Params: []string{
				fmt.Sprintf("%d", channel.TS),
				channel.Name,
				channel.modesString(true),
				"@" + string(u.User.UID),
			},
		})
	} else {
		u.Heron.messageAllServers(Message{
			Prefix:  string(u.User.UID),
			Command: "JOIN",
			Params: []string{
				fmt.Sprintf("%d", channel.TS),
				channel.Name,
				"+",
			},
		})
	}

	// A registered channel may want its bot around, and its founder gets
	// ops back.
	u.Heron.Services.channelJoined(channel, u.User)
}

func (u *LocalUser) partCommand(m Message) {
	msg := ""
	if len(m.Params) > 1 {
		msg = m.Params[1]
	}

	for _, name := range strings.Split(m.Params[0], ",") {
		name = canonicalizeChannel(name)
		channel, exists := u.User.Channels[name]
		if !exists {
			// 442 ERR_NOTONCHANNEL
			u.messageFromServer("442",
				[]string{name, "You're not on that channel"})
			continue
		}
		u.partChannel(channel, msg)
	}
}

// partChannel removes the user from a channel and tells everyone who
// needs to know.
func (u *LocalUser) partChannel(channel *Channel, msg string) {
	params := []string{channel.Name}
	if len(msg) > 0 {
		params = append(params, msg)
	}

	u.Heron.messageLocalUsersOnChannel(channel, Message{
		Prefix:  u.User.nickUhost(),
		Command: "PART",
		Params:  params,
	})

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "PART",
		Params:  params,
	})

	channel.removeUser(u.User)
	if len(channel.Members) == 0 {
		delete(u.Heron.Channels, channel.Name)
	}
}

func (u *LocalUser) kickCommand(m Message) {
	// KICK <channel> <user> [comment]
	name := canonicalizeChannel(m.Params[0])

	channel, exists := u.Heron.Channels[name]
	if !exists {
		u.messageFromServer("403", []string{m.Params[0], "No such channel"})
		return
	}

	if !u.User.onChannel(channel) {
		u.messageFromServer("442",
			[]string{channel.Name, "You're not on that channel"})
		return
	}

	kicker := channel.memberModes(u.User.UID)
	if !kicker.atLeastHalfop() {
		// 482 ERR_CHANOPRIVSNEEDED
		u.messageFromServer("482",
			[]string{channel.Name, "You're not channel operator"})
		return
	}

	target := u.Heron.resolveUser(m.Params[1])
	if target == nil || !target.onChannel(channel) {
		// 441 ERR_USERNOTINCHANNEL
		u.messageFromServer("441",
			[]string{m.Params[1], channel.Name, "They aren't on that channel"})
		return
	}

	// Can't kick up the ladder.
	if channel.memberModes(target.UID) > kicker {
		u.messageFromServer("482",
			[]string{channel.Name, "You're not channel operator"})
		return
	}

	comment := u.User.DisplayNick
	if len(m.Params) > 2 {
		comment = m.Params[2]
	}

	kickMsg := Message{
		Prefix:  u.User.nickUhost(),
		Command: "KICK",
		Params:  []string{channel.Name, target.DisplayNick, comment},
	}
	u.Heron.messageLocalUsersOnChannel(channel, kickMsg)

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "KICK",
		Params:  []string{channel.Name, string(target.UID), comment},
	})

	channel.removeUser(target)
	if len(channel.Members) == 0 {
		delete(u.Heron.Channels, channel.Name)
	}
}

func (u *LocalUser) topicCommand(m Message) {
	name := canonicalizeChannel(m.Params[0])

	channel, exists := u.Heron.Channels[name]
	if !exists {
		u.messageFromServer("403", []string{m.Params[0], "No such channel"})
		return
	}

	// Query.
	if len(m.Params) == 1 {
		u.sendTopicNumerics(channel)
		return
	}

	// Set.
	if !u.User.onChannel(channel) {
		u.messageFromServer("442",
			[]string{channel.Name, "You're not on that channel"})
		return
	}

	if channel.hasMode('t') &&
		!channel.memberModes(u.User.UID).atLeastHalfop() {
		u.messageFromServer("482",
			[]string{channel.Name, "You're not channel operator"})
		return
	}

	// ChanServ topic lock.
	if !u.Heron.Services.canSetTopic(channel, u.User) {
		u.messageFromServer("482",
			[]string{channel.Name, "Topic is locked"})
		return
	}

	topic := m.Params[1]
	if len(topic) > maxTopicLength {
		topic = topic[:maxTopicLength]
	}

	channel.Topic = topic
	channel.TopicTS = time.Now().Unix()
	channel.TopicSetter = u.User.nickUhost()

	u.Heron.messageLocalUsersOnChannel(channel, Message{
		Prefix:  u.User.nickUhost(),
		Command: "TOPIC",
		Params:  []string{channel.Name, topic},
	})

	u.Heron.messageAllServers(Message{
		Prefix:  string(u.User.UID),
		Command: "TOPIC",
		Params:  []string{channel.Name, topic},
	})
}

// sendTopicNumerics sends 332/333, or 331 when no topic is set.
func (u *LocalUser) sendTopicNumerics(channel *Channel) {
	if len(channel.Topic) == 0 {
		// 331 RPL_NOTOPIC
		u.messageFromServer("331", []string{channel.Name, "No topic is set"})
		return
	}

	// 332 RPL_TOPIC
	u.messageFromServer("332", []string{channel.Name, channel.Topic})
	// 333 RPL_TOPICWHOTIME
	u.messageFromServer("333", []string{channel.Name, channel.TopicSetter,
		fmt.Sprintf("%d", channel.TopicTS)})
}

func (u *LocalUser) inviteCommand(m Message) {
	// INVITE <nick> <channel>
	target := u.Heron.resolveUser(m.Params[0])
	if target == nil {
		// 401 ERR_NOSUCHNICK
		u.messageFromServer("401", []string{m.Params[0], "No such nick"})
		return
	}

	name := canonicalizeChannel(m.Params[1])
	channel, exists := u.Heron.Channels[name]
	if !exists {
		u.messageFromServer("403", []string{m.Params[1], "No such channel"})
		return
	}

	if !u.User.onChannel(channel) {
		u.messageFromServer("442",
			[]string{channel.Name, "You're not on that channel"})
		return
	}

	if target.onChannel(channel) {
		// 443 ERR_USERONCHANNEL
		u.messageFromServer("443", []string{target.DisplayNick, channel.Name,
			"is already on channel"})
		return
	}

	// Inviting past +i takes channel privileges.
	if channel.hasMode('i') &&
		!channel.memberModes(u.User.UID).atLeastHalfop() {
		u.messageFromServer("482",
			[]string{channel.Name, "You're not channel operator"})
		return
	}

	channel.Invites[target.UID] = struct{}{}

	// 341 RPL_INVITING
	u.messageFromServer("341", []string{target.DisplayNick, channel.Name})

	if target.isLocal() {
		target.LocalUser.maybeQueueMessage(Message{
			Prefix:  u.User.nickUhost(),
			Command: "INVITE",
			Params:  []string{target.DisplayNick, channel.Name},
		})
		if target.isAway() {
			// 301 RPL_AWAY
			u.messageFromServer("301",
				[]string{target.DisplayNick, target.AwayMessage})
		}
	} else {
		target.ClosestServer.maybeQueueMessage(Message{
			Prefix:  string(u.User.UID),
			Command: "INVITE",
			Params: []string{string(target.UID), channel.Name,
				fmt.Sprintf("%d", channel.TS)},
		})
	}

	// Members holding ops hear about it if they asked to.
	for memberUID := range channel.Members {
		member := u.Heron.Users[memberUID]
		if member == nil || !member.isLocal() || memberUID == u.User.UID {
			continue
		}
		if !channel.memberModes(memberUID).atLeastHalfop() {
			continue
		}
		if !member.LocalUser.Caps.has("invite-notify") {
			continue
		}
		member.LocalUser.maybeQueueMessage(Message{
			Prefix:  u.User.nickUhost(),
			Command: "INVITE",
			Params:  []string{target.DisplayNick, channel.Name},
		})
	}
}

func (u *LocalUser) namesCommand(m Message) {
	if len(m.Params) == 0 {
		// 366 RPL_ENDOFNAMES
		u.messageFromServer("366", []string{"*", "End of NAMES list"})
		return
	}

	for _, name := range strings.Split(m.Params[0], ",") {
		channel, exists := u.Heron.Channels[canonicalizeChannel(name)]
		if !exists {
			u.messageFromServer("366", []string{name, "End of NAMES list"})
			continue
		}
		u.sendNames(channel)
	}
}

// sendNames sends 353/366 for a channel. multi-prefix shows every
// sigil a member holds; userhost-in-names shows full nick!user@host.
func (u *LocalUser) sendNames(channel *Channel) {
	multiPrefix := u.Caps.has("multi-prefix")
	uhostInNames := u.Caps.has("userhost-in-names")

	names := make([]string, 0, len(channel.Members))
	for memberUID, member := range channel.Members {
		user := u.Heron.Users[memberUID]
		if user == nil {
			continue
		}

		sigil := member.Modes.highestSigil()
		if multiPrefix {
			sigil = member.Modes.sigils()
		}

		name := user.DisplayNick
		if uhostInNames {
			name = user.nickUhost()
		}

		names = append(names, sigil+name)
	}

	// Batch several names per 353 line.
	for len(names) > 0 {
		n := len(names)
		if n > 12 {
			n = 12
		}
		// 353 RPL_NAMREPLY. = means a public channel.
		u.messageFromServer("353", []string{"=", channel.Name,
			strings.Join(names[:n], " ")})
		names = names[n:]
	}

	u.messageFromServer("366", []string{channel.Name, "End of NAMES list"})
}

func (u *LocalUser) listCommand(m Message) {
	var filter map[string]struct{}
	if len(m.Params) > 0 {
		filter = make(map[string]struct{})
		for _, name := range strings.Split(m.Params[0], ",") {
			filter[canonicalizeChannel(name)] = struct{}{}
		}
	}

	// 321 RPL_LISTSTART
	u.messageFromServer("321", []string{"Channel", "Users Name"})

	for _, channel := range u.Heron.Channels {
		if filter != nil {
			if _, exists := filter[channel.Name]; !exists {
				continue
			}
		}

		// Secret and private channels stay hidden from non-members.
		if (channel.hasMode('s') || channel.hasMode('p')) &&
			!u.User.onChannel(channel) && !u.User.isOperator() {
			continue
		}

		// 322 RPL_LIST
		u.messageFromServer("322", []string{channel.Name,
			strconv.Itoa(len(channel.Members)), channel.Topic})
	}

	// 323 RPL_LISTEND
	u.messageFromServer("323", []string{"End of LIST"})
}
