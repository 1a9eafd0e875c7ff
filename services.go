package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// serviceCommand is one verb a service understands.
type serviceCommand struct {
	handler func(sv *service, source *User, args []string)

	minArgs int

	// Only opers may run it.
	operOnly bool

	// The source must be identified to an account.
	accountOnly bool

	help string
}

// service is one pseudo-user (NickServ and friends). It lives in the
// user map like anyone else, but messages to it come here instead of
// to a socket.
type service struct {
	heron    *Heron
	User     *User
	commands map[string]serviceCommand
}

// ServiceRegistry owns the service pseudo-users and routes PRIVMSGs
// addressed to them.
type ServiceRegistry struct {
	heron *Heron

	byUID  map[TS6UID]*service
	byNick map[string]*service

	// BotServ bots we have materialized as pseudo-users, by
	// canonicalized nick.
	bots map[string]*User
}

func newServiceRegistry(h *Heron) *ServiceRegistry {
	return &ServiceRegistry{
		heron:  h,
		byUID:  make(map[TS6UID]*service),
		byNick: make(map[string]*service),
		bots:   make(map[string]*User),
	}
}

// spawn brings the six services online. They claim the first client
// IDs, before any connection is accepted.
func (r *ServiceRegistry) spawn() {
	defs := []struct {
		nick     string
		realName string
		commands map[string]serviceCommand
	}{
		{"NickServ", "Nickname registration service", nickServCommands},
		{"ChanServ", "Channel registration service", chanServCommands},
		{"OperServ", "Operator service", operServCommands},
		{"MemoServ", "Memo service", memoServCommands},
		{"HostServ", "Virtual host service", hostServCommands},
		{"BotServ", "Bot service", botServCommands},
	}

	for _, def := range defs {
		u, err := r.spawnPseudoUser(def.nick, "services", def.realName)
		if err != nil {
			r.heron.Log.WithField("component", "services").Errorf(
				"unable to spawn %s: %s", def.nick, err)
			continue
		}

		sv := &service{heron: r.heron, User: u, commands: def.commands}
		r.byUID[u.UID] = sv
		r.byNick[canonicalizeNick(def.nick)] = sv
	}
}

// spawnPseudoUser creates a local pseudo-user and introduces it to the
// network.
func (r *ServiceRegistry) spawnPseudoUser(nick, username,
	realName string) (*User, error) {
	h := r.heron

	id, ok := h.getClientID()
	if !ok {
		return nil, errors.New("out of client IDs")
	}
	uid, err := h.makeTS6UID(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	u := &User{
		DisplayNick:    nick,
		NickTS:         now.Unix(),
		Modes:          map[byte]struct{}{'i': {}, 'S': {}},
		Username:       username,
		Hostname:       "services." + h.Config.NetworkName,
		RealHostname:   "services." + h.Config.NetworkName,
		IP:             "0",
		UID:            uid,
		RealName:       realName,
		ConnectionTime: now,
		Channels:       make(map[string]*Channel),
		MonitorTargets: make(map[string]struct{}),
		AcceptList:     make(map[string]struct{}),
		IsService:      true,
		Server:         h.me(),
	}

	h.Users[uid] = u
	h.Nicks[canonicalizeNick(nick)] = uid

	h.messageAllServers(euidMessage(h, u))
	h.notifyMonitorOnline(u)

	return u, nil
}

// handleMessage routes a local user's PRIVMSG to a service.
func (r *ServiceRegistry) handleMessage(from *LocalUser, target *User,
	text string) {
	r.dispatch(from.User, target, text)
}

// handleRemoteMessage routes a remote user's PRIVMSG to a service.
func (r *ServiceRegistry) handleRemoteMessage(source, target *User,
	text string) {
	r.dispatch(source, target, text)
}

func (r *ServiceRegistry) dispatch(source *User, target *User, text string) {
	sv, ok := r.byUID[target.UID]
	if !ok {
		return
	}

	// A broken handler must not take the server down.
	defer func() {
		if rec := recover(); rec != nil {
			r.heron.Log.WithField("component", "services").Errorf(
				"%s handler panic: %v", sv.User.DisplayNick, rec)
			sv.notice(source, "An internal error occurred. Please try again.")
		}
	}()

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}

	name := strings.ToUpper(fields[0])
	if name == "HELP" {
		sv.helpCommand(source, fields[1:])
		return
	}

	cmd, ok := sv.commands[name]
	if !ok {
		sv.notice(source, "Unknown command: %s. Try HELP.", fields[0])
		return
	}

	if cmd.operOnly && !source.isOperator() {
		sv.notice(source, "Permission denied.")
		return
	}
	if cmd.accountOnly && len(source.Account) == 0 {
		sv.notice(source, "You must identify to NickServ first.")
		return
	}

	args := fields[1:]
	if len(args) < cmd.minArgs {
		sv.notice(source, "Insufficient parameters for %s. Try HELP %s.",
			name, name)
		return
	}

	cmd.handler(sv, source, args)
}

// notice replies to a user from the service, wherever they are.
func (sv *service) notice(to *User, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)

	if to.isLocal() {
		to.LocalUser.maybeQueueMessage(Message{
			Prefix:  sv.User.nickUhost(),
			Command: "NOTICE",
			Params:  []string{to.DisplayNick, text},
		})
		return
	}

	if to.ClosestServer == nil {
		return
	}
	to.ClosestServer.maybeQueueMessage(Message{
		Prefix:  string(sv.User.UID),
		Command: "NOTICE",
		Params:  []string{string(to.UID), text},
	})
}

func (sv *service) helpCommand(source *User, args []string) {
	if len(args) > 0 {
		name := strings.ToUpper(args[0])
		cmd, ok := sv.commands[name]
		if !ok {
			sv.notice(source, "No help for %s.", args[0])
			return
		}
		sv.notice(source, "%s: %s", name, cmd.help)
		return
	}

	names := make([]string, 0, len(sv.commands))
	for name := range sv.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	sv.notice(source, "%s commands:", sv.User.DisplayNick)
	for _, name := range names {
		sv.notice(source, "  %-10s %s", name, sv.commands[name].help)
	}
}

// setMemberMode applies a single member mode change on the service's
// authority and tells the network.
func (sv *service) setMemberMode(channel *Channel, target *User, add bool,
	letter byte) {
	changes := []modeChange{{add: add, mode: letter,
		param: target.DisplayNick}}

	applied := sv.heron.applyChannelModes(channel, changes, nil)
	if len(applied) == 0 {
		return
	}
	sv.heron.broadcastChannelModes(channel, sv.User.nickUhost(),
		string(sv.User.UID), applied)
}

// kickUser removes a user from a channel on the service's authority.
func (sv *service) kickUser(channel *Channel, target *User, reason string) {
	h := sv.heron

	h.messageLocalUsersOnChannel(channel, Message{
		Prefix:  sv.User.nickUhost(),
		Command: "KICK",
		Params:  []string{channel.Name, target.DisplayNick, reason},
	})

	channel.removeUser(target)
	if len(channel.Members) == 0 {
		delete(h.Channels, channel.Name)
	}

	h.messageAllServers(Message{
		Prefix:  string(sv.User.UID),
		Command: "KICK",
		Params:  []string{channel.Name, string(target.UID), reason},
	})
}

// login binds a user to an account and tells the network.
func (r *ServiceRegistry) login(user *User, account string) {
	h := r.heron
	h.setAccount(user, account)

	params := []string{"*", "SU", string(user.UID)}
	if len(account) > 0 {
		params = append(params, account)
	}
	h.messageAllServers(Message{
		Prefix:  string(h.Config.TS6SID),
		Command: "ENCAP",
		Params:  params,
	})
}

// announceMemos tells a freshly identified or connected user about
// unread memos.
func (r *ServiceRegistry) announceMemos(lu *LocalUser) {
	account := lu.User.Account
	if len(account) == 0 {
		return
	}
	sv := r.byNick[canonicalizeNick("MemoServ")]
	if sv == nil {
		return
	}

	count, err := r.heron.Store.Memos.CountUnread(account)
	if err != nil {
		r.heron.Log.WithField("component", "services").Errorf(
			"unable to count memos: %s", err)
		return
	}
	if count == 0 {
		return
	}

	sv.notice(lu.User, "You have %d unread memo(s). Use LIST to see them.",
		count)
}

// channelJoined runs services-side join hooks: ChanServ auto-op and
// BotServ bot materialization.
func (r *ServiceRegistry) channelJoined(channel *Channel, user *User) {
	if user.IsService {
		return
	}

	rc, err := r.heron.Store.Channels.GetByName(channel.Name)
	if err != nil || rc == nil {
		return
	}

	if len(user.Account) > 0 {
		sv := r.byNick[canonicalizeNick("ChanServ")]
		if sv != nil && (rc.Founder == user.Account ||
			flagsHave(channelAccessFlags(r.heron, channel.Name,
				user.Account), 'o')) {
			sv.setMemberMode(channel, user, true, 'o')
		}
	}

	r.ensureBotJoined(channel)
}

// canSetTopic enforces ChanServ topic lock. Unregistered channels and
// channels without the lock are unrestricted here.
func (r *ServiceRegistry) canSetTopic(channel *Channel, user *User) bool {
	rc, err := r.heron.Store.Channels.GetByName(channel.Name)
	if err != nil || rc == nil || !rc.TopicLock {
		return true
	}
	if user.isOperator() {
		return true
	}
	if len(user.Account) == 0 {
		return false
	}
	return rc.Founder == user.Account ||
		flagsHave(channelAccessFlags(r.heron, channel.Name, user.Account),
			'o')
}

// ensureBotJoined joins the channel's assigned bot, spawning its
// pseudo-user if need be.
func (r *ServiceRegistry) ensureBotJoined(channel *Channel) {
	h := r.heron

	botNick, err := h.Store.ChannelBots.GetBot(channel.Name)
	if err != nil || len(botNick) == 0 {
		return
	}

	bot, err := r.botUser(botNick)
	if err != nil {
		h.Log.WithField("component", "services").Errorf(
			"unable to spawn bot %s: %s", botNick, err)
		return
	}
	if bot == nil || bot.onChannel(channel) {
		return
	}

	channel.addMember(bot, MemberOp)

	h.messageLocalUsersOnChannel(channel, Message{
		Prefix:  bot.nickUhost(),
		Command: "JOIN",
		Params:  []string{channel.Name},
	})
	h.messageLocalUsersOnChannel(channel, Message{
		Prefix:  h.Config.ServerName,
		Command: "MODE",
		Params:  []string{channel.Name, "+o", bot.DisplayNick},
	})

	h.messageAllServers(Message{
		Prefix:  string(h.Config.TS6SID),
		Command: "SJOIN",
		Params: []string{fmt.Sprintf("%d", channel.TS), channel.Name, "+",
			"@" + string(bot.UID)},
	})
}

// botUser gives the pseudo-user for a stored bot, creating it on
// first use. nil with no error means the bot isn't defined.
func (r *ServiceRegistry) botUser(botNick string) (*User, error) {
	canon := canonicalizeNick(botNick)
	if bot, ok := r.bots[canon]; ok {
		return bot, nil
	}

	def, err := r.heron.Store.Bots.GetByNick(canon)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, nil
	}

	if _, taken := r.heron.Nicks[canon]; taken {
		return nil, errors.Errorf("nick in use: %s", def.Nick)
	}

	bot, err := r.spawnPseudoUser(def.Nick, def.Username, def.RealName)
	if err != nil {
		return nil, err
	}
	if len(def.Hostname) > 0 {
		bot.Hostname = def.Hostname
	}

	r.bots[canon] = bot
	return bot, nil
}

// removeBot takes a bot pseudo-user offline.
func (r *ServiceRegistry) removeBot(botNick string) {
	canon := canonicalizeNick(botNick)
	bot, ok := r.bots[canon]
	if !ok {
		return
	}
	delete(r.bots, canon)
	r.heron.cleanupUser(bot, "Bot removed")
	r.heron.messageAllServers(Message{
		Prefix:  string(bot.UID),
		Command: "QUIT",
		Params:  []string{"Bot removed"},
	})
}

// channelAccessFlags gives an account's flags on a registered channel.
// Blank if none.
func channelAccessFlags(h *Heron, channel, account string) string {
	entries, err := h.Store.Channels.GetAccess(channel)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.Account == account {
			return e.Flags
		}
	}
	return ""
}

func flagsHave(flags string, flag byte) bool {
	return strings.IndexByte(flags, flag) != -1
}
