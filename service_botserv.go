package main

import (
	"strings"
)

var botServCommands = map[string]serviceCommand{
	"BOT": {handler: bsBot, minArgs: 1, operOnly: true,
		help: "BOT ADD|DEL|LIST - manage bot definitions"},
	"BOTLIST": {handler: bsBotList,
		help: "BOTLIST - list available bots"},
	"ASSIGN": {handler: bsAssign, minArgs: 2, accountOnly: true,
		help: "ASSIGN <#channel> <bot> - put a bot in a channel"},
	"UNASSIGN": {handler: bsUnassign, minArgs: 1, accountOnly: true,
		help: "UNASSIGN <#channel> - remove a channel's bot"},
	"SAY": {handler: bsSay, minArgs: 2, accountOnly: true,
		help: "SAY <#channel> <text> - make the bot speak"},
	"ACT": {handler: bsAct, minArgs: 2, accountOnly: true,
		help: "ACT <#channel> <text> - make the bot emote"},
	"INFO": {handler: bsInfo, minArgs: 1,
		help: "INFO <#channel> - show the channel's bot"},
}

func bsBot(sv *service, source *User, args []string) {
	h := sv.heron

	switch strings.ToUpper(args[0]) {
	case "ADD":
		if len(args) < 4 {
			sv.notice(source, "Usage: BOT ADD <nick> <user> <host> [realname]")
			return
		}

		nick := args[1]
		if !isValidNick(h.Config.MaxNickLength, nick) {
			sv.notice(source, "%s is not a valid nick.", nick)
			return
		}
		if _, taken := h.Nicks[canonicalizeNick(nick)]; taken {
			sv.notice(source, "The nick %s is in use.", nick)
			return
		}

		existing, err := h.Store.Bots.GetByNick(canonicalizeNick(nick))
		if err != nil {
			sv.notice(source, "Unable to add the bot. Please try again.")
			return
		}
		if existing != nil {
			sv.notice(source, "A bot named %s already exists.", nick)
			return
		}

		realName := nick
		if len(args) > 4 {
			realName = strings.Join(args[4:], " ")
		}

		if err := h.Store.Bots.Create(&Bot{
			Nick:     nick,
			Username: args[2],
			Hostname: args[3],
			RealName: realName,
		}); err != nil {
			sv.notice(source, "Unable to add the bot. Please try again.")
			return
		}
		sv.notice(source, "Bot %s created.", nick)

	case "DEL":
		if len(args) < 2 {
			sv.notice(source, "Usage: BOT DEL <nick>")
			return
		}

		canon := canonicalizeNick(args[1])
		bot, err := h.Store.Bots.GetByNick(canon)
		if err != nil || bot == nil {
			sv.notice(source, "No such bot: %s", args[1])
			return
		}

		if err := h.Store.Bots.Delete(canon); err != nil {
			sv.notice(source, "Unable to delete the bot. Please try again.")
			return
		}

		h.Services.removeBot(canon)
		sv.notice(source, "Bot %s deleted.", bot.Nick)

	case "LIST":
		bsBotList(sv, source, nil)

	default:
		sv.notice(source, "Usage: BOT ADD|DEL|LIST")
	}
}

func bsBotList(sv *service, source *User, args []string) {
	bots, err := sv.heron.Store.Bots.List()
	if err != nil {
		sv.notice(source, "Unable to load the bot list.")
		return
	}

	if len(bots) == 0 {
		sv.notice(source, "No bots are defined.")
		return
	}

	sv.notice(source, "Available bots:")
	for _, bot := range bots {
		sv.notice(source, "  %s (%s@%s) %s", bot.Nick, bot.Username,
			bot.Hostname, bot.RealName)
	}
	sv.notice(source, "End of bot list.")
}

func bsAssign(sv *service, source *User, args []string) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}
	if !csControls(h, source, rc) {
		sv.notice(source, "You don't have access to %s.", args[0])
		return
	}

	bot, err := h.Store.Bots.GetByNick(canonicalizeNick(args[1]))
	if err != nil || bot == nil {
		sv.notice(source, "No such bot: %s", args[1])
		return
	}

	if err := h.Store.ChannelBots.Assign(rc.Name, bot.Nick); err != nil {
		sv.notice(source, "Unable to assign the bot. Please try again.")
		return
	}

	sv.notice(source, "Assigned %s to %s.", bot.Nick, rc.Name)

	if channel, exists := h.Channels[rc.Name]; exists {
		h.Services.ensureBotJoined(channel)
	}
}

func bsUnassign(sv *service, source *User, args []string) {
	h := sv.heron

	rc := csLookup(sv, source, args[0])
	if rc == nil {
		return
	}
	if !csControls(h, source, rc) {
		sv.notice(source, "You don't have access to %s.", args[0])
		return
	}

	botNick, err := h.Store.ChannelBots.GetBot(rc.Name)
	if err != nil || len(botNick) == 0 {
		sv.notice(source, "%s has no bot assigned.", args[0])
		return
	}

	if err := h.Store.ChannelBots.Unassign(rc.Name); err != nil {
		sv.notice(source, "Unable to unassign the bot. Please try again.")
		return
	}

	// Part the bot if it's sitting in the channel.
	if channel, exists := h.Channels[rc.Name]; exists {
		if bot, err := h.Services.botUser(botNick); err == nil &&
			bot != nil && bot.onChannel(channel) {
			h.messageLocalUsersOnChannel(channel, Message{
				Prefix:  bot.nickUhost(),
				Command: "PART",
				Params:  []string{channel.Name},
			})
			channel.removeUser(bot)
			if len(channel.Members) == 0 {
				delete(h.Channels, channel.Name)
			}
			h.messageAllServers(Message{
				Prefix:  string(bot.UID),
				Command: "PART",
				Params:  []string{channel.Name},
			})
		}
	}

	sv.notice(source, "Unassigned %s from %s.", botNick, rc.Name)
}

// bsSpeak runs the shared SAY/ACT logic.
func bsSpeak(sv *service, source *User, args []string, action bool) {
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

	botNick, err := h.Store.ChannelBots.GetBot(rc.Name)
	if err != nil || len(botNick) == 0 {
		sv.notice(source, "%s has no bot assigned.", args[0])
		return
	}

	bot, err := h.Services.botUser(botNick)
	if err != nil || bot == nil {
		sv.notice(source, "The bot %s is unavailable.", botNick)
		return
	}
	if !bot.onChannel(channel) {
		h.Services.ensureBotJoined(channel)
	}

	text := strings.Join(args[1:], " ")
	if action {
		text = "\x01ACTION " + text + "\x01"
	}

	out := stampMessage(Message{
		Prefix:  bot.nickUhost(),
		Command: "PRIVMSG",
		Params:  []string{channel.Name, text},
	}, "")

	h.messageLocalUsersOnChannel(channel, out)
	h.messageAllServers(Message{
		Prefix:  string(bot.UID),
		Command: "PRIVMSG",
		Params:  []string{channel.Name, text},
	})
	h.recordMessage(out, bot.nickUhost(), "", channel.Name)
}

func bsSay(sv *service, source *User, args []string) {
	bsSpeak(sv, source, args, false)
}

func bsAct(sv *service, source *User, args []string) {
	bsSpeak(sv, source, args, true)
}

func bsInfo(sv *service, source *User, args []string) {
	botNick, err := sv.heron.Store.ChannelBots.GetBot(
		canonicalizeChannel(args[0]))
	if err != nil || len(botNick) == 0 {
		sv.notice(source, "%s has no bot assigned.", args[0])
		return
	}
	sv.notice(source, "%s is assigned to %s.", botNick, args[0])
}
