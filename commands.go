package main

// userCommand describes how to dispatch one client command.
type userCommand struct {
	handler   func(*LocalUser, Message)
	minParams int
	operOnly  bool
}

// userCommands maps commands from registered clients to their handlers.
// Parameter counts here are floor checks. Handlers do any further
// validation.
var userCommands = map[string]userCommand{
	// Connection registration leftovers.
	"PASS":   {handler: (*LocalUser).alreadyRegistered},
	"USER":   {handler: (*LocalUser).alreadyRegistered},
	"WEBIRC": {handler: (*LocalUser).alreadyRegistered},

	"NICK":         {handler: (*LocalUser).nickCommand},
	"CAP":          {handler: (*LocalUser).capCommand, minParams: 1},
	"AUTHENTICATE": {handler: (*LocalUser).authenticateCommand, minParams: 1},

	"PING": {handler: (*LocalUser).pingCommand, minParams: 1},
	"PONG": {handler: (*LocalUser).pongCommand},
	"QUIT": {handler: (*LocalUser).quitCommand},

	// Channels.
	"JOIN":   {handler: (*LocalUser).joinCommand, minParams: 1},
	"PART":   {handler: (*LocalUser).partCommand, minParams: 1},
	"KICK":   {handler: (*LocalUser).kickCommand, minParams: 2},
	"TOPIC":  {handler: (*LocalUser).topicCommand, minParams: 1},
	"INVITE": {handler: (*LocalUser).inviteCommand, minParams: 2},
	"NAMES":  {handler: (*LocalUser).namesCommand},
	"LIST":   {handler: (*LocalUser).listCommand},
	"MODE":   {handler: (*LocalUser).modeCommand, minParams: 1},

	// Messaging.
	"PRIVMSG": {handler: (*LocalUser).privmsgCommand, minParams: 1},
	"NOTICE":  {handler: (*LocalUser).noticeCommand, minParams: 1},
	"TAGMSG":  {handler: (*LocalUser).tagmsgCommand, minParams: 1},

	// Queries.
	"WHO":         {handler: (*LocalUser).whoCommand, minParams: 1},
	"WHOIS":       {handler: (*LocalUser).whoisCommand, minParams: 1},
	"WHOWAS":      {handler: (*LocalUser).whowasCommand, minParams: 1},
	"USERHOST":    {handler: (*LocalUser).userhostCommand, minParams: 1},
	"ISON":        {handler: (*LocalUser).isonCommand, minParams: 1},
	"MONITOR":     {handler: (*LocalUser).monitorCommand, minParams: 1},
	"CHATHISTORY": {handler: (*LocalUser).chathistoryCommand, minParams: 2},

	// User state.
	"AWAY":    {handler: (*LocalUser).awayCommand},
	"SETNAME": {handler: (*LocalUser).setnameCommand, minParams: 1},
	"ACCEPT":  {handler: (*LocalUser).acceptCommand, minParams: 1},

	// Server information.
	"MOTD":    {handler: (*LocalUser).motdCmd},
	"LUSERS":  {handler: (*LocalUser).lusersCmd},
	"VERSION": {handler: (*LocalUser).versionCommand},
	"TIME":    {handler: (*LocalUser).timeCommand},
	"ADMIN":   {handler: (*LocalUser).adminCommand},
	"INFO":    {handler: (*LocalUser).infoCommand},
	"LINKS":   {handler: (*LocalUser).linksCommand},
	"TRACE":   {handler: (*LocalUser).traceCommand},
	"STATS":   {handler: (*LocalUser).statsCommand, minParams: 1},

	// Operators.
	"OPER":    {handler: (*LocalUser).operCommand, minParams: 2},
	"KILL":    {handler: (*LocalUser).killCommand, minParams: 1, operOnly: true},
	"WALLOPS": {handler: (*LocalUser).wallopsCommand, minParams: 1, operOnly: true},
	"REHASH":  {handler: (*LocalUser).rehashCommand, operOnly: true},
	"DIE":     {handler: (*LocalUser).dieCommand, operOnly: true},
	"RESTART": {handler: (*LocalUser).restartCommand, operOnly: true},
	"CONNECT": {handler: (*LocalUser).connectCommand, minParams: 1, operOnly: true},
	"SQUIT":   {handler: (*LocalUser).squitCommand, minParams: 1, operOnly: true},

	"KLINE":   {handler: (*LocalUser).klineCommand, minParams: 1, operOnly: true},
	"UNKLINE": {handler: (*LocalUser).unklineCommand, minParams: 1, operOnly: true},
	"GLINE":   {handler: (*LocalUser).glineCommand, minParams: 1, operOnly: true},
	"UNGLINE": {handler: (*LocalUser).unglineCommand, minParams: 1, operOnly: true},
	"ZLINE":   {handler: (*LocalUser).zlineCommand, minParams: 1, operOnly: true},
	"UNZLINE": {handler: (*LocalUser).unzlineCommand, minParams: 1, operOnly: true},

	"SAJOIN": {handler: (*LocalUser).sajoinCommand, minParams: 2, operOnly: true},
	"SAPART": {handler: (*LocalUser).sapartCommand, minParams: 2, operOnly: true},
	"SANICK": {handler: (*LocalUser).sanickCommand, minParams: 2, operOnly: true},
	"SAMODE": {handler: (*LocalUser).samodeCommand, minParams: 2, operOnly: true},
}

// alreadyRegistered rejects commands valid only before registration.
func (u *LocalUser) alreadyRegistered(m Message) {
	// 462 ERR_ALREADYREGISTRED
	u.messageFromServer("462", []string{"Unauthorized command (already registered)"})
}
