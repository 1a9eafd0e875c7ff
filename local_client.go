package main

import (
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// LocalClient holds state about a local connection.
// All connections are in this state until they register as either a user client
// or as a server.
type LocalClient struct {
	// Conn is the TCP connection to the client.
	Conn Conn

	// Their hostname. May be blank if we can't look it up.
	Hostname string

	// Set if they are connected via TLS.
	TLSConn *tls.Conn

	// Locally unique identifier.
	ID uint64

	// WriteChan is the channel to send to to write to the client.
	WriteChan chan Message

	ConnectionStartTime time.Time

	Heron *Heron

	// Track if we overflow our send queue. If we do, we'll kill the client.
	SendQueueExceeded bool

	// Limits how fast this connection may issue commands.
	Limiter *rate.Limiter

	// Info client may send us before we complete its registration and promote it
	// to a user or server.

	// User info

	// NICK
	PreRegDisplayNick string

	// USER
	PreRegUser     string
	PreRegRealName string

	// PASS (client form, a connection password)
	PreRegPass string

	// Capabilities negotiated so far.
	Caps *CapSet

	// True while a CAP negotiation holds up registration.
	CapNegotiating bool

	// Client asked for CAP LS 302.
	CapVersion302 bool

	// In-progress AUTHENTICATE, if any.
	SASL *SASLSession

	// Account authenticated during registration. Applied on promotion.
	SASLAccount string

	// WEBIRC spoofed identity, if an authorized gateway sent one.
	WebircHostname string
	WebircIP       string

	// Server info

	// PASS (TS6 form)
	PreRegLinkPass string
	PreRegTS6SID   string

	// CAPAB
	PreRegCapabs map[string]struct{}

	// SERVER
	PreRegServerName string
	PreRegServerDesc string

	// For outgoing links, the configured name we dialed.
	LinkName string

	// Boolean flags involved in the server link process. Use them to keep track
	// of where we are in the process.

	GotPASS   bool
	GotCAPAB  bool
	GotSERVER bool

	SentSERVER bool
	SentSVINFO bool
}

// NewLocalClient creates a LocalClient
func NewLocalClient(h *Heron, id uint64, conn net.Conn) *LocalClient {
	return &LocalClient{
		Conn: NewConn(conn, h.Config.DeadTime),
		ID:   id,

		// Buffered channel. We don't want to block sending to the client from the
		// server. The client may be stuck. Make the buffer large enough that it
		// should only max out in case of connection issues.
		WriteChan: make(chan Message, 32768),

		ConnectionStartTime: time.Now(),
		Heron:               h,
		Limiter:             newCommandLimiter(h.Config.CommandsPerSecond),
		Caps:                newCapSet(),
		PreRegCapabs:        make(map[string]struct{}),
	}
}

func (c *LocalClient) String() string {
	return fmt.Sprintf("%d %s", c.ID, c.Conn.RemoteAddr())
}

func (c *LocalClient) isTLS() bool {
	return c.TLSConn != nil
}

// certFingerprint gives the SHA-256 fingerprint of the peer's client
// certificate, or "" when they presented none.
func (c *LocalClient) certFingerprint() string {
	if c.TLSConn == nil {
		return ""
	}

	state := c.TLSConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}

	sum := sha256.Sum256(state.PeerCertificates[0].Raw)
	return fmt.Sprintf("%x", sum)
}

// Send a message to the client. We send it to its write channel, which in turn
// leads to writing it to its TCP socket.
//
// This function won't block. If the client's queue is full, we flag it as
// having a full send queue.
//
// Not blocking is important because the server sends the client messages this
// way, and if we block on a problem client, everything would grind to a halt.
//
// Tags the connection did not negotiate for get stripped here, so every
// delivery path pays attention to capabilities.
func (c *LocalClient) maybeQueueMessage(m Message) {
	if c.SendQueueExceeded {
		return
	}

	m = tailorMessage(c.Caps, m)

	select {
	case c.WriteChan <- m:
	default:
		c.SendQueueExceeded = true
	}
}

// readLoop endlessly reads from the client's TCP connection. It parses each
// IRC protocol message and passes it to the server through the server's
// channel.
func (c *LocalClient) readLoop() {
	for {
		if c.Heron.isShuttingDown() {
			break
		}

		buf, err := c.Conn.Read()
		if err != nil {
			c.Heron.newEvent(Event{Type: DeadClientEvent, Client: c})
			break
		}

		message, err := parseMessage(buf)
		if err != nil && err != errMsgTruncated {
			// Malformed lines are dropped. Replying risks write loops with
			// confused peers.
			c.Heron.Log.WithField("client", c.String()).
				WithError(err).Debug("invalid message")
			continue
		}

		c.Heron.newEvent(Event{
			Type:    MessageFromClientEvent,
			Client:  c,
			Message: message,
		})
	}

	c.Heron.Log.WithField("client", c.String()).
		Debug("reader shutting down")
}

// writeLoop endlessly reads from the client's channel, encodes each message,
// and writes it to the client's TCP connection.
//
// When the channel is closed, or if we have a write error, close the TCP
// connection. I have this here so that we try to deliver messages to the
// client before closing its socket and giving up.
func (c *LocalClient) writeLoop() {
	// Ensure we also stop if the server is shutting down (indicated by the
	// ShutdownChan being closed). If we don't, then there is potential for us to
	// leak this goroutine.
Loop:
	for {
		select {
		case message, ok := <-c.WriteChan:
			if !ok {
				break Loop
			}

			encoded, err := message.Encode()
			if err != nil && err != errMsgTruncated {
				continue
			}

			if err := c.Conn.Write(encoded); err != nil {
				c.Heron.newEvent(Event{Type: DeadClientEvent, Client: c})
				break Loop
			}
		case <-c.Heron.ShutdownChan:
			break Loop
		}
	}

	if err := c.Conn.Close(); err != nil {
		c.Heron.Log.WithField("client", c.String()).
			WithError(err).Debug("problem closing connection")
	}

	c.Heron.Log.WithField("client", c.String()).
		Debug("writer shutting down")
}

// quit means the client is quitting. Tell it why and clean up.
func (c *LocalClient) quit(msg string) {
	// May already be cleaning up.
	_, exists := c.Heron.LocalClients[c.ID]
	if !exists {
		return
	}

	c.messageFromServer("ERROR", []string{msg})

	close(c.WriteChan)

	delete(c.Heron.LocalClients, c.ID)
}

// Send an IRC message to a client. Appears to be from the server.
// This works by writing to a client's channel.
//
// Note: Only the server goroutine should call this (due to channel use).
func (c *LocalClient) messageFromServer(command string, params []string) {
	// For numeric messages, we need to prepend the nick.
	// Use * for the nick in cases where the client doesn't have one yet.
	// This is what ircd-ratbox does. Maybe not RFC...
	if isNumericCommand(command) {
		nick := "*"
		if len(c.PreRegDisplayNick) > 0 {
			nick = c.PreRegDisplayNick
		}
		newParams := []string{nick}
		newParams = append(newParams, params...)
		params = newParams
	}

	c.maybeQueueMessage(Message{
		Prefix:  c.Heron.Config.ServerName,
		Command: command,
		Params:  params,
	})
}

// standardReply sends a FAIL/WARN/NOTE message.
func (c *LocalClient) standardReply(kind, command, code, description string) {
	c.maybeQueueMessage(Message{
		Prefix:  c.Heron.Config.ServerName,
		Command: kind,
		Params:  []string{command, code, description},
	})
}

func (c *LocalClient) handleMessage(m Message) {
	// Clients SHOULD NOT (section 2.3) send a prefix.
	if m.Prefix != "" {
		c.quit("No prefix permitted")
		return
	}

	// We may receive NOTICE when initiating connection to a server. Ignore it.
	if m.Command == "NOTICE" {
		return
	}

	// Commands clients may use before registering.

	switch m.Command {
	case "CAP":
		c.capCommand(m)
		return
	case "AUTHENTICATE":
		c.authenticateCommand(m)
		return
	case "WEBIRC":
		c.webircCommand(m)
		return
	case "NICK":
		c.nickCommand(m)
		return
	case "USER":
		c.userCommand(m)
		return
	case "PING":
		c.maybeQueueMessage(Message{
			Prefix:  c.Heron.Config.ServerName,
			Command: "PONG",
			Params:  m.Params,
		})
		return
	case "PONG":
		return
	case "QUIT":
		c.quit("Client quit")
		return
	}

	// To register as a server (using TS6):

	// If incoming client is initiator, they send this:

	// > PASS
	// > CAPAB
	// > SERVER

	// We check this info. If valid, reply:

	// < PASS
	// < CAPAB
	// < SERVER

	// They check our info. If valid, reply:

	// > SVINFO

	// We reply again:

	// < SVINFO
	// < Burst
	// < PING

	// They finish:

	// > Burst
	// > PING

	// Everyone ACKs the PINGs:

	// < PONG

	// > PONG

	// PINGs are used to know end of burst. Then we're linked.

	// If we initiate the link, then we send PASS/CAPAB/SERVER and expect it
	// in return. Beyond that, the process is the same.

	switch m.Command {
	case "PASS":
		c.passCommand(m)
		return
	case "CAPAB":
		c.capabCommand(m)
		return
	case "SERVER":
		c.serverCommand(m)
		return
	case "SVINFO":
		c.svinfoCommand(m)
		return
	case "ERROR":
		c.quit("Bye")
		return
	}

	// Let's say *all* other commands require you to be registered.
	// 451 ERR_NOTREGISTERED
	c.messageFromServer("451", []string{"You have not registered."})
}

// capCommand negotiates IRCv3 capabilities before registration.
func (c *LocalClient) capCommand(m Message) {
	if len(m.Params) == 0 {
		// 461 ERR_NEEDMOREPARAMS
		c.messageFromServer("461", []string{"CAP", "Not enough parameters"})
		return
	}

	subcommand := strings.ToUpper(m.Params[0])

	switch subcommand {
	case "LS":
		if len(m.Params) > 1 && m.Params[1] == "302" {
			c.CapVersion302 = true
		}

		// LS before registration opens negotiation. Registration waits for
		// END.
		c.CapNegotiating = true

		c.maybeQueueMessage(Message{
			Prefix:  c.Heron.Config.ServerName,
			Command: "CAP",
			Params: []string{c.capNick(), "LS",
				capLSString(c.Heron.Config, c.CapVersion302)},
		})

	case "LIST":
		c.maybeQueueMessage(Message{
			Prefix:  c.Heron.Config.ServerName,
			Command: "CAP",
			Params:  []string{c.capNick(), "LIST", c.Caps.list()},
		})

	case "REQ":
		if len(m.Params) < 2 {
			c.messageFromServer("461", []string{"CAP", "Not enough parameters"})
			return
		}

		c.CapNegotiating = true

		// All or nothing. Any unknown capability rejects the whole request.
		add, remove, ok := parseCapReq(c.Heron.Config, m.Params[1])
		if !ok {
			c.maybeQueueMessage(Message{
				Prefix:  c.Heron.Config.ServerName,
				Command: "CAP",
				Params:  []string{c.capNick(), "NAK", m.Params[1]},
			})
			return
		}

		for _, name := range add {
			c.Caps.enable(name)
		}
		for _, name := range remove {
			c.Caps.disable(name)
		}

		c.maybeQueueMessage(Message{
			Prefix:  c.Heron.Config.ServerName,
			Command: "CAP",
			Params:  []string{c.capNick(), "ACK", m.Params[1]},
		})

	case "END":
		if !c.CapNegotiating {
			return
		}
		c.CapNegotiating = false
		c.maybeCompleteRegistration()

	default:
		// 410 ERR_INVALIDCAPCMD
		c.messageFromServer("410", []string{subcommand, "Invalid CAP command"})
	}
}

func (c *LocalClient) capNick() string {
	if len(c.PreRegDisplayNick) > 0 {
		return c.PreRegDisplayNick
	}
	return "*"
}

// authenticateCommand runs the SASL exchange before registration.
func (c *LocalClient) authenticateCommand(m Message) {
	if !c.Caps.has("sasl") {
		// 904 ERR_SASLFAIL
		c.messageFromServer("904", []string{"SASL authentication failed"})
		return
	}

	if len(m.Params) == 0 {
		c.messageFromServer("461",
			[]string{"AUTHENTICATE", "Not enough parameters"})
		return
	}

	if len(c.SASLAccount) > 0 {
		// 907 ERR_SASLALREADY
		c.messageFromServer("907",
			[]string{"You have already authenticated using SASL"})
		return
	}

	arg := m.Params[0]

	if arg == "*" {
		c.SASL = nil
		// 906 ERR_SASLABORTED
		c.messageFromServer("906", []string{"SASL authentication aborted"})
		return
	}

	// No session yet: this is the mechanism selection.
	if c.SASL == nil {
		mechanism := strings.ToUpper(arg)
		if mechanism != "PLAIN" && mechanism != "EXTERNAL" {
			// 908 RPL_SASLMECHS
			c.messageFromServer("908",
				[]string{"PLAIN,EXTERNAL", "are available SASL mechanisms"})
			c.messageFromServer("904", []string{"SASL authentication failed"})
			return
		}

		c.SASL = &SASLSession{Mechanism: mechanism}
		c.maybeQueueMessage(Message{Command: "AUTHENTICATE",
			Params: []string{"+"}})
		return
	}

	payload, done, err := c.SASL.feed(arg)
	if err != nil {
		c.SASL = nil
		if err == errSASLTooLong {
			// 905 ERR_SASLTOOLONG
			c.messageFromServer("905", []string{"SASL message too long"})
			return
		}
		c.messageFromServer("904", []string{"SASL authentication failed"})
		return
	}
	if !done {
		return
	}

	mechanism := c.SASL.Mechanism
	c.SASL = nil

	var account string
	switch mechanism {
	case "PLAIN":
		account, err = verifySASLPlain(c.Heron.Store.Accounts, payload)
	case "EXTERNAL":
		account, err = verifySASLExternal(c.Heron.Store.CertFPs,
			c.certFingerprint())
	}
	if err != nil {
		c.messageFromServer("904", []string{"SASL authentication failed"})
		return
	}

	c.SASLAccount = account

	// 900 RPL_LOGGEDIN
	uhost := fmt.Sprintf("%s!%s@%s", c.capNick(), c.PreRegUser,
		c.Conn.IP.String())
	c.messageFromServer("900", []string{uhost, account,
		fmt.Sprintf("You are now logged in as %s", account)})
	// 903 RPL_SASLSUCCESS
	c.messageFromServer("903", []string{"SASL authentication successful"})
}

// webircCommand lets an authorized gateway substitute its user's real
// hostname and IP for its own.
func (c *LocalClient) webircCommand(m Message) {
	// WEBIRC <password> <gateway> <hostname> <ip>
	if len(m.Params) < 4 {
		c.messageFromServer("461", []string{"WEBIRC", "Not enough parameters"})
		return
	}

	if len(c.PreRegDisplayNick) > 0 || len(c.PreRegUser) > 0 {
		c.quit("WEBIRC must come first")
		return
	}

	block, exists := c.Heron.Config.WebircGateways[m.Params[1]]
	if !exists || block.Password != m.Params[0] {
		c.quit("WEBIRC denied")
		return
	}

	sourceOK := false
	for _, source := range block.Sources {
		if source == c.Conn.IP.String() {
			sourceOK = true
			break
		}
	}
	if !sourceOK {
		c.quit("WEBIRC denied")
		return
	}

	c.WebircHostname = m.Params[2]
	c.WebircIP = m.Params[3]
}

// The NICK command to happen both at connection registration time and
// after. There are different rules.
func (c *LocalClient) nickCommand(m Message) {
	// We should have one parameter: The nick they want.
	if len(m.Params) == 0 {
		// 431 ERR_NONICKNAMEGIVEN
		c.messageFromServer("431", []string{"No nickname given"})
		return
	}
	nick := m.Params[0]

	// Too-long nicks are rejected, not truncated.
	if !isValidNick(c.Heron.Config.MaxNickLength, nick) {
		// 432 ERR_ERRONEUSNICKNAME
		c.messageFromServer("432", []string{nick, "Erroneous nickname"})
		return
	}

	nickCanon := canonicalizeNick(nick)

	// Nick must be unique.
	_, exists := c.Heron.Nicks[nickCanon]
	if exists {
		// 433 ERR_NICKNAMEINUSE
		c.messageFromServer("433", []string{nick, "Nickname is already in use"})
		return
	}

	// NOTE: I no longer flag the nick as taken until registration completes.
	//   Simpler.

	c.PreRegDisplayNick = nick

	// We don't reply during registration (we don't have enough info, no uhost
	// anyway).

	c.maybeCompleteRegistration()
}

func (c *LocalClient) userCommand(m Message) {
	// RFC RECOMMENDs NICK before USER. But I'm going to allow either way now.
	// One reason to do so is how to react if NICK was taken and client
	// proceeded to USER.

	// 4 parameters: <user> <mode> <unused> <realname>
	if len(m.Params) != 4 {
		// 461 ERR_NEEDMOREPARAMS
		c.messageFromServer("461", []string{m.Command, "Not enough parameters"})
		return
	}

	user := m.Params[0]

	if len(user) > c.Heron.Config.MaxNickLength {
		user = user[0:c.Heron.Config.MaxNickLength]
	}

	if !isValidUser(c.Heron.Config.MaxNickLength, user) {
		// There isn't an appropriate response in the RFC. ircd-ratbox sends an
		// ERROR message. Do that.
		c.messageFromServer("ERROR", []string{"Invalid username"})
		return
	}
	c.PreRegUser = user

	// We could do something with user mode here.

	if !isValidRealName(m.Params[3]) {
		c.messageFromServer("ERROR", []string{"Invalid realname"})
		return
	}
	c.PreRegRealName = m.Params[3]

	c.maybeCompleteRegistration()
}

// maybeCompleteRegistration promotes the connection to a user once NICK
// and USER are in and no CAP negotiation holds us up.
func (c *LocalClient) maybeCompleteRegistration() {
	if len(c.PreRegDisplayNick) == 0 || len(c.PreRegUser) == 0 {
		return
	}
	if c.CapNegotiating {
		return
	}

	c.registerUser()
}

func (c *LocalClient) registerUser() {
	// RFC 2813 specifies messages to send upon registration.

	cfg := c.Heron.Config

	// Check NICK is still available. I'm no longer reserving it in the Nicks map
	// until registration completes, so check now.
	_, exists := c.Heron.Nicks[canonicalizeNick(c.PreRegDisplayNick)]
	if exists {
		// 433 ERR_NICKNAMEINUSE
		c.messageFromServer("433", []string{c.PreRegDisplayNick,
			"Nickname is already in use"})
		return
	}

	if len(cfg.ServerPassword) > 0 && c.PreRegPass != cfg.ServerPassword {
		// 464 ERR_PASSWDMISMATCH
		c.messageFromServer("464", []string{"Password incorrect"})
		c.quit("Bad password")
		return
	}

	if cfg.RequireTLS && !c.isTLS() {
		c.quit("TLS connections only")
		return
	}

	if c.Heron.userCount() >= cfg.MaxUsers {
		c.quit("Server is full")
		return
	}

	lu := NewLocalUser(c)

	ip := c.Conn.IP.String()
	realHostname := c.Hostname
	if len(c.WebircIP) > 0 {
		ip = c.WebircIP
		realHostname = c.WebircHostname
	}
	if len(realHostname) == 0 {
		realHostname = ip
	}

	hostname := realHostname
	if cfg.CloakHostnames {
		hostname = cloakHostname(cfg.CloakPrefix, cfg.CloakSecret,
			realHostname)
	}

	u := &User{
		DisplayNick:    c.PreRegDisplayNick,
		HopCount:       0,
		NickTS:         time.Now().Unix(),
		Modes:          make(map[byte]struct{}),
		Username:       "~" + c.PreRegUser,
		Hostname:       hostname,
		RealHostname:   realHostname,
		IP:             ip,
		RealName:       c.PreRegRealName,
		Account:        c.SASLAccount,
		CertFP:         c.certFingerprint(),
		ConnectionTime: time.Now(),
		Channels:       make(map[string]*Channel),
		MonitorTargets: make(map[string]struct{}),
		AcceptList:     make(map[string]struct{}),
		Server:         c.Heron.me(),
		LocalUser:      lu,
	}

	lu.User = u

	// An approved HostServ vhost applies from the start of the session.
	if len(u.Account) > 0 {
		if v, err := c.Heron.Store.Vhosts.GetByAccount(
			u.Account); err == nil && v != nil && v.Approved {
			u.Hostname = v.Vhost
		}
	}

	// Check if they're banned. Don't accept further if so.
	if ban := c.Heron.Bans.findMatching(u); ban != nil {
		// 465 ERR_YOUREBANNEDCREEP
		lu.messageFromServer("465", []string{"You are banned from this server"})

		c.quit(fmt.Sprintf("Connection closed: %s", ban.Reason))

		c.Heron.noticeLocalOpers(fmt.Sprintf(
			"Rejecting user registration for %s!%s@%s. Banned: %s",
			u.DisplayNick, u.Username, u.Hostname, ban.Reason))
		return
	}

	uid, err := c.Heron.makeTS6UID(lu.ID)
	if err != nil {
		c.quit("Cannot allocate UID")
		return
	}
	u.UID = uid

	delete(c.Heron.LocalClients, c.ID)
	c.Heron.LocalUsers[lu.ID] = lu
	c.Heron.Nicks[canonicalizeNick(u.DisplayNick)] = u.UID
	c.Heron.Users[u.UID] = u

	// 001 RPL_WELCOME
	lu.messageFromServer("001", []string{
		fmt.Sprintf("Welcome to the %s Internet Relay Network %s",
			cfg.NetworkName, u.nickUhost()),
	})

	// 002 RPL_YOURHOST
	lu.messageFromServer("002", []string{
		fmt.Sprintf("Your host is %s, running version %s", cfg.ServerName,
			cfg.Version),
	})

	// 003 RPL_CREATED
	lu.messageFromServer("003", []string{
		fmt.Sprintf("This server was created %s", cfg.CreatedDate),
	})

	// 004 RPL_MYINFO
	// <servername> <version> <available user modes> <available channel modes>
	lu.messageFromServer("004", []string{
		cfg.ServerName,
		cfg.Version,
		"giosC",
		"beIiklmnpstCcRS",
	})

	lu.sendISupport()

	lu.lusersCommand()
	lu.motdCommand()

	lu.messageUser(u, "MODE", []string{u.DisplayNick, "+i"})
	u.Modes['i'] = struct{}{}

	// Tell linked servers about this new client.
	for _, server := range c.Heron.LocalServers {
		server.maybeQueueMessage(euidMessage(c.Heron, u))
	}

	// Tell anyone monitoring for this nick.
	c.Heron.notifyMonitorOnline(u)

	// Tell local operators.
	for _, oper := range c.Heron.Opers {
		if !oper.isLocal() {
			continue
		}
		_, exists := oper.Modes['C']
		if !exists {
			continue
		}
		oper.LocalUser.serverNotice(fmt.Sprintf("CLICONN %s %s %s %s %s (%s)",
			u.DisplayNick, u.Username, u.Hostname, u.IP, u.RealName,
			cfg.ServerName))
	}

	c.Heron.Notifier.publish(ServerEvent{
		Kind:    EventUserConnected,
		Message: u.nickUhost(),
	})

	// Any unread memos get announced at connect time.
	if len(u.Account) > 0 {
		c.Heron.Services.announceMemos(lu)
	}
}

func (c *LocalClient) passCommand(m Message) {
	if c.GotPASS {
		c.quit("Double PASS")
		return
	}

	if len(m.Params) == 0 {
		// 461 ERR_NEEDMOREPARAMS
		c.messageFromServer("461", []string{"PASS", "Not enough parameters"})
		return
	}

	// Client form: a single connection password.
	if len(m.Params) < 4 || m.Params[1] != "TS" {
		c.PreRegPass = m.Params[0]
		return
	}

	// Server form:
	// PASS <password>, TS, <ts version>, <SID>

	tsVersion, err := strconv.ParseInt(m.Params[2], 10, 64)
	if err != nil {
		c.quit("Unexpected PASS format: Version: " + err.Error())
		return
	}

	// Support only TS 6.
	if tsVersion != 6 {
		c.quit("Unsupported TS version")
		return
	}

	// Beyond format, we can't validate SID yet.
	if !isValidSID(m.Params[3]) {
		c.quit("Malformed SID")
		return
	}

	// Everything looks OK. Store them.

	c.PreRegLinkPass = m.Params[0]
	c.PreRegTS6SID = m.Params[3]

	c.GotPASS = true

	// Don't reply yet.
}

func (c *LocalClient) capabCommand(m Message) {
	// CAPAB <space separated list>
	if len(m.Params) == 0 {
		// 461 ERR_NEEDMOREPARAMS
		c.messageFromServer("461", []string{"CAPAB", "Not enough parameters"})
		return
	}

	if !c.GotPASS {
		c.quit("PASS first")
		return
	}

	if c.GotCAPAB {
		c.quit("Double CAPAB")
		return
	}

	capabs := strings.Split(m.Params[0], " ")

	// No real validation to do on these right now. Just record them.

	for _, capab := range capabs {
		capab = strings.TrimSpace(capab)
		if len(capab) == 0 {
			continue
		}

		c.PreRegCapabs[strings.ToUpper(capab)] = struct{}{}
	}

	// For TS6 we must have QS and ENCAP.

	if _, exists := c.PreRegCapabs["QS"]; !exists {
		c.quit("Missing QS")
		return
	}

	if _, exists := c.PreRegCapabs["ENCAP"]; !exists {
		c.quit("Missing ENCAP")
		return
	}

	c.GotCAPAB = true
}

func (c *LocalClient) serverCommand(m Message) {
	// SERVER <name> <hopcount> <description>
	if len(m.Params) != 3 {
		// 461 ERR_NEEDMOREPARAMS
		c.messageFromServer("461", []string{"SERVER", "Not enough parameters"})
		return
	}

	if !c.GotCAPAB {
		c.quit("CAPAB first.")
		return
	}

	if c.GotSERVER {
		c.quit("Double SERVER.")
		return
	}

	serverName := m.Params[0]

	// Jupes ban server names from the network.
	if ban := c.Heron.Bans.isJuped(serverName); ban != nil {
		c.quit(fmt.Sprintf("Juped: %s", ban.Reason))
		c.Heron.noticeOpers(fmt.Sprintf("Rejecting juped server %s",
			serverName))
		return
	}

	// We could validate the hostname format. But we have a list of hosts we will
	// link to, so check against that directly.
	linkInfo, exists := c.Heron.Config.Servers[serverName]
	if !exists {
		c.quit("I don't know you")
		return
	}

	// At this point we should have a password from the PASS command. Check it.
	if linkInfo.RecvPass != c.PreRegLinkPass {
		c.quit("Bad password")
		return
	}

	// Hopcount should be 1.
	if m.Params[1] != "1" {
		c.quit("Bad hopcount")
		return
	}

	// Is this server already linked?
	if c.Heron.isLinkedToServer(serverName) && c.LinkName != serverName {
		c.quit("I'm already linked to you!")
		return
	}

	c.PreRegServerName = serverName
	c.PreRegServerDesc = m.Params[2]

	c.GotSERVER = true

	// Reply. Our reply differs depending on whether we initiated the link.

	// If they initiated the link, then we reply with PASS/CAPAB/SERVER.
	// If we did, then we already sent PASS/CAPAB/SERVER. Reply with SVINFO
	// instead.

	if !c.SentSERVER {
		c.sendServerIntro(linkInfo.SendPass)
		return
	}

	c.sendSVINFO()
}

func (c *LocalClient) svinfoCommand(m Message) {
	// SVINFO <TS version> <min TS version> 0 <current time>
	if len(m.Params) < 4 {
		// 461 ERR_NEEDMOREPARAMS
		c.messageFromServer("461", []string{"SVINFO", "Not enough parameters"})
		return
	}

	if !c.GotSERVER || !c.SentSERVER {
		c.quit("SERVER first")
		return
	}

	// Once we have SVINFO, we register the server, so we never see double
	// SVINFO.

	if m.Params[0] != "6" || m.Params[1] != "6" {
		c.quit("Unsupported TS version")
		return
	}

	if m.Params[2] != "0" {
		c.quit("Malformed third parameter")
		return
	}

	theirEpoch, err := strconv.ParseInt(m.Params[3], 10, 64)
	if err != nil {
		c.quit("Malformed time")
		return
	}

	epoch := time.Now().Unix()

	delta := epoch - theirEpoch
	if delta < 0 {
		delta *= -1
	}

	if delta > 60 {
		c.quit("Time insanity")
		return
	}

	// If we initiated the connection, then we already sent SVINFO (in reply
	// to them sending SERVER). This is their reply to our SVINFO.
	if !c.SentSVINFO {
		c.sendSVINFO()
	}

	// Let's choose here to decide we're linked. The burst is still to come.
	c.registerServer()
}

func (c *LocalClient) sendServerIntro(pass string) {
	// PASS <password>, TS, <ts version>, <SID>
	c.maybeQueueMessage(Message{
		Command: "PASS",
		Params: []string{
			pass, "TS", "6", string(c.Heron.Config.TS6SID)},
	})

	// CAPAB <space separated list>
	c.maybeQueueMessage(Message{
		Command: "CAPAB",
		// QS means quitstorm. This means we don't need to hear QUITs from servers
		// that are delinking -- that we can figure it out ourselves and
		// generate the QUITs ourself locally.
		// ENCAP means support for the ENCAP command.
		Params: []string{"QS ENCAP EUID"},
	})

	// SERVER <name> <hopcount> <description>
	c.maybeQueueMessage(Message{
		Command: "SERVER",
		Params: []string{
			c.Heron.Config.ServerName,
			"1",
			c.Heron.Config.ServerInfo,
		},
	})
	c.SentSERVER = true
}

func (c *LocalClient) sendSVINFO() {
	// SVINFO <TS version> <min TS version> 0 <current time>
	c.maybeQueueMessage(Message{
		Command: "SVINFO",
		Params: []string{
			"6", "6", "0", fmt.Sprintf("%d", time.Now().Unix()),
		},
	})

	c.SentSVINFO = true
}

func (c *LocalClient) registerServer() {
	ls := NewLocalServer(c)

	s := &Server{
		SID:         TS6SID(c.PreRegTS6SID),
		Name:        c.PreRegServerName,
		Description: c.PreRegServerDesc,
		HopCount:    1,
		LinkTime:    time.Now(),
		LocalServer: ls,
		LinkedTo:    c.Heron.me(),
	}

	ls.Server = s

	delete(c.Heron.LocalClients, c.ID)
	c.Heron.LocalServers[ls.ID] = ls
	c.Heron.Servers[s.SID] = s

	c.Heron.noticeOpers(fmt.Sprintf("Established link to %s.",
		c.PreRegServerName))
	c.Heron.Notifier.publish(ServerEvent{
		Kind:    EventServerLinked,
		Message: s.Name,
	})

	ls.sendBurst()

	// PING <My SID>
	ls.maybeQueueMessage(Message{
		Command: "PING",
		Params:  []string{string(c.Heron.Config.TS6SID)},
	})

	// Tell connected servers about the new server.
	// :<my SID> SID <server name> <hop count> <SID> <description>
	// e.g.: :8ZZ SID irc3.example.com 2 9ZQ :My Desc
	for _, server := range c.Heron.LocalServers {
		// We don't have to tell the server about itself.
		if server == ls {
			continue
		}
		server.maybeQueueMessage(Message{
			Prefix:  string(c.Heron.Config.TS6SID),
			Command: "SID",
			Params: []string{s.Name, fmt.Sprintf("%d", s.HopCount+1),
				string(s.SID), s.Description},
		})
	}
}

// euidMessage builds the EUID introduction for a user.
//
// :<SID> EUID <nick> <hops> <nickTS> <umodes> <user> <visible host> <ip>
//   <UID> <real host> <account> :<real name>
func euidMessage(h *Heron, u *User) Message {
	account := u.Account
	if len(account) == 0 {
		account = "*"
	}
	realHost := u.RealHostname
	if len(realHost) == 0 {
		realHost = u.Hostname
	}

	return Message{
		Prefix:  string(h.Config.TS6SID),
		Command: "EUID",
		Params: []string{
			u.DisplayNick,
			fmt.Sprintf("%d", u.HopCount+1),
			fmt.Sprintf("%d", u.NickTS),
			u.modesString(),
			u.Username,
			u.Hostname,
			u.IP,
			string(u.UID),
			realHost,
			account,
			u.RealName,
		},
	}
}
