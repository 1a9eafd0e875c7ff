/*
 * heron is an IRC server. It speaks RFC 1459/2812 with IRCv3
 * extensions to clients, links to other servers with a TS6 style
 * protocol, and runs its services (NickServ and friends) in process.
 */

package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// TS6ID is the part of a TS6 UID unique to a server (6 characters).
type TS6ID string

// TS6SID is a server's unique ID (3 characters).
type TS6SID string

// TS6UID is SID + ID. Unique network wide.
type TS6UID string

// EventType is a type of event we can tell the server about.
type EventType int

const (
	// NullEvent is a default event. This means the event was not populated.
	NullEvent EventType = iota

	// NewClientEvent means a new client connected.
	NewClientEvent

	// DeadClientEvent means client died for some reason. Clean it up.
	DeadClientEvent

	// MessageFromClientEvent means a client sent a message.
	MessageFromClientEvent

	// WakeUpEvent means the server should wake up and do bookkeeping.
	WakeUpEvent

	// RehashEvent tells the server to reload its configuration.
	RehashEvent
)

// Event holds a message to the server goroutine.
type Event struct {
	Type EventType

	Client *LocalClient

	Message Message
}

// Heron holds the state for a server.
// I put everything global to a server in an instance of struct rather than
// have global variables.
type Heron struct {
	ConfigFile string
	Config     *Config

	Log *logrus.Logger

	Store    *Store
	Bans     *BanEngine
	Whowas   *WhowasBuffer
	Monitor  *MonitorIndex
	Services *ServiceRegistry
	Notifier *Notifier

	// Next client ID to issue. Also the source of TS6 IDs.
	NextClientID uint64

	// LocalClients are unregistered.
	LocalClients map[uint64]*LocalClient

	// LocalUsers are clients registered as users.
	LocalUsers map[uint64]*LocalUser

	// LocalServers are clients registered as servers.
	LocalServers map[uint64]*LocalServer

	// Users with operator status. They may be remote.
	Opers map[TS6UID]*User

	// Canonicalized nickname to TS6 UID.
	Nicks map[string]TS6UID

	// TS6 UID to User. Local or remote.
	Users map[TS6UID]*User

	// TS6 SID to Server. Local or remote.
	Servers map[TS6SID]*Server

	// Channel name (canonicalized) to Channel.
	Channels map[string]*Channel

	// When we started.
	StartTime time.Time

	// Per IP connection rate limiting.
	ConnRates *connRateTracker

	Listeners []net.Listener

	// When we close this channel, this indicates that we're shutting down.
	// Other goroutines can check if this channel is closed.
	ShutdownChan chan struct{}

	// Tell the server something on this channel.
	ToServerChan chan Event

	// Set if we should restart after shutting down.
	Restart bool

	// When we last tried to bring up missing links.
	lastConnectAttempt time.Time

	WG conc.WaitGroup
}

func main() {
	args, err := getArgs()
	if err != nil {
		logrus.Fatal(err)
	}

	if args.TestConfig {
		checkConfigOnly(args.ConfigFile)
	}

	for {
		h, err := newHeron(args.ConfigFile)
		if err != nil {
			logrus.Fatal(err)
		}

		if err := h.start(); err != nil {
			h.Log.Error(err)
			os.Exit(1)
		}

		if !h.Restart {
			h.Log.Info("server shut down cleanly")
			break
		}

		h.Log.Info("restarting")
	}
}

func newHeron(configFile string) (*Heron, error) {
	cfg, err := checkAndParseConfig(configFile)
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg.LogLevel)

	store, err := NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	bans, err := newBanEngine(store.Bans)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	h := &Heron{
		ConfigFile:   configFile,
		Config:       cfg,
		Log:          log,
		Store:        store,
		Bans:         bans,
		Whowas:       newWhowasBuffer(cfg.WhowasDepth),
		Monitor:      newMonitorIndex(),
		Notifier:     newNotifier(),
		LocalClients: make(map[uint64]*LocalClient),
		LocalUsers:   make(map[uint64]*LocalUser),
		LocalServers: make(map[uint64]*LocalServer),
		Opers:        make(map[TS6UID]*User),
		Nicks:        make(map[string]TS6UID),
		Users:        make(map[TS6UID]*User),
		Servers:      make(map[TS6SID]*Server),
		Channels:     make(map[string]*Channel),
		StartTime:    time.Now(),
		ConnRates:    newConnRateTracker(cfg.ConnectionsPerMinute),
		ShutdownChan: make(chan struct{}),
		ToServerChan: make(chan Event),
	}

	// We appear in the server map like any other server. Simplifies
	// operations that walk the network.
	h.Servers[cfg.TS6SID] = &Server{
		SID:         cfg.TS6SID,
		Name:        cfg.ServerName,
		Description: cfg.ServerInfo,
		LinkTime:    h.StartTime,
	}

	h.Services = newServiceRegistry(h)

	log.AddHook(h.Notifier.logHook())

	return h, nil
}

// me gives this server's own entry in the server map.
func (h *Heron) me() *Server {
	return h.Servers[h.Config.TS6SID]
}

// start starts up the server.
//
// We open the TCP port, start goroutines, and then act based on events
// on our channel.
func (h *Heron) start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%s", h.Config.ListenHost,
		h.Config.ListenPort))
	if err != nil {
		return fmt.Errorf("unable to listen: %s", err)
	}
	h.Listeners = append(h.Listeners, ln)

	h.WG.Go(func() { h.acceptConnections(ln, false) })

	if len(h.Config.ListenPortTLS) > 0 {
		cert, err := tls.LoadX509KeyPair(h.Config.TLSCert, h.Config.TLSKey)
		if err != nil {
			return fmt.Errorf("unable to load TLS certificate: %s", err)
		}

		tlsLn, err := tls.Listen("tcp",
			fmt.Sprintf("%s:%s", h.Config.ListenHost, h.Config.ListenPortTLS),
			&tls.Config{
				Certificates: []tls.Certificate{cert},
				// We want client certs when offered, for SASL EXTERNAL.
				ClientAuth: tls.RequestClientCert,
			})
		if err != nil {
			return fmt.Errorf("unable to listen (TLS): %s", err)
		}
		h.Listeners = append(h.Listeners, tlsLn)

		h.WG.Go(func() { h.acceptConnections(tlsLn, true) })
	}

	h.Services.spawn()

	// Alarm is a goroutine to wake up this one periodically so we can do
	// things like ping clients.
	h.WG.Go(h.alarm)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	h.WG.Go(func() {
		for {
			select {
			case sig := <-signalChan:
				if sig == syscall.SIGHUP {
					h.newEvent(Event{Type: RehashEvent})
					continue
				}
				h.Log.WithField("signal", sig).Info("shutting down on signal")
				h.shutdown()
				return
			case <-h.ShutdownChan:
				return
			}
		}
	})

	h.Log.WithFields(logrus.Fields{
		"component": "listener",
		"host":      h.Config.ListenHost,
		"port":      h.Config.ListenPort,
	}).Info("listening")

	h.connectToServers()

	h.eventLoop()

	signal.Stop(signalChan)

	// We don't need to drain any channels. None will have any messages
	// in transit that matter at this point.

	h.WG.Wait()

	return h.Store.Close()
}

// eventLoop processes events on the server's channel.
//
// It continues until the shutdown channel closes, indicating shutdown.
func (h *Heron) eventLoop() {
	for {
		select {
		case evt := <-h.ToServerChan:
			switch evt.Type {
			case NewClientEvent:
				h.Log.WithField("client", evt.Client.String()).
					Debug("new client connection")
				h.LocalClients[evt.Client.ID] = evt.Client

			case DeadClientEvent:
				if lc, exists := h.LocalClients[evt.Client.ID]; exists {
					lc.quit("I/O error")
					break
				}
				if lu, exists := h.LocalUsers[evt.Client.ID]; exists {
					lu.quit("I/O error", true)
					break
				}
				if ls, exists := h.LocalServers[evt.Client.ID]; exists {
					ls.quit("I/O error")
				}

			case MessageFromClientEvent:
				if lc, exists := h.LocalClients[evt.Client.ID]; exists {
					lc.handleMessage(evt.Message)
					break
				}
				if lu, exists := h.LocalUsers[evt.Client.ID]; exists {
					lu.handleMessage(evt.Message)
					break
				}
				if ls, exists := h.LocalServers[evt.Client.ID]; exists {
					ls.handleMessage(evt.Message)
				}

			case WakeUpEvent:
				h.checkAndPingClients()
				h.checkUnregisteredClients()
				h.Bans.expire(time.Now())
				h.ConnRates.sweep(time.Now())
				h.connectToServers()

			case RehashEvent:
				h.rehash(nil)
			}

		case <-h.ShutdownChan:
			return
		}
	}
}

// shutdown starts server shutdown.
func (h *Heron) shutdown() {
	h.Log.Info("server shutting down")

	// closing ShutdownChan indicates to other goroutines that we're
	// shutting down.
	close(h.ShutdownChan)

	for _, ln := range h.Listeners {
		if err := ln.Close(); err != nil {
			h.Log.WithError(err).Warn("problem closing listener")
		}
	}

	// All clients need to be told. This also closes their write
	// channels.
	for _, client := range h.LocalClients {
		client.quit("Server shutting down")
	}
	for _, client := range h.LocalUsers {
		client.quit("Server shutting down", false)
	}
	for _, client := range h.LocalServers {
		client.quit("Server shutting down")
	}
}

// rehash reloads our configuration. The result (or failure) goes to the
// requesting oper when there is one.
func (h *Heron) rehash(byUser *LocalUser) {
	cfg, err := checkAndParseConfig(h.ConfigFile)
	if err != nil {
		h.Log.WithError(err).Error("rehash failed")
		if byUser != nil {
			byUser.serverNotice(fmt.Sprintf("Rehash failed: %s", err))
		}
		return
	}

	h.Config = cfg
	h.noticeOpers("Rehashed configuration")
	h.Notifier.publish(ServerEvent{
		Kind:    EventRehash,
		Message: "configuration reloaded",
	})
}

// acceptConnections accepts TCP connections and tells the main server
// loop through a channel. It sets up separate goroutines for
// reading/writing to and from the client.
func (h *Heron) acceptConnections(ln net.Listener, isTLS bool) {
	for {
		if h.isShuttingDown() {
			break
		}

		conn, err := ln.Accept()
		if err != nil {
			if h.isShuttingDown() {
				break
			}
			h.Log.WithError(err).Warn("failed to accept connection")
			continue
		}

		if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			ip := tcpAddr.IP.String()

			if !h.ConnRates.allow(ip) {
				_ = conn.Close()
				continue
			}

			// Z-lines apply before registration, on IP alone.
			if ban := h.Bans.matchIP(ip); ban != nil {
				_ = conn.Close()
				continue
			}
		}

		id, ok := h.getClientID()
		if !ok {
			h.Log.Error("out of client ids")
			_ = conn.Close()
			continue
		}

		client := NewLocalClient(h, id, conn)

		if isTLS {
			if tlsConn, ok := conn.(*tls.Conn); ok {
				client.TLSConn = tlsConn
			}
		}

		h.WG.Go(client.readLoop)
		h.WG.Go(client.writeLoop)

		h.newEvent(Event{Type: NewClientEvent, Client: client})
	}

	h.Log.Debug("accept goroutine shutting down")
}

// getClientID hands out the next connection ID.
func (h *Heron) getClientID() (uint64, bool) {
	id := h.NextClientID

	// Handle rollover of uint64. Unlikely to happen (outside abuse) but.
	if id+1 == 0 {
		return 0, false
	}
	h.NextClientID++

	return id, true
}

// makeTS6UID prefixes our SID to the TS6 ID derived from a client ID.
func (h *Heron) makeTS6UID(id uint64) (TS6UID, error) {
	ts6id, err := makeTS6ID(id)
	if err != nil {
		return "", err
	}

	return TS6UID(string(h.Config.TS6SID) + string(ts6id)), nil
}

// Alarm sends a message to the server goroutine to wake it up.
func (h *Heron) alarm() {
	for {
		select {
		case <-time.After(h.Config.WakeupTime):
		case <-h.ShutdownChan:
			h.Log.Debug("alarm shutting down")
			return
		}

		h.newEvent(Event{Type: WakeUpEvent})
	}
}

// newEvent tells the server something on its channel, unless we are
// shutting down.
func (h *Heron) newEvent(evt Event) {
	select {
	case h.ToServerChan <- evt:
	case <-h.ShutdownChan:
	}
}

func (h *Heron) isShuttingDown() bool {
	select {
	case <-h.ShutdownChan:
		return true
	default:
		return false
	}
}

// checkAndPingClients looks at each registered connection.
//
// If they've been idle a short time, we send them a PING.
// If they've been idle a long time, we kill their connection.
// We also kill any client that overflowed its send queue.
func (h *Heron) checkAndPingClients() {
	now := time.Now()

	for _, client := range h.LocalUsers {
		if client.SendQueueExceeded {
			client.quit("SendQ exceeded", true)
			continue
		}

		timeIdle := now.Sub(client.LastActivityTime)
		if timeIdle < h.Config.PingTime {
			continue
		}

		if timeIdle > h.Config.DeadTime {
			client.quit(fmt.Sprintf("Ping timeout: %d seconds",
				int(timeIdle.Seconds())), true)
			continue
		}

		if now.Sub(client.LastPingTime) >= h.Config.PingTime {
			client.maybeQueueMessage(Message{
				Prefix:  h.Config.ServerName,
				Command: "PING",
				Params:  []string{h.Config.ServerName},
			})
			client.LastPingTime = now
		}
	}

	for _, server := range h.LocalServers {
		if server.SendQueueExceeded {
			server.quit("SendQ exceeded")
			continue
		}

		timeIdle := now.Sub(server.LastActivityTime)
		if timeIdle > h.Config.DeadTime {
			server.quit(fmt.Sprintf("Ping timeout: %d seconds",
				int(timeIdle.Seconds())))
			continue
		}

		if timeIdle >= h.Config.PingTime &&
			now.Sub(server.LastPingTime) >= h.Config.PingTime {
			server.maybeQueueMessage(Message{
				Command: "PING",
				Params:  []string{string(h.Config.TS6SID)},
			})
			server.LastPingTime = now
		}
	}
}

// checkUnregisteredClients disconnects connections that have sat too
// long without registering.
func (h *Heron) checkUnregisteredClients() {
	now := time.Now()

	for _, client := range h.LocalClients {
		if client.SendQueueExceeded {
			client.quit("SendQ exceeded")
			continue
		}

		if now.Sub(client.ConnectionStartTime) >
			h.Config.RegistrationTimeout {
			client.quit("Registration timeout")
		}
	}
}

// connectToServers tries to link to any configured server we should be
// linked to but aren't. Attempts are spaced out.
func (h *Heron) connectToServers() {
	now := time.Now()
	if !h.lastConnectAttempt.IsZero() &&
		now.Sub(h.lastConnectAttempt) < h.Config.ConnectAttemptTime {
		return
	}
	h.lastConnectAttempt = now

	for _, linkInfo := range h.Config.Servers {
		if !linkInfo.AutoConnect {
			continue
		}
		if h.isLinkedToServer(linkInfo.Name) {
			continue
		}

		h.connectToServer(linkInfo)
	}
}

// isLinkedToServer tells whether we know a server by this name,
// directly linked or not.
func (h *Heron) isLinkedToServer(name string) bool {
	for _, server := range h.Servers {
		if server.Name == name {
			return true
		}
	}

	// An in-flight handshake counts too.
	for _, client := range h.LocalClients {
		if client.SentSERVER && client.LinkName == name {
			return true
		}
	}

	return false
}

// connectToServer initiates a link to a server.
func (h *Heron) connectToServer(linkInfo ServerDefinition) {
	if ban := h.Bans.isJuped(linkInfo.Name); ban != nil {
		return
	}

	log := h.Log.WithFields(logrus.Fields{
		"component": "s2s",
		"server":    linkInfo.Name,
	})

	addr := fmt.Sprintf("%s:%d", linkInfo.Hostname, linkInfo.Port)

	var conn net.Conn
	var err error
	if linkInfo.TLS {
		conn, err = tls.DialWithDialer(
			&net.Dialer{Timeout: h.Config.DeadTime}, "tcp", addr,
			&tls.Config{ServerName: linkInfo.Hostname})
	} else {
		conn, err = net.DialTimeout("tcp", addr, h.Config.DeadTime)
	}
	if err != nil {
		log.WithError(err).Warn("unable to connect")
		return
	}

	id, ok := h.getClientID()
	if !ok {
		_ = conn.Close()
		return
	}

	client := NewLocalClient(h, id, conn)
	client.LinkName = linkInfo.Name

	h.LocalClients[client.ID] = client

	h.WG.Go(client.readLoop)
	h.WG.Go(client.writeLoop)

	client.sendServerIntro(linkInfo.SendPass)

	log.Info("link attempt started")
}

// getCreateChannel looks up a channel, creating it when missing.
func (h *Heron) getCreateChannel(name string) *Channel {
	name = canonicalizeChannel(name)

	channel, exists := h.Channels[name]
	if !exists {
		channel = newChannel(name, time.Now().Unix())
		h.Channels[name] = channel
	}

	return channel
}

// userCount counts users, skipping our service pseudo-users.
func (h *Heron) userCount() int {
	n := 0
	for _, u := range h.Users {
		if !u.IsService {
			n++
		}
	}
	return n
}

func (h *Heron) serviceCount() int {
	return len(h.Users) - h.userCount()
}

// operCount counts opered users, skipping services.
func (h *Heron) operCount() int {
	n := 0
	for _, u := range h.Opers {
		if !u.IsService {
			n++
		}
	}
	return n
}

// noticeOpers sends a notice to all operators, local and remote.
func (h *Heron) noticeOpers(msg string) {
	h.noticeLocalOpers(msg)

	for _, user := range h.Opers {
		if user.isLocal() || user.IsService {
			continue
		}
		user.ClosestServer.maybeQueueMessage(Message{
			Prefix:  string(h.Config.TS6SID),
			Command: "NOTICE",
			Params:  []string{string(user.UID), fmt.Sprintf("*** Notice --- %s", msg)},
		})
	}
}

// noticeLocalOpers sends a notice to all local operators.
func (h *Heron) noticeLocalOpers(msg string) {
	for _, user := range h.Opers {
		if !user.isLocal() {
			continue
		}
		user.LocalUser.serverNotice(msg)
	}
}

// notifyMonitorOnline tells watchers a nick came online.
func (h *Heron) notifyMonitorOnline(u *User) {
	for _, lu := range h.Monitor.watchersOf(u.DisplayNick) {
		// 730 RPL_MONONLINE
		lu.messageFromServer("730", []string{u.nickUhost()})
	}
}

// notifyMonitorOffline tells watchers a nick went away.
func (h *Heron) notifyMonitorOffline(nick string) {
	for _, lu := range h.Monitor.watchersOf(nick) {
		// 731 RPL_MONOFFLINE
		lu.messageFromServer("731", []string{nick})
	}
}

// resolveUser finds a user by nick, skipping nothing. nil if unknown.
func (h *Heron) resolveUser(nick string) *User {
	uid, exists := h.Nicks[canonicalizeNick(nick)]
	if !exists {
		return nil
	}
	return h.Users[uid]
}
