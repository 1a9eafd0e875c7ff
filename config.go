package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
)

// Config holds a server's configuration.
type Config struct {
	ListenHost    string
	ListenPort    string
	ListenPortTLS string
	TLSCert       string
	TLSKey        string

	ServerName  string
	NetworkName string
	ServerInfo  string
	AdminEmail  string
	Version     string
	CreatedDate string
	MOTD        string

	MaxConnections     int
	MaxUsers           int
	MaxChannelsPerUser int
	MaxUsersPerChannel int
	MaxNickLength      int

	// Period of time to wait before waking server up (maximum).
	WakeupTime time.Duration

	// Period of time a client can be idle before we send it a PING.
	PingTime time.Duration

	// Period of time a client can be idle before we consider it dead.
	DeadTime time.Duration

	// How long a connection may sit unregistered.
	RegistrationTimeout time.Duration

	// Period of time to wait between attempts connecting to servers we
	// should be linked with.
	ConnectAttemptTime time.Duration

	RequireTLS bool

	CloakHostnames bool
	CloakPrefix    string
	CloakSecret    string

	FloodProtection      bool
	MessagesPerSecond    int
	CommandsPerSecond    int
	ConnectionsPerMinute int

	AllowChannelCreation bool

	// Caps to advertise. Empty means everything we support.
	EnabledCapabilities []string

	// Optional connection password (PASS before registration).
	ServerPassword string

	// Oper name to its block.
	Opers map[string]OperBlock

	// Server name to its link information.
	Servers map[string]ServerDefinition

	// WEBIRC gateway name to its block.
	WebircGateways map[string]WebircBlock

	// TS6 SID. Must be unique in the network. Format: [0-9][A-Z0-9]{2}
	TS6SID TS6SID

	DatabasePath string

	WhowasDepth      int
	ChathistoryLimit int

	LogLevel string
}

// OperBlock defines an operator login.
type OperBlock struct {
	Name string

	// bcrypt hash of the oper password.
	PasswordHash string

	// user@host masks the oper must connect from. Empty means anywhere.
	Hostmasks []string

	Class string
}

// ServerDefinition defines how to link to a server.
type ServerDefinition struct {
	Name        string
	Hostname    string
	Port        int
	SendPass    string
	RecvPass    string
	AutoConnect bool
	TLS         bool
}

// WebircBlock authorizes a WEBIRC gateway.
type WebircBlock struct {
	Name     string
	Password string

	// IPs the gateway may connect from.
	Sources []string
}

// checkAndParseConfig checks configuration keys are present and in an
// acceptable format.
//
// We parse some values into alternate representations.
func checkAndParseConfig(file string) (*Config, error) {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return nil, err
	}

	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"server-name",
		"server-info",
		"motd",
		"opers-config",
		"servers-config",
		"ts6-sid",
		"database-path",
	}

	// Check each key we want is present and non-blank.
	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return nil, errors.Errorf("missing required key: %s", key)
		}

		if len(v) == 0 {
			return nil, errors.Errorf("configuration value is blank: %s", key)
		}
	}

	c := &Config{}

	c.ListenHost = configMap["listen-host"]
	c.ListenPort = configMap["listen-port"]
	c.ListenPortTLS = configMap["listen-port-tls"]
	c.TLSCert = configMap["tls-cert"]
	c.TLSKey = configMap["tls-key"]

	if len(c.ListenPortTLS) > 0 &&
		(len(c.TLSCert) == 0 || len(c.TLSKey) == 0) {
		return nil, errors.New("listen-port-tls requires tls-cert and tls-key")
	}

	c.ServerName = configMap["server-name"]
	c.ServerInfo = configMap["server-info"]
	c.NetworkName = stringOrDefault(configMap, "network-name", "heron")
	c.AdminEmail = configMap["admin-email"]
	c.Version = stringOrDefault(configMap, "version", "heron-1.0.0")
	c.CreatedDate = stringOrDefault(configMap, "created-date", "2026-01-01")
	c.MOTD = configMap["motd"]

	if c.MaxConnections, err = intOrDefault(configMap, "max-connections",
		10000); err != nil {
		return nil, err
	}
	if c.MaxUsers, err = intOrDefault(configMap, "max-users", 10000); err != nil {
		return nil, err
	}
	if c.MaxChannelsPerUser, err = intOrDefault(configMap,
		"max-channels-per-user", 50); err != nil {
		return nil, err
	}
	if c.MaxUsersPerChannel, err = intOrDefault(configMap,
		"max-users-per-channel", 0); err != nil {
		return nil, err
	}
	if c.MaxNickLength, err = intOrDefault(configMap, "max-nick-length",
		20); err != nil {
		return nil, err
	}

	if c.WakeupTime, err = durationOrDefault(configMap, "wakeup-time",
		10*time.Second); err != nil {
		return nil, err
	}
	if c.PingTime, err = durationOrDefault(configMap, "ping-time",
		30*time.Second); err != nil {
		return nil, err
	}
	if c.DeadTime, err = durationOrDefault(configMap, "dead-time",
		240*time.Second); err != nil {
		return nil, err
	}
	if c.RegistrationTimeout, err = durationOrDefault(configMap,
		"registration-timeout", 60*time.Second); err != nil {
		return nil, err
	}
	if c.ConnectAttemptTime, err = durationOrDefault(configMap,
		"connect-attempt-time", 60*time.Second); err != nil {
		return nil, err
	}

	c.RequireTLS = configMap["require-tls"] == "true"

	c.CloakHostnames = configMap["cloak-hostnames"] == "true"
	c.CloakPrefix = stringOrDefault(configMap, "cloak-prefix", "heron")
	c.CloakSecret = configMap["cloak-secret"]
	if c.CloakHostnames && len(c.CloakSecret) == 0 {
		return nil, errors.New("cloak-hostnames requires cloak-secret")
	}

	c.FloodProtection = configMap["flood-protection"] != "false"
	if c.MessagesPerSecond, err = intOrDefault(configMap,
		"messages-per-second", 4); err != nil {
		return nil, err
	}
	if c.CommandsPerSecond, err = intOrDefault(configMap,
		"commands-per-second", 10); err != nil {
		return nil, err
	}
	if c.ConnectionsPerMinute, err = intOrDefault(configMap,
		"connections-per-minute", 20); err != nil {
		return nil, err
	}

	c.AllowChannelCreation = configMap["allow-channel-creation"] != "false"

	if v := configMap["enabled-capabilities"]; len(v) > 0 {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if len(name) > 0 {
				c.EnabledCapabilities = append(c.EnabledCapabilities, name)
			}
		}
	}

	c.ServerPassword = configMap["server-password"]

	c.Opers = make(map[string]OperBlock)
	opers, err := config.ReadStringMap(configMap["opers-config"])
	if err != nil {
		return nil, errors.Wrap(err, "unable to load opers config")
	}
	for name, v := range opers {
		block, err := parseOperBlock(name, v)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed oper block: %s", name)
		}
		c.Opers[name] = block
	}

	c.Servers = make(map[string]ServerDefinition)
	servers, err := config.ReadStringMap(configMap["servers-config"])
	if err != nil {
		return nil, errors.Wrap(err, "unable to load servers config")
	}
	for name, v := range servers {
		link, err := parseLink(name, v)
		if err != nil {
			return nil, errors.Wrapf(err,
				"malformed server link information: %s", name)
		}
		c.Servers[name] = link
	}

	c.WebircGateways = make(map[string]WebircBlock)
	if file := configMap["webirc-config"]; len(file) > 0 {
		gateways, err := config.ReadStringMap(file)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load webirc config")
		}
		for name, v := range gateways {
			block, err := parseWebircBlock(name, v)
			if err != nil {
				return nil, errors.Wrapf(err, "malformed webirc block: %s", name)
			}
			c.WebircGateways[name] = block
		}
	}

	if !isValidSID(configMap["ts6-sid"]) {
		return nil, errors.New("invalid TS6 SID")
	}
	c.TS6SID = TS6SID(configMap["ts6-sid"])

	c.DatabasePath = configMap["database-path"]

	if c.WhowasDepth, err = intOrDefault(configMap, "whowas-depth",
		1024); err != nil {
		return nil, err
	}
	if c.ChathistoryLimit, err = intOrDefault(configMap, "chathistory-limit",
		100); err != nil {
		return nil, err
	}

	c.LogLevel = stringOrDefault(configMap, "log-level", "info")

	return c, nil
}

func stringOrDefault(m map[string]string, key, def string) string {
	if v, ok := m[key]; ok && len(v) > 0 {
		return v
	}
	return def
}

func intOrDefault(m map[string]string, key string, def int) (int, error) {
	v, ok := m[key]
	if !ok || len(v) == 0 {
		return def, nil
	}

	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "%s is not valid", key)
	}
	return int(n), nil
}

func durationOrDefault(m map[string]string, key string,
	def time.Duration) (time.Duration, error) {
	v, ok := m[key]
	if !ok || len(v) == 0 {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s is in invalid format", key)
	}
	return d, nil
}

// Parse the value side of an oper definition from the opers config.
// Format:
// <bcrypt hash>,<hostmask>[ <hostmask>...],<class>
// The hostmask list may be blank to allow connecting from anywhere.
func parseOperBlock(name, s string) (OperBlock, error) {
	pieces := strings.Split(s, ",")
	if len(pieces) != 3 {
		return OperBlock{}, errors.New("unexpected number of fields")
	}

	hash := strings.TrimSpace(pieces[0])
	if len(hash) == 0 {
		return OperBlock{}, errors.New("you must specify a password hash")
	}

	return OperBlock{
		Name:         name,
		PasswordHash: hash,
		Hostmasks:    strings.Fields(pieces[1]),
		Class:        strings.TrimSpace(pieces[2]),
	}, nil
}

// Parse the value side of a server definition from the servers config.
// Format:
// <hostname>,<port>,<send pass>,<recv pass>,<autoconnect 0|1>,<tls 0|1>
func parseLink(name, s string) (ServerDefinition, error) {
	pieces := strings.Split(s, ",")
	if len(pieces) != 6 {
		return ServerDefinition{}, errors.New("unexpected number of fields")
	}

	hostname := strings.TrimSpace(pieces[0])
	if len(hostname) == 0 {
		return ServerDefinition{}, errors.New("you must specify a hostname")
	}

	port, err := strconv.ParseInt(strings.TrimSpace(pieces[1]), 10, 32)
	if err != nil {
		return ServerDefinition{}, errors.Wrapf(err, "invalid port: %s",
			pieces[1])
	}

	sendPass := strings.TrimSpace(pieces[2])
	recvPass := strings.TrimSpace(pieces[3])
	if len(sendPass) == 0 || len(recvPass) == 0 {
		return ServerDefinition{}, errors.New("you must specify both passwords")
	}

	return ServerDefinition{
		Name:        name,
		Hostname:    hostname,
		Port:        int(port),
		SendPass:    sendPass,
		RecvPass:    recvPass,
		AutoConnect: strings.TrimSpace(pieces[4]) == "1",
		TLS:         strings.TrimSpace(pieces[5]) == "1",
	}, nil
}

// Parse the value side of a webirc definition from the webirc config.
// Format:
// <password>,<source ip>[ <source ip>...]
func parseWebircBlock(name, s string) (WebircBlock, error) {
	pieces := strings.Split(s, ",")
	if len(pieces) != 2 {
		return WebircBlock{}, errors.New("unexpected number of fields")
	}

	pass := strings.TrimSpace(pieces[0])
	if len(pass) == 0 {
		return WebircBlock{}, errors.New("you must specify a password")
	}

	sources := strings.Fields(pieces[1])
	if len(sources) == 0 {
		return WebircBlock{}, errors.New("you must specify a source IP")
	}

	return WebircBlock{
		Name:     name,
		Password: pass,
		Sources:  sources,
	}, nil
}
