package main

import (
	"fmt"
	"time"
)

// User holds information about a user. It may be remote or local.
type User struct {
	DisplayNick string

	HopCount int

	NickTS   int64
	Modes    map[byte]struct{}
	Username string

	// Displayed hostname. A cloak or vhost if one applies.
	Hostname string

	// The hostname we resolved at connect time. Blank for remote users
	// introduced without one.
	RealHostname string

	IP       string
	UID      TS6UID
	RealName string

	// Account the user is logged in to. Blank if not logged in.
	Account string

	// Certificate fingerprint if they connected with a client cert.
	CertFP string

	AwayMessage string

	ConnectionTime time.Time

	// Channel name (canonicalized) to Channel.
	Channels map[string]*Channel

	// Nicks (canonicalized) this user watches with MONITOR.
	MonitorTargets map[string]struct{}

	// Nicks (canonicalized) permitted through caller-ID (+g).
	AcceptList map[string]struct{}

	// Set on our services pseudo-users. They don't count in LUSERS and
	// regular users can't kill them.
	IsService bool

	// The server the user is on.
	Server *Server

	// Our local link the user is closest through. nil if local.
	ClosestServer *LocalServer

	LocalUser *LocalUser
}

func (u *User) String() string {
	return fmt.Sprintf("%s: %s", u.UID, u.nickUhost())
}

func (u *User) nickUhost() string {
	return fmt.Sprintf("%s!%s@%s", u.DisplayNick, u.Username, u.Hostname)
}

func (u *User) isLocal() bool {
	return u.LocalUser != nil
}

func (u *User) isRemote() bool {
	return !u.isLocal()
}

func (u *User) isOperator() bool {
	_, exists := u.Modes['o']
	return exists
}

func (u *User) isAway() bool {
	return len(u.AwayMessage) > 0
}

// Caller-ID. Only accepted nicks may message the user.
func (u *User) hasCallerID() bool {
	_, exists := u.Modes['g']
	return exists
}

func (u *User) modesString() string {
	s := "+"
	for m := range u.Modes {
		s += string(m)
	}
	return s
}

// onChannel tells us whether the user is in the given channel.
func (u *User) onChannel(channel *Channel) bool {
	_, exists := u.Channels[channel.Name]
	return exists
}
