package main

import (
	"time"
)

var hostServCommands = map[string]serviceCommand{
	"REQUEST": {handler: hsRequest, minArgs: 1, accountOnly: true,
		help: "REQUEST <vhost> - request a virtual host"},
	"ON": {handler: hsOn, accountOnly: true,
		help: "ON - activate your approved virtual host"},
	"OFF": {handler: hsOff, accountOnly: true,
		help: "OFF - deactivate your virtual host"},
	"STATUS": {handler: hsStatus, accountOnly: true,
		help: "STATUS - show your virtual host request"},
	"WAITING": {handler: hsWaiting, operOnly: true,
		help: "WAITING - list pending virtual host requests"},
	"ACTIVATE": {handler: hsActivate, minArgs: 1, operOnly: true,
		help: "ACTIVATE <account> - approve a virtual host request"},
	"REJECT": {handler: hsReject, minArgs: 1, operOnly: true,
		help: "REJECT <account> - reject a virtual host request"},
}

const maxVhostLength = 63

// isValidVhost accepts hostname-shaped vhosts only.
func isValidVhost(s string) bool {
	if len(s) == 0 || len(s) > maxVhostLength {
		return false
	}
	if s[0] == '.' || s[0] == '-' || s[len(s)-1] == '.' ||
		s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			c >= '0' && c <= '9' || c == '-' || c == '.' {
			continue
		}
		return false
	}
	return true
}

// applyHostname changes a user's displayed host and tells the network.
func applyHostname(h *Heron, user *User, hostname string) {
	user.Hostname = hostname

	h.messageAllServers(Message{
		Prefix:  string(user.UID),
		Command: "ENCAP",
		Params:  []string{"*", "CHGHOST", hostname},
	})
}

func hsRequest(sv *service, source *User, args []string) {
	h := sv.heron

	vhost := args[0]
	if !isValidVhost(vhost) {
		sv.notice(source, "%s is not a valid virtual host.", vhost)
		return
	}

	if err := h.Store.Vhosts.Request(&VirtualHost{
		Account:     source.Account,
		Vhost:       vhost,
		RequestedAt: time.Now(),
	}); err != nil {
		sv.notice(source, "Unable to file the request. Please try again.")
		return
	}

	sv.notice(source, "Requested %s. An operator will review it.", vhost)
	h.noticeOpers("New vhost request from " + source.Account + ": " + vhost)
}

func hsOn(sv *service, source *User, args []string) {
	v, err := sv.heron.Store.Vhosts.GetByAccount(source.Account)
	if err != nil || v == nil {
		sv.notice(source, "You have no virtual host. Use REQUEST first.")
		return
	}
	if !v.Approved {
		sv.notice(source, "Your virtual host is awaiting approval.")
		return
	}

	applyHostname(sv.heron, source, v.Vhost)
	sv.notice(source, "Your virtual host %s is now active.", v.Vhost)
}

func hsOff(sv *service, source *User, args []string) {
	h := sv.heron

	hostname := source.RealHostname
	if len(hostname) == 0 {
		hostname = source.IP
	}
	if h.Config.CloakHostnames && source.isLocal() {
		hostname = cloakHostname(h.Config.CloakPrefix, h.Config.CloakSecret,
			hostname)
	}

	applyHostname(h, source, hostname)
	sv.notice(source, "Your virtual host is deactivated.")
}

func hsStatus(sv *service, source *User, args []string) {
	v, err := sv.heron.Store.Vhosts.GetByAccount(source.Account)
	if err != nil || v == nil {
		sv.notice(source, "You have no virtual host request on file.")
		return
	}

	state := "pending approval"
	if v.Approved {
		state = "approved"
	}
	sv.notice(source, "Virtual host %s: %s.", v.Vhost, state)
}

func hsWaiting(sv *service, source *User, args []string) {
	pending, err := sv.heron.Store.Vhosts.GetPending()
	if err != nil {
		sv.notice(source, "Unable to load pending requests.")
		return
	}

	if len(pending) == 0 {
		sv.notice(source, "No pending virtual host requests.")
		return
	}

	sv.notice(source, "Pending virtual host requests:")
	for _, v := range pending {
		sv.notice(source, "  %s: %s (%s)", v.Account, v.Vhost,
			v.RequestedAt.Format("Jan 02 15:04"))
	}
	sv.notice(source, "End of pending requests.")
}

func hsActivate(sv *service, source *User, args []string) {
	h := sv.heron
	account := canonicalizeNick(args[0])

	v, err := h.Store.Vhosts.GetByAccount(account)
	if err != nil || v == nil {
		sv.notice(source, "%s has no virtual host request.", args[0])
		return
	}

	if err := h.Store.Vhosts.Activate(account); err != nil {
		sv.notice(source, "Unable to activate. Please try again.")
		return
	}

	sv.notice(source, "Activated %s for %s.", v.Vhost, account)

	// Tell the owner if they're around.
	for _, user := range h.Users {
		if user.Account != account {
			continue
		}
		sv.notice(user, "Your virtual host %s was approved. Use ON to wear it.",
			v.Vhost)
	}
}

func hsReject(sv *service, source *User, args []string) {
	h := sv.heron
	account := canonicalizeNick(args[0])

	v, err := h.Store.Vhosts.GetByAccount(account)
	if err != nil || v == nil {
		sv.notice(source, "%s has no virtual host request.", args[0])
		return
	}

	if err := h.Store.Vhosts.Reject(account); err != nil {
		sv.notice(source, "Unable to reject. Please try again.")
		return
	}

	sv.notice(source, "Rejected the request from %s.", account)

	for _, user := range h.Users {
		if user.Account != account {
			continue
		}
		sv.notice(user, "Your virtual host request for %s was rejected.",
			v.Vhost)
	}
}
