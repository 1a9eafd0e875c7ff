package main

import (
	"time"

	"github.com/google/uuid"
)

// Format for the server-time tag. Always UTC, millisecond precision.
const serverTimeFormat = "2006-01-02T15:04:05.000Z"

// stampMessage adds time, msgid, and account tags to a message entering
// the network from a local client. We stamp once, at the edge. Messages
// relayed from other servers keep the tags they arrived with.
func stampMessage(m Message, account string) Message {
	if _, exists := m.Tags["time"]; !exists {
		m = m.withTag("time", time.Now().UTC().Format(serverTimeFormat))
	}
	if _, exists := m.Tags["msgid"]; !exists {
		m = m.withTag("msgid", uuid.NewString())
	}
	if len(account) > 0 {
		m = m.withTag("account", account)
	}
	return m
}

// tailorMessage strips tags the recipient did not negotiate for.
// message-tags covers everything. Without it, each tag needs its own
// capability.
func tailorMessage(caps *CapSet, m Message) Message {
	if len(m.Tags) == 0 {
		return m
	}

	if caps != nil && caps.has("message-tags") {
		return m
	}

	var kept map[string]string
	for name, value := range m.Tags {
		var need string
		switch name {
		case "time":
			need = "server-time"
		case "account":
			need = "account-tag"
		case "batch":
			need = "batch"
		default:
			// Client-only tags and msgid need message-tags.
			continue
		}
		if caps != nil && caps.has(need) {
			if kept == nil {
				kept = make(map[string]string)
			}
			kept[name] = value
		}
	}

	m.Tags = kept
	return m
}

// messageLocalUsersOnChannel sends a message to every local member of a
// channel.
func (h *Heron) messageLocalUsersOnChannel(channel *Channel, m Message) {
	h.messageLocalUsersOnChannelExcept(channel, "", m)
}

// messageLocalUsersOnChannelExcept sends a message to every local
// member of a channel save one UID (usually the source).
func (h *Heron) messageLocalUsersOnChannelExcept(channel *Channel,
	except TS6UID, m Message) {
	for memberUID := range channel.Members {
		if memberUID == except {
			continue
		}
		member := h.Users[memberUID]
		if member == nil || !member.isLocal() {
			continue
		}
		member.LocalUser.maybeQueueMessage(m)
	}
}

// messageLocalUsersOnChannelWithCap sends a message only to local
// members who negotiated a capability. For cap-gated notifications like
// away-notify.
func (h *Heron) messageLocalUsersOnChannelWithCap(channel *Channel,
	capName string, except TS6UID, m Message) {
	for memberUID := range channel.Members {
		if memberUID == except {
			continue
		}
		member := h.Users[memberUID]
		if member == nil || !member.isLocal() {
			continue
		}
		if !member.LocalUser.Caps.has(capName) {
			continue
		}
		member.LocalUser.maybeQueueMessage(m)
	}
}

// messageAllServers propagates a message to every directly linked
// server.
func (h *Heron) messageAllServers(m Message) {
	for _, server := range h.LocalServers {
		server.maybeQueueMessage(m)
	}
}

// messageServersExcept propagates a message to every directly linked
// server other than the one it came from.
func (h *Heron) messageServersExcept(from *LocalServer, m Message) {
	for _, server := range h.LocalServers {
		if server == from {
			continue
		}
		server.maybeQueueMessage(m)
	}
}

// recordMessage persists a channel or private message for CHATHISTORY.
func (h *Heron) recordMessage(m Message, senderUhost, senderAccount,
	target string) {
	body := ""
	if len(m.Params) > 1 {
		body = m.Params[len(m.Params)-1]
	}

	sm := &StoredMessage{
		MsgID:   m.Tags["msgid"],
		Target:  canonicalizeChannel(target),
		Sender:  senderUhost,
		Account: senderAccount,
		Command: m.Command,
		Body:    body,
		SentAt:  time.Now(),
	}

	if err := h.Store.Messages.Record(sm); err != nil {
		h.Log.WithError(err).Warn("unable to record message")
	}
}
