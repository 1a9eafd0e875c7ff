package main

import "time"

// Account is a services account (NickServ registration).
type Account struct {
	ID           int64
	Name         string
	PasswordHash string
	Email        string
	RegisteredAt time.Time
	LastSeen     time.Time
}

// RegisteredChannel is a ChanServ channel registration.
type RegisteredChannel struct {
	ID           int64
	Name         string
	Founder      string
	RegisteredAt time.Time
	TopicLock    bool
	Successor    string
}

// ChannelAccess is one account's flags on a registered channel.
type ChannelAccess struct {
	Channel string
	Account string

	// Flag letters, e.g. "o" for auto-op, "F" for founder-like control.
	Flags string
}

// Memo is a MemoServ message.
type Memo struct {
	ID        int64
	Recipient string
	Sender    string
	Body      string
	SentAt    time.Time
	Read      bool
}

// VirtualHost is a HostServ vhost request or grant.
type VirtualHost struct {
	ID          int64
	Account     string
	Vhost       string
	Approved    bool
	RequestedAt time.Time
}

// ServerBan is a K/G/Z-line or jupe. An empty expiry means permanent.
type ServerBan struct {
	ID       int64
	Kind     string
	UserMask string
	HostMask string
	Reason   string
	Setter   string
	SetAt    time.Time
	ExpireAt time.Time
}

// Ban kinds.
const (
	BanKline = "K"
	BanGline = "G"
	BanZline = "Z"
	BanJupe  = "J"
)

func (b ServerBan) expired(now time.Time) bool {
	return !b.ExpireAt.IsZero() && b.ExpireAt.Before(now)
}

func (b ServerBan) mask() string {
	if b.Kind == BanZline || b.Kind == BanJupe {
		return b.HostMask
	}
	return b.UserMask + "@" + b.HostMask
}

// StoredMessage is one line of chat history.
type StoredMessage struct {
	ID      int64
	MsgID   string
	Target  string
	Sender  string
	Account string
	Command string
	Body    string
	SentAt  time.Time
}

// Bot is a BotServ bot definition.
type Bot struct {
	ID       int64
	Nick     string
	Username string
	Hostname string
	RealName string
}

// AccountRepository stores services accounts.
type AccountRepository interface {
	GetByID(id int64) (*Account, error)

	// GetByName looks up by canonicalized name. Returns nil, nil when
	// the account does not exist.
	GetByName(name string) (*Account, error)

	Create(a *Account) error
	Update(a *Account) error
	Delete(name string) error
}

// RegisteredChannelRepository stores ChanServ registrations and access
// lists.
type RegisteredChannelRepository interface {
	// GetByName looks up by canonicalized channel name. Returns nil, nil
	// when not registered.
	GetByName(name string) (*RegisteredChannel, error)

	Create(c *RegisteredChannel) error
	Update(c *RegisteredChannel) error
	Delete(name string) error

	GetAccess(channel string) ([]ChannelAccess, error)

	// SetAccess with empty flags removes the entry.
	SetAccess(channel, account, flags string) error
}

// MemoRepository stores MemoServ memos.
type MemoRepository interface {
	GetByID(id int64) (*Memo, error)
	ListForRecipient(account string) ([]Memo, error)
	CountUnread(account string) (int, error)
	Send(m *Memo) error
	MarkRead(id int64) error
	Delete(id int64) error
}

// VirtualHostRepository stores HostServ vhost state.
type VirtualHostRepository interface {
	// GetByAccount returns nil, nil when the account has no vhost record.
	GetByAccount(account string) (*VirtualHost, error)

	GetPending() ([]VirtualHost, error)
	Request(v *VirtualHost) error
	Activate(account string) error
	Reject(account string) error
}

// ServerBanRepository persists network bans so they survive restarts.
type ServerBanRepository interface {
	// GetActive returns unexpired bans of one kind.
	GetActive(kind string) ([]ServerBan, error)

	Add(b *ServerBan) error
	Remove(kind, userMask, hostMask string) error
}

// MessageRepository stores chat history.
type MessageRepository interface {
	Record(m *StoredMessage) error

	// GetByMsgID returns nil, nil when no such message exists.
	GetByMsgID(target, msgid string) (*StoredMessage, error)
	GetLatest(target string, limit int) ([]StoredMessage, error)
	GetBefore(target string, t time.Time, limit int) ([]StoredMessage, error)
	GetAfter(target string, t time.Time, limit int) ([]StoredMessage, error)
	GetAround(target string, t time.Time, limit int) ([]StoredMessage, error)
	GetBetween(target string, start, end time.Time,
		limit int) ([]StoredMessage, error)
}

// CertFPRepository maps TLS client certificate fingerprints to
// accounts, for SASL EXTERNAL.
type CertFPRepository interface {
	// GetAccountByFingerprint returns "" when no account matches.
	GetAccountByFingerprint(fp string) (string, error)

	Add(account, fp string) error
	Remove(account, fp string) error
}

// BotRepository stores BotServ bot definitions.
type BotRepository interface {
	// GetByNick returns nil, nil when no such bot exists.
	GetByNick(nick string) (*Bot, error)

	List() ([]Bot, error)
	Create(b *Bot) error
	Delete(nick string) error
}

// ChannelBotRepository stores which bot serves which channel.
type ChannelBotRepository interface {
	// GetBot returns "" when no bot is assigned.
	GetBot(channel string) (string, error)

	Assign(channel, bot string) error
	Unassign(channel string) error
}
