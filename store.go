package main

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store opens the SQLite database and hands out one repository per
// concern. All repositories share the single connection.
type Store struct {
	db *sql.DB

	Accounts    AccountRepository
	CertFPs     CertFPRepository
	Channels    RegisteredChannelRepository
	Memos       MemoRepository
	Vhosts      VirtualHostRepository
	Bans        ServerBanRepository
	Messages    MessageRepository
	Bots        BotRepository
	ChannelBots ChannelBotRepository
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	registered_at INTEGER NOT NULL,
	last_seen     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS certfps (
	account     TEXT NOT NULL,
	fingerprint TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS channels (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL UNIQUE,
	founder       TEXT NOT NULL,
	registered_at INTEGER NOT NULL,
	topic_lock    INTEGER NOT NULL DEFAULT 0,
	successor     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS channel_access (
	channel TEXT NOT NULL,
	account TEXT NOT NULL,
	flags   TEXT NOT NULL,
	PRIMARY KEY (channel, account)
);
CREATE TABLE IF NOT EXISTS memos (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient TEXT NOT NULL,
	sender    TEXT NOT NULL,
	body      TEXT NOT NULL,
	sent_at   INTEGER NOT NULL,
	read      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS vhosts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	account      TEXT NOT NULL UNIQUE,
	vhost        TEXT NOT NULL,
	approved     INTEGER NOT NULL DEFAULT 0,
	requested_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS bans (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind      TEXT NOT NULL,
	user_mask TEXT NOT NULL,
	host_mask TEXT NOT NULL,
	reason    TEXT NOT NULL,
	setter    TEXT NOT NULL,
	set_at    INTEGER NOT NULL,
	expire_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	msgid   TEXT NOT NULL,
	target  TEXT NOT NULL,
	sender  TEXT NOT NULL,
	account TEXT NOT NULL DEFAULT '',
	command TEXT NOT NULL,
	body    TEXT NOT NULL,
	sent_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_target_time
	ON messages (target, sent_at);
CREATE TABLE IF NOT EXISTS bots (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	nick     TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL,
	hostname TEXT NOT NULL,
	realname TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel_bots (
	channel TEXT PRIMARY KEY,
	bot     TEXT NOT NULL
);
`

// NewStore opens (or creates) the database and bootstraps the schema.
// Use ":memory:" for an ephemeral store.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open database")
	}

	// The driver is safe for concurrent use but SQLite wants one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "unable to create schema")
	}

	return &Store{
		db:          db,
		Accounts:    &accountStore{db},
		CertFPs:     &certFPStore{db},
		Channels:    &channelStore{db},
		Memos:       &memoStore{db},
		Vhosts:      &vhostStore{db},
		Bans:        &banStore{db},
		Messages:    &messageStore{db},
		Bots:        &botStore{db},
		ChannelBots: &channelBotStore{db},
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Times persist as Unix seconds. Zero time persists as 0.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

// Accounts

type accountStore struct {
	db *sql.DB
}

var _ AccountRepository = (*accountStore)(nil)

func (s *accountStore) GetByID(id int64) (*Account, error) {
	return scanAccount(s.db.QueryRow(
		`SELECT id, name, password_hash, email, registered_at, last_seen
		 FROM accounts WHERE id = ?`, id))
}

func (s *accountStore) GetByName(name string) (*Account, error) {
	return scanAccount(s.db.QueryRow(
		`SELECT id, name, password_hash, email, registered_at, last_seen
		 FROM accounts WHERE name = ?`, canonicalizeNick(name)))
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var registered, seen int64
	err := row.Scan(&a.ID, &a.Name, &a.PasswordHash, &a.Email, &registered,
		&seen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to load account")
	}
	a.RegisteredAt = fromUnix(registered)
	a.LastSeen = fromUnix(seen)
	return &a, nil
}

func (s *accountStore) Create(a *Account) error {
	res, err := s.db.Exec(
		`INSERT INTO accounts (name, password_hash, email, registered_at,
		 last_seen) VALUES (?, ?, ?, ?, ?)`,
		canonicalizeNick(a.Name), a.PasswordHash, a.Email,
		toUnix(a.RegisteredAt), toUnix(a.LastSeen))
	if err != nil {
		return errors.Wrap(err, "unable to create account")
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *accountStore) Update(a *Account) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET password_hash = ?, email = ?, last_seen = ?
		 WHERE name = ?`,
		a.PasswordHash, a.Email, toUnix(a.LastSeen), canonicalizeNick(a.Name))
	return errors.Wrap(err, "unable to update account")
}

func (s *accountStore) Delete(name string) error {
	name = canonicalizeNick(name)
	if _, err := s.db.Exec(`DELETE FROM accounts WHERE name = ?`,
		name); err != nil {
		return errors.Wrap(err, "unable to delete account")
	}
	_, err := s.db.Exec(`DELETE FROM certfps WHERE account = ?`, name)
	return errors.Wrap(err, "unable to delete fingerprints")
}

// Certificate fingerprints

type certFPStore struct {
	db *sql.DB
}

var _ CertFPRepository = (*certFPStore)(nil)

func (s *certFPStore) GetAccountByFingerprint(fp string) (string, error) {
	var account string
	err := s.db.QueryRow(
		`SELECT account FROM certfps WHERE fingerprint = ?`, fp).
		Scan(&account)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "unable to look up fingerprint")
	}
	return account, nil
}

func (s *certFPStore) Add(account, fp string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO certfps (account, fingerprint) VALUES (?, ?)`,
		canonicalizeNick(account), fp)
	return errors.Wrap(err, "unable to add fingerprint")
}

func (s *certFPStore) Remove(account, fp string) error {
	_, err := s.db.Exec(
		`DELETE FROM certfps WHERE account = ? AND fingerprint = ?`,
		canonicalizeNick(account), fp)
	return errors.Wrap(err, "unable to remove fingerprint")
}

// Registered channels

type channelStore struct {
	db *sql.DB
}

var _ RegisteredChannelRepository = (*channelStore)(nil)

func (s *channelStore) GetByName(name string) (*RegisteredChannel, error) {
	var c RegisteredChannel
	var registered int64
	var topicLock int
	err := s.db.QueryRow(
		`SELECT id, name, founder, registered_at, topic_lock, successor
		 FROM channels WHERE name = ?`, canonicalizeChannel(name)).
		Scan(&c.ID, &c.Name, &c.Founder, &registered, &topicLock,
			&c.Successor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to load channel")
	}
	c.RegisteredAt = fromUnix(registered)
	c.TopicLock = topicLock != 0
	return &c, nil
}

func (s *channelStore) Create(c *RegisteredChannel) error {
	topicLock := 0
	if c.TopicLock {
		topicLock = 1
	}
	res, err := s.db.Exec(
		`INSERT INTO channels (name, founder, registered_at, topic_lock,
		 successor) VALUES (?, ?, ?, ?, ?)`,
		canonicalizeChannel(c.Name), canonicalizeNick(c.Founder),
		toUnix(c.RegisteredAt), topicLock, c.Successor)
	if err != nil {
		return errors.Wrap(err, "unable to register channel")
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *channelStore) Update(c *RegisteredChannel) error {
	topicLock := 0
	if c.TopicLock {
		topicLock = 1
	}
	_, err := s.db.Exec(
		`UPDATE channels SET founder = ?, topic_lock = ?, successor = ?
		 WHERE name = ?`,
		canonicalizeNick(c.Founder), topicLock, c.Successor,
		canonicalizeChannel(c.Name))
	return errors.Wrap(err, "unable to update channel")
}

func (s *channelStore) Delete(name string) error {
	name = canonicalizeChannel(name)
	if _, err := s.db.Exec(`DELETE FROM channels WHERE name = ?`,
		name); err != nil {
		return errors.Wrap(err, "unable to drop channel")
	}
	_, err := s.db.Exec(`DELETE FROM channel_access WHERE channel = ?`, name)
	return errors.Wrap(err, "unable to drop channel access")
}

func (s *channelStore) GetAccess(channel string) ([]ChannelAccess, error) {
	rows, err := s.db.Query(
		`SELECT channel, account, flags FROM channel_access
		 WHERE channel = ? ORDER BY account`, canonicalizeChannel(channel))
	if err != nil {
		return nil, errors.Wrap(err, "unable to load access list")
	}
	defer func() { _ = rows.Close() }()

	var access []ChannelAccess
	for rows.Next() {
		var a ChannelAccess
		if err := rows.Scan(&a.Channel, &a.Account, &a.Flags); err != nil {
			return nil, errors.Wrap(err, "unable to scan access entry")
		}
		access = append(access, a)
	}
	return access, rows.Err()
}

func (s *channelStore) SetAccess(channel, account, flags string) error {
	channel = canonicalizeChannel(channel)
	account = canonicalizeNick(account)

	if len(flags) == 0 {
		_, err := s.db.Exec(
			`DELETE FROM channel_access WHERE channel = ? AND account = ?`,
			channel, account)
		return errors.Wrap(err, "unable to remove access entry")
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO channel_access (channel, account, flags)
		 VALUES (?, ?, ?)`, channel, account, flags)
	return errors.Wrap(err, "unable to set access entry")
}

// Memos

type memoStore struct {
	db *sql.DB
}

var _ MemoRepository = (*memoStore)(nil)

func (s *memoStore) GetByID(id int64) (*Memo, error) {
	var m Memo
	var sentAt int64
	var read int
	err := s.db.QueryRow(
		`SELECT id, recipient, sender, body, sent_at, read FROM memos
		 WHERE id = ?`, id).
		Scan(&m.ID, &m.Recipient, &m.Sender, &m.Body, &sentAt, &read)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to load memo")
	}
	m.SentAt = fromUnix(sentAt)
	m.Read = read != 0
	return &m, nil
}

func (s *memoStore) ListForRecipient(account string) ([]Memo, error) {
	rows, err := s.db.Query(
		`SELECT id, recipient, sender, body, sent_at, read FROM memos
		 WHERE recipient = ? ORDER BY sent_at`, canonicalizeNick(account))
	if err != nil {
		return nil, errors.Wrap(err, "unable to list memos")
	}
	defer func() { _ = rows.Close() }()

	var memos []Memo
	for rows.Next() {
		var m Memo
		var sentAt int64
		var read int
		if err := rows.Scan(&m.ID, &m.Recipient, &m.Sender, &m.Body, &sentAt,
			&read); err != nil {
			return nil, errors.Wrap(err, "unable to scan memo")
		}
		m.SentAt = fromUnix(sentAt)
		m.Read = read != 0
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

func (s *memoStore) CountUnread(account string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM memos WHERE recipient = ? AND read = 0`,
		canonicalizeNick(account)).Scan(&n)
	return n, errors.Wrap(err, "unable to count memos")
}

func (s *memoStore) Send(m *Memo) error {
	res, err := s.db.Exec(
		`INSERT INTO memos (recipient, sender, body, sent_at, read)
		 VALUES (?, ?, ?, ?, 0)`,
		canonicalizeNick(m.Recipient), m.Sender, m.Body, toUnix(m.SentAt))
	if err != nil {
		return errors.Wrap(err, "unable to send memo")
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

func (s *memoStore) MarkRead(id int64) error {
	_, err := s.db.Exec(`UPDATE memos SET read = 1 WHERE id = ?`, id)
	return errors.Wrap(err, "unable to mark memo read")
}

func (s *memoStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM memos WHERE id = ?`, id)
	return errors.Wrap(err, "unable to delete memo")
}

// Vhosts

type vhostStore struct {
	db *sql.DB
}

var _ VirtualHostRepository = (*vhostStore)(nil)

func (s *vhostStore) GetByAccount(account string) (*VirtualHost, error) {
	var v VirtualHost
	var requested int64
	var approved int
	err := s.db.QueryRow(
		`SELECT id, account, vhost, approved, requested_at FROM vhosts
		 WHERE account = ?`, canonicalizeNick(account)).
		Scan(&v.ID, &v.Account, &v.Vhost, &approved, &requested)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to load vhost")
	}
	v.Approved = approved != 0
	v.RequestedAt = fromUnix(requested)
	return &v, nil
}

func (s *vhostStore) GetPending() ([]VirtualHost, error) {
	rows, err := s.db.Query(
		`SELECT id, account, vhost, approved, requested_at FROM vhosts
		 WHERE approved = 0 ORDER BY requested_at`)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list pending vhosts")
	}
	defer func() { _ = rows.Close() }()

	var vhosts []VirtualHost
	for rows.Next() {
		var v VirtualHost
		var requested int64
		var approved int
		if err := rows.Scan(&v.ID, &v.Account, &v.Vhost, &approved,
			&requested); err != nil {
			return nil, errors.Wrap(err, "unable to scan vhost")
		}
		v.Approved = approved != 0
		v.RequestedAt = fromUnix(requested)
		vhosts = append(vhosts, v)
	}
	return vhosts, rows.Err()
}

func (s *vhostStore) Request(v *VirtualHost) error {
	res, err := s.db.Exec(
		`INSERT OR REPLACE INTO vhosts (account, vhost, approved,
		 requested_at) VALUES (?, ?, 0, ?)`,
		canonicalizeNick(v.Account), v.Vhost, toUnix(v.RequestedAt))
	if err != nil {
		return errors.Wrap(err, "unable to request vhost")
	}
	v.ID, _ = res.LastInsertId()
	return nil
}

func (s *vhostStore) Activate(account string) error {
	_, err := s.db.Exec(`UPDATE vhosts SET approved = 1 WHERE account = ?`,
		canonicalizeNick(account))
	return errors.Wrap(err, "unable to activate vhost")
}

func (s *vhostStore) Reject(account string) error {
	_, err := s.db.Exec(`DELETE FROM vhosts WHERE account = ?`,
		canonicalizeNick(account))
	return errors.Wrap(err, "unable to reject vhost")
}

// Server bans

type banStore struct {
	db *sql.DB
}

var _ ServerBanRepository = (*banStore)(nil)

func (s *banStore) GetActive(kind string) ([]ServerBan, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, user_mask, host_mask, reason, setter, set_at,
		 expire_at FROM bans
		 WHERE kind = ? AND (expire_at = 0 OR expire_at > ?)`,
		kind, time.Now().Unix())
	if err != nil {
		return nil, errors.Wrap(err, "unable to list bans")
	}
	defer func() { _ = rows.Close() }()

	var bans []ServerBan
	for rows.Next() {
		var b ServerBan
		var setAt, expireAt int64
		if err := rows.Scan(&b.ID, &b.Kind, &b.UserMask, &b.HostMask,
			&b.Reason, &b.Setter, &setAt, &expireAt); err != nil {
			return nil, errors.Wrap(err, "unable to scan ban")
		}
		b.SetAt = fromUnix(setAt)
		b.ExpireAt = fromUnix(expireAt)
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

func (s *banStore) Add(b *ServerBan) error {
	res, err := s.db.Exec(
		`INSERT INTO bans (kind, user_mask, host_mask, reason, setter,
		 set_at, expire_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.Kind, b.UserMask, b.HostMask, b.Reason, b.Setter, toUnix(b.SetAt),
		toUnix(b.ExpireAt))
	if err != nil {
		return errors.Wrap(err, "unable to add ban")
	}
	b.ID, _ = res.LastInsertId()
	return nil
}

func (s *banStore) Remove(kind, userMask, hostMask string) error {
	_, err := s.db.Exec(
		`DELETE FROM bans WHERE kind = ? AND user_mask = ? AND
		 host_mask = ?`, kind, userMask, hostMask)
	return errors.Wrap(err, "unable to remove ban")
}

// Chat history

type messageStore struct {
	db *sql.DB
}

var _ MessageRepository = (*messageStore)(nil)

const messageColumns = `id, msgid, target, sender, account, command, body,
	sent_at`

func (s *messageStore) Record(m *StoredMessage) error {
	res, err := s.db.Exec(
		`INSERT INTO messages (msgid, target, sender, account, command, body,
		 sent_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.MsgID, m.Target, m.Sender, m.Account, m.Command, m.Body,
		toUnix(m.SentAt))
	if err != nil {
		return errors.Wrap(err, "unable to record message")
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

func (s *messageStore) GetByMsgID(target,
	msgid string) (*StoredMessage, error) {
	msgs, err := s.queryMessages(
		`SELECT `+messageColumns+` FROM messages
		 WHERE target = ? AND msgid = ? LIMIT ?`,
		canonicalizeChannel(target), msgid, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func (s *messageStore) queryMessages(query string,
	args ...interface{}) ([]StoredMessage, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query messages")
	}
	defer func() { _ = rows.Close() }()

	var msgs []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.MsgID, &m.Target, &m.Sender, &m.Account,
			&m.Command, &m.Body, &sentAt); err != nil {
			return nil, errors.Wrap(err, "unable to scan message")
		}
		m.SentAt = fromUnix(sentAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// reverseMessages puts a DESC-ordered page back into chronological
// order.
func reverseMessages(msgs []StoredMessage) []StoredMessage {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

func (s *messageStore) GetLatest(target string,
	limit int) ([]StoredMessage, error) {
	msgs, err := s.queryMessages(
		`SELECT `+messageColumns+` FROM messages WHERE target = ?
		 ORDER BY sent_at DESC, id DESC LIMIT ?`,
		canonicalizeChannel(target), limit)
	if err != nil {
		return nil, err
	}
	return reverseMessages(msgs), nil
}

func (s *messageStore) GetBefore(target string, t time.Time,
	limit int) ([]StoredMessage, error) {
	msgs, err := s.queryMessages(
		`SELECT `+messageColumns+` FROM messages
		 WHERE target = ? AND sent_at < ?
		 ORDER BY sent_at DESC, id DESC LIMIT ?`,
		canonicalizeChannel(target), t.Unix(), limit)
	if err != nil {
		return nil, err
	}
	return reverseMessages(msgs), nil
}

func (s *messageStore) GetAfter(target string, t time.Time,
	limit int) ([]StoredMessage, error) {
	return s.queryMessages(
		`SELECT `+messageColumns+` FROM messages
		 WHERE target = ? AND sent_at > ?
		 ORDER BY sent_at, id LIMIT ?`,
		canonicalizeChannel(target), t.Unix(), limit)
}

func (s *messageStore) GetAround(target string, t time.Time,
	limit int) ([]StoredMessage, error) {
	half := limit / 2
	if half == 0 {
		half = 1
	}

	before, err := s.GetBefore(target, t, half)
	if err != nil {
		return nil, err
	}
	after, err := s.queryMessages(
		`SELECT `+messageColumns+` FROM messages
		 WHERE target = ? AND sent_at >= ?
		 ORDER BY sent_at, id LIMIT ?`,
		canonicalizeChannel(target), t.Unix(), half)
	if err != nil {
		return nil, err
	}

	return append(before, after...), nil
}

func (s *messageStore) GetBetween(target string, start, end time.Time,
	limit int) ([]StoredMessage, error) {
	return s.queryMessages(
		`SELECT `+messageColumns+` FROM messages
		 WHERE target = ? AND sent_at > ? AND sent_at < ?
		 ORDER BY sent_at, id LIMIT ?`,
		canonicalizeChannel(target), start.Unix(), end.Unix(), limit)
}

// Bots

type botStore struct {
	db *sql.DB
}

var _ BotRepository = (*botStore)(nil)

func (s *botStore) GetByNick(nick string) (*Bot, error) {
	var b Bot
	err := s.db.QueryRow(
		`SELECT id, nick, username, hostname, realname FROM bots
		 WHERE nick = ?`, canonicalizeNick(nick)).
		Scan(&b.ID, &b.Nick, &b.Username, &b.Hostname, &b.RealName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to load bot")
	}
	return &b, nil
}

func (s *botStore) List() ([]Bot, error) {
	rows, err := s.db.Query(
		`SELECT id, nick, username, hostname, realname FROM bots
		 ORDER BY nick`)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list bots")
	}
	defer func() { _ = rows.Close() }()

	var bots []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.Nick, &b.Username, &b.Hostname,
			&b.RealName); err != nil {
			return nil, errors.Wrap(err, "unable to scan bot")
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func (s *botStore) Create(b *Bot) error {
	res, err := s.db.Exec(
		`INSERT INTO bots (nick, username, hostname, realname)
		 VALUES (?, ?, ?, ?)`,
		canonicalizeNick(b.Nick), b.Username, b.Hostname, b.RealName)
	if err != nil {
		return errors.Wrap(err, "unable to create bot")
	}
	b.ID, _ = res.LastInsertId()
	return nil
}

func (s *botStore) Delete(nick string) error {
	nick = canonicalizeNick(nick)
	if _, err := s.db.Exec(`DELETE FROM bots WHERE nick = ?`,
		nick); err != nil {
		return errors.Wrap(err, "unable to delete bot")
	}
	_, err := s.db.Exec(`DELETE FROM channel_bots WHERE bot = ?`, nick)
	return errors.Wrap(err, "unable to delete bot assignments")
}

// Channel bot assignments

type channelBotStore struct {
	db *sql.DB
}

var _ ChannelBotRepository = (*channelBotStore)(nil)

func (s *channelBotStore) GetBot(channel string) (string, error) {
	var bot string
	err := s.db.QueryRow(
		`SELECT bot FROM channel_bots WHERE channel = ?`,
		canonicalizeChannel(channel)).Scan(&bot)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "unable to look up assignment")
	}
	return bot, nil
}

func (s *channelBotStore) Assign(channel, bot string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO channel_bots (channel, bot) VALUES (?, ?)`,
		canonicalizeChannel(channel), canonicalizeNick(bot))
	return errors.Wrap(err, "unable to assign bot")
}

func (s *channelBotStore) Unassign(channel string) error {
	_, err := s.db.Exec(`DELETE FROM channel_bots WHERE channel = ?`,
		canonicalizeChannel(channel))
	return errors.Wrap(err, "unable to unassign bot")
}
