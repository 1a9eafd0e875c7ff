package main

import (
	"time"

	"github.com/pkg/errors"
)

// BanEngine holds the active server bans in memory and keeps the
// repository in sync so bans survive restarts.
type BanEngine struct {
	repo ServerBanRepository

	// Active bans by kind.
	bans map[string][]ServerBan
}

func newBanEngine(repo ServerBanRepository) (*BanEngine, error) {
	e := &BanEngine{
		repo: repo,
		bans: make(map[string][]ServerBan),
	}

	for _, kind := range []string{BanKline, BanGline, BanZline, BanJupe} {
		active, err := repo.GetActive(kind)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to load %s bans", kind)
		}
		e.bans[kind] = active
	}

	return e, nil
}

// addBan activates and persists a ban. Setting an identical mask again
// replaces the old entry.
func (e *BanEngine) addBan(ban ServerBan) error {
	e.removeFromMemory(ban.Kind, ban.UserMask, ban.HostMask)
	e.bans[ban.Kind] = append(e.bans[ban.Kind], ban)

	if err := e.repo.Remove(ban.Kind, ban.UserMask,
		ban.HostMask); err != nil {
		return err
	}
	return e.repo.Add(&ban)
}

func (e *BanEngine) removeBan(kind, userMask, hostMask string) error {
	e.removeFromMemory(kind, userMask, hostMask)
	return e.repo.Remove(kind, userMask, hostMask)
}

func (e *BanEngine) removeFromMemory(kind, userMask, hostMask string) {
	active := e.bans[kind][:0]
	for _, b := range e.bans[kind] {
		if b.UserMask == userMask && b.HostMask == hostMask {
			continue
		}
		active = append(active, b)
	}
	e.bans[kind] = active
}

func (e *BanEngine) list(kind string) []ServerBan {
	return e.bans[kind]
}

// findMatching checks a user against K-lines then G-lines. Expired
// entries never match.
func (e *BanEngine) findMatching(u *User) *ServerBan {
	now := time.Now()

	for _, kind := range []string{BanKline, BanGline} {
		for i := range e.bans[kind] {
			b := &e.bans[kind][i]
			if b.expired(now) {
				continue
			}
			if userMatchesMask(u, b.UserMask, b.HostMask) {
				return b
			}
		}
	}

	return nil
}

// matchIP checks Z-lines. These apply before registration, so all we
// have is the IP.
func (e *BanEngine) matchIP(ip string) *ServerBan {
	now := time.Now()

	for i := range e.bans[BanZline] {
		b := &e.bans[BanZline][i]
		if b.expired(now) {
			continue
		}
		if matchMask(b.HostMask, ip) {
			return b
		}
	}

	return nil
}

// isJuped checks whether a server name is banned from linking.
func (e *BanEngine) isJuped(serverName string) *ServerBan {
	now := time.Now()

	for i := range e.bans[BanJupe] {
		b := &e.bans[BanJupe][i]
		if b.expired(now) {
			continue
		}
		if matchMask(b.HostMask, serverName) {
			return b
		}
	}

	return nil
}

// expire drops lapsed bans from memory. The repository filters expired
// rows on read, so no write is needed.
func (e *BanEngine) expire(now time.Time) {
	for kind, bans := range e.bans {
		active := bans[:0]
		for _, b := range bans {
			if b.expired(now) {
				continue
			}
			active = append(active, b)
		}
		e.bans[kind] = active
	}
}
