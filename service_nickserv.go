package main

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var nickServCommands = map[string]serviceCommand{
	"REGISTER": {handler: nsRegister, minArgs: 1,
		help: "REGISTER <password> [email] - register your current nick"},
	"IDENTIFY": {handler: nsIdentify, minArgs: 1,
		help: "IDENTIFY <password> [account] - log in to an account"},
	"LOGOUT": {handler: nsLogout, accountOnly: true,
		help: "LOGOUT - log out of your account"},
	"GHOST": {handler: nsGhost, minArgs: 2,
		help: "GHOST <nick> <password> - disconnect a session using your nick"},
	"GROUP": {handler: nsGroup, minArgs: 2,
		help: "GROUP <account> <password> - add your current nick to an account"},
	"DROP": {handler: nsDrop, accountOnly: true,
		help: "DROP - delete your account registration"},
	"SET": {handler: nsSet, minArgs: 2, accountOnly: true,
		help: "SET PASSWORD|EMAIL <value> - change account settings"},
	"INFO": {handler: nsInfo,
		help: "INFO [account] - show account information"},
	"CERT": {handler: nsCert, minArgs: 1, accountOnly: true,
		help: "CERT ADD [fingerprint] | CERT DEL <fingerprint> - manage TLS fingerprints"},
}

func nsRegister(sv *service, source *User, args []string) {
	h := sv.heron
	name := canonicalizeNick(source.DisplayNick)

	existing, err := h.Store.Accounts.GetByName(name)
	if err != nil {
		sv.notice(source, "Registration failed. Please try again.")
		return
	}
	if existing != nil {
		sv.notice(source, "The nick %s is already registered.",
			source.DisplayNick)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(args[0]),
		bcrypt.DefaultCost)
	if err != nil {
		sv.notice(source, "Registration failed. Please try again.")
		return
	}

	email := ""
	if len(args) > 1 {
		email = args[1]
	}

	now := time.Now()
	if err := h.Store.Accounts.Create(&Account{
		Name:         name,
		PasswordHash: string(hash),
		Email:        email,
		RegisteredAt: now,
		LastSeen:     now,
	}); err != nil {
		sv.notice(source, "Registration failed. Please try again.")
		return
	}

	h.Services.login(source, name)
	sv.notice(source, "%s is now registered to you.", source.DisplayNick)
}

func nsIdentify(sv *service, source *User, args []string) {
	h := sv.heron

	name := canonicalizeNick(source.DisplayNick)
	if len(args) > 1 {
		name = canonicalizeNick(args[1])
	}

	acct, err := h.Store.Accounts.GetByName(name)
	if err != nil || acct == nil {
		sv.notice(source, "%s is not a registered account.", name)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash),
		[]byte(args[0])) != nil {
		h.Log.WithField("component", "services").Infof(
			"failed IDENTIFY for %s by %s", name, source.nickUhost())
		sv.notice(source, "Invalid password for %s.", name)
		return
	}

	acct.LastSeen = time.Now()
	_ = h.Store.Accounts.Update(acct)

	h.Services.login(source, acct.Name)
	sv.notice(source, "You are now identified as %s.", acct.Name)

	if source.isLocal() {
		h.Services.announceMemos(source.LocalUser)
	}
}

func nsLogout(sv *service, source *User, args []string) {
	sv.heron.Services.login(source, "")
	sv.notice(source, "You are now logged out.")
}

func nsGhost(sv *service, source *User, args []string) {
	h := sv.heron
	name := canonicalizeNick(args[0])

	acct, err := h.Store.Accounts.GetByName(name)
	if err != nil || acct == nil {
		sv.notice(source, "%s is not a registered nick.", args[0])
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash),
		[]byte(args[1])) != nil {
		sv.notice(source, "Invalid password for %s.", args[0])
		return
	}

	target := h.resolveUser(args[0])
	if target == nil {
		sv.notice(source, "%s is not online.", args[0])
		return
	}
	if target == source {
		sv.notice(source, "You can't ghost yourself.")
		return
	}

	h.killUser(target, "GHOST command used by "+source.DisplayNick)
	sv.notice(source, "%s has been disconnected.", args[0])
}

func nsGroup(sv *service, source *User, args []string) {
	h := sv.heron

	acct, err := h.Store.Accounts.GetByName(canonicalizeNick(args[0]))
	if err != nil || acct == nil {
		sv.notice(source, "%s is not a registered account.", args[0])
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash),
		[]byte(args[1])) != nil {
		sv.notice(source, "Invalid password for %s.", args[0])
		return
	}

	name := canonicalizeNick(source.DisplayNick)
	existing, err := h.Store.Accounts.GetByName(name)
	if err != nil {
		sv.notice(source, "Grouping failed. Please try again.")
		return
	}
	if existing != nil {
		sv.notice(source, "%s is already registered.", source.DisplayNick)
		return
	}

	// The grouped nick shares the account's credentials.
	now := time.Now()
	if err := h.Store.Accounts.Create(&Account{
		Name:         name,
		PasswordHash: acct.PasswordHash,
		Email:        acct.Email,
		RegisteredAt: now,
		LastSeen:     now,
	}); err != nil {
		sv.notice(source, "Grouping failed. Please try again.")
		return
	}

	h.Services.login(source, name)
	sv.notice(source, "%s is now grouped with %s.", source.DisplayNick,
		acct.Name)
}

func nsDrop(sv *service, source *User, args []string) {
	h := sv.heron

	if err := h.Store.Accounts.Delete(source.Account); err != nil {
		sv.notice(source, "Drop failed. Please try again.")
		return
	}

	dropped := source.Account
	h.Services.login(source, "")
	sv.notice(source, "The account %s has been dropped.", dropped)
}

func nsSet(sv *service, source *User, args []string) {
	h := sv.heron

	acct, err := h.Store.Accounts.GetByName(source.Account)
	if err != nil || acct == nil {
		sv.notice(source, "Unable to load your account.")
		return
	}

	switch strings.ToUpper(args[0]) {
	case "PASSWORD":
		hash, err := bcrypt.GenerateFromPassword([]byte(args[1]),
			bcrypt.DefaultCost)
		if err != nil {
			sv.notice(source, "Unable to change your password.")
			return
		}
		acct.PasswordHash = string(hash)
		if err := h.Store.Accounts.Update(acct); err != nil {
			sv.notice(source, "Unable to change your password.")
			return
		}
		sv.notice(source, "Your password has been changed.")

	case "EMAIL":
		acct.Email = args[1]
		if err := h.Store.Accounts.Update(acct); err != nil {
			sv.notice(source, "Unable to change your email.")
			return
		}
		sv.notice(source, "Your email is now %s.", acct.Email)

	default:
		sv.notice(source, "Settings: PASSWORD, EMAIL.")
	}
}

func nsInfo(sv *service, source *User, args []string) {
	h := sv.heron

	name := source.Account
	if len(args) > 0 {
		name = canonicalizeNick(args[0])
	}
	if len(name) == 0 {
		name = canonicalizeNick(source.DisplayNick)
	}

	acct, err := h.Store.Accounts.GetByName(name)
	if err != nil || acct == nil {
		sv.notice(source, "%s is not registered.", name)
		return
	}

	sv.notice(source, "Information on %s:", acct.Name)
	sv.notice(source, "  Registered: %s",
		acct.RegisteredAt.Format("Jan 02 15:04:05 2006 MST"))
	sv.notice(source, "  Last seen: %s",
		acct.LastSeen.Format("Jan 02 15:04:05 2006 MST"))

	// Email is private.
	if acct.Name == source.Account || source.isOperator() {
		if len(acct.Email) > 0 {
			sv.notice(source, "  Email: %s", acct.Email)
		}
	}
}

func nsCert(sv *service, source *User, args []string) {
	h := sv.heron

	switch strings.ToUpper(args[0]) {
	case "ADD":
		fp := source.CertFP
		if len(args) > 1 {
			fp = strings.ToLower(args[1])
		}
		if len(fp) == 0 {
			sv.notice(source,
				"You are not connected with a client certificate.")
			return
		}
		if err := h.Store.CertFPs.Add(source.Account, fp); err != nil {
			sv.notice(source, "Unable to add that fingerprint.")
			return
		}
		sv.notice(source, "Added fingerprint %s to your account.", fp)

	case "DEL":
		if len(args) < 2 {
			sv.notice(source, "Usage: CERT DEL <fingerprint>")
			return
		}
		fp := strings.ToLower(args[1])
		if err := h.Store.CertFPs.Remove(source.Account, fp); err != nil {
			sv.notice(source, "Unable to remove that fingerprint.")
			return
		}
		sv.notice(source, "Removed fingerprint %s from your account.", fp)

	default:
		sv.notice(source, "Usage: CERT ADD [fingerprint] | CERT DEL <fingerprint>")
	}
}
