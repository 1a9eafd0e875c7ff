package main

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

// 50 from RFC
const maxChannelLength = 50

// Arbitrary. Something low enough we won't hit message limit.
const maxTopicLength = 300

const maxAwayLength = 200

// canonicalizeNick converts the given nick to its canonical representation
// (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func canonicalizeNick(n string) string {
	return strings.ToLower(n)
}

// canonicalizeChannel converts the given channel to its canonical
// representation (which must be unique).
//
// Note: We don't check validity or strip whitespace.
func canonicalizeChannel(c string) string {
	return strings.ToLower(c)
}

// isValidNick checks if a nickname is valid.
//
// Letters, digits, and the RFC specials. No digit or '-' in the first
// position.
func isValidNick(maxLen int, n string) bool {
	if len(n) == 0 || len(n) > maxLen {
		return false
	}

	for i, char := range n {
		if char >= 'a' && char <= 'z' || char >= 'A' && char <= 'Z' {
			continue
		}

		if char >= '0' && char <= '9' || char == '-' {
			if i == 0 {
				return false
			}
			continue
		}

		switch char {
		case '[', ']', '\\', '`', '_', '^', '{', '|', '}':
			continue
		}

		return false
	}

	return true
}

// isValidUser checks if a user (USER command) is valid
func isValidUser(maxLen int, u string) bool {
	if len(u) == 0 || len(u) > maxLen {
		return false
	}

	for _, char := range u {
		if char >= 'a' && char <= 'z' || char >= 'A' && char <= 'Z' {
			continue
		}

		if char >= '0' && char <= '9' {
			continue
		}

		if char == '-' || char == '_' || char == '.' {
			continue
		}

		return false
	}

	return true
}

func isValidRealName(s string) bool {
	// Arbitrary. Length only for now.
	return len(s) <= 64
}

// isValidChannel checks a channel name for validity.
//
// You should canonicalize it before using this function.
func isValidChannel(c string) bool {
	if len(c) == 0 || len(c) > maxChannelLength {
		return false
	}

	if c[0] != '#' && c[0] != '&' {
		return false
	}

	for _, char := range c[1:] {
		// No spaces, commas, or BELL.
		if char == ' ' || char == ',' || char == 0x07 || char == 0 {
			return false
		}
	}

	return true
}

func isNumericCommand(command string) bool {
	for _, c := range command {
		if c < 48 || c > 57 {
			return false
		}
	}
	return true
}

func isValidUID(s string) bool {
	// SID + ID = UID
	if len(s) != 9 {
		return false
	}

	if !isValidSID(s[0:3]) {
		return false
	}
	return isValidID(s[3:])
}

func isValidID(s string) bool {
	matched, err := regexp.MatchString("^[A-Z][A-Z0-9]{5}$", s)
	if err != nil {
		return false
	}
	return matched
}

func isValidSID(s string) bool {
	matched, err := regexp.MatchString("^[0-9][0-9A-Z]{2}$", s)
	if err != nil {
		return false
	}
	return matched
}

// Make TS6 ID. 6 characters long, [A-Z][A-Z0-9]{5}. Must be unique on this
// server.
// I already assign clients a unique integer ID per server. Use this to generate
// a TS6 ID.
// Take integer ID and convert it to base 36. (A-Z and 0-9)
func makeTS6ID(id uint64) (TS6ID, error) {
	// Check the integer ID is < 26*36**5. That is as many valid TS6 IDs we can
	// have. The first character must be [A-Z], the remaining 5 are [A-Z0-9],
	// hence 36**5 vs. 26.
	// This is also the maximum number of connections we can have per run.
	// 1,572,120,576
	if id >= 1572120576 {
		return "", fmt.Errorf("TS6 ID overflow")
	}

	n := id

	ts6id := []byte("AAAAAA")

	for pos := 5; pos >= 0; pos-- {
		if n >= 36 {
			rem := n % 36

			// 0 to 25 are A to Z
			// 26 to 35 are 0 to 9
			if rem >= 26 {
				ts6id[pos] = byte(rem - 26 + '0')
			} else {
				ts6id[pos] = byte(rem + 'A')
			}

			n /= 36
			continue
		}

		if n >= 26 {
			ts6id[pos] = byte(n - 26 + '0')
		} else {
			ts6id[pos] = byte(n + 'A')
		}

		// Once we are < 36, we're done.
		break
	}

	return TS6ID(ts6id), nil
}

// matchMask reports whether s matches the mask. '*' matches any run of
// characters, '?' matches exactly one. Matching is case insensitive.
func matchMask(mask, s string) bool {
	mask = strings.ToLower(mask)
	s = strings.ToLower(s)

	// mi/si track positions. star/starS remember the last '*' so we can
	// backtrack.
	mi, si := 0, 0
	star, starS := -1, 0

	for si < len(s) {
		if mi < len(mask) && (mask[mi] == '?' || mask[mi] == s[si]) {
			mi++
			si++
			continue
		}

		if mi < len(mask) && mask[mi] == '*' {
			star = mi
			starS = si
			mi++
			continue
		}

		if star != -1 {
			mi = star + 1
			starS++
			si = starS
			continue
		}

		return false
	}

	for mi < len(mask) && mask[mi] == '*' {
		mi++
	}

	return mi == len(mask)
}

// userMatchesMask checks the user against a user@host style mask pair.
// Both the displayed and the real hostname count, as does the IP.
func userMatchesMask(u *User, userMask, hostMask string) bool {
	if !matchMask(userMask, u.Username) {
		return false
	}

	if matchMask(hostMask, u.Hostname) {
		return true
	}
	if len(u.RealHostname) > 0 && matchMask(hostMask, u.RealHostname) {
		return true
	}

	return len(u.IP) > 0 && matchMask(hostMask, u.IP)
}

// parseUserHostMask splits a nick!user@host mask into its parts. Missing
// segments default to "*".
func parseUserHostMask(mask string) (string, string, string) {
	nick, user, host := "*", "*", "*"

	rest := mask
	if idx := strings.Index(rest, "!"); idx != -1 {
		if idx > 0 {
			nick = rest[:idx]
		}
		rest = rest[idx+1:]
	} else if idx := strings.Index(rest, "@"); idx == -1 {
		// Bare nick.
		if len(rest) > 0 {
			nick = rest
		}
		return nick, user, host
	}

	if idx := strings.Index(rest, "@"); idx != -1 {
		if idx > 0 {
			user = rest[:idx]
		}
		if len(rest[idx+1:]) > 0 {
			host = rest[idx+1:]
		}
	} else if len(rest) > 0 {
		user = rest
	}

	return nick, user, host
}

// cloakHostname derives a stable masked hostname from the real one. The
// secret keeps cloaks from being reversed by rainbow tables.
func cloakHostname(prefix, secret, hostname string) string {
	sum := sha256.Sum256([]byte(secret + "\x00" + strings.ToLower(hostname)))
	return fmt.Sprintf("%s-%x.cloak", prefix, sum[:4])
}
