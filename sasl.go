package main

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Clients chunk base64 payloads into AUTHENTICATE arguments of at most
// this many bytes. An argument of exactly this length means more is
// coming.
const saslChunkSize = 400

// Cap on the total encoded payload across chunks.
const saslMaxBuffer = 8192

var errSASLTooLong = errors.New("SASL payload too long")
var errSASLBadChunk = errors.New("SASL chunk too long")
var errSASLBadPayload = errors.New("malformed SASL payload")
var errSASLBadCredentials = errors.New("bad credentials")

// SASLSession is an in-progress AUTHENTICATE exchange on one
// connection.
type SASLSession struct {
	Mechanism string
	buf       []byte
}

// feed consumes one AUTHENTICATE argument. done is true once the full
// payload has arrived, at which point payload holds the decoded bytes.
func (s *SASLSession) feed(arg string) (payload []byte, done bool,
	err error) {
	if len(arg) > saslChunkSize {
		return nil, false, errSASLBadChunk
	}

	// "+" is an empty chunk, ending the payload.
	if arg != "+" {
		s.buf = append(s.buf, arg...)
		if len(s.buf) > saslMaxBuffer {
			return nil, false, errSASLTooLong
		}

		// A maximum size chunk means another follows.
		if len(arg) == saslChunkSize {
			return nil, false, nil
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(string(s.buf))
	if err != nil {
		return nil, false, errors.Wrap(err, "invalid base64")
	}

	return decoded, true, nil
}

// parseSASLPlain splits the PLAIN payload: authzid NUL authcid NUL
// passwd. We require authzid to be empty or equal to authcid.
func parseSASLPlain(payload []byte) (string, string, error) {
	pieces := bytes.Split(payload, []byte{0})
	if len(pieces) != 3 {
		return "", "", errSASLBadPayload
	}

	authzid := string(pieces[0])
	authcid := string(pieces[1])
	passwd := string(pieces[2])

	if len(authcid) == 0 || len(passwd) == 0 {
		return "", "", errSASLBadPayload
	}

	if len(authzid) > 0 &&
		canonicalizeNick(authzid) != canonicalizeNick(authcid) {
		return "", "", errSASLBadPayload
	}

	return authcid, passwd, nil
}

// verifySASLPlain checks the payload against the account store and
// returns the account name on success.
func verifySASLPlain(accounts AccountRepository,
	payload []byte) (string, error) {
	name, passwd, err := parseSASLPlain(payload)
	if err != nil {
		return "", err
	}

	account, err := accounts.GetByName(canonicalizeNick(name))
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", errSASLBadCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash),
		[]byte(passwd)) != nil {
		return "", errSASLBadCredentials
	}

	return account.Name, nil
}

// verifySASLExternal maps a TLS client certificate fingerprint to an
// account.
func verifySASLExternal(certfps CertFPRepository,
	fingerprint string) (string, error) {
	if len(fingerprint) == 0 {
		return "", errSASLBadCredentials
	}

	account, err := certfps.GetAccountByFingerprint(
		strings.ToLower(fingerprint))
	if err != nil {
		return "", err
	}
	if len(account) == 0 {
		return "", errSASLBadCredentials
	}

	return account, nil
}
