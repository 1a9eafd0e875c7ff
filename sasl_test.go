package main

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSASLSessionFeed(t *testing.T) {
	// A short payload arrives in one argument.
	s := &SASLSession{Mechanism: "PLAIN"}
	payload := []byte("\x00alice\x00password")
	got, done, err := s.feed(base64.StdEncoding.EncodeToString(payload))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, payload, got)

	// An empty payload is a bare "+".
	s = &SASLSession{Mechanism: "EXTERNAL"}
	got, done, err = s.feed("+")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, got)

	// 300 raw bytes encode to exactly one full chunk, so the client
	// must terminate with "+".
	payload = bytes.Repeat([]byte{'x'}, 300)
	encoded := base64.StdEncoding.EncodeToString(payload)
	require.Len(t, encoded, saslChunkSize)

	s = &SASLSession{Mechanism: "PLAIN"}
	_, done, err = s.feed(encoded)
	require.NoError(t, err)
	assert.False(t, done)

	got, done, err = s.feed("+")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, payload, got)

	// A long payload spans several chunks.
	payload = bytes.Repeat([]byte{'y'}, 450)
	encoded = base64.StdEncoding.EncodeToString(payload)
	require.Greater(t, len(encoded), saslChunkSize)

	s = &SASLSession{Mechanism: "PLAIN"}
	_, done, err = s.feed(encoded[:saslChunkSize])
	require.NoError(t, err)
	assert.False(t, done)

	got, done, err = s.feed(encoded[saslChunkSize:])
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, payload, got)

	// Oversized arguments and buffers are rejected.
	s = &SASLSession{Mechanism: "PLAIN"}
	_, _, err = s.feed(string(bytes.Repeat([]byte{'A'},
		saslChunkSize+1)))
	assert.Error(t, err)

	s = &SASLSession{Mechanism: "PLAIN"}
	var feedErr error
	for i := 0; i < saslMaxBuffer/saslChunkSize+2; i++ {
		_, _, feedErr = s.feed(string(bytes.Repeat([]byte{'A'},
			saslChunkSize)))
		if feedErr != nil {
			break
		}
	}
	assert.Equal(t, errSASLTooLong, feedErr)

	// Garbage base64 fails.
	s = &SASLSession{Mechanism: "PLAIN"}
	_, _, err = s.feed("!!!not-base64!!!")
	assert.Error(t, err)
}

func TestAuthenticateOverlongPayload(t *testing.T) {
	h := newTestHeron(t)

	c := &LocalClient{
		ID:        7,
		WriteChan: make(chan Message, 512),
		Heron:     h,
		Caps:      newCapSet(),
	}
	c.Caps.enable("sasl")

	c.authenticateCommand(Message{Command: "AUTHENTICATE",
		Params: []string{"PLAIN"}})
	require.NotNil(t, c.SASL)

	// Keep sending full chunks until the session buffer overflows.
	chunk := string(bytes.Repeat([]byte{'A'}, saslChunkSize))
	for i := 0; i < saslMaxBuffer/saslChunkSize+2; i++ {
		c.authenticateCommand(Message{Command: "AUTHENTICATE",
			Params: []string{chunk}})
		if c.SASL == nil {
			break
		}
	}

	assert.Nil(t, c.SASL)

	var numerics []string
drain:
	for {
		select {
		case m := <-c.WriteChan:
			if isNumericCommand(m.Command) {
				numerics = append(numerics, m.Command)
			}
		default:
			break drain
		}
	}

	assert.Contains(t, numerics, "905")
	assert.NotContains(t, numerics, "904")
}

func TestParseSASLPlain(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		authcid string
		passwd  string
		wantErr bool
	}{
		{
			name:    "empty authzid",
			payload: []byte("\x00alice\x00password"),
			authcid: "alice",
			passwd:  "password",
		},
		{
			name:    "matching authzid",
			payload: []byte("Alice\x00alice\x00password"),
			authcid: "alice",
			passwd:  "password",
		},
		{
			name:    "mismatched authzid",
			payload: []byte("bob\x00alice\x00password"),
			wantErr: true,
		},
		{
			name:    "missing separator",
			payload: []byte("alicepassword"),
			wantErr: true,
		},
		{
			name:    "empty password",
			payload: []byte("\x00alice\x00"),
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			authcid, passwd, err := parseSASLPlain(test.payload)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.authcid, authcid)
			assert.Equal(t, test.passwd, passwd)
		})
	}
}

func TestVerifySASLPlain(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"),
		bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.Accounts.Create(&Account{
		Name:         "alice",
		PasswordHash: string(hash),
		RegisteredAt: now,
		LastSeen:     now,
	}))

	account, err := verifySASLPlain(store.Accounts,
		[]byte("\x00Alice\x00hunter2"))
	require.NoError(t, err)
	assert.Equal(t, "alice", account)

	_, err = verifySASLPlain(store.Accounts, []byte("\x00alice\x00wrong"))
	assert.Equal(t, errSASLBadCredentials, err)

	_, err = verifySASLPlain(store.Accounts, []byte("\x00nobody\x00x"))
	assert.Equal(t, errSASLBadCredentials, err)
}

func TestVerifySASLExternal(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.CertFPs.Add("alice", "abcdef012345"))

	account, err := verifySASLExternal(store.CertFPs, "ABCDEF012345")
	require.NoError(t, err)
	assert.Equal(t, "alice", account)

	_, err = verifySASLExternal(store.CertFPs, "000000000000")
	assert.Equal(t, errSASLBadCredentials, err)

	_, err = verifySASLExternal(store.CertFPs, "")
	assert.Equal(t, errSASLBadCredentials, err)
}
