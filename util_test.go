package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeTS6ID(t *testing.T) {
	tests := []struct {
		input   uint64
		output  string
		success bool
	}{
		{0, "AAAAAA", true},
		{1, "AAAAAB", true},
		{25, "AAAAAZ", true},
		{26, "AAAAA0", true},
		{35, "AAAAA9", true},
		{36, "AAAABA", true},
		{72, "AAAACA", true},
		{1572120575, "Z99999", true},
		{1572120576, "", false},
	}

	for _, test := range tests {
		id, err := makeTS6ID(test.input)
		if !test.success {
			assert.Error(t, err, "makeTS6ID(%d)", test.input)
			continue
		}
		assert.NoError(t, err, "makeTS6ID(%d)", test.input)
		assert.Equal(t, TS6ID(test.output), id, "makeTS6ID(%d)", test.input)
	}
}

func TestIsValidNick(t *testing.T) {
	tests := []struct {
		nick  string
		valid bool
	}{
		{"alice", true},
		{"Alice[away]", true},
		{"a-b_c", true},
		{"{braces}", true},
		{"", false},
		{"1digitfirst", false},
		{"-dashfirst", false},
		{"has space", false},
		{"toolongtoolongtoolongx", false},
	}

	for _, test := range tests {
		assert.Equal(t, test.valid, isValidNick(20, test.nick), "nick %q",
			test.nick)
	}
}

func TestIsValidChannel(t *testing.T) {
	tests := []struct {
		channel string
		valid   bool
	}{
		{"#test", true},
		{"&local", true},
		{"#", true},
		{"test", false},
		{"", false},
		{"#has space", false},
		{"#has,comma", false},
	}

	for _, test := range tests {
		assert.Equal(t, test.valid, isValidChannel(test.channel),
			"channel %q", test.channel)
	}
}

func TestIsValidUIDAndSID(t *testing.T) {
	assert.True(t, isValidSID("1AA"))
	assert.True(t, isValidSID("999"))
	assert.False(t, isValidSID("AAA"))
	assert.False(t, isValidSID("1A"))

	assert.True(t, isValidUID("1AAAAAAAB"))
	assert.True(t, isValidUID("0X9ZZZ999"))
	assert.False(t, isValidUID("1AAAAAAA"))
	assert.False(t, isValidUID("XAAAAAAAB"))
}

func TestMatchMask(t *testing.T) {
	tests := []struct {
		mask  string
		s     string
		match bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"alice", "alice", true},
		{"alice", "ALICE", true},
		{"ali?e", "alice", true},
		{"ali?e", "alie", false},
		{"*.example.com", "host.example.com", true},
		{"*.example.com", "example.com", false},
		{"*@*", "user@host", true},
		{"a*c*e", "abcde", true},
		{"a*c*e", "abde", false},
	}

	for _, test := range tests {
		assert.Equal(t, test.match, matchMask(test.mask, test.s),
			"matchMask(%q, %q)", test.mask, test.s)
	}
}

func TestParseUserHostMask(t *testing.T) {
	tests := []struct {
		mask             string
		nick, user, host string
	}{
		{"nick!user@host", "nick", "user", "host"},
		{"nick", "nick", "*", "*"},
		{"user@host", "*", "user", "host"},
		{"nick!user", "nick", "user", "*"},
		{"*!*@host", "*", "*", "host"},
		{"!@", "*", "*", "*"},
	}

	for _, test := range tests {
		nick, user, host := parseUserHostMask(test.mask)
		assert.Equal(t, test.nick, nick, "mask %q nick", test.mask)
		assert.Equal(t, test.user, user, "mask %q user", test.mask)
		assert.Equal(t, test.host, host, "mask %q host", test.mask)
	}
}

func TestUserMatchesMask(t *testing.T) {
	u := &User{
		Username:     "~alice",
		Hostname:     "heron-abcd1234.cloak",
		RealHostname: "host.example.com",
		IP:           "203.0.113.5",
	}

	assert.True(t, userMatchesMask(u, "*", "*.example.com"))
	assert.True(t, userMatchesMask(u, "*alice", "*.cloak"))
	assert.True(t, userMatchesMask(u, "*", "203.0.113.*"))
	assert.False(t, userMatchesMask(u, "bob", "*"))
	assert.False(t, userMatchesMask(u, "*", "*.example.org"))
}

func TestCloakHostname(t *testing.T) {
	a := cloakHostname("heron", "secret", "host.example.com")
	b := cloakHostname("heron", "secret", "HOST.example.com")
	c := cloakHostname("heron", "other", "host.example.com")

	// Stable and case insensitive, but keyed by the secret.
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "heron-")
	assert.Contains(t, a, ".cloak")
}
