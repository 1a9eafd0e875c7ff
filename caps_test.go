package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertisedCaps(t *testing.T) {
	// No filter means everything.
	all := advertisedCaps(&Config{})
	assert.Len(t, all, len(supportedCaps))

	// The filter narrows the set and ignores unknown names.
	narrowed := advertisedCaps(&Config{
		EnabledCapabilities: []string{"sasl", "server-time", "no-such-cap"},
	})
	require.Len(t, narrowed, 2)
	for _, cap := range narrowed {
		assert.Contains(t, []string{"sasl", "server-time"}, cap.Name)
	}
}

func TestCapLSString(t *testing.T) {
	cfg := &Config{EnabledCapabilities: []string{"sasl", "server-time"}}

	plain := capLSString(cfg, false)
	assert.Contains(t, plain, "sasl")
	assert.NotContains(t, plain, "sasl=")

	// 302 clients see mechanism values.
	with302 := capLSString(cfg, true)
	assert.Contains(t, with302, "sasl=PLAIN,EXTERNAL")
	assert.Contains(t, with302, "server-time")
}

func TestParseCapReq(t *testing.T) {
	cfg := &Config{}

	tests := []struct {
		req    string
		add    []string
		remove []string
		ok     bool
	}{
		{"sasl", []string{"sasl"}, nil, true},
		{"sasl server-time", []string{"sasl", "server-time"}, nil, true},
		{"-sasl", nil, []string{"sasl"}, true},
		{"sasl -server-time", []string{"sasl"}, []string{"server-time"},
			true},
		// Any unknown name rejects the whole request.
		{"sasl bogus", nil, nil, false},
		{"-bogus", nil, nil, false},
		{"", nil, nil, true},
	}

	for _, test := range tests {
		add, remove, ok := parseCapReq(cfg, test.req)
		assert.Equal(t, test.ok, ok, "req %q", test.req)
		if !test.ok {
			continue
		}
		assert.Equal(t, test.add, add, "req %q", test.req)
		assert.Equal(t, test.remove, remove, "req %q", test.req)
	}
}

func TestCapSet(t *testing.T) {
	s := newCapSet()

	assert.False(t, s.has("sasl"))

	s.enable("sasl")
	s.enable("server-time")
	assert.True(t, s.has("sasl"))
	assert.True(t, s.has("server-time"))

	listed := strings.Fields(s.list())
	assert.ElementsMatch(t, []string{"sasl", "server-time"}, listed)

	s.disable("sasl")
	assert.False(t, s.has("sasl"))
	assert.True(t, s.has("server-time"))
}
