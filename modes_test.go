package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannelModes(t *testing.T) {
	tests := []struct {
		name    string
		params  []string
		changes []modeChange
		unknown string
	}{
		{
			name:   "simple add",
			params: []string{"+nt"},
			changes: []modeChange{
				{add: true, mode: 'n'},
				{add: true, mode: 't'},
			},
		},
		{
			name:   "mixed signs",
			params: []string{"+n-t+m"},
			changes: []modeChange{
				{add: true, mode: 'n'},
				{add: false, mode: 't'},
				{add: true, mode: 'm'},
			},
		},
		{
			name:   "member modes with args",
			params: []string{"+ov", "alice", "bob"},
			changes: []modeChange{
				{add: true, mode: 'o', param: "alice"},
				{add: true, mode: 'v', param: "bob"},
			},
		},
		{
			name:    "member mode without arg drops",
			params:  []string{"+o"},
			changes: nil,
		},
		{
			name:   "ban with mask",
			params: []string{"+b", "*!*@bad.example.com"},
			changes: []modeChange{
				{add: true, mode: 'b', param: "*!*@bad.example.com"},
			},
		},
		{
			name:   "ban without mask is a query",
			params: []string{"+b"},
			changes: []modeChange{
				{add: true, mode: 'b'},
			},
		},
		{
			name:   "key set and unset",
			params: []string{"+k-k", "sekrit"},
			changes: []modeChange{
				{add: true, mode: 'k', param: "sekrit"},
				{add: false, mode: 'k', param: "*"},
			},
		},
		{
			name:   "limit set takes arg",
			params: []string{"+l", "25"},
			changes: []modeChange{
				{add: true, mode: 'l', param: "25"},
			},
		},
		{
			name:   "limit unset takes none",
			params: []string{"-l"},
			changes: []modeChange{
				{add: false, mode: 'l'},
			},
		},
		{
			name:   "message filter modes",
			params: []string{"+CcSR"},
			changes: []modeChange{
				{add: true, mode: 'C'},
				{add: true, mode: 'c'},
				{add: true, mode: 'S'},
				{add: true, mode: 'R'},
			},
		},
		{
			name:   "unknown modes collected",
			params: []string{"+nXY"},
			changes: []modeChange{
				{add: true, mode: 'n'},
			},
			unknown: "XY",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			changes, unknown := parseChannelModes(test.params)
			assert.Equal(t, test.changes, changes)
			assert.Equal(t, test.unknown, string(unknown))
		})
	}
}

func TestFormatModeParams(t *testing.T) {
	changes := []modeChange{
		{add: true, mode: 'o', param: "alice"},
		{add: true, mode: 'v', param: "bob"},
		{add: false, mode: 'o', param: "carol"},
		{add: true, mode: 'n'},
		{add: true, mode: 't'},
	}

	out := formatModeParams("#test", changes)
	require.Len(t, out, 2)

	// First group holds the per-command maximum.
	assert.Equal(t, []string{"#test", "+ov-o+n", "alice", "bob", "carol"},
		out[0])
	assert.Equal(t, []string{"#test", "+t"}, out[1])
}

func TestFormatModeParamsEmpty(t *testing.T) {
	assert.Empty(t, formatModeParams("#test", nil))
}
