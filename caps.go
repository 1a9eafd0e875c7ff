package main

import "strings"

// capability is one capability we can offer clients.
type capability struct {
	Name string

	// Shown to clients speaking CAP LS 302.
	Value string
}

// Everything this server knows how to do. The config may narrow the
// advertised set.
var supportedCaps = []capability{
	{Name: "account-notify"},
	{Name: "account-tag"},
	{Name: "away-notify"},
	{Name: "batch"},
	{Name: "cap-notify"},
	{Name: "chathistory"},
	{Name: "echo-message"},
	{Name: "extended-join"},
	{Name: "invite-notify"},
	{Name: "message-tags"},
	{Name: "multi-prefix"},
	{Name: "sasl", Value: "PLAIN,EXTERNAL"},
	{Name: "server-time"},
	{Name: "setname"},
	{Name: "userhost-in-names"},
}

// advertisedCaps applies the config's enabled-capabilities filter.
func advertisedCaps(c *Config) []capability {
	if len(c.EnabledCapabilities) == 0 {
		return supportedCaps
	}

	enabled := make(map[string]struct{}, len(c.EnabledCapabilities))
	for _, name := range c.EnabledCapabilities {
		enabled[name] = struct{}{}
	}

	var caps []capability
	for _, cap := range supportedCaps {
		if _, ok := enabled[cap.Name]; ok {
			caps = append(caps, cap)
		}
	}
	return caps
}

func capByName(c *Config, name string) (capability, bool) {
	for _, cap := range advertisedCaps(c) {
		if cap.Name == name {
			return cap, true
		}
	}
	return capability{}, false
}

// CapSet tracks the capabilities one connection has enabled.
type CapSet struct {
	enabled map[string]struct{}
}

func newCapSet() *CapSet {
	return &CapSet{enabled: make(map[string]struct{})}
}

func (s *CapSet) has(name string) bool {
	_, exists := s.enabled[name]
	return exists
}

func (s *CapSet) enable(name string) {
	s.enabled[name] = struct{}{}
}

func (s *CapSet) disable(name string) {
	delete(s.enabled, name)
}

// list renders the enabled set for CAP LIST.
func (s *CapSet) list() string {
	names := make([]string, 0, len(s.enabled))
	for name := range s.enabled {
		names = append(names, name)
	}
	return strings.Join(names, " ")
}

// lsString renders the advertised set. With values when the client
// speaks 302.
func capLSString(c *Config, version302 bool) string {
	var pieces []string
	for _, cap := range advertisedCaps(c) {
		if version302 && len(cap.Value) > 0 {
			pieces = append(pieces, cap.Name+"="+cap.Value)
		} else {
			pieces = append(pieces, cap.Name)
		}
	}
	return strings.Join(pieces, " ")
}

// parseCapReq splits a REQ parameter into additions and removals. The
// second return is false when any requested capability is unknown, in
// which case the whole request must be rejected.
func parseCapReq(c *Config, req string) (add []string, remove []string,
	ok bool) {
	for _, piece := range strings.Fields(req) {
		if strings.HasPrefix(piece, "-") {
			name := piece[1:]
			if _, exists := capByName(c, name); !exists {
				return nil, nil, false
			}
			remove = append(remove, name)
			continue
		}

		if _, exists := capByName(c, piece); !exists {
			return nil, nil, false
		}
		add = append(add, piece)
	}

	return add, remove, true
}
