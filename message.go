package main

import (
	"sort"
	"strings"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
)

// Message is an IRC protocol message, optionally carrying IRCv3 message
// tags. The tag segment is not counted against the 512 byte line limit.
// Tags themselves may occupy up to maxTagsLength bytes on the wire,
// including the leading "@" and the trailing space.
type Message struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
}

// Maximum byte length of the tag segment, including the "@" and the
// separating space.
const maxTagsLength = 8191

var errTagsTooLong = errors.New("tag segment exceeds maximum length")
var errMalformedTags = errors.New("malformed tag segment")

// errMsgTruncated mirrors the truncation behaviour of the base codec.
// We surface it so callers can decide to deliver the shortened message
// anyway.
var errMsgTruncated = irc.ErrTruncated

// parseMessage parses one raw line from a connection. The line must
// include its line terminator.
//
// A leading "@" introduces a tag segment which we split off and decode
// ourselves. The remainder of the line is handed to the RFC 1459
// parser.
func parseMessage(line string) (Message, error) {
	var tags map[string]string

	if strings.HasPrefix(line, "@") {
		idx := strings.Index(line, " ")
		if idx == -1 {
			return Message{}, errMalformedTags
		}
		if idx+1 > maxTagsLength {
			return Message{}, errTagsTooLong
		}

		var err error
		tags, err = parseTags(line[1:idx])
		if err != nil {
			return Message{}, err
		}

		line = line[idx+1:]
	}

	m, err := irc.ParseMessage(line)
	if err != nil && err != irc.ErrTruncated {
		return Message{}, errors.Wrap(err, "invalid message")
	}

	return Message{
		Tags:    tags,
		Prefix:  m.Prefix,
		Command: m.Command,
		Params:  m.Params,
	}, err
}

// Encode turns the message back into wire format, terminator included.
// The tag segment renders ahead of the 512 byte message proper.
func (m Message) Encode() (string, error) {
	encoded, err := irc.Message{
		Prefix:  m.Prefix,
		Command: m.Command,
		Params:  m.Params,
	}.Encode()
	if err != nil && err != irc.ErrTruncated {
		return "", err
	}

	if len(m.Tags) == 0 {
		return encoded, err
	}

	tags := encodeTags(m.Tags)
	if len(tags)+2 > maxTagsLength {
		return "", errTagsTooLong
	}

	return "@" + tags + " " + encoded, err
}

// withTag returns a copy of the message with one additional tag. The
// original's tag map is never mutated as it may be shared between
// recipients.
func (m Message) withTag(name, value string) Message {
	tags := make(map[string]string, len(m.Tags)+1)
	for k, v := range m.Tags {
		tags[k] = v
	}
	tags[name] = value
	m.Tags = tags
	return m
}

// parseTags decodes the tag segment (without the leading "@").
func parseTags(s string) (map[string]string, error) {
	if len(s) == 0 {
		return nil, errMalformedTags
	}

	tags := make(map[string]string)

	for _, piece := range strings.Split(s, ";") {
		if len(piece) == 0 {
			return nil, errMalformedTags
		}

		name := piece
		value := ""

		if idx := strings.Index(piece, "="); idx != -1 {
			name = piece[:idx]
			value = unescapeTagValue(piece[idx+1:])
		}

		if !isValidTagName(name) {
			return nil, errMalformedTags
		}

		// Last occurrence wins when a tag repeats.
		tags[name] = value
	}

	return tags, nil
}

// encodeTags renders a tag map in a stable order.
func encodeTags(tags map[string]string) string {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(name)
		if len(tags[name]) > 0 {
			sb.WriteByte('=')
			sb.WriteString(escapeTagValue(tags[name]))
		}
	}

	return sb.String()
}

// Tag names are letters, digits, hyphens, and for vendor prefixed tags,
// dots, slashes, and a leading "+" for client only tags.
func isValidTagName(name string) bool {
	if len(name) == 0 {
		return false
	}

	if name[0] == '+' {
		name = name[1:]
		if len(name) == 0 {
			return false
		}
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			c >= '0' && c <= '9' || c == '-' || c == '.' || c == '/' {
			continue
		}
		return false
	}

	return true
}

var tagEscaper = strings.NewReplacer(
	"\\", "\\\\",
	";", "\\:",
	" ", "\\s",
	"\r", "\\r",
	"\n", "\\n",
)

func escapeTagValue(v string) string {
	return tagEscaper.Replace(v)
}

func unescapeTagValue(v string) string {
	if !strings.Contains(v, "\\") {
		return v
	}

	var sb strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			sb.WriteByte(v[i])
			continue
		}

		// A lone trailing backslash drops.
		if i+1 == len(v) {
			break
		}

		i++
		switch v[i] {
		case ':':
			sb.WriteByte(';')
		case 's':
			sb.WriteByte(' ')
		case '\\':
			sb.WriteByte('\\')
		case 'r':
			sb.WriteByte('\r')
		case 'n':
			sb.WriteByte('\n')
		default:
			// Invalid escapes keep the escaped character.
			sb.WriteByte(v[i])
		}
	}

	return sb.String()
}
