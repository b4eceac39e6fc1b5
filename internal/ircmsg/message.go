// Package ircmsg implements parsing and serialization of IRC protocol
// lines: an optional @tags segment, an optional :prefix segment, a command
// and a parameter list whose final parameter may be a trailing parameter
// containing spaces.
//
// Parsing and serialization are pure functions over immutable Message
// values. For every well-formed message m, ParseLine(m.Line()) yields a
// message equal to m.
package ircmsg

import (
	"fmt"
	"sort"
	"strings"
)

// MaxLineLen is the maximum length of an IRC line in bytes, including the
// trailing CRLF. Servers must reject or truncate longer lines; the harness
// asserts on that behavior rather than hiding it.
const MaxLineLen = 512

// Message is a single parsed IRC protocol message.
//
// A Message is immutable after construction. Params preserves wire order;
// the final parameter is a single element even when it was sent as a
// trailing parameter containing spaces.
type Message struct {
	// Tags holds IRCv3 message tags with their values unescaped.
	// Never nil; empty when the line carried no tag segment.
	Tags map[string]string
	// Prefix is the sender prefix without the leading colon, or the
	// empty string when the line carried no prefix.
	Prefix string
	// Command is the command token or numeric exactly as received.
	// Never empty.
	Command string
	// Params are the command parameters in wire order.
	Params []string
}

// ParseError reports a line that does not form a valid IRC message.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q: %s", e.Line, e.Reason)
}

// New constructs a Message without tags or prefix. It is the common form
// used by tests that build a message to send.
func New(command string, params ...string) *Message {
	return &Message{
		Tags:    map[string]string{},
		Command: command,
		Params:  params,
	}
}

// ParseLine parses one wire line into a Message. The line terminator, if
// present, is stripped first. It returns a *ParseError when the line is
// empty or has no command token.
func ParseLine(line string) (*Message, error) {
	raw := line
	line = strings.TrimRight(line, "\r\n")

	msg := &Message{Tags: map[string]string{}}

	rest := skipSpaces(line)
	if strings.HasPrefix(rest, "@") {
		tagSegment, remainder, found := strings.Cut(rest[1:], " ")
		if !found {
			return nil, &ParseError{Line: raw, Reason: "tags without a command"}
		}
		for _, tag := range strings.Split(tagSegment, ";") {
			if tag == "" {
				continue
			}
			key, value, _ := strings.Cut(tag, "=")
			msg.Tags[key] = unescapeTagValue(value)
		}
		rest = skipSpaces(remainder)
	}

	if strings.HasPrefix(rest, ":") {
		prefix, remainder, found := strings.Cut(rest[1:], " ")
		if !found {
			return nil, &ParseError{Line: raw, Reason: "prefix without a command"}
		}
		msg.Prefix = prefix
		rest = skipSpaces(remainder)
	}

	if rest == "" {
		return nil, &ParseError{Line: raw, Reason: "no command"}
	}

	command, remainder, _ := strings.Cut(rest, " ")
	msg.Command = command
	rest = skipSpaces(remainder)

	for rest != "" {
		if strings.HasPrefix(rest, ":") {
			// Trailing parameter: the remainder of the line verbatim.
			msg.Params = append(msg.Params, rest[1:])
			break
		}
		param, remainder, found := strings.Cut(rest, " ")
		msg.Params = append(msg.Params, param)
		if !found {
			break
		}
		rest = skipSpaces(remainder)
	}

	return msg, nil
}

// Line serializes the message back to wire form, without the line
// terminator. The trailing-parameter marker is added to the last parameter
// only when required: it contains a space, is empty, or starts with a colon.
func (m *Message) Line() string {
	var b strings.Builder

	if len(m.Tags) > 0 {
		keys := make([]string, 0, len(m.Tags))
		for key := range m.Tags {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		b.WriteByte('@')
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(key)
			if value := m.Tags[key]; value != "" {
				b.WriteByte('=')
				b.WriteString(escapeTagValue(value))
			}
		}
		b.WriteByte(' ')
	}

	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}

	b.WriteString(m.Command)

	for i, param := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && needsTrailing(param) {
			b.WriteByte(':')
		}
		b.WriteString(param)
	}

	return b.String()
}

// String renders the message in wire form for diagnostics.
func (m *Message) String() string {
	return m.Line()
}

func needsTrailing(param string) bool {
	return param == "" || strings.Contains(param, " ") || strings.HasPrefix(param, ":")
}

func skipSpaces(s string) string {
	return strings.TrimLeft(s, " ")
}

// escapeTagValue applies the IRCv3 message-tag value escaping.
func escapeTagValue(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeTagValue reverses escapeTagValue. Unknown escape sequences drop
// the backslash, and a lone trailing backslash is dropped entirely, per the
// IRCv3 message-tags specification.
func unescapeTagValue(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' {
			b.WriteByte(value[i])
			continue
		}
		i++
		if i >= len(value) {
			break
		}
		switch value[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}
