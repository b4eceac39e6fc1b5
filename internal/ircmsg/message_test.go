package ircmsg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		prefix  string
		command string
		params  []string
		tags    map[string]string
	}{
		{
			name:    "bare command",
			line:    "PING",
			command: "PING",
		},
		{
			name:    "command with params",
			line:    "PING abcdef",
			command: "PING",
			params:  []string{"abcdef"},
		},
		{
			name:    "prefixed numeric with trailing",
			line:    ":My.Little.Server 001 foo :Welcome to TestNet",
			prefix:  "My.Little.Server",
			command: "001",
			params:  []string{"foo", "Welcome to TestNet"},
		},
		{
			name:    "trailing preserves embedded spaces",
			line:    "PRIVMSG #chan :hello   world",
			command: "PRIVMSG",
			params:  []string{"#chan", "hello   world"},
		},
		{
			name:    "empty trailing",
			line:    "PING :",
			command: "PING",
			params:  []string{""},
		},
		{
			name:    "trailing starting with colon",
			line:    "PRIVMSG #chan ::)",
			command: "PRIVMSG",
			params:  []string{"#chan", ":)"},
		},
		{
			name:    "crlf stripped",
			line:    "PONG server token\r\n",
			command: "PONG",
			params:  []string{"server", "token"},
		},
		{
			name:    "runs of spaces between params",
			line:    "MODE  #chan   +o  foo",
			command: "MODE",
			params:  []string{"#chan", "+o", "foo"},
		},
		{
			name:    "tags with prefix and trailing",
			line:    "@time=2023-01-01T00:00:00.000Z;msgid=abc :nick!user@host PRIVMSG #chan :hi",
			tags:    map[string]string{"time": "2023-01-01T00:00:00.000Z", "msgid": "abc"},
			prefix:  "nick!user@host",
			command: "PRIVMSG",
			params:  []string{"#chan", "hi"},
		},
		{
			name:    "tag without value",
			line:    "@solanum.chat/ip CAP LS",
			tags:    map[string]string{"solanum.chat/ip": ""},
			command: "CAP",
			params:  []string{"LS"},
		},
		{
			name:    "escaped tag value",
			line:    `@key=semi\:space\sback\\ PING`,
			tags:    map[string]string{"key": `semi;space back\`},
			command: "PING",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, msg.Prefix)
			assert.Equal(t, tt.command, msg.Command)
			assert.Equal(t, tt.params, msg.Params)
			if tt.tags == nil {
				assert.Empty(t, msg.Tags)
			} else {
				assert.Equal(t, tt.tags, msg.Tags)
			}
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	for _, line := range []string{"", "   ", "\r\n", ":prefix.only", "@tag=1"} {
		t.Run("line "+line, func(t *testing.T) {
			_, err := ParseLine(line)
			require.Error(t, err)
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestLine(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "no trailing marker when not needed",
			msg:  New("PONG", "server", "token"),
			want: "PONG server token",
		},
		{
			name: "trailing marker for spaces",
			msg:  New("PRIVMSG", "#chan", "hello world"),
			want: "PRIVMSG #chan :hello world",
		},
		{
			name: "trailing marker for empty param",
			msg:  New("PING", ""),
			want: "PING :",
		},
		{
			name: "trailing marker for leading colon",
			msg:  New("PRIVMSG", "#chan", ":)"),
			want: "PRIVMSG #chan ::)",
		},
		{
			name: "prefix serialized with colon",
			msg:  &Message{Tags: map[string]string{}, Prefix: "irc.example.org", Command: "PONG", Params: []string{"irc.example.org", "x"}},
			want: ":irc.example.org PONG irc.example.org x",
		},
		{
			name: "tags sorted and escaped",
			msg:  &Message{Tags: map[string]string{"b": "x y", "a": "v"}, Command: "TAGMSG", Params: []string{"#chan"}},
			want: `@a=v;b=x\sy TAGMSG #chan`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Line())
		})
	}
}

// genWellFormed produces messages that have a valid wire representation:
// non-empty command, no spaces except in the final parameter, and
// non-trailing parameters that cannot be mistaken for a prefix or trailing
// marker.
func genWellFormed(t *rapid.T) *Message {
	token := rapid.StringMatching(`[a-zA-Z][a-zA-Z0-9_#.!@+-]{0,15}`)

	msg := &Message{
		Tags:    map[string]string{},
		Command: rapid.StringMatching(`[A-Z]{3,10}|[0-9]{3}`).Draw(t, "command"),
	}

	if rapid.Bool().Draw(t, "hasPrefix") {
		msg.Prefix = token.Draw(t, "prefix")
	}

	nParams := rapid.IntRange(0, 5).Draw(t, "nParams")
	for i := 0; i < nParams; i++ {
		if i == nParams-1 {
			// The final parameter may be empty or contain spaces.
			msg.Params = append(msg.Params, rapid.StringMatching(`[a-zA-Z0-9 :!._-]{0,30}`).Draw(t, "trailing"))
		} else {
			msg.Params = append(msg.Params, token.Draw(t, "param"))
		}
	}

	nTags := rapid.IntRange(0, 3).Draw(t, "nTags")
	for i := 0; i < nTags; i++ {
		key := rapid.StringMatching(`[a-z][a-z0-9/-]{0,10}`).Draw(t, "tagKey")
		value := rapid.StringMatching(`[a-zA-Z0-9;\\ ]{0,12}`).Draw(t, "tagValue")
		msg.Tags[key] = value
	}

	return msg
}

func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := genWellFormed(t)
		parsed, err := ParseLine(msg.Line())
		if err != nil {
			t.Fatalf("serialized message did not parse: %v", err)
		}
		if parsed.Prefix != msg.Prefix || parsed.Command != msg.Command {
			t.Fatalf("round trip changed prefix/command: %v != %v", parsed, msg)
		}
		if len(parsed.Params) != len(msg.Params) {
			t.Fatalf("round trip changed param count: %v != %v", parsed.Params, msg.Params)
		}
		for i := range msg.Params {
			if parsed.Params[i] != msg.Params[i] {
				t.Fatalf("round trip changed param %d: %q != %q", i, parsed.Params[i], msg.Params[i])
			}
		}
		if len(parsed.Tags) != len(msg.Tags) {
			t.Fatalf("round trip changed tags: %v != %v", parsed.Tags, msg.Tags)
		}
		for key, value := range msg.Tags {
			if parsed.Tags[key] != value {
				t.Fatalf("round trip changed tag %q: %q != %q", key, parsed.Tags[key], value)
			}
		}
	})
}

func TestMaxLineLen(t *testing.T) {
	// The constant is part of the wire contract, referenced by the
	// session driver when rejecting unterminated lines.
	assert.Equal(t, 512, MaxLineLen)
	line := "PRIVMSG #chan :" + strings.Repeat("a", MaxLineLen)
	msg, err := ParseLine(line)
	require.NoError(t, err)
	assert.Len(t, msg.Params, 2)
}
