package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sid3xyz/irctest/internal/ircmsg"
)

// Mismatch records one diverging field of a failed match.
type Mismatch struct {
	// Field is the path of the diverging field, such as "command",
	// "prefix", "params[1]" or "tags[msgid]".
	Field string
	// Expected describes what the pattern required.
	Expected string
	// Actual is the value the message carried, or "<absent>".
	Actual string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", m.Field, m.Expected, m.Actual)
}

// MatchResult is the outcome of comparing one message against one pattern.
// OK is true exactly when Mismatches is empty.
type MatchResult struct {
	OK         bool
	Mismatches []Mismatch
}

// Summary renders every mismatch on its own line, for test failure output.
func (r *MatchResult) Summary() string {
	if r.OK {
		return "match"
	}
	lines := make([]string, len(r.Mismatches))
	for i, mismatch := range r.Mismatches {
		lines[i] = mismatch.String()
	}
	return strings.Join(lines, "\n")
}

const absent = "<absent>"

// Match compares a message against a pattern. It is total: it always
// evaluates every constrained field and returns a result, never an error,
// so a single failed assertion reports every divergence at once.
func Match(p *MessagePattern, m *ircmsg.Message) *MatchResult {
	result := &MatchResult{}

	if p.Command != nil {
		if !matchCommand(p.Command, m.Command) {
			result.record("command", p.Command.Describe(), fmt.Sprintf("%q", m.Command))
		}
	}

	if p.Prefix != nil {
		switch {
		case m.Prefix == "":
			if _, optional := p.Prefix.(Optional); !optional {
				result.record("prefix", p.Prefix.Describe(), absent)
			}
		case !p.Prefix.Match(m.Prefix):
			result.record("prefix", p.Prefix.Describe(), fmt.Sprintf("%q", m.Prefix))
		}
	}

	for i, node := range p.Params {
		field := fmt.Sprintf("params[%d]", i)
		if i >= len(m.Params) {
			if _, optional := node.(Optional); optional {
				continue
			}
			result.record(field, node.Describe(), absent)
			continue
		}
		if !node.Match(m.Params[i]) {
			result.record(field, node.Describe(), fmt.Sprintf("%q", m.Params[i]))
		}
	}

	if p.ExactLen && len(m.Params) != len(p.Params) {
		result.record("params", fmt.Sprintf("exactly %d params", len(p.Params)),
			fmt.Sprintf("%d params", len(m.Params)))
	}

	// Stable order for tag mismatches.
	tagKeys := make([]string, 0, len(p.Tags))
	for key := range p.Tags {
		tagKeys = append(tagKeys, key)
	}
	sort.Strings(tagKeys)
	for _, key := range tagKeys {
		node := p.Tags[key]
		field := fmt.Sprintf("tags[%s]", key)
		value, present := m.Tags[key]
		if !present {
			if _, optional := node.(Optional); optional {
				continue
			}
			result.record(field, node.Describe(), absent)
			continue
		}
		if !node.Match(value) {
			result.record(field, node.Describe(), fmt.Sprintf("%q", value))
		}
	}

	result.OK = len(result.Mismatches) == 0
	return result
}

// MatchAny compares a message against several alternative patterns,
// succeeding when any of them matches. An empty alternative set never
// matches. On failure the returned result carries the mismatches of every
// alternative, each prefixed with its index.
func MatchAny(patterns []*MessagePattern, m *ircmsg.Message) *MatchResult {
	combined := &MatchResult{}
	if len(patterns) == 0 {
		combined.record("alternatives", "at least one alternative", "none given")
		return combined
	}
	for i, p := range patterns {
		result := Match(p, m)
		if result.OK {
			return result
		}
		for _, mismatch := range result.Mismatches {
			combined.Mismatches = append(combined.Mismatches, Mismatch{
				Field:    fmt.Sprintf("alternative %d: %s", i, mismatch.Field),
				Expected: mismatch.Expected,
				Actual:   mismatch.Actual,
			})
		}
	}
	return combined
}

func (r *MatchResult) record(field, expected, actual string) {
	r.Mismatches = append(r.Mismatches, Mismatch{Field: field, Expected: expected, Actual: actual})
}

// matchCommand applies the protocol convention that command comparison is
// case-insensitive. Non-literal nodes see the command uppercased.
func matchCommand(node Value, command string) bool {
	if lit, ok := node.(Literal); ok {
		return strings.EqualFold(string(lit), command)
	}
	return node.Match(strings.ToUpper(command))
}
