// Package pattern implements the expected-message shapes used by
// conformance scenarios and the matcher that compares received IRC
// messages against them.
//
// A MessagePattern mirrors the shape of an ircmsg.Message, but every field
// may be replaced by a matcher node: an exact literal, a wildcard, a
// regular expression, set membership, negation, or an optional field. A nil
// field constrains nothing. Matching never short-circuits: the result
// carries every diverging field so a failed assertion reports all
// divergences at once.
package pattern

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Value is the single capability every matcher node provides: deciding
// whether a concrete field value satisfies it. Describe renders the
// expectation for mismatch diagnostics.
type Value interface {
	Match(s string) bool
	Describe() string
}

// Literal matches a value by exact equality.
type Literal string

func (l Literal) Match(s string) bool { return string(l) == s }
func (l Literal) Describe() string    { return fmt.Sprintf("%q", string(l)) }

// Any matches any present value.
type Any struct{}

func (Any) Match(string) bool { return true }
func (Any) Describe() string  { return "<anything>" }

// Regex matches when the full value matches the expression.
type Regex struct {
	re *regexp.Regexp
}

// MustRegex compiles a full-string regular expression node, panicking on an
// invalid expression. Intended for patterns built in test code.
func MustRegex(expr string) Regex {
	re, err := CompileRegex(expr)
	if err != nil {
		panic(err)
	}
	return re
}

// CompileRegex compiles a regular expression node. The expression is
// anchored so it must match the whole value, not a substring.
func CompileRegex(expr string) (Regex, error) {
	re, err := regexp.Compile(`\A(?:` + expr + `)\z`)
	if err != nil {
		return Regex{}, fmt.Errorf("invalid pattern regex %q: %w", expr, err)
	}
	return Regex{re: re}, nil
}

func (r Regex) Match(s string) bool { return r.re.MatchString(s) }
func (r Regex) Describe() string    { return fmt.Sprintf("match of %s", r.re.String()) }

// OneOf matches when the value is a member of the set.
type OneOf []string

func (o OneOf) Match(s string) bool {
	for _, candidate := range o {
		if candidate == s {
			return true
		}
	}
	return false
}

func (o OneOf) Describe() string {
	quoted := make([]string, len(o))
	for i, candidate := range o {
		quoted[i] = fmt.Sprintf("%q", candidate)
	}
	sort.Strings(quoted)
	return "one of " + strings.Join(quoted, ", ")
}

// Optional matches when the field is absent entirely, or when the inner
// node matches the present value. Absence handling lives in the matcher;
// Match is only consulted for present values.
type Optional struct {
	Inner Value
}

func (o Optional) Match(s string) bool { return o.Inner.Match(s) }
func (o Optional) Describe() string    { return "optionally " + o.Inner.Describe() }

// Not matches when the inner node does not.
type Not struct {
	Inner Value
}

func (n Not) Match(s string) bool { return !n.Inner.Match(s) }
func (n Not) Describe() string    { return "anything but " + n.Inner.Describe() }

// MessagePattern is the expected shape of one message. Nil fields are
// unconstrained. Params are compared positionally; a pattern shorter than
// the message ignores the extra trailing params unless ExactLen is set,
// in which case a length difference is itself a mismatch.
type MessagePattern struct {
	// Tags constrains individual tag keys; tag keys on the message that
	// the pattern does not name are ignored.
	Tags map[string]Value
	// Prefix constrains the raw sender prefix. The engine performs no
	// nick!user@host decomposition; callers needing that decompose
	// separately.
	Prefix Value
	// Command is compared case-insensitively when it is a Literal, per
	// protocol convention.
	Command Value
	// Params constrains parameters by position.
	Params []Value
	// ExactLen requires the message to have exactly len(Params) params.
	ExactLen bool
}

// String renders a compact description of the pattern for logs and step
// failure messages.
func (p *MessagePattern) String() string {
	var parts []string
	if p.Command != nil {
		parts = append(parts, "command="+p.Command.Describe())
	}
	if p.Prefix != nil {
		parts = append(parts, "prefix="+p.Prefix.Describe())
	}
	for i, param := range p.Params {
		if param != nil {
			parts = append(parts, fmt.Sprintf("params[%d]=%s", i, param.Describe()))
		}
	}
	keys := make([]string, 0, len(p.Tags))
	for key := range p.Tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("tags[%s]=%s", key, p.Tags[key].Describe()))
	}
	if len(parts) == 0 {
		return "{unconstrained}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}
