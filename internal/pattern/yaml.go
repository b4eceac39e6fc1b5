package pattern

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAML forms accepted for a matcher node:
//
//	"literal"              exact equality
//	{any: true}            wildcard
//	{re: "[0-9]+"}         full-string regular expression
//	{one_of: [a, b]}       set membership
//	{optional: <node>}     absent-or-matching
//	{not: <node>}          negation
//	{lit: ":literal"}      explicit literal, for values that look like maps
//
// and for a whole message pattern:
//
//	command: PONG
//	prefix: {re: '[^!]+\.[^!]+'}
//	params: [{any: true}, "abcdef"]
//	tags: {msgid: {any: true}}
//	exact_len: true

type rawNode struct {
	Any      *bool      `yaml:"any"`
	Re       *string    `yaml:"re"`
	OneOf    []string   `yaml:"one_of"`
	// yaml.v3 only captures raw nodes into value-typed yaml.Node fields;
	// *yaml.Node fields fail to decode. Absence is detected via Kind == 0.
	Optional yaml.Node `yaml:"optional"`
	Not      yaml.Node `yaml:"not"`
	Lit      *string    `yaml:"lit"`
}

// decodeValue decodes one matcher node from its YAML form.
func decodeValue(node *yaml.Node) (Value, error) {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, fmt.Errorf("invalid pattern literal: %w", err)
		}
		return Literal(s), nil
	}

	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("pattern node must be a scalar or a mapping (line %d)", node.Line)
	}

	var raw rawNode
	if err := node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid pattern node: %w", err)
	}

	switch {
	case raw.Any != nil && *raw.Any:
		return Any{}, nil
	case raw.Re != nil:
		return CompileRegex(*raw.Re)
	case raw.OneOf != nil:
		return OneOf(raw.OneOf), nil
	case raw.Optional.Kind != 0:
		inner, err := decodeValue(&raw.Optional)
		if err != nil {
			return nil, err
		}
		return Optional{Inner: inner}, nil
	case raw.Not.Kind != 0:
		inner, err := decodeValue(&raw.Not)
		if err != nil {
			return nil, err
		}
		return Not{Inner: inner}, nil
	case raw.Lit != nil:
		return Literal(*raw.Lit), nil
	}

	return nil, fmt.Errorf("unrecognized pattern node (line %d)", node.Line)
}

type rawPattern struct {
	Command  yaml.Node            `yaml:"command"`
	Prefix   yaml.Node            `yaml:"prefix"`
	Params   []yaml.Node          `yaml:"params"`
	Tags     map[string]yaml.Node `yaml:"tags"`
	ExactLen bool                 `yaml:"exact_len"`
}

// UnmarshalYAML decodes a message pattern from its scenario-file form.
func (p *MessagePattern) UnmarshalYAML(node *yaml.Node) error {
	var raw rawPattern
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("invalid expect pattern: %w", err)
	}

	decoded := MessagePattern{ExactLen: raw.ExactLen}

	var err error
	if raw.Command.Kind != 0 {
		if decoded.Command, err = decodeValue(&raw.Command); err != nil {
			return err
		}
	}
	if raw.Prefix.Kind != 0 {
		if decoded.Prefix, err = decodeValue(&raw.Prefix); err != nil {
			return err
		}
	}
	for i := range raw.Params {
		value, err := decodeValue(&raw.Params[i])
		if err != nil {
			return err
		}
		decoded.Params = append(decoded.Params, value)
	}
	if len(raw.Tags) > 0 {
		decoded.Tags = make(map[string]Value, len(raw.Tags))
		for key, tagNode := range raw.Tags {
			if decoded.Tags[key], err = decodeValue(&tagNode); err != nil {
				return err
			}
		}
	}

	*p = decoded
	return nil
}
