package harness

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// scenarioContext carries the variables captured while a scenario runs.
// Templated step fields ({{ .var }}) are expanded against it.
type scenarioContext struct {
	vars map[string]string
}

func newScenarioContext() *scenarioContext {
	return &scenarioContext{vars: make(map[string]string)}
}

// Set stores a captured variable.
func (c *scenarioContext) Set(name, value string) {
	c.vars[name] = value
}

// Get returns a captured variable.
func (c *scenarioContext) Get(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Expand renders a templated string against the captured variables. A
// string without template markers passes through unchanged.
func (c *scenarioContext) Expand(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	tmpl, err := template.New("step").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(s)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", s, err)
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, c.vars); err != nil {
		return "", fmt.Errorf("failed to expand template %q: %w", s, err)
	}
	return out.String(), nil
}
